// Package app wires the economy components from a Config. The server and the
// ops CLI share it so both run against the same stack.
package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/anomaly"
	"github.com/orangearcade/backend/internal/audit"
	"github.com/orangearcade/backend/internal/auth"
	"github.com/orangearcade/backend/internal/bans"
	"github.com/orangearcade/backend/internal/config"
	"github.com/orangearcade/backend/internal/database"
	"github.com/orangearcade/backend/internal/economy"
	"github.com/orangearcade/backend/internal/ledger"
	"github.com/orangearcade/backend/internal/leaderboard"
	"github.com/orangearcade/backend/internal/migrations"
	"github.com/orangearcade/backend/internal/progress"
	redisclient "github.com/orangearcade/backend/internal/redis"
	"github.com/orangearcade/backend/internal/rewards"
	"github.com/orangearcade/backend/internal/session"
	"github.com/orangearcade/backend/internal/store"
	"github.com/orangearcade/backend/internal/store/memory"
	"github.com/orangearcade/backend/internal/store/postgres"
	"github.com/orangearcade/backend/internal/ws"
)

type App struct {
	Config   *config.Config
	Store    store.Store
	Redis    *redis.Client
	Ledger   *ledger.Engine
	Service  *economy.Service
	Verifier *auth.Verifier
	Keys     *auth.KeyCache
	Hub      *ws.Hub
}

// SetupLogging configures the logrus standard logger.
func SetupLogging(cfg *config.Config) {
	log.SetOutput(os.Stdout)
	if cfg.IsProduction() || strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("[APP] unknown LOG_LEVEL, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// OpenStore connects the configured store driver, running migrations first
// when MIGRATE_ON_START is set.
func OpenStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("[APP] using in-memory store, data is lost on exit")
		return memory.New(), nil
	case "postgres":
		if cfg.MigrateOnStart {
			log.Info("[APP] running DB migrations on startup")
			if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		db, err := database.Connect(cfg.DatabaseURL, database.DefaultPool)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		return postgres.New(db), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// New builds every component. Redis is optional: without it leaderboards,
// signing keys and wallet events stay in process.
func New(cfg *config.Config) (*App, error) {
	catalog, err := rewards.Load(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	if cfg.TrustAgeDays > 0 {
		catalog.TrustAgeDays = cfg.TrustAgeDays
	}

	st, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	rdb, err := redisclient.Connect(cfg.RedisURL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	staticKeys, err := auth.ParseStaticKeys(cfg.JWTSecret, cfg.JWTKeys)
	if err != nil {
		st.Close()
		return nil, err
	}
	var keySource auth.KeySource = staticKeys
	var sink audit.Sink = audit.NewStoreSink(st)
	var boards leaderboard.Board = leaderboard.NewMemoryBoard()
	hub := ws.NewHub()
	var notifier economy.Notifier = ws.LocalNotifier{Hub: hub}
	if rdb != nil {
		keySource = auth.Chain{staticKeys, auth.NewRedisKeys(rdb)}
		sink = audit.Multi{sink, audit.NewRedisSink(rdb, cfg.AuditChannel)}
		boards = leaderboard.NewRedisBoard(rdb)
		notifier = ws.NewRedisNotifier(rdb, cfg.WalletEventsChannel)
	}

	keys := auth.NewKeyCache(keySource, time.Duration(cfg.AuthKeyCacheSeconds)*time.Second)

	detectorCfg := anomaly.DefaultConfig()
	if cfg.AnomalyMinSamples > 0 {
		detectorCfg.MinSamples = int64(cfg.AnomalyMinSamples)
	}

	l := ledger.New(st)
	svc := economy.New(economy.Deps{
		Store:      st,
		Gate:       bans.NewGate(st, sink),
		Sessions:   session.NewManager(st, time.Duration(cfg.SessionTimeoutSeconds)*time.Second),
		Detector:   anomaly.NewDetector(anomaly.StoreStats{Store: st}, detectorCfg),
		Calculator: rewards.NewCalculator(catalog),
		Tracker:    progress.NewTracker(st, catalog, l),
		Ledger:     l,
		Boards:     boards,
		Audit:      sink,
		Notifier:   notifier,
	})

	log.WithFields(log.Fields{
		"store":      cfg.StoreDriver,
		"redis":      rdb != nil,
		"activities": len(catalog.Activities),
		"goals":      len(catalog.Goals),
	}).Info("[APP] economy wired")

	return &App{
		Config:   cfg,
		Store:    st,
		Redis:    rdb,
		Ledger:   l,
		Service:  svc,
		Verifier: auth.NewVerifier(keys),
		Keys:     keys,
		Hub:      hub,
	}, nil
}

// Close drains in-flight audits and releases connections.
func (a *App) Close() {
	a.Service.Wait()
	if a.Redis != nil {
		a.Redis.Close()
	}
	if err := a.Store.Close(); err != nil {
		log.WithError(err).Warn("[APP] store close failed")
	}
}
