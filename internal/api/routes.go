package api

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/admin"
	"github.com/orangearcade/backend/internal/api/handlers"
	"github.com/orangearcade/backend/internal/auth"
	"github.com/orangearcade/backend/internal/config"
	"github.com/orangearcade/backend/internal/economy"
	"github.com/orangearcade/backend/internal/metrics"
	"github.com/orangearcade/backend/internal/middleware"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
	"github.com/orangearcade/backend/internal/ws"
)

// Deps carries what the HTTP surface is wired to.
type Deps struct {
	Config   *config.Config
	Service  *economy.Service
	Store    store.Store
	Verifier *auth.Verifier
	Hub      *ws.Hub
	// Redis backs the rate limiter; nil disables it.
	Redis *redis.Client
}

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, d Deps) {
	router.Use(middleware.CORSMiddleware(d.Config))

	if !d.Config.IsProduction() {
		router.Use(func(c *gin.Context) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
			c.Next()
		})
		log.Info("[DEV MODE] no-cache headers enabled for all routes")
	}

	router.GET("/metrics", metrics.Handler())

	svc := d.Service
	limited := middleware.RateLimit(d.Redis, d.Config.RateLimitPerMinute)

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		player := v1.Group("", auth.Middleware(d.Verifier))
		{
			player.GET("/me", handlers.GetWallet(svc))
			player.GET("/me/transactions", handlers.ListTransactions(svc))
			player.GET("/me/stream", middleware.WebSocketCORSCheck(d.Config), handlers.WalletStream(d.Hub))

			player.POST("/sessions", handlers.StartSession(svc))
			player.POST("/sessions/heartbeat", handlers.SessionHeartbeat(svc))
			player.GET("/sessions/current", handlers.CurrentSession(svc))

			player.GET("/challenges", handlers.ListGoals(svc, models.KindChallenge))
			player.GET("/achievements", handlers.ListGoals(svc, models.KindAchievement))
			player.GET("/leaderboards/:activity", handlers.GetLeaderboard(svc))

			// Reward paths
			rewards := player.Group("", limited)
			{
				rewards.POST("/gameplay/complete", handlers.CompleteGameplay(svc))
				rewards.POST("/daily-login/claim", handlers.ClaimDailyLogin(svc))
				rewards.POST("/challenges/:id/claim", handlers.ClaimGoal(svc, models.KindChallenge))
				rewards.POST("/achievements/:id/claim", handlers.ClaimGoal(svc, models.KindAchievement))
				rewards.POST("/leaderboards/:activity", handlers.SubmitScore(svc))
				rewards.POST("/gifts", handlers.SendGift(svc))
			}
		}

		adm := v1.Group("/admin", admin.Middleware(d.Store))
		{
			adm.POST("/bans", handlers.AdminBanAccount(svc))
			adm.POST("/bans/:id/appeal", handlers.AdminDecideAppeal(svc))
			adm.GET("/audit", handlers.AdminAbuseAudit(svc))
			adm.GET("/accounts/:id/reconcile", handlers.AdminReconcileAccount(svc))
			adm.GET("/actions", handlers.AdminActions(d.Store))
		}
	}
}
