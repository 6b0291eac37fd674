package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/api"
	"github.com/orangearcade/backend/internal/app"
	"github.com/orangearcade/backend/internal/config"
	"github.com/orangearcade/backend/internal/ws"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()
	app.SetupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wallet events fan out to this instance's websocket clients
	go a.Hub.Run(ctx)
	if a.Redis != nil {
		ws.StartSubscriber(ctx, a.Redis, cfg.WalletEventsChannel, a.Hub)
	}

	// Set up Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	api.SetupRoutes(router, api.Deps{
		Config:   cfg,
		Service:  a.Service,
		Store:    a.Store,
		Verifier: a.Verifier,
		Hub:      a.Hub,
		Redis:    a.Redis,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting Orange Arcade server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Received shutdown signal, shutting down gracefully...")

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP shutdown incomplete")
	}
	cancel()
	a.Close()
	log.Info("Server stopped")
}
