package middleware

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/config"
)

var productionOrigins = []string{
	"https://orangearcade.com",
	"https://play.orangearcade.com",
}

// CORSMiddleware returns a CORS middleware configured for the environment
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	log.Infof("[CORS] Environment: %s, FrontendURL: %s", cfg.Environment, cfg.FrontendURL)

	corsConfig := cors.Config{
		AllowMethods: []string{
			"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin", "Content-Length", "Content-Type", "Authorization",
			"X-Admin-User", "X-Admin-Token", "Accept", "Cache-Control",
			"X-Requested-With",
		},
		ExposeHeaders: []string{
			"Content-Length", "Retry-After", "X-RateLimit-Remaining",
		},
		MaxAge:           12 * time.Hour, // Cache preflight responses
		AllowCredentials: true,
		AllowOrigins:     allowedOrigins(cfg),
	}

	if cfg.IsProduction() {
		log.Infof("[CORS] Production allowed origins: %v", corsConfig.AllowOrigins)
	}

	return cors.New(corsConfig)
}

func allowedOrigins(cfg *config.Config) []string {
	if !cfg.IsProduction() {
		origins := []string{
			"http://localhost:5173", // Vite dev server
			"http://127.0.0.1:5173",
		}
		if cfg.FrontendURL != "" && !contains(origins, cfg.FrontendURL) {
			origins = append(origins, cfg.FrontendURL)
		}
		return origins
	}

	origins := append([]string(nil), productionOrigins...)
	if cfg.FrontendURL != "" && !contains(origins, cfg.FrontendURL) {
		origins = append(origins, cfg.FrontendURL)
	}
	return origins
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// WebSocketCORSCheck validates WebSocket upgrade origins
func WebSocketCORSCheck(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Only check for WebSocket upgrade requests
		if !strings.Contains(strings.ToLower(c.GetHeader("Connection")), "upgrade") ||
			strings.ToLower(c.GetHeader("Upgrade")) != "websocket" {
			c.Next()
			return
		}

		origin := c.GetHeader("Origin")
		if origin == "" {
			c.AbortWithStatusJSON(400, gin.H{"error": "WebSocket origin required", "reason": "InvalidRequest"})
			return
		}

		var allowed bool
		if !cfg.IsProduction() {
			// Allow localhost variants in dev
			allowed = strings.HasPrefix(origin, "http://localhost:") ||
				strings.HasPrefix(origin, "http://127.0.0.1:") ||
				origin == cfg.FrontendURL
		} else {
			allowed = contains(allowedOrigins(cfg), origin)
		}

		if !allowed {
			log.WithField("origin", origin).Warn("[CORS] websocket origin rejected")
			c.AbortWithStatusJSON(403, gin.H{"error": "WebSocket origin not allowed", "reason": "Unauthorized"})
			return
		}

		c.Next()
	}
}
