package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orangearcade/backend/internal/auth"
	"github.com/orangearcade/backend/internal/economy"
)

// StartSession opens a gameplay session for the caller
func StartSession(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ActivityID string `json:"activity_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, "activity_id is required")
			return
		}

		sess, err := svc.StartActivity(c.Request.Context(), auth.AccountID(c), req.ActivityID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	}
}

// SessionHeartbeat keeps the caller's session alive
func SessionHeartbeat(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			SessionID string `json:"session_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, "session_id is required")
			return
		}

		sess, err := svc.Heartbeat(c.Request.Context(), auth.AccountID(c), req.SessionID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

func CurrentSession(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := svc.SessionStatus(c.Request.Context(), auth.AccountID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
