package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orangearcade/backend/internal/auth"
	"github.com/orangearcade/backend/internal/economy"
	"github.com/orangearcade/backend/internal/models"
)

// CompleteGameplay credits a finished game
func CompleteGameplay(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			SessionID   string `json:"session_id" binding:"required"`
			ActivityID  string `json:"activity_id" binding:"required"`
			Score       int64  `json:"score"`
			IsHighScore bool   `json:"is_high_score"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, "session_id and activity_id are required")
			return
		}

		out, err := svc.CompleteGameplay(c.Request.Context(), economy.GameplayRequest{
			AccountID:  auth.AccountID(c),
			SessionID:  req.SessionID,
			ActivityID: req.ActivityID,
			Score:      req.Score,
			HighScore:  req.IsHighScore,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func ClaimDailyLogin(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.ClaimDailyLogin(c.Request.Context(), auth.AccountID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// ListGoals returns the catalog goals of kind with the caller's progress
func ListGoals(svc *economy.Service, kind models.ProgressKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		goals, err := svc.Progress(c.Request.Context(), auth.AccountID(c), kind)
		if err != nil {
			respondError(c, err)
			return
		}
		key := string(kind) + "s"
		c.JSON(http.StatusOK, gin.H{key: goals, "total": len(goals)})
	}
}

// ClaimGoal claims the reward of a completed challenge or achievement
func ClaimGoal(svc *economy.Service, kind models.ProgressKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			out *economy.Outcome
			err error
		)
		switch kind {
		case models.KindChallenge:
			out, err = svc.ClaimChallenge(c.Request.Context(), auth.AccountID(c), c.Param("id"))
		default:
			out, err = svc.ClaimAchievement(c.Request.Context(), auth.AccountID(c), c.Param("id"))
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// SubmitScore posts a score to today's board of the activity
func SubmitScore(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Score *int64 `json:"score" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, "score is required")
			return
		}

		out, err := svc.SubmitLeaderboard(c.Request.Context(), auth.AccountID(c), c.Param("activity"), *req.Score)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func GetLeaderboard(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := strconv.ParseInt(c.DefaultQuery("limit", "10"), 10, 64)
		if err != nil {
			n = 10
		}

		entries, standing, err := svc.Leaderboard(c.Request.Context(), auth.AccountID(c), c.Param("activity"), n)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"activity_id": c.Param("activity"), "entries": entries, "standing": standing})
	}
}
