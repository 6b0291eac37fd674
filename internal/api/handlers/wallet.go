package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orangearcade/backend/internal/auth"
	"github.com/orangearcade/backend/internal/economy"
	"github.com/orangearcade/backend/internal/models"
)

// GetWallet returns the caller's balances, creating the account on first use
func GetWallet(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := svc.Wallet(c.Request.Context(), auth.AccountID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func ListTransactions(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c, 50)
		rows, err := svc.Transactions(c.Request.Context(), auth.AccountID(c), limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		if rows == nil {
			rows = []models.Transaction{}
		}
		c.JSON(http.StatusOK, gin.H{"transactions": rows, "limit": limit, "offset": offset})
	}
}

// SendGift moves currency from the caller to another account
func SendGift(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			To        string `json:"to" binding:"required"`
			Currency  string `json:"currency" binding:"required"`
			Amount    int64  `json:"amount"`
			RequestID string `json:"request_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, "to, currency and request_id are required")
			return
		}

		out, err := svc.SendGift(c.Request.Context(), economy.GiftRequest{
			From:      auth.AccountID(c),
			To:        req.To,
			Currency:  req.Currency,
			Amount:    req.Amount,
			RequestID: req.RequestID,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
