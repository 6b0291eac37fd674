package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/orangearcade/backend/internal/ws"
)

// WalletStream pushes wallet events for the authenticated account
func WalletStream(hub *ws.Hub) gin.HandlerFunc {
	return ws.Handler(hub)
}
