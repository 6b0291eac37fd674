package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/admin"
	"github.com/orangearcade/backend/internal/economy"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

// AdminBanAccount suspends an account from every reward path
func AdminBanAccount(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			AccountID string         `json:"account_id" binding:"required"`
			Reason    string         `json:"reason" binding:"required"`
			Evidence  map[string]any `json:"evidence"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, "account_id and reason are required")
			return
		}

		admin.Describe(c, "ban_account", map[string]any{"account_id": req.AccountID, "reason": req.Reason})
		if req.Evidence == nil {
			req.Evidence = map[string]any{}
		}
		req.Evidence["banned_by"] = admin.Username(c)

		rec, err := svc.BanUser(c.Request.Context(), req.AccountID, req.Reason, req.Evidence)
		if err != nil {
			respondError(c, err)
			return
		}
		log.WithFields(log.Fields{"account_id": req.AccountID, "admin": admin.Username(c)}).Info("[ADMIN] account banned")
		c.JSON(http.StatusOK, rec)
	}
}

// AdminDecideAppeal records an appeal decision. Approving lifts the ban.
func AdminDecideAppeal(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Status models.AppealStatus `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			invalidRequest(c, "status is required")
			return
		}

		accountID := c.Param("id")
		admin.Describe(c, "appeal_decision", map[string]any{"status": req.Status})
		if err := svc.SetAppeal(c.Request.Context(), accountID, req.Status); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"account_id": accountID, "appeal_status": req.Status})
	}
}

// AdminAbuseAudit returns paginated abuse-audit records
func AdminAbuseAudit(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.DefaultQuery("account_id", "")
		limit, offset := pagination(c, 50)
		admin.Describe(c, "list_abuse_audit", map[string]any{"filter": accountID})

		rows, err := svc.AuditLog(c.Request.Context(), accountID, limit, offset)
		if err != nil {
			respondError(c, err)
			return
		}
		if rows == nil {
			rows = []models.AuditRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"records": rows, "limit": limit, "offset": offset})
	}
}

// AdminReconcileAccount compares cached balances with the transaction log
func AdminReconcileAccount(svc *economy.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin.Describe(c, "reconcile", nil)
		rec, err := svc.Reconcile(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if !rec.Balanced {
			log.WithField("account_id", rec.AccountID).Error("[ADMIN] ledger drift detected")
		}
		c.JSON(http.StatusOK, rec)
	}
}

// AdminActions returns the admin audit trail
func AdminActions(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.DefaultQuery("admin_username", "")
		limit, offset := pagination(c, 25)
		if limit <= 0 || limit > 200 {
			limit = 200
		}

		rows, err := admin.AuditLogs(c.Request.Context(), st, username, limit, offset)
		if err != nil {
			log.WithError(err).Error("[ADMIN] failed to fetch audit logs")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch audit logs", "reason": economy.ReasonInternal})
			return
		}
		if rows == nil {
			rows = []models.AdminAudit{}
		}
		c.JSON(http.StatusOK, gin.H{"logs": rows, "limit": limit, "offset": offset})
	}
}
