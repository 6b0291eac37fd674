// Package admin holds operator accounts and the audit trail of admin calls.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

const (
	// ContextKey holds the authenticated admin username in the gin context.
	ContextKey = "admin_username"

	HeaderUser  = "X-Admin-User"
	HeaderToken = "X-Admin-Token"

	actionKey  = "admin_action"
	detailsKey = "admin_details"
)

var (
	ErrAccountNotFound = errors.New("admin account not found")
	ErrInvalidToken    = errors.New("invalid token")
)

// GetAccount retrieves an admin account by username
func GetAccount(ctx context.Context, st store.Store, username string) (*models.AdminAccount, error) {
	var acct *models.AdminAccount
	err := st.View(ctx, func(tx store.Tx) error {
		var err error
		acct, err = tx.GetAdminAccount(ctx, username)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return acct, err
}

// VerifyToken checks if the provided token matches the stored hash
func VerifyToken(hashedToken, plainToken string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedToken), []byte(plainToken))
	return err == nil
}

// CreateAccount creates or replaces an admin account (used for seeding)
func CreateAccount(ctx context.Context, st store.Store, username, displayName, plainToken string, roles []string) error {
	username = strings.TrimSpace(username)
	if username == "" || plainToken == "" {
		return errors.New("username and token are required")
	}
	hashedToken, err := bcrypt.GenerateFromPassword([]byte(plainToken), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	now := time.Now().UTC()
	return st.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpsertAdminAccount(ctx, &models.AdminAccount{
			Username:    username,
			DisplayName: displayName,
			TokenHash:   string(hashedToken),
			Roles:       roles,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	})
}

// Validate checks a username + token combination
func Validate(ctx context.Context, st store.Store, username, token string) (*models.AdminAccount, error) {
	acct, err := GetAccount(ctx, st, username)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			log.WithError(err).Error("[ADMIN] account lookup failed")
			return nil, fmt.Errorf("database error: %w", err)
		}
		log.WithField("username", username).Info("[ADMIN] no admin account")
		return nil, err
	}

	if !VerifyToken(acct.TokenHash, token) {
		log.WithField("username", username).Warn("[ADMIN] token verification failed")
		return nil, ErrInvalidToken
	}
	return acct, nil
}

// LogAction records an admin action in the audit log
func LogAction(ctx context.Context, st store.Store, username, ip, route, action string, details map[string]any, success bool) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil || details == nil {
		detailsJSON = []byte("{}")
	}

	err = st.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertAdminAudit(ctx, &models.AdminAudit{
			AdminUsername: username,
			IP:            ip,
			Route:         route,
			Action:        action,
			Details:       detailsJSON,
			Success:       success,
			CreatedAt:     time.Now().UTC(),
		})
	})
	if err != nil {
		log.WithError(err).Error("[ADMIN] failed to log admin action")
	}
	return err
}

// AuditLogs lists logged admin actions, newest first. An empty username lists
// every admin.
func AuditLogs(ctx context.Context, st store.Store, username string, limit, offset int) ([]models.AdminAudit, error) {
	var rows []models.AdminAudit
	err := st.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListAdminAudit(ctx, username, limit, offset)
		return err
	})
	return rows, err
}

// Middleware authenticates admin requests from the X-Admin-User and
// X-Admin-Token headers and logs every call that gets past it.
func Middleware(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetHeader(HeaderUser)
		token := c.GetHeader(HeaderToken)
		if username == "" || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin credentials required", "reason": "Unauthorized"})
			return
		}

		ctx := c.Request.Context()
		if _, err := Validate(ctx, st, username, token); err != nil {
			LogAction(ctx, st, username, c.ClientIP(), c.FullPath(), "auth_failed", nil, false)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin credentials", "reason": "Unauthorized"})
			return
		}

		c.Set(ContextKey, username)
		c.Next()

		details := map[string]any{"status": c.Writer.Status()}
		if target := c.Param("id"); target != "" {
			details["account_id"] = target
		}
		if extra, ok := c.Get(detailsKey); ok {
			for k, v := range extra.(map[string]any) {
				details[k] = v
			}
		}
		action := c.GetString(actionKey)
		if action == "" {
			action = c.Request.Method
		}
		success := c.Writer.Status() < http.StatusBadRequest
		LogAction(ctx, st, username, c.ClientIP(), c.FullPath(), action, details, success)
	}
}

// Describe names the action Middleware logs for the current call and adds
// details to its audit row.
func Describe(c *gin.Context, action string, details map[string]any) {
	c.Set(actionKey, action)
	if details != nil {
		c.Set(detailsKey, details)
	}
}

// Username returns the authenticated admin, or "" outside Middleware.
func Username(c *gin.Context) string {
	return c.GetString(ContextKey)
}
