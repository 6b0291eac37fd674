// Package auth verifies bearer identities at the HTTP boundary. Nothing past
// the middleware sees a token; handlers read the account id from the context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
)

// ContextKey is where Middleware stores the verified account id.
const ContextKey = "account_id"

var ErrInvalidToken = errors.New("invalid token")

type Verifier struct {
	keys *KeyCache
}

func NewVerifier(keys *KeyCache) *Verifier {
	return &Verifier{keys: keys}
}

// Verify checks an HS256 token and returns its subject.
func (v *Verifier) Verify(ctx context.Context, token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			kid = DefaultKeyID
		}
		return v.keys.Lookup(ctx, kid)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return "", fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Middleware validates the bearer token and sets account_id in the context.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token", "reason": "Unauthorized"})
			return
		}
		accountID, err := v.Verify(c.Request.Context(), strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			log.WithError(err).Debug("[AUTH] rejected token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "reason": "Unauthorized"})
			return
		}
		c.Set(ContextKey, accountID)
		c.Next()
	}
}

// AccountID returns the verified account id, or "" outside Middleware.
func AccountID(c *gin.Context) string {
	return c.GetString(ContextKey)
}

// IssueToken signs a token for accountID. Used by tooling and tests; real
// tokens come from the identity provider.
func IssueToken(secret []byte, kid, accountID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(secret)
}
