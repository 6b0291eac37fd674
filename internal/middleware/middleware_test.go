package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/orangearcade/backend/internal/auth"
	"github.com/orangearcade/backend/internal/config"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func limitedRouter(rdb *redis.Client, perMinute int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ping", func(c *gin.Context) {
		c.Set(auth.ContextKey, c.Query("as"))
		c.Next()
	}, RateLimit(rdb, perMinute), func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	return r
}

func get(r http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitDisabledWithoutRedis(t *testing.T) {
	r := limitedRouter(nil, 1)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(r, "/ping?as=alice", nil).Code)
	}
}

func TestRateLimitPerAccount(t *testing.T) {
	rdb := startRedis(t)
	r := limitedRouter(rdb, 3)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, get(r, "/ping?as=alice", nil).Code)
	}
	w := get(r, "/ping?as=alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RateLimited")

	assert.Equal(t, http.StatusOK, get(r, "/ping?as=bob", nil).Code, "other accounts keep their own window")
}

func TestWebSocketCORSCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	upgrade := map[string]string{"Connection": "Upgrade", "Upgrade": "websocket"}
	with := func(origin string) map[string]string {
		h := map[string]string{"Origin": origin}
		for k, v := range upgrade {
			h[k] = v
		}
		return h
	}

	tests := []struct {
		name   string
		env    string
		header map[string]string
		want   int
	}{
		{"plain request passes", "production", nil, http.StatusOK},
		{"missing origin", "production", upgrade, http.StatusBadRequest},
		{"production origin", "production", with("https://orangearcade.com"), http.StatusOK},
		{"frontend url", "production", with("https://arcade.example"), http.StatusOK},
		{"foreign origin", "production", with("https://evil.example"), http.StatusForbidden},
		{"localhost in development", "development", with("http://localhost:3000"), http.StatusOK},
		{"production origin in development", "development", with("https://evil.example"), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Environment: tt.env, FrontendURL: "https://arcade.example"}
			r := gin.New()
			r.GET("/ws", WebSocketCORSCheck(cfg), func(c *gin.Context) { c.Status(http.StatusOK) })
			assert.Equal(t, tt.want, get(r, "/ws", tt.header).Code)
		})
	}
}
