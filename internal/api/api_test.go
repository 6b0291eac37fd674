package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orangearcade/backend/internal/admin"
	"github.com/orangearcade/backend/internal/anomaly"
	"github.com/orangearcade/backend/internal/audit"
	"github.com/orangearcade/backend/internal/auth"
	"github.com/orangearcade/backend/internal/bans"
	"github.com/orangearcade/backend/internal/config"
	"github.com/orangearcade/backend/internal/economy"
	"github.com/orangearcade/backend/internal/ledger"
	"github.com/orangearcade/backend/internal/leaderboard"
	"github.com/orangearcade/backend/internal/progress"
	"github.com/orangearcade/backend/internal/rewards"
	"github.com/orangearcade/backend/internal/session"
	"github.com/orangearcade/backend/internal/store/memory"
	"github.com/orangearcade/backend/internal/ws"
)

var testSecret = []byte("test-secret")

type server struct {
	t      *testing.T
	router *gin.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat, err := rewards.Default()
	require.NoError(t, err)
	st := memory.New()
	sink := audit.NewStoreSink(st)
	l := ledger.New(st)
	hub := ws.NewHub()

	svc := economy.New(economy.Deps{
		Store:      st,
		Gate:       bans.NewGate(st, sink),
		Sessions:   session.NewManager(st, session.DefaultTimeout),
		Detector:   anomaly.NewDetector(anomaly.StoreStats{Store: st}, anomaly.DefaultConfig()),
		Calculator: rewards.NewCalculator(cat),
		Tracker:    progress.NewTracker(st, cat, l),
		Ledger:     l,
		Boards:     leaderboard.NewMemoryBoard(),
		Audit:      sink,
		Notifier:   ws.LocalNotifier{Hub: hub},
	})
	t.Cleanup(svc.Wait)

	require.NoError(t, admin.CreateAccount(context.Background(), st, "ops", "Ops", "hunter2", []string{"super_admin"}))

	cfg := &config.Config{Environment: "test", RateLimitPerMinute: 60}
	verifier := auth.NewVerifier(auth.NewKeyCache(auth.StaticKeys{auth.DefaultKeyID: testSecret}, time.Minute))

	r := gin.New()
	SetupRoutes(r, Deps{Config: cfg, Service: svc, Store: st, Verifier: verifier, Hub: hub})
	return &server{t: t, router: r}
}

func (s *server) do(method, path, account string, body any, header map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		token, err := auth.IssueToken(testSecret, auth.DefaultKeyID, account, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *server) adminDo(method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, "", body, map[string]string{admin.HeaderUser: "ops", admin.HeaderToken: "hunter2"})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/api/v1/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestWalletRequiresToken(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/api/v1/me", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized", decode(t, w)["reason"])

	w = s.do(http.MethodGet, "/api/v1/me", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "alice", body["account_id"])
	assert.Equal(t, false, body["banned"])
}

func TestGameplayFlow(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/v1/sessions", "alice", gin.H{"activity_id": "citrus-solitaire"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sessionID := decode(t, w)["session_id"].(string)

	w = s.do(http.MethodPost, "/api/v1/sessions", "alice", gin.H{"activity_id": "word-grove"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Conflict", decode(t, w)["reason"])

	w = s.do(http.MethodGet, "/api/v1/sessions/current", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["active"])

	w = s.do(http.MethodPost, "/api/v1/sessions/heartbeat", "alice", gin.H{"session_id": sessionID}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	complete := gin.H{"session_id": sessionID, "activity_id": "citrus-solitaire", "score": 40}
	w = s.do(http.MethodPost, "/api/v1/gameplay/complete", "alice", complete, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode(t, w)
	assert.Equal(t, true, first["success"])
	assert.Equal(t, false, first["already_applied"])

	w = s.do(http.MethodPost, "/api/v1/gameplay/complete", "alice", complete, nil)
	require.Equal(t, http.StatusOK, w.Code)
	replay := decode(t, w)
	assert.Equal(t, true, replay["already_applied"])
	assert.Equal(t, first["reward"].(map[string]any)["amounts"], replay["reward"].(map[string]any)["amounts"])
	assert.Equal(t, first["new_balance"], replay["new_balance"])

	w = s.do(http.MethodPost, "/api/v1/gameplay/complete", "alice",
		gin.H{"session_id": "nope", "activity_id": "citrus-solitaire", "score": 40}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SessionNotFound", decode(t, w)["reason"])

	w = s.do(http.MethodPost, "/api/v1/gameplay/complete", "alice", gin.H{"score": 40}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The completed game unlocks first-game.
	w = s.do(http.MethodPost, "/api/v1/achievements/first-game/claim", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/v1/achievements/first-game/claim", "alice", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AlreadyClaimed", decode(t, w)["reason"])

	w = s.do(http.MethodPost, "/api/v1/achievements/no-such-goal/claim", "alice", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/achievements", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode(t, w)["achievements"])

	w = s.do(http.MethodGet, "/api/v1/me/transactions", "alice", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["transactions"], 2)
}

func TestLeaderboardRoutes(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/v1/leaderboards/word-grove", "alice", gin.H{"score": 900}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/v1/leaderboards/word-grove", "bob", gin.H{"score": 300}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/leaderboards/word-grove?limit=5", "bob", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	entries := body["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].(map[string]any)["account_id"])
	assert.Equal(t, float64(2), body["standing"].(map[string]any)["rank"])

	w = s.do(http.MethodPost, "/api/v1/leaderboards/word-grove", "bob", gin.H{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGiftRejections(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/me", "bob", nil, nil).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/me", "carol", nil, nil).Code)

	w := s.do(http.MethodPost, "/api/v1/gifts", "carol",
		gin.H{"to": "bob", "currency": "oranges", "amount": 5, "request_id": "r1"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "InsufficientFunds", body["reason"])
	assert.Equal(t, float64(5), body["details"].(map[string]any)["required"])

	w = s.do(http.MethodPost, "/api/v1/gifts", "carol",
		gin.H{"to": "carol", "currency": "oranges", "amount": 5, "request_id": "r2"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidRequest", decode(t, w)["reason"])
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/me", "mallory", nil, nil).Code)

	w := s.do(http.MethodPost, "/api/v1/admin/bans", "", gin.H{"account_id": "mallory", "reason": "x"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.adminDo(http.MethodPost, "/api/v1/admin/bans", gin.H{
		"account_id": "mallory",
		"reason":     "scripted play",
		"evidence":   gin.H{"games": 400},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/daily-login/claim", "mallory", nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Banned", decode(t, w)["reason"])

	w = s.adminDo(http.MethodPost, "/api/v1/admin/bans/mallory/appeal", gin.H{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.adminDo(http.MethodPost, "/api/v1/admin/bans/mallory/appeal", gin.H{"status": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/v1/daily-login/claim", "mallory", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.adminDo(http.MethodGet, "/api/v1/admin/audit?account_id=mallory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["records"], 2)

	w = s.adminDo(http.MethodGet, "/api/v1/admin/accounts/mallory/reconcile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["balanced"])

	w = s.adminDo(http.MethodGet, "/api/v1/admin/actions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode(t, w)["logs"].([]any)
	require.NotEmpty(t, logs)
	assert.Equal(t, "ban_account", logs[len(logs)-1].(map[string]any)["action"])
}
