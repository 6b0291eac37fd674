package leaderboard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestInTopDecile(t *testing.T) {
	tests := []struct {
		rank, total int64
		want        bool
	}{
		{0, 9, false},
		{0, 10, true},
		{1, 10, false},
		{1, 11, true},
		{1, 20, true},
		{2, 20, false},
		{9, 100, true},
		{10, 100, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InTopDecile(tt.rank, tt.total), "rank %d of %d", tt.rank, tt.total)
	}
}

func TestName(t *testing.T) {
	assert.Equal(t, "lb:orange-dash:2026-03-01", Name("orange-dash", "2026-03-01"))
}

// exerciseBoard runs the shared Board behaviour.
func exerciseBoard(t *testing.T, b Board) {
	ctx := context.Background()
	const board = "lb:test:2026-03-01"

	_, err := b.Standing(ctx, board, "ghost")
	assert.ErrorIs(t, err, ErrNotRanked)

	for i := 1; i <= 10; i++ {
		_, err := b.Submit(ctx, board, fmt.Sprintf("acct-%02d", i), int64(i*100))
		require.NoError(t, err)
	}

	st, err := b.Submit(ctx, board, "acct-01", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(100), st.Score, "lower score does not replace best")
	assert.Equal(t, int64(10), st.Rank)
	assert.False(t, st.TopDecile)

	st, err = b.Submit(ctx, board, "acct-01", 5000)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), st.Score)
	assert.Equal(t, int64(1), st.Rank)
	assert.Equal(t, int64(10), st.Total)
	assert.True(t, st.TopDecile)

	top, err := b.Top(ctx, board, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "acct-01", top[0].Member)
	assert.Equal(t, "acct-10", top[1].Member)
	assert.Equal(t, int64(2), top[1].Rank)

	empty, err := b.Top(ctx, "lb:none:2026-03-01", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryBoard(t *testing.T) {
	exerciseBoard(t, NewMemoryBoard())
}

func TestRedisBoard(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { rdb.Close() })

	b := NewRedisBoard(rdb)
	exerciseBoard(t, b)

	ttl, err := rdb.TTL(ctx, "lb:test:2026-03-01").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 47*time.Hour)
}
