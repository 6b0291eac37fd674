package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orangearcade/backend/internal/store"
	"github.com/orangearcade/backend/internal/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManager() (*Manager, *clock) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(memory.New(), 0).WithClock(c.Now)
	return m, c
}

func TestStartSecondSessionConflicts(t *testing.T) {
	m, c := newManager()
	ctx := context.Background()

	first, err := m.Start(ctx, "acct", "puzzle")
	require.NoError(t, err)

	c.Advance(time.Minute)
	_, err = m.Start(ctx, "acct", "runner")
	require.ErrorIs(t, err, ErrConflict)

	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "puzzle", ce.ActivityID)
	assert.Equal(t, first.SessionID, ce.SessionID)
	assert.True(t, ce.ExpiresAt.Equal(first.LastHeartbeat.Add(DefaultTimeout)))

	st, err := m.Status(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, st.SessionID, "conflict leaves the live session untouched")
}

func TestStartAfterTimeoutReplaces(t *testing.T) {
	m, c := newManager()
	ctx := context.Background()

	first, err := m.Start(ctx, "acct", "puzzle")
	require.NoError(t, err)

	c.Advance(DefaultTimeout)
	second, err := m.Start(ctx, "acct", "runner")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, "runner", second.ActivityID)
}

func TestHeartbeatExtendsLiveSession(t *testing.T) {
	m, c := newManager()
	ctx := context.Background()

	sess, err := m.Start(ctx, "acct", "puzzle")
	require.NoError(t, err)

	c.Advance(90 * time.Second)
	_, err = m.Heartbeat(ctx, "acct", sess.SessionID)
	require.NoError(t, err)

	c.Advance(90 * time.Second)
	_, err = m.Start(ctx, "acct", "runner")
	assert.ErrorIs(t, err, ErrConflict, "heartbeat kept the session alive")
}

func TestHeartbeatRejectsWrongOrExpired(t *testing.T) {
	m, c := newManager()
	ctx := context.Background()

	_, err := m.Heartbeat(ctx, "acct", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	sess, err := m.Start(ctx, "acct", "puzzle")
	require.NoError(t, err)

	_, err = m.Heartbeat(ctx, "acct", "other")
	assert.ErrorIs(t, err, ErrNotFound)

	c.Advance(3 * time.Minute)
	_, err = m.Heartbeat(ctx, "acct", sess.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteClearsSession(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	_, err := m.Start(ctx, "acct", "puzzle")
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, "acct"))

	st, err := m.Status(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, st.Active)

	_, err = m.Start(ctx, "acct", "runner")
	assert.NoError(t, err)
}

func TestActiveTxMatchesSessionID(t *testing.T) {
	st := memory.New()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(st, time.Minute).WithClock(c.Now)
	ctx := context.Background()

	sess, err := m.Start(ctx, "acct", "puzzle")
	require.NoError(t, err)

	require.NoError(t, st.View(ctx, func(tx store.Tx) error {
		got, err := m.ActiveTx(ctx, tx, "acct", sess.SessionID)
		require.NoError(t, err)
		assert.Equal(t, "puzzle", got.ActivityID)

		_, err = m.ActiveTx(ctx, tx, "acct", "other")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))

	c.Advance(time.Minute)
	require.NoError(t, st.View(ctx, func(tx store.Tx) error {
		_, err := m.ActiveTx(ctx, tx, "acct", sess.SessionID)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestConcurrentStartsSingleFlight(t *testing.T) {
	m, _ := newManager()
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		started   int
		conflicts int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Start(ctx, "acct", fmt.Sprintf("activity-%d", i))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				started++
			} else if assert.ErrorIs(t, err, ErrConflict) {
				conflicts++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, started)
	assert.Equal(t, 9, conflicts)
}
