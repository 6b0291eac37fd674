// Package storetest holds the behaviour every store.Store implementation must
// share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newStore(t)) })
	t.Run("sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("progress", func(t *testing.T) { testProgress(t, newStore(t)) })
	t.Run("bans", func(t *testing.T) { testBans(t, newStore(t)) })
	t.Run("results", func(t *testing.T) { testResults(t, newStore(t)) })
	t.Run("daily", func(t *testing.T) { testDaily(t, newStore(t)) })
	t.Run("admin", func(t *testing.T) { testAdmin(t, newStore(t)) })
}

func testAccounts(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx store.Tx) error {
		_, err := tx.GetAccount(ctx, "acct-1")
		assert.ErrorIs(t, err, store.ErrNotFound)

		a, err := tx.EnsureAccount(ctx, "acct-1", epoch)
		require.NoError(t, err)
		assert.Equal(t, int64(0), a.Oranges)

		again, err := tx.EnsureAccount(ctx, "acct-1", epoch.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, again.CreatedAt.Equal(epoch), "second ensure keeps created_at")

		a.Oranges, a.LifetimeOranges, a.UpdatedAt = 50, 50, epoch
		return tx.SaveBalances(ctx, a)
	})
	require.NoError(t, err)

	err = s.View(ctx, func(tx store.Tx) error {
		a, err := tx.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		assert.Equal(t, int64(50), a.Oranges)
		assert.Equal(t, int64(50), a.LifetimeOranges)
		return nil
	})
	require.NoError(t, err)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.EnsureAccount(ctx, "acct-rb", epoch); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetAccount(ctx, "acct-rb")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func ensure(t *testing.T, s store.Store, id string) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.EnsureAccount(context.Background(), id, epoch)
		return err
	}))
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	ensure(t, s, "acct-tx")

	row := func(key string, amount int64) *models.Transaction {
		return &models.Transaction{
			ID:             uuid.NewString(),
			AccountID:      "acct-tx",
			Direction:      models.DirectionEarn,
			Currency:       models.CurrencyOranges,
			Amount:         amount,
			BalanceAfter:   amount,
			Source:         models.SourceGameplay,
			SourceRef:      key,
			IdempotencyKey: sql.NullString{String: key, Valid: true},
			CreatedAt:      epoch,
		}
	}

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertTransaction(ctx, row("k1", 10)); err != nil {
			return err
		}
		return tx.InsertTransaction(ctx, row("k2", 5))
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertTransaction(ctx, row("k1", 10))
	})
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		rows, err := tx.TransactionsByKeys(ctx, []string{"k1", "missing"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(10), rows[0].Amount)

		sum, err := tx.SumTransactions(ctx, "acct-tx")
		require.NoError(t, err)
		assert.Equal(t, models.Amounts{Oranges: 15}, sum)

		list, err := tx.ListTransactions(ctx, "acct-tx", 1, 0)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		all, err := tx.ListTransactions(ctx, "acct-tx", 0, 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)
		return nil
	}))
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	ensure(t, s, "acct-s")

	sess := &models.Session{AccountID: "acct-s", SessionID: "sid-1", ActivityID: "puzzle", StartedAt: epoch, LastHeartbeat: epoch}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.PutSession(ctx, sess) }))

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.TouchSession(ctx, "acct-s", "sid-1", epoch.Add(time.Minute), epoch.Add(-2*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.TouchSession(ctx, "acct-s", "other", epoch.Add(time.Minute), epoch.Add(-2*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "wrong session id")

		ok, err = tx.TouchSession(ctx, "acct-s", "sid-1", epoch.Add(10*time.Minute), epoch.Add(5*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "stale session")
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		got, err := tx.GetSession(ctx, "acct-s")
		require.NoError(t, err)
		assert.True(t, got.LastHeartbeat.Equal(epoch.Add(time.Minute)))
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.DeleteSession(ctx, "acct-s") }))
	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		_, err := tx.GetSession(ctx, "acct-s")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func testProgress(t *testing.T, s store.Store) {
	ctx := context.Background()
	ensure(t, s, "acct-p")

	key := models.ProgressKey{AccountID: "acct-p", Kind: models.KindChallenge, GoalID: "play-3", Day: "2026-03-01"}
	rec := &models.ProgressRecord{ProgressKey: key, Progress: 1, Target: 3, CreatedAt: epoch, UpdatedAt: epoch}

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertProgress(ctx, rec) }))
	err := s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertProgress(ctx, rec) })
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.ClaimProgress(ctx, key, epoch)
		require.NoError(t, err)
		assert.False(t, ok, "incomplete record cannot be claimed")

		rec.Progress = 3
		rec.CompletedAt = sql.NullTime{Time: epoch, Valid: true}
		rec.RewardOranges = 20
		if err := tx.UpdateProgress(ctx, rec); err != nil {
			return err
		}
		ok, err = tx.ClaimProgress(ctx, key, epoch)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.ClaimProgress(ctx, key, epoch)
		require.NoError(t, err)
		assert.False(t, ok, "second claim")
		return nil
	}))

	other := &models.ProgressRecord{
		ProgressKey:   models.ProgressKey{AccountID: "acct-p", Kind: models.KindChallenge, GoalID: "win-1", Day: "2026-03-01"},
		Progress:      1,
		Target:        1,
		CompletedAt:   sql.NullTime{Time: epoch, Valid: true},
		RewardOranges: 15,
		CreatedAt:     epoch,
		UpdatedAt:     epoch,
	}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertProgress(ctx, other); err != nil {
			return err
		}
		n, err := tx.ForfeitUnclaimed(ctx, "acct-p", epoch)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	}))

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		rows, err := tx.ListProgress(ctx, "acct-p", models.KindChallenge, "2026-03-01")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "play-3", rows[0].GoalID)
		assert.Equal(t, int64(20), rows[0].RewardOranges, "claimed reward stays")
		assert.Equal(t, int64(0), rows[1].RewardOranges, "unclaimed reward forfeited")
		assert.True(t, rows[0].ClaimedAt.Valid)
		return nil
	}))
}

func testBans(t *testing.T, s store.Store) {
	ctx := context.Background()
	ban := &models.BanRecord{AccountID: "acct-b", Reason: "bot", AppealStatus: models.AppealNone, BannedAt: epoch, UpdatedAt: epoch}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.UpsertBan(ctx, ban) }))

	again := &models.BanRecord{AccountID: "acct-b", Reason: "bot again", AppealStatus: models.AppealNone, BannedAt: epoch.Add(time.Hour), UpdatedAt: epoch.Add(time.Hour)}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.UpsertBan(ctx, again); err != nil {
			return err
		}
		return tx.SetAppealStatus(ctx, "acct-b", models.AppealPending, epoch.Add(2*time.Hour))
	}))

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		got, err := tx.GetBan(ctx, "acct-b")
		require.NoError(t, err)
		assert.Equal(t, "bot again", got.Reason)
		assert.True(t, got.BannedAt.Equal(epoch), "banned_at is kept")
		assert.Equal(t, models.AppealPending, got.AppealStatus)
		return nil
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.SetAppealStatus(ctx, "nobody", models.AppealApproved, epoch)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testResults(t *testing.T, s store.Store) {
	ctx := context.Background()
	ensure(t, s, "acct-r")

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		for i := int64(1); i <= 10; i++ {
			r := &models.GameResult{
				AccountID:       "acct-r",
				SessionID:       uuid.NewString(),
				ActivityID:      "runner",
				Score:           i * 10,
				DurationSeconds: 10,
				CompletedAt:     epoch,
			}
			if err := tx.InsertGameResult(ctx, r); err != nil {
				return err
			}
		}
		return tx.InsertGameResult(ctx, &models.GameResult{AccountID: "acct-r", SessionID: "fixed", ActivityID: "other", Score: 5, DurationSeconds: 1, CompletedAt: epoch})
	}))

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertGameResult(ctx, &models.GameResult{AccountID: "acct-r", SessionID: "fixed", ActivityID: "other", Score: 6, DurationSeconds: 1, CompletedAt: epoch})
	})
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		st, err := tx.ActivityStats(ctx, "runner")
		require.NoError(t, err)
		assert.Equal(t, int64(10), st.SampleCount)
		assert.InDelta(t, 55.0, st.MeanScore, 1e-9)
		assert.InDelta(t, 100.0, st.MaxScore, 1e-9)
		assert.InDelta(t, 5.5, st.MeanScorePerSecond, 1e-9)
		assert.InDelta(t, 91.0, st.P90Score, 1e-9)

		empty, err := tx.ActivityStats(ctx, "unknown")
		require.NoError(t, err)
		assert.Equal(t, int64(0), empty.SampleCount)

		best, ok, err := tx.PersonalBest(ctx, "acct-r", "runner")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(100), best)

		_, ok, err = tx.PersonalBest(ctx, "acct-r", "unknown")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := tx.GameResultBySession(ctx, "fixed")
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Score)
		return nil
	}))
}

func testDaily(t *testing.T, s store.Store) {
	ctx := context.Background()
	ensure(t, s, "acct-d")
	d := &models.DailyLogin{AccountID: "acct-d", Day: "2026-03-01", Streak: 1, ClaimedAt: epoch}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertDailyLogin(ctx, d) }))
	err := s.WithTx(ctx, func(tx store.Tx) error { return tx.InsertDailyLogin(ctx, d) })
	require.ErrorIs(t, err, store.ErrDuplicateKey)

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		got, err := tx.GetDailyLogin(ctx, "acct-d", "2026-03-01")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Streak)
		_, err = tx.GetDailyLogin(ctx, "acct-d", "2026-02-28")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	}))
}

func testAdmin(t *testing.T, s store.Store) {
	ctx := context.Background()
	admin := &models.AdminAccount{Username: "ops", DisplayName: "Ops", TokenHash: "hash", Roles: []string{"superadmin"}, CreatedAt: epoch, UpdatedAt: epoch}
	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.UpsertAdminAccount(ctx, admin); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &models.AuditRecord{Kind: models.AuditBan, AccountID: "acct-x", Reason: "bot", CreatedAt: epoch}); err != nil {
			return err
		}
		return tx.InsertAdminAudit(ctx, &models.AdminAudit{AdminUsername: "ops", Action: "ban", Success: true, CreatedAt: epoch})
	}))

	require.NoError(t, s.View(ctx, func(tx store.Tx) error {
		got, err := tx.GetAdminAccount(ctx, "ops")
		require.NoError(t, err)
		assert.Equal(t, []string{"superadmin"}, got.Roles)

		audit, err := tx.ListAudit(ctx, "acct-x", 10, 0)
		require.NoError(t, err)
		require.Len(t, audit, 1)
		assert.NotZero(t, audit[0].ID)

		all, err := tx.ListAudit(ctx, "", 10, 0)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		logs, err := tx.ListAdminAudit(ctx, "ops", 10, 0)
		require.NoError(t, err)
		assert.Len(t, logs, 1)
		return nil
	}))
}
