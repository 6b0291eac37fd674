// Package store defines the persistence contract shared by the economy core.
//
// Every multi-row mutation runs inside WithTx so a reader never observes a
// partially applied batch. Implementations serialise reward mutations per
// account: LockAccount must block concurrent transactions that lock the same
// account until the holder commits or rolls back.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/orangearcade/backend/internal/models"
)

var (
	// ErrNotFound is returned by point reads that match no row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateKey is returned when a unique index rejects a write.
	ErrDuplicateKey = errors.New("store: duplicate key")
)

// Store is the unit-of-work entry point.
type Store interface {
	// WithTx runs fn in one atomic batch. The batch commits iff fn returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs read-only fn without opening a batch.
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx exposes every query the core issues. The same interface serves reads in
// View and writes in WithTx.
type Tx interface {
	AccountQueries
	TransactionQueries
	SessionQueries
	ProgressQueries
	BanQueries
	ResultQueries
	DailyLoginQueries
	AuditQueries
	AdminQueries
}

type AccountQueries interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	// EnsureAccount creates the account if missing and returns it.
	EnsureAccount(ctx context.Context, id string, now time.Time) (*models.Account, error)
	// LockAccount returns the account row locked for the rest of the batch.
	LockAccount(ctx context.Context, id string) (*models.Account, error)
	SaveBalances(ctx context.Context, a *models.Account) error
}

type TransactionQueries interface {
	// InsertTransaction returns ErrDuplicateKey when the idempotency key exists.
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	TransactionsByKeys(ctx context.Context, keys []string) ([]models.Transaction, error)
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error)
	SumTransactions(ctx context.Context, accountID string) (models.Amounts, error)
}

type SessionQueries interface {
	GetSession(ctx context.Context, accountID string) (*models.Session, error)
	PutSession(ctx context.Context, s *models.Session) error
	// TouchSession sets last_heartbeat to now when the session id matches and the
	// previous heartbeat is after liveAfter. It reports whether a row changed.
	TouchSession(ctx context.Context, accountID, sessionID string, now, liveAfter time.Time) (bool, error)
	DeleteSession(ctx context.Context, accountID string) error
}

type ProgressQueries interface {
	GetProgress(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error)
	// InsertProgress returns ErrDuplicateKey when the key exists.
	InsertProgress(ctx context.Context, p *models.ProgressRecord) error
	// UpdateProgress writes the counter, completion stamp and frozen reward.
	UpdateProgress(ctx context.Context, p *models.ProgressRecord) error
	// ClaimProgress stamps claimed_at iff the record is completed and unclaimed.
	ClaimProgress(ctx context.Context, key models.ProgressKey, now time.Time) (bool, error)
	ListProgress(ctx context.Context, accountID string, kind models.ProgressKind, day string) ([]models.ProgressRecord, error)
	// ForfeitUnclaimed zeroes the frozen reward of every unclaimed record.
	ForfeitUnclaimed(ctx context.Context, accountID string, now time.Time) (int64, error)
}

type BanQueries interface {
	GetBan(ctx context.Context, accountID string) (*models.BanRecord, error)
	UpsertBan(ctx context.Context, b *models.BanRecord) error
	SetAppealStatus(ctx context.Context, accountID string, status models.AppealStatus, now time.Time) error
}

type ResultQueries interface {
	// InsertGameResult returns ErrDuplicateKey when the session already has a result.
	InsertGameResult(ctx context.Context, r *models.GameResult) error
	GameResultBySession(ctx context.Context, sessionID string) (*models.GameResult, error)
	ActivityStats(ctx context.Context, activityID string) (models.ActivityStats, error)
	// PersonalBest reports the best score of the account on the activity.
	PersonalBest(ctx context.Context, accountID, activityID string) (int64, bool, error)
}

type DailyLoginQueries interface {
	GetDailyLogin(ctx context.Context, accountID, day string) (*models.DailyLogin, error)
	// InsertDailyLogin returns ErrDuplicateKey when the day is already claimed.
	InsertDailyLogin(ctx context.Context, d *models.DailyLogin) error
}

type AuditQueries interface {
	AppendAudit(ctx context.Context, r *models.AuditRecord) error
	ListAudit(ctx context.Context, accountID string, limit, offset int) ([]models.AuditRecord, error)
}

type AdminQueries interface {
	GetAdminAccount(ctx context.Context, username string) (*models.AdminAccount, error)
	UpsertAdminAccount(ctx context.Context, a *models.AdminAccount) error
	InsertAdminAudit(ctx context.Context, a *models.AdminAudit) error
	ListAdminAudit(ctx context.Context, username string, limit, offset int) ([]models.AdminAudit, error)
}

// DayKey formats t as the UTC calendar day used by day-scoped keys.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
