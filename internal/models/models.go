package models

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Account holds a user's wallet. The id is owned by the identity provider.
type Account struct {
	ID              string    `db:"id" json:"id"`
	Oranges         int64     `db:"oranges" json:"oranges"`
	Gems            int64     `db:"gems" json:"gems"`
	LifetimeOranges int64     `db:"lifetime_oranges" json:"lifetime_oranges"`
	LifetimeGems    int64     `db:"lifetime_gems" json:"lifetime_gems"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Balance returns the spendable balances of the account.
func (a *Account) Balance() Amounts {
	return Amounts{Oranges: a.Oranges, Gems: a.Gems}
}

// Age returns how long the account has existed at now.
func (a *Account) Age(now time.Time) time.Duration {
	return now.Sub(a.CreatedAt)
}

// Transaction is an immutable ledger row. Amount is signed.
type Transaction struct {
	ID             string         `db:"id" json:"id"`
	AccountID      string         `db:"account_id" json:"account_id"`
	Direction      Direction      `db:"direction" json:"direction"`
	Currency       Currency       `db:"currency" json:"currency"`
	Amount         int64          `db:"amount" json:"amount"`
	BalanceAfter   int64          `db:"balance_after" json:"balance_after"`
	Source         Source         `db:"source" json:"source"`
	SourceRef      string         `db:"source_ref" json:"source_ref"`
	Metadata       types.JSONText `db:"metadata" json:"metadata"`
	IdempotencyKey sql.NullString `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
}

// Session is the single live gameplay session of an account.
type Session struct {
	AccountID     string    `db:"account_id" json:"account_id"`
	SessionID     string    `db:"session_id" json:"session_id"`
	ActivityID    string    `db:"activity_id" json:"activity_id"`
	StartedAt     time.Time `db:"started_at" json:"started_at"`
	LastHeartbeat time.Time `db:"last_heartbeat" json:"last_heartbeat"`
}

// ActiveAt reports whether the session is live at now for the given timeout.
func (s *Session) ActiveAt(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastHeartbeat) < timeout
}

// ProgressKind distinguishes lifetime achievements from day-scoped challenges.
type ProgressKind string

const (
	KindAchievement ProgressKind = "achievement"
	KindChallenge   ProgressKind = "challenge"
)

// Valid reports whether k is a known kind.
func (k ProgressKind) Valid() bool {
	switch k {
	case KindAchievement, KindChallenge:
		return true
	}
	return false
}

// ProgressKey identifies a progress record. Day is empty for achievements and a
// UTC "2006-01-02" date for challenges.
type ProgressKey struct {
	AccountID string       `db:"account_id" json:"account_id"`
	Kind      ProgressKind `db:"kind" json:"kind"`
	GoalID    string       `db:"goal_id" json:"goal_id"`
	Day       string       `db:"day" json:"day,omitempty"`
}

// ProgressRecord tracks one account's progress toward one goal.
type ProgressRecord struct {
	ProgressKey
	Progress      int64        `db:"progress" json:"progress"`
	Target        int64        `db:"target" json:"target"`
	CompletedAt   sql.NullTime `db:"completed_at" json:"-"`
	ClaimedAt     sql.NullTime `db:"claimed_at" json:"-"`
	RewardOranges int64        `db:"reward_oranges" json:"reward_oranges"`
	RewardGems    int64        `db:"reward_gems" json:"reward_gems"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// Reward returns the reward frozen on the record.
func (p *ProgressRecord) Reward() Amounts {
	return Amounts{Oranges: p.RewardOranges, Gems: p.RewardGems}
}

// AppealStatus is the state of a ban appeal. Only approved lifts a ban.
type AppealStatus string

const (
	AppealNone     AppealStatus = "none"
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealDenied   AppealStatus = "denied"
)

// Valid reports whether s is a known appeal status.
func (s AppealStatus) Valid() bool {
	switch s {
	case AppealNone, AppealPending, AppealApproved, AppealDenied:
		return true
	}
	return false
}

// BanRecord suspends an account from every reward path.
type BanRecord struct {
	AccountID    string         `db:"account_id" json:"account_id"`
	Reason       string         `db:"reason" json:"reason"`
	Evidence     types.JSONText `db:"evidence" json:"evidence"`
	AppealStatus AppealStatus   `db:"appeal_status" json:"appeal_status"`
	BannedAt     time.Time      `db:"banned_at" json:"banned_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Active reports whether the ban currently blocks the account.
func (b *BanRecord) Active() bool {
	return b.AppealStatus != AppealApproved
}

// AuditKind classifies abuse-audit records.
type AuditKind string

const (
	AuditAnomalyFlag AuditKind = "anomaly_flag"
	AuditBan         AuditKind = "ban"
	AuditAppeal      AuditKind = "appeal"
)

// AuditRecord is an append-only abuse-audit entry.
type AuditRecord struct {
	ID         int64          `db:"id" json:"id"`
	Kind       AuditKind      `db:"kind" json:"kind"`
	AccountID  string         `db:"account_id" json:"account_id"`
	ActivityID string         `db:"activity_id" json:"activity_id,omitempty"`
	SessionID  string         `db:"session_id" json:"session_id,omitempty"`
	Score      int64          `db:"score" json:"score"`
	Reason     string         `db:"reason" json:"reason"`
	Details    types.JSONText `db:"details" json:"details"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// GameResult is the durable record of a completed gameplay session.
type GameResult struct {
	ID              int64     `db:"id" json:"id"`
	AccountID       string    `db:"account_id" json:"account_id"`
	SessionID       string    `db:"session_id" json:"session_id"`
	ActivityID      string    `db:"activity_id" json:"activity_id"`
	Score           int64     `db:"score" json:"score"`
	DurationSeconds float64   `db:"duration_seconds" json:"duration_seconds"`
	RewardOranges   int64     `db:"reward_oranges" json:"reward_oranges"`
	CompletedAt     time.Time `db:"completed_at" json:"completed_at"`
}

// ActivityStats aggregates completed game results of one activity.
type ActivityStats struct {
	SampleCount        int64   `db:"sample_count" json:"sample_count"`
	MeanScore          float64 `db:"mean_score" json:"mean_score"`
	MaxScore           float64 `db:"max_score" json:"max_score"`
	MeanDuration       float64 `db:"mean_duration" json:"mean_duration"`
	MeanScorePerSecond float64 `db:"mean_score_per_second" json:"mean_score_per_second"`
	P90Score           float64 `db:"p90_score" json:"p90_score"`
}

// DailyLogin records one claimed daily login.
type DailyLogin struct {
	AccountID string    `db:"account_id" json:"account_id"`
	Day       string    `db:"day" json:"day"`
	Streak    int       `db:"streak" json:"streak"`
	ClaimedAt time.Time `db:"claimed_at" json:"claimed_at"`
}

// AdminAccount represents an operator allowed to use the admin endpoints
type AdminAccount struct {
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name"`
	TokenHash   string    `db:"token_hash" json:"-"`
	Roles       []string  `db:"-" json:"roles"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AdminAudit is one logged admin action
type AdminAudit struct {
	ID            int64          `db:"id" json:"id"`
	AdminUsername string         `db:"admin_username" json:"admin_username"`
	IP            string         `db:"ip" json:"ip"`
	Route         string         `db:"route" json:"route"`
	Action        string         `db:"action" json:"action"`
	Details       types.JSONText `db:"details" json:"details"`
	Success       bool           `db:"success" json:"success"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
}
