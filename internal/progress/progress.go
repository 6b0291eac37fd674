// Package progress tracks achievement and daily challenge counters and
// pays their rewards exactly once.
//
// A record moves NotStarted -> InProgress -> Completed -> Claimed. Challenge
// keys embed the UTC day, so a new day starts fresh rows instead of resetting
// old ones.
package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/ledger"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/rewards"
	"github.com/orangearcade/backend/internal/store"
)

var (
	ErrNotCompleted   = errors.New("goal not completed")
	ErrAlreadyClaimed = errors.New("reward already claimed")
	ErrUnknownGoal    = errors.New("unknown goal")
)

// NotCompletedError carries the progress a claim fell short of.
type NotCompletedError struct {
	Progress int64
	Target   int64
}

func (e *NotCompletedError) Error() string {
	return fmt.Sprintf("goal not completed: %d/%d", e.Progress, e.Target)
}

func (e *NotCompletedError) Is(target error) bool { return target == ErrNotCompleted }

// State is the externally visible stage of a record.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateClaimed    State = "claimed"
)

func StateOf(rec *models.ProgressRecord) State {
	switch {
	case rec == nil || rec.Progress == 0 && !rec.CompletedAt.Valid:
		return StateNotStarted
	case rec.ClaimedAt.Valid:
		return StateClaimed
	case rec.CompletedAt.Valid:
		return StateCompleted
	}
	return StateInProgress
}

// Event is one gameplay occurrence fed to the tracker.
type Event struct {
	Trigger    rewards.Trigger
	Delta      int64
	ActivityID string
}

// Completion names a goal an event just completed.
type Completion struct {
	Kind   models.ProgressKind `json:"kind"`
	GoalID string              `json:"goal_id"`
}

// Guard vetoes a claim inside its batch, after the account row is locked.
type Guard func(ctx context.Context, tx store.Tx, accountID string) error

type Tracker struct {
	store   store.Store
	catalog *rewards.Catalog
	ledger  *ledger.Engine
	guard   Guard
	now     func() time.Time
}

func NewTracker(st store.Store, catalog *rewards.Catalog, l *ledger.Engine) *Tracker {
	return &Tracker{store: st, catalog: catalog, ledger: l, now: time.Now}
}

// WithClock overrides the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// WithGuard installs a check that runs before every claim is paid.
func (t *Tracker) WithGuard(g Guard) *Tracker {
	t.guard = g
	return t
}

// KeyFor builds the record key of a goal for the day containing now.
func KeyFor(accountID string, goal rewards.Goal, now time.Time) models.ProgressKey {
	key := models.ProgressKey{AccountID: accountID, Kind: goal.Kind, GoalID: goal.ID}
	if goal.Kind == models.KindChallenge {
		key.Day = store.DayKey(now)
	}
	return key
}

// BumpTx raises the counter by delta, capped at the goal target. The caller
// holds the account lock. completed is true only on the bump that first
// reaches the target; the reward is frozen at that moment.
func (t *Tracker) BumpTx(ctx context.Context, tx store.Tx, key models.ProgressKey, goal rewards.Goal, delta int64) (rec *models.ProgressRecord, completed bool, err error) {
	if delta <= 0 {
		return nil, false, nil
	}
	now := t.now()

	rec, err = tx.GetProgress(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = &models.ProgressRecord{ProgressKey: key, Target: goal.Target, CreatedAt: now}
		completed = advance(rec, delta, goal, now)
		if err := tx.InsertProgress(ctx, rec); err != nil {
			return nil, false, err
		}
		return rec, completed, nil
	case err != nil:
		return nil, false, err
	}

	if rec.CompletedAt.Valid {
		return rec, false, nil
	}
	completed = advance(rec, delta, goal, now)
	if err := tx.UpdateProgress(ctx, rec); err != nil {
		return nil, false, err
	}
	return rec, completed, nil
}

func advance(rec *models.ProgressRecord, delta int64, goal rewards.Goal, now time.Time) bool {
	rec.Progress += delta
	if rec.Progress > rec.Target {
		rec.Progress = rec.Target
	}
	rec.UpdatedAt = now
	if rec.Progress < rec.Target {
		return false
	}
	rec.CompletedAt = sql.NullTime{Time: now, Valid: true}
	rec.RewardOranges = goal.RewardOranges
	rec.RewardGems = goal.RewardGems
	return true
}

// RecordTx bumps every goal that counts the event.
func (t *Tracker) RecordTx(ctx context.Context, tx store.Tx, accountID string, ev Event) ([]Completion, error) {
	now := t.now()
	var done []Completion
	for _, goal := range t.catalog.Goals {
		if !goal.Matches(ev.Trigger, ev.ActivityID) {
			continue
		}
		_, completed, err := t.BumpTx(ctx, tx, KeyFor(accountID, goal, now), goal, ev.Delta)
		if err != nil {
			return nil, fmt.Errorf("bump %s %s: %w", goal.Kind, goal.ID, err)
		}
		if completed {
			done = append(done, Completion{Kind: goal.Kind, GoalID: goal.ID})
			log.WithFields(log.Fields{"account_id": accountID, "kind": goal.Kind, "goal_id": goal.ID}).Info("[PROGRESS] goal completed")
		}
	}
	return done, nil
}

// ClaimResult is a paid claim.
type ClaimResult struct {
	Record         models.ProgressRecord
	Reward         models.Amounts
	Balance        models.Amounts
	AlreadyApplied bool
}

// Claim pays a completed goal. Eligibility check, claim stamp and credit
// commit in one batch under the account lock.
func (t *Tracker) Claim(ctx context.Context, kind models.ProgressKind, accountID, goalID string) (*ClaimResult, error) {
	goal, ok := t.catalog.Goal(kind, goalID)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrUnknownGoal, kind, goalID)
	}
	now := t.now()
	key := KeyFor(accountID, goal, now)

	var res *ClaimResult
	err := t.store.WithTx(ctx, func(tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if errors.Is(err, store.ErrNotFound) {
			return &NotCompletedError{Progress: 0, Target: goal.Target}
		}
		if err != nil {
			return err
		}
		if t.guard != nil {
			if err := t.guard(ctx, tx, accountID); err != nil {
				return err
			}
		}

		rec, err := tx.GetProgress(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return &NotCompletedError{Progress: 0, Target: goal.Target}
		}
		if err != nil {
			return err
		}
		if !rec.CompletedAt.Valid {
			return &NotCompletedError{Progress: rec.Progress, Target: rec.Target}
		}
		if rec.ClaimedAt.Valid {
			return ErrAlreadyClaimed
		}
		claimed, err := tx.ClaimProgress(ctx, key, now)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrAlreadyClaimed
		}
		rec.ClaimedAt = sql.NullTime{Time: now, Valid: true}

		res = &ClaimResult{Record: *rec, Reward: rec.Reward(), Balance: acct.Balance()}
		if res.Reward.IsZero() {
			return nil
		}
		applied, err := t.ledger.ApplyTx(ctx, tx, ledger.Entry{
			AccountID:      accountID,
			IdempotencyKey: claimKey(key),
			Deltas:         res.Reward,
			Source:         sourceFor(kind),
			SourceRef:      goalID,
			Metadata:       map[string]any{"goal_id": goalID, "day": key.Day},
		})
		if err != nil {
			return err
		}
		res.Balance = applied.Balance
		res.AlreadyApplied = applied.AlreadyApplied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func claimKey(key models.ProgressKey) string {
	if key.Kind == models.KindChallenge {
		return ledger.KeyChallenge(key.AccountID, key.GoalID, key.Day)
	}
	return ledger.KeyAchievement(key.AccountID, key.GoalID)
}

func sourceFor(kind models.ProgressKind) models.Source {
	if kind == models.KindChallenge {
		return models.SourceChallenge
	}
	return models.SourceAchievement
}

// GoalStatus is one catalog goal with the account's progress on it.
type GoalStatus struct {
	ID       string              `json:"id"`
	Kind     models.ProgressKind `json:"kind"`
	Trigger  rewards.Trigger     `json:"trigger"`
	Activity string              `json:"activity,omitempty"`
	Day      string              `json:"day,omitempty"`
	Progress int64               `json:"progress"`
	Target   int64               `json:"target"`
	State    State               `json:"state"`
	Reward   models.Amounts      `json:"reward"`
}

// List reports every goal of kind for the account, today for challenges.
func (t *Tracker) List(ctx context.Context, accountID string, kind models.ProgressKind) ([]GoalStatus, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown progress kind %q", kind)
	}
	now := t.now()
	day := ""
	if kind == models.KindChallenge {
		day = store.DayKey(now)
	}

	var rows []models.ProgressRecord
	err := t.store.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListProgress(ctx, accountID, kind, day)
		return err
	})
	if err != nil {
		return nil, err
	}
	byGoal := make(map[string]*models.ProgressRecord, len(rows))
	for i := range rows {
		byGoal[rows[i].GoalID] = &rows[i]
	}

	var out []GoalStatus
	for _, g := range t.catalog.GoalsOf(kind) {
		st := GoalStatus{
			ID:       g.ID,
			Kind:     g.Kind,
			Trigger:  g.Trigger,
			Activity: g.Activity,
			Day:      day,
			Target:   g.Target,
			Reward:   g.Reward(),
		}
		if rec, ok := byGoal[g.ID]; ok {
			st.Progress = rec.Progress
			st.Target = rec.Target
			if rec.CompletedAt.Valid {
				st.Reward = rec.Reward()
			}
			st.State = StateOf(rec)
		} else {
			st.State = StateNotStarted
		}
		out = append(out, st)
	}
	return out, nil
}
