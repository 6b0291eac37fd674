// Package session enforces one live gameplay session per account.
//
// A session is live while its last heartbeat is younger than the timeout.
// Expiry is implicit: a stale row is simply overwritten by the next Start.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/metrics"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

const DefaultTimeout = 2 * time.Minute

var (
	ErrConflict = errors.New("session already active")
	ErrNotFound = errors.New("session not found or expired")
)

// ConflictError describes the live session that blocked a Start.
type ConflictError struct {
	SessionID  string
	ActivityID string
	ExpiresAt  time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session already active on %s until %s", e.ActivityID, e.ExpiresAt.Format(time.RFC3339))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Manager owns session rows.
type Manager struct {
	store   store.Store
	timeout time.Duration
	now     func() time.Time
	newID   func() string
}

func NewManager(st store.Store, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{store: st, timeout: timeout, now: time.Now, newID: uuid.NewString}
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) Timeout() time.Duration { return m.timeout }

// Start opens a session unless a live one exists.
func (m *Manager) Start(ctx context.Context, accountID, activityID string) (*models.Session, error) {
	var sess *models.Session
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		now := m.now()
		if _, err := tx.EnsureAccount(ctx, accountID, now); err != nil {
			return err
		}
		// Lock the account row so two concurrent starts cannot both see no session.
		if _, err := tx.LockAccount(ctx, accountID); err != nil {
			return err
		}

		cur, err := tx.GetSession(ctx, accountID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		case cur.ActiveAt(now, m.timeout):
			metrics.SessionEvents.WithLabelValues("conflict").Inc()
			return &ConflictError{
				SessionID:  cur.SessionID,
				ActivityID: cur.ActivityID,
				ExpiresAt:  cur.LastHeartbeat.Add(m.timeout),
			}
		default:
			metrics.SessionEvents.WithLabelValues("expired").Inc()
		}

		sess = &models.Session{
			AccountID:     accountID,
			SessionID:     m.newID(),
			ActivityID:    activityID,
			StartedAt:     now,
			LastHeartbeat: now,
		}
		return tx.PutSession(ctx, sess)
	})
	if err != nil {
		return nil, err
	}

	metrics.SessionEvents.WithLabelValues("started").Inc()
	log.WithFields(log.Fields{"account_id": accountID, "session_id": sess.SessionID, "activity_id": activityID}).Debug("[SESSION] started")
	return sess, nil
}

// Heartbeat keeps a live session alive.
func (m *Manager) Heartbeat(ctx context.Context, accountID, sessionID string) (*models.Session, error) {
	var sess *models.Session
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		now := m.now()
		ok, err := tx.TouchSession(ctx, accountID, sessionID, now, now.Add(-m.timeout))
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		sess, err = tx.GetSession(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.SessionEvents.WithLabelValues("heartbeat").Inc()
	return sess, nil
}

// ActiveTx returns the live session matching sessionID.
func (m *Manager) ActiveTx(ctx context.Context, tx store.Tx, accountID, sessionID string) (*models.Session, error) {
	sess, err := tx.GetSession(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sess.SessionID != sessionID || !sess.ActiveAt(m.now(), m.timeout) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// CompleteTx clears the session unconditionally.
func (m *Manager) CompleteTx(ctx context.Context, tx store.Tx, accountID string) error {
	if err := tx.DeleteSession(ctx, accountID); err != nil {
		return err
	}
	metrics.SessionEvents.WithLabelValues("completed").Inc()
	return nil
}

func (m *Manager) Complete(ctx context.Context, accountID string) error {
	return m.store.WithTx(ctx, func(tx store.Tx) error {
		return m.CompleteTx(ctx, tx, accountID)
	})
}

// Status is the account's session as seen by clients.
type Status struct {
	Active     bool      `json:"active"`
	SessionID  string    `json:"session_id,omitempty"`
	ActivityID string    `json:"activity_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

func (m *Manager) Status(ctx context.Context, accountID string) (Status, error) {
	var st Status
	err := m.store.View(ctx, func(tx store.Tx) error {
		sess, err := tx.GetSession(ctx, accountID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		now := m.now()
		if !sess.ActiveAt(now, m.timeout) {
			return nil
		}
		st = Status{
			Active:     true,
			SessionID:  sess.SessionID,
			ActivityID: sess.ActivityID,
			StartedAt:  sess.StartedAt,
			ExpiresAt:  sess.LastHeartbeat.Add(m.timeout),
		}
		return nil
	})
	return st, err
}
