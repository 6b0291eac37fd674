// Package economy is the transaction core of the arcade. Every reward path
// runs the ban gate first, then validates, then commits the ledger, progress
// and session mutations of one event in a single batch.
package economy

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/anomaly"
	"github.com/orangearcade/backend/internal/audit"
	"github.com/orangearcade/backend/internal/bans"
	"github.com/orangearcade/backend/internal/ledger"
	"github.com/orangearcade/backend/internal/leaderboard"
	"github.com/orangearcade/backend/internal/metrics"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/progress"
	"github.com/orangearcade/backend/internal/rewards"
	"github.com/orangearcade/backend/internal/session"
	"github.com/orangearcade/backend/internal/store"
)

// DefaultAuditTimeout bounds one asynchronous anomaly audit.
const DefaultAuditTimeout = 5 * time.Second

// Notifier receives wallet changes after they commit.
type Notifier interface {
	Publish(ctx context.Context, ev models.WalletEvent) error
}

// Reward is what an operation credited (or, for gifts, debited) to the
// caller's wallet.
type Reward struct {
	Amounts   models.Amounts     `json:"amounts"`
	Breakdown *rewards.Breakdown `json:"breakdown,omitempty"`
}

// Outcome is the successful result of a reward-path call. A replay returns
// the prior reward with AlreadyApplied set and the current balance.
type Outcome struct {
	Success        bool                  `json:"success"`
	Reward         Reward                `json:"reward"`
	NewBalance     models.Amounts        `json:"new_balance"`
	AlreadyApplied bool                  `json:"already_applied"`
	Notice         Reason                `json:"notice,omitempty"`
	Completed      []progress.Completion `json:"completed,omitempty"`
	Streak         int                   `json:"streak,omitempty"`
	Standing       *leaderboard.Standing `json:"standing,omitempty"`
}

// Deps wires the components the service orchestrates.
type Deps struct {
	Store      store.Store
	Gate       *bans.Gate
	Sessions   *session.Manager
	Detector   *anomaly.Detector
	Calculator *rewards.Calculator
	Tracker    *progress.Tracker
	Ledger     *ledger.Engine
	Boards     leaderboard.Board
	Audit      audit.Sink
	Notifier   Notifier
}

type Service struct {
	store    store.Store
	gate     *bans.Gate
	sessions *session.Manager
	detector *anomaly.Detector
	calc     *rewards.Calculator
	tracker  *progress.Tracker
	ledger   *ledger.Engine
	boards   leaderboard.Board
	sink     audit.Sink
	notifier Notifier

	now          func() time.Time
	auditTimeout time.Duration
	audits       sync.WaitGroup
}

func New(d Deps) *Service {
	if d.Boards == nil {
		d.Boards = leaderboard.NewMemoryBoard()
	}
	if d.Tracker != nil && d.Gate != nil {
		d.Tracker.WithGuard(d.Gate.CheckTx)
	}
	return &Service{
		store:        d.Store,
		gate:         d.Gate,
		sessions:     d.Sessions,
		detector:     d.Detector,
		calc:         d.Calculator,
		tracker:      d.Tracker,
		ledger:       d.Ledger,
		boards:       d.Boards,
		sink:         d.Audit,
		notifier:     d.Notifier,
		now:          time.Now,
		auditTimeout: DefaultAuditTimeout,
	}
}

// WithClock overrides the service's time source. Components keep their own.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Wait blocks until every in-flight anomaly audit has finished.
func (s *Service) Wait() {
	s.audits.Wait()
}

// Catalog exposes the economy catalog for read-only handlers.
func (s *Service) Catalog() *rewards.Catalog {
	return s.calc.Catalog()
}

func (s *Service) admit(ctx context.Context, accountID string) error {
	if accountID == "" {
		return &Rejection{Reason: ReasonUnauthorized, Message: "missing identity"}
	}
	return s.gate.Check(ctx, accountID)
}

func (s *Service) requireActivity(activityID string) (rewards.Activity, error) {
	act, err := s.calc.Catalog().Activity(activityID)
	if err != nil {
		return rewards.Activity{}, invalid("unknown activity %q", activityID)
	}
	return act, nil
}

// lockAccount creates the account if needed and locks it for the batch.
func lockAccount(ctx context.Context, tx store.Tx, id string, now time.Time) (*models.Account, error) {
	if _, err := tx.EnsureAccount(ctx, id, now); err != nil {
		return nil, err
	}
	return tx.LockAccount(ctx, id)
}

// lockAdmitted is lockAccount followed by the ban gate, both under the lock.
func (s *Service) lockAdmitted(ctx context.Context, tx store.Tx, id string, now time.Time) (*models.Account, error) {
	acct, err := lockAccount(ctx, tx, id, now)
	if err != nil {
		return nil, err
	}
	if err := s.gate.CheckTx(ctx, tx, id); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Service) notify(ctx context.Context, accountID string, source models.Source, balance, delta models.Amounts) {
	if s.notifier == nil {
		return
	}
	ev := models.WalletEvent{AccountID: accountID, Source: source, Balance: balance, Delta: delta, At: s.now()}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		log.WithError(err).WithField("account_id", accountID).Warn("[ECONOMY] wallet event publish failed")
	}
}

func observe(op string, start time.Time) {
	metrics.OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// StartActivity opens the account's gameplay session.
func (s *Service) StartActivity(ctx context.Context, accountID, activityID string) (*models.Session, error) {
	const op = "start_activity"
	defer observe(op, time.Now())

	if err := s.admit(ctx, accountID); err != nil {
		return nil, reject(op, accountID, err)
	}
	if _, err := s.requireActivity(activityID); err != nil {
		return nil, reject(op, accountID, err)
	}
	sess, err := s.sessions.Start(ctx, accountID, activityID)
	if err != nil {
		return nil, reject(op, accountID, err)
	}
	return sess, nil
}

// Heartbeat keeps the session alive. A SessionNotFound rejection tells the
// client to stop reporting.
func (s *Service) Heartbeat(ctx context.Context, accountID, sessionID string) (*models.Session, error) {
	const op = "heartbeat"
	if err := s.admit(ctx, accountID); err != nil {
		return nil, reject(op, accountID, err)
	}
	if sessionID == "" {
		return nil, reject(op, accountID, invalid("session_id is required"))
	}
	sess, err := s.sessions.Heartbeat(ctx, accountID, sessionID)
	if err != nil {
		return nil, reject(op, accountID, err)
	}
	return sess, nil
}

func (s *Service) SessionStatus(ctx context.Context, accountID string) (session.Status, error) {
	st, err := s.sessions.Status(ctx, accountID)
	if err != nil {
		return session.Status{}, reject("session_status", accountID, err)
	}
	return st, nil
}

// auditAsync evaluates the result against the pre-batch history and appends
// a flag to the audit sink. It never affects the response.
func (s *Service) auditAsync(stats models.ActivityStats, res models.GameResult, duration time.Duration) {
	if s.detector == nil {
		return
	}
	s.audits.Add(1)
	go func() {
		defer s.audits.Done()
		v := s.detector.Evaluate(stats, res.Score, duration)
		if !v.Flagged {
			return
		}
		metrics.AnomalyFlags.WithLabelValues(string(v.Reason)).Inc()
		fields := log.Fields{"account_id": res.AccountID, "session_id": res.SessionID, "activity_id": res.ActivityID, "reason": v.Reason}
		log.WithFields(fields).Info("[ANOMALY] result flagged")
		if s.sink == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.auditTimeout)
		defer cancel()
		details := map[string]any{"duration_seconds": duration.Seconds()}
		for k, val := range v.Details {
			details[k] = val
		}
		err := s.sink.Append(ctx, models.AuditRecord{
			Kind:       models.AuditAnomalyFlag,
			AccountID:  res.AccountID,
			ActivityID: res.ActivityID,
			SessionID:  res.SessionID,
			Score:      res.Score,
			Reason:     string(v.Reason),
			Details:    audit.Details(details),
			CreatedAt:  s.now(),
		})
		if err != nil {
			log.WithFields(fields).WithError(err).Error("[ANOMALY] audit append failed")
		}
	}()
}

func (s *Service) balance(ctx context.Context, accountID string) (models.Amounts, error) {
	return s.ledger.Balance(ctx, accountID)
}

func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicateKey)
}
