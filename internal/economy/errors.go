package economy

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/bans"
	"github.com/orangearcade/backend/internal/ledger"
	"github.com/orangearcade/backend/internal/metrics"
	"github.com/orangearcade/backend/internal/progress"
	"github.com/orangearcade/backend/internal/rewards"
	"github.com/orangearcade/backend/internal/session"
)

// Reason is the machine-readable rejection code returned to clients.
type Reason string

const (
	ReasonUnauthorized      Reason = "Unauthorized"
	ReasonBanned            Reason = "Banned"
	ReasonConflict          Reason = "Conflict"
	ReasonSessionNotFound   Reason = "SessionNotFound"
	ReasonBelowMinimum      Reason = "BelowMinimum"
	ReasonNotCompleted      Reason = "NotCompleted"
	ReasonAlreadyClaimed    Reason = "AlreadyClaimed"
	ReasonInsufficientFunds Reason = "InsufficientFunds"
	ReasonInvalidRequest    Reason = "InvalidRequest"
	ReasonNotFound          Reason = "NotFound"
	ReasonInternal          Reason = "Internal"
)

// Rejection is a policy or internal failure with enough detail for the client
// to explain it without another round trip.
type Rejection struct {
	Reason  Reason
	Message string
	Details map[string]any
	Err     error
}

func (r *Rejection) Error() string {
	if r.Err != nil && r.Reason == ReasonInternal {
		return fmt.Sprintf("%s: %v", r.Message, r.Err)
	}
	return r.Message
}

func (r *Rejection) Unwrap() error { return r.Err }

func invalid(format string, args ...any) *Rejection {
	return &Rejection{Reason: ReasonInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// classify maps component errors onto the client taxonomy.
func classify(err error) *Rejection {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej
	}

	var funds *ledger.InsufficientFundsError
	var notDone *progress.NotCompletedError
	var conflict *session.ConflictError
	switch {
	case errors.As(err, &funds):
		return &Rejection{Reason: ReasonInsufficientFunds, Message: "insufficient funds", Err: err, Details: map[string]any{
			"currency":  funds.Currency,
			"required":  funds.Required,
			"available": funds.Available,
		}}
	case errors.As(err, &notDone):
		return &Rejection{Reason: ReasonNotCompleted, Message: "goal not completed", Err: err, Details: map[string]any{
			"progress": notDone.Progress,
			"target":   notDone.Target,
		}}
	case errors.As(err, &conflict):
		return &Rejection{Reason: ReasonConflict, Message: "another session is active", Err: err, Details: map[string]any{
			"activity_id": conflict.ActivityID,
			"expires_at":  conflict.ExpiresAt,
		}}
	case errors.Is(err, bans.ErrBanned):
		return &Rejection{Reason: ReasonBanned, Message: "account suspended", Err: err}
	case errors.Is(err, session.ErrNotFound):
		return &Rejection{Reason: ReasonSessionNotFound, Message: "session not found or expired", Err: err}
	case errors.Is(err, progress.ErrAlreadyClaimed):
		return &Rejection{Reason: ReasonAlreadyClaimed, Message: "reward already claimed", Err: err}
	case errors.Is(err, bans.ErrNotBanned):
		return &Rejection{Reason: ReasonNotFound, Message: "account is not banned", Err: err}
	case errors.Is(err, progress.ErrUnknownGoal),
		errors.Is(err, rewards.ErrUnknownActivity),
		errors.Is(err, ledger.ErrInvalidEntry),
		errors.Is(err, bans.ErrInvalidAppeal):
		return &Rejection{Reason: ReasonInvalidRequest, Message: err.Error(), Err: err}
	}
	return &Rejection{Reason: ReasonInternal, Message: "internal error", Err: err}
}

// reject classifies err, counts it and logs it at a level matching its kind.
func reject(op, accountID string, err error) error {
	rej := classify(err)
	metrics.Rejections.WithLabelValues(op, string(rej.Reason)).Inc()
	entry := log.WithFields(log.Fields{"operation": op, "account_id": accountID, "reason": rej.Reason})
	if rej.Reason == ReasonInternal {
		entry.WithError(rej.Err).Error("[ECONOMY] operation failed")
	} else {
		entry.Debug("[ECONOMY] rejected")
	}
	return rej
}
