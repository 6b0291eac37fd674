// Package bans is the admission gate that blocks every economy mutation for a
// suspended account.
package bans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/audit"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

var (
	ErrBanned        = errors.New("account suspended")
	ErrNotBanned     = errors.New("account is not banned")
	ErrInvalidAppeal = errors.New("invalid appeal status")
)

type Gate struct {
	store store.Store
	sink  audit.Sink
	now   func() time.Time
}

func NewGate(st store.Store, sink audit.Sink) *Gate {
	return &Gate{store: st, sink: sink, now: time.Now}
}

// WithClock overrides the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// IsBanned reports whether a ban blocks the account.
func (g *Gate) IsBanned(ctx context.Context, accountID string) (bool, error) {
	var banned bool
	err := g.store.View(ctx, func(tx store.Tx) error {
		var err error
		banned, err = g.IsBannedTx(ctx, tx, accountID)
		return err
	})
	return banned, err
}

func (g *Gate) IsBannedTx(ctx context.Context, tx store.Tx, accountID string) (bool, error) {
	b, err := tx.GetBan(ctx, accountID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.Active(), nil
}

// CheckTx is Check inside a batch. Reward batches call it after taking the
// account lock so a ban committed meanwhile is seen.
func (g *Gate) CheckTx(ctx context.Context, tx store.Tx, accountID string) error {
	banned, err := g.IsBannedTx(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if banned {
		return ErrBanned
	}
	return nil
}

// Check returns ErrBanned when the account is blocked.
func (g *Gate) Check(ctx context.Context, accountID string) error {
	banned, err := g.IsBanned(ctx, accountID)
	if err != nil {
		return err
	}
	if banned {
		return ErrBanned
	}
	return nil
}

// Ban suspends the account. In one batch it records the ban, clears the live
// session and forfeits every unclaimed progress reward. Repeating a ban keeps
// the original banned_at and resets any appeal.
func (g *Gate) Ban(ctx context.Context, accountID, reason string, evidence map[string]any) (*models.BanRecord, error) {
	if accountID == "" || reason == "" {
		return nil, fmt.Errorf("account id and reason are required")
	}
	ev := []byte("{}")
	if len(evidence) > 0 {
		b, err := json.Marshal(evidence)
		if err != nil {
			return nil, fmt.Errorf("encode evidence: %w", err)
		}
		ev = b
	}

	var (
		rec     *models.BanRecord
		created bool
		forfeit int64
	)
	err := g.store.WithTx(ctx, func(tx store.Tx) error {
		now := g.now()
		prev, err := tx.GetBan(ctx, accountID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			created = true
		case err != nil:
			return err
		}

		rec = &models.BanRecord{
			AccountID:    accountID,
			Reason:       reason,
			Evidence:     ev,
			AppealStatus: models.AppealNone,
			BannedAt:     now,
			UpdatedAt:    now,
		}
		if prev != nil {
			rec.BannedAt = prev.BannedAt
		}
		if err := tx.UpsertBan(ctx, rec); err != nil {
			return err
		}
		if err := tx.DeleteSession(ctx, accountID); err != nil {
			return err
		}
		forfeit, err = tx.ForfeitUnclaimed(ctx, accountID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"account_id": accountID, "reason": reason, "forfeited": forfeit, "new": created}).Info("[BANS] account banned")
	if created {
		g.appendAudit(ctx, models.AuditRecord{
			Kind:      models.AuditBan,
			AccountID: accountID,
			Reason:    reason,
			Details:   audit.Details(map[string]any{"evidence": json.RawMessage(ev), "forfeited_records": forfeit}),
		})
	}
	return rec, nil
}

// SetAppeal records an appeal decision. Only approved lifts the gate.
func (g *Gate) SetAppeal(ctx context.Context, accountID string, status models.AppealStatus) error {
	if !status.Valid() || status == models.AppealNone {
		return fmt.Errorf("%w: %q", ErrInvalidAppeal, status)
	}
	err := g.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.SetAppealStatus(ctx, accountID, status, g.now())
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotBanned
	}
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"account_id": accountID, "status": status}).Info("[BANS] appeal updated")
	g.appendAudit(ctx, models.AuditRecord{
		Kind:      models.AuditAppeal,
		AccountID: accountID,
		Reason:    string(status),
	})
	return nil
}

// Get returns the ban record, or store.ErrNotFound.
func (g *Gate) Get(ctx context.Context, accountID string) (*models.BanRecord, error) {
	var rec *models.BanRecord
	err := g.store.View(ctx, func(tx store.Tx) error {
		var err error
		rec, err = tx.GetBan(ctx, accountID)
		return err
	})
	return rec, err
}

func (g *Gate) appendAudit(ctx context.Context, rec models.AuditRecord) {
	if g.sink == nil {
		return
	}
	rec.CreatedAt = g.now()
	if err := g.sink.Append(ctx, rec); err != nil {
		log.WithError(err).WithField("account_id", rec.AccountID).Error("[BANS] audit append failed")
	}
}
