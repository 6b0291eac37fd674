package economy

import (
	"context"
	"time"

	"github.com/orangearcade/backend/internal/ledger"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/progress"
	"github.com/orangearcade/backend/internal/store"
)

// Wallet is the account view returned by GET /me.
type Wallet struct {
	AccountID string         `json:"account_id"`
	Balance   models.Amounts `json:"balance"`
	Lifetime  models.Amounts `json:"lifetime"`
	CreatedAt time.Time      `json:"created_at"`
	Banned    bool           `json:"banned"`
}

// Wallet returns the account, creating it on first access.
func (s *Service) Wallet(ctx context.Context, accountID string) (*Wallet, error) {
	const op = "wallet"
	if accountID == "" {
		return nil, reject(op, accountID, &Rejection{Reason: ReasonUnauthorized, Message: "missing identity"})
	}
	var w *Wallet
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		acct, err := tx.EnsureAccount(ctx, accountID, s.now())
		if err != nil {
			return err
		}
		banned, err := s.gate.IsBannedTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		w = &Wallet{
			AccountID: acct.ID,
			Balance:   acct.Balance(),
			Lifetime:  models.Amounts{Oranges: acct.LifetimeOranges, Gems: acct.LifetimeGems},
			CreatedAt: acct.CreatedAt,
			Banned:    banned,
		}
		return nil
	})
	if err != nil {
		return nil, reject(op, accountID, err)
	}
	return w, nil
}

// Transactions pages the account's ledger, newest first.
func (s *Service) Transactions(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.ledger.History(ctx, accountID, limit, offset)
	if err != nil {
		return nil, reject("transactions", accountID, err)
	}
	return rows, nil
}

func (s *Service) Reconcile(ctx context.Context, accountID string) (*ledger.Reconciliation, error) {
	rec, err := s.ledger.Reconcile(ctx, accountID)
	if err != nil {
		return nil, reject("reconcile", accountID, err)
	}
	return rec, nil
}

// Progress lists every goal of kind with the account's state on it.
func (s *Service) Progress(ctx context.Context, accountID string, kind models.ProgressKind) ([]progress.GoalStatus, error) {
	if !kind.Valid() {
		return nil, reject("progress", accountID, invalid("unknown progress kind %q", kind))
	}
	goals, err := s.tracker.List(ctx, accountID, kind)
	if err != nil {
		return nil, reject("progress", accountID, err)
	}
	return goals, nil
}

// BanUser suspends the account from every reward path.
func (s *Service) BanUser(ctx context.Context, accountID, reason string, evidence map[string]any) (*models.BanRecord, error) {
	const op = "ban_user"
	switch {
	case accountID == "":
		return nil, reject(op, accountID, invalid("account_id is required"))
	case reason == "":
		return nil, reject(op, accountID, invalid("reason is required"))
	}
	rec, err := s.gate.Ban(ctx, accountID, reason, evidence)
	if err != nil {
		return nil, reject(op, accountID, err)
	}
	return rec, nil
}

func (s *Service) SetAppeal(ctx context.Context, accountID string, status models.AppealStatus) error {
	if err := s.gate.SetAppeal(ctx, accountID, status); err != nil {
		return reject("set_appeal", accountID, err)
	}
	return nil
}

// AuditLog pages abuse-audit records, newest first. An empty account id
// lists every account.
func (s *Service) AuditLog(ctx context.Context, accountID string, limit, offset int) ([]models.AuditRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.AuditRecord
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListAudit(ctx, accountID, limit, offset)
		return err
	})
	if err != nil {
		return nil, reject("audit_log", accountID, err)
	}
	return rows, nil
}
