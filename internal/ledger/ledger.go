// Package ledger applies idempotent balance mutations and records one
// immutable transaction row per currency delta.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/metrics"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidEntry      = errors.New("invalid ledger entry")
)

// InsufficientFundsError reports the first currency a spend could not cover.
type InsufficientFundsError struct {
	Currency  models.Currency
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s: required %d, available %d", e.Currency, e.Required, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Entry is one logical economy event. Deltas are signed per currency.
type Entry struct {
	AccountID      string
	IdempotencyKey string
	Deltas         models.Amounts
	Source         models.Source
	SourceRef      string
	Metadata       map[string]any
}

// Result is the outcome of applying an entry.
type Result struct {
	Balance        models.Amounts
	AlreadyApplied bool
	Transactions   []models.Transaction
}

// Engine is the only writer of balances and transaction rows.
type Engine struct {
	store store.Store
	now   func() time.Time
}

func New(st store.Store) *Engine {
	return &Engine{store: st, now: time.Now}
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CurrencyKey suffixes an idempotency key with the currency it dedupes.
func CurrencyKey(key string, c models.Currency) string {
	return key + ":" + string(c)
}

// Apply runs the entry in its own batch.
func (e *Engine) Apply(ctx context.Context, entry Entry) (*Result, error) {
	var res *Result
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = e.ApplyTx(ctx, tx, entry)
		return err
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		// A concurrent writer committed the same key between our lookup and insert.
		bal, berr := e.Balance(ctx, entry.AccountID)
		if berr != nil {
			return nil, berr
		}
		metrics.LedgerApplied.WithLabelValues(string(entry.Source), "already_applied").Inc()
		return &Result{Balance: bal, AlreadyApplied: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyTx applies the entry inside an existing batch. The account row is
// locked for the rest of the batch.
func (e *Engine) ApplyTx(ctx context.Context, tx store.Tx, entry Entry) (*Result, error) {
	if err := validate(entry); err != nil {
		return nil, err
	}
	fields := log.Fields{"account_id": entry.AccountID, "key": entry.IdempotencyKey, "source": entry.Source}
	now := e.now()

	acct, err := lockOrCreate(ctx, tx, entry.AccountID, now)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("[LEDGER] lock account failed")
		return nil, err
	}

	pending, err := pendingCurrencies(ctx, tx, entry)
	if err != nil {
		log.WithFields(fields).WithError(err).Error("[LEDGER] idempotency lookup failed")
		return nil, err
	}
	if len(pending) == 0 {
		log.WithFields(fields).Debug("[LEDGER] already applied")
		metrics.LedgerApplied.WithLabelValues(string(entry.Source), "already_applied").Inc()
		return &Result{Balance: acct.Balance(), AlreadyApplied: true}, nil
	}

	for _, c := range pending {
		delta := entry.Deltas.Get(c)
		have := acct.Balance().Get(c)
		if have+delta < 0 {
			metrics.LedgerApplied.WithLabelValues(string(entry.Source), "insufficient_funds").Inc()
			return nil, &InsufficientFundsError{Currency: c, Required: -delta, Available: have}
		}
	}

	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return nil, err
	}

	rows := make([]models.Transaction, 0, len(pending))
	for _, c := range pending {
		delta := entry.Deltas.Get(c)
		next := acct.Balance().Get(c) + delta
		credit(acct, c, next, delta)

		row := models.Transaction{
			ID:             uuid.NewString(),
			AccountID:      acct.ID,
			Direction:      models.DirectionEarn,
			Currency:       c,
			Amount:         delta,
			BalanceAfter:   next,
			Source:         entry.Source,
			SourceRef:      entry.SourceRef,
			Metadata:       meta,
			IdempotencyKey: sql.NullString{String: CurrencyKey(entry.IdempotencyKey, c), Valid: true},
			CreatedAt:      now,
		}
		if delta < 0 {
			row.Direction = models.DirectionSpend
		}
		if err := tx.InsertTransaction(ctx, &row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	acct.UpdatedAt = now
	if err := tx.SaveBalances(ctx, acct); err != nil {
		log.WithFields(fields).WithError(err).Error("[LEDGER] save balances failed")
		return nil, err
	}

	for _, row := range rows {
		if row.Amount > 0 {
			metrics.LedgerCredited.WithLabelValues(string(entry.Source), string(row.Currency)).Add(float64(row.Amount))
		}
	}
	metrics.LedgerApplied.WithLabelValues(string(entry.Source), "applied").Inc()
	log.WithFields(fields).WithField("oranges", acct.Oranges).WithField("gems", acct.Gems).Info("[LEDGER] applied")

	return &Result{Balance: acct.Balance(), Transactions: rows}, nil
}

func validate(entry Entry) error {
	switch {
	case entry.AccountID == "":
		return fmt.Errorf("%w: account id is required", ErrInvalidEntry)
	case entry.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidEntry)
	case !entry.Source.Valid():
		return fmt.Errorf("%w: unknown source %q", ErrInvalidEntry, entry.Source)
	}
	return nil
}

func lockOrCreate(ctx context.Context, tx store.Tx, id string, now time.Time) (*models.Account, error) {
	acct, err := tx.LockAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if _, err := tx.EnsureAccount(ctx, id, now); err != nil {
			return nil, err
		}
		return tx.LockAccount(ctx, id)
	}
	return acct, err
}

// pendingCurrencies returns the currencies of the entry whose per-currency key
// has not been recorded yet.
func pendingCurrencies(ctx context.Context, tx store.Tx, entry Entry) ([]models.Currency, error) {
	var (
		candidates []models.Currency
		keys       []string
	)
	for _, c := range models.Currencies {
		if entry.Deltas.Get(c) == 0 {
			continue
		}
		candidates = append(candidates, c)
		keys = append(keys, CurrencyKey(entry.IdempotencyKey, c))
	}
	if len(keys) == 0 {
		return nil, nil
	}

	seen, err := tx.TransactionsByKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(seen))
	for _, row := range seen {
		done[row.IdempotencyKey.String] = struct{}{}
	}

	pending := candidates[:0]
	for _, c := range candidates {
		if _, ok := done[CurrencyKey(entry.IdempotencyKey, c)]; !ok {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

func credit(acct *models.Account, c models.Currency, next, delta int64) {
	switch c {
	case models.CurrencyOranges:
		acct.Oranges = next
		if delta > 0 {
			acct.LifetimeOranges += delta
		}
	case models.CurrencyGems:
		acct.Gems = next
		if delta > 0 {
			acct.LifetimeGems += delta
		}
	}
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidEntry, err)
	}
	return b, nil
}

// Balance returns the current balance; unknown accounts hold zero.
func (e *Engine) Balance(ctx context.Context, accountID string) (models.Amounts, error) {
	var bal models.Amounts
	err := e.store.View(ctx, func(tx store.Tx) error {
		acct, err := tx.GetAccount(ctx, accountID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		bal = acct.Balance()
		return nil
	})
	return bal, err
}

// Reconciliation compares stored balances with the transaction log.
type Reconciliation struct {
	AccountID string         `json:"account_id"`
	Balance   models.Amounts `json:"balance"`
	Sum       models.Amounts `json:"sum"`
	Balanced  bool           `json:"balanced"`
}

func (e *Engine) Reconcile(ctx context.Context, accountID string) (*Reconciliation, error) {
	rec := &Reconciliation{AccountID: accountID}
	err := e.store.View(ctx, func(tx store.Tx) error {
		acct, err := tx.GetAccount(ctx, accountID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		default:
			rec.Balance = acct.Balance()
		}
		rec.Sum, err = tx.SumTransactions(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	rec.Balanced = rec.Balance == rec.Sum
	if !rec.Balanced {
		log.WithFields(log.Fields{"account_id": accountID, "balance": rec.Balance, "sum": rec.Sum}).Warn("[LEDGER] reconciliation mismatch")
	}
	return rec, nil
}

// History lists transactions newest first.
func (e *Engine) History(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListTransactions(ctx, accountID, limit, offset)
		return err
	})
	return rows, err
}
