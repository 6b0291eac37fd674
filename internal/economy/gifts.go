package economy

import (
	"context"
	"errors"
	"time"

	"github.com/orangearcade/backend/internal/ledger"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/progress"
	"github.com/orangearcade/backend/internal/rewards"
	"github.com/orangearcade/backend/internal/store"
)

// GiftRequest moves currency between two accounts. RequestID is the client's
// id for the gift; together with the sender it forms the idempotency key.
type GiftRequest struct {
	From      string
	To        string
	Currency  string
	Amount    int64
	RequestID string
}

var errRecipientBanned = &Rejection{Reason: ReasonBanned, Message: "recipient account suspended"}

// SendGift debits the sender and credits the recipient in one batch.
func (s *Service) SendGift(ctx context.Context, req GiftRequest) (*Outcome, error) {
	const op = "send_gift"
	defer observe(op, time.Now())

	if err := s.admit(ctx, req.From); err != nil {
		return nil, reject(op, req.From, err)
	}
	cur, err := models.ParseCurrency(req.Currency)
	switch {
	case err != nil:
		return nil, reject(op, req.From, invalid("%v", err))
	case req.To == "":
		return nil, reject(op, req.From, invalid("recipient is required"))
	case req.To == req.From:
		return nil, reject(op, req.From, invalid("cannot gift to yourself"))
	case req.Amount <= 0:
		return nil, reject(op, req.From, invalid("amount must be positive"))
	case req.RequestID == "":
		return nil, reject(op, req.From, invalid("request_id is required"))
	}

	debit := models.Single(cur, -req.Amount)
	var (
		out *Outcome
		in  *ledger.Result
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		now := s.now()
		if _, err := tx.EnsureAccount(ctx, req.From, now); err != nil {
			return err
		}
		// Lock both rows in id order so opposite gifts cannot deadlock.
		first, second := req.From, req.To
		if second < first {
			first, second = second, first
		}
		for _, id := range []string{first, second} {
			if _, err := tx.LockAccount(ctx, id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return &Rejection{Reason: ReasonInvalidRequest, Message: "recipient not found"}
				}
				return err
			}
		}
		if err := s.gate.CheckTx(ctx, tx, req.From); err != nil {
			return err
		}
		banned, err := s.gate.IsBannedTx(ctx, tx, req.To)
		if err != nil {
			return err
		}
		if banned {
			return errRecipientBanned
		}

		sent, err := s.ledger.ApplyTx(ctx, tx, ledger.Entry{
			AccountID:      req.From,
			IdempotencyKey: ledger.KeyGiftOut(req.From, req.RequestID),
			Deltas:         debit,
			Source:         models.SourceGiftSent,
			SourceRef:      req.To,
			Metadata:       map[string]any{"request_id": req.RequestID},
		})
		if err != nil {
			return err
		}
		in, err = s.ledger.ApplyTx(ctx, tx, ledger.Entry{
			AccountID:      req.To,
			IdempotencyKey: ledger.KeyGiftIn(req.From, req.RequestID),
			Deltas:         models.Single(cur, req.Amount),
			Source:         models.SourceGiftReceived,
			SourceRef:      req.From,
			Metadata:       map[string]any{"request_id": req.RequestID},
		})
		if err != nil {
			return err
		}

		out = &Outcome{
			Success:        true,
			Reward:         Reward{Amounts: debit},
			NewBalance:     sent.Balance,
			AlreadyApplied: sent.AlreadyApplied,
		}
		if sent.AlreadyApplied {
			return nil
		}
		out.Completed, err = s.tracker.RecordTx(ctx, tx, req.From, progress.Event{Trigger: rewards.TriggerGiftSent, Delta: 1})
		return err
	})
	if isDuplicate(err) {
		bal, berr := s.balance(ctx, req.From)
		if berr != nil {
			return nil, reject(op, req.From, berr)
		}
		return &Outcome{Success: true, Reward: Reward{Amounts: debit}, NewBalance: bal, AlreadyApplied: true}, nil
	}
	if err != nil {
		return nil, reject(op, req.From, err)
	}
	if !out.AlreadyApplied {
		s.notify(ctx, req.From, models.SourceGiftSent, out.NewBalance, debit)
		s.notify(ctx, req.To, models.SourceGiftReceived, in.Balance, models.Single(cur, req.Amount))
	}
	return out, nil
}
