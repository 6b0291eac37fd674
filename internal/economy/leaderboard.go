package economy

import (
	"context"
	"errors"
	"time"

	"github.com/orangearcade/backend/internal/leaderboard"
	"github.com/orangearcade/backend/internal/ledger"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

// SubmitLeaderboard records a score on today's board for the activity and
// pays the tier's top-decile bonus once per account, activity and day. The
// bonus takes the same trust decay as gameplay rewards.
func (s *Service) SubmitLeaderboard(ctx context.Context, accountID, activityID string, score int64) (*Outcome, error) {
	const op = "submit_leaderboard"
	defer observe(op, time.Now())

	if err := s.admit(ctx, accountID); err != nil {
		return nil, reject(op, accountID, err)
	}
	if _, err := s.requireActivity(activityID); err != nil {
		return nil, reject(op, accountID, err)
	}
	if score < 0 {
		return nil, reject(op, accountID, invalid("score must not be negative"))
	}

	day := store.DayKey(s.now())
	board := leaderboard.Name(activityID, day)
	st, err := s.boards.Submit(ctx, board, accountID, score)
	if err != nil {
		return nil, reject(op, accountID, err)
	}
	out := &Outcome{Success: true, Standing: &st}

	if !st.TopDecile {
		out.NewBalance, err = s.balance(ctx, accountID)
		if err != nil {
			return nil, reject(op, accountID, err)
		}
		return out, nil
	}

	var amounts models.Amounts
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		now := s.now()
		acct, err := s.lockAdmitted(ctx, tx, accountID, now)
		if err != nil {
			return err
		}
		bonus, err := s.calc.LeaderboardBonus(activityID, acct.Age(now))
		if err != nil {
			return err
		}
		out.Reward.Breakdown = &bonus.Breakdown
		amounts = models.Single(models.CurrencyOranges, bonus.Amount)
		res, err := s.ledger.ApplyTx(ctx, tx, ledger.Entry{
			AccountID:      accountID,
			IdempotencyKey: ledger.KeyLeaderboard(accountID, activityID, day),
			Deltas:         amounts,
			Source:         models.SourceLeaderboard,
			SourceRef:      board,
			Metadata: map[string]any{
				"rank":        st.Rank,
				"total":       st.Total,
				"score":       st.Score,
				"trust_decay": bonus.Breakdown.TrustDecay,
			},
		})
		if err != nil {
			return err
		}
		out.NewBalance = res.Balance
		out.AlreadyApplied = res.AlreadyApplied
		return nil
	})
	if err != nil {
		return nil, reject(op, accountID, err)
	}
	out.Reward.Amounts = amounts
	if out.AlreadyApplied {
		out.Reward.Breakdown = nil
	} else {
		s.notify(ctx, accountID, models.SourceLeaderboard, out.NewBalance, amounts)
	}
	return out, nil
}

// Leaderboard returns the top n of today's board and the caller's standing
// when ranked.
func (s *Service) Leaderboard(ctx context.Context, accountID, activityID string, n int64) ([]leaderboard.Entry, *leaderboard.Standing, error) {
	const op = "leaderboard"
	if _, err := s.requireActivity(activityID); err != nil {
		return nil, nil, reject(op, accountID, err)
	}
	if n <= 0 || n > 100 {
		n = 10
	}
	board := leaderboard.Name(activityID, store.DayKey(s.now()))
	top, err := s.boards.Top(ctx, board, n)
	if err != nil {
		return nil, nil, reject(op, accountID, err)
	}
	if accountID == "" {
		return top, nil, nil
	}
	st, err := s.boards.Standing(ctx, board, accountID)
	if err != nil {
		if errors.Is(err, leaderboard.ErrNotRanked) {
			return top, nil, nil
		}
		return nil, nil, reject(op, accountID, err)
	}
	return top, &st, nil
}
