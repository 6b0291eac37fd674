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

// ClaimDailyLogin credits today's login reward. The streak continues when the
// previous UTC calendar day was claimed.
func (s *Service) ClaimDailyLogin(ctx context.Context, accountID string) (*Outcome, error) {
	const op = "claim_daily_login"
	defer observe(op, time.Now())

	if err := s.admit(ctx, accountID); err != nil {
		return nil, reject(op, accountID, err)
	}

	now := s.now()
	day := store.DayKey(now)
	yesterday := store.DayKey(now.UTC().AddDate(0, 0, -1))

	var out *Outcome
	claim := func() error {
		return s.store.WithTx(ctx, func(tx store.Tx) error {
			acct, err := s.lockAdmitted(ctx, tx, accountID, now)
			if err != nil {
				return err
			}

			today, err := tx.GetDailyLogin(ctx, accountID, day)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			default:
				out = &Outcome{
					Success:        true,
					Reward:         Reward{Amounts: s.calc.DailyLogin(today.Streak)},
					NewBalance:     acct.Balance(),
					AlreadyApplied: true,
					Streak:         today.Streak,
				}
				return nil
			}

			streak := 1
			prev, err := tx.GetDailyLogin(ctx, accountID, yesterday)
			switch {
			case errors.Is(err, store.ErrNotFound):
			case err != nil:
				return err
			default:
				streak = prev.Streak + 1
			}

			if err := tx.InsertDailyLogin(ctx, &models.DailyLogin{AccountID: accountID, Day: day, Streak: streak, ClaimedAt: now}); err != nil {
				return err
			}
			amounts := s.calc.DailyLogin(streak)
			applied, err := s.ledger.ApplyTx(ctx, tx, ledger.Entry{
				AccountID:      accountID,
				IdempotencyKey: ledger.KeyDailyLogin(accountID, day),
				Deltas:         amounts,
				Source:         models.SourceDailyLogin,
				SourceRef:      day,
				Metadata:       map[string]any{"streak": streak},
			})
			if err != nil {
				return err
			}
			out = &Outcome{
				Success:        true,
				Reward:         Reward{Amounts: amounts},
				NewBalance:     applied.Balance,
				AlreadyApplied: applied.AlreadyApplied,
				Streak:         streak,
			}
			out.Completed, err = s.tracker.RecordTx(ctx, tx, accountID, progress.Event{Trigger: rewards.TriggerDailyLogin, Delta: 1})
			return err
		})
	}

	err := claim()
	if isDuplicate(err) {
		// A concurrent claim committed first; the retry reads it back.
		err = claim()
	}
	if err != nil {
		return nil, reject(op, accountID, err)
	}
	if !out.AlreadyApplied {
		s.notify(ctx, accountID, models.SourceDailyLogin, out.NewBalance, out.Reward.Amounts)
	}
	return out, nil
}

func (s *Service) ClaimChallenge(ctx context.Context, accountID, goalID string) (*Outcome, error) {
	return s.claimGoal(ctx, "claim_challenge", models.KindChallenge, accountID, goalID)
}

func (s *Service) ClaimAchievement(ctx context.Context, accountID, goalID string) (*Outcome, error) {
	return s.claimGoal(ctx, "claim_achievement", models.KindAchievement, accountID, goalID)
}

func (s *Service) claimGoal(ctx context.Context, op string, kind models.ProgressKind, accountID, goalID string) (*Outcome, error) {
	defer observe(op, time.Now())

	if err := s.admit(ctx, accountID); err != nil {
		return nil, reject(op, accountID, err)
	}
	if goalID == "" {
		return nil, reject(op, accountID, invalid("goal id is required"))
	}
	res, err := s.tracker.Claim(ctx, kind, accountID, goalID)
	if err != nil {
		return nil, reject(op, accountID, err)
	}

	out := &Outcome{
		Success:        true,
		Reward:         Reward{Amounts: res.Reward},
		NewBalance:     res.Balance,
		AlreadyApplied: res.AlreadyApplied,
	}
	if !res.Reward.IsZero() && !res.AlreadyApplied {
		source := models.SourceAchievement
		if kind == models.KindChallenge {
			source = models.SourceChallenge
		}
		s.notify(ctx, accountID, source, res.Balance, res.Reward)
	}
	return out, nil
}
