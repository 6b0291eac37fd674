package economy

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/ledger"
	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/progress"
	"github.com/orangearcade/backend/internal/rewards"
	"github.com/orangearcade/backend/internal/store"
)

// GameplayRequest reports a finished game. HighScore is the client's claim
// and is verified against the stored personal best.
type GameplayRequest struct {
	AccountID  string
	SessionID  string
	ActivityID string
	Score      int64
	HighScore  bool
}

// CompleteGameplay credits a finished game exactly once per session.
func (s *Service) CompleteGameplay(ctx context.Context, req GameplayRequest) (*Outcome, error) {
	const op = "complete_gameplay"
	defer observe(op, time.Now())

	if err := s.admit(ctx, req.AccountID); err != nil {
		return nil, reject(op, req.AccountID, err)
	}
	switch {
	case req.SessionID == "":
		return nil, reject(op, req.AccountID, invalid("session_id is required"))
	case req.Score < 0:
		return nil, reject(op, req.AccountID, invalid("score must not be negative"))
	}
	if _, err := s.requireActivity(req.ActivityID); err != nil {
		return nil, reject(op, req.AccountID, err)
	}

	if out, err := s.gameplayReplay(ctx, req); out != nil || err != nil {
		if err != nil {
			return nil, reject(op, req.AccountID, err)
		}
		return out, nil
	}

	var stats models.ActivityStats
	if err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		stats, err = tx.ActivityStats(ctx, req.ActivityID)
		return err
	}); err != nil {
		return nil, reject(op, req.AccountID, err)
	}

	var (
		out      *Outcome
		result   models.GameResult
		duration time.Duration
		replayed bool
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		now := s.now()
		acct, err := s.lockAdmitted(ctx, tx, req.AccountID, now)
		if err != nil {
			return err
		}

		// A concurrent request for the same session may have committed while
		// we waited for the lock.
		prev, err := tx.GameResultBySession(ctx, req.SessionID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return err
		default:
			if prev.AccountID != req.AccountID {
				return errSessionNotOwned
			}
			replayed = true
			out = replayOutcome(prev, acct.Balance())
			return nil
		}

		sess, err := s.sessions.ActiveTx(ctx, tx, req.AccountID, req.SessionID)
		if err != nil {
			return err
		}
		if sess.ActivityID != req.ActivityID {
			return &Rejection{Reason: ReasonInvalidRequest, Message: "activity does not match session", Details: map[string]any{
				"session_activity_id": sess.ActivityID,
			}}
		}
		duration = now.Sub(sess.StartedAt)

		best, hasBest, err := tx.PersonalBest(ctx, req.AccountID, req.ActivityID)
		if err != nil {
			return err
		}
		highScore := req.HighScore && (!hasBest || req.Score > best)
		topDecile := stats.SampleCount >= s.minSamples() && float64(req.Score) >= stats.P90Score

		reward, err := s.calc.Calculate(rewards.Input{
			ActivityID: req.ActivityID,
			Score:      req.Score,
			HighScore:  highScore,
			TopDecile:  topDecile,
			AccountAge: acct.Age(now),
		})
		if err != nil {
			return err
		}

		out = &Outcome{
			Success:    true,
			Reward:     Reward{Amounts: models.Single(models.CurrencyOranges, reward.Amount), Breakdown: &reward.Breakdown},
			NewBalance: acct.Balance(),
		}
		if reward.BelowMinimum {
			out.Notice = ReasonBelowMinimum
			out.Reward.Breakdown = nil
		}
		if reward.Amount > 0 {
			applied, err := s.ledger.ApplyTx(ctx, tx, ledger.Entry{
				AccountID:      req.AccountID,
				IdempotencyKey: ledger.KeyGameplay(req.SessionID),
				Deltas:         out.Reward.Amounts,
				Source:         models.SourceGameplay,
				SourceRef:      req.SessionID,
				Metadata: map[string]any{
					"activity_id":      req.ActivityID,
					"score":            req.Score,
					"duration_seconds": duration.Seconds(),
					"high_score":       highScore,
					"top_decile":       topDecile,
					"trust_decay":      reward.Breakdown.TrustDecay,
				},
			})
			if err != nil {
				return err
			}
			out.NewBalance = applied.Balance
			out.AlreadyApplied = applied.AlreadyApplied
		}

		result = models.GameResult{
			AccountID:       req.AccountID,
			SessionID:       req.SessionID,
			ActivityID:      req.ActivityID,
			Score:           req.Score,
			DurationSeconds: duration.Seconds(),
			RewardOranges:   reward.Amount,
			CompletedAt:     now,
		}
		if err := tx.InsertGameResult(ctx, &result); err != nil {
			return err
		}
		if err := s.sessions.CompleteTx(ctx, tx, req.AccountID); err != nil {
			return err
		}

		if reward.BelowMinimum {
			return nil
		}
		out.Completed, err = s.recordGameplay(ctx, tx, req, highScore)
		return err
	})
	if isDuplicate(err) {
		// Lost the race on the game result or transaction key.
		out, err = s.gameplayReplay(ctx, req)
		if err == nil && out == nil {
			err = store.ErrDuplicateKey
		}
		if err != nil {
			return nil, reject(op, req.AccountID, err)
		}
		return out, nil
	}
	if err != nil {
		return nil, reject(op, req.AccountID, err)
	}
	if replayed {
		return out, nil
	}

	s.auditAsync(stats, result, duration)
	if !out.Reward.Amounts.IsZero() {
		s.notify(ctx, req.AccountID, models.SourceGameplay, out.NewBalance, out.Reward.Amounts)
	}
	log.WithFields(log.Fields{
		"account_id":  req.AccountID,
		"session_id":  req.SessionID,
		"activity_id": req.ActivityID,
		"score":       req.Score,
		"reward":      result.RewardOranges,
	}).Info("[ECONOMY] gameplay completed")
	return out, nil
}

var errSessionNotOwned = &Rejection{Reason: ReasonSessionNotFound, Message: "session not found or expired"}

// gameplayReplay returns the prior outcome if the session already has a
// result, or nil when it does not.
func (s *Service) gameplayReplay(ctx context.Context, req GameplayRequest) (*Outcome, error) {
	var (
		prev *models.GameResult
		bal  models.Amounts
	)
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		prev, err = tx.GameResultBySession(ctx, req.SessionID)
		if err != nil {
			return err
		}
		acct, err := tx.GetAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		bal = acct.Balance()
		return nil
	})
	if errors.Is(err, store.ErrNotFound) && prev == nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prev.AccountID != req.AccountID {
		return nil, errSessionNotOwned
	}
	log.WithFields(log.Fields{"account_id": req.AccountID, "session_id": req.SessionID}).Debug("[ECONOMY] gameplay replay")
	return replayOutcome(prev, bal), nil
}

func replayOutcome(prev *models.GameResult, bal models.Amounts) *Outcome {
	return &Outcome{
		Success:        true,
		Reward:         Reward{Amounts: models.Single(models.CurrencyOranges, prev.RewardOranges)},
		NewBalance:     bal,
		AlreadyApplied: true,
	}
}

func (s *Service) recordGameplay(ctx context.Context, tx store.Tx, req GameplayRequest, highScore bool) ([]progress.Completion, error) {
	events := []progress.Event{
		{Trigger: rewards.TriggerGameCompleted, Delta: 1, ActivityID: req.ActivityID},
		{Trigger: rewards.TriggerPointsScored, Delta: req.Score, ActivityID: req.ActivityID},
	}
	if s.calc.IsHard(req.ActivityID) {
		events = append(events, progress.Event{Trigger: rewards.TriggerHardGameCompleted, Delta: 1, ActivityID: req.ActivityID})
	}
	if highScore {
		events = append(events, progress.Event{Trigger: rewards.TriggerHighScore, Delta: 1, ActivityID: req.ActivityID})
	}

	var done []progress.Completion
	for _, ev := range events {
		c, err := s.tracker.RecordTx(ctx, tx, req.AccountID, ev)
		if err != nil {
			return nil, err
		}
		done = append(done, c...)
	}
	return done, nil
}

func (s *Service) minSamples() int64 {
	if s.detector == nil {
		return 100
	}
	return s.detector.MinSamples()
}
