// Package rewards computes currency rewards from the economy catalog.
//
// The calculator is pure: it never reads the store. Callers resolve personal
// bests, leaderboard standing and account age before calling it.
package rewards

import (
	"time"

	"github.com/orangearcade/backend/internal/models"
)

// Input carries everything a gameplay reward depends on.
type Input struct {
	ActivityID string
	Score      int64
	HighScore  bool
	TopDecile  bool
	AccountAge time.Duration
}

// Breakdown itemises a reward. TrustDecay is the amount withheld.
type Breakdown struct {
	Base       int64 `json:"base"`
	HighScore  int64 `json:"high_score_bonus"`
	TopDecile  int64 `json:"top_decile_bonus"`
	TrustDecay int64 `json:"trust_decay"`
}

type Reward struct {
	Amount       int64     `json:"amount"`
	Tier         Tier      `json:"tier"`
	Breakdown    Breakdown `json:"breakdown"`
	BelowMinimum bool      `json:"below_minimum"`
	MinScore     int64     `json:"min_score,omitempty"`
}

type Calculator struct {
	catalog *Catalog
}

func NewCalculator(c *Catalog) *Calculator {
	return &Calculator{catalog: c}
}

func (c *Calculator) Catalog() *Catalog { return c.catalog }

// Calculate returns the orange reward for one completed game.
func (c *Calculator) Calculate(in Input) (Reward, error) {
	act, err := c.catalog.Activity(in.ActivityID)
	if err != nil {
		return Reward{}, err
	}
	if in.Score < act.MinScore {
		return Reward{Tier: act.Tier, BelowMinimum: true, MinScore: act.MinScore}, nil
	}

	tr := c.catalog.TierRewards(act.Tier)
	b := Breakdown{Base: tr.Base}
	if in.HighScore {
		b.HighScore = tr.HighScoreBonus
	}
	if in.TopDecile {
		b.TopDecile = tr.TopDecileBonus
	}
	total := b.Base + b.HighScore + b.TopDecile
	b.TrustDecay = c.decay(total, in.AccountAge)
	return Reward{Amount: total - b.TrustDecay, Tier: act.Tier, Breakdown: b}, nil
}

// decay is the part of total withheld from an account younger than the
// trust age. Odd totals round in the account's disfavour.
func (c *Calculator) decay(total int64, age time.Duration) int64 {
	if age < c.catalog.TrustAge() {
		return total - total/2
	}
	return 0
}

// DailyLogin returns the reward for the given streak day (1-based).
func (c *Calculator) DailyLogin(streak int) models.Amounts {
	t := c.catalog.DailyLogin
	if streak < 1 {
		streak = 1
	}
	days := streak - 1
	if t.StreakCap >= 0 && days > t.StreakCap {
		days = t.StreakCap
	}
	out := models.Amounts{Oranges: t.Base + t.PerDay*int64(days)}
	if t.GemEvery > 0 && streak%t.GemEvery == 0 {
		out.Gems = t.Gems
	}
	return out
}

// TopDecileBonus is the leaderboard reward for the activity's tier.
func (c *Calculator) TopDecileBonus(activityID string) (int64, error) {
	act, err := c.catalog.Activity(activityID)
	if err != nil {
		return 0, err
	}
	return c.catalog.TierRewards(act.Tier).TopDecileBonus, nil
}

// LeaderboardBonus is the top-decile board reward after trust decay.
func (c *Calculator) LeaderboardBonus(activityID string, age time.Duration) (Reward, error) {
	bonus, err := c.TopDecileBonus(activityID)
	if err != nil {
		return Reward{}, err
	}
	b := Breakdown{TopDecile: bonus, TrustDecay: c.decay(bonus, age)}
	return Reward{Amount: bonus - b.TrustDecay, Tier: c.catalog.Activities[activityID].Tier, Breakdown: b}, nil
}

// IsHard reports whether the activity counts toward hard-mode goals.
func (c *Calculator) IsHard(activityID string) bool {
	act, err := c.catalog.Activity(activityID)
	return err == nil && act.Tier == TierHard
}
