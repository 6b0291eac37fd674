package rewards

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/orangearcade/backend/internal/models"
)

//go:embed default_catalog.toml
var defaultCatalog string

var ErrUnknownActivity = errors.New("unknown activity")

// Tier is a difficulty class. The set is closed; unknown names fail to load.
type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

var tiers = []Tier{TierEasy, TierMedium, TierHard}

func (t *Tier) UnmarshalText(b []byte) error {
	switch v := Tier(b); v {
	case TierEasy, TierMedium, TierHard:
		*t = v
		return nil
	}
	return fmt.Errorf("unknown tier %q", string(b))
}

// Trigger is the gameplay event a goal counts.
type Trigger string

const (
	TriggerGameCompleted     Trigger = "game_completed"
	TriggerHardGameCompleted Trigger = "hard_game_completed"
	TriggerPointsScored      Trigger = "points_scored"
	TriggerHighScore         Trigger = "high_score"
	TriggerDailyLogin        Trigger = "daily_login"
	TriggerGiftSent          Trigger = "gift_sent"
)

func (t *Trigger) UnmarshalText(b []byte) error {
	switch v := Trigger(b); v {
	case TriggerGameCompleted, TriggerHardGameCompleted, TriggerPointsScored,
		TriggerHighScore, TriggerDailyLogin, TriggerGiftSent:
		*t = v
		return nil
	}
	return fmt.Errorf("unknown trigger %q", string(b))
}

type TierRewards struct {
	Base           int64 `toml:"base"`
	HighScoreBonus int64 `toml:"high_score_bonus"`
	TopDecileBonus int64 `toml:"top_decile_bonus"`
}

type Activity struct {
	ID       string `toml:"-"`
	Tier     Tier   `toml:"tier"`
	MinScore int64  `toml:"min_score"`
}

type DailyLoginTable struct {
	Base      int64 `toml:"base"`
	PerDay    int64 `toml:"per_day"`
	StreakCap int   `toml:"streak_cap"`
	GemEvery  int   `toml:"gem_every"`
	Gems      int64 `toml:"gems"`
}

// Goal is an achievement or daily challenge definition.
type Goal struct {
	ID            string              `toml:"id"`
	Kind          models.ProgressKind `toml:"kind"`
	Trigger       Trigger             `toml:"trigger"`
	Activity      string              `toml:"activity"`
	Target        int64               `toml:"target"`
	RewardOranges int64               `toml:"reward_oranges"`
	RewardGems    int64               `toml:"reward_gems"`
}

func (g Goal) Reward() models.Amounts {
	return models.Amounts{Oranges: g.RewardOranges, Gems: g.RewardGems}
}

// Matches reports whether an event on activityID counts toward g.
func (g Goal) Matches(trigger Trigger, activityID string) bool {
	return g.Trigger == trigger && (g.Activity == "" || g.Activity == activityID)
}

// Catalog is the validated economy configuration.
type Catalog struct {
	TrustAgeDays int                    `toml:"trust_age_days"`
	Tiers        map[string]TierRewards `toml:"tiers"`
	Activities   map[string]Activity    `toml:"activities"`
	DailyLogin   DailyLoginTable        `toml:"daily_login"`
	Goals        []Goal                 `toml:"goals"`

	goalIndex map[models.ProgressKind]map[string]Goal
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(string(b))
}

// Parse decodes and validates a TOML catalog. Unknown keys are rejected.
func Parse(doc string) (*Catalog, error) {
	var c Catalog
	md, err := toml.Decode(doc, &c)
	if err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("catalog: unknown keys %s", strings.Join(keys, ", "))
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if c.TrustAgeDays < 0 {
		return fmt.Errorf("catalog: trust_age_days must not be negative")
	}
	for _, t := range tiers {
		if _, ok := c.Tiers[string(t)]; !ok {
			return fmt.Errorf("catalog: tier %q is not configured", t)
		}
	}
	for t := range c.Tiers {
		var known Tier
		if err := known.UnmarshalText([]byte(t)); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
	}
	if len(c.Activities) == 0 {
		return fmt.Errorf("catalog: no activities")
	}
	for id, a := range c.Activities {
		if a.Tier == "" {
			return fmt.Errorf("catalog: activity %q has no tier", id)
		}
		if a.MinScore < 0 {
			return fmt.Errorf("catalog: activity %q has negative min_score", id)
		}
		a.ID = id
		c.Activities[id] = a
	}

	c.goalIndex = map[models.ProgressKind]map[string]Goal{
		models.KindAchievement: {},
		models.KindChallenge:   {},
	}
	for _, g := range c.Goals {
		switch {
		case g.ID == "":
			return fmt.Errorf("catalog: goal without id")
		case !g.Kind.Valid():
			return fmt.Errorf("catalog: goal %q has unknown kind %q", g.ID, g.Kind)
		case g.Trigger == "":
			return fmt.Errorf("catalog: goal %q has no trigger", g.ID)
		case g.Target <= 0:
			return fmt.Errorf("catalog: goal %q needs a positive target", g.ID)
		case g.RewardOranges < 0 || g.RewardGems < 0:
			return fmt.Errorf("catalog: goal %q has a negative reward", g.ID)
		}
		if g.Activity != "" {
			if _, ok := c.Activities[g.Activity]; !ok {
				return fmt.Errorf("catalog: goal %q references unknown activity %q", g.ID, g.Activity)
			}
		}
		if _, dup := c.goalIndex[g.Kind][g.ID]; dup {
			return fmt.Errorf("catalog: duplicate %s %q", g.Kind, g.ID)
		}
		c.goalIndex[g.Kind][g.ID] = g
	}
	return nil
}

// Activity looks up an activity by id.
func (c *Catalog) Activity(id string) (Activity, error) {
	a, ok := c.Activities[id]
	if !ok {
		return Activity{}, fmt.Errorf("%w: %q", ErrUnknownActivity, id)
	}
	return a, nil
}

func (c *Catalog) TierRewards(t Tier) TierRewards {
	return c.Tiers[string(t)]
}

func (c *Catalog) TrustAge() time.Duration {
	return time.Duration(c.TrustAgeDays) * 24 * time.Hour
}

// Goal looks up one goal definition.
func (c *Catalog) Goal(kind models.ProgressKind, id string) (Goal, bool) {
	g, ok := c.goalIndex[kind][id]
	return g, ok
}

// GoalsOf returns the goals of one kind in catalog order.
func (c *Catalog) GoalsOf(kind models.ProgressKind) []Goal {
	var out []Goal
	for _, g := range c.Goals {
		if g.Kind == kind {
			out = append(out, g)
		}
	}
	return out
}
