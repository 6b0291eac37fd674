// Package anomaly flags implausible gameplay results against the activity's
// history. Flags are advisory and never block a reward.
package anomaly

import (
	"context"
	"math"
	"time"

	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

// Reason names the heuristic that fired.
type Reason string

const (
	ReasonOutlierMagnitude Reason = "outlier_magnitude"
	ReasonImplausibleSpeed Reason = "implausible_speed"
	ReasonRateAnomaly      Reason = "rate_anomaly"
)

// Config tunes the heuristics.
type Config struct {
	// MinSamples is the history size below which the detector abstains.
	MinSamples int64
	// OutlierFactor multiplies the mean score for the magnitude check.
	OutlierFactor float64
	// SpeedFloor is the shortest plausible run that beats the mean.
	SpeedFloor time.Duration
	// RateFactor multiplies the mean score-per-second for the rate check.
	RateFactor float64
}

func DefaultConfig() Config {
	return Config{
		MinSamples:    100,
		OutlierFactor: 3,
		SpeedFloor:    10 * time.Second,
		RateFactor:    5,
	}
}

// StatsSource supplies aggregate history for an activity.
type StatsSource interface {
	ActivityStats(ctx context.Context, activityID string) (models.ActivityStats, error)
}

// StoreStats reads activity stats from completed game results.
type StoreStats struct {
	Store store.Store
}

func (s StoreStats) ActivityStats(ctx context.Context, activityID string) (models.ActivityStats, error) {
	var st models.ActivityStats
	err := s.Store.View(ctx, func(tx store.Tx) error {
		var err error
		st, err = tx.ActivityStats(ctx, activityID)
		return err
	})
	return st, err
}

// Verdict is the detector's opinion of one result.
type Verdict struct {
	Flagged bool           `json:"flagged"`
	Reason  Reason         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type Detector struct {
	stats StatsSource
	cfg   Config
}

func NewDetector(stats StatsSource, cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	if cfg.OutlierFactor <= 0 {
		cfg.OutlierFactor = def.OutlierFactor
	}
	if cfg.SpeedFloor <= 0 {
		cfg.SpeedFloor = def.SpeedFloor
	}
	if cfg.RateFactor <= 0 {
		cfg.RateFactor = def.RateFactor
	}
	return &Detector{stats: stats, cfg: cfg}
}

// Detect loads the activity's current stats and evaluates the heuristics in
// order, reporting the first that fires. Gameplay completion does not call it:
// the economy service loads stats before the batch and passes them to Evaluate
// so the verdict is judged against the pre-batch distribution.
func (d *Detector) Detect(ctx context.Context, activityID string, score int64, duration time.Duration) (Verdict, error) {
	st, err := d.stats.ActivityStats(ctx, activityID)
	if err != nil {
		return Verdict{}, err
	}
	return d.Evaluate(st, score, duration), nil
}

// Evaluate applies the heuristics to already loaded stats.
func (d *Detector) Evaluate(st models.ActivityStats, score int64, duration time.Duration) Verdict {
	if st.SampleCount < d.cfg.MinSamples {
		return Verdict{}
	}
	s := float64(score)
	secs := math.Max(duration.Seconds(), 1)

	if s > d.cfg.OutlierFactor*st.MeanScore && s > st.MaxScore {
		return Verdict{Flagged: true, Reason: ReasonOutlierMagnitude, Details: map[string]any{
			"mean_score": st.MeanScore,
			"max_score":  st.MaxScore,
			"factor":     d.cfg.OutlierFactor,
		}}
	}
	if duration < d.cfg.SpeedFloor && s > st.MeanScore {
		return Verdict{Flagged: true, Reason: ReasonImplausibleSpeed, Details: map[string]any{
			"duration_seconds": duration.Seconds(),
			"floor_seconds":    d.cfg.SpeedFloor.Seconds(),
			"mean_score":       st.MeanScore,
		}}
	}
	rate := s / secs
	if st.MeanScorePerSecond > 0 && rate > d.cfg.RateFactor*st.MeanScorePerSecond {
		return Verdict{Flagged: true, Reason: ReasonRateAnomaly, Details: map[string]any{
			"score_per_second":      rate,
			"mean_score_per_second": st.MeanScorePerSecond,
			"factor":                d.cfg.RateFactor,
		}}
	}
	return Verdict{}
}

// MinSamples is the history size the detector needs before judging.
func (d *Detector) MinSamples() int64 { return d.cfg.MinSamples }
