package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/orangearcade/backend/internal/models"
)

type mockStats struct {
	mock.Mock
}

func (m *mockStats) ActivityStats(ctx context.Context, activityID string) (models.ActivityStats, error) {
	args := m.Called(ctx, activityID)
	return args.Get(0).(models.ActivityStats), args.Error(1)
}

var history = models.ActivityStats{
	SampleCount:        500,
	MeanScore:          1000,
	MaxScore:           4000,
	MeanDuration:       120,
	MeanScorePerSecond: 10,
	P90Score:           2000,
}

func TestEvaluate(t *testing.T) {
	d := NewDetector(nil, DefaultConfig())

	tests := []struct {
		name     string
		stats    models.ActivityStats
		score    int64
		duration time.Duration
		want     Reason
	}{
		{"normal run", history, 1100, 2 * time.Minute, ""},
		{"abstains on thin history", models.ActivityStats{SampleCount: 99, MeanScore: 1, MaxScore: 1, MeanScorePerSecond: 0.1}, 1_000_000, time.Second, ""},
		{"outlier magnitude", history, 5000, 10 * time.Minute, ReasonOutlierMagnitude},
		{"above 3x mean but not max", history, 3500, 10 * time.Minute, ""},
		{"implausible speed", history, 1200, 5 * time.Second, ReasonImplausibleSpeed},
		{"fast but below mean", history, 200, 5 * time.Second, ""},
		{"rate anomaly", history, 3000, 30 * time.Second, ReasonRateAnomaly},
		{"magnitude wins over speed", history, 9000, time.Second, ReasonOutlierMagnitude},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Evaluate(tt.stats, tt.score, tt.duration)
			assert.Equal(t, tt.want != "", v.Flagged)
			assert.Equal(t, tt.want, v.Reason)
		})
	}
}

func TestEvaluateClampsZeroDuration(t *testing.T) {
	d := NewDetector(nil, Config{SpeedFloor: time.Nanosecond})
	stats := history
	stats.MeanScore = 10_000
	v := d.Evaluate(stats, 40, 0)
	assert.False(t, v.Flagged, "40 points in a clamped 1s run is under 5x the mean rate")
}

func TestDetectReadsStats(t *testing.T) {
	src := new(mockStats)
	src.On("ActivityStats", mock.Anything, "runner").Return(history, nil).Once()

	d := NewDetector(src, DefaultConfig())
	v, err := d.Detect(context.Background(), "runner", 5000, time.Minute)
	require.NoError(t, err)
	assert.True(t, v.Flagged)
	assert.Equal(t, ReasonOutlierMagnitude, v.Reason)
	src.AssertExpectations(t)
}

func TestDetectPropagatesStoreError(t *testing.T) {
	src := new(mockStats)
	boom := errors.New("db down")
	src.On("ActivityStats", mock.Anything, "runner").Return(models.ActivityStats{}, boom)

	_, err := NewDetector(src, DefaultConfig()).Detect(context.Background(), "runner", 1, time.Second)
	assert.ErrorIs(t, err, boom)
}
