package predictor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paiban/dispatch/pkg/model"
)

var base = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func fixedClock(t *time.Time) Option {
	return WithClock(func() time.Time { return *t })
}

func window(day, hour int) model.TimeRange {
	start := time.Date(2026, 3, 2+day, hour, 0, 0, 0, time.UTC)
	return model.TimeRange{Start: start, End: start.Add(time.Hour)}
}

func TestColdStartIsNeutral(t *testing.T) {
	now := base
	p := New(DefaultConfig(), fixedClock(&now))

	f := p.Forecast(DimWorker, "w-new", window(1, 9))
	require.True(t, f.Neutral)
	require.Zero(t, f.Confidence)
	require.Zero(t, f.ExpectedLoad)

	pressure, conf := p.WorkloadPressure("w-new", window(1, 9), 5)
	require.Equal(t, DefaultConfig().NeutralPressure, pressure)
	require.Zero(t, conf)
	require.Zero(t, p.PairConfidence("w-new", "plumbing"))
}

func TestConfidenceGrowsWithSamples(t *testing.T) {
	now := base
	p := New(DefaultConfig(), fixedClock(&now))

	var prev float64
	for i := 0; i < 5; i++ {
		for j := 0; j < 10; j++ {
			p.Observe(Observation{WorkerID: "w1", Category: "repair", At: base.Add(-time.Duration(j) * time.Hour)})
		}
		c := p.PairConfidence("w1", "repair")
		require.Greater(t, c, prev)
		require.Less(t, c, 1.0)
		prev = c
	}
	require.EqualValues(t, 50, p.Samples(DimWorker, "w1"))
}

func TestForecastFollowsHourOfDay(t *testing.T) {
	now := base
	cfg := DefaultConfig()
	cfg.CacheTTL = 0
	p := New(cfg, fixedClock(&now))

	for d := 0; d < 7; d++ {
		at := time.Date(2026, 3, 2-d, 9, 15, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			p.Observe(Observation{WorkerID: "w1", Zone: "z1", Specialization: "electric", At: at})
		}
	}

	morning := p.Forecast(DimWorker, "w1", window(1, 9))
	night := p.Forecast(DimWorker, "w1", window(1, 3))
	require.False(t, morning.Neutral)
	require.Greater(t, morning.ExpectedLoad, 0.0)
	require.Zero(t, night.ExpectedLoad)
	require.Greater(t, morning.Confidence, 0.0)
}

func TestForecastCacheExpires(t *testing.T) {
	now := base
	cfg := DefaultConfig()
	cfg.CacheTTL = time.Minute
	p := New(cfg, fixedClock(&now))

	first := p.Forecast(DimZone, "z1", window(1, 9))
	require.True(t, first.Neutral)

	p.Observe(Observation{Zone: "z1", At: base.Add(-2 * time.Hour)})
	require.True(t, p.Forecast(DimZone, "z1", window(1, 9)).Neutral, "缓存期内返回旧值")

	now = now.Add(2 * time.Minute)
	require.False(t, p.Forecast(DimZone, "z1", window(1, 9)).Neutral)
}

func TestObservationsOutsideHistoryAreDropped(t *testing.T) {
	now := base
	cfg := DefaultConfig()
	cfg.HistoryHours = 24
	p := New(cfg, fixedClock(&now))

	p.Observe(Observation{WorkerID: "w1", At: base})
	p.Observe(Observation{WorkerID: "w1", At: base.Add(-48 * time.Hour)})
	require.EqualValues(t, 1, p.Samples(DimWorker, "w1"))
}

func TestSizeTemplate(t *testing.T) {
	now := base
	cfg := DefaultConfig()
	cfg.CacheTTL = 0
	p := New(cfg, fixedClock(&now))

	tpl := &model.ShiftTemplate{
		ID:              "t1",
		StartTime:       "09:00",
		DurationMinutes: 60,
		Specializations: []string{"security"},
		MinExecutors:    2,
		MaxExecutors:    3,
		ShiftCapacity:   2,
	}
	minExec, maxExec := p.SizeTemplate(tpl, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	require.Equal(t, 2, minExec)
	require.Equal(t, 3, maxExec)

	for d := 1; d <= 14; d++ {
		at := time.Date(2026, 3, 2-d, 9, 30, 0, 0, time.UTC)
		for i := 0; i < 8; i++ {
			p.Observe(Observation{Specialization: "security", At: at})
		}
	}
	minExec, maxExec = p.SizeTemplate(tpl, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC))
	require.GreaterOrEqual(t, minExec, 1)
	require.GreaterOrEqual(t, maxExec, minExec)
}

func TestHolt(t *testing.T) {
	level, trend := holt([]float64{1, 2, 3, 4, 5}, 0.5, 0.5)
	require.Greater(t, trend, 0.0)
	require.InDelta(t, 4.5, level, 1.0)

	level, trend = holt(nil, 0.5, 0.5)
	require.Zero(t, level)
	require.Zero(t, trend)
}
