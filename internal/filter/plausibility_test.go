package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movearn/tracking-backend/internal/models"
)

func makeSample(lat, lon float64, ts time.Time) models.Sample {
	return models.Sample{
		Position:  models.GeoPoint{Latitude: lat, Longitude: lon},
		Timestamp: ts,
	}
}

func TestPlausibilityFilter_Teleportation(t *testing.T) {
	f := NewPlausibilityFilter(nil)
	base := time.Now()

	// Прыжок (0,0) -> (10,10) за одну секунду: больше 1500 км
	prev := makeSample(0, 0, base)
	candidate := makeSample(10, 10, base.Add(time.Second))

	verdict := f.Check(prev, candidate, models.ActivityUnknown)

	assert.False(t, verdict.Reasonable)
	assert.Equal(t, ReasonImplausibleSpeed, verdict.Reason)
	assert.False(t, verdict.CreditsDistance())
	assert.Greater(t, verdict.DistanceKm, 1000.0)
}

func TestPlausibilityFilter_RealisticWalk(t *testing.T) {
	f := NewPlausibilityFilter(nil)
	base := time.Now()

	// Около 14 метров за 5 секунд: быстрая ходьба
	prev := makeSample(46.0, 8.0, base)
	candidate := makeSample(46.000126, 8.0, base.Add(5*time.Second))

	verdict := f.Check(prev, candidate, models.ActivityWalk)

	assert.True(t, verdict.Reasonable)
	assert.Equal(t, ReasonOK, verdict.Reason)
	assert.True(t, verdict.CreditsDistance())
	assert.InDelta(t, 0.014, verdict.DistanceKm, 0.001)
}

func TestPlausibilityFilter_NonMonotonicTime(t *testing.T) {
	f := NewPlausibilityFilter(nil)
	base := time.Now()

	prev := makeSample(46.0, 8.0, base)

	t.Run("SameTimestamp", func(t *testing.T) {
		candidate := makeSample(46.0001, 8.0, base)
		verdict := f.Check(prev, candidate, models.ActivityRun)

		assert.False(t, verdict.Reasonable)
		assert.Equal(t, ReasonNonMonotonicTime, verdict.Reason)
	})

	t.Run("EarlierTimestamp", func(t *testing.T) {
		candidate := makeSample(46.0001, 8.0, base.Add(-time.Second))
		verdict := f.Check(prev, candidate, models.ActivityRun)

		assert.False(t, verdict.Reasonable)
		assert.Equal(t, ReasonNonMonotonicTime, verdict.Reason)
	})
}

func TestPlausibilityFilter_SpeedBufferBoundary(t *testing.T) {
	// Бег: потолок 10 м/с, буфер 1.2 => лимит 12 м за секунду
	f := NewPlausibilityFilter(nil)
	base := time.Now()
	prev := makeSample(0, 0, base)

	// Один градус долготы на экваторе это примерно 111.195 км
	metersPerDegree := 111195.0

	t.Run("JustInsideBuffer", func(t *testing.T) {
		// 11.5 м/с выше потолка 10, но внутри буфера 12
		candidate := makeSample(0, 11.5/metersPerDegree, base.Add(time.Second))
		verdict := f.Check(prev, candidate, models.ActivityRun)

		assert.True(t, verdict.Reasonable)
		assert.True(t, verdict.CreditsDistance())
	})

	t.Run("BeyondBuffer", func(t *testing.T) {
		// 13 м/с выходит за лимит 12
		candidate := makeSample(0, 13.0/metersPerDegree, base.Add(time.Second))
		verdict := f.Check(prev, candidate, models.ActivityRun)

		assert.False(t, verdict.Reasonable)
		assert.Equal(t, ReasonImplausibleSpeed, verdict.Reason)
		assert.InDelta(t, 12.0, verdict.AllowedMeters, 0.01)
	})
}

func TestPlausibilityFilter_BelowMinMovement(t *testing.T) {
	f := NewPlausibilityFilter(nil)
	base := time.Now()

	// Около 2 метров за 10 секунд: GPS-дрожание на месте
	prev := makeSample(46.0, 8.0, base)
	candidate := makeSample(46.000018, 8.0, base.Add(10*time.Second))

	verdict := f.Check(prev, candidate, models.ActivityWalk)

	assert.True(t, verdict.Reasonable)
	assert.Equal(t, ReasonBelowMinMovement, verdict.Reason)
	assert.False(t, verdict.CreditsDistance(), "jitter must not credit distance")
}

func TestPlausibilityFilter_PoorAccuracy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAccuracyMeters = 50
	f := NewPlausibilityFilter(cfg)
	base := time.Now()

	prev := makeSample(46.0, 8.0, base)
	candidate := makeSample(46.0001, 8.0, base.Add(10*time.Second))
	candidate.AccuracyMeters = 120

	verdict := f.Check(prev, candidate, models.ActivityWalk)

	assert.False(t, verdict.Reasonable)
	assert.Equal(t, ReasonPoorAccuracy, verdict.Reason)
}

func TestPlausibilityFilter_AccuracyNotCheckedByDefault(t *testing.T) {
	// MaxAccuracyMeters = 0 отключает проверку точности
	f := NewPlausibilityFilter(nil)
	base := time.Now()

	prev := makeSample(46.0, 8.0, base)
	candidate := makeSample(46.0001, 8.0, base.Add(10*time.Second))
	candidate.AccuracyMeters = 500

	verdict := f.Check(prev, candidate, models.ActivityWalk)

	assert.True(t, verdict.Reasonable)
}

func TestPlausibilityFilter_ActivityCeilings(t *testing.T) {
	f := NewPlausibilityFilter(nil)
	base := time.Now()
	prev := makeSample(0, 0, base)

	// Примерно 20 м/с
	candidate := makeSample(0, 20.0/111195.0, base.Add(time.Second))

	tests := []struct {
		activity models.ActivityType
		accepted bool
	}{
		// 20 м/с при лимите 4*1.2=4.8
		{models.ActivityWalk, false},
		// 20 м/с при лимите 10*1.2=12
		{models.ActivityRun, false},
		// 20 м/с при лимите 25*1.2=30
		{models.ActivityRide, true},
		// 20 м/с при лимите 35*1.2=42
		{models.ActivityUnknown, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.activity), func(t *testing.T) {
			verdict := f.Check(prev, candidate, tt.activity)
			assert.Equal(t, tt.accepted, verdict.Reasonable)
		})
	}
}

func TestConfig_GetMaxSpeed(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 4.0, cfg.GetMaxSpeed(models.ActivityWalk))
	assert.Equal(t, 10.0, cfg.GetMaxSpeed(models.ActivityRun))
	assert.Equal(t, 25.0, cfg.GetMaxSpeed(models.ActivityRide))
	assert.Equal(t, 35.0, cfg.GetMaxSpeed(models.ActivityUnknown))
}

func TestVerdict_Describe(t *testing.T) {
	f := NewPlausibilityFilter(nil)
	base := time.Now()

	prev := makeSample(0, 0, base)
	candidate := makeSample(10, 10, base.Add(time.Second))

	verdict := f.Check(prev, candidate, models.ActivityWalk)
	require.False(t, verdict.Reasonable)
	assert.Contains(t, verdict.Describe(), "implausible_speed")
}
