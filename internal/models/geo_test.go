package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoPoint_Validate(t *testing.T) {
	tests := []struct {
		name    string
		point   GeoPoint
		wantErr bool
	}{
		{"Valid", GeoPoint{Latitude: 46.0, Longitude: 8.0}, false},
		{"Zero", GeoPoint{}, false},
		{"LatitudeBoundary", GeoPoint{Latitude: 90, Longitude: 180}, false},
		{"NegativeBoundary", GeoPoint{Latitude: -90, Longitude: -180}, false},
		{"LatitudeTooHigh", GeoPoint{Latitude: 90.001, Longitude: 0}, true},
		{"LatitudeTooLow", GeoPoint{Latitude: -90.001, Longitude: 0}, true},
		{"LongitudeTooHigh", GeoPoint{Latitude: 0, Longitude: 180.001}, true},
		{"LongitudeTooLow", GeoPoint{Latitude: 0, Longitude: -180.001}, true},
		{"NaNLatitude", GeoPoint{Latitude: math.NaN(), Longitude: 0}, true},
		{"InfLongitude", GeoPoint{Latitude: 0, Longitude: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGeoPoint_DistanceTo(t *testing.T) {
	t.Run("SamePoint", func(t *testing.T) {
		p := GeoPoint{Latitude: 46.0, Longitude: 8.0}
		assert.Zero(t, p.DistanceTo(p))
	})

	t.Run("OneDegreeLatitude", func(t *testing.T) {
		a := GeoPoint{Latitude: 0, Longitude: 0}
		b := GeoPoint{Latitude: 1, Longitude: 0}
		// Один градус широты это примерно 111.19 км
		assert.InDelta(t, 111.19, a.DistanceTo(b), 0.1)
	})

	t.Run("Symmetric", func(t *testing.T) {
		a := GeoPoint{Latitude: 46.5, Longitude: 15.6}
		b := GeoPoint{Latitude: 47.1, Longitude: 14.2}
		assert.InDelta(t, a.DistanceTo(b), b.DistanceTo(a), 1e-12)
	})

	t.Run("KnownDistance", func(t *testing.T) {
		// Цюрих - Женева, около 224 км
		zurich := GeoPoint{Latitude: 47.3769, Longitude: 8.5417}
		geneva := GeoPoint{Latitude: 46.2044, Longitude: 6.1432}
		assert.InDelta(t, 224, zurich.DistanceTo(geneva), 3)
	})

	t.Run("MetersVariant", func(t *testing.T) {
		a := GeoPoint{Latitude: 46.0, Longitude: 8.0}
		b := GeoPoint{Latitude: 46.0001, Longitude: 8.0}
		assert.InDelta(t, 11.1, a.DistanceMetersTo(b), 0.1)
	})
}

func TestGeoPoint_Geohash(t *testing.T) {
	p := GeoPoint{Latitude: 46.0, Longitude: 8.0}

	hash := p.Geohash(4)
	assert.Len(t, hash, 4)

	// Соседние точки внутри одной ячейки precision 4
	nearby := GeoPoint{Latitude: 46.001, Longitude: 8.001}
	assert.Equal(t, hash, nearby.Geohash(4))

	// Далекая точка дает другую ячейку
	far := GeoPoint{Latitude: 52.0, Longitude: 13.0}
	assert.NotEqual(t, hash, far.Geohash(4))
}

func TestSample_Validate(t *testing.T) {
	valid := Sample{
		Position:  GeoPoint{Latitude: 46.0, Longitude: 8.0},
		Timestamp: time.Now(),
	}
	assert.NoError(t, valid.Validate())

	t.Run("MissingTimestamp", func(t *testing.T) {
		s := valid
		s.Timestamp = time.Time{}
		assert.Error(t, s.Validate())
	})

	t.Run("NegativeAccuracy", func(t *testing.T) {
		s := valid
		s.AccuracyMeters = -1
		assert.Error(t, s.Validate())
	})

	t.Run("InvalidPosition", func(t *testing.T) {
		s := valid
		s.Position.Latitude = 100
		assert.Error(t, s.Validate())
	})
}

func TestSample_ElapsedSince(t *testing.T) {
	base := time.Now()
	first := Sample{Position: GeoPoint{}, Timestamp: base}
	second := Sample{Position: GeoPoint{}, Timestamp: base.Add(5 * time.Second)}

	assert.Equal(t, 5*time.Second, second.ElapsedSince(first))
	assert.Equal(t, -5*time.Second, first.ElapsedSince(second))
}

func TestSessionSnapshot_ReconstructedDistance(t *testing.T) {
	base := time.Now()
	snapshot := SessionSnapshot{
		History: []Sample{
			{Position: GeoPoint{Latitude: 46.0, Longitude: 8.0}, Timestamp: base},
			{Position: GeoPoint{Latitude: 46.0001, Longitude: 8.0}, Timestamp: base.Add(10 * time.Second)},
			{Position: GeoPoint{Latitude: 46.0002, Longitude: 8.0}, Timestamp: base.Add(20 * time.Second)},
		},
	}

	// Два отрезка по ~11.1 м
	assert.InDelta(t, 0.0222, snapshot.ReconstructedDistanceKm(), 0.001)

	empty := SessionSnapshot{}
	assert.Zero(t, empty.ReconstructedDistanceKm())

	single := SessionSnapshot{History: snapshot.History[:1]}
	assert.Zero(t, single.ReconstructedDistanceKm())
}

func TestParseActivityType(t *testing.T) {
	assert.Equal(t, ActivityWalk, ParseActivityType("walk"))
	assert.Equal(t, ActivityRun, ParseActivityType("run"))
	assert.Equal(t, ActivityRide, ParseActivityType("ride"))
	assert.Equal(t, ActivityUnknown, ParseActivityType(""))
	assert.Equal(t, ActivityUnknown, ParseActivityType("swim"))
}

func TestSessionSnapshot_Duration(t *testing.T) {
	started := time.Now().Add(-time.Hour)

	running := SessionSnapshot{StartedAt: started}
	assert.InDelta(t, time.Hour.Seconds(), running.Duration().Seconds(), 1)

	stopped := SessionSnapshot{StartedAt: started, StoppedAt: started.Add(30 * time.Minute)}
	assert.Equal(t, 30*time.Minute, stopped.Duration())

	var empty SessionSnapshot
	require.Zero(t, empty.Duration())
}
