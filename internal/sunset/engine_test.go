package sunset

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GalSened/RoamWise-sub002/internal/ephemeris"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

const latPerMeter = 1.0 / 111194.93

var hikeStart = time.Date(2025, 6, 21, 14, 0, 0, 0, time.UTC)

// slopedTrail builds a trail of n segments of ~stepMeters each, all with the
// given constant slope, running due north from (46.0, 8.0).
func slopedTrail(t *testing.T, n int, stepMeters, slope float64) *trail.TrailData {
	t.Helper()
	points := make([]trail.GeoPoint, n+1)
	for i := range points {
		points[i] = trail.GeoPoint{
			Latitude:  46.0 + float64(i)*stepMeters*latPerMeter,
			Longitude: 8.0,
			Altitude:  1000 + float64(i)*stepMeters*slope,
		}
	}
	tr, err := trail.Build("t1", "North Ridge", points, nil)
	require.NoError(t, err)
	return tr
}

// calendarWithSunset builds a one-day calendar whose sunset falls at the
// given offset after hikeStart.
func calendarWithSunset(offset time.Duration) *ephemeris.Calendar {
	sunset := hikeStart.Add(offset)
	return ephemeris.NewCalendar([]ephemeris.Day{{
		Date:             time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC),
		Sunrise:          time.Date(2025, 6, 21, 5, 30, 0, 0, time.UTC),
		Sunset:           sunset,
		CivilTwilightEnd: sunset.Add(35 * time.Minute),
		MoonPhase:        0.5,
	}})
}

// fixAt places a fix d meters along the due-north line at the given time.
func fixAt(meters float64, at time.Time) trail.GeoPoint {
	return trail.GeoPoint{
		Latitude:  46.0 + meters*latPerMeter,
		Longitude: 8.0,
		Timestamp: at,
	}
}

// steadyWalk feeds n fixes 60s apart moving at ~1.2 m/s and returns the last
// assessment.
func steadyWalk(t *testing.T, e *Engine, n int) *Assessment {
	t.Helper()
	var last *Assessment
	for i := 0; i < n; i++ {
		a, err := e.UpdatePosition(fixAt(72*float64(i), hikeStart.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
		last = a
	}
	return last
}

func TestEngine_RequiresInitialize(t *testing.T) {
	e := New(Config{})
	_, err := e.UpdatePosition(fixAt(0, hikeStart))
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestEngine_InitializeValidation(t *testing.T) {
	e := New(Config{})

	t.Run("nil trail", func(t *testing.T) {
		assert.ErrorIs(t, e.Initialize(nil, nil), ErrNoTrail)
	})

	t.Run("broken trail", func(t *testing.T) {
		tr := slopedTrail(t, 3, 111, 0)
		tr.Segments[2].Start.Longitude += 0.02
		assert.ErrorIs(t, e.Initialize(tr, nil), trail.ErrDiscontiguous)
	})

	t.Run("nil calendar is accepted as empty", func(t *testing.T) {
		require.NoError(t, e.Initialize(slopedTrail(t, 3, 111, 0), nil))
		a, err := e.UpdatePosition(fixAt(0, hikeStart))
		require.NoError(t, err)
		assert.True(t, a.Degraded)
	})
}

func TestToblerFactor(t *testing.T) {
	t.Run("peaks at gentle downhill", func(t *testing.T) {
		assert.InDelta(t, 1.0, ToblerFactor(-0.05), 1e-12)
	})

	t.Run("decreases away from the peak in both directions", func(t *testing.T) {
		prev := ToblerFactor(-0.05)
		for _, slope := range []float64{0, 0.05, 0.1, 0.2} {
			f := ToblerFactor(slope)
			assert.Less(t, f, prev, "slope %f", slope)
			prev = f
		}
		prev = ToblerFactor(-0.05)
		for _, slope := range []float64{-0.1, -0.15, -0.25} {
			f := ToblerFactor(slope)
			assert.Less(t, f, prev, "slope %f", slope)
			prev = f
		}
	})

	t.Run("flat ground value", func(t *testing.T) {
		assert.InDelta(t, math.Exp(-0.175), ToblerFactor(0), 1e-12)
	})
}

func TestEngine_AverageSpeed(t *testing.T) {
	now := hikeStart.Add(10 * time.Minute)

	t.Run("no samples falls back to default", func(t *testing.T) {
		e := New(Config{})
		assert.Equal(t, DefaultWalkingSpeed, e.averageSpeed(now))
	})

	t.Run("below min samples uses unweighted mean", func(t *testing.T) {
		e := New(Config{})
		e.samples = []velocitySample{
			{speed: 1.0, at: now.Add(-10 * time.Minute)},
			{speed: 2.0, at: now},
		}
		assert.InDelta(t, 1.5, e.averageSpeed(now), 1e-9)
	})

	t.Run("at min samples weights recent speeds higher", func(t *testing.T) {
		e := New(Config{})
		e.samples = []velocitySample{
			{speed: 1.0, at: now.Add(-12 * time.Minute)},
			{speed: 1.0, at: now.Add(-6 * time.Minute)},
			{speed: 2.0, at: now},
		}
		// Weights: 1-12/15=0.2, 1-6/15=0.6, 1.0.
		want := (1.0*0.2 + 1.0*0.6 + 2.0*1.0) / (0.2 + 0.6 + 1.0)
		got := e.averageSpeed(now)
		assert.InDelta(t, want, got, 1e-9)
		assert.Greater(t, got, 4.0/3.0, "weighted mean must exceed the unweighted one")
	})
}

func TestEngine_VelocityFiltering(t *testing.T) {
	tr := slopedTrail(t, 40, 111, 0)

	t.Run("jitter below cutoff is discarded", func(t *testing.T) {
		e := New(Config{})
		require.NoError(t, e.Initialize(tr, calendarWithSunset(4*time.Hour)))

		// Two fixes 1m apart over a minute: 0.017 m/s of drift.
		_, err := e.UpdatePosition(fixAt(0, hikeStart))
		require.NoError(t, err)
		a, err := e.UpdatePosition(fixAt(1, hikeStart.Add(time.Minute)))
		require.NoError(t, err)

		assert.Empty(t, e.samples)
		assert.True(t, e.IsStationary())
		assert.InDelta(t, DefaultWalkingSpeed, a.AverageSpeed, 1e-9)
	})

	t.Run("implausible speed is discarded", func(t *testing.T) {
		e := New(Config{})
		require.NoError(t, e.Initialize(tr, calendarWithSunset(4*time.Hour)))

		_, err := e.UpdatePosition(fixAt(0, hikeStart))
		require.NoError(t, err)
		// 1.2km in 60s: 20 m/s, no hiker does that.
		_, err = e.UpdatePosition(fixAt(1200, hikeStart.Add(time.Minute)))
		require.NoError(t, err)

		assert.Empty(t, e.samples)
		assert.False(t, e.IsStationary())
	})

	t.Run("out-of-order fix is ignored for sampling", func(t *testing.T) {
		e := New(Config{})
		require.NoError(t, e.Initialize(tr, calendarWithSunset(4*time.Hour)))

		_, err := e.UpdatePosition(fixAt(72, hikeStart.Add(time.Minute)))
		require.NoError(t, err)
		_, err = e.UpdatePosition(fixAt(0, hikeStart))
		require.NoError(t, err)

		assert.Empty(t, e.samples)
	})

	t.Run("old samples are pruned from the window", func(t *testing.T) {
		e := New(Config{})
		require.NoError(t, e.Initialize(tr, calendarWithSunset(6*time.Hour)))

		_, err := e.UpdatePosition(fixAt(0, hikeStart))
		require.NoError(t, err)
		_, err = e.UpdatePosition(fixAt(72, hikeStart.Add(time.Minute)))
		require.NoError(t, err)
		require.Len(t, e.samples, 1)

		// 20 minutes later the old sample has aged out; the hiker kept
		// walking at 1.2 m/s in the meantime.
		_, err = e.UpdatePosition(fixAt(1512, hikeStart.Add(21*time.Minute)))
		require.NoError(t, err)
		require.Len(t, e.samples, 1)
		assert.True(t, e.samples[0].at.Equal(hikeStart.Add(21*time.Minute)))
	})
}

// TestEngine_SteadyPaceLevels replays a steady 1.2 m/s walk on a 4km trail
// and checks margin and level against the projection formula for several
// sunset offsets.
func TestEngine_SteadyPaceLevels(t *testing.T) {
	tests := []struct {
		name         string
		slope        float64
		sunsetOffset time.Duration
		wantLevel    AlertLevel
	}{
		// Flat ground: Tobler at slope 0 is exp(-0.175) ≈ 0.84, so the
		// remaining ~3.8km takes ~3760s of the 3600s of daylight left.
		{"flat trail one hour of light", 0, time.Hour, LevelCritical},
		// At -5% grade the factor is 1.0 and the same walk takes ~3150s.
		{"gentle descent one hour of light", -0.05, time.Hour, LevelWarning},
		{"gentle descent ninety minutes", -0.05, 90 * time.Minute, LevelCaution},
		{"gentle descent three hours", -0.05, 3 * time.Hour, LevelSafe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := slopedTrail(t, 36, 111, tt.slope)
			e := New(Config{})
			require.NoError(t, e.Initialize(tr, calendarWithSunset(tt.sunsetOffset)))

			a := steadyWalk(t, e, 4)

			require.False(t, a.Degraded)
			assert.InDelta(t, 1.2, a.AverageSpeed, 0.01)

			// Recompute the projection from the formula.
			wantRemaining := a.RemainingDistanceMeters / (a.AverageSpeed * ToblerFactor(tt.slope))
			assert.InDelta(t, wantRemaining, a.RemainingTime.Seconds(), 1.0)

			wantMargin := a.TimeToSunset - a.RemainingTime
			assert.Equal(t, wantMargin, a.Margin)
			assert.Equal(t, tt.wantLevel, a.Level)
		})
	}
}

func TestEngine_MixedSlopeProjection(t *testing.T) {
	// Two legs: 1km climbing at 10%, then 1km flat. With no velocity
	// samples the default speed applies, so the expectation is exact.
	points := []trail.GeoPoint{
		{Latitude: 46.0, Longitude: 8.0, Altitude: 1000},
		{Latitude: 46.0 + 1000*latPerMeter, Longitude: 8.0, Altitude: 1100},
		{Latitude: 46.0 + 2000*latPerMeter, Longitude: 8.0, Altitude: 1100},
	}
	tr, err := trail.Build("t1", "Step", points, nil)
	require.NoError(t, err)

	e := New(Config{})
	require.NoError(t, e.Initialize(tr, calendarWithSunset(4*time.Hour)))

	a, err := e.UpdatePosition(fixAt(0, hikeStart))
	require.NoError(t, err)

	d0 := tr.Segments[0].DistanceMeters
	d1 := tr.Segments[1].DistanceMeters
	want := d0/(DefaultWalkingSpeed*ToblerFactor(tr.Segments[0].Slope)) +
		d1/(DefaultWalkingSpeed*ToblerFactor(tr.Segments[1].Slope))
	assert.InDelta(t, want, a.RemainingTime.Seconds(), 0.5)
}

func TestEngine_Probability(t *testing.T) {
	t.Run("monotonically non-decreasing in margin", func(t *testing.T) {
		tr := slopedTrail(t, 36, 111, 0)
		prev := -1.0
		for _, offset := range []time.Duration{30 * time.Minute, time.Hour, 2 * time.Hour, 4 * time.Hour, 8 * time.Hour} {
			e := New(Config{})
			require.NoError(t, e.Initialize(tr, calendarWithSunset(offset)))
			a, err := e.UpdatePosition(fixAt(0, hikeStart))
			require.NoError(t, err)

			assert.GreaterOrEqual(t, a.Probability, prev, "offset %s", offset)
			assert.GreaterOrEqual(t, a.Probability, 0.0)
			assert.LessOrEqual(t, a.Probability, 1.0)
			prev = a.Probability
		}
	})

	t.Run("exactly one at the finish even after sunset", func(t *testing.T) {
		tr := slopedTrail(t, 10, 111, 0)
		e := New(Config{})
		// Sunset already passed.
		require.NoError(t, e.Initialize(tr, calendarWithSunset(-time.Hour)))

		a, err := e.UpdatePosition(fixAt(1500, hikeStart))
		require.NoError(t, err)

		assert.Zero(t, a.RemainingTime)
		assert.Equal(t, 1.0, a.Probability)
	})

	t.Run("sigma floor keeps near-finish curve soft", func(t *testing.T) {
		// remaining 60s, margin 120s: sigma floors at 300 so the
		// probability stays well below a hard step.
		p := arrivalProbability(2*time.Minute, time.Minute)
		assert.Less(t, p, 0.9)
		assert.Greater(t, p, 0.5)
	})
}

func TestEngine_Cutoff(t *testing.T) {
	t.Run("picks the farthest boundary whose round trip fits", func(t *testing.T) {
		tr := slopedTrail(t, 10, 111, 0)
		e := New(Config{})
		// Daylight window after the buffer: 800s.
		require.NoError(t, e.Initialize(tr, calendarWithSunset(30*time.Minute+800*time.Second)))

		a, err := e.UpdatePosition(fixAt(890, hikeStart))
		require.NoError(t, err)
		require.NotEqual(t, LevelSafe, a.Level)
		require.NotNil(t, a.Cutoff)

		// Round trip to boundary i on flat ground costs
		// 2*i*step / (1.2 * tobler(0)) seconds; the farthest fit under
		// 800s is computed here the same way the engine does.
		effSpeed := DefaultWalkingSpeed * ToblerFactor(0)
		step := tr.Segments[0].DistanceMeters
		wantIdx := 0
		for i := a.SegmentIndex; i >= 0; i-- {
			if 2*float64(i)*step/effSpeed <= 800 {
				wantIdx = i
				break
			}
		}
		assert.Equal(t, wantIdx, a.Cutoff.SegmentIndex)
		assert.Greater(t, wantIdx, 0)
		assert.Less(t, wantIdx, a.SegmentIndex)

		assert.InDelta(t, float64(wantIdx)*step, a.Cutoff.DistanceFromStartMeters, 0.5)
		wantReturn := float64(wantIdx) * step / effSpeed
		assert.InDelta(t, wantReturn, a.Cutoff.ReturnTime.Seconds(), 1.0)
	})

	t.Run("exhausted window degrades to return now", func(t *testing.T) {
		tr := slopedTrail(t, 10, 111, 0)
		e := New(Config{})
		// Sunset in 10 minutes: the 30 minute buffer is already blown.
		require.NoError(t, e.Initialize(tr, calendarWithSunset(10*time.Minute)))

		a, err := e.UpdatePosition(fixAt(500, hikeStart))
		require.NoError(t, err)

		assert.Equal(t, LevelCritical, a.Level)
		assert.Nil(t, a.Cutoff)
		assert.Contains(t, a.Message, "Return to the trailhead now")
	})

	t.Run("safe level computes no cutoff", func(t *testing.T) {
		tr := slopedTrail(t, 10, 111, 0)
		e := New(Config{})
		require.NoError(t, e.Initialize(tr, calendarWithSunset(8*time.Hour)))

		a, err := e.UpdatePosition(fixAt(500, hikeStart))
		require.NoError(t, err)
		assert.Equal(t, LevelSafe, a.Level)
		assert.Nil(t, a.Cutoff)
	})
}

func TestEngine_DegradedEphemeris(t *testing.T) {
	tr := slopedTrail(t, 10, 111, 0)
	e := New(Config{})
	// Calendar covers June 21; the hike happens on the 23rd.
	require.NoError(t, e.Initialize(tr, calendarWithSunset(time.Hour)))

	a, err := e.UpdatePosition(fixAt(100, hikeStart.AddDate(0, 0, 2)))
	require.NoError(t, err)

	assert.True(t, a.Degraded)
	assert.Equal(t, LevelCaution, a.Level)
	assert.Equal(t, 0.5, a.Probability)
	assert.True(t, strings.Contains(a.Message, "unavailable"))
	assert.True(t, a.Sunset.IsZero())
}

func TestEngine_StationaryFlag(t *testing.T) {
	tr := slopedTrail(t, 10, 111, 0)
	e := New(Config{})
	require.NoError(t, e.Initialize(tr, calendarWithSunset(4*time.Hour)))

	assert.False(t, e.IsStationary(), "no fixes yet")

	_, err := e.UpdatePosition(fixAt(0, hikeStart))
	require.NoError(t, err)
	assert.False(t, e.IsStationary(), "single fix is not enough")

	_, err = e.UpdatePosition(fixAt(0.5, hikeStart.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, e.IsStationary())

	_, err = e.UpdatePosition(fixAt(80, hikeStart.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.False(t, e.IsStationary())
}

func TestEngine_Reset(t *testing.T) {
	tr := slopedTrail(t, 10, 111, 0)
	e := New(Config{})
	require.NoError(t, e.Initialize(tr, calendarWithSunset(4*time.Hour)))

	steadyWalk(t, e, 3)
	require.NotEmpty(t, e.samples)

	e.Reset()
	assert.Empty(t, e.samples)
	assert.Nil(t, e.lastFix)
	assert.False(t, e.IsStationary())

	// Still initialized: updates keep working.
	_, err := e.UpdatePosition(fixAt(0, hikeStart))
	assert.NoError(t, err)
}
