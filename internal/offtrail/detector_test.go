package offtrail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

const latPerMeter = 1.0 / 111194.93

// northTrail builds a straight trail running ~1.1km due north along lon 8.0.
func northTrail(t *testing.T) *trail.TrailData {
	t.Helper()
	points := make([]trail.GeoPoint, 11)
	for i := range points {
		points[i] = trail.GeoPoint{Latitude: 46.0 + float64(i)*0.001, Longitude: 8.0}
	}
	tr, err := trail.Build("t1", "North Line", points, nil)
	require.NoError(t, err)
	return tr
}

// fixEastOf returns a fix offset the given meters east of the trail line, at
// latitude 46.0005 (middle of the first segment).
func fixEastOf(meters float64, accuracy float64) trail.GeoPoint {
	return trail.GeoPoint{
		Latitude:  46.0005,
		Longitude: 8.0 + meters*latPerMeter/cosMidLat,
		Accuracy:  accuracy,
		Timestamp: time.Date(2025, 6, 21, 10, 0, 0, 0, time.UTC),
	}
}

// cosMidLat corrects the east offset for latitude 46.
const cosMidLat = 0.69466

func TestDetector_RequiresInitialize(t *testing.T) {
	d := New(Config{})
	_, err := d.CheckPosition(fixEastOf(0, 0))
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDetector_InitializeValidation(t *testing.T) {
	d := New(Config{})
	assert.ErrorIs(t, d.Initialize(nil), ErrNoTrail)

	tr := northTrail(t)
	tr.Segments[5].Start.Longitude += 0.02
	assert.ErrorIs(t, d.Initialize(tr), trail.ErrDiscontiguous)
}

func TestDetector_ExactlyKConfirmations(t *testing.T) {
	d := New(Config{})
	require.NoError(t, d.Initialize(northTrail(t)))

	// 100m east: well past the 60m corridor (50 base + 10 buffer).
	for i := 1; i < DefaultConfirmCount; i++ {
		st, err := d.CheckPosition(fixEastOf(100, 0))
		require.NoError(t, err)
		assert.False(t, st.OffTrail, "reading %d of %d must not assert", i, DefaultConfirmCount)
		assert.Equal(t, i, st.ConsecutiveOff)
		assert.Nil(t, st.ReturnVector)
	}

	st, err := d.CheckPosition(fixEastOf(100, 0))
	require.NoError(t, err)
	assert.True(t, st.OffTrail, "reading %d must assert", DefaultConfirmCount)
	assert.Equal(t, DefaultConfirmCount, st.ConsecutiveOff)
	require.NotNil(t, st.ReturnVector)
}

func TestDetector_SingleInRangeReadingResets(t *testing.T) {
	// Window of 1 makes the filtered deviation equal the raw one, so the
	// hysteresis semantics are visible without median lag.
	d := New(Config{MedianWindow: 1})
	require.NoError(t, d.Initialize(northTrail(t)))

	for i := 0; i < DefaultConfirmCount-1; i++ {
		st, err := d.CheckPosition(fixEastOf(100, 0))
		require.NoError(t, err)
		assert.False(t, st.OffTrail)
	}

	// One clean reading wipes the whole streak.
	st, err := d.CheckPosition(fixEastOf(0, 0))
	require.NoError(t, err)
	assert.False(t, st.OffTrail)
	assert.Zero(t, st.ConsecutiveOff)
	require.NotNil(t, st.LastOnTrail)
	assert.InDelta(t, 46.0005, st.LastOnTrail.Latitude, 1e-9)

	// The counter restarted from zero: K-1 bad readings do not assert,
	// the Kth does.
	for i := 0; i < DefaultConfirmCount-1; i++ {
		st, err = d.CheckPosition(fixEastOf(100, 0))
		require.NoError(t, err)
		assert.False(t, st.OffTrail)
	}
	st, err = d.CheckPosition(fixEastOf(100, 0))
	require.NoError(t, err)
	assert.True(t, st.OffTrail)
}

func TestDetector_RecoveryClearsAfterMedianDrains(t *testing.T) {
	d := New(Config{})
	require.NoError(t, d.Initialize(northTrail(t)))

	for i := 0; i < DefaultMedianWindow; i++ {
		_, err := d.CheckPosition(fixEastOf(100, 0))
		require.NoError(t, err)
	}
	require.True(t, d.off)

	// Walking back: the first reading whose filtered deviation is in
	// range clears the state in one step.
	var st *Status
	var err error
	for i := 0; i < DefaultMedianWindow; i++ {
		st, err = d.CheckPosition(fixEastOf(0, 0))
		require.NoError(t, err)
		if !st.OffTrail {
			break
		}
	}
	assert.False(t, st.OffTrail)
	assert.Zero(t, st.ConsecutiveOff)
	assert.Nil(t, st.ReturnVector)
}

func TestDetector_MedianSuppressesSpike(t *testing.T) {
	d := New(Config{})
	require.NoError(t, d.Initialize(northTrail(t)))

	_, err := d.CheckPosition(fixEastOf(0, 0))
	require.NoError(t, err)
	_, err = d.CheckPosition(fixEastOf(2, 0))
	require.NoError(t, err)

	// A single 500m multipath spike.
	st, err := d.CheckPosition(fixEastOf(500, 0))
	require.NoError(t, err)

	assert.False(t, st.OffTrail)
	assert.Zero(t, st.ConsecutiveOff, "median filter must absorb one spike")
	assert.InDelta(t, 2, st.DeviationMeters, 1.0)
	assert.InDelta(t, 500, st.RawDeviationMeters, 5.0)
}

func TestDetector_AccuracyWidensThreshold(t *testing.T) {
	d := New(Config{})
	require.NoError(t, d.Initialize(northTrail(t)))

	t.Run("70m off with sharp GPS is over threshold", func(t *testing.T) {
		st, err := d.CheckPosition(fixEastOf(70, 0))
		require.NoError(t, err)
		assert.InDelta(t, 60, st.ThresholdMeters, 0.001)
		assert.Equal(t, 1, st.ConsecutiveOff)
	})

	d.Reset()

	t.Run("70m off with 25m accuracy is within threshold", func(t *testing.T) {
		st, err := d.CheckPosition(fixEastOf(70, 25))
		require.NoError(t, err)
		assert.InDelta(t, 85, st.ThresholdMeters, 0.001)
		assert.Zero(t, st.ConsecutiveOff)
		assert.False(t, st.OffTrail)
	})
}

func TestDetector_ZeroDeviationIsOnTrail(t *testing.T) {
	d := New(Config{})
	require.NoError(t, d.Initialize(northTrail(t)))

	st, err := d.CheckPosition(fixEastOf(0, 5))
	require.NoError(t, err)

	assert.False(t, st.OffTrail)
	assert.Zero(t, st.ConsecutiveOff)
	assert.Nil(t, st.ReturnVector)
	assert.InDelta(t, 0, st.RawDeviationMeters, 0.5)
	require.NotNil(t, st.LastOnTrail)
	assert.InDelta(t, 46.0005, st.LastOnTrail.Latitude, 1e-9)
}

func TestDetector_ReturnVector(t *testing.T) {
	d := New(Config{})
	require.NoError(t, d.Initialize(northTrail(t)))

	var st *Status
	var err error
	for i := 0; i < DefaultConfirmCount; i++ {
		st, err = d.CheckPosition(fixEastOf(100, 0))
		require.NoError(t, err)
	}

	require.NotNil(t, st.ReturnVector)
	// The trail is due west of the hiker.
	assert.InDelta(t, 270, st.ReturnVector.BearingDegrees, 2.0)
	assert.InDelta(t, 100, st.ReturnVector.DistanceMeters, 2.0)
	assert.InDelta(t, 8.0, st.ReturnVector.Target.Longitude, 1e-4)
	assert.Equal(t, st.SegmentIndex, st.ReturnVector.SegmentIndex)
}

func TestDetector_Confidence(t *testing.T) {
	t.Run("grows as the window fills", func(t *testing.T) {
		d := New(Config{})
		require.NoError(t, d.Initialize(northTrail(t)))

		prev := -1.0
		for i := 0; i < DefaultMedianWindow; i++ {
			st, err := d.CheckPosition(fixEastOf(0, 5))
			require.NoError(t, err)
			assert.Greater(t, st.Confidence, prev, "reading %d", i)
			prev = st.Confidence
		}
		// Full window, 5m accuracy: 0.95 * 1.0.
		assert.InDelta(t, 0.95, prev, 1e-9)
	})

	t.Run("worse accuracy lowers confidence", func(t *testing.T) {
		sharp := New(Config{})
		require.NoError(t, sharp.Initialize(northTrail(t)))
		coarse := New(Config{})
		require.NoError(t, coarse.Initialize(northTrail(t)))

		var sharpSt, coarseSt *Status
		var err error
		for i := 0; i < DefaultMedianWindow; i++ {
			sharpSt, err = sharp.CheckPosition(fixEastOf(0, 5))
			require.NoError(t, err)
			coarseSt, err = coarse.CheckPosition(fixEastOf(0, 40))
			require.NoError(t, err)
		}
		assert.Greater(t, sharpSt.Confidence, coarseSt.Confidence)
	})

	t.Run("confirmation boost applies once fired and clamps at one", func(t *testing.T) {
		d := New(Config{})
		require.NoError(t, d.Initialize(northTrail(t)))

		var before, after *Status
		var err error
		for i := 0; i < DefaultConfirmCount-1; i++ {
			before, err = d.CheckPosition(fixEastOf(100, 5))
			require.NoError(t, err)
		}
		after, err = d.CheckPosition(fixEastOf(100, 5))
		require.NoError(t, err)

		require.False(t, before.OffTrail)
		require.True(t, after.OffTrail)
		assert.Greater(t, after.Confidence, before.Confidence)
		assert.LessOrEqual(t, after.Confidence, 1.0)
	})
}

func TestDetector_Reset(t *testing.T) {
	d := New(Config{})
	require.NoError(t, d.Initialize(northTrail(t)))

	for i := 0; i < DefaultConfirmCount; i++ {
		_, err := d.CheckPosition(fixEastOf(100, 0))
		require.NoError(t, err)
	}
	require.True(t, d.off)

	d.Reset()
	assert.False(t, d.off)
	assert.Zero(t, d.consecutive)
	assert.Empty(t, d.window)
	assert.Nil(t, d.lastOnTrail)

	st, err := d.CheckPosition(fixEastOf(0, 0))
	require.NoError(t, err)
	assert.False(t, st.OffTrail)
}
