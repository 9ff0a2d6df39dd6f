package hikelog_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GalSened/RoamWise-sub002/internal/hikelog"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
	"github.com/GalSened/RoamWise-sub002/pkg/geo"
)

var trackStart = time.Date(2025, time.June, 14, 8, 0, 0, 0, time.UTC)

func newRecorder(t *testing.T) *hikelog.Recorder {
	t.Helper()

	rec, err := hikelog.NewRecorder(filepath.Join(t.TempDir(), "hikelog.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })
	return rec
}

// recordTrack writes five fixes spaced 100m north and one minute apart.
// The third hop is below the moving speed floor, so moving time covers
// three of the four hops.
func recordTrack(t *testing.T, rec *hikelog.Recorder, sessionID string) {
	t.Helper()

	step := geo.KmToDegreesLat(0.1)
	speeds := []float64{0, 1.67, 1.67, 0.1, 1.67}
	altitudes := []float64{1200, 1210, 1220, 1215, 1220}

	for i := 0; i < 5; i++ {
		p := trail.GeoPoint{
			Latitude:  46.0 + float64(i)*step,
			Longitude: 8.0,
			Altitude:  altitudes[i],
			Accuracy:  5,
			Timestamp: trackStart.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, rec.Point(sessionID, p, speeds[i]))
	}
}

func TestRecorder_FinishComputesSummary(t *testing.T) {
	rec := newRecorder(t)

	require.NoError(t, rec.Begin("s-1", "monte-rosa-7", trackStart))
	recordTrack(t, rec, "s-1")
	require.NoError(t, rec.Alert("s-1", hikelog.AlertRecord{
		Type:     "off_trail",
		Severity: "warning",
		Title:    "Off trail",
		Message:  "62m from the trail",
		RaisedAt: trackStart.Add(2 * time.Minute),
	}))
	require.NoError(t, rec.Alert("s-1", hikelog.AlertRecord{
		Type:     "sunset_warning",
		Severity: "info",
		Title:    "Sunset approaching",
		Message:  "90 minutes of light left",
		RaisedAt: trackStart.Add(4 * time.Minute),
	}))

	ended := trackStart.Add(10 * time.Minute)
	summary, err := rec.Finish("s-1", ended)
	require.NoError(t, err)

	assert.Equal(t, "s-1", summary.SessionID)
	assert.Equal(t, "monte-rosa-7", summary.TrailID)
	assert.WithinDuration(t, trackStart, summary.StartedAt, time.Second)
	assert.True(t, summary.EndedAt.Equal(ended))

	assert.InDelta(t, 400, summary.DistanceMeters, 0.5)
	assert.Equal(t, 10*time.Minute, summary.ElapsedTime)
	assert.Equal(t, 3*time.Minute, summary.MovingTime)
	assert.InDelta(t, 400.0/180.0, summary.AvgSpeedMps, 0.01)
	assert.InDelta(t, 1.67, summary.MaxSpeedMps, 0.0001)
	assert.InDelta(t, 25, summary.AscentMeters, 0.001)
	assert.InDelta(t, 5, summary.DescentMeters, 0.001)
	assert.Equal(t, 5, summary.Points)
	assert.Equal(t, 2, summary.Alerts)
}

func TestRecorder_FinishMissingSession(t *testing.T) {
	rec := newRecorder(t)

	_, err := rec.Finish("ghost", time.Now())
	assert.ErrorIs(t, err, hikelog.ErrSessionNotFound)
}

func TestRecorder_FinishEmptySession(t *testing.T) {
	rec := newRecorder(t)

	require.NoError(t, rec.Begin("s-empty", "monte-rosa-7", trackStart))

	summary, err := rec.Finish("s-empty", trackStart.Add(time.Minute))
	require.NoError(t, err)

	assert.Zero(t, summary.DistanceMeters)
	assert.Zero(t, summary.MovingTime)
	assert.Zero(t, summary.AvgSpeedMps)
	assert.Zero(t, summary.Points)
	assert.Equal(t, time.Minute, summary.ElapsedTime)
}

func TestRecorder_BeginDuplicateSession(t *testing.T) {
	rec := newRecorder(t)

	require.NoError(t, rec.Begin("s-1", "monte-rosa-7", trackStart))
	assert.Error(t, rec.Begin("s-1", "monte-rosa-7", trackStart))
}

func TestRecorder_BeginRequiresSessionID(t *testing.T) {
	rec := newRecorder(t)

	assert.Error(t, rec.Begin("", "monte-rosa-7", trackStart))
}

func TestRecorder_PointDefaultsTimestamp(t *testing.T) {
	rec := newRecorder(t)

	require.NoError(t, rec.Begin("s-1", "monte-rosa-7", trackStart))
	require.NoError(t, rec.Point("s-1", trail.GeoPoint{Latitude: 46.0, Longitude: 8.0}, 1.2))

	points, err := rec.TrackPoints("s-1")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.WithinDuration(t, time.Now(), points[0].RecordedAt, 5*time.Second)
}

func TestRecorder_TrackPointsOrdered(t *testing.T) {
	rec := newRecorder(t)

	require.NoError(t, rec.Begin("s-1", "monte-rosa-7", trackStart))
	recordTrack(t, rec, "s-1")

	points, err := rec.TrackPoints("s-1")
	require.NoError(t, err)
	require.Len(t, points, 5)

	for i, p := range points {
		assert.Equal(t, i, p.Seq)
		if i > 0 {
			assert.Greater(t, p.Latitude, points[i-1].Latitude)
		}
	}
}

func TestRecorder_AlertsOrdered(t *testing.T) {
	rec := newRecorder(t)

	require.NoError(t, rec.Begin("s-1", "monte-rosa-7", trackStart))
	for i, typ := range []string{"off_trail", "sunset_warning", "low_battery"} {
		require.NoError(t, rec.Alert("s-1", hikelog.AlertRecord{
			Type:     typ,
			Severity: "warning",
			Title:    typ,
			Message:  typ,
			RaisedAt: trackStart.Add(time.Duration(i) * time.Minute),
		}))
	}

	alerts, err := rec.Alerts("s-1")
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, "off_trail", alerts[0].Type)
	assert.Equal(t, "sunset_warning", alerts[1].Type)
	assert.Equal(t, "low_battery", alerts[2].Type)
}

func TestRecorder_SessionSummary(t *testing.T) {
	rec := newRecorder(t)

	require.NoError(t, rec.Begin("s-1", "monte-rosa-7", trackStart))
	recordTrack(t, rec, "s-1")

	t.Run("open session", func(t *testing.T) {
		_, err := rec.SessionSummary("s-1")
		assert.ErrorIs(t, err, hikelog.ErrSessionOpen)
	})

	t.Run("missing session", func(t *testing.T) {
		_, err := rec.SessionSummary("ghost")
		assert.ErrorIs(t, err, hikelog.ErrSessionNotFound)
	})

	t.Run("finished session", func(t *testing.T) {
		finished, err := rec.Finish("s-1", trackStart.Add(10*time.Minute))
		require.NoError(t, err)

		stored, err := rec.SessionSummary("s-1")
		require.NoError(t, err)

		assert.Equal(t, finished.SessionID, stored.SessionID)
		assert.InDelta(t, finished.DistanceMeters, stored.DistanceMeters, 0.001)
		assert.Equal(t, finished.MovingTime, stored.MovingTime)
		assert.Equal(t, finished.ElapsedTime, stored.ElapsedTime)
		assert.Equal(t, finished.Points, stored.Points)
		assert.Equal(t, finished.Alerts, stored.Alerts)
	})
}

func TestRecorder_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hikelog.db")

	rec, err := hikelog.NewRecorder(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, rec.Begin("s-1", "monte-rosa-7", trackStart))
	recordTrack(t, rec, "s-1")
	require.NoError(t, rec.Close())

	reopened, err := hikelog.NewRecorder(path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	summary, err := reopened.Finish("s-1", trackStart.Add(10*time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, 400, summary.DistanceMeters, 0.5)
	assert.Equal(t, 5, summary.Points)
}
