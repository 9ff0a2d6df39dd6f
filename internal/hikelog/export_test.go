package hikelog_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/GalSened/RoamWise-sub002/internal/hikelog"
)

func TestRecorder_WriteCSV(t *testing.T) {
	rec := newRecorder(t)

	require.NoError(t, rec.Begin("s-1", "monte-rosa-7", trackStart))
	recordTrack(t, rec, "s-1")

	var buf bytes.Buffer
	require.NoError(t, rec.WriteCSV(&buf, "s-1"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)

	assert.Equal(t, "seq,latitude,longitude,altitude_m,accuracy_m,speed_mps,recorded_at", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0,46.000000,8.000000,1200.0,5.0,0.00,"), lines[1])
	assert.True(t, strings.HasSuffix(lines[1], trackStart.Format(time.RFC3339)), lines[1])
}

func TestRecorder_WriteCSVEmptyTrack(t *testing.T) {
	rec := newRecorder(t)

	require.NoError(t, rec.Begin("s-empty", "monte-rosa-7", trackStart))

	var buf bytes.Buffer
	require.NoError(t, rec.WriteCSV(&buf, "s-empty"))
	assert.Equal(t, "seq,latitude,longitude,altitude_m,accuracy_m,speed_mps,recorded_at", strings.TrimSpace(buf.String()))
}

func TestRecorder_WriteCSVMissingSession(t *testing.T) {
	rec := newRecorder(t)

	var buf bytes.Buffer
	assert.ErrorIs(t, rec.WriteCSV(&buf, "ghost"), hikelog.ErrSessionNotFound)
}

func TestRecorder_WriteXLSX(t *testing.T) {
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
	_, err := rec.Finish("s-1", trackStart.Add(10*time.Minute))
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "hike.xlsx")
	require.NoError(t, rec.WriteXLSX(out, "s-1"))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()

	session, err := f.GetCellValue("Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", session)

	trailID, err := f.GetCellValue("Summary", "B2")
	require.NoError(t, err)
	assert.Equal(t, "monte-rosa-7", trailID)

	track, err := f.GetRows("Track")
	require.NoError(t, err)
	require.Len(t, track, 6)
	assert.Equal(t, []string{"Seq", "Latitude", "Longitude", "Altitude (m)", "Accuracy (m)", "Speed (m/s)", "Recorded at"}, track[0])
	assert.Equal(t, "0", track[1][0])

	alerts, err := f.GetRows("Alerts")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "off_trail", alerts[1][0])
	assert.Equal(t, "warning", alerts[1][1])
}

func TestRecorder_WriteXLSXRequiresFinishedSession(t *testing.T) {
	rec := newRecorder(t)

	require.NoError(t, rec.Begin("s-open", "monte-rosa-7", trackStart))

	out := filepath.Join(t.TempDir(), "hike.xlsx")
	assert.ErrorIs(t, rec.WriteXLSX(out, "s-open"), hikelog.ErrSessionOpen)
}
