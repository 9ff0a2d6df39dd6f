package hikelog

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

// csvHeader is the column layout of a track export.
var csvHeader = []string{"seq", "latitude", "longitude", "altitude_m", "accuracy_m", "speed_mps", "recorded_at"}

// WriteCSV streams the session track to w as CSV, one row per fix.
func (r *Recorder) WriteCSV(w io.Writer, sessionID string) error {
	var one int
	err := r.db.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if err != nil {
		return ErrSessionNotFound
	}

	points, err := r.TrackPoints(sessionID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, p := range points {
		record := []string{
			strconv.Itoa(p.Seq),
			strconv.FormatFloat(p.Latitude, 'f', 6, 64),
			strconv.FormatFloat(p.Longitude, 'f', 6, 64),
			strconv.FormatFloat(p.Altitude, 'f', 1, 64),
			strconv.FormatFloat(p.Accuracy, 'f', 1, 64),
			strconv.FormatFloat(p.SpeedMps, 'f', 2, 64),
			p.RecordedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}

// WriteXLSX exports a finished session to an Excel workbook at path with
// Summary, Track and Alerts sheets.
func (r *Recorder) WriteXLSX(path, sessionID string) error {
	summary, err := r.SessionSummary(sessionID)
	if err != nil {
		return err
	}
	points, err := r.TrackPoints(sessionID)
	if err != nil {
		return err
	}
	alerts, err := r.Alerts(sessionID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return fmt.Errorf("naming summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F5597"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	labelStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		return fmt.Errorf("creating label style: %w", err)
	}

	if err := r.writeSummarySheet(f, summary, labelStyle); err != nil {
		return err
	}
	if err := r.writeTrackSheet(f, points, headerStyle); err != nil {
		return err
	}
	if err := r.writeAlertsSheet(f, alerts, headerStyle); err != nil {
		return err
	}

	idx, err := f.GetSheetIndex("Summary")
	if err == nil {
		f.SetActiveSheet(idx)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}

	r.logger.Info().
		Str("session_id", sessionID).
		Str("path", path).
		Int("points", len(points)).
		Msg("session exported")
	return nil
}

func (r *Recorder) writeSummarySheet(f *excelize.File, s Summary, labelStyle int) error {
	rows := [][]interface{}{
		{"Session", s.SessionID},
		{"Trail", s.TrailID},
		{"Started", s.StartedAt.Format(time.RFC3339)},
		{"Ended", s.EndedAt.Format(time.RFC3339)},
		{"Distance (km)", s.DistanceMeters / 1000},
		{"Elapsed", s.ElapsedTime.Round(time.Second).String()},
		{"Moving time", s.MovingTime.Round(time.Second).String()},
		{"Avg speed (m/s)", s.AvgSpeedMps},
		{"Max speed (m/s)", s.MaxSpeedMps},
		{"Ascent (m)", s.AscentMeters},
		{"Descent (m)", s.DescentMeters},
		{"Track points", s.Points},
		{"Alerts", s.Alerts},
	}
	for i := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		if err := f.SetSheetRow("Summary", cell, &rows[i]); err != nil {
			return fmt.Errorf("writing summary row: %w", err)
		}
	}
	if err := f.SetCellStyle("Summary", "A1", fmt.Sprintf("A%d", len(rows)), labelStyle); err != nil {
		return fmt.Errorf("styling summary labels: %w", err)
	}
	return f.SetColWidth("Summary", "A", "B", 18)
}

func (r *Recorder) writeTrackSheet(f *excelize.File, points []TrackPoint, headerStyle int) error {
	if _, err := f.NewSheet("Track"); err != nil {
		return fmt.Errorf("creating track sheet: %w", err)
	}

	header := []interface{}{"Seq", "Latitude", "Longitude", "Altitude (m)", "Accuracy (m)", "Speed (m/s)", "Recorded at"}
	if err := f.SetSheetRow("Track", "A1", &header); err != nil {
		return fmt.Errorf("writing track header: %w", err)
	}
	if err := f.SetCellStyle("Track", "A1", "G1", headerStyle); err != nil {
		return fmt.Errorf("styling track header: %w", err)
	}
	for i, p := range points {
		row := []interface{}{
			p.Seq, p.Latitude, p.Longitude, p.Altitude, p.Accuracy,
			p.SpeedMps, p.RecordedAt.Format(time.RFC3339),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow("Track", cell, &row); err != nil {
			return fmt.Errorf("writing track row: %w", err)
		}
	}
	return f.SetColWidth("Track", "A", "G", 14)
}

func (r *Recorder) writeAlertsSheet(f *excelize.File, alerts []AlertRecord, headerStyle int) error {
	if _, err := f.NewSheet("Alerts"); err != nil {
		return fmt.Errorf("creating alerts sheet: %w", err)
	}

	header := []interface{}{"Type", "Severity", "Title", "Message", "Raised at"}
	if err := f.SetSheetRow("Alerts", "A1", &header); err != nil {
		return fmt.Errorf("writing alerts header: %w", err)
	}
	if err := f.SetCellStyle("Alerts", "A1", "E1", headerStyle); err != nil {
		return fmt.Errorf("styling alerts header: %w", err)
	}
	for i, a := range alerts {
		row := []interface{}{a.Type, a.Severity, a.Title, a.Message, a.RaisedAt.Format(time.RFC3339)}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow("Alerts", cell, &row); err != nil {
			return fmt.Errorf("writing alert row: %w", err)
		}
	}
	return f.SetColWidth("Alerts", "A", "E", 20)
}
