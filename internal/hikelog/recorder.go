package hikelog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	// SQLite driver for the on-device hike log.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/GalSened/RoamWise-sub002/internal/trail"
	"github.com/GalSened/RoamWise-sub002/pkg/geo"
)

// Recorder persists hike sessions to a SQLite database file. Writes are
// serialized over a single connection so sequence numbers assigned by
// subqueries cannot race.
type Recorder struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewRecorder opens the hike log database at path, creating the file and
// schema when missing.
func NewRecorder(path string, logger zerolog.Logger) (*Recorder, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening hike log: %w", err)
	}

	// Single connection: one process owns the file and writes serially.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			trail_id      TEXT NOT NULL,
			started_at    TIMESTAMP NOT NULL,
			ended_at      TIMESTAMP,
			distance_m    REAL NOT NULL DEFAULT 0,
			moving_secs   REAL NOT NULL DEFAULT 0,
			avg_speed_mps REAL NOT NULL DEFAULT 0,
			max_speed_mps REAL NOT NULL DEFAULT 0,
			ascent_m      REAL NOT NULL DEFAULT 0,
			descent_m     REAL NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS track_points (
			session_id  TEXT NOT NULL,
			seq         INTEGER NOT NULL,
			latitude    REAL NOT NULL,
			longitude   REAL NOT NULL,
			altitude    REAL NOT NULL DEFAULT 0,
			accuracy    REAL NOT NULL DEFAULT 0,
			speed_mps   REAL NOT NULL DEFAULT 0,
			recorded_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, seq)
		);

		CREATE TABLE IF NOT EXISTS session_alerts (
			session_id TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			type       TEXT NOT NULL,
			severity   TEXT NOT NULL,
			title      TEXT NOT NULL,
			message    TEXT NOT NULL,
			raised_at  TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, seq)
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating hike log schema: %w", err)
	}

	return &Recorder{
		db:     db,
		logger: logger.With().Str("component", "hikelog").Logger(),
	}, nil
}

// Begin opens a new session. Session IDs are unique; reusing one is an error.
func (r *Recorder) Begin(sessionID, trailID string, startedAt time.Time) error {
	if sessionID == "" {
		return errors.New("session id required")
	}

	query := `INSERT INTO sessions (id, trail_id, started_at) VALUES (?, ?, ?)`
	if _, err := r.db.Exec(query, sessionID, trailID, startedAt); err != nil {
		return fmt.Errorf("beginning session %s: %w", sessionID, err)
	}

	r.logger.Info().
		Str("session_id", sessionID).
		Str("trail_id", trailID).
		Msg("hike session started")
	return nil
}

// Point appends a GPS fix to the session track. A zero timestamp on the
// point is replaced with the current time.
func (r *Recorder) Point(sessionID string, p trail.GeoPoint, speedMps float64) error {
	at := p.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	query := `
		INSERT INTO track_points (session_id, seq, latitude, longitude, altitude, accuracy, speed_mps, recorded_at)
		VALUES (?, (SELECT COALESCE(MAX(seq) + 1, 0) FROM track_points WHERE session_id = ?), ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, sessionID, sessionID,
		p.Latitude, p.Longitude, p.Altitude, p.Accuracy, speedMps, at)
	if err != nil {
		return fmt.Errorf("recording track point: %w", err)
	}
	return nil
}

// Alert appends a raised alert to the session.
func (r *Recorder) Alert(sessionID string, a AlertRecord) error {
	query := `
		INSERT INTO session_alerts (session_id, seq, type, severity, title, message, raised_at)
		VALUES (?, (SELECT COALESCE(MAX(seq) + 1, 0) FROM session_alerts WHERE session_id = ?), ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, sessionID, sessionID,
		a.Type, a.Severity, a.Title, a.Message, a.RaisedAt)
	if err != nil {
		return fmt.Errorf("recording alert: %w", err)
	}
	return nil
}

// Finish closes the session at endedAt, computes the summary from the
// recorded track and stores it on the session row.
func (r *Recorder) Finish(sessionID string, endedAt time.Time) (Summary, error) {
	var s Summary
	err := r.db.QueryRow(
		`SELECT id, trail_id, started_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&s.SessionID, &s.TrailID, &s.StartedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Summary{}, ErrSessionNotFound
		}
		return Summary{}, fmt.Errorf("loading session %s: %w", sessionID, err)
	}

	points, err := r.TrackPoints(sessionID)
	if err != nil {
		return Summary{}, err
	}

	s.EndedAt = endedAt
	s.ElapsedTime = endedAt.Sub(s.StartedAt)
	s.Points = len(points)

	var movingSecs float64
	for i, p := range points {
		if p.SpeedMps > s.MaxSpeedMps {
			s.MaxSpeedMps = p.SpeedMps
		}
		if i == 0 {
			continue
		}
		prev := points[i-1]
		s.DistanceMeters += geo.Haversine(prev.Latitude, prev.Longitude, p.Latitude, p.Longitude)
		if dz := p.Altitude - prev.Altitude; dz > 0 {
			s.AscentMeters += dz
		} else {
			s.DescentMeters -= dz
		}
		if p.SpeedMps >= MovingSpeedFloor {
			movingSecs += p.RecordedAt.Sub(prev.RecordedAt).Seconds()
		}
	}
	s.MovingTime = time.Duration(movingSecs * float64(time.Second))
	if movingSecs > 0 {
		s.AvgSpeedMps = s.DistanceMeters / movingSecs
	}

	err = r.db.QueryRow(
		`SELECT COUNT(*) FROM session_alerts WHERE session_id = ?`, sessionID,
	).Scan(&s.Alerts)
	if err != nil {
		return Summary{}, fmt.Errorf("counting alerts: %w", err)
	}

	query := `
		UPDATE sessions
		SET ended_at = ?, distance_m = ?, moving_secs = ?, avg_speed_mps = ?,
		    max_speed_mps = ?, ascent_m = ?, descent_m = ?
		WHERE id = ?
	`
	_, err = r.db.Exec(query, endedAt, s.DistanceMeters, movingSecs,
		s.AvgSpeedMps, s.MaxSpeedMps, s.AscentMeters, s.DescentMeters, sessionID)
	if err != nil {
		return Summary{}, fmt.Errorf("finalizing session %s: %w", sessionID, err)
	}

	r.logger.Info().
		Str("session_id", sessionID).
		Float64("distance_m", s.DistanceMeters).
		Dur("elapsed", s.ElapsedTime).
		Int("points", s.Points).
		Int("alerts", s.Alerts).
		Msg("hike session finished")
	return s, nil
}

// SessionSummary loads the stored summary of a finished session.
func (r *Recorder) SessionSummary(sessionID string) (Summary, error) {
	var (
		s          Summary
		endedAt    sql.NullTime
		movingSecs float64
	)
	err := r.db.QueryRow(`
		SELECT id, trail_id, started_at, ended_at, distance_m, moving_secs,
		       avg_speed_mps, max_speed_mps, ascent_m, descent_m
		FROM sessions
		WHERE id = ?
	`, sessionID).Scan(&s.SessionID, &s.TrailID, &s.StartedAt, &endedAt,
		&s.DistanceMeters, &movingSecs, &s.AvgSpeedMps, &s.MaxSpeedMps,
		&s.AscentMeters, &s.DescentMeters)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Summary{}, ErrSessionNotFound
		}
		return Summary{}, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	if !endedAt.Valid {
		return Summary{}, ErrSessionOpen
	}

	s.EndedAt = endedAt.Time
	s.ElapsedTime = s.EndedAt.Sub(s.StartedAt)
	s.MovingTime = time.Duration(movingSecs * float64(time.Second))

	err = r.db.QueryRow(
		`SELECT COUNT(*) FROM track_points WHERE session_id = ?`, sessionID,
	).Scan(&s.Points)
	if err != nil {
		return Summary{}, fmt.Errorf("counting track points: %w", err)
	}
	err = r.db.QueryRow(
		`SELECT COUNT(*) FROM session_alerts WHERE session_id = ?`, sessionID,
	).Scan(&s.Alerts)
	if err != nil {
		return Summary{}, fmt.Errorf("counting alerts: %w", err)
	}
	return s, nil
}

// TrackPoints returns the session track ordered by sequence.
func (r *Recorder) TrackPoints(sessionID string) ([]TrackPoint, error) {
	rows, err := r.db.Query(`
		SELECT seq, latitude, longitude, altitude, accuracy, speed_mps, recorded_at
		FROM track_points
		WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading track points: %w", err)
	}
	defer rows.Close()

	var points []TrackPoint
	for rows.Next() {
		var p TrackPoint
		err := rows.Scan(&p.Seq, &p.Latitude, &p.Longitude, &p.Altitude,
			&p.Accuracy, &p.SpeedMps, &p.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning track point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Alerts returns the session alerts in the order they were raised.
func (r *Recorder) Alerts(sessionID string) ([]AlertRecord, error) {
	rows, err := r.db.Query(`
		SELECT type, severity, title, message, raised_at
		FROM session_alerts
		WHERE session_id = ?
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading alerts: %w", err)
	}
	defer rows.Close()

	var alerts []AlertRecord
	for rows.Next() {
		var a AlertRecord
		if err := rows.Scan(&a.Type, &a.Severity, &a.Title, &a.Message, &a.RaisedAt); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	return r.db.Close()
}
