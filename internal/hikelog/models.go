// Package hikelog records hike sessions to on-device SQLite: the GPS track,
// every raised alert, and a summary computed when the session finishes, with
// CSV and XLSX export for post-hike review.
package hikelog

import (
	"errors"
	"time"
)

// Predefined hike log errors.
var (
	// ErrSessionNotFound is returned when no session has the given id.
	ErrSessionNotFound = errors.New("hike session not found")

	// ErrSessionOpen is returned when an operation needs a finished
	// session.
	ErrSessionOpen = errors.New("hike session not finished")
)

// MovingSpeedFloor is the speed in m/s at or above which a track point
// counts toward moving time. Below it the hiker is resting or the GPS is
// jittering in place.
const MovingSpeedFloor = 0.3

// TrackPoint is one recorded GPS fix of a session.
type TrackPoint struct {
	Seq        int       `json:"seq"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   float64   `json:"altitude"`
	Accuracy   float64   `json:"accuracy"`
	SpeedMps   float64   `json:"speed_mps"`
	RecordedAt time.Time `json:"recorded_at"`
}

// AlertRecord is one alert raised during a session, flattened for storage.
type AlertRecord struct {
	Type     string    `json:"type"`
	Severity string    `json:"severity"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	RaisedAt time.Time `json:"raised_at"`
}

// Summary aggregates a finished session.
type Summary struct {
	SessionID string    `json:"session_id"`
	TrailID   string    `json:"trail_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	DistanceMeters float64       `json:"distance_meters"`
	ElapsedTime    time.Duration `json:"elapsed_time"`
	MovingTime     time.Duration `json:"moving_time"`

	// AvgSpeedMps is the moving average: distance over moving time.
	AvgSpeedMps float64 `json:"avg_speed_mps"`
	MaxSpeedMps float64 `json:"max_speed_mps"`

	AscentMeters  float64 `json:"ascent_meters"`
	DescentMeters float64 `json:"descent_meters"`

	Points int `json:"points"`
	Alerts int `json:"alerts"`
}
