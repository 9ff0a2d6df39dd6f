// Package sunset implements the sunset safety engine: it estimates hiking
// velocity from recent GPS fixes, projects the terrain-adjusted time to finish
// the trail, compares it against the remaining daylight, and grades the
// result into alert levels with a turn-back recommendation when daylight
// gets tight.
package sunset

import (
	"errors"
	"time"

	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// Predefined engine errors.
var (
	// ErrNotInitialized is returned when the engine is used before
	// Initialize.
	ErrNotInitialized = errors.New("sunset engine not initialized")

	// ErrNoTrail is returned when Initialize is called without a trail.
	ErrNoTrail = errors.New("sunset engine requires a trail")
)

// AlertLevel grades how much daylight margin remains.
type AlertLevel string

// Alert levels ordered from relaxed to urgent.
const (
	LevelSafe     AlertLevel = "safe"
	LevelCaution  AlertLevel = "caution"
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// CutoffPoint is the last trail boundary where turning around still fits the
// daylight window.
type CutoffPoint struct {
	Position                trail.GeoPoint `json:"position"`
	SegmentIndex            int            `json:"segment_index"`
	DistanceFromStartMeters float64        `json:"distance_from_start_meters"`

	// ReturnTime is the estimated slope-reversed walk back to the
	// trailhead from this point.
	ReturnTime time.Duration `json:"return_time"`
}

// Assessment is the engine's verdict for a single GPS fix.
type Assessment struct {
	// GeneratedAt is the fix timestamp the assessment was computed for.
	GeneratedAt time.Time `json:"generated_at"`

	// ETA is the projected finish time at the current pace.
	ETA time.Time `json:"eta"`

	RemainingDistanceMeters float64       `json:"remaining_distance_meters"`
	RemainingTime           time.Duration `json:"remaining_time"`

	// Sunset, TimeToSunset and Margin are zero when Degraded is set.
	Sunset       time.Time     `json:"sunset,omitempty"`
	TimeToSunset time.Duration `json:"time_to_sunset"`
	Margin       time.Duration `json:"margin"`

	Level AlertLevel `json:"level"`

	// Probability is the chance of finishing before sunset, in [0, 1].
	Probability float64 `json:"probability"`

	// AverageSpeed is the smoothed walking speed in m/s that the
	// projection used.
	AverageSpeed float64 `json:"average_speed"`

	// SegmentIndex locates the hiker on the trail.
	SegmentIndex int `json:"segment_index"`

	// Cutoff is the suggested turn-back point; nil when the level is safe
	// or the daylight window is already exhausted.
	Cutoff *CutoffPoint `json:"cutoff,omitempty"`

	// Degraded marks an assessment computed without ephemeris data.
	Degraded bool `json:"degraded,omitempty"`

	Message string `json:"message"`
}
