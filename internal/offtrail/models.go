// Package offtrail implements the off-trail detector: it measures the
// deviation of each GPS fix from the trail corridor, filters out GPS noise
// with a median window, and asserts an off-trail state only after several
// consecutive confirmations, with a return vector pointing back to the trail.
package offtrail

import (
	"errors"

	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// Predefined detector errors.
var (
	// ErrNotInitialized is returned when the detector is used before
	// Initialize.
	ErrNotInitialized = errors.New("off-trail detector not initialized")

	// ErrNoTrail is returned when Initialize is called without a trail.
	ErrNoTrail = errors.New("off-trail detector requires a trail")
)

// ReturnVector points from the current position back to the nearest point on
// the trail.
type ReturnVector struct {
	BearingDegrees float64        `json:"bearing_degrees"`
	DistanceMeters float64        `json:"distance_meters"`
	Target         trail.GeoPoint `json:"target"`
	SegmentIndex   int            `json:"segment_index"`
}

// Status is the detector's verdict for a single GPS fix.
type Status struct {
	// OffTrail is true only after the hysteresis count has confirmed the
	// deviation.
	OffTrail bool `json:"off_trail"`

	// DeviationMeters is the median-filtered deviation the decision used;
	// RawDeviationMeters is this fix's unfiltered distance to the trail.
	DeviationMeters    float64 `json:"deviation_meters"`
	RawDeviationMeters float64 `json:"raw_deviation_meters"`

	// ConsecutiveOff counts over-threshold readings in a row.
	ConsecutiveOff int `json:"consecutive_off"`

	// ThresholdMeters is the effective corridor width for this fix
	// (base + GPS buffer + reported accuracy).
	ThresholdMeters float64 `json:"threshold_meters"`

	// SegmentIndex is the nearest trail segment.
	SegmentIndex int `json:"segment_index"`

	// Confidence grades how trustworthy the verdict is, in [0, 1].
	Confidence float64 `json:"confidence"`

	// ReturnVector is set only while off-trail.
	ReturnVector *ReturnVector `json:"return_vector,omitempty"`

	// LastOnTrail is the most recent fix that was within the corridor.
	LastOnTrail *trail.GeoPoint `json:"last_on_trail,omitempty"`
}
