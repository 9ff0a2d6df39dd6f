// Package trail defines the trail domain model shared by the safety engines:
// GPS fixes, trail segments with precomputed distance and slope, and the
// queries the engines run against a trail (nearest segment, remaining
// distance).
package trail

import (
	"errors"
	"time"

	"github.com/GalSened/RoamWise-sub002/pkg/geo"
)

// Predefined trail errors.
var (
	// ErrTooFewPoints is returned when a trail is built from fewer than
	// two distinct points.
	ErrTooFewPoints = errors.New("trail requires at least two distinct points")

	// ErrNoSegments is returned when validating a trail with no segments.
	ErrNoSegments = errors.New("trail has no segments")

	// ErrDiscontiguous is returned when consecutive segments do not join.
	ErrDiscontiguous = errors.New("trail segments are not contiguous")
)

// GeoPoint is a single GPS fix. Altitude and Accuracy are in meters and are
// zero when the platform did not report them. Timestamp is the wall-clock
// time of the fix as reported by the GPS; the safety engines use it as their
// time source.
type GeoPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// DistanceTo returns the great-circle distance in meters to another point.
func (p GeoPoint) DistanceTo(o GeoPoint) float64 {
	return geo.Haversine(p.Latitude, p.Longitude, o.Latitude, o.Longitude)
}

// BearingTo returns the initial bearing in degrees [0, 360) toward another
// point.
func (p GeoPoint) BearingTo(o GeoPoint) float64 {
	return geo.Bearing(p.Latitude, p.Longitude, o.Latitude, o.Longitude)
}

// TrailSegment is one leg of a trail with precomputed metrics.
type TrailSegment struct {
	Start GeoPoint `json:"start"`
	End   GeoPoint `json:"end"`

	// DistanceMeters is the horizontal great-circle length of the segment.
	DistanceMeters float64 `json:"distance_meters"`

	// ElevationGain and ElevationLoss are both non-negative meters.
	ElevationGain float64 `json:"elevation_gain"`
	ElevationLoss float64 `json:"elevation_loss"`

	// Slope is the signed grade (rise over horizontal run).
	Slope float64 `json:"slope"`
}

// Waypoint is a named point of interest along the trail.
type Waypoint struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind,omitempty"`
	Position GeoPoint `json:"position"`
}

// TrailData is a fully built trail ready for the safety engines.
type TrailData struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Segments []TrailSegment `json:"segments"`

	TotalDistanceMeters float64 `json:"total_distance_meters"`
	TotalAscentMeters   float64 `json:"total_ascent_meters"`
	TotalDescentMeters  float64 `json:"total_descent_meters"`

	Trailhead   GeoPoint `json:"trailhead"`
	Destination GeoPoint `json:"destination"`

	Waypoints []Waypoint `json:"waypoints,omitempty"`
}
