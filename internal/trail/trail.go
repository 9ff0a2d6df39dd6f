package trail

import (
	"fmt"

	"github.com/GalSened/RoamWise-sub002/pkg/geo"
)

// contiguityToleranceMeters is the maximum gap allowed between the end of one
// segment and the start of the next.
const contiguityToleranceMeters = 5.0

// Build constructs a TrailData from an ordered sequence of track points.
// Consecutive duplicate points are dropped; at least two distinct points are
// required. Per-segment distance, elevation gain/loss, and slope are
// precomputed so the engines never re-derive them per fix.
func Build(id, name string, points []GeoPoint, waypoints []Waypoint) (*TrailData, error) {
	if len(points) < 2 {
		return nil, ErrTooFewPoints
	}

	segments := make([]TrailSegment, 0, len(points)-1)
	var totalDist, totalGain, totalLoss float64

	prev := points[0]
	for _, p := range points[1:] {
		dist := prev.DistanceTo(p)
		if dist < 1e-6 {
			// Duplicate fix, contributes nothing.
			continue
		}

		rise := p.Altitude - prev.Altitude
		seg := TrailSegment{
			Start:          prev,
			End:            p,
			DistanceMeters: dist,
			Slope:          rise / dist,
		}
		if rise >= 0 {
			seg.ElevationGain = rise
		} else {
			seg.ElevationLoss = -rise
		}

		totalDist += dist
		totalGain += seg.ElevationGain
		totalLoss += seg.ElevationLoss
		segments = append(segments, seg)
		prev = p
	}

	if len(segments) == 0 {
		return nil, ErrTooFewPoints
	}

	return &TrailData{
		ID:                  id,
		Name:                name,
		Segments:            segments,
		TotalDistanceMeters: totalDist,
		TotalAscentMeters:   totalGain,
		TotalDescentMeters:  totalLoss,
		Trailhead:           segments[0].Start,
		Destination:         segments[len(segments)-1].End,
		Waypoints:           waypoints,
	}, nil
}

// Validate checks the structural invariants of a built trail: segments exist,
// distances are non-negative, and consecutive segments join end-to-start.
func (t *TrailData) Validate() error {
	if len(t.Segments) == 0 {
		return ErrNoSegments
	}

	for i, seg := range t.Segments {
		if seg.DistanceMeters < 0 {
			return fmt.Errorf("segment %d has negative distance %.2f", i, seg.DistanceMeters)
		}
		if i == 0 {
			continue
		}
		gap := t.Segments[i-1].End.DistanceTo(seg.Start)
		if gap > contiguityToleranceMeters {
			return fmt.Errorf("%w: %.1fm gap between segments %d and %d", ErrDiscontiguous, gap, i-1, i)
		}
	}

	return nil
}

// Nearest returns the index of the segment closest to p and the projection of
// p onto it. With no segments it returns index -1 and a zero projection.
func (t *TrailData) Nearest(p GeoPoint) (int, geo.Projection) {
	best := -1
	var bestProj geo.Projection

	for i, seg := range t.Segments {
		proj := geo.ProjectOntoSegment(
			p.Latitude, p.Longitude,
			seg.Start.Latitude, seg.Start.Longitude,
			seg.End.Latitude, seg.End.Longitude,
		)
		if best == -1 || proj.DistanceMeters < bestProj.DistanceMeters {
			best = i
			bestProj = proj
		}
	}

	return best, bestProj
}

// RemainingDistance returns the trail distance in meters from the position
// (segment idx, ratio along it) to the trail end.
func (t *TrailData) RemainingDistance(idx int, ratio float64) float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	idx = clampIndex(idx, len(t.Segments))
	ratio = clampRatio(ratio)

	remaining := (1 - ratio) * t.Segments[idx].DistanceMeters
	for _, seg := range t.Segments[idx+1:] {
		remaining += seg.DistanceMeters
	}
	return remaining
}

// DistanceFromStart returns the trail distance in meters from the trailhead
// to the position (segment idx, ratio along it).
func (t *TrailData) DistanceFromStart(idx int, ratio float64) float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	idx = clampIndex(idx, len(t.Segments))
	ratio = clampRatio(ratio)

	dist := ratio * t.Segments[idx].DistanceMeters
	for _, seg := range t.Segments[:idx] {
		dist += seg.DistanceMeters
	}
	return dist
}

func clampIndex(idx, n int) int {
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

func clampRatio(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
