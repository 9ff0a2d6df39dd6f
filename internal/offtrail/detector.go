package offtrail

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/GalSened/RoamWise-sub002/internal/trail"
	"github.com/GalSened/RoamWise-sub002/pkg/geo"
)

// Detector defaults.
const (
	// DefaultBaseThreshold is the base corridor half-width in meters.
	DefaultBaseThreshold = 50.0

	// DefaultAccuracyBuffer widens the corridor for ordinary GPS error
	// even when the platform reports no accuracy.
	DefaultAccuracyBuffer = 10.0

	// DefaultConfirmCount is how many consecutive over-threshold readings
	// assert the off-trail state.
	DefaultConfirmCount = 3

	// DefaultMedianWindow is the deviation median filter length.
	DefaultMedianWindow = 5

	// accuracyNormalization scales reported GPS accuracy into the
	// confidence term: 100m of error zeroes the term out.
	accuracyNormalization = 100.0

	// confirmedBoost is the confidence multiplier once hysteresis has
	// fired.
	confirmedBoost = 1.25
)

// Config holds configuration for the off-trail detector. Zero values take
// the package defaults.
type Config struct {
	BaseThresholdMeters  float64
	AccuracyBufferMeters float64
	ConfirmCount         int
	MedianWindow         int
	Logger               zerolog.Logger
}

// Detector is the off-trail detector. It is not safe for concurrent use; the
// orchestrator serializes all calls through its actor loop.
type Detector struct {
	cfg    Config
	logger zerolog.Logger

	trail       *trail.TrailData
	window      []float64
	consecutive int
	off         bool
	lastOnTrail *trail.GeoPoint
	initialized bool
}

// New creates an off-trail detector with the given configuration.
func New(cfg Config) *Detector {
	if cfg.BaseThresholdMeters <= 0 {
		cfg.BaseThresholdMeters = DefaultBaseThreshold
	}
	if cfg.AccuracyBufferMeters <= 0 {
		cfg.AccuracyBufferMeters = DefaultAccuracyBuffer
	}
	if cfg.ConfirmCount <= 0 {
		cfg.ConfirmCount = DefaultConfirmCount
	}
	if cfg.MedianWindow <= 0 {
		cfg.MedianWindow = DefaultMedianWindow
	}

	return &Detector{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "offtrail").Logger(),
	}
}

// Initialize binds the detector to a trail and clears all history.
func (d *Detector) Initialize(t *trail.TrailData) error {
	if t == nil {
		return ErrNoTrail
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validating trail: %w", err)
	}

	d.trail = t
	d.Reset()
	d.initialized = true

	d.logger.Info().Str("trail_id", t.ID).Int("segments", len(t.Segments)).
		Msg("off-trail detector initialized")
	return nil
}

// Reset clears the deviation window, the hysteresis counter, and the
// off-trail state.
func (d *Detector) Reset() {
	d.window = d.window[:0]
	d.consecutive = 0
	d.off = false
	d.lastOnTrail = nil
}

// CheckPosition evaluates one GPS fix against the trail corridor.
func (d *Detector) CheckPosition(p trail.GeoPoint) (*Status, error) {
	if !d.initialized {
		return nil, ErrNotInitialized
	}

	idx, proj := d.trail.Nearest(p)
	raw := proj.DistanceMeters
	d.pushDeviation(raw)
	filtered := median(d.window)
	threshold := d.cfg.BaseThresholdMeters + d.cfg.AccuracyBufferMeters + p.Accuracy

	if filtered > threshold {
		d.consecutive++
		if d.consecutive >= d.cfg.ConfirmCount && !d.off {
			d.off = true
			d.logger.Info().
				Float64("deviation_m", filtered).
				Float64("threshold_m", threshold).
				Int("confirmations", d.consecutive).
				Msg("off-trail confirmed")
		}
	} else {
		if d.off {
			d.logger.Info().Float64("deviation_m", filtered).Msg("back on trail")
		}
		d.consecutive = 0
		d.off = false
		onTrail := p
		d.lastOnTrail = &onTrail
	}

	st := &Status{
		OffTrail:           d.off,
		DeviationMeters:    filtered,
		RawDeviationMeters: raw,
		ConsecutiveOff:     d.consecutive,
		ThresholdMeters:    threshold,
		SegmentIndex:       idx,
		Confidence:         d.confidence(p),
	}
	if d.lastOnTrail != nil {
		last := *d.lastOnTrail
		st.LastOnTrail = &last
	}
	if d.off {
		st.ReturnVector = &ReturnVector{
			BearingDegrees: geo.Bearing(p.Latitude, p.Longitude, proj.Latitude, proj.Longitude),
			DistanceMeters: raw,
			Target: trail.GeoPoint{
				Latitude:  proj.Latitude,
				Longitude: proj.Longitude,
			},
			SegmentIndex: idx,
		}
	}

	return st, nil
}

func (d *Detector) pushDeviation(raw float64) {
	if len(d.window) == d.cfg.MedianWindow {
		copy(d.window, d.window[1:])
		d.window = d.window[:len(d.window)-1]
	}
	d.window = append(d.window, raw)
}

// confidence multiplies a GPS-accuracy term, a window-fill term, and the
// confirmation boost, clamped to [0, 1]. A fix with no reported accuracy
// assumes the configured GPS buffer.
func (d *Detector) confidence(p trail.GeoPoint) float64 {
	acc := p.Accuracy
	if acc <= 0 {
		acc = d.cfg.AccuracyBufferMeters
	}
	accTerm := clamp01(1 - acc/accuracyNormalization)
	histTerm := float64(len(d.window)) / float64(d.cfg.MedianWindow)

	c := accTerm * histTerm
	if d.off {
		c *= confirmedBoost
	}
	return clamp01(c)
}

// median returns the middle value of the window (mean of the two middles for
// even lengths). An empty window yields 0.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
