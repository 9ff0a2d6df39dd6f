package sunset

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/GalSened/RoamWise-sub002/internal/ephemeris"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// Engine defaults.
const (
	// DefaultAveragingWindow is how far back velocity samples count.
	DefaultAveragingWindow = 15 * time.Minute

	// DefaultMinSamples is the sample count below which the time-decay
	// weighting falls back to an unweighted mean.
	DefaultMinSamples = 3

	// DefaultJitterCutoff is the speed in m/s below which a fix-to-fix
	// movement is treated as GPS jitter and discarded.
	DefaultJitterCutoff = 0.3

	// DefaultMaxPlausibleSpeed discards fix-to-fix speeds no hiker
	// produces (multipath jumps, tunnel re-acquisition).
	DefaultMaxPlausibleSpeed = 10.0

	// DefaultWalkingSpeed in m/s is assumed until real samples exist.
	DefaultWalkingSpeed = 1.2

	// DefaultSafetyBuffer is the daylight reserve the hiker should still
	// have on arrival.
	DefaultSafetyBuffer = 30 * time.Minute

	// minEffectiveSpeed floors the terrain-adjusted speed so steep
	// segments yield long but finite estimates.
	minEffectiveSpeed = 0.1

	// probabilitySigmaFloor keeps the arrival probability curve from
	// collapsing to a step near the finish.
	probabilitySigmaFloor = 300.0
)

// Config holds configuration for the sunset safety engine. Zero values take
// the package defaults.
type Config struct {
	AveragingWindow   time.Duration
	MinSamples        int
	JitterCutoff      float64
	MaxPlausibleSpeed float64
	DefaultSpeed      float64
	SafetyBuffer      time.Duration
	Logger            zerolog.Logger
}

type velocitySample struct {
	speed float64
	at    time.Time
}

// Engine is the sunset safety engine. It is not safe for concurrent use; the
// orchestrator serializes all calls through its actor loop.
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	trail    *trail.TrailData
	calendar *ephemeris.Calendar

	samples     []velocitySample
	lastFix     *trail.GeoPoint
	lastInstant float64
	haveInstant bool
	initialized bool
}

// New creates a sunset safety engine with the given configuration.
func New(cfg Config) *Engine {
	if cfg.AveragingWindow <= 0 {
		cfg.AveragingWindow = DefaultAveragingWindow
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if cfg.JitterCutoff <= 0 {
		cfg.JitterCutoff = DefaultJitterCutoff
	}
	if cfg.MaxPlausibleSpeed <= 0 {
		cfg.MaxPlausibleSpeed = DefaultMaxPlausibleSpeed
	}
	if cfg.DefaultSpeed <= 0 {
		cfg.DefaultSpeed = DefaultWalkingSpeed
	}
	if cfg.SafetyBuffer <= 0 {
		cfg.SafetyBuffer = DefaultSafetyBuffer
	}

	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "sunset").Logger(),
	}
}

// Initialize binds the engine to a trail and its ephemeris calendar and
// clears all motion history. A nil calendar is treated as empty (every
// assessment will be degraded).
func (e *Engine) Initialize(t *trail.TrailData, cal *ephemeris.Calendar) error {
	if t == nil {
		return ErrNoTrail
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validating trail: %w", err)
	}
	if cal == nil {
		cal = ephemeris.NewCalendar(nil)
	}

	e.trail = t
	e.calendar = cal
	e.Reset()
	e.initialized = true

	e.logger.Info().
		Str("trail_id", t.ID).
		Float64("total_distance_m", t.TotalDistanceMeters).
		Int("ephemeris_days", cal.Len()).
		Msg("sunset engine initialized")
	return nil
}

// Reset clears motion history while keeping the bound trail and calendar.
func (e *Engine) Reset() {
	e.samples = e.samples[:0]
	e.lastFix = nil
	e.lastInstant = 0
	e.haveInstant = false
}

// IsStationary reports whether the most recent fix-to-fix speed was below the
// jitter cutoff. It is false until two fixes have been seen.
func (e *Engine) IsStationary() bool {
	return e.haveInstant && e.lastInstant < e.cfg.JitterCutoff
}

// UpdatePosition ingests a GPS fix and returns a fresh safety assessment.
// All time math runs off the fix timestamp. Degraded data (no samples yet,
// no ephemeris for the date) produces fallback assessments, never errors.
func (e *Engine) UpdatePosition(p trail.GeoPoint) (*Assessment, error) {
	if !e.initialized {
		return nil, ErrNotInitialized
	}

	now := p.Timestamp
	e.observeVelocity(p, now)

	avgSpeed := e.averageSpeed(now)
	idx, proj := e.trail.Nearest(p)
	remainingDist := e.trail.RemainingDistance(idx, proj.Ratio)
	remainingTime := e.remainingTime(idx, proj.Ratio, avgSpeed)

	a := &Assessment{
		GeneratedAt:             now,
		ETA:                     now.Add(remainingTime),
		RemainingDistanceMeters: remainingDist,
		RemainingTime:           remainingTime,
		AverageSpeed:            avgSpeed,
		SegmentIndex:            idx,
	}

	day, ok := e.calendar.ForDate(now)
	if !ok {
		a.Degraded = true
		a.Level = LevelCaution
		a.Probability = 0.5
		a.Message = "Sunset data unavailable for today. Plan to finish in daylight."
		e.logger.Warn().Time("fix_time", now).Msg("no ephemeris day for fix date")
		return a, nil
	}

	a.Sunset = day.Sunset
	a.TimeToSunset = day.Sunset.Sub(now)
	a.Margin = a.TimeToSunset - remainingTime
	a.Level = levelFor(a.Margin, e.cfg.SafetyBuffer)
	a.Probability = arrivalProbability(a.Margin, remainingTime)

	if a.Level != LevelSafe {
		a.Cutoff = e.findCutoff(idx, avgSpeed, a.TimeToSunset)
	}
	a.Message = buildMessage(a, day)

	e.logger.Debug().
		Str("level", string(a.Level)).
		Dur("margin", a.Margin).
		Float64("avg_speed", avgSpeed).
		Float64("remaining_m", remainingDist).
		Msg("sunset assessment")
	return a, nil
}

// observeVelocity derives the fix-to-fix speed and retains it as a sample
// unless it looks like jitter or a teleport artifact.
func (e *Engine) observeVelocity(p trail.GeoPoint, now time.Time) {
	prev := e.lastFix
	e.lastFix = &p
	if prev == nil {
		return
	}

	dt := now.Sub(prev.Timestamp).Seconds()
	if dt <= 0 {
		// Out-of-order or duplicated fix.
		return
	}

	speed := prev.DistanceTo(p) / dt
	e.lastInstant = speed
	e.haveInstant = true

	switch {
	case speed < e.cfg.JitterCutoff:
		e.logger.Debug().Float64("speed", speed).Msg("dropping jitter sample")
	case speed > e.cfg.MaxPlausibleSpeed:
		e.logger.Debug().Float64("speed", speed).Msg("dropping implausible sample")
	default:
		e.samples = append(e.samples, velocitySample{speed: speed, at: now})
	}

	e.pruneSamples(now)
}

func (e *Engine) pruneSamples(now time.Time) {
	cutoff := now.Add(-e.cfg.AveragingWindow)
	kept := e.samples[:0]
	for _, s := range e.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	e.samples = kept
}

// averageSpeed blends retained samples with linear time-decay weights
// (newest counts most). Below MinSamples the mean is unweighted; with no
// samples at all the default walking speed applies.
func (e *Engine) averageSpeed(now time.Time) float64 {
	if len(e.samples) == 0 {
		return e.cfg.DefaultSpeed
	}

	if len(e.samples) < e.cfg.MinSamples {
		var sum float64
		for _, s := range e.samples {
			sum += s.speed
		}
		return sum / float64(len(e.samples))
	}

	window := e.cfg.AveragingWindow.Seconds()
	var weighted, weights float64
	for _, s := range e.samples {
		w := 1 - now.Sub(s.at).Seconds()/window
		if w <= 0 {
			continue
		}
		weighted += s.speed * w
		weights += w
	}
	if weights == 0 {
		return e.cfg.DefaultSpeed
	}
	return weighted / weights
}

// remainingTime sums terrain-adjusted traversal time from the position
// (segment idx, ratio) to the trail end.
func (e *Engine) remainingTime(idx int, ratio float64, speed float64) time.Duration {
	segs := e.trail.Segments
	if idx < 0 || idx >= len(segs) {
		return 0
	}

	secs := (1 - ratio) * segs[idx].DistanceMeters / effectiveSpeed(speed, segs[idx].Slope)
	for _, s := range segs[idx+1:] {
		secs += s.DistanceMeters / effectiveSpeed(speed, s.Slope)
	}
	return time.Duration(secs * float64(time.Second))
}

// findCutoff walks segment boundaries backward from the current segment
// looking for the farthest point whose round trip (estimated outbound plus
// slope-reversed return) still fits the daylight window. A nil result means
// the window is exhausted and the only advice left is to return now.
func (e *Engine) findCutoff(idx int, speed float64, timeToSunset time.Duration) *CutoffPoint {
	window := timeToSunset - e.cfg.SafetyBuffer
	if window <= 0 {
		return nil
	}

	if idx >= len(e.trail.Segments) {
		idx = len(e.trail.Segments) - 1
	}
	for i := idx; i >= 0; i-- {
		outbound := e.traverseTime(i, speed, false)
		ret := e.traverseTime(i, speed, true)
		if outbound+ret <= window {
			return &CutoffPoint{
				Position:                e.trail.Segments[i].Start,
				SegmentIndex:            i,
				DistanceFromStartMeters: e.trail.DistanceFromStart(i, 0),
				ReturnTime:              ret,
			}
		}
	}
	return nil
}

// traverseTime estimates the walk between the trailhead and the start
// boundary of segment upto. Reversed negates every slope, modeling the walk
// back (climbs become descents and vice versa).
func (e *Engine) traverseTime(upto int, speed float64, reversed bool) time.Duration {
	var secs float64
	for _, s := range e.trail.Segments[:upto] {
		slope := s.Slope
		if reversed {
			slope = -slope
		}
		secs += s.DistanceMeters / effectiveSpeed(speed, slope)
	}
	return time.Duration(secs * float64(time.Second))
}

// effectiveSpeed applies the Tobler factor for the slope and floors the
// result so estimates stay finite.
func effectiveSpeed(base, slope float64) float64 {
	v := base * ToblerFactor(slope)
	if v < minEffectiveSpeed {
		v = minEffectiveSpeed
	}
	return v
}

// ToblerFactor is the slope adjustment from Tobler's hiking function,
// normalized so its maximum is 1.0 at a gentle downhill of -5% grade.
func ToblerFactor(slope float64) float64 {
	return math.Exp(-3.5 * math.Abs(slope+0.05))
}

// levelFor grades the daylight margin against the safety buffer.
func levelFor(margin, buffer time.Duration) AlertLevel {
	switch {
	case margin > 2*buffer:
		return LevelSafe
	case margin > buffer:
		return LevelCaution
	case margin > 0:
		return LevelWarning
	default:
		return LevelCritical
	}
}

// arrivalProbability maps the margin through a logistic curve whose width
// scales with the remaining time. At the finish (nothing left to walk) the
// probability is 1 regardless of margin.
func arrivalProbability(margin, remaining time.Duration) float64 {
	if remaining <= 0 {
		return 1
	}
	sigma := math.Max(remaining.Seconds()*0.15, probabilitySigmaFloor)
	p := 1 / (1 + math.Exp(-margin.Seconds()/sigma))
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func buildMessage(a *Assessment, day ephemeris.Day) string {
	sunset := day.Sunset.Format("15:04")
	switch a.Level {
	case LevelSafe:
		return fmt.Sprintf("On pace to finish %d min before sunset (%s).", int(a.Margin.Minutes()), sunset)
	case LevelCaution:
		return fmt.Sprintf("Finish expected %d min before sunset (%s). Keep a steady pace.", int(a.Margin.Minutes()), sunset)
	case LevelWarning:
		if a.Cutoff != nil {
			return fmt.Sprintf("Daylight is tight: sunset at %s. Turn around by the %.1f km mark.",
				sunset, a.Cutoff.DistanceFromStartMeters/1000)
		}
		return fmt.Sprintf("Daylight is tight: sunset at %s. Consider turning back.", sunset)
	default:
		return fmt.Sprintf("Not enough daylight to finish. Return to the trailhead now. Sunset at %s, %s tonight.",
			sunset, ephemeris.PhaseName(day.MoonPhase))
	}
}
