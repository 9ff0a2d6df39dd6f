// Package guardian orchestrates the on-device safety pipeline. One actor
// goroutine owns the sunset engine, the off-trail detector and the lifecycle
// machine; public methods post commands to it, so the engines never see
// concurrent calls. Platform shells feed GPS fixes and battery levels in and
// receive alerts, assessments and state changes through the listener
// registry.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/GalSened/RoamWise-sub002/internal/ephemeris"
	"github.com/GalSened/RoamWise-sub002/internal/fsm"
	"github.com/GalSened/RoamWise-sub002/internal/hikelog"
	"github.com/GalSened/RoamWise-sub002/internal/offtrail"
	"github.com/GalSened/RoamWise-sub002/internal/pack"
	"github.com/GalSened/RoamWise-sub002/internal/sunset"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// DefaultQueueSize bounds the actor command queue.
const DefaultQueueSize = 64

// Config wires the guardian's collaborators.
type Config struct {
	Logger zerolog.Logger

	Sunset   *sunset.Engine
	OffTrail *offtrail.Detector
	Packs    *pack.Manager
	Machine  *fsm.Machine

	// Locations, when set, is asked for a fix on every polling tick. The
	// fix re-enters through UpdateLocation.
	Locations LocationRequester

	// Recorder, when set, persists the session track, alerts and summary.
	Recorder SessionRecorder

	// QueueSize overrides DefaultQueueSize when positive.
	QueueSize int
}

// Guardian owns the safety engines and serializes every mutation through the
// actor loop.
type Guardian struct {
	logger  zerolog.Logger
	metrics *guardianMetrics

	sunset    *sunset.Engine
	offtrail  *offtrail.Detector
	packs     *pack.Manager
	machine   *fsm.Machine
	locations LocationRequester
	recorder  SessionRecorder

	listeners *listenerRegistry

	commands chan func()
	closing  chan struct{}
	done     chan struct{}

	started   atomic.Bool
	closeOnce sync.Once

	snapshot atomic.Pointer[Snapshot]

	// Fields below are owned by the actor goroutine. pollTimer is created
	// by run; the transition listener only touches it from commands running
	// on the loop.
	pollTimer   *time.Timer
	downloading bool

	sessionID string
	trailID   string
	packageID string
	startedAt time.Time
	contacts  []pack.EmergencyContact

	lastFix        *trail.GeoPoint
	battery        float64
	lastAssessment *sunset.Assessment
	lastOffTrail   *offtrail.Status

	inSunsetBand bool
	lastLevel    sunset.AlertLevel
	wasOffTrail  bool
}

// New creates a guardian. Sunset, OffTrail, Packs and Machine are required.
func New(cfg Config) (*Guardian, error) {
	if cfg.Sunset == nil || cfg.OffTrail == nil || cfg.Packs == nil || cfg.Machine == nil {
		return nil, errors.New("guardian requires sunset, offtrail, packs and machine")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	metrics, err := newGuardianMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating guardian metrics: %w", err)
	}

	logger := cfg.Logger.With().Str("component", "guardian").Logger()

	g := &Guardian{
		logger:    logger,
		metrics:   metrics,
		sunset:    cfg.Sunset,
		offtrail:  cfg.OffTrail,
		packs:     cfg.Packs,
		machine:   cfg.Machine,
		locations: cfg.Locations,
		recorder:  cfg.Recorder,
		listeners: newListenerRegistry(logger),
		commands:  make(chan func(), cfg.QueueSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		battery:   1.0,
	}

	g.machine.OnTransition(func(from, to fsm.State, ev fsm.Event) {
		g.metrics.recordTransition(string(from), string(to))
		g.armPoll()
		g.listeners.emitState(from, to, ev)
	})

	g.publishSnapshot()
	return g, nil
}

// Start launches the actor loop.
func (g *Guardian) Start() error {
	select {
	case <-g.closing:
		return ErrClosed
	default:
	}
	if !g.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	go g.run()
	g.logger.Info().Msg("guardian started")
	return nil
}

// Close stops the actor loop and waits for it to drain. Safe to call more
// than once.
func (g *Guardian) Close() error {
	g.closeOnce.Do(func() {
		close(g.closing)
		if g.started.Load() {
			<-g.done
		}
		g.logger.Info().Msg("guardian closed")
	})
	return nil
}

func (g *Guardian) run() {
	defer close(g.done)

	g.pollTimer = time.NewTimer(time.Hour)
	if !g.pollTimer.Stop() {
		<-g.pollTimer.C
	}
	defer g.pollTimer.Stop()

	for {
		select {
		case <-g.closing:
			return
		case cmd := <-g.commands:
			cmd()
		case <-g.pollTimer.C:
			g.requestFix()
			g.armPoll()
		}
	}
}

// do runs fn on the actor loop and waits for its result.
func (g *Guardian) do(ctx context.Context, fn func() error) error {
	if !g.started.Load() {
		return ErrNotStarted
	}

	errc := make(chan error, 1)
	select {
	case g.commands <- func() { errc <- fn() }:
	case <-g.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-g.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting. A full queue drops the command: fixes and
// battery updates are superseded by the next one anyway.
func (g *Guardian) post(fn func()) {
	if !g.started.Load() {
		return
	}
	select {
	case g.commands <- fn:
	case <-g.closing:
	default:
		g.logger.Warn().Msg("command queue full, dropping update")
	}
}

// SelectTrail prepares a hike on the given trail. A cached package arms the
// full safety stack; without one the guardian enters limited mode with
// reduced guidance.
func (g *Guardian) SelectTrail(ctx context.Context, t *trail.TrailData) error {
	if t == nil {
		return ErrNoTrail
	}
	return g.do(ctx, func() error { return g.selectTrail(ctx, t) })
}

func (g *Guardian) selectTrail(ctx context.Context, t *trail.TrailData) error {
	if g.downloading {
		return pack.ErrDownloadInFlight
	}
	if err := g.enterPreparing(); err != nil {
		return err
	}
	g.trailID = t.ID

	pkg, err := g.packs.GetPackage(ctx, t.ID)
	if err == nil {
		return g.adoptPackage(pkg)
	}
	if !errors.Is(err, pack.ErrPackageNotFound) {
		g.logger.Warn().Err(err).Str("trail_id", t.ID).Msg("package lookup failed")
	}

	return g.enterLimitedMode(t, AlertEvent{
		Type:     AlertCacheExpiring,
		Severity: SeverityInfo,
		Title:    "Offline maps unavailable",
		Message:  "No offline package is cached for this trail. Navigation continues with reduced guidance.",
		Data:     map[string]any{"trail_id": t.ID},
	})
}

// DownloadTrailPackage downloads and caches the trail package, then prepares
// the hike from it. The download itself runs off the loop so the guardian
// stays responsive; a failed download still leaves the trail hikeable in
// limited mode.
func (g *Guardian) DownloadTrailPackage(ctx context.Context, t *trail.TrailData) error {
	if t == nil {
		return ErrNoTrail
	}

	if err := g.do(ctx, func() error { return g.beginDownload(t) }); err != nil {
		return err
	}

	pkg, dlErr := g.packs.DownloadAndCache(ctx, t)

	// Finalization must reach the loop even when the caller is gone.
	finErr := g.do(context.Background(), func() error {
		g.downloading = false
		if dlErr != nil {
			return g.enterLimitedMode(t, AlertEvent{
				Type:     AlertCacheExpiring,
				Severity: SeverityWarning,
				Title:    "Package download failed",
				Message:  "The offline package could not be downloaded. You can still hike with reduced guidance.",
				Data:     map[string]any{"trail_id": t.ID, "cause": dlErr.Error()},
			})
		}
		return g.adoptPackage(pkg)
	})

	if dlErr != nil {
		return dlErr
	}
	return finErr
}

func (g *Guardian) beginDownload(t *trail.TrailData) error {
	if g.downloading {
		return pack.ErrDownloadInFlight
	}
	if err := g.enterPreparing(); err != nil {
		return err
	}
	g.trailID = t.ID
	g.downloading = true
	g.publishSnapshot()
	return nil
}

// enterPreparing moves the machine to preparing. Re-selecting before the
// hike abandons the previous preparation first.
func (g *Guardian) enterPreparing() error {
	switch g.machine.State() {
	case fsm.StatePreparing, fsm.StateReadyToHike, fsm.StateLimitedMode:
		if err := g.machine.Dispatch(fsm.EventPreparationAbandoned); err != nil {
			return err
		}
	}
	return g.machine.Dispatch(fsm.EventTrailSelected)
}

// adoptPackage initializes both engines from a cached package and declares
// the hike ready.
func (g *Guardian) adoptPackage(pkg *pack.TrailPackage) error {
	if err := g.initEngines(pkg.Trail, ephemeris.NewCalendar(pkg.Ephemeris)); err != nil {
		return err
	}
	g.packageID = pkg.ID
	g.contacts = append([]pack.EmergencyContact(nil), pkg.Contacts...)

	if err := g.machine.Dispatch(fsm.EventPackageReady); err != nil {
		return err
	}
	g.publishSnapshot()

	if g.packs.ExpiresSoon(pkg) {
		g.emitAlert(AlertEvent{
			Type:     AlertCacheExpiring,
			Severity: SeverityInfo,
			Title:    "Offline package expiring",
			Message:  "The cached package for this trail expires soon. Refresh it before heading out.",
			Data:     map[string]any{"trail_id": pkg.ID, "expires_at": pkg.ExpiresAt},
		})
	}

	g.logger.Info().
		Str("trail_id", pkg.ID).
		Str("version", pkg.Version).
		Msg("trail package adopted")
	return nil
}

// enterLimitedMode initializes the engines from bare trail data with an
// empty ephemeris calendar and raises the given informational alert.
func (g *Guardian) enterLimitedMode(t *trail.TrailData, alert AlertEvent) error {
	if err := g.initEngines(t, ephemeris.NewCalendar(nil)); err != nil {
		return err
	}
	g.packageID = ""
	g.contacts = nil

	if err := g.machine.Dispatch(fsm.EventPackageMissing); err != nil {
		return err
	}
	g.publishSnapshot()
	g.emitAlert(alert)

	g.logger.Warn().Str("trail_id", t.ID).Msg("entering limited mode")
	return nil
}

func (g *Guardian) initEngines(t *trail.TrailData, cal *ephemeris.Calendar) error {
	if err := g.sunset.Initialize(t, cal); err != nil {
		return fmt.Errorf("initializing sunset engine: %w", err)
	}
	if err := g.offtrail.Initialize(t); err != nil {
		return fmt.Errorf("initializing off-trail detector: %w", err)
	}

	g.lastAssessment = nil
	g.lastOffTrail = nil
	g.inSunsetBand = false
	g.lastLevel = sunset.LevelSafe
	g.wasOffTrail = false
	return nil
}

// EvaluateDownloadTrigger applies the automatic download policy for the
// shell's pre-hike prompt.
func (g *Guardian) EvaluateDownloadTrigger(pos, trailhead trail.GeoPoint, network pack.NetworkStatus, battery float64) pack.Decision {
	return g.packs.EvaluateTrigger(pos, trailhead, network, battery)
}

// StartHike begins tracking and opens a hike log session.
func (g *Guardian) StartHike() error {
	return g.do(context.Background(), g.startHike)
}

func (g *Guardian) startHike() error {
	if err := g.machine.Dispatch(fsm.EventHikeStarted); err != nil {
		return err
	}

	g.sessionID = "ses_" + uuid.New().String()[:22]
	g.startedAt = time.Now()

	if g.recorder != nil {
		if err := g.recorder.Begin(g.sessionID, g.trailID, g.startedAt); err != nil {
			g.logger.Warn().Err(err).Msg("hike log unavailable for this session")
			g.listeners.emitError(err)
		}
	}

	g.logger.Info().
		Str("session_id", g.sessionID).
		Str("trail_id", g.trailID).
		Msg("hike started")
	g.publishSnapshot()
	return nil
}

// StopHike ends the hike early and closes the session.
func (g *Guardian) StopHike() error {
	return g.do(context.Background(), func() error { return g.endHike(fsm.EventHikeStopped) })
}

// CompleteHike ends the hike at the destination and closes the session.
func (g *Guardian) CompleteHike() error {
	return g.do(context.Background(), func() error { return g.endHike(fsm.EventHikeCompleted) })
}

func (g *Guardian) endHike(ev fsm.Event) error {
	if err := g.machine.Dispatch(ev); err != nil {
		return err
	}

	if g.recorder != nil && g.sessionID != "" {
		summary, err := g.recorder.Finish(g.sessionID, time.Now())
		if err != nil {
			g.logger.Warn().Err(err).Str("session_id", g.sessionID).Msg("finishing hike log failed")
			g.listeners.emitError(err)
		} else {
			g.logger.Info().
				Str("session_id", g.sessionID).
				Float64("distance_m", summary.DistanceMeters).
				Dur("moving", summary.MovingTime).
				Int("alerts", summary.Alerts).
				Msg("hike summary recorded")
		}
	}

	if err := g.machine.Dispatch(fsm.EventSessionClosed); err != nil {
		return err
	}

	g.sunset.Reset()
	g.offtrail.Reset()
	g.resetSession()
	g.publishSnapshot()
	return nil
}

func (g *Guardian) resetSession() {
	g.sessionID = ""
	g.trailID = ""
	g.packageID = ""
	g.startedAt = time.Time{}
	g.contacts = nil
	g.lastFix = nil
	g.lastAssessment = nil
	g.lastOffTrail = nil
	g.inSunsetBand = false
	g.lastLevel = sunset.LevelSafe
	g.wasOffTrail = false
}

// UpdateLocation feeds a GPS fix into the pipeline. Fire and forget: the fix
// is processed on the actor loop.
func (g *Guardian) UpdateLocation(p trail.GeoPoint) {
	g.post(func() { g.handleFix(p) })
}

func (g *Guardian) handleFix(p trail.GeoPoint) {
	if !g.machine.State().TrackingFamily() {
		g.logger.Debug().Str("state", string(g.machine.State())).Msg("fix ignored outside tracking")
		return
	}
	start := time.Now()

	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}

	assessment, err := g.sunset.UpdatePosition(p)
	if err != nil {
		g.logger.Error().Err(err).Msg("sunset assessment failed")
		g.listeners.emitError(err)
		return
	}

	// The detector sees the same fix the assessment was computed from.
	status, err := g.offtrail.CheckPosition(p)
	if err != nil {
		g.logger.Error().Err(err).Msg("off-trail check failed")
		g.listeners.emitError(err)
		return
	}

	speed := g.speedFrom(p)
	if g.recorder != nil && g.sessionID != "" {
		if err := g.recorder.Point(g.sessionID, p, speed); err != nil {
			g.logger.Warn().Err(err).Msg("recording track point failed")
		}
	}

	g.machine.SetStationary(g.sunset.IsStationary())

	cpy := p
	g.lastFix = &cpy
	g.lastAssessment = assessment
	g.lastOffTrail = status
	g.publishSnapshot()

	// Listeners observe the consistent assessment/status pair before any
	// state changes or alerts derived from it.
	g.listeners.emitLocation(p)
	g.listeners.emitAssessment(*assessment)
	g.listeners.emitOffTrail(*status)

	g.applySunsetEdges(assessment)
	g.applyOffTrailEdges(status)

	g.metrics.recordFix(time.Since(start))
	g.armPoll()
	g.publishSnapshot()
}

// speedFrom derives the speed from the previous fix. Must run before lastFix
// is replaced.
func (g *Guardian) speedFrom(p trail.GeoPoint) float64 {
	if g.lastFix == nil {
		return 0
	}
	dt := p.Timestamp.Sub(g.lastFix.Timestamp).Seconds()
	if dt <= 0 {
		return 0
	}
	return g.lastFix.DistanceTo(p) / dt
}

// applySunsetEdges raises and clears sunset alerts on level changes only.
// Warning and critical form the alerting band; repeats inside one level are
// silent.
func (g *Guardian) applySunsetEdges(a *sunset.Assessment) {
	inBand := a.Level == sunset.LevelWarning || a.Level == sunset.LevelCritical

	switch {
	case inBand && !g.inSunsetBand:
		_ = g.machine.Dispatch(fsm.EventSunsetWarning)
		g.emitSunsetAlert(a)
	case inBand && a.Level == sunset.LevelCritical && g.lastLevel == sunset.LevelWarning:
		// Escalation keeps the alerting state, no second dispatch.
		g.emitSunsetAlert(a)
	case !inBand && g.inSunsetBand:
		_ = g.machine.Dispatch(fsm.EventSunsetCleared)
		g.emitAlert(AlertEvent{
			Type:     AlertSunsetWarning,
			Severity: SeverityInfo,
			Title:    "Sunset risk cleared",
			Message:  "Your pace puts you back ahead of sunset.",
		})
	}

	g.inSunsetBand = inBand
	g.lastLevel = a.Level
}

func (g *Guardian) emitSunsetAlert(a *sunset.Assessment) {
	typ, severity := AlertSunsetWarning, SeverityWarning
	title := "Sunset approaching"
	if a.Level == sunset.LevelCritical {
		typ, severity = AlertSunsetCritical, SeverityCritical
		title = "You will not finish before sunset"
	}

	data := map[string]any{
		"eta":            a.ETA,
		"sunset":         a.Sunset,
		"margin_minutes": a.Margin.Minutes(),
		"probability":    a.Probability,
	}
	if a.Cutoff != nil {
		data["cutoff"] = a.Cutoff
	}

	g.emitAlert(AlertEvent{
		Type:     typ,
		Severity: severity,
		Title:    title,
		Message:  a.Message,
		Data:     data,
	})
}

// applyOffTrailEdges fires on flag flips only; the detector's confirmation
// count already debounces single stray fixes.
func (g *Guardian) applyOffTrailEdges(s *offtrail.Status) {
	switch {
	case s.OffTrail && !g.wasOffTrail:
		_ = g.machine.Dispatch(fsm.EventOffTrailDetected)

		data := map[string]any{
			"deviation_m": s.DeviationMeters,
			"confidence":  s.Confidence,
		}
		if s.ReturnVector != nil {
			data["return_bearing_deg"] = s.ReturnVector.BearingDegrees
			data["return_distance_m"] = s.ReturnVector.DistanceMeters
			data["return_target"] = s.ReturnVector.Target
		}

		g.emitAlert(AlertEvent{
			Type:     AlertOffTrail,
			Severity: SeverityWarning,
			Title:    "Off trail",
			Message:  fmt.Sprintf("You are %.0fm from the trail.", s.DeviationMeters),
			Data:     data,
		})
	case !s.OffTrail && g.wasOffTrail:
		_ = g.machine.Dispatch(fsm.EventBackOnTrail)
		g.emitAlert(AlertEvent{
			Type:     AlertOffTrail,
			Severity: SeverityInfo,
			Title:    "Back on trail",
			Message:  "You are back on the trail.",
		})
	}
	g.wasOffTrail = s.OffTrail
}

// UpdateBattery feeds a battery level into the machine. Fire and forget.
func (g *Guardian) UpdateBattery(level float64) {
	g.post(func() { g.handleBattery(level) })
}

func (g *Guardian) handleBattery(level float64) {
	before := g.machine.State()
	g.machine.SetBattery(level)
	after := g.machine.State()

	g.battery = level

	if after == fsm.StateLowBatteryMode && before != fsm.StateLowBatteryMode {
		g.emitAlert(AlertEvent{
			Type:     AlertLowBattery,
			Severity: SeverityWarning,
			Title:    "Battery low",
			Message:  fmt.Sprintf("Battery at %.0f%%. GPS slows down to save power.", level*100),
			Data:     map[string]any{"level": level},
		})
	}

	// Recovery is caller-driven: the machine only demotes on its own.
	if before == fsm.StateLowBatteryMode && level >= g.machine.RecoveryLevel() {
		_ = g.machine.Dispatch(fsm.EventBatteryRecovered)
	}

	g.publishSnapshot()
}

// TriggerEmergency escalates to the emergency state and returns the alert
// handed to the shell, with contacts and the last known position attached.
func (g *Guardian) TriggerEmergency(reason string) (*AlertEvent, error) {
	var alert *AlertEvent
	err := g.do(context.Background(), func() error {
		if err := g.machine.Dispatch(fsm.EventEmergencyTriggered); err != nil {
			return err
		}

		data := map[string]any{"reason": reason}
		if g.lastFix != nil {
			data["position"] = *g.lastFix
		}
		if len(g.contacts) > 0 {
			data["contacts"] = append([]pack.EmergencyContact(nil), g.contacts...)
		}

		ev := g.newAlert(AlertEvent{
			Type:               AlertEmergency,
			Severity:           SeverityCritical,
			Title:              "Emergency",
			Message:            "Emergency triggered. Your last known position is attached.",
			Data:               data,
			RequiresUserAction: true,
			Actions: []AlertAction{
				{ID: "call_contact", Label: "Call emergency contact"},
				{ID: "share_location", Label: "Share location"},
			},
		})
		g.fanOutAlert(ev)
		g.publishSnapshot()

		alert = &ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ResolveEmergency returns the machine to tracking.
func (g *Guardian) ResolveEmergency() error {
	return g.do(context.Background(), func() error {
		if err := g.machine.Dispatch(fsm.EventEmergencyResolved); err != nil {
			return err
		}
		g.publishSnapshot()
		return nil
	})
}

// Status returns the last published snapshot without touching the actor
// loop. Download progress is read live from the pack manager.
func (g *Guardian) Status() Snapshot {
	snap := *g.snapshot.Load()
	snap.DownloadProgress = g.packs.Progress()
	return snap
}

// GpsPollingInterval returns the current GPS cadence for shells that poll on
// their own. Zero means polling is stopped.
func (g *Guardian) GpsPollingInterval() time.Duration {
	return g.machine.PollingInterval()
}

// OnAlert registers a callback for every raised alert.
func (g *Guardian) OnAlert(fn func(AlertEvent)) { g.listeners.addAlert(fn) }

// OnStateChange registers a callback for lifecycle transitions.
func (g *Guardian) OnStateChange(fn func(from, to fsm.State, ev fsm.Event)) {
	g.listeners.addState(fn)
}

// OnLocation registers a callback for accepted GPS fixes.
func (g *Guardian) OnLocation(fn func(trail.GeoPoint)) { g.listeners.addLocation(fn) }

// OnAssessment registers a callback for sunset assessments.
func (g *Guardian) OnAssessment(fn func(sunset.Assessment)) { g.listeners.addAssessment(fn) }

// OnOffTrail registers a callback for off-trail status updates.
func (g *Guardian) OnOffTrail(fn func(offtrail.Status)) { g.listeners.addOffTrail(fn) }

// OnError registers a callback for pipeline errors.
func (g *Guardian) OnError(fn func(error)) { g.listeners.addError(fn) }

func (g *Guardian) requestFix() {
	if g.locations == nil {
		return
	}
	g.listeners.safeInvoke("location_requester", g.locations.RequestLocation)
}

// armPoll restarts the poll timer from the machine's current interval. A
// zero interval leaves the timer stopped.
func (g *Guardian) armPoll() {
	if g.pollTimer == nil {
		return
	}
	if !g.pollTimer.Stop() {
		select {
		case <-g.pollTimer.C:
		default:
		}
	}
	if interval := g.machine.PollingInterval(); interval > 0 {
		g.pollTimer.Reset(interval)
	}
}

func (g *Guardian) newAlert(ev AlertEvent) AlertEvent {
	ev.ID = "alr_" + uuid.New().String()[:12]
	ev.Timestamp = time.Now()
	return ev
}

func (g *Guardian) emitAlert(ev AlertEvent) {
	g.fanOutAlert(g.newAlert(ev))
}

func (g *Guardian) fanOutAlert(ev AlertEvent) {
	g.metrics.recordAlert(ev.Type)

	g.logger.Info().
		Str("alert_id", ev.ID).
		Str("type", string(ev.Type)).
		Str("severity", string(ev.Severity)).
		Msg(ev.Title)

	if g.recorder != nil && g.sessionID != "" {
		rec := hikelog.AlertRecord{
			Type:     string(ev.Type),
			Severity: string(ev.Severity),
			Title:    ev.Title,
			Message:  ev.Message,
			RaisedAt: ev.Timestamp,
		}
		if err := g.recorder.Alert(g.sessionID, rec); err != nil {
			g.logger.Warn().Err(err).Msg("recording alert failed")
		}
	}

	g.listeners.emitAlert(ev)
}

func (g *Guardian) publishSnapshot() {
	snap := Snapshot{
		State:           g.machine.State(),
		Previous:        g.machine.Previous(),
		SessionID:       g.sessionID,
		TrailID:         g.trailID,
		PackageID:       g.packageID,
		StartedAt:       g.startedAt,
		BatteryLevel:    g.battery,
		Stationary:      g.machine.Snapshot().Stationary,
		PollingInterval: g.machine.PollingInterval(),
		LastAssessment:  g.lastAssessment,
		LastOffTrail:    g.lastOffTrail,
	}
	if g.lastFix != nil {
		cpy := *g.lastFix
		snap.LastPosition = &cpy
	}
	if len(g.contacts) > 0 {
		snap.Contacts = append([]pack.EmergencyContact(nil), g.contacts...)
	}
	g.snapshot.Store(&snap)
}
