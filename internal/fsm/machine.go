package fsm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNoTransition is returned when the current state has no row for the
	// dispatched event. The state is left unchanged.
	ErrNoTransition = errors.New("no transition for event in current state")

	// ErrGuardRejected is returned when a matching row's guard declines the
	// event. The state is left unchanged.
	ErrGuardRejected = errors.New("transition guard rejected event")
)

// Machine defaults.
const (
	DefaultMovingInterval      = 10 * time.Second
	DefaultStationaryInterval  = 60 * time.Second
	DefaultLowBatteryInterval  = 120 * time.Second
	DefaultLowBatteryThreshold = 0.15
	DefaultRecoveryMargin      = 0.05
)

// Config holds configuration for the state machine.
type Config struct {
	// Logger for transition logs.
	Logger zerolog.Logger

	// MovingInterval is the polling interval while the hiker moves.
	// Default: 10s.
	MovingInterval time.Duration

	// StationaryInterval is the polling interval while the hiker rests.
	// Default: 60s.
	StationaryInterval time.Duration

	// LowBatteryInterval is the polling interval in low battery mode,
	// regardless of movement. Default: 120s.
	LowBatteryInterval time.Duration

	// LowBatteryThreshold is the charge fraction at or below which the
	// machine enters low battery mode. Default: 0.15.
	LowBatteryThreshold float64

	// RecoveryMargin is how far above the threshold the charge must climb
	// before battery_recovered passes its guard. Default: 0.05.
	RecoveryMargin float64
}

// Machine walks the hike lifecycle table. All methods are safe for concurrent
// use; transition listeners run outside the critical section.
type Machine struct {
	config Config
	logger zerolog.Logger

	mu        sync.RWMutex
	state     State
	previous  State
	context   Context
	interval  time.Duration
	listeners []func(from, to State, ev Event)
}

// New creates a machine in the idle state. Zero config fields fall back to
// the package defaults. Battery starts at full charge so an unreported level
// cannot pass the low battery guard.
func New(cfg Config) *Machine {
	if cfg.MovingInterval == 0 {
		cfg.MovingInterval = DefaultMovingInterval
	}
	if cfg.StationaryInterval == 0 {
		cfg.StationaryInterval = DefaultStationaryInterval
	}
	if cfg.LowBatteryInterval == 0 {
		cfg.LowBatteryInterval = DefaultLowBatteryInterval
	}
	if cfg.LowBatteryThreshold == 0 {
		cfg.LowBatteryThreshold = DefaultLowBatteryThreshold
	}
	if cfg.RecoveryMargin == 0 {
		cfg.RecoveryMargin = DefaultRecoveryMargin
	}

	return &Machine{
		config:   cfg,
		logger:   cfg.Logger.With().Str("component", "fsm").Logger(),
		state:    StateIdle,
		previous: StateIdle,
		context:  Context{BatteryLevel: 1.0},
	}
}

// Dispatch applies an event to the current state. An event with no matching
// row, or one whose guard declines, reports an error and changes nothing.
// On a match the row's action runs, the state swaps, the polling interval is
// recomputed, and listeners are notified in registration order.
func (m *Machine) Dispatch(ev Event) error {
	m.mu.Lock()

	tr, ok := lookup(m.state, ev)
	if !ok {
		state := m.state
		m.mu.Unlock()

		m.logger.Warn().
			Str("state", string(state)).
			Str("event", string(ev)).
			Msg("event has no transition from current state")
		return fmt.Errorf("%w: %s in %s", ErrNoTransition, ev, state)
	}

	if tr.Guard != nil && !tr.Guard(m) {
		state := m.state
		m.mu.Unlock()

		m.logger.Warn().
			Str("state", string(state)).
			Str("event", string(ev)).
			Msg("transition guard rejected event")
		return fmt.Errorf("%w: %s in %s", ErrGuardRejected, ev, state)
	}

	if tr.Action != nil {
		tr.Action(m)
	}

	from := m.state
	m.previous = from
	m.state = tr.To
	m.recomputeInterval()

	listeners := make([]func(from, to State, ev Event), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Info().
		Str("from", string(from)).
		Str("to", string(tr.To)).
		Str("event", string(ev)).
		Msg("state transition")

	for _, fn := range listeners {
		fn(from, tr.To, ev)
	}
	return nil
}

// SetBattery records the reported charge fraction. When the level sits at or
// below the threshold in a state where the hike is live (and the machine is
// not already in low battery mode or an emergency), the machine dispatches
// low_battery itself. Recovery is always caller-driven.
func (m *Machine) SetBattery(level float64) {
	m.mu.Lock()
	m.context.BatteryLevel = level
	state := m.state
	threshold := m.config.LowBatteryThreshold
	m.mu.Unlock()

	if level > threshold {
		return
	}
	if !state.TrackingFamily() || state == StateLowBatteryMode || state == StateEmergency {
		return
	}

	_ = m.Dispatch(EventLowBattery)
}

// SetStationary records the movement flag and recomputes the polling
// interval.
func (m *Machine) SetStationary(stationary bool) {
	m.mu.Lock()
	m.context.Stationary = stationary
	m.recomputeInterval()
	m.mu.Unlock()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Previous returns the state before the most recent transition.
func (m *Machine) Previous() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.previous
}

// Snapshot returns a copy of the machine's context flags.
func (m *Machine) Snapshot() Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.context
}

// PollingInterval returns the GPS polling interval for the current state and
// movement flag. Zero means polling is stopped.
func (m *Machine) PollingInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

// RecoveryLevel returns the battery level at which a device in low battery
// mode may resume normal tracking.
func (m *Machine) RecoveryLevel() float64 {
	return m.config.LowBatteryThreshold + m.config.RecoveryMargin
}

// OnTransition registers a listener invoked after every applied transition.
func (m *Machine) OnTransition(fn func(from, to State, ev Event)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// recomputeInterval derives the polling interval. Battery saving wins over
// movement state; an emergency is never slowed. Callers hold m.mu.
func (m *Machine) recomputeInterval() {
	switch {
	case m.state == StateLowBatteryMode:
		m.interval = m.config.LowBatteryInterval
	case m.state == StateEmergency:
		m.interval = m.config.MovingInterval
	case m.state.TrackingFamily():
		if m.context.Stationary {
			m.interval = m.config.StationaryInterval
		} else {
			m.interval = m.config.MovingInterval
		}
	default:
		m.interval = 0
	}
}
