package guardian

import (
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"github.com/GalSened/RoamWise-sub002/internal/fsm"
	"github.com/GalSened/RoamWise-sub002/internal/offtrail"
	"github.com/GalSened/RoamWise-sub002/internal/sunset"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// listenerRegistry fans guardian events out to registered callbacks.
// Registration is safe from any goroutine; invocation happens on the actor
// goroutine, so callbacks must not call back into guardian operations.
type listenerRegistry struct {
	logger zerolog.Logger

	mu           sync.RWMutex
	onAlert      []func(AlertEvent)
	onState      []func(from, to fsm.State, ev fsm.Event)
	onLocation   []func(trail.GeoPoint)
	onAssessment []func(sunset.Assessment)
	onOffTrail   []func(offtrail.Status)
	onError      []func(error)
}

func newListenerRegistry(logger zerolog.Logger) *listenerRegistry {
	return &listenerRegistry{logger: logger}
}

func (l *listenerRegistry) addAlert(fn func(AlertEvent)) {
	l.mu.Lock()
	l.onAlert = append(l.onAlert, fn)
	l.mu.Unlock()
}

func (l *listenerRegistry) addState(fn func(from, to fsm.State, ev fsm.Event)) {
	l.mu.Lock()
	l.onState = append(l.onState, fn)
	l.mu.Unlock()
}

func (l *listenerRegistry) addLocation(fn func(trail.GeoPoint)) {
	l.mu.Lock()
	l.onLocation = append(l.onLocation, fn)
	l.mu.Unlock()
}

func (l *listenerRegistry) addAssessment(fn func(sunset.Assessment)) {
	l.mu.Lock()
	l.onAssessment = append(l.onAssessment, fn)
	l.mu.Unlock()
}

func (l *listenerRegistry) addOffTrail(fn func(offtrail.Status)) {
	l.mu.Lock()
	l.onOffTrail = append(l.onOffTrail, fn)
	l.mu.Unlock()
}

func (l *listenerRegistry) addError(fn func(error)) {
	l.mu.Lock()
	l.onError = append(l.onError, fn)
	l.mu.Unlock()
}

func (l *listenerRegistry) emitAlert(ev AlertEvent) {
	l.mu.RLock()
	listeners := append(([]func(AlertEvent))(nil), l.onAlert...)
	l.mu.RUnlock()

	for _, fn := range listeners {
		l.safeInvoke("alert", func() { fn(ev) })
	}
}

func (l *listenerRegistry) emitState(from, to fsm.State, ev fsm.Event) {
	l.mu.RLock()
	listeners := append(([]func(from, to fsm.State, ev fsm.Event))(nil), l.onState...)
	l.mu.RUnlock()

	for _, fn := range listeners {
		l.safeInvoke("state", func() { fn(from, to, ev) })
	}
}

func (l *listenerRegistry) emitLocation(p trail.GeoPoint) {
	l.mu.RLock()
	listeners := append(([]func(trail.GeoPoint))(nil), l.onLocation...)
	l.mu.RUnlock()

	for _, fn := range listeners {
		l.safeInvoke("location", func() { fn(p) })
	}
}

func (l *listenerRegistry) emitAssessment(a sunset.Assessment) {
	l.mu.RLock()
	listeners := append(([]func(sunset.Assessment))(nil), l.onAssessment...)
	l.mu.RUnlock()

	for _, fn := range listeners {
		l.safeInvoke("assessment", func() { fn(a) })
	}
}

func (l *listenerRegistry) emitOffTrail(s offtrail.Status) {
	l.mu.RLock()
	listeners := append(([]func(offtrail.Status))(nil), l.onOffTrail...)
	l.mu.RUnlock()

	for _, fn := range listeners {
		l.safeInvoke("offtrail", func() { fn(s) })
	}
}

func (l *listenerRegistry) emitError(err error) {
	l.mu.RLock()
	listeners := append(([]func(error))(nil), l.onError...)
	l.mu.RUnlock()

	for _, fn := range listeners {
		l.safeInvoke("error", func() { fn(err) })
	}
}

// safeInvoke isolates a panicking callback: the panic is logged with its
// stack and the remaining listeners still run.
func (l *listenerRegistry) safeInvoke(name string, fn func()) {
	defer func() {
		if err := recover(); err != nil {
			l.logger.Error().
				Interface("panic", err).
				Str("listener", name).
				Str("stack", string(debug.Stack())).
				Msg("listener panicked")
		}
	}()
	fn()
}
