// Package fsm implements the hike lifecycle state machine: a static
// transition table over named states and events, guarded battery
// transitions, and the GPS polling policy derived from the current state.
// The machine holds no geometry and performs no I/O beyond transition logs.
package fsm

// State identifies one phase of the hike lifecycle.
type State string

const (
	StateIdle             State = "idle"
	StatePreparing        State = "preparing"
	StateReadyToHike      State = "ready_to_hike"
	StateLimitedMode      State = "limited_mode"
	StateTracking         State = "tracking"
	StateAlertingOffTrail State = "alerting_off_trail"
	StateAlertingSunset   State = "alerting_sunset"
	StateLowBatteryMode   State = "low_battery_mode"
	StateCompleting       State = "completing"
	StateEmergency        State = "emergency"
)

// Event names an external or internal occurrence the machine reacts to.
type Event string

const (
	EventTrailSelected        Event = "trail_selected"
	EventPackageReady         Event = "package_ready"
	EventPackageMissing       Event = "package_missing"
	EventPreparationAbandoned Event = "preparation_abandoned"
	EventHikeStarted          Event = "hike_started"
	EventOffTrailDetected     Event = "off_trail_detected"
	EventBackOnTrail          Event = "back_on_trail"
	EventSunsetWarning        Event = "sunset_warning"
	EventSunsetCleared        Event = "sunset_cleared"
	EventLowBattery           Event = "low_battery"
	EventBatteryRecovered     Event = "battery_recovered"
	EventEmergencyTriggered   Event = "emergency_triggered"
	EventEmergencyResolved    Event = "emergency_resolved"
	EventHikeCompleted        Event = "hike_completed"
	EventHikeStopped          Event = "hike_stopped"
	EventSessionClosed        Event = "session_closed"
)

// TrackingFamily reports whether the state is part of an active hike, where
// GPS fixes flow and hazard monitoring runs.
func (s State) TrackingFamily() bool {
	switch s {
	case StateTracking, StateAlertingOffTrail, StateAlertingSunset, StateLowBatteryMode, StateEmergency:
		return true
	}
	return false
}

// Active reports whether an emergency can be raised from the state. Idle has
// no session to escalate and emergency cannot re-enter itself.
func (s State) Active() bool {
	return s != StateIdle && s != StateEmergency
}

// Context carries the mutable flags guards and actions read and write.
type Context struct {
	// BatteryLevel is the last reported charge fraction in [0, 1].
	BatteryLevel float64

	// Stationary is the last reported movement flag.
	Stationary bool

	// AlertActive is set while a hazard alert owns the current state.
	AlertActive bool
}

// Transition is one row of the machine's static table. Guard and Action run
// inside the machine's critical section and must not call back into it.
type Transition struct {
	From   State
	On     Event
	To     State
	Guard  func(m *Machine) bool
	Action func(m *Machine)
}
