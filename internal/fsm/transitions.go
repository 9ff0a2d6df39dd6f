package fsm

var allStates = []State{
	StateIdle,
	StatePreparing,
	StateReadyToHike,
	StateLimitedMode,
	StateTracking,
	StateAlertingOffTrail,
	StateAlertingSunset,
	StateLowBatteryMode,
	StateCompleting,
	StateEmergency,
}

// trackingFamily lists the in-hike states; session-ending events apply to all
// of them.
var trackingFamily = []State{
	StateTracking,
	StateAlertingOffTrail,
	StateAlertingSunset,
	StateLowBatteryMode,
	StateEmergency,
}

func raiseAlert(m *Machine) { m.context.AlertActive = true }
func clearAlert(m *Machine) { m.context.AlertActive = false }

func batteryLow(m *Machine) bool {
	return m.context.BatteryLevel <= m.config.LowBatteryThreshold
}

func batteryRecovered(m *Machine) bool {
	return m.context.BatteryLevel >= m.config.LowBatteryThreshold+m.config.RecoveryMargin
}

// transitions is the hike lifecycle table. Family rows are expanded once at
// package init so Dispatch does a flat scan over explicit rows.
var transitions = buildTransitions()

func buildTransitions() []Transition {
	t := []Transition{
		{From: StateIdle, On: EventTrailSelected, To: StatePreparing},

		{From: StatePreparing, On: EventPackageReady, To: StateReadyToHike},
		{From: StatePreparing, On: EventPackageMissing, To: StateLimitedMode},
		{From: StatePreparing, On: EventPreparationAbandoned, To: StateIdle},
		{From: StateReadyToHike, On: EventPreparationAbandoned, To: StateIdle},
		{From: StateLimitedMode, On: EventPreparationAbandoned, To: StateIdle},

		{From: StateReadyToHike, On: EventHikeStarted, To: StateTracking},
		{From: StateLimitedMode, On: EventHikeStarted, To: StateTracking},

		{From: StateTracking, On: EventOffTrailDetected, To: StateAlertingOffTrail, Action: raiseAlert},
		{From: StateAlertingSunset, On: EventOffTrailDetected, To: StateAlertingOffTrail},
		{From: StateAlertingOffTrail, On: EventBackOnTrail, To: StateTracking, Action: clearAlert},

		{From: StateTracking, On: EventSunsetWarning, To: StateAlertingSunset, Action: raiseAlert},
		{From: StateAlertingOffTrail, On: EventSunsetWarning, To: StateAlertingSunset},
		{From: StateAlertingSunset, On: EventSunsetCleared, To: StateTracking, Action: clearAlert},
	}

	// Low battery demotes any non-battery alerting state. Emergency is never
	// demoted and low_battery_mode has no self loop.
	for _, s := range []State{StateTracking, StateAlertingOffTrail, StateAlertingSunset} {
		t = append(t, Transition{From: s, On: EventLowBattery, To: StateLowBatteryMode, Guard: batteryLow})
	}
	t = append(t, Transition{From: StateLowBatteryMode, On: EventBatteryRecovered, To: StateTracking, Guard: batteryRecovered})

	for _, s := range allStates {
		if !s.Active() {
			continue
		}
		t = append(t, Transition{From: s, On: EventEmergencyTriggered, To: StateEmergency})
	}
	t = append(t, Transition{From: StateEmergency, On: EventEmergencyResolved, To: StateTracking})

	for _, s := range trackingFamily {
		t = append(t,
			Transition{From: s, On: EventHikeCompleted, To: StateCompleting},
			Transition{From: s, On: EventHikeStopped, To: StateCompleting},
		)
	}
	t = append(t, Transition{From: StateCompleting, On: EventSessionClosed, To: StateIdle})

	return t
}

func lookup(from State, ev Event) (Transition, bool) {
	for _, tr := range transitions {
		if tr.From == from && tr.On == ev {
			return tr, true
		}
	}
	return Transition{}, false
}
