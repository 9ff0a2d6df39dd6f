// Package ephemeris holds the sun and moon calendar bundled with an offline
// trail package. The sunset engine looks up the day matching each GPS fix, so
// multi-day trips roll over at local midnight without any network access.
package ephemeris

import (
	"math"
	"time"
)

// dateKeyLayout keys calendar days by local calendar date.
const dateKeyLayout = "2006-01-02"

// Day is the ephemeris for one calendar date at the trail's location.
type Day struct {
	Date             time.Time `json:"date"`
	Sunrise          time.Time `json:"sunrise"`
	Sunset           time.Time `json:"sunset"`
	CivilTwilightEnd time.Time `json:"civil_twilight_end"`

	// MoonPhase is the lunar cycle position in [0, 1): 0 = new moon,
	// 0.5 = full moon.
	MoonPhase float64 `json:"moon_phase"`
}

// Calendar is a date-keyed lookup over bundled ephemeris days.
type Calendar struct {
	days map[string]Day
}

// NewCalendar builds a calendar from the given days. Days are keyed by the
// calendar date of their Date field in its own location; a later day with the
// same date wins.
func NewCalendar(days []Day) *Calendar {
	m := make(map[string]Day, len(days))
	for _, d := range days {
		m[d.Date.Format(dateKeyLayout)] = d
	}
	return &Calendar{days: m}
}

// ForDate returns the ephemeris day matching the calendar date of t,
// resolved in t's own location.
func (c *Calendar) ForDate(t time.Time) (Day, bool) {
	d, ok := c.days[t.Format(dateKeyLayout)]
	return d, ok
}

// Empty reports whether the calendar holds no days.
func (c *Calendar) Empty() bool {
	return len(c.days) == 0
}

// Len returns the number of days in the calendar.
func (c *Calendar) Len() int {
	return len(c.days)
}

// PhaseName maps a lunar cycle position to its common English name.
// Inputs outside [0, 1) are normalized into the cycle first.
func PhaseName(phase float64) string {
	phase = math.Mod(phase, 1)
	if phase < 0 {
		phase++
	}

	switch {
	case phase < 0.0625 || phase >= 0.9375:
		return "new moon"
	case phase < 0.1875:
		return "waxing crescent"
	case phase < 0.3125:
		return "first quarter"
	case phase < 0.4375:
		return "waxing gibbous"
	case phase < 0.5625:
		return "full moon"
	case phase < 0.6875:
		return "waning gibbous"
	case phase < 0.8125:
		return "last quarter"
	default:
		return "waning crescent"
	}
}
