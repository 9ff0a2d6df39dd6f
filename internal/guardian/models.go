package guardian

import (
	"errors"
	"time"

	"github.com/GalSened/RoamWise-sub002/internal/fsm"
	"github.com/GalSened/RoamWise-sub002/internal/hikelog"
	"github.com/GalSened/RoamWise-sub002/internal/offtrail"
	"github.com/GalSened/RoamWise-sub002/internal/pack"
	"github.com/GalSened/RoamWise-sub002/internal/sunset"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// Predefined guardian errors.
var (
	// ErrAlreadyStarted is returned when Start is called on a running
	// guardian.
	ErrAlreadyStarted = errors.New("guardian already started")

	// ErrNotStarted is returned when an operation needs the actor loop and
	// the guardian has not been started.
	ErrNotStarted = errors.New("guardian not started")

	// ErrClosed is returned when the guardian has been shut down.
	ErrClosed = errors.New("guardian closed")

	// ErrNoTrail is returned when an operation needs trail data and none
	// was provided.
	ErrNoTrail = errors.New("no trail data")
)

// AlertType classifies a safety alert.
type AlertType string

// Alert types.
const (
	AlertOffTrail       AlertType = "off_trail"
	AlertSunsetWarning  AlertType = "sunset_warning"
	AlertSunsetCritical AlertType = "sunset_critical"
	AlertLowBattery     AlertType = "low_battery"
	AlertCacheExpiring  AlertType = "cache_expiring"
	AlertEmergency      AlertType = "emergency"
)

// Severity grades how urgently an alert needs the hiker's attention.
type Severity string

// Alert severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertAction is a suggested response the shell can offer for an alert.
type AlertAction struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// AlertEvent is a safety alert fanned out to listeners and recorded in the
// hike log.
type AlertEvent struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`

	// Data carries alert-specific payload such as the return vector of an
	// off-trail alert or the contacts of an emergency alert.
	Data map[string]any `json:"data,omitempty"`

	RequiresUserAction bool          `json:"requires_user_action"`
	Actions            []AlertAction `json:"actions,omitempty"`
}

// Snapshot is a point-in-time view of the guardian, safe to read without
// touching the actor loop.
type Snapshot struct {
	State    fsm.State `json:"state"`
	Previous fsm.State `json:"previous"`

	SessionID string    `json:"session_id,omitempty"`
	TrailID   string    `json:"trail_id,omitempty"`
	PackageID string    `json:"package_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`

	LastPosition *trail.GeoPoint `json:"last_position,omitempty"`

	BatteryLevel    float64       `json:"battery_level"`
	Stationary      bool          `json:"stationary"`
	PollingInterval time.Duration `json:"polling_interval"`

	// DownloadProgress is the live fraction of an in-flight package
	// download, 0 when idle.
	DownloadProgress float64 `json:"download_progress"`

	LastAssessment *sunset.Assessment `json:"last_assessment,omitempty"`
	LastOffTrail   *offtrail.Status   `json:"last_off_trail,omitempty"`

	Contacts []pack.EmergencyContact `json:"contacts,omitempty"`
}

// LocationRequester asks the platform for a GPS fix. The fix re-enters the
// guardian through UpdateLocation, so implementations must not block.
type LocationRequester interface {
	RequestLocation()
}

// SessionRecorder persists hike sessions. *hikelog.Recorder implements it.
type SessionRecorder interface {
	Begin(sessionID, trailID string, startedAt time.Time) error
	Point(sessionID string, p trail.GeoPoint, speedMps float64) error
	Alert(sessionID string, rec hikelog.AlertRecord) error
	Finish(sessionID string, endedAt time.Time) (hikelog.Summary, error)
}

// Ensure the hike log recorder satisfies the interface.
var _ SessionRecorder = (*hikelog.Recorder)(nil)
