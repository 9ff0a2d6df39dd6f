package bridge

import (
	"fmt"
	"time"

	"github.com/GalSened/RoamWise-sub002/internal/fsm"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// errorResponse is the envelope every bridge error uses.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	Uptime        string `json:"uptime"`
	StreamClients int    `json:"stream_clients"`
}

// stateChange is the payload of state envelopes on the event stream.
type stateChange struct {
	From  fsm.State `json:"from"`
	To    fsm.State `json:"to"`
	Event fsm.Event `json:"event"`
}

// trailRequest selects or downloads a trail. The shell sends either full
// geometry or a bare ID referencing an already cached package.
type trailRequest struct {
	ID        string           `json:"id"`
	Name      string           `json:"name,omitempty"`
	Points    []trailPoint     `json:"points,omitempty"`
	Waypoints []trail.Waypoint `json:"waypoints,omitempty"`
}

type trailPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Ele float64 `json:"ele,omitempty"`
}

func (tr trailRequest) build() (*trail.TrailData, error) {
	points := make([]trail.GeoPoint, len(tr.Points))
	for i, p := range tr.Points {
		points[i] = trail.GeoPoint{Latitude: p.Lat, Longitude: p.Lon, Altitude: p.Ele}
	}

	name := tr.Name
	if name == "" {
		name = tr.ID
	}
	return trail.Build(tr.ID, name, points, tr.Waypoints)
}

// locationRequest is a GPS fix pushed by the shell.
type locationRequest struct {
	Lat float64   `json:"lat"`
	Lon float64   `json:"lon"`
	Alt float64   `json:"alt,omitempty"`
	Acc float64   `json:"acc,omitempty"`
	Ts  time.Time `json:"ts,omitempty"`
}

func (lr locationRequest) geoPoint() (trail.GeoPoint, error) {
	if lr.Lat < -90 || lr.Lat > 90 || lr.Lon < -180 || lr.Lon > 180 {
		return trail.GeoPoint{}, fmt.Errorf("coordinates out of range: %.6f, %.6f", lr.Lat, lr.Lon)
	}

	p := trail.GeoPoint{
		Latitude:  lr.Lat,
		Longitude: lr.Lon,
		Altitude:  lr.Alt,
		Accuracy:  lr.Acc,
		Timestamp: lr.Ts,
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	return p, nil
}

// batteryRequest carries the shell's battery reading. Level is a pointer so
// a body that omits it is told apart from a genuine zero.
type batteryRequest struct {
	Level *float64 `json:"level"`
}

type emergencyRequest struct {
	Reason string `json:"reason"`
}
