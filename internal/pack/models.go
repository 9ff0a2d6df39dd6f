// Package pack manages offline trail packages: the bundled maps, geometry,
// ephemeris, and emergency data a hike needs once the device drops off the
// network. It decides when to download, fetches packages from the pack
// service, and caches them in memory and on device storage.
package pack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GalSened/RoamWise-sub002/internal/ephemeris"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
	"github.com/GalSened/RoamWise-sub002/pkg/geo"
)

// Sentinel errors for package operations.
var (
	// ErrPackageNotFound indicates no cached package exists for the trail.
	ErrPackageNotFound = errors.New("trail package not found")
	// ErrDownloadInFlight indicates a download is already running.
	ErrDownloadInFlight = errors.New("package download already in flight")
	// ErrPackageInvalid indicates a downloaded package failed validation.
	ErrPackageInvalid = errors.New("trail package is invalid")
	// ErrServiceUnavailable indicates the pack service is down or unreachable.
	ErrServiceUnavailable = errors.New("pack service unavailable")
	// ErrUnauthorized indicates the device token was rejected.
	ErrUnauthorized = errors.New("device not authorized for pack service")
	// ErrQuotaExceeded indicates the package does not fit the storage quota.
	ErrQuotaExceeded = errors.New("package storage quota exceeded")
)

// Error provides detailed error information from package operations.
type Error struct {
	Op      string // Operation that generated the error
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the operation can
// be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrServiceUnavailable)
}

// BoundingBox is a geographic bounding box in degrees.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// IsZero reports whether the box is the zero value.
func (b BoundingBox) IsZero() bool {
	return b.MinLat == 0 && b.MinLon == 0 && b.MaxLat == 0 && b.MaxLon == 0
}

// TileSet describes the offline map tiles bundled with a package.
type TileSet struct {
	// URLTemplate is the {z}/{x}/{y} template the map shell renders from.
	URLTemplate string `json:"url_template"`
	MinZoom     int    `json:"min_zoom"`
	MaxZoom     int    `json:"max_zoom"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// Point of interest kinds bundled with a package.
const (
	POIWater     = "water"
	POIShelter   = "shelter"
	POIViewpoint = "viewpoint"
	POIJunction  = "junction"
	POIParking   = "parking"
)

// PointOfInterest is a named location inside the package area.
type PointOfInterest struct {
	Name     string         `json:"name"`
	Kind     string         `json:"kind"`
	Position trail.GeoPoint `json:"position"`
}

// Emergency contact kinds.
const (
	ContactRanger  = "ranger"
	ContactRescue  = "rescue"
	ContactMedical = "medical"
)

// EmergencyContact is a local emergency number bundled with a package.
type EmergencyContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Kind  string `json:"kind"`
}

// ForecastDay is one day of the weather outlook bundled for offline display.
type ForecastDay struct {
	Date              time.Time `json:"date"`
	Summary           string    `json:"summary"`
	HighC             float64   `json:"high_c"`
	LowC              float64   `json:"low_c"`
	PrecipProbability float64   `json:"precip_probability"`
	WindKph           float64   `json:"wind_kph"`
}

// TrailPackage is a fully decoded offline package for one trail.
type TrailPackage struct {
	ID      string `json:"id"`
	Version string `json:"version"`

	Trail *trail.TrailData `json:"trail"`
	BBox  BoundingBox      `json:"bbox"`
	Tiles TileSet          `json:"tiles"`

	POIs      []PointOfInterest  `json:"pois,omitempty"`
	Contacts  []EmergencyContact `json:"contacts,omitempty"`
	Ephemeris []ephemeris.Day    `json:"ephemeris,omitempty"`
	Forecast  []ForecastDay      `json:"forecast,omitempty"`

	Checksum  string `json:"checksum"`
	SizeBytes int64  `json:"size_bytes"`

	DownloadedAt time.Time `json:"downloaded_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the package has passed its expiry at the given
// instant.
func (p *TrailPackage) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !p.ExpiresAt.After(now)
}

// Validate checks a downloaded package before caching. Missing required
// fields produce an error naming every one of them; missing optional payload
// (POIs, contacts, forecast) produces non-fatal warnings and the package is
// cached anyway.
func Validate(p *TrailPackage) (warnings []string, err error) {
	if p == nil {
		return nil, fmt.Errorf("%w: package is nil", ErrPackageInvalid)
	}

	var missing []string
	if p.ID == "" {
		missing = append(missing, "id")
	}
	if p.Version == "" {
		missing = append(missing, "version")
	}
	if p.Trail == nil || len(p.Trail.Segments) == 0 {
		missing = append(missing, "trail geometry")
	}
	if p.BBox.IsZero() {
		missing = append(missing, "bounding box")
	}
	if p.Tiles.URLTemplate == "" {
		missing = append(missing, "tile template")
	}
	if p.Checksum == "" {
		missing = append(missing, "checksum")
	}
	if len(p.Ephemeris) == 0 {
		missing = append(missing, "ephemeris")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrPackageInvalid, strings.Join(missing, ", "))
	}

	if len(p.POIs) == 0 {
		warnings = append(warnings, "no points of interest")
	}
	if len(p.Contacts) == 0 {
		warnings = append(warnings, "no emergency contacts")
	}
	if len(p.Forecast) == 0 {
		warnings = append(warnings, "no weather forecast")
	}

	return warnings, nil
}

// ComputeBoundingBox returns the trail's geographic extents buffered by
// bufferKm on every side.
func ComputeBoundingBox(t *trail.TrailData, bufferKm float64) BoundingBox {
	if t == nil || len(t.Segments) == 0 {
		return BoundingBox{}
	}

	box := BoundingBox{
		MinLat: t.Segments[0].Start.Latitude,
		MaxLat: t.Segments[0].Start.Latitude,
		MinLon: t.Segments[0].Start.Longitude,
		MaxLon: t.Segments[0].Start.Longitude,
	}

	extend := func(p trail.GeoPoint) {
		if p.Latitude < box.MinLat {
			box.MinLat = p.Latitude
		}
		if p.Latitude > box.MaxLat {
			box.MaxLat = p.Latitude
		}
		if p.Longitude < box.MinLon {
			box.MinLon = p.Longitude
		}
		if p.Longitude > box.MaxLon {
			box.MaxLon = p.Longitude
		}
	}

	for _, seg := range t.Segments {
		extend(seg.Start)
		extend(seg.End)
	}

	if bufferKm > 0 {
		midLat := (box.MinLat + box.MaxLat) / 2
		latBuf := geo.KmToDegreesLat(bufferKm)
		lonBuf := geo.KmToDegreesLon(bufferKm, midLat)

		box.MinLat -= latBuf
		box.MaxLat += latBuf
		box.MinLon -= lonBuf
		box.MaxLon += lonBuf
	}

	return box
}

// NetworkStatus is the device's current connectivity class.
type NetworkStatus string

// Network status values, ordered from no connectivity to full bars.
const (
	NetworkOffline   NetworkStatus = "offline"
	NetworkPoor      NetworkStatus = "poor"
	NetworkFair      NetworkStatus = "fair"
	NetworkGood      NetworkStatus = "good"
	NetworkExcellent NetworkStatus = "excellent"
)

var networkRank = map[NetworkStatus]int{
	NetworkOffline:   0,
	NetworkPoor:      1,
	NetworkFair:      2,
	NetworkGood:      3,
	NetworkExcellent: 4,
}

// AtLeast reports whether the status ranks at or above the minimum. Unknown
// values rank as offline.
func (s NetworkStatus) AtLeast(minimum NetworkStatus) bool {
	return networkRank[s] >= networkRank[minimum]
}

// Decision is the outcome of a download trigger evaluation.
type Decision struct {
	// Download is true when all trigger conditions hold.
	Download bool `json:"download"`

	// Reason names the first failing condition, or confirms the trigger.
	Reason string `json:"reason"`

	// DistanceKm is the distance from the position to the trailhead.
	DistanceKm float64 `json:"distance_km"`
}

// Storage persists trail packages on the device.
type Storage interface {
	// Get retrieves a package by trail ID. Returns ErrPackageNotFound when
	// no package is cached.
	Get(ctx context.Context, id string) (*TrailPackage, error)
	// Set stores a package, replacing any existing one with the same ID.
	Set(ctx context.Context, p *TrailPackage) error
	// Delete removes a package. Deleting a missing package is not an error.
	Delete(ctx context.Context, id string) error
	// Has reports whether a package is cached for the trail ID.
	Has(ctx context.Context, id string) (bool, error)
	// StorageUsed returns the total bytes of cached packages.
	StorageUsed(ctx context.Context) (int64, error)
	// StorageQuota returns the storage budget in bytes.
	StorageQuota(ctx context.Context) (int64, error)
}

// Downloader fetches trail packages from the pack service.
type Downloader interface {
	// DownloadPackage fetches and decodes the package for a trail.
	DownloadPackage(ctx context.Context, trailID string, bbox BoundingBox) (*TrailPackage, error)
	// Progress reports download progress in [0, 1].
	Progress() float64
	// Cancel aborts the in-flight download, if any.
	Cancel()
}
