package pack

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/GalSened/RoamWise-sub002/internal/ephemeris"
	"github.com/GalSened/RoamWise-sub002/internal/trail"
	"github.com/GalSened/RoamWise-sub002/pkg/polyline"
)

// packagePayload is the JSON envelope the pack service serves. Trail geometry
// travels as an encoded polyline with a parallel elevations array instead of
// a point list; local cache stamps (DownloadedAt, ExpiresAt) are not part of
// the wire format.
type packagePayload struct {
	ID        string             `json:"id"`
	Version   string             `json:"version"`
	Trail     trailPayload       `json:"trail"`
	BBox      BoundingBox        `json:"bbox"`
	Tiles     TileSet            `json:"tiles"`
	POIs      []PointOfInterest  `json:"pois,omitempty"`
	Contacts  []EmergencyContact `json:"contacts,omitempty"`
	Ephemeris []ephemeris.Day    `json:"ephemeris,omitempty"`
	Forecast  []ForecastDay      `json:"forecast,omitempty"`
	Checksum  string             `json:"checksum"`
	SizeBytes int64              `json:"size_bytes,omitempty"`
}

type trailPayload struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Polyline   string           `json:"polyline"`
	Elevations []float64        `json:"elevations,omitempty"`
	Waypoints  []trail.Waypoint `json:"waypoints,omitempty"`
}

// DecodePayload parses a wire-format package envelope, verifies the geometry
// checksum, and rebuilds the trail from its polyline and elevations.
func DecodePayload(data []byte) (*TrailPackage, error) {
	var payload packagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding package payload: %w", err)
	}

	if payload.Checksum != "" {
		computed := geometryChecksum(payload.Trail.Polyline, payload.Trail.Elevations)
		if payload.Checksum != computed {
			return nil, fmt.Errorf("%w: geometry checksum mismatch", ErrPackageInvalid)
		}
	}

	coords := polyline.Decode(payload.Trail.Polyline)
	points := make([]trail.GeoPoint, len(coords))
	for i, c := range coords {
		points[i] = trail.GeoPoint{Latitude: c.Lat, Longitude: c.Lon}
		if i < len(payload.Trail.Elevations) {
			points[i].Altitude = payload.Trail.Elevations[i]
		}
	}

	t, err := trail.Build(payload.Trail.ID, payload.Trail.Name, points, payload.Trail.Waypoints)
	if err != nil {
		return nil, fmt.Errorf("%w: building trail geometry: %v", ErrPackageInvalid, err)
	}

	return &TrailPackage{
		ID:        payload.ID,
		Version:   payload.Version,
		Trail:     t,
		BBox:      payload.BBox,
		Tiles:     payload.Tiles,
		POIs:      payload.POIs,
		Contacts:  payload.Contacts,
		Ephemeris: payload.Ephemeris,
		Forecast:  payload.Forecast,
		Checksum:  payload.Checksum,
		SizeBytes: payload.SizeBytes,
	}, nil
}

// EncodePayload renders a package into the wire-format envelope. The trail
// geometry is re-encoded as a polyline with a parallel elevations array, and
// the geometry checksum is recomputed from the encoded form.
func EncodePayload(p *TrailPackage) ([]byte, error) {
	if p == nil || p.Trail == nil || len(p.Trail.Segments) == 0 {
		return nil, fmt.Errorf("%w: no trail geometry to encode", ErrPackageInvalid)
	}

	coords := make([]polyline.Coordinate, 0, len(p.Trail.Segments)+1)
	elevations := make([]float64, 0, len(p.Trail.Segments)+1)

	appendPoint := func(pt trail.GeoPoint) {
		coords = append(coords, polyline.Coordinate{Lat: pt.Latitude, Lon: pt.Longitude})
		elevations = append(elevations, pt.Altitude)
	}

	appendPoint(p.Trail.Segments[0].Start)
	for _, seg := range p.Trail.Segments {
		appendPoint(seg.End)
	}

	encoded := polyline.Encode(coords)
	checksum := geometryChecksum(encoded, elevations)

	payload := packagePayload{
		ID:      p.ID,
		Version: p.Version,
		Trail: trailPayload{
			ID:         p.Trail.ID,
			Name:       p.Trail.Name,
			Polyline:   encoded,
			Elevations: elevations,
			Waypoints:  p.Trail.Waypoints,
		},
		BBox:      p.BBox,
		Tiles:     p.Tiles,
		POIs:      p.POIs,
		Contacts:  p.Contacts,
		Ephemeris: p.Ephemeris,
		Forecast:  p.Forecast,
		Checksum:  checksum,
		SizeBytes: p.SizeBytes,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding package payload: %w", err)
	}
	return data, nil
}

// geometryChecksum hashes the encoded polyline and elevation array so a
// corrupted download is caught before the trail is rebuilt.
func geometryChecksum(encoded string, elevations []float64) string {
	h := sha256.New()
	h.Write([]byte(encoded))

	var buf [8]byte
	for _, e := range elevations {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(e))
		h.Write(buf[:])
	}

	return hex.EncodeToString(h.Sum(nil))
}
