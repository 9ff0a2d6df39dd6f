// Package polyline implements Google's encoded polyline algorithm, used as
// the compact wire format for trail geometry inside offline trail packages.
// The format is documented at:
// https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"math"
	"strings"

	"github.com/GalSened/RoamWise-sub002/pkg/geo"
)

// Coordinate represents a geographic point with latitude and longitude.
type Coordinate struct {
	Lat float64
	Lon float64
}

// precision is the standard 5-decimal-place polyline precision (~1.1m).
const precision = 1e5

// Decode decodes a polyline-encoded string into a slice of coordinates.
func Decode(encoded string) []Coordinate {
	if encoded == "" {
		return nil
	}

	coords := make([]Coordinate, 0, len(encoded)/4)
	lat, lon := 0, 0

	for i := 0; i < len(encoded); {
		var dLat, dLon int
		dLat, i = decodeDelta(encoded, i)
		dLon, i = decodeDelta(encoded, i)
		lat += dLat
		lon += dLon

		coords = append(coords, Coordinate{
			Lat: float64(lat) / precision,
			Lon: float64(lon) / precision,
		})
	}

	return coords
}

// decodeDelta decodes one zigzag-encoded delta starting at index i and
// returns the delta and the index of the next value.
func decodeDelta(encoded string, i int) (int, int) {
	shift, result := 0, 0

	for i < len(encoded) {
		b := int(encoded[i]) - 63
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), i
	}
	return result >> 1, i
}

// Encode encodes a slice of coordinates into a polyline string.
func Encode(coords []Coordinate) string {
	if len(coords) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(coords) * 4)
	prevLat, prevLon := 0, 0

	for _, c := range coords {
		lat := int(math.Round(c.Lat * precision))
		lon := int(math.Round(c.Lon * precision))

		encodeDelta(&sb, lat-prevLat)
		encodeDelta(&sb, lon-prevLon)

		prevLat, prevLon = lat, lon
	}

	return sb.String()
}

// encodeDelta writes one zigzag-encoded delta in 5-bit chunks.
func encodeDelta(sb *strings.Builder, value int) {
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		sb.WriteByte(byte((value&0x1f)|0x20) + 63)
		value >>= 5
	}
	sb.WriteByte(byte(value) + 63)
}

// Length returns the total great-circle length of the polyline in meters.
func Length(coords []Coordinate) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += geo.Haversine(coords[i-1].Lat, coords[i-1].Lon, coords[i].Lat, coords[i].Lon)
	}
	return total
}
