// Package geo provides geodesic math on a spherical Earth: great-circle
// distance, forward azimuth, point-to-segment projection, and the
// kilometer-to-degree conversions used for bounding boxes.
package geo

import (
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for spherical distance math.
const EarthRadiusMeters = 6371000

// metersPerDegreeLat is the length of one degree of latitude on the sphere.
const metersPerDegreeLat = 2 * math.Pi * EarthRadiusMeters / 360

// Haversine returns the great-circle distance in meters between two
// latitude/longitude pairs given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(rLat1)*math.Cos(rLat2)*sinDLon*sinDLon
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Bearing returns the initial great-circle bearing in degrees [0, 360)
// from the first point to the second.
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	rLat1 := lat1 * math.Pi / 180
	rLat2 := lat2 * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(rLat2)
	x := math.Cos(rLat1)*math.Sin(rLat2) - math.Sin(rLat1)*math.Cos(rLat2)*math.Cos(dLon)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Projection is the result of projecting a point onto a segment.
type Projection struct {
	// Latitude and Longitude locate the closest point on the segment.
	Latitude  float64
	Longitude float64

	// Ratio is the position of the closest point along the segment,
	// clamped to [0, 1] (0 = segment start, 1 = segment end).
	Ratio float64

	// DistanceMeters is the distance from the query point to the
	// closest point.
	DistanceMeters float64
}

// ProjectOntoSegment projects point p onto the segment a-b and returns the
// closest point, the clamped position ratio, and the separation distance.
// The projection is computed in a local equirectangular plane, which is
// accurate at trail-segment scales.
func ProjectOntoSegment(pLat, pLon, aLat, aLon, bLat, bLon float64) Projection {
	midLat := (aLat + bLat) / 2 * math.Pi / 180
	mPerDegLon := metersPerDegreeLat * math.Cos(midLat)

	abx := (bLon - aLon) * mPerDegLon
	aby := (bLat - aLat) * metersPerDegreeLat
	apx := (pLon - aLon) * mPerDegLon
	apy := (pLat - aLat) * metersPerDegreeLat

	ratio := 0.0
	if segLenSq := abx*abx + aby*aby; segLenSq > 0 {
		ratio = (apx*abx + apy*aby) / segLenSq
	}
	if ratio < 0 {
		ratio = 0
	} else if ratio > 1 {
		ratio = 1
	}

	lat := aLat + ratio*(bLat-aLat)
	lon := aLon + ratio*(bLon-aLon)

	return Projection{
		Latitude:       lat,
		Longitude:      lon,
		Ratio:          ratio,
		DistanceMeters: Haversine(pLat, pLon, lat, lon),
	}
}

// KmToDegreesLat converts a north-south distance in kilometers to degrees
// of latitude.
func KmToDegreesLat(km float64) float64 {
	return km * 1000 / metersPerDegreeLat
}

// KmToDegreesLon converts an east-west distance in kilometers to degrees of
// longitude at the given latitude. Near the poles the conversion degenerates;
// the divisor is floored to one meter per degree to keep the result finite.
func KmToDegreesLon(km, atLat float64) float64 {
	mPerDeg := metersPerDegreeLat * math.Cos(atLat*math.Pi/180)
	if mPerDeg < 1 {
		mPerDeg = 1
	}
	return km * 1000 / mPerDeg
}
