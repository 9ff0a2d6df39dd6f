// Package gpx reads GPX 1.1 documents into trail geometry.
//
// The parser keeps only what the safety engines need: track points with
// position, elevation, and timestamp, flattened across tracks and segments.
// Route points serve as a fallback for planning files that carry no recorded
// track. Extensions and vendor namespaces are ignored.
package gpx

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/GalSened/RoamWise-sub002/internal/trail"
)

// ErrNoPoints is returned when a document contains neither track points nor
// route points.
var ErrNoPoints = errors.New("gpx: no track or route points")

// Track is a parsed GPX document flattened to a single point sequence.
type Track struct {
	// Name is the first track name in the document, falling back to the
	// metadata name and then to the first route name.
	Name string

	// Points holds the track points in document order, or the route points
	// when the document has no track.
	Points []trail.GeoPoint
}

type document struct {
	XMLName  xml.Name `xml:"gpx"`
	Metadata metadata `xml:"metadata"`
	Tracks   []trk    `xml:"trk"`
	Routes   []rte    `xml:"rte"`
}

type metadata struct {
	Name string `xml:"name"`
}

type trk struct {
	Name     string   `xml:"name"`
	Segments []trkseg `xml:"trkseg"`
}

type trkseg struct {
	Points []gpxPoint `xml:"trkpt"`
}

type rte struct {
	Name   string     `xml:"name"`
	Points []gpxPoint `xml:"rtept"`
}

type gpxPoint struct {
	Lat  float64   `xml:"lat,attr"`
	Lon  float64   `xml:"lon,attr"`
	Ele  float64   `xml:"ele"`
	Time time.Time `xml:"time"`
}

func (p gpxPoint) geoPoint() trail.GeoPoint {
	return trail.GeoPoint{
		Latitude:  p.Lat,
		Longitude: p.Lon,
		Altitude:  p.Ele,
		Timestamp: p.Time,
	}
}

// Parse decodes a GPX 1.1 document from r. Track points win over route
// points; geometry validation is left to trail.Build.
func Parse(r io.Reader) (*Track, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing gpx: %w", err)
	}

	name := doc.Metadata.Name
	for _, t := range doc.Tracks {
		if t.Name != "" {
			name = t.Name
			break
		}
	}

	var points []trail.GeoPoint
	for _, t := range doc.Tracks {
		for _, seg := range t.Segments {
			for _, p := range seg.Points {
				points = append(points, p.geoPoint())
			}
		}
	}

	if len(points) == 0 {
		for _, rt := range doc.Routes {
			if name == "" {
				name = rt.Name
			}
			for _, p := range rt.Points {
				points = append(points, p.geoPoint())
			}
		}
	}

	if len(points) == 0 {
		return nil, ErrNoPoints
	}

	return &Track{Name: name, Points: points}, nil
}
