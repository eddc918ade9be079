// Package gps holds the GPS sample types recorded by dash-cams and the
// parsers that turn metadata extractor dumps into ordered tracks.
package gps

import (
	"math"
	"sort"
	"time"
)

// Point is one GPS sample. Points are values and never mutated after parsing.
type Point struct {
	Time      time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
}

// Track is a sequence of points, non-decreasing by Time. It may be empty.
type Track []Point

// Valid reports whether the coordinates are in range and not the (0,0)
// placeholder some cameras write before they have a fix.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return false
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return false
	}
	return !(p.Latitude == 0 && p.Longitude == 0)
}

// Start returns the time of the first point.
func (t Track) Start() (time.Time, bool) {
	if len(t) == 0 {
		return time.Time{}, false
	}
	return t[0].Time, true
}

// normalize drops invalid samples and stable-sorts the rest by time, so
// samples sharing a timestamp keep their input order.
func normalize(points []Point) Track {
	out := make(Track, 0, len(points))
	for _, p := range points {
		if p.Valid() {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}
