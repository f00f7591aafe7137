// Package viewstate holds the map camera and its page-fragment encoding.
//
// The fragment format matches the MapLibre/Mapbox hash:
//
//	#zoom/latitude/longitude/bearing/pitch
package viewstate

import (
	"math"
	"strconv"
	"strings"
)

// ViewState represents the map camera
type ViewState struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Zoom      float64 `json:"zoom"`
	Bearing   float64 `json:"bearing"`
	Pitch     float64 `json:"pitch"`
	MaxPitch  float64 `json:"maxPitch"`
}

// Default returns the camera used when the fragment does not override it (Grand Canyon)
func Default() ViewState {
	return ViewState{
		Longitude: -112.1861,
		Latitude:  36.1284,
		Zoom:      11.5,
		Pitch:     0,
		Bearing:   0,
		MaxPitch:  85,
	}
}

// Partial is a camera override where only parsed fields are set
type Partial struct {
	Zoom      *float64 `json:"zoom,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Pitch     *float64 `json:"pitch,omitempty"`
}

// IsEmpty reports whether no field is set
func (p Partial) IsEmpty() bool {
	return p.Zoom == nil && p.Latitude == nil && p.Longitude == nil && p.Bearing == nil && p.Pitch == nil
}

// Apply merges the set fields of p over base
func (p Partial) Apply(base ViewState) ViewState {
	vs := base
	if p.Zoom != nil {
		vs.Zoom = *p.Zoom
	}
	if p.Latitude != nil {
		vs.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		vs.Longitude = *p.Longitude
	}
	if p.Bearing != nil {
		vs.Bearing = *p.Bearing
	}
	if p.Pitch != nil {
		vs.Pitch = *p.Pitch
	}
	return vs
}

// ParseFragment reads a camera override from a page location fragment.
// Input without a leading '#' yields an empty Partial. Segments that are
// missing, empty or not finite numbers are dropped silently.
func ParseFragment(fragment string) Partial {
	var p Partial
	if !strings.HasPrefix(fragment, "#") {
		return p
	}

	fields := []**float64{&p.Zoom, &p.Latitude, &p.Longitude, &p.Bearing, &p.Pitch}
	for i, segment := range strings.Split(fragment[1:], "/") {
		if i >= len(fields) {
			break
		}
		if v, ok := parseFinite(segment); ok {
			*fields[i] = &v
		}
	}
	return p
}

func parseFinite(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Format encodes vs as a fragment. Bearing and pitch are left out when both are zero.
func Format(vs ViewState) string {
	parts := []string{
		formatNumber(vs.Zoom, 2),
		formatNumber(vs.Latitude, 4),
		formatNumber(vs.Longitude, 4),
	}
	if vs.Bearing != 0 || vs.Pitch != 0 {
		parts = append(parts, formatNumber(vs.Bearing, 1), formatNumber(vs.Pitch, 0))
	}
	return "#" + strings.Join(parts, "/")
}

func formatNumber(v float64, precision int) string {
	s := strconv.FormatFloat(v, 'f', precision, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		s = "0"
	}
	return s
}
