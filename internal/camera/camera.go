// Package camera holds the domain model for tracked speed-camera
// locations and the change detection between two observed sets.
package camera

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/paulmach/orb"
)

// Camera is one named measurement location. Identity is the Name; the
// coordinates are payload used for rendering only, never for identity.
type Camera struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// Point returns the location in lon/lat order as used by the geo stack.
func (c Camera) Point() orb.Point { return orb.Point{c.Lon, c.Lat} }

// HasLocation reports whether usable coordinates were extracted.
// Sites occasionally publish entries without the map link; those render
// as text-only.
func (c Camera) HasLocation() bool { return c.Lat != 0 || c.Lon != 0 }

// MapURL renders the Google Maps search link shown in notifications.
func (c Camera) MapURL() string {
	q := url.QueryEscape(fmt.Sprintf("%f,%f", c.Lat, c.Lon))
	return "https://www.google.com/maps/search/?api=1&query=" + q
}

// Set is a name-keyed collection of cameras.
type Set map[string]Camera

// NewSet builds a Set from a slice. Duplicate names are last-write-wins,
// matching what the source page itself would render.
func NewSet(cams []Camera) Set {
	s := make(Set, len(cams))
	for _, c := range cams {
		s[c.Name] = c
	}
	return s
}

// Sorted returns the cameras ordered by name ascending.
func (s Set) Sorted() []Camera {
	out := make([]Camera, 0, len(s))
	for _, c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	cp := make(Set, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// Equal compares two sets as (name, lat, lon) tuples.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if o, ok := other[k]; !ok || o != v {
			return false
		}
	}
	return true
}
