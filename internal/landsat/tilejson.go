package landsat

import (
	"net/url"

	"github.com/paulmach/orb"
)

// TileJSON is a TileJSON 2.1.0 document describing a raster tile endpoint
type TileJSON struct {
	TileJSON string     `json:"tilejson"`
	Name     string     `json:"name"`
	Bounds   [4]float64 `json:"bounds"`
	Center   [3]float64 `json:"center"`
	MinZoom  int        `json:"minzoom"`
	MaxZoom  int        `json:"maxzoom"`
	Tiles    []string   `json:"tiles"`
}

// WorldBounds covers the Web Mercator extent
var WorldBounds = orb.Bound{Min: orb.Point{-180, -85.0511}, Max: orb.Point{180, 85.0511}}

// NewTileJSON describes the tiles served under tileURL, a template containing
// {z}/{x}/{y}. Query parameters are appended to every tile URL.
func NewTileJSON(name, tileURL string, bounds orb.Bound, minZoom, maxZoom int, query url.Values) TileJSON {
	if qs := query.Encode(); qs != "" {
		tileURL += "?" + qs
	}
	center := bounds.Center()
	return TileJSON{
		TileJSON: "2.1.0",
		Name:     name,
		Bounds:   [4]float64{bounds.Min.X(), bounds.Min.Y(), bounds.Max.X(), bounds.Max.Y()},
		Center:   [3]float64{center.X(), center.Y(), float64(minZoom)},
		MinZoom:  minZoom,
		MaxZoom:  maxZoom,
		Tiles:    []string{tileURL},
	}
}
