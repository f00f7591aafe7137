package geotiff

import (
	"fmt"
	"image"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// EPSG codes of the supported model spaces
const (
	EPSGWebMercator = 3857
	EPSGWGS84       = 4326
)

const webMercatorCitation = "WGS 84 / Pseudo-Mercator|"

// Metadata is written into the TIFF description tags
type Metadata struct {
	Description string
	Software    string
}

// WebMercatorTags georeferences a width x height image covering the WGS84
// bounds in EPSG:3857
func WebMercatorTags(bounds orb.Bound, width, height int) map[uint16]interface{} {
	min := project.Point(orb.Point{bounds.Min.X(), bounds.Min.Y()}, project.WGS84.ToMercator)
	max := project.Point(orb.Point{bounds.Max.X(), bounds.Max.Y()}, project.WGS84.ToMercator)

	return map[uint16]interface{}{
		TagType_ModelPixelScaleTag: []float64{
			(max.X() - min.X()) / float64(width),
			(max.Y() - min.Y()) / float64(height),
			0,
		},
		// Pixel (0,0) is the north-west corner
		TagType_ModelTiepointTag: []float64{0, 0, 0, min.X(), max.Y(), 0},
		TagType_GeoKeyDirectoryTag: []uint16{
			1, 1, 0, 4, // Version 1.1.0, four keys
			1024, 0, 1, 1, // GTModelType: projected
			1025, 0, 1, 1, // GTRasterType: PixelIsArea
			1026, TagType_GeoAsciiParamsTag, uint16(len(webMercatorCitation)), 0, // GTCitation
			3072, 0, 1, EPSGWebMercator, // ProjectedCSType
		},
		TagType_GeoAsciiParamsTag: webMercatorCitation,
	}
}

// EncodeWebMercator writes img as a GeoTIFF covering bounds
func EncodeWebMercator(w io.Writer, img image.Image, bounds orb.Bound, meta Metadata) error {
	size := img.Bounds()
	if bounds.Max.X() <= bounds.Min.X() || bounds.Max.Y() <= bounds.Min.Y() {
		return fmt.Errorf("geotiff: degenerate bounds %v", bounds)
	}

	tags := WebMercatorTags(bounds, size.Dx(), size.Dy())
	if meta.Description != "" {
		tags[TagType_ImageDescription] = meta.Description
	}
	if meta.Software != "" {
		tags[TagType_Software] = meta.Software
	}
	return Encode(w, img, tags)
}
