package naming

import (
	"fmt"
	"path"
	"strings"

	"github.com/paulmach/orb"
)

// MosaicName reduces a mosaic URL to a filename-safe name, e.g.
// dynamodb://us-west-2/landsat8-2015-spring becomes landsat8-2015-spring
func MosaicName(mosaicURL string) string {
	name := path.Base(strings.TrimRight(mosaicURL, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	if name == "" || name == "." || name == "_" {
		return "mosaic"
	}
	return name
}

// GenerateGeoTIFFFilename creates a standardized GeoTIFF filename with metadata
// Format: {source}_{mosaic}_{quadkey}_z{zoom}_{bbox}.tif
func GenerateGeoTIFFFilename(source, mosaic string, bound orb.Bound, zoom int) string {
	bboxStr := fmt.Sprintf("%s-%s_%s-%s",
		SanitizeCoordinate(bound.Min.Y(), true),
		SanitizeCoordinate(bound.Max.Y(), true),
		SanitizeCoordinate(bound.Min.X(), false),
		SanitizeCoordinate(bound.Max.X(), false))

	return fmt.Sprintf("%s_%s_%s_z%d_%s.tif", source, mosaic, GenerateQuadkey(bound, zoom), zoom, bboxStr)
}

// GenerateTilesDirName creates a standardized tiles directory name
// Format: {source}_{mosaic}_tiles
func GenerateTilesDirName(source, mosaic string) string {
	return fmt.Sprintf("%s_%s_tiles", source, mosaic)
}
