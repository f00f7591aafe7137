package common

import "fmt"

// ExportFormat selects the outputs of a tile export
type ExportFormat struct {
	SaveTiles   bool // Save individual tiles in OGC ZXY structure
	SaveGeoTIFF bool // Save one merged GeoTIFF per zoom level
}

// ParseExportFormat converts a format string to ExportFormat
// Accepted values: "tiles", "geotiff", "both"
func ParseExportFormat(format string) (ExportFormat, error) {
	switch format {
	case "tiles":
		return ExportFormat{SaveTiles: true}, nil
	case "geotiff":
		return ExportFormat{SaveGeoTIFF: true}, nil
	case "both":
		return ExportFormat{SaveTiles: true, SaveGeoTIFF: true}, nil
	default:
		return ExportFormat{}, fmt.Errorf("invalid format: %s (must be 'tiles', 'geotiff', or 'both')", format)
	}
}

// String returns the string representation of the export format
func (f ExportFormat) String() string {
	switch {
	case f.SaveTiles && f.SaveGeoTIFF:
		return "both"
	case f.SaveTiles:
		return "tiles"
	case f.SaveGeoTIFF:
		return "geotiff"
	}
	return "none"
}
