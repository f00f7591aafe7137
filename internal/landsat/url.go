package landsat

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultTileServiceURL is the dynamic Landsat tiler the band images are requested from
	DefaultTileServiceURL = "https://us-west-2-lambda.kylebarron.dev/landsat/tiles"

	// PanchromaticBand is the 15m panchromatic band of Landsat 8
	PanchromaticBand = 8

	// PanchromaticMinZoom is the first zoom level at which the pan band is fetched
	PanchromaticMinZoom = 12

	// AssetsHeader carries a JSON list of the scene assets used to build a tile
	AssetsHeader = "x-assets"

	// TileScale is the @Nx suffix requested from the tile service
	TileScale = 2
)

// DefaultRGBBands is near-infrared/red/green false color, good for vegetation
var DefaultRGBBands = []int{4, 3, 2}

// TileRequest describes one band image request against the tile service
type TileRequest struct {
	Bands     []int
	MosaicURL string
	X, Y, Z   int
	ColorOps  string // Custom rio-color operations, defaults to ColorOps(len(Bands))
	BaseURL   string // Defaults to DefaultTileServiceURL
}

// Band wraps a single band number so it can be used as TileRequest.Bands
func Band(n int) []int {
	return []int{n}
}

// ColorOps returns the rio-color operations string used for nBands bands
func ColorOps(nBands int) string {
	letters := "RGB"
	if nBands < 0 {
		nBands = 0
	}
	if nBands > len(letters) {
		nBands = len(letters)
	}
	colorBands := letters[:nBands]

	ops := fmt.Sprintf("gamma %s 3.5, sigmoidal %s 15 0.35", colorBands, colorBands)
	if nBands == 3 {
		ops += ", saturation 1.7"
	}
	return ops
}

// TileURL builds the fully qualified band image URL for a request.
// Nothing is validated: bad coordinates simply produce a URL the service rejects.
func TileURL(req TileRequest) string {
	base := req.BaseURL
	if base == "" {
		base = DefaultTileServiceURL
	}
	ops := req.ColorOps
	if ops == "" {
		ops = ColorOps(len(req.Bands))
	}

	params := url.Values{}
	params.Set("bands", joinBands(req.Bands))
	params.Set("color_ops", ops)
	params.Set("url", req.MosaicURL)

	return fmt.Sprintf("%s/%d/%d/%d@%dx.jpg?%s",
		strings.TrimSuffix(base, "/"), req.Z, req.X, req.Y, TileScale, params.Encode())
}

func joinBands(bands []int) string {
	parts := make([]string, len(bands))
	for i, b := range bands {
		parts[i] = strconv.Itoa(b)
	}
	return strings.Join(parts, ",")
}
