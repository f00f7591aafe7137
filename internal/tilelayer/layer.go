// Package tilelayer adapts the Landsat tile service to the raster
// compositing layer: it decides which bands a tile needs, loads them as
// textures and describes how each tile is composited.
package tilelayer

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"landsat-desktop/internal/gpu"
	"landsat-desktop/internal/landsat"
	"landsat-desktop/internal/raster"
)

// ErrZoomOutOfRange is returned for tiles outside [MinZoom, MaxZoom]
var ErrZoomOutOfRange = errors.New("zoom out of layer range")

// Config configures a Landsat tile layer. Zero fields take the default tag.
type Config struct {
	// ID bridges the layer into the base map style, it must match the inserted layer id
	ID string `json:"id" default:"landsat-tile-layer" validate:"required"`

	// Zoom 7 tiles are already requested while the map is at zoom 6
	MinZoom int `json:"minZoom" default:"7" validate:"min=0,max=22"`
	MaxZoom int `json:"maxZoom" default:"12" validate:"min=0,max=22,gtefield=MinZoom"`

	// MaxRequests caps concurrent in-flight tiles in the host tile server
	MaxRequests int `json:"maxRequests" default:"6" validate:"min=1"`

	MosaicURL string `json:"mosaicUrl" validate:"required"`
	ColorOps  string `json:"colorOps,omitempty"`

	// RGBBands are the Landsat bands mapped to red, green and blue
	RGBBands []int `json:"rgbBands" default:"[4,3,2]" validate:"len=3"`

	TileServiceURL string `json:"tileServiceUrl" default:"https://us-west-2-lambda.kylebarron.dev/landsat/tiles" validate:"required,url"`

	// PanWeight is the blue weight of the Brovey sharpening ratio. Zero means the default.
	PanWeight float64 `json:"panWeight" default:"0.2" validate:"gt=0"`
}

var validate = validator.New()

// Normalize fills defaults and validates c
func (c *Config) Normalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("failed to apply layer defaults: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid layer config: %w", err)
	}
	return nil
}

// TextureLoader loads band images into textures
type TextureLoader interface {
	LoadTexture(ctx context.Context, url string) (*gpu.Texture, error)
	LoadTextures(ctx context.Context, urls []string) ([]*gpu.Texture, error)
	Release(textures ...*gpu.Texture)
}

// TileCoord addresses a tile of the Web Mercator pyramid
type TileCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (c TileCoord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// GetColumn returns the tile column
func (c TileCoord) GetColumn() int { return c.X }

// GetRow returns the tile row, counted from the north
func (c TileCoord) GetRow() int { return c.Y }

// Tile is a tile coordinate with its geographic extent
type Tile struct {
	Coord TileCoord
	BBox  orb.Bound
}

// NewTile computes the WGS84 bounding box of c
func NewTile(c TileCoord) Tile {
	mt := maptile.New(uint32(c.X), uint32(c.Y), maptile.Zoom(c.Z))
	return Tile{Coord: c, BBox: mt.Bound()}
}

// TileData is the render payload of one tile. It is consumed once by RenderSubLayers.
type TileData struct {
	ImageBands []*gpu.Texture
	ImagePan   *gpu.Texture
	Modules    []raster.Module
}

// Layer is the Landsat tile layer
type Layer struct {
	cfg    Config
	loader TextureLoader
}

// New creates a layer. The config is normalized first.
func New(cfg Config, loader TextureLoader) (*Layer, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &Layer{cfg: cfg, loader: loader}, nil
}

// Config returns the normalized configuration
func (l *Layer) Config() Config {
	cfg := l.cfg
	cfg.RGBBands = append([]int(nil), l.cfg.RGBBands...)
	return cfg
}

// ID returns the layer id
func (l *Layer) ID() string {
	return l.cfg.ID
}

// InZoomRange reports whether z is served by this layer
func (l *Layer) InZoomRange(z int) bool {
	return z >= l.cfg.MinZoom && z <= l.cfg.MaxZoom
}

// CheckZoom returns ErrZoomOutOfRange when z is not served by this layer
func (l *Layer) CheckZoom(z int) error {
	if !l.InZoomRange(z) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrZoomOutOfRange, z, l.cfg.MinZoom, l.cfg.MaxZoom)
	}
	return nil
}

func (l *Layer) bandURL(c TileCoord, band int) string {
	return landsat.TileURL(landsat.TileRequest{
		Bands:     landsat.Band(band),
		MosaicURL: l.cfg.MosaicURL,
		X:         c.X,
		Y:         c.Y,
		Z:         c.Z,
		ColorOps:  l.cfg.ColorOps,
		BaseURL:   l.cfg.TileServiceURL,
	})
}

// BandURLs returns the color band URLs of a tile and, at pan zoom levels, the pan URL
func (l *Layer) BandURLs(c TileCoord) (bands []string, pan string) {
	bands = make([]string, len(l.cfg.RGBBands))
	for i, b := range l.cfg.RGBBands {
		bands[i] = l.bandURL(c, b)
	}
	if c.Z >= landsat.PanchromaticMinZoom {
		pan = l.bandURL(c, landsat.PanchromaticBand)
	}
	return bands, pan
}

// GetTileData loads the band textures of a tile. The pan band is loaded
// alongside the color bands at zoom 12 and above. Any failed band fails
// the tile; nothing is retried here.
func (l *Layer) GetTileData(ctx context.Context, c TileCoord) (*TileData, error) {
	bandURLs, panURL := l.BandURLs(c)
	modules := []raster.Module{raster.CombineBands}

	type panResult struct {
		tex *gpu.Texture
		err error
	}
	var panCh chan panResult
	if panURL != "" {
		panCh = make(chan panResult, 1)
		go func() {
			tex, err := l.loader.LoadTexture(ctx, panURL)
			panCh <- panResult{tex, err}
		}()
		modules = append(modules, raster.PansharpenBrovey)
	}

	bands, bandErr := l.loader.LoadTextures(ctx, bandURLs)

	var pan panResult
	if panCh != nil {
		pan = <-panCh
	}

	if bandErr != nil || pan.err != nil {
		l.releaseLoaded(bands, pan.tex)
		if bandErr != nil {
			return nil, fmt.Errorf("tile %s: failed to load bands: %w", c, bandErr)
		}
		return nil, fmt.Errorf("tile %s: failed to load pan band: %w", c, pan.err)
	}

	return &TileData{
		ImageBands: bands,
		ImagePan:   pan.tex,
		Modules:    modules,
	}, nil
}

func (l *Layer) releaseLoaded(bands []*gpu.Texture, pan *gpu.Texture) {
	l.loader.Release(bands...)
	l.loader.Release(pan)
}

// RenderSubLayers builds the compositing layer that draws a tile
func (l *Layer) RenderSubLayers(tile Tile, data *TileData) *raster.Layer {
	return &raster.Layer{
		ID:      fmt.Sprintf("%s-%s", l.cfg.ID, tile.Coord),
		Modules: data.Modules,
		Props: raster.ModuleProps{
			ImageBands: data.ImageBands,
			ImagePan:   data.ImagePan,
			PanWeight:  l.cfg.PanWeight,
		},
		Bounds: tile.BBox,
	}
}

// Composite loads and renders one tile at size x size pixels
func (l *Layer) Composite(ctx context.Context, c TileCoord, size int) (*image.RGBA, error) {
	data, err := l.GetTileData(ctx, c)
	if err != nil {
		return nil, err
	}
	defer l.Release(data)

	img, err := l.RenderSubLayers(NewTile(c), data).Render(size, size)
	if err != nil {
		return nil, fmt.Errorf("tile %s: failed to render: %w", c, err)
	}
	return img, nil
}

// Release frees the textures of a consumed payload
func (l *Layer) Release(data *TileData) {
	if data == nil {
		return
	}
	l.releaseLoaded(data.ImageBands, data.ImagePan)
}
