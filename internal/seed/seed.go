// Package seed renders composited Landsat tiles for a bounding box to disk,
// as a ZXY tile pyramid and/or one merged GeoTIFF per zoom level.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"landsat-desktop/internal/common"
	"landsat-desktop/internal/landsat"
	"landsat-desktop/internal/logging"
	"landsat-desktop/internal/raster"
	"landsat-desktop/internal/tilelayer"
	"landsat-desktop/internal/utils/naming"
	"landsat-desktop/pkg/geotiff"
)

const (
	// DefaultTileSize matches the @2x band images
	DefaultTileSize = 512

	// MaxMosaicSize bounds the width and height of a merged GeoTIFF
	MaxMosaicSize = 8192

	maxLatitude = 85.05112878
)

// ErrMosaicTooLarge is returned when a merged GeoTIFF would exceed MaxMosaicSize
var ErrMosaicTooLarge = errors.New("merged GeoTIFF too large")

// Options configures a seeding run
type Options struct {
	Bound     orb.Bound
	MinZoom   int
	MaxZoom   int
	Format    common.ExportFormat
	OutputDir string
	Workers   int
	TileSize  int       // DefaultTileSize when zero
	Progress  io.Writer // Progress bar output, none when nil

	// OnProgress is called from the collecting goroutine after every tile
	OnProgress func(done, total int)
}

// Result summarizes a seeding run
type Result struct {
	RunID    string
	Total    int
	Rendered int
	Failed   int
	TilesDir string
	GeoTIFFs []string
	Elapsed  time.Duration
}

// Seeder renders tiles of one layer
type Seeder struct {
	layer  *tilelayer.Layer
	mosaic string
	log    *logrus.Entry
}

// New creates a seeder for layer
func New(layer *tilelayer.Layer) *Seeder {
	return &Seeder{
		layer:  layer,
		mosaic: naming.MosaicName(layer.Config().MosaicURL),
		log:    logging.For("Seed"),
	}
}

// TilesInBound lists the tiles at zoom z covering b, row by row from the north-west
func TilesInBound(b orb.Bound, z int) []tilelayer.TileCoord {
	zoom := maptile.Zoom(z)
	nw := maptile.At(orb.Point{b.Min.X(), clampLat(b.Max.Y())}, zoom)
	se := maptile.At(orb.Point{b.Max.X(), clampLat(b.Min.Y())}, zoom)

	last := (1 << z) - 1
	minX, maxX := clampTile(int(nw.X), last), clampTile(int(se.X), last)
	minY, maxY := clampTile(int(nw.Y), last), clampTile(int(se.Y), last)

	tiles := make([]tilelayer.TileCoord, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, tilelayer.TileCoord{X: x, Y: y, Z: z})
		}
	}
	return tiles
}

func clampLat(lat float64) float64 {
	return max(-maxLatitude, min(maxLatitude, lat))
}

func clampTile(v, last int) int {
	return max(0, min(last, v))
}

func (o *Options) normalize(layer *tilelayer.Layer) error {
	if o.Bound.Min.X() >= o.Bound.Max.X() || o.Bound.Min.Y() >= o.Bound.Max.Y() {
		return fmt.Errorf("invalid bbox %v: west/south must be below east/north", o.Bound)
	}
	if o.MinZoom > o.MaxZoom {
		return fmt.Errorf("min zoom %d above max zoom %d", o.MinZoom, o.MaxZoom)
	}
	for _, z := range []int{o.MinZoom, o.MaxZoom} {
		if err := layer.CheckZoom(z); err != nil {
			return err
		}
	}
	if !o.Format.SaveTiles && !o.Format.SaveGeoTIFF {
		return errors.New("nothing to export")
	}
	if o.OutputDir == "" {
		return errors.New("output directory is required")
	}
	if o.Workers <= 0 {
		o.Workers = layer.Config().MaxRequests
	}
	if o.TileSize <= 0 {
		o.TileSize = DefaultTileSize
	}

	if o.Format.SaveGeoTIFF {
		for z := o.MinZoom; z <= o.MaxZoom; z++ {
			b, err := common.CalculateTileBounds(TilesInBound(o.Bound, z))
			if err != nil {
				return err
			}
			if b.Cols()*o.TileSize > MaxMosaicSize || b.Rows()*o.TileSize > MaxMosaicSize {
				return fmt.Errorf("%w: zoom %d needs %dx%d tiles", ErrMosaicTooLarge, z, b.Cols(), b.Rows())
			}
		}
	}
	return nil
}

// Run renders every tile of the bbox for each zoom level. Failed tiles are
// counted and logged, only setup errors and cancellation fail the run.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.normalize(s.layer); err != nil {
		return nil, err
	}

	runID, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}
	log := s.log.WithField("run", runID)
	start := time.Now()

	result := &Result{RunID: runID}
	for z := opts.MinZoom; z <= opts.MaxZoom; z++ {
		result.Total += len(TilesInBound(opts.Bound, z))
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if opts.Format.SaveTiles {
		result.TilesDir = filepath.Join(opts.OutputDir, naming.GenerateTilesDirName(common.ProviderLandsat, s.mosaic))
		if err := s.writeTileJSON(result.TilesDir, opts); err != nil {
			return nil, err
		}
	}

	var bar *pb.ProgressBar
	if opts.Progress != nil {
		bar = pb.New(result.Total).Prefix("Seeding ")
		bar.Output = opts.Progress
		bar.SetRefreshRate(time.Second)
		bar.Start()
		defer bar.Finish()
	}

	done := 0
	tick := func() {
		done++
		if bar != nil {
			bar.Increment()
		}
		if opts.OnProgress != nil {
			opts.OnProgress(done, result.Total)
		}
	}

	log.Infof("Seeding %d tiles of %s, zoom %d-%d, format %s", result.Total, s.mosaic, opts.MinZoom, opts.MaxZoom, opts.Format)

	for z := opts.MinZoom; z <= opts.MaxZoom; z++ {
		rendered, failed, tifPath, err := s.seedZoom(ctx, z, opts, result.TilesDir, tick, log)
		result.Rendered += rendered
		result.Failed += failed
		if tifPath != "" {
			result.GeoTIFFs = append(result.GeoTIFFs, tifPath)
		}
		if err != nil {
			result.Elapsed = time.Since(start)
			return result, err
		}
	}

	result.Elapsed = time.Since(start)
	log.Infof("Seeded %d/%d tiles (%d failed) in %s", result.Rendered, result.Total, result.Failed, result.Elapsed.Round(time.Millisecond))
	return result, nil
}

type tileResult struct {
	coord tilelayer.TileCoord
	img   *image.RGBA
	err   error
}

// seedZoom renders one zoom level with a worker pool and stitches the merged GeoTIFF
func (s *Seeder) seedZoom(ctx context.Context, z int, opts Options, tilesDir string, tick func(), log *logrus.Entry) (int, int, string, error) {
	tiles := TilesInBound(opts.Bound, z)
	total := len(tiles)

	tileChan := make(chan tilelayer.TileCoord)
	resultChan := make(chan tileResult, opts.Workers)

	workerCount := min(opts.Workers, total)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for coord := range tileChan {
				img, err := s.layer.Composite(ctx, coord, opts.TileSize)
				if err == nil && tilesDir != "" {
					err = writeTile(tilesDir, coord, img)
				}
				resultChan <- tileResult{coord: coord, img: img, err: err}
			}
		}()
	}

	go func() {
		defer close(tileChan)
		for _, coord := range tiles {
			select {
			case tileChan <- coord:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var mosaic *image.RGBA
	var bounds common.TileBounds
	if opts.Format.SaveGeoTIFF {
		bounds, _ = common.CalculateTileBounds(tiles)
		mosaic = image.NewRGBA(image.Rect(0, 0, bounds.Cols()*opts.TileSize, bounds.Rows()*opts.TileSize))
	}

	var rendered, failed int
	for res := range resultChan {
		tick()
		if res.err != nil {
			failed++
			if ctx.Err() == nil {
				log.Warnf("Tile %s failed: %v", res.coord, res.err)
			}
			continue
		}
		rendered++

		if mosaic != nil {
			x, y := bounds.Offset(res.coord.X, res.coord.Y, opts.TileSize)
			dst := image.Rect(x, y, x+opts.TileSize, y+opts.TileSize)
			draw.Draw(mosaic, dst, res.img, res.img.Bounds().Min, draw.Src)
		}
	}

	if err := ctx.Err(); err != nil {
		return rendered, failed, "", err
	}
	if mosaic == nil || rendered == 0 {
		return rendered, failed, "", nil
	}

	tifPath, err := s.writeGeoTIFF(opts, z, bounds, mosaic)
	if err != nil {
		return rendered, failed, "", err
	}
	log.Infof("Wrote %s", tifPath)
	return rendered, failed, tifPath, nil
}

func writeTile(tilesDir string, c tilelayer.TileCoord, img *image.RGBA) error {
	dir := filepath.Join(tilesDir, fmt.Sprint(c.Z), fmt.Sprint(c.X))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%d.png", c.Y)))
	if err != nil {
		return fmt.Errorf("failed to create tile file: %w", err)
	}
	if err := raster.EncodeImage(f, img, raster.PNG, false); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode tile %s: %w", c, err)
	}
	return f.Close()
}

func (s *Seeder) writeGeoTIFF(opts Options, z int, b common.TileBounds, mosaic *image.RGBA) (string, error) {
	nw := maptile.New(uint32(b.MinCol), uint32(b.MinRow), maptile.Zoom(z)).Bound()
	se := maptile.New(uint32(b.MaxCol), uint32(b.MaxRow), maptile.Zoom(z)).Bound()
	extent := orb.Bound{Min: orb.Point{nw.Min.X(), se.Min.Y()}, Max: orb.Point{se.Max.X(), nw.Max.Y()}}

	path := filepath.Join(opts.OutputDir, naming.GenerateGeoTIFFFilename(common.ProviderLandsat, s.mosaic, opts.Bound, z))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create GeoTIFF: %w", err)
	}

	cfg := s.layer.Config()
	meta := geotiff.Metadata{
		Description: fmt.Sprintf("%s %s bands %v zoom %d", common.DisplayNameLandsat, s.mosaic, cfg.RGBBands, z),
		Software:    "landsat-seed",
	}
	if err := geotiff.EncodeWebMercator(f, mosaic, extent, meta); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write GeoTIFF: %w", err)
	}
	return path, f.Close()
}

// writeTileJSON describes the exported pyramid with tile paths relative to the file
func (s *Seeder) writeTileJSON(tilesDir string, opts Options) error {
	if err := os.MkdirAll(tilesDir, 0755); err != nil {
		return fmt.Errorf("failed to create tiles directory: %w", err)
	}
	doc := landsat.NewTileJSON(s.mosaic, "{z}/{x}/{y}.png", opts.Bound, opts.MinZoom, opts.MaxZoom, nil)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tilejson: %w", err)
	}
	return os.WriteFile(filepath.Join(tilesDir, "tilejson.json"), data, 0644)
}
