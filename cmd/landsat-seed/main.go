package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/carlmjohnson/versioninfo"
	"github.com/iancoleman/strcase"
	"github.com/paulmach/orb"
	"github.com/urfave/cli/v2"

	"landsat-desktop/internal/cache"
	"landsat-desktop/internal/common"
	"landsat-desktop/internal/config"
	"landsat-desktop/internal/gpu"
	"landsat-desktop/internal/logging"
	"landsat-desktop/internal/ratelimit"
	"landsat-desktop/internal/seed"
	"landsat-desktop/internal/tilelayer"
)

const (
	BBOX      string = `bbox`
	MINZOOM   string = `min-zoom`
	MAXZOOM   string = `max-zoom`
	MOSAIC    string = `mosaic`
	BANDS     string = `bands`
	COLOROPS  string = `color-ops`
	FORMAT    string = `format`
	OUTPUT    string = `output`
	WORKERS   string = `workers`
	NOCACHE   string = `no-cache`
	LOGLEVEL  string = `log-level`
	ENVPREFIX string = `LANDSAT_SEED_`
)

func envVar(name string) []string {
	return []string{ENVPREFIX + strcase.ToScreamingSnake(name)}
}

func main() {
	defaults := config.DefaultSettings()
	if s, err := config.LoadSettings(); err == nil {
		defaults = s
	}

	app := cli.NewApp()
	app.Name = "landsat-seed"
	app.Usage = "Render composited Landsat tiles for a bounding box to ZXY PNG tiles and GeoTIFFs"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:     BBOX,
			Aliases:  []string{"b"},
			Usage:    "Bounding box as west,south,east,north in degrees",
			Required: true,
			EnvVars:  envVar(BBOX),
		},
		&cli.IntFlag{
			Name:    MINZOOM,
			Aliases: []string{"z"},
			Usage:   "First zoom level",
			Value:   defaults.MinZoom,
			EnvVars: envVar(MINZOOM),
		},
		&cli.IntFlag{
			Name:    MAXZOOM,
			Aliases: []string{"Z"},
			Usage:   "Last zoom level",
			Value:   defaults.MaxZoom,
			EnvVars: envVar(MAXZOOM),
		},
		&cli.StringFlag{
			Name:    MOSAIC,
			Aliases: []string{"m"},
			Usage:   "Mosaic URL passed to the tile service",
			Value:   defaults.MosaicURL,
			EnvVars: envVar(MOSAIC),
		},
		&cli.StringFlag{
			Name:    BANDS,
			Usage:   "Landsat bands mapped to red, green and blue, e.g. 4,3,2",
			Value:   joinInts(defaults.RGBBands),
			EnvVars: envVar(BANDS),
		},
		&cli.StringFlag{
			Name:    COLOROPS,
			Usage:   "Color operations, derived from the band count when empty",
			Value:   defaults.ColorOps,
			EnvVars: envVar(COLOROPS),
		},
		&cli.StringFlag{
			Name:    FORMAT,
			Aliases: []string{"f"},
			Usage:   "Output: tiles, geotiff or both",
			Value:   "tiles",
			EnvVars: envVar(FORMAT),
		},
		&cli.StringFlag{
			Name:    OUTPUT,
			Aliases: []string{"o"},
			Usage:   "Output directory",
			Value:   "output",
			EnvVars: envVar(OUTPUT),
		},
		&cli.IntFlag{
			Name:    WORKERS,
			Aliases: []string{"w"},
			Usage:   "Tiles rendered in parallel",
			Value:   defaults.MaxRequests,
			EnvVars: envVar(WORKERS),
		},
		&cli.BoolFlag{
			Name:    NOCACHE,
			Usage:   "Do not read or fill the band cache shared with the desktop app",
			EnvVars: envVar(NOCACHE),
		},
		&cli.StringFlag{
			Name:    LOGLEVEL,
			Value:   "info",
			EnvVars: envVar(LOGLEVEL),
		},
	}

	app.Action = func(c *cli.Context) error {
		if _, err := logging.Init(logging.Options{Level: c.String(LOGLEVEL), Terminal: true}); err != nil {
			return err
		}
		log := logging.For("Seed")

		bound, err := parseBBox(c.String(BBOX))
		if err != nil {
			return err
		}
		bands, err := parseBands(c.String(BANDS))
		if err != nil {
			return err
		}
		format, err := common.ParseExportFormat(c.String(FORMAT))
		if err != nil {
			return err
		}

		device := gpu.NewDevice(gpu.DeviceOptions{})
		defer device.Close()

		limiter := ratelimit.NewHandler(nil)
		defer limiter.Close()
		loaderOpts := []gpu.LoaderOption{gpu.WithRateLimiter(limiter)}

		if !c.Bool(NOCACHE) {
			bandCache, err := cache.NewTileCache(cache.BandsDir(cache.GetCacheDir()), defaults.BandCacheMaxSizeMB)
			if err != nil {
				log.Warnf("Band cache disabled: %v", err)
			} else {
				defer bandCache.Close()
				loaderOpts = append(loaderOpts, gpu.WithBandCache(bandCache))
			}
		}

		layer, err := tilelayer.New(tilelayer.Config{
			MinZoom:        min(defaults.MinZoom, c.Int(MINZOOM)),
			MaxZoom:        max(defaults.MaxZoom, c.Int(MAXZOOM)),
			MaxRequests:    c.Int(WORKERS),
			MosaicURL:      c.String(MOSAIC),
			ColorOps:       c.String(COLOROPS),
			RGBBands:       bands,
			TileServiceURL: defaults.TileServiceURL,
			PanWeight:      defaults.PanWeight,
		}, gpu.NewLoader(device, loaderOpts...))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := seed.New(layer).Run(ctx, seed.Options{
			Bound:     bound,
			MinZoom:   c.Int(MINZOOM),
			MaxZoom:   c.Int(MAXZOOM),
			Format:    format,
			OutputDir: c.String(OUTPUT),
			Workers:   c.Int(WORKERS),
			Progress:  os.Stderr,
		})
		if err != nil {
			return err
		}

		if result.TilesDir != "" {
			log.Infof("Tiles: %s", result.TilesDir)
		}
		for _, path := range result.GeoTIFFs {
			log.Infof("GeoTIFF: %s", path)
		}
		if result.Failed > 0 {
			return cli.Exit(fmt.Sprintf("%d of %d tiles failed", result.Failed, result.Total), 2)
		}
		return nil
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		logging.For("Seed").Fatal(err)
	}
}

// parseBBox parses west,south,east,north
func parseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox %q: expected west,south,east,north", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	if v[0] < -180 || v[2] > 180 || v[1] < -90 || v[3] > 90 {
		return orb.Bound{}, fmt.Errorf("bbox %q: outside WGS84 range", s)
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func parseBands(s string) ([]int, error) {
	var bands []int
	for _, p := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bands %q: %w", s, err)
		}
		bands = append(bands, n)
	}
	return bands, nil
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
