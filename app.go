package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	goruntime "runtime"
	"sync"
	"time"

	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"landsat-desktop/internal/cache"
	"landsat-desktop/internal/config"
	"landsat-desktop/internal/gpu"
	"landsat-desktop/internal/handlers/tileserver"
	"landsat-desktop/internal/logging"
	"landsat-desktop/internal/ratelimit"
	"landsat-desktop/internal/taskqueue"
	"landsat-desktop/internal/tilelayer"
	"landsat-desktop/internal/viewstate"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

const (
	// LayerID is shared by the tile layer and the layer inserted into the base map style
	LayerID = "landsat-tile-layer"

	// BeforeLayerID keeps roads and labels of the base map above the imagery
	BeforeLayerID = "aeroway_fill"

	BaseMapStyleURL = "https://openmaptiles.github.io/positron-gl-style/style-cdn.json"
)

var errTileServerNotStarted = errors.New("tile server not started")

// MapLayer describes how the frontend inserts the composited tiles into the base map
type MapLayer struct {
	ID          string   `json:"id"`
	BeforeID    string   `json:"beforeId"`
	Tiles       []string `json:"tiles"`
	TileJSONURL string   `json:"tileJsonUrl"`
	MinZoom     int      `json:"minZoom"`
	MaxZoom     int      `json:"maxZoom"`
	TileSize    int      `json:"tileSize"`
	StyleURL    string   `json:"styleUrl"`
}

// RenderPlan lists what the frontend draws this frame
type RenderPlan struct {
	// BaseMap is drawn only once the render device exists
	BaseMap bool     `json:"baseMap"`
	Layers  []string `json:"layers"`
}

// App struct
type App struct {
	ctx      context.Context
	mu       sync.Mutex
	devMode  bool
	log      *logrus.Entry
	logFile  *os.File
	settings *config.UserSettings

	// device is nil until startup creates it
	device     *gpu.Device
	deviceOnce sync.Once
	viewState  viewstate.ViewState

	tileCache        *cache.PersistentTileCache
	bandCache        *cache.TileCache
	rateLimitHandler *ratelimit.Handler
	tileServer       *tileserver.Server
	taskQueue        *taskqueue.QueueManager
	phClient         posthog.Client
}

// NewApp creates a new App application struct
func NewApp(devMode bool) *App {
	settings, err := config.LoadSettings()
	if err != nil {
		logging.For("App").Warnf("Failed to load settings, using defaults: %v", err)
		settings = config.DefaultSettings()
	}

	level := settings.LogLevel
	if devMode {
		level = "debug"
	}
	logFile, err := logging.Init(logging.Options{Level: level, LogDir: config.GetLogDir(), Terminal: true})
	if err != nil {
		logging.For("App").Warnf("File logging disabled: %v", err)
	}

	if created, err := settings.EnsureInstallID(); err != nil {
		logging.For("App").Warnf("Failed to generate install id: %v", err)
	} else if created {
		if err := config.SaveSettings(settings); err != nil {
			logging.For("App").Warnf("Failed to save install id: %v", err)
		}
	}
	logging.For("App").Infof("Settings loaded from: %s", config.GetSettingsPath())

	a := newApp(settings, cache.GetCacheDir(), config.GetQueueDir(), devMode)
	a.logFile = logFile

	if PostHogKey != "" && settings.AnalyticsEnabled {
		client, err := posthog.NewWithConfig(PostHogKey, posthog.Config{Endpoint: PostHogHost})
		if err != nil {
			a.log.Warnf("Failed to initialize PostHog: %v", err)
		} else {
			a.phClient = client
		}
	}
	return a
}

// newApp wires caches, rate limiting, the tile server and the export queue.
// The render device is created in startup.
func newApp(settings *config.UserSettings, cacheRoot, queueDir string, devMode bool) *App {
	a := &App{
		devMode:   devMode,
		log:       logging.For("App"),
		settings:  settings,
		viewState: viewstate.Default(),
	}

	cacheCfg := cache.Config{
		MaxSizeMB:     settings.CacheMaxSizeMB,
		TTLDays:       settings.CacheTTLDays,
		BandMaxSizeMB: settings.BandCacheMaxSizeMB,
	}.Merge()

	tileCache, err := cache.NewPersistentTileCache(cache.TilesDir(cacheRoot), cacheCfg.MaxSizeMB, cacheCfg.TTLDays)
	if err != nil {
		a.log.Warnf("Failed to initialize tile cache: %v", err)
	} else {
		a.tileCache = tileCache
		a.log.Infof("Tile cache initialized at %s (max %d MB)", tileCache.GetCachePath(), cacheCfg.MaxSizeMB)
	}

	bandCache, err := cache.NewTileCache(cache.BandsDir(cacheRoot), cacheCfg.BandMaxSizeMB)
	if err != nil {
		a.log.Warnf("Failed to initialize band cache: %v", err)
	} else {
		a.bandCache = bandCache
	}

	a.rateLimitHandler = ratelimit.NewHandler(nil)
	a.rateLimitHandler.SetAutoRetry(settings.AutoRetryOnRateLimit)
	a.rateLimitHandler.SetOnRateLimit(func(event ratelimit.RateLimitEvent) {
		a.emit("rate-limit", event)
	})
	a.rateLimitHandler.SetOnRetry(func(event ratelimit.RateLimitEvent) {
		a.emit("rate-limit-retry", event)
	})
	a.rateLimitHandler.SetOnRecovered(func(provider string) {
		a.emit("rate-limit-recovered", provider)
	})

	a.tileServer = tileserver.NewServer(a.tileCache, devMode)
	a.tileServer.SetOnTileError(a.onTileError)

	a.taskQueue = taskqueue.NewQueueManager(queueDir)
	a.taskQueue.SetExecutor(a)
	a.taskQueue.SetCallbacks(
		func(status taskqueue.QueueStatus) {
			a.emit("task-queue-update", status)
		},
		func(taskID string, progress taskqueue.TaskProgress) {
			a.emit("task-progress", map[string]interface{}{
				"taskId":   taskID,
				"progress": progress,
			})
		},
		func(taskID string, success bool, err error) {
			errStr := ""
			if err != nil {
				errStr = err.Error()
			}
			a.emit("task-complete", map[string]interface{}{
				"taskId":  taskID,
				"success": success,
				"error":   errStr,
			})
		},
	)
	return a
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	if err := a.tileServer.Start(); err != nil {
		a.log.Errorf("%v", err)
	}
	a.ensureDevice()

	a.TrackEvent("app_started", map[string]interface{}{
		"version": a.GetAppVersion(),
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})
}

// ensureDevice creates the render device exactly once
func (a *App) ensureDevice() {
	a.deviceOnce.Do(func() {
		opts := gpu.DeviceOptions{}
		if a.devMode {
			opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
		a.onDeviceReady(gpu.NewDevice(opts))
	})
}

// onDeviceReady stores the device and builds the tile layer on it
func (a *App) onDeviceReady(device *gpu.Device) {
	a.mu.Lock()
	a.device = device
	a.mu.Unlock()

	if err := a.rebuildLayer(); err != nil {
		a.log.Errorf("Failed to build tile layer: %v", err)
	}
	a.emit("device-ready", true)
}

// layerConfig maps settings onto the tile layer
func layerConfig(s *config.UserSettings) tilelayer.Config {
	return tilelayer.Config{
		ID:             LayerID,
		MinZoom:        s.MinZoom,
		MaxZoom:        s.MaxZoom,
		MaxRequests:    s.MaxRequests,
		MosaicURL:      s.MosaicURL,
		ColorOps:       s.ColorOps,
		RGBBands:       append([]int(nil), s.RGBBands...),
		TileServiceURL: s.TileServiceURL,
		PanWeight:      s.PanWeight,
	}
}

// rebuildLayer swaps the served tile layer for one built from the current settings
func (a *App) rebuildLayer() error {
	a.mu.Lock()
	device := a.device
	cfg := layerConfig(a.settings)
	outline := a.settings.ShowTileGrid
	a.mu.Unlock()

	if device == nil {
		return nil
	}

	opts := []gpu.LoaderOption{gpu.WithRateLimiter(a.rateLimitHandler)}
	if a.bandCache != nil {
		opts = append(opts, gpu.WithBandCache(a.bandCache))
	}
	layer, err := tilelayer.New(cfg, gpu.NewLoader(device, opts...))
	if err != nil {
		return err
	}

	a.tileServer.SetOutline(outline)
	a.tileServer.SetLayer(layer)
	a.emit("layer-changed", layer.ID())
	return nil
}

func (a *App) onTileError(coord tilelayer.TileCoord, err error) {
	a.log.Warnf("Tile %s failed: %v", coord, err)
	a.TrackEvent("tile_failed", map[string]interface{}{
		"z":            coord.Z,
		"rate_limited": errors.Is(err, gpu.ErrRateLimited),
	})
	a.emit("tile-error", map[string]interface{}{
		"tile":  coord.String(),
		"error": err.Error(),
	})
}

// emit sends a frontend event once the webview runtime exists
func (a *App) emit(name string, data interface{}) {
	if a.ctx == nil {
		return
	}
	wailsRuntime.EventsEmit(a.ctx, name, data)
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient == nil {
		return
	}
	a.phClient.Enqueue(posthog.Capture{
		DistinctId: a.settings.InstallID,
		Event:      event,
		Properties: props,
	})
}

// InitialViewState merges the page fragment over the default camera
func (a *App) InitialViewState(fragment string) viewstate.ViewState {
	vs := viewstate.ParseFragment(fragment).Apply(viewstate.Default())

	a.mu.Lock()
	a.viewState = vs
	a.mu.Unlock()
	return vs
}

// OnViewStateChange replaces the camera and returns its fragment
func (a *App) OnViewStateChange(vs viewstate.ViewState) string {
	a.mu.Lock()
	a.viewState = vs
	a.mu.Unlock()
	return viewstate.Format(vs)
}

// GetViewState returns the current camera
func (a *App) GetViewState() viewstate.ViewState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewState
}

// OnMapLoad returns where and how the base map inserts the tile layer
func (a *App) OnMapLoad() (MapLayer, error) {
	base := a.tileServer.GetTileServerURL()
	if base == "" {
		return MapLayer{}, errTileServerNotStarted
	}

	a.mu.Lock()
	minZoom, maxZoom := a.settings.MinZoom, a.settings.MaxZoom
	a.mu.Unlock()

	return MapLayer{
		ID:          LayerID,
		BeforeID:    BeforeLayerID,
		Tiles:       []string{a.tileServer.TileURLTemplate()},
		TileJSONURL: base + "/landsat/tilejson.json",
		MinZoom:     minZoom,
		MaxZoom:     maxZoom,
		TileSize:    tileserver.TileSize,
		StyleURL:    BaseMapStyleURL,
	}, nil
}

// GetRenderPlan reports the layers to draw. The tile layer is always listed.
func (a *App) GetRenderPlan() RenderPlan {
	a.mu.Lock()
	defer a.mu.Unlock()
	return RenderPlan{
		BaseMap: a.device != nil,
		Layers:  []string{LayerID},
	}
}

// GetDeviceStats returns the textures held by the render device
func (a *App) GetDeviceStats() gpu.DeviceStats {
	a.mu.Lock()
	device := a.device
	a.mu.Unlock()
	if device == nil {
		return gpu.DeviceStats{}
	}
	return device.Stats()
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

// Shutdown cleans up resources
func (a *App) Shutdown(ctx context.Context) {
	a.taskQueue.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tileServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warnf("Tile server shutdown: %v", err)
	}

	if a.rateLimitHandler != nil {
		a.rateLimitHandler.Close()
	}
	if a.tileCache != nil {
		if err := a.tileCache.Close(); err != nil {
			a.log.Warnf("Failed to save tile cache index: %v", err)
		}
	}
	if a.bandCache != nil {
		a.bandCache.Close()
	}

	a.mu.Lock()
	device := a.device
	a.mu.Unlock()
	if device != nil {
		stats := device.Stats()
		if err := device.Close(); err != nil {
			a.log.Warnf("Render device close: %v", err)
		}
		a.log.Debugf("Released %d textures (%d bytes)", stats.Textures, stats.Bytes)
	}

	if a.phClient != nil {
		a.phClient.Close()
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
