package tileserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"landsat-desktop/internal/cache"
	"landsat-desktop/internal/logging"
	"landsat-desktop/internal/tilelayer"
)

// TileErrorFunc is notified of tiles that failed to composite
type TileErrorFunc func(coord tilelayer.TileCoord, err error)

// Server is the loopback tile server the base map consumes as a raster source
type Server struct {
	mu            sync.RWMutex
	layer         *tilelayer.Layer
	variant       string        // Cache variant of the active layer
	slots         chan struct{} // In-flight tile semaphore sized by MaxRequests
	outline       bool
	onTileError   TileErrorFunc
	tileCache     *cache.PersistentTileCache
	httpServer    *http.Server
	tileServerURL string
	devMode       bool
	log           *logrus.Entry
}

// NewServer creates a tile server. tileCache may be nil.
func NewServer(tileCache *cache.PersistentTileCache, devMode bool) *Server {
	return &Server{
		tileCache: tileCache,
		devMode:   devMode,
		log:       logging.For("TileServer"),
	}
}

// SetLayer swaps the active tile layer. A nil layer serves transparent tiles.
func (s *Server) SetLayer(layer *tilelayer.Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.layer = layer
	if layer == nil {
		s.slots = nil
		s.variant = ""
		return
	}
	s.slots = make(chan struct{}, layer.Config().MaxRequests)
	s.variant = layerVariant(layer.Config(), s.outline)
	s.log.Infof("Serving layer %s (variant %s, %d slots)", layer.ID(), s.variant, cap(s.slots))
}

// Layer returns the active tile layer, nil before the device is ready
func (s *Server) Layer() *tilelayer.Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layer
}

// SetOutline toggles the tile grid outline on composited tiles
func (s *Server) SetOutline(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outline = enabled
	if s.layer != nil {
		s.variant = layerVariant(s.layer.Config(), enabled)
	}
}

// SetOnTileError registers a callback for failed tiles
func (s *Server) SetOnTileError(fn TileErrorFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTileError = fn
}

// GetTileServerURL returns the tile server URL
func (s *Server) GetTileServerURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tileServerURL
}

// TileURLTemplate returns the {z}/{x}/{y} template of the composited tiles
func (s *Server) TileURLTemplate() string {
	return s.GetTileServerURL() + "/landsat/{z}/{x}/{y}.png"
}

// corsMiddleware adds CORS headers to allow requests from Wails frontend
// On macOS/Linux, Wails uses wails://wails origin which requires CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		w.Header().Set("Access-Control-Expose-Headers", "X-Cache-Status, X-Tile-Error")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/landsat/tilejson.json", s.handleTileJSON)
	mux.HandleFunc("/landsat/", s.handleLandsatTile)
	return corsMiddleware(mux)
}

// Start listens on a random loopback port and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to start tile server: %w", err)
	}

	port := listener.Addr().(*net.TCPAddr).Port
	server := &http.Server{Handler: s.Handler()}

	s.mu.Lock()
	s.tileServerURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	s.httpServer = server
	s.mu.Unlock()
	s.log.Infof("Tile server started on %s", s.tileServerURL)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("Tile server stopped: %v", err)
		}
	}()

	return nil
}

// Shutdown stops the HTTP server, waiting for in-flight tiles until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	server := s.httpServer
	s.mu.RUnlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
