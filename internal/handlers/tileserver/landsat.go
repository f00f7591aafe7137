package tileserver

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"landsat-desktop/internal/common"
	"landsat-desktop/internal/landsat"
	"landsat-desktop/internal/raster"
	"landsat-desktop/internal/tilelayer"
)

const (
	// RenderSize is the pixel size of composited tiles, matching the @2x band images
	RenderSize = 512

	// TileSize is the logical size the base map draws each tile at
	TileSize = 256

	tilePathPrefix = "/landsat/"
)

var errLayerNotReady = errors.New("render device not ready")

// transparentPNG is a 256x256 fully transparent tile
var transparentPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x00,
	0x01, 0x03, 0x00, 0x00, 0x00, 0x66, 0xbc, 0x3a, 0x25, 0x00, 0x00, 0x00,
	0x03, 0x50, 0x4c, 0x54, 0x45, 0x00, 0x00, 0x00, 0xa7, 0x7a, 0x3d, 0xda,
	0x00, 0x00, 0x00, 0x01, 0x74, 0x52, 0x4e, 0x53, 0x00, 0x40, 0xe6, 0xd8,
	0x66, 0x00, 0x00, 0x00, 0x1f, 0x49, 0x44, 0x41, 0x54, 0x68, 0xde, 0xed,
	0xc1, 0x01, 0x0d, 0x00, 0x00, 0x00, 0xc2, 0xa0, 0xf7, 0x4f, 0x6d, 0x0e,
	0x37, 0xa0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xbe, 0x0d,
	0x21, 0x00, 0x00, 0x01, 0x9a, 0x60, 0xe1, 0xd5, 0x00, 0x00, 0x00, 0x00,
	0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// TransparentTile returns the PNG served for empty or failed tiles
func TransparentTile() []byte {
	return append([]byte(nil), transparentPNG...)
}

// layerVariant identifies the styling of composited tiles so cached tiles
// of one mosaic or band combination are never served for another
func layerVariant(cfg tilelayer.Config, outline bool) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%v|%s|%s|%g|%t", cfg.MosaicURL, cfg.RGBBands, cfg.ColorOps, cfg.TileServiceURL, cfg.PanWeight, outline)
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// parseTilePath parses {z}/{x}/{y}.png below the /landsat/ prefix
func parseTilePath(path string) (tilelayer.TileCoord, error) {
	parts := strings.Split(strings.TrimPrefix(path, tilePathPrefix), "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".png") {
		return tilelayer.TileCoord{}, fmt.Errorf("expected %s{z}/{x}/{y}.png", tilePathPrefix)
	}

	z, err := strconv.Atoi(parts[0])
	if err != nil || z < 0 || z > 30 {
		return tilelayer.TileCoord{}, fmt.Errorf("invalid zoom level %q", parts[0])
	}
	x, err := strconv.Atoi(parts[1])
	if err != nil || x < 0 || x >= 1<<z {
		return tilelayer.TileCoord{}, fmt.Errorf("invalid X coordinate %q", parts[1])
	}
	y, err := strconv.Atoi(strings.TrimSuffix(parts[2], ".png"))
	if err != nil || y < 0 || y >= 1<<z {
		return tilelayer.TileCoord{}, fmt.Errorf("invalid Y coordinate %q", parts[2])
	}
	return tilelayer.TileCoord{X: x, Y: y, Z: z}, nil
}

// handleLandsatTile serves composited Landsat tiles with persistent caching
// URL format: /landsat/{z}/{x}/{y}.png
func (s *Server) handleLandsatTile(w http.ResponseWriter, r *http.Request) {
	coord, err := parseTilePath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	layer, variant, slots, outline, onTileError := s.layer, s.variant, s.slots, s.outline, s.onTileError
	s.mu.RUnlock()

	if layer == nil {
		s.serveFailedTile(w, errLayerNotReady)
		return
	}
	if !layer.InZoomRange(coord.Z) {
		s.serveTransparentTile(w)
		return
	}

	if s.tileCache != nil {
		if data, found := s.tileCache.Get(common.ProviderLandsat, variant, coord.Z, coord.X, coord.Y); found {
			if s.devMode {
				s.log.Debugf("Cache hit: %s", coord)
			}
			s.servePNG(w, data, "HIT")
			return
		}
	}

	// The layer caps concurrent tiles, waiting requests give up with their client
	select {
	case slots <- struct{}{}:
		defer func() { <-slots }()
	case <-r.Context().Done():
		return
	}

	data, err := s.renderTile(r.Context(), layer, coord, outline)
	if err != nil {
		if r.Context().Err() == nil {
			s.log.Warnf("Tile %s failed: %v", coord, err)
			if onTileError != nil {
				onTileError(coord, err)
			}
		}
		s.serveFailedTile(w, err)
		return
	}

	if s.tileCache != nil {
		if err := s.tileCache.Set(common.ProviderLandsat, variant, coord.Z, coord.X, coord.Y, data); err != nil {
			s.log.Warnf("Failed to cache tile %s: %v", coord, err)
		}
	}
	s.servePNG(w, data, "MISS")
}

func (s *Server) renderTile(ctx context.Context, layer *tilelayer.Layer, coord tilelayer.TileCoord, outline bool) ([]byte, error) {
	data, err := layer.GetTileData(ctx, coord)
	if err != nil {
		return nil, err
	}
	defer layer.Release(data)

	sub := layer.RenderSubLayers(tilelayer.NewTile(coord), data)
	sub.Outline = outline

	var buf bytes.Buffer
	if err := sub.Encode(&buf, RenderSize, RenderSize, raster.PNG); err != nil {
		return nil, fmt.Errorf("tile %s: failed to encode: %w", coord, err)
	}
	return buf.Bytes(), nil
}

// handleTileJSON describes the active layer for map clients
func (s *Server) handleTileJSON(w http.ResponseWriter, r *http.Request) {
	layer := s.Layer()
	if layer == nil {
		http.Error(w, errLayerNotReady.Error(), http.StatusServiceUnavailable)
		return
	}
	cfg := layer.Config()

	doc := landsat.NewTileJSON(common.DisplayNameLandsat, s.TileURLTemplate(), landsat.WorldBounds, cfg.MinZoom, cfg.MaxZoom, nil)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.log.Warnf("Failed to write tilejson: %v", err)
	}
}

func (s *Server) servePNG(w http.ResponseWriter, data []byte, cacheStatus string) {
	w.Header().Set("Content-Type", raster.PNG.ContentType())
	w.Header().Set("Cache-Control", "max-age=86400")
	w.Header().Set("X-Cache-Status", cacheStatus)
	w.Write(data)
}

// serveFailedTile serves a transparent tile that the browser must not keep
func (s *Server) serveFailedTile(w http.ResponseWriter, err error) {
	w.Header().Set("X-Tile-Error", err.Error())
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(transparentPNG)
}

func (s *Server) serveTransparentTile(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(transparentPNG)
}
