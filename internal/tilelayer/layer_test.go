package tilelayer

import (
	"context"
	"errors"
	"image"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landsat-desktop/internal/gpu"
	"landsat-desktop/internal/raster"
)

// fakeLoader records requested URLs and hands out flat textures
type fakeLoader struct {
	mu       sync.Mutex
	device   *gpu.Device
	requests []string
	failBand string
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{device: gpu.NewDevice(gpu.DeviceOptions{})}
}

func (f *fakeLoader) LoadTexture(_ context.Context, u string) (*gpu.Texture, error) {
	f.mu.Lock()
	f.requests = append(f.requests, u)
	f.mu.Unlock()

	parsed, _ := url.Parse(u)
	if f.failBand != "" && parsed.Query().Get("bands") == f.failBand {
		return nil, errors.New("band unavailable")
	}
	return f.device.CreateTexture(image.NewGray(image.Rect(0, 0, 4, 4)), gpu.DefaultParameters)
}

func (f *fakeLoader) LoadTextures(ctx context.Context, urls []string) ([]*gpu.Texture, error) {
	out := make([]*gpu.Texture, len(urls))
	for i, u := range urls {
		tex, err := f.LoadTexture(ctx, u)
		if err != nil {
			f.device.Release(out...)
			return nil, err
		}
		out[i] = tex
	}
	return out, nil
}

func (f *fakeLoader) Release(textures ...*gpu.Texture) {
	f.device.Release(textures...)
}

func (f *fakeLoader) bands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		u, _ := url.Parse(r)
		out = append(out, u.Query().Get("bands"))
	}
	return out
}

func newLayer(t *testing.T, loader TextureLoader) *Layer {
	t.Helper()
	layer, err := New(Config{MosaicURL: "dynamodb://us-west-2/landsat8-2015-spring"}, loader)
	require.NoError(t, err)
	return layer
}

func TestConfigDefaults(t *testing.T) {
	layer := newLayer(t, newFakeLoader())
	cfg := layer.Config()

	assert.Equal(t, "landsat-tile-layer", cfg.ID)
	assert.Equal(t, 7, cfg.MinZoom)
	assert.Equal(t, 12, cfg.MaxZoom)
	assert.Equal(t, 6, cfg.MaxRequests)
	assert.Equal(t, []int{4, 3, 2}, cfg.RGBBands)
	assert.Equal(t, 0.2, cfg.PanWeight)
	assert.True(t, strings.HasPrefix(cfg.TileServiceURL, "https://"))
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{}, newFakeLoader())
	assert.Error(t, err, "mosaic url is required")

	_, err = New(Config{MosaicURL: "m", RGBBands: []int{4, 3}}, newFakeLoader())
	assert.Error(t, err, "three bands are required")

	_, err = New(Config{MosaicURL: "m", MinZoom: 10, MaxZoom: 8}, newFakeLoader())
	assert.Error(t, err, "max zoom below min zoom")

	_, err = New(Config{MosaicURL: "m", PanWeight: -0.5}, newFakeLoader())
	assert.Error(t, err, "negative pan weight")
}

func TestGetTileDataBelowPanZoom(t *testing.T) {
	loader := newFakeLoader()
	layer := newLayer(t, loader)

	data, err := layer.GetTileData(context.Background(), TileCoord{X: 10, Y: 20, Z: 11})
	require.NoError(t, err)

	assert.Equal(t, []string{"4", "3", "2"}, loader.bands())
	assert.Len(t, data.ImageBands, 3)
	assert.Nil(t, data.ImagePan)
	assert.Equal(t, []string{"combine-bands"}, raster.ModuleNames(data.Modules))
}

func TestGetTileDataAtPanZoom(t *testing.T) {
	loader := newFakeLoader()
	layer := newLayer(t, loader)

	data, err := layer.GetTileData(context.Background(), TileCoord{X: 10, Y: 20, Z: 12})
	require.NoError(t, err)

	assert.Len(t, loader.bands(), 4)
	assert.ElementsMatch(t, []string{"4", "3", "2", "8"}, loader.bands())
	assert.Len(t, data.ImageBands, 3)
	assert.NotNil(t, data.ImagePan)
	assert.Equal(t, []string{"combine-bands", "pansharpen-brovey"}, raster.ModuleNames(data.Modules))
	assert.Equal(t, 4, loader.device.Stats().Textures)

	layer.Release(data)
	assert.Equal(t, 0, loader.device.Stats().Textures)
}

func TestGetTileDataFailure(t *testing.T) {
	loader := newFakeLoader()
	loader.failBand = "8"
	layer := newLayer(t, loader)

	data, err := layer.GetTileData(context.Background(), TileCoord{X: 1, Y: 1, Z: 12})
	require.Error(t, err)
	assert.Nil(t, data)
	assert.Contains(t, err.Error(), "pan band")
	assert.Equal(t, 0, loader.device.Stats().Textures, "loaded color bands are released")

	loader.failBand = "3"
	_, err = layer.GetTileData(context.Background(), TileCoord{X: 1, Y: 1, Z: 9})
	require.Error(t, err)
	assert.Equal(t, 0, loader.device.Stats().Textures)
}

func TestBandURLsCustomBands(t *testing.T) {
	layer, err := New(Config{MosaicURL: "m", RGBBands: []int{7, 5, 3}, ColorOps: "gamma RGB 2"}, newFakeLoader())
	require.NoError(t, err)

	bands, pan := layer.BandURLs(TileCoord{X: 3, Y: 4, Z: 8})
	require.Len(t, bands, 3)
	assert.Empty(t, pan)

	u, err := url.Parse(bands[0])
	require.NoError(t, err)
	assert.Equal(t, "7", u.Query().Get("bands"))
	assert.Equal(t, "gamma RGB 2", u.Query().Get("color_ops"))
	assert.True(t, strings.HasSuffix(u.Path, "/8/3/4@2x.jpg"))
}

func TestRenderSubLayers(t *testing.T) {
	loader := newFakeLoader()
	layer := newLayer(t, loader)

	coord := TileCoord{X: 0, Y: 0, Z: 1}
	data, err := layer.GetTileData(context.Background(), coord)
	require.NoError(t, err)

	tile := NewTile(coord)
	sub := layer.RenderSubLayers(tile, data)

	assert.Equal(t, "landsat-tile-layer-1/0/0", sub.ID)
	assert.Equal(t, data.Modules, sub.Modules)
	assert.Equal(t, data.ImageBands, sub.Props.ImageBands)
	assert.Equal(t, 0.2, sub.Props.PanWeight)
	assert.InDelta(t, -180, sub.Bounds.Min.X(), 1e-9)
	assert.InDelta(t, 0, sub.Bounds.Max.X(), 1e-9)
	assert.InDelta(t, 0, sub.Bounds.Min.Y(), 1e-9)
	assert.Greater(t, sub.Bounds.Max.Y(), 85.0)
}

func TestCheckZoom(t *testing.T) {
	layer := newLayer(t, newFakeLoader())
	assert.NoError(t, layer.CheckZoom(7))
	assert.NoError(t, layer.CheckZoom(12))
	assert.ErrorIs(t, layer.CheckZoom(6), ErrZoomOutOfRange)
	assert.ErrorIs(t, layer.CheckZoom(13), ErrZoomOutOfRange)
}
