package tileserver

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landsat-desktop/internal/cache"
	"landsat-desktop/internal/gpu"
	"landsat-desktop/internal/landsat"
	"landsat-desktop/internal/tilelayer"
)

// tileService fakes the remote band endpoint. Each band is a flat gray image.
type tileService struct {
	*httptest.Server
	hits     int64
	inFlight int64
	peak     int64
	delay    time.Duration
	fail     atomic.Bool
}

func newTileService(t *testing.T, delay time.Duration) *tileService {
	t.Helper()
	ts := &tileService{delay: delay}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&ts.hits, 1)
		n := atomic.AddInt64(&ts.inFlight, 1)
		for {
			p := atomic.LoadInt64(&ts.peak)
			if n <= p || atomic.CompareAndSwapInt64(&ts.peak, p, n) {
				break
			}
		}
		if ts.delay > 0 {
			time.Sleep(ts.delay)
		}
		// Done before the response leaves so the client never sees a stale count
		atomic.AddInt64(&ts.inFlight, -1)

		if ts.fail.Load() {
			http.Error(w, "mosaic not found", http.StatusInternalServerError)
			return
		}

		band, _ := strconv.Atoi(r.URL.Query().Get("bands"))
		img := image.NewGray(image.Rect(0, 0, 4, 4))
		for i := range img.Pix {
			img.Pix[i] = uint8(band * 20)
		}
		w.Header().Set(landsat.AssetsHeader, `["LC08_L1TP_037034_20150405"]`)
		w.Header().Set("Content-Type", "image/png")
		png.Encode(w, img)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestServer(t *testing.T, ts *tileService, maxRequests int, withCache bool) *Server {
	t.Helper()

	var tileCache *cache.PersistentTileCache
	if withCache {
		var err error
		tileCache, err = cache.NewPersistentTileCache(t.TempDir(), 10, 30)
		require.NoError(t, err)
		t.Cleanup(func() { tileCache.Close() })
	}

	layer, err := tilelayer.New(tilelayer.Config{
		MosaicURL:      "dynamodb://us-west-2/landsat8-2015-spring",
		TileServiceURL: ts.URL + "/tiles",
		MaxRequests:    maxRequests,
	}, gpu.NewLoader(gpu.NewDevice(gpu.DeviceOptions{})))
	require.NoError(t, err)

	s := NewServer(tileCache, false)
	s.SetLayer(layer)
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestTileMissThenHit(t *testing.T) {
	ts := newTileService(t, 0)
	s := newTestServer(t, ts, 6, true)
	h := s.Handler()

	rec := get(t, h, "/landsat/9/100/200.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache-Status"))
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, int64(3), atomic.LoadInt64(&ts.hits), "three color bands below pan zoom")

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, RenderSize, RenderSize), img.Bounds())
	_, _, _, a := img.At(256, 256).RGBA()
	assert.Equal(t, uint32(0xffff), a)

	rec = get(t, h, "/landsat/9/100/200.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache-Status"))
	assert.Equal(t, int64(3), atomic.LoadInt64(&ts.hits))
}

func TestTileAtPanZoom(t *testing.T) {
	ts := newTileService(t, 0)
	s := newTestServer(t, ts, 6, false)

	rec := get(t, s.Handler(), "/landsat/12/700/1600.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Tile-Error"))
	assert.Equal(t, int64(4), atomic.LoadInt64(&ts.hits), "pan band joins the color bands")
}

func TestTileOutsideZoomRange(t *testing.T) {
	ts := newTileService(t, 0)
	s := newTestServer(t, ts, 6, true)
	h := s.Handler()

	for _, path := range []string{"/landsat/6/10/20.png", "/landsat/13/10/20.png"} {
		rec := get(t, h, path)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, transparentPNG, rec.Body.Bytes())
		assert.Empty(t, rec.Header().Get("X-Cache-Status"))
	}
	assert.Zero(t, atomic.LoadInt64(&ts.hits))
}

func TestTileFailureServesTransparent(t *testing.T) {
	ts := newTileService(t, 0)
	ts.fail.Store(true)
	s := newTestServer(t, ts, 6, true)

	var mu sync.Mutex
	var failed []tilelayer.TileCoord
	s.SetOnTileError(func(coord tilelayer.TileCoord, err error) {
		mu.Lock()
		failed = append(failed, coord)
		mu.Unlock()
	})

	h := s.Handler()
	rec := get(t, h, "/landsat/8/1/2.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, transparentPNG, rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("X-Tile-Error"), "failed to load bands")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	mu.Lock()
	assert.Equal(t, []tilelayer.TileCoord{{X: 1, Y: 2, Z: 8}}, failed)
	mu.Unlock()

	// Failures are not cached, the next request goes back to the service
	ts.fail.Store(false)
	rec = get(t, h, "/landsat/8/1/2.png")
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache-Status"))
	assert.Empty(t, rec.Header().Get("X-Tile-Error"))
}

func TestTileBeforeLayerReady(t *testing.T) {
	s := NewServer(nil, false)

	rec := get(t, s.Handler(), "/landsat/9/1/1.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, transparentPNG, rec.Body.Bytes())
	assert.NotEmpty(t, rec.Header().Get("X-Tile-Error"))

	rec = get(t, s.Handler(), "/landsat/tilejson.json")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBadTilePath(t *testing.T) {
	s := NewServer(nil, false)
	h := s.Handler()

	for _, path := range []string{
		"/landsat/9/1.png",
		"/landsat/a/1/1.png",
		"/landsat/9/1/1.jpg",
		"/landsat/2/4/0.png",
		"/landsat/2/0/-1.png",
	} {
		rec := get(t, h, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestTileJSON(t *testing.T) {
	ts := newTileService(t, 0)
	s := newTestServer(t, ts, 6, false)

	rec := get(t, s.Handler(), "/landsat/tilejson.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc landsat.TileJSON
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "2.1.0", doc.TileJSON)
	assert.Equal(t, 7, doc.MinZoom)
	assert.Equal(t, 12, doc.MaxZoom)
	require.Len(t, doc.Tiles, 1)
	assert.Contains(t, doc.Tiles[0], "/landsat/{z}/{x}/{y}.png")
}

func TestCORSPreflight(t *testing.T) {
	s := NewServer(nil, false)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/landsat/9/1/1.png", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestMaxRequestsCapsInFlightTiles(t *testing.T) {
	ts := newTileService(t, 20*time.Millisecond)
	s := newTestServer(t, ts, 1, false)
	h := s.Handler()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(x int) {
			defer wg.Done()
			get(t, h, "/landsat/9/"+strconv.Itoa(x)+"/0.png")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(9), atomic.LoadInt64(&ts.hits))
	assert.LessOrEqual(t, atomic.LoadInt64(&ts.peak), int64(3), "one tile at a time")
}

func TestLayerVariantChangesWithStyle(t *testing.T) {
	cfg := tilelayer.Config{MosaicURL: "a", RGBBands: []int{4, 3, 2}}
	other := cfg
	other.RGBBands = []int{7, 5, 3}

	assert.Equal(t, layerVariant(cfg, false), layerVariant(cfg, false))
	assert.NotEqual(t, layerVariant(cfg, false), layerVariant(other, false))
	assert.NotEqual(t, layerVariant(cfg, false), layerVariant(cfg, true))
	assert.Len(t, layerVariant(cfg, false), 12)
}
