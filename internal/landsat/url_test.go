package landsat

import (
	"net/url"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorOps(t *testing.T) {
	assert.Contains(t, ColorOps(3), "saturation 1.7")
	assert.Equal(t, "gamma RGB 3.5, sigmoidal RGB 15 0.35, saturation 1.7", ColorOps(3))

	assert.NotContains(t, ColorOps(1), "saturation")
	assert.Equal(t, "gamma R 3.5, sigmoidal R 15 0.35", ColorOps(1))
}

func TestTileURLSingleBand(t *testing.T) {
	raw := TileURL(TileRequest{Bands: Band(4), MosaicURL: "m", X: 1, Y: 2, Z: 3})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.True(t, strings.HasSuffix(u.Path, "/3/1/2@2x.jpg"), u.Path)

	q := u.Query()
	assert.Equal(t, "4", q.Get("bands"))
	assert.Equal(t, "m", q.Get("url"))
	assert.Equal(t, ColorOps(1), q.Get("color_ops"))
}

func TestTileURLBandOrder(t *testing.T) {
	raw := TileURL(TileRequest{Bands: []int{4, 3, 2}, MosaicURL: "dynamodb://us-west-2/landsat8-2015-spring", X: 10, Y: 20, Z: 7})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "4,3,2", u.Query().Get("bands"))
	assert.Equal(t, ColorOps(3), u.Query().Get("color_ops"))
	assert.Equal(t, "dynamodb://us-west-2/landsat8-2015-spring", u.Query().Get("url"))
}

func TestTileURLOverrides(t *testing.T) {
	raw := TileURL(TileRequest{
		Bands:     Band(PanchromaticBand),
		MosaicURL: "m",
		X:         5, Y: 6, Z: 12,
		ColorOps:  "gamma R 2",
		BaseURL:   "http://localhost:8000/tiles/",
	})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8000", u.Host)
	assert.Equal(t, "/tiles/12/5/6@2x.jpg", u.Path)
	assert.Equal(t, "gamma R 2", u.Query().Get("color_ops"))
	assert.Equal(t, "8", u.Query().Get("bands"))
}

func TestNewTileJSON(t *testing.T) {
	bounds := orb.Bound{Min: orb.Point{-10, -20}, Max: orb.Point{30, 40}}
	doc := NewTileJSON("m", "http://127.0.0.1:1/landsat/{z}/{x}/{y}.png", bounds, 7, 12, url.Values{"url": {"m"}})

	assert.Equal(t, "2.1.0", doc.TileJSON)
	assert.Equal(t, [4]float64{-10, -20, 30, 40}, doc.Bounds)
	assert.Equal(t, [3]float64{10, 10, 7}, doc.Center)
	require.Len(t, doc.Tiles, 1)
	assert.Equal(t, "http://127.0.0.1:1/landsat/{z}/{x}/{y}.png?url=m", doc.Tiles[0])
}
