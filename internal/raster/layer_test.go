package raster

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landsat-desktop/internal/gpu"
)

func flat(t *testing.T, d *gpu.Device, size int, v uint8) *gpu.Texture {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	tex, err := d.CreateTexture(img, gpu.DefaultParameters)
	require.NoError(t, err)
	return tex
}

func TestCombineBands(t *testing.T) {
	c := CombineBands.Apply(Color{}, &Sample{Bands: []float64{0.1, 0.2, 0.3}}, &ModuleProps{})
	assert.Equal(t, Color{0.1, 0.2, 0.3, 1}, c)
}

func TestPansharpenBrovey(t *testing.T) {
	props := &ModuleProps{}
	in := Color{0.2, 0.2, 0.2, 1}

	// intensity (0.2 + 0.2 + 0.2*0.2) / 2.2 = 0.2
	out := PansharpenBrovey.Apply(in, &Sample{Pan: 0.4}, props)
	assert.InDelta(t, 0.4, out[0], 1e-9)
	assert.InDelta(t, 0.4, out[1], 1e-9)
	assert.InDelta(t, 0.4, out[2], 1e-9)
	assert.Equal(t, 1.0, out[3])

	black := PansharpenBrovey.Apply(Color{0, 0, 0, 1}, &Sample{Pan: 1}, props)
	assert.Equal(t, Color{0, 0, 0, 1}, black)

	bright := PansharpenBrovey.Apply(in, &Sample{Pan: 1}, props)
	assert.Equal(t, 1.0, bright[0], "clamped")
}

func TestRenderCombinesBands(t *testing.T) {
	d := gpu.NewDevice(gpu.DeviceOptions{})
	layer := &Layer{
		ID:      "t",
		Modules: []Module{CombineBands},
		Props:   ModuleProps{ImageBands: []*gpu.Texture{flat(t, d, 8, 255), flat(t, d, 8, 128), flat(t, d, 8, 0)}},
		Bounds:  orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}},
	}

	img, err := layer.Render(4, 4)
	require.NoError(t, err)
	px := img.RGBAAt(2, 2)
	assert.Equal(t, uint8(255), px.R)
	assert.Equal(t, uint8(128), px.G)
	assert.Equal(t, uint8(0), px.B)
	assert.Equal(t, uint8(255), px.A)
}

func TestRenderWithPan(t *testing.T) {
	d := gpu.NewDevice(gpu.DeviceOptions{})
	band := flat(t, d, 4, 51) // 0.2
	layer := &Layer{
		Modules: []Module{CombineBands, PansharpenBrovey},
		Props: ModuleProps{
			ImageBands: []*gpu.Texture{band, band, band},
			ImagePan:   flat(t, d, 8, 102), // 0.4
		},
	}

	img, err := layer.Render(8, 8)
	require.NoError(t, err)
	assert.InDelta(t, 102, int(img.RGBAAt(3, 3).R), 1)
}

func TestRenderWithoutBands(t *testing.T) {
	_, err := (&Layer{}).Render(4, 4)
	assert.Error(t, err)
}

func TestEncodePNG(t *testing.T) {
	d := gpu.NewDevice(gpu.DeviceOptions{})
	tex := flat(t, d, 4, 200)
	layer := &Layer{
		Modules: []Module{CombineBands},
		Props:   ModuleProps{ImageBands: []*gpu.Texture{tex, tex, tex}},
	}

	var buf bytes.Buffer
	require.NoError(t, layer.Encode(&buf, 16, 16, PNG))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
	r, _, _, _ := img.At(8, 8).RGBA()
	assert.InDelta(t, 200, int(r>>8), 1)
}

func TestModuleNames(t *testing.T) {
	assert.Equal(t, []string{"combine-bands", "pansharpen-brovey"}, ModuleNames([]Module{CombineBands, PansharpenBrovey}))
	assert.Equal(t, "image/jpeg", JPEG.ContentType())
	assert.Equal(t, "image/png", PNG.ContentType())
}
