package gpu

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ramp returns a w x 1 image whose left half is 0 and right half 255
func ramp(w int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, 1))
	for x := w / 2; x < w; x++ {
		img.Pix[x] = 255
	}
	return img
}

func TestMipChain(t *testing.T) {
	device := NewDevice(DeviceOptions{})
	tex, err := device.CreateTexture(image.NewGray(image.Rect(0, 0, 8, 4)), DefaultParameters)
	require.NoError(t, err)

	require.Equal(t, 4, tex.Levels())
	assert.Equal(t, image.Rect(0, 0, 4, 2), tex.Level(1).Rect)
	assert.Equal(t, image.Rect(0, 0, 2, 1), tex.Level(2).Rect)
	assert.Equal(t, image.Rect(0, 0, 1, 1), tex.Level(3).Rect)
	assert.EqualValues(t, 8*4+4*2+2+1, device.Stats().Bytes)
}

func TestNoMipmapsWithoutMipmapFilter(t *testing.T) {
	params := DefaultParameters
	params.MinFilter = Linear
	tex, err := NewDevice(DeviceOptions{}).CreateTexture(image.NewGray(image.Rect(0, 0, 8, 8)), params)
	require.NoError(t, err)
	assert.Equal(t, 1, tex.Levels())
}

func TestSampleClampToEdge(t *testing.T) {
	tex, err := NewDevice(DeviceOptions{}).CreateTexture(ramp(4), DefaultParameters)
	require.NoError(t, err)

	assert.InDelta(t, 0, tex.Sample(-3, 0.5, 1), 1e-9)
	assert.InDelta(t, 1, tex.Sample(7, 0.5, 1), 1e-9)
	// texel centers at 0.125, 0.375, 0.625, 0.875; halfway between the two halves
	assert.InDelta(t, 0.5, tex.Sample(0.5, 0.5, 1), 1e-9)
}

func TestSampleMinificationUsesMipLevels(t *testing.T) {
	tex, err := NewDevice(DeviceOptions{}).CreateTexture(ramp(8), DefaultParameters)
	require.NoError(t, err)

	// footprint beyond the chain selects the 1x1 level, the image average
	assert.InDelta(t, tex.Sample(0.1, 0.5, 1e6), tex.Sample(0.9, 0.5, 1e6), 1e-9)

	// at the base level the edges keep their values
	assert.InDelta(t, 0, tex.Sample(0.01, 0.5, 1), 1e-9)
	assert.InDelta(t, 1, tex.Sample(0.99, 0.5, 1), 1e-9)
}

func TestDeviceReleaseAndClose(t *testing.T) {
	device := NewDevice(DeviceOptions{})
	a, err := device.CreateTexture(image.NewGray(image.Rect(0, 0, 2, 2)), DefaultParameters)
	require.NoError(t, err)
	b, err := device.CreateTexture(image.NewGray(image.Rect(0, 0, 2, 2)), DefaultParameters)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	device.Release(a, nil, a)
	stats := device.Stats()
	assert.Equal(t, 1, stats.Textures)
	assert.EqualValues(t, 2, stats.Created)

	require.NoError(t, device.Close())
	assert.Equal(t, 0, device.Stats().Textures)

	_, err = device.CreateTexture(image.NewGray(image.Rect(0, 0, 1, 1)), DefaultParameters)
	assert.ErrorIs(t, err, ErrDeviceClosed)
}
