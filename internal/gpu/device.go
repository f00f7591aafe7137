// Package gpu owns the render device shared by the tile layer and the
// compositing layer, and loads remote band images into its textures.
package gpu

import (
	"errors"
	"image"
	"log/slog"
	"sync"

	"github.com/gogpu/gg"
)

// ErrDeviceClosed is returned when creating textures on a closed device
var ErrDeviceClosed = errors.New("gpu: device closed")

// DeviceOptions configures NewDevice
type DeviceOptions struct {
	// Logger receives diagnostics from the gg renderer. Nil keeps it silent.
	Logger *slog.Logger
}

// DeviceStats reports the resources held by a device
type DeviceStats struct {
	Textures int   `json:"textures"`
	Bytes    int64 `json:"bytes"`
	Created  int64 `json:"created"`
}

// Device is the render context. One is created per session and passed
// by reference to every consumer; it is safe for concurrent use.
type Device struct {
	mu       sync.Mutex
	nextID   uint64
	textures map[uint64]*Texture
	bytes    int64
	created  int64
	closed   bool
}

// NewDevice creates the render device
func NewDevice(opts DeviceOptions) *Device {
	gg.SetLogger(opts.Logger)
	return &Device{
		textures: make(map[uint64]*Texture),
	}
}

// CreateTexture uploads img as a luminance texture with the given parameters
func (d *Device) CreateTexture(img image.Image, params Parameters) (*Texture, error) {
	base := toLuminance(img)
	tex := &Texture{
		Format: Luminance,
		Params: params,
		levels: buildMipChain(base, params.MinFilter == LinearMipmapLinear),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	d.nextID++
	tex.ID = d.nextID
	d.textures[tex.ID] = tex
	d.bytes += tex.sizeBytes()
	d.created++
	return tex, nil
}

// Release frees a texture. Releasing nil or an unknown texture is a no-op.
func (d *Device) Release(textures ...*Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range textures {
		if t == nil {
			continue
		}
		if _, ok := d.textures[t.ID]; !ok {
			continue
		}
		delete(d.textures, t.ID)
		d.bytes -= t.sizeBytes()
	}
}

// Stats returns current resource usage
func (d *Device) Stats() DeviceStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DeviceStats{Textures: len(d.textures), Bytes: d.bytes, Created: d.created}
}

// Close releases every texture and rejects further uploads
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.textures = make(map[uint64]*Texture)
	d.bytes = 0
	return nil
}
