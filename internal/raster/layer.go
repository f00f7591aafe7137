// Package raster composites band textures into color tiles.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
)

// Format is the encoding of a rendered tile
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpg"
)

// ContentType returns the MIME type for f
func (f Format) ContentType() string {
	if f == JPEG {
		return "image/jpeg"
	}
	return "image/png"
}

var errNoBands = errors.New("raster layer has no band textures")

// Layer is a raster compositing layer drawn over a geographic bounding box
type Layer struct {
	ID      string
	Modules []Module
	Props   ModuleProps
	Bounds  orb.Bound

	// Outline strokes the tile edge, for debugging tile seams
	Outline bool
}

// Render runs the module list for every pixel of a w x h tile
func (l *Layer) Render(w, h int) (*image.RGBA, error) {
	if len(l.Props.ImageBands) == 0 {
		return nil, errNoBands
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid tile size %dx%d", w, h)
	}

	bandFootprints := make([]float64, len(l.Props.ImageBands))
	for i, tex := range l.Props.ImageBands {
		bandFootprints[i] = float64(tex.Width()) / float64(w)
	}
	var panFootprint float64
	if l.Props.ImagePan != nil {
		panFootprint = float64(l.Props.ImagePan.Width()) / float64(w)
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	sample := &Sample{Bands: make([]float64, len(l.Props.ImageBands))}
	for y := 0; y < h; y++ {
		v := (float64(y) + 0.5) / float64(h)
		for x := 0; x < w; x++ {
			u := (float64(x) + 0.5) / float64(w)
			for i, tex := range l.Props.ImageBands {
				sample.Bands[i] = tex.Sample(u, v, bandFootprints[i])
			}
			if l.Props.ImagePan != nil {
				sample.Pan = l.Props.ImagePan.Sample(u, v, panFootprint)
			}

			c := Color{0, 0, 0, 1}
			for _, m := range l.Modules {
				c = m.Apply(c, sample, &l.Props)
			}
			out.SetRGBA(x, y, toRGBA(c))
		}
	}
	return out, nil
}

func toRGBA(c Color) color.RGBA {
	a := clamp01(c[3])
	// image.RGBA is alpha-premultiplied
	return color.RGBA{
		R: uint8(clamp01(c[0])*a*255 + 0.5),
		G: uint8(clamp01(c[1])*a*255 + 0.5),
		B: uint8(clamp01(c[2])*a*255 + 0.5),
		A: uint8(a*255 + 0.5),
	}
}

// Encode renders the layer at w x h and writes it to out
func (l *Layer) Encode(out io.Writer, w, h int, format Format) error {
	img, err := l.Render(w, h)
	if err != nil {
		return err
	}
	return EncodeImage(out, img, format, l.Outline)
}

// EncodeImage writes a rendered tile through a gg context, optionally
// stroking the tile edge first
func EncodeImage(out io.Writer, img *image.RGBA, format Format, outline bool) error {
	dc := gg.NewContextForImage(img)
	defer dc.Close()

	if outline {
		b := img.Bounds()
		dc.SetRGBA(1, 0.2, 0.2, 0.8)
		dc.SetLineWidth(2)
		dc.DrawRectangle(1, 1, float64(b.Dx()-2), float64(b.Dy()-2))
		if err := dc.Stroke(); err != nil {
			return fmt.Errorf("failed to draw outline: %w", err)
		}
		if err := dc.FlushGPU(); err != nil {
			return fmt.Errorf("failed to flush outline: %w", err)
		}
	}

	switch format {
	case JPEG:
		return dc.EncodeJPEG(out, 90)
	default:
		return dc.EncodePNG(out)
	}
}
