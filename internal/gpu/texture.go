package gpu

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Filter is a texture sampling filter
type Filter int

const (
	Nearest Filter = iota
	Linear
	LinearMipmapLinear
)

// Wrap is the texture addressing mode outside [0, 1]
type Wrap int

const (
	ClampToEdge Wrap = iota
	Repeat
)

// Format is the texel layout of a texture
type Format int

const (
	// Luminance stores one 8-bit channel per texel
	Luminance Format = iota
)

// Parameters are the sampling parameters of a texture
type Parameters struct {
	MinFilter Filter
	MagFilter Filter
	WrapS     Wrap
	WrapT     Wrap
}

// DefaultParameters is used for every band texture
var DefaultParameters = Parameters{
	MinFilter: LinearMipmapLinear,
	MagFilter: Linear,
	WrapS:     ClampToEdge,
	WrapT:     ClampToEdge,
}

// Texture is a single-channel image owned by a Device
type Texture struct {
	ID     uint64
	Format Format
	Params Parameters
	Assets []string // Scene assets reported by the tile service

	levels []*image.Gray
}

// Width returns the width of the base level
func (t *Texture) Width() int { return t.levels[0].Rect.Dx() }

// Height returns the height of the base level
func (t *Texture) Height() int { return t.levels[0].Rect.Dy() }

// Levels returns the number of mip levels
func (t *Texture) Levels() int { return len(t.levels) }

// Level returns mip level i
func (t *Texture) Level(i int) *image.Gray { return t.levels[i] }

func (t *Texture) sizeBytes() int64 {
	var n int64
	for _, l := range t.levels {
		n += int64(len(l.Pix))
	}
	return n
}

// toLuminance converts any decoded image into an 8-bit gray base level
func toLuminance(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Rect, img, b.Min, draw.Src)
	return g
}

// buildMipChain halves the base level down to 1x1
func buildMipChain(base *image.Gray, withMipmaps bool) []*image.Gray {
	levels := []*image.Gray{base}
	if !withMipmaps {
		return levels
	}
	cur := base
	for cur.Rect.Dx() > 1 || cur.Rect.Dy() > 1 {
		w := max(cur.Rect.Dx()/2, 1)
		h := max(cur.Rect.Dy()/2, 1)
		next := image.NewGray(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(next, next.Rect, cur, cur.Rect, draw.Src, nil)
		levels = append(levels, next)
		cur = next
	}
	return levels
}

// Sample returns the filtered value in [0, 1] at normalized coordinates (u, v).
// footprint is the number of base-level texels covered by one output pixel;
// values above 1 select the minification filter.
func (t *Texture) Sample(u, v, footprint float64) float64 {
	u = t.wrap(u, t.Params.WrapS)
	v = t.wrap(v, t.Params.WrapT)

	if footprint <= 1 || len(t.levels) == 1 {
		filter := t.Params.MagFilter
		if footprint > 1 {
			filter = t.Params.MinFilter
		}
		return sampleLevel(t.levels[0], u, v, filter)
	}

	switch t.Params.MinFilter {
	case LinearMipmapLinear:
		lod := math.Log2(footprint)
		maxLevel := float64(len(t.levels) - 1)
		if lod > maxLevel {
			lod = maxLevel
		}
		l0 := int(math.Floor(lod))
		l1 := min(l0+1, len(t.levels)-1)
		frac := lod - float64(l0)
		a := sampleLevel(t.levels[l0], u, v, Linear)
		if frac == 0 || l0 == l1 {
			return a
		}
		b := sampleLevel(t.levels[l1], u, v, Linear)
		return a + (b-a)*frac
	default:
		return sampleLevel(t.levels[0], u, v, t.Params.MinFilter)
	}
}

func (t *Texture) wrap(c float64, mode Wrap) float64 {
	if mode == Repeat {
		return c - math.Floor(c)
	}
	return math.Max(0, math.Min(1, c))
}

func sampleLevel(img *image.Gray, u, v float64, filter Filter) float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if filter == Nearest {
		x := clampInt(int(u*float64(w)), 0, w-1)
		y := clampInt(int(v*float64(h)), 0, h-1)
		return float64(img.Pix[y*img.Stride+x]) / 255
	}

	fx := u*float64(w) - 0.5
	fy := v*float64(h) - 0.5
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	tx := fx - float64(x0)
	ty := fy - float64(y0)

	at := func(x, y int) float64 {
		x = clampInt(x, 0, w-1)
		y = clampInt(y, 0, h-1)
		return float64(img.Pix[y*img.Stride+x])
	}
	top := at(x0, y0)*(1-tx) + at(x0+1, y0)*tx
	bottom := at(x0, y0+1)*(1-tx) + at(x0+1, y0+1)*tx
	return (top*(1-ty) + bottom*ty) / 255
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
