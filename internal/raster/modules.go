package raster

import "landsat-desktop/internal/gpu"

// Color is a linear RGBA value with components in [0, 1]
type Color [4]float64

// Sample holds the band values read for one output pixel
type Sample struct {
	Bands []float64
	Pan   float64
}

// ModuleProps are the inputs shared by every module of a layer
type ModuleProps struct {
	ImageBands []*gpu.Texture
	ImagePan   *gpu.Texture
	PanWeight  float64 // Blue weight of the Brovey ratio, DefaultPanWeight when zero
}

// DefaultPanWeight is the blue band weight used by PansharpenBrovey
const DefaultPanWeight = 0.2

// Module is one compositing step run per pixel, in list order
type Module interface {
	Name() string
	Apply(c Color, s *Sample, props *ModuleProps) Color
}

type combineBands struct{}

// CombineBands maps the first three band textures to red, green and blue
var CombineBands Module = combineBands{}

func (combineBands) Name() string { return "combine-bands" }

func (combineBands) Apply(c Color, s *Sample, _ *ModuleProps) Color {
	out := Color{0, 0, 0, 1}
	for i := 0; i < 3 && i < len(s.Bands); i++ {
		out[i] = s.Bands[i]
	}
	return out
}

type pansharpenBrovey struct{}

// PansharpenBrovey rescales the color by the ratio of the pan band to the
// weighted color intensity
var PansharpenBrovey Module = pansharpenBrovey{}

func (pansharpenBrovey) Name() string { return "pansharpen-brovey" }

func (pansharpenBrovey) Apply(c Color, s *Sample, props *ModuleProps) Color {
	w := props.PanWeight
	if w == 0 {
		w = DefaultPanWeight
	}
	intensity := (c[0] + c[1] + c[2]*w) / (2 + w)
	if intensity <= 0 {
		return c
	}
	ratio := s.Pan / intensity
	return Color{clamp01(c[0] * ratio), clamp01(c[1] * ratio), clamp01(c[2] * ratio), c[3]}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ModuleNames lists module names, for logs and the frontend
func ModuleNames(modules []Module) []string {
	names := make([]string, len(modules))
	for i, m := range modules {
		names[i] = m.Name()
	}
	return names
}
