package domain

import (
	"image"
	"image/color"
)

// DefaultSampleWindow is the edge length of the step sampling window.
const DefaultSampleWindow = 2

// SampleRate decodes the rainfall rate at pixel (px, py) of a tile image.
// It returns the rate in mm/h and the largest step found in the sampling
// window. The step is always computed so callers can log it.
func SampleRate(img image.Image, px, py, window int) (float64, int) {
	step := maxStepInWindow(img, px, py, window)

	if alphaAt(img, px, py) == 0 {
		return 0, step
	}
	c := color.NRGBAModel.Convert(at(img, px, py)).(color.NRGBA)
	if rate, ok := ColorToRate(c.R, c.G, c.B, ColorTolerance); ok {
		return rate, step
	}
	return StepToRate(step), step
}

// at reads a pixel using tile-relative coordinates.
func at(img image.Image, x, y int) color.Color {
	b := img.Bounds()
	return img.At(b.Min.X+x, b.Min.Y+y)
}

func alphaAt(img image.Image, x, y int) uint32 {
	_, _, _, a := at(img, x, y).RGBA()
	return a
}

// stepAt is 0 for transparent pixels, the palette index for paletted
// images and 1 for any other opaque pixel.
func stepAt(img image.Image, x, y int) int {
	if alphaAt(img, x, y) == 0 {
		return 0
	}
	if p, ok := img.(*image.Paletted); ok {
		b := p.Bounds()
		return int(p.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
	}
	return 1
}

// maxStepInWindow scans a size x size window whose origin is clamped so the
// window stays inside the image.
func maxStepInWindow(img image.Image, px, py, size int) int {
	if size <= 0 {
		size = DefaultSampleWindow
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if size > w {
		size = w
	}
	if size > h {
		size = h
	}
	half := size / 2
	sx := clamp(px-(half-1), 0, w-size)
	sy := clamp(py-(half-1), 0, h-size)

	best := 0
	for dx := 0; dx < size; dx++ {
		for dy := 0; dy < size; dy++ {
			if s := stepAt(img, sx+dx, sy+dy); s > best {
				best = s
			}
		}
	}
	return best
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}
