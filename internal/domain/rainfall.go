package domain

import "image/color"

// ColorTolerance is the per-channel slack when matching legend colours.
const ColorTolerance = 2

type legendEntry struct {
	color color.RGBA
	rate  float64
}

// jmaLegend maps nowcast legend colours to their representative rate.
// Both dark red and purple are reported as 80 mm/h.
var jmaLegend = []legendEntry{
	{color.RGBA{R: 242, G: 242, B: 255, A: 255}, 1},
	{color.RGBA{R: 160, G: 210, B: 255, A: 255}, 5},
	{color.RGBA{R: 33, G: 140, B: 255, A: 255}, 10},
	{color.RGBA{R: 0, G: 65, B: 255, A: 255}, 20},
	{color.RGBA{R: 250, G: 245, B: 0, A: 255}, 30},
	{color.RGBA{R: 255, G: 153, B: 0, A: 255}, 50},
	{color.RGBA{R: 255, G: 40, B: 0, A: 255}, 80},
	{color.RGBA{R: 180, G: 0, B: 104, A: 255}, 80},
}

// ColorToRate matches an RGB colour against the JMA legend.
func ColorToRate(r, g, b uint8, tol int) (float64, bool) {
	for _, e := range jmaLegend {
		if within(r, e.color.R, tol) && within(g, e.color.G, tol) && within(b, e.color.B, tol) {
			return e.rate, true
		}
	}
	return 0, false
}

func within(a, b uint8, tol int) bool {
	d := int(a) - int(b)
	if d < 0 {
		d = -d
	}
	return d <= tol
}

// stepRates is the step lookup: identity for 1..60, explicit values above.
var stepRates = func() map[int]float64 {
	m := make(map[int]float64, 65)
	for s := 1; s <= 60; s++ {
		m[s] = float64(s)
	}
	m[61] = 80
	m[62] = 100
	m[63] = 150
	m[64] = 200
	m[65] = 300
	return m
}()

// jmaClasses are the published intensity classes, ascending.
var jmaClasses = []float64{1, 5, 10, 20, 30, 50, 80}

// QuantizeJMA snaps a rate up to the next JMA intensity class.
// Rates at or above 80 mm/h pass through unchanged.
func QuantizeJMA(mmh float64) float64 {
	if mmh <= 0 {
		return 0
	}
	for _, c := range jmaClasses {
		if mmh <= c {
			return c
		}
	}
	return mmh
}

// StepToRate converts a raw tile step to mm/h. Unknown steps yield 0.
func StepToRate(step int) float64 {
	if step <= 0 {
		return 0
	}
	return QuantizeJMA(stepRates[step])
}
