package dataset

import (
	"math"
	"math/rand"

	"cae-forge/internal/tensor"
)

// Augmenter applies random affine and brightness changes to raw images.
type Augmenter struct {
	// RotationDeg is the maximum absolute rotation in degrees.
	RotationDeg float64
	// Shift is the maximum translation as a fraction of width and height.
	Shift float64
	// BrightnessMin and BrightnessMax bound the brightness factor.
	BrightnessMin, BrightnessMax float64
}

// DefaultAugmenter matches the training image generator: ±5° rotation,
// ±5% shifts and brightness in [0.95, 1.05].
func DefaultAugmenter() *Augmenter {
	return &Augmenter{RotationDeg: 5, Shift: 0.05, BrightnessMin: 0.95, BrightnessMax: 1.05}
}

// Apply returns a transformed copy of the single image img. Pixels mapped
// from outside the source repeat the nearest edge pixel.
func (a *Augmenter) Apply(img tensor.Batch, rng *rand.Rand) tensor.Batch {
	theta := (rng.Float64()*2 - 1) * a.RotationDeg * math.Pi / 180
	tx := (rng.Float64()*2 - 1) * a.Shift * float64(img.W)
	ty := (rng.Float64()*2 - 1) * a.Shift * float64(img.H)
	bright := 1.0
	if a.BrightnessMax > a.BrightnessMin {
		bright = a.BrightnessMin + rng.Float64()*(a.BrightnessMax-a.BrightnessMin)
	}

	out := tensor.New(1, img.H, img.W, img.C)
	cy, cx := float64(img.H-1)/2, float64(img.W-1)/2
	cos, sin := math.Cos(theta), math.Sin(theta)
	for y := 0; y < img.H; y++ {
		for x := 0; x < img.W; x++ {
			// inverse mapping from output to source coordinates
			dx, dy := float64(x)-cx-tx, float64(y)-cy-ty
			sx := cos*dx + sin*dy + cx
			sy := -sin*dx + cos*dy + cy
			ix := clampInt(int(math.Round(sx)), 0, img.W-1)
			iy := clampInt(int(math.Round(sy)), 0, img.H-1)
			for c := 0; c < img.C; c++ {
				v := float64(img.At(0, iy, ix, c)) * bright
				out.Set(0, y, x, c, float32(math.Min(255, v)))
			}
		}
	}
	return out
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
