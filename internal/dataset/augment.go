package dataset

import (
	"math"
	"math/rand"
)

// Transform produces an augmented copy of a CHW pixel slice.
//
// Transforms never mutate their input; each returns a fresh slice of the
// same length.
type Transform func(rng *rand.Rand, pixels []float32) []float32

// Pipeline returns the first count transforms of the fixed augmentation
// pipeline: horizontal flip, rotation, translation, color jitter.
//
// count is clamped to [0, 4]; jitter sets the color-jitter strength.
func Pipeline(count int, jitter float64) []Transform {
	all := []Transform{
		HorizontalFlip,
		RandomRotation(10),
		RandomShift(4),
		ColorJitter(float32(jitter)),
	}
	if count < 0 {
		count = 0
	}
	if count > len(all) {
		count = len(all)
	}
	return all[:count]
}

// Apply runs transforms in order over pixels, returning the final copy.
// With no transforms the input is returned unchanged.
func Apply(rng *rand.Rand, transforms []Transform, pixels []float32) []float32 {
	out := pixels
	for _, t := range transforms {
		out = t(rng, out)
	}
	return out
}

// HorizontalFlip mirrors the image left-right with probability 0.5.
func HorizontalFlip(rng *rand.Rand, pixels []float32) []float32 {
	if rng.Float32() < 0.5 {
		out := make([]float32, len(pixels))
		copy(out, pixels)
		return out
	}

	out := make([]float32, len(pixels))
	for ch := 0; ch < Channels; ch++ {
		plane := ch * ImageSize * ImageSize
		for row := 0; row < ImageSize; row++ {
			base := plane + row*ImageSize
			for col := 0; col < ImageSize; col++ {
				out[base+col] = pixels[base+ImageSize-1-col]
			}
		}
	}
	return out
}

// RandomRotation rotates the image by a uniform angle in [-maxDegrees,
// maxDegrees] around its center, using nearest-neighbor sampling.
// Pixels rotated in from outside the image are zero.
func RandomRotation(maxDegrees float64) Transform {
	return func(rng *rand.Rand, pixels []float32) []float32 {
		angle := (rng.Float64()*2 - 1) * maxDegrees * math.Pi / 180
		sin, cos := math.Sincos(angle)
		center := float64(ImageSize-1) / 2

		out := make([]float32, len(pixels))
		for ch := 0; ch < Channels; ch++ {
			plane := ch * ImageSize * ImageSize
			for row := 0; row < ImageSize; row++ {
				for col := 0; col < ImageSize; col++ {
					// Inverse-map the destination pixel into the source.
					dy := float64(row) - center
					dx := float64(col) - center
					srcRow := int(math.Round(center + dy*cos - dx*sin))
					srcCol := int(math.Round(center + dy*sin + dx*cos))
					if srcRow < 0 || srcRow >= ImageSize || srcCol < 0 || srcCol >= ImageSize {
						continue
					}
					out[plane+row*ImageSize+col] = pixels[plane+srcRow*ImageSize+srcCol]
				}
			}
		}
		return out
	}
}

// RandomShift translates the image by up to maxShift pixels in each
// direction, filling exposed edges with zero.
func RandomShift(maxShift int) Transform {
	return func(rng *rand.Rand, pixels []float32) []float32 {
		dy := rng.Intn(2*maxShift+1) - maxShift
		dx := rng.Intn(2*maxShift+1) - maxShift

		out := make([]float32, len(pixels))
		for ch := 0; ch < Channels; ch++ {
			plane := ch * ImageSize * ImageSize
			for row := 0; row < ImageSize; row++ {
				srcRow := row - dy
				if srcRow < 0 || srcRow >= ImageSize {
					continue
				}
				for col := 0; col < ImageSize; col++ {
					srcCol := col - dx
					if srcCol < 0 || srcCol >= ImageSize {
						continue
					}
					out[plane+row*ImageSize+col] = pixels[plane+srcRow*ImageSize+srcCol]
				}
			}
		}
		return out
	}
}

// ColorJitter perturbs brightness and contrast by uniform factors drawn
// from [-strength, strength], clamping the result to [-1, 1].
func ColorJitter(strength float32) Transform {
	return func(rng *rand.Rand, pixels []float32) []float32 {
		brightness := (rng.Float32()*2 - 1) * strength
		contrast := 1 + (rng.Float32()*2-1)*strength

		out := make([]float32, len(pixels))
		for i, p := range pixels {
			v := p*contrast + brightness
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			out[i] = v
		}
		return out
	}
}
