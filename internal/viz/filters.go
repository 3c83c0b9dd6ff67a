// Package viz renders convolution filter banks as PNG image grids.
package viz

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
)

// FilterGrid renders outC filters of shape [inC, k, k] from a flat
// weight slice into a single image, perRow filters per row with one
// pixel of black padding between cells. Weights are normalized to
// [0, 255] over the global min and max of the bank. inC must be 1
// (grayscale cells) or 3 (RGB cells).
func FilterGrid(weights []float32, outC, inC, k, perRow int) (*image.RGBA, error) {
	if inC != 1 && inC != 3 {
		return nil, fmt.Errorf("viz: unsupported channel count %d", inC)
	}
	if outC <= 0 || k <= 0 || perRow <= 0 {
		return nil, fmt.Errorf("viz: invalid grid dimensions")
	}
	if len(weights) != outC*inC*k*k {
		return nil, fmt.Errorf("viz: expected %d weights, got %d", outC*inC*k*k, len(weights))
	}

	min, max := weights[0], weights[0]
	for _, w := range weights {
		if w < min {
			min = w
		}
		if w > max {
			max = w
		}
	}
	scale := float32(0)
	if max > min {
		scale = 255 / (max - min)
	}

	rows := (outC + perRow - 1) / perRow
	width := perRow*(k+1) + 1
	height := rows*(k+1) + 1
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for f := 0; f < outC; f++ {
		cellX := (f%perRow)*(k+1) + 1
		cellY := (f/perRow)*(k+1) + 1
		base := f * inC * k * k

		for y := 0; y < k; y++ {
			for x := 0; x < k; x++ {
				var r, g, b uint8
				if inC == 3 {
					r = quantize(weights[base+0*k*k+y*k+x], min, scale)
					g = quantize(weights[base+1*k*k+y*k+x], min, scale)
					b = quantize(weights[base+2*k*k+y*k+x], min, scale)
				} else {
					v := quantize(weights[base+y*k+x], min, scale)
					r, g, b = v, v, v
				}
				img.SetRGBA(cellX+x, cellY+y, color.RGBA{R: r, G: g, B: b, A: 255})
			}
		}
	}
	return img, nil
}

func quantize(w, min, scale float32) uint8 {
	return uint8((w - min) * scale)
}

// SavePNG writes the image to path.
func SavePNG(img image.Image, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}
