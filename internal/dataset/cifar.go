// Package dataset loads the CIFAR-10 binary dataset and turns it into
// batched tensors for training.
//
// The binary format (data_batch_{1..5}.bin, test_batch.bin) stores records
// of 1 label byte followed by 3072 pixel bytes in CHW order (1024 red,
// 1024 green, 1024 blue). Pixels are normalized to [-1, 1] on load.
//
// Download CIFAR-10 (binary version) from:
// https://www.cs.toronto.edu/~kriz/cifar.html
package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

const (
	// ImageSize is the width and height of a CIFAR-10 image.
	ImageSize = 32

	// Channels is the number of color channels.
	Channels = 3

	// NumClasses is the number of CIFAR-10 classes.
	NumClasses = 10

	pixelsPerImage = Channels * ImageSize * ImageSize // 3072
	recordBytes    = 1 + pixelsPerImage

	numTrainFiles = 5
	testFileName  = "test_batch.bin"
)

// Data holds a set of CIFAR-10 images and labels.
//
// Images are stored CHW as float32 in [-1, 1]; Labels are class indices
// in [0, NumClasses).
type Data struct {
	Images [][]float32 // [num_samples, 3072]
	Labels []int32     // [num_samples]
}

// NumSamples returns the number of examples in the set.
func (d *Data) NumSamples() int {
	return len(d.Images)
}

// LoadCIFAR10 loads the CIFAR-10 binary dataset from dir.
//
// With train=true the five training files (50,000 samples) are loaded,
// otherwise the test file (10,000 samples).
func LoadCIFAR10(dir string, train bool) (*Data, error) {
	var files []string
	if train {
		for i := 1; i <= numTrainFiles; i++ {
			files = append(files, filepath.Join(dir, fmt.Sprintf("data_batch_%d.bin", i)))
		}
	} else {
		files = []string{filepath.Join(dir, testFileName)}
	}

	data := &Data{}
	for _, file := range files {
		images, labels, err := readBatchFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		data.Images = append(data.Images, images...)
		data.Labels = append(data.Labels, labels...)
	}

	return data, nil
}

// readBatchFile parses one CIFAR-10 binary batch file.
func readBatchFile(path string) ([][]float32, []int32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	if len(raw) == 0 || len(raw)%recordBytes != 0 {
		return nil, nil, fmt.Errorf("invalid file size %d: not a multiple of record size %d", len(raw), recordBytes)
	}

	numSamples := len(raw) / recordBytes
	images := make([][]float32, numSamples)
	labels := make([]int32, numSamples)

	for i := 0; i < numSamples; i++ {
		record := raw[i*recordBytes : (i+1)*recordBytes]

		label := record[0]
		if label >= NumClasses {
			return nil, nil, fmt.Errorf("label out of range [0, %d) at record %d: %d", NumClasses, i, label)
		}
		labels[i] = int32(label)

		// Normalize: 0-255 → [-1, 1] (the (x/255 - 0.5)/0.5 transform)
		pixels := make([]float32, pixelsPerImage)
		for j, b := range record[1:] {
			pixels[j] = float32(b)/127.5 - 1.0
		}
		images[i] = pixels
	}

	return images, labels, nil
}

// Split cuts the set into a contiguous training subset of nTrain samples
// followed by a validation subset of nVal samples.
//
// Returns an error if the set holds fewer than nTrain+nVal samples.
func (d *Data) Split(nTrain, nVal int) (*Data, *Data, error) {
	if nTrain <= 0 || nVal <= 0 {
		return nil, nil, fmt.Errorf("split sizes must be positive, got train=%d val=%d", nTrain, nVal)
	}
	if nTrain+nVal > d.NumSamples() {
		return nil, nil, fmt.Errorf("split sizes %d+%d exceed dataset size %d", nTrain, nVal, d.NumSamples())
	}

	trainSet := &Data{
		Images: d.Images[:nTrain],
		Labels: d.Labels[:nTrain],
	}
	valSet := &Data{
		Images: d.Images[nTrain : nTrain+nVal],
		Labels: d.Labels[nTrain : nTrain+nVal],
	}
	return trainSet, valSet, nil
}

// Synthetic creates a small in-memory dataset with class-dependent patterns.
//
// Useful for tests and smoke runs when no CIFAR-10 files are available.
// The patterns are deterministic for a given seed.
func Synthetic(numSamples int, seed int64) *Data {
	rng := rand.New(rand.NewSource(seed))

	images := make([][]float32, numSamples)
	labels := make([]int32, numSamples)

	for i := 0; i < numSamples; i++ {
		class := int32(i % NumClasses)
		labels[i] = class

		pixels := make([]float32, pixelsPerImage)
		// A bright horizontal band whose position depends on the class,
		// plus low-amplitude noise.
		startRow := int(class) * 3
		for ch := 0; ch < Channels; ch++ {
			for row := startRow; row < startRow+4 && row < ImageSize; row++ {
				for col := 4; col < ImageSize-4; col++ {
					pixels[ch*ImageSize*ImageSize+row*ImageSize+col] = 0.8
				}
			}
		}
		for j := range pixels {
			pixels[j] += (rng.Float32() - 0.5) * 0.1
		}
		images[i] = pixels
	}

	return &Data{Images: images, Labels: labels}
}
