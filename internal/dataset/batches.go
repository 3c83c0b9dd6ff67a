package dataset

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/born/tensor"
)

// Batch is one mini-batch of labeled images as backend tensors.
type Batch[B tensor.Backend] struct {
	Images *tensor.Tensor[float32, B] // [n, 3, 32, 32]
	Labels *tensor.Tensor[int32, B]   // [n]
	N      int
}

// Size returns the number of examples in the batch.
func (b *Batch[B]) Size() int {
	return b.N
}

// CreateBatches splits data into mini-batches of backend tensors.
//
// When shuffle is true, sample order is randomized with a Fisher-Yates
// shuffle drawn from rng. Transforms are applied per sample; pass nil for
// validation and test data. The last batch may be smaller if the data does
// not divide evenly.
func CreateBatches[B tensor.Backend](
	data *Data,
	batchSize int,
	shuffle bool,
	transforms []Transform,
	rng *rand.Rand,
	backend B,
) ([]*Batch[B], error) {
	numSamples := data.NumSamples()
	if numSamples != len(data.Labels) {
		return nil, fmt.Errorf("images and labels length mismatch: %d != %d", numSamples, len(data.Labels))
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	indices := make([]int, numSamples)
	for i := range indices {
		indices[i] = i
	}
	if shuffle {
		rng.Shuffle(numSamples, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	numBatches := (numSamples + batchSize - 1) / batchSize
	batches := make([]*Batch[B], 0, numBatches)

	for start := 0; start < numSamples; start += batchSize {
		end := start + batchSize
		if end > numSamples {
			end = numSamples
		}
		n := end - start

		imagesRaw, err := tensor.NewRaw(
			tensor.Shape{n, Channels, ImageSize, ImageSize},
			tensor.Float32,
			backend.Device(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create images tensor: %w", err)
		}

		labelsRaw, err := tensor.NewRaw(tensor.Shape{n}, tensor.Int32, backend.Device())
		if err != nil {
			return nil, fmt.Errorf("failed to create labels tensor: %w", err)
		}

		imagesData := imagesRaw.AsFloat32()
		labelsData := labelsRaw.AsInt32()

		for j := start; j < end; j++ {
			idx := indices[j]
			pixels := data.Images[idx]
			if len(transforms) > 0 {
				pixels = Apply(rng, transforms, pixels)
			}
			copy(imagesData[(j-start)*pixelsPerImage:(j-start+1)*pixelsPerImage], pixels)
			labelsData[j-start] = data.Labels[idx]
		}

		batches = append(batches, &Batch[B]{
			Images: tensor.New[float32, B](imagesRaw, backend),
			Labels: tensor.New[int32, B](labelsRaw, backend),
			N:      n,
		})
	}

	return batches, nil
}
