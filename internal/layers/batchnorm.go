// Package layers provides the layers this project needs that the Born
// framework does not ship: 2D batch normalization, dropout, and flatten.
//
// All layers satisfy the same Forward/Parameters contract as Born's nn
// modules, so they compose freely with Conv2D, MaxPool2D, ReLU, and Linear
// inside a model container.
package layers

import (
	"fmt"
	"math"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// BatchNorm2D normalizes each channel of a [batch, channels, h, w] tensor.
//
// In training mode the layer normalizes with the batch's own per-channel
// statistics and updates exponential running estimates; in evaluation mode
// it normalizes with the running estimates. The layer is non-affine: it has
// no learnable scale or shift.
//
// The statistics enter the computation as constant tensors, so the gradient
// tape sees a plain (x - μ) / σ chain of elementwise operations and
// propagates gradients to the input while treating μ and σ as constants.
type BatchNorm2D[B tensor.Backend] struct {
	numFeatures int
	eps         float32
	momentum    float32
	runningMean []float32
	runningVar  []float32
	training    bool
	backend     B
}

// NewBatchNorm2D creates a BatchNorm2D layer for numFeatures channels.
//
// Running mean starts at zero and running variance at one; momentum is 0.1
// and epsilon 1e-5.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B) *BatchNorm2D[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid feature count %d", numFeatures))
	}

	runningVar := make([]float32, numFeatures)
	for i := range runningVar {
		runningVar[i] = 1
	}

	return &BatchNorm2D[B]{
		numFeatures: numFeatures,
		eps:         1e-5,
		momentum:    0.1,
		runningMean: make([]float32, numFeatures),
		runningVar:  runningVar,
		training:    true,
		backend:     backend,
	}
}

// SetTraining switches between batch statistics (training) and running
// statistics (evaluation).
func (bn *BatchNorm2D[B]) SetTraining(training bool) {
	bn.training = training
}

// Forward normalizes the input per channel.
//
// Input must be [batch, numFeatures, h, w].
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("batchnorm2d: expected 4D input, got %dD", len(shape)))
	}
	if shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("batchnorm2d: expected %d channels, got %d", bn.numFeatures, shape[1]))
	}

	n, c, h, w := shape[0], shape[1], shape[2], shape[3]

	var mean, variance []float32
	if bn.training {
		mean, variance = channelStats(input.Raw().AsFloat32(), n, c, h, w)
		for i := 0; i < c; i++ {
			bn.runningMean[i] = (1-bn.momentum)*bn.runningMean[i] + bn.momentum*mean[i]
			bn.runningVar[i] = (1-bn.momentum)*bn.runningVar[i] + bn.momentum*variance[i]
		}
	} else {
		mean, variance = bn.runningMean, bn.runningVar
	}

	meanRaw, err := tensor.NewRaw(shape, tensor.Float32, bn.backend.Device())
	if err != nil {
		panic(err)
	}
	stdRaw, err := tensor.NewRaw(shape, tensor.Float32, bn.backend.Device())
	if err != nil {
		panic(err)
	}

	meanData := meanRaw.AsFloat32()
	stdData := stdRaw.AsFloat32()
	plane := h * w
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			mu := mean[ch]
			sigma := float32(math.Sqrt(float64(variance[ch] + bn.eps)))
			base := (i*c + ch) * plane
			for j := 0; j < plane; j++ {
				meanData[base+j] = mu
				stdData[base+j] = sigma
			}
		}
	}

	meanTensor := tensor.New[float32, B](meanRaw, bn.backend)
	stdTensor := tensor.New[float32, B](stdRaw, bn.backend)

	return input.Sub(meanTensor).Div(stdTensor)
}

// Parameters returns an empty slice; the layer is non-affine.
func (bn *BatchNorm2D[B]) Parameters() []*nn.Parameter[B] {
	return nil
}

// StateDict exports the running statistics.
func (bn *BatchNorm2D[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor, 2)
	stateDict["running_mean"] = bn.statTensor(bn.runningMean)
	stateDict["running_var"] = bn.statTensor(bn.runningVar)
	return stateDict
}

// LoadStateDict restores the running statistics.
func (bn *BatchNorm2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for _, entry := range []struct {
		key  string
		dest []float32
	}{
		{"running_mean", bn.runningMean},
		{"running_var", bn.runningVar},
	} {
		raw, ok := stateDict[entry.key]
		if !ok {
			return fmt.Errorf("missing %s in state dict", entry.key)
		}
		data := raw.AsFloat32()
		if len(data) != bn.numFeatures {
			return fmt.Errorf("%s length mismatch: expected %d, got %d", entry.key, bn.numFeatures, len(data))
		}
		copy(entry.dest, data)
	}
	return nil
}

// String returns a description of the layer.
func (bn *BatchNorm2D[B]) String() string {
	return fmt.Sprintf("BatchNorm2D(features=%d, eps=%g)", bn.numFeatures, bn.eps)
}

func (bn *BatchNorm2D[B]) statTensor(values []float32) *tensor.RawTensor {
	raw, err := tensor.NewRaw(tensor.Shape{bn.numFeatures}, tensor.Float32, bn.backend.Device())
	if err != nil {
		panic(err)
	}
	copy(raw.AsFloat32(), values)
	return raw
}

// channelStats computes per-channel mean and biased variance over the
// batch and spatial dimensions.
func channelStats(data []float32, n, c, h, w int) (mean, variance []float32) {
	mean = make([]float32, c)
	variance = make([]float32, c)
	plane := h * w
	count := float32(n * plane)

	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			base := (i*c + ch) * plane
			for j := 0; j < plane; j++ {
				mean[ch] += data[base+j]
			}
		}
	}
	for ch := 0; ch < c; ch++ {
		mean[ch] /= count
	}

	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			base := (i*c + ch) * plane
			mu := mean[ch]
			for j := 0; j < plane; j++ {
				d := data[base+j] - mu
				variance[ch] += d * d
			}
		}
	}
	for ch := 0; ch < c; ch++ {
		variance[ch] /= count
	}

	return mean, variance
}
