package layers

import (
	"fmt"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Flatten reshapes [batch, d1, d2, ...] into [batch, d1*d2*...].
type Flatten[B tensor.Backend] struct{}

// NewFlatten creates a Flatten layer.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return &Flatten[B]{}
}

// Forward flattens all dimensions after the batch dimension.
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) < 2 {
		panic(fmt.Sprintf("flatten: expected at least 2D input, got %dD", len(shape)))
	}

	rest := 1
	for _, dim := range shape[1:] {
		rest *= dim
	}
	return input.Reshape(shape[0], rest)
}

// Parameters returns an empty slice.
func (f *Flatten[B]) Parameters() []*nn.Parameter[B] {
	return nil
}

// String returns a description of the layer.
func (f *Flatten[B]) String() string {
	return "Flatten()"
}
