package layers

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// Dropout zeroes each element independently with probability p during
// training and scales survivors by 1/(1-p) (inverted dropout), so no
// rescaling is needed at evaluation time. In evaluation mode it is the
// identity.
//
// The mask is a constant tensor combined with a recorded multiply, which
// gives the exact dropout gradient through the tape.
type Dropout[B tensor.Backend] struct {
	p        float32
	training bool
	rng      *rand.Rand
	backend  B
}

// NewDropout creates a Dropout layer with drop probability p in [0, 1).
func NewDropout[B tensor.Backend](p float32, rng *rand.Rand, backend B) *Dropout[B] {
	if p < 0 || p >= 1 {
		panic(fmt.Sprintf("dropout: probability must be in [0, 1), got %g", p))
	}
	return &Dropout[B]{
		p:        p,
		training: true,
		rng:      rng,
		backend:  backend,
	}
}

// SetTraining enables the mask (training) or the identity (evaluation).
func (d *Dropout[B]) SetTraining(training bool) {
	d.training = training
}

// Forward applies the dropout mask in training mode.
func (d *Dropout[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if !d.training || d.p == 0 {
		return input
	}

	maskRaw, err := tensor.NewRaw(input.Shape(), tensor.Float32, d.backend.Device())
	if err != nil {
		panic(err)
	}

	scale := 1 / (1 - d.p)
	maskData := maskRaw.AsFloat32()
	for i := range maskData {
		if d.rng.Float32() >= d.p {
			maskData[i] = scale
		}
	}

	mask := tensor.New[float32, B](maskRaw, d.backend)
	return input.Mul(mask)
}

// Parameters returns an empty slice; dropout has no trainable parameters.
func (d *Dropout[B]) Parameters() []*nn.Parameter[B] {
	return nil
}

// String returns a description of the layer.
func (d *Dropout[B]) String() string {
	return fmt.Sprintf("Dropout(p=%g)", d.p)
}
