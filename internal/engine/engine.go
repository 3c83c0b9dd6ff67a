// Package engine binds the network, loss, and optimizer to the gradient
// tape and drives single-batch compute and update steps.
package engine

import (
	"fmt"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/convnet/internal/dataset"
	"github.com/born-ml/convnet/internal/model"
	"github.com/born-ml/convnet/internal/train"
)

// Engine executes forward, loss, and parameter-update steps for one
// network on an autodiff-wrapped backend.
//
// L2 regularization is applied here rather than inside the optimizer:
// after backpropagation the decay term is added to each raw gradient
// before the optimizer consumes it.
type Engine[B tensor.Backend] struct {
	backend     *autodiff.Backend[B]
	net         *model.Net[*autodiff.Backend[B]]
	criterion   *nn.CrossEntropyLoss[*autodiff.Backend[B]]
	optimizer   *optim.Adam[*autodiff.Backend[B]]
	weightDecay float32

	loss *tensor.Tensor[float32, *autodiff.Backend[B]]
}

// New creates an engine and starts gradient recording.
func New[B tensor.Backend](
	backend *autodiff.Backend[B],
	net *model.Net[*autodiff.Backend[B]],
	optimizer *optim.Adam[*autodiff.Backend[B]],
	weightDecay float64,
) *Engine[B] {
	backend.Tape().StartRecording()
	return &Engine[B]{
		backend:     backend,
		net:         net,
		criterion:   nn.NewCrossEntropyLoss(backend),
		optimizer:   optimizer,
		weightDecay: float32(weightDecay),
	}
}

// Compute runs the forward pass for one batch and returns the logits.
func (e *Engine[B]) Compute(b train.Batch) train.Output {
	batch, ok := b.(*dataset.Batch[*autodiff.Backend[B]])
	if !ok {
		panic(fmt.Sprintf("engine: unexpected batch type %T", b))
	}
	return e.net.Forward(batch.Images)
}

// SetTraining switches the network mode and toggles tape recording.
func (e *Engine[B]) SetTraining(training bool) {
	e.net.SetTraining(training)
	if training {
		e.backend.Tape().StartRecording()
	} else {
		e.backend.Tape().StopRecording()
	}
}

// Eval computes the cross-entropy loss for the given logits and batch.
// The loss tensor is retained so a following Step can backpropagate it.
func (e *Engine[B]) Eval(output train.Output, b train.Batch) float64 {
	logits := output.(*tensor.Tensor[float32, *autodiff.Backend[B]])
	batch := b.(*dataset.Batch[*autodiff.Backend[B]])

	e.loss = e.criterion.Forward(logits, batch.Labels)
	return float64(e.loss.Raw().AsFloat32()[0])
}

// Correct counts correct predictions among the first limit examples of
// the batch. limit <= 0 means the whole batch.
func (e *Engine[B]) Correct(output train.Output, b train.Batch, limit int) int {
	logits := output.(*tensor.Tensor[float32, *autodiff.Backend[B]])
	batch := b.(*dataset.Batch[*autodiff.Backend[B]])

	shape := logits.Shape()
	rows, cols := shape[0], shape[1]
	if limit <= 0 || limit > rows {
		limit = rows
	}

	data := logits.Raw().AsFloat32()
	labels := batch.Labels.Raw().AsInt32()

	correct := 0
	for i := 0; i < limit; i++ {
		best := 0
		row := data[i*cols : (i+1)*cols]
		for j := 1; j < cols; j++ {
			if row[j] > row[best] {
				best = j
			}
		}
		if int32(best) == labels[i] {
			correct++
		}
	}
	return correct
}

// Step backpropagates the most recent loss, applies weight decay, and
// updates parameters. Must follow an Eval in training mode.
func (e *Engine[B]) Step() {
	if e.loss == nil {
		panic("engine: Step called before Eval")
	}

	outputGrad, err := tensor.NewRaw(e.loss.Shape(), e.loss.DType(), e.backend.Device())
	if err != nil {
		panic(err)
	}
	outputGrad.AsFloat32()[0] = 1.0

	grads := e.backend.Tape().Backward(outputGrad, e.backend)
	if e.weightDecay > 0 {
		e.applyWeightDecay(grads)
	}
	e.optimizer.Step(grads)

	e.backend.Tape().Clear()
	e.optimizer.ZeroGrad()
	e.loss = nil
}

// applyWeightDecay adds wd * param to each parameter gradient in place.
func (e *Engine[B]) applyWeightDecay(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range e.net.Parameters() {
		raw := param.Tensor().Raw()
		grad, ok := grads[raw]
		if !ok {
			continue
		}
		paramData := raw.AsFloat32()
		gradData := grad.AsFloat32()
		for i := range gradData {
			gradData[i] += e.weightDecay * paramData[i]
		}
	}
}

// LR returns the optimizer's current learning rate.
func (e *Engine[B]) LR() float64 {
	return float64(e.optimizer.GetLR())
}

// SetLR updates the optimizer's learning rate.
func (e *Engine[B]) SetLR(lr float64) {
	e.optimizer.SetLR(float32(lr))
}
