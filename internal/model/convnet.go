// Package model assembles the convolutional classifier from an ordered
// list of layer descriptors.
//
// The network topology follows a fixed scheme: five convolutional blocks
// (3x3 conv, optional batch normalization, 2x2 max pooling, ReLU, optional
// dropout), then a flatten and a single linear classifier. With 32x32
// inputs the five pooling stages reduce the spatial extent to 1x1, so the
// classifier input width equals the last block's channel count.
package model

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/convnet/internal/layers"
)

// LayerKind identifies one stage type in a layer descriptor list.
type LayerKind int

// Layer kinds, in the order they appear in a conv block.
const (
	Conv LayerKind = iota
	BatchNorm
	MaxPool
	ReLU
	Dropout
	Flatten
	Linear
)

// LayerSpec describes one layer of the network.
//
// In/Out are channel counts for Conv, features for Linear, and In is the
// channel count for BatchNorm. Kernel/Stride/Padding apply to Conv and
// MaxPool. P is the dropout probability.
type LayerSpec struct {
	Kind    LayerKind
	In      int
	Out     int
	Kernel  int
	Stride  int
	Padding int
	P       float64
}

// String returns a description of the layer spec.
func (s LayerSpec) String() string {
	switch s.Kind {
	case Conv:
		return fmt.Sprintf("Conv2D(in=%d, out=%d, kernel=%dx%d, stride=%d, padding=%d)",
			s.In, s.Out, s.Kernel, s.Kernel, s.Stride, s.Padding)
	case BatchNorm:
		return fmt.Sprintf("BatchNorm2D(features=%d)", s.In)
	case MaxPool:
		return fmt.Sprintf("MaxPool2D(kernel=%d, stride=%d)", s.Kernel, s.Stride)
	case ReLU:
		return "ReLU()"
	case Dropout:
		return fmt.Sprintf("Dropout(p=%g)", s.P)
	case Flatten:
		return "Flatten()"
	case Linear:
		return fmt.Sprintf("Linear(in=%d, out=%d)", s.In, s.Out)
	default:
		return fmt.Sprintf("Unknown(%d)", s.Kind)
	}
}

// Layers builds the ordered layer descriptor list for the classifier.
//
// hidden must hold at least six sizes: the first five are conv block
// channel counts, the last is the classifier input width. norm toggles
// batch normalization after each conv; dropout > 0 appends a dropout stage
// to each block.
func Layers(inChannels int, hidden []int, numClasses int, norm bool, dropout float64) []LayerSpec {
	specs := make([]LayerSpec, 0, 5*5+2)

	in := inChannels
	for _, out := range hidden[:5] {
		specs = append(specs, LayerSpec{Kind: Conv, In: in, Out: out, Kernel: 3, Stride: 1, Padding: 1})
		if norm {
			specs = append(specs, LayerSpec{Kind: BatchNorm, In: out})
		}
		specs = append(specs, LayerSpec{Kind: MaxPool, Kernel: 2, Stride: 2})
		specs = append(specs, LayerSpec{Kind: ReLU})
		if dropout > 0 {
			specs = append(specs, LayerSpec{Kind: Dropout, P: dropout})
		}
		in = out
	}

	specs = append(specs, LayerSpec{Kind: Flatten})
	specs = append(specs, LayerSpec{Kind: Linear, In: hidden[len(hidden)-1], Out: numClasses})

	return specs
}

// Layer is the contract every stage of the network satisfies.
type Layer[B tensor.Backend] interface {
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]
	Parameters() []*nn.Parameter[B]
}

// modeAware is implemented by layers that behave differently in training
// and evaluation mode.
type modeAware interface {
	SetTraining(training bool)
}

// stateful is implemented by layers that carry serializable state beyond
// their trainable parameters.
type stateful interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// Net is the assembled network: an ordered chain of layers with a
// train/eval mode switch.
type Net[B tensor.Backend] struct {
	specs     []LayerSpec
	layers    []Layer[B]
	firstConv *nn.Conv2D[B]
	training  bool
}

// Build materializes layer specs into a Net on the given backend.
//
// seed drives the dropout masks.
func Build[B tensor.Backend](specs []LayerSpec, seed int64, backend B) *Net[B] {
	rng := rand.New(rand.NewSource(seed))

	net := &Net[B]{
		specs:    specs,
		layers:   make([]Layer[B], 0, len(specs)),
		training: true,
	}

	for _, s := range specs {
		switch s.Kind {
		case Conv:
			conv := nn.NewConv2D(s.In, s.Out, s.Kernel, s.Kernel, s.Stride, s.Padding, true, backend)
			if net.firstConv == nil {
				net.firstConv = conv
			}
			net.layers = append(net.layers, conv)
		case BatchNorm:
			net.layers = append(net.layers, layers.NewBatchNorm2D(s.In, backend))
		case MaxPool:
			net.layers = append(net.layers, nn.NewMaxPool2D(s.Kernel, s.Stride, backend))
		case ReLU:
			net.layers = append(net.layers, nn.NewReLU[B]())
		case Dropout:
			net.layers = append(net.layers, layers.NewDropout(float32(s.P), rng, backend))
		case Flatten:
			net.layers = append(net.layers, layers.NewFlatten[B]())
		case Linear:
			net.layers = append(net.layers, nn.NewLinear(s.In, s.Out, backend))
		default:
			panic(fmt.Sprintf("model: unknown layer kind %d", s.Kind))
		}
	}

	return net
}

// Forward runs the input through every layer in order.
func (n *Net[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input
	for _, layer := range n.layers {
		output = layer.Forward(output)
	}
	return output
}

// Parameters returns all trainable parameters across layers.
func (n *Net[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, layer := range n.layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

// SetTraining propagates the mode to every mode-aware layer.
func (n *Net[B]) SetTraining(training bool) {
	n.training = training
	for _, layer := range n.layers {
		if m, ok := layer.(modeAware); ok {
			m.SetTraining(training)
		}
	}
}

// Training reports the current mode.
func (n *Net[B]) Training() bool {
	return n.training
}

// FirstConv returns the first convolutional layer, for filter
// visualization. Nil if the network has no conv layer.
func (n *Net[B]) FirstConv() *nn.Conv2D[B] {
	return n.firstConv
}

// Specs returns the descriptor list the network was built from.
func (n *Net[B]) Specs() []LayerSpec {
	return n.specs
}

// StateDict exports all parameters and layer state, keyed by layer index.
func (n *Net[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	for i, layer := range n.layers {
		prefix := fmt.Sprintf("%d.", i)
		if s, ok := layer.(stateful); ok {
			for name, raw := range s.StateDict() {
				stateDict[prefix+name] = raw
			}
			continue
		}
		for _, p := range layer.Parameters() {
			stateDict[prefix+p.Name()] = p.Tensor().Raw()
		}
	}
	return stateDict
}

// LoadStateDict restores parameters and layer state from an index-keyed
// state dictionary.
func (n *Net[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	for i, layer := range n.layers {
		prefix := fmt.Sprintf("%d.", i)

		sub := make(map[string]*tensor.RawTensor)
		for key, raw := range stateDict {
			if strings.HasPrefix(key, prefix) {
				sub[strings.TrimPrefix(key, prefix)] = raw
			}
		}
		if len(sub) == 0 {
			continue
		}

		if s, ok := layer.(stateful); ok {
			if err := s.LoadStateDict(sub); err != nil {
				return fmt.Errorf("failed to load layer %d: %w", i, err)
			}
			continue
		}

		for _, p := range layer.Parameters() {
			raw, ok := sub[p.Name()]
			if !ok {
				return fmt.Errorf("missing %q for layer %d", p.Name(), i)
			}
			if !raw.Shape().Equal(p.Tensor().Shape()) {
				return fmt.Errorf("shape mismatch for layer %d %q: expected %v, got %v",
					i, p.Name(), p.Tensor().Shape(), raw.Shape())
			}
			copy(p.Tensor().Raw().AsFloat32(), raw.AsFloat32())
		}
	}
	return nil
}

// String returns a multi-line description of the architecture.
func (n *Net[B]) String() string {
	var b strings.Builder
	b.WriteString("ConvNet(\n")
	for _, s := range n.specs {
		b.WriteString("  ")
		b.WriteString(s.String())
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

// NumParameters counts the trainable parameters of the network.
func NumParameters[B tensor.Backend](n *Net[B]) int {
	total := 0
	for _, param := range n.Parameters() {
		count := 1
		for _, dim := range param.Tensor().Shape() {
			count *= dim
		}
		total += count
	}
	return total
}

// InitLinearNormal reinitializes every Linear layer's weights from
// N(0, std^2) and zeroes its biases, leaving conv layers at their Xavier
// defaults.
func InitLinearNormal[B tensor.Backend](n *Net[B], std float64, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for _, layer := range n.layers {
		linear, ok := layer.(*nn.Linear[B])
		if !ok {
			continue
		}
		weights := linear.Weight().Tensor().Raw().AsFloat32()
		for i := range weights {
			weights[i] = float32(rng.NormFloat64() * std)
		}
		if bias := linear.Bias(); bias != nil {
			biasData := bias.Tensor().Raw().AsFloat32()
			for i := range biasData {
				biasData[i] = 0
			}
		}
	}
}
