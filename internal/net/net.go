// Package net provides the layer sequence container and model
// serialization.
package net

import (
	"github.com/pkg/errors"

	"github.com/normnet/normnet/internal/layer"
)

// Network is an ordered, owned sequence of heterogeneous layers invoked
// through the layer capability set. Forward captures each layer's input
// so Backward and Gradient can hand every layer the input its contract
// requires.
type Network struct {
	layers []layer.Layer

	// Per-layer inputs from the last Forward and per-layer output
	// gradients from the last Backward.
	inputs   [][]float64
	outGrads [][]float64
}

// New creates a network owning the given layers.
func New(layers ...layer.Layer) *Network {
	return &Network{layers: layers}
}

// Add appends a layer to the sequence.
func (n *Network) Add(l layer.Layer) {
	n.layers = append(n.layers, l)
}

// Layers returns the owned layer sequence.
func (n *Network) Layers() []layer.Layer {
	return n.layers
}

// Modules returns the traversal view of the network: exposed wrapping
// layers contribute their wrapped layer after themselves, opaque ones
// only their own surface.
func (n *Network) Modules() []layer.Layer {
	var modules []layer.Layer
	for _, l := range n.layers {
		modules = append(modules, l)
		if w, ok := l.(*layer.WeightNorm); ok {
			modules = append(modules, w.Model()...)
		}
	}
	return modules
}

// Reset initializes every layer.
func (n *Network) Reset() error {
	for i, l := range n.layers {
		if err := layer.ResetLayer(l); err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
	}
	return nil
}

// Forward runs the input through all layers and returns the final
// output.
func (n *Network) Forward(x []float64) ([]float64, error) {
	if len(n.inputs) != len(n.layers) {
		n.inputs = make([][]float64, len(n.layers))
	}
	curr := x
	for i, l := range n.layers {
		n.inputs[i] = curr
		out, err := l.Forward(curr)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		curr = out
	}
	return curr, nil
}

// Backward propagates the loss gradient through all layers in reverse
// and returns the gradient with respect to the network input. It uses
// the inputs captured by the last Forward call.
func (n *Network) Backward(grad []float64) ([]float64, error) {
	if len(n.inputs) != len(n.layers) {
		return nil, errors.New("net: Backward before Forward")
	}
	if len(n.outGrads) != len(n.layers) {
		n.outGrads = make([][]float64, len(n.layers))
	}
	curr := grad
	for i := len(n.layers) - 1; i >= 0; i-- {
		n.outGrads[i] = curr
		in, err := n.layers[i].Backward(n.inputs[i], curr)
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		curr = in
	}
	return curr, nil
}

// ParameterGradients computes each layer's parameter gradient from the
// inputs and output gradients captured by the last Forward/Backward
// pair.
func (n *Network) ParameterGradients() ([][]float64, error) {
	if len(n.outGrads) != len(n.layers) {
		return nil, errors.New("net: ParameterGradients before Backward")
	}
	grads := make([][]float64, len(n.layers))
	for i, l := range n.layers {
		g, err := l.Gradient(n.inputs[i], n.outGrads[i])
		if err != nil {
			return nil, errors.Wrapf(err, "layer %d", i)
		}
		grads[i] = g
	}
	return grads, nil
}

// Params returns all layer parameters flattened into one slice.
func (n *Network) Params() []float64 {
	var params []float64
	for _, l := range n.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// SetParams distributes a flattened parameter slice back to the layers.
func (n *Network) SetParams(params []float64) error {
	offset := 0
	for i, l := range n.layers {
		count := len(l.Parameters())
		if offset+count > len(params) {
			return errors.Wrapf(layer.ErrShapeMismatch, "net SetParams: %d params short for layer %d", len(params), i)
		}
		if err := l.SetParameters(params[offset : offset+count]); err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
		offset += count
	}
	if offset != len(params) {
		return errors.Wrapf(layer.ErrShapeMismatch, "net SetParams: %d params, want %d", len(params), offset)
	}
	return nil
}
