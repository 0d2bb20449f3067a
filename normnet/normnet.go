// Package normnet re-exports the library surface: the layer capability
// set, the built-in layer kinds, the network container and model
// serialization.
package normnet

import (
	"github.com/normnet/normnet/internal/activations"
	"github.com/normnet/normnet/internal/layer"
	"github.com/normnet/normnet/internal/net"
)

// Re-export common types for easier access
type (
	Layer      = layer.Layer
	Network    = net.Network
	Activation = activations.Activation
)

// Contract errors
var (
	ErrNotConfigured     = layer.ErrNotConfigured
	ErrNotInitialized    = layer.ErrNotInitialized
	ErrAlreadyConfigured = layer.ErrAlreadyConfigured
	ErrShapeMismatch     = layer.ErrShapeMismatch
	ErrDegenerateUnit    = layer.ErrDegenerateUnit
)

// Activations
var (
	Linear  = activations.Linear{}
	ReLU    = activations.ReLU{}
	Sigmoid = activations.Sigmoid{}
	Tanh    = activations.Tanh{}
)

// Layers
func Dense(in, out int, act activations.Activation) *layer.Dense {
	return layer.NewDense(in, out, act)
}

func LayerNorm(shape int, eps float64, affine bool) *layer.LayerNorm {
	return layer.NewLayerNorm(shape, eps, affine)
}

// WeightNorm wraps l in a weight normalization layer.
func WeightNorm(l Layer) (*layer.WeightNorm, error) {
	return layer.Wrap(l)
}

// Sequential creates a network owning the given layers.
func Sequential(layers ...Layer) *Network {
	return net.New(layers...)
}

// Load loads a network from a file.
func Load(filename string) (*Network, error) {
	return net.Load(filename)
}
