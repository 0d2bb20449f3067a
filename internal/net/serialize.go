package net

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/normnet/normnet/internal/activations"
	"github.com/normnet/normnet/internal/layer"
)

// LayerConfig holds the configuration needed to reconstruct a layer.
// For wrapping layers, Wrapped holds the nested configuration and Params
// the wrapping layer's own (g, v); the nested Params carry only the
// wrapped layer's extras past its raw weight buffer, since the effective
// weight buffer is a derived quantity and is never persisted.
type LayerConfig struct {
	Type       string
	InSize     int
	OutSize    int
	Activation string
	Eps        float64
	Affine     bool
	Exposed    bool
	Params     []float64
	Wrapped    *LayerConfig
}

// ExtractLayerConfig extracts the configuration from a layer.
func ExtractLayerConfig(l layer.Layer) (LayerConfig, error) {
	switch v := l.(type) {
	case *layer.Dense:
		return LayerConfig{
			Type:       "Dense",
			InSize:     v.InSize(),
			OutSize:    v.OutSize(),
			Activation: activationName(v.Activation()),
			Params:     v.Parameters(),
		}, nil

	case *layer.LayerNorm:
		return LayerConfig{
			Type:   "LayerNorm",
			InSize: v.InSize(),
			Eps:    v.Eps(),
			Affine: v.Affine(),
			Params: v.Parameters(),
		}, nil

	case *layer.WeightNorm:
		wrapped := v.Wrapped()
		if wrapped == nil {
			return LayerConfig{}, errors.Wrap(layer.ErrNotConfigured, "extract WeightNorm")
		}
		inner, err := ExtractLayerConfig(wrapped)
		if err != nil {
			return LayerConfig{}, err
		}
		// Keep only the extras tail: the raw weight head is re-derived
		// from (g, v) on the next Forward.
		inner.Params = append([]float64(nil), inner.Params[wrapped.WeightSize():]...)
		return LayerConfig{
			Type:    "WeightNorm",
			Exposed: v.Exposed(),
			Params:  v.Parameters(),
			Wrapped: &inner,
		}, nil
	}
	return LayerConfig{}, errors.Errorf("net: unsupported layer type %T", l)
}

// CreateLayer creates and initializes a layer from the configuration,
// restoring its persisted parameters.
func (c *LayerConfig) CreateLayer() (layer.Layer, error) {
	switch c.Type {
	case "Dense":
		d := layer.NewDense(c.InSize, c.OutSize, activationByName(c.Activation))
		if err := d.Reset(); err != nil {
			return nil, err
		}
		if err := d.SetParameters(c.Params); err != nil {
			return nil, err
		}
		return d, nil

	case "LayerNorm":
		l := layer.NewLayerNorm(c.InSize, c.Eps, c.Affine)
		if err := l.Reset(); err != nil {
			return nil, err
		}
		if err := l.SetParameters(c.Params); err != nil {
			return nil, err
		}
		return l, nil

	case "WeightNorm":
		if c.Wrapped == nil {
			return nil, errors.Wrap(layer.ErrNotConfigured, "load WeightNorm")
		}
		wrapped, err := c.Wrapped.createWrapped()
		if err != nil {
			return nil, err
		}
		w, err := layer.Wrap(wrapped)
		if err != nil {
			return nil, err
		}
		w.SetExposed(c.Exposed)
		if err := w.Reset(); err != nil {
			return nil, err
		}
		if err := w.SetParameters(c.Params); err != nil {
			return nil, err
		}
		if err := c.Wrapped.restoreExtras(wrapped); err != nil {
			return nil, err
		}
		return w, nil
	}
	return nil, errors.Errorf("net: unsupported layer type %q", c.Type)
}

// restoreExtras overwrites a wrapped layer's extras past its raw weight
// head, recursing through nested wrapping layers. The weight head itself
// is left to be re-derived from the enclosing (g, v) on the next Forward.
func (c *LayerConfig) restoreExtras(l layer.Layer) error {
	full := l.Parameters()
	ws := l.WeightSize()
	if len(c.Params) != len(full)-ws {
		return errors.Wrapf(layer.ErrShapeMismatch, "restore %s: %d extras, want %d", c.Type, len(c.Params), len(full)-ws)
	}
	copy(full[ws:], c.Params)
	if err := l.SetParameters(full); err != nil {
		return err
	}
	if w, ok := l.(*layer.WeightNorm); ok && c.Wrapped != nil {
		return c.Wrapped.restoreExtras(w.Wrapped())
	}
	return nil
}

// createWrapped builds a nested layer without restoring parameters; the
// enclosing WeightNorm load path resets it and restores only the extras.
func (c *LayerConfig) createWrapped() (layer.Layer, error) {
	switch c.Type {
	case "Dense":
		return layer.NewDense(c.InSize, c.OutSize, activationByName(c.Activation)), nil
	case "LayerNorm":
		return layer.NewLayerNorm(c.InSize, c.Eps, c.Affine), nil
	case "WeightNorm":
		if c.Wrapped == nil {
			return nil, errors.Wrap(layer.ErrNotConfigured, "load nested WeightNorm")
		}
		inner, err := c.Wrapped.createWrapped()
		if err != nil {
			return nil, err
		}
		w, err := layer.Wrap(inner)
		if err != nil {
			return nil, err
		}
		w.SetExposed(c.Exposed)
		return w, nil
	}
	return nil, errors.Errorf("net: unsupported layer type %q", c.Type)
}

func activationName(a activations.Activation) string {
	switch a.(type) {
	case activations.ReLU:
		return "ReLU"
	case activations.Sigmoid:
		return "Sigmoid"
	case activations.Tanh:
		return "Tanh"
	case activations.Linear:
		return "Linear"
	}
	return "Linear"
}

func activationByName(name string) activations.Activation {
	switch name {
	case "ReLU":
		return activations.ReLU{}
	case "Sigmoid":
		return activations.Sigmoid{}
	case "Tanh":
		return activations.Tanh{}
	}
	return activations.Linear{}
}

// Encode writes the network to an io.Writer using gob encoding.
func (n *Network) Encode(w io.Writer) error {
	encoder := gob.NewEncoder(w)

	if err := encoder.Encode(int32(len(n.layers))); err != nil {
		return errors.Wrap(err, "failed to encode layer count")
	}
	for i, l := range n.layers {
		cfg, err := ExtractLayerConfig(l)
		if err != nil {
			return errors.Wrapf(err, "layer %d", i)
		}
		if err := encoder.Encode(cfg); err != nil {
			return errors.Wrapf(err, "failed to encode layer %d", i)
		}
	}
	return nil
}

// Decode reads a network from an io.Reader.
func Decode(r io.Reader) (*Network, error) {
	decoder := gob.NewDecoder(r)

	var numLayers int32
	if err := decoder.Decode(&numLayers); err != nil {
		return nil, errors.Wrap(err, "failed to read layer count")
	}

	n := New()
	for i := int32(0); i < numLayers; i++ {
		var cfg LayerConfig
		if err := decoder.Decode(&cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to read layer %d", i)
		}
		l, err := cfg.CreateLayer()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create layer %d", i)
		}
		if klog.V(2).Enabled() {
			klog.Infof("net: restored %s layer with %d params\n", cfg.Type, len(cfg.Params))
		}
		n.Add(l)
	}
	return n, nil
}

// Save saves the network to a file.
func (n *Network) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()

	return n.Encode(file)
}

// Load loads a network from a file.
func Load(filename string) (*Network, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	return Decode(file)
}
