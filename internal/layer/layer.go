// Package layer provides neural network layer implementations.
package layer

import (
	"github.com/pkg/errors"
)

// Contract errors. Callers match with errors.Is; messages carry the
// violating sizes or unit index.
var (
	// ErrNotConfigured is returned by a wrapping layer used before a
	// wrapped layer has been added.
	ErrNotConfigured = errors.New("layer: no wrapped layer configured")

	// ErrNotInitialized is returned when a layer is used before Reset.
	ErrNotInitialized = errors.New("layer: not initialized, call Reset first")

	// ErrAlreadyConfigured is returned by Add when the wrapping layer
	// already holds a wrapped layer.
	ErrAlreadyConfigured = errors.New("layer: wrapped layer already configured")

	// ErrShapeMismatch is returned when a buffer size disagrees with the
	// size a layer declares.
	ErrShapeMismatch = errors.New("layer: shape mismatch")

	// ErrDegenerateUnit is returned when an output unit's direction
	// vector has zero norm, making the normalization undefined.
	ErrDegenerateUnit = errors.New("layer: degenerate unit, direction vector has zero norm")
)

// Layer is the capability set every layer kind implements. Layers are
// stored and invoked through this interface so heterogeneous kinds can
// live in one sequence without the caller branching on the concrete type.
//
// Parameter layout convention: Parameters returns the WeightSize raw
// weight elements first, followed by any extras (biases and the like)
// that are not part of the raw weight buffer. AssignWeights overwrites
// only the raw weight elements.
type Layer interface {
	// Reset initializes internal state and allocates weight storage.
	// It must be called before any other computation.
	Reset() error

	// Forward computes the output activations for input.
	Forward(input []float64) ([]float64, error)

	// Backward computes the gradient of the loss with respect to input,
	// given the gradient with respect to the output.
	Backward(input, outputGrad []float64) ([]float64, error)

	// Gradient computes the gradient of the loss with respect to the
	// layer's own parameters, in the Parameters layout.
	Gradient(input, errSignal []float64) ([]float64, error)

	// Parameters returns a copy of the flat parameter vector.
	Parameters() []float64

	// SetParameters overwrites all parameters from a flat vector.
	SetParameters(p []float64) error

	// Delta returns the input gradient computed by the last Backward.
	Delta() []float64

	// OutputParameter returns the output of the last Forward.
	OutputParameter() []float64

	// InSize returns the input size of the layer.
	InSize() int

	// OutSize returns the number of output units.
	OutSize() int

	// WeightSize returns the number of raw weight elements.
	WeightSize() int

	// AssignWeights overwrites the raw weight elements. The buffer must
	// hold exactly WeightSize elements.
	AssignWeights(w []float64) error

	// Initialized reports whether Reset has completed.
	Initialized() bool
}

// Releaser is implemented by layers that own resources beyond their
// numeric buffers. Release must be idempotent.
type Releaser interface {
	Release() error
}

// OutputSetter is implemented by layers whose output snapshot can be
// overwritten, used to stitch wrapped-layer outputs into a wrapping
// layer without the caller knowing the concrete kind.
type OutputSetter interface {
	SetOutputParameter(out []float64) error
}

// Release frees any resources a layer owns beyond its buffers. Layers
// without extra resources are a no-op.
func Release(l Layer) error {
	if r, ok := l.(Releaser); ok {
		return r.Release()
	}
	return nil
}

// ResetLayer reinitializes a layer's internal state.
func ResetLayer(l Layer) error {
	return l.Reset()
}

// GetDelta fetches the input gradient from the last Backward call.
func GetDelta(l Layer) ([]float64, error) {
	if !l.Initialized() {
		return nil, errors.Wrap(ErrNotInitialized, "GetDelta")
	}
	return l.Delta(), nil
}

// SetOutputParameter assigns a layer's output snapshot.
func SetOutputParameter(l Layer, out []float64) error {
	if !l.Initialized() {
		return errors.Wrap(ErrNotInitialized, "SetOutputParameter")
	}
	if s, ok := l.(OutputSetter); ok {
		return s.SetOutputParameter(out)
	}
	return errors.Errorf("layer: %T does not expose a settable output parameter", l)
}

// WeightElementCount queries the number of raw weight elements.
func WeightElementCount(l Layer) (int, error) {
	if !l.Initialized() {
		return 0, errors.Wrap(ErrNotInitialized, "WeightElementCount")
	}
	return l.WeightSize(), nil
}

// AssignWeights overwrites a layer's raw weight elements. The count must
// agree with WeightElementCount.
func AssignWeights(l Layer, w []float64) error {
	if !l.Initialized() {
		return errors.Wrap(ErrNotInitialized, "AssignWeights")
	}
	return l.AssignWeights(w)
}
