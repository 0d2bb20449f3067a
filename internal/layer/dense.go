package layer

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/normnet/normnet/internal/activations"
)

// Dense is a fully connected layer.
// Weights are stored as a row-major contiguous slice for cache
// efficiency: the weight for output o, input i is at weights[o*in + i],
// so each output unit owns one contiguous row. Parameters layout is
// [weights | biases], matching the raw-weights-then-extras convention.
type Dense struct {
	inSize  int
	outSize int
	act     activations.Activation

	weights []float64
	biases  []float64

	// Snapshots of the last Forward / Backward results.
	output []float64
	delta  []float64

	// Scratch reused across calls.
	dzBuf []float64

	initialized bool
}

// NewDense creates a dense layer. Weight storage is allocated and
// initialized by Reset.
func NewDense(in, out int, act activations.Activation) *Dense {
	return &Dense{
		inSize:  in,
		outSize: out,
		act:     act,
	}
}

// Reset allocates weight storage and applies Xavier/Glorot
// initialization. Calling Reset again reinitializes the layer.
func (d *Dense) Reset() error {
	if d.inSize <= 0 || d.outSize <= 0 {
		return errors.Wrapf(ErrShapeMismatch, "dense %dx%d", d.inSize, d.outSize)
	}
	d.weights = make([]float64, d.outSize*d.inSize)
	d.biases = make([]float64, d.outSize)

	scale := math.Sqrt(2.0 / (float64(d.inSize) + float64(d.outSize)))
	for i := range d.weights {
		d.weights[i] = rand.Float64()*2*scale - scale
	}
	for i := range d.biases {
		d.biases[i] = rand.Float64()*0.2 - 0.1
	}

	d.output = make([]float64, d.outSize)
	d.delta = make([]float64, d.inSize)
	d.dzBuf = make([]float64, d.outSize)
	d.initialized = true
	return nil
}

// Forward computes act(Wx + b). The returned slice is freshly allocated.
func (d *Dense) Forward(input []float64) ([]float64, error) {
	if !d.initialized {
		return nil, errors.Wrap(ErrNotInitialized, "dense Forward")
	}
	if len(input) != d.inSize {
		return nil, errors.Wrapf(ErrShapeMismatch, "dense Forward: input %d, want %d", len(input), d.inSize)
	}

	out := make([]float64, d.outSize)
	for o := 0; o < d.outSize; o++ {
		sum := d.biases[o] + floats.Dot(d.row(o), input)
		out[o] = d.act.Activate(sum)
	}
	copy(d.output, out)
	return out, nil
}

// Backward computes the gradient of the loss with respect to the input.
// The pre-activations are recomputed from input, so Backward has no
// hidden dependency on a prior Forward call.
func (d *Dense) Backward(input, outputGrad []float64) ([]float64, error) {
	dz, err := d.preActGrad(input, outputGrad, "dense Backward")
	if err != nil {
		return nil, err
	}

	gradIn := make([]float64, d.inSize)
	for o := 0; o < d.outSize; o++ {
		floats.AddScaled(gradIn, dz[o], d.row(o))
	}
	copy(d.delta, gradIn)
	return gradIn, nil
}

// Gradient computes the gradient of the loss with respect to the weights
// and biases, returned in the Parameters layout [dW | db].
func (d *Dense) Gradient(input, errSignal []float64) ([]float64, error) {
	dz, err := d.preActGrad(input, errSignal, "dense Gradient")
	if err != nil {
		return nil, err
	}

	grad := make([]float64, d.outSize*d.inSize+d.outSize)
	for o := 0; o < d.outSize; o++ {
		wBase := o * d.inSize
		for i := 0; i < d.inSize; i++ {
			grad[wBase+i] = dz[o] * input[i]
		}
	}
	copy(grad[d.outSize*d.inSize:], dz)
	return grad, nil
}

// preActGrad computes dL/dz = dL/dy * act'(z) for each output unit.
func (d *Dense) preActGrad(input, outputGrad []float64, op string) ([]float64, error) {
	if !d.initialized {
		return nil, errors.Wrap(ErrNotInitialized, op)
	}
	if len(input) != d.inSize {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: input %d, want %d", op, len(input), d.inSize)
	}
	if len(outputGrad) != d.outSize {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: gradient %d, want %d", op, len(outputGrad), d.outSize)
	}

	dz := d.dzBuf
	for o := 0; o < d.outSize; o++ {
		z := d.biases[o] + floats.Dot(d.row(o), input)
		dz[o] = outputGrad[o] * d.act.Derivative(z)
	}
	return dz, nil
}

func (d *Dense) row(o int) []float64 {
	return d.weights[o*d.inSize : (o+1)*d.inSize]
}

// Parameters returns all parameters flattened as [weights | biases].
func (d *Dense) Parameters() []float64 {
	params := make([]float64, 0, len(d.weights)+len(d.biases))
	params = append(params, d.weights...)
	params = append(params, d.biases...)
	return params
}

// SetParameters updates weights and biases from a flattened slice.
func (d *Dense) SetParameters(p []float64) error {
	if !d.initialized {
		return errors.Wrap(ErrNotInitialized, "dense SetParameters")
	}
	if len(p) != len(d.weights)+len(d.biases) {
		return errors.Wrapf(ErrShapeMismatch, "dense SetParameters: %d params, want %d",
			len(p), len(d.weights)+len(d.biases))
	}
	copy(d.weights, p[:len(d.weights)])
	copy(d.biases, p[len(d.weights):])
	return nil
}

// Delta returns the input gradient from the last Backward call.
func (d *Dense) Delta() []float64 { return d.delta }

// OutputParameter returns the output of the last Forward call.
func (d *Dense) OutputParameter() []float64 { return d.output }

// SetOutputParameter overwrites the output snapshot.
func (d *Dense) SetOutputParameter(out []float64) error {
	if len(out) != d.outSize {
		return errors.Wrapf(ErrShapeMismatch, "dense SetOutputParameter: %d, want %d", len(out), d.outSize)
	}
	copy(d.output, out)
	return nil
}

// InSize returns the input size of the layer.
func (d *Dense) InSize() int { return d.inSize }

// OutSize returns the output size of the layer.
func (d *Dense) OutSize() int { return d.outSize }

// WeightSize returns the raw weight element count, excluding biases.
func (d *Dense) WeightSize() int { return d.outSize * d.inSize }

// AssignWeights overwrites the weight matrix, leaving biases untouched.
func (d *Dense) AssignWeights(w []float64) error {
	if !d.initialized {
		return errors.Wrap(ErrNotInitialized, "dense AssignWeights")
	}
	if len(w) != len(d.weights) {
		return errors.Wrapf(ErrShapeMismatch, "dense AssignWeights: %d elements, want %d", len(w), len(d.weights))
	}
	copy(d.weights, w)
	return nil
}

// Initialized reports whether Reset has completed.
func (d *Dense) Initialized() bool { return d.initialized }

// Activation returns the activation function used by this layer.
func (d *Dense) Activation() activations.Activation { return d.act }

// SetWeight sets a single weight at (row, col).
func (d *Dense) SetWeight(row, col int, val float64) {
	d.weights[row*d.inSize+col] = val
}

// SetBias sets a single bias.
func (d *Dense) SetBias(idx int, val float64) {
	d.biases[idx] = val
}

// GetWeight gets a single weight at (row, col).
func (d *Dense) GetWeight(row, col int) float64 {
	return d.weights[row*d.inSize+col]
}

// GetBias gets a single bias.
func (d *Dense) GetBias(idx int) float64 {
	return d.biases[idx]
}
