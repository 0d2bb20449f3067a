package layer

import (
	"math"

	"github.com/pkg/errors"
)

// LayerNorm implements layer normalization across the feature dimension.
// It carries no raw weight buffer: gamma and beta are extras in the
// Parameters layout, so WeightSize is zero and AssignWeights accepts
// only an empty buffer.
type LayerNorm struct {
	shape  int
	eps    float64
	affine bool

	gamma []float64
	beta  []float64

	output []float64
	delta  []float64

	initialized bool
}

// NewLayerNorm creates a layer normalization layer.
// eps is the variance floor for numerical stability (1e-5 is typical);
// affine enables the learnable gamma/beta scale and shift.
func NewLayerNorm(shape int, eps float64, affine bool) *LayerNorm {
	return &LayerNorm{
		shape:  shape,
		eps:    eps,
		affine: affine,
	}
}

// Reset allocates parameter storage, with gamma initialized to one and
// beta to zero.
func (l *LayerNorm) Reset() error {
	if l.shape <= 0 {
		return errors.Wrapf(ErrShapeMismatch, "layernorm shape %d", l.shape)
	}
	if l.affine {
		l.gamma = make([]float64, l.shape)
		l.beta = make([]float64, l.shape)
		for i := range l.gamma {
			l.gamma[i] = 1
		}
	}
	l.output = make([]float64, l.shape)
	l.delta = make([]float64, l.shape)
	l.initialized = true
	return nil
}

// moments returns the mean and the eps-stabilized standard deviation.
func (l *LayerNorm) moments(x []float64) (mean, std float64) {
	for _, v := range x {
		mean += v
	}
	mean /= float64(l.shape)

	var sumSq float64
	for _, v := range x {
		diff := v - mean
		sumSq += diff * diff
	}
	std = math.Sqrt(sumSq/float64(l.shape) + l.eps)
	return mean, std
}

func (l *LayerNorm) check(input []float64, op string) error {
	if !l.initialized {
		return errors.Wrap(ErrNotInitialized, op)
	}
	if len(input) != l.shape {
		return errors.Wrapf(ErrShapeMismatch, "%s: input %d, want %d", op, len(input), l.shape)
	}
	return nil
}

// Forward normalizes input to zero mean and unit variance, then applies
// the affine scale and shift when enabled.
func (l *LayerNorm) Forward(input []float64) ([]float64, error) {
	if err := l.check(input, "layernorm Forward"); err != nil {
		return nil, err
	}

	mean, std := l.moments(input)
	out := make([]float64, l.shape)
	for i, v := range input {
		normalized := (v - mean) / std
		if l.affine {
			out[i] = l.gamma[i]*normalized + l.beta[i]
		} else {
			out[i] = normalized
		}
	}
	copy(l.output, out)
	return out, nil
}

// Backward computes the input gradient. The mean and std terms are
// recomputed from input so the call has no hidden state.
func (l *LayerNorm) Backward(input, outputGrad []float64) ([]float64, error) {
	if err := l.check(input, "layernorm Backward"); err != nil {
		return nil, err
	}
	if len(outputGrad) != l.shape {
		return nil, errors.Wrapf(ErrShapeMismatch, "layernorm Backward: gradient %d, want %d", len(outputGrad), l.shape)
	}

	mean, std := l.moments(input)
	n := float64(l.shape)

	// dL/dxhat, folding gamma in when affine.
	gxh := make([]float64, l.shape)
	var sumGrad, sumGradDiff float64
	for i := range input {
		gxh[i] = outputGrad[i]
		if l.affine {
			gxh[i] *= l.gamma[i]
		}
		sumGrad += gxh[i]
		sumGradDiff += gxh[i] * (input[i] - mean)
	}

	gradIn := make([]float64, l.shape)
	for i := range input {
		diff := input[i] - mean
		gradIn[i] = (gxh[i]-sumGrad/n)/std - diff*sumGradDiff/(n*std*std*std)
	}
	copy(l.delta, gradIn)
	return gradIn, nil
}

// Gradient computes the gamma and beta gradients in the Parameters
// layout [dgamma | dbeta]. Without affine parameters the result is empty.
func (l *LayerNorm) Gradient(input, errSignal []float64) ([]float64, error) {
	if err := l.check(input, "layernorm Gradient"); err != nil {
		return nil, err
	}
	if len(errSignal) != l.shape {
		return nil, errors.Wrapf(ErrShapeMismatch, "layernorm Gradient: error %d, want %d", len(errSignal), l.shape)
	}
	if !l.affine {
		return []float64{}, nil
	}

	mean, std := l.moments(input)
	grad := make([]float64, 2*l.shape)
	for i := range input {
		normalized := (input[i] - mean) / std
		grad[i] = errSignal[i] * normalized
		grad[l.shape+i] = errSignal[i]
	}
	return grad, nil
}

// Parameters returns gamma and beta flattened, empty without affine.
func (l *LayerNorm) Parameters() []float64 {
	if !l.affine {
		return []float64{}
	}
	params := make([]float64, 0, 2*l.shape)
	params = append(params, l.gamma...)
	params = append(params, l.beta...)
	return params
}

// SetParameters updates gamma and beta from a flattened slice.
func (l *LayerNorm) SetParameters(p []float64) error {
	if !l.initialized {
		return errors.Wrap(ErrNotInitialized, "layernorm SetParameters")
	}
	want := 0
	if l.affine {
		want = 2 * l.shape
	}
	if len(p) != want {
		return errors.Wrapf(ErrShapeMismatch, "layernorm SetParameters: %d params, want %d", len(p), want)
	}
	if l.affine {
		copy(l.gamma, p[:l.shape])
		copy(l.beta, p[l.shape:])
	}
	return nil
}

// Delta returns the input gradient from the last Backward call.
func (l *LayerNorm) Delta() []float64 { return l.delta }

// OutputParameter returns the output of the last Forward call.
func (l *LayerNorm) OutputParameter() []float64 { return l.output }

// SetOutputParameter overwrites the output snapshot.
func (l *LayerNorm) SetOutputParameter(out []float64) error {
	if len(out) != l.shape {
		return errors.Wrapf(ErrShapeMismatch, "layernorm SetOutputParameter: %d, want %d", len(out), l.shape)
	}
	copy(l.output, out)
	return nil
}

// InSize returns the input size.
func (l *LayerNorm) InSize() int { return l.shape }

// OutSize returns the output size.
func (l *LayerNorm) OutSize() int { return l.shape }

// WeightSize returns zero: gamma and beta are extras, not raw weights.
func (l *LayerNorm) WeightSize() int { return 0 }

// AssignWeights accepts only an empty buffer.
func (l *LayerNorm) AssignWeights(w []float64) error {
	if !l.initialized {
		return errors.Wrap(ErrNotInitialized, "layernorm AssignWeights")
	}
	if len(w) != 0 {
		return errors.Wrapf(ErrShapeMismatch, "layernorm AssignWeights: %d elements, want 0", len(w))
	}
	return nil
}

// Initialized reports whether Reset has completed.
func (l *LayerNorm) Initialized() bool { return l.initialized }

// Affine reports whether the layer learns gamma and beta.
func (l *LayerNorm) Affine() bool { return l.affine }

// Eps returns the variance floor.
func (l *LayerNorm) Eps() float64 { return l.eps }
