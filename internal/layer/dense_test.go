package layer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normnet/normnet/internal/activations"
)

// identityDense builds a reset n x n dense layer with identity weights
// and zero biases.
func identityDense(t *testing.T, n int, act activations.Activation) *Dense {
	t.Helper()
	d := NewDense(n, n, act)
	require.NoError(t, d.Reset())
	for o := 0; o < n; o++ {
		for i := 0; i < n; i++ {
			if o == i {
				d.SetWeight(o, i, 1)
			} else {
				d.SetWeight(o, i, 0)
			}
		}
		d.SetBias(o, 0)
	}
	return d
}

func TestDenseForward(t *testing.T) {
	d := identityDense(t, 2, activations.Tanh{})

	out, err := d.Forward([]float64{1, 2})
	require.NoError(t, err)

	// With identity weights and zero biases the output is tanh(x).
	assert.InDelta(t, math.Tanh(1), out[0], 1e-12)
	assert.InDelta(t, math.Tanh(2), out[1], 1e-12)

	// The output snapshot matches the returned slice but is distinct
	// storage.
	assert.Equal(t, out, d.OutputParameter())
	out[0] = 99
	assert.InDelta(t, math.Tanh(1), d.OutputParameter()[0], 1e-12)
}

func TestDenseBackward(t *testing.T) {
	d := NewDense(2, 2, activations.Linear{})
	require.NoError(t, d.Reset())
	d.SetWeight(0, 0, 1)
	d.SetWeight(0, 1, 2)
	d.SetWeight(1, 0, 3)
	d.SetWeight(1, 1, 4)
	d.SetBias(0, 0)
	d.SetBias(1, 0)

	input := []float64{1, 1}
	gradIn, err := d.Backward(input, []float64{1, 1})
	require.NoError(t, err)

	// Linear activation: dL/dx = W^T grad.
	assert.InDelta(t, 1+3, gradIn[0], 1e-12)
	assert.InDelta(t, 2+4, gradIn[1], 1e-12)
	assert.Equal(t, gradIn, d.Delta())
}

func TestDenseGradientLayout(t *testing.T) {
	d := NewDense(3, 2, activations.Linear{})
	require.NoError(t, d.Reset())

	input := []float64{1, 2, 3}
	errSig := []float64{5, 7}
	grad, err := d.Gradient(input, errSig)
	require.NoError(t, err)
	require.Len(t, grad, 2*3+2)

	// dW[o][i] = err[o] * input[i], then db = err.
	for o := 0; o < 2; o++ {
		for i := 0; i < 3; i++ {
			assert.InDelta(t, errSig[o]*input[i], grad[o*3+i], 1e-12)
		}
	}
	assert.InDelta(t, 5, grad[6], 1e-12)
	assert.InDelta(t, 7, grad[7], 1e-12)
}

func TestDenseNotInitialized(t *testing.T) {
	d := NewDense(2, 2, activations.Linear{})

	_, err := d.Forward([]float64{1, 2})
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = d.Backward([]float64{1, 2}, []float64{1, 2})
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = d.Gradient([]float64{1, 2}, []float64{1, 2})
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, d.AssignWeights([]float64{1, 2, 3, 4}), ErrNotInitialized)
}

func TestDenseShapeChecks(t *testing.T) {
	d := NewDense(2, 3, activations.Linear{})
	require.NoError(t, d.Reset())

	_, err := d.Forward([]float64{1})
	require.ErrorIs(t, err, ErrShapeMismatch)
	_, err = d.Backward([]float64{1, 2}, []float64{1})
	require.ErrorIs(t, err, ErrShapeMismatch)
	require.ErrorIs(t, d.AssignWeights([]float64{1}), ErrShapeMismatch)
	require.ErrorIs(t, d.SetParameters([]float64{1}), ErrShapeMismatch)
}

func TestDenseParamsRoundTrip(t *testing.T) {
	d := NewDense(2, 2, activations.Sigmoid{})
	require.NoError(t, d.Reset())

	params := []float64{1, 2, 3, 4, 0.5, -0.5}
	require.NoError(t, d.SetParameters(params))
	assert.Equal(t, params, d.Parameters())
	assert.Equal(t, 4, d.WeightSize())
	assert.Equal(t, 1.0, d.GetWeight(0, 0))
	assert.Equal(t, -0.5, d.GetBias(1))
}

func TestDenseAssignWeightsKeepsBiases(t *testing.T) {
	d := NewDense(2, 1, activations.Linear{})
	require.NoError(t, d.Reset())
	d.SetBias(0, 0.25)

	require.NoError(t, d.AssignWeights([]float64{5, 6}))
	assert.Equal(t, 5.0, d.GetWeight(0, 0))
	assert.Equal(t, 6.0, d.GetWeight(0, 1))
	assert.Equal(t, 0.25, d.GetBias(0))
}
