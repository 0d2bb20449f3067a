package layer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerNormForward(t *testing.T) {
	l := NewLayerNorm(4, 1e-5, false)
	require.NoError(t, l.Reset())

	out, err := l.Forward([]float64{1, 2, 3, 4})
	require.NoError(t, err)

	// Output has zero mean and unit variance (up to eps).
	var mean float64
	for _, v := range out {
		mean += v
	}
	mean /= 4
	assert.InDelta(t, 0, mean, 1e-9)

	var variance float64
	for _, v := range out {
		variance += (v - mean) * (v - mean)
	}
	variance /= 4
	assert.InDelta(t, 1, variance, 1e-4)
}

func TestLayerNormAffine(t *testing.T) {
	l := NewLayerNorm(2, 1e-5, true)
	require.NoError(t, l.Reset())

	// gamma=2, beta=1 scales and shifts the normalized values.
	require.NoError(t, l.SetParameters([]float64{2, 2, 1, 1}))
	out, err := l.Forward([]float64{-1, 1})
	require.NoError(t, err)

	plain := NewLayerNorm(2, 1e-5, false)
	require.NoError(t, plain.Reset())
	ref, err := plain.Forward([]float64{-1, 1})
	require.NoError(t, err)

	assert.InDelta(t, 2*ref[0]+1, out[0], 1e-12)
	assert.InDelta(t, 2*ref[1]+1, out[1], 1e-12)
}

func TestLayerNormBackwardFiniteDifference(t *testing.T) {
	l := NewLayerNorm(3, 1e-5, true)
	require.NoError(t, l.Reset())
	require.NoError(t, l.SetParameters([]float64{1.5, 0.5, 2, 0.1, -0.2, 0.3}))

	input := []float64{0.3, -1.2, 0.8}
	outGrad := []float64{1, 1, 1}

	gradIn, err := l.Backward(input, outGrad)
	require.NoError(t, err)

	// Loss is the sum of outputs; compare against central differences.
	loss := func(x []float64) float64 {
		out, ferr := l.Forward(x)
		require.NoError(t, ferr)
		var s float64
		for _, v := range out {
			s += v
		}
		return s
	}
	const h = 1e-6
	for i := range input {
		xp := append([]float64(nil), input...)
		xm := append([]float64(nil), input...)
		xp[i] += h
		xm[i] -= h
		fd := (loss(xp) - loss(xm)) / (2 * h)
		assert.InDelta(t, fd, gradIn[i], 1e-5, "input %d", i)
	}
}

func TestLayerNormGradient(t *testing.T) {
	l := NewLayerNorm(2, 1e-5, true)
	require.NoError(t, l.Reset())

	input := []float64{-1, 1}
	errSig := []float64{2, 3}
	grad, err := l.Gradient(input, errSig)
	require.NoError(t, err)
	require.Len(t, grad, 4)

	// dgamma = err * normalized input, dbeta = err.
	mean := 0.0
	std := math.Sqrt(1 + 1e-5)
	assert.InDelta(t, 2*(-1-mean)/std, grad[0], 1e-9)
	assert.InDelta(t, 3*(1-mean)/std, grad[1], 1e-9)
	assert.InDelta(t, 2, grad[2], 1e-12)
	assert.InDelta(t, 3, grad[3], 1e-12)
}

func TestLayerNormHasNoRawWeights(t *testing.T) {
	l := NewLayerNorm(2, 1e-5, true)
	require.NoError(t, l.Reset())

	assert.Equal(t, 0, l.WeightSize())
	require.NoError(t, l.AssignWeights(nil))
	require.ErrorIs(t, l.AssignWeights([]float64{1}), ErrShapeMismatch)
}
