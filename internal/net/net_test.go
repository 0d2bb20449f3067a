package net

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normnet/normnet/internal/activations"
	"github.com/normnet/normnet/internal/layer"
)

func buildTestNet(t *testing.T) (*Network, *layer.WeightNorm) {
	t.Helper()
	w, err := layer.Wrap(layer.NewDense(3, 4, activations.Tanh{}))
	require.NoError(t, err)
	n := New(w, layer.NewDense(4, 2, activations.Sigmoid{}))
	require.NoError(t, n.Reset())
	return n, w
}

func TestNetworkForwardBackward(t *testing.T) {
	n, _ := buildTestNet(t)

	input := []float64{0.5, -0.5, 1}
	out, err := n.Forward(input)
	require.NoError(t, err)
	require.Len(t, out, 2)

	gradIn, err := n.Backward([]float64{1, -1})
	require.NoError(t, err)
	require.Len(t, gradIn, 3)

	grads, err := n.ParameterGradients()
	require.NoError(t, err)
	require.Len(t, grads, 2)
	for i, l := range n.Layers() {
		assert.Len(t, grads[i], len(l.Parameters()))
	}
}

func TestBackwardBeforeForward(t *testing.T) {
	n := New(layer.NewDense(2, 2, activations.Linear{}))
	require.NoError(t, n.Reset())

	_, err := n.Backward([]float64{1, 1})
	require.Error(t, err)
	_, err = n.ParameterGradients()
	require.Error(t, err)
}

func TestParamsRoundTrip(t *testing.T) {
	n, _ := buildTestNet(t)

	params := n.Params()
	require.NoError(t, n.SetParams(params))
	assert.Equal(t, params, n.Params())

	require.ErrorIs(t, n.SetParams(params[:3]), layer.ErrShapeMismatch)
}

func TestModulesTraversal(t *testing.T) {
	n, w := buildTestNet(t)

	// Opaque by default: only the top-level layers are visible.
	require.Len(t, n.Modules(), 2)

	w.SetExposed(true)
	modules := n.Modules()
	require.Len(t, modules, 3)
	assert.Same(t, w, modules[0].(*layer.WeightNorm))
	assert.Same(t, w.Wrapped(), modules[1])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	n, w := buildTestNet(t)
	w.SetExposed(true)

	input := []float64{0.2, 0.9, -1.1}
	want, err := n.Forward(input)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.gob")
	require.NoError(t, n.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	// (g, v), the wrapped layer's extras, and the exposure flag all
	// restore exactly.
	lw, ok := loaded.Layers()[0].(*layer.WeightNorm)
	require.True(t, ok)
	assert.True(t, lw.Exposed())
	assert.Equal(t, w.Parameters(), lw.Parameters())

	origExtras := w.Wrapped().Parameters()[w.Wrapped().WeightSize():]
	loadExtras := lw.Wrapped().Parameters()[lw.Wrapped().WeightSize():]
	assert.Equal(t, origExtras, loadExtras)

	assert.Equal(t, n.Params(), loaded.Params())

	// The next Forward on the restored network is identical: the
	// effective weights are re-derived from the restored (g, v).
	got, err := loaded.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEncodeDecodeNested(t *testing.T) {
	d := layer.NewDense(2, 2, activations.Linear{})
	inner, err := layer.Wrap(d)
	require.NoError(t, err)
	outer, err := layer.Wrap(inner)
	require.NoError(t, err)

	n := New(outer)
	require.NoError(t, n.Reset())

	input := []float64{1, -0.5}
	want, err := n.Forward(input)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, n.Encode(&buf))
	loaded, err := Decode(&buf)
	require.NoError(t, err)

	got, err := loaded.Forward(input)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExtractNeverPersistsDerivedWeights(t *testing.T) {
	w, err := layer.Wrap(layer.NewDense(3, 2, activations.Linear{}))
	require.NoError(t, err)
	require.NoError(t, w.Reset())

	cfg, err := ExtractLayerConfig(w)
	require.NoError(t, err)
	require.NotNil(t, cfg.Wrapped)

	// The nested config carries only the extras tail (biases), never
	// the 6-element raw weight head.
	assert.Len(t, cfg.Wrapped.Params, 2)
	assert.Len(t, cfg.Params, 2+6)
}

func TestExtractUnconfiguredWeightNorm(t *testing.T) {
	_, err := ExtractLayerConfig(layer.NewWeightNorm())
	require.ErrorIs(t, err, layer.ErrNotConfigured)
}
