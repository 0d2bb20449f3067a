package layer

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"github.com/normnet/normnet/internal/tensor"
)

// WeightNorm wraps a single layer and reparametrizes its raw weight
// buffer into a direction vector v and one scalar magnitude g per output
// unit, so the length of each unit's weight vector is decoupled from its
// direction (Salimans & Kingma, 2016).
//
// The wrapped layer's raw weights become a cached projection: before
// every Forward call they are recomputed per unit as g_i * v_i / ‖v_i‖
// and assigned through the dispatch operations, so (g, v) is always the
// single source of truth. Parameters layout is [g | v], with v holding
// exactly the wrapped layer's raw weight element count; any extras of
// the wrapped layer (biases and the like) stay owned by it and are
// reachable through Model when the layer is exposed.
type WeightNorm struct {
	wrapped Layer
	exposed bool

	// g holds one magnitude per output unit; v holds the direction
	// vectors, one row per unit with wrappedWeightSize/OutSize columns.
	g []float64
	v *tensor.Buffer

	// Element count of the wrapped layer's raw weight buffer, cached by
	// Reset.
	wrappedWeightSize int

	output []float64
	delta  []float64

	initialized bool
}

// NewWeightNorm creates an unconfigured weight normalization layer.
// Configure it with Add, then call Reset.
func NewWeightNorm() *WeightNorm {
	return &WeightNorm{}
}

// Wrap creates a weight normalization layer around l.
func Wrap(l Layer) (*WeightNorm, error) {
	w := NewWeightNorm()
	if err := w.Add(l); err != nil {
		return nil, err
	}
	return w, nil
}

// Add configures the wrapped layer. A WeightNorm wraps exactly one
// layer: a second call is rejected with ErrAlreadyConfigured rather than
// silently replacing a configured layer.
func (w *WeightNorm) Add(l Layer) error {
	if l == nil {
		return errors.New("layer: Add of nil layer")
	}
	if w.wrapped != nil {
		return errors.Wrapf(ErrAlreadyConfigured, "Add of %T", l)
	}
	w.wrapped = l
	return nil
}

// SetExposed controls whether Model lets traversal code see the wrapped
// layer. When false the wrapped layer is opaque.
func (w *WeightNorm) SetExposed(exposed bool) { w.exposed = exposed }

// Exposed reports whether the wrapped layer is visible to traversal.
func (w *WeightNorm) Exposed() bool { return w.exposed }

// Model returns the wrapped layer for traversal when exposed, nil
// otherwise.
func (w *WeightNorm) Model() []Layer {
	if w.exposed && w.wrapped != nil {
		return []Layer{w.wrapped}
	}
	return nil
}

// Release releases the wrapped layer and returns the WeightNorm to its
// unconfigured state. Idempotent.
func (w *WeightNorm) Release() error {
	if w.wrapped == nil {
		return nil
	}
	err := Release(w.wrapped)
	w.wrapped = nil
	w.g = nil
	w.v = nil
	w.initialized = false
	return err
}

// Reset resets the wrapped layer, then decomposes its raw weight buffer:
// v is a copy of the raw weights reshaped per output unit and g_i the
// Euclidean norm of unit i's row of v. The wrapped weight element count
// is cached here.
func (w *WeightNorm) Reset() error {
	if w.wrapped == nil {
		return errors.Wrap(ErrNotConfigured, "Reset")
	}
	if err := ResetLayer(w.wrapped); err != nil {
		return err
	}

	n, err := WeightElementCount(w.wrapped)
	if err != nil {
		return err
	}
	out := w.wrapped.OutSize()
	if n == 0 {
		return errors.Wrapf(ErrShapeMismatch, "wrapped %T has no raw weights to normalize", w.wrapped)
	}
	if out <= 0 || n%out != 0 {
		return errors.Wrapf(ErrShapeMismatch, "%d weight elements not divisible into %d output units", n, out)
	}

	w.wrappedWeightSize = n
	w.g = make([]float64, out)
	w.v, err = tensor.FromSlice(out, n/out, w.wrapped.Parameters()[:n])
	if err != nil {
		return err
	}
	for i := 0; i < out; i++ {
		w.g[i] = w.v.RowNorm(i)
	}

	w.output = make([]float64, out)
	w.delta = make([]float64, w.wrapped.InSize())
	w.initialized = true

	if klog.V(2).Enabled() {
		klog.Infof("weightnorm: wrapping %T, %d units x fan %d = %d weights\n", w.wrapped, out, n/out, n)
	}
	return nil
}

func (w *WeightNorm) check(op string) error {
	if w.wrapped == nil {
		return errors.Wrap(ErrNotConfigured, op)
	}
	if !w.initialized {
		return errors.Wrap(ErrNotInitialized, op)
	}
	return nil
}

// effectiveWeights recomputes the wrapped layer's raw weight buffer from
// (g, v), one unit at a time.
func (w *WeightNorm) effectiveWeights() ([]float64, error) {
	fan := w.v.Cols()
	effective := make([]float64, w.wrappedWeightSize)
	for i := range w.g {
		norm := w.v.RowNorm(i)
		if norm == 0 {
			return nil, errors.Wrapf(ErrDegenerateUnit, "unit %d", i)
		}
		floats.AddScaled(effective[i*fan:(i+1)*fan], w.g[i]/norm, w.v.Row(i))
	}
	return effective, nil
}

// Forward recomputes the wrapped layer's weights from (g, v), assigns
// them, and delegates the forward computation.
func (w *WeightNorm) Forward(input []float64) ([]float64, error) {
	if err := w.check("weightnorm Forward"); err != nil {
		return nil, err
	}

	effective, err := w.effectiveWeights()
	if err != nil {
		return nil, err
	}
	if err := AssignWeights(w.wrapped, effective); err != nil {
		return nil, err
	}

	out, err := w.wrapped.Forward(input)
	if err != nil {
		return nil, err
	}
	copy(w.output, out)
	return out, nil
}

// Backward delegates to the wrapped layer, which uses the weights
// assigned during the paired Forward call. No reparametrization math
// happens here.
func (w *WeightNorm) Backward(input, outputGrad []float64) ([]float64, error) {
	if err := w.check("weightnorm Backward"); err != nil {
		return nil, err
	}

	gradIn, err := w.wrapped.Backward(input, outputGrad)
	if err != nil {
		return nil, err
	}
	wrappedDelta, err := GetDelta(w.wrapped)
	if err != nil {
		return nil, err
	}
	copy(w.delta, wrappedDelta)
	return gradIn, nil
}

// Gradient computes the wrapped layer's raw weight gradient, then
// projects it into gradients for g and v. Per output unit i:
//
//	dg_i = (dW_i · v_i) / ‖v_i‖
//	dv_i = (g_i / ‖v_i‖) * (dW_i − dg_i * v_i / ‖v_i‖)
//
// The result uses the Parameters layout [dg | dv].
func (w *WeightNorm) Gradient(input, errSignal []float64) ([]float64, error) {
	if err := w.check("weightnorm Gradient"); err != nil {
		return nil, err
	}

	raw, err := w.wrapped.Gradient(input, errSignal)
	if err != nil {
		return nil, err
	}
	if len(raw) < w.wrappedWeightSize {
		return nil, errors.Wrapf(ErrShapeMismatch, "wrapped gradient %d, want at least %d", len(raw), w.wrappedWeightSize)
	}

	out := len(w.g)
	fan := w.v.Cols()
	grad := make([]float64, out+w.wrappedWeightSize)
	dg := grad[:out]
	dv := grad[out:]
	for i := 0; i < out; i++ {
		vi := w.v.Row(i)
		dWi := raw[i*fan : (i+1)*fan]
		norm := w.v.RowNorm(i)
		if norm == 0 {
			return nil, errors.Wrapf(ErrDegenerateUnit, "unit %d", i)
		}

		dg[i] = w.v.RowDot(i, dWi) / norm

		dvi := dv[i*fan : (i+1)*fan]
		copy(dvi, dWi)
		floats.AddScaled(dvi, -dg[i]/norm, vi)
		floats.Scale(w.g[i]/norm, dvi)
	}
	return grad, nil
}

// Parameters returns a copy of [g | v].
func (w *WeightNorm) Parameters() []float64 {
	params := make([]float64, 0, w.WeightSize())
	params = append(params, w.g...)
	if w.v != nil {
		params = append(params, w.v.Data()...)
	}
	return params
}

// SetParameters overwrites (g, v). The wrapped layer's effective weights
// are re-derived on the next Forward call.
func (w *WeightNorm) SetParameters(p []float64) error {
	if !w.initialized {
		return errors.Wrap(ErrNotInitialized, "weightnorm SetParameters")
	}
	if len(p) != w.WeightSize() {
		return errors.Wrapf(ErrShapeMismatch, "weightnorm SetParameters: %d params, want %d", len(p), w.WeightSize())
	}
	copy(w.g, p[:len(w.g)])
	return w.v.CopyFrom(p[len(w.g):])
}

// Delta returns the input gradient from the last Backward call.
func (w *WeightNorm) Delta() []float64 { return w.delta }

// OutputParameter returns the output of the last Forward call.
func (w *WeightNorm) OutputParameter() []float64 { return w.output }

// SetOutputParameter overwrites the output snapshot.
func (w *WeightNorm) SetOutputParameter(out []float64) error {
	if len(out) != len(w.output) {
		return errors.Wrapf(ErrShapeMismatch, "weightnorm SetOutputParameter: %d, want %d", len(out), len(w.output))
	}
	copy(w.output, out)
	return nil
}

// InSize returns the wrapped layer's input size, zero when unconfigured.
func (w *WeightNorm) InSize() int {
	if w.wrapped == nil {
		return 0
	}
	return w.wrapped.InSize()
}

// OutSize returns the wrapped layer's output size, zero when
// unconfigured.
func (w *WeightNorm) OutSize() int {
	if w.wrapped == nil {
		return 0
	}
	return w.wrapped.OutSize()
}

// WeightSize returns the element count of (g, v). A WeightNorm can
// itself be wrapped: its raw weights are the full (g, v) buffer and it
// has no extras.
func (w *WeightNorm) WeightSize() int {
	if w.v == nil {
		return 0
	}
	return len(w.g) + w.v.Len()
}

// AssignWeights overwrites (g, v).
func (w *WeightNorm) AssignWeights(p []float64) error {
	if !w.initialized {
		return errors.Wrap(ErrNotInitialized, "weightnorm AssignWeights")
	}
	if len(p) != w.WeightSize() {
		return errors.Wrapf(ErrShapeMismatch, "weightnorm AssignWeights: %d elements, want %d", len(p), w.WeightSize())
	}
	copy(w.g, p[:len(w.g)])
	return w.v.CopyFrom(p[len(w.g):])
}

// Initialized reports whether Reset has completed.
func (w *WeightNorm) Initialized() bool { return w.initialized }

// Wrapped returns the wrapped layer regardless of exposure. Intended for
// serialization, which must persist the wrapped configuration.
func (w *WeightNorm) Wrapped() Layer { return w.wrapped }
