// Package tensor provides the dense numeric buffer used for layer
// inputs, outputs, weights, gradients and deltas.
package tensor

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Buffer is a dense float64 array with row/column shape bookkeeping.
// Data is stored row-major in a single contiguous slice; a vector is a
// buffer with a single row. The buffer owns its storage: resizing may
// reallocate, so callers must not hold slices across Resize calls.
type Buffer struct {
	data []float64
	rows int
	cols int
}

// New creates a zeroed buffer with the given shape.
func New(rows, cols int) *Buffer {
	return &Buffer{
		data: make([]float64, rows*cols),
		rows: rows,
		cols: cols,
	}
}

// NewVector creates a zeroed 1 x n buffer.
func NewVector(n int) *Buffer {
	return New(1, n)
}

// FromSlice creates a buffer wrapping a copy of src with the given shape.
func FromSlice(rows, cols int, src []float64) (*Buffer, error) {
	if len(src) != rows*cols {
		return nil, errors.Errorf("tensor: %d elements cannot fill %dx%d buffer", len(src), rows, cols)
	}
	b := New(rows, cols)
	copy(b.data, src)
	return b, nil
}

// Rows returns the number of rows.
func (b *Buffer) Rows() int { return b.rows }

// Cols returns the number of columns.
func (b *Buffer) Cols() int { return b.cols }

// Len returns the total element count.
func (b *Buffer) Len() int { return b.rows * b.cols }

// Data returns the backing slice. The slice is valid until the next Resize.
func (b *Buffer) Data() []float64 { return b.data }

// Row returns the i-th row as a slice into the backing storage.
func (b *Buffer) Row(i int) []float64 {
	return b.data[i*b.cols : (i+1)*b.cols]
}

// At returns the element at (i, j).
func (b *Buffer) At(i, j int) float64 {
	return b.data[i*b.cols+j]
}

// Set stores v at (i, j).
func (b *Buffer) Set(i, j int, v float64) {
	b.data[i*b.cols+j] = v
}

// Resize changes the shape, reallocating only when the capacity is
// insufficient. Contents after a resize are zeroed.
func (b *Buffer) Resize(rows, cols int) {
	n := rows * cols
	if cap(b.data) < n {
		b.data = make([]float64, n)
	} else {
		b.data = b.data[:n]
		for i := range b.data {
			b.data[i] = 0
		}
	}
	b.rows = rows
	b.cols = cols
}

// CopyFrom overwrites the buffer contents from src, which must have
// exactly Len elements.
func (b *Buffer) CopyFrom(src []float64) error {
	if len(src) != b.Len() {
		return errors.Errorf("tensor: copy of %d elements into buffer of %d", len(src), b.Len())
	}
	copy(b.data, src)
	return nil
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	c := New(b.rows, b.cols)
	copy(c.data, b.data)
	return c
}

// RowNorm returns the Euclidean norm of row i.
func (b *Buffer) RowNorm(i int) float64 {
	return floats.Norm(b.Row(i), 2)
}

// RowDot returns the dot product of row i with v, which must have Cols
// elements.
func (b *Buffer) RowDot(i int, v []float64) float64 {
	return floats.Dot(b.Row(i), v)
}
