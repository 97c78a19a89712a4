package state

import "gonum.org/v1/gonum/mat"

// Buffer is a resizable dense matrix of random inputs. The simulator consumes
// it column-chunk by column-chunk, one chunk of nr columns per update.
type Buffer struct {
	data []float64
	m    *mat.Dense
	rows int
	cols int
}

// NewBuffer creates new Buffer with the given dimensions and returns it.
func NewBuffer(rows, cols int) *Buffer {
	b := &Buffer{}
	b.Resize(rows, cols)

	return b
}

// Resize changes the buffer dimensions. The backing storage is grown when
// needed and reused otherwise; values are unspecified after a resize.
func (b *Buffer) Resize(rows, cols int) {
	b.rows, b.cols = rows, cols
	n := rows * cols
	if cap(b.data) < n {
		b.data = make([]float64, n)
	}
	if n > 0 {
		b.m = mat.NewDense(rows, cols, b.data[:n])
	} else {
		b.m = nil
	}
}

// Zero fills the buffer with zeros.
func (b *Buffer) Zero() {
	for i := range b.data[:b.rows*b.cols] {
		b.data[i] = 0
	}
}

// Dims returns the buffer dimensions.
func (b *Buffer) Dims() (rows, cols int) {
	return b.rows, b.cols
}

// Chunk returns a view of the u-th chunk of nr columns.
func (b *Buffer) Chunk(u, nr int) *mat.Dense {
	return b.m.Slice(0, b.rows, u*nr, (u+1)*nr).(*mat.Dense)
}
