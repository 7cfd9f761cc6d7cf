// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensor

import (
	"fmt"
)

// Dense is a row-major float64 array of arbitrary rank.
type Dense struct {
	shape Shape
	data  []float64
}

// NewDense returns a tensor of the given shape backed by data.
// The data slice is not copied.
func NewDense(shape Shape, data []float64) (*Dense, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.Size() {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Dense{shape: shape.Clone(), data: data}, nil
}

// Zeros returns a zero-filled tensor.
func Zeros(shape ...int) *Dense {
	s := Shape(shape).Clone()
	return &Dense{shape: s, data: make([]float64, s.Size())}
}

// FromRows builds a 2-D tensor from equally long rows.
func FromRows(rows [][]float64) (*Dense, error) {
	if len(rows) == 0 {
		return Zeros(0, 0), nil
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrShapeMismatch, i, len(r), cols)
		}
		data = append(data, r...)
	}
	return &Dense{shape: Shape{len(rows), cols}, data: data}, nil
}

// Shape returns the shape of the tensor.
func (t *Dense) Shape() Shape { return t.shape.Clone() }

// Rank returns the number of axes.
func (t *Dense) Rank() int { return len(t.shape) }

// Data returns the backing slice.
func (t *Dense) Data() []float64 { return t.data }

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	return &Dense{shape: t.shape.Clone(), data: append([]float64(nil), t.data...)}
}

// At returns the element at the given multi-index.
func (t *Dense) At(idx ...int) (float64, error) {
	off, err := offset(t.shape, idx)
	if err != nil {
		return 0, err
	}
	return t.data[off], nil
}

// Set assigns the element at the given multi-index.
func (t *Dense) Set(v float64, idx ...int) error {
	off, err := offset(t.shape, idx)
	if err != nil {
		return err
	}
	t.data[off] = v
	return nil
}

// BatchShape returns all axes but the last two.
func (t *Dense) BatchShape() Shape {
	if len(t.shape) < 2 {
		return Shape{}
	}
	return t.shape[:len(t.shape)-2].Clone()
}

// Matrices splits a tensor of rank >= 2 into its trailing 2-D slices,
// in batch order. The returned rows share memory with t.
func (t *Dense) Matrices() ([][][]float64, error) {
	if len(t.shape) < 2 {
		return nil, fmt.Errorf("%w: rank %d, expected at least 2", ErrShapeMismatch, len(t.shape))
	}
	r, c := t.shape[len(t.shape)-2], t.shape[len(t.shape)-1]
	n := t.BatchShape().Size()
	out := make([][][]float64, n)
	for b := range out {
		base := b * r * c
		rows := make([][]float64, r)
		for i := range rows {
			rows[i] = t.data[base+i*c : base+(i+1)*c]
		}
		out[b] = rows
	}
	return out, nil
}

// TransposeLast swaps the last two axes.
func (t *Dense) TransposeLast() (*Dense, error) {
	rank := len(t.shape)
	if rank < 2 {
		return nil, fmt.Errorf("%w: cannot transpose rank %d", ErrShapeMismatch, rank)
	}
	r, c := t.shape[rank-2], t.shape[rank-1]
	shape := t.shape.Clone()
	shape[rank-2], shape[rank-1] = c, r
	out := &Dense{shape: shape, data: make([]float64, len(t.data))}
	block := r * c
	for base := 0; base < len(t.data); base += block {
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				out.data[base+j*r+i] = t.data[base+i*c+j]
			}
		}
	}
	return out, nil
}

// Gather picks values along axis with the given index, like torch.gather:
// out[..., i_axis, ...] = t[..., index[..., i_axis, ...], ...].
// The index must have the same rank as t and no larger size on the other axes.
func (t *Dense) Gather(axis int, index *Index) (*Dense, error) {
	rank := len(t.shape)
	axis, err := normAxis(axis, rank)
	if err != nil {
		return nil, err
	}
	if len(index.shape) != rank {
		return nil, fmt.Errorf("%w: gather index rank %d, input rank %d", ErrShapeMismatch, len(index.shape), rank)
	}
	for d := range index.shape {
		if d != axis && index.shape[d] > t.shape[d] {
			return nil, fmt.Errorf("%w: gather index size %d exceeds input size %d at axis %d",
				ErrShapeMismatch, index.shape[d], t.shape[d], d)
		}
	}

	srcStrides := t.shape.Strides()
	dstStrides := index.shape.Strides()
	out := &Dense{shape: index.shape.Clone(), data: make([]float64, len(index.data))}
	pos := make([]int, rank)
	for i, v := range index.data {
		if v < 0 || v >= t.shape[axis] {
			return nil, fmt.Errorf("%w: gather index %d for axis %d of size %d", ErrIndexOutOfRange, v, axis, t.shape[axis])
		}
		unravel(pos, i, dstStrides)
		src := 0
		for d, p := range pos {
			if d == axis {
				p = v
			}
			src += p * srcStrides[d]
		}
		out.data[i] = t.data[src]
	}
	return out, nil
}

// Mul returns the element-wise product of two tensors of equal shape.
func (t *Dense) Mul(o *Dense) (*Dense, error) {
	if !t.shape.Equal(o.shape) {
		return nil, fmt.Errorf("%w: element-wise product of %v and %v", ErrShapeMismatch, t.shape, o.shape)
	}
	out := &Dense{shape: t.shape.Clone(), data: make([]float64, len(t.data))}
	for i, v := range t.data {
		out.data[i] = v * o.data[i]
	}
	return out, nil
}

// SelectRows indexes the rows of the 2-D matrix m with every value of idx:
// the result has shape idx.Shape() + [m.cols], like m[idx] in numpy.
func SelectRows(m *Dense, idx *Index) (*Dense, error) {
	if len(m.shape) != 2 {
		return nil, fmt.Errorf("%w: row selection needs a matrix, got rank %d", ErrShapeMismatch, len(m.shape))
	}
	rows, cols := m.shape[0], m.shape[1]
	shape := append(idx.shape.Clone(), cols)
	out := &Dense{shape: shape, data: make([]float64, len(idx.data)*cols)}
	for i, r := range idx.data {
		if r < 0 || r >= rows {
			return nil, fmt.Errorf("%w: row %d of %d", ErrIndexOutOfRange, r, rows)
		}
		copy(out.data[i*cols:(i+1)*cols], m.data[r*cols:(r+1)*cols])
	}
	return out, nil
}

func offset(shape Shape, idx []int) (int, error) {
	if len(idx) != len(shape) {
		return 0, fmt.Errorf("%w: %d indices for rank %d", ErrShapeMismatch, len(idx), len(shape))
	}
	off := 0
	strides := shape.Strides()
	for d, i := range idx {
		if i < 0 || i >= shape[d] {
			return 0, fmt.Errorf("%w: %d at axis %d of size %d", ErrIndexOutOfRange, i, d, shape[d])
		}
		off += i * strides[d]
	}
	return off, nil
}
