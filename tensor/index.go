// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensor

import (
	"fmt"
)

// Index is a row-major int array of arbitrary rank, used to address
// rows and columns of other tensors.
type Index struct {
	shape Shape
	data  []int
}

// NewIndex returns an index tensor of the given shape backed by data.
// The data slice is not copied.
func NewIndex(shape Shape, data []int) (*Index, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.Size() {
		return nil, fmt.Errorf("%w: %d indices for shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Index{shape: shape.Clone(), data: data}, nil
}

// Column returns an (n, 1) index holding the given values.
func Column(values ...int) *Index {
	return &Index{shape: Shape{len(values), 1}, data: append([]int(nil), values...)}
}

// Shape returns the shape of the index.
func (x *Index) Shape() Shape { return x.shape.Clone() }

// Rank returns the number of axes.
func (x *Index) Rank() int { return len(x.shape) }

// Data returns the backing slice.
func (x *Index) Data() []int { return x.data }

// Squeeze drops the given axis, which must have size 1.
// The result shares memory with x.
func (x *Index) Squeeze(axis int) (*Index, error) {
	axis, err := normAxis(axis, len(x.shape))
	if err != nil {
		return nil, err
	}
	if x.shape[axis] != 1 {
		return nil, fmt.Errorf("%w: cannot squeeze axis %d of size %d", ErrShapeMismatch, axis, x.shape[axis])
	}
	shape := append(x.shape[:axis:axis], x.shape[axis+1:]...)
	return &Index{shape: shape, data: x.data}, nil
}

// Unsqueeze inserts an axis of size 1 at the given position.
func (x *Index) Unsqueeze(axis int) (*Index, error) {
	axis, err := normAxis(axis, len(x.shape)+1)
	if err != nil {
		return nil, err
	}
	shape := make(Shape, 0, len(x.shape)+1)
	shape = append(shape, x.shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, x.shape[axis:]...)
	return &Index{shape: shape, data: x.data}, nil
}

// Expand repeats the size-1 axes of x to match shape, like torch.expand.
// A size of -1 keeps the corresponding axis unchanged.
func (x *Index) Expand(shape Shape) (*Index, error) {
	if len(shape) != len(x.shape) {
		return nil, fmt.Errorf("%w: cannot expand rank %d to rank %d", ErrShapeMismatch, len(x.shape), len(shape))
	}
	target := shape.Clone()
	for d, s := range target {
		switch {
		case s == -1:
			target[d] = x.shape[d]
		case s < 0:
			return nil, fmt.Errorf("%w: negative size %d at axis %d", ErrShapeMismatch, s, d)
		case x.shape[d] != s && x.shape[d] != 1:
			return nil, fmt.Errorf("%w: cannot expand size %d to %d at axis %d", ErrShapeMismatch, x.shape[d], s, d)
		}
	}

	srcStrides := x.shape.Strides()
	for d := range srcStrides {
		if x.shape[d] == 1 {
			srcStrides[d] = 0
		}
	}
	dstStrides := target.Strides()
	out := &Index{shape: target, data: make([]int, target.Size())}
	pos := make([]int, len(target))
	for i := range out.data {
		unravel(pos, i, dstStrides)
		src := 0
		for d, p := range pos {
			src += p * srcStrides[d]
		}
		out.data[i] = x.data[src]
	}
	return out, nil
}
