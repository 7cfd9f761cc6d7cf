// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tensor provides the small amount of batched array machinery needed
// to index covariance matrices with task tensors of arbitrary batch shape.
//
// Data is stored row-major; the last axis is contiguous.
package tensor

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexOutOfRange is returned when an index falls outside the axis it addresses.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrShapeMismatch is returned when operands do not satisfy a shape contract.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Shape is the size of each axis.
type Shape []int

// Size returns the number of elements of a tensor with this shape.
func (s Shape) Size() int {
	size := 1
	for _, d := range s {
		size *= d
	}
	return size
}

// Strides returns the row-major strides of the shape.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	acc := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= s[i]
	}
	return strides
}

// Equal reports whether both shapes have the same axes.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

func (s Shape) validate() error {
	for i, d := range s {
		if d < 0 {
			return fmt.Errorf("%w: negative size %d at axis %d", ErrShapeMismatch, d, i)
		}
	}
	return nil
}

// normAxis resolves a possibly negative axis against a rank.
func normAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, fmt.Errorf("%w: axis %d for rank %d", ErrShapeMismatch, axis, rank)
	}
	return axis, nil
}

// unravel writes into dst the multi-index of the flat offset i.
func unravel(dst []int, i int, strides []int) {
	for d, s := range strides {
		dst[d] = i / s
		i %= s
	}
}
