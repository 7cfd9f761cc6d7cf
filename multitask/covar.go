// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package multitask

import (
	"fmt"
	"slices"

	"github.com/nlpodyssey/lcem/kernel"
	"github.com/nlpodyssey/lcem/tensor"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
)

// NewBaseCovariance returns the covariance over the non-task inputs:
// a scaled Matérn 5/2 kernel with one length-scale per input column.
func NewBaseCovariance[T float.DType](dims int) *kernel.Scale {
	return kernel.NewScale[T](
		kernel.NewMatern52[T](dims, kernel.GreaterThan(0), 1.0),
		kernel.GreaterThan(0),
		1.0,
	)
}

// EvalKernel applies k to the rows of every (n x d) matrix of x, which has
// shape (..., n, d). The result has shape (..., n, n).
func EvalKernel(k kernel.Kernel, x *tensor.Dense) (*tensor.Dense, error) {
	shape := x.Shape()
	rank := len(shape)
	if rank < 2 {
		return nil, fmt.Errorf("%w: inputs must have shape (..., n, d), got %v", tensor.ErrShapeMismatch, shape)
	}
	n := shape[rank-2]
	out := tensor.Zeros(append(shape[:rank-1:rank-1], n)...)
	if n == 0 {
		return out, nil
	}

	blocks, err := x.Matrices()
	if err != nil {
		return nil, err
	}
	outBlocks, err := out.Matrices()
	if err != nil {
		return nil, err
	}
	for b, rows := range blocks {
		xs := make([]mat.Tensor, n)
		for i, r := range rows {
			xs[i] = mat.NewDense[float64](mat.WithShape(len(r)), mat.WithBacking(slices.Clone(r)))
		}
		v := k.Forward(xs...).Value().Data().F64()
		for i, row := range outBlocks[b] {
			copy(row, v[i*n:(i+1)*n])
		}
	}
	return out, nil
}
