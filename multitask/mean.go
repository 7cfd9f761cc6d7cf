// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package multitask

import (
	"encoding/gob"
	"fmt"

	"github.com/nlpodyssey/lcem/tensor"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
)

// ConstantMean is a mean function returning the same trainable value everywhere.
type ConstantMean struct {
	nn.Module
	Constant *nn.Param
}

func init() {
	gob.Register(&ConstantMean{})
}

// NewConstantMean returns a new ConstantMean.
func NewConstantMean[T float.DType](initial float64) *ConstantMean {
	return &ConstantMean{
		Constant: nn.NewParam(mat.Scalar(T(initial))),
	}
}

// Forward returns the mean of inputs of shape (..., n, d), with shape (..., n).
func (m *ConstantMean) Forward(x *tensor.Dense) (*tensor.Dense, error) {
	shape := x.Shape()
	if len(shape) < 2 {
		return nil, fmt.Errorf("%w: inputs must have shape (..., n, d), got %v", tensor.ErrShapeMismatch, shape)
	}
	out := tensor.Zeros(shape[:len(shape)-1]...)
	c := m.Constant.Value().Data().F64()[0]
	for i := range out.Data() {
		out.Data()[i] = c
	}
	return out, nil
}
