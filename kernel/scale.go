// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"encoding/gob"

	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
)

var _ Kernel = &Scale{}

// Scale multiplies the output of a base kernel by a positive output-scale.
type Scale struct {
	nn.Module
	Base        Kernel
	Outputscale *nn.Param
	Constraint  Interval
}

func init() {
	gob.Register(&Scale{})
}

// NewScale wraps base with an output-scale initialised to initial.
func NewScale[T float.DType](base Kernel, constraint Interval, initial float64) *Scale {
	return &Scale{
		Base:        base,
		Outputscale: nn.NewParam(mat.Scalar(T(initial))),
		Constraint:  constraint,
	}
}

// Forward returns the scaled covariance matrix of the given vectors.
func (m *Scale) Forward(xs ...mat.Tensor) mat.Tensor {
	return newScaled(m.Base.Forward(xs...), m.Outputscale)
}

// ApplyConstraints projects both the output-scale and the base kernel.
func (m *Scale) ApplyConstraints() {
	m.Constraint.project(m.Outputscale)
	m.Base.ApplyConstraints()
}
