// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"encoding/gob"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
)

var _ Kernel = &RBF{}

// RBF is the squared exponential kernel with one length-scale per input
// dimension (automatic relevance determination):
//
//	k(a, b) = exp(-1/2 Σ_d ((a_d - b_d) / l_d)^2)
type RBF struct {
	nn.Module
	Lengthscale *nn.Param
	Constraint  Interval
}

func init() {
	gob.Register(&RBF{})
}

// NewRBF returns a new RBF kernel over dims input dimensions,
// with every length-scale set to initial.
func NewRBF[T float.DType](dims int, constraint Interval, initial float64) *RBF {
	return &RBF{
		Lengthscale: nn.NewParam(filled[T](dims, initial)),
		Constraint:  constraint,
	}
}

// Forward returns the covariance matrix of the given vectors.
func (m *RBF) Forward(xs ...mat.Tensor) mat.Tensor {
	return pairwise(xs, m.Lengthscale, func(d2 mat.Tensor) mat.Tensor {
		return ag.Exp(ag.ProdScalar(d2, mat.Scalar(-0.5)))
	})
}

// ApplyConstraints clips the length-scales into the constraint interval.
func (m *RBF) ApplyConstraints() {
	m.Constraint.project(m.Lengthscale)
}
