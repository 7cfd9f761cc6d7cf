// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"encoding/gob"
	"math"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
)

var _ Kernel = &Matern52{}

// minSqDistance keeps the square root differentiable at zero distance.
const minSqDistance = 1e-30

// Matern52 is the Matérn kernel with smoothness 5/2 and ARD length-scales:
//
//	k(a, b) = (1 + √5 r + 5/3 r²) exp(-√5 r),  r = ‖(a - b) / l‖
type Matern52 struct {
	nn.Module
	Lengthscale *nn.Param
	Constraint  Interval
}

func init() {
	gob.Register(&Matern52{})
}

// NewMatern52 returns a new Matérn 5/2 kernel over dims input dimensions.
func NewMatern52[T float.DType](dims int, constraint Interval, initial float64) *Matern52 {
	return &Matern52{
		Lengthscale: nn.NewParam(filled[T](dims, initial)),
		Constraint:  constraint,
	}
}

// Forward returns the covariance matrix of the given vectors.
func (m *Matern52) Forward(xs ...mat.Tensor) mat.Tensor {
	sqrt5 := math.Sqrt(5)
	return pairwise(xs, m.Lengthscale, func(d2 mat.Tensor) mat.Tensor {
		r := ag.Sqrt(ag.AddScalar(d2, mat.Scalar(minSqDistance)))
		poly := ag.Add(
			ag.AddScalar(ag.ProdScalar(r, mat.Scalar(sqrt5)), mat.Scalar(1.0)),
			ag.ProdScalar(d2, mat.Scalar(5.0/3.0)),
		)
		return ag.Prod(poly, ag.Exp(ag.ProdScalar(r, mat.Scalar(-sqrt5))))
	})
}

// ApplyConstraints clips the length-scales into the constraint interval.
func (m *Matern52) ApplyConstraints() {
	m.Constraint.project(m.Lengthscale)
}
