// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kernel implements covariance functions over sets of feature vectors.
package kernel

import (
	"fmt"
	"math"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
)

// Kernel maps n feature vectors to their (n x n) covariance matrix.
// The result must be symmetric positive semi-definite.
type Kernel interface {
	nn.Model
	// Forward returns the covariance matrix of the given vectors.
	Forward(xs ...mat.Tensor) mat.Tensor
	// ApplyConstraints projects the hyperparameters back into their feasible set.
	ApplyConstraints()
}

// minPositive is the smallest value a projection leaves in place of a zero
// lower bound, so that a projected length-scale never divides by zero.
const minPositive = 1e-6

// Interval is a closed range constraint on a hyperparameter.
// Contains and Validate honour Lower as given, while projecting raises a
// zero lower bound to minPositive.
type Interval struct {
	Lower float64
	Upper float64
}

// GreaterThan returns an interval unbounded from above.
func GreaterThan(lower float64) Interval {
	return Interval{Lower: lower, Upper: math.Inf(1)}
}

// Contains reports whether v satisfies the constraint.
func (c Interval) Contains(v float64) bool {
	return v >= c.Lower && v <= c.Upper
}

// Validate checks that every value satisfies the constraint.
func (c Interval) Validate(values []float64) error {
	for i, v := range values {
		if !c.Contains(v) {
			return fmt.Errorf("value %g at position %d outside [%g, %g]", v, i, c.Lower, c.Upper)
		}
	}
	return nil
}

func (c Interval) project(p *nn.Param) {
	lower := c.Lower
	if lower == 0 {
		lower = minPositive
	}
	p.Value().(mat.Matrix).ClipInPlace(lower, c.Upper)
}

func filled[T float.DType](size int, v float64) *mat.Dense[T] {
	data := make([]T, size)
	for i := range data {
		data[i] = T(v)
	}
	return mat.NewDense[T](mat.WithShape(size), mat.WithBacking(data))
}

// pairwise evaluates f on the squared scaled distance of every pair of inputs.
// Each off-diagonal entry is built once and shared by (i, j) and (j, i).
// The inputs must be column vectors shaped like lengthscale.
func pairwise(xs []mat.Tensor, lengthscale mat.Tensor, f func(sqDist mat.Tensor) mat.Tensor) mat.Tensor {
	n := len(xs)
	scaled := make([]mat.Tensor, n)
	for i, x := range xs {
		scaled[i] = ag.Div(x, lengthscale)
	}

	entries := make([][]mat.Tensor, n)
	for i := range entries {
		entries[i] = make([]mat.Tensor, n)
	}
	for i := 0; i < n; i++ {
		entries[i][i] = f(sqDistance(scaled[i], scaled[i]))
		for j := i + 1; j < n; j++ {
			e := f(sqDistance(scaled[i], scaled[j]))
			entries[i][j], entries[j][i] = e, e
		}
	}

	return newGram(entries)
}

func sqDistance(a, b mat.Tensor) mat.Tensor {
	return ag.ReduceSum(ag.Square(ag.Sub(a, b)))
}
