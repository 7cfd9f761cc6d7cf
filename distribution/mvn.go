// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package distribution implements batched multivariate normal distributions.
package distribution

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/nlpodyssey/lcem/tensor"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// ErrNotPositiveDefinite is returned when a covariance matrix cannot be factorized.
var ErrNotPositiveDefinite = errors.New("covariance is not positive definite")

// MultivariateNormal is a batch of multivariate normal distributions.
// Mean has shape (..., n) and Covariance has shape (..., n, n).
type MultivariateNormal struct {
	Mean       *tensor.Dense
	Covariance *tensor.Dense
}

// New checks that mean and covariance agree on batch shape and event size.
func New(mean, covariance *tensor.Dense) (*MultivariateNormal, error) {
	ms, cs := mean.Shape(), covariance.Shape()
	if len(cs) < 2 || len(ms) != len(cs)-1 {
		return nil, fmt.Errorf("%w: mean %v, covariance %v", tensor.ErrShapeMismatch, ms, cs)
	}
	n := cs[len(cs)-1]
	if cs[len(cs)-2] != n || !ms.Equal(cs[:len(cs)-1]) {
		return nil, fmt.Errorf("%w: mean %v, covariance %v", tensor.ErrShapeMismatch, ms, cs)
	}
	return &MultivariateNormal{Mean: mean, Covariance: covariance}, nil
}

// BatchShape returns the leading axes shared by every distribution.
func (d *MultivariateNormal) BatchShape() tensor.Shape {
	return d.Covariance.BatchShape()
}

// EventSize returns the dimension of each distribution.
func (d *MultivariateNormal) EventSize() int {
	s := d.Covariance.Shape()
	return s[len(s)-1]
}

// Len returns the number of distributions in the batch.
func (d *MultivariateNormal) Len() int {
	return d.BatchShape().Size()
}

// Variance returns the diagonal of every covariance matrix, with the shape of Mean.
func (d *MultivariateNormal) Variance() *tensor.Dense {
	out := tensor.Zeros(d.Mean.Shape()...)
	n := d.EventSize()
	blocks, _ := d.Covariance.Matrices()
	for b, block := range blocks {
		for i := 0; i < n; i++ {
			out.Data()[b*n+i] = block[i][i]
		}
	}
	return out
}

// AddDiagonal returns a copy with noise[i] added to the i-th diagonal entry
// of every covariance matrix. A single value is used for every entry.
func (d *MultivariateNormal) AddDiagonal(noise []float64) (*MultivariateNormal, error) {
	n := d.EventSize()
	if len(noise) != 1 && len(noise) != n {
		return nil, fmt.Errorf("%w: %d noise values for event size %d", tensor.ErrShapeMismatch, len(noise), n)
	}
	covar := d.Covariance.Clone()
	blocks, _ := covar.Matrices()
	for _, block := range blocks {
		for i := 0; i < n; i++ {
			if len(noise) == 1 {
				block[i][i] += noise[0]
			} else {
				block[i][i] += noise[i]
			}
		}
	}
	return &MultivariateNormal{Mean: d.Mean.Clone(), Covariance: covar}, nil
}

// Normal returns the b-th distribution of the batch as a gonum distribution.
func (d *MultivariateNormal) Normal(b int, src rand.Source) (*distmv.Normal, error) {
	if b < 0 || b >= d.Len() {
		return nil, fmt.Errorf("%w: batch element %d of %d", tensor.ErrIndexOutOfRange, b, d.Len())
	}
	n := d.EventSize()
	mu := append([]float64(nil), d.Mean.Data()[b*n:(b+1)*n]...)
	sigma := mat.NewSymDense(n, append([]float64(nil), d.Covariance.Data()[b*n*n:(b+1)*n*n]...))
	normal, ok := distmv.NewNormal(mu, sigma, src)
	if !ok {
		return nil, fmt.Errorf("%w: batch element %d", ErrNotPositiveDefinite, b)
	}
	return normal, nil
}

// LogProb returns the log density of y under the b-th distribution.
func (d *MultivariateNormal) LogProb(b int, y []float64) (float64, error) {
	if len(y) != d.EventSize() {
		return 0, fmt.Errorf("%w: %d values for event size %d", tensor.ErrShapeMismatch, len(y), d.EventSize())
	}
	normal, err := d.Normal(b, nil)
	if err != nil {
		return 0, err
	}
	return normal.LogProb(y), nil
}

// Sample draws one value from the b-th distribution.
func (d *MultivariateNormal) Sample(b int, src rand.Source) ([]float64, error) {
	normal, err := d.Normal(b, src)
	if err != nil {
		return nil, err
	}
	return normal.Rand(nil), nil
}
