// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package multitask

import (
	"encoding/gob"
	"slices"

	"github.com/nlpodyssey/lcem/distribution"
	"github.com/nlpodyssey/lcem/kernel"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
)

const (
	// MinInferredNoise is the lower bound of the inferred noise variance.
	MinInferredNoise = 1e-4
	// DefaultNoise is the initial inferred noise variance, the mode of
	// a Gamma(1.1, 0.05) prior.
	DefaultNoise = 2.0
)

// Likelihood maps the latent distribution to the distribution of observations.
type Likelihood interface {
	Marginal(mvn *distribution.MultivariateNormal) (*distribution.MultivariateNormal, error)
	ApplyConstraints()
}

var (
	_ Likelihood = &GaussianLikelihood{}
	_ Likelihood = &FixedNoiseLikelihood{}
)

func init() {
	gob.Register(&GaussianLikelihood{})
	gob.Register(&FixedNoiseLikelihood{})
}

// GaussianLikelihood has a single inferred noise variance shared by all tasks.
type GaussianLikelihood struct {
	nn.Module
	Noise      *nn.Param
	Constraint kernel.Interval
}

// NewGaussianLikelihood returns a new GaussianLikelihood.
func NewGaussianLikelihood[T float.DType](initial float64) *GaussianLikelihood {
	return &GaussianLikelihood{
		Noise:      nn.NewParam(mat.Scalar(T(initial))),
		Constraint: kernel.GreaterThan(MinInferredNoise),
	}
}

// Marginal adds the noise variance to every diagonal entry.
func (l *GaussianLikelihood) Marginal(mvn *distribution.MultivariateNormal) (*distribution.MultivariateNormal, error) {
	return mvn.AddDiagonal(l.Noise.Value().Data().F64()[:1])
}

// ApplyConstraints clips the noise to its lower bound.
func (l *GaussianLikelihood) ApplyConstraints() {
	l.Noise.Value().(mat.Matrix).ClipInPlace(l.Constraint.Lower, l.Constraint.Upper)
}

// FixedNoiseLikelihood uses known per-point noise variances.
type FixedNoiseLikelihood struct {
	Noise []float64
}

// NewFixedNoiseLikelihood returns a likelihood with the given variances.
func NewFixedNoiseLikelihood(noise []float64) *FixedNoiseLikelihood {
	return &FixedNoiseLikelihood{Noise: slices.Clone(noise)}
}

// Marginal adds the i-th variance to the i-th diagonal entry; the event size
// must match the number of variances.
func (l *FixedNoiseLikelihood) Marginal(mvn *distribution.MultivariateNormal) (*distribution.MultivariateNormal, error) {
	return mvn.AddDiagonal(l.Noise)
}

// ApplyConstraints does nothing: fixed noise has no hyperparameters.
func (l *FixedNoiseLikelihood) ApplyConstraints() {}
