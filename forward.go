// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcem

import (
	"errors"
	"fmt"

	"github.com/nlpodyssey/lcem/distribution"
	"github.com/nlpodyssey/lcem/multitask"
	"github.com/nlpodyssey/lcem/tensor"
	"github.com/rs/zerolog/log"
)

// ErrNoTrainingData is returned by operations that need the training data
// of a model rebuilt from its Config.
var ErrNoTrainingData = errors.New("model has no training data")

// TaskEmbeddings returns the (contexts x width) embedding of every context.
func (m *Model) TaskEmbeddings() ([][]float64, error) {
	return m.TaskCovar.Embedder.Matrix()
}

// EvalContextCovar returns the (contexts x contexts) task covariance.
// It is recomputed on every call.
func (m *Model) EvalContextCovar() (*tensor.Dense, error) {
	return m.TaskCovar.EvalContextCovar()
}

// TaskCovarMatrix returns the task covariance of the task indices of shape
// (..., n, 1), with shape (..., n, n).
func (m *Model) TaskCovarMatrix(taskIdcs *tensor.Index) (*tensor.Dense, error) {
	return m.TaskCovar.TaskCovarMatrix(taskIdcs)
}

// Forward returns the prior distribution of the latent function at the
// inputs x of shape (..., n, d), whose task column holds context indices.
// In training mode the input transform is applied first.
func (m *Model) Forward(x *tensor.Dense) (*distribution.MultivariateNormal, error) {
	shape := x.Shape()
	if len(shape) < 2 || shape[len(shape)-1] != m.Config.NumFeatures {
		return nil, fmt.Errorf("%w: inputs must have shape (..., n, %d), got %v", tensor.ErrShapeMismatch, m.Config.NumFeatures, shape)
	}
	if m.training && m.InputTransform != nil {
		var err error
		if x, err = m.InputTransform.Transform(x); err != nil {
			return nil, fmt.Errorf("failed to transform inputs: %w", err)
		}
	}

	basic, taskIdcs, err := multitask.SplitInputs(x, m.Config.TaskFeature)
	if err != nil {
		return nil, err
	}
	mean, err := m.Mean.Forward(basic)
	if err != nil {
		return nil, err
	}
	covarX, err := multitask.EvalKernel(m.Covar, basic)
	if err != nil {
		return nil, err
	}
	covarI, err := m.TaskCovarMatrix(taskIdcs)
	if err != nil {
		return nil, fmt.Errorf("failed to compute task covariance: %w", err)
	}
	covar, err := covarX.Mul(covarI)
	if err != nil {
		return nil, err
	}

	log.Trace().Interface("shape", shape).Bool("training", m.training).Msg("forward")
	return distribution.New(mean, covar)
}

// Marginal returns the distribution of noisy observations at x.
func (m *Model) Marginal(x *tensor.Dense) (*distribution.MultivariateNormal, error) {
	mvn, err := m.Forward(x)
	if err != nil {
		return nil, err
	}
	return m.Likelihood.Marginal(mvn)
}

// LogMarginalLikelihood returns the log density of the training outcomes
// under the marginal distribution at the training inputs, divided by the
// number of points. The model is evaluated in training mode.
func (m *Model) LogMarginalLikelihood() (float64, error) {
	if m.TrainX == nil {
		return 0, ErrNoTrainingData
	}
	training := m.training
	m.Train()
	defer func() { m.training = training }()

	mvn, err := m.Marginal(m.TrainX)
	if err != nil {
		return 0, err
	}
	lp, err := mvn.LogProb(0, m.TrainY)
	if err != nil {
		return 0, err
	}
	return lp / float64(len(m.TrainY)), nil
}
