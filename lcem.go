// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lcem implements the multi-task Gaussian process with latent
// context embeddings (LCE-M): the covariance between tasks is a kernel over
// learned embeddings of per-context categorical features.
package lcem

import (
	"fmt"
	"slices"

	"github.com/nlpodyssey/lcem/embedder"
	"github.com/nlpodyssey/lcem/kernel"
	"github.com/nlpodyssey/lcem/multitask"
	"github.com/nlpodyssey/lcem/taskcovar"
	"github.com/nlpodyssey/lcem/tensor"
	"github.com/nlpodyssey/lcem/transform"
	"github.com/nlpodyssey/spago/nn"
	"github.com/rs/zerolog/log"
)

var (
	// ErrEmbeddingDims is returned when EmbsDimList does not have one entry
	// per categorical column.
	ErrEmbeddingDims = embedder.ErrEmbeddingDims
	// ErrCategoricalFeature is returned for malformed context categorical features.
	ErrCategoricalFeature = embedder.ErrCategoricalFeature
	// ErrEmbeddingFeature is returned for malformed continuous context features.
	ErrEmbeddingFeature = embedder.ErrEmbeddingFeature
)

// The task kernel length-scales live in [TaskLengthscaleLower, TaskLengthscaleUpper].
const (
	TaskLengthscaleLower   = 0.0
	TaskLengthscaleUpper   = 2.0
	TaskLengthscaleInitial = 1.0
)

// Options are the construction parameters of a Model.
type Options struct {
	// TrainX is the (n x d) training input, one column holding task indices.
	TrainX [][]float64
	// TrainY holds the n training outcomes.
	TrainY []float64
	// TaskFeature is the column of TrainX with the task indices.
	// Negative values count from the end.
	TaskFeature int
	// TrainYvar optionally holds the observed noise variance of each outcome.
	// When nil the noise is inferred, common across tasks.
	TrainYvar []float64
	// ContextCatFeature is the (contexts x k) categorical matrix, rows ordered
	// by context index. If nil, the task indices are used and k = 1.
	ContextCatFeature [][]int
	// ContextEmbFeature is an optional (contexts x m) matrix of precomputed
	// continuous embeddings.
	ContextEmbFeature [][]float64
	// EmbsDimList is the embedding size of each categorical column.
	// If nil, every column gets size 1.
	EmbsDimList []int
	// OutputTasks are the tasks to predict. If nil, all tasks.
	OutputTasks []int
	// AllTasks optionally lists every task, including some never observed in
	// TrainX. The covariance of unobserved tasks depends on the random
	// initialization of their embeddings.
	AllTasks         []int
	InputTransform   transform.InputTransform
	OutcomeTransform transform.OutcomeTransform
	// Seed drives the initialization of the embedding tables.
	Seed uint64
}

// Config is the serializable description of a Model, enough to rebuild it
// without training data.
type Config struct {
	NumFeatures       int         `json:"num_features" yaml:"num_features"`
	TaskFeature       int         `json:"task_feature" yaml:"task_feature"`
	AllTasks          []int       `json:"all_tasks" yaml:"all_tasks"`
	OutputTasks       []int       `json:"output_tasks" yaml:"output_tasks"`
	ContextCatFeature [][]int     `json:"context_cat_feature" yaml:"context_cat_feature"`
	ContextEmbFeature [][]float64 `json:"context_emb_feature,omitempty" yaml:"context_emb_feature,omitempty"`
	EmbsDimList       []int       `json:"embs_dim_list" yaml:"embs_dim_list"`
	// FixedNoise holds the observed noise variances, if any.
	FixedNoise []float64 `json:"fixed_noise,omitempty" yaml:"fixed_noise,omitempty"`
	Seed       uint64    `json:"seed" yaml:"seed"`
}

// Model is the LCE-M multi-task Gaussian process.
type Model struct {
	nn.Module
	Mean       *multitask.ConstantMean
	Covar      *kernel.Scale
	TaskCovar  *taskcovar.Engine
	Likelihood multitask.Likelihood
	Config     Config

	InputTransform   transform.InputTransform
	OutcomeTransform transform.OutcomeTransform
	// TrainX and TrainY are nil for models rebuilt from a Config.
	TrainX *tensor.Dense
	TrainY []float64

	training bool
}

// New validates the options and returns a new Model in training mode.
// No model is returned on error.
func New(o Options) (*Model, error) {
	if err := multitask.ValidateTrainingData(o.TrainX, o.TrainY, o.TrainYvar); err != nil {
		return nil, err
	}
	d := len(o.TrainX[0])
	taskFeature, err := multitask.TaskFeature(o.TaskFeature, d)
	if err != nil {
		return nil, err
	}
	trainX, err := tensor.FromRows(o.TrainX)
	if err != nil {
		return nil, err
	}

	if err := prepareInputTransform(o.InputTransform, trainX, taskFeature); err != nil {
		return nil, fmt.Errorf("failed to prepare input transform: %w", err)
	}

	observed, err := multitask.InferTasks(o.TrainX, taskFeature)
	if err != nil {
		return nil, err
	}
	allTasks := observed
	if o.AllTasks != nil {
		allTasks = multitask.NormalizeTasks(o.AllTasks)
		for _, t := range observed {
			if _, found := slices.BinarySearch(allTasks, t); !found {
				return nil, fmt.Errorf("%w: observed task %d missing from all tasks %v", multitask.ErrInvalidTasks, t, allTasks)
			}
		}
		if len(allTasks) > len(observed) {
			log.Warn().Ints("all_tasks", allTasks).Ints("observed", observed).Msg("some tasks are not observed in the training data")
		}
	}
	outputTasks, err := multitask.OutputTasks(o.OutputTasks, allTasks)
	if err != nil {
		return nil, err
	}

	trainY, trainYvar := o.TrainY, o.TrainYvar
	if o.OutcomeTransform != nil {
		trainY, trainYvar, err = o.OutcomeTransform.Transform(trainY, trainYvar)
		if err != nil {
			return nil, fmt.Errorf("failed to transform outcomes: %w", err)
		}
	}

	m, err := build(Config{
		NumFeatures:       d,
		TaskFeature:       taskFeature,
		AllTasks:          allTasks,
		OutputTasks:       outputTasks,
		ContextCatFeature: o.ContextCatFeature,
		ContextEmbFeature: o.ContextEmbFeature,
		EmbsDimList:       o.EmbsDimList,
		FixedNoise:        slices.Clone(trainYvar),
		Seed:              o.Seed,
	})
	if err != nil {
		return nil, err
	}
	m.InputTransform = o.InputTransform
	m.OutcomeTransform = o.OutcomeTransform
	m.TrainX = trainX
	m.TrainY = slices.Clone(trainY)
	return m, nil
}

// NewFromConfig rebuilds an untrained Model from its description.
func NewFromConfig(c Config) (*Model, error) {
	taskFeature, err := multitask.TaskFeature(c.TaskFeature, c.NumFeatures)
	if err != nil || c.NumFeatures < 2 {
		return nil, fmt.Errorf("%w: task feature %d with %d features", multitask.ErrInvalidTrainingData, c.TaskFeature, c.NumFeatures)
	}
	c.TaskFeature = taskFeature
	c.AllTasks = multitask.NormalizeTasks(c.AllTasks)
	if len(c.AllTasks) == 0 {
		return nil, fmt.Errorf("%w: no tasks", multitask.ErrInvalidTasks)
	}
	if c.OutputTasks, err = multitask.OutputTasks(c.OutputTasks, c.AllTasks); err != nil {
		return nil, err
	}
	return build(c)
}

func build(c Config) (*Model, error) {
	// Task values address the rows of the context covariance directly.
	for i, t := range c.AllTasks {
		if t != i {
			return nil, fmt.Errorf("%w: tasks must be the contiguous indices 0..%d, got %v", multitask.ErrInvalidTasks, len(c.AllTasks)-1, c.AllTasks)
		}
	}
	if c.ContextCatFeature == nil {
		c.ContextCatFeature = make([][]int, len(c.AllTasks))
		for i, t := range c.AllTasks {
			c.ContextCatFeature[i] = []int{t}
		}
	}
	if n := len(c.ContextCatFeature); n != len(c.AllTasks) {
		return nil, fmt.Errorf("%w: %d rows for %d contexts", ErrCategoricalFeature, n, len(c.AllTasks))
	}
	if c.EmbsDimList == nil && len(c.ContextCatFeature) > 0 {
		c.EmbsDimList = make([]int, len(c.ContextCatFeature[0]))
		for i := range c.EmbsDimList {
			c.EmbsDimList[i] = 1
		}
	}

	emb, err := embedder.New[float64](embedder.Config{
		Categorical: c.ContextCatFeature,
		Dims:        c.EmbsDimList,
		Continuous:  c.ContextEmbFeature,
		MaxNorm:     embedder.DefaultMaxNorm,
		Seed:        c.Seed,
	})
	if err != nil {
		return nil, err
	}
	taskKernel := kernel.NewRBF[float64](
		emb.Width(),
		kernel.Interval{Lower: TaskLengthscaleLower, Upper: TaskLengthscaleUpper},
		TaskLengthscaleInitial,
	)

	var likelihood multitask.Likelihood
	if c.FixedNoise != nil {
		likelihood = multitask.NewFixedNoiseLikelihood(c.FixedNoise)
	} else {
		likelihood = multitask.NewGaussianLikelihood[float64](multitask.DefaultNoise)
	}

	log.Debug().
		Int("contexts", emb.NumContexts()).
		Int("embedding_width", emb.Width()).
		Int("features", c.NumFeatures).
		Bool("fixed_noise", c.FixedNoise != nil).
		Msg("LCE-M model ready")

	return &Model{
		Mean:       multitask.NewConstantMean[float64](0),
		Covar:      multitask.NewBaseCovariance[float64](c.NumFeatures - 1),
		TaskCovar:  taskcovar.New(emb, taskKernel),
		Likelihood: likelihood,
		Config:     c,
		training:   true,
	}, nil
}

// prepareInputTransform restricts a Normalize without explicit columns to
// the non-task columns, and learns missing bounds from the training inputs.
// Both are written into the given Normalize, which the model then shares
// with the caller. Explicit columns must leave out the task feature.
func prepareInputTransform(t transform.InputTransform, trainX *tensor.Dense, taskFeature int) error {
	n, ok := t.(*transform.Normalize)
	if !ok {
		return nil
	}
	if slices.Contains(n.Indices, taskFeature) {
		return fmt.Errorf("%w: column %d holds the task feature and cannot be normalized", multitask.ErrInvalidTasks, taskFeature)
	}
	if n.Indices == nil {
		d := trainX.Shape()[1]
		for i := 0; i < d; i++ {
			if i != taskFeature {
				n.Indices = append(n.Indices, i)
			}
		}
	}
	if !n.Fitted() {
		return n.Fit(trainX)
	}
	return nil
}

// Train switches the model to training mode.
func (m *Model) Train() { m.training = true }

// Eval switches the model to evaluation mode.
func (m *Model) Eval() { m.training = false }

// Training reports whether the model is in training mode.
func (m *Model) Training() bool { return m.training }

// AllTasks returns the sorted context indices.
func (m *Model) AllTasks() []int { return slices.Clone(m.Config.AllTasks) }

// OutputTasks returns the tasks the model predicts.
func (m *Model) OutputTasks() []int { return slices.Clone(m.Config.OutputTasks) }

// NumOutputs returns the number of output tasks.
func (m *Model) NumOutputs() int { return len(m.Config.OutputTasks) }

// ApplyConstraints projects every constrained hyperparameter back into its
// feasible set. Optimizers call it after each update.
func (m *Model) ApplyConstraints() {
	m.Covar.ApplyConstraints()
	m.TaskCovar.Kernel.ApplyConstraints()
	m.Likelihood.ApplyConstraints()
}
