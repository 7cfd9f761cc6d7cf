// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcem

import (
	"math"
	"testing"

	"github.com/nlpodyssey/lcem/kernel"
	"github.com/nlpodyssey/lcem/multitask"
	"github.com/nlpodyssey/lcem/taskcovar"
	"github.com/nlpodyssey/lcem/tensor"
	"github.com/nlpodyssey/lcem/transform"
	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainingOptions() Options {
	return Options{
		TrainX: [][]float64{
			{0.1, 0.5, 0},
			{0.2, 0.1, 1},
			{0.8, 0.3, 2},
			{0.4, 0.9, 0},
			{0.6, 0.7, 1},
			{0.9, 0.2, 2},
		},
		TrainY:      []float64{1.0, 0.5, -0.2, 0.8, 0.1, -0.5},
		TaskFeature: -1,
		Seed:        1,
	}
}

func TestNew_Defaults(t *testing.T) {
	m, err := New(trainingOptions())
	require.NoError(t, err)

	assert.Equal(t, 2, m.Config.TaskFeature)
	assert.Equal(t, 3, m.Config.NumFeatures)
	assert.Equal(t, []int{0, 1, 2}, m.AllTasks())
	assert.Equal(t, []int{0, 1, 2}, m.OutputTasks())
	assert.Equal(t, 3, m.NumOutputs())
	assert.Equal(t, [][]int{{0}, {1}, {2}}, m.Config.ContextCatFeature)
	assert.Equal(t, []int{1}, m.Config.EmbsDimList)
	assert.True(t, m.Training())
	assert.IsType(t, &multitask.GaussianLikelihood{}, m.Likelihood)

	rbf, ok := m.TaskCovar.Kernel.(*kernel.RBF)
	require.True(t, ok)
	assert.Equal(t, []float64{TaskLengthscaleInitial}, rbf.Lengthscale.Value().Data().F64())
	assert.Equal(t, kernel.Interval{Lower: 0, Upper: 2}, rbf.Constraint)
}

func TestNew_EmbeddingWidth(t *testing.T) {
	o := trainingOptions()
	o.AllTasks = []int{0, 1, 2, 3}
	o.ContextCatFeature = [][]int{{0, 0}, {1, 1}, {2, 2}, {0, 3}}
	o.EmbsDimList = []int{2, 1}
	m, err := New(o)
	require.NoError(t, err)

	embs, err := m.TaskEmbeddings()
	require.NoError(t, err)
	require.Len(t, embs, 4)
	for _, e := range embs {
		assert.Len(t, e, 3)
	}
}

func TestNew_ContinuousFeatures(t *testing.T) {
	o := trainingOptions()
	o.ContextEmbFeature = [][]float64{{0.1, 0.2}, {0.3, 0.4}, {0.5, 0.6}}
	m, err := New(o)
	require.NoError(t, err)

	embs, err := m.TaskEmbeddings()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.3, 0.4}, embs[1][1:])
	assert.Equal(t, 3, m.TaskCovar.Kernel.(*kernel.RBF).Lengthscale.Value().Size())
}

func TestNew_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(o *Options)
		want   error
	}{
		{"embedding dims", func(o *Options) { o.EmbsDimList = []int{1, 1} }, ErrEmbeddingDims},
		{"categorical rows", func(o *Options) { o.ContextCatFeature = [][]int{{0}, {1}} }, ErrCategoricalFeature},
		{"continuous rows", func(o *Options) { o.ContextEmbFeature = [][]float64{{1}} }, ErrEmbeddingFeature},
		{"outcomes", func(o *Options) { o.TrainY = o.TrainY[1:] }, multitask.ErrInvalidTrainingData},
		{"task feature", func(o *Options) { o.TaskFeature = 3 }, multitask.ErrInvalidTrainingData},
		{"non integral task", func(o *Options) { o.TrainX[0][2] = 0.5 }, multitask.ErrInvalidTasks},
		{"output tasks", func(o *Options) { o.OutputTasks = []int{7} }, multitask.ErrInvalidTasks},
		{"all tasks", func(o *Options) { o.AllTasks = []int{0, 1} }, multitask.ErrInvalidTasks},
		{"non contiguous tasks", func(o *Options) { o.AllTasks = []int{0, 1, 2, 4} }, multitask.ErrInvalidTasks},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := trainingOptions()
			tc.modify(&o)
			m, err := New(o)
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, m)
		})
	}
}

func TestNew_UnobservedTasks(t *testing.T) {
	o := trainingOptions()
	o.AllTasks = []int{3, 1, 0, 2, 1}
	m, err := New(o)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, m.AllTasks())

	c, err := m.EvalContextCovar()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 4}, c.Shape())
}

func TestModel_EvalContextCovar(t *testing.T) {
	m, err := New(trainingOptions())
	require.NoError(t, err)

	c, err := m.EvalContextCovar()
	require.NoError(t, err)
	blocks, err := c.Matrices()
	require.NoError(t, err)
	cm := blocks[0]
	require.Len(t, cm, 3)
	for i := range cm {
		assert.GreaterOrEqual(t, cm[i][i], 0.0)
		for j := range cm {
			assert.Equal(t, cm[i][j], cm[j][i])
		}
	}
}

func TestModel_TaskCovarMatrix(t *testing.T) {
	m, err := New(trainingOptions())
	require.NoError(t, err)
	full, err := m.EvalContextCovar()
	require.NoError(t, err)

	idx, err := tensor.NewIndex(tensor.Shape{1, 2, 1}, []int{0, 1})
	require.NoError(t, err)
	got, err := m.TaskCovarMatrix(idx)
	require.NoError(t, err)
	want, err := taskcovar.DoubleIndex(full, idx)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 2}, got.Shape())
	assert.Equal(t, want.Data(), got.Data())

	_, err = m.TaskCovarMatrix(tensor.Column(0, 3))
	assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
}

func TestModel_Forward(t *testing.T) {
	m, err := New(trainingOptions())
	require.NoError(t, err)
	m.Eval()

	x, err := tensor.NewDense(tensor.Shape{2, 3, 3}, []float64{
		0.1, 0.2, 0,
		0.3, 0.4, 1,
		0.5, 0.6, 2,

		0.2, 0.2, 2,
		0.2, 0.2, 2,
		0.7, 0.1, 0,
	})
	require.NoError(t, err)

	mvn, err := m.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, mvn.Mean.Shape())
	assert.Equal(t, tensor.Shape{2, 3, 3}, mvn.Covariance.Shape())
	for _, v := range mvn.Mean.Data() {
		assert.Equal(t, 0.0, v)
	}

	basic, idx, err := multitask.SplitInputs(x, 2)
	require.NoError(t, err)
	covarX, err := multitask.EvalKernel(m.Covar, basic)
	require.NoError(t, err)
	covarI, err := m.TaskCovarMatrix(idx)
	require.NoError(t, err)
	want, err := covarX.Mul(covarI)
	require.NoError(t, err)
	assert.Equal(t, want.Data(), mvn.Covariance.Data())

	_, err = m.Forward(tensor.Zeros(3, 2))
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestModel_ForwardAppliesInputTransformInTraining(t *testing.T) {
	o := trainingOptions()
	norm := &transform.Normalize{}
	o.InputTransform = norm
	m, err := New(o)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, norm.Indices)

	x, err := tensor.FromRows([][]float64{{0.1, 0.5, 0}, {0.9, 0.2, 1}})
	require.NoError(t, err)

	m.Train()
	trained, err := m.Forward(x)
	require.NoError(t, err)
	m.Eval()
	evaluated, err := m.Forward(x)
	require.NoError(t, err)

	normalized, err := norm.Transform(x)
	require.NoError(t, err)
	direct, err := m.Forward(normalized)
	require.NoError(t, err)

	assert.Equal(t, direct.Covariance.Data(), trained.Covariance.Data())
	assert.NotEqual(t, evaluated.Covariance.Data(), trained.Covariance.Data())
}

func TestNew_NormalizeTaskColumn(t *testing.T) {
	o := trainingOptions()
	norm, err := transform.NewNormalize([]int{0, 2}, nil, nil)
	require.NoError(t, err)
	o.InputTransform = norm

	m, err := New(o)
	assert.ErrorIs(t, err, multitask.ErrInvalidTasks)
	assert.Nil(t, m)
	assert.False(t, norm.Fitted())
}

func TestModel_LogMarginalLikelihood(t *testing.T) {
	o := trainingOptions()
	o.OutcomeTransform = &transform.Standardize{}
	m, err := New(o)
	require.NoError(t, err)
	m.Eval()

	mll, err := m.LogMarginalLikelihood()
	require.NoError(t, err)
	assert.False(t, math.IsNaN(mll))
	assert.False(t, math.IsInf(mll, 0))
	assert.False(t, m.Training())

	restored, err := FromSnapshot(m.Snapshot())
	require.NoError(t, err)
	_, err = restored.LogMarginalLikelihood()
	assert.ErrorIs(t, err, ErrNoTrainingData)
}

func TestModel_ApplyConstraints(t *testing.T) {
	m, err := New(trainingOptions())
	require.NoError(t, err)
	rbf := m.TaskCovar.Kernel.(*kernel.RBF)
	rbf.Lengthscale.ReplaceValue(mat.NewDense[float64](mat.WithShape(1), mat.WithBacking([]float64{3.5})))

	m.ApplyConstraints()
	assert.Equal(t, []float64{TaskLengthscaleUpper}, rbf.Lengthscale.Value().Data().F64())
}

func TestModel_ContextCovarianceBackward(t *testing.T) {
	o := trainingOptions()
	o.AllTasks = []int{0, 1, 2, 3}
	o.ContextCatFeature = [][]int{{0, 0}, {1, 1}, {2, 2}, {0, 3}}
	o.EmbsDimList = []int{2, 1}
	m, err := New(o)
	require.NoError(t, err)

	// two tables, the task length-scale, the mean constant, the data
	// kernel output-scale and length-scale, and the noise
	var params []*nn.Param
	nn.ForEachParam(m, func(p *nn.Param) {
		params = append(params, p)
	})
	assert.Len(t, params, 7)

	covar, err := m.TaskCovar.ContextCovariance()
	require.NoError(t, err)
	require.NoError(t, ag.Backward(ag.ReduceSum(covar)))

	for i, table := range m.TaskCovar.Embedder.Tables {
		require.Truef(t, table.Weight.HasGrad(), "table %d", i)
		for _, g := range table.Weight.Grad().Data().F64() {
			assert.False(t, math.IsNaN(g) || math.IsInf(g, 0))
		}
	}
	lengthscale := m.TaskCovar.Kernel.(*kernel.RBF).Lengthscale
	require.True(t, lengthscale.HasGrad())
	grads := lengthscale.Grad().Data().F64()
	assert.Len(t, grads, 3)
	for _, g := range grads {
		assert.False(t, math.IsNaN(g))
	}
}
