// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package taskcovar

import (
	"math/rand/v2"
	"testing"

	"github.com/nlpodyssey/lcem/embedder"
	"github.com/nlpodyssey/lcem/kernel"
	"github.com/nlpodyssey/lcem/tensor"
	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, c embedder.Config) *Engine {
	t.Helper()
	e, err := embedder.New[float64](c)
	require.NoError(t, err)
	return New(e, kernel.NewRBF[float64](e.Width(), kernel.Interval{Lower: 0, Upper: 2}, 1.0))
}

func identityContexts(n int) [][]int {
	rows := make([][]int, n)
	for i := range rows {
		rows[i] = []int{i}
	}
	return rows
}

func TestEngine_EvalContextCovar(t *testing.T) {
	e := newEngine(t, embedder.Config{
		Categorical: [][]int{{0, 0}, {1, 1}, {2, 0}, {0, 1}},
		Dims:        []int{2, 1},
		Continuous:  [][]float64{{0.1}, {0.2}, {0.3}, {0.4}},
		Seed:        1,
	})
	c, err := e.EvalContextCovar()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 4}, c.Shape())

	m, err := c.Matrices()
	require.NoError(t, err)
	for i := range m[0] {
		assert.GreaterOrEqual(t, m[0][i][i], 0.0)
		for j := range m[0] {
			assert.Equal(t, m[0][i][j], m[0][j][i])
		}
	}
}

func TestEngine_TaskCovarMatrix_ThreeContexts(t *testing.T) {
	e := newEngine(t, embedder.Config{Categorical: identityContexts(3)})
	full, err := e.EvalContextCovar()
	require.NoError(t, err)

	idx, err := tensor.NewIndex(tensor.Shape{1, 2, 1}, []int{0, 1})
	require.NoError(t, err)
	got, err := e.TaskCovarMatrix(idx)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 2, 2}, got.Shape())

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			want, _ := full.At(i, j)
			v, _ := got.At(0, i, j)
			assert.Equal(t, want, v)
		}
	}
}

func TestIndexCovariance_MatchesDoubleIndex(t *testing.T) {
	e := newEngine(t, embedder.Config{Categorical: identityContexts(5), Dims: []int{2}, Seed: 9})
	full, err := e.EvalContextCovar()
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(1, 2))
	shapes := []tensor.Shape{
		{4, 1},
		{1, 3, 1},
		{2, 4, 1},
		{2, 3, 5, 1},
	}
	for _, shape := range shapes {
		data := make([]int, shape.Size())
		for i := range data {
			data[i] = rng.IntN(5)
		}
		idx, err := tensor.NewIndex(shape, data)
		require.NoError(t, err)

		got, err := IndexCovariance(full, idx)
		require.NoError(t, err)
		want, err := DoubleIndex(full, idx)
		require.NoError(t, err)

		assert.Equal(t, want.Shape(), got.Shape(), "shape %v", shape)
		assert.Equal(t, want.Data(), got.Data(), "shape %v", shape)
	}
}

func TestIndexCovariance_Symmetric(t *testing.T) {
	e := newEngine(t, embedder.Config{Categorical: identityContexts(4), Seed: 2})
	full, err := e.EvalContextCovar()
	require.NoError(t, err)

	idx, err := tensor.NewIndex(tensor.Shape{2, 3, 1}, []int{3, 0, 2, 1, 2, 0})
	require.NoError(t, err)
	got, err := IndexCovariance(full, idx)
	require.NoError(t, err)

	blocks, err := got.Matrices()
	require.NoError(t, err)
	for _, b := range blocks {
		for i := range b {
			for j := range b {
				assert.Equal(t, b[i][j], b[j][i])
			}
		}
	}
}

func TestEngine_TaskCovarMatrix_Idempotent(t *testing.T) {
	e := newEngine(t, embedder.Config{Categorical: identityContexts(3), Seed: 4})
	idx, err := tensor.NewIndex(tensor.Shape{3, 2, 1}, []int{0, 2, 1, 1, 2, 0})
	require.NoError(t, err)

	a, err := e.TaskCovarMatrix(idx)
	require.NoError(t, err)
	b, err := e.TaskCovarMatrix(idx)
	require.NoError(t, err)
	assert.Equal(t, a.Data(), b.Data())
}

func TestIndexCovariance_Errors(t *testing.T) {
	full, err := tensor.FromRows([][]float64{{1, 0.5}, {0.5, 1}})
	require.NoError(t, err)

	t.Run("out of range", func(t *testing.T) {
		_, err := IndexCovariance(full, tensor.Column(0, 2))
		assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
		_, err = DoubleIndex(full, tensor.Column(0, 2))
		assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
	})

	t.Run("negative", func(t *testing.T) {
		_, err := IndexCovariance(full, tensor.Column(-1, 0))
		assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
	})

	t.Run("trailing axis not singleton", func(t *testing.T) {
		idx, err := tensor.NewIndex(tensor.Shape{1, 2}, []int{0, 1})
		require.NoError(t, err)
		_, err = IndexCovariance(full, idx)
		assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	})

	t.Run("rank too low", func(t *testing.T) {
		idx, err := tensor.NewIndex(tensor.Shape{2}, []int{0, 1})
		require.NoError(t, err)
		_, err = IndexCovariance(full, idx)
		assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	})
}

func TestEngine_ContextCovarianceBackward(t *testing.T) {
	e := newEngine(t, embedder.Config{
		Categorical: [][]int{{0, 0}, {1, 1}, {2, 0}},
		Dims:        []int{2, 1},
		Continuous:  [][]float64{{0.5}, {0.1}, {0.2}},
		Seed:        1,
	})

	count := 0
	nn.ForEachParam(e, func(*nn.Param) { count++ })
	assert.Equal(t, 3, count)

	c, err := e.ContextCovariance()
	require.NoError(t, err)
	require.NoError(t, ag.Backward(ag.ReduceSum(c)))

	for _, table := range e.Embedder.Tables {
		assert.True(t, table.Weight.HasGrad())
	}
	rbf := e.Kernel.(*kernel.RBF)
	require.True(t, rbf.Lengthscale.HasGrad())
	assert.Equal(t, 4, rbf.Lengthscale.Grad().Size())
}
