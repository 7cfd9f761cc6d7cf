// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transform

import (
	"math"
	"testing"

	"github.com/nlpodyssey/lcem/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FitTransform(t *testing.T) {
	x, err := tensor.FromRows([][]float64{
		{0, 10, 0},
		{2, 20, 1},
		{4, 30, 2},
	})
	require.NoError(t, err)

	n, err := NewNormalize([]int{0, 1}, nil, nil)
	require.NoError(t, err)
	_, err = n.Transform(x)
	assert.ErrorIs(t, err, ErrNotFitted)

	require.NoError(t, n.Fit(x))
	assert.Equal(t, []float64{0, 10}, n.Lower)
	assert.Equal(t, []float64{4, 30}, n.Upper)

	out, err := n.Transform(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{
		0, 0, 0,
		0.5, 0.5, 1,
		1, 1, 2,
	}, out.Data())
	assert.Equal(t, 4.0, x.Data()[6], "input must not be modified")
}

func TestNormalize_Errors(t *testing.T) {
	_, err := NewNormalize([]int{0}, []float64{0}, []float64{1, 2})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)

	n, err := NewNormalize([]int{5}, []float64{0}, []float64{1})
	require.NoError(t, err)
	_, err = n.Transform(tensor.Zeros(2, 3))
	assert.ErrorIs(t, err, tensor.ErrIndexOutOfRange)
}

func TestNormalize_ConstantColumn(t *testing.T) {
	x, err := tensor.FromRows([][]float64{{3}, {3}})
	require.NoError(t, err)
	n := &Normalize{}
	require.NoError(t, n.Fit(x))
	out, err := n.Transform(x)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, out.Data())
}

func TestStandardize(t *testing.T) {
	s := &Standardize{}
	y, yvar, err := s.Transform([]float64{1, 2, 3}, []float64{1, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, s.Mean)
	assert.Equal(t, 1.0, s.Stddev)
	assert.Equal(t, []float64{-1, 0, 1}, y)
	assert.Equal(t, []float64{1, 1, 1}, yvar)

	m, v, err := s.Untransform([]float64{0}, []float64{4})
	require.NoError(t, err)
	assert.Equal(t, []float64{2}, m)
	assert.Equal(t, []float64{4}, v)

	_, _, err = s.Transform([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestStandardize_ScalesVariance(t *testing.T) {
	s := &Standardize{}
	_, yvar, err := s.Transform([]float64{0, 4}, []float64{8, 8})
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(8), s.Stddev, 1e-12)
	assert.InDelta(t, 1.0, yvar[0], 1e-12)
}

func TestStandardize_DegenerateSpread(t *testing.T) {
	testCases := []struct {
		name string
		y    []float64
		mean float64
	}{
		{"single outcome", []float64{3}, 3},
		{"constant outcomes", []float64{2, 2, 2}, 2},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Standardize{}
			y, _, err := s.Transform(tc.y, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.mean, s.Mean)
			assert.Equal(t, 1.0, s.Stddev)
			for _, v := range y {
				assert.Equal(t, 0.0, v)
			}
		})
	}
}
