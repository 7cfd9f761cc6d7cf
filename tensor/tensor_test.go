// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDense(t *testing.T) {
	_, err := NewDense(Shape{2, 3}, make([]float64, 5))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	d, err := NewDense(Shape{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	v, err := d.At(1, 2)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)

	_, err = d.At(2, 0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestDense_TransposeLast(t *testing.T) {
	d, err := NewDense(Shape{2, 2, 3}, []float64{
		1, 2, 3,
		4, 5, 6,

		7, 8, 9,
		10, 11, 12,
	})
	require.NoError(t, err)

	tr, err := d.TransposeLast()
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3, 2}, tr.Shape())
	assert.Equal(t, []float64{
		1, 4,
		2, 5,
		3, 6,

		7, 10,
		8, 11,
		9, 12,
	}, tr.Data())
}

func TestDense_Gather(t *testing.T) {
	d, err := FromRows([][]float64{
		{10, 20, 30},
		{40, 50, 60},
	})
	require.NoError(t, err)

	t.Run("along rows", func(t *testing.T) {
		idx, err := NewIndex(Shape{2, 3}, []int{1, 0, 1, 0, 0, 1})
		require.NoError(t, err)
		out, err := d.Gather(-2, idx)
		require.NoError(t, err)
		assert.Equal(t, []float64{40, 20, 60, 10, 20, 60}, out.Data())
	})

	t.Run("along columns with a smaller index", func(t *testing.T) {
		idx, err := NewIndex(Shape{2, 1}, []int{2, 0})
		require.NoError(t, err)
		out, err := d.Gather(1, idx)
		require.NoError(t, err)
		assert.Equal(t, Shape{2, 1}, out.Shape())
		assert.Equal(t, []float64{30, 40}, out.Data())
	})

	t.Run("out of range", func(t *testing.T) {
		idx, err := NewIndex(Shape{1, 1}, []int{2})
		require.NoError(t, err)
		_, err = d.Gather(0, idx)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	})

	t.Run("rank mismatch", func(t *testing.T) {
		_, err = d.Gather(0, Column(0).mustSqueeze(t))
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func TestSelectRows(t *testing.T) {
	m, err := FromRows([][]float64{
		{1, 2},
		{3, 4},
		{5, 6},
	})
	require.NoError(t, err)

	idx, err := NewIndex(Shape{2, 2}, []int{2, 0, 1, 1})
	require.NoError(t, err)
	out, err := SelectRows(m, idx)
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 2, 2}, out.Shape())
	assert.Equal(t, []float64{5, 6, 1, 2, 3, 4, 3, 4}, out.Data())

	_, err = SelectRows(m, Column(3))
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestIndex_SqueezeExpand(t *testing.T) {
	x, err := NewIndex(Shape{2, 3, 1}, []int{0, 1, 2, 3, 4, 5})
	require.NoError(t, err)

	sq, err := x.Squeeze(-1)
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3}, sq.Shape())

	_, err = x.Squeeze(0)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	ex, err := x.Expand(Shape{-1, -1, 3})
	require.NoError(t, err)
	assert.Equal(t, Shape{2, 3, 3}, ex.Shape())
	assert.Equal(t, []int{
		0, 0, 0,
		1, 1, 1,
		2, 2, 2,

		3, 3, 3,
		4, 4, 4,
		5, 5, 5,
	}, ex.Data())

	_, err = x.Expand(Shape{2, 4, 1})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	un, err := sq.Unsqueeze(0)
	require.NoError(t, err)
	assert.Equal(t, Shape{1, 2, 3}, un.Shape())
}

func TestDense_Mul(t *testing.T) {
	a, _ := FromRows([][]float64{{1, 2}, {3, 4}})
	b, _ := FromRows([][]float64{{2, 0}, {1, -1}})
	c, err := a.Mul(b)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 3, -4}, c.Data())

	_, err = a.Mul(Zeros(2, 3))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestDense_Matrices(t *testing.T) {
	d := Zeros(2, 3, 2, 2)
	ms, err := d.Matrices()
	require.NoError(t, err)
	assert.Len(t, ms, 6)
	ms[5][1][1] = 7
	v, _ := d.At(1, 2, 1, 1)
	assert.Equal(t, 7.0, v)
	assert.Equal(t, Shape{2, 3}, d.BatchShape())
}

func (x *Index) mustSqueeze(t *testing.T) *Index {
	t.Helper()
	sq, err := x.Squeeze(-1)
	require.NoError(t, err)
	return sq
}
