// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trainCSV = `x1,y,x2,task,yvar
0.1,1.0,0.5,0,0.01
0.2,0.5,0.1,1,0.02
0.8,-0.2,0.3,2,0.01
`

func TestRead(t *testing.T) {
	ds, err := Read(strings.NewReader(trainCSV), Columns{Target: "y", Yvar: "yvar"})
	require.NoError(t, err)

	assert.Equal(t, []string{"x1", "x2", "task"}, ds.Features)
	assert.Equal(t, [][]float64{
		{0.1, 0.5, 0},
		{0.2, 0.1, 1},
		{0.8, 0.3, 2},
	}, ds.X)
	assert.Equal(t, []float64{1.0, 0.5, -0.2}, ds.Y)
	assert.Equal(t, []float64{0.01, 0.02, 0.01}, ds.Yvar)
}

func TestRead_InputsOnly(t *testing.T) {
	ds, err := Read(strings.NewReader("a,b\n1,2\n3,4\n"), Columns{})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, ds.X)
	assert.Nil(t, ds.Y)
	assert.Nil(t, ds.Yvar)
}

func TestRead_Errors(t *testing.T) {
	testCases := []struct {
		name string
		csv  string
		cols Columns
	}{
		{"missing target", "a,b\n1,2\n", Columns{Target: "y"}},
		{"missing value", "a,y\n1,\n2,3\n", Columns{Target: "y"}},
		{"not numeric", "a,y\nfoo,1\n", Columns{Target: "y"}},
		{"no features", "y\n1\n", Columns{Target: "y"}},
		{"same column", "a,y\n1,2\n", Columns{Target: "y", Yvar: "y"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tc.csv), tc.cols)
			assert.ErrorIs(t, err, ErrColumn)
		})
	}

	_, err := Read(strings.NewReader("a,b\n"), Columns{})
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "train.csv")
	require.NoError(t, os.WriteFile(filename, []byte(trainCSV), 0o644))

	ds, err := Load(filename, Columns{Target: "y"})
	require.NoError(t, err)
	assert.Len(t, ds.X, 3)
	assert.Equal(t, []string{"x1", "x2", "task", "yvar"}, ds.Features)

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"), Columns{})
	assert.Error(t, err)
}
