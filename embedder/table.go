// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package embedder

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
)

// normEps is added to a row norm before rescaling it to the max-norm.
const normEps = 1e-7

// Table is a trainable lookup table mapping a category value
// in [0, Cardinality) to a vector of size Dim.
type Table struct {
	nn.Module
	// Weight is a (Cardinality x Dim) matrix.
	Weight      *nn.Param
	Cardinality int
	Dim         int
	// MaxNorm bounds the norm of every looked-up row. Zero disables it.
	MaxNorm float64
}

func init() {
	gob.Register(&Table{})
}

// NewTable returns a new table initialized from N(0, 1).
func NewTable[T float.DType](cardinality, dim int, maxNorm float64, rng *rand.Rand) *Table {
	data := make([]T, cardinality*dim)
	for i := range data {
		data[i] = T(rng.NormFloat64())
	}
	return &Table{
		Weight:      nn.NewParam(mat.NewDense[T](mat.WithShape(cardinality, dim), mat.WithBacking(data))),
		Cardinality: cardinality,
		Dim:         dim,
		MaxNorm:     maxNorm,
	}
}

// Lookup returns the embedding of the given category value as a (Dim x 1)
// column vector. Rows whose norm exceeds MaxNorm are scaled down to it, with
// the scale factor treated as a constant; the stored weights are left
// untouched.
func (t *Table) Lookup(value int) (mat.Tensor, error) {
	if value < 0 || value >= t.Cardinality {
		return nil, fmt.Errorf("%w: category %d, table has %d rows", ErrCategoricalFeature, value, t.Cardinality)
	}
	row := ag.T(ag.RowView(t.Weight, value))
	if t.MaxNorm <= 0 {
		return row, nil
	}
	norm := l2norm(row.Value().Data().F64())
	if norm <= t.MaxNorm {
		return row, nil
	}
	return ag.ProdScalar(row, mat.Scalar(t.MaxNorm/(norm+normEps))), nil
}

func l2norm(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x * x
	}
	return math.Sqrt(sum)
}
