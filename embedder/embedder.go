// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package embedder turns per-context categorical features, and optional
// precomputed continuous features, into one dense embedding per context.
package embedder

import (
	"encoding/gob"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/float"
	"github.com/nlpodyssey/spago/nn"
	"github.com/rs/zerolog/log"
)

var (
	// ErrEmbeddingDims is returned when the number of embedding sizes does
	// not match the number of categorical columns.
	ErrEmbeddingDims = errors.New("embedding dimensions do not match categorical columns")
	// ErrCategoricalFeature is returned for malformed categorical features.
	ErrCategoricalFeature = errors.New("invalid categorical feature")
	// ErrEmbeddingFeature is returned for malformed continuous features.
	ErrEmbeddingFeature = errors.New("invalid continuous embedding feature")
)

// DefaultMaxNorm is the norm bound applied to every embedding row.
const DefaultMaxNorm = 1.0

// Config holds the embedder construction parameters.
type Config struct {
	// Categorical has one row per context and one column per categorical
	// variable. Values of column i must lie in [0, cardinality_i), where the
	// cardinality is the number of distinct values in the column.
	Categorical [][]int
	// Dims is the embedding size of each categorical column.
	// If nil, every column gets size 1.
	Dims []int
	// Continuous optionally holds one row of precomputed features per context.
	Continuous [][]float64
	// MaxNorm bounds the embedding rows. Zero means DefaultMaxNorm.
	MaxNorm float64
	Seed    uint64
}

// Model embeds every context.
type Model struct {
	nn.Module
	Tables      []*Table
	Categorical [][]int
	// Continuous is a (contexts x m) constant matrix, or nil.
	Continuous mat.Tensor
	// NumContinuous is m, the number of continuous columns.
	NumContinuous int
}

func init() {
	gob.Register(&Model{})
}

// New validates the configuration and builds one table per categorical column.
func New[T float.DType](c Config) (*Model, error) {
	numContexts := len(c.Categorical)
	if numContexts == 0 {
		return nil, fmt.Errorf("%w: no contexts", ErrCategoricalFeature)
	}
	numCols := len(c.Categorical[0])
	for i, row := range c.Categorical {
		if len(row) != numCols {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrCategoricalFeature, i, len(row), numCols)
		}
	}

	dims := c.Dims
	if dims == nil {
		dims = make([]int, numCols)
		for i := range dims {
			dims[i] = 1
		}
	}
	if len(dims) != numCols {
		return nil, fmt.Errorf("%w: %d sizes for %d columns", ErrEmbeddingDims, len(dims), numCols)
	}
	for i, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("%w: column %d has size %d", ErrEmbeddingDims, i, d)
		}
	}

	cards := make([]int, numCols)
	for col := range cards {
		card, err := columnCardinality(c.Categorical, col)
		if err != nil {
			return nil, err
		}
		cards[col] = card
	}

	maxNorm := c.MaxNorm
	if maxNorm == 0 {
		maxNorm = DefaultMaxNorm
	}
	rng := rand.New(rand.NewPCG(c.Seed, c.Seed))
	tables := make([]*Table, numCols)
	for i := range tables {
		tables[i] = NewTable[T](cards[i], dims[i], maxNorm, rng)
	}

	m := &Model{
		Tables:      tables,
		Categorical: cloneRows(c.Categorical),
	}
	if c.Continuous != nil {
		cont, width, err := continuousMatrix[T](c.Continuous, numContexts)
		if err != nil {
			return nil, err
		}
		m.Continuous, m.NumContinuous = cont, width
	}

	log.Debug().Ints("cardinalities", cards).Ints("dims", dims).Int("continuous", m.NumContinuous).Msg("context embedder ready")
	return m, nil
}

// NumContexts returns the number of embedded contexts.
func (m *Model) NumContexts() int {
	return len(m.Categorical)
}

// Width returns the size of each context embedding.
func (m *Model) Width() int {
	w := m.NumContinuous
	for _, t := range m.Tables {
		w += t.Dim
	}
	return w
}

// Forward returns the embedding of every context, in context order. Each one
// is a (Width x 1) column vector concatenating its per-column lookups and
// then its continuous features.
func (m *Model) Forward() ([]mat.Tensor, error) {
	out := make([]mat.Tensor, len(m.Categorical))
	for i, row := range m.Categorical {
		parts := make([]mat.Tensor, 0, len(m.Tables)+1)
		for col, t := range m.Tables {
			e, err := t.Lookup(row[col])
			if err != nil {
				return nil, fmt.Errorf("context %d, column %d: %w", i, col, err)
			}
			parts = append(parts, e)
		}
		if m.Continuous != nil {
			parts = append(parts, ag.T(ag.RowView(m.Continuous, i)))
		}
		out[i] = ag.Concat(parts...)
	}
	return out, nil
}

// Matrix returns the (contexts x Width) embedding values.
func (m *Model) Matrix() ([][]float64, error) {
	xs, err := m.Forward()
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(xs))
	for i, x := range xs {
		out[i] = append([]float64(nil), x.Value().Data().F64()...)
	}
	return out, nil
}

// columnCardinality returns the number of distinct values of a column,
// checking that every value addresses a row of a table that size.
func columnCardinality(rows [][]int, col int) (int, error) {
	seen := make(map[int]struct{})
	for _, r := range rows {
		seen[r[col]] = struct{}{}
	}
	card := len(seen)
	for i, r := range rows {
		if v := r[col]; v < 0 || v >= card {
			return 0, fmt.Errorf("%w: value %d at row %d, column %d outside [0, %d)", ErrCategoricalFeature, v, i, col, card)
		}
	}
	return card, nil
}

func continuousMatrix[T float.DType](rows [][]float64, numContexts int) (mat.Tensor, int, error) {
	if len(rows) != numContexts {
		return nil, 0, fmt.Errorf("%w: %d rows for %d contexts", ErrEmbeddingFeature, len(rows), numContexts)
	}
	width := len(rows[0])
	for i, r := range rows {
		if len(r) != width {
			return nil, 0, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrEmbeddingFeature, i, len(r), width)
		}
	}
	if width == 0 {
		return nil, 0, nil
	}
	data := make([]T, 0, numContexts*width)
	for _, r := range rows {
		for _, v := range r {
			data = append(data, T(v))
		}
	}
	return mat.NewDense[T](mat.WithShape(numContexts, width), mat.WithBacking(data)), width, nil
}

func cloneRows(rows [][]int) [][]int {
	out := make([][]int, len(rows))
	for i, r := range rows {
		out[i] = append([]int(nil), r...)
	}
	return out
}
