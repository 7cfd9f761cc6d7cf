// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package taskcovar computes the covariance between contexts from their
// embeddings and restricts it to batches of task indices.
package taskcovar

import (
	"encoding/gob"
	"fmt"

	"github.com/nlpodyssey/lcem/embedder"
	"github.com/nlpodyssey/lcem/kernel"
	"github.com/nlpodyssey/lcem/tensor"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/nn"
	"github.com/rs/zerolog/log"
)

// Engine applies a kernel to the embeddings of all contexts.
type Engine struct {
	nn.Module
	Embedder *embedder.Model
	Kernel   kernel.Kernel
}

func init() {
	gob.Register(&Engine{})
}

// New returns a new Engine.
func New(e *embedder.Model, k kernel.Kernel) *Engine {
	return &Engine{
		Embedder: e,
		Kernel:   k,
	}
}

// ContextCovariance returns the (contexts x contexts) covariance as a graph
// node, so that gradients can flow back to the embeddings and the kernel.
func (e *Engine) ContextCovariance() (mat.Tensor, error) {
	embs, err := e.Embedder.Forward()
	if err != nil {
		return nil, fmt.Errorf("failed to embed contexts: %w", err)
	}
	return e.Kernel.Forward(embs...), nil
}

// EvalContextCovar returns the dense (contexts x contexts) covariance.
// It is recomputed on every call.
func (e *Engine) EvalContextCovar() (*tensor.Dense, error) {
	c, err := e.ContextCovariance()
	if err != nil {
		return nil, err
	}
	n := e.Embedder.NumContexts()
	data := append([]float64(nil), c.Value().Data().F64()...)
	return tensor.NewDense(tensor.Shape{n, n}, data)
}

// TaskCovarMatrix returns the covariance of the tasks in taskIdcs, which has
// shape (..., n, 1). The result has shape (..., n, n) and its entry
// [..., i, j] is the context covariance between taskIdcs[..., i] and
// taskIdcs[..., j].
func (e *Engine) TaskCovarMatrix(taskIdcs *tensor.Index) (*tensor.Dense, error) {
	covar, err := e.EvalContextCovar()
	if err != nil {
		return nil, err
	}
	return IndexCovariance(covar, taskIdcs)
}

// IndexCovariance restricts the (contexts x contexts) matrix covar to the
// tasks in taskIdcs, for every batch element at once.
//
// The rows of the tasks are selected first, giving (..., n, contexts).
// Transposing turns them into columns, and gathering along the contexts
// axis with the index expanded to (..., n, n) picks the rows again.
// The result is symmetric when covar is.
func IndexCovariance(covar *tensor.Dense, taskIdcs *tensor.Index) (*tensor.Dense, error) {
	rank := taskIdcs.Rank()
	if rank < 2 {
		return nil, fmt.Errorf("%w: task indices must have shape (..., n, 1), got %v", tensor.ErrShapeMismatch, taskIdcs.Shape())
	}
	base, err := taskIdcs.Squeeze(-1)
	if err != nil {
		return nil, fmt.Errorf("task indices must have shape (..., n, 1): %w", err)
	}
	rows, err := tensor.SelectRows(covar, base)
	if err != nil {
		return nil, fmt.Errorf("failed to select task rows: %w", err)
	}
	cols, err := rows.TransposeLast()
	if err != nil {
		return nil, err
	}

	shape := make(tensor.Shape, rank)
	for i := range shape {
		shape[i] = -1
	}
	shape[rank-1] = taskIdcs.Shape()[rank-2]
	expanded, err := taskIdcs.Expand(shape)
	if err != nil {
		return nil, err
	}

	out, err := cols.Gather(-2, expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to gather task columns: %w", err)
	}
	log.Trace().Interface("shape", out.Shape()).Msg("task covariance")
	return out, nil
}

// DoubleIndex computes the same result as IndexCovariance by indexing covar
// twice for each batch element in turn.
func DoubleIndex(covar *tensor.Dense, taskIdcs *tensor.Index) (*tensor.Dense, error) {
	shape := taskIdcs.Shape()
	rank := len(shape)
	if rank < 2 || shape[rank-1] != 1 {
		return nil, fmt.Errorf("%w: task indices must have shape (..., n, 1), got %v", tensor.ErrShapeMismatch, shape)
	}
	cm, err := covar.Matrices()
	if err != nil {
		return nil, err
	}
	c := cm[0]

	n := shape[rank-2]
	outShape := append(shape[:rank-1:rank-1], n)
	out := tensor.Zeros(outShape...)
	blocks, err := out.Matrices()
	if err != nil {
		return nil, err
	}
	idx := taskIdcs.Data()
	for b, block := range blocks {
		batch := idx[b*n : (b+1)*n]
		for i, ti := range batch {
			for j, tj := range batch {
				if ti < 0 || ti >= len(c) || tj < 0 || tj >= len(c) {
					return nil, fmt.Errorf("%w: task %d or %d for %d contexts", tensor.ErrIndexOutOfRange, ti, tj, len(c))
				}
				block[i][j] = c[ti][tj]
			}
		}
	}
	return out, nil
}
