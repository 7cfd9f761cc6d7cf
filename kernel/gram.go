// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"

	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/mat"
)

var _ ag.AutoGradFunction = &gram{}

// gram assembles an (n x n) matrix from n² scalar nodes in row-major order.
// The output gradient is read as n² row-major values whatever its shape,
// so the result can be reduced with ag.ReduceSum, which hands back a
// column vector, as well as indexed with ag.At.
type gram struct {
	n       int
	entries []mat.Tensor
}

func newGram(entries [][]mat.Tensor) mat.Tensor {
	n := len(entries)
	flat := make([]mat.Tensor, 0, n*n)
	for _, row := range entries {
		flat = append(flat, row...)
	}
	return ag.NewOperator(&gram{n: n, entries: flat}).Run()
}

// Operands returns the list of operands.
func (g *gram) Operands() []mat.Tensor {
	return g.entries
}

// Forward computes the output of the function.
func (g *gram) Forward() (mat.Tensor, error) {
	if g.n == 0 || len(g.entries) != g.n*g.n {
		return nil, fmt.Errorf("kernel: %d entries for a %dx%d matrix", len(g.entries), g.n, g.n)
	}
	data := make([]float64, len(g.entries))
	for i, e := range g.entries {
		data[i] = e.Value().Item().F64()
	}
	return g.entries[0].Value().(mat.Matrix).NewMatrix(mat.WithShape(g.n, g.n), mat.WithBacking(data)), nil
}

// Backward computes the backward pass.
func (g *gram) Backward(gy mat.Tensor) error {
	if gy.Size() != len(g.entries) {
		return fmt.Errorf("kernel: gradient of size %d for a %dx%d matrix", gy.Size(), g.n, g.n)
	}
	grads := gy.Data().F64()
	for i, e := range g.entries {
		if !e.RequiresGrad() {
			continue
		}
		e.AccGrad(e.Value().(mat.Matrix).NewScalar(grads[i]))
	}
	return nil
}

var _ ag.AutoGradFunction = &scaled{}

// scaled multiplies a matrix by a scalar node. Like gram, it reads the
// output gradient as row-major values whatever its shape.
type scaled struct {
	x mat.Tensor
	s mat.Tensor
}

func newScaled(x, s mat.Tensor) mat.Tensor {
	return ag.NewOperator(&scaled{x: x, s: s}).Run()
}

// Operands returns the list of operands.
func (f *scaled) Operands() []mat.Tensor {
	return []mat.Tensor{f.x, f.s}
}

// Forward computes the output of the function.
func (f *scaled) Forward() (mat.Tensor, error) {
	return f.x.Value().(mat.Matrix).ProdScalar(f.s.Value().Item().F64()), nil
}

// Backward computes the backward pass.
func (f *scaled) Backward(gy mat.Tensor) error {
	xv := f.x.Value().(mat.Matrix)
	if gy.Size() != xv.Size() {
		return fmt.Errorf("kernel: gradient of size %d for a matrix of size %d", gy.Size(), xv.Size())
	}
	g := gy.(mat.Matrix).Reshape(xv.Shape()...)
	if f.x.RequiresGrad() {
		f.x.AccGrad(g.ProdScalar(f.s.Value().Item().F64()))
	}
	if f.s.RequiresGrad() {
		f.s.AccGrad(g.Prod(xv).Sum())
	}
	return nil
}
