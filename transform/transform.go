// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transform implements input and outcome transforms applied
// around the model.
package transform

import (
	"errors"
	"fmt"
	"math"

	"github.com/nlpodyssey/lcem/tensor"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// minRange is the smallest denominator used when scaling.
const minRange = 1e-8

// ErrNotFitted is returned when a transform is used before its statistics are known.
var ErrNotFitted = errors.New("transform not fitted")

// InputTransform maps model inputs of shape (..., n, d).
type InputTransform interface {
	Transform(x *tensor.Dense) (*tensor.Dense, error)
}

// OutcomeTransform maps training targets and their observed variances.
type OutcomeTransform interface {
	Transform(y, yvar []float64) ([]float64, []float64, error)
}

// Normalize scales the selected columns to the unit cube.
type Normalize struct {
	// Indices are the transformed columns. Nil means every column.
	Indices []int
	Lower   []float64
	Upper   []float64
}

var _ InputTransform = &Normalize{}

// NewNormalize returns a transform over the given columns with known bounds.
// Pass nil bounds to learn them with Fit.
func NewNormalize(indices []int, lower, upper []float64) (*Normalize, error) {
	if len(lower) != len(upper) {
		return nil, fmt.Errorf("%w: %d lower and %d upper bounds", tensor.ErrShapeMismatch, len(lower), len(upper))
	}
	if lower != nil && indices != nil && len(indices) != len(lower) {
		return nil, fmt.Errorf("%w: %d bounds for %d columns", tensor.ErrShapeMismatch, len(lower), len(indices))
	}
	return &Normalize{Indices: indices, Lower: lower, Upper: upper}, nil
}

// Fitted reports whether bounds are available.
func (t *Normalize) Fitted() bool {
	return t.Lower != nil
}

// Fit learns the bounds as the column-wise extrema of x.
func (t *Normalize) Fit(x *tensor.Dense) error {
	cols, err := t.columns(x)
	if err != nil {
		return err
	}
	d := lastAxis(x)
	rows := len(x.Data()) / d
	if rows == 0 {
		return fmt.Errorf("%w: no rows to fit", tensor.ErrShapeMismatch)
	}
	lower := make([]float64, len(cols))
	upper := make([]float64, len(cols))
	column := make([]float64, rows)
	for i, c := range cols {
		for r := range column {
			column[r] = x.Data()[r*d+c]
		}
		lower[i], upper[i] = floats.Min(column), floats.Max(column)
	}
	t.Lower, t.Upper = lower, upper
	return nil
}

// Transform returns a copy of x with the selected columns mapped to [0, 1].
func (t *Normalize) Transform(x *tensor.Dense) (*tensor.Dense, error) {
	if !t.Fitted() {
		return nil, ErrNotFitted
	}
	cols, err := t.columns(x)
	if err != nil {
		return nil, err
	}
	if len(cols) != len(t.Lower) {
		return nil, fmt.Errorf("%w: %d bounds for %d columns", tensor.ErrShapeMismatch, len(t.Lower), len(cols))
	}
	out := x.Clone()
	d := lastAxis(x)
	data := out.Data()
	for r := 0; r < len(data)/d; r++ {
		row := data[r*d : (r+1)*d]
		for i, c := range cols {
			row[c] = (row[c] - t.Lower[i]) / math.Max(t.Upper[i]-t.Lower[i], minRange)
		}
	}
	return out, nil
}

func (t *Normalize) columns(x *tensor.Dense) ([]int, error) {
	if x.Rank() < 2 {
		return nil, fmt.Errorf("%w: inputs must have shape (..., n, d), got %v", tensor.ErrShapeMismatch, x.Shape())
	}
	d := lastAxis(x)
	if t.Indices == nil {
		cols := make([]int, d)
		for i := range cols {
			cols[i] = i
		}
		return cols, nil
	}
	for _, c := range t.Indices {
		if c < 0 || c >= d {
			return nil, fmt.Errorf("%w: column %d of %d", tensor.ErrIndexOutOfRange, c, d)
		}
	}
	return t.Indices, nil
}

func lastAxis(x *tensor.Dense) int {
	s := x.Shape()
	return s[len(s)-1]
}

// Standardize shifts and scales the outcomes to zero mean and unit variance.
type Standardize struct {
	Mean   float64
	Stddev float64
	fitted bool
}

var _ OutcomeTransform = &Standardize{}

// Transform fits the statistics on the first call and applies them.
// Observed variances are divided by the squared scale.
func (t *Standardize) Transform(y, yvar []float64) ([]float64, []float64, error) {
	if len(y) == 0 {
		return nil, nil, fmt.Errorf("%w: no outcomes", tensor.ErrShapeMismatch)
	}
	if yvar != nil && len(yvar) != len(y) {
		return nil, nil, fmt.Errorf("%w: %d variances for %d outcomes", tensor.ErrShapeMismatch, len(yvar), len(y))
	}
	if !t.fitted {
		t.fit(y)
	}
	ty := make([]float64, len(y))
	for i, v := range y {
		ty[i] = (v - t.Mean) / t.Stddev
	}
	var tyvar []float64
	if yvar != nil {
		tyvar = make([]float64, len(yvar))
		for i, v := range yvar {
			tyvar[i] = v / (t.Stddev * t.Stddev)
		}
	}
	return ty, tyvar, nil
}

// Untransform maps standardized means and variances back to the outcome scale.
func (t *Standardize) Untransform(mean, variance []float64) ([]float64, []float64, error) {
	if !t.fitted {
		return nil, nil, ErrNotFitted
	}
	m := make([]float64, len(mean))
	for i, v := range mean {
		m[i] = v*t.Stddev + t.Mean
	}
	vr := make([]float64, len(variance))
	for i, v := range variance {
		vr[i] = v * t.Stddev * t.Stddev
	}
	return m, vr, nil
}

func (t *Standardize) fit(y []float64) {
	mean, std := stat.MeanStdDev(y, nil)
	if len(y) < 2 || std < minRange {
		std = 1
	}
	t.Mean, t.Stddev, t.fitted = mean, std, true
}
