// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package multitask provides the multi-task GP building blocks shared by
// every task covariance: data checks, task bookkeeping, the mean, the base
// covariance over the non-task inputs and the likelihoods.
package multitask

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/nlpodyssey/lcem/tensor"
)

// ErrInvalidTrainingData is returned for inconsistent training inputs.
var ErrInvalidTrainingData = errors.New("invalid training data")

// ErrInvalidTasks is returned for malformed task lists or task values.
var ErrInvalidTasks = errors.New("invalid tasks")

// ValidateTrainingData checks that x is (n x d) with d >= 2 (at least one
// input column besides the task column), that y has n values and that
// yvar, when given, has n non-negative values.
func ValidateTrainingData(x [][]float64, y, yvar []float64) error {
	n := len(x)
	if n == 0 {
		return fmt.Errorf("%w: no training points", ErrInvalidTrainingData)
	}
	d := len(x[0])
	if d < 2 {
		return fmt.Errorf("%w: %d input columns, need at least 2", ErrInvalidTrainingData, d)
	}
	for i, row := range x {
		if len(row) != d {
			return fmt.Errorf("%w: row %d has %d columns, expected %d", ErrInvalidTrainingData, i, len(row), d)
		}
	}
	if len(y) != n {
		return fmt.Errorf("%w: %d outcomes for %d points", ErrInvalidTrainingData, len(y), n)
	}
	if yvar == nil {
		return nil
	}
	if len(yvar) != n {
		return fmt.Errorf("%w: %d variances for %d points", ErrInvalidTrainingData, len(yvar), n)
	}
	for i, v := range yvar {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: negative variance %g at point %d", ErrInvalidTrainingData, v, i)
		}
	}
	return nil
}

// TaskFeature resolves a possibly negative task column against d columns.
func TaskFeature(taskFeature, d int) (int, error) {
	if taskFeature < 0 {
		taskFeature += d
	}
	if taskFeature < 0 || taskFeature >= d {
		return 0, fmt.Errorf("%w: task feature %d for %d columns", ErrInvalidTrainingData, taskFeature, d)
	}
	return taskFeature, nil
}

// InferTasks returns the sorted distinct values of the task column.
func InferTasks(x [][]float64, taskFeature int) ([]int, error) {
	tasks := make([]int, 0, len(x))
	for i, row := range x {
		t, err := taskValue(row[taskFeature])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return NormalizeTasks(tasks), nil
}

// NormalizeTasks returns a sorted copy of tasks without duplicates.
func NormalizeTasks(tasks []int) []int {
	out := slices.Clone(tasks)
	slices.Sort(out)
	return slices.Compact(out)
}

// OutputTasks checks that every output task belongs to allTasks.
// Nil means all tasks.
func OutputTasks(outputTasks, allTasks []int) ([]int, error) {
	if outputTasks == nil {
		return slices.Clone(allTasks), nil
	}
	if len(outputTasks) == 0 {
		return nil, fmt.Errorf("%w: empty output tasks", ErrInvalidTasks)
	}
	for _, t := range outputTasks {
		if _, found := slices.BinarySearch(allTasks, t); !found {
			return nil, fmt.Errorf("%w: output task %d not in %v", ErrInvalidTasks, t, allTasks)
		}
	}
	return slices.Clone(outputTasks), nil
}

// SplitInputs separates x, of shape (..., n, d), into the non-task columns,
// of shape (..., n, d-1), and the task indices, of shape (..., n, 1).
func SplitInputs(x *tensor.Dense, taskFeature int) (*tensor.Dense, *tensor.Index, error) {
	shape := x.Shape()
	rank := len(shape)
	if rank < 2 {
		return nil, nil, fmt.Errorf("%w: inputs must have shape (..., n, d), got %v", tensor.ErrShapeMismatch, shape)
	}
	d := shape[rank-1]
	if taskFeature < 0 || taskFeature >= d {
		return nil, nil, fmt.Errorf("%w: task feature %d for %d columns", tensor.ErrShapeMismatch, taskFeature, d)
	}
	rows := shape[:rank-1].Size()

	basicShape := shape.Clone()
	basicShape[rank-1] = d - 1
	basic := make([]float64, 0, rows*(d-1))
	idxShape := shape.Clone()
	idxShape[rank-1] = 1
	idx := make([]int, rows)

	data := x.Data()
	for r := 0; r < rows; r++ {
		row := data[r*d : (r+1)*d]
		t, err := taskValue(row[taskFeature])
		if err != nil {
			return nil, nil, fmt.Errorf("input row %d: %w", r, err)
		}
		idx[r] = t
		basic = append(basic, row[:taskFeature]...)
		basic = append(basic, row[taskFeature+1:]...)
	}

	b, err := tensor.NewDense(basicShape, basic)
	if err != nil {
		return nil, nil, err
	}
	ti, err := tensor.NewIndex(idxShape, idx)
	if err != nil {
		return nil, nil, err
	}
	return b, ti, nil
}

func taskValue(v float64) (int, error) {
	if v != math.Trunc(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: task value %g is not an integer", ErrInvalidTasks, v)
	}
	return int(v), nil
}
