// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dataset reads training and test matrices from CSV files.
package dataset

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/rs/zerolog/log"
)

// ErrColumn is returned when a requested column is missing or malformed.
var ErrColumn = errors.New("invalid dataset column")

// Columns selects the outcome columns of a CSV file. Every other column
// is an input feature, kept in file order.
type Columns struct {
	// Target is the outcome column. Empty for input-only files.
	Target string `yaml:"target"`
	// Yvar is the optional observed noise variance column.
	Yvar string `yaml:"yvar,omitempty"`
}

// Dataset is a numeric table split into inputs and outcomes.
type Dataset struct {
	// Features are the names of the X columns.
	Features []string
	X        [][]float64
	// Y and Yvar are nil when the corresponding column is not configured.
	Y    []float64
	Yvar []float64
}

// Load reads the CSV file at filename.
func Load(filename string, cols Columns) (_ *Dataset, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	ds, err := Read(f, cols)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %q: %w", filename, err)
	}
	return ds, nil
}

// Read parses a CSV stream with a header line. All values must be numeric.
func Read(r io.Reader, cols Columns) (*Dataset, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.Float),
	)
	if df.Err != nil {
		return nil, df.Err
	}
	return FromDataFrame(df, cols)
}

// FromDataFrame converts a data frame into a Dataset.
func FromDataFrame(df dataframe.DataFrame, cols Columns) (*Dataset, error) {
	if df.Err != nil {
		return nil, df.Err
	}
	names := df.Names()
	if cols.Target != "" && cols.Target == cols.Yvar {
		return nil, fmt.Errorf("%w: target and yvar both use column %q", ErrColumn, cols.Target)
	}

	ds := new(Dataset)
	var features []int
	for i, name := range names {
		switch name {
		case cols.Target, cols.Yvar:
		default:
			features = append(features, i)
			ds.Features = append(ds.Features, name)
		}
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("%w: no feature columns", ErrColumn)
	}

	var err error
	if ds.Y, err = column(df, names, cols.Target); err != nil {
		return nil, err
	}
	if ds.Yvar, err = column(df, names, cols.Yvar); err != nil {
		return nil, err
	}

	ds.X = make([][]float64, df.Nrow())
	for r := range ds.X {
		row := make([]float64, len(features))
		for j, c := range features {
			if row[j], err = value(df, r, c); err != nil {
				return nil, fmt.Errorf("column %q: %w", names[c], err)
			}
		}
		ds.X[r] = row
	}

	log.Debug().Int("rows", df.Nrow()).Strs("features", ds.Features).Msg("dataset loaded")
	return ds, nil
}

func column(df dataframe.DataFrame, names []string, name string) ([]float64, error) {
	if name == "" {
		return nil, nil
	}
	c := slices.Index(names, name)
	if c < 0 {
		return nil, fmt.Errorf("%w: column %q not found", ErrColumn, name)
	}
	out := make([]float64, df.Nrow())
	for r := range out {
		v, err := value(df, r, c)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		out[r] = v
	}
	return out, nil
}

func value(df dataframe.DataFrame, r, c int) (float64, error) {
	e := df.Elem(r, c)
	if e.IsNA() {
		return 0, fmt.Errorf("%w: missing value at row %d", ErrColumn, r)
	}
	return e.Float(), nil
}
