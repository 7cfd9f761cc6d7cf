// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the YAML description of an LCE-M model and its
// training data.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nlpodyssey/lcem"
	"github.com/nlpodyssey/lcem/dataset"
	"github.com/nlpodyssey/lcem/multitask"
	"github.com/nlpodyssey/lcem/transform"
	"gopkg.in/yaml.v3"
)

// Transform names.
const (
	TransformNone        = "none"
	TransformNormalize   = "normalize"
	TransformStandardize = "standardize"
)

// ErrInvalidConfig is returned for unknown or inconsistent settings.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the content of a YAML configuration file.
type Config struct {
	// TrainFile is a CSV file; relative paths are resolved against the
	// directory of the configuration file.
	TrainFile string          `yaml:"train_file"`
	Columns   dataset.Columns `yaml:"columns"`

	TaskFeature       int         `yaml:"task_feature"`
	ContextCatFeature [][]int     `yaml:"context_cat_feature,omitempty"`
	ContextEmbFeature [][]float64 `yaml:"context_emb_feature,omitempty"`
	EmbsDimList       []int       `yaml:"embs_dim_list,omitempty"`
	OutputTasks       []int       `yaml:"output_tasks,omitempty"`
	AllTasks          []int       `yaml:"all_tasks,omitempty"`
	Seed              uint64      `yaml:"seed"`

	// InputTransform is "none" (default) or "normalize".
	InputTransform string `yaml:"input_transform,omitempty"`
	// InputBounds are optional normalization bounds, learned from the
	// training inputs when omitted.
	InputBounds *Bounds `yaml:"input_bounds,omitempty"`
	// OutcomeTransform is "none" (default) or "standardize".
	OutcomeTransform string `yaml:"outcome_transform,omitempty"`
}

// Bounds of the normalized input columns.
type Bounds struct {
	// Columns defaults to every column except the task feature.
	Columns []int     `yaml:"columns,omitempty"`
	Lower   []float64 `yaml:"lower"`
	Upper   []float64 `yaml:"upper"`
}

// Load reads the configuration file at filename.
func Load(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("error reading configuration file: %w", err)
	}
	c, err := Decode(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("error unmarshaling configuration file %q: %w", filename, err)
	}
	if c.TrainFile != "" && !filepath.IsAbs(c.TrainFile) {
		c.TrainFile = filepath.Join(filepath.Dir(filename), c.TrainFile)
	}
	return c, nil
}

// Decode reads a YAML configuration, rejecting unknown fields.
func Decode(r io.Reader) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the transform settings.
func (c Config) Validate() error {
	switch c.InputTransform {
	case "", TransformNone:
		if c.InputBounds != nil {
			return fmt.Errorf("%w: input bounds given without the %q input transform", ErrInvalidConfig, TransformNormalize)
		}
	case TransformNormalize:
	default:
		return fmt.Errorf("%w: unknown input transform %q", ErrInvalidConfig, c.InputTransform)
	}
	switch c.OutcomeTransform {
	case "", TransformNone, TransformStandardize:
	default:
		return fmt.Errorf("%w: unknown outcome transform %q", ErrInvalidConfig, c.OutcomeTransform)
	}
	return nil
}

// LoadDataset reads the training file.
func (c Config) LoadDataset() (*dataset.Dataset, error) {
	if c.TrainFile == "" {
		return nil, fmt.Errorf("%w: missing train_file", ErrInvalidConfig)
	}
	return dataset.Load(c.TrainFile, c.Columns)
}

// Options combines the configuration with a training dataset.
func (c Config) Options(ds *dataset.Dataset) (lcem.Options, error) {
	o := lcem.Options{
		TrainX:            ds.X,
		TrainY:            ds.Y,
		TrainYvar:         ds.Yvar,
		TaskFeature:       c.TaskFeature,
		ContextCatFeature: c.ContextCatFeature,
		ContextEmbFeature: c.ContextEmbFeature,
		EmbsDimList:       c.EmbsDimList,
		OutputTasks:       c.OutputTasks,
		AllTasks:          c.AllTasks,
		Seed:              c.Seed,
	}
	if c.InputTransform == TransformNormalize {
		t := new(transform.Normalize)
		if b := c.InputBounds; b != nil {
			var err error
			if t, err = transform.NewNormalize(b.Columns, b.Lower, b.Upper); err != nil {
				return lcem.Options{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
			}
		}
		o.InputTransform = t
	}
	if c.OutcomeTransform == TransformStandardize {
		o.OutcomeTransform = new(transform.Standardize)
	}
	return o, nil
}

// NewModel loads the training data and builds the model.
func (c Config) NewModel() (*lcem.Model, error) {
	ds, err := c.LoadDataset()
	if err != nil {
		return nil, err
	}
	o, err := c.Options(ds)
	if err != nil {
		return nil, err
	}
	return lcem.New(o)
}

// ModelConfig describes the model a state dict is converted into. When a
// training file is configured, the feature count, the task universe and the
// fixed noise levels are read from it.
func (c Config) ModelConfig() (lcem.Config, error) {
	mc := lcem.Config{
		TaskFeature:       c.TaskFeature,
		AllTasks:          c.AllTasks,
		OutputTasks:       c.OutputTasks,
		ContextCatFeature: c.ContextCatFeature,
		ContextEmbFeature: c.ContextEmbFeature,
		EmbsDimList:       c.EmbsDimList,
		Seed:              c.Seed,
	}
	if c.TrainFile == "" {
		return mc, nil
	}
	ds, err := c.LoadDataset()
	if err != nil {
		return lcem.Config{}, err
	}
	mc.NumFeatures = len(ds.Features)
	if mc.TaskFeature, err = multitask.TaskFeature(c.TaskFeature, mc.NumFeatures); err != nil {
		return lcem.Config{}, err
	}
	if mc.AllTasks == nil {
		if mc.AllTasks, err = multitask.InferTasks(ds.X, mc.TaskFeature); err != nil {
			return lcem.Config{}, err
		}
	}
	mc.FixedNoise = ds.Yvar
	if ds.Yvar != nil && c.OutcomeTransform == TransformStandardize {
		if _, mc.FixedNoise, err = new(transform.Standardize).Transform(ds.Y, ds.Yvar); err != nil {
			return lcem.Config{}, err
		}
	}
	return mc, nil
}
