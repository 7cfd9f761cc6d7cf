// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcem

import (
	"fmt"

	"github.com/nlpodyssey/lcem/multitask"
	"github.com/rs/zerolog/log"
)

// FixedNoiseOptions are the construction parameters of a FixedNoiseModel.
type FixedNoiseOptions struct {
	TrainX            [][]float64
	TrainY            []float64
	TrainYvar         []float64
	TaskFeature       int
	ContextCatFeature [][]int
	ContextEmbFeature [][]float64
	EmbsDimList       []int
	OutputTasks       []int
	Seed              uint64
}

// FixedNoiseModel is an LCE-M model with known observation noise.
//
// Deprecated: use New with Options.TrainYvar set, which behaves the same.
type FixedNoiseModel struct {
	*Model
}

// NewFixedNoise returns a new FixedNoiseModel.
//
// Deprecated: use New with Options.TrainYvar set.
func NewFixedNoise(o FixedNoiseOptions) (*FixedNoiseModel, error) {
	log.Warn().
		Bool("deprecated", true).
		Msg("FixedNoiseModel is deprecated and will be removed; use New with TrainYvar, which behaves the same")

	if o.TrainYvar == nil {
		return nil, fmt.Errorf("%w: fixed noise requires observed variances", multitask.ErrInvalidTrainingData)
	}
	m, err := New(Options{
		TrainX:            o.TrainX,
		TrainY:            o.TrainY,
		TaskFeature:       o.TaskFeature,
		TrainYvar:         o.TrainYvar,
		ContextCatFeature: o.ContextCatFeature,
		ContextEmbFeature: o.ContextEmbFeature,
		EmbsDimList:       o.EmbsDimList,
		OutputTasks:       o.OutputTasks,
		Seed:              o.Seed,
	})
	if err != nil {
		return nil, err
	}
	return &FixedNoiseModel{Model: m}, nil
}
