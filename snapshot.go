// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcem

import (
	"errors"
	"fmt"
	"slices"

	"github.com/nlpodyssey/lcem/kernel"
	"github.com/nlpodyssey/lcem/multitask"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/nn"
)

// Parameter names used by snapshots.
const (
	ParamEmbeddingFormat = "emb_layers.%d.weight"
	ParamTaskLengthscale = "task_covar_module.lengthscale"
	ParamBaseLengthscale = "covar_module.base_kernel.lengthscale"
	ParamOutputscale     = "covar_module.outputscale"
	ParamMeanConstant    = "mean_module.constant"
	ParamNoise           = "likelihood.noise_covar.noise"
)

// ErrSnapshot is returned when a snapshot does not fit a model.
var ErrSnapshot = errors.New("invalid snapshot")

// Snapshot holds a model description and all its parameter values.
type Snapshot struct {
	Config Config
	Params map[string][]float64
}

type namedParam struct {
	name       string
	param      *nn.Param
	constraint *kernel.Interval
}

func (m *Model) namedParams() []namedParam {
	var out []namedParam
	for i, t := range m.TaskCovar.Embedder.Tables {
		out = append(out, namedParam{name: fmt.Sprintf(ParamEmbeddingFormat, i), param: t.Weight})
	}
	if rbf, ok := m.TaskCovar.Kernel.(*kernel.RBF); ok {
		out = append(out, namedParam{ParamTaskLengthscale, rbf.Lengthscale, &rbf.Constraint})
	}
	if matern, ok := m.Covar.Base.(*kernel.Matern52); ok {
		out = append(out, namedParam{ParamBaseLengthscale, matern.Lengthscale, &matern.Constraint})
	}
	out = append(out,
		namedParam{ParamOutputscale, m.Covar.Outputscale, &m.Covar.Constraint},
		namedParam{name: ParamMeanConstant, param: m.Mean.Constant},
	)
	if g, ok := m.Likelihood.(*multitask.GaussianLikelihood); ok {
		out = append(out, namedParam{ParamNoise, g.Noise, &g.Constraint})
	}
	return out
}

// Snapshot copies the model description and parameter values.
func (m *Model) Snapshot() Snapshot {
	params := m.namedParams()
	s := Snapshot{
		Config: m.Config,
		Params: make(map[string][]float64, len(params)),
	}
	for _, p := range params {
		s.Params[p.name] = slices.Clone(p.param.Value().Data().F64())
	}
	return s
}

// Restore replaces every parameter value with the snapshot's.
// Nothing is changed if any value is missing, has the wrong size or
// violates its constraint.
func (m *Model) Restore(s Snapshot) error {
	params := m.namedParams()
	if len(s.Params) != len(params) {
		return fmt.Errorf("%w: %d parameters, model has %d", ErrSnapshot, len(s.Params), len(params))
	}
	for _, p := range params {
		v, ok := s.Params[p.name]
		if !ok {
			return fmt.Errorf("%w: missing parameter %q", ErrSnapshot, p.name)
		}
		if size := p.param.Value().Size(); len(v) != size {
			return fmt.Errorf("%w: parameter %q has %d values, expected %d", ErrSnapshot, p.name, len(v), size)
		}
		if p.constraint != nil {
			if err := p.constraint.Validate(v); err != nil {
				return fmt.Errorf("%w: parameter %q: %v", ErrSnapshot, p.name, err)
			}
		}
	}
	for _, p := range params {
		shape := p.param.Value().Shape()
		p.param.ReplaceValue(mat.NewDense[float64](mat.WithShape(shape...), mat.WithBacking(slices.Clone(s.Params[p.name]))))
	}
	return nil
}

// FromSnapshot rebuilds a model from its description and restores its
// parameters. The model has no training data and starts in evaluation mode.
func FromSnapshot(s Snapshot) (*Model, error) {
	m, err := NewFromConfig(s.Config)
	if err != nil {
		return nil, err
	}
	if err := m.Restore(s); err != nil {
		return nil, err
	}
	m.Eval()
	return m, nil
}
