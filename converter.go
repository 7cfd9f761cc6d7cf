// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lcem

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/rs/zerolog/log"
)

// DefaultPyModelFilename is the default name of a saved torch state dict.
const DefaultPyModelFilename = "pytorch_model.pt"

type ConverterConfig struct {
	// The path to the directory where the models will be read from and written to.
	ModelDir string
	// The path to the input state dict file (default "pytorch_model.pt")
	PyModelFilename string
	// The path to the output model file (default "lcem_model.bin")
	GoModelFilename string
	// If true, overwrite the model file if it already exists (default "false")
	OverwriteIfExist bool
	// Model describes the converted model. EmbsDimList and NumFeatures can be
	// left empty, letting the process deduce them from the parameters.
	Model Config
}

// ConvertStateDict converts a torch LCE-M state dict into a model dump.
func ConvertStateDict(config ConverterConfig) error {
	if config.PyModelFilename == "" {
		config.PyModelFilename = DefaultPyModelFilename
	}
	if config.GoModelFilename == "" {
		config.GoModelFilename = DefaultOutputFilename
	}

	outputFilename := filepath.Join(config.ModelDir, config.GoModelFilename)

	if !config.OverwriteIfExist && fileExists(outputFilename) {
		log.Debug().Str("model", outputFilename).Msg("Model file already exists, skipping conversion")
		return nil
	}

	inFilename := filepath.Join(config.ModelDir, config.PyModelFilename)
	torchModel, err := pytorch.Load(inFilename)
	if err != nil {
		return fmt.Errorf("failed to load torch state dict %q: %w", inFilename, err)
	}
	params, err := makeParamsMap(torchModel)
	if err != nil {
		return fmt.Errorf("failed to read model params: %w", err)
	}

	conv := &converter{config: config.Model, params: params}
	m, err := conv.run()
	if err != nil {
		return fmt.Errorf("model conversion failed: %w", err)
	}
	return Dump(m, outputFilename)
}

func fileExists(name string) bool {
	info, err := os.Stat(name)
	return err == nil && !info.IsDir()
}

type converter struct {
	config   Config
	params   paramsMap
	snapshot Snapshot
}

func (c *converter) run() (*Model, error) {
	c.params.dropBuffers()
	c.snapshot.Params = make(map[string][]float64)

	funcs := []func() error{
		c.convEmbeddings,
		c.convTaskKernel,
		c.convBaseCovar,
		c.convMean,
		c.convLikelihood,
	}
	for _, fn := range funcs {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	for name := range c.params {
		log.Warn().Str("param", name).Msg("unused state dict entry")
	}

	c.snapshot.Config = c.config
	return FromSnapshot(c.snapshot)
}

func (c *converter) convEmbeddings() error {
	all := c.params.fetchPrefixed("emb_layers.")
	numLayers, err := countLayers(all)
	if err != nil {
		return err
	}
	if numLayers == 0 {
		return fmt.Errorf("no embedding layers found in parameters")
	}

	dims := make([]int, numLayers)
	for i := range dims {
		w, err := all.fetch(fmt.Sprintf("%d.weight", i))
		if err != nil {
			return fmt.Errorf("failed to convert embedding layer %d: %w", i, err)
		}
		if len(w.Size) != 2 {
			return fmt.Errorf("expected embedding layer %d to have 2 dimensions, actual %d", i, len(w.Size))
		}
		data, err := tensorData(w)
		if err != nil {
			return fmt.Errorf("failed to convert embedding layer %d: %w", i, err)
		}
		dims[i] = w.Size[1]
		c.snapshot.Params[fmt.Sprintf(ParamEmbeddingFormat, i)] = data
	}

	if c.config.EmbsDimList == nil {
		c.config.EmbsDimList = dims
	} else if len(c.config.EmbsDimList) != numLayers {
		return fmt.Errorf("%w: expected %d embedding layers, actual %d", ErrEmbeddingDims, len(c.config.EmbsDimList), numLayers)
	}
	return nil
}

func (c *converter) convTaskKernel() error {
	// The task length-scale constraint has no transform.
	v, err := c.fetchData("task_covar_module.raw_lengthscale")
	if err != nil {
		return fmt.Errorf("failed to convert task kernel: %w", err)
	}
	c.snapshot.Params[ParamTaskLengthscale] = v
	return nil
}

func (c *converter) convBaseCovar() error {
	ls, err := c.fetchData("covar_module.base_kernel.raw_lengthscale")
	if err != nil {
		return fmt.Errorf("failed to convert base kernel: %w", err)
	}
	if c.config.NumFeatures == 0 {
		c.config.NumFeatures = len(ls) + 1
	} else if len(ls) != c.config.NumFeatures-1 {
		return fmt.Errorf("expected %d base length-scales, actual %d", c.config.NumFeatures-1, len(ls))
	}
	c.snapshot.Params[ParamBaseLengthscale] = softplus(ls)

	scale, err := c.fetchData("covar_module.raw_outputscale")
	if err != nil {
		return fmt.Errorf("failed to convert output-scale: %w", err)
	}
	c.snapshot.Params[ParamOutputscale] = softplus(scale)
	return nil
}

func (c *converter) convMean() error {
	v, err := c.fetchData("mean_module.raw_constant")
	if err != nil {
		v, err = c.fetchData("mean_module.constant")
	}
	if err != nil {
		return fmt.Errorf("failed to convert mean: %w", err)
	}
	c.snapshot.Params[ParamMeanConstant] = v
	return nil
}

func (c *converter) convLikelihood() error {
	if c.config.FixedNoise != nil {
		delete(c.params, "likelihood.noise_covar.noise")
		return nil
	}
	// The inferred noise constraint has no transform.
	v, err := c.fetchData("likelihood.noise_covar.raw_noise")
	if err != nil {
		return fmt.Errorf("failed to convert likelihood: %w", err)
	}
	c.snapshot.Params[ParamNoise] = v
	return nil
}

func (c *converter) fetchData(name string) ([]float64, error) {
	t, err := c.params.fetch(name)
	if err != nil {
		return nil, err
	}
	return tensorData(t)
}

func softplus(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Log1p(math.Exp(-math.Abs(x))) + math.Max(x, 0)
	}
	return out
}

func tensorData(t *pytorch.Tensor) ([]float64, error) {
	size := tensorDataSize(t)
	from, to := t.StorageOffset, t.StorageOffset+size
	switch st := t.Source.(type) {
	case *pytorch.DoubleStorage:
		return append([]float64(nil), st.Data[from:to]...), nil
	case *pytorch.FloatStorage:
		return widen(st.Data[from:to]), nil
	case *pytorch.BFloat16Storage:
		return widen(st.Data[from:to]), nil
	case *pytorch.HalfStorage:
		return widen(st.Data[from:to]), nil
	default:
		return nil, fmt.Errorf("unsupported storage type %T", t.Source)
	}
}

func widen(d []float32) []float64 {
	out := make([]float64, len(d))
	for i, v := range d {
		out[i] = float64(v)
	}
	return out
}

func tensorDataSize(t *pytorch.Tensor) int {
	size := 1
	for _, v := range t.Size {
		size *= v
	}
	return size
}

func countLayers(params paramsMap) (int, error) {
	max := -1
	for k := range params {
		before, _, ok := strings.Cut(k, ".")
		if !ok {
			return 0, fmt.Errorf("layer parameter names expected to start with number, actual name %q", k)
		}
		num, err := strconv.Atoi(before)
		if err != nil {
			return 0, fmt.Errorf("layer parameter names expected to start with number, actual name %q: %w", k, err)
		}
		if num > max {
			max = num
		}
	}
	return max + 1, nil
}

func cast[T any](v any) (t T, _ error) {
	t, ok := v.(T)
	if !ok {
		return t, fmt.Errorf("type assertion failed: expected %T, actual %T", t, v)
	}
	return
}

type paramsMap map[string]*pytorch.Tensor

func makeParamsMap(torchModel any) (paramsMap, error) {
	od, err := cast[*types.OrderedDict](torchModel)
	if err != nil {
		return nil, err
	}

	params := make(paramsMap, od.Len())

	for k, item := range od.Map {
		name, err := cast[string](k)
		if err != nil {
			return nil, fmt.Errorf("wrong param name type: %w", err)
		}
		tensor, err := cast[*pytorch.Tensor](item.Value)
		if err != nil {
			return nil, fmt.Errorf("wrong value type for param %q: %w", name, err)
		}
		params[name] = tensor
	}

	return params, nil
}

// fetch gets a value from params by its name, removing the entry from the map.
func (p paramsMap) fetch(name string) (*pytorch.Tensor, error) {
	t, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("parameter %q not found", name)
	}
	delete(p, name)
	return t, nil
}

func (p paramsMap) fetchPrefixed(prefix string) paramsMap {
	out := make(paramsMap, len(p))
	for k, v := range p {
		if after, ok := strings.CutPrefix(k, prefix); ok {
			out[after] = v
			delete(p, k)
		}
	}
	return out
}

// dropBuffers removes constraint bounds and prior hyperparameters, which are
// stored next to the parameters but fixed by the model structure.
func (p paramsMap) dropBuffers() {
	for k := range p {
		if strings.Contains(k, "_constraint.") || strings.Contains(k, "_prior.") {
			delete(p, k)
		}
	}
}
