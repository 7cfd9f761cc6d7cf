// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/nlpodyssey/lcem"
	"github.com/nlpodyssey/lcem/config"
	"github.com/nlpodyssey/lcem/dataset"
	"github.com/nlpodyssey/lcem/downloader"
	"github.com/nlpodyssey/lcem/paramstore"
	"github.com/nlpodyssey/lcem/server"
	"github.com/nlpodyssey/lcem/tensor"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

// DefaultConfigFilename is the configuration looked up in a model directory.
const DefaultConfigFilename = "lcem.yaml"

const defaultDBFilename = "lcem.sqlite"

// modelFlags select where a model comes from: a dump file, a YAML
// configuration with training data, or a snapshot store.
func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "model",
			Usage: "model file written by convert or store load",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "YAML configuration; the model is built from its training file",
		},
		&cli.StringFlag{
			Name:  "db",
			Usage: "SQLite snapshot store (requires --name)",
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "snapshot name in the store",
		},
	}
}

func loadModel(c *cli.Context) (*lcem.Model, error) {
	model, cfg, db := c.String("model"), c.String("config"), c.String("db")
	set := 0
	for _, v := range []string{model, cfg, db} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of --model, --config or --db is required")
	}

	switch {
	case model != "":
		log.Debug().Str("model", model).Msg("loading model")
		return lcem.Load(model)
	case cfg != "":
		log.Debug().Str("config", cfg).Msg("building model")
		conf, err := config.Load(cfg)
		if err != nil {
			return nil, err
		}
		return conf.NewModel()
	default:
		name := c.String("name")
		if name == "" {
			return nil, errors.New("--name is required with --db")
		}
		store, err := paramstore.Open(db)
		if err != nil {
			return nil, err
		}
		defer closeStore(store)
		return store.Load(name)
	}
}

func closeStore(s *paramstore.Store) {
	if err := s.Close(); err != nil {
		log.Err(err).Msg("failed to close store")
	}
}

func writeJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Download a state dict and its configuration from huggingface.co",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model-dir", Usage: "destination directory", Required: true},
			&cli.StringFlag{Name: "repo", Usage: `repository ID, "organization/name"`, Required: true},
			&cli.StringFlag{Name: "revision", Value: downloader.DefaultRevision},
			&cli.StringFlag{Name: "token", Usage: "access token", EnvVars: []string{"HF_TOKEN"}},
			&cli.BoolFlag{Name: "overwrite", Usage: "download files already present"},
		},
		Action: func(c *cli.Context) error {
			return downloader.Download(c.String("model-dir"), c.String("repo"), downloader.Options{
				Revision:         c.String("revision"),
				AccessToken:      c.String("token"),
				OverwriteIfExist: c.Bool("overwrite"),
			})
		},
	}
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Convert a torch state dict in a model directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model-dir", Usage: "directory of the model to convert", Required: true},
			&cli.StringFlag{Name: "config", Usage: "YAML configuration (default: lcem.yaml in the model directory)"},
			&cli.BoolFlag{Name: "overwrite", Usage: "overwrite an existing model file"},
		},
		Action: func(c *cli.Context) error {
			modelDir := c.String("model-dir")
			cfgFile := c.String("config")
			if cfgFile == "" {
				cfgFile = filepath.Join(modelDir, DefaultConfigFilename)
			}
			conf, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			mc, err := conf.ModelConfig()
			if err != nil {
				return err
			}
			log.Debug().Str("model-dir", modelDir).Msg("converting model")
			err = lcem.ConvertStateDict(lcem.ConverterConfig{
				ModelDir:         modelDir,
				OverwriteIfExist: c.Bool("overwrite"),
				Model:            mc,
			})
			if err != nil {
				return err
			}
			log.Debug().Msg("Done.")
			return nil
		},
	}
}

type covarianceOutput struct {
	Tasks      []int       `json:"tasks"`
	Embeddings [][]float64 `json:"embeddings"`
	Covariance [][]float64 `json:"covariance"`
}

func covarianceCommand() *cli.Command {
	return &cli.Command{
		Name:  "covariance",
		Usage: "Print the context embeddings and the full context covariance",
		Flags: modelFlags(),
		Action: func(c *cli.Context) error {
			m, err := loadModel(c)
			if err != nil {
				return err
			}
			embs, err := m.TaskEmbeddings()
			if err != nil {
				return err
			}
			covar, err := m.EvalContextCovar()
			if err != nil {
				return err
			}
			blocks, err := covar.Matrices()
			if err != nil {
				return err
			}
			return writeJSON(c, covarianceOutput{
				Tasks:      m.AllTasks(),
				Embeddings: embs,
				Covariance: blocks[0],
			})
		},
	}
}

func forwardCommand() *cli.Command {
	flags := append(modelFlags(),
		&cli.StringFlag{Name: "input", Usage: "CSV file of inputs, task column included", Required: true},
		&cli.BoolFlag{Name: "observation-noise", Usage: "include the likelihood noise"},
	)
	return &cli.Command{
		Name:  "forward",
		Usage: "Print the prior (or marginal) distribution at the given inputs",
		Flags: flags,
		Action: func(c *cli.Context) error {
			m, err := loadModel(c)
			if err != nil {
				return err
			}
			m.Eval()
			ds, err := dataset.Load(c.String("input"), dataset.Columns{})
			if err != nil {
				return err
			}
			x, err := tensor.FromRows(ds.X)
			if err != nil {
				return err
			}
			forward := m.Forward
			if c.Bool("observation-noise") {
				forward = m.Marginal
			}
			mvn, err := forward(x)
			if err != nil {
				return err
			}
			blocks, err := mvn.Covariance.Matrices()
			if err != nil {
				return err
			}
			return writeJSON(c, server.ForwardResponse{
				Mean:       mvn.Mean.Data(),
				Variance:   mvn.Variance().Data(),
				Covariance: blocks[0],
			})
		},
	}
}

func mllCommand() *cli.Command {
	return &cli.Command{
		Name:  "mll",
		Usage: "Print the log marginal likelihood of the training data, per point",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML configuration with a training file", Required: true},
			&cli.StringFlag{Name: "model", Usage: "optional model file with the hyperparameters to evaluate"},
		},
		Action: func(c *cli.Context) error {
			conf, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			m, err := conf.NewModel()
			if err != nil {
				return err
			}
			if file := c.String("model"); file != "" {
				trained, err := lcem.Load(file)
				if err != nil {
					return err
				}
				if err = m.Restore(trained.Snapshot()); err != nil {
					return err
				}
			}
			mll, err := m.LogMarginalLikelihood()
			if err != nil {
				return err
			}
			return writeJSON(c, map[string]float64{"mll": mll})
		},
	}
}

func serveCommand() *cli.Command {
	flags := append(modelFlags(),
		&cli.StringFlag{Name: "address", Usage: "the address to listen on for HTTP connections", Value: ":8080"},
		&cli.StringFlag{Name: "cors-origins", Usage: "space-separated list of allowed origins", Value: "*"},
	)
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve an HTTP JSON endpoint",
		Flags: flags,
		Action: func(c *cli.Context) error {
			m, err := loadModel(c)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()

			s := server.New(m, strings.Fields(c.String("cors-origins")))
			return s.Start(ctx, c.String("address"))
		},
	}
}

func storeCommand() *cli.Command {
	dbFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "db", Usage: "SQLite snapshot store", Value: defaultDBFilename}
	}
	nameFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "name", Usage: "snapshot name", Required: true}
	}

	return &cli.Command{
		Name:  "store",
		Usage: "Manage the snapshot store",
		Subcommands: []*cli.Command{
			{
				Name:  "save",
				Usage: "Save a model file or a configured model under a name",
				Flags: []cli.Flag{
					dbFlag(), nameFlag(),
					&cli.StringFlag{Name: "model", Usage: "model file"},
					&cli.StringFlag{Name: "config", Usage: "YAML configuration"},
				},
				Action: func(c *cli.Context) error {
					model, cfg := c.String("model"), c.String("config")
					if (model == "") == (cfg == "") {
						return errors.New("exactly one of --model or --config is required")
					}
					var m *lcem.Model
					var err error
					if model != "" {
						m, err = lcem.Load(model)
					} else {
						var conf config.Config
						if conf, err = config.Load(cfg); err == nil {
							m, err = conf.NewModel()
						}
					}
					if err != nil {
						return err
					}
					store, err := paramstore.Open(c.String("db"))
					if err != nil {
						return err
					}
					defer closeStore(store)
					return store.Save(c.String("name"), m)
				},
			},
			{
				Name:  "load",
				Usage: "Write a stored snapshot to a model file",
				Flags: []cli.Flag{
					dbFlag(), nameFlag(),
					&cli.StringFlag{Name: "output", Usage: "model file", Value: lcem.DefaultOutputFilename},
				},
				Action: func(c *cli.Context) error {
					store, err := paramstore.Open(c.String("db"))
					if err != nil {
						return err
					}
					defer closeStore(store)
					m, err := store.Load(c.String("name"))
					if err != nil {
						return err
					}
					return lcem.Dump(m, c.String("output"))
				},
			},
			{
				Name:  "list",
				Usage: "List the stored snapshots",
				Flags: []cli.Flag{dbFlag()},
				Action: func(c *cli.Context) error {
					store, err := paramstore.Open(c.String("db"))
					if err != nil {
						return err
					}
					defer closeStore(store)
					records, err := store.List()
					if err != nil {
						return err
					}
					for _, r := range records {
						_, err = fmt.Fprintf(c.App.Writer, "%s\t%d contexts\t%d features\t%s\n",
							r.Name, r.NumContexts, r.NumFeatures, r.UpdatedAt.Format("2006-01-02 15:04:05"))
						if err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name:  "delete",
				Usage: "Delete a stored snapshot",
				Flags: []cli.Flag{dbFlag(), nameFlag()},
				Action: func(c *cli.Context) error {
					store, err := paramstore.Open(c.String("db"))
					if err != nil {
						return err
					}
					defer closeStore(store)
					return store.Delete(c.String("name"))
				},
			},
		},
	}
}
