// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server exposes an LCE-M model over HTTP with JSON payloads.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nlpodyssey/lcem"
	"github.com/nlpodyssey/lcem/distribution"
	"github.com/nlpodyssey/lcem/multitask"
	"github.com/nlpodyssey/lcem/tensor"
	corspkg "github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// maxRequestSize limits the body of POST requests.
const maxRequestSize = 32 << 20

type Server struct {
	// mu serializes model evaluations: spago graphs are built on every call.
	mu    sync.Mutex
	model *lcem.Model
	cors  *corspkg.Cors
}

// New returns a server for m, switching the model to evaluation mode.
// A nil or empty allowedOrigins permits every origin.
func New(m *lcem.Model, allowedOrigins []string) *Server {
	m.Eval()
	return &Server{
		model: m,
		cors:  newCORS(allowedOrigins),
	}
}

func newCORS(allowedOrigins []string) *corspkg.Cors {
	return corspkg.New(corspkg.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"*"},
	})
}

// Handler returns the HTTP routes wrapped by the CORS handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/covariance", s.handleCovariance)
	mux.HandleFunc("/forward", s.handleForward)
	return s.cors.Handler(mux)
}

// Start serves on address until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve is like Start on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Info().Msg("context done, shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr <- httpServer.Shutdown(sctx)
	}()

	log.Info().Stringer("address", lis.Addr()).Msg("server listening")
	if err := httpServer.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	log.Info().Msg("server shut down successfully")
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
}

type covarianceResponse struct {
	Tasks      []int       `json:"tasks"`
	Covariance [][]float64 `json:"covariance"`
}

// ForwardRequest holds the (n x d) inputs, the task column included.
type ForwardRequest struct {
	X [][]float64 `json:"x"`
	// ObservationNoise adds the likelihood noise to the covariance.
	ObservationNoise bool `json:"observation_noise"`
}

type ForwardResponse struct {
	Mean       []float64   `json:"mean"`
	Variance   []float64   `json:"variance"`
	Covariance [][]float64 `json:"covariance"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleCovariance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	s.mu.Lock()
	c, err := s.model.EvalContextCovar()
	s.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	blocks, err := c.Matrices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, covarianceResponse{
		Tasks:      s.model.AllTasks(),
		Covariance: blocks[0],
	})
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req ForwardRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(req.X) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("empty inputs"))
		return
	}
	x, err := tensor.FromRows(req.X)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	var mvn *distribution.MultivariateNormal
	if req.ObservationNoise {
		mvn, err = s.model.Marginal(x)
	} else {
		mvn, err = s.model.Forward(x)
	}
	s.mu.Unlock()
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}

	blocks, err := mvn.Covariance.Matrices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ForwardResponse{
		Mean:       mvn.Mean.Data(),
		Variance:   mvn.Variance().Data(),
		Covariance: blocks[0],
	})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, tensor.ErrShapeMismatch),
		errors.Is(err, tensor.ErrIndexOutOfRange),
		errors.Is(err, multitask.ErrInvalidTasks):
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	log.Debug().Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("failed to write response")
	}
}
