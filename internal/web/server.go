// Package web exposes the operational HTTP surface: a health probe and a
// read-only view of the rebalance job ledger.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/internal/services/health"
	"go.uber.org/zap"
)

type healthChecker interface {
	Health() health.Status
}

type jobReader interface {
	Jobs() []entity.RebalanceJob
}

// Server serves the ops endpoints.
type Server struct {
	Addr   string
	Engine interface {
		healthChecker
		jobReader
	}
	Logger *zap.Logger
}

// NewServer creates an ops server backed by the engine.
func NewServer(addr string, engine interface {
	healthChecker
	jobReader
}, logger *zap.Logger) *Server {
	return &Server{Addr: addr, Engine: engine, Logger: logger}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/jobs", s.handleJobs)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.Logger.Info("ops server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.Engine.Health()

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.Logger.Warn("failed to write health response", zap.Error(err))
	}
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Engine.Jobs()); err != nil {
		s.Logger.Warn("failed to write jobs response", zap.Error(err))
	}
}
