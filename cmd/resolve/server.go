// Package main provides the Resolve server implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/arclight-ai/resolve/api/handlers"
	"github.com/arclight-ai/resolve/config"
	"github.com/arclight-ai/resolve/feedback"
	"github.com/arclight-ai/resolve/internal/server"
	"github.com/arclight-ai/resolve/pipeline"
	"github.com/arclight-ai/resolve/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// researchServer hosts the HTTP surface for running queries through the
// pipeline, alongside a separate metrics endpoint.
type researchServer struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	feedback *feedback.Sink
	logger   *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager
	healthHandler  *handlers.HealthHandler

	wg sync.WaitGroup
}

func newResearchServer(cfg *config.Config, p *pipeline.Pipeline, sink *feedback.Sink, logger *zap.Logger) *researchServer {
	return &researchServer{cfg: cfg, pipeline: p, feedback: sink, logger: logger}
}

// Start brings up the HTTP API server and the metrics server.
func (s *researchServer) Start() error {
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))
	mux.HandleFunc("/v1/research", s.handleResearch)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
	)

	httpConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager(handler, httpConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("research HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.metricsManager = server.NewManager(metricsMux, metricsConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))

	return nil
}

// researchRequestBody is the wire shape of a POST /v1/research call.
type researchRequestBody struct {
	Query              string  `json:"query"`
	Audience           string  `json:"audience"`
	Domain             string  `json:"domain"`
	ProviderPreference string  `json:"provider"`
	CrossValidate      bool    `json:"cross_validate"`
	QualityThreshold   float64 `json:"quality_threshold"`
}

func (s *researchServer) handleResearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		handlers.WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", s.logger)
		return
	}

	var body researchRequestBody
	if err := handlers.DecodeJSONBody(w, r, &body, s.logger); err != nil {
		return
	}

	opts := pipeline.Options{
		Audience:           body.Audience,
		Domain:             body.Domain,
		ProviderPreference: body.ProviderPreference,
		CrossValidate:      body.CrossValidate,
		CrossValidationN:   s.cfg.Manager.CrossValidationProviders,
		QualityThreshold:   body.QualityThreshold,
	}
	if opts.QualityThreshold == 0 {
		opts.QualityThreshold = s.cfg.Manager.MinQualityThreshold
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.Pipeline.TimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	result, err := s.pipeline.ProcessQuery(ctx, body.Query, opts)
	s.feedback.RecordMetrics(result, time.Since(start))
	if err != nil {
		handlers.WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, err.Error(), s.logger)
		return
	}

	handlers.WriteSuccess(w, result)
}

// WaitForShutdown blocks until the HTTP manager receives a shutdown
// signal, then runs cleanup.
func (s *researchServer) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown tears down both servers in order and waits for in-flight work.
func (s *researchServer) Shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("http server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()
	s.logger.Info("graceful shutdown completed")
}
