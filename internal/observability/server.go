// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package observability exposes plugin runtime metrics and health probes
// over HTTP.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker reports whether the host has finished loading plugins.
type ReadinessChecker func() bool

// InstanceLister returns a JSON-encodable snapshot of the loaded instances.
type InstanceLister func() any

// Server serves /metrics, the /healthz probes and, when an InstanceLister
// is set, /debug/instances.
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	instances  InstanceLister
	logger     *slog.Logger
	running    atomic.Bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger. The default is slog.Default().
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithInstances enables /debug/instances.
func WithInstances(list InstanceLister) ServerOption {
	return func(s *Server) { s.instances = list }
}

// NewServer creates a server on its own registry, with Go and process
// collectors plus the runtime Metrics. addr is "host:port"; port 0 picks a
// free port.
func NewServer(addr string, ready ReadinessChecker, opts ...ServerOption) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s := &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  ready,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the collectors to hand to the plugin runtime.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start listens and serves in the background. The returned channel carries
// a serve failure, if any, and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.In("observability").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.In("observability").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	if s.instances != nil {
		mux.HandleFunc("/debug/instances", s.handleInstances)
	}

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Debug("observability server listening", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.In("observability").With("operation", "shutdown").Wrap(err)
		}
	}
	s.logger.Debug("observability server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // probe clients may disconnect
	w.Write([]byte(body))
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok\n")
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.isReady == nil || s.isReady() {
		writeText(w, http.StatusOK, "ok\n")
		return
	}
	writeText(w, http.StatusServiceUnavailable, "not ready\n")
}

func (s *Server) handleInstances(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.instances()); err != nil {
		s.logger.Warn("encode instance list", "error", err)
	}
}
