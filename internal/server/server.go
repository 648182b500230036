// Package server provides the HTTP servers for the BeatGate gateway.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bgruszka/beatgate/internal/config"
	"github.com/bgruszka/beatgate/internal/generator"
	"github.com/bgruszka/beatgate/internal/metrics"
	"github.com/bgruszka/beatgate/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const readyDialTimeout = 2 * time.Second

// Server owns the public gateway listener and the metrics listener.
type Server struct {
	config        *config.GatewayConfig
	httpServer    *http.Server
	metricsServer *http.Server
	router        chi.Router
}

// HealthResponse represents the JSON response for health check endpoints.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// BackendStatus is the reachability of one backend address.
type BackendStatus struct {
	Addr      string `json:"addr"`
	Reachable bool   `json:"reachable"`
}

// ReadyResponse represents the JSON response for the readiness endpoint.
type ReadyResponse struct {
	Status    string          `json:"status"`
	Backends  []BackendStatus `json:"backends"`
	Timestamp string          `json:"timestamp"`
}

// NewServer creates a Server that serves gateway for every path other than the
// health endpoints. Requests reaching gateway always carry a request ID.
func NewServer(cfg *config.GatewayConfig, gateway http.Handler, gen generator.Generator) *Server {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", healthHandler)
	r.Get("/ready", readyHandler(cfg.BackendAddrs()))

	r.Handle("/*", middleware.RequestID(cfg.RequestIDHeader, gen)(gateway))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.GatewayPort),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", metrics.Handler())

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsRouter,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	return &Server{
		config:        cfg,
		httpServer:    httpServer,
		metricsServer: metricsServer,
		router:        r,
	}
}

// Handler returns the gateway router, for embedding in test servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for gateway requests.
// This method blocks until the server is shut down or an error occurs.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.httpServer.Addr).
		Str("user_file_service", s.config.UserFileServiceURL).
		Str("notification_service", s.config.NotificationServiceURL).
		Int("rate_limit", s.config.RateLimitRequests).
		Dur("rate_limit_window", s.config.RateLimitWindow).
		Msg("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// StartMetrics begins serving /metrics. It blocks like Start.
func (s *Server) StartMetrics() error {
	log.Info().Str("addr", s.metricsServer.Addr).Msg("Starting metrics server")
	return s.metricsServer.ListenAndServe()
}

// Shutdown gracefully shuts down both listeners with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	if merr := s.metricsServer.Shutdown(ctx); merr != nil {
		err = errors.Join(err, merr)
	}
	return err
}

// healthHandler responds with a simple health check status.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler returns a handler that checks if every backend is reachable.
func readyHandler(addrs []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := ReadyResponse{
			Status:    "ready",
			Backends:  make([]BackendStatus, 0, len(addrs)),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		for _, addr := range addrs {
			reachable := checkTargetReachable(r.Context(), addr)
			if !reachable {
				response.Status = "not_ready"
			}
			response.Backends = append(response.Backends, BackendStatus{Addr: addr, Reachable: reachable})
		}

		w.Header().Set("Content-Type", "application/json")
		if response.Status == "ready" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// checkTargetReachable attempts a TCP connection to verify the target is reachable.
func checkTargetReachable(ctx context.Context, addr string) bool {
	dialer := net.Dialer{Timeout: readyDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		log.Debug().Err(err).Str("target", addr).Msg("Target not reachable")
		return false
	}
	_ = conn.Close()
	return true
}
