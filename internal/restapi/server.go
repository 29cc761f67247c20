// Package restapi exposes Cortex's optional OpenAI-compatible REST surface
// (§6), gated by config.ServerConfig.EnableREST. Grounded on the teacher's
// internal/gateway/http_server.go: a hand-rolled http.ServeMux (no router
// framework), an explicit net.Listen before Serve so startup failures
// surface synchronously, and a graceful context.Context-bound Shutdown.
package restapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aj-archipelago/cortex/internal/obsmetrics"
	"github.com/aj-archipelago/cortex/internal/pathway"
	"github.com/aj-archipelago/cortex/internal/progressbus"
	"github.com/aj-archipelago/cortex/internal/providers"
	"github.com/aj-archipelago/cortex/pkg/cortex"
)

// Server is Cortex's REST surface: the OpenAI-compatible /v1/* endpoints
// plus /internal/metrics, all mounted on one http.ServeMux.
type Server struct {
	Executor   *pathway.Executor
	Registry   *pathway.Registry
	Dispatcher *providers.Registry
	Models     map[string]*cortex.Model
	Bus        *progressbus.Bus
	Metrics    *obsmetrics.Metrics
	MetricsReg *prometheus.Registry
	Logger     *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer constructs the REST surface. Metrics/MetricsReg may be nil, in
// which case /internal/metrics is not mounted.
func NewServer(executor *pathway.Executor, registry *pathway.Registry, dispatcher *providers.Registry, models map[string]*cortex.Model, bus *progressbus.Bus, metrics *obsmetrics.Metrics, metricsReg *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Executor:   executor,
		Registry:   registry,
		Dispatcher: dispatcher,
		Models:     models,
		Bus:        bus,
		Metrics:    metrics,
		MetricsReg: metricsReg,
		Logger:     logger,
	}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/v1/completions", s.handleCompletions)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.Metrics != nil && s.MetricsReg != nil {
		mux.Handle("/internal/metrics", obsmetrics.Handler(s.MetricsReg))
	}
	return mux
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound, mirroring the teacher's synchronous net.Listen +
// backgrounded Serve split so init failures surface to the caller.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("restapi: listen %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("restapi server error", "error", err)
		}
	}()

	s.Logger.Info("restapi listening", "addr", addr)
	return nil
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.Executor != nil {
		body["endpoints"] = s.Executor.EndpointStatus()
	}
	writeJSON(w, http.StatusOK, body)
}
