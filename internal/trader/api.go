package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// APIServer provides an HTTP interface for the trading engine.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer listening on port. metrics, if not
// nil, is served at /metrics.
func NewAPIServer(engine *Engine, port int, metrics http.Handler, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		logger: logger.Named("api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's routes.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name"`
	DryRun     bool   `json:"dry_run"`
	ActiveBots int    `json:"active_bots"`
	StartTime  string `json:"start_time"`
	Uptime     string `json:"uptime"`
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := StatusResponse{
		UUID:       s.engine.UUID,
		Name:       s.engine.Name,
		DryRun:     s.engine.DryRun(),
		ActiveBots: s.engine.ActiveBots(),
		StartTime:  s.engine.StartTime.Format(time.RFC3339),
		Uptime:     time.Since(s.engine.StartTime).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}
