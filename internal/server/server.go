// Package server exposes the retargeting pipeline over HTTP: rig state as
// JSON and over a websocket, the camera as MJPEG, feature metrics and the
// profile and session APIs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/kathakali/internal/app"
	"github.com/ayusman/kathakali/internal/guider"
	"github.com/ayusman/kathakali/internal/metric"
	"github.com/ayusman/kathakali/internal/rig"
	"github.com/ayusman/kathakali/internal/server/api"
	"github.com/ayusman/kathakali/internal/store"
)

// Engine is the running pipeline as seen by the HTTP layer. *app.App
// implements it.
type Engine interface {
	api.Activator
	api.Recorder

	Latest() rig.Snapshot
	Status() app.Status
	Metrics() *metric.Recorder
	GuiderConfig() guider.Config
	SetGuiderConfig(guider.Config) error
	ResetRig()

	Frame() []byte
	AcquireStream() (release func())
}

var _ Engine = (*app.App)(nil)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Engine    Engine
	Logger    zerolog.Logger
	// BroadcastInterval is the websocket push and MJPEG frame period.
	BroadcastInterval time.Duration
}

// Server is the HTTP front end.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	rigWS  *RigHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.BroadcastInterval <= 0 {
		config.BroadcastInterval = 50 * time.Millisecond
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	var activator api.Activator
	var recorder api.Recorder
	if e := s.config.Engine; e != nil {
		activator, recorder = e, e

		s.rigWS = NewRigHandler(e, s.config.BroadcastInterval, s.config.Logger)
		s.mux.HandleFunc("/api/status", s.handleStatus)
		s.mux.HandleFunc("/api/rig", s.handleRig)
		s.mux.HandleFunc("/api/rig/reset", s.handleRigReset)
		s.mux.Handle("/api/rig/ws", s.rigWS)
		s.mux.HandleFunc("/api/guider", s.handleGuider)
		s.mux.Handle("/api/stream", NewStreamHandler(e, s.config.BroadcastInterval))
		s.mux.HandleFunc("/api/metrics", s.handleMetrics)
		s.mux.HandleFunc("/api/metrics/chart", s.handleMetricsChart)
	}

	if s.config.Store != nil {
		profiles := api.NewProfileHandler(s.config.Store, activator)
		sessions := api.NewSessionHandler(s.config.Store, recorder)
		s.mux.Handle("/api/profiles", profiles)
		s.mux.Handle("/api/profiles/", profiles)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if s.rigWS != nil {
		s.rigWS.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.config.Engine.Status())
}

// handleRig handles GET /api/rig with the latest rig snapshot.
func (s *Server) handleRig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.config.Engine.Latest())
}

// handleRigReset handles POST /api/rig/reset.
func (s *Server) handleRigReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.config.Engine.ResetRig()
	writeJSON(w, http.StatusOK, s.config.Engine.Latest())
}

// handleGuider handles GET and PUT /api/guider. A PUT body is overlaid on
// the running config.
func (s *Server) handleGuider(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.config.Engine.GuiderConfig())

	case http.MethodPut:
		cfg := s.config.Engine.GuiderConfig()
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if err := s.config.Engine.SetGuiderConfig(cfg); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.config.Engine.GuiderConfig())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
