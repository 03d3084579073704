package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/kathakali/internal/app"
	"github.com/ayusman/kathakali/internal/guider"
	"github.com/ayusman/kathakali/internal/metric"
	"github.com/ayusman/kathakali/internal/store"
)

// Recorder starts and stops session recording on the running pipeline.
type Recorder interface {
	StartSession(name string) (*store.Session, error)
	StopSession() (*store.Session, error)
	Recording() *store.Session
}

// SessionHandler handles HTTP requests for recorded sessions.
type SessionHandler struct {
	store    *store.Store
	recorder Recorder
}

// NewSessionHandler creates a SessionHandler. Recording routes answer 503
// when recorder is nil.
func NewSessionHandler(s *store.Store, recorder Recorder) *SessionHandler {
	return &SessionHandler{store: s, recorder: recorder}
}

// ServeHTTP routes:
//
//	GET, POST       /api/sessions
//	GET, DELETE     /api/sessions/active
//	GET, DELETE     /api/sessions/{id}
//	GET             /api/sessions/{id}/samples
//	GET             /api/sessions/{id}/plot?features=mar,har
//	GET             /api/sessions/{id}/suggest
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/sessions")

	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.start(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 1 && parts[0] == "active":
		switch r.Method {
		case http.MethodGet:
			h.active(w, r)
		case http.MethodDelete:
			h.stop(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, parts[0])
		case http.MethodDelete:
			h.delete(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 2:
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		switch parts[1] {
		case "samples":
			h.samples(w, r, parts[0])
		case "plot":
			h.plot(w, r, parts[0])
		case "suggest":
			h.suggest(w, r, parts[0])
		default:
			writeError(w, http.StatusNotFound, "Not found")
		}

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// Request and response types

type startSessionRequest struct {
	Name string `json:"name"`
}

type sessionResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	ProfileID string  `json:"profile_id,omitempty"`
	Rig       string  `json:"rig"`
	Layout    string  `json:"layout"`
	Samples   int     `json:"samples"`
	StartedAt string  `json:"started_at"`
	EndedAt   string  `json:"ended_at,omitempty"`
	Duration  float64 `json:"duration_s"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type listSamplesResponse struct {
	Samples []store.Sample `json:"samples"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:        s.ID,
		Name:      s.Name,
		ProfileID: s.ProfileID,
		Rig:       s.Rig,
		Layout:    s.Layout,
		Samples:   s.Samples,
		StartedAt: formatTime(s.StartedAt),
		Duration:  s.Duration().Seconds(),
	}
	if s.EndedAt != nil {
		resp.EndedAt = formatTime(*s.EndedAt)
	}
	return resp
}

// list handles GET /api/sessions.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.Sessions().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{
		Sessions: make([]sessionResponse, 0, len(sessions)),
	}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toSessionResponse(s))
	}

	writeJSON(w, http.StatusOK, response)
}

// start handles POST /api/sessions and begins recording.
func (h *SessionHandler) start(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not running")
		return
	}

	var req startSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	s, err := h.recorder.StartSession(req.Name)
	if err != nil {
		if errors.Is(err, app.ErrRecording) {
			writeError(w, http.StatusConflict, "Already recording")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

// active handles GET /api/sessions/active.
func (h *SessionHandler) active(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not running")
		return
	}
	s := h.recorder.Recording()
	if s == nil {
		writeError(w, http.StatusNotFound, "Not recording")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// stop handles DELETE /api/sessions/active and ends the recording.
func (h *SessionHandler) stop(w http.ResponseWriter, r *http.Request) {
	if h.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not running")
		return
	}

	s, err := h.recorder.StopSession()
	if err != nil {
		if errors.Is(err, app.ErrNotRecording) {
			writeError(w, http.StatusNotFound, "Not recording")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to stop session")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// get handles GET /api/sessions/{id}.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.lookup(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// delete handles DELETE /api/sessions/{id}.
func (h *SessionHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if h.recorder != nil {
		if s := h.recorder.Recording(); s != nil && s.ID == id {
			writeError(w, http.StatusConflict, "Session is recording")
			return
		}
	}

	if err := h.store.Sessions().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// samples handles GET /api/sessions/{id}/samples.
func (h *SessionHandler) samples(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := h.lookup(w, id); !ok {
		return
	}

	samples, err := h.store.Samples().GetBySessionID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list samples")
		return
	}
	if samples == nil {
		samples = []store.Sample{}
	}

	writeJSON(w, http.StatusOK, listSamplesResponse{Samples: samples})
}

// plot handles GET /api/sessions/{id}/plot and renders the requested
// features, EAR and MAR by default, as a PNG.
func (h *SessionHandler) plot(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.lookup(w, id)
	if !ok {
		return
	}

	features := []string{metric.LeftEAR, metric.RightEAR, metric.MAR}
	if q := r.URL.Query().Get("features"); q != "" {
		features = strings.Split(q, ",")
	}

	samples, err := h.store.Samples().GetBySessionID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list samples")
		return
	}

	p, err := metric.Plot(s.Name, "Value", store.FeatureSeries(samples, features...))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to plot session")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if err := metric.WritePNG(w, p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to render plot")
	}
}

// suggest handles GET /api/sessions/{id}/suggest and returns a guider
// config calibrated to the recorded subject. The session's profile, or the
// defaults, supply everything calibration leaves alone.
func (h *SessionHandler) suggest(w http.ResponseWriter, r *http.Request, id string) {
	s, ok := h.lookup(w, id)
	if !ok {
		return
	}

	base := guider.DefaultConfig()
	if s.ProfileID != "" {
		if p, err := h.store.Profiles().GetByID(s.ProfileID); err == nil {
			base = p.Config
		}
	}

	samples, err := h.store.Samples().GetBySessionID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list samples")
		return
	}

	cfg, err := metric.Calibrate(base,
		store.FeatureValues(samples, metric.LeftEAR, metric.RightEAR),
		store.FeatureValues(samples, metric.MAR),
	)
	if err != nil {
		if errors.Is(err, metric.ErrNotEnoughSamples) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to calibrate")
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

func (h *SessionHandler) lookup(w http.ResponseWriter, id string) (*store.Session, bool) {
	s, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return nil, false
	}
	return s, true
}
