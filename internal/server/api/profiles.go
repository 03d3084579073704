package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/kathakali/internal/guider"
	"github.com/ayusman/kathakali/internal/store"
)

// Activator switches the running guider between stored profiles.
type Activator interface {
	ActivateProfile(ref string) (*store.Profile, error)
	ClearProfile() error
	ActiveProfile() *store.Profile
}

// ProfileHandler handles HTTP requests for profile resources.
type ProfileHandler struct {
	store     *store.Store
	activator Activator
}

// NewProfileHandler creates a ProfileHandler. Activation routes answer 503
// when activator is nil.
func NewProfileHandler(s *store.Store, activator Activator) *ProfileHandler {
	return &ProfileHandler{store: s, activator: activator}
}

// ServeHTTP routes:
//
//	GET, POST          /api/profiles
//	DELETE             /api/profiles/active
//	GET, PUT, DELETE   /api/profiles/{id}
//	GET                /api/profiles/{id}/export
//	POST               /api/profiles/{id}/activate
func (h *ProfileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/profiles")

	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 1 && parts[0] == "active":
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.deactivate(w, r)

	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, parts[0])
		case http.MethodPut:
			h.update(w, r, parts[0])
		case http.MethodDelete:
			h.delete(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 2 && parts[1] == "export":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.export(w, r, parts[0])

	case len(parts) == 2 && parts[1] == "activate":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.activate(w, r, parts[0])

	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// Request and response types

// profileRequest carries an optional config that is overlaid on the
// defaults on create and on the stored config on update.
type profileRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Config      json.RawMessage `json:"config,omitempty"`
}

type profileResponse struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Config      guider.Config `json:"config"`
	Active      bool          `json:"active"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

type listProfilesResponse struct {
	Profiles []profileResponse `json:"profiles"`
}

func (h *ProfileHandler) toResponse(p *store.Profile) profileResponse {
	active := false
	if h.activator != nil {
		if a := h.activator.ActiveProfile(); a != nil && a.ID == p.ID {
			active = true
		}
	}
	return profileResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Config:      p.Config,
		Active:      active,
		CreatedAt:   formatTime(p.CreatedAt),
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
}

// list handles GET /api/profiles.
func (h *ProfileHandler) list(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.Profiles().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}

	response := listProfilesResponse{
		Profiles: make([]profileResponse, 0, len(profiles)),
	}
	for _, p := range profiles {
		response.Profiles = append(response.Profiles, h.toResponse(p))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/profiles/{id}.
func (h *ProfileHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := h.lookup(w, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(p))
}

// create handles POST /api/profiles.
func (h *ProfileHandler) create(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}

	cfg := guider.DefaultConfig()
	if !overlayConfig(w, &cfg, req.Config) {
		return
	}

	p := &store.Profile{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Config:      cfg,
	}
	if err := h.store.Profiles().Create(p); err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "Profile name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to create profile")
		return
	}

	writeJSON(w, http.StatusCreated, h.toResponse(p))
}

// update handles PUT /api/profiles/{id}. A change to the active profile
// takes effect immediately.
func (h *ProfileHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := h.lookup(w, id)
	if !ok {
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name != "" {
		p.Name = req.Name
	}
	if req.Description != "" {
		p.Description = req.Description
	}
	if !overlayConfig(w, &p.Config, req.Config) {
		return
	}

	if err := h.store.Profiles().Update(p); err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "Profile name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}

	if h.activator != nil {
		if a := h.activator.ActiveProfile(); a != nil && a.ID == p.ID {
			if _, err := h.activator.ActivateProfile(p.ID); err != nil {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, h.toResponse(p))
}

// delete handles DELETE /api/profiles/{id}.
func (h *ProfileHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if h.activator != nil {
		if a := h.activator.ActiveProfile(); a != nil && a.ID == id {
			writeError(w, http.StatusConflict, "Profile is active")
			return
		}
	}

	if err := h.store.Profiles().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete profile")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// export handles GET /api/profiles/{id}/export and returns the guider
// config as YAML, the format profiles are imported from.
func (h *ProfileHandler) export(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := h.lookup(w, id)
	if !ok {
		return
	}

	data, err := yaml.Marshal(p.Config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode profile")
		return
	}

	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+p.Name+`.yaml"`)
	w.Write(data)
}

// activate handles POST /api/profiles/{id}/activate.
func (h *ProfileHandler) activate(w http.ResponseWriter, r *http.Request, id string) {
	if h.activator == nil {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not running")
		return
	}

	p, err := h.activator.ActivateProfile(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(p))
}

// deactivate handles DELETE /api/profiles/active.
func (h *ProfileHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	if h.activator == nil {
		writeError(w, http.StatusServiceUnavailable, "Pipeline not running")
		return
	}
	if err := h.activator.ClearProfile(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProfileHandler) lookup(w http.ResponseWriter, id string) (*store.Profile, bool) {
	p, err := h.store.Profiles().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get profile")
		return nil, false
	}
	return p, true
}

// overlayConfig decodes raw over cfg and validates the result, writing a 400
// on failure.
func overlayConfig(w http.ResponseWriter, cfg *guider.Config, raw json.RawMessage) bool {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid config")
			return false
		}
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
