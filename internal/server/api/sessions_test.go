package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/ayusman/kathakali/internal/app"
	"github.com/ayusman/kathakali/internal/guider"
	"github.com/ayusman/kathakali/internal/metric"
	"github.com/ayusman/kathakali/internal/store"
)

type fakeRecorder struct {
	store   *store.Store
	current *store.Session
}

func (f *fakeRecorder) StartSession(name string) (*store.Session, error) {
	if f.current != nil {
		return nil, app.ErrRecording
	}
	s := &store.Session{ID: "rec-1", Name: name, Rig: "default", Layout: "blazepose"}
	if err := f.store.Sessions().Create(s); err != nil {
		return nil, err
	}
	f.current = s
	return s, nil
}

func (f *fakeRecorder) StopSession() (*store.Session, error) {
	if f.current == nil {
		return nil, app.ErrNotRecording
	}
	s := f.current
	f.current = nil
	end := time.Now()
	s.EndedAt = &end
	return s, f.store.Sessions().End(s.ID, end)
}

func (f *fakeRecorder) Recording() *store.Session {
	return f.current
}

// recordSession stores a session of n samples with open eyes and a mouth
// opening and closing.
func recordSession(t *testing.T, s *store.Store, id string, n int) {
	t.Helper()

	if err := s.Sessions().Create(&store.Session{ID: id, Name: "take", Rig: "default", Layout: "blazepose"}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	samples := make([]store.Sample, n)
	for i := range samples {
		mar := 0.05
		if i%4 == 0 {
			mar = 0.6
		}
		samples[i] = store.Sample{
			OffsetMs: int64(i * 100),
			Features: map[string]float64{
				metric.LeftEAR:  0.3,
				metric.RightEAR: 0.3,
				metric.MAR:      mar,
			},
		}
	}
	if err := s.Samples().Append(id, samples); err != nil {
		t.Fatalf("failed to append samples: %v", err)
	}
}

func TestSessionHandler_List(t *testing.T) {
	s := newTestStore(t)
	recordSession(t, s, "s1", 3)
	handler := NewSessionHandler(s, nil)

	rec := serve(handler, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
	}

	var resp listSessionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].Samples != 3 {
		t.Errorf("unexpected sessions %+v", resp.Sessions)
	}
}

func TestSessionHandler_Recording(t *testing.T) {
	s := newTestStore(t)

	t.Run("without pipeline", func(t *testing.T) {
		handler := NewSessionHandler(s, nil)
		rec := serve(handler, http.MethodPost, "/api/sessions", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
	})

	handler := NewSessionHandler(s, &fakeRecorder{store: s})

	rec := serve(handler, http.MethodGet, "/api/sessions/active", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("idle GET active expected %d, got %d", http.StatusNotFound, rec.Code)
	}

	rec = serve(handler, http.MethodPost, "/api/sessions", []byte(`{"name":"warmup"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("start expected %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body)
	}
	var started sessionResponse
	json.NewDecoder(rec.Body).Decode(&started)
	if started.Name != "warmup" || started.EndedAt != "" {
		t.Errorf("unexpected started session %+v", started)
	}

	rec = serve(handler, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("second start expected %d, got %d", http.StatusConflict, rec.Code)
	}

	rec = serve(handler, http.MethodDelete, "/api/sessions/"+started.ID, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("deleting the recording session expected %d, got %d", http.StatusConflict, rec.Code)
	}

	rec = serve(handler, http.MethodGet, "/api/sessions/active", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET active expected %d, got %d", http.StatusOK, rec.Code)
	}

	rec = serve(handler, http.MethodDelete, "/api/sessions/active", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop expected %d, got %d", http.StatusOK, rec.Code)
	}
	var stopped sessionResponse
	json.NewDecoder(rec.Body).Decode(&stopped)
	if stopped.EndedAt == "" {
		t.Error("expected end time after stop")
	}

	rec = serve(handler, http.MethodDelete, "/api/sessions/active", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second stop expected %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSessionHandler_GetDelete(t *testing.T) {
	s := newTestStore(t)
	recordSession(t, s, "s1", 2)
	handler := NewSessionHandler(s, nil)

	rec := serve(handler, http.MethodGet, "/api/sessions/s1", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET expected %d, got %d", http.StatusOK, rec.Code)
	}

	rec = serve(handler, http.MethodDelete, "/api/sessions/s1", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE expected %d, got %d", http.StatusNoContent, rec.Code)
	}

	rec = serve(handler, http.MethodGet, "/api/sessions/s1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete expected %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSessionHandler_Samples(t *testing.T) {
	s := newTestStore(t)
	recordSession(t, s, "s1", 4)
	handler := NewSessionHandler(s, nil)

	rec := serve(handler, http.MethodGet, "/api/sessions/s1/samples", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
	}

	var resp listSamplesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Samples) != 4 {
		t.Errorf("expected 4 samples, got %d", len(resp.Samples))
	}
	if resp.Samples[0].Features[metric.MAR] != 0.6 {
		t.Errorf("expected first MAR 0.6, got %v", resp.Samples[0].Features)
	}

	rec = serve(handler, http.MethodGet, "/api/sessions/missing/samples", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session expected %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestSessionHandler_Plot(t *testing.T) {
	s := newTestStore(t)
	recordSession(t, s, "s1", 10)
	handler := NewSessionHandler(s, nil)

	rec := serve(handler, http.MethodGet, "/api/sessions/s1/plot?features=mar", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("expected PNG signature")
	}
}

func TestSessionHandler_Suggest(t *testing.T) {
	s := newTestStore(t)
	handler := NewSessionHandler(s, nil)

	recordSession(t, s, "short", 5)
	rec := serve(handler, http.MethodGet, "/api/sessions/short/suggest", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("short session expected %d, got %d", http.StatusUnprocessableEntity, rec.Code)
	}

	recordSession(t, s, "long", 40)
	rec = serve(handler, http.MethodGet, "/api/sessions/long/suggest", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body)
	}

	var cfg guider.Config
	if err := json.NewDecoder(rec.Body).Decode(&cfg); err != nil {
		t.Fatalf("failed to decode config: %v", err)
	}
	if cfg.Blink.Threshold < 0.2 || cfg.Blink.Threshold > 0.22 {
		t.Errorf("expected blink threshold near 0.21, got %f", cfg.Blink.Threshold)
	}
	if cfg.Mouth.A.Ramp.Max <= cfg.Mouth.A.Ramp.Min {
		t.Errorf("expected calibrated A band, got %+v", cfg.Mouth.A.Ramp)
	}
}
