package server

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ayusman/kathakali/internal/app"
	"github.com/ayusman/kathakali/internal/geom"
	"github.com/ayusman/kathakali/internal/guider"
	"github.com/ayusman/kathakali/internal/metric"
	"github.com/ayusman/kathakali/internal/rig"
	"github.com/ayusman/kathakali/internal/store"
)

// fakeEngine is an in-memory Engine.
type fakeEngine struct {
	mu        sync.Mutex
	snapshot  rig.Snapshot
	cfg       guider.Config
	metrics   *metric.Recorder
	frame     []byte
	streamers int
	resets    int
	profile   *store.Profile
	session   *store.Session
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		snapshot: rig.Snapshot{
			Bones:     map[string]geom.Euler{"Head": {X: 0.1}},
			Morphs:    map[string]float64{"Blinking": 1},
			Timestamp: 1,
		},
		cfg:     guider.DefaultConfig(),
		metrics: metric.NewRecorder(10),
	}
}

func (f *fakeEngine) Latest() rig.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeEngine) setSnapshot(s rig.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = s
}

func (f *fakeEngine) Status() app.Status {
	return app.Status{Running: true, Detector: "mock", Layout: "blazepose"}
}

func (f *fakeEngine) Metrics() *metric.Recorder { return f.metrics }

func (f *fakeEngine) GuiderConfig() guider.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeEngine) SetGuiderConfig(cfg guider.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

func (f *fakeEngine) ResetRig() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.snapshot.Morphs = map[string]float64{"Blinking": 0}
}

func (f *fakeEngine) Frame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

func (f *fakeEngine) AcquireStream() func() {
	f.mu.Lock()
	f.streamers++
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.streamers--
		f.mu.Unlock()
	}
}

func (f *fakeEngine) ActivateProfile(ref string) (*store.Profile, error) {
	return nil, store.ErrNotFound
}

func (f *fakeEngine) ClearProfile() error { return nil }

func (f *fakeEngine) ActiveProfile() *store.Profile { return f.profile }

func (f *fakeEngine) StartSession(name string) (*store.Session, error) {
	return nil, app.ErrNoStore
}

func (f *fakeEngine) StopSession() (*store.Session, error) {
	return nil, app.ErrNotRecording
}

func (f *fakeEngine) Recording() *store.Session { return f.session }

func newTestServer(t *testing.T, e Engine) *Server {
	t.Helper()
	s := New(Config{Engine: e, Logger: zerolog.Nop()})
	t.Cleanup(func() {
		if s.rigWS != nil {
			s.rigWS.Close()
		}
	})
	return s
}

func do(s http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/api/health", nil)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", contentType)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}

		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			rec := do(s, method, "/api/health", nil)
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	rec := do(s, http.MethodGet, "/api/nonexistent", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	// Engine routes are absent without an engine.
	rec = do(s, http.MethodGet, "/api/rig", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected /api/rig %d without engine, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestServer_StaticFiles(t *testing.T) {
	tmpDir := t.TempDir()

	testContent := "<html><body>Hello, World!</body></html>"
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	s := New(Config{StaticDir: tmpDir})

	t.Run("serves index.html at root path", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if rec.Body.String() != testContent {
			t.Errorf("expected body %q, got %q", testContent, rec.Body.String())
		}
	})

	t.Run("returns 404 for non-existent static files", func(t *testing.T) {
		rec := do(s, http.MethodGet, "/nonexistent.html", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestServer_Rig(t *testing.T) {
	e := newFakeEngine()
	s := newTestServer(t, e)

	rec := do(s, http.MethodGet, "/api/rig", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var snap rig.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	if snap.Morphs["Blinking"] != 1 || math.Abs(snap.Bones["Head"].X-0.1) > 1e-9 {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	rec = do(s, http.MethodGet, "/api/rig/reset", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET reset expected %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}

	rec = do(s, http.MethodPost, "/api/rig/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset expected %d, got %d", http.StatusOK, rec.Code)
	}
	if e.resets != 1 {
		t.Errorf("expected one reset, got %d", e.resets)
	}
}

func TestServer_Status(t *testing.T) {
	s := newTestServer(t, newFakeEngine())

	rec := do(s, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var status app.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if !status.Running || status.Detector != "mock" {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestServer_Guider(t *testing.T) {
	e := newFakeEngine()
	s := newTestServer(t, e)

	rec := do(s, http.MethodGet, "/api/guider", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET expected %d, got %d", http.StatusOK, rec.Code)
	}

	rec = do(s, http.MethodPut, "/api/guider", []byte(`{"blink":{"threshold":0.18}}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body)
	}
	if got := e.GuiderConfig(); got.Blink.Threshold != 0.18 || !got.Mouth.Enabled {
		t.Errorf("expected threshold overlaid on running config, got %+v", got.Blink)
	}

	rec = do(s, http.MethodPut, "/api/guider", []byte(`{"body":{"source":"tail"}}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid config expected %d, got %d", http.StatusBadRequest, rec.Code)
	}

	rec = do(s, http.MethodPut, "/api/guider", []byte(`nope`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON expected %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	e := newFakeEngine()
	for i := range 5 {
		e.metrics.Observe(guider.Features{
			LeftEAR: 0.3, RightEAR: 0.3, MAR: float64(i) / 10, HAR: math.NaN(),
			Head:  geom.Euler{X: math.NaN(), Y: math.NaN(), Z: math.NaN()},
			Torso: geom.Euler{X: math.NaN(), Y: math.NaN(), Z: math.NaN()},
		})
	}
	s := newTestServer(t, e)

	rec := do(s, http.MethodGet, "/api/metrics?series=mar", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var resp metricsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode metrics: %v", err)
	}
	if resp.Frames != 5 {
		t.Errorf("expected 5 frames, got %d", resp.Frames)
	}
	if resp.Summaries[metric.MAR].Count != 5 {
		t.Errorf("expected 5 MAR values, got %+v", resp.Summaries[metric.MAR])
	}
	if _, ok := resp.Summaries[metric.HAR]; ok {
		t.Error("expected no HAR summary when HAR was never measured")
	}
	if len(resp.Series[metric.MAR]) != 5 {
		t.Errorf("expected MAR series, got %v", resp.Series)
	}
}

func TestServer_MetricsChart(t *testing.T) {
	e := newFakeEngine()
	e.metrics.Observe(guider.Features{
		LeftEAR: 0.3, RightEAR: 0.28, MAR: 0.1, HAR: 0.5,
		Head:  geom.Euler{X: math.NaN(), Y: math.NaN(), Z: math.NaN()},
		Torso: geom.Euler{X: math.NaN(), Y: math.NaN(), Z: math.NaN()},
	})
	s := newTestServer(t, e)

	rec := do(s, http.MethodGet, "/api/metrics/chart", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected HTML, got %s", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"Guider Features", metric.LeftEAR, metric.MAR} {
		if !strings.Contains(body, want) {
			t.Errorf("expected chart to mention %q", want)
		}
	}
}

func TestServer_StoreRoutes(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	s := New(Config{Store: st})

	for _, path := range []string{"/api/profiles", "/api/sessions"} {
		rec := do(s, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s expected %d, got %d", path, http.StatusOK, rec.Code)
		}
	}

	// Without an engine there is nothing to record from.
	rec := do(s, http.MethodPost, "/api/sessions", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("POST /api/sessions expected %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}
