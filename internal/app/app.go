// Package app runs the capture pipeline: camera frames in, rig state out.
package app

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ayusman/kathakali/internal/capture"
	"github.com/ayusman/kathakali/internal/config"
	"github.com/ayusman/kathakali/internal/detector"
	"github.com/ayusman/kathakali/internal/guider"
	"github.com/ayusman/kathakali/internal/metric"
	"github.com/ayusman/kathakali/internal/pose"
	"github.com/ayusman/kathakali/internal/rig"
	"github.com/ayusman/kathakali/internal/store"
)

var (
	// ErrNoStore is returned by operations that persist state when the app
	// runs without a database.
	ErrNoStore = errors.New("no store configured")
	// ErrRecording is returned when a session is already being recorded.
	ErrRecording = errors.New("session already recording")
	// ErrNotRecording is returned when no session is being recorded.
	ErrNotRecording = errors.New("no session recording")
)

// Config holds the dependencies of an App. Camera, Detector and Rig are
// built from Settings when nil.
type Config struct {
	Settings config.Config
	Store    *store.Store
	Logger   zerolog.Logger

	Camera   capture.Camera
	Detector detector.Detector
	Rig      *rig.Model
}

// Status describes the running pipeline.
type Status struct {
	Running bool `json:"running"`
	// Active is false while the motion gate holds detection off.
	Active    bool   `json:"active"`
	Frames    int64  `json:"frames"`
	Face      bool   `json:"face"`
	Pose      bool   `json:"pose"`
	FPS       int    `json:"fps"`
	Detector  string `json:"detector"`
	Layout    string `json:"layout"`
	Rig       string `json:"rig"`
	Profile   string `json:"profile,omitempty"`
	Session   string `json:"session,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// App is the retargeting pipeline.
type App struct {
	settings config.Config
	store    *store.Store
	log      zerolog.Logger

	camera   capture.Camera
	motion   *capture.MotionDetector
	gate     *capture.Gate
	detector detector.Detector
	layout   *pose.Layout
	rig      *rig.Model
	metrics  *metric.Recorder

	// tickMu serializes frame processing with guider swaps and recording
	// changes.
	tickMu sync.Mutex

	mu      sync.RWMutex
	guider  *guider.Guider
	profile *store.Profile
	latest  rig.Snapshot
	status  Status
	jpeg    []byte
	session *recording
	stopCh  chan struct{}
	done    chan struct{}

	streamers atomic.Int32
}

// New creates an App. A store holding an active profile setting starts the
// guider on that profile instead of Settings.Guider.
func New(cfg Config) (*App, error) {
	s := cfg.Settings
	log := cfg.Logger.With().Str("component", "app").Logger()

	layout, err := pose.LayoutByName(s.Detector.Layout)
	if err != nil {
		return nil, err
	}

	r := cfg.Rig
	if r == nil {
		r, err = loadRig(s.Rig, guider.Requirements(s.Guider))
		if err != nil {
			return nil, err
		}
	}

	g, err := guider.New(s.Guider, r, layout)
	if err != nil {
		return nil, err
	}

	cam := cfg.Camera
	if cam == nil {
		cam = capture.NewCamera(s.Camera)
	}

	a := &App{
		settings: s,
		store:    cfg.Store,
		log:      log,
		camera:   cam,
		motion:   capture.NewMotionDetector(s.Pipeline.Motion),
		gate:     capture.NewGate(s.Pipeline.Gate),
		layout:   layout,
		rig:      r,
		metrics:  metric.NewRecorder(s.Pipeline.MetricWindow),
		guider:   g,
		latest:   rig.Capture(r, time.Now().UnixMilli()),
	}

	a.detector = cfg.Detector
	a.status.Detector = "custom"
	if a.detector == nil {
		a.detector, a.status.Detector, err = newDetector(s.Detector, layout, log)
		if err != nil {
			return nil, err
		}
	}
	a.status.Layout = layout.Name
	a.status.Rig = r.Name()
	a.status.Active = a.gate.Active()
	a.status.FPS = a.gate.FPS()

	if a.store != nil {
		a.restoreProfile()
	}

	return a, nil
}

// newDetector prefers MediaPipe and falls back to the preset mock when the
// service is not installed.
func newDetector(cfg config.DetectorConfig, layout *pose.Layout, log zerolog.Logger) (detector.Detector, string, error) {
	if !cfg.Mock {
		mp, err := detector.NewMediaPipeDetector(cfg.Config)
		if err == nil {
			log.Info().Str("layout", layout.Name).Msg("using mediapipe detection")
			return mp, "mediapipe", nil
		}
		log.Warn().Err(err).Msg("mediapipe not available, using mock detector")
	}

	mock, err := detector.NewPresetDetector(layout, cfg.MockHold, cfg.MockPresets...)
	if err != nil {
		return nil, "", err
	}
	return mock, "mock", nil
}

func loadRig(cfg config.RigConfig, req rig.Requirements) (*rig.Model, error) {
	if cfg.File == "" {
		return rig.FullModel("default"), nil
	}

	desc, err := rig.ReadDescription(cfg.File)
	if err != nil {
		return nil, err
	}

	names, err := rig.DefaultNames()
	if err != nil {
		return nil, err
	}
	if cfg.Names != "" {
		data, err := os.ReadFile(cfg.Names)
		if err != nil {
			return nil, fmt.Errorf("read name table: %w", err)
		}
		if names, err = rig.ParseNames(data); err != nil {
			return nil, err
		}
	}

	return rig.Load(desc, names, req)
}

func (a *App) restoreProfile() {
	ref, err := a.store.Settings().Get(store.SettingActiveProfile)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err == nil {
		_, err = a.ActivateProfile(ref)
	}
	if err != nil {
		a.log.Warn().Err(err).Str("profile", ref).Msg("failed to restore active profile")
	}
}

// Start opens the camera and runs the pipeline until Stop. Starting a
// running pipeline does nothing.
func (a *App) Start() error {
	a.mu.Lock()
	if a.stopCh != nil {
		a.mu.Unlock()
		return nil
	}

	if err := a.camera.Open(); err != nil {
		a.mu.Unlock()
		return err
	}
	a.camera.SetFPS(a.gate.FPS())

	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	a.status.Running = true
	go a.run(a.stopCh, a.done)
	a.mu.Unlock()

	a.log.Info().Int("fps", a.gate.FPS()).Bool("gated", a.gate.Enabled()).Msg("pipeline started")

	if a.settings.Pipeline.Record.Enabled && a.store != nil {
		if _, err := a.StartSession(""); err != nil {
			a.log.Warn().Err(err).Msg("failed to start recording")
		}
	}
	return nil
}

// Stop halts the pipeline, closes the camera and ends any recording.
func (a *App) Stop() {
	a.mu.Lock()
	stop, done := a.stopCh, a.done
	a.stopCh, a.done = nil, nil
	a.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	if _, err := a.StopSession(); err != nil && !errors.Is(err, ErrNotRecording) {
		a.log.Error().Err(err).Msg("failed to end recording")
	}

	if err := a.camera.Close(); err != nil {
		a.log.Error().Err(err).Msg("error closing camera")
	}

	if stop != nil {
		a.log.Info().Msg("pipeline stopped")
	}
}

// Close stops the pipeline and releases the detector.
func (a *App) Close() error {
	a.Stop()
	a.motion.Close()
	return a.detector.Close()
}

// Wait blocks until the pipeline loop exits, either through Stop or because
// a file source ran out.
func (a *App) Wait() {
	a.mu.RLock()
	done := a.done
	a.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// Latest returns the rig state after the most recent frame.
func (a *App) Latest() rig.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// Status returns the pipeline status.
func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Metrics returns the per-feature rolling windows.
func (a *App) Metrics() *metric.Recorder {
	return a.metrics
}

// Rig returns the driven rig. Reading it while the pipeline runs races with
// the guider; use Latest instead.
func (a *App) Rig() *rig.Model {
	return a.rig
}

// Layout returns the pose topology the detector emits.
func (a *App) Layout() *pose.Layout {
	return a.layout
}

// Camera returns the frame source.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Detector returns the keypoint detector.
func (a *App) Detector() detector.Detector {
	return a.detector
}

// GuiderConfig returns the configuration of the running guider.
func (a *App) GuiderConfig() guider.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.guider.Config()
}

// SetGuiderConfig swaps in a guider built from cfg between two frames. The
// rig keeps its current state, so the new thresholds take over smoothly.
func (a *App) SetGuiderConfig(cfg guider.Config) error {
	g, err := guider.New(cfg, a.rig, a.layout)
	if err != nil {
		return err
	}

	a.tickMu.Lock()
	defer a.tickMu.Unlock()

	a.mu.Lock()
	a.guider = g
	a.mu.Unlock()

	a.log.Debug().Msg("guider config updated")
	return nil
}

// ReloadSettings applies a reloaded configuration file. The guider section
// only takes effect when no profile is active.
func (a *App) ReloadSettings(cfg config.Config) error {
	a.mu.Lock()
	a.settings.Guider = cfg.Guider
	profile := a.profile
	a.mu.Unlock()

	if profile != nil {
		a.log.Info().Str("profile", profile.Name).Msg("config reloaded, active profile kept")
		return nil
	}
	return a.SetGuiderConfig(cfg.Guider)
}

// ActivateProfile looks a profile up by ID or name, switches the guider to
// its configuration and remembers it across restarts.
func (a *App) ActivateProfile(ref string) (*store.Profile, error) {
	if a.store == nil {
		return nil, ErrNoStore
	}

	p, err := a.store.Profiles().Lookup(ref)
	if err != nil {
		return nil, err
	}
	if err := a.SetGuiderConfig(p.Config); err != nil {
		return nil, fmt.Errorf("profile %q: %w", p.Name, err)
	}
	if err := a.store.Settings().Set(store.SettingActiveProfile, p.ID); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.profile = p
	a.status.Profile = p.Name
	a.mu.Unlock()

	a.log.Info().Str("profile", p.Name).Msg("profile activated")
	return p, nil
}

// ClearProfile returns the guider to the configured defaults.
func (a *App) ClearProfile() error {
	a.mu.RLock()
	base := a.settings.Guider
	a.mu.RUnlock()

	if err := a.SetGuiderConfig(base); err != nil {
		return err
	}
	if a.store != nil {
		if err := a.store.Settings().Delete(store.SettingActiveProfile); err != nil {
			return err
		}
	}

	a.mu.Lock()
	a.profile = nil
	a.status.Profile = ""
	a.mu.Unlock()
	return nil
}

// ActiveProfile returns the active profile, or nil.
func (a *App) ActiveProfile() *store.Profile {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.profile
}

// ResetRig returns the rig to rest, forgets the lean baseline and empties
// the metric windows.
func (a *App) ResetRig() {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()

	a.rig.Reset()
	a.metrics.Reset()

	a.mu.Lock()
	a.guider.ResetBaseline()
	a.latest = rig.Capture(a.rig, time.Now().UnixMilli())
	a.mu.Unlock()
}
