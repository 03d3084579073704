// Package config loads kathakali.yaml through viper, layered over compiled-in
// defaults and KATHAKALI_ environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/kathakali/internal/capture"
	"github.com/ayusman/kathakali/internal/detector"
	"github.com/ayusman/kathakali/internal/guider"
	"github.com/ayusman/kathakali/internal/logging"
	"github.com/ayusman/kathakali/internal/pose"
)

// EnvPrefix prefixes environment overrides, e.g. KATHAKALI_SERVER_ADDR.
const EnvPrefix = "KATHAKALI"

// Config holds all application configuration.
type Config struct {
	Log      logging.Config  `mapstructure:"log" yaml:"log"`
	Camera   capture.Config  `mapstructure:"camera" yaml:"camera"`
	Detector DetectorConfig  `mapstructure:"detector" yaml:"detector"`
	Guider   guider.Config   `mapstructure:"guider" yaml:"guider"`
	Rig      RigConfig       `mapstructure:"rig" yaml:"rig"`
	Store    StoreConfig     `mapstructure:"store" yaml:"store"`
	Server   ServerConfig    `mapstructure:"server" yaml:"server"`
	Pipeline PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
}

// DetectorConfig selects the keypoint backend.
type DetectorConfig struct {
	detector.Config `mapstructure:",squash" yaml:",inline"`

	// Mock serves synthetic presets instead of running MediaPipe.
	Mock bool `mapstructure:"mock" yaml:"mock"`
	// MockPresets is the preset cycle the mock plays.
	MockPresets []string `mapstructure:"mock_presets" yaml:"mock_presets"`
	// MockHold repeats each preset for this many frames.
	MockHold int `mapstructure:"mock_hold" yaml:"mock_hold"`
}

// RigConfig names the character to drive.
type RigConfig struct {
	// File is a YAML character description. Empty drives a built-in rig
	// exposing every bone and morph.
	File string `mapstructure:"file" yaml:"file"`
	// Names overrides the built-in MMD name table.
	Names string `mapstructure:"names" yaml:"names"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	// BroadcastInterval is the websocket rig-state push period.
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval" yaml:"broadcast_interval"`
	// StreamQuality is the MJPEG JPEG quality, 1 to 100.
	StreamQuality int `mapstructure:"stream_quality" yaml:"stream_quality"`
}

// PipelineConfig tunes the capture loop.
type PipelineConfig struct {
	Motion capture.MotionConfig `mapstructure:"motion" yaml:"motion"`
	Gate   capture.GateConfig   `mapstructure:"gate" yaml:"gate"`
	// MetricWindow is how many frames of each feature are kept.
	MetricWindow int          `mapstructure:"metric_window" yaml:"metric_window"`
	Record       RecordConfig `mapstructure:"record" yaml:"record"`
}

// RecordConfig controls session recording.
type RecordConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Interval is the minimum time between stored samples.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// Batch is how many samples are buffered per database write.
	Batch int `mapstructure:"batch" yaml:"batch"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Log:    logging.DefaultConfig(),
		Camera: capture.DefaultConfig(),
		Detector: DetectorConfig{
			Config:      detector.DefaultConfig(),
			MockPresets: []string{"rest", "blink", "vowel_a", "vowel_i", "t_pose", "bent_elbows", "grin", "vowel_u"},
			MockHold:    15,
		},
		Guider: guider.DefaultConfig(),
		Store:  StoreConfig{Path: filepath.Join(DataDir(), "kathakali.db")},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8080",
			BroadcastInterval: 50 * time.Millisecond,
			StreamQuality:     75,
		},
		Pipeline: PipelineConfig{
			Motion:       capture.DefaultMotionConfig(),
			Gate:         capture.DefaultGateConfig(),
			MetricWindow: 300,
			Record: RecordConfig{
				Interval: 100 * time.Millisecond,
				Batch:    50,
			},
		},
	}
}

// DataDir is ~/.kathakali, or the working directory when there is no home.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".kathakali")
}

// Validate checks the configuration for errors a run would hit later.
func (c Config) Validate() error {
	var errs []error

	if err := c.Guider.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := pose.LayoutByName(c.Detector.Layout); err != nil {
		errs = append(errs, fmt.Errorf("detector.layout: %w", err))
	}
	if !c.Detector.Face && !c.Detector.Pose {
		errs = append(errs, errors.New("detector: face and pose are both disabled"))
	}
	if c.Server.StreamQuality < 1 || c.Server.StreamQuality > 100 {
		errs = append(errs, fmt.Errorf("server.stream_quality %d not in [1, 100]", c.Server.StreamQuality))
	}
	if c.Server.BroadcastInterval <= 0 {
		errs = append(errs, errors.New("server.broadcast_interval must be positive"))
	}
	if c.Pipeline.MetricWindow < 1 {
		errs = append(errs, errors.New("pipeline.metric_window must be at least 1"))
	}
	if c.Pipeline.Record.Enabled && c.Pipeline.Record.Batch < 1 {
		errs = append(errs, errors.New("pipeline.record.batch must be at least 1"))
	}

	return errors.Join(errs...)
}

// Loader reads and watches one configuration source.
type Loader struct {
	v    *viper.Viper
	path string
	mu   sync.Mutex
}

// NewLoader creates a Loader for path. An empty path searches
// ./kathakali.yaml and ~/.kathakali/kathakali.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kathakali")
		v.AddConfigPath(".")
		v.AddConfigPath(DataDir())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, path: path}
}

// Load reads the defaults, then the config file if one exists, then the
// environment. A missing file is only an error when the path was explicit.
func (l *Loader) Load() (Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Seeding viper with every default key lets AutomaticEnv override keys
	// the file never mentions.
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return Config{}, fmt.Errorf("encode defaults: %w", err)
	}
	if err := l.v.MergeConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if err := l.v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Default()
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the file on every write and hands the result to onChange.
// It does nothing when no file was found.
func (l *Loader) Watch(onChange func(Config, error)) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.Load())
	})
	l.v.WatchConfig()
}

// Load is shorthand for NewLoader(path).Load().
func Load(path string) (Config, error) {
	return NewLoader(path).Load()
}

// Write saves cfg as YAML at path, creating parent directories.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
