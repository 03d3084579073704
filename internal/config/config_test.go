package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/kathakali/internal/guider"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "blazepose", cfg.Detector.Layout)
	assert.False(t, cfg.Pipeline.Gate.Enabled)
	assert.NotEmpty(t, cfg.Detector.MockPresets)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown layout", func(c *Config) { c.Detector.Layout = "openpose" }},
		{"no outputs", func(c *Config) { c.Detector.Face, c.Detector.Pose = false, false }},
		{"stream quality", func(c *Config) { c.Server.StreamQuality = 0 }},
		{"broadcast interval", func(c *Config) { c.Server.BroadcastInterval = 0 }},
		{"metric window", func(c *Config) { c.Pipeline.MetricWindow = 0 }},
		{"record batch", func(c *Config) {
			c.Pipeline.Record.Enabled = true
			c.Pipeline.Record.Batch = 0
		}},
		{"guider", func(c *Config) { c.Guider.Mouth.Mode = "whistle" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kathakali.yaml")
	data := []byte(`
server:
  addr: ":9090"
  broadcast_interval: 20ms
detector:
  mock: true
  layout: movenet
guider:
  blink:
    threshold: 0.15
  mouth:
    mode: open
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 20*time.Millisecond, cfg.Server.BroadcastInterval)
	assert.True(t, cfg.Detector.Mock)
	assert.Equal(t, "movenet", cfg.Detector.Layout)
	assert.InDelta(t, 0.15, cfg.Guider.Blink.Threshold, 1e-9)
	assert.Equal(t, guider.MouthOpen, cfg.Guider.Mouth.Mode)

	// Keys the file leaves out keep their defaults.
	def := Default()
	assert.Equal(t, def.Server.StreamQuality, cfg.Server.StreamQuality)
	assert.Equal(t, def.Guider.Mouth.A, cfg.Guider.Mouth.A)
	assert.True(t, cfg.Detector.Face)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Env(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kathakali.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	t.Setenv("KATHAKALI_SERVER_ADDR", "0.0.0.0:7000")
	t.Setenv("KATHAKALI_GUIDER_BLINK_THRESHOLD", "0.25")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "0.0.0.0:7000", cfg.Server.Addr)
	assert.InDelta(t, 0.25, cfg.Guider.Blink.Threshold, 1e-9)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kathakali.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  stream_quality: 500\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kathakali.yaml")

	cfg := Default()
	cfg.Server.Addr = ":1234"
	cfg.Guider.Arms.Elbows = false
	require.NoError(t, Write(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":1234", got.Server.Addr)
	assert.False(t, got.Guider.Arms.Elbows)
	assert.Equal(t, cfg.Pipeline, got.Pipeline)
}

func TestLoader_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kathakali.yaml")
	require.NoError(t, Write(path, Default()))

	l := NewLoader(path)
	_, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, path, l.File())
}
