package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/kathakali/internal/guider"
	"github.com/ayusman/kathakali/internal/store"
)

// env is a config file and database in a temp dir.
type env struct {
	dir    string
	config string
	db     string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{dir: dir, config: filepath.Join(dir, "kathakali.yaml"), db: filepath.Join(dir, "data", "k.db")}
	_, err := e.run("config", "init", e.config)
	require.NoError(t, err)
	return e
}

func (e env) run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.config, "--db", e.db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	e := newEnv(t)
	assert.FileExists(t, e.config)

	_, err := e.run("config", "init", e.config)
	assert.ErrorContains(t, err, "already exists")

	_, err = e.run("config", "init", "--force", e.config)
	assert.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, e.config)
	assert.Contains(t, out, e.db)
}

func TestProfiles(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("profiles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No profiles")

	file := filepath.Join(e.dir, "studio.yaml")
	require.NoError(t, os.WriteFile(file, []byte("blink:\n  threshold: 0.18\n"), 0644))

	out, err = e.run("profiles", "import", "studio", file, "-d", "dim light")
	require.NoError(t, err)
	assert.Contains(t, out, "Created profile studio")

	out, err = e.run("profiles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "studio")
	assert.Contains(t, out, "dim light")

	out, err = e.run("profiles", "export", "studio")
	require.NoError(t, err)
	var cfg guider.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, 0.18, cfg.Blink.Threshold)
	assert.Equal(t, guider.DefaultConfig().Mouth, cfg.Mouth)

	_, err = e.run("profiles", "import", "studio", file)
	assert.Error(t, err, "duplicate name")

	_, err = e.run("profiles", "delete", "studio")
	require.NoError(t, err)

	_, err = e.run("profiles", "export", "studio")
	assert.ErrorContains(t, err, "profile not found")
}

func TestProfiles_ImportInvalid(t *testing.T) {
	e := newEnv(t)

	file := filepath.Join(e.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("body:\n  source: tail\n"), 0644))

	_, err := e.run("profiles", "import", "bad", file)
	assert.ErrorIs(t, err, guider.ErrInvalidConfig)
}

// recordSession stores a finished session with n samples of open eyes and
// a mouth that opens on every fourth frame.
func recordSession(t *testing.T, e env, n int) {
	t.Helper()
	st, err := openStore(e.db)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Sessions().Create(&store.Session{ID: "take-1", Name: "take", Rig: "default", Layout: "blazepose"}))
	samples := make([]store.Sample, n)
	for i := range samples {
		mar := 0.05
		if i%4 == 0 {
			mar = 0.6
		}
		samples[i] = store.Sample{
			OffsetMs: int64(i * 100),
			Features: map[string]float64{"left_ear": 0.3, "right_ear": 0.3, "mar": mar},
		}
	}
	require.NoError(t, st.Samples().Append("take-1", samples))
}

func TestSessions(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions")

	recordSession(t, e, 40)

	out, err = e.run("sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "take-1")
	assert.Contains(t, out, "(open)")

	exported := filepath.Join(e.dir, "take.json")
	_, err = e.run("sessions", "export", "take-1", "-o", exported)
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"offset_ms": 3900`)

	png := filepath.Join(e.dir, "take.png")
	_, err = e.run("sessions", "plot", "take-1", "-o", png)
	require.NoError(t, err)
	data, err = os.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	_, err = e.run("sessions", "delete", "take-1")
	require.NoError(t, err)
	_, err = e.run("sessions", "delete", "take-1")
	assert.ErrorContains(t, err, "session not found")
}

func TestProfiles_Suggest(t *testing.T) {
	e := newEnv(t)
	recordSession(t, e, 40)

	out, err := e.run("profiles", "suggest", "take-1")
	require.NoError(t, err)
	var cfg guider.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.InDelta(t, 0.21, cfg.Blink.Threshold, 1e-9)

	out, err = e.run("profiles", "suggest", "take-1", "--save", "calibrated")
	require.NoError(t, err)
	assert.Contains(t, out, "Created profile calibrated")

	_, err = e.run("profiles", "suggest", "missing")
	assert.ErrorContains(t, err, "session not found")
}

func TestDB(t *testing.T) {
	e := newEnv(t)

	out, err := e.run("db", "version")
	require.NoError(t, err)
	assert.Contains(t, out, e.db)
	assert.NotContains(t, out, "dirty")
}
