package capture

import "time"

// Gate rate defaults.
const (
	IdleFPS     = 5
	ActiveFPS   = 15
	DefaultHold = 2 * time.Second
)

// GateConfig drives the idle/active frame rate switch.
type GateConfig struct {
	// Enabled turns motion gating on. A disabled gate is always active.
	Enabled   bool `mapstructure:"enabled" yaml:"enabled"`
	IdleFPS   int  `mapstructure:"idle_fps" yaml:"idle_fps"`
	ActiveFPS int  `mapstructure:"active_fps" yaml:"active_fps"`

	// Hold is how long the gate stays active after the last motion.
	Hold time.Duration `mapstructure:"hold" yaml:"hold"`
}

// DefaultGateConfig runs ungated at the active rate.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		IdleFPS:   IdleFPS,
		ActiveFPS: ActiveFPS,
		Hold:      DefaultHold,
	}
}

// Gate tracks whether the pipeline should run detection. It starts idle,
// goes active on motion and drops back to idle after Hold without motion.
// It is not safe for concurrent use.
type Gate struct {
	config     GateConfig
	active     bool
	lastMotion time.Time
}

// NewGate creates a Gate. Unset rates take the package defaults.
func NewGate(cfg GateConfig) *Gate {
	if cfg.IdleFPS <= 0 {
		cfg.IdleFPS = IdleFPS
	}
	if cfg.ActiveFPS <= 0 {
		cfg.ActiveFPS = ActiveFPS
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	return &Gate{config: cfg, active: !cfg.Enabled}
}

// Enabled reports whether the gate consults motion at all.
func (g *Gate) Enabled() bool {
	return g.config.Enabled
}

// Update records whether motion was seen at now and returns the new state
// and whether it changed.
func (g *Gate) Update(motion bool, now time.Time) (active, changed bool) {
	if !g.config.Enabled {
		return true, false
	}

	was := g.active
	switch {
	case motion:
		g.lastMotion = now
		g.active = true
	case g.active && now.Sub(g.lastMotion) > g.config.Hold:
		g.active = false
	}
	return g.active, g.active != was
}

// Active reports the current state.
func (g *Gate) Active() bool {
	return g.active
}

// FPS is the frame rate for the current state.
func (g *Gate) FPS() int {
	if g.active {
		return g.config.ActiveFPS
	}
	return g.config.IdleFPS
}

// Interval is the tick period for the current state.
func (g *Gate) Interval() time.Duration {
	return time.Second / time.Duration(g.FPS())
}
