package guider

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ayusman/kathakali/internal/smooth"
)

// Mouth modes.
const (
	// MouthVowel drives A, I, U and Grin from MAR and HAR bands.
	MouthVowel = "vowel"
	// MouthOpen steps the A morph open and closed from MAR alone.
	MouthOpen = "open"
)

// Upper body sources.
const (
	BodyNone = "none"
	// BodyPose drives the upper body from shoulder and hip keypoints.
	BodyPose = "pose"
	// BodyFace leans the upper body after the nose position.
	BodyFace = "face"
)

// Smoothing modes.
const (
	SmoothExponential = "exponential"
	SmoothStepped     = "stepped"
	SmoothSnap        = "snap"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid guider config")

// Smoothing selects the filter bound to one signal.
type Smoothing struct {
	Mode     string  `mapstructure:"mode" yaml:"mode" json:"mode"`
	Factor   float64 `mapstructure:"factor" yaml:"factor" json:"factor"`
	Step     float64 `mapstructure:"step" yaml:"step" json:"step"`
	Deadband float64 `mapstructure:"deadband" yaml:"deadband" json:"deadband"`
}

// Filter builds the smoothing filter.
func (s Smoothing) Filter() smooth.Filter {
	switch s.Mode {
	case SmoothStepped:
		return smooth.SteppedFilter{Step: s.Step, Deadband: s.Deadband}
	case SmoothSnap:
		return smooth.Snap{}
	default:
		return smooth.ExponentialFilter{Factor: s.Factor}
	}
}

func (s Smoothing) validate(name string) error {
	switch s.Mode {
	case SmoothExponential, "":
		if s.Factor <= 0 || s.Factor > 1 {
			return fmt.Errorf("%w: %s factor %v not in (0, 1]", ErrInvalidConfig, name, s.Factor)
		}
	case SmoothStepped:
		if s.Step <= 0 || s.Deadband < 0 {
			return fmt.Errorf("%w: %s step must be positive and deadband non-negative", ErrInvalidConfig, name)
		}
	case SmoothSnap:
	default:
		return fmt.Errorf("%w: %s smoothing mode %q", ErrInvalidConfig, name, s.Mode)
	}
	return nil
}

// Band is a ramp from Min (weight 0) to Max (weight 1).
type Band struct {
	Min float64 `mapstructure:"min" yaml:"min" json:"min"`
	Max float64 `mapstructure:"max" yaml:"max" json:"max"`
}

// Ramp maps v onto [0, 1] across the band.
func (b Band) Ramp(v float64) float64 {
	return mgl64.Clamp((v-b.Min)/(b.Max-b.Min), 0, 1)
}

// Gate is an open interval. A nil bound is unbounded; zero is a bound like
// any other.
type Gate struct {
	Above *float64 `mapstructure:"above" yaml:"above,omitempty" json:"above,omitempty"`
	Below *float64 `mapstructure:"below" yaml:"below,omitempty" json:"below,omitempty"`
}

// Bound returns a gate bound at v.
func Bound(v float64) *float64 {
	return &v
}

// Contains reports whether v lies inside the gate. NaN never does.
func (g Gate) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	if g.Above != nil && !(v > *g.Above) {
		return false
	}
	if g.Below != nil && !(v < *g.Below) {
		return false
	}
	return true
}

func (g Gate) clone() Gate {
	if g.Above != nil {
		g.Above = Bound(*g.Above)
	}
	if g.Below != nil {
		g.Below = Bound(*g.Below)
	}
	return g
}

func (g Gate) validate(name string) error {
	if g.Above != nil && g.Below != nil && *g.Above >= *g.Below {
		return fmt.Errorf("%w: %s gate above %v must be less than below %v", ErrInvalidConfig, name, *g.Above, *g.Below)
	}
	return nil
}

// Features a vowel ramp can be driven by.
const (
	FeatureMAR = "mar"
	FeatureHAR = "har"
)

// VowelRule activates one mouth morph when MAR and HAR both fall inside
// their gates. Active weight comes from the ramp over Feature, or is Weight
// when that is set.
type VowelRule struct {
	Feature string  `mapstructure:"feature" yaml:"feature" json:"feature"`
	Ramp    Band    `mapstructure:"ramp" yaml:"ramp" json:"ramp"`
	Weight  float64 `mapstructure:"weight" yaml:"weight" json:"weight"`
	MAR     Gate    `mapstructure:"mar" yaml:"mar" json:"mar"`
	HAR     Gate    `mapstructure:"har" yaml:"har" json:"har"`
}

// Active reports whether the rule's gates admit mar and har.
func (r VowelRule) Active(mar, har float64) bool {
	return r.MAR.Contains(mar) && r.HAR.Contains(har)
}

// Value returns the active weight.
func (r VowelRule) Value(mar, har float64) float64 {
	if r.Weight > 0 {
		return r.Weight
	}
	if r.Feature == FeatureHAR {
		return r.Ramp.Ramp(har)
	}
	return r.Ramp.Ramp(mar)
}

// BlinkConfig configures the blink classifier.
type BlinkConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// Threshold is the EAR below which an eye counts as closed.
	Threshold float64 `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
}

// OpenConfig configures the single-morph open mouth mode.
type OpenConfig struct {
	Threshold float64 `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	Target    float64 `mapstructure:"target" yaml:"target" json:"target"`
	Step      float64 `mapstructure:"step" yaml:"step" json:"step"`
}

// MouthConfig configures the mouth classifier.
type MouthConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Mode    string `mapstructure:"mode" yaml:"mode" json:"mode"`
	// Decay is the exponential factor a morph releases with outside its band.
	Decay float64    `mapstructure:"decay" yaml:"decay" json:"decay"`
	A     VowelRule  `mapstructure:"a" yaml:"a" json:"a"`
	I     VowelRule  `mapstructure:"i" yaml:"i" json:"i"`
	U     VowelRule  `mapstructure:"u" yaml:"u" json:"u"`
	Grin  VowelRule  `mapstructure:"grin" yaml:"grin" json:"grin"`
	Open  OpenConfig `mapstructure:"open" yaml:"open" json:"open"`
}

// HeadConfig configures head rotation.
type HeadConfig struct {
	Enabled   bool      `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Smoothing Smoothing `mapstructure:"smoothing" yaml:"smoothing" json:"smoothing"`
	// MaxAngle bounds each axis, in radians.
	MaxAngle float64 `mapstructure:"max_angle" yaml:"max_angle" json:"max_angle"`
}

// BodyConfig configures the upper body.
type BodyConfig struct {
	Source string `mapstructure:"source" yaml:"source" json:"source"`
	// Smoothing applies to the pose source, LeanSmoothing to the face source.
	Smoothing     Smoothing `mapstructure:"smoothing" yaml:"smoothing" json:"smoothing"`
	LeanSmoothing Smoothing `mapstructure:"lean_smoothing" yaml:"lean_smoothing" json:"lean_smoothing"`
	MaxAngle      float64   `mapstructure:"max_angle" yaml:"max_angle" json:"max_angle"`
	MinScore      float64   `mapstructure:"min_score" yaml:"min_score" json:"min_score"`
}

// ArmConfig configures arm retargeting.
type ArmConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// Slerp is the fraction of the way each frame moves toward the target.
	Slerp float64 `mapstructure:"slerp" yaml:"slerp" json:"slerp"`
	// Idle is the left upper arm direction, shoulder to elbow in detector
	// space, that corresponds to the bone's rest pose. The right arm uses
	// its mirror image.
	Idle     []float64 `mapstructure:"idle" yaml:"idle" json:"idle"`
	MinScore float64   `mapstructure:"min_score" yaml:"min_score" json:"min_score"`

	Elbows         bool      `mapstructure:"elbows" yaml:"elbows" json:"elbows"`
	ElbowSmoothing Smoothing `mapstructure:"elbow_smoothing" yaml:"elbow_smoothing" json:"elbow_smoothing"`
	MaxBend        float64   `mapstructure:"max_bend" yaml:"max_bend" json:"max_bend"`

	Shoulders         bool      `mapstructure:"shoulders" yaml:"shoulders" json:"shoulders"`
	ShoulderSmoothing Smoothing `mapstructure:"shoulder_smoothing" yaml:"shoulder_smoothing" json:"shoulder_smoothing"`
	MaxShrug          float64   `mapstructure:"max_shrug" yaml:"max_shrug" json:"max_shrug"`
}

// IdleVector returns Idle as a vector.
func (a ArmConfig) IdleVector() mgl64.Vec3 {
	var v mgl64.Vec3
	copy(v[:], a.Idle)
	return v
}

// Config holds every classifier threshold and smoothing parameter.
type Config struct {
	Blink BlinkConfig `mapstructure:"blink" yaml:"blink" json:"blink"`
	Mouth MouthConfig `mapstructure:"mouth" yaml:"mouth" json:"mouth"`
	Head  HeadConfig  `mapstructure:"head" yaml:"head" json:"head"`
	Body  BodyConfig  `mapstructure:"body" yaml:"body" json:"body"`
	Arms  ArmConfig   `mapstructure:"arms" yaml:"arms" json:"arms"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Blink: BlinkConfig{
			Enabled:   true,
			Threshold: 0.2,
		},
		Mouth: MouthConfig{
			Enabled: true,
			Mode:    MouthVowel,
			Decay:   0.1,
			A: VowelRule{
				Feature: FeatureMAR,
				Ramp:    Band{Min: 0.08, Max: 0.2},
				MAR:     Gate{Above: Bound(0.08)},
			},
			I: VowelRule{
				Feature: FeatureHAR,
				Ramp:    Band{Min: 1.3, Max: 1.4},
				MAR:     Gate{Above: Bound(0.04), Below: Bound(0.12)},
				HAR:     Gate{Above: Bound(1.3)},
			},
			U: VowelRule{
				Weight: 0.5,
				MAR:    Gate{Above: Bound(0.08)},
				HAR:    Gate{Below: Bound(1.15)},
			},
			Grin: VowelRule{
				Feature: FeatureHAR,
				Ramp:    Band{Min: 1.21, Max: 1.4},
				MAR:     Gate{Below: Bound(0.025)},
			},
			Open: OpenConfig{
				Threshold: 0.3,
				Target:    0.3,
				Step:      0.02,
			},
		},
		Head: HeadConfig{
			Enabled:   true,
			Smoothing: Smoothing{Mode: SmoothExponential, Factor: smooth.DefaultFactor},
			MaxAngle:  1.2,
		},
		Body: BodyConfig{
			Source:        BodyPose,
			Smoothing:     Smoothing{Mode: SmoothExponential, Factor: smooth.DefaultFactor},
			LeanSmoothing: Smoothing{Mode: SmoothStepped, Step: 0.01, Deadband: 0.02},
			MaxAngle:      1.2,
			MinScore:      0.3,
		},
		Arms: ArmConfig{
			Enabled:  true,
			Slerp:    0.1,
			Idle:     []float64{math.Cos(7 * math.Pi / 4), -math.Sin(7 * math.Pi / 4), 0},
			MinScore: 0.3,

			ElbowSmoothing: Smoothing{Mode: SmoothExponential, Factor: 0.1},
			MaxBend:        2.6,

			ShoulderSmoothing: Smoothing{Mode: SmoothExponential, Factor: 0.4},
			MaxShrug:          0.5,
		},
	}
}

// Clone returns a copy of c that shares no pointers or slices with it, so
// decoding over the copy leaves c untouched.
func (c Config) Clone() Config {
	c.Arms.Idle = slices.Clone(c.Arms.Idle)
	for _, r := range []*VowelRule{&c.Mouth.A, &c.Mouth.I, &c.Mouth.U, &c.Mouth.Grin} {
		r.MAR = r.MAR.clone()
		r.HAR = r.HAR.clone()
	}
	return c
}

// Validate checks ranges and enum values.
func (c Config) Validate() error {
	var errs []error

	if c.Mouth.Enabled {
		switch c.Mouth.Mode {
		case MouthVowel:
			if c.Mouth.Decay <= 0 || c.Mouth.Decay > 1 {
				errs = append(errs, fmt.Errorf("%w: mouth decay %v not in (0, 1]", ErrInvalidConfig, c.Mouth.Decay))
			}
			for name, r := range map[string]VowelRule{"a": c.Mouth.A, "i": c.Mouth.I, "u": c.Mouth.U, "grin": c.Mouth.Grin} {
				if r.Weight <= 0 && !(r.Ramp.Max > r.Ramp.Min) {
					errs = append(errs, fmt.Errorf("%w: mouth %s ramp max must exceed min", ErrInvalidConfig, name))
				}
				errs = append(errs, r.MAR.validate(name+" mar"), r.HAR.validate(name+" har"))
			}
		case MouthOpen:
			if c.Mouth.Open.Step <= 0 {
				errs = append(errs, fmt.Errorf("%w: mouth open step must be positive", ErrInvalidConfig))
			}
		default:
			errs = append(errs, fmt.Errorf("%w: mouth mode %q", ErrInvalidConfig, c.Mouth.Mode))
		}
	}

	if c.Head.Enabled {
		errs = append(errs, c.Head.Smoothing.validate("head"))
	}

	switch c.Body.Source {
	case BodyNone, "":
	case BodyPose:
		errs = append(errs, c.Body.Smoothing.validate("body"))
	case BodyFace:
		errs = append(errs, c.Body.LeanSmoothing.validate("lean"))
	default:
		errs = append(errs, fmt.Errorf("%w: body source %q", ErrInvalidConfig, c.Body.Source))
	}

	if c.Arms.Enabled {
		if c.Arms.Slerp <= 0 || c.Arms.Slerp > 1 {
			errs = append(errs, fmt.Errorf("%w: arm slerp %v not in (0, 1]", ErrInvalidConfig, c.Arms.Slerp))
		}
		if len(c.Arms.Idle) != 3 || c.Arms.IdleVector().Len() == 0 {
			errs = append(errs, fmt.Errorf("%w: arm idle must be a non-zero 3-vector", ErrInvalidConfig))
		}
		if c.Arms.Elbows {
			errs = append(errs, c.Arms.ElbowSmoothing.validate("elbow"))
		}
		if c.Arms.Shoulders {
			errs = append(errs, c.Arms.ShoulderSmoothing.validate("shoulder"))
		}
	}

	return errors.Join(errs...)
}
