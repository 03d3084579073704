// Package guider turns face and pose frames into rig writes.
//
// Each classifier reads one feature from the current frame, classifies it
// against the thresholds in Config and writes a smoothed value to the rig.
// The rig's current value is the only smoothing memory. A classifier
// computes everything it needs before its first write, so a frame that
// fails half way leaves the rig untouched.
package guider

import (
	"errors"
	"fmt"
	"math"

	"github.com/ayusman/kathakali/internal/frame"
	"github.com/ayusman/kathakali/internal/geom"
	"github.com/ayusman/kathakali/internal/landmark"
	"github.com/ayusman/kathakali/internal/pose"
	"github.com/ayusman/kathakali/internal/rig"
	"github.com/ayusman/kathakali/internal/smooth"
)

// Features are the raw per-frame measurements behind the last pass.
// Values the pass did not compute are NaN.
type Features struct {
	LeftEAR  float64
	RightEAR float64
	MAR      float64
	HAR      float64
	// Head and Torso are the unsmoothed rotation targets.
	Head  geom.Euler
	Torso geom.Euler
}

func emptyFeatures() Features {
	nan := math.NaN()
	return Features{
		LeftEAR:  nan,
		RightEAR: nan,
		MAR:      nan,
		HAR:      nan,
		Head:     geom.Euler{X: nan, Y: nan, Z: nan},
		Torso:    geom.Euler{X: nan, Y: nan, Z: nan},
	}
}

// Result reports what one Apply pass did.
type Result struct {
	// Face and Pose report whether a subject was found in each frame.
	Face     bool
	Pose     bool
	Features Features
}

// Guider runs the enabled classifiers against one rig.
// It is not safe for concurrent use.
type Guider struct {
	cfg        Config
	rig        rig.Rig
	layout     *pose.Layout
	normalizer *landmark.Normalizer
	features   Features

	head     smooth.Filter
	body     smooth.Filter
	lean     smooth.Filter
	elbow    smooth.Filter
	shoulder smooth.Filter
}

// Requirements returns the bones and morphs cfg's enabled classifiers write.
func Requirements(cfg Config) rig.Requirements {
	var req rig.Requirements

	if cfg.Blink.Enabled {
		req.Morphs = append(req.Morphs, rig.Blinking)
	}
	if cfg.Mouth.Enabled {
		req.Morphs = append(req.Morphs, rig.VowelA)
		if cfg.Mouth.Mode == MouthVowel {
			req.Morphs = append(req.Morphs, rig.VowelI, rig.VowelU, rig.Grin)
		}
	}
	if cfg.Head.Enabled {
		req.Bones = append(req.Bones, rig.Head)
	}
	if cfg.Body.Source == BodyPose || cfg.Body.Source == BodyFace {
		req.Bones = append(req.Bones, rig.UpperBody)
	}
	if cfg.Arms.Enabled {
		req.Bones = append(req.Bones, rig.LeftArm, rig.RightArm)
		if cfg.Arms.Elbows {
			req.Bones = append(req.Bones, rig.LeftElbow, rig.RightElbow)
		}
		if cfg.Arms.Shoulders {
			req.Bones = append(req.Bones, rig.LeftShoulder, rig.RightShoulder)
		}
	}

	return req
}

// New creates a Guider writing to r. Pose joints are read through layout,
// BlazePose when nil.
func New(cfg Config, r rig.Rig, layout *pose.Layout) (*Guider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := rig.Validate(r, Requirements(cfg)); err != nil {
		return nil, fmt.Errorf("rig cannot be driven: %w", err)
	}
	if layout == nil {
		layout = pose.BlazePose
	}

	return &Guider{
		cfg:        cfg.Clone(),
		rig:        r,
		layout:     layout,
		normalizer: landmark.NewNormalizer(0, 0),
		features:   emptyFeatures(),
		head:       cfg.Head.Smoothing.Filter(),
		body:       cfg.Body.Smoothing.Filter(),
		lean:       cfg.Body.LeanSmoothing.Filter(),
		elbow:      cfg.Arms.ElbowSmoothing.Filter(),
		shoulder:   cfg.Arms.ShoulderSmoothing.Filter(),
	}, nil
}

// Config returns the configuration the guider was built with.
func (g *Guider) Config() Config {
	return g.cfg.Clone()
}

// Features returns the measurements of the last pass.
func (g *Guider) Features() Features {
	return g.features
}

// ResetBaseline forgets the captured depth baseline used by the face lean.
func (g *Guider) ResetBaseline() {
	g.normalizer.Reset()
}

// Apply runs one classification pass over c. Classifiers for a frame with
// no subject are skipped, and ErrNoSubjectDetected is returned only when
// neither frame has one. Errors from individual classifiers are joined; a
// failing classifier writes nothing.
func (g *Guider) Apply(c *frame.Capture) (Result, error) {
	g.features = emptyFeatures()

	res := Result{
		Face: !c.Face.Empty(),
		Pose: !c.Pose.Empty(),
	}
	if !res.Face && !res.Pose {
		res.Features = g.features
		return res, frame.ErrNoSubjectDetected
	}
	if c.Width > 0 && c.Height > 0 {
		g.normalizer.SetSize(c.Width, c.Height)
	}

	var errs []error
	run := func(name string, enabled bool, fn func() error) {
		if !enabled {
			return
		}
		if err := fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if res.Face {
		run("blink", g.cfg.Blink.Enabled, func() error { return g.Blink(&c.Face) })
		run("mouth", g.cfg.Mouth.Enabled, func() error { return g.Mouth(&c.Face) })
		run("head", g.cfg.Head.Enabled, func() error { return g.Head(&c.Face) })
		run("lean", g.cfg.Body.Source == BodyFace, func() error { return g.Lean(&c.Face) })
	}
	if res.Pose {
		run("torso", g.cfg.Body.Source == BodyPose, func() error { return g.Torso(&c.Pose) })
		run("arms", g.cfg.Arms.Enabled, func() error { return g.Arms(&c.Pose) })
	}

	res.Features = g.features
	return res, errors.Join(errs...)
}

// settle moves prev toward target through f. A NaN target holds prev,
// infinities are clamped to ±limit, and a non-finite result holds prev.
// A non-positive limit leaves the target unbounded.
func settle(f smooth.Filter, prev, target, limit float64) float64 {
	if math.IsNaN(target) {
		return prev
	}
	if limit > 0 {
		target = geom.Clamp(target, -limit, limit)
	}
	next := f.Next(prev, target)
	if !geom.Finite(next) {
		return prev
	}
	return next
}

func settleEuler(f smooth.Filter, prev, target geom.Euler, limit float64) geom.Euler {
	return geom.Euler{
		X: settle(f, prev.X, target.X, limit),
		Y: settle(f, prev.Y, target.Y, limit),
		Z: settle(f, prev.Z, target.Z, limit),
	}
}
