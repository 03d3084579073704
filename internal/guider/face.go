package guider

import (
	"math"

	"github.com/ayusman/kathakali/internal/frame"
	"github.com/ayusman/kathakali/internal/geom"
	"github.com/ayusman/kathakali/internal/landmark"
	"github.com/ayusman/kathakali/internal/rig"
	"github.com/ayusman/kathakali/internal/smooth"
)

// Blink sets the Blinking morph to 1 when either eye's EAR is below the
// threshold and to 0 otherwise. It does not smooth.
func (g *Guider) Blink(face *frame.Frame) error {
	left, right, err := landmark.EyeAspectRatios(face)
	if err != nil {
		return err
	}
	g.features.LeftEAR, g.features.RightEAR = left, right

	th := g.cfg.Blink.Threshold
	closed := left < th || right < th
	if !closed && (math.IsNaN(left) || math.IsNaN(right)) {
		return nil
	}

	weight := 0.0
	if closed {
		weight = 1
	}
	g.rig.SetMorph(rig.Blinking, weight)
	return nil
}

// Mouth drives the mouth morphs from MAR and HAR in the configured mode.
func (g *Guider) Mouth(face *frame.Frame) error {
	mar, err := landmark.MouthAspectRatio(face)
	if err != nil {
		return err
	}
	har, err := landmark.HorizontalAspectRatio(face)
	if err != nil {
		return err
	}
	g.features.MAR, g.features.HAR = mar, har

	if g.cfg.Mouth.Mode == MouthOpen {
		g.openMouth(mar)
		return nil
	}

	rules := []struct {
		id   rig.MorphID
		rule VowelRule
	}{
		{rig.VowelA, g.cfg.Mouth.A},
		{rig.VowelI, g.cfg.Mouth.I},
		{rig.VowelU, g.cfg.Mouth.U},
		{rig.Grin, g.cfg.Mouth.Grin},
	}
	for _, r := range rules {
		if r.rule.Active(mar, har) {
			g.rig.SetMorph(r.id, r.rule.Value(mar, har))
			continue
		}
		g.rig.SetMorph(r.id, smooth.Exponential(0, g.rig.Morph(r.id), g.cfg.Mouth.Decay))
	}
	return nil
}

// openMouth steps morph A toward the open target while MAR is past the
// threshold and back toward 0 otherwise.
func (g *Guider) openMouth(mar float64) {
	if math.IsNaN(mar) {
		return
	}
	open := g.cfg.Mouth.Open
	target := 0.0
	if mar > open.Threshold {
		target = open.Target
	}
	current := g.rig.Morph(rig.VowelA)
	g.rig.SetMorph(rig.VowelA, current+smooth.Increment(current, target, open.Step, open.Step))
}

// Head rotates the head bone from the face oval. The angles are small-angle
// ratios of coordinate deltas rather than true angles.
func (g *Guider) Head(face *frame.Frame) error {
	left, err := landmark.Get(face, landmark.FaceLeft)
	if err != nil {
		return err
	}
	right, err := landmark.Get(face, landmark.FaceRight)
	if err != nil {
		return err
	}
	top, err := landmark.Get(face, landmark.FaceTop)
	if err != nil {
		return err
	}
	bottom, err := landmark.Get(face, landmark.FaceBottom)
	if err != nil {
		return err
	}

	dx := left.X - right.X
	target := geom.Euler{
		X: (top.Z - bottom.Z) / (top.Y - bottom.Y),
		Y: -(left.Z - right.Z) / dx,
		Z: (left.Y - right.Y) / dx,
	}
	g.features.Head = target

	bone := g.rig.Bone(rig.Head)
	bone.Rotation = settleEuler(g.head, bone.Rotation, target, g.cfg.Head.MaxAngle)
	return nil
}

// Lean tilts the upper body after the nose: sideways with its normalized x
// and forward with its depth relative to the baseline.
func (g *Guider) Lean(face *frame.Frame) error {
	nose, err := g.normalizer.Normalize(face, landmark.NoseMiddle)
	if err != nil {
		return err
	}

	bone := g.rig.Bone(rig.UpperBody)
	limit := g.cfg.Body.MaxAngle
	next := bone.Rotation
	next.Z = settle(g.lean, next.Z, nose.X(), limit)
	next.X = settle(g.lean, next.X, nose.Z(), limit)
	bone.Rotation = next
	return nil
}
