package guider

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ayusman/kathakali/internal/frame"
	"github.com/ayusman/kathakali/internal/geom"
	"github.com/ayusman/kathakali/internal/pose"
	"github.com/ayusman/kathakali/internal/rig"
)

// limb names the joints and bones of one arm.
type limb struct {
	shoulder, elbow, wrist pose.Joint
	arm, forearm           rig.BoneID
	// mirrored is set for the right arm, which is measured in the left
	// arm's frame and mirrored back.
	mirrored bool
}

var (
	leftLimb = limb{
		shoulder: pose.LeftShoulder, elbow: pose.LeftElbow, wrist: pose.LeftWrist,
		arm: rig.LeftArm, forearm: rig.LeftElbow,
	}
	rightLimb = limb{
		shoulder: pose.RightShoulder, elbow: pose.RightElbow, wrist: pose.RightWrist,
		arm: rig.RightArm, forearm: rig.RightElbow,
		mirrored: true,
	}
)

// skippable reports whether err means the joint is not usable this frame
// rather than that the frame is malformed.
func skippable(err error) bool {
	return errors.Is(err, pose.ErrLowConfidence)
}

// joints fetches js with the minimum score. World keypoints are used when
// every joint has one; otherwise world is false and 2D keypoints are
// returned.
func (g *Guider) joints(f *frame.Frame, minScore float64, js ...pose.Joint) (kps []frame.Keypoint, world bool, err error) {
	flat := make([]frame.Keypoint, len(js))
	for i, j := range js {
		if flat[i], err = g.layout.GetConfident(f, j, minScore, false); err != nil {
			return nil, false, err
		}
	}

	deep := make([]frame.Keypoint, len(js))
	for i, j := range js {
		kp, err := g.layout.Get3D(f, j)
		if err != nil {
			if errors.Is(err, frame.ErrPointOutOfRange) {
				return flat, false, nil
			}
			return nil, false, err
		}
		deep[i] = kp
	}
	return deep, true, nil
}

// Torso rotates the upper body from the shoulders and hips. Yaw and pitch
// are depth ratios and need 3D keypoints; roll is the atan2 of the spine and
// falls back to 2D. Low-confidence joints skip the write.
func (g *Guider) Torso(body *frame.Frame) error {
	kps, world, err := g.joints(body, g.cfg.Body.MinScore,
		pose.LeftShoulder, pose.RightShoulder, pose.LeftHip, pose.RightHip)
	if skippable(err) {
		return nil
	}
	if err != nil {
		return err
	}

	ls, rs := kps[0].Vec3(), kps[1].Vec3()
	shoulders := ls.Add(rs).Mul(0.5)
	hips := kps[2].Vec3().Add(kps[3].Vec3()).Mul(0.5)
	spine := shoulders.Sub(hips)
	if spine.Len() == 0 {
		return nil
	}

	bone := g.rig.Bone(rig.UpperBody)
	target := bone.Rotation
	target.Z = math.Atan2(spine.X(), -spine.Y())
	if world {
		target.Y = -(ls.Z() - rs.Z()) / (ls.X() - rs.X())
		target.X = spine.Z() / spine.Y()
	}
	g.features.Torso = geom.Euler{X: math.NaN(), Y: math.NaN(), Z: target.Z}
	if world {
		g.features.Torso = target
	}

	bone.Rotation = settleEuler(g.body, bone.Rotation, target, g.cfg.Body.MaxAngle)
	return nil
}

// Arms orients each upper arm with the shortest arc from the idle direction
// to the live shoulder to elbow vector, moving a fraction of the way there
// each frame. Elbow bend and shoulder shrug follow when enabled.
func (g *Guider) Arms(body *frame.Frame) error {
	var errs []error
	for _, l := range []limb{leftLimb, rightLimb} {
		if err := g.arm(body, l); err != nil {
			errs = append(errs, err)
		}
	}
	if g.cfg.Arms.Shoulders {
		if err := g.shoulders(body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Guider) arm(body *frame.Frame, l limb) error {
	kps, _, err := g.joints(body, g.cfg.Arms.MinScore, l.shoulder, l.elbow)
	if skippable(err) {
		return nil
	}
	if err != nil {
		return err
	}

	v := kps[1].Vec3().Sub(kps[0].Vec3())
	if l.mirrored {
		v[0] = -v[0]
	}
	q := geom.ToRigSpace(geom.ShortestArc(g.cfg.Arms.IdleVector(), v))
	if l.mirrored {
		q = geom.MirrorX(q)
	}
	target := q.Mul(rig.RestPose[l.arm].Quat())

	var (
		bend    float64
		bending bool
	)
	if g.cfg.Arms.Elbows {
		bend, err = g.bend(body, l)
		if err != nil && !skippable(err) {
			return err
		}
		bending = err == nil
	}

	bone := g.rig.Bone(l.arm)
	next := geom.Slerp(bone.Quat(), target, g.cfg.Arms.Slerp)
	if finiteQuat(next) {
		bone.SetQuat(next)
	}

	if bending {
		forearm := g.rig.Bone(l.forearm)
		forearm.Rotation.Y = settle(g.elbow, forearm.Rotation.Y, bend, g.cfg.Arms.MaxBend)
	}
	return nil
}

// bend is the signed elbow flexion in the image plane, 0 for a straight arm.
func (g *Guider) bend(body *frame.Frame, l limb) (float64, error) {
	var pts [3]geom.Vec2
	for i, j := range []pose.Joint{l.shoulder, l.elbow, l.wrist} {
		kp, err := g.layout.GetConfident(body, j, g.cfg.Arms.MinScore, false)
		if err != nil {
			return 0, err
		}
		pts[i] = kp.Vec2()
	}

	bend := geom.AngleOfTriangle2D(pts[0], pts[1], pts[2], true) - math.Pi
	if l.mirrored {
		bend = -bend
	}
	return bend, nil
}

// shoulders tilts both shoulder bones after the slope of the shoulder line.
func (g *Guider) shoulders(body *frame.Frame) error {
	left, err := g.layout.GetConfident(body, pose.LeftShoulder, g.cfg.Arms.MinScore, false)
	if skippable(err) {
		return nil
	}
	if err != nil {
		return err
	}
	right, err := g.layout.GetConfident(body, pose.RightShoulder, g.cfg.Arms.MinScore, false)
	if skippable(err) {
		return nil
	}
	if err != nil {
		return err
	}

	slope := geom.Gradient2D(right.Vec2(), left.Vec2())
	limit := g.cfg.Arms.MaxShrug

	lb, rb := g.rig.Bone(rig.LeftShoulder), g.rig.Bone(rig.RightShoulder)
	lz := settle(g.shoulder, lb.Rotation.Z, slope, limit)
	rz := settle(g.shoulder, rb.Rotation.Z, -slope, limit)
	lb.Rotation.Z, rb.Rotation.Z = lz, rz
	return nil
}

func finiteQuat(q mgl64.Quat) bool {
	return geom.Finite(q.W) && geom.Finite(q.V[0]) && geom.Finite(q.V[1]) && geom.Finite(q.V[2])
}
