// Package synth builds synthetic face and pose frames from the measurements
// the classifiers read back out of them. The mock detector serves its
// presets, and tests use them to hit exact thresholds.
package synth

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ayusman/kathakali/internal/frame"
	"github.com/ayusman/kathakali/internal/geom"
	"github.com/ayusman/kathakali/internal/landmark"
	"github.com/ayusman/kathakali/internal/pose"
)

// Video size the face presets are laid out on.
const (
	Width  = 640
	Height = 480
)

const (
	eyeSpan     = 30.0
	eyeDistance = 80.0
)

// FaceShape describes a face by its aspect ratios and head angles.
type FaceShape struct {
	LeftEAR  float64
	RightEAR float64
	MAR      float64
	HAR      float64
	// Head holds the small-angle ratios the head classifier measures.
	Head geom.Euler
	// Nose is the nose offset in normalized frame space; Nose.Z is its raw
	// depth.
	Nose mgl64.Vec3
}

// Face lays s out as a single-subject face mesh on a Width x Height frame.
func Face(s FaceShape) frame.Frame {
	const cx, cy = Width / 2, Height / 2

	kps := make([]frame.Keypoint, landmark.NumMeshPoints)
	for i := range kps {
		kps[i] = frame.Keypoint{X: cx, Y: cy, HasZ: true}
	}
	set := func(p landmark.Point, x, y, z float64) {
		kps[p] = frame.Keypoint{X: x, Y: y, Z: z, HasZ: true}
	}

	eye := func(q landmark.Quad, inner, dir, ear float64) {
		const y = 200.0
		half := ear * eyeSpan / 2
		set(q.SpanStart, inner, y, 0)
		set(q.SpanEnd, inner+dir*eyeSpan, y, 0)
		set(q.TopLeft, inner+dir*10, y-half, 0)
		set(q.BottomLeft, inner+dir*10, y+half, 0)
		set(q.TopRight, inner+dir*20, y-half, 0)
		set(q.BottomRight, inner+dir*20, y+half, 0)
	}
	eye(landmark.RightEye, cx-eyeDistance/2, -1, s.RightEAR)
	eye(landmark.LeftEye, cx+eyeDistance/2, 1, s.LeftEAR)

	const my = 300.0
	w := s.HAR * eyeDistance
	half := s.MAR * w / 2
	set(landmark.MouthStart, cx-w/2, my, 0)
	set(landmark.MouthEnd, cx+w/2, my, 0)
	set(landmark.MouthTopRight, cx-w/4, my-half, 0)
	set(landmark.MouthBottomRight, cx-w/4, my+half, 0)
	set(landmark.MouthTopLeft, cx+w/4, my-half, 0)
	set(landmark.MouthBottomLeft, cx+w/4, my+half, 0)

	const side, vert = 80.0, 100.0
	set(landmark.FaceLeft, cx+side, cy+s.Head.Z*side, -s.Head.Y*side)
	set(landmark.FaceRight, cx-side, cy-s.Head.Z*side, s.Head.Y*side)
	set(landmark.FaceTop, cx, cy-vert, -s.Head.X*vert)
	set(landmark.FaceBottom, cx, cy+vert, s.Head.X*vert)

	set(landmark.NoseMiddle, cx+s.Nose.X()*cx, cy+s.Nose.Y()*cy, s.Nose.Z())

	return frame.Frame{Subjects: []frame.Subject{{Keypoints: kps, Score: 0.95}}}
}

// NeutralFace has open eyes and a closed, relaxed mouth.
func NeutralFace() FaceShape {
	return FaceShape{LeftEAR: 0.3, RightEAR: 0.3, MAR: 0.01, HAR: 1.0, Nose: mgl64.Vec3{0, 0, -10}}
}

// ClosedEyesFace has both eyes shut.
func ClosedEyesFace() FaceShape {
	s := NeutralFace()
	s.LeftEAR, s.RightEAR = 0, 0
	return s
}

// WinkFace has the left eye shut.
func WinkFace() FaceShape {
	s := NeutralFace()
	s.LeftEAR = 0.05
	return s
}

// VowelAFace has the mouth wide open.
func VowelAFace() FaceShape {
	s := NeutralFace()
	s.MAR, s.HAR = 0.2, 1.2
	return s
}

// VowelIFace has the mouth half open and stretched.
func VowelIFace() FaceShape {
	s := NeutralFace()
	s.MAR, s.HAR = 0.06, 1.35
	return s
}

// VowelUFace has the mouth open and narrow.
func VowelUFace() FaceShape {
	s := NeutralFace()
	s.MAR, s.HAR = 0.1, 1.1
	return s
}

// GrinFace has closed, fully stretched lips.
func GrinFace() FaceShape {
	s := NeutralFace()
	s.MAR, s.HAR = 0.01, 1.4
	return s
}

// BodyShape describes an upper body in world space: metres, y down, centred
// on the hips, with the subject's left toward +x.
type BodyShape struct {
	// Lean tilts the spine sideways, in radians.
	Lean float64
	// Upper arm directions, shoulder to elbow.
	LeftArm  mgl64.Vec3
	RightArm mgl64.Vec3
	// Forearm directions, elbow to wrist. Zero continues the upper arm.
	LeftForearm  mgl64.Vec3
	RightForearm mgl64.Vec3
	Score        float64
	// NoWorld drops the 3D keypoints.
	NoWorld bool
}

// RestBody stands upright with both arms at the idle direction.
func RestBody() BodyShape {
	d := math.Sqrt2 / 2
	return BodyShape{
		LeftArm:  mgl64.Vec3{d, d, 0},
		RightArm: mgl64.Vec3{-d, d, 0},
		Score:    0.9,
	}
}

// TPoseBody holds both arms out horizontally.
func TPoseBody() BodyShape {
	s := RestBody()
	s.LeftArm = mgl64.Vec3{1, 0, 0}
	s.RightArm = mgl64.Vec3{-1, 0, 0}
	return s
}

// BentElbowsBody holds the upper arms out with the forearms raised.
func BentElbowsBody() BodyShape {
	s := TPoseBody()
	s.LeftForearm = mgl64.Vec3{0, -1, 0}
	s.RightForearm = mgl64.Vec3{0, -1, 0}
	return s
}

// Body lays s out in layout l: 2D keypoints on the layout's input canvas and,
// unless s.NoWorld is set, world keypoints.
func Body(l *pose.Layout, s BodyShape) frame.Frame {
	world := joints(s)

	scale := l.InputHeight * 0.6
	sub := frame.Subject{Keypoints: make([]frame.Keypoint, l.Count()), Score: s.Score}
	if !s.NoWorld {
		sub.World = make([]frame.Keypoint, l.Count())
	}
	for j := pose.Joint(0); j < pose.NumJoints; j++ {
		i, ok := l.Index(j)
		if !ok {
			continue
		}
		p := world[j]
		sub.Keypoints[i] = frame.Keypoint{
			X:     l.InputWidth/2 + p.X()*scale,
			Y:     l.InputHeight/2 + p.Y()*scale,
			Score: s.Score,
		}
		if sub.World != nil {
			sub.World[i] = frame.Keypoint{X: p.X(), Y: p.Y(), Z: p.Z(), Score: s.Score, HasZ: true}
		}
	}
	return frame.Frame{Subjects: []frame.Subject{sub}}
}

func joints(s BodyShape) [pose.NumJoints]mgl64.Vec3 {
	const (
		spineLen    = 0.5
		shoulderW   = 0.18
		hipW        = 0.1
		upperArmLen = 0.28
		forearmLen  = 0.25
		legLen      = 0.45
	)

	spine := mgl64.Vec3{math.Sin(s.Lean), -math.Cos(s.Lean), 0}
	across := mgl64.Vec3{math.Cos(s.Lean), math.Sin(s.Lean), 0}
	mid := spine.Mul(spineLen)

	var out [pose.NumJoints]mgl64.Vec3
	out[pose.LeftHip] = mgl64.Vec3{hipW, 0, 0}
	out[pose.RightHip] = mgl64.Vec3{-hipW, 0, 0}
	out[pose.LeftShoulder] = mid.Add(across.Mul(shoulderW))
	out[pose.RightShoulder] = mid.Sub(across.Mul(shoulderW))

	limb := func(shoulder, elbow, wrist pose.Joint, arm, forearm mgl64.Vec3) {
		out[elbow] = out[shoulder].Add(direction(arm).Mul(upperArmLen))
		if forearm.Len() == 0 {
			forearm = arm
		}
		out[wrist] = out[elbow].Add(direction(forearm).Mul(forearmLen))
	}
	limb(pose.LeftShoulder, pose.LeftElbow, pose.LeftWrist, s.LeftArm, s.LeftForearm)
	limb(pose.RightShoulder, pose.RightElbow, pose.RightWrist, s.RightArm, s.RightForearm)

	head := mid.Add(spine.Mul(0.25))
	for j := pose.Nose; j <= pose.MouthRight; j++ {
		out[j] = head
	}
	for _, j := range []pose.Joint{pose.LeftPinky, pose.LeftIndex, pose.LeftThumb} {
		out[j] = out[pose.LeftWrist]
	}
	for _, j := range []pose.Joint{pose.RightPinky, pose.RightIndex, pose.RightThumb} {
		out[j] = out[pose.RightWrist]
	}
	down := mgl64.Vec3{0, legLen, 0}
	out[pose.LeftKnee] = out[pose.LeftHip].Add(down)
	out[pose.RightKnee] = out[pose.RightHip].Add(down)
	for _, j := range []pose.Joint{pose.LeftAnkle, pose.LeftHeel, pose.LeftFootIndex} {
		out[j] = out[pose.LeftKnee].Add(down)
	}
	for _, j := range []pose.Joint{pose.RightAnkle, pose.RightHeel, pose.RightFootIndex} {
		out[j] = out[pose.RightKnee].Add(down)
	}
	return out
}

func direction(v mgl64.Vec3) mgl64.Vec3 {
	if v.Len() == 0 {
		return mgl64.Vec3{0, 1, 0}
	}
	return v.Normalize()
}
