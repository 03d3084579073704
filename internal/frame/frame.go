// Package frame defines the per-frame keypoint data exchanged between the
// detector and the retargeting classifiers.
package frame

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ayusman/kathakali/internal/geom"
)

// ErrNoSubjectDetected is returned when a frame holds no subject. Callers
// skip the whole classification pass for that frame type.
var ErrNoSubjectDetected = errors.New("no subject detected")

// ErrPointOutOfRange is returned when a keypoint index is outside the
// subject's keypoint list.
var ErrPointOutOfRange = errors.New("keypoint index out of range")

// Keypoint is a single detector keypoint in detector pixel space.
type Keypoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z,omitempty"`
	Score float64 `json:"score,omitempty"`
	// HasZ is false when the detector only produced 2D coordinates.
	HasZ bool `json:"has_z,omitempty"`
}

// Vec2 returns the keypoint's x and y.
func (k Keypoint) Vec2() geom.Vec2 {
	return geom.Vec2{X: k.X, Y: k.Y}
}

// Vec3 returns the keypoint as a 3-vector. Z is 0 for 2D keypoints.
func (k Keypoint) Vec3() mgl64.Vec3 {
	return mgl64.Vec3{k.X, k.Y, k.Z}
}

// Subject is one detected face or body.
type Subject struct {
	Keypoints []Keypoint `json:"keypoints"`
	// World holds optional 3D keypoints parallel to Keypoints, in metric
	// space centred on the subject. Empty when the backend has no 3D output.
	World []Keypoint `json:"world,omitempty"`
	Score float64    `json:"score,omitempty"`
}

// Frame is the set of subjects found in one video frame.
// Only the first subject is consumed.
type Frame struct {
	Subjects []Subject `json:"subjects"`
}

// Empty reports whether no subject was detected.
func (f *Frame) Empty() bool {
	return f == nil || len(f.Subjects) == 0
}

// First returns the first detected subject.
func (f *Frame) First() (*Subject, error) {
	if f.Empty() {
		return nil, ErrNoSubjectDetected
	}
	return &f.Subjects[0], nil
}

// Point returns the keypoint at index i of the first subject.
func (f *Frame) Point(i int) (Keypoint, error) {
	s, err := f.First()
	if err != nil {
		return Keypoint{}, err
	}
	return s.point(s.Keypoints, i)
}

// WorldPoint returns the 3D keypoint at index i of the first subject.
func (f *Frame) WorldPoint(i int) (Keypoint, error) {
	s, err := f.First()
	if err != nil {
		return Keypoint{}, err
	}
	return s.point(s.World, i)
}

func (s *Subject) point(points []Keypoint, i int) (Keypoint, error) {
	if i < 0 || i >= len(points) {
		return Keypoint{}, fmt.Errorf("%w: %d of %d", ErrPointOutOfRange, i, len(points))
	}
	return points[i], nil
}

// Capture bundles the face and pose frames taken from one camera frame,
// together with the video resolution they were measured against.
type Capture struct {
	Face   Frame `json:"face"`
	Pose   Frame `json:"pose"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
	// Timestamp is the capture time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}
