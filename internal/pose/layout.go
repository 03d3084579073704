// Package pose reads named body joints out of a pose frame for the two
// supported pose backends.
package pose

import (
	"errors"
	"fmt"
	"strings"
)

// Joint names a body keypoint independently of the backend's indexing.
type Joint int

const (
	Nose Joint = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex
	NumJoints
)

var jointNames = [NumJoints]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear", "mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_pinky", "right_pinky",
	"left_index", "right_index", "left_thumb", "right_thumb",
	"left_hip", "right_hip", "left_knee", "right_knee",
	"left_ankle", "right_ankle", "left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

func (j Joint) String() string {
	if j < 0 || j >= NumJoints {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return jointNames[j]
}

// ErrUnknownLayout is returned by LayoutByName for unsupported backends.
var ErrUnknownLayout = errors.New("unknown pose layout")

// ErrJointNotInLayout is returned when a backend does not emit a joint.
var ErrJointNotInLayout = errors.New("joint not in layout")

// Layout describes how one pose backend indexes its keypoints and the fixed
// canvas its coordinates are measured in.
type Layout struct {
	Name        string
	InputWidth  float64
	InputHeight float64
	// index maps a Joint to its position in the backend's keypoint list,
	// -1 when absent.
	index [NumJoints]int
	count int
}

// Count returns the number of keypoints the backend emits per subject.
func (l *Layout) Count() int {
	return l.count
}

// Index returns the backend position of j.
func (l *Layout) Index(j Joint) (int, bool) {
	if j < 0 || j >= NumJoints {
		return 0, false
	}
	i := l.index[j]
	return i, i >= 0
}

func newLayout(name string, w, h float64, joints []Joint) *Layout {
	l := &Layout{Name: name, InputWidth: w, InputHeight: h, count: len(joints)}
	for i := range l.index {
		l.index[i] = -1
	}
	for i, j := range joints {
		l.index[j] = i
	}
	return l
}

// BlazePose is MediaPipe's 33 keypoint topology.
var BlazePose = func() *Layout {
	joints := make([]Joint, NumJoints)
	for i := range joints {
		joints[i] = Joint(i)
	}
	return newLayout("blazepose", 256, 256, joints)
}()

// MoveNet is the 17 keypoint COCO topology. Its coordinates are measured on
// a 360x270 canvas.
var MoveNet = newLayout("movenet", 360, 270, []Joint{
	Nose, LeftEye, RightEye, LeftEar, RightEar,
	LeftShoulder, RightShoulder, LeftElbow, RightElbow,
	LeftWrist, RightWrist, LeftHip, RightHip,
	LeftKnee, RightKnee, LeftAnkle, RightAnkle,
})

// LayoutByName returns the layout registered under name.
func LayoutByName(name string) (*Layout, error) {
	switch strings.ToLower(name) {
	case BlazePose.Name:
		return BlazePose, nil
	case MoveNet.Name:
		return MoveNet, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, name)
}
