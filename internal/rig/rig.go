// Package rig is the typed bone and morph surface the classifiers drive.
//
// Bones and morphs are addressed by enum rather than by string. A rig is
// checked against the ids its consumers need when it is loaded, so a missing
// bone is reported once at startup instead of on the first frame.
package rig

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ayusman/kathakali/internal/geom"
)

var (
	// ErrMissingBone is returned when a rig lacks a required bone.
	ErrMissingBone = errors.New("rig is missing bone")
	// ErrMissingMorph is returned when a rig lacks a required morph.
	ErrMissingMorph = errors.New("rig is missing morph")
)

// BoneID names a bone the classifiers can drive.
type BoneID int

const (
	Center BoneID = iota
	UpperBody
	Neck
	Head
	LeftShoulder
	LeftArm
	LeftElbow
	RightShoulder
	RightArm
	RightElbow
	NumBones
)

var boneNames = [NumBones]string{
	"Center", "Upper body", "Neck", "Head",
	"Left shoulder", "Left arm", "Left elbow",
	"Right shoulder", "Right arm", "Right elbow",
}

func (b BoneID) String() string {
	if b < 0 || b >= NumBones {
		return fmt.Sprintf("bone(%d)", int(b))
	}
	return boneNames[b]
}

// MorphID names a facial blend shape the classifiers can drive.
type MorphID int

const (
	Blinking MorphID = iota
	VowelA
	VowelI
	VowelU
	Grin
	NumMorphs
)

var morphNames = [NumMorphs]string{"Blinking", "A", "I", "U", "Grin"}

func (m MorphID) String() string {
	if m < 0 || m >= NumMorphs {
		return fmt.Sprintf("morph(%d)", int(m))
	}
	return morphNames[m]
}

// Bone is the rotation state of one rig bone.
//
// Rotation is what renderers and snapshots read. A bone driven through
// SetQuat also keeps the exact quaternion, and Quat returns it for as long as
// Rotation has not been written directly, so slerping a bone frame after
// frame never passes through an Euler decomposition.
type Bone struct {
	// Name is the bone's name in the source rig.
	Name     string
	Rotation geom.Euler

	quat mgl64.Quat
	// from is Rotation as SetQuat left it.
	from  geom.Euler
	exact bool
}

// Quat returns the bone rotation as a quaternion.
func (b *Bone) Quat() mgl64.Quat {
	if b.exact && b.Rotation == b.from {
		return b.quat
	}
	return b.Rotation.Quat()
}

// SetQuat stores q and derives the Euler rotation from it.
func (b *Bone) SetQuat(q mgl64.Quat) {
	b.quat = q
	b.Rotation = geom.EulerFromQuat(q)
	b.from = b.Rotation
	b.exact = true
}

// Rig is the mutable surface written by the classifiers and read by the
// renderer between passes.
type Rig interface {
	// Bone returns the bone for id, or nil if the rig lacks it.
	Bone(id BoneID) *Bone
	// Morph returns the current weight of id.
	Morph(id MorphID) float64
	// SetMorph stores a weight, clamped to [0, 1]. NaN is ignored.
	SetMorph(id MorphID, weight float64)
	// Bones lists the bones the rig provides.
	Bones() []BoneID
	// Morphs lists the morphs the rig provides.
	Morphs() []MorphID
}

// Requirements lists the bones and morphs a consumer writes.
type Requirements struct {
	Bones  []BoneID
	Morphs []MorphID
}

// Merge returns the union of r and other.
func (r Requirements) Merge(other Requirements) Requirements {
	out := Requirements{
		Bones:  append([]BoneID(nil), r.Bones...),
		Morphs: append([]MorphID(nil), r.Morphs...),
	}
	for _, b := range other.Bones {
		if !slices.Contains(out.Bones, b) {
			out.Bones = append(out.Bones, b)
		}
	}
	for _, m := range other.Morphs {
		if !slices.Contains(out.Morphs, m) {
			out.Morphs = append(out.Morphs, m)
		}
	}
	return out
}

// Validate reports every required bone or morph r lacks.
func Validate(r Rig, req Requirements) error {
	var errs []error
	have := r.Bones()
	for _, b := range req.Bones {
		if !slices.Contains(have, b) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingBone, b))
		}
	}
	haveMorphs := r.Morphs()
	for _, m := range req.Morphs {
		if !slices.Contains(haveMorphs, m) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingMorph, m))
		}
	}
	return errors.Join(errs...)
}

func clampWeight(w float64) float64 {
	return math.Max(0, math.Min(1, w))
}
