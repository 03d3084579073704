package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// gimbalEpsilon is the sy threshold below which Euler decomposition treats
// the matrix as gimbal locked.
const gimbalEpsilon = 1e-6

// parallelEpsilon bounds how close |cross(a, b)| may get to zero before two
// unit vectors are treated as parallel.
const parallelEpsilon = 1e-9

// Euler holds rotation angles in radians about the x, y and z axes.
// The matrix it describes is Rz * Ry * Rx.
type Euler struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// SkewSymmetric returns the cross-product matrix K of v, so that K*w == v×w.
func SkewSymmetric(v mgl64.Vec3) mgl64.Mat3 {
	// mgl64 matrices are column-major.
	return mgl64.Mat3{
		0, v[2], -v[1],
		-v[2], 0, v[0],
		v[1], -v[0], 0,
	}
}

// AxisAngleMatrix builds a rotation matrix with Rodrigues' formula
// R = I + sin(θ)K + (1-cos(θ))K², where k is the skew-symmetric matrix of a
// unit axis. A zero k (parallel input vectors) yields the identity.
func AxisAngleMatrix(theta float64, k mgl64.Mat3) mgl64.Mat3 {
	k2 := k.Mul3(k)
	return mgl64.Ident3().
		Add(k.Mul(math.Sin(theta))).
		Add(k2.Mul(1 - math.Cos(theta)))
}

// EulerFromMatrix decomposes r into Euler angles. The second return value
// reports gimbal lock, in which case X is pinned to 0 and the remaining
// freedom is carried by Z.
func EulerFromMatrix(r mgl64.Mat3) (Euler, bool) {
	sy := math.Sqrt(r.At(0, 0)*r.At(0, 0) + r.At(1, 0)*r.At(1, 0))

	if sy < gimbalEpsilon {
		return Euler{
			X: 0,
			Y: math.Atan2(-r.At(2, 0), sy),
			Z: math.Atan2(-r.At(0, 1), r.At(1, 1)),
		}, true
	}

	return Euler{
		X: math.Atan2(r.At(2, 1), r.At(2, 2)),
		Y: math.Atan2(-r.At(2, 0), sy),
		Z: math.Atan2(r.At(1, 0), r.At(0, 0)),
	}, false
}

// Matrix returns the rotation matrix Rz * Ry * Rx for e.
func (e Euler) Matrix() mgl64.Mat3 {
	return mgl64.Rotate3DZ(e.Z).Mul3(mgl64.Rotate3DY(e.Y)).Mul3(mgl64.Rotate3DX(e.X))
}

// Quat returns e as a unit quaternion.
func (e Euler) Quat() mgl64.Quat {
	qx := mgl64.QuatRotate(e.X, mgl64.Vec3{1, 0, 0})
	qy := mgl64.QuatRotate(e.Y, mgl64.Vec3{0, 1, 0})
	qz := mgl64.QuatRotate(e.Z, mgl64.Vec3{0, 0, 1})
	return qz.Mul(qy).Mul(qx).Normalize()
}

// EulerFromQuat converts q back to Euler angles. It is lossy near gimbal
// lock and is meant for writing to Euler-based rigs and for display.
func EulerFromQuat(q mgl64.Quat) Euler {
	e, _ := EulerFromMatrix(q.Normalize().Mat4().Mat3())
	return e
}

// ShortestArc returns the minimal rotation mapping from onto to.
//
// Both vectors are normalized first. Identical directions give the identity;
// opposite directions give a half turn about an axis perpendicular to from.
// A zero-length input gives the identity.
func ShortestArc(from, to mgl64.Vec3) mgl64.Quat {
	axis, theta, ok := arc(from, to)
	if !ok {
		return mgl64.QuatIdent()
	}
	return mgl64.QuatRotate(theta, axis)
}

// ShortestArcMatrix is ShortestArc expressed through Rodrigues' formula.
func ShortestArcMatrix(from, to mgl64.Vec3) mgl64.Mat3 {
	axis, theta, ok := arc(from, to)
	if !ok {
		return mgl64.Ident3()
	}
	return AxisAngleMatrix(theta, SkewSymmetric(axis))
}

func arc(from, to mgl64.Vec3) (mgl64.Vec3, float64, bool) {
	fl, tl := from.Len(), to.Len()
	if fl == 0 || tl == 0 || !finiteVec(from) || !finiteVec(to) {
		return mgl64.Vec3{}, 0, false
	}
	f := from.Mul(1 / fl)
	t := to.Mul(1 / tl)

	theta := math.Acos(mgl64.Clamp(f.Dot(t), -1, 1))
	axis := f.Cross(t)

	if axis.Len() < parallelEpsilon {
		if theta < math.Pi/2 {
			return mgl64.Vec3{}, 0, false
		}
		return perpendicular(f), math.Pi, true
	}

	return axis.Normalize(), theta, true
}

// perpendicular returns a unit vector orthogonal to the unit vector v, built
// from the world axis least aligned with v.
func perpendicular(v mgl64.Vec3) mgl64.Vec3 {
	ref := mgl64.Vec3{1, 0, 0}
	if math.Abs(v[0]) > 0.9 {
		ref = mgl64.Vec3{0, 1, 0}
	}
	return v.Cross(ref).Normalize()
}

func finiteVec(v mgl64.Vec3) bool {
	return Finite(v[0]) && Finite(v[1]) && Finite(v[2])
}

// Slerp interpolates from a toward b by t along the shorter great arc.
func Slerp(a, b mgl64.Quat, t float64) mgl64.Quat {
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	return mgl64.QuatSlerp(a, b, t).Normalize()
}

// halfTurnX is a half turn about the x axis.
var halfTurnX = mgl64.Quat{W: 0, V: mgl64.Vec3{1, 0, 0}}

// ToRigSpace re-expresses a rotation measured in detector space (y down,
// z away from the camera) in rig space (y up, z toward the viewer). Both
// frames share the x axis, so this is conjugation by a half turn about x.
func ToRigSpace(q mgl64.Quat) mgl64.Quat {
	return halfTurnX.Mul(q).Mul(halfTurnX.Conjugate())
}

// MirrorX reflects a rotation through the YZ plane, mapping a left-limb
// rotation onto the matching right-limb rotation.
func MirrorX(q mgl64.Quat) mgl64.Quat {
	return mgl64.Quat{W: q.W, V: mgl64.Vec3{q.V[0], -q.V[1], -q.V[2]}}
}
