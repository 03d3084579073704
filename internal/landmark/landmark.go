package landmark

import (
	"errors"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ayusman/kathakali/internal/frame"
	"github.com/ayusman/kathakali/internal/geom"
)

// ErrUnknownFrameSize is returned by Normalize before a positive frame size
// has been set.
var ErrUnknownFrameSize = errors.New("frame size unknown")

// Get returns the first subject's landmark p in detector pixel space.
func Get(f *frame.Frame, p Point) (frame.Keypoint, error) {
	return f.Point(int(p))
}

// AspectRatio returns the mean vertical opening of two edge pairs divided by
// the horizontal span:
//
//	(|topLeft-bottomLeft| + |topRight-bottomRight|) / (2 * |spanStart-spanEnd|)
//
// A collapsed span yields +Inf, which threshold comparisons read as
// maximally open.
func AspectRatio(topLeftY, bottomLeftY, topRightY, bottomRightY, spanStartX, spanEndX float64) float64 {
	opening := math.Abs(topLeftY-bottomLeftY) + math.Abs(topRightY-bottomRightY)
	return opening / (2 * math.Abs(spanStartX-spanEndX))
}

// QuadAspectRatio measures q on the first subject of f.
func QuadAspectRatio(f *frame.Frame, q Quad) (float64, error) {
	var pts [6]frame.Keypoint
	for i, p := range []Point{q.TopLeft, q.BottomLeft, q.TopRight, q.BottomRight, q.SpanStart, q.SpanEnd} {
		kp, err := Get(f, p)
		if err != nil {
			return 0, err
		}
		pts[i] = kp
	}
	return AspectRatio(pts[0].Y, pts[1].Y, pts[2].Y, pts[3].Y, pts[4].X, pts[5].X), nil
}

// EyeAspectRatios returns the EAR of the subject's left and right eye.
func EyeAspectRatios(f *frame.Frame) (left, right float64, err error) {
	if left, err = QuadAspectRatio(f, LeftEye); err != nil {
		return 0, 0, err
	}
	if right, err = QuadAspectRatio(f, RightEye); err != nil {
		return 0, 0, err
	}
	return left, right, nil
}

// MouthAspectRatio returns the MAR of the subject's mouth.
func MouthAspectRatio(f *frame.Frame) (float64, error) {
	return QuadAspectRatio(f, Mouth)
}

// HorizontalAspectRatio returns mouth width over the distance between the
// inner eye corners. It rises when the lips stretch sideways.
func HorizontalAspectRatio(f *frame.Frame) (float64, error) {
	pts, err := points(f, MouthStart, MouthEnd, LeftEyelidStart, RightEyelidStart)
	if err != nil {
		return 0, err
	}
	mouthWidth := geom.Distance2D(pts[0].Vec2(), pts[1].Vec2())
	eyeDistance := geom.Distance2D(pts[3].Vec2(), pts[2].Vec2())
	return mouthWidth / eyeDistance, nil
}

func points(f *frame.Frame, ids ...Point) ([]frame.Keypoint, error) {
	out := make([]frame.Keypoint, len(ids))
	for i, id := range ids {
		kp, err := Get(f, id)
		if err != nil {
			return nil, err
		}
		out[i] = kp
	}
	return out, nil
}

// Normalizer maps landmarks into a frame-relative space: x and y in [-1, 1]
// around the frame centre, z relative to a baseline depth.
//
// The baseline is captured from the first landmark normalized after
// construction or Reset, unless it was set explicitly.
type Normalizer struct {
	width    float64
	height   float64
	baseline float64
	captured bool
}

// NewNormalizer creates a Normalizer for frames of the given size.
func NewNormalizer(width, height int) *Normalizer {
	return &Normalizer{
		width:  float64(width),
		height: float64(height),
	}
}

// SetBaseline fixes the zero-reference depth.
func (n *Normalizer) SetBaseline(z float64) {
	n.baseline = z
	n.captured = true
}

// Baseline returns the reference depth and whether one has been captured.
func (n *Normalizer) Baseline() (float64, bool) {
	return n.baseline, n.captured
}

// Reset forgets the baseline so the next call captures a new one.
func (n *Normalizer) Reset() {
	n.baseline = 0
	n.captured = false
}

// SetSize updates the frame size used for x and y.
func (n *Normalizer) SetSize(width, height int) {
	n.width = float64(width)
	n.height = float64(height)
}

// Normalize returns landmark p of f in normalized space.
// A zero baseline leaves depth as an unscaled offset. Without a frame size
// nothing is normalized and no baseline is captured.
func (n *Normalizer) Normalize(f *frame.Frame, p Point) (mgl64.Vec3, error) {
	kp, err := Get(f, p)
	if err != nil {
		return mgl64.Vec3{}, err
	}
	if n.width <= 0 || n.height <= 0 {
		return mgl64.Vec3{}, ErrUnknownFrameSize
	}

	if !n.captured {
		n.SetBaseline(kp.Z)
	}

	halfW, halfH := n.width/2, n.height/2
	z := kp.Z - n.baseline
	if n.baseline != 0 {
		z /= n.baseline
	}

	return mgl64.Vec3{
		(kp.X - halfW) / halfW,
		(kp.Y - halfH) / halfH,
		z,
	}, nil
}
