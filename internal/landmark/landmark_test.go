package landmark

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/kathakali/internal/frame"
)

// testFace returns a single-subject face frame with every mesh point at the
// frame centre, overridden by pts.
func testFace(pts map[Point]frame.Keypoint) *frame.Frame {
	kps := make([]frame.Keypoint, NumMeshPoints)
	for i := range kps {
		kps[i] = frame.Keypoint{X: 320, Y: 240, Z: -10, HasZ: true}
	}
	for p, kp := range pts {
		kps[p] = kp
	}
	return &frame.Frame{Subjects: []frame.Subject{{Keypoints: kps}}}
}

func eyeQuad(q Quad, opening, span float64) map[Point]frame.Keypoint {
	return map[Point]frame.Keypoint{
		q.TopLeft:     {X: 300, Y: 200},
		q.BottomLeft:  {X: 300, Y: 200 + opening},
		q.TopRight:    {X: 310, Y: 200},
		q.BottomRight: {X: 310, Y: 200 + opening},
		q.SpanStart:   {X: 290, Y: 205},
		q.SpanEnd:     {X: 290 + span, Y: 205},
	}
}

func TestAspectRatio(t *testing.T) {
	tests := []struct {
		name string
		args [6]float64
		want float64
	}{
		{name: "closed", args: [6]float64{10, 10, 12, 12, 0, 40}, want: 0},
		{name: "open", args: [6]float64{10, 20, 10, 22, 0, 40}, want: 22.0 / 80.0},
		{name: "order independent", args: [6]float64{20, 10, 22, 10, 40, 0}, want: 22.0 / 80.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.args
			assert.InDelta(t, tt.want, AspectRatio(a[0], a[1], a[2], a[3], a[4], a[5]), 1e-12)
		})
	}

	t.Run("collapsed span is infinite", func(t *testing.T) {
		assert.True(t, math.IsInf(AspectRatio(0, 5, 0, 5, 3, 3), 1))
	})
}

func TestEyeAspectRatios(t *testing.T) {
	pts := eyeQuad(LeftEye, 0, 30)
	for p, kp := range eyeQuad(RightEye, 12, 30) {
		pts[p] = kp
	}
	f := testFace(pts)

	left, right, err := EyeAspectRatios(f)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, left, 1e-12)
	assert.InDelta(t, 0.4, right, 1e-12)
}

func TestHorizontalAspectRatio(t *testing.T) {
	f := testFace(map[Point]frame.Keypoint{
		MouthStart:       {X: 280, Y: 300},
		MouthEnd:         {X: 360, Y: 300},
		LeftEyelidStart:  {X: 350, Y: 200},
		RightEyelidStart: {X: 290, Y: 200},
	})

	har, err := HorizontalAspectRatio(f)
	require.NoError(t, err)
	assert.InDelta(t, 80.0/60.0, har, 1e-12)
}

func TestAccessors_NoSubject(t *testing.T) {
	empty := &frame.Frame{}

	_, err := Get(empty, NoseMiddle)
	assert.ErrorIs(t, err, frame.ErrNoSubjectDetected)

	_, _, err = EyeAspectRatios(empty)
	assert.ErrorIs(t, err, frame.ErrNoSubjectDetected)

	_, err = MouthAspectRatio(empty)
	assert.ErrorIs(t, err, frame.ErrNoSubjectDetected)

	_, err = HorizontalAspectRatio(empty)
	assert.ErrorIs(t, err, frame.ErrNoSubjectDetected)

	_, err = NewNormalizer(640, 480).Normalize(empty, NoseMiddle)
	assert.ErrorIs(t, err, frame.ErrNoSubjectDetected)
}

func TestAccessors_TruncatedMesh(t *testing.T) {
	f := &frame.Frame{Subjects: []frame.Subject{{Keypoints: make([]frame.Keypoint, 20)}}}

	_, err := Get(f, NoseMiddle)
	assert.NoError(t, err)

	_, err = MouthAspectRatio(f)
	assert.ErrorIs(t, err, frame.ErrPointOutOfRange)
}

func TestNormalizer(t *testing.T) {
	t.Run("centre maps to origin and baseline is captured", func(t *testing.T) {
		n := NewNormalizer(640, 480)
		f := testFace(map[Point]frame.Keypoint{NoseMiddle: {X: 320, Y: 240, Z: -14}})

		_, ok := n.Baseline()
		require.False(t, ok)

		v, err := n.Normalize(f, NoseMiddle)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, v[0], 1e-12)
		assert.InDelta(t, 0.0, v[1], 1e-12)
		assert.InDelta(t, 0.0, v[2], 1e-12)

		base, ok := n.Baseline()
		assert.True(t, ok)
		assert.Equal(t, -14.0, base)
	})

	t.Run("corners and depth relative to baseline", func(t *testing.T) {
		n := NewNormalizer(640, 480)
		n.SetBaseline(-10)
		f := testFace(map[Point]frame.Keypoint{NoseMiddle: {X: 640, Y: 0, Z: -15}})

		v, err := n.Normalize(f, NoseMiddle)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, v[0], 1e-12)
		assert.InDelta(t, -1.0, v[1], 1e-12)
		assert.InDelta(t, 0.5, v[2], 1e-12)
	})

	t.Run("reset recaptures", func(t *testing.T) {
		n := NewNormalizer(640, 480)
		n.SetBaseline(-10)
		n.Reset()

		f := testFace(map[Point]frame.Keypoint{NoseMiddle: {X: 320, Y: 240, Z: -20}})
		v, err := n.Normalize(f, NoseMiddle)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, v[2], 1e-12)

		base, _ := n.Baseline()
		assert.Equal(t, -20.0, base)
	})

	t.Run("unknown size is rejected without capturing", func(t *testing.T) {
		n := NewNormalizer(0, 0)
		f := testFace(map[Point]frame.Keypoint{NoseMiddle: {X: 320, Y: 240, Z: -14}})

		_, err := n.Normalize(f, NoseMiddle)
		assert.ErrorIs(t, err, ErrUnknownFrameSize)
		_, ok := n.Baseline()
		assert.False(t, ok)

		n.SetSize(640, 480)
		v, err := n.Normalize(f, NoseMiddle)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, v[0], 1e-12)
		base, ok := n.Baseline()
		assert.True(t, ok)
		assert.Equal(t, -14.0, base)
	})

	t.Run("zero baseline leaves an unscaled offset", func(t *testing.T) {
		n := NewNormalizer(640, 480)
		n.SetBaseline(0)
		f := testFace(map[Point]frame.Keypoint{NoseMiddle: {X: 320, Y: 240, Z: 3}})

		v, err := n.Normalize(f, NoseMiddle)
		require.NoError(t, err)
		assert.InDelta(t, 3.0, v[2], 1e-12)
	})
}
