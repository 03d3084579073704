// Package landmark reads named face-mesh landmarks out of a face frame and
// derives the shape ratios used for expression tracking.
package landmark

// Point is an index into the MediaPipe face mesh.
type Point int

// Face mesh indices. "Left" and "right" are the subject's own sides.
// See: https://github.com/google/mediapipe/blob/master/mediapipe/modules/face_geometry/data/canonical_face_model_uv_visualization.png
const (
	NoseMiddle Point = 19

	LeftEyelidTop         Point = 386
	LeftEyelidBottom      Point = 374
	LeftEyelidTopLeft     Point = 387
	LeftEyelidBottomLeft  Point = 373
	LeftEyelidTopRight    Point = 385
	LeftEyelidBottomRight Point = 380
	LeftEyelidStart       Point = 362
	LeftEyelidEnd         Point = 263

	RightEyelidTop         Point = 159
	RightEyelidBottom      Point = 145
	RightEyelidTopLeft     Point = 160
	RightEyelidBottomLeft  Point = 144
	RightEyelidTopRight    Point = 158
	RightEyelidBottomRight Point = 153
	RightEyelidStart       Point = 133
	RightEyelidEnd         Point = 33

	MouthTopLeft      Point = 312
	MouthBottomLeft   Point = 317
	MouthTopRight     Point = 82
	MouthBottomRight  Point = 87
	MouthTopCenter    Point = 13
	MouthBottomCenter Point = 14
	MouthStart        Point = 62
	MouthEnd          Point = 292

	FaceTop    Point = 9
	FaceBottom Point = 164
	FaceRight  Point = 123
	FaceLeft   Point = 352
)

// Mesh sizes.
const (
	NumMeshPoints = 468
	// NumIrisPoints is the count added when iris refinement is enabled,
	// five per eye.
	NumIrisPoints = 10
)

// Quad names the four edge points and the horizontal span used to measure
// the opening of an eye or the mouth.
type Quad struct {
	TopLeft     Point
	BottomLeft  Point
	TopRight    Point
	BottomRight Point
	SpanStart   Point
	SpanEnd     Point
}

var (
	LeftEye = Quad{
		TopLeft:     LeftEyelidTopLeft,
		BottomLeft:  LeftEyelidBottomLeft,
		TopRight:    LeftEyelidTopRight,
		BottomRight: LeftEyelidBottomRight,
		SpanStart:   LeftEyelidStart,
		SpanEnd:     LeftEyelidEnd,
	}
	RightEye = Quad{
		TopLeft:     RightEyelidTopLeft,
		BottomLeft:  RightEyelidBottomLeft,
		TopRight:    RightEyelidTopRight,
		BottomRight: RightEyelidBottomRight,
		SpanStart:   RightEyelidStart,
		SpanEnd:     RightEyelidEnd,
	}
	Mouth = Quad{
		TopLeft:     MouthTopLeft,
		BottomLeft:  MouthBottomLeft,
		TopRight:    MouthTopRight,
		BottomRight: MouthBottomRight,
		SpanStart:   MouthStart,
		SpanEnd:     MouthEnd,
	}
)
