package pose

import (
	"errors"
	"fmt"

	"github.com/ayusman/kathakali/internal/frame"
)

// ErrLowConfidence is returned when a keypoint's score is below the
// requested minimum.
var ErrLowConfidence = errors.New("keypoint below confidence threshold")

// Get returns joint j of the first subject in f, in the backend's 2D space.
func (l *Layout) Get(f *frame.Frame, j Joint) (frame.Keypoint, error) {
	i, err := l.position(f, j)
	if err != nil {
		return frame.Keypoint{}, err
	}
	return f.Point(i)
}

// Get3D returns joint j of the first subject from the backend's 3D output.
func (l *Layout) Get3D(f *frame.Frame, j Joint) (frame.Keypoint, error) {
	i, err := l.position(f, j)
	if err != nil {
		return frame.Keypoint{}, err
	}
	return f.WorldPoint(i)
}

// GetConfident is Get with a minimum score. The 2D score applies to the
// 3D point too when world is set.
func (l *Layout) GetConfident(f *frame.Frame, j Joint, minScore float64, world bool) (frame.Keypoint, error) {
	kp, err := l.Get(f, j)
	if err != nil {
		return frame.Keypoint{}, err
	}
	if kp.Score < minScore {
		return frame.Keypoint{}, fmt.Errorf("%w: %s scored %.2f", ErrLowConfidence, j, kp.Score)
	}
	if !world {
		return kp, nil
	}
	return l.Get3D(f, j)
}

func (l *Layout) position(f *frame.Frame, j Joint) (int, error) {
	if f.Empty() {
		return 0, frame.ErrNoSubjectDetected
	}
	i, ok := l.Index(j)
	if !ok {
		return 0, fmt.Errorf("%w: %s in %s", ErrJointNotInLayout, j, l.Name)
	}
	return i, nil
}

// Rescale maps every 2D keypoint of every subject from the fromW x fromH
// canvas to toW x toH. 3D keypoints are left alone. A zero-sized source
// canvas leaves the frame unchanged.
func Rescale(f *frame.Frame, fromW, fromH, toW, toH float64) {
	if f == nil || fromW == 0 || fromH == 0 {
		return
	}
	sx, sy := toW/fromW, toH/fromH
	for s := range f.Subjects {
		kps := f.Subjects[s].Keypoints
		for i := range kps {
			kps[i].X *= sx
			kps[i].Y *= sy
		}
	}
}

// RescaleToVideo maps f from the layout's input canvas to the video frame.
func (l *Layout) RescaleToVideo(f *frame.Frame, videoWidth, videoHeight int) {
	Rescale(f, l.InputWidth, l.InputHeight, float64(videoWidth), float64(videoHeight))
}
