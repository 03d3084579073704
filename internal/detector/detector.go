// Package detector turns camera frames into face mesh and pose keypoints.
package detector

import (
	"errors"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/kathakali/internal/frame"
)

// ErrServiceNotFound is returned when the MediaPipe service script cannot be
// located.
var ErrServiceNotFound = errors.New("mediapipe_service.py not found")

// Detector defines the interface for keypoint detection backends.
type Detector interface {
	// Detect analyzes a video frame. Face keypoints are in video pixels;
	// pose keypoints are on the pose layout's input canvas. A frame with no
	// subject yields empty Face and Pose frames, not an error.
	Detect(img *gocv.Mat) (*frame.Capture, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for keypoint detection.
type Config struct {
	// Face enables the 468 point face mesh.
	Face bool `mapstructure:"face" yaml:"face"`
	// Pose enables body keypoints.
	Pose bool `mapstructure:"pose" yaml:"pose"`
	// Layout names the pose backend topology (blazepose or movenet).
	Layout string `mapstructure:"layout" yaml:"layout"`

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64 `mapstructure:"min_tracking_confidence" yaml:"min_tracking_confidence"`
	// RefineIris asks the face mesh for the refined eye and iris landmarks.
	RefineIris bool `mapstructure:"refine_iris" yaml:"refine_iris"`

	// IdleTimeout stops the service after this long without a frame.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	// Script and Python override the service script and interpreter
	// lookup.
	Script string `mapstructure:"script" yaml:"script"`
	Python string `mapstructure:"python" yaml:"python"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Face:            true,
		Pose:            true,
		Layout:          "blazepose",
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
		IdleTimeout:     30 * time.Second,
	}
}
