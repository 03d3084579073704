package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// MotionConfig tunes frame differencing.
type MotionConfig struct {
	// Threshold is the percentage of pixels that must change, e.g. 1.0
	// for 1%.
	Threshold float64 `mapstructure:"threshold" yaml:"threshold"`
	// BlurSize is the Gaussian kernel size; it must be odd.
	BlurSize int `mapstructure:"blur_size" yaml:"blur_size"`
	// DiffThreshold is the per-pixel grey level change that counts.
	DiffThreshold float32 `mapstructure:"diff_threshold" yaml:"diff_threshold"`
}

// Motion detection defaults
const (
	DefaultMotionThreshold = 1.0
	DefaultBlurSize        = 21
	DefaultDiffThreshold   = 25
)

// DefaultMotionConfig returns a 1% threshold over a 21x21 blur.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		Threshold:     DefaultMotionThreshold,
		BlurSize:      DefaultBlurSize,
		DiffThreshold: DefaultDiffThreshold,
	}
}

// MotionDetector detects motion between consecutive video frames
// using frame differencing with Gaussian blur for noise reduction.
type MotionDetector struct {
	config      MotionConfig
	prevGray    gocv.Mat
	initialized bool
	mu          sync.Mutex
}

// NewMotionDetector creates a MotionDetector. Unset fields of cfg take the
// defaults and an even BlurSize is rounded up.
func NewMotionDetector(cfg MotionConfig) *MotionDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultMotionThreshold
	}
	if cfg.BlurSize <= 0 {
		cfg.BlurSize = DefaultBlurSize
	}
	if cfg.BlurSize%2 == 0 {
		cfg.BlurSize++
	}
	if cfg.DiffThreshold <= 0 {
		cfg.DiffThreshold = DefaultDiffThreshold
	}
	return &MotionDetector{
		config:   cfg,
		prevGray: gocv.NewMat(),
	}
}

// Detect compares frame with the previous one and reports whether the
// changed share of pixels exceeds the threshold, and that share in percent.
// The first frame after construction or Reset only sets the baseline.
func (m *MotionDetector) Detect(frame *gocv.Mat) (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame == nil || frame.Empty() {
		return false, 0
	}

	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	k := m.config.BlurSize
	gocv.GaussianBlur(gray, &blurred, image.Point{X: k, Y: k}, 0, 0, gocv.BorderDefault)

	if !m.initialized || blurred.Rows() != m.prevGray.Rows() || blurred.Cols() != m.prevGray.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.initialized = true
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, m.config.DiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	blurred.CopyTo(&m.prevGray)

	return changed > m.config.Threshold, changed
}

// Reset drops the baseline frame.
func (m *MotionDetector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}

// Close releases resources used by the motion detector. It is safe to call
// more than once, and Detect after Close starts a new baseline.
func (m *MotionDetector) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release()
}

func (m *MotionDetector) release() {
	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.initialized = false
}

// Threshold returns the current change threshold in percent.
func (m *MotionDetector) Threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.Threshold
}

// SetThreshold sets the motion detection threshold.
// Values less than or equal to 0 are ignored.
func (m *MotionDetector) SetThreshold(threshold float64) {
	if threshold <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.config.Threshold = threshold
}
