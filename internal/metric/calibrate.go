package metric

import (
	"errors"
	"fmt"
	"math"

	"github.com/ayusman/kathakali/internal/guider"
)

// MinCalibrationSamples is the smallest series Calibrate accepts.
const MinCalibrationSamples = 30

// ErrNotEnoughSamples is returned when a series is too short to calibrate.
var ErrNotEnoughSamples = errors.New("not enough samples to calibrate")

// Calibration bounds.
const (
	blinkRatio    = 0.7
	minBlink      = 0.1
	maxBlink      = 0.35
	minBandWidth  = 0.02
	restQuantile  = 0.5
	peakQuantile  = 0.95
	blinkQuantile = 0.5
)

// Calibrate tunes the blink threshold and the A vowel band of base to a
// recorded subject. ear holds EAR values of both eyes, mar the MAR values.
//
// The blink threshold is a fixed fraction of the median EAR, since eyes are
// open for most of any recording. The A band runs from the median MAR,
// the mouth at rest, to its 95th percentile. A band narrower than
// minBandWidth keeps base's band.
func Calibrate(base guider.Config, ear, mar []float64) (guider.Config, error) {
	if len(ear) < MinCalibrationSamples {
		return base, fmt.Errorf("%w: %d EAR values", ErrNotEnoughSamples, len(ear))
	}
	if len(mar) < MinCalibrationSamples {
		return base, fmt.Errorf("%w: %d MAR values", ErrNotEnoughSamples, len(mar))
	}

	cfg := base
	open := Quantile(blinkQuantile, ear)
	cfg.Blink.Threshold = math.Max(minBlink, math.Min(maxBlink, open*blinkRatio))

	rest := Quantile(restQuantile, mar)
	peak := Quantile(peakQuantile, mar)
	if peak-rest >= minBandWidth {
		cfg.Mouth.A.Ramp = guider.Band{Min: rest, Max: peak}
		cfg.Mouth.A.MAR = guider.Gate{Above: guider.Bound(rest)}
	}

	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
