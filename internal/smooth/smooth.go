// Package smooth provides the temporal filters that turn noisy per-frame
// targets into stable bone and morph updates.
//
// The previous value of the bone or morph is the only filter memory; nothing
// here keeps history.
package smooth

import "math"

// DefaultFactor is the exponential factor used for head and torso tracking.
const DefaultFactor = 0.2

// Exponential moves previous toward target by factor, a first-order
// low-pass filter. factor is expected in (0, 1]; 1 jumps straight to target.
func Exponential(target, previous, factor float64) float64 {
	return previous + (target-previous)*factor
}

// Increment returns the signed step that moves previous toward target by at
// most step. Differences within deadband produce no step.
func Increment(previous, target, step, deadband float64) float64 {
	diff := target - previous
	if math.Abs(diff) <= deadband {
		return 0
	}
	return math.Copysign(math.Min(step, math.Abs(diff)), diff)
}

// Filter is one smoothing strategy. A signal is bound to a single Filter for
// its lifetime so its settling behaviour stays consistent.
type Filter interface {
	Next(previous, target float64) float64
}

// ExponentialFilter applies Exponential with a fixed factor.
type ExponentialFilter struct {
	Factor float64
}

// Next implements Filter.
func (f ExponentialFilter) Next(previous, target float64) float64 {
	return Exponential(target, previous, f.Factor)
}

// SteppedFilter applies Increment with a fixed step and deadband.
type SteppedFilter struct {
	Step     float64
	Deadband float64
}

// Next implements Filter.
func (f SteppedFilter) Next(previous, target float64) float64 {
	return previous + Increment(previous, target, f.Step, f.Deadband)
}

// Snap jumps straight to the target.
type Snap struct{}

// Next implements Filter.
func (Snap) Next(_, target float64) float64 {
	return target
}
