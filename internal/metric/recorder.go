package metric

import (
	"sync"

	"github.com/ayusman/kathakali/internal/guider"
)

// Feature names.
const (
	LeftEAR    = "left_ear"
	RightEAR   = "right_ear"
	MAR        = "mar"
	HAR        = "har"
	HeadPitch  = "head_pitch"
	HeadYaw    = "head_yaw"
	HeadRoll   = "head_roll"
	TorsoPitch = "torso_pitch"
	TorsoYaw   = "torso_yaw"
	TorsoRoll  = "torso_roll"
)

// Names lists every feature in display order.
var Names = []string{
	LeftEAR, RightEAR, MAR, HAR,
	HeadPitch, HeadYaw, HeadRoll,
	TorsoPitch, TorsoYaw, TorsoRoll,
}

// Values flattens f into named values. Features the pass did not compute
// are left out, so the map is always JSON-safe.
func Values(f guider.Features) map[string]float64 {
	all := map[string]float64{
		LeftEAR:    f.LeftEAR,
		RightEAR:   f.RightEAR,
		MAR:        f.MAR,
		HAR:        f.HAR,
		HeadPitch:  f.Head.X,
		HeadYaw:    f.Head.Y,
		HeadRoll:   f.Head.Z,
		TorsoPitch: f.Torso.X,
		TorsoYaw:   f.Torso.Y,
		TorsoRoll:  f.Torso.Z,
	}
	out := make(map[string]float64, len(all))
	for k, v := range all {
		if finite(v) {
			out[k] = v
		}
	}
	return out
}

// Recorder keeps one Window per feature. It is safe for concurrent use:
// the pipeline observes while HTTP handlers summarise.
type Recorder struct {
	mu      sync.Mutex
	size    int
	windows map[string]*Window
	frames  int
}

// NewRecorder creates a Recorder whose windows hold size values each.
func NewRecorder(size int) *Recorder {
	r := &Recorder{
		size:    size,
		windows: make(map[string]*Window, len(Names)),
	}
	for _, n := range Names {
		r.windows[n] = NewWindow(size)
	}
	return r
}

// Observe adds the finite features of one pass.
func (r *Recorder) Observe(f guider.Features) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames++
	for name, v := range Values(f) {
		r.windows[name].Add(v)
	}
}

// Frames returns how many passes have been observed.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Series returns the window for name, oldest first.
func (r *Recorder) Series(name string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[name]
	if !ok {
		return nil
	}
	return w.Values()
}

// Summaries summarises every non-empty window.
func (r *Recorder) Summaries() map[string]Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Summary, len(r.windows))
	for name, w := range r.windows {
		if w.Len() == 0 {
			continue
		}
		out[name] = Summarize(w.Values())
	}
	return out
}

// Reset empties every window.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frames = 0
	for _, w := range r.windows {
		w.Reset()
	}
}
