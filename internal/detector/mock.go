package detector

import (
	"fmt"
	"slices"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/kathakali/internal/frame"
	"github.com/ayusman/kathakali/internal/pose"
	"github.com/ayusman/kathakali/internal/synth"
)

// MockDetector is a test implementation of the Detector interface.
// It serves queued captures in order, then repeats the last one, or cycles
// through the queue when looping.
type MockDetector struct {
	mu       sync.Mutex
	captures []frame.Capture
	index    int
	loop     bool
	err      error
	calls    int
}

var _ Detector = (*MockDetector)(nil)

// NewMockDetector creates a new MockDetector instance. Detect returns an
// empty capture until one is set.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetCapture replaces the queue with c.
func (m *MockDetector) SetCapture(c frame.Capture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = []frame.Capture{c}
	m.index = 0
}

// Enqueue appends captures to the queue.
func (m *MockDetector) Enqueue(cs ...frame.Capture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = append(m.captures, cs...)
}

// SetLoop makes Detect cycle through the queue instead of holding the last
// capture.
func (m *MockDetector) SetLoop(loop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loop = loop
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the next queued capture or the configured error. The
// returned capture is a copy the caller may modify.
func (m *MockDetector) Detect(img *gocv.Mat) (*frame.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.captures) == 0 {
		return &frame.Capture{Width: synth.Width, Height: synth.Height}, nil
	}

	c := cloneCapture(m.captures[m.index])
	switch {
	case m.index < len(m.captures)-1:
		m.index++
	case m.loop:
		m.index = 0
	}
	return &c, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

func cloneCapture(c frame.Capture) frame.Capture {
	c.Face = cloneFrame(c.Face)
	c.Pose = cloneFrame(c.Pose)
	return c
}

func cloneFrame(f frame.Frame) frame.Frame {
	out := frame.Frame{Subjects: make([]frame.Subject, len(f.Subjects))}
	for i, s := range f.Subjects {
		out.Subjects[i] = frame.Subject{
			Keypoints: slices.Clone(s.Keypoints),
			World:     slices.Clone(s.World),
			Score:     s.Score,
		}
	}
	return out
}

type preset struct {
	face func() synth.FaceShape
	body func() synth.BodyShape
}

var presets = map[string]preset{
	"rest":        {synth.NeutralFace, synth.RestBody},
	"blink":       {synth.ClosedEyesFace, synth.RestBody},
	"wink":        {synth.WinkFace, synth.RestBody},
	"vowel_a":     {synth.VowelAFace, synth.RestBody},
	"vowel_i":     {synth.VowelIFace, synth.RestBody},
	"vowel_u":     {synth.VowelUFace, synth.RestBody},
	"grin":        {synth.GrinFace, synth.RestBody},
	"t_pose":      {synth.NeutralFace, synth.TPoseBody},
	"bent_elbows": {synth.NeutralFace, synth.BentElbowsBody},
}

// PresetNames lists the preset captures in name order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// PresetCapture builds the named synthetic capture with the pose laid out
// for layout.
func PresetCapture(name string, layout *pose.Layout) (frame.Capture, error) {
	p, ok := presets[name]
	if !ok {
		return frame.Capture{}, fmt.Errorf("unknown preset %q", name)
	}
	return frame.Capture{
		Face:   synth.Face(p.face()),
		Pose:   synth.Body(layout, p.body()),
		Width:  synth.Width,
		Height: synth.Height,
	}, nil
}

// NewPresetDetector returns a looping MockDetector serving the named
// presets, each repeated hold times.
func NewPresetDetector(layout *pose.Layout, hold int, names ...string) (*MockDetector, error) {
	if hold < 1 {
		hold = 1
	}
	m := NewMockDetector()
	for _, n := range names {
		c, err := PresetCapture(n, layout)
		if err != nil {
			return nil, err
		}
		for range hold {
			m.Enqueue(c)
		}
	}
	m.SetLoop(true)
	return m, nil
}
