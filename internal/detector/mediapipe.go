package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/kathakali/internal/frame"
	"github.com/ayusman/kathakali/internal/pose"
)

const scriptName = "mediapipe_service.py"

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess.
//
// Each request is a 4 byte big-endian length followed by a JPEG frame on the
// service's stdin. Each response is one JSON line of normalized keypoints.
type MediaPipeDetector struct {
	config    Config
	layout    *pose.Layout
	script    string
	python    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is started lazily on first detection.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	layout, err := pose.LayoutByName(config.Layout)
	if err != nil {
		return nil, err
	}
	if layout != pose.BlazePose {
		return nil, fmt.Errorf("%w: mediapipe emits %s keypoints, not %s", pose.ErrUnknownLayout, pose.BlazePose.Name, layout.Name)
	}

	script := config.Script
	if script == "" {
		script = findMediaPipeScript()
	}
	if script == "" {
		return nil, ErrServiceNotFound
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceNotFound, err)
	}

	python := config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	return &MediaPipeDetector{
		config: config,
		layout: layout,
		script: script,
		python: python,
	}, nil
}

// Layout returns the pose topology the service emits.
func (d *MediaPipeDetector) Layout() *pose.Layout {
	return d.layout
}

// Detect analyzes a frame and returns the detected face and pose keypoints.
func (d *MediaPipeDetector) Detect(img *gocv.Mat) (*frame.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *img)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	if err := writeFrame(d.stdin, buf.GetBytes()); err != nil {
		d.abort()
		return nil, err
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		d.abort()
		return nil, fmt.Errorf("read response: %w", err)
	}

	capture, err := decodeResponse(line, img.Cols(), img.Rows(), d.layout)
	if err != nil {
		return nil, err
	}

	d.resetIdleTimer()
	return capture, nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *MediaPipeDetector) args() []string {
	args := []string{
		d.script,
		"--layout", d.layout.Name,
		"--min-detection-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(d.config.MinTrackingConf, 'f', -1, 64),
	}
	if !d.config.Face {
		args = append(args, "--no-face")
	}
	if !d.config.Pose {
		args = append(args, "--no-pose")
	}
	if d.config.RefineIris {
		args = append(args, "--refine-landmarks")
	}
	return args
}

func (d *MediaPipeDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	d.cmd = exec.Command(d.python, d.args()...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start mediapipe service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	return nil
}

// abort kills a service whose pipe broke so the next Detect restarts it.
func (d *MediaPipeDetector) abort() {
	if d.started && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.shutdown()
}

func (d *MediaPipeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func (d *MediaPipeDetector) resetIdleTimer() {
	if d.config.IdleTimeout <= 0 {
		return
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.config.IdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

func writeFrame(w io.Writer, data []byte) error {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := w.Write(length); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

func findMediaPipeScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	return firstExisting(
		filepath.Join("scripts", scriptName),
		filepath.Join("..", "scripts", scriptName),
		filepath.Join(execDir, "scripts", scriptName),
		filepath.Join(os.Getenv("HOME"), ".kathakali", "scripts", scriptName),
	)
}

// findVenvPython looks for a Python interpreter in a virtual environment
// next to the working directory, the binary or ~/.kathakali.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	return firstExisting(
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".kathakali/venv/bin/python"),
	)
}

func firstExisting(candidates ...string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// response is one line from the Python service. Coordinates are normalized
// to [0, 1] of the image; face z uses the same scale as x.
type response struct {
	Faces []jsonSubject `json:"faces"`
	Poses []jsonSubject `json:"poses"`
	Error string        `json:"error,omitempty"`
}

type jsonSubject struct {
	Points []jsonPoint `json:"points"`
	// World holds metric 3D pose points, when the backend has them.
	World []jsonPoint `json:"world,omitempty"`
	Score float64     `json:"score"`
}

type jsonPoint struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          *float64 `json:"z,omitempty"`
	Visibility *float64 `json:"visibility,omitempty"`
}

func (p jsonPoint) keypoint(sx, sy, sz float64) frame.Keypoint {
	kp := frame.Keypoint{X: p.X * sx, Y: p.Y * sy, Score: 1}
	if p.Z != nil {
		kp.Z = *p.Z * sz
		kp.HasZ = true
	}
	if p.Visibility != nil {
		kp.Score = *p.Visibility
	}
	return kp
}

// decodeResponse converts a service line into a Capture of a width x height
// video frame. Face points land in video pixels, pose points on the layout's
// input canvas.
func decodeResponse(line []byte, width, height int, layout *pose.Layout) (*frame.Capture, error) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("mediapipe service: %s", resp.Error)
	}

	c := &frame.Capture{Width: width, Height: height}
	w, h := float64(width), float64(height)

	for _, s := range resp.Faces {
		c.Face.Subjects = append(c.Face.Subjects, s.subject(w, h, w, nil))
	}
	for _, s := range resp.Poses {
		if len(s.Points) < layout.Count() {
			return nil, fmt.Errorf("pose has %d keypoints, %s needs %d", len(s.Points), layout.Name, layout.Count())
		}
		c.Pose.Subjects = append(c.Pose.Subjects, s.subject(layout.InputWidth, layout.InputHeight, 0, layout))
	}
	return c, nil
}

func (s jsonSubject) subject(sx, sy, sz float64, layout *pose.Layout) frame.Subject {
	n := len(s.Points)
	if layout != nil {
		n = layout.Count()
	}

	sub := frame.Subject{Keypoints: make([]frame.Keypoint, n), Score: s.Score}
	for i := range sub.Keypoints {
		sub.Keypoints[i] = s.Points[i].keypoint(sx, sy, sz)
		// Pose depth is only meaningful in world space.
		if layout != nil {
			sub.Keypoints[i].Z, sub.Keypoints[i].HasZ = 0, false
		}
	}
	if len(s.World) > 0 && len(s.World) >= n {
		sub.World = make([]frame.Keypoint, n)
		for i := range sub.World {
			sub.World[i] = s.World[i].keypoint(1, 1, 1)
		}
	}
	return sub
}
