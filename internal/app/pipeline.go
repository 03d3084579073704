package app

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/kathakali/internal/capture"
	"github.com/ayusman/kathakali/internal/frame"
	"github.com/ayusman/kathakali/internal/metric"
	"github.com/ayusman/kathakali/internal/rig"
)

// run ticks the pipeline at the gate's frame rate until stop is closed or
// a file source ends.
func (a *App) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		a.mu.Lock()
		a.status.Running = false
		a.mu.Unlock()
	}()

	interval := a.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := a.Tick()
			switch {
			case errors.Is(err, capture.ErrEndOfStream):
				a.log.Info().Msg("video source ended")
				return
			case err != nil:
				a.log.Debug().Err(err).Msg("frame skipped")
			}

			if next := a.interval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (a *App) interval() time.Duration {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()
	return a.gate.Interval()
}

// Tick reads one camera frame and runs it through the pipeline. The loop
// started by Start calls it on every tick; tests call it directly.
func (a *App) Tick() error {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()

	img, err := a.camera.ReadFrame()
	if err != nil {
		a.setError(err)
		return err
	}
	defer img.Close()

	now := time.Now()
	if a.gate.Enabled() {
		moved, share := a.motion.Detect(img)
		active, switched := a.gate.Update(moved, now)
		if switched {
			a.camera.SetFPS(a.gate.FPS())
			a.log.Debug().Bool("active", active).Float64("changed_pct", share).Int("fps", a.gate.FPS()).Msg("motion gate switched")
		}

		a.mu.Lock()
		a.status.Active = active
		a.status.FPS = a.gate.FPS()
		a.mu.Unlock()

		if !active {
			return nil
		}
	}

	a.encodeFrame(img)
	return a.process(img, now)
}

// process detects keypoints in img, drives the rig and publishes the result.
func (a *App) process(img *gocv.Mat, now time.Time) error {
	c, err := a.detector.Detect(img)
	if err != nil {
		err = fmt.Errorf("detect: %w", err)
		a.setError(err)
		return err
	}

	c.Timestamp = now.UnixMilli()
	if c.Width == 0 || c.Height == 0 {
		c.Width, c.Height = img.Cols(), img.Rows()
	}
	a.layout.RescaleToVideo(&c.Pose, c.Width, c.Height)

	a.mu.RLock()
	g := a.guider
	a.mu.RUnlock()

	res, err := g.Apply(c)
	switch {
	case errors.Is(err, frame.ErrNoSubjectDetected):
		err = nil
	case err != nil:
		a.log.Debug().Err(err).Msg("classifier failed")
	}

	a.metrics.Observe(res.Features)
	snap := rig.Capture(a.rig, c.Timestamp)

	a.mu.Lock()
	a.latest = snap
	a.status.Frames++
	a.status.Face = res.Face
	a.status.Pose = res.Pose
	a.status.LastError = errorString(err)
	rec := a.session
	a.mu.Unlock()

	if rec != nil {
		if err := rec.add(snap, metric.Values(res.Features), now); err != nil {
			a.log.Error().Err(err).Str("session", rec.session.ID).Msg("failed to store samples")
		}
	}
	return nil
}

// encodeFrame keeps a JPEG of img for stream clients. Nothing is encoded
// while nobody watches.
func (a *App) encodeFrame(img *gocv.Mat) {
	if a.streamers.Load() == 0 {
		return
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *img, []int{int(gocv.IMWriteJpegQuality), a.settings.Server.StreamQuality})
	if err != nil {
		a.log.Debug().Err(err).Msg("failed to encode stream frame")
		return
	}
	defer buf.Close()

	data := bytes.Clone(buf.GetBytes())
	a.mu.Lock()
	a.jpeg = data
	a.mu.Unlock()
}

// Frame returns the latest JPEG frame, or nil when none was encoded.
func (a *App) Frame() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.jpeg
}

// AcquireStream asks the pipeline to encode frames until release is called.
func (a *App) AcquireStream() (release func()) {
	a.streamers.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			if a.streamers.Add(-1) == 0 {
				a.mu.Lock()
				a.jpeg = nil
				a.mu.Unlock()
			}
		})
	}
}

func (a *App) setError(err error) {
	a.mu.Lock()
	a.status.LastError = errorString(err)
	a.mu.Unlock()
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
