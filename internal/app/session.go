package app

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/kathakali/internal/rig"
	"github.com/ayusman/kathakali/internal/store"
)

// recording buffers samples of one session and writes them in batches.
type recording struct {
	session  *store.Session
	samples  *store.SampleRepository
	interval time.Duration
	batch    int
	pending  []store.Sample
	last     time.Time
}

func (r *recording) add(snap rig.Snapshot, features map[string]float64, now time.Time) error {
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		return nil
	}
	r.last = now

	r.pending = append(r.pending, store.Sample{
		OffsetMs: now.Sub(r.session.StartedAt).Milliseconds(),
		Snapshot: snap,
		Features: features,
	})
	if len(r.pending) >= r.batch {
		return r.flush()
	}
	return nil
}

func (r *recording) flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.samples.Append(r.session.ID, r.pending); err != nil {
		return err
	}
	r.session.Samples += len(r.pending)
	r.pending = r.pending[:0]
	return nil
}

// StartSession begins recording rig output to the store. An empty name is
// replaced by the start time.
func (a *App) StartSession(name string) (*store.Session, error) {
	if a.store == nil {
		return nil, ErrNoStore
	}

	a.tickMu.Lock()
	defer a.tickMu.Unlock()

	a.mu.RLock()
	busy := a.session != nil
	profile := a.profile
	a.mu.RUnlock()
	if busy {
		return nil, ErrRecording
	}

	now := time.Now()
	if name == "" {
		name = "session " + now.Format("2006-01-02 15:04:05")
	}
	s := &store.Session{
		ID:        uuid.NewString(),
		Name:      name,
		Rig:       a.rig.Name(),
		Layout:    a.layout.Name,
		StartedAt: now,
	}
	if profile != nil {
		s.ProfileID = profile.ID
	}
	if err := a.store.Sessions().Create(s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	batch := a.settings.Pipeline.Record.Batch
	if batch < 1 {
		batch = 1
	}

	a.mu.Lock()
	a.session = &recording{
		session:  s,
		samples:  a.store.Samples(),
		interval: a.settings.Pipeline.Record.Interval,
		batch:    batch,
	}
	a.status.Session = s.ID
	a.mu.Unlock()

	a.log.Info().Str("session", s.ID).Str("name", s.Name).Msg("recording started")
	return s, nil
}

// StopSession writes the buffered samples and closes the session.
func (a *App) StopSession() (*store.Session, error) {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()

	a.mu.Lock()
	rec := a.session
	a.session = nil
	a.status.Session = ""
	a.mu.Unlock()

	if rec == nil {
		return nil, ErrNotRecording
	}

	flushErr := rec.flush()

	end := time.Now()
	if err := a.store.Sessions().End(rec.session.ID, end); err != nil {
		return nil, err
	}
	rec.session.EndedAt = &end

	a.log.Info().Str("session", rec.session.ID).Int("samples", rec.session.Samples).Msg("recording stopped")
	return rec.session, flushErr
}

// Recording returns a copy of the session being recorded, or nil.
func (a *App) Recording() *store.Session {
	a.tickMu.Lock()
	defer a.tickMu.Unlock()
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return nil
	}
	s := *a.session.session
	return &s
}
