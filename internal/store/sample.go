package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ayusman/kathakali/internal/metric"
	"github.com/ayusman/kathakali/internal/rig"
)

// Sample is one recorded rig state within a session.
type Sample struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	// OffsetMs is the time since the session started.
	OffsetMs int64        `json:"offset_ms"`
	Snapshot rig.Snapshot `json:"snapshot"`
	// Features holds the finite classifier measurements of the frame.
	Features map[string]float64 `json:"features,omitempty"`
}

// SampleRepository stores session samples.
type SampleRepository struct {
	db *sql.DB
}

// Samples returns the sample repository for this store.
func (s *Store) Samples() *SampleRepository {
	return &SampleRepository{db: s.db}
}

// Append inserts samples for a session in a single transaction and bumps
// the session's sample count.
func (r *SampleRepository) Append(sessionID string, samples []Sample) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT count(*) FROM sessions WHERE id = ?`, sessionID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	stmt, err := tx.Prepare(`INSERT INTO session_samples (session_id, offset_ms, snapshot, features) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range samples {
		snapshot, err := json.Marshal(samples[i].Snapshot)
		if err != nil {
			return fmt.Errorf("encode sample %d: %w", i, err)
		}
		features, err := json.Marshal(finiteFeatures(samples[i].Features))
		if err != nil {
			return fmt.Errorf("encode sample %d: %w", i, err)
		}
		result, err := stmt.Exec(sessionID, samples[i].OffsetMs, string(snapshot), string(features))
		if err != nil {
			return err
		}
		samples[i].SessionID = sessionID
		if id, err := result.LastInsertId(); err == nil {
			samples[i].ID = id
		}
	}

	result, err := tx.Exec(`UPDATE sessions SET samples = samples + ? WHERE id = ?`, len(samples), sessionID)
	if err != nil {
		return err
	}
	if err := requireRow(result); err != nil {
		return err
	}

	return tx.Commit()
}

// GetBySessionID retrieves a session's samples in time order.
func (r *SampleRepository) GetBySessionID(sessionID string) ([]Sample, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, offset_ms, snapshot, features
		 FROM session_samples
		 WHERE session_id = ?
		 ORDER BY offset_ms, id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var snapshot, features string
		if err := rows.Scan(&s.ID, &s.SessionID, &s.OffsetMs, &snapshot, &features); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(snapshot), &s.Snapshot); err != nil {
			return nil, fmt.Errorf("decode sample %d: %w", s.ID, err)
		}
		if err := json.Unmarshal([]byte(features), &s.Features); err != nil {
			return nil, fmt.Errorf("decode sample %d: %w", s.ID, err)
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// DeleteBySessionID removes all samples of a session and resets its count.
func (r *SampleRepository) DeleteBySessionID(sessionID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_samples WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE sessions SET samples = 0 WHERE id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// finiteFeatures drops NaN and infinities, which JSON cannot carry.
func finiteFeatures(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

// FeatureSeries extracts the named features of samples as series against
// session time. A sample without a feature leaves a gap in its series.
func FeatureSeries(samples []Sample, names ...string) []metric.Series {
	out := make([]metric.Series, len(names))
	for i, name := range names {
		out[i].Name = name
		for _, s := range samples {
			if v, ok := s.Features[name]; ok {
				out[i].Points = append(out[i].Points, metric.Point{T: float64(s.OffsetMs) / 1000, V: v})
			}
		}
	}
	return out
}

// FeatureValues collects every recorded value of the named features.
func FeatureValues(samples []Sample, names ...string) []float64 {
	var out []float64
	for _, s := range samples {
		for _, name := range names {
			if v, ok := s.Features[name]; ok {
				out = append(out, v)
			}
		}
	}
	return out
}
