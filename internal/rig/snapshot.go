package rig

import "github.com/ayusman/kathakali/internal/geom"

// Snapshot is a copy of a rig's state, keyed by English name, safe to hand
// to another goroutine.
type Snapshot struct {
	Bones     map[string]geom.Euler `json:"bones"`
	Morphs    map[string]float64    `json:"morphs"`
	Timestamp int64                 `json:"timestamp"`
}

// Capture copies the current state of r.
func Capture(r Rig, timestamp int64) Snapshot {
	s := Snapshot{
		Bones:     make(map[string]geom.Euler),
		Morphs:    make(map[string]float64),
		Timestamp: timestamp,
	}
	for _, id := range r.Bones() {
		s.Bones[id.String()] = r.Bone(id).Rotation
	}
	for _, id := range r.Morphs() {
		s.Morphs[id.String()] = r.Morph(id)
	}
	return s
}

// Apply writes the snapshot's values back onto r, skipping names r lacks.
func (s Snapshot) Apply(r Rig) {
	for _, id := range r.Bones() {
		if e, ok := s.Bones[id.String()]; ok {
			r.Bone(id).Rotation = e
		}
	}
	for _, id := range r.Morphs() {
		if w, ok := s.Morphs[id.String()]; ok {
			r.SetMorph(id, w)
		}
	}
}
