package rig

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/kathakali/internal/geom"
)

// RestPose is the rotation each bone returns to on Reset. Arms hang
// slightly lowered from the T-pose.
var RestPose = map[BoneID]geom.Euler{
	LeftArm:  {Z: -0.5},
	RightArm: {Z: 0.5},
}

// Description lists the bone and morph names a character exposes.
type Description struct {
	Name   string   `yaml:"name" json:"name"`
	Bones  []string `yaml:"bones" json:"bones"`
	Morphs []string `yaml:"morphs" json:"morphs"`
}

// ParseDescription decodes a YAML character description.
func ParseDescription(data []byte) (*Description, error) {
	var d Description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse rig description: %w", err)
	}
	return &d, nil
}

// ReadDescription reads a YAML character description from path.
func ReadDescription(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rig description: %w", err)
	}
	return ParseDescription(data)
}

// Model is an in-memory Rig indexed by BoneID and MorphID.
type Model struct {
	name     string
	bones    [NumBones]*Bone
	morphs   [NumMorphs]float64
	hasMorph [NumMorphs]bool
	unmapped []string
}

var _ Rig = (*Model)(nil)

// NewModel creates a Model exposing the given bones and morphs under their
// English names, at rest pose.
func NewModel(name string, bones []BoneID, morphs []MorphID) *Model {
	m := &Model{name: name}
	for _, b := range bones {
		m.bones[b] = &Bone{Name: b.String()}
	}
	for _, id := range morphs {
		m.hasMorph[id] = true
	}
	m.Reset()
	return m
}

// FullModel creates a Model exposing every known bone and morph.
func FullModel(name string) *Model {
	bones := make([]BoneID, NumBones)
	for i := range bones {
		bones[i] = BoneID(i)
	}
	morphs := make([]MorphID, NumMorphs)
	for i := range morphs {
		morphs[i] = MorphID(i)
	}
	return NewModel(name, bones, morphs)
}

// Load builds a Model from a character description, resolving names through
// names, and fails if any required bone or morph is absent. Names that map to
// nothing the classifiers drive are kept in Unmapped.
func Load(desc *Description, names *NameTable, req Requirements) (*Model, error) {
	m := &Model{name: desc.Name}

	for _, n := range desc.Bones {
		id, ok := names.Bone(n)
		if !ok {
			m.unmapped = append(m.unmapped, n)
			continue
		}
		m.bones[id] = &Bone{Name: n}
	}
	for _, n := range desc.Morphs {
		id, ok := names.Morph(n)
		if !ok {
			m.unmapped = append(m.unmapped, n)
			continue
		}
		m.hasMorph[id] = true
	}

	if err := Validate(m, req); err != nil {
		return nil, fmt.Errorf("load rig %q: %w", desc.Name, err)
	}

	m.Reset()
	return m, nil
}

// Name returns the character name.
func (m *Model) Name() string {
	return m.name
}

// Unmapped returns description names that matched no known bone or morph.
func (m *Model) Unmapped() []string {
	return m.unmapped
}

// Bone implements Rig.
func (m *Model) Bone(id BoneID) *Bone {
	if id < 0 || id >= NumBones {
		return nil
	}
	return m.bones[id]
}

// Morph implements Rig.
func (m *Model) Morph(id MorphID) float64 {
	if id < 0 || id >= NumMorphs {
		return 0
	}
	return m.morphs[id]
}

// SetMorph implements Rig.
func (m *Model) SetMorph(id MorphID, weight float64) {
	if id < 0 || id >= NumMorphs || !m.hasMorph[id] || math.IsNaN(weight) {
		return
	}
	m.morphs[id] = clampWeight(weight)
}

// Bones implements Rig.
func (m *Model) Bones() []BoneID {
	var out []BoneID
	for id, b := range m.bones {
		if b != nil {
			out = append(out, BoneID(id))
		}
	}
	return out
}

// Morphs implements Rig.
func (m *Model) Morphs() []MorphID {
	var out []MorphID
	for id, ok := range m.hasMorph {
		if ok {
			out = append(out, MorphID(id))
		}
	}
	return out
}

// Reset returns every bone to its rest pose and every morph to 0.
func (m *Model) Reset() {
	for id, b := range m.bones {
		if b != nil {
			*b = Bone{Name: b.Name, Rotation: RestPose[BoneID(id)]}
		}
	}
	m.morphs = [NumMorphs]float64{}
}
