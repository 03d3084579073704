package rig

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed names.yaml
var namesYAML []byte

// NameTable translates rig-native (MMD Japanese) names to English.
type NameTable struct {
	Bones  map[string]string `yaml:"bones"`
	Morphs map[string]string `yaml:"morphs"`
}

var (
	defaultNames     *NameTable
	defaultNamesErr  error
	defaultNamesOnce sync.Once
)

// DefaultNames returns the built-in MMD name table.
func DefaultNames() (*NameTable, error) {
	defaultNamesOnce.Do(func() {
		defaultNames, defaultNamesErr = ParseNames(namesYAML)
	})
	return defaultNames, defaultNamesErr
}

// ParseNames decodes a YAML name table.
func ParseNames(data []byte) (*NameTable, error) {
	var t NameTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse name table: %w", err)
	}
	return &t, nil
}

// Bone resolves a rig-native or English bone name.
func (t *NameTable) Bone(name string) (BoneID, bool) {
	if t != nil {
		if en, ok := t.Bones[name]; ok {
			name = en
		}
	}
	for id, n := range boneNames {
		if strings.EqualFold(n, name) {
			return BoneID(id), true
		}
	}
	return 0, false
}

// Morph resolves a rig-native or English morph name.
func (t *NameTable) Morph(name string) (MorphID, bool) {
	if t != nil {
		if en, ok := t.Morphs[name]; ok {
			name = en
		}
	}
	for id, n := range morphNames {
		if strings.EqualFold(n, name) {
			return MorphID(id), true
		}
	}
	return 0, false
}

// English returns the English name for a rig-native bone or morph name, or
// name itself when no translation is known.
func (t *NameTable) English(name string) string {
	if t == nil {
		return name
	}
	if en, ok := t.Bones[name]; ok {
		return en
	}
	if en, ok := t.Morphs[name]; ok {
		return en
	}
	return name
}
