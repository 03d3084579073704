// Package testdata holds character descriptions shared by tests.
package testdata

import (
	"embed"
	"fmt"

	"github.com/ayusman/kathakali/internal/rig"
)

//go:embed rigs/*
var rigsFS embed.FS

// LoadRig loads a character description by file name.
func LoadRig(name string) (*rig.Description, error) {
	data, err := rigsFS.ReadFile("rigs/" + name)
	if err != nil {
		return nil, fmt.Errorf("load rig %s: %w", name, err)
	}

	desc, err := rig.ParseDescription(data)
	if err != nil {
		return nil, fmt.Errorf("decode rig %s: %w", name, err)
	}

	return desc, nil
}

// RigNames lists the embedded character descriptions.
func RigNames() ([]string, error) {
	entries, err := rigsFS.ReadDir("rigs")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}

	return names, nil
}
