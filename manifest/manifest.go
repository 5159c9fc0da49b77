// Package manifest handles minjs.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultHeapSlots is the heap capacity used when the manifest does not set
// one.
const DefaultHeapSlots = 1 << 20

// Manifest represents a minjs.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Runtime Runtime `toml:"runtime"`
	Store   Store   `toml:"store"`

	// Dir is the directory containing the minjs.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name"`
	Entry string `toml:"entry"`
}

// Runtime configures the interpreter.
type Runtime struct {
	HeapSlots uint32 `toml:"heap-slots"`
}

// Store configures the script store location.
type Store struct {
	Path string `toml:"path"`
}

// Load parses a minjs.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "minjs.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Runtime.HeapSlots == 0 {
		m.Runtime.HeapSlots = DefaultHeapSlots
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a minjs.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "minjs.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}
