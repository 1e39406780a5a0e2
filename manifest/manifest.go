// Package manifest handles scrawl.toml engine configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/scrawlvm/scrawl/pkg/vm"
)

// Manifest represents a scrawl.toml configuration file.
type Manifest struct {
	Engine    Engine    `toml:"engine"`
	Consensus Consensus `toml:"consensus"`
	Trace     Trace     `toml:"trace"`
	Audit     Audit     `toml:"audit"`

	// Dir is the directory containing the scrawl.toml file (set at load time).
	Dir string `toml:"-"`
}

// Engine configures the execution engine itself.
type Engine struct {
	AgentID          int32 `toml:"agent-id"`
	TimeoutMs        int   `toml:"timeout-ms"`
	MaxSteps         int   `toml:"max-steps"`
	GeneralRegisters int   `toml:"general-registers"`
	TensorRegisters  int   `toml:"tensor-registers"`
	ContextRegisters int   `toml:"context-registers"`
}

// Consensus configures voting rounds.
type Consensus struct {
	DefaultQuorum float64 `toml:"default-quorum"`
}

// Trace configures the log sink attached to new sessions.
type Trace struct {
	Logger string `toml:"logger"`
	Level  string `toml:"level"`
}

// Audit configures the SQLite audit trail.
type Audit struct {
	Path string `toml:"path"`
}

// Load parses a scrawl.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "scrawl.toml")
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
	if m.Engine.TimeoutMs == 0 {
		m.Engine.TimeoutMs = int(vm.DefaultTimeout / time.Millisecond)
	}
	if m.Trace.Logger == "" {
		m.Trace.Logger = "scrawl"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a scrawl.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "scrawl.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// SessionConfig converts the manifest into an engine configuration.
func (m *Manifest) SessionConfig() vm.Config {
	return vm.Config{
		AgentID:          m.Engine.AgentID,
		Timeout:          time.Duration(m.Engine.TimeoutMs) * time.Millisecond,
		MaxSteps:         m.Engine.MaxSteps,
		GeneralRegisters: m.Engine.GeneralRegisters,
		TensorRegisters:  m.Engine.TensorRegisters,
		ContextRegisters: m.Engine.ContextRegisters,
		DefaultQuorum:    m.Consensus.DefaultQuorum,
	}
}

// AuditPath returns the absolute path of the configured audit database,
// or "" when auditing is disabled.
func (m *Manifest) AuditPath() string {
	if m.Audit.Path == "" {
		return ""
	}
	if filepath.IsAbs(m.Audit.Path) {
		return m.Audit.Path
	}
	return filepath.Join(m.Dir, m.Audit.Path)
}
