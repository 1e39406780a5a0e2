package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadManifest(t *testing.T) {
	// Create a temporary directory with a scrawl.toml
	dir := t.TempDir()
	tomlContent := `
[engine]
agent-id = 7
timeout-ms = 250
max-steps = 4096
general-registers = 32
tensor-registers = 8
context-registers = 4

[consensus]
default-quorum = 0.67

[trace]
logger = "scrawl.test"
level = "debug"

[audit]
path = "audit.db"
`
	if err := os.WriteFile(filepath.Join(dir, "scrawl.toml"), []byte(tomlContent), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Engine.AgentID != 7 {
		t.Errorf("agent-id = %d, want 7", m.Engine.AgentID)
	}
	if m.Engine.TimeoutMs != 250 {
		t.Errorf("timeout-ms = %d, want 250", m.Engine.TimeoutMs)
	}
	if m.Engine.MaxSteps != 4096 {
		t.Errorf("max-steps = %d, want 4096", m.Engine.MaxSteps)
	}
	if m.Consensus.DefaultQuorum != 0.67 {
		t.Errorf("default-quorum = %v, want 0.67", m.Consensus.DefaultQuorum)
	}
	if m.Trace.Logger != "scrawl.test" {
		t.Errorf("trace logger = %q, want scrawl.test", m.Trace.Logger)
	}
	if got, want := m.AuditPath(), filepath.Join(m.Dir, "audit.db"); got != want {
		t.Errorf("audit path = %q, want %q", got, want)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "scrawl.toml"), []byte("[engine]\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Engine.TimeoutMs != 100 {
		t.Errorf("default timeout-ms = %d, want 100", m.Engine.TimeoutMs)
	}
	if m.Trace.Logger != "scrawl" {
		t.Errorf("default trace logger = %q, want scrawl", m.Trace.Logger)
	}
	if m.AuditPath() != "" {
		t.Errorf("audit path = %q, want empty", m.AuditPath())
	}

	cfg := m.SessionConfig()
	if cfg.Timeout != 100*time.Millisecond {
		t.Errorf("session timeout = %v, want 100ms", cfg.Timeout)
	}
}

func TestSessionConfig(t *testing.T) {
	m := &Manifest{
		Engine: Engine{
			AgentID:          3,
			TimeoutMs:        50,
			MaxSteps:         128,
			GeneralRegisters: 16,
			TensorRegisters:  16,
			ContextRegisters: 8,
		},
		Consensus: Consensus{DefaultQuorum: 0.5},
	}
	cfg := m.SessionConfig()
	if cfg.AgentID != 3 || cfg.Timeout != 50*time.Millisecond || cfg.MaxSteps != 128 {
		t.Errorf("unexpected engine config: %+v", cfg)
	}
	if cfg.DefaultQuorum != 0.5 {
		t.Errorf("quorum = %v, want 0.5", cfg.DefaultQuorum)
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scrawl.toml"), []byte("[engine]\nagent-id = 9\n"), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil manifest")
	}
	if m.Engine.AgentID != 9 {
		t.Errorf("agent-id = %d, want 9", m.Engine.AgentID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing scrawl.toml")
	}
}
