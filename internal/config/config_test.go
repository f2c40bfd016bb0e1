package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileNotFound(t *testing.T) {
	dir := t.TempDir()
	_, found, err := Load(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if found {
		t.Fatal("expected found=false for missing file")
	}
}

func TestLoad_ParsesDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	doc := `
maxIterations = 50
iterationDelay = 2000
defaultAgent = "claude"

[errorHandling]
strategy = "retry"
maxRetries = 5

[[agents]]
name = "claude"
plugin = "cli"
default = true

[[trackers]]
name = "linear"
plugin = "linear"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, found, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if cfg.MaxIterations != 50 || cfg.IterationDelay != 2000 {
		t.Fatalf("unexpected iteration fields: %+v", cfg)
	}
	if cfg.ErrorHandling.Strategy != "retry" || cfg.ErrorHandling.MaxRetries != 5 {
		t.Fatalf("unexpected error handling: %+v", cfg.ErrorHandling)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "claude" {
		t.Fatalf("unexpected agents: %+v", cfg.Agents)
	}
	if len(cfg.Trackers) != 1 || cfg.Trackers[0].Plugin != "linear" {
		t.Fatalf("unexpected trackers: %+v", cfg.Trackers)
	}
}

func TestLoad_UnknownKeysIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	doc := "maxIterations = 10\nsomeFutureKey = \"whatever\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, found, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found || cfg.MaxIterations != 10 {
		t.Fatalf("unexpected result: found=%v cfg=%+v", found, cfg)
	}
}

func TestLoadLayered_ProjectOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	cwd := t.TempDir()
	t.Setenv("HOME", home)

	globalPath, err := GlobalPath()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(globalPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(globalPath, []byte("maxIterations = 10\ndefaultAgent = \"global-agent\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	projectPath := ProjectPath(cwd)
	if err := os.MkdirAll(filepath.Dir(projectPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(projectPath, []byte("maxIterations = 25\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadLayered(cwd)
	if err != nil {
		t.Fatalf("LoadLayered: %v", err)
	}
	if cfg.MaxIterations != 25 {
		t.Fatalf("expected project maxIterations to win, got %d", cfg.MaxIterations)
	}
	if cfg.DefaultAgent != "global-agent" {
		t.Fatalf("expected global defaultAgent to survive, got %q", cfg.DefaultAgent)
	}
}

func TestConfig_FindDefaultAgent(t *testing.T) {
	cfg := Config{
		Agents: []AgentEntry{
			{Name: "a", Plugin: "cli"},
			{Name: "b", Plugin: "cli", Default: true},
		},
	}
	agent, ok := cfg.FindDefaultAgent()
	if !ok || agent.Name != "b" {
		t.Fatalf("expected default-marked agent b, got %+v (ok=%v)", agent, ok)
	}

	cfg.DefaultAgent = "a"
	agent, ok = cfg.FindDefaultAgent()
	if !ok || agent.Name != "a" {
		t.Fatalf("expected named agent a to win, got %+v (ok=%v)", agent, ok)
	}
}
