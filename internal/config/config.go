// Package config loads config.toml: the on-disk document describing
// default agent/tracker plugins, iteration policy, and the engine's
// error-handling strategy.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// AgentEntry is one [[agents]] list item.
type AgentEntry struct {
	Name    string         `toml:"name"`
	Plugin  string         `toml:"plugin"`
	Default bool           `toml:"default,omitempty"`
	Options map[string]any `toml:"options,omitempty"`
}

// TrackerEntry is one [[trackers]] list item.
type TrackerEntry struct {
	Name    string         `toml:"name"`
	Plugin  string         `toml:"plugin"`
	Default bool           `toml:"default,omitempty"`
	Options map[string]any `toml:"options,omitempty"`
}

// ErrorHandling configures the engine's failure policy.
type ErrorHandling struct {
	Strategy   string `toml:"strategy,omitempty"`
	MaxRetries int    `toml:"maxRetries,omitempty"`
}

// Config is the config.toml schema. Unknown top-level keys are ignored by
// the underlying decoder.
type Config struct {
	MaxIterations  int            `toml:"maxIterations"`
	IterationDelay int            `toml:"iterationDelay"`
	Agent          string         `toml:"agent,omitempty"`
	Tracker        string         `toml:"tracker,omitempty"`
	DefaultAgent   string         `toml:"defaultAgent,omitempty"`
	DefaultTracker string         `toml:"defaultTracker,omitempty"`
	ErrorHandling  ErrorHandling  `toml:"errorHandling,omitempty"`
	Agents         []AgentEntry   `toml:"agents,omitempty"`
	Trackers       []TrackerEntry `toml:"trackers,omitempty"`
}

// Default returns the built-in defaults applied before any file is
// layered on top.
func Default() Config {
	return Config{
		MaxIterations:  0,
		IterationDelay: 0,
		ErrorHandling: ErrorHandling{
			Strategy:   "abort",
			MaxRetries: 3,
		},
	}
}

// GlobalPath is <home>/.config/ralph-tui/config.toml.
func GlobalPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ralph-tui", "config.toml"), nil
}

// ProjectPath is <cwd>/.ralph-tui/config.toml.
func ProjectPath(cwd string) string {
	return filepath.Join(cwd, ".ralph-tui", "config.toml")
}

// Load parses a config.toml file. It tolerates a missing file, returning
// the zero Config and found=false.
func Load(path string) (cfg Config, found bool, err error) {
	if path == "" {
		return Config{}, false, errors.New("config: path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, false, nil
		}
		return Config{}, false, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}

// LoadLayered resolves the effective config by starting from Default(),
// then layering the global file, then the project file, each overriding
// only the fields it actually sets. Non-zero/non-empty values in a later
// layer win.
func LoadLayered(cwd string) (Config, error) {
	cfg := Default()

	if global, err := GlobalPath(); err == nil {
		layer, found, err := Load(global)
		if err != nil {
			return Config{}, err
		}
		if found {
			cfg = merge(cfg, layer)
		}
	}

	layer, found, err := Load(ProjectPath(cwd))
	if err != nil {
		return Config{}, err
	}
	if found {
		cfg = merge(cfg, layer)
	}

	return cfg, nil
}

func merge(base, layer Config) Config {
	if layer.MaxIterations != 0 {
		base.MaxIterations = layer.MaxIterations
	}
	if layer.IterationDelay != 0 {
		base.IterationDelay = layer.IterationDelay
	}
	if strings.TrimSpace(layer.Agent) != "" {
		base.Agent = layer.Agent
	}
	if strings.TrimSpace(layer.Tracker) != "" {
		base.Tracker = layer.Tracker
	}
	if strings.TrimSpace(layer.DefaultAgent) != "" {
		base.DefaultAgent = layer.DefaultAgent
	}
	if strings.TrimSpace(layer.DefaultTracker) != "" {
		base.DefaultTracker = layer.DefaultTracker
	}
	if strings.TrimSpace(layer.ErrorHandling.Strategy) != "" {
		base.ErrorHandling.Strategy = layer.ErrorHandling.Strategy
	}
	if layer.ErrorHandling.MaxRetries != 0 {
		base.ErrorHandling.MaxRetries = layer.ErrorHandling.MaxRetries
	}
	if len(layer.Agents) > 0 {
		base.Agents = layer.Agents
	}
	if len(layer.Trackers) > 0 {
		base.Trackers = layer.Trackers
	}
	return base
}

// FindDefaultAgent returns the [[agents]] entry matching DefaultAgent/Agent
// by name, else the one marked default, else the first entry.
func (c Config) FindDefaultAgent() (AgentEntry, bool) {
	name := c.DefaultAgent
	if name == "" {
		name = c.Agent
	}
	for _, a := range c.Agents {
		if name != "" && a.Name == name {
			return a, true
		}
	}
	for _, a := range c.Agents {
		if a.Default {
			return a, true
		}
	}
	if len(c.Agents) > 0 {
		return c.Agents[0], true
	}
	return AgentEntry{}, false
}

// FindDefaultTracker returns the [[trackers]] entry matching
// DefaultTracker/Tracker by name, else the one marked default, else the
// first entry.
func (c Config) FindDefaultTracker() (TrackerEntry, bool) {
	name := c.DefaultTracker
	if name == "" {
		name = c.Tracker
	}
	for _, tr := range c.Trackers {
		if name != "" && tr.Name == name {
			return tr, true
		}
	}
	for _, tr := range c.Trackers {
		if tr.Default {
			return tr, true
		}
	}
	if len(c.Trackers) > 0 {
		return c.Trackers[0], true
	}
	return TrackerEntry{}, false
}
