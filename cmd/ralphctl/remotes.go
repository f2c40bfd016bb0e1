package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// remoteEntry is one named ralphd instance ralphctl knows how to reach.
// Aliases are resolved against ~/.config/ralph-tui/remotes.toml so
// `remote push-config <alias>` and `--all` don't require re-typing
// addr/token on every invocation.
type remoteEntry struct {
	Name  string `toml:"name"`
	Addr  string `toml:"addr"`
	Token string `toml:"token"`
}

type remotesFile struct {
	Remotes []remoteEntry `toml:"remotes"`
}

func remotesPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ralph-tui", "remotes.toml"), nil
}

func loadRemotes() ([]remoteEntry, error) {
	path, err := remotesPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var f remotesFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("remotes.toml: %w", err)
	}
	return f.Remotes, nil
}

func resolveRemote(alias string) (remoteEntry, error) {
	remotes, err := loadRemotes()
	if err != nil {
		return remoteEntry{}, err
	}
	for _, r := range remotes {
		if r.Name == alias {
			return r, nil
		}
	}
	return remoteEntry{}, newArgError(fmt.Sprintf("unknown remote alias %q (see ~/.config/ralph-tui/remotes.toml)", alias))
}
