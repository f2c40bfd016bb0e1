// Command ralphd hosts one engine for the current working directory and,
// when asked, a remote control server that lets ralphctl and other remote
// clients drive it over the network.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/agentproc"
	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/engine"
	"github.com/ralph-tui/ralph-tui/internal/registry"
	remoteserver "github.com/ralph-tui/ralph-tui/internal/remote/server"
	"github.com/ralph-tui/ralph-tui/internal/session"
	"github.com/ralph-tui/ralph-tui/internal/tracker"
)

func main() {
	var (
		flagCwd       = flag.String("cwd", "", "working directory (default: current directory)")
		flagDaemon    = flag.Bool("daemon", false, "start the remote control server")
		flagAddr      = flag.String("addr", "", "remote server listen address (default :7890)")
		flagTokenPath = flag.String("token-path", "", "remote server token file (default <cwd>/.ralph-tui/token.json)")
		flagRotate    = flag.Bool("rotate-token", false, "rotate the remote server token on startup")
		flagAgent     = flag.String("agent", "", "agent plugin name from config.toml (default: config default agent)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cwd := *flagCwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			logger.Error("resolve working directory", "err", err)
			os.Exit(1)
		}
		cwd = wd
	}
	cwd = expandHomeDir(cwd)

	if err := loadProjectEnvFile(filepath.Join(cwd, ".env")); err != nil {
		logger.Warn("load .env", "err", err)
	}

	cfg, err := config.LoadLayered(cwd)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	agentName := *flagAgent
	if v := os.Getenv("RALPH_AGENT"); v != "" && agentName == "" {
		agentName = v
	}
	if agentName != "" {
		cfg.DefaultAgent = agentName
	}

	agentEntry, ok := cfg.FindDefaultAgent()
	if !ok {
		logger.Error("no agent configured; add an [[agents]] entry to config.toml")
		os.Exit(1)
	}
	agent, err := buildAgent(agentEntry, logger)
	if err != nil {
		logger.Error("build agent", "plugin", agentEntry.Plugin, "err", err)
		os.Exit(1)
	}

	trk := tracker.NewMemory(nil)

	store := session.New(logger)

	dataDir := filepath.Join(cwd, ".ralph-tui")
	eng, err := engine.New(engine.Config{
		MaxIterations:  uint(cfg.MaxIterations),
		IterationDelay: time.Duration(cfg.IterationDelay) * time.Millisecond,
		ErrorStrategy:  engine.ErrorStrategy(cfg.ErrorHandling.Strategy),
		MaxRetries:     uint(cfg.ErrorHandling.MaxRetries),
		DataDir:        dataDir,
	}, agent, trk, store, cwd, logger)
	if err != nil {
		logger.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("engine start failed", "err", err)
		os.Exit(1)
	}

	if regPath, err := registry.DefaultPath(); err == nil {
		reg := registry.New(regPath, logger)
		entry := registry.Entry{
			SessionID:     eng.SessionID(),
			Cwd:           cwd,
			Status:        session.StatusRunning,
			AgentPlugin:   agentEntry.Plugin,
			TrackerPlugin: trk.Plugin(),
		}
		if err := reg.Register(entry); err != nil {
			logger.Warn("registry: register session", "err", err)
		}
		defer func() {
			if err := reg.UpdateStatus(eng.SessionID(), session.StatusInterrupted); err != nil {
				logger.Warn("registry: update status on shutdown", "err", err)
			}
		}()
	} else {
		logger.Warn("registry: resolve default path", "err", err)
	}

	if err := eng.Start(); err != nil {
		logger.Error("engine start failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *flagDaemon {
		tokenPath := *flagTokenPath
		if tokenPath == "" {
			tokenPath = filepath.Join(dataDir, "token.json")
		}
		remoteSrv, err := remoteserver.New(remoteserver.Config{
			Addr:        *flagAddr,
			TokenPath:   tokenPath,
			Cwd:         cwd,
			Logger:      logger,
			RotateToken: *flagRotate,
		}, eng)
		if err != nil {
			logger.Error("remote server init failed", "err", err)
			os.Exit(1)
		}

		go func() {
			logger.Info("ralphd remote server listening", "addr", *flagAddr)
			if err := remoteSrv.ListenAndServe(ctx); err != nil {
				logger.Error("remote server failed", "err", err)
			}
		}()
	}

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	cancel()
	eng.Close()
}

// buildAgent resolves a config.toml [[agents]] entry into a runnable
// agentproc.Adapter. Only the cli plugin is built in; anything else is
// rejected with a clear error rather than silently falling back.
func buildAgent(entry config.AgentEntry, logger *slog.Logger) (agentproc.Adapter, error) {
	switch entry.Plugin {
	case "cli", "":
		cmd, _ := entry.Options["command"].(string)
		if cmd == "" {
			return nil, fmt.Errorf("agent %q: options.command is required for the cli plugin", entry.Name)
		}
		var args []string
		if raw, ok := entry.Options["args"].([]any); ok {
			for _, a := range raw {
				if s, ok := a.(string); ok {
					args = append(args, s)
				}
			}
		}
		return agentproc.NewCLIAdapter(entry.Name, cmd, args, logger), nil
	default:
		return nil, fmt.Errorf("agent %q: unknown plugin %q", entry.Name, entry.Plugin)
	}
}

// expandHomeDir resolves a leading "~" in a --cwd flag to the invoking
// user's home directory, since the flag is taken from the shell verbatim
// and shells only expand "~" for unquoted arguments.
func expandHomeDir(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// loadProjectEnvFile seeds the process environment from <cwd>/.env before
// config.LoadLayered and buildAgent run, so the RALPH_AGENT override and
// the agent subprocess's inherited environment both see project-local
// values without requiring the operator to export them by hand. Existing
// environment variables always win.
func loadProjectEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		val := strings.TrimSpace(parts[1])
		if len(val) >= 2 {
			if (val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'') {
				val = val[1 : len(val)-1]
			}
		}
		_ = os.Setenv(key, val)
	}
	return sc.Err()
}
