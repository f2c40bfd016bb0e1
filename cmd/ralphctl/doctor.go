package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/util"
)

// newDoctorCmd checks the local environment the same way agentctl's
// cmdDoctor checked for git/rg/mmdc: here it's the configured agent CLI
// binary and the presence of a resolvable config.toml.
func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local environment for a configured agent and config",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "doctor:")

			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := config.LoadLayered(cwd)
			if err != nil {
				fmt.Fprintf(out, "  - config.toml          ERROR (%v)\n", err)
			} else {
				fmt.Fprintf(out, "  - config.toml          OK (maxIterations=%d)\n", cfg.MaxIterations)
			}

			agent, ok := cfg.FindDefaultAgent()
			if !ok {
				fmt.Fprintln(out, "  - default agent        MISSING (no [[agents]] entry)")
			} else {
				checkBinary(out, agent.Name, agent.Options)
			}

			if global, err := config.GlobalPath(); err == nil {
				checkExists(out, "global config", global)
			}
			checkExists(out, "project config", config.ProjectPath(cwd))

			if path, err := remotesPath(); err == nil {
				checkExists(out, "remotes.toml", path)
			}
			return nil
		},
	}
}

func checkBinary(out io.Writer, agentName string, options map[string]any) {
	cmdName, _ := options["command"].(string)
	if cmdName == "" {
		fmt.Fprintf(out, "  - agent %-14s MISSING (no options.command)\n", agentName)
		return
	}
	path, err := exec.LookPath(cmdName)
	if err != nil {
		fmt.Fprintf(out, "  - agent %-14s MISSING (%s not on PATH)\n", agentName, cmdName)
		return
	}
	fmt.Fprintf(out, "  - agent %-14s OK (%s)\n", agentName, path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := util.RunCommand(ctx, cmdName+" --version", util.ExecOptions{Timeout: 5 * time.Second})
	if err != nil {
		fmt.Fprintf(out, "  - agent %-14s version check failed: %v\n", agentName, err)
		return
	}
	fmt.Fprintf(out, "  - agent %-14s version: %s\n", agentName, strings.TrimSpace(res.Stdout))
}

func checkExists(out io.Writer, label, path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(out, "  - %-18s OK (%s)\n", label, path)
	} else {
		fmt.Fprintf(out, "  - %-18s MISSING (%s)\n", label, path)
	}
}
