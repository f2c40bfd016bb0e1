package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ralph-tui/ralph-tui/internal/config"
	"github.com/ralph-tui/ralph-tui/internal/remote/client"
	"github.com/ralph-tui/ralph-tui/internal/remote/protocol"
)

const dialTimeout = 10 * time.Second

func newRemoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Drive a running ralphd over the remote control plane",
	}
	cmd.AddCommand(newPushConfigCmd())
	cmd.AddCommand(newRemoteStatusCmd())
	cmd.AddCommand(newRemoteControlCmd("pause", protocol.TypePause))
	cmd.AddCommand(newRemoteControlCmd("resume", protocol.TypeResume))
	cmd.AddCommand(newRemoteControlCmd("interrupt", protocol.TypeInterrupt))
	return cmd
}

// dialAndAuth connects to a remote and authenticates with its server
// token, returning a ready-to-use client. Callers must Disconnect() it.
func dialAndAuth(addr, token string) (*client.Client, error) {
	cl := client.New(client.Config{
		Addr:        addr,
		ServerToken: token,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := cl.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return cl, nil
}

func newPushConfigCmd() *cobra.Command {
	var (
		scope   string
		preview bool
		force   bool
		all     bool
	)
	cmd := &cobra.Command{
		Use:   "push-config [alias]",
		Short: "Push this machine's config.toml to a remote ralphd",
		RunE: func(cmd *cobra.Command, args []string) error {
			if scope != "global" && scope != "project" {
				return newArgError(`--scope must be "global" or "project"`)
			}
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			srcPath := config.ProjectPath(cwd)
			if scope == "global" {
				srcPath, err = config.GlobalPath()
				if err != nil {
					return err
				}
			}
			content, err := os.ReadFile(srcPath)
			if err != nil {
				return fmt.Errorf("read local %s config %s: %w", scope, srcPath, err)
			}

			if preview {
				fmt.Fprintf(cmd.OutOrStdout(), "--- %s (%s scope) ---\n%s\n", srcPath, scope, content)
				return nil
			}

			var targets []remoteEntry
			if all {
				targets, err = loadRemotes()
				if err != nil {
					return err
				}
				if len(targets) == 0 {
					return newArgError("no remotes configured in ~/.config/ralph-tui/remotes.toml")
				}
			} else {
				if len(args) != 1 {
					return newArgError("usage: ralphctl remote push-config <alias> | --all")
				}
				r, err := resolveRemote(args[0])
				if err != nil {
					return err
				}
				targets = []remoteEntry{r}
			}

			for _, r := range targets {
				if err := pushConfigTo(cmd, r, scope, string(content), force); err != nil {
					return fmt.Errorf("%s: %w", r.Name, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "project", "config scope to push: global|project")
	cmd.Flags().BoolVar(&preview, "preview", false, "print the config that would be pushed and exit")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the remote's existing config file")
	cmd.Flags().BoolVar(&all, "all", false, "push to every remote in remotes.toml")
	return cmd
}

func pushConfigTo(cmd *cobra.Command, r remoteEntry, scope, content string, force bool) error {
	cl, err := dialAndAuth(r.Addr, r.Token)
	if err != nil {
		return err
	}
	defer cl.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	msg := protocol.PushConfig{
		Envelope:      protocol.NewEnvelope(protocol.TypePushConfig),
		Scope:         scope,
		ConfigContent: content,
		Overwrite:     force,
	}

	_, raw, err := cl.SendRequest(ctx, msg.ID, msg)
	if err != nil {
		return err
	}
	var resp protocol.PushConfigResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode push_config_response: %w", err)
	}
	if !resp.Success {
		return newRefusedError(resp.Error)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: pushed to %s", r.Name, resp.ConfigPath)
	if resp.BackupPath != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " (backup: %s)", resp.BackupPath)
	}
	if resp.MigrationTriggered {
		fmt.Fprint(cmd.OutOrStdout(), " [schema changed]")
	}
	if resp.RequiresRestart {
		fmt.Fprint(cmd.OutOrStdout(), " [restart required]")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}

func newRemoteStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <alias>",
		Short: "Print a remote engine's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return newArgError("usage: ralphctl remote status <alias>")
			}
			r, err := resolveRemote(args[0])
			if err != nil {
				return err
			}
			cl, err := dialAndAuth(r.Addr, r.Token)
			if err != nil {
				return err
			}
			defer cl.Disconnect()

			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			defer cancel()
			msg := protocol.GetState{Envelope: protocol.NewEnvelope(protocol.TypeGetState)}
			_, raw, err := cl.SendRequest(ctx, msg.ID, msg)
			if err != nil {
				return err
			}
			var resp protocol.StateResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode state_response: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s iteration=%d/%d tasksCompleted=%d/%d\n",
				resp.State.Status, resp.State.CurrentIteration, resp.State.MaxIterations,
				resp.State.TasksCompleted, resp.State.TotalTasks)
			return nil
		},
	}
}

// newRemoteControlCmd builds the pause/resume/interrupt siblings, all of
// which send a no-payload Control message and print its operation_result.
func newRemoteControlCmd(name string, typ protocol.Type) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <alias>",
		Short: "Send " + name + " to a remote engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return newArgError(fmt.Sprintf("usage: ralphctl remote %s <alias>", name))
			}
			r, err := resolveRemote(args[0])
			if err != nil {
				return err
			}
			cl, err := dialAndAuth(r.Addr, r.Token)
			if err != nil {
				return err
			}
			defer cl.Disconnect()

			ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
			defer cancel()
			msg := protocol.Control{Envelope: protocol.NewEnvelope(typ)}
			_, raw, err := cl.SendRequest(ctx, msg.ID, msg)
			if err != nil {
				return err
			}
			var resp protocol.OperationResult
			if err := json.Unmarshal(raw, &resp); err != nil {
				return fmt.Errorf("decode operation_result: %w", err)
			}
			if !resp.Success {
				return newRefusedError(resp.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", resp.Operation)
			return nil
		},
	}
}
