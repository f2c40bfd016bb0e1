package agentproc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// CLIAdapter runs a configured shell command once per iteration, feeding
// the prompt on stdin and streaming stdout/stderr as they're produced. Each
// stdout line is additionally offered to a best-effort JSON decode, mirroring
// how a running coding-agent's own JSONL transcript is scanned: most lines
// are plain progress text, and the ones that happen to be a JSON object are
// forwarded as structured events too.
type CLIAdapter struct {
	plugin string
	cmd    string
	args   []string
	log    *slog.Logger
}

// NewCLIAdapter builds a CLIAdapter that runs `cmd args...`, writing the
// iteration prompt to the process's stdin.
func NewCLIAdapter(plugin, cmd string, args []string, logger *slog.Logger) *CLIAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIAdapter{plugin: plugin, cmd: cmd, args: args, log: logger}
}

// Plugin implements Adapter.
func (a *CLIAdapter) Plugin() string { return a.plugin }

type handle struct {
	stdout    chan string
	stderr    chan string
	jsonl     chan json.RawMessage
	done      chan Result
	interrupt func() error
}

func (h *handle) Stdout() <-chan string           { return h.stdout }
func (h *handle) Stderr() <-chan string           { return h.stderr }
func (h *handle) JSONL() <-chan json.RawMessage    { return h.jsonl }
func (h *handle) Done() <-chan Result              { return h.done }
func (h *handle) Interrupt() error                 { return h.interrupt() }

// Execute implements Adapter.
func (a *CLIAdapter) Execute(ctx context.Context, cwd, prompt string) (Handle, error) {
	if a.cmd == "" {
		return nil, errors.New("agentproc: empty command")
	}
	cmd := exec.CommandContext(ctx, a.cmd, a.args...)
	cmd.Dir = cwd

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agentproc: stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agentproc: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("agentproc: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agentproc: start %s: %w", a.cmd, err)
	}

	if _, err := io.WriteString(stdinPipe, prompt); err != nil {
		a.log.Warn("agentproc: failed writing prompt to stdin", "error", err)
	}
	_ = stdinPipe.Close()

	h := &handle{
		stdout: make(chan string, 256),
		stderr: make(chan string, 256),
		jsonl:  make(chan json.RawMessage, 256),
		done:   make(chan Result, 1),
		interrupt: func() error {
			if cmd.Process == nil {
				return nil
			}
			return cmd.Process.Signal(interruptSignal)
		},
	}

	var stdoutDone, stderrDone = make(chan struct{}), make(chan struct{})

	go func() {
		defer close(stdoutDone)
		defer close(h.stdout)
		defer close(h.jsonl)
		scanLines(stdoutPipe, func(line string) {
			h.stdout <- line
			var raw json.RawMessage
			if json.Unmarshal([]byte(line), &raw) == nil {
				h.jsonl <- raw
			}
		})
	}()

	go func() {
		defer close(stderrDone)
		defer close(h.stderr)
		scanLines(stderrPipe, func(line string) { h.stderr <- line })
	}()

	go func() {
		<-stdoutDone
		<-stderrDone
		err := cmd.Wait()
		result := Result{}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				result.ExitCode = exitErr.ExitCode()
			} else {
				result.Err = err
			}
		}
		h.done <- result
		close(h.done)
	}()

	return h, nil
}

// scanLines reads newline-delimited text from r, calling emit for each
// non-empty line, tolerating arbitrarily long lines up to 1MiB.
func scanLines(r io.Reader, emit func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		emit(line)
	}
}
