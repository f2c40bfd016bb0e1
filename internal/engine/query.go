package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralph-tui/ralph-tui/internal/task"
)

// Tasks returns the tracker's current task list, for get_tasks.
func (e *Engine) Tasks() ([]task.Task, error) {
	return e.tracker.Tasks()
}

// SessionID returns the current persisted session's id, or "" if the
// engine has never started.
func (e *Engine) SessionID() string {
	if e.sess == nil {
		return ""
	}
	return e.sess.SessionID
}

// PreviewPrompt reports what the next iteration's prompt would be, without
// mutating any state, for get_prompt_preview.
func (e *Engine) PreviewPrompt() (string, error) {
	tasks, err := e.tracker.Tasks()
	if err != nil {
		return "", fmt.Errorf("engine: list tasks: %w", err)
	}
	next, ok := selectNextTask(tasks, e.skipped)
	if !ok {
		return "", nil
	}
	return buildPrompt(next), nil
}

func (e *Engine) iterationLogDir() string {
	if e.cfg.DataDir == "" || e.sess == nil {
		return ""
	}
	return filepath.Join(e.cfg.DataDir, "iterations", e.sess.SessionID)
}

// writeIterationLog persists one iteration's full captured output to disk,
// independent of the in-memory State.CurrentOutput that gets overwritten
// the moment the next iteration starts.
func (e *Engine) writeIterationLog(iteration uint, stdout, stderr string) {
	dir := e.iterationLogDir()
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.log.Warn("engine: failed to create iteration log dir", "error", err)
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.log", iteration))
	content := "=== stdout ===\n" + stdout + "\n=== stderr ===\n" + stderr
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.log.Warn("engine: failed to write iteration log", "iteration", iteration, "error", err)
	}
}

// IterationOutput reads a past iteration's captured stdout/stderr back
// from disk, for get_iteration_output. found is false if DataDir capture
// is disabled or the iteration was never logged.
func (e *Engine) IterationOutput(iteration uint) (stdout, stderr string, found bool) {
	dir := e.iterationLogDir()
	if dir == "" {
		return "", "", false
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.log", iteration))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", false
	}
	// Logs are written by writeIterationLog with a fixed "=== stdout
	// ===\n...\n=== stderr ===\n..." shape; split on that marker.
	const marker = "\n=== stderr ===\n"
	text := string(data)
	idx := strings.Index(text, marker)
	if idx < 0 {
		return text, "", true
	}
	stdoutPart := text[len("=== stdout ===\n"):idx]
	stderrPart := text[idx+len(marker):]
	return stdoutPart, stderrPart, true
}
