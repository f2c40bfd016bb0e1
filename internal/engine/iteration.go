package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/agentproc"
	"github.com/ralph-tui/ralph-tui/internal/session"
	"github.com/ralph-tui/ralph-tui/internal/task"
	"github.com/ralph-tui/ralph-tui/internal/util"
)

// runOneIteration is called repeatedly by loop while status == running. It
// either terminates the loop (transition to idle) or runs exactly one
// select-task -> invoke-agent -> record-result cycle.
func (e *Engine) runOneIteration() {
	e.mu.RLock()
	maxIterations := e.state.MaxIterations
	currentIteration := e.state.CurrentIteration
	e.mu.RUnlock()

	if maxIterations != 0 && currentIteration >= maxIterations {
		e.terminate("max_iterations")
		return
	}

	tasks, err := e.tracker.Tasks()
	if err != nil {
		e.log.Error("engine: list tasks failed", "error", err)
		e.terminate("error")
		return
	}
	e.mu.Lock()
	e.state.TotalTasks = uint(len(tasks))
	e.mu.Unlock()

	next, ok := selectNextTask(tasks, e.skipped)
	if !ok {
		e.terminate("no_tasks")
		return
	}

	iterNum := currentIteration + 1
	startedAt := time.Now().UTC()

	e.mu.Lock()
	e.state.CurrentIteration = iterNum
	e.state.CurrentTask = &next
	e.state.CurrentOutput = ""
	e.state.CurrentStderr = ""
	e.state.ActiveAgent = e.agent.Plugin()
	e.mu.Unlock()

	if err := e.tracker.UpdateStatus(next.ID, task.StatusInProgress); err != nil {
		e.log.Warn("engine: mark task in_progress failed", "task", next.ID, "error", err)
	}

	e.emit(Event{Type: EventTaskSelected, Iteration: iterNum, Task: &next})
	e.emit(Event{Type: EventIterationStarted, Iteration: iterNum, Task: &next})

	result := e.runAgent(iterNum, next, startedAt)

	e.recordResult(next, result)
}

// runAgent invokes the agent for one task, streaming output into State and
// interleaving control commands that can arrive mid-flight (pause, stop,
// interrupt, add/remove_iterations). It returns once the agent has ended,
// one way or another.
func (e *Engine) runAgent(iterNum uint, t task.Task, startedAt time.Time) task.IterationResult {
	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()

	h, err := e.agent.Execute(ctx, e.cwd, buildPrompt(t))
	if err != nil {
		return task.IterationResult{
			ID:        util.NewIterationID(),
			Iteration: iterNum,
			Status:    task.IterationFailed,
			Task:      t,
			Error:     err.Error(),
			StartedAt: startedAt,
			EndedAt:   time.Now().UTC(),
		}
	}

	var stopRequested, interruptRequested bool
	var final agentproc.Result
	stdout, stderr, jsonl, done := h.Stdout(), h.Stderr(), h.JSONL(), h.Done()

loop:
	for {
		select {
		case line, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			e.appendOutput("stdout", line)
		case line, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			e.appendOutput("stderr", line)
		case _, ok := <-jsonl:
			if !ok {
				jsonl = nil
			}
			// Structured messages are informational only; the engine does
			// not interpret their contents beyond forwarding via
			// agent:output, already emitted for the raw line above.
		case final = <-done:
			break loop
		case cmd := <-e.inbox:
			switch cmd.typ {
			case cmdPause:
				e.pauseRequested = true
				cmd.reply <- nil
			case cmdStop:
				stopRequested = true
				e.setStatus(StatusStopping)
				_ = h.Interrupt()
				cancel()
				cmd.reply <- nil
			case cmdInterrupt:
				interruptRequested = true
				_ = h.Interrupt()
				cmd.reply <- nil
			case cmdAddIterations, cmdRemoveIterations:
				cmd.reply <- e.applyIterationDelta(cmd.typ, cmd.n)
			case cmdResume:
				cmd.reply <- ErrInvalidState
			case cmdStart:
				cmd.reply <- ErrAlreadyRunning
			case cmdContinue:
				cmd.reply <- ErrNotTerminated
			default:
				cmd.reply <- ErrInvalidState
			}
		}
	}

	endedAt := time.Now().UTC()
	durationMs := uint(endedAt.Sub(startedAt).Milliseconds())

	result := task.IterationResult{
		ID:         util.NewIterationID(),
		Iteration:  iterNum,
		Task:       t,
		DurationMs: durationMs,
		StartedAt:  startedAt,
		EndedAt:    endedAt,
	}

	switch {
	case interruptRequested || stopRequested:
		result.Status = task.IterationInterrupted
		if stopRequested {
			e.pendingStop = true
		}
	case final.Err != nil:
		result.Status = task.IterationFailed
		result.Error = final.Err.Error()
	case final.ExitCode != 0:
		result.Status = task.IterationFailed
		result.Error = fmt.Sprintf("agent exited with code %d", final.ExitCode)
	default:
		result.Status = task.IterationCompleted
		result.TaskCompleted = e.taskReportedComplete(t)
	}

	return result
}

func (e *Engine) appendOutput(stream, line string) {
	e.mu.Lock()
	switch stream {
	case "stdout":
		e.state.CurrentOutput += line + "\n"
	case "stderr":
		e.state.CurrentStderr += line + "\n"
	}
	e.mu.Unlock()
	e.emit(Event{Type: EventAgentOutput, Stream: stream, Data: line})
}

// taskReportedComplete asks the tracker for the task's current status;
// the tracker, not the agent's exit code, is the source of truth for
// whether a task is actually done.
func (e *Engine) taskReportedComplete(t task.Task) bool {
	tasks, err := e.tracker.Tasks()
	if err != nil {
		return false
	}
	for _, cur := range tasks {
		if cur.ID == t.ID {
			return cur.Status == task.StatusCompleted
		}
	}
	return false
}

// recordResult applies the error-handling policy, appends the result to
// persisted + in-memory state, persists, emits the terminal event, then
// decides whether to apply a pending pause or stop.
func (e *Engine) recordResult(t task.Task, result task.IterationResult) {
	if result.Status == task.IterationFailed {
		e.applyErrorPolicy(t, &result)
	} else if result.Status == task.IterationCompleted {
		delete(e.retries, t.ID)
		if result.TaskCompleted {
			e.emit(Event{Type: EventTaskCompleted, Iteration: result.Iteration, Task: &t})
		}
	}

	e.mu.Lock()
	e.state.Iterations = append(e.state.Iterations, result)
	if result.TaskCompleted {
		e.state.TasksCompleted++
	}
	stdout, stderr := e.state.CurrentOutput, e.state.CurrentStderr
	e.state.CurrentTask = nil
	e.mu.Unlock()

	e.writeIterationLog(result.Iteration, stdout, stderr)

	if e.sess != nil {
		e.persist(session.UpdateAfterIteration(e.sess, result))
	}

	if result.Status == task.IterationFailed {
		e.emit(Event{Type: EventIterationFailed, Iteration: result.Iteration, Result: &result})
	} else {
		e.emit(Event{Type: EventIterationCompleted, Iteration: result.Iteration, Result: &result})
	}

	switch {
	case e.pendingAbort:
		e.pendingAbort = false
		e.terminate("error")
	case e.pendingStop:
		e.pendingStop = false
		e.terminate("stopped")
	case e.pauseRequested:
		e.pauseRequested = false
		e.setStatus(StatusPaused)
		if e.sess != nil {
			e.persist(session.Pause(e.sess))
		}
		e.emit(Event{Type: EventEnginePaused})
	default:
		e.interIterationWait()
	}
}

// interIterationWait sleeps for cfg.IterationDelay, honoring cancellation
// and handling any control command that arrives in the meantime — no agent
// is in flight here, so pause/stop apply immediately rather than being
// deferred, and interrupt is rejected with ErrNoActiveAgent.
func (e *Engine) interIterationWait() {
	deadline := time.After(e.cfg.IterationDelay)
	for {
		select {
		case <-deadline:
			return
		case <-e.ctx.Done():
			return
		case cmd := <-e.inbox:
			switch cmd.typ {
			case cmdPause:
				e.setStatus(StatusPaused)
				if e.sess != nil {
					e.persist(session.Pause(e.sess))
				}
				e.emit(Event{Type: EventEnginePaused})
				cmd.reply <- nil
				return
			case cmdStop:
				cmd.reply <- nil
				e.terminate("stopped")
				return
			case cmdInterrupt:
				cmd.reply <- ErrNoActiveAgent
			case cmdAddIterations, cmdRemoveIterations:
				cmd.reply <- e.applyIterationDelta(cmd.typ, cmd.n)
			case cmdResume:
				cmd.reply <- ErrInvalidState
			case cmdStart:
				cmd.reply <- ErrAlreadyRunning
			case cmdContinue:
				cmd.reply <- ErrNotTerminated
			default:
				cmd.reply <- ErrInvalidState
			}
		}
	}
}

// applyErrorPolicy mutates result/skipped/retries per cfg.ErrorStrategy.
// abort is handled by terminate() being called from recordResult after
// this returns, via the pendingAbort flag.
func (e *Engine) applyErrorPolicy(t task.Task, result *task.IterationResult) {
	switch e.cfg.ErrorStrategy {
	case StrategyAbort:
		e.pendingAbort = true
	case StrategyRetry:
		e.retries[t.ID]++
		if e.retries[t.ID] >= e.cfg.MaxRetries {
			e.markSkipped(t.ID)
			delete(e.retries, t.ID)
			return
		}
		e.revertToPending(t.ID)
	case StrategySkip:
		e.markSkipped(t.ID)
	case StrategyContinue:
		// Same task may be picked again next time; it must go back to
		// pending or selectNextTask would never reconsider it.
		e.revertToPending(t.ID)
	}
}

// markSkipped records taskID as skipped in memory and, when a session is
// active, persists it into SkippedTaskIDs so a crash-and-resume doesn't make
// the task selectable again.
func (e *Engine) markSkipped(taskID string) {
	e.skipped[taskID] = true
	if e.sess != nil {
		e.persist(session.AddSkippedTask(e.sess, taskID))
	}
}

func (e *Engine) revertToPending(taskID string) {
	if err := e.tracker.UpdateStatus(taskID, task.StatusPending); err != nil {
		e.log.Warn("engine: revert task to pending failed", "task", taskID, "error", err)
	}
}

// terminate transitions the loop to idle, persisting a terminal session
// status when one applies, and emits engine:stopped.
func (e *Engine) terminate(reason string) {
	e.mu.Lock()
	e.state.Status = StatusIdle
	e.state.CurrentTask = nil
	e.mu.Unlock()

	if e.sess != nil {
		switch reason {
		case "no_tasks":
			e.persist(session.Complete(e.sess))
		case "error":
			e.persist(session.Fail(e.sess))
		case "stopped":
			e.persist(session.MarkInterrupted(e.sess))
		}
	}
	e.emit(Event{Type: EventEngineStopped, Data: reason})
}

// buildPrompt is a minimal stand-in for prompt-template substitution,
// which is out of scope: the engine hands the agent the task title and
// description verbatim.
func buildPrompt(t task.Task) string {
	if t.Description != "" {
		return t.Title + "\n\n" + t.Description
	}
	return t.Title
}
