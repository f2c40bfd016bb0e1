package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ralph-tui/ralph-tui/internal/agentproc"
	"github.com/ralph-tui/ralph-tui/internal/session"
	"github.com/ralph-tui/ralph-tui/internal/task"
	"github.com/ralph-tui/ralph-tui/internal/tracker"
)

// Engine drives one iteration loop against one cwd. Construct with New,
// call Start to begin, and use Subscribe to observe events. All control
// operations post to a single serialized inbox; the loop goroutine is the
// only writer of State.
type Engine struct {
	cfg     Config
	agent   agentproc.Adapter
	tracker tracker.Adapter
	store   *session.Store
	cwd     string
	log     *slog.Logger
	bus     *eventBus

	ctx    context.Context
	cancel context.CancelFunc

	inbox chan command

	startOnce sync.Once

	mu    sync.RWMutex
	state State

	// Loop-private: touched only from the single loop goroutine.
	sess           *session.PersistedSession
	skipped        map[string]bool
	retries        map[string]uint
	everStarted    bool
	pauseRequested bool
	pendingStop    bool
	pendingAbort   bool
}

// New constructs an Engine. If a resumable session already exists at cwd,
// it is adopted; otherwise a fresh one is created lazily on Start.
func New(cfg Config, agent agentproc.Adapter, trk tracker.Adapter, store *session.Store, cwd string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:     cfg,
		agent:   agent,
		tracker: trk,
		store:   store,
		cwd:     cwd,
		log:     logger,
		bus:     newEventBus(),
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan command),
		skipped: map[string]bool{},
		retries: map[string]uint{},
		state: State{
			Status:        StatusIdle,
			MaxIterations: cfg.MaxIterations,
		},
	}

	existing, err := store.Load(cwd)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("engine: load existing session: %w", err)
	}
	if existing != nil && existing.Status.Resumable() {
		e.adopt(existing)
	}

	return e, nil
}

func (e *Engine) adopt(sess *session.PersistedSession) {
	e.sess = sess
	for _, id := range sess.SkippedTaskIDs {
		e.skipped[id] = true
	}
	e.everStarted = true
	e.mu.Lock()
	e.state.CurrentIteration = sess.CurrentIteration
	e.state.TasksCompleted = sess.TasksCompleted
	e.state.MaxIterations = sess.MaxIterations
	e.state.TotalTasks = uint(sess.TrackerState.TotalTasks)
	if sess.Status == session.StatusPaused {
		e.state.Status = StatusPaused
	}
	e.mu.Unlock()
}

// ensureLoop starts the background goroutine the first time it's needed.
func (e *Engine) ensureLoop() {
	e.startOnce.Do(func() { go e.loop() })
}

// Subscribe registers a new event subscriber. Call cancel to unregister.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.bus.subscribe()
}

// GetState returns an immutable snapshot of the engine's current state.
func (e *Engine) GetState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.clone()
}

// Close cancels the engine's lifetime context, ending the loop goroutine
// and interrupting any in-flight agent.
func (e *Engine) Close() {
	e.cancel()
}

func (e *Engine) send(typ commandType, n uint) error {
	e.ensureLoop()
	cmd := newCommand(typ, n)
	select {
	case e.inbox <- cmd:
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// Start transitions idle -> running and schedules the iteration loop.
func (e *Engine) Start() error { return e.send(cmdStart, 0) }

// Pause requests a transition to paused once the in-flight iteration ends.
func (e *Engine) Pause() error { return e.send(cmdPause, 0) }

// Resume transitions paused -> running.
func (e *Engine) Resume() error { return e.send(cmdResume, 0) }

// Stop requests the loop terminate after the in-flight agent is signaled.
func (e *Engine) Stop() error { return e.send(cmdStop, 0) }

// Interrupt signals only the current agent invocation; the loop continues.
func (e *Engine) Interrupt() error { return e.send(cmdInterrupt, 0) }

// AddIterations increases maxIterations by n.
func (e *Engine) AddIterations(n uint) error {
	if n == 0 {
		return ErrBadArg
	}
	return e.send(cmdAddIterations, n)
}

// RemoveIterations decreases maxIterations by n, unless doing so would end
// the loop before currentIteration is reached.
func (e *Engine) RemoveIterations(n uint) error {
	if n == 0 {
		return ErrBadArg
	}
	return e.send(cmdRemoveIterations, n)
}

// Continue resumes a terminated (idle) loop with its existing state.
func (e *Engine) Continue() error { return e.send(cmdContinue, 0) }

func (e *Engine) emit(ev Event) {
	e.bus.publish(ev)
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.state.Status = s
	e.mu.Unlock()
}

// loop is the single goroutine that owns State mutation. It alternates
// between idling on the inbox (idle/paused) and running iterations
// (running), per the state-machine driving the public contract.
func (e *Engine) loop() {
	for {
		e.mu.RLock()
		status := e.state.Status
		e.mu.RUnlock()

		switch status {
		case StatusRunning:
			e.runOneIteration()
		default:
			select {
			case cmd := <-e.inbox:
				e.handleIdleCommand(cmd)
			case <-e.ctx.Done():
				return
			}
		}
	}
}

// handleIdleCommand processes a control command received while the loop is
// not mid-iteration (status idle or paused).
func (e *Engine) handleIdleCommand(cmd command) {
	e.mu.RLock()
	status := e.state.Status
	e.mu.RUnlock()

	switch cmd.typ {
	case cmdStart:
		if status != StatusIdle {
			cmd.reply <- ErrAlreadyRunning
			return
		}
		if e.sess == nil {
			if err := e.createSession(); err != nil {
				cmd.reply <- err
				return
			}
		}
		now := time.Now().UTC()
		e.mu.Lock()
		e.state.Status = StatusRunning
		e.state.StartedAt = &now
		e.mu.Unlock()
		e.everStarted = true
		e.emit(Event{Type: EventEngineStarted})
		cmd.reply <- nil

	case cmdResume:
		if status != StatusPaused {
			cmd.reply <- ErrInvalidState
			return
		}
		e.setStatus(StatusRunning)
		if e.sess != nil {
			e.persist(session.Resume(e.sess))
		}
		e.emit(Event{Type: EventEngineResumed})
		cmd.reply <- nil

	case cmdStop:
		if status != StatusPaused {
			cmd.reply <- ErrInvalidState
			return
		}
		e.setStatus(StatusIdle)
		e.emit(Event{Type: EventEngineStopped})
		cmd.reply <- nil

	case cmdContinue:
		if status != StatusIdle || !e.everStarted {
			cmd.reply <- ErrNotTerminated
			return
		}
		e.setStatus(StatusRunning)
		e.emit(Event{Type: EventEngineStarted})
		cmd.reply <- nil

	case cmdPause:
		cmd.reply <- ErrInvalidState

	case cmdInterrupt:
		cmd.reply <- ErrNoActiveAgent

	case cmdAddIterations, cmdRemoveIterations:
		cmd.reply <- e.applyIterationDelta(cmd.typ, cmd.n)

	default:
		cmd.reply <- ErrInvalidState
	}
}

func (e *Engine) applyIterationDelta(typ commandType, n uint) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch typ {
	case cmdAddIterations:
		e.state.MaxIterations += n
		return nil
	case cmdRemoveIterations:
		if e.state.MaxIterations < n || e.state.MaxIterations-n < e.state.CurrentIteration {
			return ErrWouldEndLoop
		}
		e.state.MaxIterations -= n
		return nil
	}
	return ErrInvalidState
}

func (e *Engine) createSession() error {
	tasks, err := e.tracker.Tasks()
	if err != nil {
		return fmt.Errorf("engine: list tasks: %w", err)
	}
	e.sess = session.CreatePersisted(session.CreateParams{
		Cwd:           e.cwd,
		AgentPlugin:   e.agent.Plugin(),
		MaxIterations: e.cfg.MaxIterations,
		TrackerPlugin: e.tracker.Plugin(),
		Tasks:         tasks,
	})
	_, err = e.store.Save(e.sess)
	return err
}

func (e *Engine) persist(next *session.PersistedSession) {
	saved, err := e.store.Save(next)
	if err != nil {
		e.log.Error("engine: failed to persist session", "error", err)
		return
	}
	e.sess = saved
}

// selectNextTask picks the highest-priority pending, non-skipped task,
// tie-broken by id.
func selectNextTask(tasks []task.Task, skipped map[string]bool) (task.Task, bool) {
	candidates := make([]task.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == task.StatusPending && !skipped[t.ID] {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return task.Task{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}
