package engine

import (
	"sync"

	"github.com/ralph-tui/ralph-tui/internal/task"
)

// EventType enumerates the engine's fan-out event types.
type EventType string

const (
	EventEngineStarted      EventType = "engine:started"
	EventEngineStopped      EventType = "engine:stopped"
	EventEnginePaused       EventType = "engine:paused"
	EventEngineResumed      EventType = "engine:resumed"
	EventIterationStarted   EventType = "iteration:started"
	EventIterationCompleted EventType = "iteration:completed"
	EventIterationFailed    EventType = "iteration:failed"
	EventTaskSelected       EventType = "task:selected"
	EventTaskCompleted      EventType = "task:completed"
	EventAgentOutput        EventType = "agent:output"
)

// Event is one fan-out message. Fields not relevant to Type are zero.
type Event struct {
	Type      EventType
	Iteration uint
	Task      *task.Task
	Result    *task.IterationResult
	Stream    string // "stdout" | "stderr", for EventAgentOutput
	Data      string
}

// subscriberQueueSize bounds each subscriber's channel; once full, the
// oldest queued event is dropped to make room for the newest, and the
// subscription is marked lagging.
const subscriberQueueSize = 256

type subscription struct {
	id      uint64
	ch      chan Event
	lagging bool
}

// eventBus fans engine events out to subscribers. A subscriber's fault (a
// full, unread channel) must never stall the loop: delivery is always
// non-blocking from the bus's perspective.
type eventBus struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
}

func newEventBus() *eventBus {
	return &eventBus{subs: map[uint64]*subscription{}}
}

// subscribe registers a new subscriber and returns its event channel plus
// a cancel function that unregisters it and closes the channel.
func (b *eventBus) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscription{id: id, ch: make(chan Event, subscriberQueueSize)}
	b.subs[id] = sub
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// publish fans ev out to a snapshot of the current subscriber set, taken
// under lock, then delivers without holding the lock so a slow subscriber
// never blocks another.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	snapshot := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		snapshot = append(snapshot, s)
	}
	b.mu.Unlock()

	for _, s := range snapshot {
		select {
		case s.ch <- ev:
		default:
			// Full: drop the oldest queued event to make room, then retry
			// once. Best-effort; under concurrent draining this can race
			// with the reader, which is fine — the goal is bounded memory,
			// not exact ordering of the drop itself.
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- ev:
			default:
			}
			s.lagging = true
		}
	}
}
