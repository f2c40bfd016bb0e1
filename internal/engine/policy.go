package engine

import "time"

// ErrorStrategy controls what happens when an iteration's agent invocation
// fails (spawn failure, abnormal termination, or non-zero exit).
type ErrorStrategy string

const (
	StrategyAbort    ErrorStrategy = "abort"
	StrategyRetry    ErrorStrategy = "retry"
	StrategySkip     ErrorStrategy = "skip"
	StrategyContinue ErrorStrategy = "continue"
)

// defaultMaxRetries is the error-policy retry ceiling. Kept independent of
// the remote client's reconnect maxRetries constant (10): the two numbers
// answer unrelated questions and happen to differ in the source material.
const defaultMaxRetries = 3

// Config configures one Engine's policies. The agent and tracker adapters
// are injected separately via New, and their Plugin() names are what gets
// persisted.
type Config struct {
	MaxIterations  uint
	IterationDelay time.Duration
	ErrorStrategy  ErrorStrategy
	MaxRetries     uint // 0 => defaultMaxRetries

	// DataDir, if set, is where each iteration's full stdout/stderr is
	// written to disk (<DataDir>/iterations/<sessionId>/<n>.log), so
	// get_iteration_output can serve iterations that have rolled off
	// State.CurrentOutput. Empty disables iteration output capture.
	DataDir string
}

func (c Config) withDefaults() Config {
	if c.ErrorStrategy == "" {
		c.ErrorStrategy = StrategyAbort
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	return c
}
