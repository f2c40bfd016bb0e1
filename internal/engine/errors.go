package engine

import "errors"

// StateError sentinels, surfaced to callers (and wrapped into
// operation_result {success: false, error} by the remote server).
var (
	ErrAlreadyRunning = errors.New("engine: already running")
	ErrInvalidState   = errors.New("engine: invalid state for this operation")
	ErrNoActiveAgent  = errors.New("engine: no active agent")
	ErrBadArg         = errors.New("engine: bad argument")
	ErrWouldEndLoop   = errors.New("engine: removing that many iterations would end the loop")
	ErrNotTerminated  = errors.New("engine: loop has not terminated, or was never started")
)
