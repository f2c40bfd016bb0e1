package agentproc

import (
	"os"
	"syscall"
)

// interruptSignal is sent to an agent process to request graceful
// cancellation, the SIGINT-equivalent the spec calls for.
var interruptSignal os.Signal = syscall.SIGINT
