package protocol

import (
	"time"

	"github.com/ralph-tui/ralph-tui/internal/task"
)

// Auth is the initial handshake message, C->S.
type Auth struct {
	Envelope
	Token     string `json:"token"`
	TokenType string `json:"tokenType"` // "server" | "connection"
}

// AuthResponse is the server's reply, S->C.
type AuthResponse struct {
	Envelope
	Success         bool      `json:"success"`
	ConnectionToken string    `json:"connectionToken,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// TokenRefresh requests connection-token rotation, C->S.
type TokenRefresh struct {
	Envelope
	Token string `json:"token"`
}

// TokenRefreshResponse carries the rotated token, S->C.
type TokenRefreshResponse struct {
	Envelope
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Ping is a heartbeat probe, either direction.
type Ping struct {
	Envelope
}

// Pong echoes a Ping's id for RTT measurement.
type Pong struct {
	Envelope
}

// Error is an out-of-band error notification, S->C.
type Error struct {
	Envelope
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ServerStatus is a periodic health broadcast, S->C.
type ServerStatus struct {
	Envelope
	UptimeSeconds    int64 `json:"uptimeSeconds"`
	ConnectedClients int   `json:"connectedClients"`
}

// Subscribe opts a connection into the engine event stream, C->S.
type Subscribe struct {
	Envelope
}

// Unsubscribe opts out, C->S.
type Unsubscribe struct {
	Envelope
}

// EngineEvent forwards one engine event, S->C.
type EngineEvent struct {
	Envelope
	EventType string `json:"eventType"`
	Iteration uint   `json:"iteration,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	Stream    string `json:"stream,omitempty"`
	Data      string `json:"data,omitempty"`
}

// GetState requests a full engine snapshot, C->S.
type GetState struct {
	Envelope
}

// EngineStateWire is the wire projection of engine.State; kept independent
// of the engine package so protocol has no dependency on it.
type EngineStateWire struct {
	Status           string                  `json:"status"`
	CurrentIteration uint                    `json:"currentIteration"`
	CurrentTask      *task.Task              `json:"currentTask,omitempty"`
	CurrentOutput    string                  `json:"currentOutput"`
	CurrentStderr    string                  `json:"currentStderr"`
	TasksCompleted   uint                    `json:"tasksCompleted"`
	TotalTasks       uint                    `json:"totalTasks"`
	MaxIterations    uint                    `json:"maxIterations"`
	StartedAt        *time.Time              `json:"startedAt,omitempty"`
	ActiveAgent      string                  `json:"activeAgent,omitempty"`
	Iterations       []task.IterationResult  `json:"iterations"`
}

// StateResponse answers GetState, S->C.
type StateResponse struct {
	Envelope
	State EngineStateWire `json:"state"`
}

// GetTasks requests the task list snapshot, C->S.
type GetTasks struct {
	Envelope
}

// TasksResponse answers GetTasks, S->C.
type TasksResponse struct {
	Envelope
	Tasks []task.Task `json:"tasks"`
}

// Control carries every no-payload engine-control message: pause, resume,
// interrupt, refresh_tasks, continue. add_iterations/remove_iterations use
// the same shape and carry their count in N; no other message sets N.
type Control struct {
	Envelope
	N uint `json:"n,omitempty"`
}

// OperationResult replies to any Control message, S->C.
type OperationResult struct {
	Envelope
	Operation string `json:"operation"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// GetPromptPreview asks the server what the next prompt would be, C->S.
type GetPromptPreview struct {
	Envelope
}

// PromptPreviewResponse answers GetPromptPreview, S->C.
type PromptPreviewResponse struct {
	Envelope
	Prompt string `json:"prompt"`
}

// GetIterationOutput requests historic output for one iteration, C->S.
type GetIterationOutput struct {
	Envelope
	Iteration uint `json:"iteration"`
}

// IterationOutputResponse answers GetIterationOutput, S->C.
type IterationOutputResponse struct {
	Envelope
	Iteration uint   `json:"iteration"`
	Found     bool   `json:"found"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
}

// CheckConfig asks the server about its remote config files, C->S.
type CheckConfig struct {
	Envelope
}

// CheckConfigResponse answers CheckConfig, S->C.
type CheckConfigResponse struct {
	Envelope
	GlobalExists   bool   `json:"globalExists"`
	ProjectExists  bool   `json:"projectExists"`
	GlobalPath     string `json:"globalPath"`
	ProjectPath    string `json:"projectPath"`
	GlobalContent  string `json:"globalContent,omitempty"`
	ProjectContent string `json:"projectContent,omitempty"`
	RemoteCwd      string `json:"remoteCwd"`
}

// PushConfig writes a new remote config file, C->S.
type PushConfig struct {
	Envelope
	Scope         string `json:"scope"` // "global" | "project"
	ConfigContent string `json:"configContent"`
	Overwrite     bool   `json:"overwrite"`
}

// PushConfigResponse answers PushConfig, S->C.
type PushConfigResponse struct {
	Envelope
	Success            bool   `json:"success"`
	Error              string `json:"error,omitempty"`
	ConfigPath         string `json:"configPath,omitempty"`
	BackupPath         string `json:"backupPath,omitempty"`
	MigrationTriggered bool   `json:"migrationTriggered"`
	RequiresRestart    bool   `json:"requiresRestart"`
}
