// Package protocol defines the wire message schema for the remote control
// plane (C6): every message's envelope, the full set of message types from
// spec §4.4, and JSON framing over a persistent connection.
package protocol

import "time"

// Type enumerates every message type the protocol carries.
type Type string

const (
	TypeAuth                   Type = "auth"
	TypeAuthResponse           Type = "auth_response"
	TypeTokenRefresh           Type = "token_refresh"
	TypeTokenRefreshResponse   Type = "token_refresh_response"
	TypePing                   Type = "ping"
	TypePong                   Type = "pong"
	TypeError                  Type = "error"
	TypeServerStatus           Type = "server_status"
	TypeSubscribe              Type = "subscribe"
	TypeUnsubscribe            Type = "unsubscribe"
	TypeEngineEvent            Type = "engine_event"
	TypeGetState               Type = "get_state"
	TypeStateResponse          Type = "state_response"
	TypeGetTasks               Type = "get_tasks"
	TypeTasksResponse          Type = "tasks_response"
	TypePause                  Type = "pause"
	TypeResume                 Type = "resume"
	TypeInterrupt              Type = "interrupt"
	TypeRefreshTasks           Type = "refresh_tasks"
	TypeAddIterations          Type = "add_iterations"
	TypeRemoveIterations       Type = "remove_iterations"
	TypeContinue               Type = "continue"
	TypeOperationResult        Type = "operation_result"
	TypeGetPromptPreview       Type = "get_prompt_preview"
	TypePromptPreviewResponse  Type = "prompt_preview_response"
	TypeGetIterationOutput     Type = "get_iteration_output"
	TypeIterationOutputResponse Type = "iteration_output_response"
	TypeCheckConfig            Type = "check_config"
	TypeCheckConfigResponse    Type = "check_config_response"
	TypePushConfig             Type = "push_config"
	TypePushConfigResponse     Type = "push_config_response"
)

// Envelope is the header every message carries, regardless of type.
// Concrete payloads embed Envelope and add their own fields.
type Envelope struct {
	Type      Type      `json:"type"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorCode enumerates the out-of-band error codes the server can send.
type ErrorCode string

const (
	CodeUnknownMessage     ErrorCode = "UNKNOWN_MESSAGE"
	CodeAuthTimeout        ErrorCode = "AUTH_TIMEOUT"
	CodeNotAuthenticated   ErrorCode = "NOT_AUTHENTICATED"
	CodeHeartbeatTimeout   ErrorCode = "HEARTBEAT_TIMEOUT"
	CodeInvalidToken       ErrorCode = "INVALID_TOKEN"
)

