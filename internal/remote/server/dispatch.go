package server

import (
	"encoding/json"

	"github.com/ralph-tui/ralph-tui/internal/remote/protocol"
)

func (c *connection) handleGetState(f frame) {
	st := c.srv.engine.GetState()
	wire := protocol.EngineStateWire{
		Status:           string(st.Status),
		CurrentIteration: st.CurrentIteration,
		CurrentTask:      st.CurrentTask,
		CurrentOutput:    st.CurrentOutput,
		CurrentStderr:    st.CurrentStderr,
		TasksCompleted:   st.TasksCompleted,
		TotalTasks:       st.TotalTasks,
		MaxIterations:    st.MaxIterations,
		StartedAt:        st.StartedAt,
		ActiveAgent:      st.ActiveAgent,
		Iterations:       st.Iterations,
	}
	_ = c.conn.WriteFrame(protocol.StateResponse{
		Envelope: protocol.ReplyEnvelope(protocol.TypeStateResponse, f.env.ID),
		State:    wire,
	})
}

func (c *connection) handleGetTasks(f frame) {
	tasks, err := c.srv.engine.Tasks()
	if err != nil {
		c.sendError(protocol.CodeUnknownMessage, err.Error())
		return
	}
	_ = c.conn.WriteFrame(protocol.TasksResponse{
		Envelope: protocol.ReplyEnvelope(protocol.TypeTasksResponse, f.env.ID),
		Tasks:    tasks,
	})
}

// handleControl dispatches pause/resume/interrupt/continue/refresh_tasks/
// add_iterations/remove_iterations to the engine and replies with
// operation_result. Commands are serialized per engine: Engine.send blocks
// on its own reply channel, so concurrent connections dispatching commands
// simultaneously naturally queue rather than race.
func (c *connection) handleControl(f frame) {
	op := string(f.env.Type)
	var n uint
	if f.env.Type == protocol.TypeAddIterations || f.env.Type == protocol.TypeRemoveIterations {
		var ctrl protocol.Control
		_ = json.Unmarshal(f.raw, &ctrl)
		n = ctrl.N
	}

	var err error
	switch f.env.Type {
	case protocol.TypePause:
		err = c.srv.engine.Pause()
	case protocol.TypeResume:
		err = c.srv.engine.Resume()
	case protocol.TypeInterrupt:
		err = c.srv.engine.Interrupt()
	case protocol.TypeContinue:
		err = c.srv.engine.Continue()
	case protocol.TypeAddIterations:
		err = c.srv.engine.AddIterations(n)
	case protocol.TypeRemoveIterations:
		err = c.srv.engine.RemoveIterations(n)
	case protocol.TypeRefreshTasks:
		// Tasks are always read fresh from the tracker on access; this
		// acknowledges the request without a dedicated engine op.
		_, err = c.srv.engine.Tasks()
	}

	result := protocol.OperationResult{
		Envelope:  protocol.ReplyEnvelope(protocol.TypeOperationResult, f.env.ID),
		Operation: op,
		Success:   err == nil,
	}
	if err != nil {
		result.Error = err.Error()
	}
	_ = c.conn.WriteFrame(result)
}

func (c *connection) handleGetPromptPreview(f frame) {
	prompt, err := c.srv.engine.PreviewPrompt()
	if err != nil {
		c.sendError(protocol.CodeUnknownMessage, err.Error())
		return
	}
	_ = c.conn.WriteFrame(protocol.PromptPreviewResponse{
		Envelope: protocol.ReplyEnvelope(protocol.TypePromptPreviewResponse, f.env.ID),
		Prompt:   prompt,
	})
}

func (c *connection) handleGetIterationOutput(f frame) {
	var msg protocol.GetIterationOutput
	_ = json.Unmarshal(f.raw, &msg)
	stdout, stderr, found := c.srv.engine.IterationOutput(msg.Iteration)
	_ = c.conn.WriteFrame(protocol.IterationOutputResponse{
		Envelope:  protocol.ReplyEnvelope(protocol.TypeIterationOutputResponse, f.env.ID),
		Iteration: msg.Iteration,
		Found:     found,
		Stdout:    stdout,
		Stderr:    stderr,
	})
}
