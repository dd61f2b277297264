package llm

import (
	"context"
	"encoding/json"

	"chatloom/pkg/parts"
	"chatloom/pkg/tools"
)

// Turn roles as fed to the engine.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is one tool request the model emitted.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult carries an executed tool's rendered output back to the model.
type ToolResult struct {
	ID      string
	Name    string
	Content string
}

// Turn is one entry of the model-facing conversation. Exactly one of
// Parts/ToolCalls/ToolResult is meaningful depending on Role.
type Turn struct {
	Role       string
	Parts      []parts.ModelPart
	ToolCalls  []ToolCall
	ToolResult *ToolResult
}

// StepResult is the outcome of a single inference step. A step with
// pending ToolCalls expects the caller to execute them and run another
// step with the results appended to the history.
type StepResult struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Engine is the black-box generator behind one inference step. It streams
// incremental output to the event sinks on ctx while accumulating the
// final result, and honors ctx cancellation as an abort signal.
type Engine interface {
	RunInference(ctx context.Context, system string, history []Turn, toolMap map[string]tools.Tool) (*StepResult, error)
}
