package llm

import "encoding/json"

// EventType tags one frame of the outbound turn stream.
type EventType string

const (
	EventTypeStart           EventType = "start"
	EventTypeTextDelta       EventType = "text-delta"
	EventTypeReasoningDelta  EventType = "reasoning-delta"
	EventTypeToolCall        EventType = "tool-call"
	EventTypeToolInputReady  EventType = "tool-input-ready"
	EventTypeToolOutputReady EventType = "tool-output-ready"
	EventTypeToolError       EventType = "tool-error"
	EventTypeError           EventType = "error"
	EventTypeFinish          EventType = "finish"
)

// Usage aggregates token accounting for one turn.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Event is one independently parseable frame of the stream. Fields are
// populated per Type; un-set fields are omitted on the wire.
type Event struct {
	Type      EventType `json:"type"`
	MessageID string    `json:"messageId,omitempty"`
	ThreadID  string    `json:"threadId,omitempty"`
	Delta     string    `json:"delta,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`

	ErrorText    string `json:"error,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}
