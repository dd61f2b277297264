package llm

import (
	"context"

	"chatloom/pkg/tools"
)

// ScriptedStep is one pre-programmed inference outcome for ScriptedEngine.
type ScriptedStep struct {
	// TextChunks are streamed as individual text-delta events.
	TextChunks []string
	ToolCalls  []ToolCall
	Err        error
	Finish     string
}

// ScriptedEngine replays a fixed sequence of step results. Used by tests to
// drive the orchestrator without a live provider.
type ScriptedEngine struct {
	Steps []ScriptedStep

	// Histories records the history passed to each RunInference call.
	Histories [][]Turn
	calls     int
}

func (s *ScriptedEngine) RunInference(ctx context.Context, system string, history []Turn, toolMap map[string]tools.Tool) (*StepResult, error) {
	s.Histories = append(s.Histories, history)
	if s.calls >= len(s.Steps) {
		return &StepResult{FinishReason: "stop"}, nil
	}
	step := s.Steps[s.calls]
	s.calls++
	if step.Err != nil {
		return nil, step.Err
	}

	text := ""
	for _, chunk := range step.TextChunks {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		text += chunk
		PublishEvent(ctx, Event{Type: EventTypeTextDelta, Delta: chunk})
	}
	for _, tc := range step.ToolCalls {
		PublishEvent(ctx, Event{Type: EventTypeToolCall, ToolCallID: tc.ID, ToolName: tc.Name, Input: tc.Arguments})
	}
	finish := step.Finish
	if finish == "" {
		if len(step.ToolCalls) > 0 {
			finish = "tool_calls"
		} else {
			finish = "stop"
		}
	}
	return &StepResult{Text: text, ToolCalls: step.ToolCalls, FinishReason: finish}, nil
}
