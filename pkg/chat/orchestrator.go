package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chatloom/pkg/llm"
	"chatloom/pkg/logger"
	"chatloom/pkg/metrics"
	"chatloom/pkg/models"
	"chatloom/pkg/parts"
	"chatloom/pkg/store"
	"chatloom/pkg/tools"
	"chatloom/pkg/utils"
)

const systemPrompt = "You are an assistant for a workspace that monitors source repositories. " +
	"Use the provided tools to ground your answers in the workspace's actual repositories and alerts. " +
	"Call workspace_overview before drilling into alert details."

const defaultTitleMaxRunes = 60

// TurnRequest is the inbound chat request. A nil Message asks for a turn
// with no new user input (e.g. a greeting).
type TurnRequest struct {
	ThreadID          string           `json:"threadId"`
	Message           *IncomingMessage `json:"message,omitempty"`
	PreviousMessageID *string          `json:"previousMessageId,omitempty"`
}

// IncomingMessage is the user message carried on a turn request.
type IncomingMessage struct {
	ID    string           `json:"id"`
	Role  string           `json:"role"`
	Parts []parts.Incoming `json:"parts"`
}

// Service drives one chat turn end to end: persist input, stream the
// generator, execute tools, reconcile the finished turn into storage.
type Service struct {
	Engine            llm.Engine
	MaxToolIterations int
	ParallelTools     int
	TitleMaxRunes     int
	// Production suppresses error detail on the client stream.
	Production bool
}

func (s *Service) maxIterations() int {
	if s.MaxToolIterations > 0 {
		return s.MaxToolIterations
	}
	return 5
}

func (s *Service) titleMax() int {
	if s.TitleMaxRunes > 0 {
		return s.TitleMaxRunes
	}
	return defaultTitleMaxRunes
}

// RunTurn executes one turn, publishing stream events to sink as they
// happen. The returned error is nil in every case where the stream
// terminated cleanly; persistence failures never fail the turn.
func (s *Service) RunTurn(ctx context.Context, sink llm.EventSink, tc tools.ToolContext, req TurnRequest) error {
	ctx = llm.WithEventSinks(ctx, sink)
	metrics.TurnsStarted.Inc()
	llm.PublishEvent(ctx, llm.Event{Type: llm.EventTypeStart, ThreadID: req.ThreadID})

	// Persisting-Input: both writes are best-effort. A storage failure is
	// logged and the turn proceeds; answering beats durably recording.
	s.persistInput(tc, req)

	history := s.loadHistory(req)
	toolMap := tools.BuildTools(tc)

	accumulated, usage, finishReason, genErr := s.generate(ctx, history, toolMap)

	// The error event goes out before finalize so the client learns the
	// terminal state without waiting on storage writes.
	if genErr != nil {
		metrics.TurnsErrored.Inc()
		detail := genErr.Error()
		if s.Production {
			detail = "an internal error occurred"
		}
		logger.Error("turn_generation_failed", "thread", req.ThreadID, "error", genErr.Error())
		llm.PublishEvent(ctx, llm.Event{Type: llm.EventTypeError, ThreadID: req.ThreadID, ErrorText: detail})
		if finishReason == "" {
			finishReason = "error"
		}
	} else {
		metrics.TurnsCompleted.Inc()
	}

	// Finalizing runs even after an abort or generator error: partial
	// assistant content is still worth saving.
	assistantID := s.finalize(tc, req, accumulated)

	llm.PublishEvent(ctx, llm.Event{
		Type:         llm.EventTypeFinish,
		ThreadID:     req.ThreadID,
		MessageID:    assistantID,
		FinishReason: finishReason,
		Usage:        &usage,
	})
	return nil
}

func (s *Service) persistInput(tc tools.ToolContext, req TurnRequest) {
	userID := tc.UserID
	th := models.Thread{ID: req.ThreadID, WorkspaceID: tc.WorkspaceID}
	if userID != "" {
		th.UserID = &userID
	}
	if err := store.CreateThread(th); err != nil {
		metrics.PersistFailures.WithLabelValues("create_thread").Inc()
		logger.Warn("turn_thread_create_failed", "thread", req.ThreadID, "error", err.Error())
	}
	if req.Message == nil {
		return
	}
	msg := models.Message{
		ID:       req.Message.ID,
		Thread:   req.ThreadID,
		Role:     models.RoleUser,
		ParentID: req.PreviousMessageID,
		Parts:    parts.ToPersisted(req.Message.Parts),
	}
	if msg.ID == "" {
		msg.ID = utils.GenID()
		req.Message.ID = msg.ID
	}
	if err := store.SaveMessage(msg); err != nil {
		metrics.PersistFailures.WithLabelValues("save_user_message").Inc()
		logger.Warn("turn_user_message_persist_failed", "thread", req.ThreadID, "msg_id", msg.ID, "error", err.Error())
	}
}

// loadHistory projects the stored conversation into model-facing turns.
// When history cannot be read, the turn falls back to the incoming message
// alone rather than failing.
func (s *Service) loadHistory(req TurnRequest) []llm.Turn {
	msgs, err := store.GetMessagesByThreadID(req.ThreadID)
	if err != nil {
		logger.Warn("turn_history_load_failed", "thread", req.ThreadID, "error", err.Error())
		msgs = nil
	}
	var out []llm.Turn
	seenIncoming := false
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == models.RoleAssistant {
			role = llm.RoleAssistant
		}
		if req.Message != nil && m.ID == req.Message.ID {
			seenIncoming = true
		}
		mp := parts.ToModel(m.Parts)
		if len(mp) == 0 {
			continue
		}
		out = append(out, llm.Turn{Role: role, Parts: mp})
	}
	if req.Message != nil && !seenIncoming {
		mp := parts.ToModel(parts.ToPersisted(req.Message.Parts))
		out = append(out, llm.Turn{Role: llm.RoleUser, Parts: mp})
	}
	return out
}

// generate drives the inference/tool loop until the model stops requesting
// tools, the iteration cap is hit, or an error occurs. It returns whatever
// assistant content accumulated before any failure.
func (s *Service) generate(ctx context.Context, history []llm.Turn, toolMap map[string]tools.Tool) ([]parts.Incoming, llm.Usage, string, error) {
	var (
		accumulated  []parts.Incoming
		usage        llm.Usage
		finishReason string
	)
	for iteration := 0; iteration < s.maxIterations(); iteration++ {
		step, err := s.Engine.RunInference(ctx, systemPrompt, history, toolMap)
		if err != nil {
			return accumulated, usage, finishReason, err
		}
		usage.PromptTokens += step.Usage.PromptTokens
		usage.CompletionTokens += step.Usage.CompletionTokens
		finishReason = step.FinishReason

		if step.Text != "" {
			accumulated = append(accumulated, parts.Incoming{Type: parts.TypeText, Text: step.Text})
		}
		if len(step.ToolCalls) == 0 {
			return accumulated, usage, finishReason, nil
		}

		results := s.executeTools(ctx, toolMap, step.ToolCalls)
		for i, call := range step.ToolCalls {
			accumulated = append(accumulated, toolInvocationPart(call, results[i]))
		}

		history = append(history, llm.Turn{
			Role:      llm.RoleAssistant,
			Parts:     []parts.ModelPart{{Kind: parts.ModelText, Text: step.Text}},
			ToolCalls: step.ToolCalls,
		})
		for i, call := range step.ToolCalls {
			history = append(history, llm.Turn{
				Role:       llm.RoleTool,
				ToolResult: &llm.ToolResult{ID: call.ID, Name: call.Name, Content: results[i].output},
			})
		}
	}
	logger.Warn("turn_tool_iterations_exhausted", "max", s.maxIterations())
	return accumulated, usage, "tool-iterations-exhausted", nil
}

type toolOutcome struct {
	output  string
	errored bool
}

// executeTools runs one round of tool calls, concurrently up to the
// configured parallelism, and publishes lifecycle events per call.
func (s *Service) executeTools(ctx context.Context, toolMap map[string]tools.Tool, calls []llm.ToolCall) []toolOutcome {
	parallel := s.ParallelTools
	if parallel <= 0 {
		parallel = 4
	}
	sem := make(chan struct{}, parallel)
	results := make([]toolOutcome, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.executeOne(ctx, toolMap, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (s *Service) executeOne(ctx context.Context, toolMap map[string]tools.Tool, call llm.ToolCall) toolOutcome {
	tool, ok := toolMap[call.Name]
	if !ok {
		metrics.ToolExecutions.WithLabelValues(call.Name, "unknown").Inc()
		msg := fmt.Sprintf("unknown tool %q", call.Name)
		logger.Warn("tool_unknown", "name", call.Name)
		llm.PublishEvent(ctx, llm.Event{Type: llm.EventTypeToolError, ToolCallID: call.ID, ToolName: call.Name, ErrorText: msg})
		return toolOutcome{output: msg, errored: true}
	}
	llm.PublishEvent(ctx, llm.Event{Type: llm.EventTypeToolInputReady, ToolCallID: call.ID, ToolName: call.Name, Input: call.Arguments})

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		metrics.ToolExecutions.WithLabelValues(call.Name, "error").Inc()
		logger.Warn("tool_execute_failed", "name", call.Name, "error", err.Error())
		llm.PublishEvent(ctx, llm.Event{Type: llm.EventTypeToolError, ToolCallID: call.ID, ToolName: call.Name, ErrorText: err.Error()})
		return toolOutcome{output: "tool execution failed: " + err.Error(), errored: true}
	}
	metrics.ToolExecutions.WithLabelValues(call.Name, "ok").Inc()
	rendered := tool.ToModelOutput(result)
	llm.PublishEvent(ctx, llm.Event{Type: llm.EventTypeToolOutputReady, ToolCallID: call.ID, ToolName: call.Name, Output: rendered})
	return toolOutcome{output: rendered}
}

// toolInvocationPart records a completed tool call in the assistant
// message so transcripts can replay what the model consulted.
func toolInvocationPart(call llm.ToolCall, outcome toolOutcome) parts.Incoming {
	payload := map[string]any{
		"type":       "tool-invocation",
		"toolCallId": call.ID,
		"toolName":   call.Name,
		"input":      json.RawMessage(call.Arguments),
		"output":     outcome.output,
		"errored":    outcome.errored,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{"type":"tool-invocation"}`)
	}
	return parts.Incoming{Type: "tool-invocation", Raw: raw}
}

// finalize persists the assistant message, moves the selected leaf and
// infers a title once. Each step is independently best-effort.
func (s *Service) finalize(tc tools.ToolContext, req TurnRequest, accumulated []parts.Incoming) string {
	assistantID := utils.GenID()
	persisted := parts.ToPersisted(accumulated)

	var parentID *string
	if req.Message != nil && req.Message.ID != "" {
		id := req.Message.ID
		parentID = &id
	} else {
		parentID = req.PreviousMessageID
	}

	msg := models.Message{
		ID:       assistantID,
		Thread:   req.ThreadID,
		Role:     models.RoleAssistant,
		ParentID: parentID,
		Parts:    persisted,
	}
	if err := store.SaveMessage(msg); err != nil {
		metrics.PersistFailures.WithLabelValues("save_assistant_message").Inc()
		logger.Warn("turn_assistant_persist_failed", "thread", req.ThreadID, "msg_id", assistantID, "error", err.Error())
	}
	if err := store.UpdateSelectedLeaf(req.ThreadID, assistantID); err != nil {
		metrics.PersistFailures.WithLabelValues("update_selected_leaf").Inc()
		logger.Warn("turn_selected_leaf_failed", "thread", req.ThreadID, "error", err.Error())
	}
	s.inferTitle(req)
	return assistantID
}

// inferTitle sets the thread title from the first user text part, once.
func (s *Service) inferTitle(req TurnRequest) {
	if req.Message == nil {
		return
	}
	th, err := store.GetThreadByID(req.ThreadID)
	if err != nil {
		logger.Warn("turn_title_lookup_failed", "thread", req.ThreadID, "error", err.Error())
		return
	}
	if th.Title != nil {
		return
	}
	text, ok := parts.FirstText(parts.ToPersisted(req.Message.Parts))
	if !ok || text == "" {
		return
	}
	title := utils.TruncateRunes(text, s.titleMax())
	if err := store.UpdateThreadTitle(req.ThreadID, title); err != nil {
		metrics.PersistFailures.WithLabelValues("update_title").Inc()
		logger.Warn("turn_title_update_failed", "thread", req.ThreadID, "error", err.Error())
	}
}
