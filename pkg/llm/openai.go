package llm

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"

	"chatloom/pkg/config"
	"chatloom/pkg/logger"
	"chatloom/pkg/parts"
	"chatloom/pkg/tools"
)

// OpenAIEngine streams chat completions from an OpenAI-compatible endpoint.
type OpenAIEngine struct {
	client         *go_openai.Client
	model          string
	requestTimeout time.Duration
}

// NewOpenAIEngine builds an engine from the llm config section. BaseURL may
// point at any OpenAI-compatible server.
func NewOpenAIEngine(cfg config.LLMConfig) *OpenAIEngine {
	cc := go_openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = go_openai.GPT4o
	}
	return &OpenAIEngine{
		client:         go_openai.NewClientWithConfig(cc),
		model:          model,
		requestTimeout: cfg.RequestTimeout.Duration(),
	}
}

// RunInference executes one streaming completion, publishing text deltas
// and tool-call events to the sinks on ctx as they arrive.
func (e *OpenAIEngine) RunInference(ctx context.Context, system string, history []Turn, toolMap map[string]tools.Tool) (*StepResult, error) {
	if e.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.requestTimeout)
		defer cancel()
	}

	req := go_openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: buildMessages(system, history),
	}
	if len(toolMap) > 0 {
		names := make([]string, 0, len(toolMap))
		for name := range toolMap {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			t := toolMap[name]
			req.Tools = append(req.Tools, go_openai.Tool{
				Type: go_openai.ToolTypeFunction,
				Function: &go_openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		req.ToolChoice = "auto"
	}

	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "create completion stream")
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			logger.Warn("stream_close_failed", "error", cerr.Error())
		}
	}()

	var (
		text         string
		finishReason string
		merger       = newToolCallMerger()
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "stream recv")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if delta := choice.Delta.Content; delta != "" {
			text += delta
			PublishEvent(ctx, Event{Type: EventTypeTextDelta, Delta: delta})
		}
		if len(choice.Delta.ToolCalls) > 0 {
			merger.add(choice.Delta.ToolCalls)
		}
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
	}

	res := &StepResult{Text: text, FinishReason: finishReason}
	for _, tc := range merger.merged() {
		call := ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments)}
		res.ToolCalls = append(res.ToolCalls, call)
		PublishEvent(ctx, Event{
			Type:       EventTypeToolCall,
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Input:      call.Arguments,
		})
	}
	return res, nil
}

// toolCallMerger reassembles tool calls from streamed argument fragments.
type toolCallMerger struct {
	calls map[int]go_openai.ToolCall
}

func newToolCallMerger() *toolCallMerger {
	return &toolCallMerger{calls: map[int]go_openai.ToolCall{}}
}

func (m *toolCallMerger) add(deltas []go_openai.ToolCall) {
	for _, call := range deltas {
		index := 0
		if call.Index != nil {
			index = *call.Index
		}
		if existing, found := m.calls[index]; found {
			existing.Function.Name += call.Function.Name
			existing.Function.Arguments += call.Function.Arguments
			if call.ID != "" {
				existing.ID = call.ID
			}
			m.calls[index] = existing
		} else {
			m.calls[index] = call
		}
	}
}

func (m *toolCallMerger) merged() []go_openai.ToolCall {
	indexes := make([]int, 0, len(m.calls))
	for i := range m.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	out := make([]go_openai.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, m.calls[i])
	}
	return out
}

// buildMessages converts the model-facing history into provider messages.
func buildMessages(system string, history []Turn) []go_openai.ChatCompletionMessage {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		msgs = append(msgs, go_openai.ChatCompletionMessage{Role: RoleSystem, Content: system})
	}
	for _, turn := range history {
		switch turn.Role {
		case RoleTool:
			if turn.ToolResult == nil {
				continue
			}
			msgs = append(msgs, go_openai.ChatCompletionMessage{
				Role:       go_openai.ChatMessageRoleTool,
				Content:    turn.ToolResult.Content,
				Name:       turn.ToolResult.Name,
				ToolCallID: turn.ToolResult.ID,
			})
		case RoleAssistant:
			msg := go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleAssistant, Content: textOf(turn.Parts)}
			for _, tc := range turn.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, go_openai.ToolCall{
					ID:   tc.ID,
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			msgs = append(msgs, msg)
		default:
			msgs = append(msgs, userMessage(turn))
		}
	}
	return msgs
}

func textOf(ps []parts.ModelPart) string {
	out := ""
	for _, p := range ps {
		if p.Kind == parts.ModelText {
			out += p.Text
		}
	}
	return out
}

func userMessage(turn Turn) go_openai.ChatCompletionMessage {
	hasFile := false
	for _, p := range turn.Parts {
		if p.Kind == parts.ModelFile {
			hasFile = true
			break
		}
	}
	if !hasFile {
		return go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleUser, Content: textOf(turn.Parts)}
	}
	var mc []go_openai.ChatMessagePart
	for _, p := range turn.Parts {
		switch p.Kind {
		case parts.ModelText:
			mc = append(mc, go_openai.ChatMessagePart{Type: go_openai.ChatMessagePartTypeText, Text: p.Text})
		case parts.ModelFile:
			mc = append(mc, go_openai.ChatMessagePart{
				Type: go_openai.ChatMessagePartTypeImageURL,
				ImageURL: &go_openai.ChatMessageImageURL{
					URL:    p.URL,
					Detail: go_openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return go_openai.ChatCompletionMessage{Role: go_openai.ChatMessageRoleUser, MultiContent: mc}
}
