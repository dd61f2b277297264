package chat

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatloom/pkg/llm"
	"chatloom/pkg/logger"
	"chatloom/pkg/metrics"
	"chatloom/pkg/models"
	"chatloom/pkg/parts"
	"chatloom/pkg/store"
	"chatloom/pkg/tools"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

type captureSink struct {
	mu     sync.Mutex
	events []llm.Event
}

func (c *captureSink) Publish(ev llm.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) byType(t llm.EventType) []llm.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []llm.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (c *captureSink) last() llm.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return llm.Event{}
	}
	return c.events[len(c.events)-1]
}

func openStore(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

func textReq(threadID, msgID, text string) TurnRequest {
	return TurnRequest{
		ThreadID: threadID,
		Message: &IncomingMessage{
			ID:    msgID,
			Role:  "user",
			Parts: []parts.Incoming{{Type: parts.TypeText, Text: text}},
		},
	}
}

func TestRunTurnHappyPath(t *testing.T) {
	openStore(t)
	engine := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{
		{TextChunks: []string{"Hel", "lo there"}},
	}}
	svc := &Service{Engine: engine}
	sink := &captureSink{}
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	err := svc.RunTurn(context.Background(), sink, tc, textReq("T1", "M1", "Hello"))
	require.NoError(t, err)

	// stream contract: start, at least one text increment, a terminal event
	require.NotEmpty(t, sink.byType(llm.EventTypeStart))
	require.Len(t, sink.byType(llm.EventTypeTextDelta), 2)
	finish := sink.last()
	require.Equal(t, llm.EventTypeFinish, finish.Type)
	assert.Equal(t, "stop", finish.FinishReason)
	assistantID := finish.MessageID
	require.NotEmpty(t, assistantID)

	// storage reconciliation
	th, err := store.GetThreadByID("T1")
	require.NoError(t, err)
	require.NotNil(t, th.SelectedLeafMessageID)
	assert.Equal(t, assistantID, *th.SelectedLeafMessageID)
	require.NotNil(t, th.Title)
	assert.Equal(t, "Hello", *th.Title)

	msgs, err := store.GetMessagesByThreadID("T1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "M1", msgs[0].ID)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Nil(t, msgs[0].ParentID)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	require.NotNil(t, msgs[1].ParentID)
	assert.Equal(t, "M1", *msgs[1].ParentID)

	text, ok := parts.FirstText(msgs[1].Parts)
	require.True(t, ok)
	assert.Equal(t, "Hello there", text)
}

func TestTitleInferredOnceAndTruncated(t *testing.T) {
	openStore(t)
	long := strings.Repeat("a", 80)
	engine := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{
		{TextChunks: []string{"first"}},
		{TextChunks: []string{"second"}},
	}}
	svc := &Service{Engine: engine}
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	require.NoError(t, svc.RunTurn(context.Background(), &captureSink{}, tc, textReq("T1", "M1", long)))
	th, err := store.GetThreadByID("T1")
	require.NoError(t, err)
	require.NotNil(t, th.Title)
	first := *th.Title
	assert.Equal(t, 61, len([]rune(first)))
	assert.True(t, strings.HasSuffix(first, "…"))

	require.NoError(t, svc.RunTurn(context.Background(), &captureSink{}, tc, textReq("T1", "M2", "a different question")))
	th, err = store.GetThreadByID("T1")
	require.NoError(t, err)
	assert.Equal(t, first, *th.Title)
}

func TestEphemeralPartsNeverPersisted(t *testing.T) {
	openStore(t)
	engine := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{{TextChunks: []string{"ok"}}}}
	svc := &Service{Engine: engine}
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	req := TurnRequest{
		ThreadID: "T1",
		Message: &IncomingMessage{
			ID:   "M1",
			Role: "user",
			Parts: []parts.Incoming{
				{Type: "data-progress", Text: "uploading"},
				{Type: parts.TypeText, Text: "real content"},
			},
		},
	}
	require.NoError(t, svc.RunTurn(context.Background(), &captureSink{}, tc, req))

	msgs, err := store.GetMessagesByThreadID("T1")
	require.NoError(t, err)
	require.Len(t, msgs[0].Parts, 1)
	assert.Equal(t, parts.TypeText, msgs[0].Parts[0].Type)
}

func TestToolLoop(t *testing.T) {
	openStore(t)
	require.NoError(t, store.SaveRepo("ws1", models.Repo{Name: "billing", URL: "https://git.example/billing"}))

	engine := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "workspace_overview", Arguments: json.RawMessage(`{}`)}}},
		{TextChunks: []string{"The workspace monitors billing."}},
	}}
	svc := &Service{Engine: engine}
	sink := &captureSink{}
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	require.NoError(t, svc.RunTurn(context.Background(), sink, tc, textReq("T1", "M1", "what do we monitor?")))

	outputs := sink.byType(llm.EventTypeToolOutputReady)
	require.Len(t, outputs, 1)
	assert.Equal(t, "c1", outputs[0].ToolCallID)
	assert.Contains(t, outputs[0].Output, "billing")

	// second inference saw the tool result in history
	require.Len(t, engine.Histories, 2)
	second := engine.Histories[1]
	require.GreaterOrEqual(t, len(second), 3)
	lastTurn := second[len(second)-1]
	assert.Equal(t, llm.RoleTool, lastTurn.Role)
	require.NotNil(t, lastTurn.ToolResult)
	assert.Equal(t, "c1", lastTurn.ToolResult.ID)

	// assistant message records the invocation alongside the text
	msgs, err := store.GetMessagesByThreadID("T1")
	require.NoError(t, err)
	assistant := msgs[len(msgs)-1]
	types := []string{}
	for _, p := range assistant.Parts {
		types = append(types, p.Type)
	}
	assert.Contains(t, types, "tool-invocation")
	assert.Contains(t, types, parts.TypeText)
}

func TestUnknownToolSoftError(t *testing.T) {
	openStore(t)
	engine := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "no_such_tool", Arguments: json.RawMessage(`{}`)}}},
		{TextChunks: []string{"sorry"}},
	}}
	svc := &Service{Engine: engine}
	sink := &captureSink{}
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	require.NoError(t, svc.RunTurn(context.Background(), sink, tc, textReq("T1", "M1", "hi")))
	require.Len(t, sink.byType(llm.EventTypeToolError), 1)
	finish := sink.last()
	assert.Equal(t, llm.EventTypeFinish, finish.Type)
}

func TestGeneratorErrorStreamStillTerminates(t *testing.T) {
	openStore(t)
	engine := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{
		{Err: errors.New("upstream exploded")},
	}}
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	// development mode shows the raw error
	sink := &captureSink{}
	svc := &Service{Engine: engine}
	require.NoError(t, svc.RunTurn(context.Background(), sink, tc, textReq("T1", "M1", "hi")))
	errs := sink.byType(llm.EventTypeError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].ErrorText, "upstream exploded")
	assert.Equal(t, llm.EventTypeFinish, sink.last().Type)

	// production mode redacts it
	engine2 := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{{Err: errors.New("secret detail")}}}
	sink2 := &captureSink{}
	svc2 := &Service{Engine: engine2, Production: true}
	require.NoError(t, svc2.RunTurn(context.Background(), sink2, tc, textReq("T2", "M2", "hi")))
	errs = sink2.byType(llm.EventTypeError)
	require.Len(t, errs, 1)
	assert.NotContains(t, errs[0].ErrorText, "secret detail")
}

func TestAbortStillPersistsPartialContent(t *testing.T) {
	openStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	engine := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "workspace_overview", Arguments: json.RawMessage(`{}`)}}},
		{TextChunks: []string{"never reached"}},
	}}
	// cancel as soon as the first tool result is in
	svc := &Service{Engine: &cancelAfterFirstStep{inner: engine, cancel: cancel}}
	sink := &captureSink{}
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	require.NoError(t, svc.RunTurn(ctx, sink, tc, textReq("T1", "M1", "hi")))

	// the partial turn (tool invocation, no final text) was persisted
	msgs, err := store.GetMessagesByThreadID("T1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, llm.EventTypeFinish, sink.last().Type)
}

// cancelAfterFirstStep cancels the turn context after the first inference
// step completes, simulating a client disconnect mid-turn.
type cancelAfterFirstStep struct {
	inner  llm.Engine
	cancel context.CancelFunc
	called bool
}

func (c *cancelAfterFirstStep) RunInference(ctx context.Context, system string, history []llm.Turn, toolMap map[string]tools.Tool) (*llm.StepResult, error) {
	if c.called {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c.called = true
	res, err := c.inner.RunInference(ctx, system, history, toolMap)
	c.cancel()
	return res, err
}

func TestTurnWithoutMessage(t *testing.T) {
	openStore(t)
	engine := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{{TextChunks: []string{"welcome back"}}}}
	svc := &Service{Engine: engine}
	sink := &captureSink{}
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	require.NoError(t, svc.RunTurn(context.Background(), sink, tc, TurnRequest{ThreadID: "T1"}))

	msgs, err := store.GetMessagesByThreadID("T1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Nil(t, msgs[0].ParentID)

	th, err := store.GetThreadByID("T1")
	require.NoError(t, err)
	assert.Nil(t, th.Title)
}

func TestErrorEventPrecedesFinalize(t *testing.T) {
	openStore(t)
	svc := &Service{Engine: &llm.ScriptedEngine{Steps: []llm.ScriptedStep{{Err: errors.New("provider down")}}}}
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	// capture the selected leaf at the moment the error event arrives
	var leafAtError *string
	sawError := false
	sink := llm.EventSinkFunc(func(ev llm.Event) error {
		if ev.Type == llm.EventTypeError && !sawError {
			sawError = true
			th, err := store.GetThreadByID("TE1")
			require.NoError(t, err)
			leafAtError = th.SelectedLeafMessageID
		}
		return nil
	})
	require.NoError(t, svc.RunTurn(context.Background(), sink, tc, textReq("TE1", "M1", "hi")))

	require.True(t, sawError)
	assert.Nil(t, leafAtError)

	th, err := store.GetThreadByID("TE1")
	require.NoError(t, err)
	assert.NotNil(t, th.SelectedLeafMessageID)
}

func TestTurnCountersRecorded(t *testing.T) {
	openStore(t)
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	started := testutil.ToFloat64(metrics.TurnsStarted)
	completed := testutil.ToFloat64(metrics.TurnsCompleted)
	errored := testutil.ToFloat64(metrics.TurnsErrored)
	finishes := testutil.ToFloat64(metrics.StreamEvents.WithLabelValues("finish"))
	toolOK := testutil.ToFloat64(metrics.ToolExecutions.WithLabelValues("workspace_overview", "ok"))

	svc := &Service{Engine: &llm.ScriptedEngine{Steps: []llm.ScriptedStep{
		{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "workspace_overview", Arguments: []byte(`{}`)}}},
		{TextChunks: []string{"all quiet"}},
	}}}
	require.NoError(t, svc.RunTurn(context.Background(), &captureSink{}, tc, textReq("TM1", "M1", "status?")))

	assert.Equal(t, started+1, testutil.ToFloat64(metrics.TurnsStarted))
	assert.Equal(t, completed+1, testutil.ToFloat64(metrics.TurnsCompleted))
	assert.Equal(t, errored, testutil.ToFloat64(metrics.TurnsErrored))
	assert.Equal(t, finishes+1, testutil.ToFloat64(metrics.StreamEvents.WithLabelValues("finish")))
	assert.Equal(t, toolOK+1, testutil.ToFloat64(metrics.ToolExecutions.WithLabelValues("workspace_overview", "ok")))

	failing := &Service{Engine: &llm.ScriptedEngine{Steps: []llm.ScriptedStep{{Err: errors.New("provider down")}}}}
	require.NoError(t, failing.RunTurn(context.Background(), &captureSink{}, tc, textReq("TM2", "M2", "hi")))
	assert.Equal(t, errored+1, testutil.ToFloat64(metrics.TurnsErrored))
}

func TestPersistFailuresCountedWhenStoreClosed(t *testing.T) {
	require.False(t, store.Ready())
	tc := tools.ToolContext{UserID: "u1", WorkspaceID: "ws1"}

	userFails := testutil.ToFloat64(metrics.PersistFailures.WithLabelValues("save_user_message"))
	assistantFails := testutil.ToFloat64(metrics.PersistFailures.WithLabelValues("save_assistant_message"))
	leafFails := testutil.ToFloat64(metrics.PersistFailures.WithLabelValues("update_selected_leaf"))

	svc := &Service{Engine: &llm.ScriptedEngine{Steps: []llm.ScriptedStep{{TextChunks: []string{"ok"}}}}}
	require.NoError(t, svc.RunTurn(context.Background(), &captureSink{}, tc, textReq("TP1", "M1", "hi")))

	assert.Equal(t, userFails+1, testutil.ToFloat64(metrics.PersistFailures.WithLabelValues("save_user_message")))
	assert.Equal(t, assistantFails+1, testutil.ToFloat64(metrics.PersistFailures.WithLabelValues("save_assistant_message")))
	assert.Equal(t, leafFails+1, testutil.ToFloat64(metrics.PersistFailures.WithLabelValues("update_selected_leaf")))
}
