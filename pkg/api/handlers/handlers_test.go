package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatloom/pkg/auth"
	"chatloom/pkg/chat"
	"chatloom/pkg/llm"
	"chatloom/pkg/logger"
	"chatloom/pkg/models"
	"chatloom/pkg/store"
	"chatloom/pkg/validation"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	os.Exit(m.Run())
}

func openTestStore(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

func newTestRouter(svc *chat.Service) *mux.Router {
	r := mux.NewRouter()
	RegisterChat(r, ChatDeps{Service: svc, Limits: validation.DefaultLimits})
	RegisterThreads(r)
	RegisterVotes(r)
	RegisterWorkspace(r)
	return r
}

// do serves req through h with the given identity bound to the request
// context, the way the signing middleware does in production.
func do(h http.Handler, req *http.Request, ident auth.Identity) *httptest.ResponseRecorder {
	req = req.WithContext(auth.WithIdentity(req.Context(), ident))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedThread(t *testing.T, id, userID, workspaceID string) {
	t.Helper()
	require.NoError(t, store.CreateThread(models.Thread{ID: id, UserID: &userID, WorkspaceID: workspaceID}))
}

func seedMessage(t *testing.T, threadID, msgID, role, text string) {
	t.Helper()
	require.NoError(t, store.SaveMessage(models.Message{
		ID:        msgID,
		Thread:    threadID,
		Role:      role,
		CreatedTS: time.Now().UTC().UnixNano(),
		Parts: []models.Part{{
			Type:    "text",
			Content: json.RawMessage(fmt.Sprintf(`{"text":%q}`, text)),
		}},
	}))
}

// sseEvents parses the data frames of an SSE body, dropping the terminal
// [DONE] marker.
func sseEvents(t *testing.T, body string) []llm.Event {
	t.Helper()
	var out []llm.Event
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var ev llm.Event
		require.NoError(t, json.Unmarshal([]byte(payload), &ev))
		out = append(out, ev)
	}
	return out
}

func TestChatStreamsEventsAndTerminates(t *testing.T) {
	openTestStore(t)
	engine := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{{TextChunks: []string{"Hi ", "there"}}}}
	r := newTestRouter(&chat.Service{Engine: engine})

	body := `{"threadId":"t1","message":{"id":"m1","role":"user","parts":[{"type":"text","text":"hello"}]}}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := do(r, req, auth.Identity{UserID: "u1", WorkspaceID: "ws1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n"))

	evs := sseEvents(t, rec.Body.String())
	require.NotEmpty(t, evs)
	assert.Equal(t, llm.EventTypeStart, evs[0].Type)
	assert.Equal(t, llm.EventTypeFinish, evs[len(evs)-1].Type)

	var deltas []string
	for _, ev := range evs {
		if ev.Type == llm.EventTypeTextDelta {
			deltas = append(deltas, ev.Delta)
		}
	}
	assert.Equal(t, []string{"Hi ", "there"}, deltas)

	// the turn persisted both sides of the exchange
	msgs, err := store.GetMessagesByThreadID("t1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestChatRejectsInvalidParts(t *testing.T) {
	openTestStore(t)
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})

	body := `{"threadId":"t1","message":{"id":"m1","role":"user","parts":[{"type":"text","text":""}]}}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := do(r, req, auth.Identity{UserID: "u1", WorkspaceID: "ws1"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		Error   string              `json:"error"`
		Reasons []validation.Reason `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "validation failed", resp.Error)
	assert.NotEmpty(t, resp.Reasons)
}

func TestChatRejectsForgedThreadID(t *testing.T) {
	openTestStore(t)
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})
	seedThread(t, "t1", "u1", "ws1")

	// a threadId shaped like a message key would land inside t1's range
	body := `{"threadId":"t1:msg:00000000000000000001-000000","message":{"id":"m1","role":"user","parts":[{"type":"text","text":"hi"}]}}`
	rec := do(r, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)), auth.Identity{UserID: "u1", WorkspaceID: "ws1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	msgs, err := store.GetMessagesByThreadID("t1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestChatForeignThreadAnswersLikeMissing(t *testing.T) {
	openTestStore(t)
	engine := &llm.ScriptedEngine{Steps: []llm.ScriptedStep{{TextChunks: []string{"leaked"}}}}
	r := newTestRouter(&chat.Service{Engine: engine})
	seedThread(t, "ta", "ua", "ws1")
	seedMessage(t, "ta", "ma", "user", "private question")

	body := `{"threadId":"ta","message":{"id":"mb","role":"user","parts":[{"type":"text","text":"mine now"}]}}`
	foreignUser := do(r, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)), auth.Identity{UserID: "ub", WorkspaceID: "ws1"})
	otherWS := do(r, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)), auth.Identity{UserID: "ua", WorkspaceID: "ws2"})
	reference := do(r, httptest.NewRequest(http.MethodGet, "/threads/ta", nil), auth.Identity{UserID: "ub", WorkspaceID: "ws1"})

	require.Equal(t, http.StatusNotFound, foreignUser.Code)
	assert.Equal(t, reference.Body.String(), foreignUser.Body.String())
	require.Equal(t, http.StatusNotFound, otherWS.Code)
	assert.Equal(t, reference.Body.String(), otherWS.Body.String())
	assert.Empty(t, engine.Histories)

	// the owner's thread gained nothing
	msgs, err := store.GetMessagesByThreadID("ta")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ma", msgs[0].ID)

	// the owner can still run a turn on it
	owner := do(r, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)), auth.Identity{UserID: "ua", WorkspaceID: "ws1"})
	require.Equal(t, http.StatusOK, owner.Code)
}

func TestChatRequiresIdentity(t *testing.T) {
	openTestStore(t)
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"threadId":"t1"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestThreadDetail(t *testing.T) {
	openTestStore(t)
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})
	seedThread(t, "t1", "u1", "ws1")
	seedMessage(t, "t1", "m1", models.RoleUser, "hello")
	seedMessage(t, "t1", "m2", models.RoleAssistant, "hi back")
	require.NoError(t, store.UpdateSelectedLeaf("t1", "m2"))

	rec := do(r, httptest.NewRequest(http.MethodGet, "/threads/t1", nil), auth.Identity{UserID: "u1", WorkspaceID: "ws1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp threadView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.ID)
	require.NotNil(t, resp.SelectedLeafMessageID)
	assert.Equal(t, "m2", *resp.SelectedLeafMessageID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "m1", resp.Messages[0].ID)
	require.Len(t, resp.Messages[0].Parts, 1)
	assert.Equal(t, "text", resp.Messages[0].Parts[0].Type)
}

func TestThreadOwnershipIndistinguishableFromMissing(t *testing.T) {
	openTestStore(t)
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})
	seedThread(t, "t1", "u1", "ws1")

	foreign := do(r, httptest.NewRequest(http.MethodGet, "/threads/t1", nil), auth.Identity{UserID: "u2", WorkspaceID: "ws1"})
	otherWS := do(r, httptest.NewRequest(http.MethodGet, "/threads/t1", nil), auth.Identity{UserID: "u1", WorkspaceID: "ws2"})
	missing := do(r, httptest.NewRequest(http.MethodGet, "/threads/no-such", nil), auth.Identity{UserID: "u1", WorkspaceID: "ws1"})

	require.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, missing.Code, foreign.Code)
	assert.Equal(t, missing.Body.String(), foreign.Body.String())
	assert.Equal(t, missing.Code, otherWS.Code)
	assert.Equal(t, missing.Body.String(), otherWS.Body.String())
}

func TestThreadDelete(t *testing.T) {
	openTestStore(t)
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})
	seedThread(t, "t1", "u1", "ws1")
	ident := auth.Identity{UserID: "u1", WorkspaceID: "ws1"}

	rec := do(r, httptest.NewRequest(http.MethodDelete, "/threads/t1", nil), ident)
	require.Equal(t, http.StatusOK, rec.Code)

	// soft-deleted threads read as missing
	rec = do(r, httptest.NewRequest(http.MethodGet, "/threads/t1", nil), ident)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVoteUpsert(t *testing.T) {
	openTestStore(t)
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})
	seedThread(t, "t1", "u1", "ws1")
	seedMessage(t, "t1", "m1", models.RoleAssistant, "answer")
	ident := auth.Identity{UserID: "u1", WorkspaceID: "ws1"}

	rec := do(r, httptest.NewRequest(http.MethodPost, "/votes", strings.NewReader(`{"messageId":"m1","isUpvoted":true}`)), ident)
	require.Equal(t, http.StatusOK, rec.Code)
	var first voteView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, "m1", first.MessageID)
	assert.Equal(t, "t1", first.ThreadID)
	assert.True(t, first.IsUpvoted)
	assert.NotZero(t, first.CreatedAt)

	rec = do(r, httptest.NewRequest(http.MethodPost, "/votes", strings.NewReader(`{"messageId":"m1","isUpvoted":false}`)), ident)
	require.Equal(t, http.StatusOK, rec.Code)
	var second voteView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.False(t, second.IsUpvoted)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.GreaterOrEqual(t, second.UpdatedAt, first.UpdatedAt)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/votes?messageId=m1", nil), ident)
	require.Equal(t, http.StatusOK, rec.Code)
	var got voteView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.IsUpvoted)
}

func TestVoteForeignMessageNotFound(t *testing.T) {
	openTestStore(t)
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})
	seedThread(t, "t1", "u1", "ws1")
	seedMessage(t, "t1", "m1", models.RoleAssistant, "answer")

	stranger := auth.Identity{UserID: "u2", WorkspaceID: "ws1"}
	rec := do(r, httptest.NewRequest(http.MethodPost, "/votes", strings.NewReader(`{"messageId":"m1","isUpvoted":true}`)), stranger)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/votes?messageId=m1", nil), stranger)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkspaceCatalogRequiresServiceRole(t *testing.T) {
	openTestStore(t)
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})
	ident := auth.Identity{UserID: "svc", WorkspaceID: "ws1"}

	repo := `{"name":"api-gateway","url":"https://git.example.com/api-gateway"}`
	req := httptest.NewRequest(http.MethodPost, "/workspaces/ws1/repos", strings.NewReader(repo))
	req.Header.Set("X-Role-Name", "frontend")
	rec := do(r, req, ident)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/workspaces/ws1/repos", strings.NewReader(repo))
	req.Header.Set("X-Role-Name", "backend")
	rec = do(r, req, ident)
	require.Equal(t, http.StatusCreated, rec.Code)

	alert := `{"repo":"api-gateway","title":"p99 latency breach"}`
	req = httptest.NewRequest(http.MethodPost, "/workspaces/ws1/alerts", strings.NewReader(alert))
	req.Header.Set("X-Role-Name", "backend")
	rec = do(r, req, ident)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.AlertStateOpen, created.State)

	req = httptest.NewRequest(http.MethodGet, "/workspaces/ws1/alerts", nil)
	req.Header.Set("X-Role-Name", "admin")
	rec = do(r, req, ident)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Alerts []models.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Alerts, 1)
}

func TestWorkspaceAlertRejectsUnknownState(t *testing.T) {
	openTestStore(t)
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})

	req := httptest.NewRequest(http.MethodPost, "/workspaces/ws1/alerts",
		bytes.NewReader([]byte(`{"repo":"api-gateway","title":"x","state":"snoozed"}`)))
	req.Header.Set("X-Role-Name", "backend")
	rec := do(r, req, auth.Identity{UserID: "svc", WorkspaceID: "ws1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEndpointsReport503WhenStoreClosed(t *testing.T) {
	_ = store.Close()
	r := newTestRouter(&chat.Service{Engine: &llm.ScriptedEngine{}})
	ident := auth.Identity{UserID: "u1", WorkspaceID: "ws1"}

	rec := do(r, httptest.NewRequest(http.MethodGet, "/threads/t1", nil), ident)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(r, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"threadId":"t1"}`)), ident)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(r, httptest.NewRequest(http.MethodGet, "/votes?messageId=m1", nil), ident)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
