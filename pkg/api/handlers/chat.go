package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"chatloom/pkg/auth"
	"chatloom/pkg/chat"
	"chatloom/pkg/llm"
	"chatloom/pkg/logger"
	"chatloom/pkg/store"
	"chatloom/pkg/tools"
	"chatloom/pkg/utils"
	"chatloom/pkg/validation"
)

// ChatDeps carries the turn service and request limits into the handler.
type ChatDeps struct {
	Service *chat.Service
	Limits  validation.Limits
}

// RegisterChat registers the streaming chat endpoint.
func RegisterChat(r *mux.Router, deps ChatDeps) {
	r.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		postChat(w, r, deps)
	}).Methods(http.MethodPost)
}

// postChat runs one turn and mirrors the generator's event stream to the
// client as server-sent events. Once streaming starts the response is
// always a syntactically valid, terminated stream.
func postChat(w http.ResponseWriter, r *http.Request, deps ChatDeps) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "identity required")
		return
	}

	var req chat.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := validation.ValidateTurnRequest(req, deps.Limits); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "validation failed", "reasons": verr.Reasons})
			return
		}
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// An existing thread answers to its owner only; a foreign thread is
	// indistinguishable from a missing one. Unknown ids pass through and
	// start a new thread for this identity.
	if th, err := store.GetThreadByID(req.ThreadID); err == nil {
		if !ownedBy(th, id) {
			utils.JSONError(w, http.StatusNotFound, "thread not found")
			return
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.Error("chat_thread_lookup_failed", "thread", req.ThreadID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "thread lookup failed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.JSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sink := llm.EventSinkFunc(func(ev llm.Event) error {
		b, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	tc := tools.ToolContext{UserID: id.UserID, WorkspaceID: id.WorkspaceID}
	if err := deps.Service.RunTurn(r.Context(), sink, tc, req); err != nil {
		logger.Error("chat_turn_failed", "thread", req.ThreadID, "error", err.Error())
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
