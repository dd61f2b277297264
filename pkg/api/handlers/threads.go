package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"chatloom/pkg/auth"
	"chatloom/pkg/logger"
	"chatloom/pkg/models"
	"chatloom/pkg/parts"
	"chatloom/pkg/store"
	"chatloom/pkg/utils"
)

// RegisterThreads registers thread read and delete endpoints.
func RegisterThreads(r *mux.Router) {
	r.HandleFunc("/threads/{id}", getThread).Methods(http.MethodGet)
	r.HandleFunc("/threads/{id}", deleteThread).Methods(http.MethodDelete)
}

type threadMessageView struct {
	ID              string             `json:"id"`
	Role            string             `json:"role"`
	Parts           []parts.ClientPart `json:"parts"`
	CreatedAt       int64              `json:"createdAt"`
	ParentMessageID *string            `json:"parentMessageId,omitempty"`
}

type threadView struct {
	ID                    string              `json:"id"`
	Title                 *string             `json:"title"`
	SelectedLeafMessageID *string             `json:"selectedLeafMessageId"`
	Messages              []threadMessageView `json:"messages"`
}

// ownedBy is the ownership rule every thread entry point applies: deleted
// threads, other workspaces and other owners are all out of reach.
func ownedBy(th *models.Thread, ident auth.Identity) bool {
	return !th.Deleted && th.WorkspaceID == ident.WorkspaceID && th.Owns(ident.UserID)
}

// loadOwnedThread fetches a thread and applies the ownership rule: a
// thread that exists but belongs to another user or workspace is
// indistinguishable from a missing one.
func loadOwnedThread(id string, ident auth.Identity) (*models.Thread, error) {
	th, err := store.GetThreadByID(id)
	if err != nil {
		return nil, err
	}
	if !ownedBy(th, ident) {
		return nil, store.ErrNotFound
	}
	return th, nil
}

func getThread(w http.ResponseWriter, r *http.Request) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "identity required")
		return
	}
	id := mux.Vars(r)["id"]

	th, err := loadOwnedThread(id, ident)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "thread not found")
			return
		}
		logger.Error("thread_load_failed", "thread", id, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	msgs, err := store.GetMessagesByThreadID(id)
	if err != nil {
		logger.Error("thread_messages_failed", "thread", id, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := threadView{
		ID:                    th.ID,
		Title:                 th.Title,
		SelectedLeafMessageID: th.SelectedLeafMessageID,
		Messages:              make([]threadMessageView, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, threadMessageView{
			ID:              m.ID,
			Role:            m.Role,
			Parts:           parts.ToClient(m.Parts),
			CreatedAt:       m.CreatedTS,
			ParentMessageID: m.ParentID,
		})
	}
	utils.JSONWrite(w, http.StatusOK, out)
}

func deleteThread(w http.ResponseWriter, r *http.Request) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "identity required")
		return
	}
	id := mux.Vars(r)["id"]

	if _, err := loadOwnedThread(id, ident); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "thread not found")
			return
		}
		logger.Error("thread_load_failed", "thread", id, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := store.SoftDeleteThread(id); err != nil {
		logger.Error("thread_delete_failed", "thread", id, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}
