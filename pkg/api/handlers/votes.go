package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"chatloom/pkg/auth"
	"chatloom/pkg/logger"
	"chatloom/pkg/models"
	"chatloom/pkg/store"
	"chatloom/pkg/utils"
)

// RegisterVotes registers vote upsert and lookup endpoints.
func RegisterVotes(r *mux.Router) {
	r.HandleFunc("/votes", postVote).Methods(http.MethodPost)
	r.HandleFunc("/votes", getVote).Methods(http.MethodGet)
}

type voteRequest struct {
	MessageID string `json:"messageId"`
	IsUpvoted bool   `json:"isUpvoted"`
}

type voteView struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
	IsUpvoted bool   `json:"isUpvoted"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// resolveVotedMessage resolves a message id to its message and owning
// thread, applying the same not-found answer for missing and foreign rows.
func resolveVotedMessage(messageID string, ident auth.Identity) (*models.Message, error) {
	msg, err := store.GetMessageByID(messageID)
	if err != nil {
		return nil, err
	}
	if _, err := loadOwnedThread(msg.Thread, ident); err != nil {
		return nil, err
	}
	return msg, nil
}

func postVote(w http.ResponseWriter, r *http.Request) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "identity required")
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MessageID == "" {
		utils.JSONError(w, http.StatusBadRequest, "messageId required")
		return
	}

	msg, err := resolveVotedMessage(req.MessageID, ident)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Error("vote_resolve_failed", "message", req.MessageID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	stored, err := store.SaveVote(models.Vote{
		MessageID: msg.ID,
		ThreadID:  msg.Thread,
		UserID:    ident.UserID,
		IsUpvote:  req.IsUpvoted,
	})
	if err != nil {
		logger.Error("vote_save_failed", "message", req.MessageID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.JSONWrite(w, http.StatusOK, voteView{
		MessageID: stored.MessageID,
		ThreadID:  stored.ThreadID,
		IsUpvoted: stored.IsUpvote,
		CreatedAt: stored.CreatedTS,
		UpdatedAt: stored.UpdatedTS,
	})
}

func getVote(w http.ResponseWriter, r *http.Request) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "identity required")
		return
	}
	messageID := r.URL.Query().Get("messageId")
	if messageID == "" {
		utils.JSONError(w, http.StatusBadRequest, "messageId required")
		return
	}

	if _, err := resolveVotedMessage(messageID, ident); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Error("vote_resolve_failed", "message", messageID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	v, err := store.GetVote(messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.JSONError(w, http.StatusNotFound, "no vote for message")
			return
		}
		logger.Error("vote_load_failed", "message", messageID, "error", err.Error())
		utils.JSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	utils.JSONWrite(w, http.StatusOK, voteView{
		MessageID: v.MessageID,
		ThreadID:  v.ThreadID,
		IsUpvoted: v.IsUpvote,
		CreatedAt: v.CreatedTS,
		UpdatedAt: v.UpdatedTS,
	})
}
