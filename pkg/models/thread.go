package models

type Thread struct {
	ID string `json:"id"`
	// UserID is the opaque owning identity; nil means an anonymous thread.
	UserID      *string `json:"user_id,omitempty"`
	WorkspaceID string  `json:"workspace_id"`
	// Title is inferred once from the first user text part; nil until then.
	Title *string `json:"title,omitempty"`
	// SelectedLeafMessageID marks the active branch tip of the message tree.
	SelectedLeafMessageID *string `json:"selected_leaf_message_id,omitempty"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
	// Updated timestamp (ns) - last time metadata or thread activity changed
	UpdatedTS int64 `json:"updated_ts,omitempty"`
	// Deleted marks a thread as soft-deleted; DeletedTS records deletion time (ns)
	Deleted   bool  `json:"deleted,omitempty"`
	DeletedTS int64 `json:"deleted_ts,omitempty"`
}

// Owns reports whether the identity userID may read or write the thread.
// Anonymous threads (no owner) are open to any caller in the workspace.
func (t *Thread) Owns(userID string) bool {
	if t.UserID == nil {
		return true
	}
	return *t.UserID == userID
}
