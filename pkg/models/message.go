package models

import "encoding/json"

// Role of a message in the conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID     string `json:"id"`
	Thread string `json:"thread"`
	Role   string `json:"role"`
	// ParentID forms the message tree; nil for a root message.
	ParentID *string `json:"parent_id,omitempty"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts"`
	// Parts holds the persisted content parts in order.
	Parts []Part `json:"parts,omitempty"`
}

// Part is a persisted content part. Content layout depends on Type.
type Part struct {
	Type string `json:"type"`
	// OriginalType is set when a part was persisted under a different
	// type than it arrived with (reasoning collapsed to text, etc).
	OriginalType string          `json:"original_type,omitempty"`
	Content      json.RawMessage `json:"content,omitempty"`
}

// Vote records a per-message up/down vote. Upserts keep CreatedTS from
// the first write and refresh UpdatedTS.
type Vote struct {
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
	UserID    string `json:"user_id,omitempty"`
	IsUpvote  bool   `json:"is_upvote"`
	CreatedTS int64  `json:"created_ts"`
	UpdatedTS int64  `json:"updated_ts"`
}
