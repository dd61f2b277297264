package models

// Alert states as stored in the workspace catalog.
const (
	AlertStateOpen         = "open"
	AlertStateAcknowledged = "acknowledged"
	AlertStateResolved     = "resolved"
)

// Repo is a monitored repository registered in a workspace.
type Repo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	// CreatedTS (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
}

// Alert is a monitoring alert attached to a repo in a workspace.
type Alert struct {
	ID    string `json:"id"`
	Repo  string `json:"repo"`
	Title string `json:"title"`
	// State is one of open, acknowledged, resolved.
	State      string `json:"state"`
	AssigneeID string `json:"assignee_id,omitempty"`
	// CreatedTS (ns)
	CreatedTS int64 `json:"created_ts"`
}
