package tools

// ToolContext is the per-request identity injected into every tool. It is
// owned by exactly one streaming turn and never shared across requests.
type ToolContext struct {
	UserID      string
	UserName    string
	WorkspaceID string
}
