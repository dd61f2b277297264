package validation

import (
	"fmt"
	"net/url"
	"strings"

	"chatloom/pkg/chat"
	"chatloom/pkg/parts"
)

// Limits are the request-shape bounds applied before a turn starts.
type Limits struct {
	MaxTextBytes   int
	MaxFilenameLen int
}

// DefaultLimits mirror the shipped config defaults.
var DefaultLimits = Limits{
	MaxTextBytes:   32 * 1024,
	MaxFilenameLen: 255,
}

// Reason is one structured validation failure.
type Reason struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error aggregates every reason a request was rejected.
type Error struct {
	Reasons []Reason `json:"reasons"`
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		msgs = append(msgs, r.Field+": "+r.Message)
	}
	return strings.Join(msgs, "; ")
}

// ValidateTurnRequest checks the inbound request shape. An empty parts
// list is accepted; each present part must be a well-formed text or file
// part, or an ephemeral data part. Returns *Error with structured reasons
// on rejection, nil otherwise.
func ValidateTurnRequest(req chat.TurnRequest, limits Limits) error {
	var reasons []Reason
	if strings.TrimSpace(req.ThreadID) == "" {
		reasons = append(reasons, Reason{Field: "threadId", Message: "required"})
	} else if !validID(req.ThreadID) {
		reasons = append(reasons, Reason{Field: "threadId", Message: idRule})
	}
	if req.PreviousMessageID != nil && !validID(*req.PreviousMessageID) {
		reasons = append(reasons, Reason{Field: "previousMessageId", Message: idRule})
	}
	if req.Message != nil {
		if req.Message.ID != "" && !validID(req.Message.ID) {
			reasons = append(reasons, Reason{Field: "message.id", Message: idRule})
		}
		if req.Message.Role != "" && req.Message.Role != "user" {
			reasons = append(reasons, Reason{Field: "message.role", Message: "must be user"})
		}
		for i, p := range req.Message.Parts {
			reasons = append(reasons, validatePart(i, p, limits)...)
		}
	}
	if len(reasons) > 0 {
		return &Error{Reasons: reasons}
	}
	return nil
}

const maxIDLen = 128

const idRule = "must be 1-128 characters from [A-Za-z0-9._-]"

// validID restricts caller-supplied ids to an alphabet that cannot collide
// with the store's key layout. The key delimiter is ':'; an id carrying one
// could address rows it does not own.
func validID(id string) bool {
	if id == "" || len(id) > maxIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func validatePart(i int, p parts.Incoming, limits Limits) []Reason {
	field := func(name string) string {
		return fmt.Sprintf("message.parts[%d].%s", i, name)
	}
	if p.Ephemeral() {
		// stream-only signals pass through untouched; the codec drops
		// them before persistence
		return nil
	}
	switch p.Type {
	case parts.TypeText:
		if p.Text == "" {
			return []Reason{{Field: field("text"), Message: "required and non-empty"}}
		}
		if limits.MaxTextBytes > 0 && len(p.Text) > limits.MaxTextBytes {
			return []Reason{{Field: field("text"), Message: fmt.Sprintf("exceeds %d bytes", limits.MaxTextBytes)}}
		}
	case parts.TypeFile:
		var out []Reason
		if u, err := url.ParseRequestURI(p.URL); err != nil || u.Host == "" {
			out = append(out, Reason{Field: field("url"), Message: "must be an absolute URL"})
		}
		if !parts.MediaTypeAllowed(p.MediaType) {
			out = append(out, Reason{Field: field("mediaType"), Message: "unsupported media type"})
		}
		if p.Filename == "" {
			out = append(out, Reason{Field: field("filename"), Message: "required"})
		} else if limits.MaxFilenameLen > 0 && len(p.Filename) > limits.MaxFilenameLen {
			out = append(out, Reason{Field: field("filename"), Message: fmt.Sprintf("exceeds %d characters", limits.MaxFilenameLen)})
		}
		return out
	default:
		return []Reason{{Field: field("type"), Message: "unsupported part type"}}
	}
	return nil
}
