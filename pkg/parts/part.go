package parts

import "encoding/json"

// EphemeralPrefix marks part types that live only on the stream and are
// never persisted.
const EphemeralPrefix = "data-"

// Recognized structured part types.
const (
	TypeText      = "text"
	TypeFile      = "file"
	TypeReasoning = "reasoning"
)

// Fallback client part types for malformed or legacy stored content.
const (
	TypeDataUnknown = "data-unknown"
	TypeDataFile    = "data-file"
)

// AllowedMediaTypes is the file-part media type allow-list.
var AllowedMediaTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
}

// MediaTypeAllowed reports whether mt is an accepted file media type.
func MediaTypeAllowed(mt string) bool {
	_, ok := AllowedMediaTypes[mt]
	return ok
}

// Incoming is a wire part as received from a client or accumulated from the
// generator. Raw preserves the original JSON so unrecognized types survive
// persistence losslessly.
type Incoming struct {
	Type             string          `json:"type"`
	Text             string          `json:"text,omitempty"`
	URL              string          `json:"url,omitempty"`
	MediaType        string          `json:"mediaType,omitempty"`
	Filename         string          `json:"filename,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (p *Incoming) UnmarshalJSON(b []byte) error {
	type alias Incoming
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*p = Incoming(a)
	p.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (p Incoming) MarshalJSON() ([]byte, error) {
	if len(p.Raw) > 0 {
		return p.Raw, nil
	}
	type alias Incoming
	return json.Marshal(alias(p))
}

// Ephemeral reports whether the part must never be persisted.
func (p Incoming) Ephemeral() bool {
	return len(p.Type) >= len(EphemeralPrefix) && p.Type[:len(EphemeralPrefix)] == EphemeralPrefix
}

// TextContent is the canonical persisted envelope for text parts.
type TextContent struct {
	Text string `json:"text"`
}

// FileContent is the canonical persisted envelope for file parts.
type FileContent struct {
	URL              string          `json:"url"`
	MediaType        string          `json:"mediaType"`
	Filename         string          `json:"filename,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

// Model part kinds, the minimal shape fed to the generator.
const (
	ModelText = "text"
	ModelFile = "file"
)

// ModelPart is the two-variant projection consumed by the generator.
type ModelPart struct {
	Kind      string
	Text      string
	URL       string
	MediaType string
	Filename  string
}

// ClientPart is the response-facing envelope; Content is always a
// well-formed JSON object.
type ClientPart struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}
