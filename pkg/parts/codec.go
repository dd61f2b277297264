package parts

import (
	"encoding/json"

	"chatloom/pkg/models"
)

// ToPersisted converts incoming wire parts into their stored form. Ephemeral
// parts are dropped. Text and file parts are re-emitted as canonical
// envelopes carrying only validated fields; everything else is stored
// verbatim with OriginalType recording the producer's tag. Total on any
// input; idempotent over its own output re-read as Incoming.
func ToPersisted(in []Incoming) []models.Part {
	out := make([]models.Part, 0, len(in))
	for _, p := range in {
		if p.Ephemeral() {
			continue
		}
		switch p.Type {
		case TypeText:
			b, err := json.Marshal(TextContent{Text: p.Text})
			if err != nil {
				continue
			}
			out = append(out, models.Part{Type: TypeText, Content: b})
		case TypeFile:
			b, err := json.Marshal(FileContent{
				URL:              p.URL,
				MediaType:        p.MediaType,
				Filename:         p.Filename,
				ProviderMetadata: p.ProviderMetadata,
			})
			if err != nil {
				continue
			}
			out = append(out, models.Part{Type: TypeFile, Content: b})
		default:
			content := p.Raw
			if len(content) == 0 {
				b, err := json.Marshal(p)
				if err != nil {
					continue
				}
				content = b
			}
			out = append(out, models.Part{
				Type:         p.Type,
				OriginalType: p.Type,
				Content:      content,
			})
		}
	}
	return out
}

// ToModel projects stored parts into the minimal shape the generator
// consumes. Only text and valid file parts survive; anything that fails
// validation is dropped silently rather than failing the message.
func ToModel(in []models.Part) []ModelPart {
	out := make([]ModelPart, 0, len(in))
	for _, p := range in {
		switch p.Type {
		case TypeText:
			var tc TextContent
			if err := json.Unmarshal(p.Content, &tc); err != nil {
				continue
			}
			out = append(out, ModelPart{Kind: ModelText, Text: tc.Text})
		case TypeFile:
			var fc FileContent
			if err := json.Unmarshal(p.Content, &fc); err != nil {
				continue
			}
			if fc.URL == "" || !MediaTypeAllowed(fc.MediaType) {
				continue
			}
			out = append(out, ModelPart{
				Kind:      ModelFile,
				URL:       fc.URL,
				MediaType: fc.MediaType,
				Filename:  fc.Filename,
			})
		}
	}
	return out
}

// ToClient projects stored parts into response envelopes. Content that is a
// JSON object with a string "type" field keeps that tag; file parts with a
// disallowed media type degrade to data-file; null or non-object content
// wraps under data-unknown so clients always receive a typed envelope.
func ToClient(in []models.Part) []ClientPart {
	out := make([]ClientPart, 0, len(in))
	for _, p := range in {
		out = append(out, toClientOne(p))
	}
	return out
}

func toClientOne(p models.Part) ClientPart {
	if p.Type == TypeFile {
		var fc FileContent
		if err := json.Unmarshal(p.Content, &fc); err == nil && fc.URL != "" && MediaTypeAllowed(fc.MediaType) {
			return ClientPart{Type: TypeFile, Content: p.Content}
		}
		return ClientPart{Type: TypeDataFile, Content: wrapUnknown(p.Content)}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(p.Content, &obj); err != nil || obj == nil {
		return ClientPart{Type: TypeDataUnknown, Content: wrapUnknown(p.Content)}
	}

	typ := p.Type
	if raw, ok := obj["type"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			typ = s
		}
	}
	if typ == "" {
		typ = TypeDataUnknown
	}
	return ClientPart{Type: typ, Content: p.Content}
}

// wrapUnknown embeds arbitrary stored bytes in a valid object envelope.
func wrapUnknown(content json.RawMessage) json.RawMessage {
	if len(content) == 0 {
		return json.RawMessage(`{"value":null}`)
	}
	if !json.Valid(content) {
		b, _ := json.Marshal(map[string]string{"value": string(content)})
		return b
	}
	b, err := json.Marshal(map[string]json.RawMessage{"value": content})
	if err != nil {
		return json.RawMessage(`{"value":null}`)
	}
	return b
}

// FirstText returns the first text part's content, if any.
func FirstText(in []models.Part) (string, bool) {
	for _, p := range in {
		if p.Type != TypeText {
			continue
		}
		var tc TextContent
		if err := json.Unmarshal(p.Content, &tc); err != nil {
			continue
		}
		return tc.Text, true
	}
	return "", false
}
