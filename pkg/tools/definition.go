package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// Tool is one read-only query exposed to the generator: an input contract,
// an executor, and a renderer that turns the structured result into
// transcript-ready text.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Execute     func(ctx context.Context, input json.RawMessage) (any, error)
	// ToModelOutput renders an Execute result for the model transcript.
	ToModelOutput func(result any) string
}

// schemaFor reflects a JSON schema from an input struct type.
func schemaFor(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	return reflector.Reflect(v)
}

// decodeInput unmarshals tool input into the given struct. Empty input is
// valid and leaves defaults in place.
func decodeInput(input json.RawMessage, out any) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, out); err != nil {
		return errors.Wrap(err, "invalid tool input")
	}
	return nil
}
