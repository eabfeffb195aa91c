// Package builtin provides the reference tool set: workspace file access, a
// shell runner, a scratchpad, and the control tools the agent loop
// recognizes. Heavy tool backends (browsers, sandboxes) live outside this
// repository and plug in through the same registry.
package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// mustSchema reflects a JSON schema from an input struct. Builtin input
// types are static, so reflection failures are programming errors.
func mustSchema(v any) json.RawMessage {
	r := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	s := r.Reflect(v)
	s.Version = ""
	b, err := json.Marshal(s)
	if err != nil {
		panic(fmt.Sprintf("builtin: reflect schema: %v", err))
	}
	return b
}
