package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registration limits. Oversized names or schemas are registration bugs, not
// runtime conditions, so Register rejects them outright.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolSchemaSize is the maximum size of a tool's input schema (1MB).
	MaxToolSchemaSize = 1 << 20

	// MaxToolInputSize is the maximum size of tool input JSON (10MB).
	MaxToolInputSize = 10 << 20
)

type registeredTool struct {
	tool     Tool
	compiled *jsonschema.Schema
}

// Registry holds the process-wide set of tools with their compiled input
// schemas. It is safe for concurrent use and stateless with respect to any
// session.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds a tool, compiling and caching its input schema. A tool with
// the same name replaces the previous registration.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name %q exceeds maximum length of %d", name[:32], MaxToolNameLength)
	}
	schema := tool.Schema()
	if len(schema) > MaxToolSchemaSize {
		return fmt.Errorf("tool %s: schema exceeds maximum size of %d bytes", name, MaxToolSchemaSize)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = registeredTool{tool: tool, compiled: compiled}
	return nil
}

// MustRegister registers the tool and panics on failure. For use at startup
// with statically defined tools.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.tool, ok
}

// Descriptors returns the schema list for all registered tools in
// registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		reg := r.tools[name]
		out = append(out, Descriptor{
			Name:        name,
			Description: reg.tool.Description(),
			InputSchema: reg.tool.Schema(),
		})
	}
	return out
}

// ValidateInput checks input against the named tool's compiled schema.
// Unknown names return an error; callers distinguish that case with Get.
func (r *Registry) ValidateInput(name string, input json.RawMessage) error {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	if len(input) > MaxToolInputSize {
		return fmt.Errorf("tool input exceeds maximum size of %d bytes", MaxToolInputSize)
	}
	var payload any
	if len(input) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(input, &payload); err != nil {
		return fmt.Errorf("tool input is not valid JSON: %w", err)
	}
	if err := reg.compiled.Validate(payload); err != nil {
		return err
	}
	return nil
}
