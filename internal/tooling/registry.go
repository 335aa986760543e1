package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

// ErrUnknownTool reports a tool name the registry has never seen. The model
// can only request names it was given, so hitting this usually means a
// hallucinated call.
var ErrUnknownTool = errors.New("unknown tool")

// Registry holds ProspectTool implementations keyed by name. The orchestrator
// uses it to enumerate tool definitions for the model and dispatch calls. The
// tool set is fixed at startup; Register is not safe for concurrent use with
// Execute and is not meant to be.
type Registry struct {
	tools map[string]ProspectTool
	order []string
}

// NewRegistry returns an empty, ready-to-use registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ProspectTool)}
}

// Register adds a tool. Returns an error if the tool is nil or a tool with the
// same name is already registered.
func (r *Registry) Register(tool ProspectTool) error {
	if tool == nil {
		return fmt.Errorf("tool must not be nil")
	}
	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q is already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get returns the tool with the given name. Unregistered names wrap
// ErrUnknownTool.
func (r *Registry) Get(name string) (ProspectTool, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return tool, nil
}

// List returns all registered tools in registration order.
func (r *Registry) List() []ProspectTool {
	out := make([]ProspectTool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns domain.ToolDefinition for every registered tool in
// registration order, suitable for passing to the completion API.
func (r *Registry) Definitions() []domain.ToolDefinition {
	out := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: json.RawMessage(t.Definition()),
		})
	}
	return out
}

// Execute looks up a tool, validates the input against its schema, and runs
// it. Validation happens before the tool sees the input, so a call missing
// userId never reaches the filesystem. Returns the tool's concrete result
// value; serialization happens at the orchestration boundary.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (any, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := ValidateAgainstSchema(input, tool.Definition()); err != nil {
		return nil, err
	}
	return tool.Call(ctx, input)
}
