// Package tools names the registry operations and dispatches raw JSON
// arguments to them, so every transport shares one catalog.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nidhogg/nuka-capabilities/internal/capability"
)

// ErrUnknownTool is returned by Execute for an unregistered name.
var ErrUnknownTool = errors.New("unknown tool")

// Definition describes a callable tool.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Handler runs a tool with raw JSON arguments. It returns an error only when
// the arguments are malformed; every other outcome is in the envelope.
type Handler func(ctx context.Context, args json.RawMessage) (capability.Envelope, error)

// Registry holds available tools and their handlers.
type Registry struct {
	defs     []Definition
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool definition and its handler.
func (r *Registry) Register(def Definition, handler Handler) {
	r.defs = append(r.defs, def)
	r.handlers[def.Name] = handler
}

// Definitions returns all tool definitions in registration order.
func (r *Registry) Definitions() []Definition {
	return r.defs
}

// Execute runs a tool by name with the given JSON arguments.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (capability.Envelope, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return h(ctx, args)
}
