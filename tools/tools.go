// Package tools holds the immutable tool registry and the router that
// dispatches tools/list and tools/call. Argument objects are schema-less
// JSON maps validated dynamically against each tool's declared input schema,
// which keeps the router uniform across tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"

	"github.com/abairt/gaelgate/internal/logctx"
	"github.com/abairt/gaelgate/mcp"
)

// Handler executes one tool invocation. Arguments arrive pre-validated
// against the tool's input schema; the returned object becomes the
// structuredContent of the call result. Handlers must honor ctx: a
// terminated session cancels it mid-call.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    Handler
}

// New builds a Tool whose input schema is reflected from the struct type A
// using invopop/jsonschema, down-converted to the MCP schema shape.
func New[A any](name, description string, h Handler) Tool {
	return Tool{
		Descriptor: mcp.Tool{
			Name:        name,
			Description: description,
			InputSchema: reflectInputSchema[A](),
		},
		Handler: h,
	}
}

func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(A))
	out := mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	if s == nil || s.Type != "object" {
		return out
	}
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			out.Properties[el.Key] = mcp.SchemaProperty{
				Type:        el.Value.Type,
				Description: el.Value.Description,
			}
		}
	}
	out.Required = append(out.Required, s.Required...)
	return out
}

// Registry is the immutable name → tool table, built once at startup.
// Listing preserves registration order.
type Registry struct {
	order  []string
	byName map[string]Tool
	log    *slog.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry registers tools in the given order. Duplicate names panic:
// that is a wiring bug, not a runtime condition.
func NewRegistry(ts []Tool, opts ...RegistryOption) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(ts)), log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	for _, t := range ts {
		if _, dup := r.byName[t.Descriptor.Name]; dup {
			panic(fmt.Sprintf("tools: duplicate tool %q", t.Descriptor.Name))
		}
		r.byName[t.Descriptor.Name] = t
		r.order = append(r.order, t.Descriptor.Name)
	}
	return r
}

// List returns every registered descriptor in registration order. Pure;
// cannot fail.
func (r *Registry) List() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].Descriptor)
	}
	return out
}

// Call validates rawArgs against the named tool's schema and invokes its
// handler. Every failure comes back as a *Error carrying a stable protocol
// code; the transport turns it into a JSON-RPC error member.
func (r *Registry) Call(ctx context.Context, name string, rawArgs json.RawMessage) (*mcp.CallToolResult, *Error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, ErrUnknownTool(name)
	}

	ctx = logctx.WithToolData(ctx, &logctx.ToolData{Name: name})

	args := map[string]any{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, ErrInvalidArguments("arguments", "must be a JSON object")
		}
	}
	if perr := validateArgs(t.Descriptor.InputSchema, args); perr != nil {
		r.log.WarnContext(ctx, "tool.call.invalid_args", slog.String("err", perr.Message))
		return nil, perr
	}

	out, err := t.Handler(ctx, args)
	if err != nil {
		perr := translateError(err)
		r.log.WarnContext(ctx, "tool.call.fail",
			slog.Int("code", int(perr.Code)),
			slog.String("err", err.Error()))
		return nil, perr
	}

	text, err := json.Marshal(out)
	if err != nil {
		r.log.ErrorContext(ctx, "tool.result.marshal.fail", slog.String("err", err.Error()))
		return nil, translateError(err)
	}
	r.log.InfoContext(ctx, "tool.call.ok")
	return &mcp.CallToolResult{
		Content:           []mcp.ContentBlock{{Type: "text", Text: string(text)}},
		StructuredContent: out,
	}, nil
}

// validateArgs checks required presence and JSON type of every declared
// parameter. Undeclared extra keys are tolerated and ignored by handlers.
func validateArgs(schema mcp.ToolInputSchema, args map[string]any) *Error {
	for _, req := range schema.Required {
		if _, present := args[req]; !present {
			return ErrInvalidArguments(req, "is required")
		}
	}
	for name, prop := range schema.Properties {
		v, present := args[name]
		if !present || v == nil {
			continue
		}
		if prop.Type != "" && !matchesJSONType(v, prop.Type) {
			return ErrInvalidArguments(name, fmt.Sprintf("must be of type %s", prop.Type))
		}
	}
	return nil
}

func matchesJSONType(v any, jsonType string) bool {
	switch jsonType {
	case "string":
		_, ok := v.(string)
		return ok
	case "number", "integer":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}
