// Package mcp holds the wire types for the slice of the Model Context
// Protocol the gateway implements: the initialize handshake and the tools
// surface. Anything the gateway does not serve (resources, prompts,
// sampling) is intentionally absent.
package mcp

import "encoding/json"

// ProtocolVersion is the protocol revision the gateway negotiates.
const ProtocolVersion = "2025-06-18"

// Method is an MCP method name as it appears in JSON-RPC envelopes.
type Method string

const (
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"
	ToolsListMethod               Method = "tools/list"
	ToolsCallMethod               Method = "tools/call"
	PingMethod                    Method = "ping"
	ShutdownMethod                Method = "shutdown"
)

// ImplementationInfo names a client or server implementation.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// ClientCapabilities is accepted on initialize. The gateway records but does
// not act on any of them, so the shape stays open.
type ClientCapabilities map[string]json.RawMessage

// ServerCapabilities advertises what the gateway serves.
type ServerCapabilities struct {
	Tools *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
}

// InitializeRequest opens the handshake.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult answers it with the negotiated version and capabilities.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
}

// Tool describes one callable tool and its input contract.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is the JSON-schema-shaped declaration of a tool's
// parameters.
type ToolInputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty is a single parameter declaration.
type SchemaProperty struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitzero"`
}

// ListToolsResult returns every registered tool.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolRequest is the params object of tools/call. Arguments stay raw so
// the router can validate them against the descriptor.
type CallToolRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ContentBlock is the text rendering of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitzero"`
}

// CallToolResult carries a tool's outcome: a human-readable content block
// plus the structured normalized payload.
type CallToolResult struct {
	Content           []ContentBlock `json:"content,omitempty"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitzero"`
}
