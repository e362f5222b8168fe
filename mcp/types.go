// Package mcp implements a JSON-RPC based Model Context Protocol (MCP)
// client.
//
// MCP is a protocol for exposing tools to LLM-powered applications. This
// package implements the client side: it connects to an external MCP
// server (typically a child process speaking JSON-RPC 2.0 over its stdio
// pipes), performs the initialize handshake, enumerates the server's
// tools, and invokes them. Discovered tools are surfaced to the rest of
// the runtime through the tool registry.
//
// # Basic Usage
//
//	client, err := mcp.Connect(ctx, "files", "mcp-files-server")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	defs, err := client.ListTools(ctx)
//	...
//	result, err := client.CallTool(ctx, "read_file", map[string]any{"path": "/tmp/x"})
//
// # Protocol Details
//
// The client speaks the following MCP methods:
//   - initialize: Handshake and capability exchange
//   - notifications/initialized: Client ready notification
//   - ping: Connection health check
//   - tools/list: Enumerate available tools (with cursor pagination)
//   - tools/call: Execute a tool
package mcp

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the MCP protocol version this client requests.
const ProtocolVersion = "2025-11-25"

// Request represents a JSON-RPC 2.0 request message.
// The ID field is omitted for notification requests that don't expect a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitzero"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitzero"`
}

// Response represents a JSON-RPC 2.0 response message as received from the
// server. Either Result or Error will be set, but not both. Method is set
// only on server-initiated messages, which this client does not act on.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitzero"`
	Method  string          `json:"method,omitzero"`
	Result  json.RawMessage `json:"result,omitzero"`
	Error   *Error          `json:"error,omitzero"`
}

// Error represents a JSON-RPC 2.0 error object. It satisfies the error
// interface so protocol failures flow through ordinary error returns.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitzero"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Implementation identifies an MCP server or client implementation.
type Implementation struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitzero"`
}

// InitializeParams is sent with the initialize request. Capabilities is
// always present, even when empty; servers reject its absence.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ClientInfo      Implementation `json:"clientInfo"`
	Capabilities    struct{}       `json:"capabilities"`
}

// InitializeResult is the server's half of the handshake.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ServerInfo      Implementation  `json:"serverInfo"`
	Capabilities    json.RawMessage `json:"capabilities,omitzero"`
	Instructions    string          `json:"instructions,omitzero"`
}

// ToolDefinition describes a tool's interface as returned by tools/list.
type ToolDefinition struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitzero"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitzero"`
}

// ListToolsResult is returned by the tools/list method. NextCursor is used
// for pagination; an empty value indicates no more results.
type ListToolsResult struct {
	Tools      []ToolDefinition `json:"tools"`
	NextCursor string           `json:"nextCursor,omitzero"`
}

// ContentBlock represents a piece of content in a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is returned by the tools/call method. Content carries the
// tool output as display blocks; StructuredContent is the parsed JSON form
// when the server provides one. IsError marks a tool-level failure
// (distinct from a JSON-RPC error).
type CallToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent map[string]any `json:"structuredContent,omitzero"`
	IsError           bool           `json:"isError,omitzero"`
}

// Text concatenates the textual content blocks of a result.
func (r *CallToolResult) Text() string {
	var out string
	for _, block := range r.Content {
		if block.Type != "text" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += block.Text
	}
	return out
}
