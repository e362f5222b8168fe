package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternlabs/tern/mcp"
	"github.com/ternlabs/tern/schema"
)

// MCPCaller is the slice of the MCP client a discovered tool needs.
type MCPCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// DiscoveredTool adapts a tool reported by an external MCP server into a
// registry tool. The registered name is the sanitized server tool name;
// the display name attributes the server.
type DiscoveredTool struct {
	caller MCPCaller
	decl   Declaration

	serverName     string
	serverToolName string
}

// NewDiscoveredTool wraps one entry of an MCP server's tools/list answer.
func NewDiscoveredTool(caller MCPCaller, serverName string, def mcp.ToolDefinition) (*DiscoveredTool, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("discovered tool from %s has no name", serverName)
	}

	var params *schema.JSON
	if len(def.InputSchema) > 0 {
		params = &schema.JSON{}
		if err := json.Unmarshal(def.InputSchema, params); err != nil {
			return nil, fmt.Errorf("discovered tool %s/%s: bad input schema: %w", serverName, def.Name, err)
		}
	}

	return &DiscoveredTool{
		caller:         caller,
		serverName:     serverName,
		serverToolName: def.Name,
		decl: Declaration{
			Name:             SanitizeToolName(def.Name),
			DisplayName:      fmt.Sprintf("%s (%s MCP Server)", def.Name, serverName),
			Description:      def.Description,
			Kind:             KindOther,
			Parameters:       params,
			IsOutputMarkdown: true,
		},
	}, nil
}

func (t *DiscoveredTool) Declaration() Declaration { return t.decl }

// ServerName reports which MCP server the tool came from.
func (t *DiscoveredTool) ServerName() string { return t.serverName }

// ServerToolName is the tool's unsanitized name on its server.
func (t *DiscoveredTool) ServerToolName() string { return t.serverToolName }

func (t *DiscoveredTool) NewInvocation(args map[string]any) (Invocation, error) {
	return &discoveredInvocation{tool: t, args: args}, nil
}

// RegisterDiscovered lists an MCP server's tools and registers each with
// the registry. It returns the names registered.
func RegisterDiscovered(ctx context.Context, registry *Registry, client *mcp.Client) ([]string, error) {
	defs, err := client.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", client.Server(), err)
	}

	var names []string
	for _, def := range defs {
		tool, err := NewDiscoveredTool(client, client.Server(), def)
		if err != nil {
			return names, err
		}
		if err := registry.Register(tool); err != nil {
			return names, fmt.Errorf("discover %s: %w", client.Server(), err)
		}
		names = append(names, tool.Declaration().Name)
	}
	return names, nil
}

type discoveredInvocation struct {
	tool *DiscoveredTool
	args map[string]any
}

func (i *discoveredInvocation) Params() map[string]any { return i.args }

func (i *discoveredInvocation) Description() string {
	return fmt.Sprintf("call %s on MCP server %s", i.tool.serverToolName, i.tool.serverName)
}

func (i *discoveredInvocation) ShouldConfirm(ctx context.Context) (*Confirmation, error) {
	c := NewConfirmation(ConfirmMCP)
	c.Title = fmt.Sprintf("Confirm MCP Tool Execution: %s", i.tool.serverToolName)
	c.ServerName = i.tool.serverName
	c.ToolName = i.tool.serverToolName
	c.ToolDisplayName = i.tool.decl.DisplayName
	return c, nil
}

func (i *discoveredInvocation) Execute(ctx context.Context, onOutput func(string)) (Result, error) {
	result, err := i.tool.caller.CallTool(ctx, i.tool.serverToolName, i.args)
	if err != nil {
		return Result{}, err
	}

	text := result.Text()
	if result.IsError {
		message := text
		if message == "" {
			message = fmt.Sprintf("%s reported an error", i.tool.serverToolName)
		}
		return Result{}, fmt.Errorf("%s", message)
	}

	return Result{LLMContent: text, Display: text}, nil
}
