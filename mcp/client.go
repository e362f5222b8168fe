package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/ternlabs/tern/internal/logging"
)

// Client is a JSON-RPC 2.0 client bound to a single MCP server. It is safe
// for concurrent use: requests are matched to responses by id, so multiple
// tool calls may be in flight at once.
type Client struct {
	server string

	encMu sync.Mutex
	enc   *json.Encoder

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan *Response
	readErr error

	done chan struct{}

	// set when the client owns a child process
	stdin io.Closer
	cmd   *exec.Cmd
}

// NewClient wires a client over an existing byte stream pair and starts
// its read loop. server names the remote end for tool attribution.
func NewClient(server string, in io.Reader, out io.Writer) *Client {
	c := &Client{
		server:  server,
		enc:     json.NewEncoder(out),
		pending: make(map[int64]chan *Response),
		done:    make(chan struct{}),
	}
	go c.readLoop(in)
	return c
}

// Connect launches command as a child process, speaks MCP over its stdio
// pipes, and completes the initialize handshake. The child's stderr passes
// through to this process.
func Connect(ctx context.Context, server, command string, args ...string) (*Client, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", server, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", server, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", server, err)
	}

	c := NewClient(server, stdout, stdin)
	c.stdin = stdin
	c.cmd = cmd

	if _, err := c.Initialize(ctx, Implementation{Name: "tern", Version: "0.1.0"}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect %s: %w", server, err)
	}
	return c, nil
}

// Server returns the name this client was connected under.
func (c *Client) Server() string {
	return c.server
}

// Close shuts the connection down. When the client owns a child process
// its stdin is closed, which signals the server to exit, and the process
// is reaped.
func (c *Client) Close() error {
	var err error
	if c.stdin != nil {
		err = c.stdin.Close()
	}
	if c.cmd != nil {
		if waitErr := c.cmd.Wait(); waitErr != nil && err == nil {
			err = waitErr
		}
	}
	return err
}

// Initialize performs the MCP handshake and sends the initialized
// notification.
func (c *Client) Initialize(ctx context.Context, info Implementation) (*InitializeResult, error) {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      info,
	}
	var result InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := c.notify("notifications/initialized", nil); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return &result, nil
}

// Ping checks connection health.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", struct{}{}, nil)
}

// ListTools enumerates the server's tools, following pagination cursors
// until exhausted.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	var tools []ToolDefinition
	cursor := ""
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var page ListToolsResult
		if err := c.call(ctx, "tools/list", params, &page); err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool executes a named tool on the server. A JSON-RPC error becomes a
// Go error; a tool-level failure comes back as a result with IsError set.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}
	var result CallToolResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	return &result, nil
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%s: marshal params: %w", method, err)
	}

	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
		Params:  rawParams,
	}
	if err := c.encode(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("%s: write: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.readErr
		c.mu.Unlock()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%s: connection closed: %w", method, err)
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
}

func (c *Client) notify(method string, params any) error {
	req := Request{JSONRPC: "2.0", Method: method}
	if params != nil {
		rawParams, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: marshal params: %w", method, err)
		}
		req.Params = rawParams
	}
	if err := c.encode(req); err != nil {
		return fmt.Errorf("%s: write: %w", method, err)
	}
	return nil
}

func (c *Client) encode(req Request) error {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	return c.enc.Encode(req)
}

func (c *Client) readLoop(in io.Reader) {
	dec := json.NewDecoder(in)
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			c.fail(err)
			return
		}

		// Server-initiated requests and notifications are out of scope;
		// log and move on.
		if resp.Method != "" {
			logging.Logger().Debug("ignoring server-initiated message",
				"server", c.server, "method", resp.Method)
			continue
		}

		var id int64
		if err := json.Unmarshal(resp.ID, &id); err != nil {
			logging.Logger().Debug("response with unrecognized id",
				"server", c.server, "id", string(resp.ID))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

// fail records the terminal read error and wakes every in-flight call.
func (c *Client) fail(err error) {
	c.mu.Lock()
	c.readErr = err
	c.pending = make(map[int64]chan *Response)
	c.mu.Unlock()
	close(c.done)
}
