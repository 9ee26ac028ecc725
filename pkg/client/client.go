// Package client is a small MCP client for the newline-delimited JSON-RPC
// transport the server speaks. Calls are issued one at a time; the server
// answers each connection in order.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fluffypony/universe/pkg/protocol"
)

// ErrClosed is returned by calls on a closed client
var ErrClosed = errors.New("client closed")

// Client talks to one server connection
type Client struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader

	name    string
	version string

	mu     sync.Mutex
	nextID uint64
	closed bool

	serverInfo *protocol.InitializeResult
}

// Option configures a Client
type Option func(*Client)

// WithName sets the client name sent in the handshake
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// WithVersion sets the client version sent in the handshake
func WithVersion(version string) Option {
	return func(c *Client) {
		c.version = version
	}
}

// New wraps an established connection
func New(conn io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		name:    "tari-mcp-client",
		version: "1.0.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to a server listening on addr
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, opts...), nil
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// ServerInfo returns the initialize result, or nil before Initialize
func (c *Client) ServerInfo() *protocol.InitializeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Initialize performs the handshake and sends the initialized notification
func (c *Client) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      protocol.Implementation{Name: c.name, Version: c.version},
	}
	var result protocol.InitializeResult
	if err := c.Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("initialize request failed: %w", err)
	}
	if err := c.Notify(ctx, protocol.MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = &result
	c.mu.Unlock()
	return &result, nil
}

// Ping checks that the server is responding
func (c *Client) Ping(ctx context.Context) (*protocol.PingResult, error) {
	var result protocol.PingResult
	if err := c.Call(ctx, protocol.MethodPing, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources returns the resource descriptors
func (c *Client) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	var result protocol.ListResourcesResult
	if err := c.Call(ctx, protocol.MethodListResources, nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ReadResource reads one resource by URI
func (c *Client) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	var result protocol.ReadResourceResult
	if err := c.Call(ctx, protocol.MethodReadResource, protocol.ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTools returns the tool descriptors
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	var result protocol.ListToolsResult
	if err := c.Call(ctx, protocol.MethodListTools, nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a tool
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	var result protocol.CallToolResult
	params := protocol.CallToolParams{Name: name, Arguments: args}
	if err := c.Call(ctx, protocol.MethodCallTool, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPrompts returns the prompt descriptors
func (c *Client) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	var result protocol.ListPromptsResult
	if err := c.Call(ctx, protocol.MethodListPrompts, nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt renders a prompt
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	var result protocol.GetPromptResult
	params := protocol.GetPromptParams{Name: name, Arguments: args}
	if err := c.Call(ctx, protocol.MethodGetPrompt, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Call sends a request and decodes its result into result, which may be
// nil. A JSON-RPC error reply is returned as a *protocol.Error.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.nextID++
	id := c.nextID
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return err
	}

	stop := c.bind(ctx)
	defer stop()

	if err := c.write(req); err != nil {
		return c.ctxErr(ctx, err)
	}

	for {
		resp, err := c.read()
		if err != nil {
			return c.ctxErr(ctx, err)
		}
		if resp.ID == nil && resp.Error != nil {
			// connection-level refusal
			return resp.Error
		}
		if !sameID(resp.ID, id) {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to parse %s result: %w", method, err)
		}
		return nil
	}
}

// Notify sends a notification
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	req, err := protocol.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	stop := c.bind(ctx)
	defer stop()
	return c.ctxErr(ctx, c.write(req))
}

// bind interrupts blocked I/O when ctx ends. Connections without deadlines
// are only interrupted by Close.
func (c *Client) bind(ctx context.Context) func() bool {
	conn, ok := c.conn.(interface{ SetDeadline(time.Time) error })
	if !ok {
		return func() bool { return true }
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Client) write(req *protocol.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

func (c *Client) read() (*protocol.Response, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		if !errors.Is(err, io.EOF) {
			return nil, err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var resp protocol.Response
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return &resp, nil
}

func sameID(got interface{}, want uint64) bool {
	switch v := got.(type) {
	case json.Number:
		return v.String() == strconv.FormatUint(want, 10)
	case float64:
		return v == float64(want)
	case string:
		return v == strconv.FormatUint(want, 10)
	}
	return false
}
