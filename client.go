package mcpeek

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"
)

type connState int

const (
	stateUnconnected connState = iota
	stateInitializing
	stateReady
	stateClosed
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// NotificationHandler receives server-initiated notifications. Method is the notification's
// method name and params its raw parameters. Handlers run on the client's receive loop, so
// they must not block.
type NotificationHandler func(method string, params json.RawMessage)

// Client turns a raw Transport into typed MCP operations with request/response correlation.
// It owns the Transport, runs a background receive loop that demultiplexes inbound messages
// to pending callers by id, and exposes the protocol handshake plus the tools, resources,
// and prompts RPC families.
//
// A Client must be created with NewClient and requires Initialize to be called before any
// other operation. All operations are safe for concurrent use; each call carries its own
// deadline and one slow call never blocks another. Close releases the Transport and fails
// every outstanding call.
type Client struct {
	info      Info
	transport Transport
	logger    *slog.Logger

	callTimeout   time.Duration
	notifyHandler NotificationHandler

	mu                 sync.Mutex
	state              connState
	nextID             uint64
	pending            map[MustString]chan JSONRPCMessage
	serverInfo         Info
	serverCapabilities ServerCapabilities
	closeCause         error

	connClosed chan struct{}
	recvCancel context.CancelFunc
	recvDone   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

var defaultCallTimeout = 30 * time.Second

// WithClientLogger sets the logger for the client. Defaults to slog.Default().
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCallTimeout sets the default per-call timeout applied when the caller's context
// carries no deadline. Defaults to 30 seconds.
func WithCallTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = timeout
	}
}

// WithNotificationHandler registers a handler for server-initiated notifications.
// Notifications arriving without a handler are dropped.
func WithNotificationHandler(handler NotificationHandler) ClientOption {
	return func(c *Client) {
		c.notifyHandler = handler
	}
}

// NewClient creates a client around transport. The info parameter identifies this client
// in the protocol handshake. The client takes ownership of the transport: both are torn
// down together by Close. Nothing is connected until Initialize.
func NewClient(info Info, transport Transport, options ...ClientOption) *Client {
	c := &Client{
		info:       info,
		transport:  transport,
		logger:     slog.Default(),
		pending:    make(map[MustString]chan JSONRPCMessage),
		connClosed: make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.callTimeout == 0 {
		c.callTimeout = defaultCallTimeout
	}

	return c
}

// Initialize connects the transport and performs the MCP handshake: it sends the
// initialize request with the client's protocol version, validates that the server's
// declared version is compatible, records the server's capabilities, and sends the
// initialized notification. It must complete exactly once per connection; every other
// operation fails with a ProtocolError until it has.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case stateUnconnected:
	case stateClosed:
		c.mu.Unlock()
		return &ProtocolError{Reason: "client closed"}
	default:
		c.mu.Unlock()
		return &ProtocolError{Reason: "already initialized"}
	}
	c.state = stateInitializing
	c.mu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		c.teardown(err)
		return fmt.Errorf("failed to connect: %w", err)
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.recvCancel = cancel
	c.recvDone = make(chan struct{})
	c.mu.Unlock()

	go c.listenMessages(recvCtx)

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      c.info,
	}

	raw, err := c.call(ctx, methodInitialize, params, stateInitializing)
	if err != nil {
		c.Close()
		return fmt.Errorf("initialize failed: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.Close()
		return &ProtocolError{Reason: fmt.Sprintf("malformed initialize result: %v", err)}
	}

	if !slices.Contains(compatibleProtocolVersions, result.ProtocolVersion) {
		c.Close()
		return &ProtocolError{Reason: fmt.Sprintf("protocol version mismatch: server %s, client %s",
			result.ProtocolVersion, protocolVersion)}
	}

	c.mu.Lock()
	c.serverInfo = result.ServerInfo
	c.serverCapabilities = result.Capabilities
	c.state = stateReady
	c.mu.Unlock()

	if err := c.sendNotification(ctx, methodNotificationsInitialized, nil); err != nil {
		c.Close()
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}

	c.logger.Info("connection initialized",
		"server", result.ServerInfo.Name, "version", result.ProtocolVersion)

	return nil
}

// ServerInfo returns the server's identity from the handshake.
func (c *Client) ServerInfo() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// ServerCapabilities returns the capabilities the server declared during the handshake.
func (c *Client) ServerCapabilities() ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverCapabilities
}

// Call issues a raw JSON-RPC request and waits for its matching response, a timeout, or
// connection closure, whichever occurs first. The caller's context deadline bounds the
// call; without one the client's default call timeout applies. A server error response
// surfaces as CapabilityError for method-not-found and ApplicationError otherwise.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, method, params, stateReady)
}

// ListTools retrieves all available tools, following the continuation cursor through every
// page and concatenating items in page order.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	cursor := ""
	for {
		raw, err := c.Call(ctx, MethodToolsList, ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}

		var page ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed tools/list result: %v", err)}
		}

		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// ListResources retrieves all available resources, following the continuation cursor
// through every page.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	var resources []Resource
	cursor := ""
	for {
		raw, err := c.Call(ctx, MethodResourcesList, ListResourcesParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}

		var page ListResourcesResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed resources/list result: %v", err)}
		}

		resources = append(resources, page.Resources...)
		if page.NextCursor == "" {
			return resources, nil
		}
		cursor = page.NextCursor
	}
}

// ListPrompts retrieves all available prompts, following the continuation cursor through
// every page.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	var prompts []Prompt
	cursor := ""
	for {
		raw, err := c.Call(ctx, MethodPromptsList, ListPromptsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}

		var page ListPromptsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed prompts/list result: %v", err)}
		}

		prompts = append(prompts, page.Prompts...)
		if page.NextCursor == "" {
			return prompts, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool executes a specific tool with the given argument object and returns the
// structured result unchanged.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (CallToolResult, error) {
	raw, err := c.Call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return CallToolResult{}, err
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return CallToolResult{}, &ProtocolError{Reason: fmt.Sprintf("malformed tools/call result: %v", err)}
	}

	return result, nil
}

// ReadResource retrieves the contents of a specific resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (ReadResourceResult, error) {
	raw, err := c.Call(ctx, MethodResourcesRead, ReadResourceParams{URI: uri})
	if err != nil {
		return ReadResourceResult{}, err
	}

	var result ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ReadResourceResult{}, &ProtocolError{Reason: fmt.Sprintf("malformed resources/read result: %v", err)}
	}

	return result, nil
}

// GetPrompt retrieves a specific prompt rendered with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (GetPromptResult, error) {
	raw, err := c.Call(ctx, MethodPromptsGet, GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return GetPromptResult{}, err
	}

	var result GetPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return GetPromptResult{}, &ProtocolError{Reason: fmt.Sprintf("malformed prompts/get result: %v", err)}
	}

	return result, nil
}

// Ping checks that the server still answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, methodPing, nil)
	return err
}

// Close cancels the receive loop, fails every outstanding call with a ConnectionError,
// and tears down the Transport. Close is idempotent; the client is unusable afterwards.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		cancel := c.recvCancel
		recvDone := c.recvDone
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		c.closeErr = c.transport.Close()
		if recvDone != nil {
			<-recvDone
		} else {
			c.teardown(errors.New("client closed"))
		}
	})

	return c.closeErr
}

func (c *Client) call(ctx context.Context, method string, params any, required connState) (json.RawMessage, error) {
	var paramsBs json.RawMessage
	if params != nil {
		var err error
		paramsBs, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	c.mu.Lock()
	if c.state != required {
		state := c.state
		c.mu.Unlock()
		switch state {
		case stateClosed:
			return nil, &ProtocolError{Reason: "client closed"}
		default:
			return nil, &ProtocolError{Reason: "not initialized"}
		}
	}
	c.nextID++
	id := MustString(strconv.FormatUint(c.nextID, 10))
	resChan := make(chan JSONRPCMessage, 1)
	c.pending[id] = resChan
	c.mu.Unlock()

	timeout := c.callTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  paramsBs,
	}

	if err := c.transport.Send(ctx, msg); err != nil {
		c.removePending(id)
		if errors.Is(err, ErrTransportClosed) {
			return nil, &ConnectionError{Op: "send", Err: err}
		}
		return nil, err
	}

	select {
	case res := <-resChan:
		if res.Error != nil {
			if res.Error.Code == jsonRPCMethodNotFoundCode {
				return nil, &CapabilityError{Method: method}
			}
			return nil, &ApplicationError{
				Code:    res.Error.Code,
				Message: res.Error.Message,
				Data:    res.Error.Data,
			}
		}
		return res.Result, nil
	case <-ctx.Done():
		c.removePending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Method: method, Timeout: timeout}
		}
		return nil, ctx.Err()
	case <-c.connClosed:
		c.mu.Lock()
		cause := c.closeCause
		c.mu.Unlock()
		return nil, &ConnectionError{Op: "receive", Err: cause}
	}
}

func (c *Client) sendNotification(ctx context.Context, method string, params any) error {
	var paramsBs json.RawMessage
	if params != nil {
		var err error
		paramsBs, err = json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
	}

	return c.transport.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	})
}

// listenMessages is the background receive loop: it demultiplexes inbound responses to
// pending callers by id, routes notifications to the registered handler, answers server
// pings, and on any transport failure fails every outstanding call and closes the
// connection.
func (c *Client) listenMessages(ctx context.Context) {
	defer close(c.recvDone)

	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			c.teardown(err)
			return
		}

		if msg.JSONRPC != JSONRPCVersion {
			c.logger.Error("invalid jsonrpc version", "version", msg.JSONRPC)
			continue
		}

		switch {
		case msg.Method == methodPing && msg.ID != "":
			go c.answerPing(ctx, msg.ID)
		case msg.Method != "" && msg.ID == "":
			if c.notifyHandler == nil {
				c.logger.Debug("dropping notification", "method", msg.Method)
				continue
			}
			c.notifyHandler(msg.Method, msg.Params)
		case msg.Method != "":
			// A server-initiated request this client does not serve.
			go c.answerMethodNotFound(ctx, msg)
		default:
			c.deliver(msg)
		}
	}
}

func (c *Client) deliver(msg JSONRPCMessage) {
	c.mu.Lock()
	resChan, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("discarding response with unknown id", "id", string(msg.ID))
		return
	}

	resChan <- msg
}

// removePending deregisters a call's correlation entry. Removal is idempotent: the entry
// may already be gone if the response raced the caller's timeout.
func (c *Client) removePending(id MustString) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// teardown moves the client to its terminal state, clearing the correlation table so every
// outstanding call fails with a ConnectionError.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return
	}
	c.state = stateClosed
	c.closeCause = cause
	clear(c.pending)
	close(c.connClosed)

	if cause != nil && !errors.Is(cause, ErrTransportClosed) && !errors.Is(cause, context.Canceled) {
		c.logger.Error("connection lost", "err", cause)
	}
}

func (c *Client) answerPing(ctx context.Context, id MustString) {
	err := c.transport.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  json.RawMessage("{}"),
	})
	if err != nil {
		c.logger.Error("failed to answer ping", "err", err)
	}
}

func (c *Client) answerMethodNotFound(ctx context.Context, msg JSONRPCMessage) {
	c.logger.Warn("unsupported server request", "method", msg.Method)

	err := c.transport.Send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
		Error: &JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: fmt.Sprintf("method %q not supported", msg.Method),
		},
	})
	if err != nil {
		c.logger.Error("failed to send error response", "err", err)
	}
}

// pendingCount reports the correlation table size.
func (c *Client) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
