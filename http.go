package mcpeek

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// HTTPTransport talks to an MCP server over HTTP(S). Each outbound message is one JSON
// document POSTed to the endpoint URL; a response body carrying a JSON-RPC message is
// queued for Receive, which is how request/response exchanges correlate by id. Credentials
// are supplied as request headers on the Endpoint.
//
// An optional server-push event stream (enabled with WithNotificationStream) delivers
// out-of-band notifications; servers without one are tolerated and the transport then
// operates purely request/response. TLS certificate validation is always on.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger
	stream     bool

	messages chan JSONRPCMessage

	done         chan struct{}
	closeOnce    sync.Once
	streamCancel context.CancelFunc
}

// NewHTTPTransport creates a transport for an HTTP(S) endpoint. The endpoint's header map
// is attached to every request. No network traffic happens until Connect.
func NewHTTPTransport(endpoint Endpoint, options ...TransportOption) *HTTPTransport {
	opts := buildTransportOptions(options)

	cli := opts.httpClient
	if cli == nil {
		cli = http.DefaultClient
	}

	return &HTTPTransport{
		url:        endpoint.Raw,
		headers:    endpoint.Headers,
		httpClient: cli,
		logger:     opts.logger.With("session", uuid.NewString()),
		stream:     opts.notificationStream,
		messages:   make(chan JSONRPCMessage, 8),
		done:       make(chan struct{}),
	}
}

// Connect validates the endpoint URL and, when the notification stream is enabled,
// attempts to open it. A server that refuses the stream is not an error.
func (h *HTTPTransport) Connect(ctx context.Context) error {
	u, err := url.Parse(h.url)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConnectionError{Op: "dial", Err: fmt.Errorf("invalid endpoint URL %q", h.url)}
	}

	if h.stream {
		streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		h.streamCancel = cancel
		go h.listenEventStream(streamCtx)
	}

	return nil
}

// Send POSTs msg to the endpoint. A JSON-RPC message in the response body is queued for
// Receive. Network failures surface as ConnectionError; an HTTP error status as
// ProtocolError.
func (h *HTTPTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(msgBs))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConnectionError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &ProtocolError{Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		// Accepted with no reply, e.g. a notification.
		return nil
	}

	var reply JSONRPCMessage
	if err := json.Unmarshal(body, &reply); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("malformed response body: %v", err)}
	}

	select {
	case <-h.done:
		return ErrTransportClosed
	case h.messages <- reply:
	}

	return nil
}

// Receive blocks until a queued response or pushed notification arrives, the context is
// done, or the transport closes.
func (h *HTTPTransport) Receive(ctx context.Context) (JSONRPCMessage, error) {
	select {
	case <-ctx.Done():
		return JSONRPCMessage{}, ctx.Err()
	case <-h.done:
		return JSONRPCMessage{}, ErrTransportClosed
	case msg := <-h.messages:
		return msg, nil
	}
}

// Close stops the event stream, releases idle connections, and unblocks any pending
// Receive.
func (h *HTTPTransport) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		if h.streamCancel != nil {
			h.streamCancel()
		}
		h.httpClient.CloseIdleConnections()
	})

	return nil
}

func (h *HTTPTransport) listenEventStream(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		h.logger.Error("failed to create event stream request", "err", err)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Debug("event stream unavailable", "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK ||
		!strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		// The push stream is an optional extension, a server without one is fine.
		h.logger.Debug("server does not offer an event stream", "status", resp.StatusCode)
		return
	}

	h.logger.Info("event stream established")

	for ev, err := range sse.Read(resp.Body, nil) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				h.logger.Error("failed to read event stream", "err", err)
			}
			return
		}

		if ev.Type != "" && ev.Type != "message" {
			h.logger.Debug("unhandled event type", "type", ev.Type)
			continue
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			h.logger.Error("failed to unmarshal pushed message", "err", err)
			continue
		}

		select {
		case <-h.done:
			return
		case h.messages <- msg:
		}
	}
}
