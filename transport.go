package mcpeek

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ErrTransportClosed is returned by Receive when the transport has been closed and no
// further messages will arrive.
var ErrTransportClosed = errors.New("transport closed")

// Transport provides a full-duplex JSON-RPC message channel to an MCP endpoint. Send and
// Receive are safe to call concurrently with each other; neither is safe for concurrent use
// with itself. Client is the intended sole owner of a Transport.
type Transport interface {
	// Connect establishes the channel. It must be called once, before Send or Receive.
	Connect(ctx context.Context) error

	// Send transmits one message to the endpoint.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Receive blocks until the next inbound message arrives, the context is done, or the
	// channel closes. A closed channel yields ErrTransportClosed.
	Receive(ctx context.Context) (JSONRPCMessage, error)

	// Close releases all resources. Any blocked Receive observes ErrTransportClosed.
	// Close is idempotent.
	Close() error
}

// TransportOption is a function that configures a transport. Options not applicable to the
// transport variant being built are ignored, so a caller can pass one option slice to
// NewTransport regardless of endpoint syntax.
type TransportOption func(*transportOptions)

type transportOptions struct {
	logger             *slog.Logger
	httpClient         *http.Client
	notificationStream bool
	terminateGrace     time.Duration
}

// WithTransportLogger sets the logger for the transport. Defaults to slog.Default().
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(o *transportOptions) {
		o.logger = logger
	}
}

// WithHTTPClient sets the HTTP client used by an HTTPTransport. The default client is used
// when nil. TLS certificate validation is never disabled, whatever client is supplied here
// configures its own TLS stack.
func WithHTTPClient(client *http.Client) TransportOption {
	return func(o *transportOptions) {
		o.httpClient = client
	}
}

// WithNotificationStream enables the optional server-push event stream on an HTTPTransport.
// Servers that do not offer a stream are tolerated; the transport then operates purely
// request/response.
func WithNotificationStream() TransportOption {
	return func(o *transportOptions) {
		o.notificationStream = true
	}
}

// WithTerminateGrace sets how long a StdIOTransport waits between the termination signal
// and the forced kill during Close. Defaults to 5 seconds.
func WithTerminateGrace(grace time.Duration) TransportOption {
	return func(o *transportOptions) {
		o.terminateGrace = grace
	}
}

func buildTransportOptions(options []TransportOption) transportOptions {
	opts := transportOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.logger == nil {
		opts.logger = slog.Default()
	}
	if opts.terminateGrace == 0 {
		opts.terminateGrace = 5 * time.Second
	}
	return opts
}
