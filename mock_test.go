package mcpeek_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/mcpeek"
)

// mockTransport is an in-memory duplex transport driven by a scripted handler. Every
// outbound message is recorded; the handler's non-nil return value is queued as an
// inbound message.
type mockTransport struct {
	handler func(msg mcpeek.JSONRPCMessage) *mcpeek.JSONRPCMessage

	incoming  chan mcpeek.JSONRPCMessage
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent []mcpeek.JSONRPCMessage
}

func newMockTransport(handler func(msg mcpeek.JSONRPCMessage) *mcpeek.JSONRPCMessage) *mockTransport {
	return &mockTransport{
		handler:  handler,
		incoming: make(chan mcpeek.JSONRPCMessage, 32),
		done:     make(chan struct{}),
	}
}

func (m *mockTransport) Connect(_ context.Context) error { return nil }

func (m *mockTransport) Send(_ context.Context, msg mcpeek.JSONRPCMessage) error {
	select {
	case <-m.done:
		return mcpeek.ErrTransportClosed
	default:
	}

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	if m.handler != nil {
		if resp := m.handler(msg); resp != nil {
			m.push(*resp)
		}
	}

	return nil
}

func (m *mockTransport) Receive(ctx context.Context) (mcpeek.JSONRPCMessage, error) {
	select {
	case <-ctx.Done():
		return mcpeek.JSONRPCMessage{}, ctx.Err()
	case <-m.done:
		return mcpeek.JSONRPCMessage{}, mcpeek.ErrTransportClosed
	case msg := <-m.incoming:
		return msg, nil
	}
}

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// push queues an inbound message, simulating server-initiated traffic.
func (m *mockTransport) push(msg mcpeek.JSONRPCMessage) {
	select {
	case m.incoming <- msg:
	case <-m.done:
	}
}

func (m *mockTransport) sentMessages(method string) []mcpeek.JSONRPCMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	var msgs []mcpeek.JSONRPCMessage
	for _, msg := range m.sent {
		if msg.Method == method {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func responseTo(msg mcpeek.JSONRPCMessage, result string) *mcpeek.JSONRPCMessage {
	return &mcpeek.JSONRPCMessage{
		JSONRPC: mcpeek.JSONRPCVersion,
		ID:      msg.ID,
		Result:  json.RawMessage(result),
	}
}

func errorTo(msg mcpeek.JSONRPCMessage, code int, message string) *mcpeek.JSONRPCMessage {
	return &mcpeek.JSONRPCMessage{
		JSONRPC: mcpeek.JSONRPCVersion,
		ID:      msg.ID,
		Error:   &mcpeek.JSONRPCError{Code: code, Message: message},
	}
}

const mockInitializeResult = `{
  "protocolVersion": "2024-11-05",
  "capabilities": {"tools": {}, "resources": {}, "prompts": {}},
  "serverInfo": {"name": "mock-server", "version": "1.0.0"}
}`

// handshake wraps a handler with standard answers for the initialize exchange, so tests
// only script the methods they care about. Notifications are swallowed.
func handshake(next func(msg mcpeek.JSONRPCMessage) *mcpeek.JSONRPCMessage) func(msg mcpeek.JSONRPCMessage) *mcpeek.JSONRPCMessage {
	return func(msg mcpeek.JSONRPCMessage) *mcpeek.JSONRPCMessage {
		switch {
		case msg.Method == "initialize":
			return responseTo(msg, mockInitializeResult)
		case msg.ID == "":
			return nil
		case next != nil:
			return next(msg)
		default:
			return nil
		}
	}
}

func newTestClient(t *testing.T, transport mcpeek.Transport, options ...mcpeek.ClientOption) *mcpeek.Client {
	t.Helper()

	client := mcpeek.NewClient(mcpeek.Info{Name: "test-client", Version: "0.0.1"}, transport, options...)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize client: %v", err)
	}

	return client
}
