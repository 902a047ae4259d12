package mcpeek_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MegaGrindStone/mcpeek"
)

// echoServer implements enough of the protocol over HTTP to exercise a full session:
// handshake, tool listing, and an echo tool.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg mcpeek.JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		reply := handshake(echoHandler)(msg)
		if reply == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(reply); err != nil {
			t.Errorf("failed to encode reply: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestHTTPEndToEndToolCall(t *testing.T) {
	srv := echoServer(t)

	transport, err := mcpeek.NewTransport(mcpeek.Endpoint{Raw: srv.URL})
	if err != nil {
		t.Fatalf("failed to build transport: %v", err)
	}

	client := mcpeek.NewClient(mcpeek.Info{Name: "test-client", Version: "0.0.1"}, transport)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	engine := mcpeek.NewExecutionEngine(client)
	result, err := engine.CallTool(ctx, "echo", json.RawMessage(`{"text": "hi"}`))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}

	if len(result.Content) != 1 || result.Content[0].Text != "hi" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestHTTPTransportSendsEndpointHeaders(t *testing.T) {
	gotAuth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case gotAuth <- r.Header.Get("Authorization"):
		default:
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	transport := mcpeek.NewHTTPTransport(mcpeek.Endpoint{
		Raw:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer sekret"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer transport.Close()

	err := transport.Send(ctx, mcpeek.JSONRPCMessage{
		JSONRPC: mcpeek.JSONRPCVersion,
		Method:  "notifications/initialized",
	})
	if err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	if auth := <-gotAuth; auth != "Bearer sekret" {
		t.Errorf("authorization header %q, want %q", auth, "Bearer sekret")
	}
}

func TestHTTPTransportErrorStatusIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	transport := mcpeek.NewHTTPTransport(mcpeek.Endpoint{Raw: srv.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer transport.Close()

	err := transport.Send(ctx, mcpeek.JSONRPCMessage{
		JSONRPC: mcpeek.JSONRPCVersion,
		ID:      "1",
		Method:  "ping",
	})
	var protoErr *mcpeek.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestHTTPTransportConnectRejectsInvalidURL(t *testing.T) {
	transport := mcpeek.NewHTTPTransport(mcpeek.Endpoint{Raw: "http://"})

	err := transport.Connect(context.Background())
	var connErr *mcpeek.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestHTTPTransportNotificationStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer does not support flushing")
			return
		}
		fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/tools/list_changed\"}\n\n")
		flusher.Flush()

		// Hold the stream open until the client disconnects.
		<-r.Context().Done()
	}))
	defer srv.Close()

	transport := mcpeek.NewHTTPTransport(
		mcpeek.Endpoint{Raw: srv.URL},
		mcpeek.WithNotificationStream(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer transport.Close()

	msg, err := transport.Receive(ctx)
	if err != nil {
		t.Fatalf("failed to receive pushed notification: %v", err)
	}
	if msg.Method != "notifications/tools/list_changed" {
		t.Errorf("unexpected pushed message: %+v", msg)
	}
}
