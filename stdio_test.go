package mcpeek_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/mcpeek"
)

func TestStdIOTransportEcho(t *testing.T) {
	transport := mcpeek.NewStdIOTransport([]string{"cat"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer transport.Close()

	sent := mcpeek.JSONRPCMessage{
		JSONRPC: mcpeek.JSONRPCVersion,
		ID:      "1",
		Method:  "test/echo",
	}
	if err := transport.Send(ctx, sent); err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	got, err := transport.Receive(ctx)
	if err != nil {
		t.Fatalf("failed to receive: %v", err)
	}
	if got.ID != sent.ID || got.Method != sent.Method {
		t.Errorf("echoed message mismatch: %+v", got)
	}
}

func TestStdIOTransportSpawnFailure(t *testing.T) {
	transport := mcpeek.NewStdIOTransport([]string{"/definitely/not/a/command"})

	err := transport.Connect(context.Background())
	var connErr *mcpeek.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestStdIOTransportClosedOnProcessExit(t *testing.T) {
	transport := mcpeek.NewStdIOTransport([]string{"true"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer transport.Close()

	_, err := transport.Receive(ctx)
	if !errors.Is(err, mcpeek.ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestStdIOTransportKillsStubbornProcess(t *testing.T) {
	// The subprocess ignores SIGTERM, so closing must escalate to SIGKILL after the
	// grace period and still return in bounded time.
	transport := mcpeek.NewStdIOTransport(
		[]string{"sh", "-c", `trap '' TERM; while :; do sleep 0.1; done`},
		mcpeek.WithTerminateGrace(200*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	// Give the shell a moment to install its trap.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := transport.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("close took %s, want bounded by grace period plus kill", elapsed)
	}

	if _, err := transport.Receive(ctx); !errors.Is(err, mcpeek.ErrTransportClosed) {
		t.Errorf("expected ErrTransportClosed after close, got %v", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStdIOTransportForwardsStderrToLogger(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	transport := mcpeek.NewStdIOTransport(
		[]string{"sh", "-c", "echo whoops >&2; cat"},
		mcpeek.WithTransportLogger(logger),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := transport.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer transport.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(logs.String(), "whoops") {
		if time.Now().After(deadline) {
			t.Fatal("stderr output never reached the logger")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
