package mcpeek

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// StdIOTransport talks to an MCP server running as a local subprocess, framing each
// JSON-RPC message as one JSON document per line over the process's stdin/stdout. The
// process's standard error is streamed to the logger and never parsed as protocol data.
//
// Close sends the process a termination signal, waits a bounded grace period, and
// force-kills if the process has not exited; a Receive blocked on the process's stdout
// observes closure no later than the grace deadline. A premature process exit or broken
// pipe surfaces as a ConnectionError on the next Send or as ErrTransportClosed on Receive.
type StdIOTransport struct {
	argv   []string
	grace  time.Duration
	logger *slog.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	messages chan JSONRPCMessage
	writes   chan stdioWrite

	done   chan struct{}
	exited chan struct{}

	closeOnce sync.Once
	closeErr  error
}

type stdioWrite struct {
	msg  []byte
	errs chan error
}

// NewStdIOTransport creates a transport that will spawn argv[0] with the remaining
// elements as arguments. The process is not started until Connect.
func NewStdIOTransport(argv []string, options ...TransportOption) *StdIOTransport {
	opts := buildTransportOptions(options)

	return &StdIOTransport{
		argv:     argv,
		grace:    opts.terminateGrace,
		logger:   opts.logger.With("session", uuid.NewString(), "command", argv[0]),
		messages: make(chan JSONRPCMessage),
		writes:   make(chan stdioWrite),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// Connect spawns the subprocess and starts the reader, writer, and stderr pumps. A spawn
// failure is reported as a ConnectionError.
func (s *StdIOTransport) Connect(_ context.Context) error {
	cmd := exec.Command(s.argv[0], s.argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &ConnectionError{Op: "spawn", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &ConnectionError{Op: "spawn", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &ConnectionError{Op: "spawn", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &ConnectionError{Op: "spawn", Err: fmt.Errorf("failed to start %s: %w", s.argv[0], err)}
	}

	s.cmd = cmd
	s.stdin = stdin

	readClosed := make(chan struct{})
	stderrClosed := make(chan struct{})

	go s.processReadMessages(stdout, readClosed)
	go s.processStderr(stderr, stderrClosed)
	go s.processWriteMessages()

	// Wait is only safe once both pipe readers are drained.
	go func() {
		<-readClosed
		<-stderrClosed
		if err := cmd.Wait(); err != nil {
			s.logger.Debug("process exited", "err", err)
		}
		close(s.exited)
	}()

	s.logger.Info("started stdio process")

	return nil
}

// Send frames msg as one JSON line and queues it for delivery on the process's stdin.
func (s *StdIOTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	// Append newline to maintain message framing protocol
	msgBs = append(msgBs, '\n')

	w := stdioWrite{
		msg:  msgBs,
		errs: make(chan error, 1),
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrTransportClosed
	case s.writes <- w:
	}

	select {
	case err := <-w.errs:
		if err != nil {
			return &ConnectionError{Op: "send", Err: err}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrTransportClosed
	}
}

// Receive blocks until the process emits the next message line, the context is done, or
// the channel closes.
func (s *StdIOTransport) Receive(ctx context.Context) (JSONRPCMessage, error) {
	select {
	case <-ctx.Done():
		return JSONRPCMessage{}, ctx.Err()
	case <-s.done:
		return JSONRPCMessage{}, ErrTransportClosed
	case msg, ok := <-s.messages:
		if !ok {
			return JSONRPCMessage{}, ErrTransportClosed
		}
		return msg, nil
	}
}

// Close terminates the subprocess: stdin is closed, the process receives SIGTERM, and if
// it has not exited within the grace period it is killed. Close returns once the process
// has been reaped, so it is bounded by the grace period plus the kill.
func (s *StdIOTransport) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		if s.cmd == nil || s.cmd.Process == nil {
			return
		}

		if err := s.stdin.Close(); err != nil {
			s.logger.Debug("failed to close stdin", "err", err)
		}

		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Debug("failed to signal process", "err", err)
		}

		select {
		case <-s.exited:
		case <-time.After(s.grace):
			s.logger.Warn("process did not exit within grace period, killing")
			if err := s.cmd.Process.Kill(); err != nil {
				s.closeErr = fmt.Errorf("failed to kill process: %w", err)
				return
			}
			<-s.exited
		}

		s.logger.Info("stdio process closed")
	})

	return s.closeErr
}

func (s *StdIOTransport) processReadMessages(stdout io.Reader, readClosed chan<- struct{}) {
	defer close(readClosed)
	defer close(s.messages)

	// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error("failed to read message", "err", err)
			}
			return
		}

		line = line[:len(line)-1]
		if line == "" {
			continue
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			s.logger.Error("failed to unmarshal message", "err", err)
			continue
		}

		select {
		case <-s.done:
			return
		case s.messages <- msg:
		}
	}
}

func (s *StdIOTransport) processStderr(stderr io.Reader, stderrClosed chan<- struct{}) {
	defer close(stderrClosed)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		s.logger.Warn("server stderr", "line", scanner.Text())
	}
}

func (s *StdIOTransport) processWriteMessages() {
	for {
		var w stdioWrite
		select {
		case <-s.done:
			return
		case w = <-s.writes:
		}

		_, err := s.stdin.Write(w.msg)

		w.errs <- err
	}
}
