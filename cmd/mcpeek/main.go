// Command mcpeek explores MCP servers: it connects to an HTTP endpoint or a local
// subprocess, discovers the server's tools, resources, and prompts, and executes single
// operations against them.
//
// Usage:
//
//	mcpeek [flags] <endpoint>
//
// The endpoint is either an http(s) URL or a command line to spawn. With no operation
// flag, mcpeek discovers the server at the configured verbosity.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MegaGrindStone/mcpeek"
)

const version = "0.1.0"

const usage = `Usage: mcpeek [flags] <endpoint>

The endpoint is an http(s) URL or a command line to spawn, e.g.:

  mcpeek https://mcp.example.com/rpc
  mcpeek -v 2 "npx -y @modelcontextprotocol/server-filesystem /tmp"
  mcpeek --tool echo --input '{"text":"hi"}' ./my-server

Flags:
`

var errInterrupted = errors.New("interrupted")

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("mcpeek", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}

	var (
		toolName    = fs.String("tool", "", "call this tool")
		resourceURI = fs.String("resource", "", "read this resource")
		promptName  = fs.String("prompt", "", "get this prompt")
		input       = fs.String("input", "", "argument object as a JSON literal, or @file")
		useStdin    = fs.Bool("stdin", false, "read the argument object from standard input")
		tickle      = fs.Bool("tickle", false, "probe each read-only-looking tool for reachability")
		verbosity   = fs.Int("v", -1, "discovery verbosity, 0-3")
		format      = fs.String("format", "", "output format: json or table")
		timeout     = fs.Duration("timeout", 0, "per-call timeout")
		apiKey      = fs.String("api-key", "", "API key sent as an Authorization bearer header")
		authHeader  = fs.String("auth-header", "", `complete auth header, "Name: value"`)
		logLevel    = fs.String("log-level", "", "log level: debug, info, warn, or error")
		configPath  = fs.String("config", "", "path to a YAML config file")
	)
	fs.Parse(os.Args[1:])

	if fs.NArg() != 1 {
		fs.Usage()
		return 1
	}
	endpointArg := fs.Arg(0)

	cfg, err := mcpeek.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mcpeek:", err)
		return 1
	}

	if *verbosity >= 0 {
		cfg.Verbosity = *verbosity
	}
	if *timeout != 0 {
		cfg.Timeout = *timeout
	}
	if *format != "" {
		cfg.Format = *format
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *apiKey != "" {
		cfg.APIKey = *apiKey
	}
	if *authHeader != "" {
		cfg.AuthHeader = *authHeader
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpeek:", err)
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := execute(ctx, cfg, logger, endpointArg, operation{
		tool:     *toolName,
		resource: *resourceURI,
		prompt:   *promptName,
		input:    *input,
		useStdin: *useStdin,
		tickle:   *tickle,
	})
	if err != nil {
		if errors.Is(err, errInterrupted) {
			fmt.Fprintln(os.Stderr, "mcpeek: interrupted")
			return 130
		}
		fmt.Fprintln(os.Stderr, "mcpeek:", err)
		return 1
	}

	if err := writeResult(os.Stdout, result, cfg.Format); err != nil {
		fmt.Fprintln(os.Stderr, "mcpeek:", err)
		return 1
	}

	return 0
}

type operation struct {
	tool     string
	resource string
	prompt   string
	input    string
	useStdin bool
	tickle   bool
}

func execute(ctx context.Context, cfg mcpeek.Config, logger *slog.Logger, endpointArg string, op operation) (any, error) {
	endpoint := mcpeek.Endpoint{Raw: endpointArg}
	if endpoint.IsHTTP() {
		headers, err := cfg.ResolveAuth(endpointArg)
		if err != nil {
			return nil, err
		}
		endpoint.Headers = headers
		for name, value := range headers {
			logger.Debug("resolved auth header", "name", name, "value", mcpeek.Redact(value))
		}
	}

	transport, err := mcpeek.NewTransport(endpoint, mcpeek.WithTransportLogger(logger))
	if err != nil {
		return nil, err
	}

	client := mcpeek.NewClient(
		mcpeek.Info{Name: "mcpeek", Version: version},
		transport,
		mcpeek.WithClientLogger(logger),
		mcpeek.WithCallTimeout(cfg.Timeout),
	)
	defer client.Close()

	if err := client.Initialize(ctx); err != nil {
		return nil, interrupted(ctx, err)
	}

	var result any
	switch {
	case op.tool != "":
		args, err := readArguments(op.input, op.useStdin)
		if err != nil {
			return nil, err
		}
		engine := mcpeek.NewExecutionEngine(client, mcpeek.WithExecutionLogger(logger))
		result, err = engine.CallTool(ctx, op.tool, args)
		if err != nil {
			return nil, interrupted(ctx, err)
		}
	case op.resource != "":
		engine := mcpeek.NewExecutionEngine(client, mcpeek.WithExecutionLogger(logger))
		result, err = engine.ReadResource(ctx, op.resource)
		if err != nil {
			return nil, interrupted(ctx, err)
		}
	case op.prompt != "":
		raw, err := readArguments(op.input, op.useStdin)
		if err != nil {
			return nil, err
		}
		args := map[string]string{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("prompt arguments must be a JSON object of strings: %w", err)
			}
		}
		engine := mcpeek.NewExecutionEngine(client, mcpeek.WithExecutionLogger(logger))
		result, err = engine.GetPrompt(ctx, op.prompt, args)
		if err != nil {
			return nil, interrupted(ctx, err)
		}
	default:
		opts := []mcpeek.DiscoveryOption{
			mcpeek.WithDiscoveryLogger(logger),
			mcpeek.WithTickleTimeout(cfg.Timeout),
		}
		if op.tickle {
			opts = append(opts, mcpeek.WithTickle())
		}
		engine := mcpeek.NewDiscoveryEngine(client, opts...)
		result, err = engine.Discover(ctx, cfg.Verbosity)
		if err != nil {
			return nil, interrupted(ctx, err)
		}
	}

	return result, nil
}

// readArguments sources the argument object: a JSON literal, an @file reference, or
// standard input. Empty input yields no arguments.
func readArguments(input string, useStdin bool) (json.RawMessage, error) {
	switch {
	case useStdin:
		bs, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read arguments from stdin: %w", err)
		}
		return bs, nil
	case strings.HasPrefix(input, "@"):
		bs, err := os.ReadFile(strings.TrimPrefix(input, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read arguments file: %w", err)
		}
		return bs, nil
	case input != "":
		return json.RawMessage(input), nil
	default:
		return nil, nil
	}
}

// interrupted folds a context cancellation caused by SIGINT/SIGTERM into a sentinel the
// caller maps to exit code 130.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errInterrupted
	}
	return err
}
