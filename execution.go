package mcpeek

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// ExecutionOption is a function that configures an execution engine.
type ExecutionOption func(*ExecutionEngine)

// ExecutionEngine invokes a single tool, resource, or prompt operation through an
// initialized client. Tool arguments are validated locally against the tool's input
// schema before anything goes over the wire, so a malformed invocation costs zero
// network calls.
type ExecutionEngine struct {
	client *Client
	logger *slog.Logger

	mu          sync.Mutex
	toolSchemas map[string]json.RawMessage
	promptArgs  map[string][]PromptArgument
}

// WithExecutionLogger sets the logger for the execution engine. Defaults to slog.Default().
func WithExecutionLogger(logger *slog.Logger) ExecutionOption {
	return func(e *ExecutionEngine) {
		e.logger = logger
	}
}

// NewExecutionEngine creates an execution engine around an initialized client.
func NewExecutionEngine(client *Client, options ...ExecutionOption) *ExecutionEngine {
	e := &ExecutionEngine{
		client:      client,
		logger:      slog.Default(),
		toolSchemas: make(map[string]json.RawMessage),
		promptArgs:  make(map[string][]PromptArgument),
	}
	for _, opt := range options {
		opt(e)
	}

	return e
}

// PrimeTools fetches the server's tool catalog once and caches each tool's input schema,
// so subsequent CallTool invocations validate locally without an extra list round trip.
func (e *ExecutionEngine) PrimeTools(ctx context.Context) error {
	tools, err := e.client.ListTools(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, t := range tools {
		e.toolSchemas[t.Name] = t.InputSchema
	}
	e.mu.Unlock()

	return nil
}

// CallTool validates args against the tool's cached input schema and, when they satisfy
// it, issues exactly one tools/call round trip. The schema is fetched on first use if not
// already cached. A validation failure returns ValidationError without touching the wire;
// a tool whose schema the server never advertised is sent as-is and left to the server to
// judge.
func (e *ExecutionEngine) CallTool(ctx context.Context, name string, args json.RawMessage) (CallToolResult, error) {
	e.mu.Lock()
	schema, cached := e.toolSchemas[name]
	e.mu.Unlock()

	if !cached {
		if err := e.PrimeTools(ctx); err != nil {
			return CallToolResult{}, err
		}
		e.mu.Lock()
		schema, cached = e.toolSchemas[name]
		e.mu.Unlock()
	}

	if !cached {
		e.logger.Debug("tool not in catalog, skipping local validation", "tool", name)
	} else if err := validateArguments(schema, args); err != nil {
		return CallToolResult{}, err
	}

	return e.client.CallTool(ctx, name, args)
}

// ReadResource issues exactly one resources/read round trip and returns the contents
// unchanged.
func (e *ExecutionEngine) ReadResource(ctx context.Context, uri string) (ReadResourceResult, error) {
	if uri == "" {
		return ReadResourceResult{}, &ValidationError{Reason: "resource uri must not be empty"}
	}

	return e.client.ReadResource(ctx, uri)
}

// GetPrompt checks the prompt's required arguments against the server's advertised
// descriptor and issues exactly one prompts/get round trip. The descriptor catalog is
// fetched on first use.
func (e *ExecutionEngine) GetPrompt(ctx context.Context, name string, args map[string]string) (GetPromptResult, error) {
	e.mu.Lock()
	declared, cached := e.promptArgs[name]
	e.mu.Unlock()

	if !cached {
		prompts, err := e.client.ListPrompts(ctx)
		if err != nil {
			return GetPromptResult{}, err
		}

		e.mu.Lock()
		for _, p := range prompts {
			e.promptArgs[p.Name] = p.Arguments
		}
		declared, cached = e.promptArgs[name]
		e.mu.Unlock()
	}

	if cached {
		for _, arg := range declared {
			if !arg.Required {
				continue
			}
			if _, ok := args[arg.Name]; !ok {
				return GetPromptResult{}, &ValidationError{
					Reason: fmt.Sprintf("missing required prompt argument %q", arg.Name),
				}
			}
		}
	}

	return e.client.GetPrompt(ctx, name, args)
}

// validateArguments checks args against a tool input schema: the argument value must be a
// JSON object, every required field must be present, and each provided field must match
// its declared basic type. Schema features beyond that (nested schemas, formats, enums)
// are left to the server.
func validateArguments(schema, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	var parsed inputSchema
	if err := json.Unmarshal(schema, &parsed); err != nil {
		// An unparseable schema is the server's problem, not the caller's.
		return nil
	}

	provided := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &provided); err != nil {
			return &ValidationError{Reason: fmt.Sprintf("arguments must be a JSON object: %v", err)}
		}
	}

	for _, name := range parsed.Required {
		if _, ok := provided[name]; !ok {
			return &ValidationError{Reason: fmt.Sprintf("missing required argument %q", name)}
		}
	}

	for name, value := range provided {
		prop, declared := parsed.Properties[name]
		if !declared {
			continue
		}
		if err := checkType(name, prop.Type, value); err != nil {
			return err
		}
	}

	return nil
}

func checkType(name, typ string, value any) error {
	ok := true
	switch typ {
	case "string":
		_, ok = value.(string)
	case "number":
		_, ok = value.(float64)
	case "integer":
		f, isNum := value.(float64)
		ok = isNum && f == math.Trunc(f)
	case "boolean":
		_, ok = value.(bool)
	case "array":
		_, ok = value.([]any)
	case "object":
		_, ok = value.(map[string]any)
	}

	if !ok {
		return &ValidationError{
			Reason: fmt.Sprintf("argument %q must be of type %s", name, typ),
		}
	}

	return nil
}
