package mcpeek

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DiscoveryOption is a function that configures a discovery engine.
type DiscoveryOption func(*DiscoveryEngine)

// DiscoveryEngine catalogs what a server offers, at a caller-selected level of detail.
// The three catalog fetches (tools, resources, prompts) run concurrently, and a server
// that does not support one family simply yields an empty list for it.
type DiscoveryEngine struct {
	client *Client
	logger *slog.Logger

	tickle        bool
	tickleTimeout time.Duration
}

// DiscoveryResult aggregates everything learned about a server. Which fields are
// populated, and how deeply, depends on the verbosity passed to Discover.
type DiscoveryResult struct {
	Server       Info               `json:"server"`
	Capabilities ServerCapabilities `json:"capabilities"`
	Tools        []ToolInfo         `json:"tools,omitempty"`
	Resources    []ResourceInfo     `json:"resources,omitempty"`
	Prompts      []PromptInfo       `json:"prompts,omitempty"`
}

// ToolInfo describes one discovered tool. Reachable is nil unless tickle mode probed the
// tool, in which case it records whether the tool answered.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Reachable   *bool           `json:"reachable,omitempty"`
}

// ToolParameter is one entry of a tool's input schema, flattened for display.
type ToolParameter struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// ResourceInfo describes one discovered resource.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PromptInfo describes one discovered prompt.
type PromptInfo struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

const defaultTickleTimeout = 5 * time.Second

// WithDiscoveryLogger sets the logger for the discovery engine. Defaults to slog.Default().
func WithDiscoveryLogger(logger *slog.Logger) DiscoveryOption {
	return func(d *DiscoveryEngine) {
		d.logger = logger
	}
}

// WithTickle enables reachability probing: after cataloging, each tool whose name looks
// read-only is invoked once with placeholder arguments to check that it answers.
func WithTickle() DiscoveryOption {
	return func(d *DiscoveryEngine) {
		d.tickle = true
	}
}

// WithTickleTimeout sets the per-tool timeout for tickle probes. Defaults to 5 seconds.
func WithTickleTimeout(timeout time.Duration) DiscoveryOption {
	return func(d *DiscoveryEngine) {
		d.tickleTimeout = timeout
	}
}

// NewDiscoveryEngine creates a discovery engine around an initialized client.
func NewDiscoveryEngine(client *Client, options ...DiscoveryOption) *DiscoveryEngine {
	d := &DiscoveryEngine{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}

	if d.tickleTimeout == 0 {
		d.tickleTimeout = defaultTickleTimeout
	}

	return d
}

// Discover catalogs the server at the given verbosity:
//
//   - 0: only the handshake's server info and capabilities, no further calls
//   - 1: also tool/resource/prompt names with descriptions
//   - 2: also tool parameter names with required flags, resource mime types, prompt arguments
//   - 3: also each tool's full input schema
//
// A family the server does not support (method not found) becomes an empty list; discovery
// never aborts because one family is absent. Any other failure from a catalog fetch fails
// discovery as a whole.
func (d *DiscoveryEngine) Discover(ctx context.Context, verbosity int) (DiscoveryResult, error) {
	if verbosity < 0 || verbosity > 3 {
		return DiscoveryResult{}, &ValidationError{
			Reason: fmt.Sprintf("verbosity must be between 0 and 3, got %d", verbosity),
		}
	}

	result := DiscoveryResult{
		Server:       d.client.ServerInfo(),
		Capabilities: d.client.ServerCapabilities(),
	}

	if verbosity == 0 && !d.tickle {
		return result, nil
	}

	var (
		wg        sync.WaitGroup
		tools     []Tool
		resources []Resource
		prompts   []Prompt

		toolsErr, resourcesErr, promptsErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		tools, toolsErr = d.client.ListTools(ctx)
		toolsErr = d.swallowCapabilityError("tools", toolsErr)
	}()
	go func() {
		defer wg.Done()
		resources, resourcesErr = d.client.ListResources(ctx)
		resourcesErr = d.swallowCapabilityError("resources", resourcesErr)
	}()
	go func() {
		defer wg.Done()
		prompts, promptsErr = d.client.ListPrompts(ctx)
		promptsErr = d.swallowCapabilityError("prompts", promptsErr)
	}()
	wg.Wait()

	if err := errors.Join(toolsErr, resourcesErr, promptsErr); err != nil {
		return DiscoveryResult{}, fmt.Errorf("discovery failed: %w", err)
	}

	if verbosity >= 1 {
		result.Tools = shapeTools(tools, verbosity)
		result.Resources = shapeResources(resources, verbosity)
		result.Prompts = shapePrompts(prompts, verbosity)
	}

	if d.tickle {
		if result.Tools == nil {
			result.Tools = shapeTools(tools, 0)
		}
		d.tickleTools(ctx, tools, result.Tools)
	}

	return result, nil
}

// swallowCapabilityError turns "server does not support this family" into an empty result.
func (d *DiscoveryEngine) swallowCapabilityError(family string, err error) error {
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		d.logger.Debug("capability not supported", "family", family)
		return nil
	}
	return err
}

func shapeTools(tools []Tool, verbosity int) []ToolInfo {
	infos := make([]ToolInfo, 0, len(tools))
	for _, t := range tools {
		info := ToolInfo{Name: t.Name}
		if verbosity >= 1 {
			info.Description = t.Description
		}
		if verbosity >= 2 {
			info.Parameters = flattenSchema(t.InputSchema)
		}
		if verbosity >= 3 {
			info.InputSchema = t.InputSchema
		}
		infos = append(infos, info)
	}
	return infos
}

func shapeResources(resources []Resource, verbosity int) []ResourceInfo {
	infos := make([]ResourceInfo, 0, len(resources))
	for _, r := range resources {
		info := ResourceInfo{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
		}
		if verbosity >= 2 {
			info.MimeType = r.MimeType
		}
		infos = append(infos, info)
	}
	return infos
}

func shapePrompts(prompts []Prompt, verbosity int) []PromptInfo {
	infos := make([]PromptInfo, 0, len(prompts))
	for _, p := range prompts {
		info := PromptInfo{
			Name:        p.Name,
			Description: p.Description,
		}
		if verbosity >= 2 {
			info.Arguments = p.Arguments
		}
		infos = append(infos, info)
	}
	return infos
}

// inputSchema is the subset of JSON Schema the engine understands: a flat object with
// typed properties and a required list.
type inputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required"`
}

type schemaProperty struct {
	Type string `json:"type"`
}

// flattenSchema extracts parameter names, types, and required flags from a tool's input
// schema for display. A schema the engine cannot parse yields no parameters.
func flattenSchema(schema json.RawMessage) []ToolParameter {
	if len(schema) == 0 {
		return nil
	}

	var parsed inputSchema
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return nil
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, name := range parsed.Required {
		required[name] = true
	}

	params := make([]ToolParameter, 0, len(parsed.Properties))
	for name, prop := range parsed.Properties {
		params = append(params, ToolParameter{
			Name:     name,
			Type:     prop.Type,
			Required: required[name],
		})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })

	return params
}

// tickleTools probes each safely-named tool once, sequentially, each under its own
// timeout. Tools whose names suggest side effects are skipped and keep a nil Reachable.
func (d *DiscoveryEngine) tickleTools(ctx context.Context, tools []Tool, infos []ToolInfo) {
	for i, t := range tools {
		if !safeToTickle(t.Name) {
			d.logger.Debug("skipping tickle for unsafe-looking tool", "tool", t.Name)
			continue
		}

		reachable := d.tickleOne(ctx, t)
		infos[i].Reachable = &reachable
	}
}

func (d *DiscoveryEngine) tickleOne(ctx context.Context, tool Tool) bool {
	tickleCtx, cancel := context.WithTimeout(ctx, d.tickleTimeout)
	defer cancel()

	args := placeholderArgs(tool.InputSchema)
	_, err := d.client.CallTool(tickleCtx, tool.Name, args)
	if err != nil {
		d.logger.Debug("tickle failed", "tool", tool.Name, "err", err)
		return false
	}

	return true
}

var (
	safeTicklePrefixes = []string{"list", "get", "show", "help", "status", "read"}
	safeTickleMarkers  = []string{"_list", "_status", "_help", "_info"}
)

// safeToTickle reports whether a tool's name suggests a read-only operation. Only such
// tools are probed; anything else might have side effects not worth a reachability check.
func safeToTickle(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range safeTicklePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, marker := range safeTickleMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// placeholderArgs builds a minimal argument object satisfying the schema's required
// fields, using zero values per declared type.
func placeholderArgs(schema json.RawMessage) json.RawMessage {
	empty := json.RawMessage("{}")
	if len(schema) == 0 {
		return empty
	}

	var parsed inputSchema
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return empty
	}

	args := make(map[string]any, len(parsed.Required))
	for _, name := range parsed.Required {
		switch parsed.Properties[name].Type {
		case "number", "integer":
			args[name] = 0
		case "boolean":
			args[name] = false
		case "array":
			args[name] = []any{}
		case "object":
			args[name] = map[string]any{}
		default:
			args[name] = ""
		}
	}

	bs, err := json.Marshal(args)
	if err != nil {
		return empty
	}

	return bs
}
