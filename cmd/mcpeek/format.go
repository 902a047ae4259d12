package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/MegaGrindStone/mcpeek"
)

// writeResult renders a discovery or execution result in the requested format.
func writeResult(w io.Writer, result any, format string) error {
	if format == "table" {
		return writeTable(w, result)
	}
	return writeJSON(w, result)
}

func writeJSON(w io.Writer, result any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func writeTable(w io.Writer, result any) error {
	switch r := result.(type) {
	case mcpeek.DiscoveryResult:
		return writeDiscoveryTable(w, r)
	case mcpeek.CallToolResult:
		return writeContent(w, r.Content, r.IsError)
	case mcpeek.ReadResourceResult:
		return writeResourceContents(w, r.Contents)
	case mcpeek.GetPromptResult:
		return writePromptTable(w, r)
	default:
		return writeJSON(w, result)
	}
}

func writeDiscoveryTable(w io.Writer, r mcpeek.DiscoveryResult) error {
	fmt.Fprintf(w, "Server: %s %s\n", r.Server.Name, r.Server.Version)
	fmt.Fprintf(w, "Capabilities: %s\n", capabilitySummary(r.Capabilities))

	if len(r.Tools) > 0 {
		fmt.Fprintf(w, "\nTools (%d):\n", len(r.Tools))
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		for _, t := range r.Tools {
			row := []string{t.Name, t.Description}
			if len(t.Parameters) > 0 {
				row = append(row, parameterSummary(t.Parameters))
			}
			if t.Reachable != nil {
				if *t.Reachable {
					row = append(row, "reachable")
				} else {
					row = append(row, "unreachable")
				}
			}
			fmt.Fprintf(tw, "  %s\n", strings.Join(row, "\t"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Resources) > 0 {
		fmt.Fprintf(w, "\nResources (%d):\n", len(r.Resources))
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		for _, res := range r.Resources {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", res.URI, res.Name, res.MimeType, res.Description)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(r.Prompts) > 0 {
		fmt.Fprintf(w, "\nPrompts (%d):\n", len(r.Prompts))
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		for _, p := range r.Prompts {
			args := make([]string, 0, len(p.Arguments))
			for _, a := range p.Arguments {
				if a.Required {
					args = append(args, a.Name+"*")
					continue
				}
				args = append(args, a.Name)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", p.Name, p.Description, strings.Join(args, ", "))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	return nil
}

func capabilitySummary(caps mcpeek.ServerCapabilities) string {
	var families []string
	if caps.Tools != nil {
		families = append(families, "tools")
	}
	if caps.Resources != nil {
		families = append(families, "resources")
	}
	if caps.Prompts != nil {
		families = append(families, "prompts")
	}
	if caps.Logging != nil {
		families = append(families, "logging")
	}
	if len(families) == 0 {
		return "(none declared)"
	}
	return strings.Join(families, ", ")
}

func parameterSummary(params []mcpeek.ToolParameter) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		s := p.Name
		if p.Type != "" {
			s += ":" + p.Type
		}
		if p.Required {
			s += "*"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

func writeContent(w io.Writer, content []mcpeek.Content, isError bool) error {
	if isError {
		fmt.Fprintln(w, "(tool reported an error)")
	}
	for _, c := range content {
		switch c.Type {
		case mcpeek.ContentTypeText:
			fmt.Fprintln(w, c.Text)
		case mcpeek.ContentTypeImage, mcpeek.ContentTypeAudio:
			fmt.Fprintf(w, "[%s %s, %d bytes base64]\n", c.Type, c.MimeType, len(c.Data))
		case mcpeek.ContentTypeResource:
			if c.Resource != nil {
				fmt.Fprintf(w, "[resource %s]\n", c.Resource.URI)
			}
		default:
			fmt.Fprintf(w, "[%s content]\n", c.Type)
		}
	}
	return nil
}

func writeResourceContents(w io.Writer, contents []mcpeek.ResourceContents) error {
	for _, c := range contents {
		if c.Text != "" {
			fmt.Fprintln(w, c.Text)
			continue
		}
		fmt.Fprintf(w, "[binary %s %s, %d bytes base64]\n", c.URI, c.MimeType, len(c.Blob))
	}
	return nil
}

func writePromptTable(w io.Writer, r mcpeek.GetPromptResult) error {
	if r.Description != "" {
		fmt.Fprintln(w, r.Description)
	}
	for _, m := range r.Messages {
		fmt.Fprintf(w, "[%s]\n", m.Role)
		if err := writeContent(w, []mcpeek.Content{m.Content}, false); err != nil {
			return err
		}
	}
	return nil
}
