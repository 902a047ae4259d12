package mcpeek

import (
	"fmt"
	"strings"
)

// Endpoint identifies an MCP server: either a URL reached over HTTP(S) or a command line
// spawned as a local subprocess, plus optional request headers for the HTTP case. An
// Endpoint is immutable once a Transport has been built from it.
type Endpoint struct {
	// Raw is the endpoint string as supplied by the caller.
	Raw string

	// Headers carries auth and other request headers for HTTP endpoints.
	Headers map[string]string
}

// IsHTTP reports whether the endpoint is reached over HTTP(S) rather than by spawning a
// subprocess.
func (e Endpoint) IsHTTP() bool {
	return strings.HasPrefix(e.Raw, "http://") || strings.HasPrefix(e.Raw, "https://")
}

// NewTransport selects and constructs the Transport matching the endpoint's syntax: URLs
// beginning with http:// or https:// get an HTTPTransport, anything else is treated as a
// command line for a StdIOTransport. The returned transport is not yet connected.
func NewTransport(endpoint Endpoint, options ...TransportOption) (Transport, error) {
	if endpoint.Raw == "" {
		return nil, &ValidationError{Reason: "endpoint is required"}
	}

	if endpoint.IsHTTP() {
		return NewHTTPTransport(endpoint, options...), nil
	}

	argv, err := SplitCommand(endpoint.Raw)
	if err != nil {
		return nil, err
	}
	return NewStdIOTransport(argv, options...), nil
}

// SplitCommand splits a command string into argv, honoring single quotes, double quotes,
// and backslash escapes outside single quotes. It returns a ValidationError for an
// unterminated quote or a trailing backslash.
func SplitCommand(command string) ([]string, error) {
	var (
		argv    []string
		current strings.Builder
		inWord  bool
		quote   rune
	)

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		c := runes[i]

		switch {
		case quote == '\'':
			if c == '\'' {
				quote = 0
				continue
			}
			current.WriteRune(c)
		case quote == '"':
			if c == '"' {
				quote = 0
				continue
			}
			if c == '\\' && i+1 < len(runes) {
				next := runes[i+1]
				if next == '"' || next == '\\' {
					current.WriteRune(next)
					i++
					continue
				}
			}
			current.WriteRune(c)
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == '\\':
			if i+1 >= len(runes) {
				return nil, &ValidationError{Reason: fmt.Sprintf("invalid command string %q: trailing backslash", command)}
			}
			current.WriteRune(runes[i+1])
			i++
			inWord = true
		case c == ' ' || c == '\t' || c == '\n':
			if inWord {
				argv = append(argv, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(c)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid command string %q: unterminated quote", command)}
	}
	if inWord {
		argv = append(argv, current.String())
	}
	if len(argv) == 0 {
		return nil, &ValidationError{Reason: "empty command string"}
	}

	return argv, nil
}
