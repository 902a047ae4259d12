// Package mcpeek implements a Model Context Protocol (MCP) exploration client. It connects
// to an MCP endpoint, either over HTTP(S) or by spawning a local subprocess, negotiates
// capabilities through the protocol handshake, and exposes uniform operations to enumerate
// and invoke the endpoint's tools, resources, and prompts. The protocol follows the official
// specification at https://spec.modelcontextprotocol.io/specification/.
//
// The package is transport-agnostic: Client owns a Transport and correlates out-of-order
// responses to concurrent callers, DiscoveryEngine catalogs server capabilities at a chosen
// verbosity level, and ExecutionEngine validates and invokes a single operation. Output
// formatting and argument sourcing live in cmd/mcpeek, not here.
package mcpeek
