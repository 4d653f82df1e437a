// Package server implements the MCP (Model Context Protocol) server for tumor detection.
//
// This package provides a JSON-RPC 2.0 server that exposes the detection pipeline
// through the MCP protocol, so MCP-compatible clients can submit scans and read
// back the decision and the paths of the generated images.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
//   - tumor_detect: Run the pipeline on one file
//   - image_inspect: Read image metadata without running detection
//   - artifact_kinds: List supported and configured visualization kinds
//
// # Error Handling
//
// Tool errors are returned as JSON-RPC error responses:
//   - code -32602: missing or malformed tool arguments, unknown tool
//   - code -32000: the tool ran and failed; data is a ToolErrorData whose
//     code field is the scanerr code (decode_error, timeout, ...)
//
// A failed tumor_detect never produces a result, so a client can not read a
// failure as has_tumor=false.
//
// # Usage
//
//	srv := server.New(p, version)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
