package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ironsheep/tumorscan/internal/imaging"
	"github.com/ironsheep/tumorscan/internal/pipeline"
	"github.com/ironsheep/tumorscan/internal/scanerr"
	"github.com/ironsheep/tumorscan/internal/visualize"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "tumor_detect").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// ToolErrorData is the data member of a -32000 error response.
type ToolErrorData struct {
	// Code is the stable failure code from scanerr.Code.
	Code string `json:"code"`

	// Error is the full error text.
	Error string `json:"error"`
}

// errInvalidArguments marks tool arguments that are missing or malformed.
var errInvalidArguments = errors.New("invalid arguments")

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Bad arguments return -32602. Tool failures return -32000 with a
// ToolErrorData whose code classifies the failure.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	start := time.Now()
	result, err := s.executeTool(ctx, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, errInvalidArguments) {
			return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
		}
		log.Printf("Tool %s failed after %s: %v", params.Name, time.Since(start), err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", ToolErrorData{
			Code:  scanerr.Code(err),
			Error: err.Error(),
		})
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	switch name {
	case "tumor_detect":
		return s.handleTumorDetect(ctx, args)
	case "image_inspect":
		return s.handleImageInspect(args)
	case "artifact_kinds":
		return s.handleArtifactKinds()
	default:
		return nil, fmt.Errorf("%w: unknown tool: %s", errInvalidArguments, name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// decodeArgs unmarshals tool arguments into dst. Empty arguments leave dst
// unchanged.
func decodeArgs(args json.RawMessage, dst interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidArguments, err)
	}
	return nil
}

type pathArgs struct {
	Path string `json:"path"`
}

func (a pathArgs) validate() error {
	if a.Path == "" {
		return fmt.Errorf("%w: path is required", errInvalidArguments)
	}
	return nil
}

type tumorDetectArgs struct {
	pathArgs
	OutputDir string `json:"output_dir"`
	BaseName  string `json:"base_name"`
}

func (s *Server) handleTumorDetect(ctx context.Context, args json.RawMessage) (interface{}, error) {
	var a tumorDetectArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}

	return s.scanner.Run(ctx, pipeline.Request{
		Path:      a.Path,
		OutputDir: a.OutputDir,
		BaseName:  a.BaseName,
	})
}

func (s *Server) handleImageInspect(args json.RawMessage) (interface{}, error) {
	var a pathArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if err := a.validate(); err != nil {
		return nil, err
	}

	return imaging.Inspect(a.Path)
}

// ArtifactKind describes one visualization kind.
type ArtifactKind struct {
	Kind        visualize.Kind `json:"kind"`
	Description string         `json:"description"`
	Enabled     bool           `json:"enabled"`
}

// ArtifactKindsResult is the result of artifact_kinds.
type ArtifactKindsResult struct {
	// Kinds lists every supported kind.
	Kinds []ArtifactKind `json:"kinds"`

	// Configured lists the kinds each detection writes, in output order.
	Configured []visualize.Kind `json:"configured"`
}

func (s *Server) handleArtifactKinds() (interface{}, error) {
	configured := s.scanner.Kinds()
	enabled := make(map[visualize.Kind]bool, len(configured))
	for _, k := range configured {
		enabled[k] = true
	}

	result := &ArtifactKindsResult{Configured: configured}
	for _, k := range visualize.AllKinds() {
		result.Kinds = append(result.Kinds, ArtifactKind{
			Kind:        k,
			Description: k.Description(),
			Enabled:     enabled[k],
		})
	}
	return result, nil
}
