package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		{
			Name: "tumor_detect",
			Description: "Run tumor detection on a PNG, JPEG or DICOM file. Returns has_tumor, the confidence and its band, " +
				"the detected regions and the paths of the generated visualization images.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file (.png, .jpg, .jpeg or .dcm)",
					},
					"output_dir": map[string]interface{}{
						"type":        "string",
						"description": "Directory for the generated images. Defaults to the configured output directory.",
					},
					"base_name": map[string]interface{}{
						"type":        "string",
						"description": "File name prefix for the generated images. Defaults to the input file name without extension.",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_inspect",
			Description: "Read an image's dimensions, format, channel count, bit depth and frame count without running detection.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "artifact_kinds",
			Description: "List the visualization kinds this server can generate and which of them every detection writes.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
