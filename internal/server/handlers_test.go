package server

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ironsheep/tumorscan/internal/config"
	"github.com/ironsheep/tumorscan/internal/imaging"
	"github.com/ironsheep/tumorscan/internal/pipeline"
	"github.com/ironsheep/tumorscan/internal/postprocess"
	"github.com/ironsheep/tumorscan/internal/scanerr"
	"github.com/ironsheep/tumorscan/internal/visualize"
)

// createTestImageFile writes a gray PNG with an optional bright square and
// returns its path.
func createTestImageFile(t *testing.T, width, height int, withLesion bool) string {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8(60)
			if withLesion && x >= width/3 && x < width/2 && y >= height/3 && y < height/2 {
				v = 250
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}

	path := filepath.Join(t.TempDir(), "scan.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return path
}

func callTool(t *testing.T, s *Server, name string, args map[string]interface{}) *MCPResponse {
	t.Helper()

	params := map[string]interface{}{"name": name, "arguments": args}
	paramsJSON, _ := json.Marshal(params)

	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  paramsJSON,
	})
	if resp == nil {
		t.Fatal("handleRequest returned nil")
	}
	return resp
}

// decodeContent unmarshals the text content of a successful tool response.
func decodeContent(t *testing.T, resp *MCPResponse, dst interface{}) {
	t.Helper()

	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	content := result["content"].([]map[string]interface{})
	if len(content) != 1 || content[0]["type"] != "text" {
		t.Fatalf("unexpected content: %v", content)
	}
	if err := json.Unmarshal([]byte(content[0]["text"].(string)), dst); err != nil {
		t.Fatalf("failed to decode content: %v", err)
	}
}

func newPipelineServer(t *testing.T) (*Server, string) {
	t.Helper()

	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	p, err := pipeline.New(cfg)
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return New(p, "test"), cfg.OutputDir
}

func TestHandleToolsCall_TumorDetect(t *testing.T) {
	s, outDir := newPipelineServer(t)
	path := createTestImageFile(t, 128, 128, true)

	resp := callTool(t, s, "tumor_detect", map[string]interface{}{"path": path, "base_name": "case1"})

	var out pipeline.Output
	decodeContent(t, resp, &out)

	if !out.HasTumor {
		t.Errorf("expected a detection, got confidence %v", out.Confidence)
	}
	want := []string{
		filepath.Join(outDir, "case1_overlay.png"),
		filepath.Join(outDir, "case1_heatmap.png"),
	}
	if fmt.Sprint(out.Images) != fmt.Sprint(want) {
		t.Errorf("images: got %v, want %v", out.Images, want)
	}
	for _, p := range out.Images {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact missing: %v", err)
		}
	}
}

func TestHandleToolsCall_TumorDetectNegative(t *testing.T) {
	s, _ := newPipelineServer(t)
	path := createTestImageFile(t, 64, 64, false)

	var out pipeline.Output
	decodeContent(t, callTool(t, s, "tumor_detect", map[string]interface{}{"path": path}), &out)

	if out.HasTumor {
		t.Errorf("blank image should be negative, got confidence %v", out.Confidence)
	}
	if out.Band != postprocess.BandNegative {
		t.Errorf("band: got %s, want negative", out.Band)
	}
	if len(out.Images) != 2 {
		t.Errorf("images: got %d, want 2", len(out.Images))
	}
}

func TestHandleToolsCall_TumorDetectArguments(t *testing.T) {
	s, stub := newStubServer()
	stub.out = &pipeline.Output{Images: []string{}}

	resp := callTool(t, s, "tumor_detect", map[string]interface{}{
		"path":       "/scans/a.dcm",
		"output_dir": "/tmp/out",
		"base_name":  "a",
	})
	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	want := pipeline.Request{Path: "/scans/a.dcm", OutputDir: "/tmp/out", BaseName: "a"}
	if stub.last != want {
		t.Errorf("request: got %+v, want %+v", stub.last, want)
	}
}

func TestHandleToolsCall_ErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("%w: empty file", scanerr.ErrDecode), scanerr.CodeDecode},
		{fmt.Errorf("%w: \".gif\"", scanerr.ErrUnsupportedFormat), scanerr.CodeUnsupportedFormat},
		{fmt.Errorf("%w: no weights", scanerr.ErrModelUnavailable), scanerr.CodeModelUnavailable},
		{scanerr.FromContext(context.DeadlineExceeded), scanerr.CodeTimeout},
		{fmt.Errorf("%w: disk full", scanerr.ErrWrite), scanerr.CodeWrite},
		{fmt.Errorf("boom"), scanerr.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			s, stub := newStubServer()
			stub.err = tt.err

			resp := callTool(t, s, "tumor_detect", map[string]interface{}{"path": "/scans/a.png"})
			if resp.Error == nil {
				t.Fatal("expected an error response")
			}
			if resp.Result != nil {
				t.Error("a failed detection must not carry a result")
			}
			if resp.Error.Code != -32000 {
				t.Errorf("Error code: got %d, want -32000", resp.Error.Code)
			}
			data, ok := resp.Error.Data.(ToolErrorData)
			if !ok {
				t.Fatalf("data: got %T, want ToolErrorData", resp.Error.Data)
			}
			if data.Code != tt.code {
				t.Errorf("data.code: got %s, want %s", data.Code, tt.code)
			}
		})
	}
}

func TestHandleToolsCall_DecodeErrorFromPipeline(t *testing.T) {
	s, _ := newPipelineServer(t)
	path := filepath.Join(t.TempDir(), "empty.png")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	resp := callTool(t, s, "tumor_detect", map[string]interface{}{"path": path})
	if resp.Error == nil {
		t.Fatal("expected an error response")
	}
	if data := resp.Error.Data.(ToolErrorData); data.Code != scanerr.CodeDecode {
		t.Errorf("data.code: got %s, want %s", data.Code, scanerr.CodeDecode)
	}
}

func TestHandleToolsCall_InvalidArguments(t *testing.T) {
	s, _ := newStubServer()

	tests := []struct {
		name string
		tool string
		args map[string]interface{}
	}{
		{"missing path", "tumor_detect", map[string]interface{}{}},
		{"wrong type", "tumor_detect", map[string]interface{}{"path": 42}},
		{"inspect without path", "image_inspect", nil},
		{"unknown tool", "image_rotate", map[string]interface{}{"path": "/a.png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := callTool(t, s, tt.tool, tt.args)
			if resp.Error == nil {
				t.Fatal("expected an error response")
			}
			if resp.Error.Code != -32602 {
				t.Errorf("Error code: got %d, want -32602", resp.Error.Code)
			}
		})
	}
}

func TestHandleToolsCall_InvalidParams(t *testing.T) {
	s, _ := newStubServer()
	resp := s.handleRequest(context.Background(), &MCPRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params:  json.RawMessage(`"not an object"`),
	})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("expected -32602, got %+v", resp.Error)
	}
}

func TestHandleToolsCall_ImageInspect(t *testing.T) {
	s, _ := newStubServer()
	path := createTestImageFile(t, 200, 150, false)

	var info imaging.ImageInfo
	decodeContent(t, callTool(t, s, "image_inspect", map[string]interface{}{"path": path}), &info)

	if info.Width != 200 || info.Height != 150 {
		t.Errorf("dimensions: got %dx%d, want 200x150", info.Width, info.Height)
	}
	if info.Format != imaging.FormatPNG {
		t.Errorf("format: got %s, want png", info.Format)
	}
	if info.Channels != 1 {
		t.Errorf("channels: got %d, want 1", info.Channels)
	}
}

func TestHandleToolsCall_ImageInspectMissingFile(t *testing.T) {
	s, _ := newStubServer()
	resp := callTool(t, s, "image_inspect", map[string]interface{}{"path": filepath.Join(t.TempDir(), "none.png")})

	if resp.Error == nil || resp.Error.Code != -32000 {
		t.Fatalf("expected -32000, got %+v", resp.Error)
	}
	if data := resp.Error.Data.(ToolErrorData); data.Code != scanerr.CodeDecode {
		t.Errorf("data.code: got %s, want %s", data.Code, scanerr.CodeDecode)
	}
}

func TestHandleToolsCall_ArtifactKinds(t *testing.T) {
	s, stub := newStubServer()
	stub.kinds = []visualize.Kind{visualize.KindCrop, visualize.KindOverlay}

	var result ArtifactKindsResult
	decodeContent(t, callTool(t, s, "artifact_kinds", nil), &result)

	if len(result.Kinds) != len(visualize.AllKinds()) {
		t.Fatalf("kinds: got %d, want %d", len(result.Kinds), len(visualize.AllKinds()))
	}
	if fmt.Sprint(result.Configured) != "[crop overlay]" {
		t.Errorf("configured: got %v", result.Configured)
	}
	for _, k := range result.Kinds {
		wantEnabled := k.Kind == visualize.KindCrop || k.Kind == visualize.KindOverlay
		if k.Enabled != wantEnabled {
			t.Errorf("%s enabled: got %t, want %t", k.Kind, k.Enabled, wantEnabled)
		}
		if k.Description == "" {
			t.Errorf("%s has no description", k.Kind)
		}
	}
}

func TestMustMarshalJSON(t *testing.T) {
	got := mustMarshalJSON(map[string]int{"a": 1})
	if got != "{\n  \"a\": 1\n}" {
		t.Errorf("mustMarshalJSON: got %q", got)
	}
}
