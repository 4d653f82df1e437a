package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ironsheep/tumorscan/internal/imaging"
	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// Input tensor layouts accepted in ONNXMetadata.Layout.
const (
	LayoutNCHW = "nchw"
	LayoutNHWC = "nhwc"
)

// Score activations accepted in ONNXMetadata.Activation.
const (
	ActivationNone    = ""
	ActivationSigmoid = "sigmoid"
	ActivationSoftmax = "softmax"
)

// ONNXMetadata describes the tensors of an exported detection network.
type ONNXMetadata struct {
	InputName  string  `json:"input_name"`
	InputShape []int64 `json:"input_shape"`

	// Layout is "nchw" (default) or "nhwc".
	Layout string `json:"layout"`

	ScoreOutput string  `json:"score_output"`
	ScoreShape  []int64 `json:"score_shape"`

	// PositiveIndex is the index of the tumor class in the score output.
	PositiveIndex int `json:"positive_index"`

	// Activation is applied to the raw scores: "", "sigmoid" or "softmax".
	Activation string `json:"activation"`

	// HeatmapOutput optionally names a localization output whose last two
	// dimensions are height and width. Values are clamped to [0,1].
	HeatmapOutput string  `json:"heatmap_output,omitempty"`
	HeatmapShape  []int64 `json:"heatmap_shape,omitempty"`
}

// LoadONNXMetadata reads and validates a metadata file.
func LoadONNXMetadata(path string) (*ONNXMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read metadata: %w", scanerr.ErrModelUnavailable, err)
	}

	var meta ONNXMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: failed to parse metadata: %w", scanerr.ErrModelUnavailable, err)
	}
	if meta.Layout == "" {
		meta.Layout = LayoutNCHW
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid metadata: %w", scanerr.ErrModelUnavailable, err)
	}
	return &meta, nil
}

// Validate checks that the described tensors can carry a single RGB image
// and a score for the positive class.
func (m *ONNXMetadata) Validate() error {
	if m.InputName == "" || m.ScoreOutput == "" {
		return fmt.Errorf("input_name and score_output are required")
	}
	if len(m.InputShape) != 4 || m.InputShape[0] != 1 {
		return fmt.Errorf("input_shape must be [1, ...] with 4 dimensions, got %v", m.InputShape)
	}
	for _, d := range m.InputShape {
		if d <= 0 {
			return fmt.Errorf("input_shape dimensions must be positive, got %v", m.InputShape)
		}
	}
	switch m.Layout {
	case LayoutNCHW:
		if m.InputShape[1] != imaging.Channels {
			return fmt.Errorf("nchw input must have %d channels, got %v", imaging.Channels, m.InputShape)
		}
	case LayoutNHWC:
		if m.InputShape[3] != imaging.Channels {
			return fmt.Errorf("nhwc input must have %d channels, got %v", imaging.Channels, m.InputShape)
		}
	default:
		return fmt.Errorf("unknown layout %q", m.Layout)
	}

	if n := shapeSize(m.ScoreShape); n <= 0 || m.PositiveIndex < 0 || int64(m.PositiveIndex) >= n {
		return fmt.Errorf("positive_index %d out of range for score_shape %v", m.PositiveIndex, m.ScoreShape)
	}
	switch m.Activation {
	case ActivationNone, ActivationSigmoid, ActivationSoftmax:
	default:
		return fmt.Errorf("unknown activation %q", m.Activation)
	}

	if m.HeatmapOutput != "" {
		if len(m.HeatmapShape) < 2 || shapeSize(m.HeatmapShape) <= 0 {
			return fmt.Errorf("heatmap_shape must have at least 2 positive dimensions, got %v", m.HeatmapShape)
		}
		h, w := m.heatmapSize()
		if int64(h*w) != shapeSize(m.HeatmapShape) {
			return fmt.Errorf("heatmap_shape %v must hold a single map", m.HeatmapShape)
		}
	}
	return nil
}

// inputSize returns the width and height the network expects.
func (m *ONNXMetadata) inputSize() (width, height int) {
	if m.Layout == LayoutNHWC {
		return int(m.InputShape[2]), int(m.InputShape[1])
	}
	return int(m.InputShape[3]), int(m.InputShape[2])
}

func (m *ONNXMetadata) heatmapSize() (width, height int) {
	n := len(m.HeatmapShape)
	return int(m.HeatmapShape[n-1]), int(m.HeatmapShape[n-2])
}

func shapeSize(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		if d <= 0 {
			return 0
		}
		n *= d
	}
	return n
}

// The ONNX Runtime environment is process-wide; models share it through a
// reference count.
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("%w: failed to initialize ONNX environment: %w", scanerr.ErrModelUnavailable, err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()

	envRefs--
	if envRefs == 0 {
		ort.DestroyEnvironment()
	}
}

type onnxModel struct {
	meta *ONNXMetadata

	// mu serializes use of the session and its preallocated tensors.
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	score   *ort.Tensor[float32]
	heatmap *ort.Tensor[float32]
}

func loadONNX(cfg ModelConfig) (Model, error) {
	meta, err := LoadONNXMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Path); err != nil {
		return nil, fmt.Errorf("%w: model file: %w", scanerr.ErrModelUnavailable, err)
	}

	if err := acquireEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	m := &onnxModel{meta: meta}
	if err := m.open(cfg.Path); err != nil {
		m.destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("%w: %w", scanerr.ErrModelUnavailable, err)
	}
	return m, nil
}

func (m *onnxModel) open(modelPath string) error {
	var err error
	m.input, err = ort.NewEmptyTensor[float32](ort.NewShape(m.meta.InputShape...))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}
	m.score, err = ort.NewEmptyTensor[float32](ort.NewShape(m.meta.ScoreShape...))
	if err != nil {
		return fmt.Errorf("failed to create score tensor: %w", err)
	}

	outputNames := []string{m.meta.ScoreOutput}
	outputs := []ort.ArbitraryTensor{m.score}
	if m.meta.HeatmapOutput != "" {
		m.heatmap, err = ort.NewEmptyTensor[float32](ort.NewShape(m.meta.HeatmapShape...))
		if err != nil {
			return fmt.Errorf("failed to create heatmap tensor: %w", err)
		}
		outputNames = append(outputNames, m.meta.HeatmapOutput)
		outputs = append(outputs, m.heatmap)
	}

	m.session, err = ort.NewAdvancedSession(modelPath,
		[]string{m.meta.InputName}, outputNames,
		[]ort.ArbitraryTensor{m.input}, outputs,
		nil)
	if err != nil {
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return nil
}

// Predict runs the network once. Only the copy-in, Run and copy-out steps
// hold the lock.
func (m *onnxModel) Predict(ctx context.Context, t *imaging.Tensor) (*RawScore, error) {
	width, height := m.meta.inputSize()
	if t.Width != width || t.Height != height {
		return nil, fmt.Errorf("%w: input is %dx%d, model expects %dx%d",
			scanerr.ErrInference, t.Width, t.Height, width, height)
	}
	input := packInput(t, m.meta.Layout)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores, heat, err := m.run(input)
	if err != nil {
		return nil, err
	}

	confidence, err := positiveScore(scores, m.meta.PositiveIndex, m.meta.Activation)
	if err != nil {
		return nil, err
	}

	raw := &RawScore{Confidence: confidence}
	if heat != nil {
		hw, hh := m.meta.heatmapSize()
		raw.Map = &ActivationMap{Width: hw, Height: hh, Values: make([]float64, len(heat))}
		for i, v := range heat {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: non-finite heatmap value at %d", scanerr.ErrInference, i)
			}
			raw.Map.Values[i] = clamp01(f)
		}
	}
	return raw, nil
}

func (m *onnxModel) run(input []float32) (scores, heat []float32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, nil, fmt.Errorf("%w: model is closed", scanerr.ErrModelUnavailable)
	}
	copy(m.input.GetData(), input)
	if err := m.session.Run(); err != nil {
		return nil, nil, fmt.Errorf("%w: inference failed: %w", scanerr.ErrInference, err)
	}

	scores = append([]float32(nil), m.score.GetData()...)
	if m.heatmap != nil {
		heat = append([]float32(nil), m.heatmap.GetData()...)
	}
	return scores, heat, nil
}

func (m *onnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	m.destroy()
	releaseEnvironment()
	return nil
}

func (m *onnxModel) destroy() {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{m.input, m.score, m.heatmap} {
		if t != nil {
			t.Destroy()
		}
	}
	m.input, m.score, m.heatmap = nil, nil, nil
}

// packInput lays the HWC tensor out as the network expects.
func packInput(t *imaging.Tensor, layout string) []float32 {
	if layout == LayoutNHWC {
		return append([]float32(nil), t.Data...)
	}

	plane := t.Width * t.Height
	out := make([]float32, len(t.Data))
	for i := 0; i < plane; i++ {
		for c := 0; c < t.Channels; c++ {
			out[c*plane+i] = t.Data[i*t.Channels+c]
		}
	}
	return out
}

// positiveScore turns raw network scores into the tumor probability.
func positiveScore(scores []float32, index int, activation string) (float64, error) {
	for i, s := range scores {
		if f := float64(s); math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: non-finite score at %d", scanerr.ErrInference, i)
		}
	}

	switch activation {
	case ActivationSigmoid:
		return sigmoid(float64(scores[index])), nil
	case ActivationSoftmax:
		peak := math.Inf(-1)
		for _, s := range scores {
			peak = math.Max(peak, float64(s))
		}
		var sum float64
		for _, s := range scores {
			sum += math.Exp(float64(s) - peak)
		}
		return math.Exp(float64(scores[index])-peak) / sum, nil
	default:
		return float64(scores[index]), nil
	}
}
