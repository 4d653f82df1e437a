package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"sync"

	"github.com/nfnt/resize"

	"github.com/ironsheep/tumorscan/internal/imaging"
	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// Backend names accepted in ModelConfig.Backend.
const (
	BackendContrast = "contrast"
	BackendONNX     = "onnx"
)

// ModelConfig selects and locates the model.
type ModelConfig struct {
	// Backend is "contrast" (default) or "onnx".
	Backend string `yaml:"backend" json:"backend"`

	// Path is the weights file: JSON for contrast (optional), .onnx for onnx.
	Path string `yaml:"path" json:"path"`

	// MetadataPath is the ONNX tensor description. Required for onnx.
	MetadataPath string `yaml:"metadata" json:"metadata"`

	// LibraryPath overrides the ONNX Runtime shared library location.
	LibraryPath string `yaml:"library" json:"library"`
}

// Validate reports a malformed model configuration.
func (c ModelConfig) Validate() error {
	switch c.Backend {
	case "", BackendContrast:
		return nil
	case BackendONNX:
		if c.Path == "" {
			return fmt.Errorf("%w: onnx backend requires a model path", scanerr.ErrInvalidConfig)
		}
		if c.MetadataPath == "" {
			return fmt.Errorf("%w: onnx backend requires a metadata path", scanerr.ErrInvalidConfig)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown model backend %q", scanerr.ErrInvalidConfig, c.Backend)
	}
}

// ActivationMap is a row-major grid of per-pixel activations in [0,1].
type ActivationMap struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Values []float64 `json:"-"`
}

// At returns the activation at (x, y).
func (m *ActivationMap) At(x, y int) float64 {
	return m.Values[y*m.Width+x]
}

// Resample returns the map scaled to width × height with bilinear
// interpolation. Values are quantized to 16 bits on the way.
func (m *ActivationMap) Resample(width, height int) *ActivationMap {
	if m.Width == width && m.Height == height {
		values := make([]float64, len(m.Values))
		copy(values, m.Values)
		return &ActivationMap{Width: width, Height: height, Values: values}
	}

	src := image.NewGray16(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Values {
		src.SetGray16(i%m.Width, i/m.Width, color.Gray16{Y: uint16(math.Round(clamp01(v) * 0xffff))})
	}
	scaled := resize.Resize(uint(width), uint(height), src, resize.Bilinear)

	out := &ActivationMap{Width: width, Height: height, Values: make([]float64, width*height)}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, _, _, _ := scaled.At(x, y).RGBA()
			out.Values[y*width+x] = float64(r) / 0xffff
		}
	}
	return out
}

// RawScore is the unthresholded model output.
type RawScore struct {
	// Confidence is the estimated probability of a tumor, in [0,1].
	Confidence float64 `json:"confidence"`

	// Map is the localization map at the input tensor's resolution, or nil
	// when the model produces none.
	Map *ActivationMap `json:"map,omitempty"`
}

// Model is a loaded backend.
type Model interface {
	Predict(ctx context.Context, t *imaging.Tensor) (*RawScore, error)
	Close() error
}

// Loader builds a Model from configuration.
type Loader func(cfg ModelConfig) (Model, error)

// errClosed is returned by a Detector after Close.
var errClosed = fmt.Errorf("%w: detector is closed", scanerr.ErrModelUnavailable)

// Detector shares one lazily loaded Model between concurrent callers.
type Detector struct {
	cfg    ModelConfig
	loader Loader

	once  sync.Once
	model Model
	err   error

	// mu is held for reading by Predict calls and for writing by Close.
	mu     sync.RWMutex
	closed bool
}

// NewDetector creates a detector for the configured backend. Nothing is
// loaded until Load or Infer is called.
func NewDetector(cfg ModelConfig) *Detector {
	loader := loadContrast
	if cfg.Backend == BackendONNX {
		loader = loadONNX
	}
	return NewDetectorWithLoader(cfg, loader)
}

// NewDetectorWithLoader creates a detector that builds its model with loader.
func NewDetectorWithLoader(cfg ModelConfig, loader Loader) *Detector {
	return &Detector{cfg: cfg, loader: loader}
}

// Load loads the model if it has not been loaded yet. Only the first call
// does any work; later calls return the first call's result.
func (d *Detector) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return scanerr.FromContext(err)
	}
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return errClosed
	}
	d.once.Do(func() {
		backend := d.cfg.Backend
		if backend == "" {
			backend = BackendContrast
		}
		log.Printf("Loading %s model", backend)

		model, err := d.loader(d.cfg)
		if err != nil {
			if !errors.Is(err, scanerr.ErrModelUnavailable) {
				err = fmt.Errorf("%w: %w", scanerr.ErrModelUnavailable, err)
			}
			d.err = err
			return
		}
		d.model = model
	})
	return d.err
}

// Infer runs the model over t.
//
// # Errors
//
//   - scanerr.ErrModelUnavailable if the model could not be loaded or the
//     detector is closed
//   - scanerr.ErrInference for malformed input or invalid model output
//   - scanerr.ErrTimeout if ctx's deadline passes
func (d *Detector) Infer(ctx context.Context, t *imaging.Tensor) (*RawScore, error) {
	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid input: %w", scanerr.ErrInference, err)
	}

	raw, err := d.predict(ctx, t)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, scanerr.FromContext(ctxErr)
		}
		if errors.Is(err, scanerr.ErrInference) || errors.Is(err, scanerr.ErrModelUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", scanerr.ErrInference, err)
	}

	if err := checkScore(raw); err != nil {
		return nil, err
	}
	if raw.Map != nil && (raw.Map.Width != t.Width || raw.Map.Height != t.Height) {
		raw.Map = raw.Map.Resample(t.Width, t.Height)
	}
	return raw, nil
}

func (d *Detector) predict(ctx context.Context, t *imaging.Tensor) (*RawScore, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, errClosed
	}
	return d.model.Predict(ctx, t)
}

// Close waits for a load or predictions in progress, then releases the
// model. Later calls to Load and Infer fail with scanerr.ErrModelUnavailable.
// Close is idempotent.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	// Blocks until a concurrent Load finishes; prevents one from starting.
	d.once.Do(func() { d.err = errClosed })
	if d.model == nil {
		return nil
	}
	return d.model.Close()
}

// checkScore rejects outputs that must not be turned into a decision.
func checkScore(raw *RawScore) error {
	if raw == nil {
		return fmt.Errorf("%w: model returned no score", scanerr.ErrInference)
	}
	if !validUnit(raw.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", scanerr.ErrInference, raw.Confidence)
	}
	if raw.Map == nil {
		return nil
	}
	m := raw.Map
	if m.Width <= 0 || m.Height <= 0 || len(m.Values) != m.Width*m.Height {
		return fmt.Errorf("%w: malformed activation map %dx%d with %d values",
			scanerr.ErrInference, m.Width, m.Height, len(m.Values))
	}
	for i, v := range m.Values {
		if !validUnit(v) {
			return fmt.Errorf("%w: activation %v at (%d,%d) outside [0,1]",
				scanerr.ErrInference, v, i%m.Width, i/m.Width)
		}
	}
	return nil
}

// validUnit reports whether v is a finite number in [0,1]. NaN fails both
// comparisons.
func validUnit(v float64) bool {
	return v >= 0 && v <= 1
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
