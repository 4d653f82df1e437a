package pipeline

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/ironsheep/tumorscan/internal/config"
	"github.com/ironsheep/tumorscan/internal/imaging"
	"github.com/ironsheep/tumorscan/internal/inference"
	"github.com/ironsheep/tumorscan/internal/postprocess"
	"github.com/ironsheep/tumorscan/internal/preprocess"
	"github.com/ironsheep/tumorscan/internal/scanerr"
	"github.com/ironsheep/tumorscan/internal/visualize"
)

// Request names the input file and where its artifacts go.
type Request struct {
	// Path is the image file. Its extension selects the decoder.
	Path string

	// OutputDir overrides the configured output directory.
	OutputDir string

	// BaseName prefixes every artifact file name. Defaults to the input
	// file name without its extension.
	BaseName string
}

// Output is the result of a successful run.
type Output struct {
	HasTumor         bool                 `json:"has_tumor"`
	Confidence       float64              `json:"confidence"`
	Band             postprocess.Band     `json:"band"`
	Threshold        float64              `json:"threshold"`
	ThresholdVersion string               `json:"threshold_version"`
	Regions          []postprocess.Region `json:"regions"`
	Images           []string             `json:"images"`
}

// Pipeline wires the stages together. It is safe for concurrent use.
type Pipeline struct {
	cfg      config.Config
	detector *inference.Detector
	renderer *visualize.Renderer
}

// New validates cfg and builds a pipeline. The model is loaded lazily on the
// first Run, or eagerly with Load.
func New(cfg *config.Config) (*Pipeline, error) {
	return NewWithDetector(cfg, inference.NewDetector(cfg.Model))
}

// NewWithDetector builds a pipeline around an existing detector.
func NewWithDetector(cfg *config.Config, detector *inference.Detector) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing config", scanerr.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	renderer, err := visualize.NewRenderer(cfg.Visualize)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: *cfg, detector: detector, renderer: renderer}, nil
}

// Load loads the model now instead of on the first Run.
func (p *Pipeline) Load(ctx context.Context) error {
	return p.detector.Load(ctx)
}

// Kinds returns the artifact kinds every run writes, in output order.
func (p *Pipeline) Kinds() []visualize.Kind {
	return p.renderer.Kinds()
}

// Close releases the model.
func (p *Pipeline) Close() error {
	return p.detector.Close()
}

// Run processes one image.
//
// # Errors
//
// Every error matches one of the scanerr sentinels (or context.Canceled):
//
//   - scanerr.ErrUnsupportedFormat / scanerr.ErrDecode from loading
//   - scanerr.ErrModelUnavailable / scanerr.ErrInference from the detector
//   - scanerr.ErrWrite from writing artifacts
//   - scanerr.ErrTimeout when the deadline passes; no artifact is left behind
func (p *Pipeline) Run(ctx context.Context, req Request) (*Output, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	outputDir := req.OutputDir
	if outputDir == "" {
		outputDir = p.cfg.OutputDir
	}
	baseName := req.BaseName
	if baseName == "" {
		baseName = BaseName(req.Path)
	}

	// Reject bad inputs before any expensive work.
	if _, err := imaging.FormatFromPath(req.Path); err != nil {
		return nil, err
	}
	if _, err := p.renderer.Paths(outputDir, baseName); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		img    *imaging.Tensor
		input  *imaging.Tensor
		raw    *inference.RawScore
		result *postprocess.Result
		paths  []string
	)

	err := p.stage(ctx, "load", func() (err error) {
		img, err = imaging.Load(req.Path, p.cfg.Loader)
		return err
	})
	if err == nil {
		err = p.stage(ctx, "prepare", func() (err error) {
			input, err = preprocess.Prepare(img, p.cfg.Preprocess)
			return err
		})
	}
	if err == nil {
		err = p.stage(ctx, "infer", func() (err error) {
			raw, err = p.detector.Infer(ctx, input)
			return err
		})
	}
	if err == nil {
		err = p.stage(ctx, "decide", func() error {
			result = postprocess.Decide(*raw, p.cfg.Thresholds)
			return nil
		})
	}
	if err == nil {
		err = p.stage(ctx, "render", func() (err error) {
			paths, err = p.renderer.Render(ctx, img, result, outputDir, baseName)
			return err
		})
	}
	if err != nil {
		p.debugf("%s failed after %s: %v", req.Path, time.Since(start), err)
		return nil, err
	}

	p.debugf("%s: has_tumor=%t confidence=%.4f band=%s regions=%d in %s",
		req.Path, result.HasTumor, result.Confidence, result.Band, len(result.Regions), time.Since(start))

	return &Output{
		HasTumor:         result.HasTumor,
		Confidence:       result.Confidence,
		Band:             result.Band,
		Threshold:        result.Threshold,
		ThresholdVersion: result.ThresholdVersion,
		Regions:          result.Regions,
		Images:           paths,
	}, nil
}

// stage runs fn unless ctx is already done, and logs its duration at debug.
func (p *Pipeline) stage(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return scanerr.FromContext(err)
	}
	start := time.Now()
	err := fn()
	p.debugf("stage %s took %s", name, time.Since(start))
	return err
}

func (p *Pipeline) debugf(format string, args ...any) {
	if p.cfg.Debug() {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// BaseName returns the file name of path without its extension.
func BaseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
