package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/ironsheep/tumorscan/internal/imaging"
	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// ContrastWeights parameterizes the contrast model.
//
// Each pixel's activation is
//
//	sigmoid(Gain * (localMean - backgroundMean - Offset))
//
// where the means are taken over the luminance plane in square windows of
// radius LocalRadius and BackgroundRadius, clipped to the image.
type ContrastWeights struct {
	LocalRadius      int     `json:"local_radius"`
	BackgroundRadius int     `json:"background_radius"`
	Gain             float64 `json:"gain"`
	Offset           float64 `json:"offset"`
}

// DefaultContrastWeights returns the built-in weights, tuned for
// min-max normalized input around 224×224.
func DefaultContrastWeights() ContrastWeights {
	return ContrastWeights{
		LocalRadius:      4,
		BackgroundRadius: 32,
		Gain:             40,
		Offset:           0.25,
	}
}

// Validate checks that the weights describe a usable model.
func (w ContrastWeights) Validate() error {
	if w.LocalRadius < 0 {
		return fmt.Errorf("local_radius must be >= 0, got %d", w.LocalRadius)
	}
	if w.BackgroundRadius <= w.LocalRadius {
		return fmt.Errorf("background_radius (%d) must exceed local_radius (%d)", w.BackgroundRadius, w.LocalRadius)
	}
	if !(w.Gain > 0) || math.IsInf(w.Gain, 0) {
		return fmt.Errorf("gain must be a positive finite number, got %v", w.Gain)
	}
	if math.IsNaN(w.Offset) || math.IsInf(w.Offset, 0) {
		return fmt.Errorf("offset must be finite, got %v", w.Offset)
	}
	return nil
}

// LoadContrastWeights reads weights from a JSON file. Fields absent from the
// file keep their default values.
func LoadContrastWeights(path string) (ContrastWeights, error) {
	w := DefaultContrastWeights()

	data, err := os.ReadFile(path)
	if err != nil {
		return w, fmt.Errorf("%w: failed to read weights: %w", scanerr.ErrModelUnavailable, err)
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("%w: failed to parse weights: %w", scanerr.ErrModelUnavailable, err)
	}
	if err := w.Validate(); err != nil {
		return w, fmt.Errorf("%w: invalid weights: %w", scanerr.ErrModelUnavailable, err)
	}
	return w, nil
}

type contrastModel struct {
	weights ContrastWeights
}

func loadContrast(cfg ModelConfig) (Model, error) {
	if cfg.Path == "" {
		return &contrastModel{weights: DefaultContrastWeights()}, nil
	}
	w, err := LoadContrastWeights(cfg.Path)
	if err != nil {
		return nil, err
	}
	return &contrastModel{weights: w}, nil
}

// Predict scores every pixel and reports the peak as the confidence. The
// model holds no mutable state, so concurrent calls are safe.
func (m *contrastModel) Predict(ctx context.Context, t *imaging.Tensor) (*RawScore, error) {
	width, height := t.Width, t.Height
	sat := newSummedArea(t.Luminance(), width, height)

	activation := &ActivationMap{Width: width, Height: height, Values: make([]float64, width*height)}
	peak := 0.0
	for y := 0; y < height; y++ {
		if y%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for x := 0; x < width; x++ {
			local := sat.mean(x, y, m.weights.LocalRadius)
			background := sat.mean(x, y, m.weights.BackgroundRadius)
			a := sigmoid(m.weights.Gain * (local - background - m.weights.Offset))
			activation.Values[y*width+x] = a
			peak = math.Max(peak, a)
		}
	}

	return &RawScore{Confidence: peak, Map: activation}, nil
}

func (m *contrastModel) Close() error { return nil }

// summedArea is a (width+1) × (height+1) integral image.
type summedArea struct {
	width, height int
	sums          []float64
}

func newSummedArea(plane []float64, width, height int) *summedArea {
	stride := width + 1
	sums := make([]float64, stride*(height+1))
	for y := 0; y < height; y++ {
		var row float64
		for x := 0; x < width; x++ {
			row += plane[y*width+x]
			sums[(y+1)*stride+x+1] = sums[y*stride+x+1] + row
		}
	}
	return &summedArea{width: width, height: height, sums: sums}
}

// mean returns the average over the square of the given radius centered on
// (x, y), clipped to the image.
func (s *summedArea) mean(x, y, radius int) float64 {
	x1, y1 := max(x-radius, 0), max(y-radius, 0)
	x2, y2 := min(x+radius+1, s.width), min(y+radius+1, s.height)

	stride := s.width + 1
	sum := s.sums[y2*stride+x2] - s.sums[y1*stride+x2] - s.sums[y2*stride+x1] + s.sums[y1*stride+x1]
	return sum / float64((x2-x1)*(y2-y1))
}
