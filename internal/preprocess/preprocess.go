package preprocess

import (
	"fmt"

	"github.com/nfnt/resize"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ironsheep/tumorscan/internal/imaging"
	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// Options configures Prepare.
type Options struct {
	TargetWidth  int  `yaml:"target_width" json:"target_width"`
	TargetHeight int  `yaml:"target_height" json:"target_height"`
	Normalize    bool `yaml:"normalize" json:"normalize"`
	Denoise      bool `yaml:"denoise" json:"denoise"`
	Standardize  bool `yaml:"standardize" json:"standardize"`
}

// DefaultOptions returns a 224×224 normalized configuration.
func DefaultOptions() Options {
	return Options{
		TargetWidth:  224,
		TargetHeight: 224,
		Normalize:    true,
	}
}

// Validate reports a malformed configuration as scanerr.ErrInvalidConfig.
func (o Options) Validate() error {
	if o.TargetWidth <= 0 || o.TargetHeight <= 0 {
		return fmt.Errorf("%w: target size must be positive, got %dx%d",
			scanerr.ErrInvalidConfig, o.TargetWidth, o.TargetHeight)
	}
	return nil
}

// Prepare returns a new tensor of exactly TargetWidth × TargetHeight × 3
// built from t. The input is never modified.
//
// The only failure is a malformed configuration or input tensor, reported as
// scanerr.ErrInvalidConfig.
func Prepare(t *imaging.Tensor, opts Options) (*imaging.Tensor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", scanerr.ErrInvalidConfig, err)
	}

	out := t
	if opts.Denoise {
		denoised, err := denoise(out)
		if err != nil {
			return nil, fmt.Errorf("failed to denoise: %w", err)
		}
		out = denoised
	}

	out = resizeTensor(out, opts.TargetWidth, opts.TargetHeight)

	if opts.Normalize {
		out = normalize(out)
	}
	if opts.Standardize {
		out = standardize(out)
	}
	return out, nil
}

// resizeTensor scales t with bilinear interpolation through a 16-bit
// intermediate image. Same-size input is copied.
func resizeTensor(t *imaging.Tensor, width, height int) *imaging.Tensor {
	if t.Width == width && t.Height == height {
		return t.Clone()
	}
	resized := resize.Resize(uint(width), uint(height), t.Image(), resize.Bilinear)
	return imaging.FromImage(resized)
}

// normalize min-max stretches all values to [0,1]. A constant tensor maps
// to all zeros.
func normalize(t *imaging.Tensor) *imaging.Tensor {
	values := toFloat64(t.Data)
	lo, hi := floats.Min(values), floats.Max(values)

	out := imaging.NewTensor(t.Width, t.Height)
	span := hi - lo
	if span == 0 {
		return out
	}
	floats.AddConst(-lo, values)
	floats.Scale(1/span, values)
	for i, v := range values {
		out.Data[i] = float32(v)
	}
	return out
}

// standardize converts each channel to zero mean and unit standard
// deviation. A constant channel becomes all zeros.
func standardize(t *imaging.Tensor) *imaging.Tensor {
	out := imaging.NewTensor(t.Width, t.Height)
	for c := 0; c < t.Channels; c++ {
		plane := t.Plane(c)
		mean, std := stat.MeanStdDev(plane, nil)
		for i, v := range plane {
			z := 0.0
			if std > 0 {
				z = (v - mean) / std
			}
			out.Data[i*out.Channels+c] = float32(z)
		}
	}
	return out
}

func toFloat64(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = float64(v)
	}
	return out
}
