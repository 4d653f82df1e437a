package visualize

import (
	"fmt"

	"github.com/ironsheep/tumorscan/internal/imaging"
	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// Output encodings accepted in Options.Format.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// Options configures a Renderer.
type Options struct {
	// Kinds lists the artifacts to render, in output order.
	Kinds []Kind `yaml:"kinds" json:"kinds"`

	// Format is "png" (default) or "jpeg".
	Format string `yaml:"format" json:"format"`

	// JPEGQuality is used for the jpeg format (1-100).
	JPEGQuality int `yaml:"jpeg_quality" json:"jpeg_quality"`

	// OverlayColor tints high-activation pixels, as #RRGGBB or #RRGGBBAA.
	// The alpha scales the tint strength.
	OverlayColor string `yaml:"overlay_color" json:"overlay_color"`

	// BoxColor outlines regions on the overlay.
	BoxColor string `yaml:"box_color" json:"box_color"`

	// CropPadding grows the cropped region on every side, in image pixels.
	CropPadding int `yaml:"crop_padding" json:"crop_padding"`

	// CropSize is the longer side of the crop artifact. 0 keeps the
	// cropped size.
	CropSize int `yaml:"crop_size" json:"crop_size"`

	// ShowLabel prints the confidence on the overlay.
	ShowLabel bool `yaml:"show_label" json:"show_label"`
}

// DefaultOptions returns PNG overlay and heatmap rendering.
func DefaultOptions() Options {
	return Options{
		Kinds:        DefaultKinds(),
		Format:       FormatPNG,
		JPEGQuality:  95,
		OverlayColor: "#FF000080",
		BoxColor:     "#FFFF00",
		CropPadding:  16,
		CropSize:     256,
		ShowLabel:    true,
	}
}

// Validate reports malformed options as scanerr.ErrInvalidConfig.
func (o Options) Validate() error {
	if len(o.Kinds) == 0 {
		return fmt.Errorf("%w: at least one artifact kind is required", scanerr.ErrInvalidConfig)
	}
	seen := make(map[Kind]bool, len(o.Kinds))
	for _, k := range o.Kinds {
		if !k.Valid() {
			return fmt.Errorf("%w: unknown artifact kind %q", scanerr.ErrInvalidConfig, k)
		}
		if seen[k] {
			return fmt.Errorf("%w: artifact kind %q listed twice", scanerr.ErrInvalidConfig, k)
		}
		seen[k] = true
	}

	switch o.Format {
	case FormatPNG:
	case FormatJPEG:
		if o.JPEGQuality < 1 || o.JPEGQuality > 100 {
			return fmt.Errorf("%w: jpeg_quality must be in [1,100], got %d", scanerr.ErrInvalidConfig, o.JPEGQuality)
		}
	default:
		return fmt.Errorf("%w: unknown output format %q", scanerr.ErrInvalidConfig, o.Format)
	}

	if _, err := imaging.ParseHexColor(o.OverlayColor); err != nil {
		return fmt.Errorf("%w: overlay_color: %w", scanerr.ErrInvalidConfig, err)
	}
	if _, err := imaging.ParseHexColor(o.BoxColor); err != nil {
		return fmt.Errorf("%w: box_color: %w", scanerr.ErrInvalidConfig, err)
	}
	if o.CropPadding < 0 || o.CropSize < 0 {
		return fmt.Errorf("%w: crop_padding and crop_size must be >= 0", scanerr.ErrInvalidConfig)
	}
	return nil
}

// Extension returns the file extension for the configured format.
func (o Options) Extension() string {
	if o.Format == FormatJPEG {
		return "jpg"
	}
	return "png"
}
