package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"path/filepath"
	"strings"

	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// Format identifies a supported input file format.
type Format string

const (
	FormatPNG   Format = "png"
	FormatJPEG  Format = "jpeg"
	FormatDICOM Format = "dicom"
)

// MiddleSlice selects the middle frame of a multi-frame DICOM file.
const MiddleSlice = -1

// LoadOptions controls how inputs are decoded.
type LoadOptions struct {
	// SliceIndex selects the DICOM frame to load. 0 (the default) is the
	// first frame; MiddleSlice selects frame count / 2. Raster formats
	// ignore it.
	SliceIndex int `yaml:"slice_index" json:"slice_index"`
}

// Validate reports malformed loader options.
func (o LoadOptions) Validate() error {
	if o.SliceIndex < MiddleSlice {
		return fmt.Errorf("%w: slice_index must be >= %d, got %d", scanerr.ErrInvalidConfig, MiddleSlice, o.SliceIndex)
	}
	return nil
}

// FormatFromPath determines the input format from the file extension.
//
// Accepted extensions are .png, .jpg, .jpeg and .dcm (case-insensitive).
// Any other extension fails with scanerr.ErrUnsupportedFormat.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".dcm":
		return FormatDICOM, nil
	default:
		return "", fmt.Errorf("%w: %q", scanerr.ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Load decodes the file at path into a canonical tensor.
//
// The returned tensor is always width × height × 3 with values in [0,1].
// Nothing is cached: every call reads the file again.
//
// # Errors
//
//   - scanerr.ErrUnsupportedFormat if the extension is not supported
//   - scanerr.ErrDecode if the file cannot be read, is empty, truncated or corrupt
func Load(path string, opts LoadOptions) (*Tensor, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	if format == FormatDICOM {
		t, _, err := decodeDICOM(path, opts.SliceIndex)
		return t, err
	}

	img, err := decodeRaster(path)
	if err != nil {
		return nil, err
	}
	return FromImage(img), nil
}

func decodeRaster(path string) (image.Image, error) {
	data, err := readNonEmpty(path)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %w", scanerr.ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", scanerr.ErrDecode)
	}
	return img, nil
}

func readNonEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read image: %w", scanerr.ErrDecode, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", scanerr.ErrDecode)
	}
	return data, nil
}

// ImageInfo contains metadata about an input file.
type ImageInfo struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is the format derived from the file extension.
	Format Format `json:"format"`

	// Channels is the source channel count: 1 (gray), 3 (color) or 4 (with alpha).
	Channels int `json:"channels"`

	// BitDepth is the bit depth per channel: 8 or 16 for raster files, the
	// stored bits per sample for DICOM files.
	BitDepth int `json:"bit_depth"`

	// Frames is the number of slices. Always 1 for raster formats.
	Frames int `json:"frames"`

	// FileSizeBytes is the size of the file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// Inspect returns metadata about an input file without building a tensor.
// Raster files only have their header decoded; DICOM files are parsed fully.
func Inspect(path string) (*ImageInfo, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to stat file: %w", scanerr.ErrDecode, err)
	}

	info := &ImageInfo{Format: format, FileSizeBytes: stat.Size(), Frames: 1}

	if format == FormatDICOM {
		meta, err := inspectDICOM(path)
		if err != nil {
			return nil, err
		}
		info.Width, info.Height = meta.width, meta.height
		info.Channels, info.BitDepth = meta.channels, meta.bitDepth
		info.Frames = meta.frames
		return info, nil
	}

	data, err := readNonEmpty(path)
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image header: %w", scanerr.ErrDecode, err)
	}
	info.Width, info.Height = cfg.Width, cfg.Height
	info.Channels, info.BitDepth = describeModel(cfg.ColorModel)
	return info, nil
}

// describeModel maps a Go color model to a source channel count and bit depth.
func describeModel(m color.Model) (channels, bitDepth int) {
	switch m {
	case color.GrayModel:
		return 1, 8
	case color.Gray16Model:
		return 1, 16
	case color.RGBA64Model, color.NRGBA64Model:
		return 4, 16
	case color.RGBAModel, color.NRGBAModel:
		return 4, 8
	}
	return 3, 8
}

// describeImage is describeModel for an already decoded image.
func describeImage(img image.Image) (channels, bitDepth int) {
	switch img.(type) {
	case *image.Gray:
		return 1, 8
	case *image.Gray16:
		return 1, 16
	}
	return describeModel(img.ColorModel())
}
