package imaging

import (
	"fmt"
	"image"
	"image/color"
)

// Channels is the fixed channel count of every canonical tensor (R, G, B).
const Channels = 3

// Luminance weights (ITU-R BT.601), shared by every grayscale conversion.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Tensor is the canonical in-memory representation of an image.
//
// Data is laid out height × width × channels (HWC, interleaved) in R, G, B
// order. Tensors produced by Load hold values in [0,1]; standardized tensors
// hold per-channel z-scores. A tensor is never mutated once it has been
// handed to another stage: every transformation returns a new Tensor.
type Tensor struct {
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Channels int       `json:"channels"`
	Data     []float32 `json:"-"`
}

// NewTensor allocates a zeroed width × height × 3 tensor.
func NewTensor(width, height int) *Tensor {
	return &Tensor{
		Width:    width,
		Height:   height,
		Channels: Channels,
		Data:     make([]float32, width*height*Channels),
	}
}

// Index returns the offset of channel c of pixel (x, y) in Data.
func (t *Tensor) Index(x, y, c int) int {
	return (y*t.Width+x)*t.Channels + c
}

// At returns channel c of pixel (x, y).
func (t *Tensor) At(x, y, c int) float32 {
	return t.Data[t.Index(x, y, c)]
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	return &Tensor{Width: t.Width, Height: t.Height, Channels: t.Channels, Data: data}
}

// Validate checks that the tensor shape is consistent with its data.
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("nil tensor")
	}
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("invalid tensor size %dx%d", t.Width, t.Height)
	}
	if t.Channels != Channels {
		return fmt.Errorf("invalid channel count %d, want %d", t.Channels, Channels)
	}
	if len(t.Data) != t.Width*t.Height*t.Channels {
		return fmt.Errorf("tensor data length %d does not match shape %dx%dx%d",
			len(t.Data), t.Width, t.Height, t.Channels)
	}
	return nil
}

// Plane returns channel c as a row-major width × height slice.
func (t *Tensor) Plane(c int) []float64 {
	plane := make([]float64, t.Width*t.Height)
	for i := range plane {
		plane[i] = float64(t.Data[i*t.Channels+c])
	}
	return plane
}

// Luminance returns the BT.601 luma of every pixel as a row-major slice.
func (t *Tensor) Luminance() []float64 {
	lum := make([]float64, t.Width*t.Height)
	for i := range lum {
		p := t.Data[i*t.Channels:]
		lum[i] = lumaR*float64(p[0]) + lumaG*float64(p[1]) + lumaB*float64(p[2])
	}
	return lum
}

// Image renders the tensor as a 16-bit opaque RGBA image. Values are clamped
// to [0,1], so standardized tensors should not be rendered directly.
func (t *Tensor) Image() *image.RGBA64 {
	img := image.NewRGBA64(image.Rect(0, 0, t.Width, t.Height))
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			i := t.Index(x, y, 0)
			img.SetRGBA64(x, y, color.RGBA64{
				R: to16(t.Data[i]),
				G: to16(t.Data[i+1]),
				B: to16(t.Data[i+2]),
				A: 0xffff,
			})
		}
	}
	return img
}

// FromImage converts any decoded image into a canonical tensor.
//
// Grayscale sources are replicated across all three channels. Alpha is
// dropped after Go's premultiplied conversion, so transparent pixels become
// black. 16-bit sources keep their full precision.
func FromImage(img image.Image) *Tensor {
	bounds := img.Bounds()
	t := NewTensor(bounds.Dx(), bounds.Dy())
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			r, g, b, _ := img.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()
			i := t.Index(x, y, 0)
			t.Data[i] = float32(r) / 0xffff
			t.Data[i+1] = float32(g) / 0xffff
			t.Data[i+2] = float32(b) / 0xffff
		}
	}
	return t
}

// to16 maps a [0,1] value to a 16-bit channel, clamping out-of-range input.
func to16(v float32) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xffff
	}
	return uint16(v*0xffff + 0.5)
}
