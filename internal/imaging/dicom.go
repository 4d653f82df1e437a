package imaging

import (
	"fmt"
	"image"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/ironsheep/tumorscan/internal/scanerr"
)

type dicomMeta struct {
	width, height      int
	channels, bitDepth int
	frames             int
}

// pixelFormat is the subset of the image pixel module needed to turn stored
// samples into intensities.
type pixelFormat struct {
	samples     int
	bitsStored  int
	signed      bool
	planar      bool
	monochrome1 bool
	slope       float64
	intercept   float64
}

// dicomFrame is one selected frame plus what is needed to interpret it.
type dicomFrame struct {
	frames int
	format pixelFormat

	// native is set for uncompressed pixel data, img for encapsulated data.
	native *frame.NativeFrame
	img    image.Image
}

func (f *dicomFrame) size() (width, height int) {
	if f.native != nil {
		return f.native.Cols, f.native.Rows
	}
	b := f.img.Bounds()
	return b.Dx(), b.Dy()
}

// decodeDICOM loads one frame of a DICOM file as a canonical tensor and
// reports the total frame count.
func decodeDICOM(path string, sliceIndex int) (*Tensor, int, error) {
	f, err := readDICOMFrame(path, sliceIndex)
	if err != nil {
		return nil, 0, err
	}
	if f.native == nil {
		return normalizeFrame(f.img), f.frames, nil
	}
	t, err := nativeTensor(f.native, f.format)
	if err != nil {
		return nil, 0, err
	}
	return t, f.frames, nil
}

func inspectDICOM(path string) (*dicomMeta, error) {
	f, err := readDICOMFrame(path, 0)
	if err != nil {
		return nil, err
	}
	meta := &dicomMeta{frames: f.frames}
	meta.width, meta.height = f.size()
	if f.native != nil {
		meta.channels, meta.bitDepth = f.format.samples, f.format.bitsStored
	} else {
		meta.channels, meta.bitDepth = describeImage(f.img)
	}
	return meta, nil
}

// readDICOMFrame parses the file and extracts the selected frame. The parser
// panics on some malformed inputs; a panic is reported as scanerr.ErrDecode.
func readDICOMFrame(path string, sliceIndex int) (f *dicomFrame, err error) {
	defer func() {
		if r := recover(); r != nil {
			f = nil
			err = fmt.Errorf("%w: malformed DICOM file: %v", scanerr.ErrDecode, r)
		}
	}()

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read DICOM file: %w", scanerr.ErrDecode, err)
	}
	if stat.Size() == 0 {
		return nil, fmt.Errorf("%w: empty file", scanerr.ErrDecode)
	}

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse DICOM file: %w", scanerr.ErrDecode, err)
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%w: DICOM file has no pixel data: %w", scanerr.ErrDecode, err)
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected DICOM pixel data value", scanerr.ErrDecode)
	}
	if info.ParseErr != nil {
		return nil, fmt.Errorf("%w: failed to read DICOM pixel data: %w", scanerr.ErrDecode, info.ParseErr)
	}

	idx, err := selectSlice(sliceIndex, len(info.Frames))
	if err != nil {
		return nil, err
	}
	fr := info.Frames[idx]
	f = &dicomFrame{frames: len(info.Frames)}

	if fr.IsEncapsulated() {
		f.img, err = fr.GetImage()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode DICOM frame %d: %w", scanerr.ErrDecode, idx, err)
		}
	} else {
		f.native, err = fr.GetNativeFrame()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read DICOM frame %d: %w", scanerr.ErrDecode, idx, err)
		}
		f.format = readPixelFormat(ds, f.native.BitsPerSample)
	}

	if w, h := f.size(); w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: DICOM frame %d has no pixels", scanerr.ErrDecode, idx)
	}
	return f, nil
}

// readPixelFormat reads the pixel module attributes, falling back to the
// defaults for absent or malformed elements: unsigned, all allocated bits
// stored, MONOCHROME2, identity rescale.
func readPixelFormat(ds dicom.Dataset, bitsAllocated int) pixelFormat {
	pf := pixelFormat{
		samples:    intElement(ds, tag.SamplesPerPixel, 1),
		bitsStored: intElement(ds, tag.BitsStored, bitsAllocated),
		signed:     intElement(ds, tag.PixelRepresentation, 0) == 1,
		planar:     intElement(ds, tag.PlanarConfiguration, 0) == 1,
		slope:      floatElement(ds, tag.RescaleSlope, 1),
		intercept:  floatElement(ds, tag.RescaleIntercept, 0),
	}
	if pf.bitsStored <= 0 || (bitsAllocated > 0 && pf.bitsStored > bitsAllocated) {
		pf.bitsStored = bitsAllocated
	}
	if pf.slope == 0 {
		pf.slope = 1
	}
	pf.monochrome1 = strings.EqualFold(stringElement(ds, tag.PhotometricInterpretation), "MONOCHROME1")
	return pf
}

func intElement(ds dicom.Dataset, t tag.Tag, def int) int {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return def
	}
	v, ok := el.Value.GetValue().([]int)
	if !ok || len(v) == 0 {
		return def
	}
	return v[0]
}

func stringElement(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	v, ok := el.Value.GetValue().([]string)
	if !ok || len(v) == 0 {
		return ""
	}
	return strings.TrimSpace(v[0])
}

// floatElement reads a decimal string element.
func floatElement(ds dicom.Dataset, t tag.Tag, def float64) float64 {
	s := stringElement(ds, t)
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return f
}

// nativeTensor converts stored samples to a canonical tensor:
//   - samples are masked to BitsStored and sign-extended when signed
//   - grayscale is rescaled to modality units, inverted for MONOCHROME1 and
//     replicated across channels
//   - three-sample data is read as RGB, interleaved or planar
//   - the result is min-max stretched over the frame; a constant frame maps
//     to all zeros
func nativeTensor(nf *frame.NativeFrame, pf pixelFormat) (*Tensor, error) {
	width, height := nf.Cols, nf.Rows
	n := width * height
	if len(nf.Data) != n {
		return nil, fmt.Errorf("%w: DICOM frame has %d pixels, want %dx%d", scanerr.ErrDecode, len(nf.Data), width, height)
	}
	if pf.samples != 1 && pf.samples != 3 {
		return nil, fmt.Errorf("%w: unsupported samples per pixel: %d", scanerr.ErrDecode, pf.samples)
	}
	for _, px := range nf.Data {
		if len(px) < pf.samples {
			return nil, fmt.Errorf("%w: DICOM pixel has %d samples, want %d", scanerr.ErrDecode, len(px), pf.samples)
		}
	}

	// sample returns channel c of pixel p in file order, regardless of how
	// the parser grouped the values.
	sample := func(p, c int) int {
		k := p*pf.samples + c
		if pf.planar {
			k = c*n + p
		}
		return nf.Data[k/pf.samples][k%pf.samples]
	}

	values := make([]float64, n*Channels)
	for p := 0; p < n; p++ {
		if pf.samples == 1 {
			v := float64(storedValue(sample(p, 0), pf.bitsStored, pf.signed))*pf.slope + pf.intercept
			if pf.monochrome1 {
				v = -v
			}
			values[p*Channels], values[p*Channels+1], values[p*Channels+2] = v, v, v
			continue
		}
		for c := 0; c < Channels; c++ {
			values[p*Channels+c] = float64(storedValue(sample(p, c), pf.bitsStored, pf.signed))
		}
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	t := NewTensor(width, height)
	if span := hi - lo; span > 0 {
		for i, v := range values {
			t.Data[i] = float32((v - lo) / span)
		}
	}
	return t, nil
}

// storedValue keeps the low bitsStored bits of raw and sign-extends them
// when signed.
func storedValue(raw, bitsStored int, signed bool) int {
	if bitsStored <= 0 || bitsStored >= 63 {
		return raw
	}
	v := raw & (1<<bitsStored - 1)
	if signed && v&(1<<(bitsStored-1)) != 0 {
		v -= 1 << bitsStored
	}
	return v
}

// selectSlice resolves a configured slice index against the frame count.
func selectSlice(index, frames int) (int, error) {
	if frames == 0 {
		return 0, fmt.Errorf("%w: DICOM file has no frames", scanerr.ErrDecode)
	}
	if index == MiddleSlice {
		return frames / 2, nil
	}
	if index < 0 || index >= frames {
		return 0, fmt.Errorf("%w: slice %d out of range (%d frames)", scanerr.ErrDecode, index, frames)
	}
	return index, nil
}

// normalizeFrame min-max stretches a decoded encapsulated frame over its
// full dynamic range. A constant frame maps to all zeros.
func normalizeFrame(img image.Image) *Tensor {
	raw := FromImage(img)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range raw.Data {
		lo = math.Min(lo, float64(v))
		hi = math.Max(hi, float64(v))
	}

	t := NewTensor(raw.Width, raw.Height)
	if span := hi - lo; span > 0 {
		for i, v := range raw.Data {
			t.Data[i] = float32((float64(v) - lo) / span)
		}
	}
	return t
}
