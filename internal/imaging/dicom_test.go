package imaging

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/suyashkumar/dicom/pkg/uid"

	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// dicomFixture describes a native, uncompressed DICOM file. Zero values
// leave the optional elements out.
type dicomFixture struct {
	rows, cols    int
	bitsAllocated int
	bitsStored    int
	signed        bool
	samples       int
	planar        bool
	photometric   string
	slope         string
	intercept     string

	// frames holds per frame the samples in file order.
	frames [][]int
}

func mustElement(t *testing.T, tg tag.Tag, v interface{}) *dicom.Element {
	t.Helper()
	el, err := dicom.NewElement(tg, v)
	if err != nil {
		t.Fatalf("NewElement(%v): %v", tg, err)
	}
	return el
}

// writeDICOM writes fx to a temp file and returns its path.
func writeDICOM(t *testing.T, fx dicomFixture) string {
	t.Helper()

	samples := fx.samples
	if samples == 0 {
		samples = 1
	}
	photometric := fx.photometric
	if photometric == "" {
		photometric = "MONOCHROME2"
		if samples == 3 {
			photometric = "RGB"
		}
	}

	elems := []*dicom.Element{
		mustElement(t, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		mustElement(t, tag.MediaStorageSOPInstanceUID, []string{"1.2.3.4.5.6.7"}),
		mustElement(t, tag.TransferSyntaxUID, []string{uid.ImplicitVRLittleEndian}),
		mustElement(t, tag.SamplesPerPixel, []int{samples}),
		mustElement(t, tag.PhotometricInterpretation, []string{photometric}),
	}
	if samples == 3 {
		planar := 0
		if fx.planar {
			planar = 1
		}
		elems = append(elems, mustElement(t, tag.PlanarConfiguration, []int{planar}))
	}
	elems = append(elems,
		mustElement(t, tag.NumberOfFrames, []string{strconv.Itoa(len(fx.frames))}),
		mustElement(t, tag.Rows, []int{fx.rows}),
		mustElement(t, tag.Columns, []int{fx.cols}),
		mustElement(t, tag.BitsAllocated, []int{fx.bitsAllocated}),
	)
	if fx.bitsStored > 0 {
		elems = append(elems, mustElement(t, tag.BitsStored, []int{fx.bitsStored}))
	}
	representation := 0
	if fx.signed {
		representation = 1
	}
	elems = append(elems, mustElement(t, tag.PixelRepresentation, []int{representation}))
	if fx.intercept != "" {
		elems = append(elems, mustElement(t, tag.RescaleIntercept, []string{fx.intercept}))
	}
	if fx.slope != "" {
		elems = append(elems, mustElement(t, tag.RescaleSlope, []string{fx.slope}))
	}

	// The writer emits Data[pixel][sample] in order, so one value per entry
	// keeps the file order exactly as given.
	var frames []*frame.Frame
	for _, values := range fx.frames {
		data := make([][]int, 0, len(values)/samples)
		for i := 0; i < len(values); i += samples {
			data = append(data, values[i:i+samples])
		}
		frames = append(frames, &frame.Frame{NativeData: frame.NativeFrame{
			BitsPerSample: fx.bitsAllocated,
			Rows:          fx.rows,
			Cols:          fx.cols,
			Data:          data,
		}})
	}
	elems = append(elems, mustElement(t, tag.PixelData, dicom.PixelDataInfo{Frames: frames}))

	path := filepath.Join(t.TempDir(), "slice.dcm")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer f.Close()

	if err := dicom.Write(f, dicom.Dataset{Elements: elems}); err != nil {
		t.Fatalf("dicom.Write failed: %v", err)
	}
	return path
}

// grayRow returns channel 0 of the first row of tensor.
func grayRow(tensor *Tensor) []float32 {
	row := make([]float32, tensor.Width)
	for x := range row {
		row[x] = tensor.At(x, 0, 0)
	}
	return row
}

func assertIncreasing(t *testing.T, values []float32) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			t.Fatalf("intensities not increasing: %v", values)
		}
	}
}

func TestLoadDICOM_Signed16(t *testing.T) {
	// CT slice in Hounsfield units: air, water, soft tissue, bone.
	path := writeDICOM(t, dicomFixture{
		rows: 1, cols: 4, bitsAllocated: 16, bitsStored: 16, signed: true,
		frames: [][]int{{-1000, 0, 40, 1000}},
	})

	tensor, err := Load(path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	row := grayRow(tensor)
	assertIncreasing(t, row)
	if row[0] != 0 || row[3] != 1 {
		t.Errorf("range: got %v, want air=0 and bone=1", row)
	}
	if want := float32(1000.0 / 2000.0); absFloat(float64(row[1]-want)) > 1e-6 {
		t.Errorf("water: got %v, want %v", row[1], want)
	}
}

func TestLoadDICOM_Signed12BitsStored(t *testing.T) {
	// 12 bits stored in 16 allocated: -1 is 0x0FFF, the high bits are noise.
	path := writeDICOM(t, dicomFixture{
		rows: 1, cols: 3, bitsAllocated: 16, bitsStored: 12, signed: true,
		frames: [][]int{{0xF000 | 0x0FFF, 0, 0x07FF}},
	})

	tensor, err := Load(path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertIncreasing(t, grayRow(tensor))
}

func TestLoadDICOM_Rescale(t *testing.T) {
	// Stored unsigned with a negative slope: stored order is reversed in
	// modality units.
	path := writeDICOM(t, dicomFixture{
		rows: 1, cols: 3, bitsAllocated: 16,
		slope: "-2", intercept: "100",
		frames: [][]int{{30, 20, 10}},
	})

	tensor, err := Load(path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertIncreasing(t, grayRow(tensor))
}

func TestLoadDICOM_Monochrome1Inverted(t *testing.T) {
	path := writeDICOM(t, dicomFixture{
		rows: 1, cols: 4, bitsAllocated: 8, photometric: "MONOCHROME1",
		frames: [][]int{{255, 128, 64, 0}},
	})

	tensor, err := Load(path, LoadOptions{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	row := grayRow(tensor)
	assertIncreasing(t, row)
	if row[0] != 0 || row[3] != 1 {
		t.Errorf("range: got %v", row)
	}
}

func TestLoadDICOM_GrayReplicated(t *testing.T) {
	tests := []struct {
		name string
		bits int
		max  int
	}{
		{"8-bit", 8, 255},
		{"16-bit", 16, 4000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDICOM(t, dicomFixture{
				rows: 2, cols: 2, bitsAllocated: tt.bits,
				frames: [][]int{{0, tt.max / 2, tt.max / 4, tt.max}},
			})

			tensor, err := Load(path, LoadOptions{})
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if tensor.Width != 2 || tensor.Height != 2 || tensor.Channels != 3 {
				t.Fatalf("shape: got %dx%dx%d", tensor.Width, tensor.Height, tensor.Channels)
			}
			for c := 0; c < 3; c++ {
				if tensor.At(0, 0, c) != 0 || tensor.At(1, 1, c) != 1 {
					t.Errorf("channel %d not stretched: %v, %v", c, tensor.At(0, 0, c), tensor.At(1, 1, c))
				}
				if tensor.At(1, 0, c) != tensor.At(1, 0, 0) {
					t.Errorf("channel %d differs from channel 0", c)
				}
			}
		})
	}
}

func TestLoadDICOM_RGB(t *testing.T) {
	// Pixels: red, green, blue, white.
	interleaved := []int{255, 0, 0, 0, 255, 0, 0, 0, 255, 255, 255, 255}
	planar := []int{255, 0, 0, 255, 0, 255, 0, 255, 0, 0, 255, 255}

	tests := []struct {
		name   string
		planar bool
		data   []int
	}{
		{"interleaved", false, interleaved},
		{"planar", true, planar},
	}

	want := [][3]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 1, 1}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDICOM(t, dicomFixture{
				rows: 2, cols: 2, bitsAllocated: 8, samples: 3, planar: tt.planar,
				frames: [][]int{tt.data},
			})

			tensor, err := Load(path, LoadOptions{})
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			for p, w := range want {
				x, y := p%2, p/2
				got := [3]float32{tensor.At(x, y, 0), tensor.At(x, y, 1), tensor.At(x, y, 2)}
				if got != w {
					t.Errorf("pixel %d: got %v, want %v", p, got, w)
				}
			}
		})
	}
}

// threeFrames has a distinct bright pixel position per frame.
func threeFrames() [][]int {
	return [][]int{
		{9, 0, 0, 0},
		{0, 9, 0, 0},
		{0, 0, 9, 0},
	}
}

func TestLoadDICOM_SliceSelection(t *testing.T) {
	path := writeDICOM(t, dicomFixture{rows: 2, cols: 2, bitsAllocated: 16, frames: threeFrames()})

	tests := []struct {
		name  string
		slice int
		x, y  int
	}{
		{"first", 0, 0, 0},
		{"middle", MiddleSlice, 1, 0},
		{"last", 2, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := Load(path, LoadOptions{SliceIndex: tt.slice})
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if v := tensor.At(tt.x, tt.y, 0); v != 1 {
				t.Errorf("bright pixel at (%d,%d): got %v, want 1", tt.x, tt.y, v)
			}
		})
	}

	if _, err := Load(path, LoadOptions{SliceIndex: 3}); !errors.Is(err, scanerr.ErrDecode) {
		t.Errorf("slice out of range: got %v, want ErrDecode", err)
	}
}

func TestInspectDICOM(t *testing.T) {
	path := writeDICOM(t, dicomFixture{
		rows: 2, cols: 2, bitsAllocated: 16, bitsStored: 12, frames: threeFrames(),
	})

	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if info.Format != FormatDICOM || info.Width != 2 || info.Height != 2 {
		t.Errorf("info: got %+v", info)
	}
	if info.Frames != 3 {
		t.Errorf("frames: got %d, want 3", info.Frames)
	}
	if info.Channels != 1 || info.BitDepth != 12 {
		t.Errorf("channels/bit depth: got %d/%d, want 1/12", info.Channels, info.BitDepth)
	}
}

func TestLoadDICOM_Truncated(t *testing.T) {
	path := writeDICOM(t, dicomFixture{
		rows: 8, cols: 8, bitsAllocated: 16, frames: [][]int{make([]int, 64)},
	})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	truncated := filepath.Join(t.TempDir(), "truncated.dcm")
	if err := os.WriteFile(truncated, data[:len(data)-40], 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(truncated, LoadOptions{}); !errors.Is(err, scanerr.ErrDecode) {
		t.Errorf("Load: got %v, want ErrDecode", err)
	}
	if _, err := Inspect(truncated); !errors.Is(err, scanerr.ErrDecode) {
		t.Errorf("Inspect: got %v, want ErrDecode", err)
	}
}

func TestStoredValue(t *testing.T) {
	tests := []struct {
		raw, bits int
		signed    bool
		want      int
	}{
		{0xFFFF, 16, false, 65535},
		{0xFFFF, 16, true, -1},
		{0xFC18, 16, true, -1000},
		{0x0800, 12, true, -2048},
		{0x07FF, 12, true, 2047},
		{0xF123, 12, false, 0x0123},
		{0x80, 8, true, -128},
	}

	for _, tt := range tests {
		if got := storedValue(tt.raw, tt.bits, tt.signed); got != tt.want {
			t.Errorf("storedValue(%#x, %d, %t) = %d, want %d", tt.raw, tt.bits, tt.signed, got, tt.want)
		}
	}
}

func TestSelectSlice(t *testing.T) {
	tests := []struct {
		name    string
		index   int
		frames  int
		want    int
		wantErr bool
	}{
		{"first frame", 0, 5, 0, false},
		{"explicit index", 3, 5, 3, false},
		{"last frame", 4, 5, 4, false},
		{"middle of odd", MiddleSlice, 5, 2, false},
		{"middle of even", MiddleSlice, 4, 2, false},
		{"middle of single", MiddleSlice, 1, 0, false},
		{"past end", 5, 5, 0, true},
		{"negative", -3, 5, 0, true},
		{"no frames", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectSlice(tt.index, tt.frames)
			if tt.wantErr {
				if !errors.Is(err, scanerr.ErrDecode) {
					t.Fatalf("expected ErrDecode, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("slice: got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNormalizeFrame(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 3, 1))
	img.SetGray16(0, 0, color.Gray16{Y: 1000})
	img.SetGray16(1, 0, color.Gray16{Y: 1500})
	img.SetGray16(2, 0, color.Gray16{Y: 2000})

	tensor := normalizeFrame(img)

	want := []float32{0, 0.5, 1}
	for x, w := range want {
		for c := 0; c < 3; c++ {
			if got := tensor.At(x, 0, c); absFloat(float64(got-w)) > 1e-6 {
				t.Errorf("pixel %d channel %d: got %v, want %v", x, c, got, w)
			}
		}
	}
}

func TestNormalizeFrame_Constant(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 0x40
	}

	tensor := normalizeFrame(img)
	for i, v := range tensor.Data {
		if v != 0 {
			t.Fatalf("value %d: got %v, want 0 for constant frame", i, v)
		}
	}
}
