package visualize

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/anthonynsimon/bild/blur"
	imgproc "github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/tumorscan/internal/imaging"
	"github.com/ironsheep/tumorscan/internal/inference"
	"github.com/ironsheep/tumorscan/internal/postprocess"
	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// Heatmap ramp end points.
var (
	heatLow  = colorful.Color{R: 0, G: 0, B: 1}
	heatHigh = colorful.Color{R: 1, G: 0, B: 0}
)

const (
	heatmapBlurRadius = 1.5
	boxThickness      = 2
)

// Renderer writes the configured artifacts for detection results. It holds
// no per-call state and is safe for concurrent use.
type Renderer struct {
	opts    Options
	overlay color.RGBA
	box     color.RGBA
}

// NewRenderer validates opts and builds a Renderer.
func NewRenderer(opts Options) (*Renderer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	overlay, _ := imaging.ParseHexColor(opts.OverlayColor)
	box, _ := imaging.ParseHexColor(opts.BoxColor)

	kinds := make([]Kind, len(opts.Kinds))
	copy(kinds, opts.Kinds)
	opts.Kinds = kinds

	return &Renderer{opts: opts, overlay: overlay, box: box}, nil
}

// Kinds returns the configured artifact kinds in output order.
func (r *Renderer) Kinds() []Kind {
	kinds := make([]Kind, len(r.opts.Kinds))
	copy(kinds, r.opts.Kinds)
	return kinds
}

// Render writes one file per configured kind into outputDir and returns
// their paths in configuration order. Either every file is written or none
// is left behind.
//
// # Errors
//
//   - scanerr.ErrWrite if baseName is invalid or outputDir cannot be created or written
//   - scanerr.ErrTimeout if ctx's deadline passes before the files are committed
func (r *Renderer) Render(ctx context.Context, t *imaging.Tensor, res *postprocess.Result, outputDir, baseName string) ([]string, error) {
	paths, err := r.Paths(outputDir, baseName)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid image tensor: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("missing detection result")
	}

	scene := newScene(t, res)
	batch, err := newBatch(outputDir, r.opts.Extension())
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			batch.rollback()
		}
	}()

	for i, kind := range r.opts.Kinds {
		if err := ctx.Err(); err != nil {
			return nil, scanerr.FromContext(err)
		}
		img, err := r.renderKind(kind, scene)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s: %w", kind, err)
		}
		if err := batch.stage(kind, paths[i], img, r.encodeOptions()); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, scanerr.FromContext(err)
	}
	if err := batch.commit(); err != nil {
		return nil, err
	}
	committed = true
	return paths, nil
}

func (r *Renderer) renderKind(kind Kind, s *scene) (image.Image, error) {
	switch kind {
	case KindOverlay:
		return r.renderOverlay(s), nil
	case KindHeatmap:
		return renderHeatmap(s), nil
	case KindCrop:
		return r.renderCrop(s)
	case KindEdges:
		return imaging.EdgeMap(s.tensor, imaging.DefaultEdgeLow, imaging.DefaultEdgeHigh), nil
	}
	return nil, fmt.Errorf("unknown artifact kind %q", kind)
}

func (r *Renderer) encodeOptions() []imgproc.EncodeOption {
	if r.opts.Format == FormatJPEG {
		return []imgproc.EncodeOption{imgproc.JPEGQuality(r.opts.JPEGQuality)}
	}
	return nil
}

// scene is the shared input of every artifact of one Render call, at image
// resolution.
type scene struct {
	tensor     *imaging.Tensor
	base       *image.RGBA
	activation []float64
	regions    []image.Rectangle
	result     *postprocess.Result
}

func newScene(t *imaging.Tensor, res *postprocess.Result) *scene {
	src := t.Image()
	base := image.NewRGBA(src.Bounds())
	draw.Draw(base, base.Bounds(), src, image.Point{}, draw.Src)

	s := &scene{tensor: t, base: base, result: res}
	if res.Localization == nil {
		// No map: the global confidence stands in for every pixel.
		s.activation = make([]float64, t.Width*t.Height)
		for i := range s.activation {
			s.activation[i] = res.Confidence
		}
		return s
	}

	m := res.Localization
	s.activation = upsample(m, t.Width, t.Height)
	sx := float64(t.Width) / float64(m.Width)
	sy := float64(t.Height) / float64(m.Height)
	for _, reg := range res.Regions {
		s.regions = append(s.regions, image.Rect(
			int(math.Floor(float64(reg.Bounds.X1)*sx)),
			int(math.Floor(float64(reg.Bounds.Y1)*sy)),
			int(math.Ceil(float64(reg.Bounds.X2)*sx)),
			int(math.Ceil(float64(reg.Bounds.Y2)*sy)),
		).Intersect(base.Bounds()))
	}
	return s
}

// upsample scales an activation map to width × height with linear
// interpolation. Values are quantized to 8 bits.
func upsample(m *inference.ActivationMap, width, height int) []float64 {
	gray := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Values {
		gray.Pix[i] = uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}

	var scaled image.Image = gray
	if m.Width != width || m.Height != height {
		scaled = imgproc.Resize(gray, width, height, imgproc.Linear)
	}

	out := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v, _, _, _ := scaled.At(x, y).RGBA()
			out[y*width+x] = float64(v>>8) / 255
		}
	}
	return out
}

func (r *Renderer) renderOverlay(s *scene) image.Image {
	out := image.NewRGBA(s.base.Bounds())
	copy(out.Pix, s.base.Pix)

	strength := float64(r.overlay.A) / 255
	if s.result.Localization != nil {
		for i, a := range s.activation {
			if a < s.result.RegionThreshold {
				continue
			}
			alpha := strength * a
			p := out.Pix[i*4 : i*4+3 : i*4+3]
			p[0] = blend(p[0], r.overlay.R, alpha)
			p[1] = blend(p[1], r.overlay.G, alpha)
			p[2] = blend(p[2], r.overlay.B, alpha)
		}
	}

	for _, rect := range s.regions {
		imaging.DrawRect(out, rect, boxThickness, r.box)
	}

	if r.opts.ShowLabel {
		label := fmt.Sprintf("%.1f%%", s.result.Confidence*100)
		imaging.DrawLabel(out, 2, 2, label, color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 255})
	}
	return out
}

func blend(dst, src uint8, alpha float64) uint8 {
	return uint8(math.Round(float64(dst)*(1-alpha) + float64(src)*alpha))
}

func renderHeatmap(s *scene) image.Image {
	bounds := s.base.Bounds()
	heat := image.NewRGBA(bounds)
	for i, a := range s.activation {
		c := heatLow.BlendHcl(heatHigh, a).Clamped()
		r, g, b := c.RGB255()
		heat.Pix[i*4], heat.Pix[i*4+1], heat.Pix[i*4+2], heat.Pix[i*4+3] = r, g, b, 255
	}
	return blur.Gaussian(heat, heatmapBlurRadius)
}

func (r *Renderer) renderCrop(s *scene) (image.Image, error) {
	region := s.base.Bounds()
	padding := 0
	if len(s.regions) > 0 && !s.regions[0].Empty() {
		region = s.regions[0]
		padding = r.opts.CropPadding
	}
	return imaging.CropRegion(s.base, region, padding, r.opts.CropSize)
}
