//go:build gocv

package preprocess

import (
	"image"
	"image/draw"

	"gocv.io/x/gocv"

	"github.com/ironsheep/tumorscan/internal/imaging"
)

// denoise runs OpenCV's 5x5 Gaussian blur (sigma 1.4, replicated borders)
// over an 8-bit BGR copy of the tensor.
func denoise(t *imaging.Tensor) (*imaging.Tensor, error) {
	src := t.Image()
	rgba := image.NewRGBA(src.Bounds())
	draw.Draw(rgba, rgba.Bounds(), src, image.Point{}, draw.Src)

	mat, err := gocv.NewMatFromBytes(t.Height, t.Width, gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBAToBGR)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(bgr, &blurred, image.Pt(5, 5), 1.4, 1.4, gocv.BorderReplicate)

	out, err := blurred.ToImage()
	if err != nil {
		return nil, err
	}
	return imaging.FromImage(out), nil
}
