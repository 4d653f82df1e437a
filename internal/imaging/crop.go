package imaging

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// CropRegion cuts r, grown by padding pixels on every side and clipped to the
// image, out of img. When size > 0 the crop is scaled (Lanczos) so that its
// longer side is exactly size pixels.
func CropRegion(img image.Image, r image.Rectangle, padding, size int) (*image.NRGBA, error) {
	bounds := img.Bounds()
	if padding < 0 {
		return nil, fmt.Errorf("invalid crop padding %d", padding)
	}

	region := r.Inset(-padding).Intersect(bounds)
	if region.Empty() {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			r.Min.X, r.Min.Y, r.Max.X, r.Max.Y, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}

	cropped := imaging.Crop(img, region)
	if size <= 0 {
		return cropped, nil
	}

	if region.Dx() >= region.Dy() {
		return imaging.Resize(cropped, size, 0, imaging.Lanczos), nil
	}
	return imaging.Resize(cropped, 0, size, imaging.Lanczos), nil
}
