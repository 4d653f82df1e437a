//go:build !gocv

package preprocess

import "github.com/ironsheep/tumorscan/internal/imaging"

// denoise blurs each channel with the 5x5 Gaussian kernel.
func denoise(t *imaging.Tensor) (*imaging.Tensor, error) {
	out := imaging.NewTensor(t.Width, t.Height)
	for c := 0; c < t.Channels; c++ {
		blurred := imaging.GaussianBlur5(t.Plane(c), t.Width, t.Height)
		for i, v := range blurred {
			out.Data[i*out.Channels+c] = float32(v)
		}
	}
	return out, nil
}
