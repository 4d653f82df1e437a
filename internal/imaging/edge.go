package imaging

import (
	"image"
	"image/color"
	"math"
)

// Default hysteresis thresholds for EdgeMap, in luminance-gradient units.
const (
	DefaultEdgeLow  = 0.08
	DefaultEdgeHigh = 0.2
)

// EdgeMap performs Canny-style edge detection on a tensor.
//
// The result is a grayscale image the size of the tensor where white pixels
// (255) are edges and black pixels (0) are not. Thresholds are gradient
// magnitudes on the [0,1] luminance scale; values outside [0,1] tensors are
// not rescaled first.
//
// # Algorithm
//
//  1. Luminance (ITU-R BT.601 weights)
//  2. 5x5 Gaussian blur (GaussianBlur5)
//  3. Sobel gradients: magnitude = sqrt(Gx² + Gy²), direction = atan2(Gy, Gx)
//  4. Non-maximum suppression along the gradient direction
//  5. Hysteresis: values >= thresholdHigh are strong edges; values between
//     the thresholds are kept only next to a strong edge
func EdgeMap(t *Tensor, thresholdLow, thresholdHigh float64) *image.Gray {
	width, height := t.Width, t.Height
	blurred := GaussianBlur5(t.Luminance(), width, height)

	sobelX := [3][3]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}
	sobelY := [3][3]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}

	magnitude := make([]float64, width*height)
	direction := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var gx, gy float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					v := blurred[clamp(y+ky, 0, height-1)*width+clamp(x+kx, 0, width-1)]
					gx += v * sobelX[ky+1][kx+1]
					gy += v * sobelY[ky+1][kx+1]
				}
			}
			magnitude[y*width+x] = math.Sqrt(gx*gx + gy*gy)
			direction[y*width+x] = math.Atan2(gy, gx)
		}
	}

	mag := func(x, y int) float64 { return magnitude[y*width+x] }

	suppressed := make([]float64, width*height)
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			angle := direction[y*width+x]

			var n1, n2 float64
			switch {
			case (angle >= -math.Pi/8 && angle < math.Pi/8) || angle >= 7*math.Pi/8 || angle < -7*math.Pi/8:
				n1, n2 = mag(x-1, y), mag(x+1, y)
			case (angle >= math.Pi/8 && angle < 3*math.Pi/8) || (angle >= -7*math.Pi/8 && angle < -5*math.Pi/8):
				n1, n2 = mag(x+1, y-1), mag(x-1, y+1)
			case (angle >= 3*math.Pi/8 && angle < 5*math.Pi/8) || (angle >= -5*math.Pi/8 && angle < -3*math.Pi/8):
				n1, n2 = mag(x, y-1), mag(x, y+1)
			default:
				n1, n2 = mag(x-1, y-1), mag(x+1, y+1)
			}

			if m := mag(x, y); m >= n1 && m >= n2 {
				suppressed[y*width+x] = m
			}
		}
	}

	result := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			val := suppressed[y*width+x]
			if val >= thresholdHigh || (val >= thresholdLow && hasStrongNeighbor(suppressed, width, height, x, y, thresholdHigh)) {
				result.SetGray(x, y, color.Gray{255})
			}
		}
	}
	return result
}

func hasStrongNeighbor(suppressed []float64, width, height, x, y int, high float64) bool {
	for ky := -1; ky <= 1; ky++ {
		for kx := -1; kx <= 1; kx++ {
			if suppressed[clamp(y+ky, 0, height-1)*width+clamp(x+kx, 0, width-1)] >= high {
				return true
			}
		}
	}
	return false
}

// gaussianKernel is a 5x5 Gaussian with sigma ≈ 1.4 and a sum of 273.
var gaussianKernel = [5][5]float64{
	{1, 4, 7, 4, 1},
	{4, 16, 26, 16, 4},
	{7, 26, 41, 26, 7},
	{4, 16, 26, 16, 4},
	{1, 4, 7, 4, 1},
}

// GaussianBlur5 applies a 5x5 Gaussian blur to a row-major plane and returns
// a new plane. Border pixels use clamped (replicated) edge values.
func GaussianBlur5(plane []float64, width, height int) []float64 {
	const kernelSum = 273.0

	result := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var sum float64
			for ky := -2; ky <= 2; ky++ {
				for kx := -2; kx <= 2; kx++ {
					sum += plane[clamp(y+ky, 0, height-1)*width+clamp(x+kx, 0, width-1)] * gaussianKernel[ky+2][kx+2]
				}
			}
			result[y*width+x] = sum / kernelSum
		}
	}
	return result
}

// clamp constrains an integer value to the range [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
