package postprocess

import (
	"image"
	"math"
	"sort"

	"github.com/ironsheep/tumorscan/internal/inference"
)

// Bounds is a bounding box in map pixel coordinates.
//
//   - (X1, Y1) is the top-left corner (inclusive)
//   - (X2, Y2) is the bottom-right corner (exclusive)
type Bounds struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect converts b to an image.Rectangle.
func (b Bounds) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Point is a 2D coordinate in map pixel space.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Region is one connected area of high activation.
type Region struct {
	// Bounds encloses every pixel of the region.
	Bounds Bounds `json:"bounds"`

	// Area is the pixel count.
	Area int `json:"area"`

	// Centroid is the mean pixel position, rounded.
	Centroid Point `json:"centroid"`

	// Peak is the highest activation inside the region.
	Peak float64 `json:"peak"`

	// Mean is the average activation inside the region.
	Mean float64 `json:"mean"`
}

// ExtractRegions groups map pixels with activation >= threshold into
// 8-connected regions and drops those smaller than minArea.
//
// Regions are sorted by area (largest first), then Y1, then X1. Ties beyond
// that keep raster seed order.
func ExtractRegions(m *inference.ActivationMap, threshold float64, minArea int) []Region {
	regions := []Region{}
	if m == nil || m.Width <= 0 || m.Height <= 0 {
		return regions
	}

	visited := make([]bool, m.Width*m.Height)
	var pixels []Point
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			i := y*m.Width + x
			if visited[i] || m.Values[i] < threshold {
				continue
			}

			pixels = floodFill(m, visited, x, y, threshold, pixels[:0])
			if len(pixels) < minArea {
				continue
			}
			regions = append(regions, summarize(m, pixels))
		}
	}

	sort.SliceStable(regions, func(i, j int) bool {
		a, b := regions[i], regions[j]
		if a.Area != b.Area {
			return a.Area > b.Area
		}
		if a.Bounds.Y1 != b.Bounds.Y1 {
			return a.Bounds.Y1 < b.Bounds.Y1
		}
		return a.Bounds.X1 < b.Bounds.X1
	})
	return regions
}

// floodFill collects the 8-connected component containing (startX, startY)
// into pixels using an explicit stack.
func floodFill(m *inference.ActivationMap, visited []bool, startX, startY int, threshold float64, pixels []Point) []Point {
	stack := []Point{{X: startX, Y: startY}}

	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if p.X < 0 || p.X >= m.Width || p.Y < 0 || p.Y >= m.Height {
			continue
		}
		i := p.Y*m.Width + p.X
		if visited[i] || m.Values[i] < threshold {
			continue
		}

		visited[i] = true
		pixels = append(pixels, p)

		// 8-connected neighbors
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 {
					continue
				}
				stack = append(stack, Point{X: p.X + dx, Y: p.Y + dy})
			}
		}
	}
	return pixels
}

func summarize(m *inference.ActivationMap, pixels []Point) Region {
	b := Bounds{X1: m.Width, Y1: m.Height, X2: 0, Y2: 0}
	var sumX, sumY, sum float64
	peak := 0.0

	for _, p := range pixels {
		b.X1 = min(b.X1, p.X)
		b.Y1 = min(b.Y1, p.Y)
		b.X2 = max(b.X2, p.X+1)
		b.Y2 = max(b.Y2, p.Y+1)

		v := m.At(p.X, p.Y)
		sumX += float64(p.X)
		sumY += float64(p.Y)
		sum += v
		peak = math.Max(peak, v)
	}

	n := float64(len(pixels))
	return Region{
		Bounds:   b,
		Area:     len(pixels),
		Centroid: Point{X: int(math.Round(sumX / n)), Y: int(math.Round(sumY / n))},
		Peak:     peak,
		Mean:     sum / n,
	}
}
