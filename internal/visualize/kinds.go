package visualize

import (
	"fmt"
	"strings"

	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// Kind names one derived artifact.
type Kind string

const (
	KindOverlay Kind = "overlay"
	KindHeatmap Kind = "heatmap"
	KindCrop    Kind = "crop"
	KindEdges   Kind = "edges"
)

// AllKinds returns every supported kind.
func AllKinds() []Kind {
	return []Kind{KindOverlay, KindHeatmap, KindCrop, KindEdges}
}

// DefaultKinds returns the kinds rendered when none are configured.
func DefaultKinds() []Kind {
	return []Kind{KindOverlay, KindHeatmap}
}

// ParseKind converts a name to a Kind. Matching is case-insensitive.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	if k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown artifact kind %q", scanerr.ErrInvalidConfig, name)
}

// ParseKinds parses a comma-separated list such as "overlay,heatmap".
func ParseKinds(list string) ([]Kind, error) {
	var kinds []Kind
	for _, name := range strings.Split(list, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// Valid reports whether k is one of AllKinds.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Description returns a one-line explanation of the kind.
func (k Kind) Description() string {
	switch k {
	case KindOverlay:
		return "Image with high-activation pixels tinted, region boxes and the confidence label"
	case KindHeatmap:
		return "Activation map colored from blue (low) to red (high)"
	case KindCrop:
		return "Largest region, padded and scaled; the whole image when no region was found"
	case KindEdges:
		return "Canny edge map of the image"
	}
	return ""
}
