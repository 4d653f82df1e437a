package postprocess

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ironsheep/tumorscan/internal/inference"
	"github.com/ironsheep/tumorscan/internal/scanerr"
)

// Band is a coarse reading of the confidence relative to the threshold.
type Band string

const (
	BandNegative   Band = "negative"
	BandBorderline Band = "borderline"
	BandPositive   Band = "positive"
)

// Thresholds is the versioned decision configuration.
type Thresholds struct {
	// Version identifies this set of values in results.
	Version string `yaml:"version" json:"version"`

	// Decision is the confidence at or above which a tumor is reported.
	Decision float64 `yaml:"decision" json:"decision"`

	// Region is the activation at or above which a pixel joins a region.
	Region float64 `yaml:"region" json:"region"`

	// MinRegionArea drops regions with fewer pixels.
	MinRegionArea int `yaml:"min_region_area" json:"min_region_area"`

	// BorderlineMargin is the half-width of the borderline band around Decision.
	BorderlineMargin float64 `yaml:"borderline_margin" json:"borderline_margin"`
}

// DefaultThresholds returns version "v1" of the thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Version:          "v1",
		Decision:         0.5,
		Region:           0.35,
		MinRegionArea:    16,
		BorderlineMargin: 0.1,
	}
}

// WithDecision returns th with its decision threshold replaced by v. When v
// differs from th.Decision the version becomes "<version>+decision=<v>", so
// results produced with an overridden threshold never carry the version of
// the unmodified set.
func (th Thresholds) WithDecision(v float64) Thresholds {
	if v == th.Decision {
		return th
	}
	th.Version = fmt.Sprintf("%s+decision=%s", th.Version, strconv.FormatFloat(v, 'g', -1, 64))
	th.Decision = v
	return th
}

// Validate reports malformed thresholds as scanerr.ErrInvalidConfig.
func (th Thresholds) Validate() error {
	if th.Version == "" {
		return fmt.Errorf("%w: thresholds version is required", scanerr.ErrInvalidConfig)
	}
	if !inUnit(th.Decision) {
		return fmt.Errorf("%w: decision threshold must be in [0,1], got %v", scanerr.ErrInvalidConfig, th.Decision)
	}
	if !inUnit(th.Region) {
		return fmt.Errorf("%w: region threshold must be in [0,1], got %v", scanerr.ErrInvalidConfig, th.Region)
	}
	if th.MinRegionArea < 0 {
		return fmt.Errorf("%w: min_region_area must be >= 0, got %d", scanerr.ErrInvalidConfig, th.MinRegionArea)
	}
	if !(th.BorderlineMargin >= 0 && th.BorderlineMargin <= 0.5) {
		return fmt.Errorf("%w: borderline_margin must be in [0,0.5], got %v", scanerr.ErrInvalidConfig, th.BorderlineMargin)
	}
	return nil
}

// Result is the structured outcome of one detection.
type Result struct {
	// HasTumor is Confidence >= Threshold. It is only ever set by Decide.
	HasTumor bool `json:"has_tumor"`

	// Confidence is the model's tumor probability in [0,1].
	Confidence float64 `json:"confidence"`

	// Band places Confidence relative to Threshold.
	Band Band `json:"band"`

	// Threshold is the decision threshold that was applied.
	Threshold float64 `json:"threshold"`

	// ThresholdVersion is the Version of the applied thresholds.
	ThresholdVersion string `json:"threshold_version"`

	// RegionThreshold is the activation level the regions were cut at.
	RegionThreshold float64 `json:"region_threshold"`

	// Regions are the connected high-activation areas, in map coordinates.
	// Empty when the model produced no map.
	Regions []Region `json:"regions"`

	// Localization is the activation map the regions were extracted from.
	Localization *inference.ActivationMap `json:"-"`
}

// Decide applies th to raw. It is a pure function: the same inputs always
// yield the same Result, and raising th.Decision never turns a negative
// result positive.
func Decide(raw inference.RawScore, th Thresholds) *Result {
	res := &Result{
		HasTumor:         raw.Confidence >= th.Decision,
		Confidence:       raw.Confidence,
		Threshold:        th.Decision,
		ThresholdVersion: th.Version,
		RegionThreshold:  th.Region,
		Regions:          []Region{},
		Localization:     raw.Map,
	}

	switch {
	case math.Abs(raw.Confidence-th.Decision) < th.BorderlineMargin:
		res.Band = BandBorderline
	case res.HasTumor:
		res.Band = BandPositive
	default:
		res.Band = BandNegative
	}

	if raw.Map != nil {
		res.Regions = ExtractRegions(raw.Map, th.Region, th.MinRegionArea)
	}
	return res
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
