// Package postprocess turns raw model scores into a detection decision.
//
// The decision rule is fixed: a tumor is reported when the confidence is
// greater than or equal to the decision threshold. Thresholds are versioned
// configuration and never derived at runtime, so identical scores always
// produce identical results.
//
// When the model supplies an activation map, pixels at or above the region
// threshold are grouped into 8-connected regions. Seeds are visited in
// raster order and regions are sorted by area (largest first), then by top
// and left edge, so the region list does not depend on anything but the map.
package postprocess
