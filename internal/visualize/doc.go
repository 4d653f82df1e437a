// Package visualize renders derived images for a detection result.
//
// The set of artifacts is fixed by configuration: one file per configured
// Kind, in configuration order, named {baseName}_{kind}.{ext} inside the
// output directory. The same tensor, result and options always produce the
// same paths and the same bytes.
//
// # Artifact Kinds
//
//   - overlay: the image with high-activation pixels tinted, region boxes
//     outlined and the confidence printed in the top-left corner
//   - heatmap: the activation map on a blue-to-red ramp
//   - crop: the largest region (padded) cut out and scaled; the whole image
//     when there are no regions
//   - edges: a Canny edge map of the image
//
// # Atomic Output
//
// Every artifact is first written to a hidden temporary file in the output
// directory and synced. Only when all of them have been written are they
// renamed to their final names. On any failure, including an expired
// context, the temporary files and anything already renamed by the same
// call are removed, so callers never see a partial set.
package visualize
