// Package imaging decodes input files into canonical tensors and provides the
// low-level pixel operations the renderers build on.
//
// # Canonical Tensor
//
// Every loaded image becomes a Tensor: height × width × 3, interleaved
// (HWC), R, G, B order, float32 values in [0,1]. The shape convention does
// not depend on the source:
//   - 8-bit and 16-bit grayscale are replicated across all three channels
//   - 16-bit sources keep full precision (value / 65535)
//   - alpha is dropped after premultiplication (transparent becomes black)
//   - DICOM frames are min-max stretched over their own dynamic range
//
// # Supported Formats
//
// The format is taken from the file extension: .png, .jpg, .jpeg and .dcm,
// case-insensitive. DICOM files with several frames yield one frame, selected
// by LoadOptions.SliceIndex (the first frame by default).
//
// # Coordinate System
//
// All pixel coordinates are 0-based with (0,0) at the top-left corner. For
// regions, (x1,y1) is inclusive and (x2,y2) is exclusive, matching
// image.Rectangle.
//
// # Thread Safety
//
// Nothing in this package holds state between calls. Tensors are treated as
// immutable once returned, so they can be shared between goroutines.
package imaging
