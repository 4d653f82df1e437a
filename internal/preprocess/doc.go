// Package preprocess adapts a canonical tensor to the detector's input
// contract.
//
// Steps run in a fixed order, each producing a new tensor:
//
//  1. Denoise (optional): 5x5 Gaussian blur per channel
//  2. Resize: bilinear, always, to TargetWidth × TargetHeight
//  3. Normalize (optional): min-max stretch to [0,1]
//  4. Standardize (optional): per-channel z-scores
//
// Building with the gocv tag replaces the built-in blur with OpenCV's
// GaussianBlur. That path round-trips through 8-bit pixels.
package preprocess
