// Package inference runs the tumor-detection model over preprocessed tensors.
//
// A Detector owns one model backend. The backend is loaded exactly once,
// either eagerly through Load or lazily by the first Infer call, and is then
// shared read-only by every caller. Concurrent first calls trigger a single
// load.
//
// # Backends
//
//   - "contrast": the built-in reference model. It scores each pixel by how
//     much brighter its neighborhood is than the surrounding background and
//     needs no native runtime. Weights come from a small JSON file or the
//     built-in defaults.
//   - "onnx": an exported network run through ONNX Runtime. A JSON metadata
//     file describes the input and output tensors. Runs are serialized
//     because the session reuses preallocated tensors.
//
// # Failures
//
// Infer never reports a failed run as a negative result. A model that cannot
// be loaded yields scanerr.ErrModelUnavailable; NaN, infinite or
// out-of-range outputs and runtime failures yield scanerr.ErrInference.
package inference
