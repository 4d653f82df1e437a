// Package scanerr defines the failure taxonomy shared by every pipeline stage.
//
// Stages wrap one of the sentinel errors below so callers can classify a
// failure with errors.Is regardless of which stage produced it. A failed
// invocation is never reported as a negative detection.
package scanerr

import (
	"context"
	"errors"
)

var (
	// ErrUnsupportedFormat is returned when an input file is not PNG, JPEG or DICOM.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrDecode is returned for unreadable, empty, truncated or corrupt image data.
	ErrDecode = errors.New("decode error")

	// ErrInvalidConfig is returned for malformed configuration values.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrModelUnavailable is returned when model weights are not loaded or cannot be loaded.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrInference is returned when inference ran but produced unusable output.
	ErrInference = errors.New("inference error")

	// ErrWrite is returned when visualization artifacts cannot be written.
	ErrWrite = errors.New("write error")

	// ErrTimeout is returned when the per-invocation deadline expires.
	ErrTimeout = errors.New("timeout")
)

// Stable codes reported to callers outside the process.
const (
	CodeUnsupportedFormat = "unsupported_format"
	CodeDecode            = "decode_error"
	CodeInvalidConfig     = "invalid_config"
	CodeModelUnavailable  = "model_unavailable"
	CodeInference         = "inference_error"
	CodeWrite             = "write_error"
	CodeTimeout           = "timeout"
	CodeCanceled          = "canceled"
	CodeInternal          = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnsupportedFormat, CodeUnsupportedFormat},
	{ErrDecode, CodeDecode},
	{ErrInvalidConfig, CodeInvalidConfig},
	{ErrModelUnavailable, CodeModelUnavailable},
	{ErrInference, CodeInference},
	{ErrWrite, CodeWrite},
	{ErrTimeout, CodeTimeout},
	{context.Canceled, CodeCanceled},
}

// Code returns the stable code for err, or "" for a nil error.
// Errors outside the taxonomy map to CodeInternal.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromContext converts a context error into the pipeline taxonomy.
// An expired deadline becomes ErrTimeout; cancellation is returned as is.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}
