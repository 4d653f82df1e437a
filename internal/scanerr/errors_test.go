package scanerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"unsupported", fmt.Errorf("%w: .gif", ErrUnsupportedFormat), CodeUnsupportedFormat},
		{"decode", fmt.Errorf("failed to load: %w", fmt.Errorf("%w: empty", ErrDecode)), CodeDecode},
		{"config", ErrInvalidConfig, CodeInvalidConfig},
		{"model", ErrModelUnavailable, CodeModelUnavailable},
		{"inference", ErrInference, CodeInference},
		{"write", ErrWrite, CodeWrite},
		{"timeout", FromContext(context.DeadlineExceeded), CodeTimeout},
		{"canceled", FromContext(context.Canceled), CodeCanceled},
		{"other", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestFromContext_KeepsCause(t *testing.T) {
	err := FromContext(context.DeadlineExceeded)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("deadline: got %v, want ErrTimeout wrapping the deadline", err)
	}

	err = FromContext(context.Canceled)
	if errors.Is(err, ErrTimeout) || !errors.Is(err, context.Canceled) {
		t.Errorf("cancel: got %v, want context.Canceled without ErrTimeout", err)
	}
}
