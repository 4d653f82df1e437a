package visualize

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ironsheep/tumorscan/internal/scanerr"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"overlay", KindOverlay, false},
		{"Heatmap", KindHeatmap, false},
		{" crop ", KindCrop, false},
		{"edges", KindEdges, false},
		{"xray", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				if !errors.Is(err, scanerr.ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds("overlay, edges,,crop")
	if err != nil {
		t.Fatalf("ParseKinds failed: %v", err)
	}
	if want := []Kind{KindOverlay, KindEdges, KindCrop}; !reflect.DeepEqual(kinds, want) {
		t.Errorf("got %v, want %v", kinds, want)
	}

	if _, err := ParseKinds("overlay,nope"); !errors.Is(err, scanerr.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestKindDescriptions(t *testing.T) {
	for _, k := range AllKinds() {
		if k.Description() == "" {
			t.Errorf("kind %s has no description", k)
		}
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(o *Options)
	}{
		{"no kinds", func(o *Options) { o.Kinds = nil }},
		{"unknown kind", func(o *Options) { o.Kinds = []Kind{"xray"} }},
		{"uppercase kind", func(o *Options) { o.Kinds = []Kind{"OVERLAY"} }},
		{"duplicate kind", func(o *Options) { o.Kinds = []Kind{KindOverlay, KindOverlay} }},
		{"unknown format", func(o *Options) { o.Format = "gif" }},
		{"bad jpeg quality", func(o *Options) { o.Format = FormatJPEG; o.JPEGQuality = 0 }},
		{"bad overlay color", func(o *Options) { o.OverlayColor = "red" }},
		{"bad box color", func(o *Options) { o.BoxColor = "#12" }},
		{"negative padding", func(o *Options) { o.CropPadding = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			if err := o.Validate(); !errors.Is(err, scanerr.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNewRenderer_CopiesKinds(t *testing.T) {
	opts := DefaultOptions()
	r, err := NewRenderer(opts)
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	opts.Kinds[0] = KindEdges
	if r.Kinds()[0] != KindOverlay {
		t.Error("renderer kinds changed when the caller's slice was modified")
	}
}
