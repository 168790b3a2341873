package texture

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// checker returns a 2x2 image with a distinct value per texel.
func checker(mode AddressMode, filter Filter) *Image {
	img := NewImage(2, 2)
	img.Set(0, 0, Texel{0, 0, 0, 1})
	img.Set(1, 0, Texel{1, 0, 0, 1})
	img.Set(0, 1, Texel{0, 1, 0, 1})
	img.Set(1, 1, Texel{1, 1, 0, 1})
	img.Address = mode
	img.Filter = filter
	return img
}

func TestBank_SampleNearest(t *testing.T) {
	b := NewBank()
	if err := b.Register(7, checker(Clamp, Nearest)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		x, y float32
		want Texel
	}{
		{0.25, 0.25, Texel{0, 0, 0, 1}},
		{0.75, 0.25, Texel{1, 0, 0, 1}},
		{0.75, 0.75, Texel{1, 1, 0, 1}},
		{1.5, -3, Texel{1, 0, 0, 1}}, // clamped to the edge
	}
	for _, tt := range tests {
		got, err := b.Sample(7, tt.x, tt.y, 0)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Sample(%v, %v): expected %v, got %v", tt.x, tt.y, tt.want, got)
		}
	}
}

func TestBank_SampleWrap(t *testing.T) {
	b := NewBank()
	if err := b.Register(1, checker(Wrap, Nearest)); err != nil {
		t.Fatal(err)
	}
	got, err := b.Sample(1, 1.25, 1.75, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := (Texel{0, 1, 0, 1}); got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBank_SampleBilinear(t *testing.T) {
	b := NewBank()
	if err := b.Register(1, checker(Clamp, Linear)); err != nil {
		t.Fatal(err)
	}
	// The image centre weighs all four texels equally.
	got, err := b.Sample(1, 0.5, 0.5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := (Texel{0.5, 0.5, 0, 1}); got != want {
		t.Errorf("expected %v, got %v", want, got)
	}

	// A texel centre reproduces the texel.
	got, _ = b.Sample(1, 0.25, 0.75, 0)
	if want := (Texel{0, 1, 0, 1}); got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBank_MipLevel(t *testing.T) {
	img := checker(Clamp, Nearest)
	mip := NewImage(1, 1)
	mip.Set(0, 0, Texel{9, 9, 9, 9})
	img.Mips = []*Image{mip}

	b := NewBank()
	if err := b.Register(3, img); err != nil {
		t.Fatal(err)
	}
	got, _ := b.Sample(3, 0.1, 0.1, 1)
	if want := (Texel{9, 9, 9, 9}); got != want {
		t.Errorf("lod 1: expected %v, got %v", want, got)
	}
	got, _ = b.Sample(3, 0.1, 0.1, 8)
	if want := (Texel{9, 9, 9, 9}); got != want {
		t.Errorf("lod beyond last level: expected %v, got %v", want, got)
	}
}

func TestBank_LoadStore(t *testing.T) {
	b := NewBank()
	if err := b.Register(2, NewImage(4, 2)); err != nil {
		t.Fatal(err)
	}
	want := Texel{0.25, 0.5, 0.75, 1}
	if err := b.Store(2, 3, 1, want); err != nil {
		t.Fatal(err)
	}
	got, err := b.Load(2, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if _, err := b.Load(2, 4, 0); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
	if err := b.Store(2, 0, 2, want); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestBank_Errors(t *testing.T) {
	b := NewBank()
	if _, err := b.Sample(99, 0, 0, 0); !errors.Is(err, ErrUnknownDescriptor) {
		t.Errorf("expected ErrUnknownDescriptor, got %v", err)
	}
	bad := &Image{Width: 2, Height: 2, Texels: make([]Texel, 3)}
	if err := b.Register(1, bad); !errors.Is(err, ErrBadImage) {
		t.Errorf("expected ErrBadImage, got %v", err)
	}
}
