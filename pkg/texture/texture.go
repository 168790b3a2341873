// Package texture provides the texture and image service used by the tex,
// txl and image load/store instructions.
//
// Images are registered under a descriptor handle, the 64-bit value a
// program passes as its texture or image operand. Sampling uses
// normalised coordinates in [0,1) and the image's addressing and filter
// modes; loads and stores address texels directly.
package texture

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"golang.org/x/exp/constraints"
)

var (
	ErrUnknownDescriptor = errors.New("unknown texture descriptor")
	ErrOutOfBounds       = errors.New("texel coordinate out of bounds")
	ErrBadImage          = errors.New("malformed image")
)

// Texel is one RGBA sample.
type Texel [4]float32

// Sampler is the service the engine calls for texture and image access.
type Sampler interface {
	// Sample filters the image at normalised (x, y) and level of detail lod.
	Sample(desc uint64, x, y, lod float32) (Texel, error)
	// Load reads the texel at integer coordinates of the base level.
	Load(desc uint64, x, y uint32) (Texel, error)
	// Store writes the texel at integer coordinates of the base level.
	Store(desc uint64, x, y uint32, v Texel) error
}

// AddressMode selects how coordinates outside [0,1) are handled.
type AddressMode uint8

const (
	Clamp AddressMode = iota // clamp to the edge texel
	Wrap                     // repeat
)

func (m AddressMode) String() string {
	if m == Wrap {
		return "wrap"
	}
	return "clamp"
}

// Filter selects the reconstruction filter.
type Filter uint8

const (
	Nearest Filter = iota
	Linear         // bilinear
)

func (f Filter) String() string {
	if f == Linear {
		return "linear"
	}
	return "nearest"
}

// Image is a two-dimensional RGBA image with optional mip levels. Texels
// are stored row-major.
type Image struct {
	Width   int
	Height  int
	Texels  []Texel
	Address AddressMode
	Filter  Filter
	Mips    []*Image // levels 1..n, each addressed and filtered like the base
}

// NewImage returns a zeroed image.
func NewImage(width, height int) *Image {
	return &Image{Width: width, Height: height, Texels: make([]Texel, width*height)}
}

// At returns the texel at (x, y).
func (img *Image) At(x, y int) Texel {
	return img.Texels[y*img.Width+x]
}

// Set writes the texel at (x, y).
func (img *Image) Set(x, y int, v Texel) {
	img.Texels[y*img.Width+x] = v
}

func (img *Image) validate() error {
	if img == nil || img.Width <= 0 || img.Height <= 0 || len(img.Texels) != img.Width*img.Height {
		return ErrBadImage
	}
	for i, m := range img.Mips {
		if err := m.validate(); err != nil {
			return fmt.Errorf("mip level %d: %w", i+1, err)
		}
	}
	return nil
}

// level returns the mip level nearest to lod.
func (img *Image) level(lod float32) *Image {
	if math.IsNaN(float64(lod)) || lod <= 0.5 || len(img.Mips) == 0 {
		return img
	}
	l := clamp(int(math.Round(float64(lod))), 0, len(img.Mips))
	if l == 0 {
		return img
	}
	m := img.Mips[l-1]
	if m.Address != img.Address || m.Filter != img.Filter {
		c := *m
		c.Address, c.Filter = img.Address, img.Filter
		return &c
	}
	return m
}

// coord maps texel index i into [0, n) under the addressing mode.
func (img *Image) coord(i, n int) int {
	if img.Address == Wrap {
		i %= n
		if i < 0 {
			i += n
		}
		return i
	}
	return clamp(i, 0, n-1)
}

func (img *Image) fetch(x, y int) Texel {
	return img.At(img.coord(x, img.Width), img.coord(y, img.Height))
}

// sample filters at normalised coordinates.
func (img *Image) sample(u, v float32) Texel {
	if math.IsNaN(float64(u)) || math.IsNaN(float64(v)) {
		return Texel{}
	}
	fx := float64(u) * float64(img.Width)
	fy := float64(v) * float64(img.Height)
	if img.Filter == Nearest {
		return img.fetch(int(math.Floor(fx)), int(math.Floor(fy)))
	}

	fx -= 0.5
	fy -= 0.5
	x0, y0 := math.Floor(fx), math.Floor(fy)
	ax, ay := float32(fx-x0), float32(fy-y0)
	ix, iy := int(x0), int(y0)

	t00 := img.fetch(ix, iy)
	t10 := img.fetch(ix+1, iy)
	t01 := img.fetch(ix, iy+1)
	t11 := img.fetch(ix+1, iy+1)
	var out Texel
	for c := range out {
		top := t00[c]*(1-ax) + t10[c]*ax
		bot := t01[c]*(1-ax) + t11[c]*ax
		out[c] = top*(1-ay) + bot*ay
	}
	return out
}

func clamp[T constraints.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

// Bank is the reference Sampler: an in-memory set of images keyed by
// descriptor. It is safe for concurrent use.
type Bank struct {
	mu     sync.RWMutex
	images map[uint64]*Image
}

// NewBank returns an empty bank.
func NewBank() *Bank {
	return &Bank{images: make(map[uint64]*Image)}
}

// Register binds img to desc, replacing any previous binding.
func (b *Bank) Register(desc uint64, img *Image) error {
	if err := img.validate(); err != nil {
		return fmt.Errorf("descriptor 0x%x: %w", desc, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.images[desc] = img
	return nil
}

// Image returns the image bound to desc.
func (b *Bank) Image(desc uint64) (*Image, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	img, ok := b.images[desc]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%x", ErrUnknownDescriptor, desc)
	}
	return img, nil
}

// Sample implements Sampler.
func (b *Bank) Sample(desc uint64, x, y, lod float32) (Texel, error) {
	img, err := b.Image(desc)
	if err != nil {
		return Texel{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return img.level(lod).sample(x, y), nil
}

// Load implements Sampler.
func (b *Bank) Load(desc uint64, x, y uint32) (Texel, error) {
	img, err := b.Image(desc)
	if err != nil {
		return Texel{}, err
	}
	if int(x) >= img.Width || int(y) >= img.Height {
		return Texel{}, fmt.Errorf("%w: (%d,%d) in %dx%d", ErrOutOfBounds, x, y, img.Width, img.Height)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return img.At(int(x), int(y)), nil
}

// Store implements Sampler.
func (b *Bank) Store(desc uint64, x, y uint32, v Texel) error {
	img, err := b.Image(desc)
	if err != nil {
		return err
	}
	if int(x) >= img.Width || int(y) >= img.Height {
		return fmt.Errorf("%w: (%d,%d) in %dx%d", ErrOutOfBounds, x, y, img.Width, img.Height)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	img.Set(int(x), int(y), v)
	return nil
}
