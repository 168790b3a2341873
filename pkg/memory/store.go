// Package memory provides the byte-addressable stores the engine reads and
// writes, and the resolver that maps an operand's state space onto them.
//
// Basic usage:
//
//	global := memory.NewPaged("global")
//	bank := &memory.Bank{Global: global, Shared: memory.NewPaged("shared")}
//	r := memory.NewResolver(memory.DefaultAddressMap())
//	loc, err := r.Resolve(isa.SpaceGeneric, nil, addr, memory.Target{Bank: bank})
//	v, err := loc.Store.Read(loc.Addr, 4)
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/value"
)

// Error definitions
var (
	ErrBadAccessSize   = errors.New("unsupported access size")
	ErrBadAddressSpace = errors.New("unresolvable address space")
	ErrNoStore         = errors.New("no store bound for space")
)

// PageSize is the granularity of Paged allocation.
const PageSize = 4096

// Store is a byte-addressable memory. Accesses are little-endian and
// 1, 2, 4, 8 or 16 bytes wide.
type Store interface {
	Read(addr uint64, size int) (value.Reg, error)
	Write(addr uint64, size int, v value.Reg) error
}

// Paged is a sparse Store backed by lazily allocated pages. Unwritten
// bytes read as zero. It is safe for concurrent use.
type Paged struct {
	name  string
	mu    sync.Mutex
	pages map[uint64]*[PageSize]byte
}

// NewPaged creates an empty store. The name appears in diagnostics.
func NewPaged(name string) *Paged {
	return &Paged{name: name, pages: make(map[uint64]*[PageSize]byte)}
}

// Name returns the store's name.
func (p *Paged) Name() string { return p.name }

func checkSize(size int) error {
	switch size {
	case 1, 2, 4, 8, 16:
		return nil
	}
	return fmt.Errorf("%w: %d bytes", ErrBadAccessSize, size)
}

// Read loads size bytes at addr.
func (p *Paged) Read(addr uint64, size int) (value.Reg, error) {
	if err := checkSize(size); err != nil {
		return value.Reg{}, err
	}
	var buf [16]byte
	p.ReadBytes(addr, buf[:size])
	return value.Reg{
		Lo: binary.LittleEndian.Uint64(buf[0:8]),
		Hi: binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// Write stores the low size bytes of v at addr.
func (p *Paged) Write(addr uint64, size int, v value.Reg) error {
	if err := checkSize(size); err != nil {
		return err
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], v.Lo)
	binary.LittleEndian.PutUint64(buf[8:16], v.Hi)
	p.WriteBytes(addr, buf[:size])
	return nil
}

// ReadBytes fills buf from addr.
func (p *Paged) ReadBytes(addr uint64, buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range buf {
		a := addr + uint64(i)
		if pg, ok := p.pages[a/PageSize]; ok {
			buf[i] = pg[a%PageSize]
		} else {
			buf[i] = 0
		}
	}
}

// WriteBytes copies buf to addr.
func (p *Paged) WriteBytes(addr uint64, buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, b := range buf {
		a := addr + uint64(i)
		pg, ok := p.pages[a/PageSize]
		if !ok {
			pg = new([PageSize]byte)
			p.pages[a/PageSize] = pg
		}
		pg[a%PageSize] = b
	}
}

// Span is a contiguous allocated region.
type Span struct {
	Addr uint64
	Size uint64
}

// Spans returns the allocated pages, coalesced and in address order.
func (p *Paged) Spans() []Span {
	p.mu.Lock()
	keys := make([]uint64, 0, len(p.pages))
	for k := range p.pages {
		keys = append(keys, k)
	}
	p.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var spans []Span
	for _, k := range keys {
		if n := len(spans); n > 0 && spans[n-1].Addr+spans[n-1].Size == k*PageSize {
			spans[n-1].Size += PageSize
			continue
		}
		spans = append(spans, Span{Addr: k * PageSize, Size: PageSize})
	}
	return spans
}

// Bank holds the stores visible to one executing thread.
type Bank struct {
	Global      Store // also backs const
	Shared      Store // per CTA
	Local       Store // per thread, also backs param_local
	ParamKernel Store
	Tex         Store
	Surf        Store
	SStarr      Store
}

// For returns the store backing space without address translation.
func (b *Bank) For(space isa.Space) (Store, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoStore, space)
	}
	var s Store
	switch space {
	case isa.SpaceGlobal, isa.SpaceConst:
		s = b.Global
	case isa.SpaceShared:
		s = b.Shared
	case isa.SpaceLocal, isa.SpaceParamLocal:
		s = b.Local
	case isa.SpaceParamKernel:
		s = b.ParamKernel
	case isa.SpaceTex:
		s = b.Tex
	case isa.SpaceSurf:
		s = b.Surf
	case isa.SpaceSStarr:
		s = b.SStarr
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadAddressSpace, space)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoStore, space)
	}
	return s, nil
}
