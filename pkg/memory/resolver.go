package memory

import (
	"fmt"

	"github.com/akhildatla/warpsim/pkg/isa"
)

// Target identifies the thread an access is made on behalf of.
type Target struct {
	SMID         int
	HWTID        int
	StackPointer uint64
	Bank         *Bank
}

// Location is a resolved access: the backing store, the concrete space and
// the address within that store.
type Location struct {
	Store Store
	Space isa.Space
	Addr  uint64
}

// Resolver maps declared spaces onto a thread's stores.
type Resolver struct {
	Map AddressMap
}

// NewResolver creates a resolver over the given generic layout.
func NewResolver(m AddressMap) *Resolver {
	return &Resolver{Map: m}
}

// Resolve maps (space, addr) to a store and address. sym is the symbol the
// operand refers to and is consulted only for the unclassified param space.
func (r *Resolver) Resolve(space isa.Space, sym *isa.Symbol, addr uint64, tgt Target) (Location, error) {
	if tgt.Bank == nil {
		return Location{}, fmt.Errorf("%w: %s", ErrNoStore, space)
	}
	b := tgt.Bank

	if space == isa.SpaceParamUnclassified {
		if sym == nil {
			return Location{}, fmt.Errorf("%w: param without symbol", ErrBadAddressSpace)
		}
		switch sym.Kind {
		case isa.SymParamKernel, isa.SymReg:
			space = isa.SpaceParamKernel
		case isa.SymParamLocal:
			space = isa.SpaceParamLocal
		default:
			return Location{}, fmt.Errorf("%w: cannot resolve .param space for '%s'", ErrBadAddressSpace, sym.Name)
		}
	}

	var loc Location
	switch space {
	case isa.SpaceGlobal, isa.SpaceConst:
		loc = Location{b.Global, space, addr}
	case isa.SpaceLocal, isa.SpaceParamLocal:
		loc = Location{b.Local, space, addr + tgt.StackPointer}
	case isa.SpaceTex:
		loc = Location{b.Tex, space, addr}
	case isa.SpaceSurf:
		loc = Location{b.Surf, space, addr}
	case isa.SpaceParamKernel:
		loc = Location{b.ParamKernel, space, addr}
	case isa.SpaceShared:
		loc = Location{b.Shared, space, addr}
	case isa.SpaceSStarr:
		loc = Location{b.SStarr, space, addr}
	case isa.SpaceGeneric:
		switch r.Map.WhichSpace(addr) {
		case isa.SpaceGlobal:
			loc = Location{b.Global, isa.SpaceGlobal, r.Map.GenericToGlobal(addr)}
		case isa.SpaceLocal:
			loc = Location{b.Local, isa.SpaceLocal, r.Map.GenericToLocal(addr, tgt.SMID, tgt.HWTID)}
		default:
			loc = Location{b.Shared, isa.SpaceShared, r.Map.GenericToShared(addr, tgt.SMID)}
		}
	default:
		return Location{}, fmt.Errorf("%w: %q", ErrBadAddressSpace, space)
	}

	if loc.Store == nil {
		return Location{}, fmt.Errorf("%w: %s", ErrNoStore, loc.Space)
	}
	return loc, nil
}

// ToGeneric converts a space-specific address to a generic one (cvta).
func (r *Resolver) ToGeneric(space isa.Space, addr uint64, tgt Target) (uint64, error) {
	switch space {
	case isa.SpaceShared:
		return r.Map.SharedToGeneric(addr, tgt.SMID), nil
	case isa.SpaceLocal:
		// The stack pointer is folded in so the pointer survives a call.
		return r.Map.LocalToGeneric(addr, tgt.SMID, tgt.HWTID) + tgt.StackPointer, nil
	case isa.SpaceGlobal:
		return r.Map.GlobalToGeneric(addr), nil
	}
	return 0, fmt.Errorf("%w: cvta.%s", ErrBadAddressSpace, space)
}

// FromGeneric converts a generic address into space (cvta.to.space).
func (r *Resolver) FromGeneric(space isa.Space, addr uint64, tgt Target) (uint64, error) {
	switch space {
	case isa.SpaceShared:
		return r.Map.GenericToShared(addr, tgt.SMID), nil
	case isa.SpaceLocal:
		return r.Map.GenericToLocal(addr, tgt.SMID, tgt.HWTID), nil
	case isa.SpaceGlobal:
		return r.Map.GenericToGlobal(addr), nil
	}
	return 0, fmt.Errorf("%w: cvta.to.%s", ErrBadAddressSpace, space)
}

// InSpace reports whether a generic address falls in the target's own
// window of space (isspacep).
func (r *Resolver) InSpace(space isa.Space, addr uint64, tgt Target) (bool, error) {
	switch space {
	case isa.SpaceShared:
		base := r.Map.sharedBase(tgt.SMID)
		return addr >= base && addr < base+r.Map.SharedSize, nil
	case isa.SpaceLocal:
		base := r.Map.localBase(tgt.SMID, tgt.HWTID)
		return addr >= base && addr < base+r.Map.LocalSize, nil
	case isa.SpaceGlobal:
		return r.Map.IsGlobal(addr), nil
	}
	return false, fmt.Errorf("%w: isspacep.%s", ErrBadAddressSpace, space)
}
