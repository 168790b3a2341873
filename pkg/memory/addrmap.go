package memory

import "github.com/akhildatla/warpsim/pkg/isa"

// Default generic address layout.
const (
	DefaultGlobalHeapStart = 0xC0000000
	DefaultSharedSize      = 64 * 1024
	DefaultLocalSize       = 16 * 1024
	DefaultMaxSMs          = 64
	DefaultThreadsPerSM    = 2048
)

// AddressMap describes how the generic address space is carved into the
// global, shared and local windows. Shared memory sits directly below the
// global heap, one window per SM; local memory sits below shared, one
// window per hardware thread.
//
//	0                 LocalGenericStart   SharedGenericStart   GlobalHeapStart
//	|---- global -----|------ local ------|------ shared ------|---- global ---->
type AddressMap struct {
	GlobalHeapStart uint64
	SharedSize      uint64 // per SM
	LocalSize       uint64 // per hardware thread
	MaxSMs          uint64
	ThreadsPerSM    uint64
}

// DefaultAddressMap returns the stock layout.
func DefaultAddressMap() AddressMap {
	return AddressMap{
		GlobalHeapStart: DefaultGlobalHeapStart,
		SharedSize:      DefaultSharedSize,
		LocalSize:       DefaultLocalSize,
		MaxSMs:          DefaultMaxSMs,
		ThreadsPerSM:    DefaultThreadsPerSM,
	}
}

func (m AddressMap) totalShared() uint64 { return m.MaxSMs * m.SharedSize }
func (m AddressMap) localPerSM() uint64 { return m.ThreadsPerSM * m.LocalSize }
func (m AddressMap) totalLocal() uint64 { return m.MaxSMs * m.localPerSM() }
func (m AddressMap) SharedGenericStart() uint64 { return m.GlobalHeapStart - m.totalShared() }
func (m AddressMap) LocalGenericStart() uint64 { return m.SharedGenericStart() - m.totalLocal() }

// StaticAllocLimit is the top of the low global window.
func (m AddressMap) StaticAllocLimit() uint64 { return m.LocalGenericStart() }

// WhichSpace classifies a generic address.
func (m AddressMap) WhichSpace(addr uint64) isa.Space {
	switch {
	case addr >= m.GlobalHeapStart || addr < m.StaticAllocLimit():
		return isa.SpaceGlobal
	case addr >= m.SharedGenericStart():
		return isa.SpaceShared
	default:
		return isa.SpaceLocal
	}
}

func (m AddressMap) IsGlobal(addr uint64) bool { return m.WhichSpace(addr) == isa.SpaceGlobal }
func (m AddressMap) IsShared(addr uint64) bool { return m.WhichSpace(addr) == isa.SpaceShared }
func (m AddressMap) IsLocal(addr uint64) bool { return m.WhichSpace(addr) == isa.SpaceLocal }

func (m AddressMap) sharedBase(smid int) uint64 {
	return m.SharedGenericStart() + uint64(smid)*m.SharedSize
}

func (m AddressMap) localBase(smid, hwtid int) uint64 {
	return m.LocalGenericStart() + uint64(smid)*m.localPerSM() + uint64(hwtid)*m.LocalSize
}

func (m AddressMap) GenericToShared(addr uint64, smid int) uint64 { return addr - m.sharedBase(smid) }
func (m AddressMap) SharedToGeneric(addr uint64, smid int) uint64 { return addr + m.sharedBase(smid) }

func (m AddressMap) GenericToLocal(addr uint64, smid, hwtid int) uint64 {
	return addr - m.localBase(smid, hwtid)
}

func (m AddressMap) LocalToGeneric(addr uint64, smid, hwtid int) uint64 {
	return addr + m.localBase(smid, hwtid)
}

// Global addresses are identical in both spaces.
func (m AddressMap) GenericToGlobal(addr uint64) uint64 { return addr }
func (m AddressMap) GlobalToGeneric(addr uint64) uint64 { return addr }
