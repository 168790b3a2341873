package vm

import "github.com/akhildatla/warpsim/pkg/isa"

// builtin returns the value of a special register.
func (e *Engine) builtin(t *Thread, b isa.Builtin, dim int) uint64 {
	lane := uint(t.LaneID) % 32
	switch b {
	case isa.BuiltinTid:
		return uint64(t.Tid.Get(dim))
	case isa.BuiltinNtid:
		return uint64(t.Ntid().Get(dim))
	case isa.BuiltinCtaid:
		return uint64(t.Ctaid().Get(dim))
	case isa.BuiltinNctaid:
		return uint64(t.Nctaid().Get(dim))
	case isa.BuiltinLaneID:
		return uint64(t.LaneID)
	case isa.BuiltinWarpID:
		return uint64(t.WarpID)
	case isa.BuiltinNWarpID:
		n := t.Ntid().Size()
		return uint64((n + e.cfg.WarpSize - 1) / e.cfg.WarpSize)
	case isa.BuiltinSMID:
		return uint64(t.SMID)
	case isa.BuiltinGridID:
		if t.CTA != nil && t.CTA.Grid != nil {
			return uint64(t.CTA.Grid.ID)
		}
		return 0
	case isa.BuiltinClock:
		return uint64(uint32(e.now()))
	case isa.BuiltinClock64:
		return e.now()
	case isa.BuiltinLanemaskEq:
		return uint64(uint32(1) << lane)
	case isa.BuiltinLanemaskLt:
		return uint64(uint32(1)<<lane - 1)
	case isa.BuiltinLanemaskLe:
		return uint64(uint32(1)<<lane | (uint32(1)<<lane - 1))
	case isa.BuiltinLanemaskGt:
		return uint64(^(uint32(1)<<lane | (uint32(1)<<lane - 1)))
	case isa.BuiltinLanemaskGe:
		return uint64(^(uint32(1)<<lane - 1))
	}
	return 0
}
