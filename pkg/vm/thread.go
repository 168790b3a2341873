package vm

import (
	"fmt"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/value"
)

// Dim3 is a three-component launch coordinate.
type Dim3 struct {
	X, Y, Z uint32
}

// Get returns component i (0=x, 1=y, 2=z).
func (d Dim3) Get(i int) uint32 {
	switch i {
	case 1:
		return d.Y
	case 2:
		return d.Z
	}
	return d.X
}

// Size returns X*Y*Z.
func (d Dim3) Size() int {
	return int(d.X) * int(d.Y) * int(d.Z)
}

func (d Dim3) String() string {
	return fmt.Sprintf("(%d,%d,%d)", d.X, d.Y, d.Z)
}

// Grid describes a kernel launch.
type Grid struct {
	ID     int
	Nctaid Dim3
	Ntid   Dim3
}

// CTA is one thread block.
type CTA struct {
	ID     int // unique within the launch
	Ctaid  Dim3
	Grid   *Grid
	Shared memory.Store
}

// Warp is a group of lanes issued together. Active is set by the
// scheduler before each instruction and read by the collective operations.
type Warp struct {
	ID     int // unique within the launch
	CTA    *CTA
	Lanes  []*Thread
	Active ActiveMask
}

// NewWarp creates a warp of size lanes with no threads bound.
func NewWarp(id, size int, cta *CTA) *Warp {
	return &Warp{ID: id, CTA: cta, Lanes: make([]*Thread, size), Active: NewActiveMask(size)}
}

// Size returns the number of lanes.
func (w *Warp) Size() int { return len(w.Lanes) }

// CallFrame is one outstanding call.
type CallFrame struct {
	Func            *isa.Function
	ReturnPC        int
	ReconvergencePC int
	ReturnVarSrc    *isa.Symbol // callee's return register
	ReturnVarDst    *isa.Symbol // caller's destination register
	CallUID         uint64
	Plus            bool // callp frame sharing the caller's registers
}

// Access records the memory access made by the last instruction, for the
// timing model.
type Access struct {
	Valid  bool
	Space  isa.Space
	Addr   uint64
	Size   int
	Write  bool
	Atomic bool
}

// BarrierWait is a pending barrier the scheduler must resolve before the
// thread continues. Count 0 means every thread of the CTA.
type BarrierWait struct {
	ID     uint32
	Count  uint32
	Arrive bool
}

// Thread is the architectural state of one SIMT thread.
type Thread struct {
	ID     int // unique within the launch
	Tid    Dim3
	LaneID int
	WarpID int // warp index within the CTA
	SMID   int
	HWTID  int

	Warp   *Warp
	CTA    *CTA
	Bank   *memory.Bank
	Module *isa.Module
	Func   *isa.Function

	PC           int
	NPC          int
	Done         bool
	StackPointer uint64

	// Set by the last instruction.
	Barrier     *BarrierWait
	LastAccess  Access
	BranchTaken bool

	frames []map[*isa.Symbol]value.Reg
	calls  []CallFrame
	breaks []int
	rays   []uint64 // outstanding traversal records, innermost last
}

// NewThread creates a thread positioned at the entry of fn, with one
// register frame and the initial call stack entry.
func NewThread(m *isa.Module, fn *isa.Function, bank *memory.Bank) *Thread {
	t := &Thread{
		Bank:   bank,
		Module: m,
		Func:   fn,
		PC:     fn.Start,
		NPC:    fn.Start,
		frames: []map[*isa.Symbol]value.Reg{make(map[*isa.Symbol]value.Reg)},
	}
	t.calls = []CallFrame{{Func: fn, ReturnPC: -1, ReconvergencePC: -1}}
	return t
}

// Ctaid returns the CTA coordinate.
func (t *Thread) Ctaid() Dim3 {
	if t.CTA == nil {
		return Dim3{}
	}
	return t.CTA.Ctaid
}

// Ntid returns the CTA shape.
func (t *Thread) Ntid() Dim3 {
	if t.CTA == nil || t.CTA.Grid == nil {
		return Dim3{X: 1, Y: 1, Z: 1}
	}
	return t.CTA.Grid.Ntid
}

// Nctaid returns the grid shape.
func (t *Thread) Nctaid() Dim3 {
	if t.CTA == nil || t.CTA.Grid == nil {
		return Dim3{X: 1, Y: 1, Z: 1}
	}
	return t.CTA.Grid.Nctaid
}

// Reg returns the value of sym in the current frame.
func (t *Thread) Reg(sym *isa.Symbol) (value.Reg, bool) {
	v, ok := t.frames[len(t.frames)-1][sym]
	return v, ok
}

// SetReg writes sym in the current frame. Writes to the discard register
// are dropped.
func (t *Thread) SetReg(sym *isa.Symbol, v value.Reg) {
	if sym == nil || sym.IsDiscard() {
		return
	}
	t.frames[len(t.frames)-1][sym] = v
}

// Depth returns the number of register frames.
func (t *Thread) Depth() int { return len(t.frames) }

// CallStack returns the outstanding calls, outermost first.
func (t *Thread) CallStack() []CallFrame {
	return append([]CallFrame(nil), t.calls...)
}

func (t *Thread) pushFrame() {
	t.frames = append(t.frames, make(map[*isa.Symbol]value.Reg))
}

func (t *Thread) popFrame() {
	if len(t.frames) > 1 {
		t.frames = t.frames[:len(t.frames)-1]
	}
}

func (t *Thread) regIn(depth int, sym *isa.Symbol) value.Reg {
	return t.frames[depth][sym]
}

func (t *Thread) setRegIn(depth int, sym *isa.Symbol, v value.Reg) {
	if sym == nil || sym.IsDiscard() {
		return
	}
	t.frames[depth][sym] = v
}

func (t *Thread) pushCall(cf CallFrame) {
	t.calls = append(t.calls, cf)
}

// popCall removes the innermost call. It reports false when the stack was
// already empty.
func (t *Thread) popCall() (CallFrame, bool) {
	if len(t.calls) == 0 {
		return CallFrame{}, false
	}
	cf := t.calls[len(t.calls)-1]
	t.calls = t.calls[:len(t.calls)-1]
	return cf, true
}

// RayRecord returns the address of the innermost traversal record.
func (t *Thread) RayRecord() (uint64, bool) {
	if len(t.rays) == 0 {
		return 0, false
	}
	return t.rays[len(t.rays)-1], true
}

func (t *Thread) target() memory.Target {
	return memory.Target{SMID: t.SMID, HWTID: t.HWTID, StackPointer: t.StackPointer, Bank: t.Bank}
}
