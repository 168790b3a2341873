package vm

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/akhildatla/warpsim/internal/testutil"
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/value"
)

func quietEngine(opts ...Option) *Engine {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return New(append([]Option{WithLogger(log)}, opts...)...)
}

// single returns a lone thread positioned at the start of body.
func single(body ...*isa.Instruction) *Thread {
	m, fn := testutil.Kernel("k", body...)
	return NewThread(m, fn, testutil.NewBank())
}

// warpOf returns n lanes of one warp in one CTA, all active, sharing the
// global store.
func warpOf(n int, body ...*isa.Instruction) []*Thread {
	m, fn := testutil.Kernel("k", body...)
	global := memory.NewPaged("global")
	grid := &Grid{Nctaid: Dim3{1, 1, 1}, Ntid: Dim3{uint32(n), 1, 1}}
	cta := &CTA{Grid: grid, Shared: memory.NewPaged("shared")}
	w := NewWarp(0, n, cta)
	w.Active = FullMask(n)
	lanes := make([]*Thread, n)
	for i := range lanes {
		bank := testutil.NewBank()
		bank.Global = global
		bank.Shared = cta.Shared
		t := NewThread(m, fn, bank)
		t.ID, t.LaneID = i, i
		t.Tid = Dim3{X: uint32(i)}
		t.Warp, t.CTA = w, cta
		w.Lanes[i] = t
		lanes[i] = t
	}
	return lanes
}

// run executes until the thread exits or falls off the end of its code.
func run(t *testing.T, e *Engine, th *Thread) {
	t.Helper()
	for steps := 0; !th.Done; steps++ {
		if steps > 1000 {
			t.Fatal("thread did not finish")
		}
		inst, err := th.Module.At(th.PC)
		if err != nil {
			return
		}
		if err := e.Execute(th, inst); err != nil {
			t.Fatal(err)
		}
	}
}

// lockstep runs the instruction at each lane's pc, lane by lane.
func lockstep(t *testing.T, e *Engine, lanes []*Thread, order ...int) {
	t.Helper()
	if len(order) == 0 {
		for i := range lanes {
			order = append(order, i)
		}
	}
	for _, i := range order {
		th := lanes[i]
		inst, err := th.Module.At(th.PC)
		if err != nil {
			t.Fatal(err)
		}
		if err := e.Execute(th, inst); err != nil {
			t.Fatal(err)
		}
	}
}

func reg(t *testing.T, th *Thread, sym *isa.Symbol) value.Reg {
	t.Helper()
	v, ok := th.Reg(sym)
	if !ok {
		t.Fatalf("register %s not written", sym.Name)
	}
	return v
}

func s32(v int32) isa.Operand   { return isa.Imm(isa.S32, uint64(uint32(v))) }
func f32(v float32) isa.Operand { return isa.Imm(isa.F32, uint64(math.Float32bits(v))) }
func u32(v uint32) isa.Operand  { return testutil.U32(v) }

func ops(o ...isa.Operand) []isa.Operand { return o }
