package launch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akhildatla/warpsim/internal/testutil"
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/loader"
	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/value"
	"github.com/akhildatla/warpsim/pkg/vm"
)

func quiet() Option {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return WithLogger(log)
}

func ops(o ...isa.Operand) []isa.Operand { return o }

func u32(v uint32) isa.Operand { return testutil.U32(v) }

func warpSize(n int) Option {
	cfg := vm.DefaultConfig()
	cfg.WarpSize = n
	return WithConfig(cfg)
}

// indexKernel stores each thread's global index at global[4*index].
func indexKernel() *isa.Module {
	r := testutil.Regs(isa.U32, "tid", "ctaid", "ntid", "idx", "addr")
	m, _ := testutil.Kernel("index",
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(r[0]), isa.Special(isa.BuiltinTid, 0))},
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(r[1]), isa.Special(isa.BuiltinCtaid, 0))},
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(r[2]), isa.Special(isa.BuiltinNtid, 0))},
		&isa.Instruction{Op: isa.OpMul, Mul: isa.MulLo, Type: isa.U32, Operands: ops(isa.Reg(r[3]), isa.Reg(r[1]), isa.Reg(r[2]))},
		&isa.Instruction{Op: isa.OpAdd, Type: isa.U32, Operands: ops(isa.Reg(r[3]), isa.Reg(r[3]), isa.Reg(r[0]))},
		&isa.Instruction{Op: isa.OpMul, Mul: isa.MulLo, Type: isa.U32, Operands: ops(isa.Reg(r[4]), isa.Reg(r[3]), u32(4))},
		&isa.Instruction{Op: isa.OpSt, Type: isa.U32, Space: isa.SpaceGlobal, Operands: ops(isa.Mem(r[4], 0), isa.Reg(r[3]))},
		&isa.Instruction{Op: isa.OpExit},
	)
	return m
}

func word(t *testing.T, s memory.Store, addr uint64) uint32 {
	t.Helper()
	v, err := s.Read(addr, 4)
	if err != nil {
		t.Fatal(err)
	}
	return v.U32()
}

func TestRun_Index(t *testing.T) {
	res, err := Run(indexKernel(), "index", vm.Dim3{X: 2, Y: 1, Z: 1}, vm.Dim3{X: 40, Y: 1, Z: 1}, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if res.Threads != 80 || res.CTAs != 2 || res.Warps != 4 {
		t.Errorf("expected 80 threads in 2 blocks of 2 warps, got %+v", res)
	}
	if res.Stats.Steps != 80*8 {
		t.Errorf("expected %d steps, got %d", 80*8, res.Stats.Steps)
	}
	for i := uint32(0); i < 80; i++ {
		if got := word(t, res.Global, uint64(i)*4); got != i {
			t.Errorf("global[%d]: expected %d, got %d", i, i, got)
		}
	}
}

func TestRun_Parallel(t *testing.T) {
	res, err := Run(indexKernel(), "index", vm.Dim3{X: 8, Y: 1, Z: 1}, vm.Dim3{X: 16, Y: 1, Z: 1},
		quiet(), WithParallel(4))
	if err != nil {
		t.Fatal(err)
	}
	for i := uint32(0); i < 128; i++ {
		if got := word(t, res.Global, uint64(i)*4); got != i {
			t.Errorf("global[%d]: expected %d, got %d", i, i, got)
		}
	}
}

// activeRecorder remembers the largest active lane count seen at each pc.
type activeRecorder struct {
	mu     sync.Mutex
	active map[int]int
}

func (r *activeRecorder) Record(t *vm.Thread, inst *isa.Instruction, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[inst.PC] = max(r.active[inst.PC], t.Warp.Active.Count())
}

func TestRun_DivergeAndReconverge(t *testing.T) {
	r := testutil.Regs(isa.U32, "tid", "odd", "val", "addr")
	p := testutil.Reg("p", isa.Pred)
	even := &isa.Symbol{Name: "EVEN", Kind: isa.SymLabel, PC: 6}
	join := &isa.Symbol{Name: "JOIN", Kind: isa.SymLabel, PC: 7}
	m, _ := testutil.Kernel("diverge",
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(r[0]), isa.Special(isa.BuiltinTid, 0))},
		&isa.Instruction{Op: isa.OpAnd, Type: isa.B32, Operands: ops(isa.Reg(r[1]), isa.Reg(r[0]), u32(1))},
		&isa.Instruction{Op: isa.OpSetp, Type: isa.U32, Cmp: isa.CmpEQ, Operands: ops(isa.Reg(p), isa.Reg(r[1]), u32(0))},
		&isa.Instruction{Op: isa.OpBra, Guard: p, Operands: ops(isa.AddrOf(even))},
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(r[2]), u32(1))},
		&isa.Instruction{Op: isa.OpBra, Operands: ops(isa.AddrOf(join))},
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(r[2]), u32(2))},
		&isa.Instruction{Op: isa.OpMul, Mul: isa.MulLo, Type: isa.U32, Operands: ops(isa.Reg(r[3]), isa.Reg(r[0]), u32(4))},
		&isa.Instruction{Op: isa.OpSt, Type: isa.U32, Space: isa.SpaceGlobal, Operands: ops(isa.Mem(r[3], 0), isa.Reg(r[2]))},
		&isa.Instruction{Op: isa.OpExit},
	)

	rec := &activeRecorder{active: make(map[int]int)}
	res, err := Run(m, "diverge", vm.Dim3{X: 1, Y: 1, Z: 1}, vm.Dim3{X: 8, Y: 1, Z: 1},
		quiet(), WithEngineOptions(vm.WithRecorder(rec)))
	if err != nil {
		t.Fatal(err)
	}
	for i := uint32(0); i < 8; i++ {
		want := uint32(1)
		if i%2 == 0 {
			want = 2
		}
		if got := word(t, res.Global, uint64(i)*4); got != want {
			t.Errorf("global[%d]: expected %d, got %d", i, want, got)
		}
	}
	for pc, want := range map[int]int{3: 8, 4: 4, 6: 4, 7: 8} {
		if got := rec.active[pc]; got != want {
			t.Errorf("pc %d: expected %d active lanes, got %d", pc, want, got)
		}
	}
}

func TestRun_Barrier(t *testing.T) {
	r := testutil.Regs(isa.U32, "tid", "addr", "next", "val")
	m, _ := testutil.Kernel("rotate",
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(r[0]), isa.Special(isa.BuiltinTid, 0))},
		&isa.Instruction{Op: isa.OpMul, Mul: isa.MulLo, Type: isa.U32, Operands: ops(isa.Reg(r[1]), isa.Reg(r[0]), u32(4))},
		&isa.Instruction{Op: isa.OpSt, Type: isa.U32, Space: isa.SpaceShared, Operands: ops(isa.Mem(r[1], 0), isa.Reg(r[0]))},
		&isa.Instruction{Op: isa.OpBar, Bar: isa.BarSync, Operands: ops(u32(0))},
		&isa.Instruction{Op: isa.OpAdd, Type: isa.U32, Operands: ops(isa.Reg(r[2]), isa.Reg(r[0]), u32(1))},
		&isa.Instruction{Op: isa.OpRem, Type: isa.U32, Operands: ops(isa.Reg(r[2]), isa.Reg(r[2]), u32(8))},
		&isa.Instruction{Op: isa.OpMul, Mul: isa.MulLo, Type: isa.U32, Operands: ops(isa.Reg(r[2]), isa.Reg(r[2]), u32(4))},
		&isa.Instruction{Op: isa.OpLd, Type: isa.U32, Space: isa.SpaceShared, Operands: ops(isa.Reg(r[3]), isa.Mem(r[2], 0))},
		&isa.Instruction{Op: isa.OpSt, Type: isa.U32, Space: isa.SpaceGlobal, Operands: ops(isa.Mem(r[1], 0), isa.Reg(r[3]))},
		&isa.Instruction{Op: isa.OpExit},
	)

	res, err := Run(m, "rotate", vm.Dim3{X: 1, Y: 1, Z: 1}, vm.Dim3{X: 8, Y: 1, Z: 1}, quiet(), warpSize(4))
	if err != nil {
		t.Fatal(err)
	}
	for i := uint32(0); i < 8; i++ {
		if got, want := word(t, res.Global, uint64(i)*4), (i+1)%8; got != want {
			t.Errorf("global[%d]: expected %d, got %d", i, want, got)
		}
	}
}

func TestRun_Deadlock(t *testing.T) {
	m, _ := testutil.Kernel("stuck",
		&isa.Instruction{Op: isa.OpBar, Bar: isa.BarSync, Operands: ops(u32(1), u32(16))},
		&isa.Instruction{Op: isa.OpExit},
	)
	_, err := Run(m, "stuck", vm.Dim3{X: 1, Y: 1, Z: 1}, vm.Dim3{X: 8, Y: 1, Z: 1}, quiet())
	if !errors.Is(err, ErrDeadlock) {
		t.Errorf("expected ErrDeadlock, got %v", err)
	}
}

func spin() *isa.Module {
	top := &isa.Symbol{Name: "TOP", Kind: isa.SymLabel, PC: 0}
	m, _ := testutil.Kernel("spin", &isa.Instruction{Op: isa.OpBra, Operands: ops(isa.AddrOf(top))})
	return m
}

func TestRun_StepLimit(t *testing.T) {
	res, err := Run(spin(), "spin", vm.Dim3{X: 1, Y: 1, Z: 1}, vm.Dim3{X: 4, Y: 1, Z: 1}, quiet(), WithMaxSteps(100))
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}
	if res.Stats.Steps != 100 {
		t.Errorf("expected 100 steps, got %d", res.Stats.Steps)
	}
}

func TestRun_Timeout(t *testing.T) {
	_, err := Run(spin(), "spin", vm.Dim3{X: 1, Y: 1, Z: 1}, vm.Dim3{X: 1, Y: 1, Z: 1},
		quiet(), WithTimeout(20*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestRun_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(spin(), "spin", vm.Dim3{X: 1, Y: 1, Z: 1}, vm.Dim3{X: 1, Y: 1, Z: 1}, quiet(), WithContext(ctx))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_Image(t *testing.T) {
	r := testutil.Regs(isa.U32, "a", "b", "ctaid", "addr")
	m, _ := testutil.Kernel("image",
		&isa.Instruction{Op: isa.OpLd, Type: isa.U32, Space: isa.SpaceShared, Operands: ops(isa.Reg(r[0]), isa.Addr(0))},
		&isa.Instruction{Op: isa.OpLd, Type: isa.U32, Space: isa.SpaceGlobal, Operands: ops(isa.Reg(r[1]), isa.Addr(0x100))},
		&isa.Instruction{Op: isa.OpAdd, Type: isa.U32, Operands: ops(isa.Reg(r[0]), isa.Reg(r[0]), isa.Reg(r[1]))},
		&isa.Instruction{Op: isa.OpMov, Type: isa.U32, Operands: ops(isa.Reg(r[2]), isa.Special(isa.BuiltinCtaid, 0))},
		&isa.Instruction{Op: isa.OpMul, Mul: isa.MulLo, Type: isa.U32, Operands: ops(isa.Reg(r[3]), isa.Reg(r[2]), u32(4))},
		&isa.Instruction{Op: isa.OpSt, Type: isa.U32, Space: isa.SpaceGlobal, Operands: ops(isa.Mem(r[3], 0x200), isa.Reg(r[0]))},
		&isa.Instruction{Op: isa.OpExit},
	)
	image := []loader.Entry{
		{Space: isa.SpaceGlobal, Addr: 0x100, Type: isa.U32, Value: value.FromU64(5)},
		{Space: isa.SpaceShared, Addr: 0, Type: isa.U32, Value: value.FromU64(7)},
	}
	res, err := Run(m, "image", vm.Dim3{X: 3, Y: 1, Z: 1}, vm.Dim3{X: 1, Y: 1, Z: 1}, quiet(), WithImage(image))
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(0); i < 3; i++ {
		if got := word(t, res.Global, 0x200+4*i); got != 12 {
			t.Errorf("block %d: expected 12, got %d", i, got)
		}
	}
}

func TestRun_Call(t *testing.T) {
	m := isa.NewModule("calls")
	callee := &isa.Function{Name: "helper"}
	kernel := &isa.Function{Name: "main", Entry: true}
	m.Append(kernel, []*isa.Instruction{
		{Op: isa.OpCall, Operands: ops(isa.Callee(callee))},
		{Op: isa.OpExit},
	})
	m.Append(callee, []*isa.Instruction{
		{Op: isa.OpSt, Type: isa.U32, Space: isa.SpaceGlobal, Operands: ops(isa.Addr(0x40), u32(9))},
		{Op: isa.OpRet},
	})

	res, err := Run(m, "main", vm.Dim3{X: 1, Y: 1, Z: 1}, vm.Dim3{X: 4, Y: 1, Z: 1}, quiet())
	if err != nil {
		t.Fatal(err)
	}
	if got := word(t, res.Global, 0x40); got != 9 {
		t.Errorf("expected 9, got %d", got)
	}
	if res.Stats.Steps != 4*4 {
		t.Errorf("expected 16 steps, got %d", res.Stats.Steps)
	}
}

func TestRun_Fault(t *testing.T) {
	d := testutil.Reg("d", isa.U32)
	m, _ := testutil.Kernel("div",
		&isa.Instruction{Op: isa.OpDiv, Type: isa.U32, Operands: ops(isa.Reg(d), u32(1), u32(0))},
	)
	_, err := Run(m, "div", vm.Dim3{X: 1, Y: 1, Z: 1}, vm.Dim3{X: 1, Y: 1, Z: 1}, quiet())
	if !errors.Is(err, vm.ErrDivideByZero) {
		t.Errorf("expected ErrDivideByZero, got %v", err)
	}
}

func TestRun_BadLaunch(t *testing.T) {
	m := indexKernel()
	helper := &isa.Function{Name: "helper"}
	m.Append(helper, []*isa.Instruction{{Op: isa.OpRet}})
	one := vm.Dim3{X: 1, Y: 1, Z: 1}

	tests := []struct {
		name   string
		kernel string
		grid   vm.Dim3
		block  vm.Dim3
		want   error
	}{
		{"unknown kernel", "nope", one, one, isa.ErrUnknownFunction},
		{"device function", "helper", one, one, ErrBadLaunch},
		{"empty grid", "index", vm.Dim3{}, one, ErrBadLaunch},
		{"block too large", "index", one, vm.Dim3{X: 4096, Y: 1, Z: 1}, ErrBadLaunch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Run(m, tt.kernel, tt.grid, tt.block, quiet()); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUnflatten(t *testing.T) {
	d := vm.Dim3{X: 4, Y: 3, Z: 2}
	got, err := unflatten(4*3+4+1, d)
	if err != nil {
		t.Fatal(err)
	}
	if want := (vm.Dim3{X: 1, Y: 1, Z: 1}); got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}
