// Package vm implements the functional SIMT instruction engine.
//
// The engine executes one decoded instruction for one thread at a time. It
// computes the result, writes registers and memory, and redirects control
// flow. Timing is not modelled: a scheduler decides which thread runs next
// and calls Execute once per active lane.
//
// Basic usage:
//
//	e := vm.New()
//	t := vm.NewThread(module, kernel, bank)
//	for !t.Done {
//		inst, _ := module.At(t.PC)
//		if err := e.Execute(t, inst); err != nil {
//			return err
//		}
//	}
//
// With collaborators:
//
//	e := vm.New(
//		vm.WithConfig(cfg),
//		vm.WithLogger(log),
//		vm.WithOracle(scheduler),
//		vm.WithRayTracing(rt),
//		vm.WithTextures(textures),
//	)
//
// Warp-collective instructions (bar.red, vote, shfl) publish their result
// only after every expected participant has executed the instruction, so the
// scheduler must run all active lanes of a warp through the same instruction
// before moving on.
package vm

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/raytrace"
	"github.com/akhildatla/warpsim/pkg/texture"
)

// Config controls engine behaviour.
type Config struct {
	WarpSize               int
	DebugInstructions      bool // log every executed instruction at debug level
	WarnUndefinedRegisters bool // warn once when a register is read before written
	AddressMap             memory.AddressMap
}

// DefaultConfig returns the GPGPU-Sim defaults.
func DefaultConfig() Config {
	return Config{
		WarpSize:               32,
		WarnUndefinedRegisters: true,
		AddressMap:             memory.DefaultAddressMap(),
	}
}

// DivergenceOracle reports the top of a warp's reconvergence stack.
type DivergenceOracle interface {
	PDOMState(w *Warp) (pc, rpc int)
}

// Recorder observes every executed instruction.
type Recorder interface {
	Record(t *Thread, inst *isa.Instruction, err error)
}

// Stats counts executed instructions.
type Stats struct {
	Steps    int64          // instructions executed, guarded-off included
	Guarded  int64          // instructions skipped by their guard
	Faults   int64          // instructions that faulted
	OpCounts map[string]int // executions per opcode
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRayTracing binds the ray-tracing service.
func WithRayTracing(s raytrace.Service) Option {
	return func(e *Engine) { e.rt = s }
}

// WithTextures binds the texture sampler.
func WithTextures(s texture.Sampler) Option {
	return func(e *Engine) { e.tex = s }
}

// WithOracle binds the divergence oracle consulted by call.
func WithOracle(o DivergenceOracle) Option {
	return func(e *Engine) { e.oracle = o }
}

// WithRecorder registers an instruction recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.rec = r }
}

// WithClock sets the cycle source read by %clock and shader_clock.
func WithClock(clock func() uint64) Option {
	return func(e *Engine) { e.clock = clock }
}

// Engine executes instructions. It is safe for concurrent use by threads of
// different warps.
type Engine struct {
	cfg      Config
	log      *logrus.Logger
	resolver *memory.Resolver
	rt       raytrace.Service
	tex      texture.Sampler
	oracle   DivergenceOracle
	rec      Recorder
	clock    func() uint64

	mu          sync.Mutex
	atomMu      sync.Mutex // serialises atomic read-modify-writes
	warnedUndef bool
	callUID     uint64
	stats       Stats
	bars        map[barKey]*barState
	votes       map[collKey]*voteState
	shfls       map[collKey]*shflState
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		cfg:   DefaultConfig(),
		stats: Stats{OpCounts: make(map[string]int)},
		bars:  make(map[barKey]*barState),
		votes: make(map[collKey]*voteState),
		shfls: make(map[collKey]*shflState),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logrus.New()
		e.log.SetOutput(os.Stderr)
		e.log.SetLevel(logrus.WarnLevel)
	}
	if e.cfg.WarpSize <= 0 {
		e.cfg.WarpSize = 32
	}
	if e.cfg.AddressMap == (memory.AddressMap{}) {
		e.cfg.AddressMap = memory.DefaultAddressMap()
	}
	e.resolver = memory.NewResolver(e.cfg.AddressMap)
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Stats returns a snapshot of the execution statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.OpCounts = make(map[string]int, len(e.stats.OpCounts))
	for k, v := range e.stats.OpCounts {
		s.OpCounts[k] = v
	}
	return s
}

// Execute runs inst on thread t. On success t.PC advances to t.NPC; on
// failure the returned error is a *Fault and t.PC is unchanged.
func (e *Engine) Execute(t *Thread, inst *isa.Instruction) error {
	if t.Done {
		return newFault(t, inst, ErrThreadDone)
	}
	t.NPC = t.PC + inst.Size
	t.LastAccess = Access{}
	t.Barrier = nil
	t.BranchTaken = false

	if e.cfg.DebugInstructions {
		e.log.WithFields(logrus.Fields{
			"op":    inst.Mnemonic(),
			"pc":    inst.PC,
			"file":  inst.SourceFile,
			"line":  inst.SourceLine,
			"tid":   t.Tid.String(),
			"ctaid": t.Ctaid().String(),
		}).Debug("execute")
	}

	run, err := e.guard(t, inst)
	if err == nil {
		if run {
			err = e.dispatch(t, inst)
		} else {
			err = e.skip(t, inst)
		}
	}

	e.count(inst, run, err)
	if e.rec != nil {
		e.rec.Record(t, inst, err)
	}
	if err != nil {
		return newFault(t, inst, err)
	}
	t.PC = t.NPC
	return nil
}

// guard evaluates the instruction's predicate guard.
func (e *Engine) guard(t *Thread, inst *isa.Instruction) (bool, error) {
	if inst.Guard == nil {
		return true, nil
	}
	p, err := e.reg(t, inst.Guard)
	if err != nil {
		return false, err
	}
	return p.True() != inst.GuardNeg, nil
}

func (e *Engine) count(inst *isa.Instruction, ran bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Steps++
	e.stats.OpCounts[inst.Op.String()]++
	if !ran && err == nil {
		e.stats.Guarded++
	}
	if err != nil {
		e.stats.Faults++
	}
}

func (e *Engine) now() uint64 {
	if e.clock == nil {
		return 0
	}
	return e.clock()
}

func (e *Engine) dispatch(t *Thread, inst *isa.Instruction) error {
	switch inst.Op {
	// ===== Arithmetic =====
	case isa.OpAdd:
		return e.add(t, inst)
	case isa.OpAddp:
		return e.addp(t, inst)
	case isa.OpSub:
		return e.sub(t, inst)
	case isa.OpMul:
		return e.mul(t, inst)
	case isa.OpMul24:
		return e.mul24(t, inst)
	case isa.OpMad, isa.OpMadp, isa.OpMadc:
		return e.mad(t, inst)
	case isa.OpMad24:
		return e.mad24(t, inst)
	case isa.OpFma:
		return e.fma(t, inst)
	case isa.OpDiv:
		return e.div(t, inst)
	case isa.OpRem:
		return e.rem(t, inst)
	case isa.OpAbs:
		return e.abs(t, inst)
	case isa.OpNeg:
		return e.neg(t, inst)
	case isa.OpMin:
		return e.minmax(t, inst, false)
	case isa.OpMax:
		return e.minmax(t, inst, true)
	case isa.OpSad:
		return e.sad(t, inst)
	case isa.OpCopysignf:
		return e.copysign(t, inst)
	case isa.OpRcp, isa.OpSqrt, isa.OpRsqrt, isa.OpSin, isa.OpCos, isa.OpLg2, isa.OpEx2:
		return e.unaryFloat(t, inst)

	// ===== Logic and bit manipulation =====
	case isa.OpAnd, isa.OpOr, isa.OpXor, isa.OpAndn, isa.OpOrn, isa.OpNandn, isa.OpNorn:
		return e.logic(t, inst)
	case isa.OpNot:
		return e.not(t, inst)
	case isa.OpCnot:
		return e.cnot(t, inst)
	case isa.OpShl:
		return e.shl(t, inst)
	case isa.OpShr:
		return e.shr(t, inst)
	case isa.OpBfe:
		return e.bfe(t, inst)
	case isa.OpBfi:
		return e.bfi(t, inst)
	case isa.OpBfind:
		return e.bfind(t, inst)
	case isa.OpBrev:
		return e.brev(t, inst)
	case isa.OpClz:
		return e.clz(t, inst)
	case isa.OpPopc:
		return e.popc(t, inst)
	case isa.OpPrmt:
		return e.prmt(t, inst)
	case isa.OpShf:
		return e.shf(t, inst)

	// ===== Comparison and select =====
	case isa.OpSetp:
		return e.setp(t, inst)
	case isa.OpSet:
		return e.set(t, inst)
	case isa.OpSelp:
		return e.selp(t, inst)
	case isa.OpSlct:
		return e.slct(t, inst)

	// ===== Conversion and data movement =====
	case isa.OpCvt:
		return e.cvt(t, inst)
	case isa.OpCvta:
		return e.cvta(t, inst)
	case isa.OpIsspacep:
		return e.isspacep(t, inst)
	case isa.OpMov:
		return e.mov(t, inst)
	case isa.OpLd, isa.OpLdu:
		return e.ld(t, inst)
	case isa.OpSt:
		return e.st(t, inst)

	// ===== Control flow =====
	case isa.OpBra, isa.OpBrx:
		return e.bra(t, inst)
	case isa.OpCall:
		return e.call(t, inst)
	case isa.OpCallp:
		return e.callp(t, inst)
	case isa.OpRet:
		return e.ret(t, inst)
	case isa.OpRetp:
		return e.retp(t, inst)
	case isa.OpExit:
		t.Done = true
		return nil
	case isa.OpBreakaddr:
		return e.breakaddr(t, inst)
	case isa.OpBreak:
		return e.brk(t, inst)

	// ===== Synchronisation and collectives =====
	case isa.OpBar:
		return e.bar(t, inst)
	case isa.OpAtom, isa.OpRed:
		return e.atom(t, inst)
	case isa.OpVote:
		return e.vote(t, inst)
	case isa.OpShfl:
		return e.shfl(t, inst)
	case isa.OpActivemask:
		return e.activemask(t, inst)

	// ===== Texture =====
	case isa.OpTex:
		return e.texFetch(t, inst)
	case isa.OpTxl:
		return e.txl(t, inst)

	case isa.OpMembar, isa.OpNop, isa.OpSsy, isa.OpDerefVar:
		return nil
	}

	if inst.Op.IsRayTracing() {
		return e.rayTracing(t, inst)
	}
	return notImplemented(inst)
}
