// Package launch runs a kernel over a grid of thread blocks.
//
// Each block is split into warps of the engine's warp size. A warp issues
// one instruction at a time for the lanes sitting at its lowest pc, so
// diverged lanes reconverge as soon as they reach the same pc again.
// Barriers hold a thread until every expected thread of its block has
// arrived.
//
// Basic usage:
//
//	res, err := launch.Run(module, "saxpy",
//	    vm.Dim3{X: 4, Y: 1, Z: 1},
//	    vm.Dim3{X: 128, Y: 1, Z: 1},
//	    launch.WithImage(entries),
//	    launch.WithMaxSteps(1_000_000),
//	    launch.WithTimeout(5*time.Second),
//	)
package launch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fortio.org/safecast"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/loader"
	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/vm"
)

// Common errors
var (
	ErrTimeout   = errors.New("launch timeout exceeded")
	ErrStepLimit = errors.New("step limit exceeded")
	ErrDeadlock  = errors.New("barrier deadlock")
	ErrBadLaunch = errors.New("bad launch configuration")
)

// Options configures a launch.
type Options struct {
	// Config is passed to the engine.
	Config vm.Config

	// Timeout bounds the wall-clock time of the launch. Zero means none.
	Timeout time.Duration

	// MaxSteps bounds the number of (thread, instruction) executions.
	// Zero means unlimited.
	MaxSteps int64

	// Parallel is the number of blocks run concurrently. Values below 2
	// run blocks one after another in ctaid order.
	Parallel int

	// Global backs the global and const spaces. A fresh store is used when nil.
	Global memory.Store

	// Params backs the kernel parameter space. A fresh store is used when nil.
	Params memory.Store

	// Image is written to memory before the first instruction. Shared
	// entries are written to every block, local entries to every thread.
	Image []loader.Entry

	// Engine holds extra engine options such as ray tracing or a recorder.
	Engine []vm.Option

	// Logger receives launch progress. Defaults to a warn-level logger.
	Logger *logrus.Logger

	// Context for cancellation. If nil, context.Background() is used.
	Context context.Context
}

// Option is a functional option for configuring a launch.
type Option func(*Options)

// WithConfig sets the engine configuration.
func WithConfig(cfg vm.Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithTimeout sets the launch timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMaxSteps sets the step limit.
func WithMaxSteps(n int64) Option {
	return func(o *Options) {
		o.MaxSteps = n
	}
}

// WithParallel runs up to n blocks at once.
func WithParallel(n int) Option {
	return func(o *Options) {
		o.Parallel = n
	}
}

// WithGlobal sets the global memory store.
func WithGlobal(s memory.Store) Option {
	return func(o *Options) {
		o.Global = s
	}
}

// WithParams sets the kernel parameter store.
func WithParams(s memory.Store) Option {
	return func(o *Options) {
		o.Params = s
	}
}

// WithImage sets the initial memory contents.
func WithImage(entries []loader.Entry) Option {
	return func(o *Options) {
		o.Image = entries
	}
}

// WithEngineOptions appends engine options.
func WithEngineOptions(opts ...vm.Option) Option {
	return func(o *Options) {
		o.Engine = append(o.Engine, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Logger) Option {
	return func(o *Options) {
		o.Logger = log
	}
}

// WithContext sets the context for cancellation.
func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Context = ctx
	}
}

// Result summarises a finished launch.
type Result struct {
	Stats   vm.Stats
	CTAs    int
	Warps   int
	Threads int
	Elapsed time.Duration
	Global  memory.Store
	Params  memory.Store
}

// Run launches kernel over grid blocks of block threads each and runs it
// to completion.
func Run(m *isa.Module, kernel string, grid, block vm.Dim3, opts ...Option) (*Result, error) {
	options := &Options{
		Config:  vm.DefaultConfig(),
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = logrus.New()
		options.Logger.SetLevel(logrus.WarnLevel)
	}
	if options.Global == nil {
		options.Global = memory.NewPaged("global")
	}
	if options.Params == nil {
		options.Params = memory.NewPaged("param")
	}

	fn, err := m.Function(kernel)
	if err != nil {
		return nil, err
	}
	if !fn.Entry {
		return nil, fmt.Errorf("%w: %s is not a kernel entry", ErrBadLaunch, kernel)
	}
	if grid.Size() == 0 || block.Size() == 0 {
		return nil, fmt.Errorf("%w: empty grid %s x %s", ErrBadLaunch, grid, block)
	}

	l := &launcher{
		module: m,
		fn:     fn,
		opts:   options,
		log:    options.Logger,
		grid:   &vm.Grid{Nctaid: grid, Ntid: block},
		issue:  make(map[*vm.Warp]int),
	}
	engineOpts := append([]vm.Option{
		vm.WithConfig(options.Config),
		vm.WithLogger(options.Logger),
	}, options.Engine...)
	l.engine = vm.New(append(engineOpts, vm.WithOracle(l))...)
	l.warpSize = l.engine.Config().WarpSize

	threadsPerSM, err := safecast.Convert[int](l.engine.Config().AddressMap.ThreadsPerSM)
	if err != nil {
		return nil, err
	}
	if block.Size() > threadsPerSM {
		return nil, fmt.Errorf("%w: %d threads per block exceeds %d", ErrBadLaunch, block.Size(), threadsPerSM)
	}
	if l.maxSMs, err = safecast.Convert[int](l.engine.Config().AddressMap.MaxSMs); err != nil {
		return nil, err
	}
	if l.maxSMs == 0 {
		return nil, fmt.Errorf("%w: address map has no SMs", ErrBadLaunch)
	}

	// Launch-wide stores.
	l.shared = memory.Bank{
		Global:      options.Global,
		ParamKernel: options.Params,
		Tex:         memory.NewPaged("tex"),
		Surf:        memory.NewPaged("surf"),
		SStarr:      memory.NewPaged("sstarr"),
	}
	var perLaunch []loader.Entry
	for _, e := range options.Image {
		switch e.Space {
		case isa.SpaceShared:
			l.perCTA = append(l.perCTA, e)
		case isa.SpaceLocal, isa.SpaceParamLocal:
			l.perThread = append(l.perThread, e)
		default:
			perLaunch = append(perLaunch, e)
		}
	}
	if err := loader.Apply(&l.shared, perLaunch); err != nil {
		return nil, err
	}

	ctx := options.Context
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	l.log.WithFields(logrus.Fields{
		"kernel": kernel,
		"grid":   grid.String(),
		"block":  block.String(),
	}).Info("launch")

	start := time.Now()
	err = l.run(ctx)
	res := &Result{
		Stats:   l.engine.Stats(),
		CTAs:    grid.Size(),
		Warps:   grid.Size() * ((block.Size() + l.warpSize - 1) / l.warpSize),
		Threads: grid.Size() * block.Size(),
		Elapsed: time.Since(start),
		Global:  options.Global,
		Params:  options.Params,
	}
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return res, fmt.Errorf("%w after %s", ErrTimeout, options.Timeout)
		case errors.Is(err, context.Canceled):
			return res, err
		}
		return res, err
	}

	l.log.WithFields(logrus.Fields{
		"kernel":  kernel,
		"steps":   res.Stats.Steps,
		"elapsed": res.Elapsed,
	}).Info("launch complete")
	return res, nil
}

type launcher struct {
	module    *isa.Module
	fn        *isa.Function
	opts      *Options
	log       *logrus.Logger
	engine    *vm.Engine
	grid      *vm.Grid
	warpSize  int
	maxSMs    int
	shared    memory.Bank
	perCTA    []loader.Entry
	perThread []loader.Entry
	steps     atomic.Int64

	mu    sync.Mutex
	issue map[*vm.Warp]int
}

// PDOMState implements vm.DivergenceOracle. Lanes that take a call at pc
// reconverge at the next instruction.
func (l *launcher) PDOMState(w *vm.Warp) (int, int) {
	l.mu.Lock()
	pc, ok := l.issue[w]
	l.mu.Unlock()
	if !ok {
		return -1, -1
	}
	inst, err := l.module.At(pc)
	if err != nil {
		return pc, -1
	}
	return pc, pc + inst.Size
}

func (l *launcher) run(ctx context.Context) error {
	n := l.grid.Nctaid.Size()
	if l.opts.Parallel < 2 {
		for i := 0; i < n; i++ {
			if err := l.runCTA(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Parallel)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return l.runCTA(gctx, i)
		})
	}
	return g.Wait()
}

// runCTA builds block i and steps its warps round robin until every
// thread has exited.
func (l *launcher) runCTA(ctx context.Context, i int) error {
	b, err := l.newBlock(i)
	if err != nil {
		return err
	}
	defer l.forget(b)

	l.log.WithFields(logrus.Fields{
		"ctaid": b.cta.Ctaid.String(),
		"warps": len(b.warps),
	}).Debug("block start")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		progressed := false
		for _, w := range b.warps {
			issued, err := l.step(b, w)
			if err != nil {
				return err
			}
			progressed = progressed || issued
		}
		if b.live() == 0 {
			return nil
		}
		if !progressed {
			return fmt.Errorf("%w: block %s has %d threads waiting", ErrDeadlock, b.cta.Ctaid, b.live())
		}
	}
}

// step issues one instruction for warp w. It reports false when no lane
// could issue.
func (l *launcher) step(b *block, w *vm.Warp) (bool, error) {
	pc := -1
	for _, t := range w.Lanes {
		if ready(t) && (pc < 0 || t.PC < pc) {
			pc = t.PC
		}
	}
	if pc < 0 {
		return false, nil
	}
	inst, err := l.module.At(pc)
	if err != nil {
		return false, fmt.Errorf("warp %d: %w", w.ID, err)
	}

	active := vm.NewActiveMask(w.Size())
	for lane, t := range w.Lanes {
		if ready(t) && t.PC == pc {
			active.Set(lane)
		}
	}
	w.Active = active
	l.mu.Lock()
	l.issue[w] = pc
	l.mu.Unlock()

	for _, lane := range active.Lanes() {
		if limit := l.opts.MaxSteps; limit > 0 && l.steps.Add(1) > limit {
			return true, fmt.Errorf("%w: %d", ErrStepLimit, limit)
		}
		t := w.Lanes[lane]
		if err := l.engine.Execute(t, inst); err != nil {
			return true, err
		}
		if bw := t.Barrier; bw != nil {
			b.arrive(bw)
		}
	}
	b.release()
	return true, nil
}

func (l *launcher) forget(b *block) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range b.warps {
		delete(l.issue, w)
	}
}

// ready reports whether t may issue: it is bound, running and not held at
// a barrier.
func ready(t *vm.Thread) bool {
	return t != nil && !t.Done && !waiting(t)
}

func waiting(t *vm.Thread) bool {
	return t.Barrier != nil && !t.Barrier.Arrive
}
