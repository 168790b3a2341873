// Package repl provides an interactive single-thread kernel debugger.
//
// The debugger runs one thread of an entry function through the engine an
// instruction at a time. Barriers release immediately and collectives see a
// one-lane warp, so kernels that depend on their neighbours will not
// compute what a full launch computes.
package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/loader"
	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/vm"
)

const (
	prompt       = "warpsim> "
	promptExited = "warpsim (exited)> "

	defaultMaxSteps = 1_000_000
)

// ErrExited is returned when stepping a thread that has exited.
var ErrExited = errors.New("thread has exited")

// Option configures a REPL.
type Option func(*REPL)

// WithImage preloads memory before the thread starts and after every reset.
func WithImage(entries []loader.Entry) Option {
	return func(r *REPL) { r.image = entries }
}

// WithEngineOptions passes options through to the engine.
func WithEngineOptions(opts ...vm.Option) Option {
	return func(r *REPL) { r.engineOpts = append(r.engineOpts, opts...) }
}

// WithMaxSteps bounds a single continue.
func WithMaxSteps(n int) Option {
	return func(r *REPL) { r.maxSteps = n }
}

// REPL provides an interactive Read-Eval-Print Loop over one thread.
type REPL struct {
	module     *isa.Module
	fn         *isa.Function
	image      []loader.Entry
	engineOpts []vm.Option
	maxSteps   int

	engine  *vm.Engine
	thread  *vm.Thread
	bank    *memory.Bank
	breaks  map[int]bool
	history []string
}

// New creates a debugger stopped at the entry of kernel.
func New(m *isa.Module, kernel string, opts ...Option) (*REPL, error) {
	fn, err := m.Function(kernel)
	if err != nil {
		return nil, err
	}
	if !fn.Entry {
		return nil, fmt.Errorf("%s is not an entry function", kernel)
	}
	r := &REPL{
		module:   m,
		fn:       fn,
		maxSteps: defaultMaxSteps,
		breaks:   make(map[int]bool),
		history:  []string{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.reset(); err != nil {
		return nil, err
	}
	return r, nil
}

// Thread returns the thread under debug.
func (r *REPL) Thread() *vm.Thread { return r.thread }

// PDOMState implements vm.DivergenceOracle for the single lane.
func (r *REPL) PDOMState(*vm.Warp) (int, int) {
	pc := r.thread.PC
	inst, err := r.module.At(pc)
	if err != nil {
		return pc, -1
	}
	return pc, pc + inst.Size
}

// reset rebuilds the engine, memory and thread.
func (r *REPL) reset() error {
	bank := &memory.Bank{
		Global:      memory.NewPaged("global"),
		Shared:      memory.NewPaged("shared"),
		Local:       memory.NewPaged("local"),
		ParamKernel: memory.NewPaged("param"),
		Tex:         memory.NewPaged("tex"),
		Surf:        memory.NewPaged("surf"),
		SStarr:      memory.NewPaged("sstarr"),
	}
	if err := loader.Apply(bank, r.image); err != nil {
		return err
	}

	one := vm.Dim3{X: 1, Y: 1, Z: 1}
	cta := &vm.CTA{Grid: &vm.Grid{Nctaid: one, Ntid: one}, Shared: bank.Shared}
	w := vm.NewWarp(0, 1, cta)
	w.Active = vm.FullMask(1)

	t := vm.NewThread(r.module, r.fn, bank)
	t.CTA = cta
	t.Warp = w
	w.Lanes[0] = t

	r.engine = vm.New(append(append([]vm.Option{}, r.engineOpts...), vm.WithOracle(r))...)
	r.thread = t
	r.bank = bank
	return nil
}

// step executes the instruction at the thread's pc.
func (r *REPL) step() (*isa.Instruction, error) {
	t := r.thread
	if t.Done {
		return nil, ErrExited
	}
	inst, err := r.module.At(t.PC)
	if err != nil {
		return nil, err
	}
	if err := r.engine.Execute(t, inst); err != nil {
		return inst, err
	}
	// A lone thread is every participant of its barrier.
	t.Barrier = nil
	return inst, nil
}

// run steps until a breakpoint, exit, fault or the step bound.
func (r *REPL) run() (int, error) {
	n := 0
	for !r.thread.Done {
		if n >= r.maxSteps {
			return n, fmt.Errorf("stopped after %d steps", n)
		}
		if _, err := r.step(); err != nil {
			return n, err
		}
		n++
		if r.breaks[r.thread.PC] {
			break
		}
	}
	return n, nil
}

// Start starts the REPL loop.
func (r *REPL) Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintf(out, "warpsim debugger: %s (%d instructions)\n", r.fn.Name, r.fn.End-r.fn.Start)
	fmt.Fprintln(out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(out)

	for {
		if r.thread.Done {
			fmt.Fprint(out, promptExited)
		} else {
			fmt.Fprint(out, prompt)
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.history = append(r.history, line)
		if quit := r.handleCommand(line, out); quit {
			return
		}
	}
}

// handleCommand runs one command line. It reports true when the session
// should end.
func (r *REPL) handleCommand(line string, out io.Writer) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	switch parts[0] {
	case "quit", "exit", "q":
		fmt.Fprintln(out, "Goodbye!")
		return true

	case "help", "h", "?":
		r.printHelp(out)

	case "step", "s":
		n := 1
		if len(parts) > 1 {
			v, err := strconv.Atoi(parts[1])
			if err != nil || v < 1 {
				fmt.Fprintln(out, "Usage: step [n]")
				return false
			}
			n = v
		}
		for i := 0; i < n; i++ {
			inst, err := r.step()
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				break
			}
			fmt.Fprintf(out, "%04d: %s\n", inst.PC, isa.DisassembleInstruction(inst))
		}
		r.where(out)

	case "continue", "c":
		n, err := r.run()
		fmt.Fprintf(out, "%d steps\n", n)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		r.where(out)

	case "break", "b":
		if len(parts) < 2 {
			r.listBreaks(out)
			return false
		}
		pc, err := r.resolvePC(parts[1])
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		r.breaks[pc] = true
		fmt.Fprintf(out, "Breakpoint at %04d\n", pc)

	case "delete", "d":
		if len(parts) < 2 {
			r.breaks = make(map[int]bool)
			fmt.Fprintln(out, "Breakpoints cleared")
			return false
		}
		pc, err := r.resolvePC(parts[1])
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		delete(r.breaks, pc)
		fmt.Fprintf(out, "Deleted breakpoint at %04d\n", pc)

	case "where", "pc":
		r.where(out)

	case "list", "l":
		n := 10
		if len(parts) > 1 {
			if v, err := strconv.Atoi(parts[1]); err == nil && v > 0 {
				n = v
			}
		}
		r.list(out, n)

	case "regs":
		r.listRegs(out)

	case "print", "p":
		if len(parts) < 2 {
			fmt.Fprintln(out, "Usage: print <register>")
			return false
		}
		r.printReg(out, parts[1])

	case "mem", "x":
		if err := r.dumpMem(out, parts[1:]); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}

	case "stack", "bt":
		r.printStack(out)

	case "stats":
		st := r.engine.Stats()
		fmt.Fprintf(out, "steps %d, guarded %d, faults %d\n", st.Steps, st.Guarded, st.Faults)

	case "reset":
		if err := r.reset(); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(out, "Thread reset")
		r.where(out)

	case "history":
		for i, cmd := range r.history {
			fmt.Fprintf(out, "%3d: %s\n", i+1, cmd)
		}

	default:
		fmt.Fprintf(out, "Unknown command %q. Type 'help' for available commands\n", parts[0])
	}
	return false
}

// resolvePC accepts a decimal pc or a label of the current function.
func (r *REPL) resolvePC(s string) (int, error) {
	if pc, err := strconv.Atoi(s); err == nil {
		if _, err := r.module.At(pc); err != nil {
			return 0, err
		}
		return pc, nil
	}
	for _, fn := range []*isa.Function{r.thread.Func, r.fn} {
		if sym, ok := fn.Symbols[s]; ok && sym.Kind == isa.SymLabel {
			return sym.PC, nil
		}
	}
	return 0, fmt.Errorf("unknown label %q", s)
}

func (r *REPL) where(out io.Writer) {
	t := r.thread
	if t.Done {
		fmt.Fprintln(out, "Thread has exited")
		return
	}
	inst, err := r.module.At(t.PC)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "%s %04d: %s\n", t.Func.Name, t.PC, isa.DisassembleInstruction(inst))
}

func (r *REPL) list(out io.Writer, n int) {
	fn := r.thread.Func
	for pc := r.thread.PC; pc < fn.End && pc < r.thread.PC+n; pc++ {
		marker := "  "
		if pc == r.thread.PC {
			marker = "=>"
		}
		if r.breaks[pc] {
			marker = "*" + marker[1:]
		}
		fmt.Fprintf(out, "%s %04d: %s\n", marker, pc, isa.DisassembleInstruction(r.module.Code[pc]))
	}
}

func (r *REPL) listBreaks(out io.Writer) {
	if len(r.breaks) == 0 {
		fmt.Fprintln(out, "No breakpoints")
		return
	}
	pcs := make([]int, 0, len(r.breaks))
	for pc := range r.breaks {
		pcs = append(pcs, pc)
	}
	sort.Ints(pcs)
	fmt.Fprintln(out, "Breakpoints:")
	for _, pc := range pcs {
		fmt.Fprintf(out, "  %04d\n", pc)
	}
}

// registers returns the register symbols of the current function by name.
func (r *REPL) registers() []*isa.Symbol {
	var out []*isa.Symbol
	for _, s := range r.thread.Func.Symbols {
		if s.IsReg() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *REPL) listRegs(out io.Writer) {
	regs := r.registers()
	if len(regs) == 0 {
		fmt.Fprintln(out, "No registers declared")
		return
	}
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Reg", "Type", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, s := range regs {
		val := "-"
		if v, ok := r.thread.Reg(s); ok {
			val = v.String()
		}
		table.Append([]string{s.Name, s.Type.String(), val})
	}
	table.Render()
}

func (r *REPL) printReg(out io.Writer, name string) {
	for _, s := range r.registers() {
		if s.Name != name {
			continue
		}
		v, ok := r.thread.Reg(s)
		if !ok {
			fmt.Fprintf(out, "%s is undefined\n", name)
			return
		}
		fmt.Fprintf(out, "%s = %s\n", name, v)
		return
	}
	fmt.Fprintf(out, "Unknown register %q\n", name)
}

// dumpMem prints count 32-bit words of space starting at addr.
func (r *REPL) dumpMem(out io.Writer, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: mem <space> <addr> [count]")
	}
	space, ok := isa.SpaceFromString(args[0])
	if !ok {
		return fmt.Errorf("unknown space %q", args[0])
	}
	addr, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("bad address %q", args[1])
	}
	count := 4
	if len(args) > 2 {
		if count, err = strconv.Atoi(args[2]); err != nil || count < 1 {
			return fmt.Errorf("bad count %q", args[2])
		}
	}
	s, err := r.bank.For(space)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		a := addr + uint64(i)*4
		v, err := s.Read(a, 4)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s 0x%08x: 0x%08x\n", space, a, v.U32())
	}
	return nil
}

func (r *REPL) printStack(out io.Writer) {
	calls := r.thread.CallStack()
	for i := len(calls) - 1; i >= 0; i-- {
		cf := calls[i]
		name := "?"
		if cf.Func != nil {
			name = cf.Func.Name
		}
		if cf.ReturnPC < 0 {
			fmt.Fprintf(out, "#%d %s\n", len(calls)-1-i, name)
			continue
		}
		fmt.Fprintf(out, "#%d %s returns to %04d\n", len(calls)-1-i, name, cf.ReturnPC)
	}
}

func (r *REPL) printHelp(out io.Writer) {
	help := `
warpsim debugger commands:
  help, h, ?            Show this help message
  quit, exit, q         Exit the debugger
  step, s [n]           Execute n instructions (default 1)
  continue, c           Run to the next breakpoint or exit
  break, b [pc|label]   Set a breakpoint, or list breakpoints
  delete, d [pc|label]  Delete a breakpoint, or all of them
  where, pc             Show the next instruction
  list, l [n]           List n instructions from the pc
  regs                  Show the registers of the current function
  print, p <reg>        Show one register
  mem, x <space> <addr> [count]
                        Dump 32-bit words of a state space
  stack, bt             Show the call stack
  stats                 Show execution counts
  reset                 Restart the thread with fresh memory
  history               Show command history
`
	fmt.Fprint(out, help)
}
