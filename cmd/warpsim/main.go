// Package main provides the CLI entry point for warpsim.
//
// Usage:
//
//	warpsim run program.json -grid 4 -block 128       # Launch the first kernel
//	warpsim run program.wsbc -image mem.csv -dump 0:16 # Initialise memory, dump results
//	warpsim pack program.json                          # Encode to bytecode (.wsbc)
//	warpsim disasm program.wsbc                        # Print a listing
//	warpsim check program.json                         # Run the static verifier
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"

	"github.com/akhildatla/warpsim/pkg/config"
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/launch"
	"github.com/akhildatla/warpsim/pkg/loader"
	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/repl"
	"github.com/akhildatla/warpsim/pkg/trace"
	"github.com/akhildatla/warpsim/pkg/verifier"
	"github.com/akhildatla/warpsim/pkg/vm"
)

// Version info set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	cmd := os.Args[1]

	switch cmd {
	case "run":
		return runCommand(os.Args[2:])
	case "pack":
		return packCommand(os.Args[2:])
	case "disasm":
		return disasmCommand(os.Args[2:])
	case "check":
		return checkCommand(os.Args[2:])
	case "debug":
		return debugCommand(os.Args[2:])
	case "version":
		fmt.Printf("warpsim version %s\n", version)
		if commit != "none" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Printf("  built:  %s\n", date)
		}
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	kernel := fs.String("kernel", "", "kernel to launch (default: first entry)")
	gridFlag := fs.String("grid", "1", "grid dimensions x[,y[,z]]")
	blockFlag := fs.String("block", "1", "block dimensions x[,y[,z]]")
	imagePath := fs.String("image", "", "initial memory image (.csv, .json, .parquet)")
	tracePath := fs.String("trace", "", "write an execution trace to this file")
	traceFormat := fs.String("trace-format", "", "trace format: csv or parquet")
	dump := fs.String("dump", "", "dump global words after the run, as addr:count")
	maxSteps := fs.Int64("max-steps", -1, "step limit (0 for none, default from config)")
	parallel := fs.Int("parallel", 1, "blocks run concurrently")
	noCheck := fs.Bool("no-check", false, "skip the static verifier")
	verbose := fs.Bool("v", false, "verbose output")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: warpsim run <program> [-grid x,y,z] [-block x,y,z]")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *verbose {
		cfg.LogLevel = logrus.DebugLevel.String()
	}
	if *maxSteps >= 0 {
		cfg.MaxSteps = *maxSteps
	}
	if *tracePath != "" {
		cfg.Trace.Output = *tracePath
	}
	if *traceFormat != "" {
		cfg.Trace.Format = *traceFormat
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}

	grid, err := parseDim(*gridFlag)
	if err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	block, err := parseDim(*blockFlag)
	if err != nil {
		return fmt.Errorf("block: %w", err)
	}

	path := fs.Arg(0)
	m, err := isa.Load(path)
	if err != nil {
		return fmt.Errorf("loading program: %w", err)
	}
	name, err := entryName(m, *kernel)
	if err != nil {
		return err
	}

	if !*noCheck {
		issues := verifier.New(verifier.WithAllChecks()).Verify(m)
		for _, i := range issues {
			if i.Severity == verifier.Warning {
				log.Warn(i.String())
			}
		}
		if err := verifier.Err(issues); err != nil {
			return fmt.Errorf("verifying: %w", err)
		}
	}

	ctx := context.Background()
	opts := []launch.Option{
		launch.WithConfig(cfg.Engine()),
		launch.WithLogger(log),
		launch.WithMaxSteps(cfg.MaxSteps),
		launch.WithTimeout(cfg.Timeout),
		launch.WithParallel(*parallel),
		launch.WithContext(ctx),
	}
	if *imagePath != "" {
		entries, err := loader.Load(ctx, *imagePath)
		if err != nil {
			return fmt.Errorf("loading image: %w", err)
		}
		opts = append(opts, launch.WithImage(entries))
	}

	var rec *trace.Recorder
	if cfg.Trace.Output != "" {
		rec = trace.New(0)
		opts = append(opts, launch.WithEngineOptions(vm.WithRecorder(rec)))
	}

	if *verbose {
		fmt.Printf("Launching: %s %s x %s\n", name, grid, block)
	}

	res, runErr := launch.Run(m, name, grid, block, opts...)
	if res != nil {
		printStats(os.Stdout, name, grid, block, res)
	}
	if rec != nil && rec.Len() > 0 {
		format, err := trace.ParseFormat(cfg.Trace.Format)
		if err != nil {
			return err
		}
		if err := rec.WriteFile(ctx, cfg.Trace.Output, format); err != nil {
			return fmt.Errorf("writing trace: %w", err)
		}
		if *verbose {
			fmt.Printf("Trace: %s (%d rows)\n", cfg.Trace.Output, rec.Len())
		}
	}
	if runErr != nil {
		return runErr
	}

	if *dump != "" {
		addr, count, err := parseDump(*dump)
		if err != nil {
			return err
		}
		return dumpWords(os.Stdout, res.Global, addr, count)
	}
	return nil
}

func packCommand(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	output := fs.String("o", "", "output file (default: input with .wsbc extension)")
	verbose := fs.Bool("v", false, "verbose output")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: warpsim pack <program.json> [-o output.wsbc]")
	}

	inputPath := fs.Arg(0)
	outputPath := *output

	if outputPath == "" {
		ext := filepath.Ext(inputPath)
		outputPath = strings.TrimSuffix(inputPath, ext) + ".wsbc"
	}

	m, err := isa.Load(inputPath)
	if err != nil {
		return fmt.Errorf("loading program: %w", err)
	}

	bytecode, err := isa.Serialize(m)
	if err != nil {
		return fmt.Errorf("serializing: %w", err)
	}

	if err := os.WriteFile(outputPath, bytecode, 0644); err != nil {
		return fmt.Errorf("writing bytecode: %w", err)
	}

	if *verbose {
		fmt.Printf("Packed %d functions, %d instructions\n", len(m.Functions), len(m.Code))
		fmt.Printf("Output: %s (%d bytes)\n", outputPath, len(bytecode))
	} else {
		fmt.Printf("Packed: %s\n", outputPath)
	}

	return nil
}

func disasmCommand(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	output := fs.String("o", "", "output file (default: stdout)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: warpsim disasm <program> [-o listing.txt]")
	}

	m, err := isa.Load(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("loading program: %w", err)
	}

	listing := isa.Disassemble(m)

	if *output != "" {
		if err := os.WriteFile(*output, []byte(listing), 0644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		fmt.Printf("Disassembled to: %s\n", *output)
	} else {
		fmt.Print(listing)
	}

	return nil
}

func checkCommand(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	warnings := fs.Bool("w", true, "report warnings")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: warpsim check <program>")
	}

	m, err := isa.Load(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("loading program: %w", err)
	}

	issues := verifier.New(verifier.WithAllChecks()).Verify(m)
	for _, i := range issues {
		if i.Severity == verifier.Warning && !*warnings {
			continue
		}
		fmt.Println(i)
	}
	if err := verifier.Err(issues); err != nil {
		return fmt.Errorf("%d issues", len(issues))
	}
	fmt.Printf("OK: %d functions, %d instructions\n", len(m.Functions), len(m.Code))
	return nil
}

// entryName returns name, or the first kernel entry when name is empty.
func entryName(m *isa.Module, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	for _, f := range m.Functions {
		if f.Entry {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("%s has no kernel entry", m.Name)
}

// parseDim parses "x", "x,y" or "x,y,z"; missing components are 1.
func parseDim(s string) (vm.Dim3, error) {
	d := [3]uint32{1, 1, 1}
	parts := strings.Split(s, ",")
	if len(parts) > 3 {
		return vm.Dim3{}, fmt.Errorf("too many components in %q", s)
	}
	for i, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return vm.Dim3{}, err
		}
		d[i] = uint32(n)
	}
	return vm.Dim3{X: d[0], Y: d[1], Z: d[2]}, nil
}

// parseDump parses addr:count.
func parseDump(s string) (uint64, int, error) {
	a, c, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("dump: expected addr:count, got %q", s)
	}
	addr, err := strconv.ParseUint(a, 0, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("dump: %w", err)
	}
	count, err := strconv.Atoi(c)
	if err != nil {
		return 0, 0, fmt.Errorf("dump: %w", err)
	}
	return addr, count, nil
}

func printStats(w io.Writer, kernel string, grid, block vm.Dim3, res *launch.Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Stat", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk([][]string{
		{"kernel", kernel},
		{"grid", grid.String()},
		{"block", block.String()},
		{"threads", strconv.Itoa(res.Threads)},
		{"warps", strconv.Itoa(res.Warps)},
		{"steps", strconv.FormatInt(res.Stats.Steps, 10)},
		{"guarded", strconv.FormatInt(res.Stats.Guarded, 10)},
		{"faults", strconv.FormatInt(res.Stats.Faults, 10)},
		{"elapsed", res.Elapsed.String()},
	})
	table.Render()

	ops := make([]string, 0, len(res.Stats.OpCounts))
	for op := range res.Stats.OpCounts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		a, b := res.Stats.OpCounts[ops[i]], res.Stats.OpCounts[ops[j]]
		if a != b {
			return a > b
		}
		return ops[i] < ops[j]
	})
	counts := tablewriter.NewWriter(w)
	counts.SetHeader([]string{"Op", "Count"})
	for _, op := range ops {
		counts.Append([]string{op, strconv.Itoa(res.Stats.OpCounts[op])})
	}
	counts.Render()
}

func dumpWords(w io.Writer, s memory.Store, addr uint64, count int) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Addr", "Hex", "U32", "F32"})
	for i := 0; i < count; i++ {
		a := addr + uint64(i)*4
		v, err := s.Read(a, 4)
		if err != nil {
			return err
		}
		table.Append([]string{
			fmt.Sprintf("0x%08x", a),
			fmt.Sprintf("0x%08x", v.U32()),
			strconv.FormatUint(uint64(v.U32()), 10),
			strconv.FormatFloat(float64(math.Float32frombits(v.U32())), 'g', -1, 32),
		})
	}
	table.Render()
	return nil
}

func debugCommand(args []string) error {
	fs := flag.NewFlagSet("debug", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	kernel := fs.String("kernel", "", "kernel to debug (default: first entry)")
	imagePath := fs.String("image", "", "initial memory image (.csv, .json, .parquet)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: warpsim debug <program> [-kernel name]")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log, err := cfg.Logger()
	if err != nil {
		return err
	}

	m, err := isa.Load(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("loading program: %w", err)
	}
	name, err := entryName(m, *kernel)
	if err != nil {
		return err
	}

	opts := []repl.Option{
		repl.WithEngineOptions(vm.WithConfig(cfg.Engine()), vm.WithLogger(log)),
	}
	if cfg.MaxSteps > 0 {
		opts = append(opts, repl.WithMaxSteps(int(cfg.MaxSteps)))
	}
	if *imagePath != "" {
		entries, err := loader.Load(context.Background(), *imagePath)
		if err != nil {
			return fmt.Errorf("loading image: %w", err)
		}
		opts = append(opts, repl.WithImage(entries))
	}

	r, err := repl.New(m, name, opts...)
	if err != nil {
		return err
	}
	r.Start(os.Stdin, os.Stdout)
	return nil
}

func printUsage() error {
	fmt.Println(`warpsim - functional SIMT instruction engine for decoded PTX kernels

Usage:
  warpsim <command> [arguments]

Commands:
  run <program>         Launch a kernel and print execution statistics
  pack <program.json>   Encode a JSON program as bytecode (.wsbc)
  disasm <program>      Print a listing of a program
  check <program>       Run the static verifier
  debug <program>       Step one thread of a kernel interactively
  version               Print version information
  help                  Show this help message

Run Options:
  -config <file>        YAML configuration (environment overrides apply)
  -kernel <name>        Kernel to launch (default: first entry)
  -grid x[,y[,z]]       Grid dimensions (default: 1)
  -block x[,y[,z]]      Block dimensions (default: 1)
  -image <file>         Initial memory image (.csv, .json, .parquet)
  -trace <file>         Write an execution trace
  -trace-format <fmt>   csv or parquet
  -dump addr:count      Print global words after the run
  -max-steps <n>        Step limit
  -parallel <n>         Blocks run concurrently
  -no-check             Skip the static verifier
  -v                    Verbose output

Pack Options:
  -o <file>             Output file (default: input with .wsbc extension)
  -v                    Verbose output

Disasm Options:
  -o <file>             Output file (default: stdout)

Check Options:
  -w                    Report warnings (default: true)

Debug Options:
  -config <file>        YAML configuration
  -kernel <name>        Kernel to debug (default: first entry)
  -image <file>         Initial memory image

Examples:
  warpsim run saxpy.json -grid 4 -block 128 -image saxpy.csv -dump 0x1000:8
  warpsim run saxpy.wsbc -trace trace.parquet
  warpsim pack saxpy.json -o saxpy.wsbc
  warpsim disasm saxpy.wsbc
  warpsim check saxpy.json
  warpsim debug saxpy.json -image saxpy.csv`)
	return nil
}
