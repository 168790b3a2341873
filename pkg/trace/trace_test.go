package trace

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/akhildatla/warpsim/internal/testutil"
	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/vm"
)

func traced(t *testing.T, limit int) *Recorder {
	t.Helper()
	d := testutil.Reg("d", isa.U32)
	body := []*isa.Instruction{
		{Op: isa.OpMov, Type: isa.U32, Operands: []isa.Operand{isa.Reg(d), testutil.U32(7)}, SourceFile: "k.ptx", SourceLine: 1},
		{Op: isa.OpSt, Type: isa.U32, Space: isa.SpaceGlobal, Operands: []isa.Operand{isa.Addr(0x40), isa.Reg(d)}, SourceFile: "k.ptx", SourceLine: 2},
		{Op: isa.OpDiv, Type: isa.U32, Operands: []isa.Operand{isa.Reg(d), isa.Reg(d), testutil.U32(0)}, SourceFile: "k.ptx", SourceLine: 3},
	}
	m, fn := testutil.Kernel("k", body...)
	th := vm.NewThread(m, fn, testutil.NewBank())

	rec := New(limit)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	e := vm.New(vm.WithRecorder(rec), vm.WithLogger(log))
	for _, inst := range body {
		if err := e.Execute(th, inst); err != nil && !errors.Is(err, vm.ErrDivideByZero) {
			t.Fatal(err)
		}
	}
	return rec
}

func TestRecorder_CSV(t *testing.T) {
	rec := traced(t, 0)
	if rec.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", rec.Len())
	}

	var buf bytes.Buffer
	if err := rec.Export(context.Background(), &buf, CSV); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "step,thread,warp,lane,ctaid,tid,pc,op") {
		t.Errorf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[2], "st.global.u32") || !strings.Contains(lines[2], "global,64,1") {
		t.Errorf("expected the store access in row 2, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "division by zero") {
		t.Errorf("expected the fault in row 3, got %q", lines[3])
	}
}

func TestRecorder_Limit(t *testing.T) {
	rec := traced(t, 2)
	if rec.Len() != 2 || rec.Dropped() != 1 {
		t.Errorf("expected 2 rows and 1 dropped, got %d and %d", rec.Len(), rec.Dropped())
	}
}

func TestRecorder_WriteFile(t *testing.T) {
	rec := traced(t, 0)
	dir := t.TempDir()
	for _, f := range []Format{CSV, Parquet} {
		path := filepath.Join(dir, "trace."+string(f))
		if err := rec.WriteFile(context.Background(), path, f); err != nil {
			t.Fatalf("%s: %v", f, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Size() == 0 {
			t.Errorf("%s: expected a non-empty file", f)
		}
	}
}

func TestRecorder_Empty(t *testing.T) {
	if err := New(0).Export(context.Background(), &bytes.Buffer{}, CSV); !errors.Is(err, ErrEmptyTrace) {
		t.Errorf("expected ErrEmptyTrace, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("PARQUET"); err != nil || f != Parquet {
		t.Errorf("expected parquet, got %q, %v", f, err)
	}
	if _, err := ParseFormat("xlsx"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
}
