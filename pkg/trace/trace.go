// Package trace records executed instructions into a dataframe and exports
// the result as CSV or parquet.
package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/exports"
	"github.com/xitongsys/parquet-go-source/local"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/vm"
)

var (
	ErrUnknownFormat = errors.New("unknown trace format")
	ErrEmptyTrace    = errors.New("empty trace")
)

// Format is an export file format.
type Format string

const (
	CSV     Format = "csv"
	Parquet Format = "parquet"
)

// ParseFormat accepts "csv" or "parquet", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case CSV, Parquet:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Column names, in frame order.
const (
	ColStep     = "step"
	ColThread   = "thread"
	ColWarp     = "warp"
	ColLane     = "lane"
	ColCtaid    = "ctaid"
	ColTid      = "tid"
	ColPC       = "pc"
	ColOp       = "op"
	ColLocation = "location"
	ColSpace    = "space"
	ColAddr     = "addr"
	ColWrite    = "write"
	ColFault    = "fault"
)

// Recorder is a vm.Recorder that appends one row per executed instruction.
// It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	df      *dataframe.DataFrame
	limit   int
	steps   int64
	dropped int64
}

var _ vm.Recorder = (*Recorder)(nil)

// New returns an empty recorder. A positive limit caps the number of rows;
// further instructions are counted but not stored.
func New(limit int) *Recorder {
	return &Recorder{
		df: dataframe.NewDataFrame(
			dataframe.NewSeriesInt64(ColStep, nil),
			dataframe.NewSeriesInt64(ColThread, nil),
			dataframe.NewSeriesInt64(ColWarp, nil),
			dataframe.NewSeriesInt64(ColLane, nil),
			dataframe.NewSeriesString(ColCtaid, nil),
			dataframe.NewSeriesString(ColTid, nil),
			dataframe.NewSeriesInt64(ColPC, nil),
			dataframe.NewSeriesString(ColOp, nil),
			dataframe.NewSeriesString(ColLocation, nil),
			dataframe.NewSeriesString(ColSpace, nil),
			dataframe.NewSeriesInt64(ColAddr, nil),
			dataframe.NewSeriesInt64(ColWrite, nil),
			dataframe.NewSeriesString(ColFault, nil),
		),
		limit: limit,
	}
}

// Record implements vm.Recorder.
func (r *Recorder) Record(t *vm.Thread, inst *isa.Instruction, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
	if r.limit > 0 && r.df.NRows() >= r.limit {
		r.dropped++
		return
	}

	warp := int64(-1)
	if t.Warp != nil {
		warp = int64(t.Warp.ID)
	}
	row := map[string]interface{}{
		ColStep:     r.steps,
		ColThread:   int64(t.ID),
		ColWarp:     warp,
		ColLane:     int64(t.LaneID),
		ColCtaid:    t.Ctaid().String(),
		ColTid:      t.Tid.String(),
		ColPC:       int64(inst.PC),
		ColOp:       inst.Mnemonic(),
		ColLocation: inst.Location(),
		ColSpace:    nil,
		ColAddr:     nil,
		ColWrite:    nil,
		ColFault:    nil,
	}
	if a := t.LastAccess; a.Valid {
		write := int64(0)
		if a.Write {
			write = 1
		}
		row[ColSpace] = a.Space.String()
		row[ColAddr] = int64(a.Addr)
		row[ColWrite] = write
	}
	if err != nil {
		row[ColFault] = err.Error()
	}
	r.df.Append(nil, row)
}

// Frame returns the recorded rows.
func (r *Recorder) Frame() *dataframe.DataFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.df
}

// Len returns the number of stored rows.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.df.NRows()
}

// Dropped returns how many instructions exceeded the row limit.
func (r *Recorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Export writes the trace to w.
func (r *Recorder) Export(ctx context.Context, w io.Writer, f Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.df.NRows() == 0 {
		return ErrEmptyTrace
	}
	switch f {
	case CSV:
		return exports.ExportToCSV(ctx, w, r.df, exports.CSVExportOptions{NullString: &nullString})
	case Parquet:
		return exports.ExportToParquet(ctx, w, r.df)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

var nullString = ""

// WriteFile exports the trace to path.
func (r *Recorder) WriteFile(ctx context.Context, path string, f Format) error {
	if f == Parquet {
		fw, err := local.NewLocalFileWriter(path)
		if err != nil {
			return err
		}
		if err := r.Export(ctx, fw, f); err != nil {
			fw.Close()
			return err
		}
		return fw.Close()
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Export(ctx, file, f); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
