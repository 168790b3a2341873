package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"fortio.org/safecast"
	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/x448/float16"

	"github.com/akhildatla/warpsim/pkg/isa"
	"github.com/akhildatla/warpsim/pkg/memory"
	"github.com/akhildatla/warpsim/pkg/value"
)

var (
	ErrBadColumn = errors.New("bad memory image column")
	ErrBadValue  = errors.New("bad memory image value")
)

// Column names of a memory image table. Space is optional and defaults to
// global.
const (
	ColSpace = "space"
	ColAddr  = "addr"
	ColType  = "type"
	ColValue = "value"
)

// Entry is one initial memory value.
type Entry struct {
	Space isa.Space
	Addr  uint64
	Type  isa.Type
	Value value.Reg
}

// Load reads the memory image at path, choosing the reader by extension.
func Load(ctx context.Context, path string) ([]Entry, error) {
	var df *dataframe.DataFrame
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		df, err = LoadCSV(ctx, path)
	case ".json":
		df, err = LoadJSON(ctx, path)
	case ".parquet":
		df, err = LoadParquet(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return nil, err
	}
	return Entries(df)
}

// Entries decodes the rows of a memory image table.
func Entries(df *dataframe.DataFrame) ([]Entry, error) {
	col := func(name string, required bool) (int, error) {
		i, err := df.NameToColumn(name)
		if err != nil && required {
			return -1, fmt.Errorf("%w: missing %q", ErrBadColumn, name)
		}
		if err != nil {
			return -1, nil
		}
		return i, nil
	}
	spaceCol, err := col(ColSpace, false)
	if err != nil {
		return nil, err
	}
	addrCol, err := col(ColAddr, true)
	if err != nil {
		return nil, err
	}
	typeCol, err := col(ColType, true)
	if err != nil {
		return nil, err
	}
	valueCol, err := col(ColValue, true)
	if err != nil {
		return nil, err
	}

	n := df.NRows()
	entries := make([]Entry, 0, n)
	for row := 0; row < n; row++ {
		e := Entry{Space: isa.SpaceGlobal}
		if spaceCol >= 0 {
			if s, ok := df.Series[spaceCol].Value(row).(string); ok && s != "" {
				sp, ok := isa.SpaceFromString(s)
				if !ok {
					return nil, fmt.Errorf("%w: row %d: space %q", ErrBadValue, row, s)
				}
				e.Space = sp
			}
		}

		ts, ok := df.Series[typeCol].Value(row).(string)
		if !ok {
			return nil, fmt.Errorf("%w: row %d: missing type", ErrBadValue, row)
		}
		if e.Type, ok = isa.TypeFromString(ts); !ok || e.Type.Bits() < 8 || e.Type.Bits() > 64 {
			return nil, fmt.Errorf("%w: row %d: type %q", ErrBadValue, row, ts)
		}

		if e.Addr, err = address(df.Series[addrCol].Value(row)); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrBadValue, row, err)
		}
		if e.Value, err = encode(df.Series[valueCol].Value(row), e.Type); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrBadValue, row, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func address(v interface{}) (uint64, error) {
	switch a := v.(type) {
	case int64:
		return safecast.Convert[uint64](a)
	case float64:
		return safecast.Convert[uint64](a)
	case string:
		return strconv.ParseUint(a, 0, 64)
	}
	return 0, fmt.Errorf("address %v", v)
}

// encode converts a cell to the bit pattern of typ. Strings may be integer
// literals in any base or floating-point literals.
func encode(v interface{}, typ isa.Type) (value.Reg, error) {
	var f float64
	var bits uint64
	isFloat := false
	switch x := v.(type) {
	case int64:
		bits, f = uint64(x), float64(x)
	case float64:
		f, isFloat = x, true
	case string:
		if u, err := strconv.ParseUint(x, 0, 64); err == nil {
			bits, f = u, float64(u)
		} else if i, err := strconv.ParseInt(x, 0, 64); err == nil {
			bits, f = uint64(i), float64(i)
		} else if pf, err := strconv.ParseFloat(x, 64); err == nil {
			f, isFloat = pf, true
		} else {
			return value.Reg{}, fmt.Errorf("value %q", x)
		}
	default:
		return value.Reg{}, fmt.Errorf("value %v", v)
	}

	switch typ {
	case isa.F16:
		return value.FromF16(float16.Fromfloat32(float32(f))), nil
	case isa.F32:
		return value.FromF32(float32(f)), nil
	case isa.F64:
		return value.FromF64(f), nil
	}
	if isFloat {
		i, err := safecast.Convert[int64](f)
		if err != nil {
			return value.Reg{}, err
		}
		bits = uint64(i)
	}
	return value.FromU64(bits & value.Mask(typ.Bits())), nil
}

// Apply writes the entries to the stores of bank.
func Apply(bank *memory.Bank, entries []Entry) error {
	for _, e := range entries {
		s, err := bank.For(e.Space)
		if err != nil {
			return err
		}
		if err := s.Write(e.Addr, e.Type.Bytes(), e.Value); err != nil {
			return fmt.Errorf("%s 0x%x: %w", e.Space, e.Addr, err)
		}
	}
	return nil
}
