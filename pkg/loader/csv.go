// Package loader reads memory images: tables of (space, addr, type, value)
// rows that seed the stores of a launch before the first instruction runs.
// Tables come from CSV, JSON or parquet files through dataframe-go.
package loader

import (
	"context"
	"errors"
	"os"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
)

var (
	ErrEmptyFile     = errors.New("empty memory image")
	ErrUnknownFormat = errors.New("unknown memory image format")
)

// LoadCSV reads a CSV table. The first row names the columns; column types
// are inferred and empty cells become nil.
func LoadCSV(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	df, err := imports.LoadFromCSV(ctx, file, imports.CSVLoadOptions{
		InferDataTypes: true,
	})
	if err != nil {
		return nil, err
	}
	if df == nil || len(df.Series) == 0 {
		return nil, ErrEmptyFile
	}
	return df, nil
}
