package loader

import (
	"context"
	"fmt"

	dataframe "github.com/rocketlaunchr/dataframe-go"
	"github.com/rocketlaunchr/dataframe-go/imports"
	"github.com/xitongsys/parquet-go-source/local"
)

// LoadParquet reads a parquet table.
func LoadParquet(ctx context.Context, path string) (*dataframe.DataFrame, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	defer fr.Close()

	df, err := imports.LoadFromParquet(ctx, fr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if df == nil || len(df.Series) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}
	return df, nil
}
