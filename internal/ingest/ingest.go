// Package ingest analyzes and bulk-loads tabular source files into the
// database. Four loader types are supported, selected by file extension:
// delimited text, Excel workbooks, Access databases and dBase files.
// Analysis computes per-column statistics without writing rows; loading
// streams records into the database through the COPY protocol.
package ingest

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"

	"github.com/OpenPipe/pipeline/internal/apperr"
	"github.com/OpenPipe/pipeline/internal/pipeline/model"
)

// AnalyzerSpec selects one sub-table of a file for analysis. Flat and
// DBF files have exactly one sub-table; Excel and MDB files have one
// spec per sheet or embedded table.
type AnalyzerSpec struct {
	StOID     int64
	TableName string
	SubTable  string
	Delimiter string
	Qualified bool
}

// LoaderSpec selects one sub-table of a file for loading. The create
// statement runs in the surrounding transaction before any rows stream.
type LoaderSpec struct {
	StOID           int64
	TableName       string
	SubTable        string
	Delimiter       string
	Qualified       bool
	Columns         []string
	CreateStatement string
}

// ColumnStat is the analysis result for one column.
type ColumnStat struct {
	Name      string
	Type      string
	Label     string
	MinLength int
	MaxLength int
	Index     int
}

// AnalyzeResult is the analysis result for one sub-table.
type AnalyzeResult struct {
	StOID       int64
	TableName   string
	RecordCount int64
	Columns     []ColumnStat
}

// EmitFunc receives one AnalyzeResult per analyzed sub-table.
type EmitFunc func(AnalyzeResult) error

// Analyze computes column statistics and record counts for the given
// sub-tables of one file. Results stream to emit as each sub-table
// finishes.
func Analyze(ctx context.Context, path string, specs []AnalyzerSpec, emit EmitFunc) error {
	loaderType, err := validatePath(path)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return apperr.Ingestion("no sub-tables selected for analysis")
	}
	if err := checkSubTables(loaderType, len(specs), func(i int) string { return specs[i].SubTable }); err != nil {
		return err
	}

	switch loaderType {
	case model.LoaderTypeFlat:
		return analyzeFlat(ctx, path, specs[0], emit)
	case model.LoaderTypeExcel:
		return analyzeExcel(ctx, path, specs, emit)
	case model.LoaderTypeMDB:
		return analyzeMDB(ctx, path, specs, emit)
	case model.LoaderTypeDBF:
		return analyzeDBF(ctx, path, specs[0], emit)
	default:
		return apperr.Newf(apperr.KindIngestion, "no analyzer for loader type %s", loaderType)
	}
}

// Load creates the destination table for each sub-table and streams its
// records into the database. Everything runs inside the caller's
// transaction, so a failure on any sub-table rolls back all rows copied
// for the file. The returned map carries the copied record count per
// source table.
func Load(ctx context.Context, tx pgx.Tx, path string, specs []LoaderSpec) (map[int64]int64, error) {
	loaderType, err := validatePath(path)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, apperr.Ingestion("no sub-tables selected for load")
	}
	if err := checkSubTables(loaderType, len(specs), func(i int) string { return specs[i].SubTable }); err != nil {
		return nil, err
	}

	counts := make(map[int64]int64, len(specs))
	for _, spec := range specs {
		if spec.CreateStatement == "" {
			return nil, apperr.Newf(apperr.KindIngestion, "no create statement for table %s", spec.TableName)
		}
		if _, err := tx.Exec(ctx, spec.CreateStatement); err != nil {
			return nil, fmt.Errorf("create table %s: %w", spec.TableName, err)
		}

		var count int64
		switch loaderType {
		case model.LoaderTypeFlat:
			count, err = loadFlat(ctx, tx, path, spec)
		case model.LoaderTypeExcel:
			count, err = loadExcel(ctx, tx, path, spec)
		case model.LoaderTypeMDB:
			count, err = loadMDB(ctx, tx, path, spec)
		case model.LoaderTypeDBF:
			count, err = loadDBF(ctx, tx, path, spec)
		default:
			return nil, apperr.Newf(apperr.KindIngestion, "no loader for loader type %s", loaderType)
		}
		if err != nil {
			return nil, fmt.Errorf("load table %s: %w", spec.TableName, err)
		}
		counts[spec.StOID] = count
	}

	return counts, nil
}

// validatePath checks the file exists and resolves its loader type
// before any I/O starts.
func validatePath(path string) (model.LoaderType, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", apperr.Newf(apperr.KindIngestion, "file not found: %s", path)
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", apperr.Newf(apperr.KindIngestion, "not a file: %s", path)
	}

	loaderType, err := model.LoaderTypeForFile(path)
	if err != nil {
		return "", apperr.Wrapf(apperr.KindIngestion, err, "unsupported file type: %s", path)
	}
	return loaderType, nil
}

// checkSubTables enforces the sub-table arity rules per loader type:
// single-table formats take exactly one descriptor, multi-table formats
// need a sub-table name on every descriptor.
func checkSubTables(loaderType model.LoaderType, n int, subTable func(int) string) error {
	if loaderType.MultiTable() {
		for i := 0; i < n; i++ {
			if subTable(i) == "" {
				return apperr.Newf(apperr.KindIngestion, "%s files need a sub-table name on every descriptor", loaderType)
			}
		}
		return nil
	}
	if n != 1 {
		return apperr.Newf(apperr.KindIngestion, "%s files have exactly one sub-table, got %d descriptors", loaderType, n)
	}
	return nil
}
