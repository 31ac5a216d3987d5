package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	_ "github.com/alexbrainman/odbc"
	"github.com/jackc/pgx/v5"

	"github.com/OpenPipe/pipeline/internal/apperr"
)

// openMDB opens an Access database read-only through the mdbtools ODBC
// driver. Sub-tables are addressed by their embedded table names.
func openMDB(path string) (*sql.DB, error) {
	db, err := sql.Open("odbc", fmt.Sprintf("Driver={MDBTools};DBQ=%s", path))
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindIngestion, err, "cannot open database %s", path)
	}
	return db, nil
}

func mdbSelect(subTable string) string {
	return fmt.Sprintf(`SELECT * FROM "%s"`, strings.ReplaceAll(subTable, `"`, `""`))
}

// analyzeMDB computes column statistics for the selected embedded tables.
// Column types come from the driver's reported database type names.
func analyzeMDB(ctx context.Context, path string, specs []AnalyzerSpec, emit EmitFunc) error {
	db, err := openMDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := analyzeMDBTable(ctx, db, spec)
		if err != nil {
			return err
		}
		if err := emit(*result); err != nil {
			return err
		}
	}
	return nil
}

func analyzeMDBTable(ctx context.Context, db *sql.DB, spec AnalyzerSpec) (*AnalyzeResult, error) {
	rows, err := db.QueryContext(ctx, mdbSelect(spec.SubTable))
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindIngestion, err, "sub-table %s not found in database", spec.SubTable)
	}
	defer rows.Close()

	labels, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	types, err := mdbColumnTypes(rows, len(labels))
	if err != nil {
		return nil, err
	}

	names := normalizeHeader(labels)
	src := &mdbSource{rows: rows, width: len(labels)}
	acc := newStatsAccumulator(len(names))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		acc.observe(record)
	}

	count, ranges := acc.result()
	return &AnalyzeResult{
		StOID:       spec.StOID,
		TableName:   spec.TableName,
		RecordCount: count,
		Columns:     columnsFromStats(names, labels, types, ranges),
	}, nil
}

// loadMDB selects one embedded table and streams its records, re-encoded
// as CSV, into the COPY sink.
func loadMDB(ctx context.Context, tx pgx.Tx, path string, spec LoaderSpec) (int64, error) {
	db, err := openMDB(path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, mdbSelect(spec.SubTable))
	if err != nil {
		return 0, apperr.Wrapf(apperr.KindIngestion, err, "sub-table %s not found in database", spec.SubTable)
	}
	defer rows.Close()

	src := &mdbSource{rows: rows, width: len(spec.Columns)}
	copySQL := BuildCopyStatement(spec.TableName, spec.Columns, ",", false, true)
	return copyRecords(ctx, tx, copySQL, src)
}

// mdbColumnTypes maps the driver's type codes to their symbolic names.
func mdbColumnTypes(rows *sql.Rows, width int) ([]string, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types: %w", err)
	}
	types := make([]string, width)
	for i := range types {
		types[i] = "VARCHAR"
		if i < len(columnTypes) {
			if name := columnTypes[i].DatabaseTypeName(); name != "" {
				types[i] = name
			}
		}
	}
	return types, nil
}

// mdbSource adapts sql.Rows to the streaming record interface.
type mdbSource struct {
	rows  *sql.Rows
	width int
}

func (s *mdbSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	values := make([]any, s.width)
	ptrs := make([]any, s.width)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	record := make([]string, s.width)
	for i, value := range values {
		record[i] = renderSQLValue(value)
	}
	return record, nil
}

func renderSQLValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case string:
		return v
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return renderFloat(v)
	default:
		return fmt.Sprint(v)
	}
}
