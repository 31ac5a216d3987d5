package ingest

import (
	"context"
	"io"

	"github.com/LindsayBradford/go-dbf/godbf"
	"github.com/jackc/pgx/v5"

	"github.com/OpenPipe/pipeline/internal/apperr"
)

// analyzeDBF computes column statistics for a dBase file. Field names
// and types come from the file header; records are then iterated for
// the length statistics.
func analyzeDBF(ctx context.Context, path string, spec AnalyzerSpec, emit EmitFunc) error {
	table, err := godbf.NewFromFile(path, "UTF8")
	if err != nil {
		return apperr.Wrapf(apperr.KindIngestion, err, "cannot read dbf file %s", path)
	}

	labels := table.FieldNames()
	names := normalizeHeader(labels)
	types := dbfFieldTypes(table)

	acc := newStatsAccumulator(len(names))
	total := table.NumberOfRecords()
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		acc.observe(table.GetRowAsSlice(i))
	}

	count, ranges := acc.result()
	return emit(AnalyzeResult{
		StOID:       spec.StOID,
		TableName:   spec.TableName,
		RecordCount: count,
		Columns:     columnsFromStats(names, labels, types, ranges),
	})
}

// loadDBF streams a dBase file's records, re-encoded as CSV, into the
// COPY sink.
func loadDBF(ctx context.Context, tx pgx.Tx, path string, spec LoaderSpec) (int64, error) {
	table, err := godbf.NewFromFile(path, "UTF8")
	if err != nil {
		return 0, apperr.Wrapf(apperr.KindIngestion, err, "cannot read dbf file %s", path)
	}

	src := &dbfSource{table: table, width: len(spec.Columns)}
	copySQL := BuildCopyStatement(spec.TableName, spec.Columns, ",", false, true)
	return copyRecords(ctx, tx, copySQL, src)
}

func dbfFieldTypes(table *godbf.DbfTable) []string {
	fields := table.Fields()
	types := make([]string, len(fields))
	for i, field := range fields {
		types[i] = dbfTypeName(byte(field.FieldType()))
	}
	return types
}

// dbfTypeName maps a dBase field type code to its symbolic name.
func dbfTypeName(code byte) string {
	switch code {
	case 'C':
		return "CHARACTER"
	case 'N':
		return "NUMERIC"
	case 'F':
		return "FLOAT"
	case 'L':
		return "LOGICAL"
	case 'D':
		return "DATE"
	case 'M':
		return "MEMO"
	default:
		return "CHARACTER"
	}
}

// dbfSource adapts an in-memory dBase table to the streaming record
// interface.
type dbfSource struct {
	table *godbf.DbfTable
	width int
	next  int
}

func (s *dbfSource) Next() ([]string, error) {
	if s.next >= s.table.NumberOfRecords() {
		return nil, io.EOF
	}
	record := padRecord(s.table.GetRowAsSlice(s.next), s.width)
	s.next++
	return record, nil
}
