package ingest

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/xuri/excelize/v2"

	"github.com/OpenPipe/pipeline/internal/apperr"
)

// analyzeExcel computes column statistics for the selected sheets of a
// workbook. The first row of each sheet is the header; every value
// column is typed VARCHAR.
func analyzeExcel(ctx context.Context, path string, specs []AnalyzerSpec, emit EmitFunc) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return apperr.Wrapf(apperr.KindIngestion, err, "cannot open workbook %s", path)
	}
	defer f.Close()

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := readSheet(f, spec.SubTable)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return apperr.Newf(apperr.KindIngestion, "no header row in sheet %s", spec.SubTable)
		}

		labels := rows[0]
		names := normalizeHeader(labels)
		acc := newStatsAccumulator(len(names))
		for _, record := range rows[1:] {
			acc.observe(record)
		}

		count, ranges := acc.result()
		result := AnalyzeResult{
			StOID:       spec.StOID,
			TableName:   spec.TableName,
			RecordCount: count,
			Columns:     columnsFromStats(names, labels, []string{"VARCHAR"}, ranges),
		}
		if err := emit(result); err != nil {
			return err
		}
	}
	return nil
}

// loadExcel decodes one sheet and streams its records, re-encoded as
// CSV, into the COPY sink.
func loadExcel(ctx context.Context, tx pgx.Tx, path string, spec LoaderSpec) (int64, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, apperr.Wrapf(apperr.KindIngestion, err, "cannot open workbook %s", path)
	}
	defer f.Close()

	rows, err := readSheet(f, spec.SubTable)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, apperr.Newf(apperr.KindIngestion, "no header row in sheet %s", spec.SubTable)
	}

	src := &sliceSource{records: rows[1:], width: len(spec.Columns)}
	copySQL := BuildCopyStatement(spec.TableName, spec.Columns, ",", false, true)
	return copyRecords(ctx, tx, copySQL, src)
}

// readSheet renders a whole sheet to strings, cell by cell, applying
// the same value rules the analysis and the load must agree on.
func readSheet(f *excelize.File, sheet string) ([][]string, error) {
	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apperr.Wrapf(apperr.KindIngestion, err, "sub-table %s not found in workbook", sheet)
	}

	rows := make([][]string, len(raw))
	for r := range raw {
		rows[r] = make([]string, len(raw[r]))
		for c := range raw[r] {
			axis, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, fmt.Errorf("cell coordinates: %w", err)
			}
			value, err := renderExcelCell(f, sheet, axis)
			if err != nil {
				return nil, fmt.Errorf("render cell %s!%s: %w", sheet, axis, err)
			}
			rows[r][c] = value
		}
	}
	return rows, nil
}

// renderExcelCell resolves one cell to its load representation: formulas
// are evaluated, integral numbers drop their fraction, date-formatted
// numbers become ISO dates, booleans become TRUE/FALSE and error cells
// fall back to their formatted text.
func renderExcelCell(f *excelize.File, sheet, axis string) (string, error) {
	formula, err := f.GetCellFormula(sheet, axis)
	if err == nil && formula != "" {
		if value, calcErr := f.CalcCellValue(sheet, axis); calcErr == nil {
			return value, nil
		}
		// Evaluation failed, use the cached formatted text.
		return f.GetCellValue(sheet, axis)
	}

	cellType, err := f.GetCellType(sheet, axis)
	if err != nil {
		return "", err
	}

	switch cellType {
	case excelize.CellTypeBool:
		raw, err := f.GetCellValue(sheet, axis, excelize.Options{RawCellValue: true})
		if err != nil {
			return "", err
		}
		if raw == "1" || strings.EqualFold(raw, "true") {
			return "TRUE", nil
		}
		return "FALSE", nil
	case excelize.CellTypeError:
		return f.GetCellValue(sheet, axis)
	case excelize.CellTypeNumber, excelize.CellTypeDate, excelize.CellTypeUnset:
		return renderExcelNumber(f, sheet, axis)
	default:
		return f.GetCellValue(sheet, axis)
	}
}

func renderExcelNumber(f *excelize.File, sheet, axis string) (string, error) {
	raw, err := f.GetCellValue(sheet, axis, excelize.Options{RawCellValue: true})
	if err != nil {
		return "", err
	}
	if raw == "" {
		return "", nil
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		// Cells without a type attribute may hold plain text.
		return raw, nil
	}

	dateFormatted, err := isDateFormatted(f, sheet, axis)
	if err != nil {
		return "", err
	}
	if dateFormatted {
		t, err := excelize.ExcelDateToTime(value, false)
		if err != nil {
			return "", err
		}
		return t.Format("2006-01-02"), nil
	}

	return renderFloat(value), nil
}

// renderFloat drops the fraction of integral numbers so identifiers read
// back as they were written.
func renderFloat(value float64) string {
	if value == math.Floor(value) && math.Abs(value) < 1e15 {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'G', -1, 64)
}

// isDateFormatted reports whether a cell carries one of the builtin
// date number formats.
func isDateFormatted(f *excelize.File, sheet, axis string) (bool, error) {
	styleID, err := f.GetCellStyle(sheet, axis)
	if err != nil {
		return false, err
	}
	style, err := f.GetStyle(styleID)
	if err != nil || style == nil {
		return false, nil
	}
	return isDateNumFmt(style.NumFmt), nil
}

func isDateNumFmt(id int) bool {
	switch {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58:
		return true
	}
	return false
}

// sliceSource adapts fully decoded records to the streaming interface,
// padding or truncating every record to the destination column count.
type sliceSource struct {
	records [][]string
	width   int
	next    int
}

func (s *sliceSource) Next() ([]string, error) {
	if s.next >= len(s.records) {
		return nil, io.EOF
	}
	record := padRecord(s.records[s.next], s.width)
	s.next++
	return record, nil
}
