package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/OpenPipe/pipeline/internal/apperr"
)

// defaultDelimiter applies when a flat source table has no delimiter set.
const defaultDelimiter = ","

// flatSource reads a delimited text file record by record. Qualified
// sources go through a CSV parser so delimiters inside quoted fields
// survive; unqualified sources split lines on the raw delimiter string.
type flatSource struct {
	file      *os.File
	csv       *csv.Reader
	scanner   *bufio.Scanner
	delimiter string
}

func openFlatSource(path, delimiter string, qualified bool) (*flatSource, error) {
	if delimiter == "" {
		delimiter = defaultDelimiter
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	src := &flatSource{file: f, delimiter: delimiter}
	if qualified {
		reader := csv.NewReader(f)
		reader.Comma = []rune(delimiter)[0]
		reader.FieldsPerRecord = -1
		src.csv = reader
	} else {
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		src.scanner = scanner
	}
	return src, nil
}

func (s *flatSource) Next() ([]string, error) {
	if s.csv != nil {
		return s.csv.Read()
	}

	for s.scanner.Scan() {
		line := strings.TrimSuffix(s.scanner.Text(), "\r")
		if line == "" {
			continue
		}
		return strings.Split(line, s.delimiter), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *flatSource) Close() error {
	return s.file.Close()
}

// analyzeFlat computes column statistics for a delimited text file. The
// first record is the header; every value column is typed VARCHAR.
func analyzeFlat(ctx context.Context, path string, spec AnalyzerSpec, emit EmitFunc) error {
	src, err := openFlatSource(path, spec.Delimiter, spec.Qualified)
	if err != nil {
		return err
	}
	defer src.Close()

	labels, err := src.Next()
	if err == io.EOF {
		return apperr.Newf(apperr.KindIngestion, "no header row in %s", path)
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	names := normalizeHeader(labels)
	acc := newStatsAccumulator(len(names))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		acc.observe(record)
	}

	count, ranges := acc.result()
	return emit(AnalyzeResult{
		StOID:       spec.StOID,
		TableName:   spec.TableName,
		RecordCount: count,
		Columns:     columnsFromStats(names, labels, []string{"VARCHAR"}, ranges),
	})
}

// loadFlat streams the file's raw bytes straight into the COPY sink,
// leaving header skipping and field parsing to the server.
func loadFlat(ctx context.Context, tx pgx.Tx, path string, spec LoaderSpec) (int64, error) {
	delimiter := spec.Delimiter
	if delimiter == "" {
		delimiter = defaultDelimiter
	}
	copySQL := BuildCopyStatement(spec.TableName, spec.Columns, delimiter, true, spec.Qualified)
	return copyFile(ctx, tx, copySQL, path)
}
