package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
)

// recordSource iterates the decoded records of one sub-table. Next
// returns io.EOF after the last record.
type recordSource interface {
	Next() ([]string, error)
}

// QuoteIdent double-quotes an identifier so generated table and column
// names keep their case and never collide with keywords.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// BuildCopyStatement shapes the COPY command for one destination table.
// Quote handling is only declared when the source is qualified; the
// header flag tells the server whether the stream starts with a header
// line to skip.
func BuildCopyStatement(table string, columns []string, delimiter string, header, qualified bool) string {
	quoted := make([]string, len(columns))
	for i, column := range columns {
		quoted[i] = QuoteIdent(column)
	}

	options := fmt.Sprintf("FORMAT csv, DELIMITER '%s', HEADER %t",
		strings.ReplaceAll(delimiter, "'", "''"), header)
	if qualified {
		options += `, QUOTE '"', ESCAPE '"'`
	}

	return fmt.Sprintf("COPY %s (%s) FROM STDIN WITH (%s)",
		table, strings.Join(quoted, ", "), options)
}

// padRecord sizes a record to the destination column count so every
// encoded line matches the COPY column list.
func padRecord(record []string, width int) []string {
	if len(record) == width {
		return record
	}
	out := make([]string, width)
	copy(out, record)
	return out
}

// EncodeCSVRow renders one record as a CSV line: every field quoted,
// embedded quotes doubled, trailing newline.
func EncodeCSVRow(fields []string) []byte {
	var b bytes.Buffer
	for i, field := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(field, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// copyRecords re-encodes records as CSV lines and streams them into the
// database. A source error aborts the copy and rolls back with the
// surrounding transaction.
func copyRecords(ctx context.Context, tx pgx.Tx, copySQL string, src recordSource) (int64, error) {
	pr, pw := io.Pipe()
	defer pr.Close()

	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		for {
			record, nextErr := src.Next()
			if nextErr == io.EOF {
				return
			}
			if nextErr != nil {
				err = nextErr
				return
			}
			if _, writeErr := pw.Write(EncodeCSVRow(record)); writeErr != nil {
				err = writeErr
				return
			}
		}
	}()

	tag, err := tx.Conn().PgConn().CopyFrom(ctx, pr, copySQL)
	if err != nil {
		return 0, fmt.Errorf("copy records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// copyFile streams a file's raw bytes into the database, leaving header
// skipping and field parsing to the server.
func copyFile(ctx context.Context, tx pgx.Tx, copySQL, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	tag, err := tx.Conn().PgConn().CopyFrom(ctx, f, copySQL)
	if err != nil {
		return 0, fmt.Errorf("copy file: %w", err)
	}
	return tag.RowsAffected(), nil
}
