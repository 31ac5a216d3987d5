package ingest

import (
	"fmt"
	"strings"
	"unicode"
)

// maxColumnNameLength caps normalized column names at the database's
// identifier budget for generated staging tables.
const maxColumnNameLength = 60

// NormalizeColumnName converts a raw header label into a database-safe
// column name: uppercase, whitespace to underscores, '#' to NUM, all
// other non-alphanumerics dropped, a leading digit prefixed with an
// underscore, truncated to 60 characters. The function is idempotent.
func NormalizeColumnName(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte('_')
		case r == '#':
			b.WriteString("NUM")
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
		}
	}

	name := b.String()
	if name == "" {
		name = "COLUMN"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	if len(name) > maxColumnNameLength {
		name = name[:maxColumnNameLength]
	}
	return name
}

// DedupColumnNames suffixes duplicate names with _N counting from the
// end of the list: the last occurrence keeps the bare name, the one
// before it becomes name_1, and so on.
func DedupColumnNames(names []string) []string {
	counts := make(map[string]int, len(names))
	for _, name := range names {
		counts[name]++
	}

	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		if counts[name] == 1 {
			out[i] = name
			continue
		}
		if n := seen[name]; n > 0 {
			out[i] = fmt.Sprintf("%s_%d", name, n)
		} else {
			out[i] = name
		}
		seen[name]++
	}
	return out
}

// normalizeHeader applies normalization and deduplication to a header
// row in one step.
func normalizeHeader(labels []string) []string {
	names := make([]string, len(labels))
	for i, label := range labels {
		names[i] = NormalizeColumnName(label)
	}
	return DedupColumnNames(names)
}
