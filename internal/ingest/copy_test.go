package ingest

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCopyStatement(t *testing.T) {
	tests := []struct {
		name      string
		table     string
		columns   []string
		delimiter string
		header    bool
		qualified bool
		expected  string
	}{
		{
			name:      "qualified flat file",
			table:     `staging."PRICES"`,
			columns:   []string{"ID", "NAME"},
			delimiter: ",",
			header:    true,
			qualified: true,
			expected:  `COPY staging."PRICES" ("ID", "NAME") FROM STDIN WITH (FORMAT csv, DELIMITER ',', HEADER true, QUOTE '"', ESCAPE '"')`,
		},
		{
			name:      "unqualified pipe delimited",
			table:     `staging."RAW"`,
			columns:   []string{"A"},
			delimiter: "|",
			header:    true,
			qualified: false,
			expected:  `COPY staging."RAW" ("A") FROM STDIN WITH (FORMAT csv, DELIMITER '|', HEADER true)`,
		},
		{
			name:      "re-encoded records",
			table:     `staging."BOOK"`,
			columns:   []string{"ID_1", "ID"},
			delimiter: ",",
			header:    false,
			qualified: true,
			expected:  `COPY staging."BOOK" ("ID_1", "ID") FROM STDIN WITH (FORMAT csv, DELIMITER ',', HEADER false, QUOTE '"', ESCAPE '"')`,
		},
		{
			name:      "quote delimiter is escaped",
			table:     `staging."ODD"`,
			columns:   []string{"A"},
			delimiter: "'",
			header:    true,
			qualified: false,
			expected:  `COPY staging."ODD" ("A") FROM STDIN WITH (FORMAT csv, DELIMITER '''', HEADER true)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildCopyStatement(tt.table, tt.columns, tt.delimiter, tt.header, tt.qualified)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEncodeCSVRowRoundTrip(t *testing.T) {
	rows := [][]string{
		{"plain", "fields", "here"},
		{`say "hi"`, "comma, inside", ""},
		{"trailing space ", " leading"},
		{"single"},
	}

	for _, fields := range rows {
		encoded := EncodeCSVRow(fields)
		assert.True(t, strings.HasSuffix(string(encoded), "\n"))

		reader := csv.NewReader(strings.NewReader(string(encoded)))
		parsed, err := reader.Read()
		require.NoError(t, err)
		assert.Equal(t, fields, parsed)
	}
}

func TestEncodeCSVRowQuotesEveryField(t *testing.T) {
	encoded := string(EncodeCSVRow([]string{"a", "b"}))
	assert.Equal(t, "\"a\",\"b\"\n", encoded)
}

func TestPadRecord(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, padRecord([]string{"a", "b"}, 2))
	assert.Equal(t, []string{"a", "", ""}, padRecord([]string{"a"}, 3))
	assert.Equal(t, []string{"a", "b"}, padRecord([]string{"a", "b", "c"}, 2))
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"ORDER_NUM"`, QuoteIdent("ORDER_NUM"))
	assert.Equal(t, `"WE""IRD"`, QuoteIdent(`WE"IRD`))
}
