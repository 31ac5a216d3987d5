package ingest

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeColumnName(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"lowercase", "name", "NAME"},
		{"whitespace to underscore", "order date", "ORDER_DATE"},
		{"each whitespace char", "a  b", "A__B"},
		{"tab and newline", "a\tb\nc", "A_B_C"},
		{"hash to NUM", "Order #", "ORDER_NUM"},
		{"strip punctuation", "price ($)", "PRICE_"},
		{"leading digit", "2nd Quarter", "_2ND_QUARTER"},
		{"keeps underscores", "already_fine", "ALREADY_FINE"},
		{"empty becomes COLUMN", "", "COLUMN"},
		{"only punctuation becomes COLUMN", "($)", "COLUMN"},
		{"truncated to sixty", strings.Repeat("A", 80), strings.Repeat("A", 60)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeColumnName(tt.raw))
		})
	}
}

func TestNormalizeColumnNameIdempotent(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
	inputs := []string{
		"name", "Order #", "2nd Quarter", "price ($)", "",
		strings.Repeat("9", 70), "a b\tc", "ALREADY_FINE",
	}

	for _, raw := range inputs {
		once := NormalizeColumnName(raw)
		assert.Equal(t, once, NormalizeColumnName(once), "normalize(%q) not idempotent", raw)
		assert.Regexp(t, pattern, once)
		assert.LessOrEqual(t, len(once), 60)
	}
}

func TestDedupColumnNames(t *testing.T) {
	tests := []struct {
		name     string
		names    []string
		expected []string
	}{
		{
			name:     "no duplicates untouched",
			names:    []string{"ID", "NAME", "DATE"},
			expected: []string{"ID", "NAME", "DATE"},
		},
		{
			name:     "last duplicate keeps bare name",
			names:    []string{"ID", "NAME", "ID"},
			expected: []string{"ID_1", "NAME", "ID"},
		},
		{
			name:     "suffixes count from the end",
			names:    []string{"ID", "ID", "ID"},
			expected: []string{"ID_2", "ID_1", "ID"},
		},
		{
			name:     "independent duplicate groups",
			names:    []string{"A", "B", "A", "B"},
			expected: []string{"A_1", "B_1", "A", "B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupColumnNames(tt.names))
		})
	}
}

func TestNormalizeHeader(t *testing.T) {
	header := []string{"ID", "Name", "id"}
	// Normalization uppercases before deduplication, so ID and id collide.
	assert.Equal(t, []string{"ID_1", "NAME", "ID"}, normalizeHeader(header))
}
