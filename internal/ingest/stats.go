package ingest

import "unicode/utf8"

// chunkSize is how many records accumulate before a chunk's statistics
// fold into the running result.
const chunkSize = 10000

// columnRange tracks the value-length extremes of one column.
type columnRange struct {
	min  int
	max  int
	seen bool
}

func (c *columnRange) observe(length int) {
	if !c.seen {
		c.min, c.max, c.seen = length, length, true
		return
	}
	if length < c.min {
		c.min = length
	}
	if length > c.max {
		c.max = length
	}
}

// merge folds another range into this one. Merging is commutative and
// associative, so chunks can combine in any order.
func (c *columnRange) merge(other columnRange) {
	if !other.seen {
		return
	}
	if !c.seen {
		*c = other
		return
	}
	if other.min < c.min {
		c.min = other.min
	}
	if other.max > c.max {
		c.max = other.max
	}
}

// chunkStats holds the statistics of one chunk of records.
type chunkStats struct {
	records int64
	ranges  []columnRange
}

func newChunkStats(width int) *chunkStats {
	return &chunkStats{ranges: make([]columnRange, width)}
}

// observe folds one record into the chunk. Records shorter than the
// header are padded with empty values; extra trailing fields are ignored.
func (s *chunkStats) observe(record []string) {
	s.records++
	for i := range s.ranges {
		length := 0
		if i < len(record) {
			length = utf8.RuneCountInString(record[i])
		}
		s.ranges[i].observe(length)
	}
}

func (s *chunkStats) merge(other *chunkStats) {
	s.records += other.records
	for i := range s.ranges {
		s.ranges[i].merge(other.ranges[i])
	}
}

// statsAccumulator folds records into chunks of at most chunkSize and
// merges each full chunk into a running total.
type statsAccumulator struct {
	width int
	total *chunkStats
	chunk *chunkStats
}

func newStatsAccumulator(width int) *statsAccumulator {
	return &statsAccumulator{
		width: width,
		total: newChunkStats(width),
		chunk: newChunkStats(width),
	}
}

func (a *statsAccumulator) observe(record []string) {
	if a.chunk.records == chunkSize {
		a.total.merge(a.chunk)
		a.chunk = newChunkStats(a.width)
	}
	a.chunk.observe(record)
}

// result merges any partial chunk and returns the final record count
// and per-column ranges.
func (a *statsAccumulator) result() (int64, []columnRange) {
	if a.chunk.records > 0 {
		a.total.merge(a.chunk)
		a.chunk = newChunkStats(a.width)
	}
	return a.total.records, a.total.ranges
}

// columnsFromStats assembles the per-column analysis results. types may
// hold a single element, in which case it applies to every column.
func columnsFromStats(names, labels, types []string, ranges []columnRange) []ColumnStat {
	columns := make([]ColumnStat, len(names))
	for i := range names {
		columnType := types[0]
		if len(types) == len(names) {
			columnType = types[i]
		}
		columns[i] = ColumnStat{
			Name:      names[i],
			Type:      columnType,
			Label:     labels[i],
			MinLength: ranges[i].min,
			MaxLength: ranges[i].max,
			Index:     i,
		}
	}
	return columns
}
