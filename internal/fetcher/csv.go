package fetcher

import (
	"encoding/csv"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVOptions configures the feed CSV reader.
type CSVOptions struct {
	Delimiter rune // default ','
	Comment   rune // comment character (0 = none)
}

// NewCSVReader wraps r in an RFC 4180 reader. Quoted fields may contain the
// delimiter, doubled quotes and newlines. A UTF-8 or UTF-16 byte order mark is
// consumed, and records may have a variable number of fields.
func NewCSVReader(r io.Reader, opts CSVOptions) *csv.Reader {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	reader := csv.NewReader(decoded)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false
	return reader
}
