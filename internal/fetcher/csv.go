package fetcher

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// ReadCSV reads all CSV rows from r. Rows may have variable field counts;
// callers align fields against the header row themselves.
func ReadCSV(r io.Reader, opts CSVOptions) ([][]string, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		if opts.TrimSpace {
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}
		}
		rows = append(rows, record)
	}
}
