package fetcher

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeStringTable decodes a JSON array-of-arrays of strings, the shape the
// Census API returns: the first row is the header, each following row one
// geography. JSON nulls become empty strings.
func DecodeStringTable(r io.Reader) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "json: read body")
	}

	var raw [][]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, eris.Wrap(err, "json: decode string table")
	}

	rows := make([][]string, len(raw))
	for i, r := range raw {
		row := make([]string, len(r))
		for j, cell := range r {
			if cell != nil {
				row[j] = *cell
			}
		}
		rows[i] = row
	}
	return rows, nil
}
