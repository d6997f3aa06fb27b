// Package enviro loads CalEnviroScreen environmental burden scores from
// an XLSX workbook or a CSV export of the same table.
package enviro

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bikeway-cli/internal/fetcher"
	"github.com/sells-group/bikeway-cli/internal/geoid"
)

// Column name candidates, matched against normalized headers. The
// published workbook has drifted between releases, so each canonical
// field probes several spellings.
var (
	tractCandidates = []string{"census tract", "tract", "census tract 2010"}
	scoreCandidates = []string{"ces 4.0 score", "ces score", "ces4.0 score"}
	pm25Candidates  = []string{"pm2.5", "pm 2.5", "pm25"}
)

// headerProbeRows bounds how deep into a sheet the header row is looked
// for. The CalEnviroScreen workbook carries title rows above the table.
const headerProbeRows = 10

// Record is one tract's environmental scores. Bad cells are NaN.
type Record struct {
	GEOID    string
	CESScore float64
	PM25     float64
}

// Loader parses the environmental table and filters it to one county.
type Loader struct {
	prefix string
	log    *zap.Logger
}

// NewLoader builds a Loader filtering to the given state+county GEOID
// prefix.
func NewLoader(prefix string) *Loader {
	return &Loader{
		prefix: prefix,
		log:    zap.L().With(zap.String("component", "enviro")),
	}
}

// Load reads the file at path, dispatching on extension. Rows whose
// tract falls outside the county are dropped; unparseable score cells
// become NaN rather than errors.
func (l *Loader) Load(path string) ([]Record, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = l.readCSV(path)
	default:
		rows, err = l.readXLSX(path)
	}
	if err != nil {
		return nil, err
	}
	return l.parse(rows, path)
}

func (l *Loader) readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "enviro: open %s", path)
	}
	defer f.Close()
	rows, err := fetcher.ReadCSV(f, fetcher.CSVOptions{TrimSpace: true})
	if err != nil {
		return nil, eris.Wrapf(err, "enviro: read %s", path)
	}
	return rows, nil
}

// readXLSX probes every sheet for one whose first rows contain a tract
// header, and returns that sheet's rows starting at the header.
func (l *Loader) readXLSX(path string) ([][]string, error) {
	names, err := fetcher.SheetNames(path)
	if err != nil {
		return nil, eris.Wrapf(err, "enviro: open %s", path)
	}
	for i, name := range names {
		rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetIndex: i})
		if err != nil {
			l.log.Warn("skipping unreadable sheet", zap.String("sheet", name), zap.Error(err))
			continue
		}
		if header := findHeaderRow(rows); header >= 0 {
			l.log.Info("environmental table located",
				zap.String("sheet", name),
				zap.Int("header_row", header))
			return rows[header:], nil
		}
	}
	return nil, eris.Errorf("enviro: no sheet in %s has a header matching %v", path, tractCandidates)
}

// findHeaderRow scans the first rows for one containing a tract column.
func findHeaderRow(rows [][]string) int {
	limit := len(rows)
	if limit > headerProbeRows {
		limit = headerProbeRows
	}
	for i := 0; i < limit; i++ {
		if columnIndex(rows[i], tractCandidates) >= 0 {
			return i
		}
	}
	return -1
}

// columnIndex returns the index of the first header cell matching any
// candidate, or -1. Candidates listed first win, and an exact match on
// any candidate beats a prefix match.
func columnIndex(header []string, candidates []string) int {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = normalizeHeader(h)
	}
	for _, c := range candidates {
		for i, h := range normalized {
			if h == c {
				return i
			}
		}
	}
	for _, c := range candidates {
		for i, h := range normalized {
			if strings.HasPrefix(h, c) {
				return i
			}
		}
	}
	return -1
}

func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(h))), " ")
}

func (l *Loader) parse(rows [][]string, path string) ([]Record, error) {
	if len(rows) == 0 {
		return nil, eris.Errorf("enviro: %s is empty", path)
	}
	header := rows[0]

	tractCol := columnIndex(header, tractCandidates)
	if tractCol < 0 {
		return nil, eris.Errorf("enviro: %s has no tract column, tried %v", path, tractCandidates)
	}
	scoreCol := columnIndex(header, scoreCandidates)
	if scoreCol < 0 {
		return nil, eris.Errorf("enviro: %s has no score column, tried %v", path, scoreCandidates)
	}
	pmCol := columnIndex(header, pm25Candidates)
	if pmCol < 0 {
		l.log.Warn("no PM2.5 column found, scores only", zap.String("path", path))
	}

	recs := make([]Record, 0, len(rows)-1)
	var outside int
	for _, row := range rows[1:] {
		id := geoid.Normalize(cellAt(row, tractCol), l.prefix)
		if !strings.HasPrefix(id, l.prefix) {
			outside++
			continue
		}
		rec := Record{GEOID: id, CESScore: coerce(cellAt(row, scoreCol)), PM25: math.NaN()}
		if pmCol >= 0 {
			rec.PM25 = coerce(cellAt(row, pmCol))
		}
		recs = append(recs, rec)
	}
	if outside > 0 {
		l.log.Info("rows outside county dropped", zap.Int("rows", outside))
	}
	l.log.Info("environmental scores loaded", zap.Int("tracts", len(recs)))
	return recs, nil
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func coerce(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
