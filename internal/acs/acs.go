// Package acs loads tract-level demographics from the Census ACS 5-year
// API, with a cached-snapshot fallback when the API is unreachable.
package acs

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bikeway-cli/internal/cache"
	"github.com/sells-group/bikeway-cli/internal/config"
	"github.com/sells-group/bikeway-cli/internal/fetcher"
)

// cacheSource keys ACS snapshots in the cache store.
const cacheSource = "acs"

// Record is one tract's demographics. Missing or suppressed estimates
// are NaN.
type Record struct {
	GEOID        string
	Name         string
	MedianIncome float64 // B19013_001E
	Population   float64 // B01001_001E
	NoVehicleHH  float64 // B08201_002E
}

// Loader fetches and parses the ACS table.
type Loader struct {
	cfg   config.ACSConfig
	http  *fetcher.HTTPFetcher
	cache *cache.Store
	log   *zap.Logger
}

// NewLoader builds a Loader. The cache store may be nil, in which case
// the loader degrades straight to an empty table on fetch failure.
func NewLoader(cfg config.ACSConfig, f *fetcher.HTTPFetcher, c *cache.Store) *Loader {
	return &Loader{
		cfg:   cfg,
		http:  f,
		cache: c,
		log:   zap.L().With(zap.String("component", "acs")),
	}
}

// URL returns the full API request URL for the configured variables and
// county.
func (l *Loader) URL() string {
	q := url.Values{}
	q.Set("get", "NAME,"+strings.Join(l.cfg.Variables, ","))
	q.Set("for", "tract:*")
	q.Set("in", fmt.Sprintf("state:%s county:%s", l.cfg.StateFIPS, l.cfg.County))
	return l.cfg.BaseURL + "?" + q.Encode()
}

// Load fetches the demographic table, writing successful responses
// through to the cache. On failure it falls back to the most recent
// cached response, and failing that returns an empty table. Load never
// errors on source unavailability, only on programming-level faults.
func (l *Loader) Load(ctx context.Context, runID string) ([]Record, error) {
	body, err := l.fetch(ctx)
	if err == nil {
		recs, perr := l.parse(body)
		if perr == nil {
			l.writeThrough(ctx, runID, body)
			l.log.Info("demographics loaded from API", zap.Int("tracts", len(recs)))
			return recs, nil
		}
		err = perr
	}
	l.log.Warn("ACS fetch failed, trying cached snapshot", zap.Error(err))

	if cached := l.latestCached(ctx); cached != nil {
		recs, perr := l.parse(cached)
		if perr == nil {
			l.log.Warn("demographics loaded from cache snapshot",
				zap.Int("tracts", len(recs)))
			return recs, nil
		}
		l.log.Warn("cached ACS snapshot unparseable", zap.Error(perr))
	}

	l.log.Warn("no demographics available; continuing with an empty table")
	return []Record{}, nil
}

func (l *Loader) fetch(ctx context.Context) ([]byte, error) {
	rc, err := l.http.Download(ctx, l.URL())
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrap(err, "acs: read response")
	}
	return body, nil
}

func (l *Loader) writeThrough(ctx context.Context, runID string, body []byte) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Put(ctx, runID, cacheSource, body); err != nil {
		l.log.Warn("failed to cache ACS response", zap.Error(err))
	}
}

func (l *Loader) latestCached(ctx context.Context) []byte {
	if l.cache == nil {
		return nil
	}
	body, err := l.cache.Latest(ctx, cacheSource)
	if err != nil {
		l.log.Warn("cache lookup failed", zap.Error(err))
		return nil
	}
	return body
}

// parse decodes the array-of-arrays JSON the API returns. The first row
// is a header; GEOID is assembled from the state, county, and tract
// columns.
func (l *Loader) parse(body []byte) ([]Record, error) {
	table, err := fetcher.DecodeStringTable(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "acs: decode table")
	}
	if len(table) < 1 {
		return nil, eris.New("acs: response has no header row")
	}
	if len(l.cfg.Variables) < 3 {
		return nil, eris.Errorf("acs: need 3 variables, have %d", len(l.cfg.Variables))
	}

	idx := map[string]int{}
	for i, name := range table[0] {
		idx[name] = i
	}
	for _, required := range append([]string{"state", "county", "tract"}, l.cfg.Variables...) {
		if _, ok := idx[required]; !ok {
			return nil, eris.Errorf("acs: response missing column %s", required)
		}
	}

	nameIdx, hasName := idx["NAME"]
	if !hasName {
		nameIdx = -1
	}

	recs := make([]Record, 0, len(table)-1)
	for _, row := range table[1:] {
		rec := Record{
			GEOID:        cell(row, idx["state"]) + cell(row, idx["county"]) + cell(row, idx["tract"]),
			Name:         cell(row, nameIdx),
			MedianIncome: coerce(cell(row, idx[l.cfg.Variables[0]])),
			Population:   coerce(cell(row, idx[l.cfg.Variables[1]])),
			NoVehicleHH:  coerce(cell(row, idx[l.cfg.Variables[2]])),
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// coerce parses a numeric cell. Unparseable text and the large negative
// sentinels the Census Bureau publishes for suppressed estimates both
// come back as NaN.
func coerce(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	if v <= -666666666 {
		return math.NaN()
	}
	return v
}

// WriteSnapshot exports the table to a CSV file, creating parent
// directories as needed. NaN cells are written empty.
func WriteSnapshot(path string, recs []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "acs: create snapshot dir")
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "acs: create snapshot")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"GEOID", "NAME", "median_income", "population", "no_vehicle_hh"}); err != nil {
		return eris.Wrap(err, "acs: write snapshot header")
	}
	for _, r := range recs {
		row := []string{r.GEOID, r.Name, formatCell(r.MedianIncome), formatCell(r.Population), formatCell(r.NoVehicleHH)}
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "acs: write snapshot row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "acs: flush snapshot")
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
