// Package geoid canonicalizes census tract identifiers across data sources.
//
// Every upstream source spells tract identifiers differently: the ACS API
// returns a bare 6-digit tract code, boundary files carry the full 11-digit
// GEOID, and spreadsheet exports frequently arrive as floats ("6037123456.0")
// with the leading zero eaten by a numeric parser. Normalize folds all of
// these into the canonical 11-digit state+county+tract form.
package geoid

import "strings"

// GEOIDLen is the length of a full tract GEOID (2 state + 3 county + 6 tract).
const GEOIDLen = 11

// tractCodeLen is the width of the bare tract portion of a GEOID.
const tractCodeLen = 6

// Normalize returns the canonical 11-digit GEOID for a raw tract identifier.
//
// prefix is the 5-digit state+county FIPS code prepended when the input is a
// bare tract code. Normalize is pure and total: inputs with no digits are
// returned unchanged rather than rejected, so a malformed record marks
// itself invalid downstream instead of halting the pipeline.
func Normalize(raw, prefix string) string {
	s := strings.TrimSpace(raw)

	// Spreadsheet exports often come through a float parser: "123456.0".
	// Keep the integer part only.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}

	s = digitsOnly(s)
	if s == "" {
		return raw
	}

	// A numeric parser that saw "06037..." returns "6037...": a 10-digit
	// code is an 11-digit GEOID missing its leading zero.
	if len(s) == GEOIDLen-1 {
		s = "0" + s
	}
	if len(s) == GEOIDLen {
		return s
	}

	// Bare tract code: left-pad to 6 digits and attach the county prefix.
	for len(s) < tractCodeLen {
		s = "0" + s
	}
	if strings.HasPrefix(s, prefix) {
		return s
	}
	return prefix + s
}

// Valid reports whether id is a canonical GEOID under the given prefix.
func Valid(id, prefix string) bool {
	if len(id) != GEOIDLen || !strings.HasPrefix(id, prefix) {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

func digitsOnly(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
