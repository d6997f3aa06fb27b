// Package cache persists the most recent successful ACS API response so
// the demographic loader can fall back to it when the API is down.
package cache

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed snapshot store keyed by source name.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at path and configures WAL
// mode. The schema is applied on open.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "cache: migrate")
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS snapshots (
	run_id     TEXT NOT NULL,
	source     TEXT NOT NULL,
	body       BLOB NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_snapshots_source_fetched ON snapshots(source, fetched_at);
`

func (s *Store) Close() error {
	return s.db.Close()
}

// Put records a successful fetch of source under the given run id.
func (s *Store) Put(ctx context.Context, runID, source string, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, source, body, fetched_at) VALUES (?, ?, ?, ?)`,
		runID, source, body, time.Now().UTC(),
	)
	return eris.Wrapf(err, "cache: put %s", source)
}

// Latest returns the most recent snapshot body for source, or nil when
// none has ever been stored.
func (s *Store) Latest(ctx context.Context, source string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body FROM snapshots WHERE source = ? ORDER BY fetched_at DESC, rowid DESC LIMIT 1`,
		source,
	)
	var body []byte
	err := row.Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "cache: latest %s", source)
	}
	return body, nil
}

// Prune keeps the newest keep snapshots per source and deletes the rest.
func (s *Store) Prune(ctx context.Context, source string, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE source = ? AND rowid NOT IN (
			SELECT rowid FROM snapshots WHERE source = ?
			ORDER BY fetched_at DESC, rowid DESC LIMIT ?
		)`,
		source, source, keep,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "cache: prune %s", source)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "cache: rows affected")
}
