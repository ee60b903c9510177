// Package store is the persistent catalog cache: a single SQLite file owning
// every cached row. All cross-cutting consistency is enforced with
// transactions here, never with locks in the callers.
package store

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dhonus/jellyfin-tui/internal/domain"
)

type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and brings the schema up to
// date. A migration failure is fatal to the caller: the returned error wraps
// domain.ErrMigration and the handle is closed.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// Pragmas for concurrency; a background sync pass and foreground reads
	// share this file.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// mapConstraintErr translates SQLite constraint failures into the error
// taxonomy callers switch on.
func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return fmt.Errorf("%w: %v", domain.ErrDanglingReference, err)
	}
	return err
}
