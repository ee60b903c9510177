package store

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dhonus/jellyfin-tui/internal/domain"
)

// revision is one forward-only schema transformation. Statements run in
// order inside a single transaction; a failure rolls the whole revision back.
type revision struct {
	ID         int
	Name       string
	Statements []string
}

// migrate applies every revision newer than the recorded schema version, in
// ascending order, exactly once. Errors wrap domain.ErrMigration: a partially
// migrated store must never be left running, so callers abort startup.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);`); err != nil {
		return fmt.Errorf("%w: creating schema_version: %v", domain.ErrMigration, err)
	}

	var current int
	if err := s.db.Get(&current, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("%w: reading schema version: %v", domain.ErrMigration, err)
	}

	prev := 0
	for _, rev := range revisions {
		if rev.ID <= prev {
			return fmt.Errorf("%w: revision ids must be ascending, got %d after %d",
				domain.ErrMigration, rev.ID, prev)
		}
		prev = rev.ID

		if rev.ID <= current {
			continue
		}

		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("%w: begin revision %d: %v", domain.ErrMigration, rev.ID, err)
		}
		if err := applyRevision(tx, rev); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: revision %d (%s): %v", domain.ErrMigration, rev.ID, rev.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit revision %d: %v", domain.ErrMigration, rev.ID, err)
		}
	}
	return nil
}

func applyRevision(tx *sqlx.Tx, rev revision) error {
	for _, stmt := range rev.Statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	_, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
		rev.ID, time.Now().Unix())
	return err
}
