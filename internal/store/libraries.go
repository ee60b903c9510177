package store

import (
	"context"
	"time"

	"github.com/dhonus/jellyfin-tui/internal/domain"
)

// UpsertLibrary records a library sighting. New libraries start selected;
// name follows the server, selected and last_seen are never overwritten here.
// Libraries are never auto-deleted: one going briefly unreachable must not
// destroy its cached contents.
func (s *Store) UpsertLibrary(ctx context.Context, lib domain.Library, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO libraries (id, name, last_seen, selected)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		lib.ID, lib.Name, now.Unix())
	return err
}

// TouchLibrary updates last_seen after any successful fetch for the library,
// independent of entity-level outcomes.
func (s *Store) TouchLibrary(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE libraries SET last_seen = ? WHERE id = ?`, now.Unix(), id)
	return err
}

func (s *Store) SetLibrarySelected(ctx context.Context, id string, selected bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE libraries SET selected = ? WHERE id = ?`, selected, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListLibraries(ctx context.Context) ([]domain.Library, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, name, last_seen, selected FROM libraries ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var libs []domain.Library
	for rows.Next() {
		var (
			lib      domain.Library
			lastSeen int64
		)
		if err := rows.Scan(&lib.ID, &lib.Name, &lastSeen, &lib.Selected); err != nil {
			return nil, err
		}
		lib.LastSeen = time.Unix(lastSeen, 0)
		libs = append(libs, lib)
	}
	return libs, rows.Err()
}

// SelectedLibraryIDs returns the set every scoped query takes as an explicit
// parameter; there is no ambient "current library" state.
func (s *Store) SelectedLibraryIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM libraries WHERE selected = 1 ORDER BY id`)
	return ids, err
}
