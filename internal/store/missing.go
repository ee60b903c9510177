package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dhonus/jellyfin-tui/internal/domain"
)

// Miss counters decouple "temporarily not observed" from "confirmed removed
// upstream". The remote catalog is fetched incrementally and can be
// momentarily inconsistent, so absence from a single pass deletes nothing;
// only entities missed threshold passes in a row, with no intervening
// sighting, are purged.

func recordMissExec(e sqlx.ExtContext, ctx context.Context, entityType domain.EntityType, id string, now time.Time) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO missing_counters (entity_type, id, missing_seen_count, last_checked_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			missing_seen_count = missing_seen_count + 1,
			last_checked_at = excluded.last_checked_at`,
		string(entityType), id, now.Unix())
	return err
}

func (s *Store) RecordMiss(ctx context.Context, entityType domain.EntityType, id string, now time.Time) error {
	return recordMissExec(s.db, ctx, entityType, id, now)
}

// RecordMisses records one batch of misses in a single transaction, one step
// of one reconciliation pass.
func (s *Store) RecordMisses(ctx context.Context, entityType domain.EntityType, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if err := recordMissExec(tx, ctx, entityType, id, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func clearMissExec(e sqlx.ExtContext, ctx context.Context, entityType domain.EntityType, id string) error {
	_, err := e.ExecContext(ctx,
		`DELETE FROM missing_counters WHERE entity_type = ? AND id = ?`,
		string(entityType), id)
	return err
}

// ClearMiss deletes the counter: a live sighting always resets it regardless
// of prior count.
func (s *Store) ClearMiss(ctx context.Context, entityType domain.EntityType, id string) error {
	return clearMissExec(s.db, ctx, entityType, id)
}

// GetMissCount returns the current consecutive-miss count, zero when no
// counter row exists.
func (s *Store) GetMissCount(ctx context.Context, entityType domain.EntityType, id string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT missing_seen_count FROM missing_counters
		WHERE entity_type = ? AND id = ?`, string(entityType), id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

// PurgeIfThreshold deletes the entity row, its membership rows and its miss
// counter in one transaction once the counter has reached threshold. Returns
// whether a purge occurred. Local file deletion for downloaded tracks is the
// caller's job; this only mutates the store.
func (s *Store) PurgeIfThreshold(ctx context.Context, entityType domain.EntityType, id string, threshold int) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var count int
	err = tx.GetContext(ctx, &count, `
		SELECT missing_seen_count FROM missing_counters
		WHERE entity_type = ? AND id = ?`, string(entityType), id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if count < threshold {
		return false, nil
	}

	var stmts []string
	switch entityType {
	case domain.EntityArtist:
		stmts = []string{
			`DELETE FROM artist_membership WHERE artist_id = ?`,
			`DELETE FROM album_artists WHERE artist_id = ?`,
			`DELETE FROM artists WHERE id = ?`,
		}
	case domain.EntityAlbum:
		stmts = []string{
			`DELETE FROM album_artists WHERE album_id = ?`,
			`DELETE FROM albums WHERE id = ?`,
		}
	case domain.EntityTrack:
		stmts = []string{
			`DELETE FROM artist_membership WHERE track_id = ?`,
			`DELETE FROM playlist_membership WHERE track_id = ?`,
			`DELETE FROM tracks WHERE id = ?`,
		}
	case domain.EntityPlaylist:
		stmts = []string{
			`DELETE FROM playlist_membership WHERE playlist_id = ?`,
			`DELETE FROM playlists WHERE id = ?`,
		}
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return false, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM missing_counters WHERE entity_type = ? AND id = ?`,
		string(entityType), id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
