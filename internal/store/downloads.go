package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dhonus/jellyfin-tui/internal/domain"
)

// SetDownloadStatus is the single write path for download state. The
// update_json_download_status trigger mirrors the new status into the
// embedded document before this transaction commits, so no reader can
// observe the column and the document disagreeing. download_size_bytes and
// downloaded_at exist only while the track is Downloaded.
func (s *Store) SetDownloadStatus(ctx context.Context, trackID string, status domain.DownloadStatus, sizeBytes *int64, downloadedAt *time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var size sql.NullInt64
	var at sql.NullInt64
	if status == domain.StatusDownloaded {
		if sizeBytes != nil {
			size = sql.NullInt64{Int64: *sizeBytes, Valid: true}
		}
		if downloadedAt != nil {
			at = sql.NullInt64{Int64: downloadedAt.Unix(), Valid: true}
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tracks SET
			download_status = ?,
			download_size_bytes = ?,
			downloaded_at = ?
		WHERE id = ?`,
		string(status), size, at, trackID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("track %s: %w", trackID, domain.ErrNotFound)
	}
	return tx.Commit()
}

// GetDownloadStatus reads the current relational status.
func (s *Store) GetDownloadStatus(ctx context.Context, trackID string) (domain.DownloadStatus, error) {
	var status string
	err := s.db.GetContext(ctx, &status,
		`SELECT download_status FROM tracks WHERE id = ?`, trackID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("track %s: %w", trackID, domain.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return domain.ParseDownloadStatus(status), nil
}

// ResolveCoverArt walks the fallback chain (own art → album → first artist)
// against current cache contents and persists the result into cover_art_id,
// so readers never recompute it.
func (s *Store) ResolveCoverArt(ctx context.Context, trackID string, preferTrackArt bool) (string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var row trackRow
	err = tx.GetContext(ctx, &row,
		`SELECT `+trackColumns+` FROM tracks WHERE id = ?`, trackID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("track %s: %w", trackID, domain.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	track, err := row.toTrack()
	if err != nil {
		return "", err
	}

	artID := ""
	switch {
	case preferTrackArt && track.HasOwnArt():
		artID = track.ID
	default:
		var exists int
		if track.AlbumID != "" {
			if err := tx.GetContext(ctx, &exists,
				`SELECT COUNT(*) FROM albums WHERE id = ?`, track.AlbumID); err != nil {
				return "", err
			}
		}
		if exists > 0 {
			artID = track.AlbumID
		} else if len(track.ArtistItems) > 0 {
			artID = track.ArtistItems[0].ID
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tracks SET cover_art_id = ? WHERE id = ?`, nullStr(artID), trackID); err != nil {
		return "", err
	}
	return artID, tx.Commit()
}
