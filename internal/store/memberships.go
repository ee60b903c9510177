package store

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Membership writes require the parent rows to exist already; the engine
// upserts parents before children, so a foreign key failure here is a
// write-ordering bug and surfaces as domain.ErrDanglingReference.

func (s *Store) SetArtistMembership(ctx context.Context, artistID, trackID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO artist_membership (artist_id, track_id) VALUES (?, ?)`,
		artistID, trackID)
	return mapConstraintErr(err)
}

func (s *Store) SetAlbumArtist(ctx context.Context, albumID, artistID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO album_artists (album_id, artist_id) VALUES (?, ?)`,
		albumID, artistID)
	return mapConstraintErr(err)
}

// SetPlaylistMembership writes or overwrites the track's position within the
// playlist. Position defines playback order; gaps are tolerated.
func (s *Store) SetPlaylistMembership(ctx context.Context, playlistID, trackID string, position int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playlist_membership (playlist_id, track_id, position) VALUES (?, ?, ?)
		ON CONFLICT(playlist_id, track_id) DO UPDATE SET position = excluded.position`,
		playlistID, trackID, position)
	return mapConstraintErr(err)
}

// The RemoveXNotIn family reconciles membership drift: rows for the parent
// whose child is absent from the authoritative set are deleted, so a track
// moved to a different album stops appearing under the old one.

func (s *Store) RemoveArtistMembershipsNotIn(ctx context.Context, trackID string, keepArtistIDs []string) error {
	return s.removeNotIn(ctx, "artist_membership", "track_id", trackID, "artist_id", keepArtistIDs)
}

func (s *Store) RemoveAlbumArtistsNotIn(ctx context.Context, albumID string, keepArtistIDs []string) error {
	return s.removeNotIn(ctx, "album_artists", "album_id", albumID, "artist_id", keepArtistIDs)
}

func (s *Store) RemovePlaylistMembershipsNotIn(ctx context.Context, playlistID string, keepTrackIDs []string) error {
	return s.removeNotIn(ctx, "playlist_membership", "playlist_id", playlistID, "track_id", keepTrackIDs)
}

func (s *Store) removeNotIn(ctx context.Context, table, parentCol, parentID, childCol string, keep []string) error {
	if len(keep) == 0 {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE `+parentCol+` = ?`, parentID)
		return err
	}
	query, args, err := sqlx.In(
		`DELETE FROM `+table+` WHERE `+parentCol+` = ? AND `+childCol+` NOT IN (?)`,
		parentID, keep)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// ListPlaylistMemberIDs returns the playlist's track ids in playback order.
func (s *Store) ListPlaylistMemberIDs(ctx context.Context, playlistID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT track_id FROM playlist_membership
		WHERE playlist_id = ? ORDER BY position, track_id`, playlistID)
	return ids, err
}

// ListArtistIDsForTrack returns the credited artist ids for a track.
func (s *Store) ListArtistIDsForTrack(ctx context.Context, trackID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT artist_id FROM artist_membership
		WHERE track_id = ? ORDER BY artist_id`, trackID)
	return ids, err
}
