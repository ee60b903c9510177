package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dhonus/jellyfin-tui/internal/domain"
)

// Artists, albums and playlists are stored as full documents keyed by the
// server-issued id; the row never partial-merges, the payload is replaced
// atomically. Upserting an entity is also a sighting, so the batch variants
// clear the miss counter in the same transaction.

func upsertArtistExec(e sqlx.ExtContext, ctx context.Context, artist *domain.Artist) error {
	doc, err := json.Marshal(artist)
	if err != nil {
		return fmt.Errorf("marshal artist %s: %w", artist.ID, err)
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO artists (id, document) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document`,
		artist.ID, string(doc))
	return err
}

func (s *Store) UpsertArtist(ctx context.Context, artist *domain.Artist) error {
	return upsertArtistExec(s.db, ctx, artist)
}

func (s *Store) UpsertArtists(ctx context.Context, artists []*domain.Artist) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, artist := range artists {
		if err := upsertArtistExec(tx, ctx, artist); err != nil {
			return err
		}
		if err := clearMissExec(tx, ctx, domain.EntityArtist, artist.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertAlbumExec(e sqlx.ExtContext, ctx context.Context, libraryID string, album *domain.Album) error {
	doc, err := json.Marshal(album)
	if err != nil {
		return fmt.Errorf("marshal album %s: %w", album.ID, err)
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO albums (id, document, library_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			library_id = excluded.library_id`,
		album.ID, string(doc), nullStr(libraryID))
	return err
}

func (s *Store) UpsertAlbum(ctx context.Context, libraryID string, album *domain.Album) error {
	return upsertAlbumExec(s.db, ctx, libraryID, album)
}

func (s *Store) UpsertAlbums(ctx context.Context, libraryID string, albums []*domain.Album) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, album := range albums {
		if err := upsertAlbumExec(tx, ctx, libraryID, album); err != nil {
			return err
		}
		if err := clearMissExec(tx, ctx, domain.EntityAlbum, album.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertPlaylistExec(e sqlx.ExtContext, ctx context.Context, playlist *domain.Playlist) error {
	doc, err := json.Marshal(playlist)
	if err != nil {
		return fmt.Errorf("marshal playlist %s: %w", playlist.ID, err)
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO playlists (id, document) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document`,
		playlist.ID, string(doc))
	return err
}

func (s *Store) UpsertPlaylist(ctx context.Context, playlist *domain.Playlist) error {
	return upsertPlaylistExec(s.db, ctx, playlist)
}

func (s *Store) UpsertPlaylists(ctx context.Context, playlists []*domain.Playlist) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, playlist := range playlists {
		if err := upsertPlaylistExec(tx, ctx, playlist); err != nil {
			return err
		}
		if err := clearMissExec(tx, ctx, domain.EntityPlaylist, playlist.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetArtist(ctx context.Context, id string) (*domain.Artist, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, `SELECT document FROM artists WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var artist domain.Artist
	if err := json.Unmarshal([]byte(doc), &artist); err != nil {
		return nil, fmt.Errorf("unmarshal artist %s: %w", id, err)
	}
	return &artist, nil
}

func (s *Store) GetAlbum(ctx context.Context, id string) (*domain.Album, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, `SELECT document FROM albums WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var album domain.Album
	if err := json.Unmarshal([]byte(doc), &album); err != nil {
		return nil, fmt.Errorf("unmarshal album %s: %w", id, err)
	}
	return &album, nil
}

func (s *Store) GetPlaylist(ctx context.Context, id string) (*domain.Playlist, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, `SELECT document FROM playlists WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var playlist domain.Playlist
	if err := json.Unmarshal([]byte(doc), &playlist); err != nil {
		return nil, fmt.Errorf("unmarshal playlist %s: %w", id, err)
	}
	return &playlist, nil
}

func (s *Store) ListArtists(ctx context.Context) ([]domain.Artist, error) {
	var docs []string
	if err := s.db.SelectContext(ctx, &docs,
		`SELECT document FROM artists ORDER BY json_extract(document, '$.Name')`); err != nil {
		return nil, err
	}
	artists := make([]domain.Artist, 0, len(docs))
	for _, doc := range docs {
		var artist domain.Artist
		if err := json.Unmarshal([]byte(doc), &artist); err != nil {
			return nil, err
		}
		artists = append(artists, artist)
	}
	return artists, nil
}

func (s *Store) ListAlbums(ctx context.Context) ([]domain.Album, error) {
	var docs []string
	if err := s.db.SelectContext(ctx, &docs,
		`SELECT document FROM albums ORDER BY json_extract(document, '$.Name')`); err != nil {
		return nil, err
	}
	albums := make([]domain.Album, 0, len(docs))
	for _, doc := range docs {
		var album domain.Album
		if err := json.Unmarshal([]byte(doc), &album); err != nil {
			return nil, err
		}
		albums = append(albums, album)
	}
	return albums, nil
}

func (s *Store) ListPlaylists(ctx context.Context) ([]domain.Playlist, error) {
	var docs []string
	if err := s.db.SelectContext(ctx, &docs,
		`SELECT document FROM playlists ORDER BY json_extract(document, '$.Name')`); err != nil {
		return nil, err
	}
	playlists := make([]domain.Playlist, 0, len(docs))
	for _, doc := range docs {
		var playlist domain.Playlist
		if err := json.Unmarshal([]byte(doc), &playlist); err != nil {
			return nil, err
		}
		playlists = append(playlists, playlist)
	}
	return playlists, nil
}

// Known-id listings drive stale detection: everything the cache knows, by
// type, to diff against a pass's fetch results.

// ListArtistIDsByLibrary returns ids of artists linked to the library through
// its albums or tracks. Artist rows are server-global, so stale detection
// diffs each library's fetch only against the artists that library actually
// references; otherwise an artist exclusive to library B would accrue misses
// from every pass of library A.
func (s *Store) ListArtistIDsByLibrary(ctx context.Context, libraryID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
		SELECT aa.artist_id FROM album_artists aa
		JOIN albums al ON al.id = aa.album_id
		WHERE al.library_id = ?
		UNION
		SELECT am.artist_id FROM artist_membership am
		JOIN tracks t ON t.id = am.track_id
		WHERE t.library_id = ?`, libraryID, libraryID)
	return ids, err
}

func (s *Store) ListAlbumIDsByLibrary(ctx context.Context, libraryID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM albums WHERE library_id = ? ORDER BY id`, libraryID)
	return ids, err
}

func (s *Store) ListPlaylistIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `SELECT id FROM playlists ORDER BY id`)
	return ids, err
}

// UpsertLyrics replaces the lyrics document for a track or lyric-set id.
func (s *Store) UpsertLyrics(ctx context.Context, id string, lyrics []domain.Lyric) error {
	doc, err := json.Marshal(lyrics)
	if err != nil {
		return fmt.Errorf("marshal lyrics %s: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lyrics (id, document) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document`,
		id, string(doc))
	return err
}

func (s *Store) GetLyrics(ctx context.Context, id string) ([]domain.Lyric, error) {
	var doc string
	err := s.db.GetContext(ctx, &doc, `SELECT document FROM lyrics WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var lyrics []domain.Lyric
	if err := json.Unmarshal([]byte(doc), &lyrics); err != nil {
		return nil, fmt.Errorf("unmarshal lyrics %s: %w", id, err)
	}
	return lyrics, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
