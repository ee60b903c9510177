package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dhonus/jellyfin-tui/internal/domain"
)

// trackColumns is the ordered list of columns every track query selects.
const trackColumns = `document, download_status, library_id, download_size_bytes,
	downloaded_at, last_played, disliked, cover_art_id`

type trackRow struct {
	Document          string         `db:"document"`
	DownloadStatus    string         `db:"download_status"`
	LibraryID         sql.NullString `db:"library_id"`
	DownloadSizeBytes sql.NullInt64  `db:"download_size_bytes"`
	DownloadedAt      sql.NullInt64  `db:"downloaded_at"`
	LastPlayed        sql.NullInt64  `db:"last_played"`
	Disliked          bool           `db:"disliked"`
	CoverArtID        sql.NullString `db:"cover_art_id"`
}

// toTrack unmarshals the document and overlays the relational columns, so a
// caller sees one coherent representation no matter which field it inspects.
func (r *trackRow) toTrack() (*domain.Track, error) {
	var track domain.Track
	if err := json.Unmarshal([]byte(r.Document), &track); err != nil {
		return nil, fmt.Errorf("unmarshal track document: %w", err)
	}
	track.DownloadStatus = domain.ParseDownloadStatus(r.DownloadStatus)
	track.Disliked = r.Disliked
	track.LibraryID = r.LibraryID.String
	track.CoverArtID = r.CoverArtID.String
	if r.DownloadSizeBytes.Valid {
		size := r.DownloadSizeBytes.Int64
		track.DownloadSizeBytes = &size
	}
	if r.DownloadedAt.Valid {
		at := time.Unix(r.DownloadedAt.Int64, 0)
		track.DownloadedAt = &at
	}
	if r.LastPlayed.Valid {
		at := time.Unix(r.LastPlayed.Int64, 0)
		track.LastPlayed = &at
	}
	return &track, nil
}

// coverArtFor resolves which artwork item backs a track for offline display:
// the track itself when per-track art is configured and present, else the
// parent album, else the first credited artist.
func coverArtFor(t *domain.Track, preferTrackArt bool) string {
	if preferTrackArt && t.HasOwnArt() {
		return t.ID
	}
	if t.AlbumID != "" {
		return t.AlbumID
	}
	if len(t.ArtistItems) > 0 {
		return t.ArtistItems[0].ID
	}
	return ""
}

// upsertTrackExec inserts or refreshes a track from a server payload. The
// document is replaced wholesale, except that local-only state survives: on
// conflict the relational disliked/download_status/size/timestamps/cover art
// columns are left alone and the preserved status and disliked flag are
// re-injected into the fresh document so both views stay equal.
func upsertTrackExec(e sqlx.ExtContext, ctx context.Context, libraryID string, track *domain.Track, preferTrackArt bool) error {
	t := *track
	t.DownloadStatus = domain.StatusNotDownloaded
	t.Disliked = false
	doc, err := json.Marshal(&t)
	if err != nil {
		return fmt.Errorf("marshal track %s: %w", track.ID, err)
	}

	_, err = e.ExecContext(ctx, `
		INSERT INTO tracks (id, album_id, artist_items, download_status, document, library_id, cover_art_id)
		VALUES (?, ?, ?, 'NotDownloaded', ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			album_id = excluded.album_id,
			artist_items = excluded.artist_items,
			library_id = excluded.library_id,
			document = json_set(excluded.document,
				'$.download_status', tracks.download_status,
				'$.disliked', iif(tracks.disliked, json('true'), json('false')))`,
		track.ID, track.AlbumID, track.ArtistItems, string(doc),
		nullStr(libraryID), nullStr(coverArtFor(track, preferTrackArt)))
	return mapConstraintErr(err)
}

func (s *Store) UpsertTrack(ctx context.Context, libraryID string, track *domain.Track, preferTrackArt bool) error {
	return upsertTrackExec(s.db, ctx, libraryID, track, preferTrackArt)
}

// UpsertTracks applies one batch in a single transaction, clearing the miss
// counter of every track sighted.
func (s *Store) UpsertTracks(ctx context.Context, libraryID string, tracks []*domain.Track, preferTrackArt bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, track := range tracks {
		if err := upsertTrackExec(tx, ctx, libraryID, track, preferTrackArt); err != nil {
			return err
		}
		if err := clearMissExec(tx, ctx, domain.EntityTrack, track.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetTrack(ctx context.Context, id string) (*domain.Track, error) {
	var row trackRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+trackColumns+` FROM tracks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toTrack()
}

func (s *Store) selectTracks(ctx context.Context, query string, args ...interface{}) ([]*domain.Track, error) {
	var rows []trackRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	tracks := make([]*domain.Track, 0, len(rows))
	for i := range rows {
		track, err := rows[i].toTrack()
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

func (s *Store) ListTracksByAlbum(ctx context.Context, albumID string) ([]*domain.Track, error) {
	return s.selectTracks(ctx, `
		SELECT `+trackColumns+` FROM tracks WHERE album_id = ?
		ORDER BY json_extract(document, '$.ParentIndexNumber'),
			json_extract(document, '$.IndexNumber')`, albumID)
}

func (s *Store) ListTracksByArtist(ctx context.Context, artistID string) ([]*domain.Track, error) {
	return s.selectTracks(ctx, `
		SELECT `+trackColumns+` FROM tracks t
		JOIN artist_membership am ON t.id = am.track_id
		WHERE am.artist_id = ?
		ORDER BY json_extract(t.document, '$.Album'),
			json_extract(t.document, '$.ParentIndexNumber'),
			json_extract(t.document, '$.IndexNumber')`, artistID)
}

// ListTracksByPlaylist returns tracks in playback order.
func (s *Store) ListTracksByPlaylist(ctx context.Context, playlistID string) ([]*domain.Track, error) {
	return s.selectTracks(ctx, `
		SELECT `+trackColumns+` FROM tracks t
		JOIN playlist_membership pm ON t.id = pm.track_id
		WHERE pm.playlist_id = ?
		ORDER BY pm.position, t.id`, playlistID)
}

func (s *Store) ListTracksByLibrary(ctx context.Context, libraryID string) ([]*domain.Track, error) {
	return s.selectTracks(ctx, `
		SELECT `+trackColumns+` FROM tracks WHERE library_id = ?
		ORDER BY json_extract(document, '$.Album'),
			json_extract(document, '$.ParentIndexNumber'),
			json_extract(document, '$.IndexNumber')`, libraryID)
}

func (s *Store) ListTrackIDsByLibrary(ctx context.Context, libraryID string) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT id FROM tracks WHERE library_id = ? ORDER BY id`, libraryID)
	return ids, err
}

// ListDownloaded returns every track whose audio file is available locally,
// the browsing surface of offline mode.
func (s *Store) ListDownloaded(ctx context.Context) ([]*domain.Track, error) {
	return s.selectTracks(ctx, `
		SELECT `+trackColumns+` FROM tracks WHERE download_status = 'Downloaded'
		ORDER BY json_extract(document, '$.Album'),
			json_extract(document, '$.ParentIndexNumber'),
			json_extract(document, '$.IndexNumber')`)
}

// SetDisliked flips the user's local flag. Mirrored into the document the
// same way favorite toggles are, inside one statement, so offline readers of
// the document agree with the column.
func (s *Store) SetDisliked(ctx context.Context, trackID string, disliked bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracks SET
			disliked = ?,
			document = json_set(document, '$.disliked', iif(?, json('true'), json('false')))
		WHERE id = ?`, disliked, disliked, trackID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) SetLastPlayed(ctx context.Context, trackID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracks SET last_played = ? WHERE id = ?`, at.Unix(), trackID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Search scans the whole catalog for a case-insensitive substring match on
// artist, album and track names. Unpaginated. Tracks and albums belonging to
// an unselected library are excluded (the rows stay cached); the selected set
// is an explicit parameter, never ambient state.
func (s *Store) Search(ctx context.Context, query string, selectedLibraryIDs []string) (*domain.SearchResult, error) {
	pattern := "%" + query + "%"
	result := &domain.SearchResult{}

	var artistDocs []string
	if err := s.db.SelectContext(ctx, &artistDocs, `
		SELECT document FROM artists
		WHERE json_extract(document, '$.Name') LIKE ?
		ORDER BY json_extract(document, '$.Name')`, pattern); err != nil {
		return nil, err
	}
	for _, doc := range artistDocs {
		var artist domain.Artist
		if err := json.Unmarshal([]byte(doc), &artist); err != nil {
			return nil, err
		}
		result.Artists = append(result.Artists, artist)
	}

	albumQuery := `
		SELECT document FROM albums
		WHERE json_extract(document, '$.Name') LIKE ?
		AND (library_id IS NULL` + libraryFilter(selectedLibraryIDs) + `)
		ORDER BY json_extract(document, '$.Name')`
	albumArgs := []interface{}{pattern}
	albumQuery, albumArgs, err := expandLibraryFilter(albumQuery, albumArgs, selectedLibraryIDs)
	if err != nil {
		return nil, err
	}
	var albumDocs []string
	if err := s.db.SelectContext(ctx, &albumDocs, albumQuery, albumArgs...); err != nil {
		return nil, err
	}
	for _, doc := range albumDocs {
		var album domain.Album
		if err := json.Unmarshal([]byte(doc), &album); err != nil {
			return nil, err
		}
		result.Albums = append(result.Albums, album)
	}

	trackQuery := `
		SELECT ` + trackColumns + ` FROM tracks
		WHERE json_extract(document, '$.Name') LIKE ?
		AND (library_id IS NULL` + libraryFilter(selectedLibraryIDs) + `)
		ORDER BY json_extract(document, '$.Name')`
	trackArgs := []interface{}{pattern}
	trackQuery, trackArgs, err = expandLibraryFilter(trackQuery, trackArgs, selectedLibraryIDs)
	if err != nil {
		return nil, err
	}
	tracks, err := s.selectTracks(ctx, trackQuery, trackArgs...)
	if err != nil {
		return nil, err
	}
	for _, track := range tracks {
		result.Tracks = append(result.Tracks, *track)
	}

	return result, nil
}

func libraryFilter(selected []string) string {
	if len(selected) == 0 {
		return ""
	}
	return " OR library_id IN (?)"
}

func expandLibraryFilter(query string, args []interface{}, selected []string) (string, []interface{}, error) {
	if len(selected) == 0 {
		return query, args, nil
	}
	return sqlx.In(query, append(args, selected)...)
}
