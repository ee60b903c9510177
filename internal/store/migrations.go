package store

// trackStatusTrigger keeps the download_status embedded in the track document
// equal to the relational column. Every reader may consult either field, so
// the two must never diverge. Declared as a const because table rebuilds drop
// attached triggers and the migrator has to re-declare it.
const trackStatusTrigger = `
CREATE TRIGGER update_json_download_status
AFTER UPDATE OF download_status ON tracks
FOR EACH ROW
BEGIN
	UPDATE tracks
	SET document = json_set(document, '$.download_status', NEW.download_status)
	WHERE id = NEW.id;
END;`

// revisions is the full schema history, forward-only. Each revision runs in
// its own transaction and is recorded in schema_version; there are no down
// migrations. Revisions that rebuild a table must re-declare every trigger
// and index that depended on it.
var revisions = []revision{
	{
		ID:   1,
		Name: "base tables",
		Statements: []string{
			`CREATE TABLE tracks (
				id TEXT PRIMARY KEY,
				album_id TEXT NOT NULL,
				artist_items TEXT NOT NULL,
				download_status TEXT NOT NULL DEFAULT 'NotDownloaded',
				document TEXT NOT NULL
			);`,
			trackStatusTrigger,
			`CREATE TABLE artists (
				id TEXT PRIMARY KEY,
				document TEXT NOT NULL
			);`,
			`CREATE TABLE albums (
				id TEXT PRIMARY KEY,
				document TEXT NOT NULL
			);`,
			`CREATE TABLE playlists (
				id TEXT PRIMARY KEY,
				document TEXT NOT NULL
			);`,
			`CREATE TABLE lyrics (
				id TEXT PRIMARY KEY,
				document TEXT NOT NULL
			);`,
			`CREATE TABLE artist_membership (
				artist_id TEXT NOT NULL,
				track_id TEXT NOT NULL,
				PRIMARY KEY (artist_id, track_id)
			);`,
			`CREATE TABLE playlist_membership (
				playlist_id TEXT NOT NULL,
				track_id TEXT NOT NULL,
				PRIMARY KEY (playlist_id, track_id)
			);`,
		},
	},
	{
		ID:   2,
		Name: "library scoping",
		Statements: []string{
			`CREATE TABLE libraries (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				last_seen INTEGER NOT NULL DEFAULT 0,
				selected INTEGER NOT NULL DEFAULT 1
			);`,
			`ALTER TABLE albums ADD COLUMN library_id TEXT;`,
			`ALTER TABLE tracks ADD COLUMN library_id TEXT;`,
		},
	},
	{
		ID:   3,
		Name: "track download metadata",
		Statements: []string{
			`ALTER TABLE tracks ADD COLUMN download_size_bytes INTEGER;`,
			`ALTER TABLE tracks ADD COLUMN downloaded_at INTEGER;`,
			`ALTER TABLE tracks ADD COLUMN last_played INTEGER;`,
		},
	},
	{
		ID:   4,
		Name: "miss counters and album artists",
		Statements: []string{
			`CREATE TABLE missing_counters (
				entity_type TEXT NOT NULL,
				id TEXT NOT NULL,
				missing_seen_count INTEGER NOT NULL DEFAULT 1,
				last_checked_at INTEGER NOT NULL,
				PRIMARY KEY (entity_type, id)
			);`,
			`CREATE TABLE album_artists (
				album_id TEXT NOT NULL,
				artist_id TEXT NOT NULL,
				PRIMARY KEY (album_id, artist_id)
			);`,
		},
	},
	{
		ID:   5,
		Name: "playlist ordering",
		Statements: []string{
			`ALTER TABLE playlist_membership ADD COLUMN position INTEGER NOT NULL DEFAULT 0;`,
		},
	},
	{
		// The NOT NULL default, the status CHECK and the library foreign key
		// are not expressible via ALTER on an existing table, so this is a
		// copy-rebuild. Dropping the old table silently drops the
		// download-status trigger and the indexes; both are re-declared below.
		ID:   6,
		Name: "tracks rebuild: disliked, cover art, status check",
		Statements: []string{
			`CREATE TABLE tracks_new (
				id TEXT PRIMARY KEY,
				album_id TEXT NOT NULL,
				artist_items TEXT NOT NULL,
				download_status TEXT NOT NULL DEFAULT 'NotDownloaded'
					CHECK (download_status IN ('NotDownloaded','Downloading','Downloaded','Failed')),
				document TEXT NOT NULL,
				library_id TEXT REFERENCES libraries(id) ON DELETE SET NULL,
				download_size_bytes INTEGER,
				downloaded_at INTEGER,
				last_played INTEGER,
				disliked INTEGER NOT NULL DEFAULT 0,
				cover_art_id TEXT
			);`,
			// Databases written before the CHECK existed may carry the legacy
			// 'Queued' status; fold anything unknown back to NotDownloaded.
			`INSERT INTO tracks_new (id, album_id, artist_items, download_status, document,
				library_id, download_size_bytes, downloaded_at, last_played)
			SELECT id, album_id, artist_items,
				CASE WHEN download_status IN ('NotDownloaded','Downloading','Downloaded','Failed')
					THEN download_status ELSE 'NotDownloaded' END,
				document, library_id, download_size_bytes, downloaded_at, last_played
			FROM tracks;`,
			`DROP TABLE tracks;`,
			`ALTER TABLE tracks_new RENAME TO tracks;`,
			trackStatusTrigger,
			`CREATE INDEX idx_tracks_album ON tracks(album_id);`,
			`CREATE INDEX idx_tracks_library ON tracks(library_id);`,
			`CREATE INDEX idx_tracks_status ON tracks(download_status);`,
		},
	},
	{
		// Same copy-rebuild pattern to attach cascading foreign keys to the
		// join tables. Rows orphaned by earlier versions are not copied.
		ID:   7,
		Name: "membership rebuild: foreign keys",
		Statements: []string{
			`CREATE TABLE artist_membership_new (
				artist_id TEXT NOT NULL REFERENCES artists(id) ON DELETE CASCADE,
				track_id TEXT NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
				PRIMARY KEY (artist_id, track_id)
			);`,
			`INSERT INTO artist_membership_new (artist_id, track_id)
			SELECT artist_id, track_id FROM artist_membership
			WHERE artist_id IN (SELECT id FROM artists)
			  AND track_id IN (SELECT id FROM tracks);`,
			`DROP TABLE artist_membership;`,
			`ALTER TABLE artist_membership_new RENAME TO artist_membership;`,
			`CREATE INDEX idx_artist_membership_track ON artist_membership(track_id);`,
			`CREATE TABLE playlist_membership_new (
				playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
				track_id TEXT NOT NULL REFERENCES tracks(id) ON DELETE CASCADE,
				position INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (playlist_id, track_id)
			);`,
			`INSERT INTO playlist_membership_new (playlist_id, track_id, position)
			SELECT playlist_id, track_id, position FROM playlist_membership
			WHERE playlist_id IN (SELECT id FROM playlists)
			  AND track_id IN (SELECT id FROM tracks);`,
			`DROP TABLE playlist_membership;`,
			`ALTER TABLE playlist_membership_new RENAME TO playlist_membership;`,
			`CREATE INDEX idx_playlist_membership_track ON playlist_membership(track_id);`,
		},
	},
}
