package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DownloadStatus represents the local availability of a track's audio file.
type DownloadStatus string

const (
	StatusNotDownloaded DownloadStatus = "NotDownloaded"
	StatusDownloading   DownloadStatus = "Downloading"
	StatusDownloaded    DownloadStatus = "Downloaded"
	StatusFailed        DownloadStatus = "Failed"
)

// ParseDownloadStatus maps a stored string to a status, defaulting to
// NotDownloaded for anything unrecognized (matches what readers of older
// databases expect).
func ParseDownloadStatus(s string) DownloadStatus {
	switch DownloadStatus(s) {
	case StatusDownloading, StatusDownloaded, StatusFailed:
		return DownloadStatus(s)
	default:
		return StatusNotDownloaded
	}
}

// CanTransition reports whether moving from s to next is a legal step of the
// download state machine.
func (s DownloadStatus) CanTransition(next DownloadStatus) bool {
	switch s {
	case StatusNotDownloaded:
		return next == StatusDownloading
	case StatusDownloading:
		return next == StatusDownloaded || next == StatusFailed || next == StatusNotDownloaded
	case StatusDownloaded:
		return next == StatusNotDownloaded
	case StatusFailed:
		return next == StatusDownloading || next == StatusNotDownloaded
	}
	return false
}

// EntityType identifies which cached table a miss counter refers to.
type EntityType string

const (
	EntityArtist   EntityType = "artist"
	EntityAlbum    EntityType = "album"
	EntityTrack    EntityType = "track"
	EntityPlaylist EntityType = "playlist"
)

// Library is one browsable collection on the server. Libraries are created on
// first sighting and never auto-deleted; selected gates search scoping only.
type Library struct {
	ID       string    `json:"Id" db:"id"`
	Name     string    `json:"Name" db:"name"`
	LastSeen time.Time `json:"-" db:"-"`
	Selected bool      `json:"-" db:"-"`
}

// ArtistRef is the embedded artist reference carried by tracks and albums.
type ArtistRef struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}

// ArtistRefs serializes as a JSON array in the artist_items column.
type ArtistRefs []ArtistRef

func (a ArtistRefs) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	return json.Marshal(a)
}

func (a *ArtistRefs) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case nil:
		*a = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ArtistRefs", value)
	}
	if len(data) == 0 || string(data) == "null" {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, a)
}

// IDs returns the referenced artist ids in order.
func (a ArtistRefs) IDs() []string {
	ids := make([]string, 0, len(a))
	for _, ref := range a {
		ids = append(ids, ref.ID)
	}
	return ids
}

// Artist is the server's artist representation. The JSON form is the document
// stored verbatim; playback/display code treats it as canonical.
type Artist struct {
	ID        string            `json:"Id"`
	Name      string            `json:"Name"`
	ImageTags map[string]string `json:"ImageTags,omitempty"`
}

// Album is the server's album representation.
type Album struct {
	ID             string            `json:"Id"`
	Name           string            `json:"Name"`
	ArtistItems    ArtistRefs        `json:"AlbumArtists,omitempty"`
	ProductionYear int               `json:"ProductionYear,omitempty"`
	ImageTags      map[string]string `json:"ImageTags,omitempty"`
}

// Track is the server's song representation plus the locally-maintained
// download_status and disliked fields injected into the document, the same
// way every reader of the document expects to find them.
type Track struct {
	ID                string            `json:"Id"`
	Name              string            `json:"Name"`
	Album             string            `json:"Album,omitempty"`
	AlbumID           string            `json:"AlbumId"`
	AlbumArtist       string            `json:"AlbumArtist,omitempty"`
	ArtistItems       ArtistRefs        `json:"ArtistItems"`
	IndexNumber       int               `json:"IndexNumber,omitempty"`
	ParentIndexNumber int               `json:"ParentIndexNumber,omitempty"`
	ProductionYear    int               `json:"ProductionYear,omitempty"`
	RunTimeTicks      int64             `json:"RunTimeTicks,omitempty"`
	Container         string            `json:"Container,omitempty"`
	ImageTags         map[string]string `json:"ImageTags,omitempty"`

	DownloadStatus DownloadStatus `json:"download_status"`
	Disliked       bool           `json:"disliked,omitempty"`

	// Relational-only fields, not part of the document.
	LibraryID         string     `json:"-"`
	DownloadSizeBytes *int64     `json:"-"`
	DownloadedAt      *time.Time `json:"-"`
	LastPlayed        *time.Time `json:"-"`
	CoverArtID        string     `json:"-"`
}

// HasOwnArt reports whether the track carries its own primary image.
func (t *Track) HasOwnArt() bool {
	return t.ImageTags["Primary"] != ""
}

// Playlist is the server's playlist representation. TrackIDs carries playback
// order as returned by the server.
type Playlist struct {
	ID       string   `json:"Id"`
	Name     string   `json:"Name"`
	TrackIDs []string `json:"TrackIds,omitempty"`
}

// Lyric is one timed lyric line; the lyrics document for a track is a list of
// these.
type Lyric struct {
	Start int64  `json:"Start"`
	Text  string `json:"Text"`
}

// MissingCounter records consecutive sync passes in which a previously-known
// entity was absent from the server's response. Bookkeeping only; carries no
// foreign key because the entity may already be gone.
type MissingCounter struct {
	EntityType       EntityType `db:"entity_type"`
	ID               string     `db:"id"`
	MissingSeenCount int        `db:"missing_seen_count"`
	LastCheckedAt    int64      `db:"last_checked_at"`
}

// SearchResult groups matches from a catalog-wide search.
type SearchResult struct {
	Artists []Artist
	Albums  []Album
	Tracks  []Track
}
