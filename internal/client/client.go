// Package client is the boundary to the remote media server. The HTTP
// implementation and its authentication live outside this module; the sync
// engine and the download manager only ever see this interface.
package client

import (
	"context"
	"io"

	"github.com/dhonus/jellyfin-tui/internal/domain"
)

// Client fetches the authoritative catalog. Every method is fallible with a
// transport-level error; the reconciliation engine treats any failure as
// "abandon this pass, keep cache as-is".
type Client interface {
	FetchLibraries(ctx context.Context) ([]domain.Library, error)
	FetchArtists(ctx context.Context, libraryID string) ([]*domain.Artist, error)
	FetchAlbums(ctx context.Context, libraryID string) ([]*domain.Album, error)
	FetchTracks(ctx context.Context, libraryID string) ([]*domain.Track, error)
	FetchPlaylists(ctx context.Context) ([]*domain.Playlist, error)
	FetchLyrics(ctx context.Context, trackID string) ([]domain.Lyric, error)

	// FetchImage returns the primary image bytes for an item (track, album
	// or artist id, whichever the cover art resolution picked).
	FetchImage(ctx context.Context, itemID string) ([]byte, error)

	// StreamTrack opens the audio stream for a track download.
	StreamTrack(ctx context.Context, trackID string) (io.ReadCloser, error)
}
