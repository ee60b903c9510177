package client

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/dhonus/jellyfin-tui/internal/domain"
)

// Mock is an in-memory Client for tests and offline development. Mutate the
// catalog fields between sync passes to simulate server-side changes; set Err
// to make every fetch fail with it.
type Mock struct {
	mu sync.Mutex

	Libraries        []domain.Library
	ArtistsByLibrary map[string][]*domain.Artist
	AlbumsByLibrary  map[string][]*domain.Album
	TracksByLibrary  map[string][]*domain.Track
	Playlists        []*domain.Playlist
	LyricsByTrack    map[string][]domain.Lyric

	Err error

	// ErrByCall fails one endpoint while the rest of the catalog stays
	// reachable, simulating a partially unavailable server. Keys:
	// "libraries", "playlists", "artists/<libraryID>", "albums/<libraryID>",
	// "tracks/<libraryID>".
	ErrByCall map[string]error

	StreamContent string
	ImageContent  []byte
}

func NewMock() *Mock {
	return &Mock{
		ArtistsByLibrary: make(map[string][]*domain.Artist),
		AlbumsByLibrary:  make(map[string][]*domain.Album),
		TracksByLibrary:  make(map[string][]*domain.Track),
		LyricsByTrack:    make(map[string][]domain.Lyric),
		ErrByCall:        make(map[string]error),
		StreamContent:    "mock audio content",
	}
}

// callErr must be called with mu held.
func (m *Mock) callErr(key string) error {
	if m.Err != nil {
		return m.Err
	}
	return m.ErrByCall[key]
}

var _ Client = (*Mock)(nil)

func (m *Mock) FetchLibraries(ctx context.Context) ([]domain.Library, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.callErr("libraries"); err != nil {
		return nil, err
	}
	return append([]domain.Library(nil), m.Libraries...), nil
}

func (m *Mock) FetchArtists(ctx context.Context, libraryID string) ([]*domain.Artist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.callErr("artists/" + libraryID); err != nil {
		return nil, err
	}
	return append([]*domain.Artist(nil), m.ArtistsByLibrary[libraryID]...), nil
}

func (m *Mock) FetchAlbums(ctx context.Context, libraryID string) ([]*domain.Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.callErr("albums/" + libraryID); err != nil {
		return nil, err
	}
	return append([]*domain.Album(nil), m.AlbumsByLibrary[libraryID]...), nil
}

func (m *Mock) FetchTracks(ctx context.Context, libraryID string) ([]*domain.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.callErr("tracks/" + libraryID); err != nil {
		return nil, err
	}
	return append([]*domain.Track(nil), m.TracksByLibrary[libraryID]...), nil
}

func (m *Mock) FetchPlaylists(ctx context.Context) ([]*domain.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.callErr("playlists"); err != nil {
		return nil, err
	}
	return append([]*domain.Playlist(nil), m.Playlists...), nil
}

func (m *Mock) FetchLyrics(ctx context.Context, trackID string) ([]domain.Lyric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]domain.Lyric(nil), m.LyricsByTrack[trackID]...), nil
}

func (m *Mock) FetchImage(ctx context.Context, itemID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]byte(nil), m.ImageContent...), nil
}

func (m *Mock) StreamTrack(ctx context.Context, trackID string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return io.NopCloser(strings.NewReader(m.StreamContent)), nil
}

// SetErr injects or clears a transport failure for subsequent calls.
func (m *Mock) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = err
}

// SetCallErr injects or clears a failure for a single endpoint; see ErrByCall
// for the key format.
func (m *Mock) SetCallErr(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.ErrByCall, key)
		return
	}
	m.ErrByCall[key] = err
}
