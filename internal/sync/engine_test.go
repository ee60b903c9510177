package sync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dhonus/jellyfin-tui/internal/client"
	"github.com/dhonus/jellyfin-tui/internal/domain"
	"github.com/dhonus/jellyfin-tui/internal/logger"
	"github.com/dhonus/jellyfin-tui/internal/store"
)

type fakeRemover struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (f *fakeRemover) RemoveTrackFile(albumID, trackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, trackID)
	return nil
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *client.Mock, *store.Store, *fakeRemover) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	mock := client.NewMock()
	remover := &fakeRemover{}
	engine := New(st, mock, remover, logger.Default(), opts)
	return engine, mock, st, remover
}

func seedCatalog(mock *client.Mock) {
	mock.Libraries = []domain.Library{{ID: "lib-1", Name: "Music"}}
	mock.ArtistsByLibrary["lib-1"] = []*domain.Artist{
		{ID: "artist-1", Name: "The Testers"},
	}
	mock.AlbumsByLibrary["lib-1"] = []*domain.Album{
		{ID: "album-1", Name: "First Album", ArtistItems: domain.ArtistRefs{{ID: "artist-1", Name: "The Testers"}}},
	}
	mock.TracksByLibrary["lib-1"] = []*domain.Track{
		{
			ID:          "track-1",
			Name:        "Opener",
			AlbumID:     "album-1",
			ArtistItems: domain.ArtistRefs{{ID: "artist-1", Name: "The Testers"}},
			IndexNumber: 1,
		},
		{
			ID:          "track-2",
			Name:        "Closer",
			AlbumID:     "album-1",
			ArtistItems: domain.ArtistRefs{{ID: "artist-1", Name: "The Testers"}},
			IndexNumber: 2,
		},
	}
	mock.Playlists = []*domain.Playlist{
		{ID: "playlist-1", Name: "Favorites", TrackIDs: []string{"track-2", "track-1"}},
	}
}

func seedSecondLibrary(mock *client.Mock) {
	mock.Libraries = append(mock.Libraries, domain.Library{ID: "lib-2", Name: "Vinyl Rips"})
	mock.ArtistsByLibrary["lib-2"] = []*domain.Artist{
		{ID: "artist-2", Name: "Side Project"},
	}
	mock.AlbumsByLibrary["lib-2"] = []*domain.Album{
		{ID: "album-2", Name: "Second Album", ArtistItems: domain.ArtistRefs{{ID: "artist-2", Name: "Side Project"}}},
	}
	mock.TracksByLibrary["lib-2"] = []*domain.Track{
		{
			ID:          "track-3",
			Name:        "B Side",
			AlbumID:     "album-2",
			ArtistItems: domain.ArtistRefs{{ID: "artist-2", Name: "Side Project"}},
			IndexNumber: 1,
		},
	}
}

func TestSyncAllPopulatesCache(t *testing.T) {
	engine, mock, st, _ := newTestEngine(t, Options{})
	seedCatalog(mock)
	ctx := context.Background()

	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}

	libs, err := st.ListLibraries(ctx)
	if err != nil {
		t.Fatalf("ListLibraries failed: %v", err)
	}
	if len(libs) != 1 || libs[0].ID != "lib-1" {
		t.Fatalf("Expected one library lib-1, got %+v", libs)
	}
	if !libs[0].Selected {
		t.Error("Expected newly discovered library to be selected")
	}

	track, err := st.GetTrack(ctx, "track-1")
	if err != nil {
		t.Fatalf("GetTrack failed: %v", err)
	}
	if track.Name != "Opener" {
		t.Errorf("Expected track name Opener, got %s", track.Name)
	}
	if track.DownloadStatus != domain.StatusNotDownloaded {
		t.Errorf("Expected NotDownloaded for fresh track, got %s", track.DownloadStatus)
	}

	// Playlist order comes from the server's TrackIDs order, not insert order.
	members, err := st.ListPlaylistMemberIDs(ctx, "playlist-1")
	if err != nil {
		t.Fatalf("ListPlaylistMemberIDs failed: %v", err)
	}
	if len(members) != 2 || members[0] != "track-2" || members[1] != "track-1" {
		t.Errorf("Expected playlist order [track-2 track-1], got %v", members)
	}

	artistTracks, err := st.ListTracksByArtist(ctx, "artist-1")
	if err != nil {
		t.Fatalf("ListTracksByArtist failed: %v", err)
	}
	if len(artistTracks) != 2 {
		t.Errorf("Expected 2 tracks for artist, got %d", len(artistTracks))
	}
}

func TestSyncAllTransientFailureLeavesCacheUntouched(t *testing.T) {
	engine, mock, st, _ := newTestEngine(t, Options{})
	seedCatalog(mock)
	ctx := context.Background()

	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("initial SyncAll failed: %v", err)
	}

	mock.SetErr(errors.New("connection refused"))
	err := engine.SyncAll(ctx)
	if !errors.Is(err, domain.ErrTransientFetch) {
		t.Fatalf("Expected ErrTransientFetch, got %v", err)
	}

	// Nothing was miss-counted and nothing disappeared.
	if _, err := st.GetTrack(ctx, "track-1"); err != nil {
		t.Errorf("Expected track-1 to survive failed pass: %v", err)
	}
	count, err := st.GetMissCount(ctx, domain.EntityTrack, "track-1")
	if err != nil {
		t.Fatalf("GetMissCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no misses after failed fetch, got %d", count)
	}
}

func TestLibraryFetchFailureLeavesThatLibraryUntouched(t *testing.T) {
	engine, mock, st, _ := newTestEngine(t, Options{})
	seedCatalog(mock)
	seedSecondLibrary(mock)
	ctx := context.Background()

	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("initial SyncAll failed: %v", err)
	}

	// lib-1 loses a track while lib-2's tracks endpoint starts failing
	// mid-pass, after its artists and albums already fetched fine.
	mock.TracksByLibrary["lib-1"] = mock.TracksByLibrary["lib-1"][:1]
	mock.Playlists[0].TrackIDs = []string{"track-1"}
	mock.SetCallErr("tracks/lib-2", errors.New("gateway timeout"))

	err := engine.SyncAll(ctx)
	if !errors.Is(err, domain.ErrTransientFetch) {
		t.Fatalf("Expected ErrTransientFetch, got %v", err)
	}

	// The abandoned pass left lib-2's entities and counters untouched.
	if _, err := st.GetTrack(ctx, "track-3"); err != nil {
		t.Errorf("Expected lib-2 track to survive the failed pass: %v", err)
	}
	checks := []struct {
		entity domain.EntityType
		id     string
	}{
		{domain.EntityTrack, "track-3"},
		{domain.EntityAlbum, "album-2"},
		{domain.EntityArtist, "artist-2"},
	}
	for _, check := range checks {
		count, err := st.GetMissCount(ctx, check.entity, check.id)
		if err != nil {
			t.Fatalf("GetMissCount failed: %v", err)
		}
		if count != 0 {
			t.Errorf("Expected no misses for %s %s after abandoned pass, got %d",
				check.entity, check.id, count)
		}
	}

	// The healthy library's pass still ran and recorded its miss.
	count, err := st.GetMissCount(ctx, domain.EntityTrack, "track-2")
	if err != nil {
		t.Fatalf("GetMissCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected one miss for track-2 from lib-1's pass, got %d", count)
	}
}

func TestArtistMissesScopedToOwningLibrary(t *testing.T) {
	engine, mock, st, _ := newTestEngine(t, Options{PurgeThreshold: 3})
	seedCatalog(mock)
	seedSecondLibrary(mock)
	ctx := context.Background()

	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("initial SyncAll failed: %v", err)
	}

	// lib-2 becomes unreachable for more cycles than the purge threshold
	// while lib-1 keeps syncing fine. The artist exclusive to lib-2 must
	// not accrue misses from lib-1's passes.
	mock.SetCallErr("artists/lib-2", errors.New("connection reset"))
	for cycle := 0; cycle < 4; cycle++ {
		if err := engine.SyncAll(ctx); !errors.Is(err, domain.ErrTransientFetch) {
			t.Fatalf("cycle %d: expected ErrTransientFetch, got %v", cycle, err)
		}
	}

	if _, err := st.GetArtist(ctx, "artist-2"); err != nil {
		t.Errorf("Expected artist-2 to survive lib-2's outage: %v", err)
	}
	count, err := st.GetMissCount(ctx, domain.EntityArtist, "artist-2")
	if err != nil {
		t.Fatalf("GetMissCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no misses for artist-2, got %d", count)
	}
}

func TestSyncLibraryScopedPass(t *testing.T) {
	engine, mock, st, _ := newTestEngine(t, Options{})
	seedCatalog(mock)
	seedSecondLibrary(mock)
	ctx := context.Background()

	if err := engine.SyncLibrary(ctx, "lib-2"); err != nil {
		t.Fatalf("SyncLibrary failed: %v", err)
	}

	if _, err := st.GetTrack(ctx, "track-3"); err != nil {
		t.Errorf("Expected lib-2 track cached after scoped pass: %v", err)
	}
	if _, err := st.GetTrack(ctx, "track-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected lib-1 untouched by scoped pass, got %v", err)
	}
}

func TestSyncLibraryUnknownID(t *testing.T) {
	engine, mock, _, _ := newTestEngine(t, Options{})
	seedCatalog(mock)

	err := engine.SyncLibrary(context.Background(), "lib-404")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for a library the server does not report, got %v", err)
	}
}

func TestSyncAllFailureEmitsNotification(t *testing.T) {
	engine, mock, _, _ := newTestEngine(t, Options{})
	mock.SetErr(errors.New("boom"))

	_ = engine.SyncAll(context.Background())

	select {
	case n := <-engine.Notifications():
		if n.Kind != KindSyncFailed {
			t.Errorf("Expected sync_failed notification, got %s", n.Kind)
		}
		if !errors.Is(n.Err, domain.ErrTransientFetch) {
			t.Errorf("Expected wrapped ErrTransientFetch, got %v", n.Err)
		}
	default:
		t.Fatal("Expected a notification after failed cycle")
	}
}

func TestPurgeAfterThresholdMisses(t *testing.T) {
	engine, mock, st, _ := newTestEngine(t, Options{PurgeThreshold: 3})
	seedCatalog(mock)
	ctx := context.Background()

	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}

	// track-2 vanishes from the server.
	mock.TracksByLibrary["lib-1"] = mock.TracksByLibrary["lib-1"][:1]
	mock.Playlists[0].TrackIDs = []string{"track-1"}

	for pass := 1; pass <= 2; pass++ {
		if err := engine.SyncAll(ctx); err != nil {
			t.Fatalf("pass %d failed: %v", pass, err)
		}
		if _, err := st.GetTrack(ctx, "track-2"); err != nil {
			t.Fatalf("Expected track-2 to survive pass %d: %v", pass, err)
		}
		count, err := st.GetMissCount(ctx, domain.EntityTrack, "track-2")
		if err != nil {
			t.Fatalf("GetMissCount failed: %v", err)
		}
		if count != pass {
			t.Errorf("Expected miss count %d after pass %d, got %d", pass, pass, count)
		}
	}

	// Third consecutive miss reaches the threshold.
	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("third pass failed: %v", err)
	}
	if _, err := st.GetTrack(ctx, "track-2"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected track-2 purged after third miss, got %v", err)
	}
	count, err := st.GetMissCount(ctx, domain.EntityTrack, "track-2")
	if err != nil {
		t.Fatalf("GetMissCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected counter removed with the entity, got %d", count)
	}
}

func TestSightingResetsMissCounter(t *testing.T) {
	engine, mock, st, _ := newTestEngine(t, Options{PurgeThreshold: 3})
	seedCatalog(mock)
	ctx := context.Background()

	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}

	all := mock.TracksByLibrary["lib-1"]
	mock.TracksByLibrary["lib-1"] = all[:1]

	for pass := 0; pass < 2; pass++ {
		if err := engine.SyncAll(ctx); err != nil {
			t.Fatalf("miss pass failed: %v", err)
		}
	}

	// Reappears before the threshold; counter must vanish entirely.
	mock.TracksByLibrary["lib-1"] = all
	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("sighting pass failed: %v", err)
	}
	count, err := st.GetMissCount(ctx, domain.EntityTrack, "track-2")
	if err != nil {
		t.Fatalf("GetMissCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected counter reset on sighting, got %d", count)
	}

	// Two more misses are again below the threshold.
	mock.TracksByLibrary["lib-1"] = all[:1]
	for pass := 0; pass < 2; pass++ {
		if err := engine.SyncAll(ctx); err != nil {
			t.Fatalf("post-reset pass failed: %v", err)
		}
	}
	if _, err := st.GetTrack(ctx, "track-2"); err != nil {
		t.Errorf("Expected track-2 alive two misses after reset: %v", err)
	}
}

func TestResyncPreservesLocalTrackState(t *testing.T) {
	engine, mock, st, _ := newTestEngine(t, Options{})
	seedCatalog(mock)
	ctx := context.Background()

	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}

	size := int64(4096)
	at := time.Now()
	if err := st.SetDownloadStatus(ctx, "track-1", domain.StatusDownloading, nil, nil); err != nil {
		t.Fatalf("SetDownloadStatus failed: %v", err)
	}
	if err := st.SetDownloadStatus(ctx, "track-1", domain.StatusDownloaded, &size, &at); err != nil {
		t.Fatalf("SetDownloadStatus failed: %v", err)
	}
	if err := st.SetDisliked(ctx, "track-1", true); err != nil {
		t.Fatalf("SetDisliked failed: %v", err)
	}

	// Server renames the track; the refreshed document must keep local state.
	mock.TracksByLibrary["lib-1"][0].Name = "Opener (Remastered)"
	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("second SyncAll failed: %v", err)
	}

	track, err := st.GetTrack(ctx, "track-1")
	if err != nil {
		t.Fatalf("GetTrack failed: %v", err)
	}
	if track.Name != "Opener (Remastered)" {
		t.Errorf("Expected refreshed name, got %s", track.Name)
	}
	if track.DownloadStatus != domain.StatusDownloaded {
		t.Errorf("Expected Downloaded to survive resync, got %s", track.DownloadStatus)
	}
	if !track.Disliked {
		t.Error("Expected disliked flag to survive resync")
	}
	if track.DownloadSizeBytes == nil || *track.DownloadSizeBytes != size {
		t.Errorf("Expected download size %d to survive resync, got %v", size, track.DownloadSizeBytes)
	}
}

func TestPurgedDownloadedTrackRemovesFile(t *testing.T) {
	engine, mock, st, remover := newTestEngine(t, Options{PurgeThreshold: 2})
	seedCatalog(mock)
	ctx := context.Background()

	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if err := st.SetDownloadStatus(ctx, "track-2", domain.StatusDownloading, nil, nil); err != nil {
		t.Fatalf("SetDownloadStatus failed: %v", err)
	}
	size := int64(100)
	at := time.Now()
	if err := st.SetDownloadStatus(ctx, "track-2", domain.StatusDownloaded, &size, &at); err != nil {
		t.Fatalf("SetDownloadStatus failed: %v", err)
	}

	mock.TracksByLibrary["lib-1"] = mock.TracksByLibrary["lib-1"][:1]
	mock.Playlists[0].TrackIDs = []string{"track-1"}
	for pass := 0; pass < 2; pass++ {
		if err := engine.SyncAll(ctx); err != nil {
			t.Fatalf("pass failed: %v", err)
		}
	}

	remover.mu.Lock()
	defer remover.mu.Unlock()
	if len(remover.removed) != 1 || remover.removed[0] != "track-2" {
		t.Errorf("Expected local file removal for track-2, got %v", remover.removed)
	}
}

func TestOfflineSkipsSync(t *testing.T) {
	engine, mock, st, _ := newTestEngine(t, Options{Offline: true})
	seedCatalog(mock)
	ctx := context.Background()

	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	libs, err := st.ListLibraries(ctx)
	if err != nil {
		t.Fatalf("ListLibraries failed: %v", err)
	}
	if len(libs) != 0 {
		t.Errorf("Expected no fetches while offline, got %d libraries", len(libs))
	}

	engine.SetOffline(false)
	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll after going online failed: %v", err)
	}
	libs, err = st.ListLibraries(ctx)
	if err != nil {
		t.Fatalf("ListLibraries failed: %v", err)
	}
	if len(libs) != 1 {
		t.Errorf("Expected sync to run after going online, got %d libraries", len(libs))
	}
}

func TestMembershipRemovedWhenArtistDropped(t *testing.T) {
	engine, mock, st, _ := newTestEngine(t, Options{})
	seedCatalog(mock)
	mock.ArtistsByLibrary["lib-1"] = append(mock.ArtistsByLibrary["lib-1"],
		&domain.Artist{ID: "artist-2", Name: "Guest"})
	mock.TracksByLibrary["lib-1"][0].ArtistItems = domain.ArtistRefs{
		{ID: "artist-1", Name: "The Testers"},
		{ID: "artist-2", Name: "Guest"},
	}
	ctx := context.Background()

	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	artists, err := st.ListArtistIDsForTrack(ctx, "track-1")
	if err != nil {
		t.Fatalf("ListArtistIDsForTrack failed: %v", err)
	}
	if len(artists) != 2 {
		t.Fatalf("Expected 2 artists on track-1, got %v", artists)
	}

	// Server drops the guest credit from the track.
	mock.TracksByLibrary["lib-1"][0].ArtistItems = domain.ArtistRefs{
		{ID: "artist-1", Name: "The Testers"},
	}
	if err := engine.SyncAll(ctx); err != nil {
		t.Fatalf("second SyncAll failed: %v", err)
	}
	artists, err = st.ListArtistIDsForTrack(ctx, "track-1")
	if err != nil {
		t.Fatalf("ListArtistIDsForTrack failed: %v", err)
	}
	if len(artists) != 1 || artists[0] != "artist-1" {
		t.Errorf("Expected only artist-1 after credit removed, got %v", artists)
	}
}

func TestTriggerCoalesces(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, Options{})

	engine.TriggerResync("lib-1")
	engine.TriggerResync("lib-2")
	engine.TriggerResync("")

	// Only the first trigger is queued; the rest were no-ops.
	select {
	case got := <-engine.trigger:
		if got != "lib-1" {
			t.Errorf("Expected first queued trigger lib-1, got %q", got)
		}
	default:
		t.Fatal("Expected one queued trigger")
	}
	select {
	case got := <-engine.trigger:
		t.Errorf("Expected coalesced triggers to be dropped, got %q", got)
	default:
	}
}
