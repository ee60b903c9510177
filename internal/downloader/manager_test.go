package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhonus/jellyfin-tui/internal/client"
	"github.com/dhonus/jellyfin-tui/internal/domain"
	"github.com/dhonus/jellyfin-tui/internal/filesystem"
	"github.com/dhonus/jellyfin-tui/internal/logger"
	"github.com/dhonus/jellyfin-tui/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *client.Mock, *store.Store, *filesystem.Layout) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	if err := st.UpsertLibrary(ctx, domain.Library{ID: "lib-1", Name: "Music"}, time.Now()); err != nil {
		t.Fatalf("UpsertLibrary failed: %v", err)
	}
	if err := st.UpsertAlbum(ctx, "lib-1", &domain.Album{ID: "album-1", Name: "An Album"}); err != nil {
		t.Fatalf("UpsertAlbum failed: %v", err)
	}
	track := &domain.Track{
		ID:        "track-1",
		Name:      "A Song",
		AlbumID:   "album-1",
		Container: "mp3",
	}
	if err := st.UpsertTrack(ctx, "lib-1", track, false); err != nil {
		t.Fatalf("UpsertTrack failed: %v", err)
	}

	mock := client.NewMock()
	layout := filesystem.NewLayout(filepath.Join(dir, "downloads"))
	mgr := NewManager(st, mock, layout, logger.Default(), false)
	return mgr, mock, st, layout
}

// drainOne pops the queued track and runs the worker step synchronously.
func drainOne(t *testing.T, mgr *Manager) {
	t.Helper()
	select {
	case trackID := <-mgr.queue:
		mgr.process(context.Background(), trackID)
	default:
		t.Fatal("Expected a queued download")
	}
}

func TestDownloadCompletes(t *testing.T) {
	mgr, _, st, layout := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Enqueue(ctx, "track-1"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	status, err := st.GetDownloadStatus(ctx, "track-1")
	if err != nil {
		t.Fatalf("GetDownloadStatus failed: %v", err)
	}
	if status != domain.StatusDownloading {
		t.Fatalf("Expected Downloading after enqueue, got %s", status)
	}

	drainOne(t, mgr)

	track, err := st.GetTrack(ctx, "track-1")
	if err != nil {
		t.Fatalf("GetTrack failed: %v", err)
	}
	if track.DownloadStatus != domain.StatusDownloaded {
		t.Fatalf("Expected Downloaded, got %s", track.DownloadStatus)
	}
	if track.DownloadSizeBytes == nil || *track.DownloadSizeBytes == 0 {
		t.Error("Expected recorded download size")
	}
	if track.DownloadedAt == nil {
		t.Error("Expected recorded download time")
	}

	path := layout.TrackPath("album-1", "track-1", "mp3")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected audio file at %s: %v", path, err)
	}
}

func TestEnqueueInvalidTransition(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Enqueue(ctx, "track-1"); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}
	err := mgr.Enqueue(ctx, "track-1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for double enqueue, got %v", err)
	}
}

func TestEnqueueUnknownTrack(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	err := mgr.Enqueue(context.Background(), "no-such-track")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFailedDownloadCanRetry(t *testing.T) {
	mgr, mock, st, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Enqueue(ctx, "track-1"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	mock.SetErr(errors.New("stream unavailable"))
	drainOne(t, mgr)

	status, err := st.GetDownloadStatus(ctx, "track-1")
	if err != nil {
		t.Fatalf("GetDownloadStatus failed: %v", err)
	}
	if status != domain.StatusFailed {
		t.Fatalf("Expected Failed after stream error, got %s", status)
	}

	// Failed -> Downloading is a legal retry.
	mock.SetErr(nil)
	if err := mgr.Enqueue(ctx, "track-1"); err != nil {
		t.Fatalf("retry Enqueue failed: %v", err)
	}
	drainOne(t, mgr)
	status, err = st.GetDownloadStatus(ctx, "track-1")
	if err != nil {
		t.Fatalf("GetDownloadStatus failed: %v", err)
	}
	if status != domain.StatusDownloaded {
		t.Errorf("Expected Downloaded after retry, got %s", status)
	}
}

func TestDeleteRemovesFileAndResetsStatus(t *testing.T) {
	mgr, _, st, layout := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Enqueue(ctx, "track-1"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	drainOne(t, mgr)

	if err := mgr.Delete(ctx, "track-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	track, err := st.GetTrack(ctx, "track-1")
	if err != nil {
		t.Fatalf("GetTrack failed: %v", err)
	}
	if track.DownloadStatus != domain.StatusNotDownloaded {
		t.Errorf("Expected NotDownloaded after delete, got %s", track.DownloadStatus)
	}
	if track.DownloadSizeBytes != nil {
		t.Error("Expected download size cleared after delete")
	}

	path := layout.TrackPath("album-1", "track-1", "mp3")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected audio file removed, stat err: %v", err)
	}
}

func TestDeleteNotDownloadedIsInvalid(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	err := mgr.Delete(context.Background(), "track-1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestDeleteDuringTransferDiscardsFile(t *testing.T) {
	mgr, _, st, layout := newTestManager(t)
	ctx := context.Background()

	if err := mgr.Enqueue(ctx, "track-1"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	// The user deletes while the transfer is queued; the worker must notice
	// and never leave a file or flip the status back to Downloaded.
	if err := mgr.Delete(ctx, "track-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	drainOne(t, mgr)

	status, err := st.GetDownloadStatus(ctx, "track-1")
	if err != nil {
		t.Fatalf("GetDownloadStatus failed: %v", err)
	}
	if status != domain.StatusNotDownloaded {
		t.Errorf("Expected NotDownloaded to stick, got %s", status)
	}
	path := layout.TrackPath("album-1", "track-1", "mp3")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected no audio file, stat err: %v", err)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := []struct {
		container string
		want      string
	}{
		{"mp3", ".mp3"},
		{"flac", ".flac"},
		{"mp3,mpeg", ".mp3"},
		{"FLAC", ".flac"},
		{"m4a", ".m4a"},
		{"ogg", ".ogg"},
		{"", ".mp3"},
	}
	for _, tc := range cases {
		track := &domain.Track{Container: tc.container}
		if got := extensionFor(track); got != tc.want {
			t.Errorf("extensionFor(%q) = %q, want %q", tc.container, got, tc.want)
		}
	}
}
