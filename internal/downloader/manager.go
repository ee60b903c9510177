// Package downloader owns the track download lifecycle: the persisted state
// machine, the transfer itself and local file cleanup.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dhonus/jellyfin-tui/internal/client"
	"github.com/dhonus/jellyfin-tui/internal/constants"
	"github.com/dhonus/jellyfin-tui/internal/domain"
	"github.com/dhonus/jellyfin-tui/internal/filesystem"
	"github.com/dhonus/jellyfin-tui/internal/logger"
	"github.com/dhonus/jellyfin-tui/internal/store"
	"github.com/dhonus/jellyfin-tui/internal/tagging"
)

var ErrQueueFull = errors.New("download queue is full")

// Manager runs downloads through a queue and a single worker, so transfers
// for one track can never interleave. Every status change goes through
// store.SetDownloadStatus and is validated against the state machine first.
type Manager struct {
	store          *store.Store
	client         client.Client
	layout         *filesystem.Layout
	log            *logger.Logger
	preferTrackArt bool

	queue chan string
	wg    sync.WaitGroup
}

func NewManager(st *store.Store, cl client.Client, layout *filesystem.Layout, log *logger.Logger, preferTrackArt bool) *Manager {
	return &Manager{
		store:          st,
		client:         cl,
		layout:         layout,
		log:            log.WithComponent("downloader"),
		preferTrackArt: preferTrackArt,
		queue:          make(chan string, constants.DownloadQueueSize),
	}
}

// Run starts the worker. Returns after ctx is cancelled and the in-flight
// transfer finished.
func (m *Manager) Run(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case trackID := <-m.queue:
				m.process(ctx, trackID)
			}
		}
	}()
}

func (m *Manager) Wait() {
	m.wg.Wait()
}

// Enqueue validates the transition into Downloading, persists it and queues
// the transfer. The status flips immediately so the UI reflects the pending
// download before the worker picks it up.
func (m *Manager) Enqueue(ctx context.Context, trackID string) error {
	status, err := m.store.GetDownloadStatus(ctx, trackID)
	if err != nil {
		return err
	}
	if !status.CanTransition(domain.StatusDownloading) {
		return fmt.Errorf("%s -> %s: %w", status, domain.StatusDownloading, domain.ErrInvalidTransition)
	}
	if err := m.store.SetDownloadStatus(ctx, trackID, domain.StatusDownloading, nil, nil); err != nil {
		return err
	}

	select {
	case m.queue <- trackID:
		return nil
	default:
		// Roll the status back so the track is not stuck in Downloading
		// with no queued transfer behind it.
		_ = m.store.SetDownloadStatus(ctx, trackID, domain.StatusNotDownloaded, nil, nil)
		return ErrQueueFull
	}
}

// Delete removes the local file and moves the track back to NotDownloaded.
// Legal from Downloaded, Failed and Downloading; deleting from Downloading
// makes the worker discard the finished transfer.
func (m *Manager) Delete(ctx context.Context, trackID string) error {
	track, err := m.store.GetTrack(ctx, trackID)
	if err != nil {
		return err
	}
	if !track.DownloadStatus.CanTransition(domain.StatusNotDownloaded) {
		return fmt.Errorf("%s -> %s: %w", track.DownloadStatus, domain.StatusNotDownloaded, domain.ErrInvalidTransition)
	}
	if err := m.store.SetDownloadStatus(ctx, trackID, domain.StatusNotDownloaded, nil, nil); err != nil {
		return err
	}
	return m.layout.RemoveTrackFiles(track.AlbumID, trackID)
}

// RemoveTrackFile deletes the stored audio for a track. Used by the sync
// engine when a downloaded track gets purged from the cache.
func (m *Manager) RemoveTrackFile(albumID, trackID string) error {
	return m.layout.RemoveTrackFiles(albumID, trackID)
}

func (m *Manager) process(ctx context.Context, trackID string) {
	log := m.log.WithTrack(trackID)

	track, err := m.store.GetTrack(ctx, trackID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug("track purged while queued")
		return
	}
	if err != nil {
		log.Warn("reading track failed", "error", err)
		return
	}
	if track.DownloadStatus != domain.StatusDownloading {
		log.Debug("download cancelled while queued", "status", track.DownloadStatus)
		return
	}

	size, finalPath, err := m.transfer(ctx, track)
	if err != nil {
		log.Warn("download failed", "error", err)
		if err := m.store.SetDownloadStatus(ctx, trackID, domain.StatusFailed, nil, nil); err != nil {
			log.Warn("marking track failed failed", "error", err)
		}
		return
	}

	m.tagFile(ctx, track, finalPath, log)

	// A delete may have raced the transfer; the persisted status wins and
	// the fresh file is thrown away.
	status, err := m.store.GetDownloadStatus(ctx, trackID)
	if err != nil || status != domain.StatusDownloading {
		log.Info("download superseded, discarding file", "status", status)
		_ = m.layout.RemoveTrackFiles(track.AlbumID, trackID)
		return
	}

	now := time.Now()
	if err := m.store.SetDownloadStatus(ctx, trackID, domain.StatusDownloaded, &size, &now); err != nil {
		log.Warn("finalizing download failed", "error", err)
		_ = m.layout.RemoveTrackFiles(track.AlbumID, trackID)
		return
	}
	log.Info("download complete", "bytes", size, "path", finalPath)
}

// transfer streams the audio into a temp file and moves it into place.
func (m *Manager) transfer(ctx context.Context, track *domain.Track) (int64, string, error) {
	rc, err := m.client.StreamTrack(ctx, track.ID)
	if err != nil {
		return 0, "", fmt.Errorf("stream: %w", err)
	}
	defer rc.Close()

	tmp, err := m.layout.TempFile()
	if err != nil {
		return 0, "", err
	}
	tmpPath := tmp.Name()

	size, err := io.Copy(tmp, rc)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		m.removeTemp(tmpPath)
		return 0, "", fmt.Errorf("write: %w", err)
	}

	finalPath := m.layout.TrackPath(track.AlbumID, track.ID, extensionFor(track))
	if err := filesystem.EnsureDir(m.layout.AlbumDir(track.AlbumID)); err != nil {
		m.removeTemp(tmpPath)
		return 0, "", err
	}
	if err := filesystem.MoveFile(tmpPath, finalPath); err != nil {
		m.removeTemp(tmpPath)
		return 0, "", err
	}
	return size, finalPath, nil
}

// tagFile embeds metadata, lyrics and cover art. Best effort: the audio file
// is already complete, so tagging problems never fail the download.
func (m *Manager) tagFile(ctx context.Context, track *domain.Track, path string, log *logger.Logger) {
	lyrics, err := m.client.FetchLyrics(ctx, track.ID)
	if err != nil {
		log.Debug("fetching lyrics failed", "error", err)
	} else if len(lyrics) > 0 {
		if err := m.store.UpsertLyrics(ctx, track.ID, lyrics); err != nil {
			log.Warn("caching lyrics failed", "error", err)
		}
	}

	var coverArt []byte
	artID, err := m.store.ResolveCoverArt(ctx, track.ID, m.preferTrackArt)
	if err != nil {
		log.Debug("resolving cover art failed", "error", err)
	} else if artID != "" {
		coverArt, err = m.client.FetchImage(ctx, artID)
		if err != nil {
			log.Debug("fetching cover art failed", "art_id", artID, "error", err)
		}
	}

	if err := tagging.Tag(path, track, coverArt, lyrics); err != nil {
		log.Warn("tagging failed", "path", path, "error", err)
	}
}

func (m *Manager) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.log.Warn("removing temp file failed", "path", path, "error", err)
	}
}

// extensionFor picks the file extension from the container the server
// reports; multi-container entries like "mp3,mpeg" use the first. Streams
// with no container default to mp3.
func extensionFor(track *domain.Track) string {
	container := track.Container
	if idx := strings.IndexByte(container, ','); idx != -1 {
		container = container[:idx]
	}
	container = strings.TrimSpace(strings.ToLower(container))
	switch container {
	case "", "mp3", "mpeg":
		return constants.ExtMP3
	case "flac":
		return constants.ExtFLAC
	case "m4a", "aac", "mp4":
		return constants.ExtM4A
	}
	return "." + container
}
