// Package sync reconciles the local catalog cache against the remote media
// server. One pass = one fetch-diff-apply cycle for one library; absence from
// a single pass never deletes anything; entities are purged only after
// missing a configurable number of consecutive passes.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dhonus/jellyfin-tui/internal/client"
	"github.com/dhonus/jellyfin-tui/internal/constants"
	"github.com/dhonus/jellyfin-tui/internal/domain"
	"github.com/dhonus/jellyfin-tui/internal/logger"
	"github.com/dhonus/jellyfin-tui/internal/store"
)

// playlistScope serializes the global playlist phase the same way library
// passes are serialized per library id.
const playlistScope = "~playlists"

// FileRemover deletes a track's downloaded audio file. Implemented by the
// download manager; invoked from the purge path so a removed track does not
// leave an orphaned file behind.
type FileRemover interface {
	RemoveTrackFile(albumID, trackID string) error
}

// NotificationKind tells the foreground what changed.
type NotificationKind string

const (
	KindLibraryUpdated   NotificationKind = "library_updated"
	KindPlaylistsUpdated NotificationKind = "playlists_updated"
	KindSyncFailed       NotificationKind = "sync_failed"
)

// Notification is delivered asynchronously; the UI re-renders from the store
// when it sees one. Sync failures are non-blocking: the cache stays usable.
type Notification struct {
	Kind      NotificationKind
	LibraryID string
	Err       error
}

// Options tune the engine. Zero values fall back to the defaults below.
type Options struct {
	Interval       time.Duration
	PurgeThreshold int
	PreferTrackArt bool
	Offline        bool
}

type Engine struct {
	store          *store.Store
	client         client.Client
	files          FileRemover
	log            *logger.Logger
	interval       time.Duration
	threshold      int
	preferTrackArt bool

	offline atomic.Bool
	notifs  chan Notification
	trigger chan string

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

func New(st *store.Store, cl client.Client, files FileRemover, log *logger.Logger, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = constants.DefaultSyncInterval
	}
	if opts.PurgeThreshold <= 0 {
		opts.PurgeThreshold = constants.DefaultPurgeThreshold
	}
	e := &Engine{
		store:          st,
		client:         cl,
		files:          files,
		log:            log.WithComponent("sync"),
		interval:       opts.Interval,
		threshold:      opts.PurgeThreshold,
		preferTrackArt: opts.PreferTrackArt,
		notifs:         make(chan Notification, 16),
		trigger:        make(chan string, 1),
		inflight:       make(map[string]bool),
	}
	e.offline.Store(opts.Offline)
	return e
}

// Notifications delivers change events to the foreground. The channel is
// buffered and sends never block; a dropped event only means the UI refreshes
// one notification later.
func (e *Engine) Notifications() <-chan Notification {
	return e.notifs
}

// SetOffline toggles offline mode. While offline the fetch step never runs
// and cached data is the sole source.
func (e *Engine) SetOffline(offline bool) {
	e.offline.Store(offline)
}

func (e *Engine) Offline() bool {
	return e.offline.Load()
}

// TriggerResync requests an immediate pass, cancelling the current timer
// wait. libraryID scopes the pass; empty means everything. A trigger that
// arrives while one is already pending coalesces into it.
func (e *Engine) TriggerResync(libraryID string) {
	select {
	case e.trigger <- libraryID:
	default:
	}
}

// Run starts the periodic background loop: an initial full pass, then one
// every interval, plus on-demand triggers. Returns after ctx is cancelled and
// any in-flight pass finished.
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		e.syncAllLogged(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.syncAllLogged(ctx)
			case libraryID := <-e.trigger:
				ticker.Reset(e.interval)
				if libraryID == "" {
					e.syncAllLogged(ctx)
				} else {
					e.resyncLibrary(ctx, libraryID)
				}
			}
		}
	}()
}

// Wait blocks until the Run loop has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) syncAllLogged(ctx context.Context) {
	if err := e.SyncAll(ctx); err != nil {
		e.log.Warn("sync cycle failed", "error", err)
	}
}

// SyncAll runs one full cycle: library discovery, a pass per library, then
// the global playlist phase. Per-library failures are reported and skipped;
// they never abort the remaining libraries.
func (e *Engine) SyncAll(ctx context.Context) error {
	if e.offline.Load() {
		e.log.Debug("offline, skipping sync cycle")
		return nil
	}

	passID := uuid.NewString()[:8]
	log := e.log.With("pass", passID)

	libs, err := e.client.FetchLibraries(ctx)
	if err != nil {
		err = fmt.Errorf("%w: libraries: %v", domain.ErrTransientFetch, err)
		e.notify(Notification{Kind: KindSyncFailed, Err: err})
		return err
	}

	now := time.Now()
	for _, lib := range libs {
		if err := e.store.UpsertLibrary(ctx, lib, now); err != nil {
			return fmt.Errorf("upsert library %s: %w", lib.ID, err)
		}
	}

	var firstErr error
	for _, lib := range libs {
		if err := e.syncLibrary(ctx, lib, log); err != nil {
			log.Warn("library pass failed", "library", lib.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := e.syncPlaylists(ctx, log); err != nil {
		log.Warn("playlist pass failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SyncLibrary runs one pass for a single library. The library list is
// refreshed from the server first, so a freshly created library can be
// targeted by id; an id the server does not report is ErrNotFound.
func (e *Engine) SyncLibrary(ctx context.Context, libraryID string) error {
	if e.offline.Load() {
		e.log.Debug("offline, skipping library pass", "library", libraryID)
		return nil
	}

	libs, err := e.client.FetchLibraries(ctx)
	if err != nil {
		err = fmt.Errorf("%w: libraries: %v", domain.ErrTransientFetch, err)
		e.notify(Notification{Kind: KindSyncFailed, LibraryID: libraryID, Err: err})
		return err
	}
	for _, lib := range libs {
		if lib.ID != libraryID {
			continue
		}
		if err := e.store.UpsertLibrary(ctx, lib, time.Now()); err != nil {
			return fmt.Errorf("upsert library %s: %w", lib.ID, err)
		}
		return e.syncLibrary(ctx, lib, e.log)
	}
	return fmt.Errorf("library %s: %w", libraryID, domain.ErrNotFound)
}

func (e *Engine) resyncLibrary(ctx context.Context, libraryID string) {
	if err := e.SyncLibrary(ctx, libraryID); err != nil {
		e.log.Warn("library pass failed", "library", libraryID, "error", err)
	}
}

// tryAcquire serializes passes per scope: two passes never run concurrently
// for the same library, and a trigger during a running pass is a no-op, not a
// queued second run.
func (e *Engine) tryAcquire(scope string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[scope] {
		return false
	}
	e.inflight[scope] = true
	return true
}

func (e *Engine) release(scope string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, scope)
}

// syncLibrary runs the fixed pass order for one library: fetch, upsert
// (parents before children), miss-record, threshold purge, membership
// reconciliation, last_seen bookkeeping. A fetch failure abandons the pass
// with the cache untouched; no purge decision is ever made on incomplete
// data.
func (e *Engine) syncLibrary(ctx context.Context, lib domain.Library, log *logger.Logger) error {
	if !e.tryAcquire(lib.ID) {
		log.Debug("pass already running, coalescing", "library", lib.ID)
		return nil
	}
	defer e.release(lib.ID)
	log = log.WithLibrary(lib.ID)

	artists, err := e.client.FetchArtists(ctx, lib.ID)
	if err != nil {
		return e.transient(lib.ID, "artists", err)
	}
	albums, err := e.client.FetchAlbums(ctx, lib.ID)
	if err != nil {
		return e.transient(lib.ID, "albums", err)
	}
	tracks, err := e.client.FetchTracks(ctx, lib.ID)
	if err != nil {
		return e.transient(lib.ID, "tracks", err)
	}

	// Known sets are captured before the upserts so stale detection compares
	// this pass's results against what the cache believed beforehand.
	knownArtists, err := e.store.ListArtistIDsByLibrary(ctx, lib.ID)
	if err != nil {
		return err
	}
	knownAlbums, err := e.store.ListAlbumIDsByLibrary(ctx, lib.ID)
	if err != nil {
		return err
	}
	knownTracks, err := e.store.ListTrackIDsByLibrary(ctx, lib.ID)
	if err != nil {
		return err
	}

	if err := e.store.UpsertArtists(ctx, artists); err != nil {
		return fmt.Errorf("upsert artists: %w", err)
	}
	if err := e.store.UpsertAlbums(ctx, lib.ID, albums); err != nil {
		return fmt.Errorf("upsert albums: %w", err)
	}
	if err := e.store.UpsertTracks(ctx, lib.ID, tracks, e.preferTrackArt); err != nil {
		return fmt.Errorf("upsert tracks: %w", err)
	}

	now := time.Now()
	missedArtists := missing(knownArtists, artistIDs(artists))
	missedAlbums := missing(knownAlbums, albumIDs(albums))
	missedTracks := missing(knownTracks, trackIDs(tracks))
	if err := e.store.RecordMisses(ctx, domain.EntityArtist, missedArtists, now); err != nil {
		return err
	}
	if err := e.store.RecordMisses(ctx, domain.EntityAlbum, missedAlbums, now); err != nil {
		return err
	}
	if err := e.store.RecordMisses(ctx, domain.EntityTrack, missedTracks, now); err != nil {
		return err
	}

	e.purge(ctx, domain.EntityArtist, missedArtists, log)
	e.purge(ctx, domain.EntityAlbum, missedAlbums, log)
	e.purgeTracks(ctx, missedTracks, log)

	e.reconcileMemberships(ctx, albums, tracks, log)

	if err := e.store.TouchLibrary(ctx, lib.ID, now); err != nil {
		return err
	}

	log.Info("library pass complete",
		"artists", len(artists), "albums", len(albums), "tracks", len(tracks),
		"missed", len(missedArtists)+len(missedAlbums)+len(missedTracks))
	e.notify(Notification{Kind: KindLibraryUpdated, LibraryID: lib.ID})
	return nil
}

// syncPlaylists is the global phase of a cycle; playlists are not scoped to a
// library on the server.
func (e *Engine) syncPlaylists(ctx context.Context, log *logger.Logger) error {
	if !e.tryAcquire(playlistScope) {
		return nil
	}
	defer e.release(playlistScope)

	playlists, err := e.client.FetchPlaylists(ctx)
	if err != nil {
		return e.transient("", "playlists", err)
	}

	known, err := e.store.ListPlaylistIDs(ctx)
	if err != nil {
		return err
	}
	if err := e.store.UpsertPlaylists(ctx, playlists); err != nil {
		return fmt.Errorf("upsert playlists: %w", err)
	}

	now := time.Now()
	missed := missing(known, playlistIDs(playlists))
	if err := e.store.RecordMisses(ctx, domain.EntityPlaylist, missed, now); err != nil {
		return err
	}
	e.purge(ctx, domain.EntityPlaylist, missed, log)

	for _, playlist := range playlists {
		for position, trackID := range playlist.TrackIDs {
			err := e.store.SetPlaylistMembership(ctx, playlist.ID, trackID, position)
			if errors.Is(err, domain.ErrDanglingReference) {
				log.Warn("playlist references unknown track", "playlist", playlist.ID, "track", trackID)
				continue
			}
			if err != nil {
				return err
			}
		}
		if err := e.store.RemovePlaylistMembershipsNotIn(ctx, playlist.ID, playlist.TrackIDs); err != nil {
			return err
		}
	}

	e.notify(Notification{Kind: KindPlaylistsUpdated})
	return nil
}

// purge deletes entities whose counters reached the threshold. Counter rows
// below it are left to age; a sighting on any later pass resets them.
func (e *Engine) purge(ctx context.Context, entityType domain.EntityType, ids []string, log *logger.Logger) {
	for _, id := range ids {
		purged, err := e.store.PurgeIfThreshold(ctx, entityType, id, e.threshold)
		if err != nil {
			log.Warn("purge failed", "type", string(entityType), "id", id, "error", err)
			continue
		}
		if purged {
			log.Info("purged stale entity", "type", string(entityType), "id", id)
		}
	}
}

// purgeTracks additionally deletes the local audio file of a purged track
// that had been downloaded. The track row is read before the purge because
// afterwards it is gone.
func (e *Engine) purgeTracks(ctx context.Context, ids []string, log *logger.Logger) {
	for _, id := range ids {
		track, err := e.store.GetTrack(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Warn("purge: reading track failed", "track", id, "error", err)
			continue
		}
		purged, err := e.store.PurgeIfThreshold(ctx, domain.EntityTrack, id, e.threshold)
		if err != nil {
			log.Warn("purge failed", "type", "track", "id", id, "error", err)
			continue
		}
		if !purged {
			continue
		}
		log.Info("purged stale track", "track", id)
		if track.DownloadStatus == domain.StatusDownloaded {
			if err := e.files.RemoveTrackFile(track.AlbumID, id); err != nil {
				log.Warn("deleting local file failed", "track", id, "error", err)
			}
		}
	}
}

// reconcileMemberships rewrites the join tables from this pass's
// authoritative child sets. Dangling references are logged defects, not
// silent drops of the whole pass.
func (e *Engine) reconcileMemberships(ctx context.Context, albums []*domain.Album, tracks []*domain.Track, log *logger.Logger) {
	for _, album := range albums {
		ids := album.ArtistItems.IDs()
		for _, artistID := range ids {
			err := e.store.SetAlbumArtist(ctx, album.ID, artistID)
			if errors.Is(err, domain.ErrDanglingReference) {
				log.Warn("album references unknown artist", "album", album.ID, "artist", artistID)
				continue
			}
			if err != nil {
				log.Warn("album artist write failed", "album", album.ID, "error", err)
			}
		}
		if err := e.store.RemoveAlbumArtistsNotIn(ctx, album.ID, ids); err != nil {
			log.Warn("album artist cleanup failed", "album", album.ID, "error", err)
		}
	}
	for _, track := range tracks {
		ids := track.ArtistItems.IDs()
		for _, artistID := range ids {
			err := e.store.SetArtistMembership(ctx, artistID, track.ID)
			if errors.Is(err, domain.ErrDanglingReference) {
				log.Warn("track references unknown artist", "track", track.ID, "artist", artistID)
				continue
			}
			if err != nil {
				log.Warn("artist membership write failed", "track", track.ID, "error", err)
			}
		}
		if err := e.store.RemoveArtistMembershipsNotIn(ctx, track.ID, ids); err != nil {
			log.Warn("artist membership cleanup failed", "track", track.ID, "error", err)
		}
	}
}

func (e *Engine) transient(libraryID, what string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %v", domain.ErrTransientFetch, what, err)
	e.notify(Notification{Kind: KindSyncFailed, LibraryID: libraryID, Err: wrapped})
	return wrapped
}

func (e *Engine) notify(n Notification) {
	select {
	case e.notifs <- n:
	default:
	}
}

func missing(known, seen []string) []string {
	seenSet := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		seenSet[id] = struct{}{}
	}
	var missed []string
	for _, id := range known {
		if _, ok := seenSet[id]; !ok {
			missed = append(missed, id)
		}
	}
	return missed
}

func artistIDs(artists []*domain.Artist) []string {
	ids := make([]string, 0, len(artists))
	for _, a := range artists {
		ids = append(ids, a.ID)
	}
	return ids
}

func albumIDs(albums []*domain.Album) []string {
	ids := make([]string, 0, len(albums))
	for _, a := range albums {
		ids = append(ids, a.ID)
	}
	return ids
}

func trackIDs(tracks []*domain.Track) []string {
	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		ids = append(ids, t.ID)
	}
	return ids
}

func playlistIDs(playlists []*domain.Playlist) []string {
	ids := make([]string, 0, len(playlists))
	for _, p := range playlists {
		ids = append(ids, p.ID)
	}
	return ids
}
