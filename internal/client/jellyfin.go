package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dhonus/jellyfin-tui/internal/constants"
	"github.com/dhonus/jellyfin-tui/internal/domain"
)

// Jellyfin talks to a Jellyfin server's REST API. Requests are rate limited
// and retried with linear backoff; 429/503 responses honor Retry-After.
type Jellyfin struct {
	baseURL    string
	token      string
	httpClient *http.Client

	minRequestInterval time.Duration
	lastRequest        time.Time
	mu                 sync.Mutex
}

var _ Client = (*Jellyfin)(nil)

func NewJellyfin(baseURL, token string) *Jellyfin {
	return &Jellyfin{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		minRequestInterval: constants.MinRequestInterval,
	}
}

type itemsPage struct {
	Items            json.RawMessage `json:"Items"`
	TotalRecordCount int             `json:"TotalRecordCount"`
}

type mediaFolder struct {
	ID             string `json:"Id"`
	Name           string `json:"Name"`
	CollectionType string `json:"CollectionType"`
}

func (j *Jellyfin) FetchLibraries(ctx context.Context) ([]domain.Library, error) {
	var page struct {
		Items []mediaFolder `json:"Items"`
	}
	if err := j.getJSON(ctx, constants.EndpointMediaFolders, nil, &page); err != nil {
		return nil, err
	}

	var libs []domain.Library
	for _, folder := range page.Items {
		if folder.CollectionType != "music" {
			continue
		}
		libs = append(libs, domain.Library{ID: folder.ID, Name: folder.Name})
	}
	return libs, nil
}

func (j *Jellyfin) FetchArtists(ctx context.Context, libraryID string) ([]*domain.Artist, error) {
	var artists []*domain.Artist
	err := j.getItems(ctx, constants.EndpointArtists, url.Values{
		"ParentId": {libraryID},
	}, &artists)
	return artists, err
}

func (j *Jellyfin) FetchAlbums(ctx context.Context, libraryID string) ([]*domain.Album, error) {
	var albums []*domain.Album
	err := j.getItems(ctx, constants.EndpointItems, url.Values{
		"ParentId":         {libraryID},
		"IncludeItemTypes": {"MusicAlbum"},
		"Recursive":        {"true"},
	}, &albums)
	return albums, err
}

func (j *Jellyfin) FetchTracks(ctx context.Context, libraryID string) ([]*domain.Track, error) {
	var tracks []*domain.Track
	err := j.getItems(ctx, constants.EndpointItems, url.Values{
		"ParentId":         {libraryID},
		"IncludeItemTypes": {"Audio"},
		"Recursive":        {"true"},
		"Fields":           {"MediaSources"},
	}, &tracks)
	return tracks, err
}

func (j *Jellyfin) FetchPlaylists(ctx context.Context) ([]*domain.Playlist, error) {
	var playlists []*domain.Playlist
	err := j.getItems(ctx, constants.EndpointItems, url.Values{
		"IncludeItemTypes": {"Playlist"},
		"Recursive":        {"true"},
	}, &playlists)
	if err != nil {
		return nil, err
	}

	// Membership comes from a per-playlist items call; the playlist entity
	// itself only carries its name.
	for _, playlist := range playlists {
		var members []*struct {
			ID string `json:"Id"`
		}
		path := constants.EndpointPlaylists + "/" + url.PathEscape(playlist.ID) + "/Items"
		if err := j.getItems(ctx, path, nil, &members); err != nil {
			return nil, fmt.Errorf("playlist %s items: %w", playlist.ID, err)
		}
		playlist.TrackIDs = playlist.TrackIDs[:0]
		for _, member := range members {
			playlist.TrackIDs = append(playlist.TrackIDs, member.ID)
		}
	}
	return playlists, nil
}

func (j *Jellyfin) FetchLyrics(ctx context.Context, trackID string) ([]domain.Lyric, error) {
	var doc struct {
		Lyrics []domain.Lyric `json:"Lyrics"`
	}
	path := constants.EndpointAudio + "/" + url.PathEscape(trackID) + "/Lyrics"
	if err := j.getJSON(ctx, path, nil, &doc); err != nil {
		return nil, err
	}
	return doc.Lyrics, nil
}

func (j *Jellyfin) FetchImage(ctx context.Context, itemID string) ([]byte, error) {
	// Images are small; never let one hang for the full media timeout.
	ctx, cancel := context.WithTimeout(ctx, constants.ImageHTTPTimeout)
	defer cancel()

	path := constants.EndpointItems + "/" + url.PathEscape(itemID) + "/Images/Primary"
	resp, err := j.do(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (j *Jellyfin) StreamTrack(ctx context.Context, trackID string) (io.ReadCloser, error) {
	path := constants.EndpointItems + "/" + url.PathEscape(trackID) + "/Download"
	resp, err := j.do(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (j *Jellyfin) getItems(ctx context.Context, path string, query url.Values, out interface{}) error {
	var page itemsPage
	if err := j.getJSON(ctx, path, query, &page); err != nil {
		return err
	}
	if len(page.Items) == 0 {
		return nil
	}
	return json.Unmarshal(page.Items, out)
}

func (j *Jellyfin) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	resp, err := j.do(ctx, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", path, err)
	}
	return nil
}

// do executes a GET with rate limiting and retries. The caller owns the
// response body of a successful return.
func (j *Jellyfin) do(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	reqURL := j.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < constants.DefaultRetryCount; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Claim a time slot.
		j.mu.Lock()
		now := time.Now()
		nextAllowed := j.lastRequest.Add(j.minRequestInterval)
		var waitTime time.Duration
		if now.Before(nextAllowed) {
			waitTime = nextAllowed.Sub(now)
			j.lastRequest = nextAllowed
		} else {
			j.lastRequest = now
		}
		j.mu.Unlock()

		if waitTime > 0 {
			timer := time.NewTimer(waitTime)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Emby-Token", j.token)
		req.Header.Set("Accept", "application/json")

		resp, err := j.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%s: rate limited (status %d)", path, resp.StatusCode)

			backoffWait := time.Duration(attempt+1) * constants.DefaultRetryBase
			if retryAfter > backoffWait {
				backoffWait = retryAfter
			}
			if retryAfter > 0 {
				j.mu.Lock()
				next := time.Now().Add(retryAfter)
				if j.lastRequest.Before(next) {
					j.lastRequest = next
				}
				j.mu.Unlock()
			}

			backoffTimer := time.NewTimer(backoffWait)
			select {
			case <-ctx.Done():
				backoffTimer.Stop()
				return nil, ctx.Err()
			case <-backoffTimer.C:
			}
			continue
		} else if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
		} else {
			return resp, nil
		}

		backoffWait := time.Duration(attempt+1) * constants.DefaultRetryBase
		backoffTimer := time.NewTimer(backoffWait)
		select {
		case <-ctx.Done():
			backoffTimer.Stop()
			return nil, ctx.Err()
		case <-backoffTimer.C:
		}
	}
	return nil, lastErr
}

// parseRetryAfter reads a Retry-After header and returns the duration to wait.
func parseRetryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		return time.Until(t)
	}
	return 0
}
