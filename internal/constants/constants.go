// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultSyncInterval   = 10 * time.Minute
	DefaultPurgeThreshold = 3
	DefaultHTTPTimeout    = 5 * time.Minute
	ImageHTTPTimeout      = 30 * time.Second
	DefaultRetryCount     = 3
	DefaultRetryBase      = 1 * time.Second
	MinRequestInterval    = 100 * time.Millisecond
	DownloadQueueSize     = 128
)

// Server API endpoints
const (
	EndpointMediaFolders = "/Library/MediaFolders"
	EndpointArtists      = "/Artists"
	EndpointItems        = "/Items"
	EndpointPlaylists    = "/Playlists"
	EndpointAudio        = "/Audio"
)

// File Extensions
const (
	ExtFLAC = ".flac"
	ExtMP3  = ".mp3"
	ExtM4A  = ".m4a"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Characters to sanitize from filesystem paths
const InvalidPathChars = "<>:\"/\\|?*"
