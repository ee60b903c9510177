// Package filesystem owns the on-disk layout of downloaded audio and the
// small file operations the download manager needs.
package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhonus/jellyfin-tui/internal/constants"
)

// Sanitize strips characters that are invalid in file names on common
// filesystems and trims trailing dots and spaces.
func Sanitize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if strings.ContainsRune(constants.InvalidPathChars, r) {
			return -1
		}
		return r
	}, s)

	return strings.TrimRight(mapped, ". ")
}

func EnsureDir(path string) error {
	return os.MkdirAll(path, constants.DirPermissions)
}

// MoveFile renames src to dst, falling back to copy+delete when the rename
// crosses a filesystem boundary.
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, constants.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// Layout maps track identity onto the download directory structure:
// <root>/<album_id>/<track_id>.<ext>. IDs are server-assigned and already
// filesystem-safe; Sanitize is applied anyway so a malformed id cannot
// escape the root.
type Layout struct {
	Root string
}

func NewLayout(root string) *Layout {
	return &Layout{Root: root}
}

func (l *Layout) AlbumDir(albumID string) string {
	return filepath.Join(l.Root, Sanitize(albumID))
}

func (l *Layout) TrackPath(albumID, trackID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return filepath.Join(l.AlbumDir(albumID), Sanitize(trackID)+"."+ext)
}

// TempFile creates a partial-download file under the root, so the final
// rename never crosses filesystems.
func (l *Layout) TempFile() (*os.File, error) {
	if err := EnsureDir(l.Root); err != nil {
		return nil, err
	}
	return os.CreateTemp(l.Root, "*.partial")
}

// RemoveTrackFiles deletes every file stored for the track regardless of
// extension, then removes the album directory if it became empty.
func (l *Layout) RemoveTrackFiles(albumID, trackID string) error {
	dir := l.AlbumDir(albumID)
	matches, err := filepath.Glob(filepath.Join(dir, Sanitize(trackID)+".*"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	// Fails when the directory still holds other tracks; that is fine.
	_ = os.Remove(dir)
	return nil
}
