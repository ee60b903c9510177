// Package tagging writes track metadata into downloaded audio files so they
// remain identifiable outside the application.
package tagging

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"github.com/dhonus/jellyfin-tui/internal/constants"
	"github.com/dhonus/jellyfin-tui/internal/domain"
)

// Tag writes metadata, optional cover art and optional timed lyrics into the
// audio file at path. The format is picked from the file extension.
func Tag(path string, track *domain.Track, coverArt []byte, lyrics []domain.Lyric) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case constants.ExtFLAC:
		return tagFLAC(path, track, coverArt, lyrics)
	case constants.ExtMP3:
		return tagMP3(path, track, coverArt, lyrics)
	default:
		return fmt.Errorf("unsupported file format: %s", filepath.Ext(path))
	}
}

// tagFLAC replaces any existing Vorbis comment and picture blocks with fresh
// ones built from the cached document. Audio frames are never re-encoded.
func tagFLAC(path string, track *domain.Track, coverArt []byte, lyrics []domain.Lyric) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("failed to open FLAC file: %w", err)
	}

	var kept []*flac.MetaDataBlock
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment || block.Type == flac.Picture {
			continue
		}
		kept = append(kept, block)
	}

	cmt := flacvorbis.New()
	add := func(field, value string) {
		if value != "" {
			_ = cmt.Add(field, value)
		}
	}
	add(flacvorbis.FIELD_TITLE, track.Name)
	for _, artist := range track.ArtistItems {
		add(flacvorbis.FIELD_ARTIST, artist.Name)
	}
	add(flacvorbis.FIELD_ALBUM, track.Album)
	add("ALBUMARTIST", track.AlbumArtist)
	if track.IndexNumber > 0 {
		add(flacvorbis.FIELD_TRACKNUMBER, strconv.Itoa(track.IndexNumber))
	}
	if track.ParentIndexNumber > 0 {
		add("DISCNUMBER", strconv.Itoa(track.ParentIndexNumber))
	}
	if track.ProductionYear > 0 {
		add(flacvorbis.FIELD_DATE, strconv.Itoa(track.ProductionYear))
	}
	if len(lyrics) > 0 {
		add("LYRICS", FormatLRC(lyrics))
	}
	cmtBlock := cmt.Marshal()
	kept = append(kept, &cmtBlock)

	if len(coverArt) > 0 {
		pic, err := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover, "Front Cover", coverArt, detectMIME(coverArt))
		if err != nil {
			return fmt.Errorf("failed to build picture block: %w", err)
		}
		picBlock := pic.Marshal()
		kept = append(kept, &picBlock)
	}

	f.Meta = kept
	if err := f.Save(path); err != nil {
		return fmt.Errorf("failed to save FLAC file: %w", err)
	}
	return nil
}

// tagMP3 writes ID3v2.4 tags to an MP3 file.
func tagMP3(path string, track *domain.Track, coverArt []byte, lyrics []domain.Lyric) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("failed to open MP3 file: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)

	if track.Name != "" {
		tag.SetTitle(track.Name)
	}
	if names := artistNames(track); len(names) > 0 {
		tag.AddTextFrame("TPE1", tag.DefaultEncoding(), strings.Join(names, "\x00"))
	}
	if track.Album != "" {
		tag.SetAlbum(track.Album)
	}
	if track.AlbumArtist != "" {
		tag.AddTextFrame("TPE2", tag.DefaultEncoding(), track.AlbumArtist)
	}
	if track.ProductionYear > 0 {
		tag.SetYear(strconv.Itoa(track.ProductionYear))
	}
	if track.IndexNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"),
			tag.DefaultEncoding(), strconv.Itoa(track.IndexNumber))
	}
	if track.ParentIndexNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Part of a set"),
			tag.DefaultEncoding(), strconv.Itoa(track.ParentIndexNumber))
	}
	if len(lyrics) > 0 {
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding:          id3v2.EncodingUTF8,
			Language:          "eng",
			ContentDescriptor: "LRC",
			Lyrics:            FormatLRC(lyrics),
		})
	}
	if len(coverArt) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    detectMIME(coverArt),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     coverArt,
		})
	}

	return tag.Save()
}

func artistNames(track *domain.Track) []string {
	names := make([]string, 0, len(track.ArtistItems))
	for _, artist := range track.ArtistItems {
		if artist.Name != "" {
			names = append(names, artist.Name)
		}
	}
	return names
}

// FormatLRC renders timed lyric lines as LRC text. Start offsets are in
// 100-nanosecond ticks, the unit the server reports.
func FormatLRC(lyrics []domain.Lyric) string {
	var b strings.Builder
	for _, line := range lyrics {
		ms := line.Start / 10_000
		minutes := ms / 60_000
		seconds := (ms % 60_000) / 1000
		hundredths := (ms % 1000) / 10
		fmt.Fprintf(&b, "[%02d:%02d.%02d]%s\n", minutes, seconds, hundredths, line.Text)
	}
	return b.String()
}

func detectMIME(data []byte) string {
	mime := http.DetectContentType(data)
	if idx := strings.Index(mime, ";"); idx != -1 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}
