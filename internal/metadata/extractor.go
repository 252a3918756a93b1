package metadata

import (
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

const (
	UnknownArtist = "Unknown Artist"
	UnknownAlbum  = "Unknown Album"
)

// Info is what the extractor learns about one audio file
type Info struct {
	Title       string
	Artist      string
	Album       string
	TrackNumber int
	Duration    float64 // seconds, 0 when unknown
	FileSize    int64
	AlbumArtID  string
}

// Extractor reads tags and durations from audio files
type Extractor struct {
	supportedFormats []string
	logger           *logrus.Logger

	artMu    sync.RWMutex
	albumArt map[string][]byte
}

// NewExtractor creates an extractor for the given extensions (".mp3", ...)
func NewExtractor(supportedFormats []string, logger *logrus.Logger) *Extractor {
	return &Extractor{
		supportedFormats: supportedFormats,
		logger:           logger,
		albumArt:         make(map[string][]byte),
	}
}

// Extract reads metadata from filePath. Missing tags fall back to the file
// name and unknown artist/album; a duration that cannot be computed is 0.
func (e *Extractor) Extract(filePath string) (Info, error) {
	start := time.Now()

	file, err := os.Open(filePath)
	if err != nil {
		return Info{}, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Title:    baseName(filePath),
		Artist:   UnknownArtist,
		Album:    UnknownAlbum,
		FileSize: stat.Size(),
	}

	duration, err := e.Duration(filePath)
	if err != nil {
		e.logger.WithError(err).WithField("file_path", filePath).Debug("Duration unavailable")
	}
	info.Duration = duration

	tags, err := tag.ReadFrom(file)
	if err != nil {
		e.logger.WithError(err).WithField("file_path", filePath).Warn("Failed to read tags, using file name")
		return info, nil
	}

	if title := strings.TrimSpace(tags.Title()); title != "" {
		info.Title = title
	}
	if artist := strings.TrimSpace(tags.Artist()); artist != "" {
		info.Artist = artist
	}
	if album := strings.TrimSpace(tags.Album()); album != "" {
		info.Album = album
	}
	info.TrackNumber, _ = tags.Track()
	info.AlbumArtID = e.storeAlbumArt(tags)

	e.logger.WithFields(logrus.Fields{
		"file_path": filePath,
		"title":     info.Title,
		"artist":    info.Artist,
		"duration":  info.Duration,
		"took":      time.Since(start),
	}).Debug("Extracted metadata")

	return info, nil
}

// Duration returns the playing time of filePath in seconds
func (e *Extractor) Duration(filePath string) (float64, error) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return mp3Duration(filePath)
	case ".flac":
		return flacDuration(filePath)
	case ".wav":
		return wavDuration(filePath)
	default:
		return 0, fmt.Errorf("no duration probe for %s", filepath.Ext(filePath))
	}
}

// mp3Duration sums decoded frame durations. When no frame decodes, the size
// is divided by a 192 kbps bitrate.
func mp3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var (
		total   time.Duration
		skipped int
		frames  int
	)
	for {
		var frame mp3.Frame
		if err := dec.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) || frames > 0 {
				break
			}
			st, statErr := f.Stat()
			if statErr != nil {
				return 0, statErr
			}
			return float64(st.Size()*8) / 192000, nil
		}
		total += frame.Duration()
		frames++
	}
	return total.Seconds(), nil
}

func flacDuration(path string) (float64, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	si := stream.Info
	if si.NSamples == 0 || si.SampleRate == 0 {
		return 0, errors.New("flac stream missing sample info")
	}
	return float64(si.NSamples) / float64(si.SampleRate), nil
}

func wavDuration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav file")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, err
	}
	return d.Seconds(), nil
}

func (e *Extractor) storeAlbumArt(tags tag.Metadata) string {
	picture := tags.Picture()
	if picture == nil || len(picture.Data) == 0 {
		return ""
	}

	id := fmt.Sprintf("%x", md5.Sum(picture.Data))
	e.artMu.Lock()
	e.albumArt[id] = picture.Data
	e.artMu.Unlock()
	return id
}

// AlbumArt returns cached cover art bytes by ID
func (e *Extractor) AlbumArt(id string) ([]byte, bool) {
	e.artMu.RLock()
	defer e.artMu.RUnlock()
	data, ok := e.albumArt[id]
	return data, ok
}

// IsAudioFile checks the extension against the supported formats
func (e *Extractor) IsAudioFile(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range e.supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// ContentType returns the MIME type for an audio file
func ContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// ImageType sniffs the MIME type of cover art
func ImageType(data []byte) string {
	switch {
	case len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8:
		return "image/jpeg"
	case len(data) >= 4 && data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G':
		return "image/png"
	case len(data) >= 3 && data[0] == 'G' && data[1] == 'I' && data[2] == 'F':
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
