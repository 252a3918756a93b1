package catalog

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"unison/internal/config"
	"unison/internal/metadata"
	"unison/pkg/models"
)

var ErrSongNotFound = errors.New("song not found")

const pruneInterval = 5 * time.Minute

// Entry is one audio file in the library
type Entry struct {
	ID          string
	Path        string
	Title       string
	Artist      string
	Album       string
	TrackNumber int
	Duration    float64
	FileSize    int64
	AlbumArtID  string
}

// Library indexes the audio files under the configured directory and hands
// them out as room songs with stream URLs
type Library struct {
	cfg       config.LibraryConfig
	extractor *metadata.Extractor
	clock     clock.Clock
	logger    *logrus.Logger

	mu      sync.RWMutex
	entries map[string]*Entry
	baseURL string

	cache   *searchCache
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty library. Call Start to scan and watch it.
func New(cfg config.LibraryConfig, extractor *metadata.Extractor, clk clock.Clock, logger *logrus.Logger) *Library {
	if clk == nil {
		clk = clock.New()
	}
	return &Library{
		cfg:       cfg,
		extractor: extractor,
		clock:     clk,
		logger:    logger,
		entries:   make(map[string]*Entry),
		cache:     newSearchCache(time.Duration(cfg.SearchCacheTTL)*time.Second, clk),
	}
}

// SongID derives a stable ID from a path relative to the library root
func SongID(relPath string) string {
	sum := md5.Sum([]byte(filepath.ToSlash(relPath)))
	return fmt.Sprintf("%x", sum[:8])
}

// SetBaseURL sets the public server URL used in song and cover art links
func (l *Library) SetBaseURL(base string) {
	l.mu.Lock()
	l.baseURL = strings.TrimSuffix(base, "/")
	l.mu.Unlock()
	l.cache.clear()
}

// Start scans the library (if enabled), starts the file watcher (if enabled)
// and prunes the search cache until ctx ends or Close is called
func (l *Library) Start(ctx context.Context) error {
	ctx, l.cancel = context.WithCancel(ctx)

	if l.cfg.ScanOnStartup {
		if _, err := l.Scan(ctx); err != nil {
			return fmt.Errorf("failed to scan library: %w", err)
		}
	}

	if l.cfg.WatchForChanges {
		if err := l.startWatcher(); err != nil {
			l.logger.WithError(err).Warn("Could not start library watcher")
		}
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := l.clock.Ticker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := l.cache.prune(); n > 0 {
					l.logger.WithField("removed", n).Debug("Pruned search cache")
				}
			}
		}
	}()
	return nil
}

// Close stops the watcher and background pruning
func (l *Library) Close() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.watcher != nil {
		l.watcher.Close()
	}
	l.wg.Wait()
}

// Scan walks the library directory and indexes every supported file using
// a worker per CPU. It returns the number of files indexed.
func (l *Library) Scan(ctx context.Context) (int, error) {
	l.logger.WithField("library_path", l.cfg.Path).Info("Scanning library")

	jobs := make(chan string, 100)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		count int
	)

	for i := 0; i < runtime.NumCPU(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if _, err := l.Add(path); err != nil {
					l.logger.WithError(err).WithField("file_path", path).Warn("Skipping file")
					continue
				}
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}

	walkErr := filepath.WalkDir(l.cfg.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() && l.extractor.IsAudioFile(path) {
			jobs <- path
		}
		return nil
	})

	close(jobs)
	wg.Wait()

	l.logger.WithField("songs", count).Info("Library scan complete")
	return count, walkErr
}

// Add indexes one file, replacing any previous entry for the same path
func (l *Library) Add(path string) (models.Song, error) {
	rel, err := l.relative(path)
	if err != nil {
		return models.Song{}, err
	}

	info, err := l.extractor.Extract(path)
	if err != nil {
		return models.Song{}, err
	}

	entry := &Entry{
		ID:          SongID(rel),
		Path:        path,
		Title:       info.Title,
		Artist:      info.Artist,
		Album:       info.Album,
		TrackNumber: info.TrackNumber,
		Duration:    info.Duration,
		FileSize:    info.FileSize,
		AlbumArtID:  info.AlbumArtID,
	}

	l.mu.Lock()
	l.entries[entry.ID] = entry
	song := l.songLocked(entry)
	l.mu.Unlock()
	l.cache.clear()

	return song, nil
}

// Remove drops the entry for path. It reports whether one existed.
func (l *Library) Remove(path string) bool {
	rel, err := l.relative(path)
	if err != nil {
		return false
	}
	id := SongID(rel)

	l.mu.Lock()
	_, ok := l.entries[id]
	delete(l.entries, id)
	l.mu.Unlock()

	if ok {
		l.cache.clear()
	}
	return ok
}

// Get returns the song with the given ID
func (l *Library) Get(id string) (models.Song, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[id]
	if !ok {
		return models.Song{}, ErrSongNotFound
	}
	return l.songLocked(entry), nil
}

// Entry returns the library entry (including its file path) for id
func (l *Library) Entry(id string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[id]
	if !ok {
		return Entry{}, ErrSongNotFound
	}
	return *entry, nil
}

// Count returns the number of indexed songs
func (l *Library) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Search returns songs whose title, artist or album contains query, ignoring
// case. An empty query returns every song. Results are sorted by artist,
// album, track number and title.
func (l *Library) Search(query string) []models.Song {
	key := strings.ToLower(strings.TrimSpace(query))
	if songs, ok := l.cache.get(key); ok {
		return songs
	}

	l.mu.RLock()
	matches := make([]*Entry, 0)
	for _, entry := range l.entries {
		if key == "" ||
			strings.Contains(strings.ToLower(entry.Title), key) ||
			strings.Contains(strings.ToLower(entry.Artist), key) ||
			strings.Contains(strings.ToLower(entry.Album), key) {
			matches = append(matches, entry)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Artist != b.Artist {
			return a.Artist < b.Artist
		}
		if a.Album != b.Album {
			return a.Album < b.Album
		}
		if a.TrackNumber != b.TrackNumber {
			return a.TrackNumber < b.TrackNumber
		}
		return a.Title < b.Title
	})

	songs := make([]models.Song, len(matches))
	for i, entry := range matches {
		songs[i] = l.songLocked(entry)
	}
	l.mu.RUnlock()

	l.cache.set(key, songs)
	return songs
}

// songLocked must be called with the lock held
func (l *Library) songLocked(entry *Entry) models.Song {
	song := models.Song{
		ID:       entry.ID,
		Title:    entry.Title,
		Artist:   entry.Artist,
		URL:      l.baseURL + "/stream/" + entry.ID,
		Duration: entry.Duration,
	}
	if entry.AlbumArtID != "" {
		song.AlbumArt = l.baseURL + "/albumart/" + entry.AlbumArtID
	}
	return song
}

func (l *Library) relative(path string) (string, error) {
	root, err := filepath.Abs(l.cfg.Path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the library", path)
	}
	return rel, nil
}
