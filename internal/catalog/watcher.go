package catalog

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// settleDelay gives writers time to finish a new file before it is read
const settleDelay = 500 * time.Millisecond

func (l *Library) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	l.watcher = watcher

	err = filepath.WalkDir(l.cfg.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		l.watcher = nil
		return err
	}

	l.wg.Add(1)
	go l.watchFiles(watcher)

	l.logger.WithField("library_path", l.cfg.Path).Info("Library watcher started")
	return nil
}

func (l *Library) watchFiles(watcher *fsnotify.Watcher) {
	defer l.wg.Done()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			l.handleFileEvent(watcher, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.WithError(err).Error("Library watcher error")
		}
	}
}

func (l *Library) handleFileEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return
	}

	isAudio := l.extractor.IsAudioFile(event.Name)

	switch {
	case event.Has(fsnotify.Create) && isAudio:
		path := event.Name
		l.clock.AfterFunc(settleDelay, func() {
			song, err := l.Add(path)
			if err != nil {
				l.logger.WithError(err).WithField("file_path", path).Warn("Could not index new file")
				return
			}
			l.logger.WithFields(logrus.Fields{
				"song_id": song.ID,
				"title":   song.Title,
				"artist":  song.Artist,
			}).Info("Indexed new song")
		})

	case (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && isAudio:
		if l.Remove(event.Name) {
			l.logger.WithField("file_path", event.Name).Info("Removed song from library")
		}

	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err == nil {
				l.logger.WithField("directory", event.Name).Info("Watching new directory")
			}
		}
	}
}
