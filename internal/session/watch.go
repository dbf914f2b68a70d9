package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jackzampolin/folio/internal/files"
	"github.com/jackzampolin/folio/internal/viewer"
)

// reloadTimeout bounds re-opening a changed file.
const reloadTimeout = 30 * time.Second

// startWatch watches the directory holding the session's file. Saves
// replace the file by rename, which a watch on the file itself would miss.
func (s *Session) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	s.watched = dir
	s.done = make(chan struct{})
	go s.watchLoop(w, s.done)
	s.logger.Debug("watching file", "path", s.path)
	return nil
}

// rewatchLocked moves the watch to the directory of the current path.
func (s *Session) rewatchLocked() error {
	dir := filepath.Dir(s.path)
	if dir == s.watched {
		return nil
	}
	if err := s.watcher.Add(dir); err != nil {
		return err
	}
	_ = s.watcher.Remove(s.watched)
	s.watched = dir
	return nil
}

// stopWatch ends the watch and reports whether one was running.
func (s *Session) stopWatch() bool {
	s.mu.Lock()
	w, done := s.watcher, s.done
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return false
	}
	w.Close()
	<-done
	return true
}

func (s *Session) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if filepath.Clean(ev.Name) != s.Path() {
				continue
			}
			s.reload.Trigger()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("file watch error", "error", err)
		}
	}
}

// reloadLocked re-opens the file when its content differs from what the
// session shows or last wrote. Zoom, rotation and page are kept. It runs
// under s.mu.
func (s *Session) reloadLocked() {
	if s.watcher == nil {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to read changed file", "path", s.path, "error", err)
		}
		return
	}
	sum := sha256.Sum256(data)
	if sum == s.loaded {
		return
	}

	doc, err := s.m.decode(data)
	if err != nil {
		s.logger.Warn("changed file is not a readable document", "path", s.path, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	err = s.Viewer.Open(ctx, doc, viewer.OpenOptions{
		PreserveState: true,
		Source: viewer.Source{
			Data:   data,
			Handle: files.Handle{Path: s.path},
			Name:   s.name,
		},
	})
	if err != nil {
		s.logger.Error("failed to reload document", "path", s.path, "error", err)
		return
	}
	s.loaded = sum
	s.reloads++
	s.logger.Info("document reloaded", "path", s.path, "pages", s.Viewer.PageCount())
}
