// Package session keeps the documents a server has open. Each session owns a
// viewer and, when it came from a file, watches that file so external edits
// are picked up without losing the reader's place.
package session

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/files"
	"github.com/jackzampolin/folio/internal/timing"
	"github.com/jackzampolin/folio/internal/viewer"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// DefaultReloadDelay is the quiet time after a file event before the file
// is re-read. Editors often write a file in several steps.
const DefaultReloadDelay = 200 * time.Millisecond

// OpenFunc turns PDF bytes into a document.
type OpenFunc func(data []byte) (document.Document, error)

// Config configures a Manager.
type Config struct {
	Options viewer.Options
	Backend document.Backend
	Saver   files.Saver
	// Watch enables reloading documents whose file changes on disk.
	Watch       bool
	ReloadDelay time.Duration
	// Open overrides how documents are decoded; nil uses document.Open.
	Open   OpenFunc
	Logger *slog.Logger
}

// Manager tracks open sessions by id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     viewer.Options
	backend  document.Backend
	saver    files.Saver
	watch    bool
	delay    time.Duration
	open     OpenFunc
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.ReloadDelay
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	return &Manager{
		sessions: make(map[string]*Session),
		opts:     cfg.Options,
		backend:  cfg.Backend,
		saver:    cfg.Saver,
		watch:    cfg.Watch,
		delay:    delay,
		open:     cfg.Open,
		logger:   logger.With("component", "sessions"),
	}
}

// SetOptions changes the viewer options and backend used by sessions
// opened from now on.
func (m *Manager) SetOptions(opts viewer.Options, backend document.Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
	m.backend = backend
}

func (m *Manager) decode(data []byte) (document.Document, error) {
	m.mu.RLock()
	open, backend := m.open, m.backend
	m.mu.RUnlock()
	if open != nil {
		return open(data)
	}
	return document.Open(data, document.Options{Backend: backend, Logger: m.logger})
}

// Open opens the PDF at path in a new session.
func (m *Manager) Open(ctx context.Context, path string) (*Session, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return m.start(ctx, viewer.Source{
		Data:   data,
		Handle: files.Handle{Path: abs},
		Name:   filepath.Base(abs),
	})
}

// OpenData opens in-memory PDF bytes. The session has no file; saving it
// creates one.
func (m *Manager) OpenData(ctx context.Context, name string, data []byte) (*Session, error) {
	return m.start(ctx, viewer.Source{Data: data, Name: name})
}

func (m *Manager) start(ctx context.Context, src viewer.Source) (*Session, error) {
	doc, err := m.decode(src.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", viewer.ErrOpenFailed, err)
	}

	m.mu.RLock()
	opts, saver, watch, delay := m.opts, m.saver, m.watch, m.delay
	m.mu.RUnlock()

	id := uuid.New().String()
	s := &Session{
		ID:     id,
		Opened: time.Now(),
		m:      m,
		name:   src.Name,
		path:   src.Handle.Path,
		loaded: sha256.Sum256(src.Data),
		logger: m.logger.With("session", id),
	}
	var wrapped files.Saver
	if saver != nil {
		wrapped = &trackingSaver{s: s, next: saver}
	}
	s.Viewer = viewer.New(viewer.Config{
		Options: opts,
		Saver:   wrapped,
		Logger:  s.logger,
		OnSaved: s.onSaved,
	})
	s.reload = timing.NewDebouncer(&s.mu, delay, s.reloadLocked)

	if err := s.Viewer.Open(ctx, doc, viewer.OpenOptions{Source: src}); err != nil {
		return nil, err
	}
	if watch && s.path != "" {
		if err := s.startWatch(); err != nil {
			s.logger.Warn("file watch unavailable", "path", s.path, "error", err)
		}
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	s.logger.Info("session opened", "name", src.Name, "pages", s.Viewer.PageCount())
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns every session ordered by open time.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Opened.Equal(sessions[j].Opened) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].Opened.Before(sessions[j].Opened)
	})
	infos := make([]Info, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	return infos
}

// Close closes session id. A session whose close-time save fails stays
// open and the error is returned.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.close(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// CloseAll closes every session concurrently. Sessions that fail to close
// stay registered; the first error is returned.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if err := m.Close(gctx, id); err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("close session %s: %w", id, err)
			}
			return nil
		})
	}
	err := g.Wait()
	m.logger.Info("sessions closed", "count", len(ids), "error", err)
	return err
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Session is one open document.
type Session struct {
	ID     string
	Opened time.Time
	Viewer *viewer.Viewer

	m      *Manager
	logger *slog.Logger

	mu      sync.Mutex
	name    string
	path    string
	loaded  [sha256.Size]byte // content currently shown or last written by us
	reloads int
	reload  *timing.Debouncer
	watcher *fsnotify.Watcher
	watched string // directory being watched
	done    chan struct{}
}

// Info summarizes a session.
type Info struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Path       string       `json:"path,omitempty"`
	Opened     time.Time    `json:"opened"`
	State      viewer.State `json:"state"`
	Pages      int          `json:"pages"`
	Current    int          `json:"current_page"`
	HasChanges bool         `json:"has_changes"`
	Watching   bool         `json:"watching"`
	Reloads    int          `json:"reloads"`
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:       s.ID,
		Name:     s.name,
		Path:     s.path,
		Opened:   s.Opened,
		Watching: s.watcher != nil,
		Reloads:  s.reloads,
	}
	s.mu.Unlock()

	info.State = s.Viewer.State()
	info.Pages = s.Viewer.PageCount()
	info.Current = s.Viewer.CurrentPage()
	info.HasChanges = s.Viewer.HasChanges()
	return info
}

// Path returns the file backing the session, or "".
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Session) close(ctx context.Context) error {
	watching := s.stopWatch()
	s.mu.Lock()
	s.reload.Cancel()
	s.mu.Unlock()

	if err := s.Viewer.Close(ctx); err != nil {
		if watching {
			if werr := s.startWatch(); werr != nil {
				s.logger.Warn("file watch unavailable", "path", s.Path(), "error", werr)
			}
		}
		return err
	}
	s.logger.Info("session closed")
	return nil
}

// onSaved follows the document to the file it was saved to.
func (s *Session) onSaved(h files.Handle, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = sha256.Sum256(data)
	if h.Path == "" || h.Path == s.path {
		return
	}
	s.logger.Info("document moved", "from", s.path, "to", h.Path)
	s.path = h.Path
	s.name = filepath.Base(h.Path)
	if s.watcher != nil {
		if err := s.rewatchLocked(); err != nil {
			s.logger.Warn("file watch lost", "path", s.path, "error", err)
		}
	}
}

// trackingSaver records what a session writes so the resulting file event
// is not mistaken for an external edit.
type trackingSaver struct {
	s    *Session
	next files.Saver
}

func (t *trackingSaver) SaveFile(ctx context.Context, h files.Handle, data []byte) error {
	t.s.expect(data)
	return t.next.SaveFile(ctx, h, data)
}

func (t *trackingSaver) SaveFileAs(ctx context.Context, meta files.Meta, data []byte) (files.Handle, error) {
	t.s.expect(data)
	return t.next.SaveFileAs(ctx, meta, data)
}

func (s *Session) expect(data []byte) {
	sum := sha256.Sum256(data)
	s.mu.Lock()
	s.loaded = sum
	s.mu.Unlock()
}
