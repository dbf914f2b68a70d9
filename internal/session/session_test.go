package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/export"
	"github.com/jackzampolin/folio/internal/files"
	"github.com/jackzampolin/folio/internal/viewer"
)

// mockOpener decodes the page count with pdfcpu and serves mock pages of
// that many letter-sized pages.
type mockOpener struct {
	mu   sync.Mutex
	docs []*document.MockDocument
}

func (o *mockOpener) open(data []byte) (document.Document, error) {
	n, err := export.CountPages(data)
	if err != nil {
		return nil, err
	}
	doc := document.NewMock(document.UniformSizes(n, document.Letter)...)
	o.mu.Lock()
	o.docs = append(o.docs, doc)
	o.mu.Unlock()
	return doc, nil
}

func (o *mockOpener) all() []*document.MockDocument {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*document.MockDocument(nil), o.docs...)
}

type failingSaver struct {
	mu  sync.Mutex
	err error
}

func (f *failingSaver) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *failingSaver) SaveFile(context.Context, files.Handle, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *failingSaver) SaveFileAs(context.Context, files.Meta, []byte) (files.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return files.Handle{Path: "/dev/null/out.pdf"}, f.err
}

func testOptions() viewer.Options {
	o := viewer.DefaultOptions()
	o.QualityDebounce = 20 * time.Millisecond
	o.FastScrollQuiet = 20 * time.Millisecond
	o.FitDebounce = 20 * time.Millisecond
	o.IdleSlice = 5 * time.Millisecond
	return o
}

func newTestManager(t *testing.T, saver files.Saver) (*Manager, *mockOpener) {
	t.Helper()
	opener := &mockOpener{}
	if saver == nil {
		disk, err := files.NewDisk(files.DiskConfig{Dir: filepath.Join(t.TempDir(), "exports")})
		if err != nil {
			t.Fatal(err)
		}
		saver = disk
	}
	m := NewManager(Config{
		Options:     testOptions(),
		Saver:       saver,
		Watch:       true,
		ReloadDelay: 50 * time.Millisecond,
		Open:        opener.open,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.CloseAll(ctx)
	})
	return m, opener
}

func writePDF(t *testing.T, dir string, pages int) string {
	t.Helper()
	path := filepath.Join(dir, "doc.pdf")
	data := document.MinimalPDF(document.UniformSizes(pages, document.Letter)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestManager_OpenGetList(t *testing.T) {
	m, _ := newTestManager(t, nil)
	path := writePDF(t, t.TempDir(), 3)

	s, err := m.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := uuid.Parse(s.ID); err != nil {
		t.Errorf("session id %q is not a uuid", s.ID)
	}

	got, err := m.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}

	infos := m.List()
	if len(infos) != 1 {
		t.Fatalf("List returned %d sessions", len(infos))
	}
	info := infos[0]
	if info.Pages != 3 || info.Name != "doc.pdf" || info.Path != path || !info.Watching {
		t.Errorf("info = %+v", info)
	}
	if info.State == viewer.StateClosed {
		t.Error("session should be open")
	}

	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) err = %v", err)
	}
}

func TestManager_OpenErrors(t *testing.T) {
	m, _ := newTestManager(t, nil)

	if _, err := m.Open(context.Background(), filepath.Join(t.TempDir(), "nope.pdf")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
	if _, err := m.OpenData(context.Background(), "junk.pdf", []byte("junk")); !errors.Is(err, viewer.ErrOpenFailed) {
		t.Errorf("err = %v, want ErrOpenFailed", err)
	}
	if m.Len() != 0 {
		t.Errorf("%d sessions registered after failures", m.Len())
	}
}

func TestSession_ReloadsOnExternalChange(t *testing.T) {
	m, opener := newTestManager(t, nil)
	path := writePDF(t, t.TempDir(), 3)

	s, err := m.Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Viewer.ScrollToPage(2); err != nil {
		t.Fatal(err)
	}

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)
	writePDF(t, filepath.Dir(path), 5)

	waitFor(t, 3*time.Second, func() bool { return s.Info().Reloads == 1 })
	info := s.Info()
	if info.Pages != 5 {
		t.Errorf("pages after reload = %d, want 5", info.Pages)
	}
	if info.Current != 2 {
		t.Errorf("current page after reload = %d, want 2", info.Current)
	}
	docs := opener.all()
	if len(docs) != 2 || !docs[0].Closed() {
		t.Error("the replaced document should be closed")
	}

	// Rewriting identical bytes is not a change.
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if got := s.Info().Reloads; got != 1 {
		t.Errorf("reloads = %d after rewriting identical content", got)
	}
}

func TestSession_OwnSaveIsNotReloaded(t *testing.T) {
	m, _ := newTestManager(t, nil)
	path := writePDF(t, t.TempDir(), 2)

	s, err := m.Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := s.Viewer.Rotate(); err != nil {
		t.Fatal(err)
	}
	h, err := s.Viewer.Save(context.Background())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if h.Path != path {
		t.Errorf("saved to %s, want %s", h.Path, path)
	}

	time.Sleep(300 * time.Millisecond)
	if got := s.Info().Reloads; got != 0 {
		t.Errorf("own save caused %d reloads", got)
	}
	if s.Viewer.HasChanges() {
		t.Error("changes should be cleared")
	}
}

func TestSession_SaveAsFollowsNewFile(t *testing.T) {
	m, _ := newTestManager(t, nil)
	path := writePDF(t, t.TempDir(), 2)

	s, err := m.Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	h, err := s.Viewer.SaveAs(context.Background())
	if err != nil {
		t.Fatalf("SaveAs failed: %v", err)
	}
	if h.Path == path || filepath.Base(h.Path) != "doc.pdf" {
		t.Errorf("save as went to %s", h.Path)
	}
	if got := s.Path(); got != h.Path {
		t.Errorf("session path = %s, want %s", got, h.Path)
	}
	if info := s.Info(); info.Name != "doc.pdf" || !info.Watching {
		t.Errorf("info = %+v", info)
	}
}

func TestManager_CloseAll(t *testing.T) {
	m, opener := newTestManager(t, nil)
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		sub := filepath.Join(dir, uuid.NewString())
		if err := os.Mkdir(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		if _, err := m.Open(context.Background(), writePDF(t, sub, i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := m.OpenData(context.Background(), "memory.pdf", document.MinimalPDF(document.Letter)); err != nil {
		t.Fatal(err)
	}

	if err := m.CloseAll(context.Background()); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("%d sessions left", m.Len())
	}
	for i, doc := range opener.all() {
		if !doc.Closed() {
			t.Errorf("document %d not closed", i)
		}
	}
	if err := m.Close(context.Background(), "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestManager_FailedAutoSaveKeepsSession(t *testing.T) {
	saver := &failingSaver{err: errors.New("read-only file system")}
	m, _ := newTestManager(t, saver)
	path := writePDF(t, t.TempDir(), 2)

	s, err := m.Open(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Viewer.Rotate(); err != nil {
		t.Fatal(err)
	}

	if err := m.Close(context.Background(), s.ID); !errors.Is(err, viewer.ErrExportFailed) {
		t.Fatalf("err = %v, want ErrExportFailed", err)
	}
	if _, err := m.Get(s.ID); err != nil {
		t.Fatal("session should stay registered")
	}
	if !s.Info().Watching {
		t.Error("watch should resume after a failed close")
	}

	saver.setErr(nil)
	if err := m.Close(context.Background(), s.ID); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestManager_SetOptionsAppliesToNewSessions(t *testing.T) {
	m, _ := newTestManager(t, nil)
	opts := testOptions()
	opts.MaxZoom = 2
	m.SetOptions(opts, document.BackendFitz)

	s, err := m.OpenData(context.Background(), "a.pdf", document.MinimalPDF(document.Letter))
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Viewer.Options().MaxZoom; got != 2 {
		t.Errorf("max zoom = %g, want 2", got)
	}
	if info := s.Info(); info.Watching || info.Path != "" {
		t.Errorf("in-memory session should not watch: %+v", info)
	}
}
