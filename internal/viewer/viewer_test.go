package viewer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/export"
	"github.com/jackzampolin/folio/internal/files"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	o := DefaultOptions()
	o.QualityDebounce = 20 * time.Millisecond
	o.FastScrollQuiet = 30 * time.Millisecond
	o.FitDebounce = 20 * time.Millisecond
	o.IdleSlice = 5 * time.Millisecond
	o.LayerIdleTimeout = 200 * time.Millisecond
	o.ViewportWidth = 800
	o.ViewportHeight = 600
	return o
}

type fakeSaver struct {
	mu      sync.Mutex
	err     error
	saved   []files.Handle
	savedAs []files.Meta
	data    [][]byte
}

func (s *fakeSaver) SaveFile(_ context.Context, h files.Handle, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, h)
	s.data = append(s.data, data)
	return nil
}

func (s *fakeSaver) SaveFileAs(_ context.Context, meta files.Meta, data []byte) (files.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return files.Handle{}, s.err
	}
	s.savedAs = append(s.savedAs, meta)
	s.data = append(s.data, data)
	return files.Handle{Path: "/exports/" + meta.Name}, nil
}

func (s *fakeSaver) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved), len(s.savedAs)
}

func newViewer(t *testing.T, mutate func(*Config)) *Viewer {
	t.Helper()
	cfg := Config{Options: testOptions(), Logger: testLogger()}
	if mutate != nil {
		mutate(&cfg)
	}
	v := New(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		v.mu.Lock()
		v.opts.AutoSaveOnClose = false
		v.mu.Unlock()
		_ = v.Close(ctx)
	})
	return v
}

func openMock(t *testing.T, v *Viewer, pages int) *document.MockDocument {
	t.Helper()
	doc := document.NewMock(document.UniformSizes(pages, document.Letter)...)
	if err := v.Open(context.Background(), doc, OpenOptions{}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return doc
}

func waitIdle(t *testing.T, v *Viewer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := v.WaitIdle(ctx); err != nil {
		t.Fatalf("viewer did not go idle: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func liveCount(s Snapshot) int {
	n := 0
	for _, w := range s.Wrappers {
		if w.Loaded || w.Rendering {
			n++
		}
	}
	return n
}

func wrapperInfo(t *testing.T, s Snapshot, page int) PageInfo {
	t.Helper()
	for _, w := range s.Wrappers {
		if w.Page == page {
			return w
		}
	}
	t.Fatalf("page %d is not materialized", page)
	return PageInfo{}
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestOpen_FitsPageAndRendersVisible(t *testing.T) {
	v := newViewer(t, nil)
	openMock(t, v, 10)
	waitIdle(t, v)

	s := v.Snapshot()
	if s.State != StateViewing {
		t.Errorf("state = %s, want %s", s.State, StateViewing)
	}
	// (600-40)/792 rounds to 0.7.
	if !approx(s.Zoom.Scale, 0.7, 1e-9) {
		t.Errorf("scale = %g, want 0.7", s.Zoom.Scale)
	}
	if s.CurrentPage != 1 || s.PageCount != 10 {
		t.Errorf("page %d of %d, want 1 of 10", s.CurrentPage, s.PageCount)
	}
	for page := s.VisibleStart; page <= s.VisibleEnd; page++ {
		if w := wrapperInfo(t, s, page); !w.Loaded {
			t.Errorf("visible page %d not loaded", page)
		}
	}
	img, scale, err := v.PageImage(1)
	if err != nil {
		t.Fatalf("PageImage failed: %v", err)
	}
	if scale != 0.7 || img.Bounds().Dx() == 0 {
		t.Errorf("page image %v at %g", img.Bounds(), scale)
	}
}

func TestOpen_Failure(t *testing.T) {
	v := newViewer(t, nil)
	doc := document.NewMock()
	err := v.Open(context.Background(), doc, OpenOptions{})
	if !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("err = %v, want ErrOpenFailed", err)
	}
	if v.State() != StateClosed || v.IsOpen() {
		t.Error("viewer should stay closed")
	}
	if !doc.Closed() {
		t.Error("failed document should be closed")
	}
	if err := v.ScrollToPage(1); !errors.Is(err, ErrNotOpen) {
		t.Errorf("ScrollToPage err = %v, want ErrNotOpen", err)
	}
}

// Scenario A.
func TestScrollToBottomAndBack(t *testing.T) {
	v := newViewer(t, nil)
	doc := openMock(t, v, 50)
	waitIdle(t, v)

	buffer := v.opts.BufferPages
	maxTop := v.Snapshot().Surface.MaxScrollTop()
	for step := 1; step <= 20; step++ {
		if err := v.Scroll(maxTop*float64(step)/20, 0); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		s := v.Snapshot()
		bound := s.VisibleEnd - s.VisibleStart + 1 + 2*buffer
		if live := liveCount(s); live > bound {
			t.Errorf("step %d: %d live wrappers, bound %d", step, live, bound)
		}
		if open := doc.OpenPages(); open > s.Cache.Materialized {
			t.Errorf("step %d: %d decoder pages open for %d wrappers", step, open, s.Cache.Materialized)
		}
	}
	waitIdle(t, v)
	if got := v.CurrentPage(); got != 50 {
		t.Errorf("current page at bottom = %d, want 50", got)
	}

	if err := v.Scroll(0, 0); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)

	s := v.Snapshot()
	if w := wrapperInfo(t, s, 1); !w.Loaded {
		t.Error("page 1 should be loaded again")
	}
	if _, _, err := v.PageImage(1); err != nil {
		t.Errorf("page 1 canvas not visible: %v", err)
	}
	v.mu.Lock()
	_, stillCached := v.cache.Get(50)
	v.mu.Unlock()
	if stillCached {
		t.Error("page 50 should have been evicted")
	}
	if s.Failures != 0 {
		t.Errorf("failures = %d", s.Failures)
	}
}

func TestBoundedLiveWrappersAnyPosition(t *testing.T) {
	v := newViewer(t, nil)
	doc := openMock(t, v, 200)
	doc.SetRenderDelay(2 * time.Millisecond)

	for _, page := range []int{10, 80, 3, 199, 120, 60} {
		if err := v.ScrollToPage(page); err != nil {
			t.Fatal(err)
		}
		waitIdle(t, v)
		s := v.Snapshot()
		bound := s.VisibleEnd - s.VisibleStart + 1 + 2*v.opts.BufferPages
		if live := liveCount(s); live > bound {
			t.Errorf("page %d: %d live wrappers, bound %d", page, live, bound)
		}
		if s.Cache.Materialized > bound {
			t.Errorf("page %d: %d wrappers materialized, bound %d", page, s.Cache.Materialized, bound)
		}
	}
}

func TestFastScrollJumpsLeaveNoTasks(t *testing.T) {
	v := newViewer(t, nil)
	doc := openMock(t, v, 500)
	waitIdle(t, v)
	doc.SetRenderDelay(20 * time.Millisecond)

	for _, page := range []int{100, 200, 300, 400} {
		if err := v.ScrollToPage(page); err != nil {
			t.Fatal(err)
		}
		v.mu.Lock()
		active := v.registry.Active()
		v.mu.Unlock()
		if active >= 8 {
			t.Errorf("after jump to %d: %d active render tasks", page, active)
		}
	}
	if !v.Snapshot().FastScrolling {
		t.Error("jumps should register as fast scrolling")
	}

	waitIdle(t, v)
	v.mu.Lock()
	active := v.registry.Active()
	v.mu.Unlock()
	if active != 0 {
		t.Errorf("%d render tasks leaked", active)
	}

	s := v.Snapshot()
	if s.CurrentPage != 400 {
		t.Errorf("current page = %d, want 400", s.CurrentPage)
	}
	if w := wrapperInfo(t, s, 400); !w.Loaded {
		t.Error("page 400 should be rendered after settling")
	}
	for _, page := range doc.Completed() {
		if page > 150 && page < 350 {
			t.Errorf("intermediate page %d was rendered", page)
		}
	}
}

func TestQualityCheck_WithinToleranceStartsNothing(t *testing.T) {
	v := newViewer(t, nil)
	openMock(t, v, 10)
	waitIdle(t, v)
	before := v.Snapshot().Renders.Started

	if _, err := v.SetZoom(0.7 * 1.04); err != nil {
		t.Fatal(err)
	}
	n, err := v.QualityCheck()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("QualityCheck scheduled %d pages, want 0", n)
	}
	waitIdle(t, v)
	if after := v.Snapshot().Renders.Started; after != before {
		t.Errorf("render tasks started: %d -> %d", before, after)
	}
}

func TestZoom_QualityRerenderAfterSettle(t *testing.T) {
	v := newViewer(t, nil)
	openMock(t, v, 10)
	waitIdle(t, v)

	if _, err := v.SetZoom(1.4); err != nil {
		t.Fatal(err)
	}
	if v.State() != StateZooming {
		t.Errorf("state = %s, want %s", v.State(), StateZooming)
	}
	// The old canvas is still shown before the quality pass.
	if _, scale, err := v.PageImage(1); err != nil || scale != 0.7 {
		t.Errorf("before quality pass: scale %g, err %v", scale, err)
	}

	waitIdle(t, v)
	s := v.Snapshot()
	if s.QualityRerenders == 0 {
		t.Error("expected quality re-renders")
	}
	for page := s.VisibleStart; page <= s.VisibleEnd; page++ {
		w := wrapperInfo(t, s, page)
		if !w.Loaded || !approx(w.RenderScale, 1.4, 1e-9) {
			t.Errorf("page %d: loaded=%v render scale %g, want 1.4", page, w.Loaded, w.RenderScale)
		}
	}
}

func TestZoom_BufferPagesRerenderAtNewScale(t *testing.T) {
	v := newViewer(t, nil)
	openMock(t, v, 20)
	waitIdle(t, v)

	if _, err := v.SetZoom(3.0); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)
	for _, w := range v.Snapshot().Wrappers {
		if w.Loaded && !approx(w.RenderScale, 3.0, 1e-9) {
			t.Errorf("after zoom: page %d loaded at render scale %g, want 3", w.Page, w.RenderScale)
		}
	}

	// Scroll slowly onto the buffer pages.
	clock := time.Now()
	v.mu.Lock()
	v.now = func() time.Time { return clock }
	v.mu.Unlock()
	top := v.Snapshot().Surface.ScrollTop
	for i := 1; i <= 30; i++ {
		v.mu.Lock()
		clock = clock.Add(100 * time.Millisecond)
		v.mu.Unlock()
		if err := v.Scroll(top+float64(i*100), 0); err != nil {
			t.Fatal(err)
		}
	}
	waitIdle(t, v)

	s := v.Snapshot()
	for page := s.VisibleStart; page <= s.VisibleEnd; page++ {
		w := wrapperInfo(t, s, page)
		if !w.Loaded || !approx(w.RenderScale, 3.0, 1e-9) {
			t.Errorf("visible page %d: loaded=%v render scale %g, want 3", page, w.Loaded, w.RenderScale)
		}
	}
}

func TestTargetScale_DevicePixelRatioAndCap(t *testing.T) {
	v := newViewer(t, func(c *Config) {
		c.Options.DevicePixelRatio = 2
		c.Options.MaxCanvasPixels = 500000
	})
	openMock(t, v, 3)
	waitIdle(t, v)

	v.mu.Lock()
	w, _ := v.cache.Get(1)
	got := v.targetScaleLocked(w)
	v.mu.Unlock()

	// 0.7 * 2 would exceed the pixel cap for a 612x792 page.
	want := math.Sqrt(500000 / (612.0 * 792.0))
	if !approx(got, want, 1e-9) {
		t.Errorf("target scale = %g, want %g", got, want)
	}
	s := v.Snapshot()
	if w := wrapperInfo(t, s, 1); !approx(w.RenderScale, want, 1e-9) {
		t.Errorf("render scale = %g, want %g", w.RenderScale, want)
	}
}

// Scenario B.
func TestRotate_SwapsMetrics(t *testing.T) {
	v := newViewer(t, nil)
	openMock(t, v, 10)
	waitIdle(t, v)

	if err := v.Rotate(); err != nil {
		t.Fatal(err)
	}
	v.mu.Lock()
	e, _ := v.metrics.Entry(3)
	total := v.metrics.TotalHeight()
	surface := v.zoom.Surface()
	scale := v.zoom.Scale()
	v.mu.Unlock()

	if e.BaseWidth != 792 || e.BaseHeight != 612 {
		t.Errorf("page 3 = %gx%g, want 792x612", e.BaseWidth, e.BaseHeight)
	}
	if e.TopOffset != 2*612 {
		t.Errorf("page 3 top = %g, want %d", e.TopOffset, 2*612)
	}
	if total != 10*612 {
		t.Errorf("total height = %g, want %d", total, 10*612)
	}
	if !approx(surface.ContentHeight, total*scale, 1e-6) {
		t.Errorf("content height = %g, want %g", surface.ContentHeight, total*scale)
	}

	waitIdle(t, v)
	img, _, err := v.PageImage(1)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() <= img.Bounds().Dy() {
		t.Errorf("rotated canvas %v should be landscape", img.Bounds())
	}
	if !v.HasChanges() {
		t.Error("rotation is an unsaved change")
	}
}

// Scenario C.
func TestFitToWidthThenWheelStaysInBounds(t *testing.T) {
	v := newViewer(t, nil)
	openMock(t, v, 5)

	if _, err := v.FitToWidth(); err != nil {
		t.Fatal(err)
	}
	// (800-40)/612 rounds to 1.2.
	if s := v.Snapshot().Zoom.Scale; !approx(s, 1.2, 1e-9) {
		t.Errorf("fit width scale = %g, want 1.2", s)
	}

	if _, err := v.ZoomAt(1e6, 400, 300); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 30; i++ {
		if _, err := v.Wheel(-100, 400, 300); err != nil {
			t.Fatal(err)
		}
	}
	if s := v.Snapshot().Zoom.Scale; s > 5.0 {
		t.Errorf("scale = %g exceeds max", s)
	}
	for i := 0; i < 100; i++ {
		if _, err := v.Wheel(100, 400, 300); err != nil {
			t.Fatal(err)
		}
	}
	if s := v.Snapshot().Zoom.Scale; s < 0.2 {
		t.Errorf("scale = %g below min", s)
	}
}

func TestResize_RefitsStickyFitMode(t *testing.T) {
	v := newViewer(t, nil)
	openMock(t, v, 5)

	if err := v.Resize(1600, 1200); err != nil {
		t.Fatal(err)
	}
	// min((1560)/612, (1160)/792) rounds to 1.5.
	waitFor(t, 2*time.Second, func() bool {
		return approx(v.Snapshot().Zoom.Scale, 1.5, 1e-9)
	})
	if err := v.Resize(0, 10); err == nil {
		t.Error("expected error for an empty viewport")
	}
}

func TestNavigation(t *testing.T) {
	v := newViewer(t, nil)
	openMock(t, v, 10)

	if err := v.ScrollToPage(4); err != nil {
		t.Fatal(err)
	}
	if got := v.CurrentPage(); got != 4 {
		t.Errorf("current = %d, want 4", got)
	}
	_ = v.NextPage()
	_ = v.NextPage()
	_ = v.PrevPage()
	if got := v.CurrentPage(); got != 5 {
		t.Errorf("current = %d, want 5", got)
	}
	_ = v.ScrollToPage(999)
	if got := v.CurrentPage(); got != 10 {
		t.Errorf("clamped current = %d, want 10", got)
	}
	_ = v.ScrollToPage(-3)
	if got := v.CurrentPage(); got != 1 {
		t.Errorf("clamped current = %d, want 1", got)
	}
}

func TestRenderFailureIsIsolated(t *testing.T) {
	v := newViewer(t, nil)
	doc := document.NewMock(document.UniformSizes(4, document.Letter)...)
	boom := errors.New("corrupt page")
	doc.FailPage(2, boom)
	if err := v.Open(context.Background(), doc, OpenOptions{}); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)

	s := v.Snapshot()
	w2 := wrapperInfo(t, s, 2)
	if w2.Loaded || w2.Failed == "" {
		t.Errorf("page 2 should be failed and unloaded: %+v", w2)
	}
	for _, page := range []int{1, 3} {
		if !wrapperInfo(t, s, page).Loaded {
			t.Errorf("page %d should be loaded", page)
		}
	}
	if s.Failures != 1 {
		t.Errorf("failures = %d, want 1", s.Failures)
	}

	// Failed wrappers are not retried by later syncs.
	_ = v.Scroll(1, 0)
	waitIdle(t, v)
	count := 0
	for _, page := range doc.Started() {
		if page == 2 {
			count++
		}
	}
	if count != 1 {
		t.Errorf("page 2 rendered %d times, want 1", count)
	}
}

func TestLayersAndEditMode(t *testing.T) {
	v := newViewer(t, nil)
	doc := document.NewMock(document.UniformSizes(3, document.Letter)...)
	doc.SetText(1, []document.TextItem{{Text: "Hello", FontSize: 12, X: 72, Y: 700, W: 30}})
	doc.SetAnnotations(1, []document.Annotation{
		{Kind: document.AnnotationLink, Rect: [4]float64{72, 600, 172, 620}, URI: "https://example.com"},
	})
	if err := v.Open(context.Background(), doc, OpenOptions{}); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)

	text, annots, err := v.PageLayers(1)
	if err != nil {
		t.Fatal(err)
	}
	if text == nil || len(text.Spans) != 1 || text.Spans[0].Text != "Hello" {
		t.Fatalf("text layer = %+v", text)
	}
	if text.Width != 612 || text.Height != 792 {
		t.Errorf("text layer sized %gx%g, want base viewport", text.Width, text.Height)
	}
	if annots == nil || len(annots.Elements) != 1 || annots.Elements[0].URI != "https://example.com" {
		t.Fatalf("annotation layer = %+v", annots)
	}

	if err := v.EnterEditMode(1); err != nil {
		t.Fatal(err)
	}
	if v.State() != StateEditMode {
		t.Errorf("state = %s, want %s", v.State(), StateEditMode)
	}
	if text, _, _ := v.PageLayers(1); text != nil {
		t.Error("layers should be stripped in edit mode")
	}
	if err := v.EnterEditMode(99); !errors.Is(err, document.ErrPageRange) {
		t.Errorf("err = %v, want ErrPageRange", err)
	}

	if err := v.ExitEditMode(); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, v)
	if text, _, _ := v.PageLayers(1); text == nil {
		t.Error("layers should be rebuilt after edit mode")
	}
}

func TestClose_ReleasesEverything(t *testing.T) {
	v := newViewer(t, nil)
	doc := openMock(t, v, 20)
	doc.SetRenderDelay(50 * time.Millisecond)
	_ = v.ScrollToPage(10)

	if err := v.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if v.State() != StateClosed {
		t.Errorf("state = %s", v.State())
	}
	if !doc.Closed() {
		t.Error("document should be closed")
	}
	if n := doc.OpenPages(); n != 0 {
		t.Errorf("%d decoder pages leaked", n)
	}
	if err := v.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func exportSource(pages int) Source {
	return Source{Data: document.MinimalPDF(document.UniformSizes(pages, document.Letter)...), Name: "doc.pdf"}
}

func TestClose_AutoSavesChanges(t *testing.T) {
	saver := &fakeSaver{}
	v := newViewer(t, func(c *Config) { c.Saver = saver })
	doc := document.NewMock(document.UniformSizes(3, document.Letter)...)
	if err := v.Open(context.Background(), doc, OpenOptions{Source: exportSource(3)}); err != nil {
		t.Fatal(err)
	}
	if err := v.Rotate(); err != nil {
		t.Fatal(err)
	}

	saver.mu.Lock()
	saver.err = errors.New("disk full")
	saver.mu.Unlock()
	if err := v.Close(context.Background()); !errors.Is(err, ErrExportFailed) {
		t.Fatalf("err = %v, want ErrExportFailed", err)
	}
	if !v.IsOpen() {
		t.Fatal("a failed auto-save should keep the document open")
	}

	saver.mu.Lock()
	saver.err = nil
	saver.mu.Unlock()
	if err := v.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, as := saver.calls(); as != 1 {
		t.Errorf("SaveFileAs calls = %d, want 1", as)
	}
	n, err := export.CountPages(saver.data[0])
	if err != nil || n != 3 {
		t.Errorf("exported page count = %d (%v), want 3", n, err)
	}
}

func TestClose_NoAutoSaveWithoutChanges(t *testing.T) {
	saver := &fakeSaver{}
	v := newViewer(t, func(c *Config) { c.Saver = saver })
	doc := document.NewMock(document.UniformSizes(2, document.Letter)...)
	if err := v.Open(context.Background(), doc, OpenOptions{Source: exportSource(2)}); err != nil {
		t.Fatal(err)
	}
	if err := v.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if saved, as := saver.calls(); saved+as != 0 {
		t.Errorf("unexpected save calls: %d, %d", saved, as)
	}
}

func TestSave_WritesBackAndClearsChanges(t *testing.T) {
	saver := &fakeSaver{}
	var saved []files.Handle
	v := newViewer(t, func(c *Config) {
		c.Saver = saver
		c.OnSaved = func(h files.Handle, _ []byte) { saved = append(saved, h) }
	})
	doc := document.NewMock(document.UniformSizes(2, document.Letter)...)
	src := exportSource(2)
	src.Handle = files.Handle{Path: "/docs/doc.pdf"}
	if err := v.Open(context.Background(), doc, OpenOptions{Source: src}); err != nil {
		t.Fatal(err)
	}
	_ = v.Rotate()
	overlays := v.Annotations().(*export.OverlaySet)
	overlays.AddText(1, export.TextBox{X: 10, Y: 10, Text: "note"})

	h, err := v.Save(context.Background())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if h.Path != "/docs/doc.pdf" {
		t.Errorf("saved to %s", h.Path)
	}
	if v.HasChanges() {
		t.Error("changes should be cleared after save")
	}
	if diff := cmp.Diff([]files.Handle{h}, saved); diff != "" {
		t.Errorf("OnSaved mismatch (-want +got):\n%s", diff)
	}

	h2, err := v.SaveAs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h2.Path != "/exports/doc.pdf" {
		t.Errorf("save as went to %s", h2.Path)
	}
	if w, as := saver.calls(); w != 1 || as != 1 {
		t.Errorf("calls = %d save, %d save as", w, as)
	}
}

func TestSave_ExportFailureWritesNothing(t *testing.T) {
	saver := &fakeSaver{}
	v := newViewer(t, func(c *Config) { c.Saver = saver })
	doc := document.NewMock(document.UniformSizes(2, document.Letter)...)
	src := Source{Data: []byte("not a pdf"), Handle: files.Handle{Path: "/docs/doc.pdf"}}
	if err := v.Open(context.Background(), doc, OpenOptions{Source: src}); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Save(context.Background()); !errors.Is(err, ErrExportFailed) {
		t.Fatalf("err = %v, want ErrExportFailed", err)
	}
	if saved, as := saver.calls(); saved+as != 0 {
		t.Error("nothing should be written on export failure")
	}
	if v.State() != StateViewing && v.State() != StateZooming {
		t.Errorf("state after failed save = %s", v.State())
	}
}

func TestReopen_PreservesState(t *testing.T) {
	v := newViewer(t, nil)
	first := openMock(t, v, 20)
	waitIdle(t, v)
	_, _ = v.SetZoom(1.5)
	_ = v.Rotate()
	_ = v.ScrollToPage(7)

	second := document.NewMock(document.UniformSizes(20, document.Letter)...)
	if err := v.Open(context.Background(), second, OpenOptions{PreserveState: true}); err != nil {
		t.Fatal(err)
	}
	if !first.Closed() {
		t.Error("replaced document should be closed")
	}
	if first.OpenPages() != 0 {
		t.Errorf("%d decoder pages of the old document leaked", first.OpenPages())
	}

	s := v.Snapshot()
	if s.Zoom.Rotation != 90 || s.CurrentPage != 7 {
		t.Errorf("restored rotation %d page %d, want 90 and 7", s.Zoom.Rotation, s.CurrentPage)
	}
	if !approx(s.Zoom.Scale, 1.5, 1e-9) {
		t.Errorf("restored scale = %g, want 1.5", s.Zoom.Scale)
	}
	if s.TotalHeight != 20*612 {
		t.Errorf("metrics should be rotated, total height %g", s.TotalHeight)
	}

	third := document.NewMock(document.UniformSizes(5, document.Letter)...)
	if err := v.Open(context.Background(), third, OpenOptions{}); err != nil {
		t.Fatal(err)
	}
	if s := v.Snapshot(); s.Zoom.Rotation != 0 || s.CurrentPage != 1 {
		t.Errorf("fresh open kept rotation %d page %d", s.Zoom.Rotation, s.CurrentPage)
	}
}
