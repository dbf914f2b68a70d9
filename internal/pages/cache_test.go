package pages

import (
	"context"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/layout"
	"github.com/jackzampolin/folio/internal/render"
)

func newTestCache(t *testing.T, pages int) (*Cache, *layout.Metrics, *document.MockDocument) {
	t.Helper()
	doc := document.NewMock(document.UniformSizes(pages, document.Letter)...)
	m := layout.New()
	if err := m.Initialize(context.Background(), doc, 0); err != nil {
		t.Fatal(err)
	}
	c := NewCache(CacheConfig{Metrics: m, Registry: render.NewRegistry(nil)})
	return c, m, doc
}

// load marks w rendered with a decoder handle and a canvas.
func load(t *testing.T, w *Wrapper, doc *document.MockDocument) {
	t.Helper()
	p, err := doc.Page(context.Background(), w.PageNumber)
	if err != nil {
		t.Fatal(err)
	}
	w.Page = p
	w.SetCanvas(render.NewCanvas(image.NewRGBA(image.Rect(0, 0, 4, 4)), 1, 0))
	w.Loaded = true
	w.RenderScale = 1
	w.LayersLoaded = true
	w.TextLayer = &TextLayer{}
}

func TestSync_CreatesKeepRange(t *testing.T) {
	c, _, _ := newTestCache(t, 20)

	created := c.Sync(5, 7)
	if diff := cmp.Diff([]int{3, 4, 5, 6, 7, 8, 9}, created); diff != "" {
		t.Errorf("created mismatch (-want +got):\n%s", diff)
	}

	created = c.Sync(6, 8)
	if diff := cmp.Diff([]int{10}, created); diff != "" {
		t.Errorf("created mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{4, 5, 6, 7, 8, 9, 10}, c.Pages()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_ClampsToDocument(t *testing.T) {
	c, _, _ := newTestCache(t, 3)
	c.Sync(1, 1)
	if diff := cmp.Diff([]int{1, 2, 3}, c.Pages()); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_PositionsFromMetrics(t *testing.T) {
	c, _, _ := newTestCache(t, 10)
	c.Sync(4, 4)
	w, ok := c.Get(4)
	if !ok {
		t.Fatal("wrapper 4 missing")
	}
	if w.Top != 3*792 || w.Width != 612 || w.Height != 792 {
		t.Errorf("wrapper 4 at top=%g size=%gx%g", w.Top, w.Width, w.Height)
	}
	if w.Loaded || !w.NeedsRender() {
		t.Error("new wrapper should be unloaded and need rendering")
	}
}

func TestUnload_ReleasesResources(t *testing.T) {
	c, _, doc := newTestCache(t, 10)
	c.Sync(1, 1)
	w, _ := c.Get(1)
	load(t, w, doc)
	canvas := w.Canvas

	c.Unload(w)

	if w.Loaded || w.Rendering || w.RenderScale != 0 {
		t.Errorf("flags not reset: %+v", w)
	}
	if w.Canvas != nil || !canvas.Released() {
		t.Error("canvas not released")
	}
	if w.TextLayer != nil || w.LayersLoaded {
		t.Error("layers not stripped")
	}
	if w.Page != nil || doc.OpenPages() != 0 {
		t.Errorf("decoder page not released (open=%d)", doc.OpenPages())
	}
}

func TestUnload_CancelsRender(t *testing.T) {
	c, _, _ := newTestCache(t, 10)
	c.Sync(1, 1)
	w, _ := c.Get(1)

	task := c.registry.Start(1, 1, func(ctx context.Context, t *render.Task) error {
		<-ctx.Done()
		return ctx.Err()
	})
	w.Rendering = true

	c.Unload(w)
	<-task.Done()
	if !task.Cancelled() {
		t.Error("render task should be cancelled on unload")
	}
	if c.registry.Active() != 0 {
		t.Errorf("Active = %d", c.registry.Active())
	}
}

func TestBoundedLiveWrappers(t *testing.T) {
	const pages = 300
	c, m, doc := newTestCache(t, pages)
	clientHeight := 1000.0

	for pos := 0.0; pos < m.TotalHeight(); pos += 2345 {
		start, end := m.Range(pos, pos+clientHeight)
		c.Sync(start, end)
		c.Each(func(w *Wrapper) {
			if !w.Loaded {
				load(t, w, doc)
			}
		})

		limit := (end - start + 1) + 2*c.Buffer()
		if c.Live() > limit {
			t.Fatalf("at %g: %d live wrappers, limit %d", pos, c.Live(), limit)
		}
		if c.Materialized() > limit {
			t.Fatalf("at %g: %d materialized wrappers, limit %d", pos, c.Materialized(), limit)
		}
		if doc.OpenPages() != c.Materialized() {
			t.Fatalf("at %g: %d open decoder pages for %d wrappers", pos, doc.OpenPages(), c.Materialized())
		}
	}
}

func TestReposition(t *testing.T) {
	c, m, _ := newTestCache(t, 5)
	m.OnChange(c.Reposition)
	c.Sync(3, 3)

	m.Update(1, 612, 400)
	w, _ := c.Get(3)
	if w.Top != 400+792 {
		t.Errorf("top = %g, want %g", w.Top, 400.0+792)
	}
}

func TestUnloadAll(t *testing.T) {
	c, _, doc := newTestCache(t, 8)
	c.Sync(2, 4)
	c.Each(func(w *Wrapper) { load(t, w, doc) })

	c.UnloadAll()
	if c.Materialized() != 0 || doc.OpenPages() != 0 {
		t.Errorf("materialized=%d open=%d", c.Materialized(), doc.OpenPages())
	}
	stats := c.Stats()
	if stats.Created != 6 || stats.Evicted != 6 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWrapper_Flags(t *testing.T) {
	w := &Wrapper{PageNumber: 1}
	if !w.NeedsRender() || w.Live() || w.Visible() {
		t.Error("fresh wrapper flags wrong")
	}
	w.Rendering = true
	if w.NeedsRender() || !w.Live() {
		t.Error("rendering wrapper flags wrong")
	}
	w.Rendering = false
	w.Failed = context.DeadlineExceeded
	if w.NeedsRender() {
		t.Error("failed wrapper should not need rendering")
	}
}
