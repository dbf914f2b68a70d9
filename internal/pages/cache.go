package pages

import (
	"log/slog"
	"sort"

	"github.com/jackzampolin/folio/internal/layout"
	"github.com/jackzampolin/folio/internal/render"
)

// DefaultBuffer is the number of pages kept on each side of the visible
// range.
const DefaultBuffer = 2

// CacheConfig configures a Cache.
type CacheConfig struct {
	Metrics  *layout.Metrics
	Registry *render.Registry
	Buffer   int // (default: 2, negative for none)
	Logger   *slog.Logger
}

// Cache holds the materialized wrappers. It is not safe for concurrent
// use; the viewer serializes access.
type Cache struct {
	metrics  *layout.Metrics
	registry *render.Registry
	buffer   int
	logger   *slog.Logger

	wrappers map[int]*Wrapper
	created  int64
	evicted  int64
}

// NewCache creates an empty cache.
func NewCache(cfg CacheConfig) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := cfg.Buffer
	if buffer < 0 {
		buffer = 0
	} else if buffer == 0 {
		buffer = DefaultBuffer
	}
	return &Cache{
		metrics:  cfg.Metrics,
		registry: cfg.Registry,
		buffer:   buffer,
		logger:   logger.With("component", "page_cache"),
		wrappers: make(map[int]*Wrapper),
	}
}

// Buffer returns the number of pages kept on each side of the visible range.
func (c *Cache) Buffer() int {
	return c.buffer
}

// KeepRange expands [start, end] by the buffer, clamped to the document.
func (c *Cache) KeepRange(start, end int) (int, int) {
	count := c.metrics.PageCount()
	lo, hi := start-c.buffer, end+c.buffer
	if lo < 1 {
		lo = 1
	}
	if hi > count {
		hi = count
	}
	return lo, hi
}

// Sync evicts wrappers outside the keep range of [start, end] and creates
// the missing ones inside it. It returns the created page numbers in
// ascending order.
func (c *Cache) Sync(start, end int) []int {
	if end < start {
		start, end = end, start
	}
	lo, hi := c.KeepRange(start, end)

	for page, w := range c.wrappers {
		if page < lo || page > hi {
			c.Unload(w)
			delete(c.wrappers, page)
			c.evicted++
		}
	}

	var created []int
	for page := lo; page <= hi; page++ {
		if _, ok := c.wrappers[page]; ok {
			continue
		}
		w := &Wrapper{PageNumber: page}
		c.position(w)
		c.wrappers[page] = w
		c.created++
		created = append(created, page)
	}
	if len(created) > 0 {
		c.logger.Debug("wrappers created", "pages", created, "keep_start", lo, "keep_end", hi)
	}
	return created
}

func (c *Cache) position(w *Wrapper) {
	e, _ := c.metrics.Entry(w.PageNumber)
	w.Top = e.TopOffset
	w.Width = e.BaseWidth
	w.Height = e.BaseHeight
}

// Unload cancels the page's render and layer work, releases its decoder
// handle and canvas, and resets it to unloaded. The wrapper stays in the
// cache.
func (c *Cache) Unload(w *Wrapper) {
	if c.registry != nil {
		c.registry.Cancel(w.PageNumber)
	}
	w.StripLayers()
	if w.Page != nil {
		w.Page.Cleanup()
		w.Page = nil
	}
	w.SetCanvas(nil)
	w.Loaded = false
	w.Rendering = false
	w.RenderScale = 0
}

// UnloadAll unloads and removes every wrapper.
func (c *Cache) UnloadAll() {
	for page, w := range c.wrappers {
		c.Unload(w)
		delete(c.wrappers, page)
		c.evicted++
	}
}

// Reposition re-derives every wrapper's geometry from the metrics.
func (c *Cache) Reposition() {
	for _, w := range c.wrappers {
		c.position(w)
	}
}

// Get returns the wrapper for page.
func (c *Cache) Get(page int) (*Wrapper, bool) {
	w, ok := c.wrappers[page]
	return w, ok
}

// Pages returns the materialized page numbers in ascending order.
func (c *Cache) Pages() []int {
	pages := make([]int, 0, len(c.wrappers))
	for page := range c.wrappers {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages
}

// Each calls fn for every wrapper in ascending page order.
func (c *Cache) Each(fn func(*Wrapper)) {
	for _, page := range c.Pages() {
		fn(c.wrappers[page])
	}
}

// Materialized returns the number of wrappers.
func (c *Cache) Materialized() int {
	return len(c.wrappers)
}

// Live returns the number of wrappers that are loaded or rendering.
func (c *Cache) Live() int {
	n := 0
	for _, w := range c.wrappers {
		if w.Live() {
			n++
		}
	}
	return n
}

// CacheStats reports wrapper counts.
type CacheStats struct {
	Materialized int   `json:"materialized"`
	Live         int   `json:"live"`
	Created      int64 `json:"created"`
	Evicted      int64 `json:"evicted"`
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Materialized: c.Materialized(),
		Live:         c.Live(),
		Created:      c.created,
		Evicted:      c.evicted,
	}
}
