package render

import (
	"container/heap"
	"math"
	"sort"
)

// Queue is the set of pages waiting to render. Pops return the page whose
// center is nearest the viewport center at the time of the pop; equal
// distances are served in FIFO order.
//
// Queue is not safe for concurrent use; the scheduler guards it.
type Queue struct {
	items   pageHeap
	pending map[int]*pageItem
	seq     uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		items:   make(pageHeap, 0),
		pending: make(map[int]*pageItem),
	}
	heap.Init(&q.items)
	return q
}

// Push adds page unless it is already pending. It reports whether the page
// was added.
func (q *Queue) Push(page int) bool {
	if _, ok := q.pending[page]; ok {
		return false
	}
	q.seq++
	item := &pageItem{page: page, seq: q.seq}
	q.pending[page] = item
	heap.Push(&q.items, item)
	return true
}

// PopNearest removes and returns the page whose center is closest to
// center. Distances are recomputed on every pop because the viewport moves
// between pops. It returns 0 when the queue is empty.
func (q *Queue) PopNearest(center float64, pageCenter func(page int) float64) int {
	if q.items.Len() == 0 {
		return 0
	}
	for _, item := range q.items {
		item.distance = math.Abs(pageCenter(item.page) - center)
	}
	heap.Init(&q.items)
	item := heap.Pop(&q.items).(*pageItem)
	delete(q.pending, item.page)
	return item.page
}

// Remove drops page from the queue.
func (q *Queue) Remove(page int) bool {
	item, ok := q.pending[page]
	if !ok {
		return false
	}
	heap.Remove(&q.items, item.index)
	delete(q.pending, page)
	return true
}

// Contains reports whether page is pending.
func (q *Queue) Contains(page int) bool {
	_, ok := q.pending[page]
	return ok
}

// Clear drops every pending page.
func (q *Queue) Clear() {
	clear(q.items)
	q.items = q.items[:0]
	clear(q.pending)
}

// Len returns the number of pending pages.
func (q *Queue) Len() int {
	return q.items.Len()
}

// Pages returns the pending pages in ascending order.
func (q *Queue) Pages() []int {
	pages := make([]int, 0, len(q.pending))
	for page := range q.pending {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages
}

type pageItem struct {
	page     int
	seq      uint64
	distance float64
	index    int
}

// pageHeap orders by distance, then by sequence.
type pageHeap []*pageItem

func (h pageHeap) Len() int { return len(h) }

func (h pageHeap) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance < h[j].distance
	}
	return h[i].seq < h[j].seq
}

func (h pageHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pageHeap) Push(x any) {
	item := x.(*pageItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *pageHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // Avoid memory leak
	item.index = -1
	*h = old[0 : n-1]
	return item
}
