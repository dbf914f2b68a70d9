package zoom

import (
	"math"
	"sync"
	"testing"
	"time"
)

// stackLayout is a uniform stack of pages.
type stackLayout struct {
	pages         int
	width, height float64
}

func (l *stackLayout) ContentSize() (float64, float64) {
	return l.width, l.height * float64(l.pages)
}

func (l *stackLayout) CurrentPageSize() (float64, float64) {
	return l.width, l.height
}

func newTestController(t *testing.T, layout *stackLayout, mutate func(*Config)) (*Controller, *sync.Mutex) {
	t.Helper()
	mu := &sync.Mutex{}
	cfg := Config{
		Layout:          layout,
		Locker:          mu,
		QualityDebounce: 20 * time.Millisecond,
		FitDebounce:     20 * time.Millisecond,
		FitPadding:      40,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c := New(cfg)
	mu.Lock()
	c.Resize(800, 600)
	mu.Unlock()
	return c, mu
}

func centerRatio(s Surface) float64 {
	return (s.ScrollTop + s.ClientHeight/2) / s.ScrollHeight()
}

func TestSetZoom_Clamps(t *testing.T) {
	c, mu := newTestController(t, &stackLayout{pages: 10, width: 612, height: 792}, nil)
	mu.Lock()
	defer mu.Unlock()

	tests := []struct {
		in, want float64
	}{
		{1.5, 1.5},
		{100, 5.0},
		{0.01, 0.2},
		{-3, 0.2},
		{5.0, 5.0},
	}
	for _, tt := range tests {
		c.SetZoom(tt.in, nil)
		if c.Scale() != tt.want {
			t.Errorf("SetZoom(%g) -> %g, want %g", tt.in, c.Scale(), tt.want)
		}
	}
}

func TestSetZoom_KeepsFullPrecision(t *testing.T) {
	c, mu := newTestController(t, &stackLayout{pages: 3, width: 612, height: 792}, nil)
	mu.Lock()
	defer mu.Unlock()

	c.SetZoom(1.23456789, nil)
	if c.Scale() != 1.23456789 {
		t.Errorf("scale = %v, want full precision", c.Scale())
	}
	if c.Percent() != 123 {
		t.Errorf("Percent = %d, want 123", c.Percent())
	}
}

func TestSetZoom_CenterStability(t *testing.T) {
	c, mu := newTestController(t, &stackLayout{pages: 50, width: 612, height: 792}, nil)
	mu.Lock()
	defer mu.Unlock()

	c.SetScroll(10000, 0)
	before := centerRatio(c.Surface())
	for _, s := range []float64{1.5, 2.0, 3.3, 0.8, 1.1} {
		c.SetZoom(s, nil)
		after := centerRatio(c.Surface())
		if math.Abs(after-before) >= 0.05 {
			t.Errorf("scale %g: center ratio moved from %.4f to %.4f", s, before, after)
		}
	}
}

func TestSetZoom_FocalPointStability(t *testing.T) {
	c, mu := newTestController(t, &stackLayout{pages: 50, width: 612, height: 792}, nil)
	mu.Lock()
	defer mu.Unlock()

	c.SetScroll(12000, 0)
	focus := c.FocusAt(400, 100)
	before := centerRatio(c.Surface())

	for _, s := range []float64{1.2, 1.8, 2.5} {
		c.SetZoom(s, &focus)
		after := centerRatio(c.Surface())
		if math.Abs(after-before) >= 0.05 {
			t.Errorf("scale %g: center ratio moved from %.4f to %.4f", s, before, after)
		}
		// The focal content point stays under the anchor.
		got := c.FocusAt(400, 100)
		if math.Abs(got.BaseY-focus.BaseY) > 1e-6 {
			t.Errorf("scale %g: focal point drifted to %g, want %g", s, got.BaseY, focus.BaseY)
		}
	}
}

func TestSurface_CentersSmallContent(t *testing.T) {
	c, mu := newTestController(t, &stackLayout{pages: 1, width: 612, height: 792}, nil)
	mu.Lock()
	defer mu.Unlock()

	c.SetZoom(0.5, nil)
	s := c.Surface()
	if s.ContentWidth != 306 || s.ContentHeight != 396 {
		t.Fatalf("content = %gx%g, want 306x396", s.ContentWidth, s.ContentHeight)
	}
	if s.MarginLeft != 247 || s.MarginTop != 102 {
		t.Errorf("margins = %g,%g, want 247,102", s.MarginLeft, s.MarginTop)
	}
	if s.ScrollTop != 0 || s.ScrollLeft != 0 {
		t.Errorf("scroll = %g,%g, want 0,0", s.ScrollTop, s.ScrollLeft)
	}
	if s.Transform != 0.5 {
		t.Errorf("transform = %g, want 0.5", s.Transform)
	}
}

func TestFitToWidthThenWheelStaysInBounds(t *testing.T) {
	c, mu := newTestController(t, &stackLayout{pages: 5, width: 612, height: 792}, nil)
	mu.Lock()
	defer mu.Unlock()

	c.FitToWidth()
	if c.Scale() != 1.2 {
		t.Fatalf("fit width scale = %g, want 1.2", c.Scale())
	}
	c.FitToWidth()
	if c.FitMode() != FitWidth {
		t.Errorf("fit mode = %q, want width", c.FitMode())
	}

	c.SetZoom(c.Scale()*50, nil)
	if c.Scale() != DefaultMaxZoom {
		t.Errorf("scale = %g, want clamped to %g", c.Scale(), DefaultMaxZoom)
	}
	for i := 0; i < 40; i++ {
		c.Wheel(-120, 400, 300)
		if c.Scale() < DefaultMinZoom || c.Scale() > DefaultMaxZoom {
			t.Fatalf("wheel in: scale %g out of bounds", c.Scale())
		}
	}
	for i := 0; i < 80; i++ {
		c.Wheel(120, 400, 300)
		if c.Scale() < DefaultMinZoom || c.Scale() > DefaultMaxZoom {
			t.Fatalf("wheel out: scale %g out of bounds", c.Scale())
		}
	}
	if c.Scale() != DefaultMinZoom {
		t.Errorf("scale = %g, want %g", c.Scale(), DefaultMinZoom)
	}
	if c.FitMode() != FitNone {
		t.Error("manual zoom should clear the fit mode")
	}
}

func TestFitScale_RoundedWithinBounds(t *testing.T) {
	tests := []struct {
		name      string
		pageWidth float64
		minZoom   float64
		maxZoom   float64
		want      float64
	}{
		{"rounds_to_tenth", 760 / 1.23, 0.2, 5, 1.2},
		{"min_not_on_tenth", 3200, 0.23, 5, 0.23},
		{"max_not_on_tenth", 300, 0.2, 2.46, 2.46},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mu := newTestController(t, &stackLayout{pages: 3, width: tt.pageWidth, height: 792}, func(cfg *Config) {
				cfg.MinZoom = tt.minZoom
				cfg.MaxZoom = tt.maxZoom
			})
			mu.Lock()
			defer mu.Unlock()
			got, ok := c.FitScale(FitWidth)
			if !ok {
				t.Fatal("FitScale not computable")
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("FitScale = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestFitToPage(t *testing.T) {
	c, mu := newTestController(t, &stackLayout{pages: 5, width: 612, height: 792}, nil)
	mu.Lock()
	defer mu.Unlock()

	c.FitToPage()
	// min(760/612, 560/792) = 0.707 -> 0.7
	if c.Scale() != 0.7 {
		t.Errorf("fit page scale = %g, want 0.7", c.Scale())
	}
}

func TestResize_RefitsAfterDebounce(t *testing.T) {
	c, mu := newTestController(t, &stackLayout{pages: 5, width: 612, height: 792}, nil)

	mu.Lock()
	c.FitToWidth()
	c.Resize(1264, 600)
	if c.Scale() != 1.2 {
		t.Errorf("scale changed before debounce: %g", c.Scale())
	}
	mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		s := c.Scale()
		mu.Unlock()
		if s == 2.0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("fit was not re-applied after resize")
}

func TestQualityDebounce(t *testing.T) {
	calls := make(chan State, 4)
	var presented []float64
	c, mu := newTestController(t, &stackLayout{pages: 5, width: 612, height: 792}, func(cfg *Config) {
		cfg.OnQuality = func(s State) { calls <- s }
		cfg.OnPresentation = func(prev, next State) { presented = append(presented, next.Scale) }
	})

	mu.Lock()
	c.SetZoom(1.5, nil)
	c.SetZoom(2.0, nil)
	c.SetZoom(2.0, nil)
	if len(presented) != 2 {
		t.Errorf("presentation ran %d times, want 2", len(presented))
	}
	if !c.QualityPending() {
		t.Error("quality pass should be pending")
	}
	mu.Unlock()

	select {
	case s := <-calls:
		if s.Scale != 2.0 {
			t.Errorf("quality saw scale %g, want 2", s.Scale)
		}
	case <-time.After(time.Second):
		t.Fatal("quality pass never ran")
	}
	select {
	case <-calls:
		t.Error("quality pass ran twice")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestRotate(t *testing.T) {
	layout := &stackLayout{pages: 2, width: 612, height: 792}
	var rotations []int
	c, mu := newTestController(t, layout, func(cfg *Config) {
		cfg.OnRotate = func(prev, next State) {
			rotations = append(rotations, next.Rotation)
			layout.width, layout.height = layout.height, layout.width
		}
	})
	mu.Lock()
	defer mu.Unlock()

	for i := 0; i < 4; i++ {
		c.Rotate()
	}
	want := []int{90, 180, 270, 0}
	for i := range want {
		if rotations[i] != want[i] {
			t.Errorf("rotation %d = %d, want %d", i, rotations[i], want[i])
		}
	}

	c.Rotate()
	if c.Surface().ContentHeight != 612*2 {
		t.Errorf("content height = %g, want %g", c.Surface().ContentHeight, 612.0*2)
	}
	if c.SetRotation(450) {
		t.Error("SetRotation to the same normalized angle should be a no-op")
	}
}

func TestReset(t *testing.T) {
	c, mu := newTestController(t, &stackLayout{pages: 2, width: 612, height: 792}, nil)
	mu.Lock()
	defer mu.Unlock()

	c.FitToWidth()
	c.Reset(State{Scale: 9, Rotation: -90})
	if c.Scale() != 5 || c.Rotation() != 270 {
		t.Errorf("state = %+v", c.State())
	}
	if c.FitMode() != FitNone {
		t.Error("Reset should clear fit mode")
	}
	if c.QualityPending() {
		t.Error("Reset should drop pending quality pass")
	}
}

func TestPinch(t *testing.T) {
	c, mu := newTestController(t, &stackLayout{pages: 2, width: 612, height: 792}, nil)
	mu.Lock()
	defer mu.Unlock()

	c.Pinch(2, 400, 300)
	if c.Scale() != 2 {
		t.Errorf("scale = %g, want 2", c.Scale())
	}
	if c.Pinch(0, 0, 0) || c.Pinch(math.NaN(), 0, 0) {
		t.Error("invalid pinch ratio should be ignored")
	}
}
