package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/viewer"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	opts, err := cfg.ViewerOptions()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(viewer.DefaultOptions(), opts); diff != "" {
		t.Errorf("default viewer options mismatch (-want +got):\n%s", diff)
	}
	if b, _ := cfg.Backend(); b != document.BackendPdftoppm {
		t.Errorf("backend = %s, want pdftoppm", b)
	}
}

func TestConfig_ViewerOptions(t *testing.T) {
	t.Run("parses durations", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Viewer.QualityDebounce = "1s"
		cfg.Viewer.FastScrollQuiet = "75ms"
		opts, err := cfg.ViewerOptions()
		if err != nil {
			t.Fatal(err)
		}
		if opts.QualityDebounce != time.Second || opts.FastScrollQuiet != 75*time.Millisecond {
			t.Errorf("durations = %s, %s", opts.QualityDebounce, opts.FastScrollQuiet)
		}
	})

	for name, mutate := range map[string]func(*Config){
		"bad duration":      func(c *Config) { c.Viewer.FitDebounce = "soon" },
		"negative duration": func(c *Config) { c.Viewer.IdleSlice = "-1s" },
		"inverted zoom":     func(c *Config) { c.Viewer.MinZoom, c.Viewer.MaxZoom = 3, 2 },
		"unknown backend":   func(c *Config) { c.Render.Backend = "ghostscript" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewManager(t *testing.T) {
	t.Run("defaults without config file", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Chdir(t.TempDir())

		mgr, err := NewManager("")
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if diff := cmp.Diff(DefaultConfig(), mgr.Get()); diff != "" {
			t.Errorf("config mismatch (-want +got):\n%s", diff)
		}
		if mgr.ConfigFile() != "" {
			t.Errorf("unexpected config file %q", mgr.ConfigFile())
		}
	})

	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
viewer:
  buffer_pages: 4
  quality_debounce: 500ms
render:
  backend: fitz
`)
		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Viewer.BufferPages != 4 || cfg.Viewer.QualityDebounce != "500ms" {
			t.Errorf("viewer = %+v", cfg.Viewer)
		}
		if cfg.Render.Backend != "fitz" {
			t.Errorf("backend = %s, want fitz", cfg.Render.Backend)
		}
		// Keys missing from the file keep their defaults.
		if cfg.Viewer.MaxZoom != 5.0 || cfg.Server.Port != "8080" {
			t.Errorf("defaults lost: max_zoom %g port %s", cfg.Viewer.MaxZoom, cfg.Server.Port)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("FOLIO_VIEWER_BUFFER_PAGES", "7")
		t.Setenv("FOLIO_SERVER_PORT", "9999")
		configFile := writeConfig(t, "viewer:\n  buffer_pages: 4\n")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatal(err)
		}
		if cfg := mgr.Get(); cfg.Viewer.BufferPages != 7 || cfg.Server.Port != "9999" {
			t.Errorf("buffer_pages %d port %s, want 7 and 9999", cfg.Viewer.BufferPages, cfg.Server.Port)
		}
	})

	t.Run("rejects invalid file", func(t *testing.T) {
		configFile := writeConfig(t, "viewer:\n  quality_debounce: later\n")
		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for invalid duration")
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "viewer:\n  buffer_pages: 2\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "viewer:\n  buffer_pages: 2\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	store := NewStore(mgr)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(i int) {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Viewer.BufferPages
			}
			done <- struct{}{}
		}(i)
	}
	for j := 0; j < 20; j++ {
		if err := store.Set(t.Context(), "viewer.buffer_pages", j%5+1, ""); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "viewer:\n  buffer_pages: 2\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Int64
	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(int64(cfg.Viewer.BufferPages))
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("viewer:\n  buffer_pages: 6\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 && lastValue.Load() == 6 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Viewer.BufferPages; got != 6 {
		t.Errorf("config not updated: buffer_pages = %d, want 6", got)
	}
	if v := lastValue.Load(); v != 6 {
		t.Errorf("callback received buffer_pages %d, want 6", v)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), mgr.Get()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
