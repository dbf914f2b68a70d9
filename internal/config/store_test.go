package config

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"viewer.buffer_pages", false},
		{"render.backend", false},
		{"a-b_c.d1", false},
		{"", true},
		{".viewer", true},
		{"viewer.", true},
		{"viewer buffer", true},
		{`viewer"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("error should wrap ErrInvalidKey: %v", err)
			}
		})
	}
}

func newTestStore(t *testing.T) (*Manager, *ManagerStore) {
	t.Helper()
	mgr, err := NewManager(writeConfig(t, "viewer:\n  buffer_pages: 3\n"))
	if err != nil {
		t.Fatal(err)
	}
	return mgr, NewStore(mgr)
}

func TestManagerStore_Get(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	entry, err := store.Get(ctx, "viewer.buffer_pages")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Value != 3 {
		t.Errorf("Get() = %+v, want the file value 3", entry)
	}

	entry, err = store.Get(ctx, "viewer.unknown")
	if err != nil || entry != nil {
		t.Errorf("Get(unknown) = %+v, %v; want nil, nil", entry, err)
	}

	if _, err := store.Get(ctx, "bad key"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Get(bad key) err = %v", err)
	}
}

func TestManagerStore_Set(t *testing.T) {
	mgr, store := newTestStore(t)
	ctx := context.Background()

	var seen []int
	mgr.OnChange(func(cfg *Config) { seen = append(seen, cfg.Viewer.BufferPages) })

	// JSON numbers decode as float64.
	if err := store.Set(ctx, "viewer.buffer_pages", 5.0, ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got := mgr.Get().Viewer.BufferPages; got != 5 {
		t.Errorf("buffer_pages = %d, want 5", got)
	}
	if err := store.Set(ctx, "viewer.auto_save_on_close", "false", ""); err != nil {
		t.Fatal(err)
	}
	if mgr.Get().Viewer.AutoSaveOnClose {
		t.Error("auto_save_on_close should be false")
	}
	if diff := cmp.Diff([]int{5, 5}, seen); diff != "" {
		t.Errorf("callbacks mismatch (-want +got):\n%s", diff)
	}

	t.Run("rejects invalid config", func(t *testing.T) {
		if err := store.Set(ctx, "viewer.quality_debounce", "eventually", ""); err == nil {
			t.Error("expected error for invalid duration")
		}
		if got := mgr.Get().Viewer.QualityDebounce; got != "300ms" {
			t.Errorf("quality_debounce = %s, want it unchanged", got)
		}
		if err := store.Set(ctx, "viewer.buffer_pages", 2.5, ""); err == nil {
			t.Error("expected error for fractional page count")
		}
		if err := store.Set(ctx, "viewer.buffer_pages", true, ""); err == nil {
			t.Error("expected error for wrong type")
		}
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		if err := store.Set(ctx, "viewer.colour", "red", ""); !errors.Is(err, ErrUnknownKey) {
			t.Errorf("err = %v, want ErrUnknownKey", err)
		}
	})
}

func TestManagerStore_Delete(t *testing.T) {
	mgr, store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "viewer.buffer_pages", 9, ""); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "viewer.buffer_pages"); err != nil {
		t.Fatal(err)
	}
	// Back to the file value, not the built-in default.
	if got := mgr.Get().Viewer.BufferPages; got != 3 {
		t.Errorf("buffer_pages = %d, want 3", got)
	}
	if err := store.Delete(ctx, "nope.nope"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("err = %v, want ErrUnknownKey", err)
	}
}

func TestManagerStore_GetByPrefix(t *testing.T) {
	_, store := newTestStore(t)
	ctx := context.Background()

	entries, err := store.GetByPrefix(ctx, "server.")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]Entry{
		"server.host": {Key: "server.host", Value: "127.0.0.1", Description: GetDefault("server.host").Description},
		"server.port": {Key: "server.port", Value: "8080", Description: GetDefault("server.port").Description},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("GetByPrefix mismatch (-want +got):\n%s", diff)
	}

	all, err := store.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(DefaultEntries()) {
		t.Errorf("GetAll returned %d entries, want %d", len(all), len(DefaultEntries()))
	}
}
