package config

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// DefaultEntries returns the default configuration entries. They seed the
// viper defaults, so every key here can be overridden by the config file
// or a FOLIO_ environment variable.
func DefaultEntries() []Entry {
	cfg := DefaultConfig()
	v := cfg.Viewer
	return []Entry{
		// ===================
		// Viewer
		// ===================
		{
			Key:         "viewer.buffer_pages",
			Value:       v.BufferPages,
			Description: "Pages kept materialized on each side of the visible range",
		},
		{
			Key:         "viewer.min_zoom",
			Value:       v.MinZoom,
			Description: "Smallest zoom scale",
		},
		{
			Key:         "viewer.max_zoom",
			Value:       v.MaxZoom,
			Description: "Largest zoom scale",
		},
		{
			Key:         "viewer.zoom_step",
			Value:       v.ZoomStep,
			Description: "Scale increment for zoom in/out buttons",
		},
		{
			Key:         "viewer.quality_debounce",
			Value:       v.QualityDebounce,
			Description: "Quiet time after zooming before pages are re-rendered at the new scale",
		},
		{
			Key:         "viewer.quality_threshold",
			Value:       v.QualityThreshold,
			Description: "Relative scale deviation that triggers a quality re-render",
		},
		{
			Key:         "viewer.fast_scroll_velocity",
			Value:       v.FastScrollVelocity,
			Description: "Scroll speed in px/ms above which rendering is suspended",
		},
		{
			Key:         "viewer.fast_scroll_quiet",
			Value:       v.FastScrollQuiet,
			Description: "Quiet time that ends a fast scroll",
		},
		{
			Key:         "viewer.fit_debounce",
			Value:       v.FitDebounce,
			Description: "Delay before refitting after a viewport resize",
		},
		{
			Key:         "viewer.fit_padding",
			Value:       v.FitPadding,
			Description: "Padding in pixels subtracted from the viewport when fitting",
		},
		{
			Key:         "viewer.idle_slice",
			Value:       v.IdleSlice,
			Description: "Pause between background text and annotation layer builds",
		},
		{
			Key:         "viewer.layer_idle_timeout",
			Value:       v.LayerIdleTimeout,
			Description: "Longest wait for an idle slot before a layer build is forced",
		},
		{
			Key:         "viewer.device_pixel_ratio",
			Value:       v.DevicePixelRatio,
			Description: "Canvas pixels per visual pixel",
		},
		{
			Key:         "viewer.max_canvas_pixels",
			Value:       v.MaxCanvasPixels,
			Description: "Largest bitmap area a page is rendered at",
		},
		{
			Key:         "viewer.auto_save_on_close",
			Value:       v.AutoSaveOnClose,
			Description: "Save unsaved changes when a document is closed",
		},

		// ===================
		// Render
		// ===================
		{
			Key:         "render.backend",
			Value:       cfg.Render.Backend,
			Description: "Rasterizer backend: pdftoppm or fitz",
		},

		// ===================
		// Server
		// ===================
		{
			Key:         "server.host",
			Value:       cfg.Server.Host,
			Description: "Address the HTTP server binds to",
		},
		{
			Key:         "server.port",
			Value:       cfg.Server.Port,
			Description: "Port the HTTP server listens on",
		},

		// ===================
		// Sessions
		// ===================
		{
			Key:         "sessions.watch_files",
			Value:       cfg.Sessions.WatchFiles,
			Description: "Reopen documents when their file changes on disk",
		},
	}
}

// GetDefault returns the default value for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ResetToDefault resets a config key to its default value.
// Returns ErrNoDefault if no default exists for the key.
func ResetToDefault(ctx context.Context, store Store, key string) error {
	def := GetDefault(key)
	if def == nil {
		return fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	return store.Set(ctx, key, def.Value, def.Description)
}
