package config

import (
	"fmt"
	"time"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/viewer"
)

// Config holds folio configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Viewer   ViewerCfg   `mapstructure:"viewer" yaml:"viewer"`
	Render   RenderCfg   `mapstructure:"render" yaml:"render"`
	Server   ServerCfg   `mapstructure:"server" yaml:"server"`
	Sessions SessionsCfg `mapstructure:"sessions" yaml:"sessions"`
}

// ViewerCfg tunes the page pipeline. Durations use Go duration syntax
// ("150ms").
type ViewerCfg struct {
	BufferPages        int     `mapstructure:"buffer_pages" yaml:"buffer_pages"`
	MinZoom            float64 `mapstructure:"min_zoom" yaml:"min_zoom"`
	MaxZoom            float64 `mapstructure:"max_zoom" yaml:"max_zoom"`
	ZoomStep           float64 `mapstructure:"zoom_step" yaml:"zoom_step"`
	QualityDebounce    string  `mapstructure:"quality_debounce" yaml:"quality_debounce"`
	QualityThreshold   float64 `mapstructure:"quality_threshold" yaml:"quality_threshold"`
	FastScrollVelocity float64 `mapstructure:"fast_scroll_velocity" yaml:"fast_scroll_velocity"` // px/ms
	FastScrollQuiet    string  `mapstructure:"fast_scroll_quiet" yaml:"fast_scroll_quiet"`
	FitDebounce        string  `mapstructure:"fit_debounce" yaml:"fit_debounce"`
	FitPadding         float64 `mapstructure:"fit_padding" yaml:"fit_padding"`
	IdleSlice          string  `mapstructure:"idle_slice" yaml:"idle_slice"`
	LayerIdleTimeout   string  `mapstructure:"layer_idle_timeout" yaml:"layer_idle_timeout"`
	DevicePixelRatio   float64 `mapstructure:"device_pixel_ratio" yaml:"device_pixel_ratio"`
	MaxCanvasPixels    int     `mapstructure:"max_canvas_pixels" yaml:"max_canvas_pixels"`
	AutoSaveOnClose    bool    `mapstructure:"auto_save_on_close" yaml:"auto_save_on_close"`
}

// RenderCfg selects the rasterizer.
type RenderCfg struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "pdftoppm", "fitz"
}

// ServerCfg holds the HTTP listen address.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// SessionsCfg configures open-document sessions.
type SessionsCfg struct {
	// WatchFiles reopens a document when its file changes on disk.
	WatchFiles bool `mapstructure:"watch_files" yaml:"watch_files"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	d := viewer.DefaultOptions()
	return &Config{
		Viewer: ViewerCfg{
			BufferPages:        d.BufferPages,
			MinZoom:            d.MinZoom,
			MaxZoom:            d.MaxZoom,
			ZoomStep:           d.ZoomStep,
			QualityDebounce:    d.QualityDebounce.String(),
			QualityThreshold:   d.QualityThreshold,
			FastScrollVelocity: d.FastScrollVelocity,
			FastScrollQuiet:    d.FastScrollQuiet.String(),
			FitDebounce:        d.FitDebounce.String(),
			FitPadding:         d.FitPadding,
			IdleSlice:          d.IdleSlice.String(),
			LayerIdleTimeout:   d.LayerIdleTimeout.String(),
			DevicePixelRatio:   d.DevicePixelRatio,
			MaxCanvasPixels:    d.MaxCanvasPixels,
			AutoSaveOnClose:    d.AutoSaveOnClose,
		},
		Render: RenderCfg{
			Backend: string(document.BackendPdftoppm),
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Sessions: SessionsCfg{
			WatchFiles: true,
		},
	}
}

// ViewerOptions converts the viewer section to viewer.Options.
func (c *Config) ViewerOptions() (viewer.Options, error) {
	v := c.Viewer
	opts := viewer.DefaultOptions()
	opts.BufferPages = v.BufferPages
	opts.MinZoom = v.MinZoom
	opts.MaxZoom = v.MaxZoom
	opts.ZoomStep = v.ZoomStep
	opts.QualityThreshold = v.QualityThreshold
	opts.FastScrollVelocity = v.FastScrollVelocity
	opts.FitPadding = v.FitPadding
	opts.DevicePixelRatio = v.DevicePixelRatio
	opts.MaxCanvasPixels = v.MaxCanvasPixels
	opts.AutoSaveOnClose = v.AutoSaveOnClose

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"viewer.quality_debounce", v.QualityDebounce, &opts.QualityDebounce},
		{"viewer.fast_scroll_quiet", v.FastScrollQuiet, &opts.FastScrollQuiet},
		{"viewer.fit_debounce", v.FitDebounce, &opts.FitDebounce},
		{"viewer.idle_slice", v.IdleSlice, &opts.IdleSlice},
		{"viewer.layer_idle_timeout", v.LayerIdleTimeout, &opts.LayerIdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return viewer.Options{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if parsed < 0 {
			return viewer.Options{}, fmt.Errorf("invalid %s: must not be negative", d.key)
		}
		*d.dst = parsed
	}

	if opts.MinZoom > 0 && opts.MaxZoom > 0 && opts.MinZoom > opts.MaxZoom {
		return viewer.Options{}, fmt.Errorf("viewer.min_zoom %g exceeds viewer.max_zoom %g", opts.MinZoom, opts.MaxZoom)
	}
	return opts, nil
}

// Backend returns the configured rasterizer backend.
func (c *Config) Backend() (document.Backend, error) {
	switch b := document.Backend(c.Render.Backend); b {
	case "", document.BackendPdftoppm:
		return document.BackendPdftoppm, nil
	case document.BackendFitz:
		return b, nil
	default:
		return "", fmt.Errorf("unknown render.backend %q", c.Render.Backend)
	}
}

// Validate checks that every section can be converted.
func (c *Config) Validate() error {
	if _, err := c.ViewerOptions(); err != nil {
		return err
	}
	if _, err := c.Backend(); err != nil {
		return err
	}
	return nil
}
