// Package files persists exported documents.
package files

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrNoHandle is returned by SaveFile when the document has no backing file.
var ErrNoHandle = errors.New("document has no file handle")

// Handle identifies a file the document can be written back to.
type Handle struct {
	Path string `json:"path"`
}

// Valid reports whether the handle names a file.
func (h Handle) Valid() bool {
	return h.Path != ""
}

// Meta describes a new file for SaveFileAs.
type Meta struct {
	// Name is the suggested file name. Directories are ignored.
	Name string `json:"name"`
}

// Saver writes document bytes.
type Saver interface {
	SaveFile(ctx context.Context, h Handle, data []byte) error
	SaveFileAs(ctx context.Context, meta Meta, data []byte) (Handle, error)
}

// Disk is a Saver on the local filesystem. Writes go to a temp file in the
// target directory and are renamed into place.
type Disk struct {
	dir      string
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

var _ Saver = (*Disk)(nil)

// DiskConfig configures a Disk saver.
type DiskConfig struct {
	// Dir receives SaveFileAs targets. Required.
	Dir string
	// Attempts bounds retries of a failed write (default 3).
	Attempts uint
	// Delay between attempts (default 100ms).
	Delay  time.Duration
	Logger *slog.Logger
}

// NewDisk creates a Disk saver.
func NewDisk(cfg DiskConfig) (*Disk, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("export directory is required")
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay == 0 {
		cfg.Delay = 100 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Disk{
		dir:      cfg.Dir,
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		logger:   logger.With("component", "files"),
	}, nil
}

// Dir returns the SaveFileAs directory.
func (d *Disk) Dir() string {
	return d.dir
}

// SaveFile replaces the file behind h with data.
func (d *Disk) SaveFile(ctx context.Context, h Handle, data []byte) error {
	if !h.Valid() {
		return ErrNoHandle
	}
	return d.write(ctx, h.Path, data)
}

// SaveFileAs writes data to a new file in the export directory. An existing
// file of the same name is never overwritten; a numeric suffix is added.
func (d *Disk) SaveFileAs(ctx context.Context, meta Meta, data []byte) (Handle, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return Handle{}, fmt.Errorf("failed to create export directory: %w", err)
	}
	path, err := d.uniquePath(exportName(meta.Name))
	if err != nil {
		return Handle{}, err
	}
	if err := d.write(ctx, path, data); err != nil {
		return Handle{}, err
	}
	return Handle{Path: path}, nil
}

func (d *Disk) write(ctx context.Context, path string, data []byte) error {
	err := retry.Do(
		func() error {
			return writeAtomic(path, data)
		},
		retry.Context(ctx),
		retry.Attempts(d.attempts),
		retry.Delay(d.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, os.ErrNotExist) && !errors.Is(err, os.ErrPermission)
		}),
		retry.OnRetry(func(n uint, err error) {
			d.logger.Warn("retrying file write", "path", path, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	d.logger.Info("file saved", "path", path, "bytes", len(data))
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (d *Disk) uniquePath(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	path := filepath.Join(d.dir, name)
	for i := 1; i < 10000; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		path = filepath.Join(d.dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
	return "", fmt.Errorf("no free file name for %s", name)
}

// exportName sanitizes a suggested name to a bare .pdf file name.
func exportName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		name = "document"
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
