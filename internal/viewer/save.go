package viewer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/export"
	"github.com/jackzampolin/folio/internal/files"
)

// Save exports the document with its rotation, text edits and annotations
// and writes it back to its file. Documents without a file are saved as a
// new one.
func (v *Viewer) Save(ctx context.Context) (files.Handle, error) {
	return v.save(ctx, false)
}

// SaveAs exports the document to a new file.
func (v *Viewer) SaveAs(ctx context.Context) (files.Handle, error) {
	return v.save(ctx, true)
}

func (v *Viewer) save(ctx context.Context, as bool) (files.Handle, error) {
	v.mu.Lock()
	if err := v.ensureOpen(); err != nil {
		v.mu.Unlock()
		return files.Handle{}, err
	}
	if v.saving {
		v.mu.Unlock()
		return files.Handle{}, ErrBusy
	}
	if v.saver == nil {
		v.mu.Unlock()
		return files.Handle{}, fmt.Errorf("%w: no file saver configured", ErrExportFailed)
	}
	if len(v.source.Data) == 0 {
		v.mu.Unlock()
		return files.Handle{}, fmt.Errorf("%w: original document bytes unavailable", ErrExportFailed)
	}
	rotation := v.zoom.Rotation()
	req := export.Request{
		Original:    v.source.Data,
		Rotation:    document.NormalizeRotation(rotation - v.baseRotation),
		Annotations: v.annotations,
		TextEdits:   v.textEdits,
	}
	source := v.source
	v.saving = true
	v.mu.Unlock()

	handle, out, err := v.export(ctx, req, source, as)

	v.mu.Lock()
	v.saving = false
	if err != nil {
		v.mu.Unlock()
		v.logger.Error("save failed", "error", err)
		return files.Handle{}, err
	}
	// A document reopened meanwhile keeps its own source.
	if v.phase == phaseOpen && sameSource(v.source, source) {
		v.source = Source{Data: out, Handle: handle, Name: filepath.Base(handle.Path)}
		v.baseRotation = rotation
		if m, ok := v.annotations.(interface{ MarkSaved() }); ok {
			m.MarkSaved()
		}
		if r, ok := v.textEdits.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
	v.saves++
	onSaved := v.onSaved
	v.mu.Unlock()

	v.logger.Info("document saved", "path", handle.Path, "bytes", len(out), "save_as", as)
	if onSaved != nil {
		onSaved(handle, out)
	}
	return handle, nil
}

func (v *Viewer) export(ctx context.Context, req export.Request, source Source, as bool) (files.Handle, []byte, error) {
	out, err := v.exporter.Export(ctx, req)
	if err != nil {
		return files.Handle{}, nil, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	handle := source.Handle
	if as || !handle.Valid() {
		name := source.Name
		if name == "" && handle.Valid() {
			name = filepath.Base(handle.Path)
		}
		handle, err = v.saver.SaveFileAs(ctx, files.Meta{Name: name}, out)
	} else {
		err = v.saver.SaveFile(ctx, handle, out)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return files.Handle{}, nil, err
		}
		return files.Handle{}, nil, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return handle, out, nil
}

func sameSource(a, b Source) bool {
	return a.Handle == b.Handle && len(a.Data) == len(b.Data) && (len(a.Data) == 0 || &a.Data[0] == &b.Data[0])
}
