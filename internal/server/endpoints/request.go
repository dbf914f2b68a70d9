package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/schema"
	"github.com/jackzampolin/folio/internal/session"
	"github.com/jackzampolin/folio/internal/svcctx"
	"github.com/jackzampolin/folio/internal/viewer"
)

// maxBodyBytes caps request bodies. Inline documents and overlay images are
// sent base64 encoded.
const maxBodyBytes = 256 << 20

var errNoSessions = errors.New("session manager not initialized")

// decodeBody validates the body against the named schema and decodes it
// into v. An empty body decodes as {}.
func decodeBody(w http.ResponseWriter, r *http.Request, schemaName string, v any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %w", schema.ErrInvalid, err)
	}
	if err := schema.Validate(schemaName, raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", schema.ErrInvalid, err)
	}
	return nil
}

// sessionFrom resolves the {id} path value.
func sessionFrom(r *http.Request) (*session.Session, error) {
	mgr := svcctx.SessionsFrom(r.Context())
	if mgr == nil {
		return nil, errNoSessions
	}
	return mgr.Get(r.PathValue("id"))
}

// pageFrom parses the {page} path value.
func pageFrom(r *http.Request) (int, error) {
	n, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: page must be a positive integer", schema.ErrInvalid)
	}
	return n, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schema.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound), errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, viewer.ErrOpenFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, document.ErrPageRange):
		return http.StatusNotFound
	case errors.Is(err, viewer.ErrNotRendered):
		return http.StatusConflict
	case errors.Is(err, viewer.ErrBusy), errors.Is(err, viewer.ErrNotOpen):
		return http.StatusConflict
	case errors.Is(err, errNoSessions):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeErr writes err with the status statusFor picks. Server-side
// failures are logged.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		if logger := svcctx.LoggerFrom(r.Context()); logger != nil {
			logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		}
	}
	writeError(w, status, err.Error())
}
