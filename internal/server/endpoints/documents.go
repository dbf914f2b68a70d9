package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/session"
	"github.com/jackzampolin/folio/internal/svcctx"
	"github.com/jackzampolin/folio/internal/viewer"
)

// OpenDocumentRequest opens a file the server can read, or inline bytes.
type OpenDocumentRequest struct {
	Path string `json:"path,omitempty"`
	Name string `json:"name,omitempty"`
	Data []byte `json:"data,omitempty"` // base64 in JSON
}

// DocumentResponse is a session summary plus the current view.
type DocumentResponse struct {
	session.Info
	View *viewer.Snapshot `json:"view,omitempty"`
}

// ListDocumentsResponse lists open sessions.
type ListDocumentsResponse struct {
	Documents []session.Info `json:"documents"`
}

// CloseDocumentResponse confirms a close.
type CloseDocumentResponse struct {
	ID     string `json:"id"`
	Closed bool   `json:"closed"`
}

// OpenDocumentEndpoint handles POST /api/documents.
type OpenDocumentEndpoint struct{}

var _ api.Endpoint = (*OpenDocumentEndpoint)(nil)

func (e *OpenDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents", e.handler
}

func (e *OpenDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Open a document
//	@Description	Open a PDF by server-side path or inline base64 bytes
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			request	body		OpenDocumentRequest	true	"Document source"
//	@Success		201		{object}	DocumentResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/api/documents [post]
func (e *OpenDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req OpenDocumentRequest
	if err := decodeBody(w, r, "open_document", &req); err != nil {
		writeErr(w, r, err)
		return
	}

	mgr := svcctx.SessionsFrom(r.Context())
	var (
		s   *session.Session
		err error
	)
	if req.Path != "" {
		s, err = mgr.Open(r.Context(), req.Path)
	} else {
		name := req.Name
		if name == "" {
			name = "document.pdf"
		}
		s, err = mgr.OpenData(r.Context(), name, req.Data)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}

	snap := s.Viewer.Snapshot()
	writeJSON(w, http.StatusCreated, DocumentResponse{Info: s.Info(), View: &snap})
}

func (e *OpenDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var upload bool
	cmd := &cobra.Command{
		Use:   "open <pdf>",
		Short: "Open a PDF in a new session",
		Long: `Open a PDF in a new session.

By default the server reads the file itself and reloads it when it changes.
Use --upload when the server cannot see the file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			req := OpenDocumentRequest{Path: abs}
			if upload {
				data, err := os.ReadFile(abs)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", abs, err)
				}
				req = OpenDocumentRequest{Name: filepath.Base(abs), Data: data}
			}

			client := api.NewClient(getServerURL())
			var resp DocumentResponse
			if err := client.Post(cmd.Context(), "/api/documents", req, &resp); err != nil {
				return err
			}
			return api.Output(resp.Info)
		},
	}
	cmd.Flags().BoolVar(&upload, "upload", false, "Send the file contents instead of its path")
	return cmd
}

// ListDocumentsEndpoint handles GET /api/documents.
type ListDocumentsEndpoint struct{}

var _ api.Endpoint = (*ListDocumentsEndpoint)(nil)

func (e *ListDocumentsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents", e.handler
}

func (e *ListDocumentsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List documents
//	@Description	List open sessions ordered by open time
//	@Tags			documents
//	@Produce		json
//	@Success		200	{object}	ListDocumentsResponse
//	@Router			/api/documents [get]
func (e *ListDocumentsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	infos := svcctx.SessionsFrom(r.Context()).List()
	writeJSON(w, http.StatusOK, ListDocumentsResponse{Documents: infos})
}

func (e *ListDocumentsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListDocumentsResponse
			if err := client.Get(cmd.Context(), "/api/documents", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetDocumentEndpoint handles GET /api/documents/{id}.
type GetDocumentEndpoint struct{}

var _ api.Endpoint = (*GetDocumentEndpoint)(nil)

func (e *GetDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}", e.handler
}

func (e *GetDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a document
//	@Description	Session summary with scheduler, cache and zoom state
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	DocumentResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/documents/{id} [get]
func (e *GetDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	snap := s.Viewer.Snapshot()
	writeJSON(w, http.StatusOK, DocumentResponse{Info: s.Info(), View: &snap})
}

func (e *GetDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a document's view state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp DocumentResponse
			if err := client.Get(cmd.Context(), "/api/documents/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// CloseDocumentEndpoint handles DELETE /api/documents/{id}.
type CloseDocumentEndpoint struct{}

var _ api.Endpoint = (*CloseDocumentEndpoint)(nil)

func (e *CloseDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/documents/{id}", e.handler
}

func (e *CloseDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Close a document
//	@Description	Close a session. Unsaved changes are saved first when auto-save is on; if that save fails the session stays open.
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	CloseDocumentResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/documents/{id} [delete]
func (e *CloseDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := svcctx.SessionsFrom(r.Context()).Close(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CloseDocumentResponse{ID: id, Closed: true})
}

func (e *CloseDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "close <id>",
		Short: "Close a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/documents/"+args[0]); err != nil {
				return err
			}
			return api.Output(CloseDocumentResponse{ID: args[0], Closed: true})
		},
	}
}

// SaveRequest selects between writing back and Save As.
type SaveRequest struct {
	SaveAs bool `json:"save_as,omitempty"`
}

// SaveResponse reports where the document was written.
type SaveResponse struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// SaveDocumentEndpoint handles POST /api/documents/{id}/save.
type SaveDocumentEndpoint struct{}

var _ api.Endpoint = (*SaveDocumentEndpoint)(nil)

func (e *SaveDocumentEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/save", e.handler
}

func (e *SaveDocumentEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Save a document
//	@Description	Export rotation, overlays and text edits, then write back or Save As
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Session ID"
//	@Param			request	body		SaveRequest	false	"Save options"
//	@Success		200		{object}	SaveResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/documents/{id}/save [post]
func (e *SaveDocumentEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req SaveRequest
	if err := decodeBody(w, r, "save", &req); err != nil {
		writeErr(w, r, err)
		return
	}

	save := s.Viewer.Save
	if req.SaveAs {
		save = s.Viewer.SaveAs
	}
	h, err := save(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SaveResponse{ID: s.ID, Path: h.Path})
}

func (e *SaveDocumentEndpoint) Command(getServerURL func() string) *cobra.Command {
	var saveAs bool
	cmd := &cobra.Command{
		Use:   "save <id>",
		Short: "Save a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp SaveResponse
			path := "/api/documents/" + args[0] + "/save"
			if err := client.Post(cmd.Context(), path, SaveRequest{SaveAs: saveAs}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&saveAs, "as", false, "Write a new file in the exports directory")
	return cmd
}
