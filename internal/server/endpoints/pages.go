package endpoints

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/document"
	"github.com/jackzampolin/folio/internal/export"
	"github.com/jackzampolin/folio/internal/pages"
	"github.com/jackzampolin/folio/internal/schema"
	"github.com/jackzampolin/folio/internal/viewer"
)

// defaultImageWait bounds ?wait=true on the page image endpoint.
const defaultImageWait = 30 * time.Second

// parseWait reads the wait query value: empty for none, a bool, or a
// duration.
func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		if b {
			return defaultImageWait, nil
		}
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: wait must be a bool or duration", schema.ErrInvalid)
	}
	return d, nil
}

// PageImageEndpoint handles GET /api/documents/{id}/pages/{page}/image.
type PageImageEndpoint struct{}

var _ api.Endpoint = (*PageImageEndpoint)(nil)

func (e *PageImageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/pages/{page}/image", e.handler
}

func (e *PageImageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get page image
//	@Description	PNG of the page's current canvas. The page must be materialized (near the viewport). With wait, pending renders finish first.
//	@Tags			pages
//	@Produce		image/png
//	@Param			id		path		string	true	"Session ID"
//	@Param			page	path		int		true	"Page number (1-indexed)"
//	@Param			wait	query		string	false	"true or a duration to wait for renders to settle"
//	@Success		200		{file}		binary
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/documents/{id}/pages/{page}/image [get]
func (e *PageImageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	n, err := pageFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		writeErr(w, r, err)
		return
	}

	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		err := s.Viewer.WaitIdle(ctx)
		cancel()
		if err != nil {
			writeErr(w, r, err)
			return
		}
	}

	img, scale, err := s.Viewer.PageImage(n)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		writeErr(w, r, fmt.Errorf("failed to encode page %d: %w", n, err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Render-Scale", strconv.FormatFloat(scale, 'f', -1, 64))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (e *PageImageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var file string
	var wait string
	cmd := &cobra.Command{
		Use:   "image <id> <page>",
		Short: "Download a page's current canvas as PNG",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid page %q", args[1])
			}
			path := fmt.Sprintf("/api/documents/%s/pages/%d/image", args[0], n)
			if wait != "" {
				path += "?wait=" + url.QueryEscape(wait)
			}

			client := api.NewClient(getServerURL())
			data, _, err := client.GetRaw(cmd.Context(), path)
			if err != nil {
				return err
			}
			if file == "" {
				file = fmt.Sprintf("page_%04d.png", n)
			}
			if err := os.WriteFile(file, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes)\n", file, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Output file (default page_NNNN.png)")
	cmd.Flags().StringVar(&wait, "wait", "true", "Wait for renders first: true, false or a duration")
	return cmd
}

// LayersResponse carries a page's extended layers. Both are empty until
// built, and while the page is in edit mode.
type LayersResponse struct {
	Page        int                    `json:"page"`
	Loaded      bool                   `json:"loaded"`
	Text        *pages.TextLayer       `json:"text,omitempty"`
	Annotations *pages.AnnotationLayer `json:"annotations,omitempty"`
}

// PageLayersEndpoint handles GET /api/documents/{id}/pages/{page}/layers.
type PageLayersEndpoint struct{}

var _ api.Endpoint = (*PageLayersEndpoint)(nil)

func (e *PageLayersEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/documents/{id}/pages/{page}/layers", e.handler
}

func (e *PageLayersEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get page layers
//	@Description	Text and annotation layers of a materialized page, in base-scale pixels
//	@Tags			pages
//	@Produce		json
//	@Param			id		path		string	true	"Session ID"
//	@Param			page	path		int		true	"Page number (1-indexed)"
//	@Success		200		{object}	LayersResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/documents/{id}/pages/{page}/layers [get]
func (e *PageLayersEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	n, err := pageFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	text, annots, err := s.Viewer.PageLayers(n)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LayersResponse{
		Page:        n,
		Loaded:      text != nil || annots != nil,
		Text:        text,
		Annotations: annots,
	})
}

func (e *PageLayersEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "layers <id> <page>",
		Short: "Show a page's text and annotation layers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp LayersResponse
			path := fmt.Sprintf("/api/documents/%s/pages/%s/layers", args[0], args[1])
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// TextRequest is an annotation text box. Color is "#rrggbb", black when
// empty.
type TextRequest struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Text  string  `json:"text"`
	Color string  `json:"color,omitempty"`
}

// PatchRequest replaces the text inside Rect ([llx, lly, urx, ury] in PDF
// user space).
type PatchRequest struct {
	Rect [4]float64 `json:"rect"`
	Text string     `json:"text"`
}

// AnnotationsRequest stages overlay content for a page. Clear drops what
// was staged before the rest of the request is applied.
type AnnotationsRequest struct {
	Image   []byte         `json:"image,omitempty"` // base64 PNG in JSON
	Texts   []TextRequest  `json:"texts,omitempty"`
	Patches []PatchRequest `json:"patches,omitempty"`
	Clear   bool           `json:"clear,omitempty"`
}

// AnnotationsResponse reports the staged state after the request.
type AnnotationsResponse struct {
	Page       int   `json:"page"`
	Staged     []int `json:"staged_pages"`
	Patches    int   `json:"patches"`
	HasChanges bool  `json:"has_changes"`
}

func parseColor(s string) (color.RGBA, error) {
	if s == "" {
		return color.RGBA{A: 255}, nil
	}
	var c color.RGBA
	if _, err := fmt.Sscanf(s, "#%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return color.RGBA{}, fmt.Errorf("%w: invalid color %q", schema.ErrInvalid, s)
	}
	c.A = 255
	return c, nil
}

// StageAnnotationsEndpoint handles PUT /api/documents/{id}/pages/{page}/annotations.
type StageAnnotationsEndpoint struct{}

var _ api.Endpoint = (*StageAnnotationsEndpoint)(nil)

func (e *StageAnnotationsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/documents/{id}/pages/{page}/annotations", e.handler
}

func (e *StageAnnotationsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Stage annotations
//	@Description	Stage a freehand overlay PNG, text boxes and text patches for a page. They are burned in on the next save.
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session ID"
//	@Param			page	path		int					true	"Page number (1-indexed)"
//	@Param			request	body		AnnotationsRequest	true	"Overlay content"
//	@Success		200		{object}	AnnotationsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		501		{object}	ErrorResponse
//	@Router			/api/documents/{id}/pages/{page}/annotations [put]
func (e *StageAnnotationsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	n, err := pageFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req AnnotationsRequest
	if err := decodeBody(w, r, "annotations", &req); err != nil {
		writeErr(w, r, err)
		return
	}

	v := s.Viewer
	if !v.IsOpen() {
		writeErr(w, r, viewer.ErrNotOpen)
		return
	}
	if count := v.PageCount(); n > count {
		writeErr(w, r, fmt.Errorf("%w: %d of %d", document.ErrPageRange, n, count))
		return
	}
	overlay, ok := v.Annotations().(*export.OverlaySet)
	if !ok {
		writeError(w, http.StatusNotImplemented, "annotation staging not supported by this session")
		return
	}
	patches, ok := v.TextEdits().(*export.TextPatches)
	if !ok && len(req.Patches) > 0 {
		writeError(w, http.StatusNotImplemented, "text patches not supported by this session")
		return
	}

	// Decode everything before staging anything.
	boxes := make([]export.TextBox, 0, len(req.Texts))
	for _, t := range req.Texts {
		c, err := parseColor(t.Color)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		boxes = append(boxes, export.TextBox{X: t.X, Y: t.Y, Text: t.Text, Color: c})
	}
	var img image.Image
	if len(req.Image) > 0 {
		if img, err = png.Decode(bytes.NewReader(req.Image)); err != nil {
			writeErr(w, r, fmt.Errorf("%w: image is not a PNG: %w", schema.ErrInvalid, err))
			return
		}
	}

	if req.Clear {
		overlay.ClearPage(n)
	}
	if img != nil {
		overlay.SetCanvas(n, img)
	}
	for _, b := range boxes {
		overlay.AddText(n, b)
	}
	for _, p := range req.Patches {
		patches.Add(export.TextPatch{Page: n, Rect: p.Rect, Text: p.Text})
	}

	resp := AnnotationsResponse{
		Page:       n,
		Staged:     overlay.Pages(),
		HasChanges: v.HasChanges(),
	}
	if patches != nil {
		resp.Patches = len(patches.Patches())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *StageAnnotationsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		imagePath string
		texts     []string
		clearPage bool
	)
	cmd := &cobra.Command{
		Use:   "annotate <id> <page>",
		Short: "Stage overlay content for a page",
		Long: `Stage overlay content for a page. It is written into the document on the
next save.

Text boxes are given as x,y,text (points from the page's top-left), e.g.
  folio api pages annotate <id> 3 --text "72,72,Approved"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid page %q", args[1])
			}
			req := AnnotationsRequest{Clear: clearPage}
			if imagePath != "" {
				if req.Image, err = os.ReadFile(imagePath); err != nil {
					return err
				}
			}
			for _, t := range texts {
				var tr TextRequest
				if _, err := fmt.Sscanf(t, "%g,%g,", &tr.X, &tr.Y); err != nil {
					return fmt.Errorf("invalid text box %q: want x,y,text", t)
				}
				tr.Text = textAfterCoords(t)
				req.Texts = append(req.Texts, tr)
			}

			client := api.NewClient(getServerURL())
			var resp AnnotationsResponse
			path := fmt.Sprintf("/api/documents/%s/pages/%d/annotations", args[0], n)
			if err := client.Put(cmd.Context(), path, req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "PNG overlay drawn over the whole page")
	cmd.Flags().StringArrayVar(&texts, "text", nil, "Text box as x,y,text (repeatable)")
	cmd.Flags().BoolVar(&clearPage, "clear", false, "Drop previously staged content for the page")
	return cmd
}

// textAfterCoords returns what follows the second comma.
func textAfterCoords(s string) string {
	commas := 0
	for i, r := range s {
		if r == ',' {
			commas++
			if commas == 2 {
				return s[i+1:]
			}
		}
	}
	return ""
}
