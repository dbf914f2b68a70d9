package endpoints

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/viewer"
)

// ViewResponse is returned by every view mutation.
type ViewResponse struct {
	ID string `json:"id"`
	// Changed is false when a zoom request was a no-op (already clamped or
	// the same scale).
	Changed bool            `json:"changed"`
	View    viewer.Snapshot `json:"view"`
}

func postView(cmd *cobra.Command, getServerURL func() string, id, action string, body any) error {
	client := api.NewClient(getServerURL())
	var resp ViewResponse
	if err := client.Post(cmd.Context(), "/api/documents/"+id+"/"+action, body, &resp); err != nil {
		return err
	}
	return api.Output(resp)
}

// ViewportRequest resizes the viewport and/or scrolls it.
type ViewportRequest struct {
	Width      *float64 `json:"width,omitempty"`
	Height     *float64 `json:"height,omitempty"`
	ScrollTop  *float64 `json:"scroll_top,omitempty"`
	ScrollLeft *float64 `json:"scroll_left,omitempty"`
}

// ViewportEndpoint handles POST /api/documents/{id}/viewport.
type ViewportEndpoint struct{}

var _ api.Endpoint = (*ViewportEndpoint)(nil)

func (e *ViewportEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/viewport", e.handler
}

func (e *ViewportEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Resize or scroll
//	@Description	Resize the viewport (refits in fit modes) and/or move the scroll position. Scroll offsets are visual pixels.
//	@Tags			view
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			request	body		ViewportRequest	true	"Viewport"
//	@Success		200		{object}	ViewResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/documents/{id}/viewport [post]
func (e *ViewportEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req ViewportRequest
	if err := decodeBody(w, r, "viewport", &req); err != nil {
		writeErr(w, r, err)
		return
	}

	v := s.Viewer
	if req.Width != nil && req.Height != nil {
		if err := v.Resize(*req.Width, *req.Height); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	if req.ScrollTop != nil || req.ScrollLeft != nil {
		surface := v.Snapshot().Surface
		top, left := surface.ScrollTop, surface.ScrollLeft
		if req.ScrollTop != nil {
			top = *req.ScrollTop
		}
		if req.ScrollLeft != nil {
			left = *req.ScrollLeft
		}
		if err := v.Scroll(top, left); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, ViewResponse{ID: s.ID, Changed: true, View: v.Snapshot()})
}

func (e *ViewportEndpoint) Command(getServerURL func() string) *cobra.Command {
	var width, height, top, left float64
	cmd := &cobra.Command{
		Use:   "viewport <id>",
		Short: "Resize the viewport or scroll",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req ViewportRequest
			if cmd.Flags().Changed("width") || cmd.Flags().Changed("height") {
				req.Width, req.Height = &width, &height
			}
			if cmd.Flags().Changed("top") {
				req.ScrollTop = &top
			}
			if cmd.Flags().Changed("left") {
				req.ScrollLeft = &left
			}
			return postView(cmd, getServerURL, args[0], "viewport", req)
		},
	}
	cmd.Flags().Float64Var(&width, "width", 0, "Viewport width in pixels")
	cmd.Flags().Float64Var(&height, "height", 0, "Viewport height in pixels")
	cmd.Flags().Float64Var(&top, "top", 0, "Scroll top in pixels")
	cmd.Flags().Float64Var(&left, "left", 0, "Scroll left in pixels")
	cmd.MarkFlagsRequiredTogether("width", "height")
	return cmd
}

// ZoomRequest changes the zoom. X and Y are viewport coordinates of the
// focal point for set, wheel and pinch.
type ZoomRequest struct {
	Action string   `json:"action"` // set, in, out, fit_width, fit_page, wheel, pinch
	Scale  float64  `json:"scale,omitempty"`
	Delta  float64  `json:"delta"`
	Ratio  float64  `json:"ratio,omitempty"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
}

// focal returns the focal point, defaulting to the viewport center.
func (z ZoomRequest) focal(snap viewer.Snapshot) (float64, float64) {
	x, y := snap.Surface.ClientWidth/2, snap.Surface.ClientHeight/2
	if z.X != nil {
		x = *z.X
	}
	if z.Y != nil {
		y = *z.Y
	}
	return x, y
}

// ZoomEndpoint handles POST /api/documents/{id}/zoom.
type ZoomEndpoint struct{}

var _ api.Endpoint = (*ZoomEndpoint)(nil)

func (e *ZoomEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/zoom", e.handler
}

func (e *ZoomEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Zoom
//	@Description	Change the zoom. Pages resize immediately; re-rendering at the new quality happens after the quality debounce.
//	@Tags			view
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Session ID"
//	@Param			request	body		ZoomRequest	true	"Zoom"
//	@Success		200		{object}	ViewResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/documents/{id}/zoom [post]
func (e *ZoomEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req ZoomRequest
	if err := decodeBody(w, r, "zoom", &req); err != nil {
		writeErr(w, r, err)
		return
	}

	v := s.Viewer
	var changed bool
	switch req.Action {
	case "set":
		if req.X == nil && req.Y == nil {
			changed, err = v.SetZoom(req.Scale)
		} else {
			x, y := req.focal(v.Snapshot())
			changed, err = v.ZoomAt(req.Scale, x, y)
		}
	case "in":
		changed, err = v.ZoomIn()
	case "out":
		changed, err = v.ZoomOut()
	case "fit_width":
		changed, err = v.FitToWidth()
	case "fit_page":
		changed, err = v.FitToPage()
	case "wheel":
		x, y := req.focal(v.Snapshot())
		changed, err = v.Wheel(req.Delta, x, y)
	case "pinch":
		x, y := req.focal(v.Snapshot())
		changed, err = v.Pinch(req.Ratio, x, y)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ViewResponse{ID: s.ID, Changed: changed, View: v.Snapshot()})
}

func (e *ZoomEndpoint) Command(getServerURL func() string) *cobra.Command {
	var x, y float64
	cmd := &cobra.Command{
		Use:   "zoom <id> <action> [value]",
		Short: "Zoom a document",
		Long: `Zoom a document.

Actions:
  in, out              step by the zoom factor
  set <scale>          absolute scale (1 = 100%)
  fit_width, fit_page  fit to the viewport
  wheel <deltaY>       wheel zoom around --x/--y
  pinch <ratio>        pinch zoom around --x/--y`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ZoomRequest{Action: args[1]}
			if len(args) == 3 {
				val, err := strconv.ParseFloat(args[2], 64)
				if err != nil {
					return fmt.Errorf("invalid value %q: %w", args[2], err)
				}
				switch req.Action {
				case "set":
					req.Scale = val
				case "wheel":
					req.Delta = val
				case "pinch":
					req.Ratio = val
				default:
					return fmt.Errorf("action %s takes no value", req.Action)
				}
			}
			if cmd.Flags().Changed("x") {
				req.X = &x
			}
			if cmd.Flags().Changed("y") {
				req.Y = &y
			}
			return postView(cmd, getServerURL, args[0], "zoom", req)
		},
	}
	cmd.Flags().Float64Var(&x, "x", 0, "Focal point x in viewport pixels")
	cmd.Flags().Float64Var(&y, "y", 0, "Focal point y in viewport pixels")
	return cmd
}

// RotateRequest sets an absolute rotation, or steps 90° clockwise when
// Rotation is nil.
type RotateRequest struct {
	Rotation *int `json:"rotation,omitempty"`
}

// RotateEndpoint handles POST /api/documents/{id}/rotate.
type RotateEndpoint struct{}

var _ api.Endpoint = (*RotateEndpoint)(nil)

func (e *RotateEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/rotate", e.handler
}

func (e *RotateEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Rotate
//	@Description	Rotate every page. Page heights are recomputed and all pages re-render.
//	@Tags			view
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			request	body		RotateRequest	false	"Rotation"
//	@Success		200		{object}	ViewResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/documents/{id}/rotate [post]
func (e *RotateEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req RotateRequest
	if err := decodeBody(w, r, "rotate", &req); err != nil {
		writeErr(w, r, err)
		return
	}

	v := s.Viewer
	if req.Rotation == nil {
		err = v.Rotate()
	} else {
		err = v.SetRotation(*req.Rotation)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ViewResponse{ID: s.ID, Changed: true, View: v.Snapshot()})
}

func (e *RotateEndpoint) Command(getServerURL func() string) *cobra.Command {
	var rotation int
	cmd := &cobra.Command{
		Use:   "rotate <id>",
		Short: "Rotate all pages 90° clockwise, or to --to degrees",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req RotateRequest
			if cmd.Flags().Changed("to") {
				req.Rotation = &rotation
			}
			return postView(cmd, getServerURL, args[0], "rotate", req)
		},
	}
	cmd.Flags().IntVar(&rotation, "to", 0, "Absolute rotation: 0, 90, 180 or 270")
	return cmd
}

// NavigateRequest jumps to Page, or steps in Direction ("next", "prev").
type NavigateRequest struct {
	Page      int    `json:"page,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// NavigateEndpoint handles POST /api/documents/{id}/navigate.
type NavigateEndpoint struct{}

var _ api.Endpoint = (*NavigateEndpoint)(nil)

func (e *NavigateEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/navigate", e.handler
}

func (e *NavigateEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Navigate
//	@Description	Scroll to a page, or to the next or previous one
//	@Tags			view
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			request	body		NavigateRequest	true	"Target"
//	@Success		200		{object}	ViewResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/documents/{id}/navigate [post]
func (e *NavigateEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req NavigateRequest
	if err := decodeBody(w, r, "navigate", &req); err != nil {
		writeErr(w, r, err)
		return
	}

	v := s.Viewer
	switch req.Direction {
	case "next":
		err = v.NextPage()
	case "prev":
		err = v.PrevPage()
	default:
		err = v.ScrollToPage(req.Page)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ViewResponse{ID: s.ID, Changed: true, View: v.Snapshot()})
}

func (e *NavigateEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "goto <id> <page|next|prev>",
		Short: "Go to a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req NavigateRequest
			switch args[1] {
			case "next", "prev":
				req.Direction = args[1]
			default:
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("invalid page %q", args[1])
				}
				req.Page = n
			}
			return postView(cmd, getServerURL, args[0], "navigate", req)
		},
	}
}

// EditRequest enters edit mode on Page; 0 leaves it.
type EditRequest struct {
	Page int `json:"page"`
}

// EditModeEndpoint handles POST /api/documents/{id}/edit.
type EditModeEndpoint struct{}

var _ api.Endpoint = (*EditModeEndpoint)(nil)

func (e *EditModeEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/documents/{id}/edit", e.handler
}

func (e *EditModeEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Edit mode
//	@Description	Enter edit mode on a page, dropping its extended layers, or leave it with page 0
//	@Tags			view
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Session ID"
//	@Param			request	body		EditRequest	true	"Page"
//	@Success		200		{object}	ViewResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/documents/{id}/edit [post]
func (e *EditModeEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	s, err := sessionFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req EditRequest
	if err := decodeBody(w, r, "edit", &req); err != nil {
		writeErr(w, r, err)
		return
	}

	v := s.Viewer
	if req.Page == 0 {
		err = v.ExitEditMode()
	} else {
		err = v.EnterEditMode(req.Page)
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ViewResponse{ID: s.ID, Changed: true, View: v.Snapshot()})
}

func (e *EditModeEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <page>",
		Short: "Enter edit mode on a page (0 leaves edit mode)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid page %q", args[1])
			}
			return postView(cmd, getServerURL, args[0], "edit", EditRequest{Page: n})
		},
	}
}
