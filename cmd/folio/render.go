package main

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/session"
)

var (
	renderPage     int
	renderScale    float64
	renderRotation int
	renderOut      string
	renderTimeout  time.Duration
)

var renderCmd = &cobra.Command{
	Use:   "render <pdf>",
	Short: "Render one page of a PDF to PNG without a server",
	Long: `Render one page of a PDF to PNG without a server.

The page goes through the same viewer the server uses, so the output matches
what a reader would see at that zoom and rotation. Without --out the image is
written to the home cache directory.

Examples:
  folio render book.pdf                      # Page 1 at 100%
  folio render book.pdf --page 12 --scale 2  # Page 12 at 200%
  folio render book.pdf --rotation 90 --out cover.png`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		h, err := getHome()
		if err != nil {
			return err
		}
		mgr, err := getConfig(h)
		if err != nil {
			return err
		}
		cfg := mgr.Get()
		opts, err := cfg.ViewerOptions()
		if err != nil {
			return err
		}
		backend, err := cfg.Backend()
		if err != nil {
			return err
		}
		// Nothing is edited here, so there is nothing to save on close.
		opts.AutoSaveOnClose = false

		sessions := session.NewManager(session.Config{
			Options: opts,
			Backend: backend,
			Logger:  logger,
		})

		ctx, cancel := context.WithTimeout(cmd.Context(), renderTimeout)
		defer cancel()

		s, err := sessions.Open(ctx, args[0])
		if err != nil {
			return err
		}
		defer sessions.CloseAll(context.Background())

		v := s.Viewer
		if renderPage < 1 || renderPage > v.PageCount() {
			return fmt.Errorf("page %d out of range (document has %d pages)", renderPage, v.PageCount())
		}
		if renderRotation != 0 {
			if err := v.SetRotation(renderRotation); err != nil {
				return err
			}
		}
		if _, err := v.SetZoom(renderScale); err != nil {
			return err
		}
		if err := v.ScrollToPage(renderPage); err != nil {
			return err
		}
		if err := v.WaitIdle(ctx); err != nil {
			return fmt.Errorf("render did not finish: %w", err)
		}

		img, scale, err := v.PageImage(renderPage)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("failed to encode page %d: %w", renderPage, err)
		}

		out := renderOut
		if out == "" {
			name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			out = h.PageImagePath(name, renderPage, scale)
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
			return err
		}

		b := img.Bounds()
		fmt.Printf("Wrote %s (%dx%d at %.2fx)\n", out, b.Dx(), b.Dy(), scale)
		return nil
	},
}

func init() {
	renderCmd.Flags().IntVarP(&renderPage, "page", "p", 1, "Page to render (1-indexed)")
	renderCmd.Flags().Float64Var(&renderScale, "scale", 1, "Zoom scale (1 = 100%)")
	renderCmd.Flags().IntVar(&renderRotation, "rotation", 0, "Rotation: 0, 90, 180 or 270")
	renderCmd.Flags().StringVar(&renderOut, "out", "", "Output file (default: home cache directory)")
	renderCmd.Flags().DurationVar(&renderTimeout, "timeout", 2*time.Minute, "Give up after this long")

	rootCmd.AddCommand(renderCmd)
}
