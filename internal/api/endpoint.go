package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint pairs an HTTP route with the CLI command that calls it, so the
// server and `folio api` never drift apart.
type Endpoint interface {
	// Route returns the HTTP method, path pattern and handler.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the route needs the session manager.
	// Such routes answer 503 until it is ready and again while draining.
	RequiresInit() bool

	// Command returns a cobra command calling this endpoint. getServerURL is
	// evaluated when the command runs, after flags are parsed.
	Command(getServerURL func() string) *cobra.Command
}
