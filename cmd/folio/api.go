package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running folio server via HTTP.

These commands require a running server (folio serve).
Use --server to specify a custom server URL.

Examples:
  folio api health                          # Check server health
  folio api documents open book.pdf         # Open a document
  folio api documents zoom <id> set 1.5     # Zoom to 150%
  folio api pages image <id> 3 -f p3.png    # Download page 3`,
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(api.NewRegistry(endpoints.DocumentCommands()...).
		BuildCommands("documents", "Document session commands", getServerURL))
	apiCmd.AddCommand(api.NewRegistry(endpoints.PageCommands()...).
		BuildCommands("pages", "Page image, layer and annotation commands", getServerURL))
	apiCmd.AddCommand(api.NewRegistry(endpoints.SettingsCommands()...).
		BuildCommands("settings", "Configuration settings commands", getServerURL))

	rootCmd.AddCommand(apiCmd)
}
