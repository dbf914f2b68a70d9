package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/folio/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the folio server",
	Long: `Start the folio HTTP server.

Documents opened through the API stay open until closed or until the server
shuts down (via Ctrl+C or SIGTERM). Shutdown closes every document, saving
pending changes when viewer.auto_save_on_close is set.

The server provides:
  - /health - Basic server health check
  - /ready  - Readiness check
  - /status - Open sessions, version and config

Examples:
  folio serve                    # Start on the configured port (default 8080)
  folio serve --port 3000        # Start on custom port
  folio serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		// Flags win over the config file
		cfg := mgr.Get()
		host, port := cfg.Server.Host, cfg.Server.Port
		if cmd.Flags().Changed("host") || host == "" {
			host = serveHost
		}
		if cmd.Flags().Changed("port") || port == "" {
			port = servePort
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			ConfigManager: mgr,
			Home:          h,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
