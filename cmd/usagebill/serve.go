package main

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the usagebill HTTP API.

The server will:
  - Load configuration from usagebill.yaml (or --config)
  - Or load configuration from USAGEBILL_* environment variables
  - Open the store and the optional plan cache
  - Serve GET /api/v1/draft_invoice to callers with an organization API key
  - Reload draft.workers and logging.level on file change or SIGHUP

Environment variables (for Docker deployments):
  USAGEBILL_DATABASE_DSN   - Database path (default: usagebill.db)
  USAGEBILL_SERVER_PORT    - Server port (default: 8080)
  USAGEBILL_CACHE_MODE     - Plan cache: none, memory or redis
  USAGEBILL_REDIS_ADDR     - Redis address when the cache mode is redis
  USAGEBILL_LOG_LEVEL      - Log level: debug, info, warn, error

Examples:
  usagebill serve
  usagebill serve --config /etc/usagebill/usagebill.yaml
  usagebill serve --memory --seed examples.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}

	// Run (blocks until shutdown)
	return a.Run(cmd.Context())
}
