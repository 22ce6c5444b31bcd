/*
main.go - Application entry point

PURPOSE:
  Command-line entry point for the pool engine. The root command only
  holds shared flags; the work happens in subcommands.

COMMANDS:
  serve     Run the HTTP API and the week closer
  migrate   Apply the SQLite schema and print its version
  expiry    Print the expiry week of a unit under the configured holidays
  week      Print the week index of a date

SHARED FLAGS (each falls back to an environment variable):
  --config      POOL_CONFIG      TOML configuration (default: pool.toml, optional)
  --db          POOL_DB          SQLite path, ":memory:", or "memory" for the
                                 in-process store (default: pool.db)
  --log-level   POOL_LOG_LEVEL   debug, info, warn, error (default: info)
  --log-format  POOL_LOG_FORMAT  text or json (default: text)

ENVIRONMENT:
  A .env file in the working directory is loaded first when present.

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/pool.db --config=pool.toml

  # Run with the in-process store
  ./server serve --db=memory --port=3000

  # When does a unit bought in week 9 stop earning?
  ./server expiry 9 52

SEE ALSO:
  - serve.go: HTTP server startup and shutdown
  - api/server.go: Router configuration
  - config/config.go: Configuration file format
*/
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kingdom/pool-engine/config"
	"github.com/kingdom/pool-engine/logging"
	"github.com/kingdom/pool-engine/pool"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "pool.toml", "TOML configuration file (env POOL_CONFIG)")
	flags.String("db", "pool.db", `SQLite path, ":memory:", or "memory" (env POOL_DB)`)
	flags.String("log-level", "info", "Log level: debug, info, warn, error (env POOL_LOG_LEVEL)")
	flags.String("log-format", "text", "Log format: text or json (env POOL_LOG_FORMAT)")
}

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Ledger and rotation engine for a pooled investment",
	Long: `Tracks weekly contributions to a shared pool, the units the pool buys,
who owns each New unit, and what every collaborator is expected to pay.`,
	SilenceUsage: true,
}

// ─── Shared settings ────────────────────────────────────────────────────────

// setting returns the flag value when it was set explicitly, else the
// environment variable when present, else the flag default.
func setting(cmd *cobra.Command, flag, env string) string {
	value, _ := cmd.Flags().GetString(flag)
	if cmd.Flags().Changed(flag) {
		return value
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return value
}

func newLogger(cmd *cobra.Command) (*logging.Logger, error) {
	level, err := logging.ParseLevel(setting(cmd, "log-level", "POOL_LOG_LEVEL"))
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Config{
		Level:     level,
		Format:    setting(cmd, "log-format", "POOL_LOG_FORMAT"),
		Component: "server",
		Output:    os.Stderr,
	})
	logging.SetDefault(log)
	return log, nil
}

// loadConfig reads the optional TOML file and validates it.
func loadConfig(cmd *cobra.Command) (config.File, pool.Config, error) {
	path := setting(cmd, "config", "POOL_CONFIG")
	file, err := config.LoadOptional(path)
	if err != nil {
		return config.File{}, pool.Config{}, err
	}
	cfg, err := file.PoolConfig()
	if err != nil {
		return config.File{}, pool.Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return file, cfg, nil
}
