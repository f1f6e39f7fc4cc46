// Package cmd provides the CLI commands for the CASF verification gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "verifier",
	Short: "CASF Verifier - zero-trust gateway for agent tool calls",
	Long: `The CASF verifier sits between AI agents and clinic tools. Every tool
invocation is submitted to POST /verify and answered with an ALLOW or DENY
decision; every decision is appended to a hash-chained audit trail.

Configuration is environment-first:
  PG_DSN                      Postgres DSN for the audit store (required)
  REDIS_URL                   anti-replay and rate-limit store
  OPA_URL                     policy engine base URL
  ANTI_REPLAY_ENABLED         default true
  ANTI_REPLAY_TTL_SECONDS     default 86400
  SMS_RATE_LIMIT              default 1 per window
  SMS_RATE_WINDOW_S           default 3600
  SMS_RATE_TENANT_OVERRIDES   JSON: {"tenant":{"limit":n,"window_s":n}}
  LOG_LEVEL, LOG_FORMAT       slog level and handler

Commands:
  serve       Start the verification gateway
  digest      Export the audit digest for one UTC day
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
