package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/casf-health/verifier/internal/adapter/outbound/postgres"
	"github.com/casf-health/verifier/internal/config"
	"github.com/casf-health/verifier/internal/service"
)

var digestDate string

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Export the audit digest for one UTC day",
	Long: `Verify the day's audit chain and print its digest as JSON on stdout.

The digest pins the day's events for external anchoring: publish the
digest_hash to a system outside the database and later re-runs of this
command must reproduce it.

Exit codes:
  0  chain intact, digest printed
  1  chain broken, digest printed
  2  export failed`,
	RunE: runDigest,
}

func init() {
	digestCmd.Flags().StringVar(&digestDate, "date", "",
		"UTC day to export, YYYY-MM-DD (default: yesterday)")
	rootCmd.AddCommand(digestCmd)
}

func runDigest(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	date := time.Now().UTC().AddDate(0, 0, -1)
	if digestDate != "" {
		parsed, err := time.Parse("2006-01-02", digestDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", digestDate)
		}
		date = parsed
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := postgres.Open(cfg.PGDSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = store.Close() }()

	digest, err := service.NewDigestService(store).Export(cmd.Context(), date)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(digest); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if !digest.ChainValid {
		fmt.Fprintln(os.Stderr, "audit chain is broken")
		os.Exit(1)
	}
	return nil
}
