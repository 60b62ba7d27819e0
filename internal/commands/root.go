package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "candle-sync",
	Short: "Incremental OHLCV price history synchronization",
	Long: `candle-sync keeps per-asset OHLCV price history in sync with a
rate-limited provider that serves hourly data only inside a bounded
trailing window and daily data beyond it.

Each sync run analyzes stored coverage, plans the minimal set of
fetches, merges provider data under declared conflict policies, and
consolidates hourly records that aged out of the provider's fine
window into daily records.`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
