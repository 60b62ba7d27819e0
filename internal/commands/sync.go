package commands

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/candle-sync/internal/database"
	"github.com/candle-sync/internal/engine"
	"github.com/candle-sync/internal/provider"
	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/logger"
	"github.com/candle-sync/pkg/models"
)

var (
	syncAsset string
	syncAll   bool
	syncDays  int
	syncMode  string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-shot sync for one or all assets",
	Long: `Run one synchronization pass against the provider.

Examples:
  # Smart sync for a single asset over the default lookback
  candle-sync sync --asset BTCUSDT

  # Force a full 90-day re-fetch
  candle-sync sync --asset BTCUSDT --days 90 --mode force

  # Incremental sync for all active assets
  candle-sync sync --all --mode incremental`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncAsset, "asset", "", "Asset to sync (e.g., BTCUSDT)")
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync all active assets")
	syncCmd.Flags().IntVar(&syncDays, "days", 0, "Lookback in days (default from SYNC_DAYS_BACK)")
	syncCmd.Flags().StringVar(&syncMode, "mode", "", "Update mode: smart, incremental, force")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if !syncAll && syncAsset == "" {
		return fmt.Errorf("either --asset or --all must be specified")
	}

	if syncAll && syncAsset != "" {
		return fmt.Errorf("cannot specify both --asset and --all")
	}

	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	mode := cfg.Sync.UpdateMode
	if syncMode != "" {
		mode = models.UpdateMode(syncMode)
		if !mode.Valid() {
			return fmt.Errorf("invalid update mode: %s", syncMode)
		}
	}

	days := syncDays
	if days == 0 {
		days = cfg.Sync.DaysBack
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	mysqlClient, err := database.NewMySQLClient(&cfg.MySQL, log)
	if err != nil {
		return fmt.Errorf("failed to create MySQL client: %w", err)
	}
	defer mysqlClient.Close()

	providerClient := provider.NewClient(&cfg.Provider, log)
	eng := engine.New(mysqlClient, providerClient, &cfg.Sync, log)

	ctx := context.Background()

	var assets []*models.AssetInfo
	if syncAll {
		all, err := mysqlClient.GetAssets(ctx)
		if err != nil {
			return fmt.Errorf("failed to list assets: %w", err)
		}
		for _, asset := range all {
			if asset.IsActive {
				assets = append(assets, asset)
			}
		}
	} else {
		asset, err := mysqlClient.GetAsset(ctx, syncAsset)
		if err != nil {
			return err
		}
		assets = append(assets, asset)
	}

	failed := 0
	for _, asset := range assets {
		report, err := eng.RunSync(ctx, asset, days, mode)
		if err != nil {
			log.WithError(err).WithField("asset", asset.AssetID).Error("Sync run failed")
			failed++
			continue
		}

		if err := mysqlClient.RecordSyncRun(ctx, report); err != nil {
			log.WithError(err).Warn("Failed to record sync run")
		}

		printReport(report)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d sync run(s) failed", failed, len(assets))
	}

	return nil
}

func printReport(report *models.SyncReport) {
	fmt.Printf("%s  strategy=%s api_calls=%d merged=%d overwritten=%d consolidated=%d (%d day(s)) errors=%d\n",
		report.AssetID,
		report.Strategy,
		report.APICalls,
		report.RecordsMerged,
		report.RecordsOverwritten,
		report.RecordsConsolidated,
		report.DaysConsolidated,
		len(report.Errors),
	)

	for _, msg := range report.Errors {
		fmt.Printf("  error: %s\n", msg)
	}
}
