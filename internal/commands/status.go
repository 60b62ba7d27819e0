package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/candle-sync/internal/cache"
	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/logger"
	"github.com/candle-sync/pkg/models"
)

var statusAsset string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last sync run per asset",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAsset, "asset", "", "Show only this asset")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Single-asset lookups try the report cache before MySQL.
	if statusAsset != "" {
		if report, ok := cachedReport(ctx, statusAsset); ok {
			printStatusHeader()
			printStatusRow(report)
			return nil
		}
	}

	mysqlClient, err := openMySQL()
	if err != nil {
		return err
	}
	defer mysqlClient.Close()

	reports, err := mysqlClient.GetLastSyncRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sync runs: %w", err)
	}

	if statusAsset != "" {
		filtered := reports[:0]
		for _, report := range reports {
			if report.AssetID == statusAsset {
				filtered = append(filtered, report)
			}
		}
		reports = filtered
	}

	if len(reports) == 0 {
		fmt.Println("No sync runs recorded")
		return nil
	}

	printStatusHeader()
	for _, report := range reports {
		printStatusRow(report)
	}

	return nil
}

// cachedReport returns the Redis-cached report for an asset, if Redis
// is reachable and the cache is warm.
func cachedReport(ctx context.Context, assetID string) (*models.SyncReport, bool) {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		return nil, false
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, false
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis, log)
	if err != nil {
		return nil, false
	}
	defer redisClient.Close()

	report, err := redisClient.GetSyncReport(ctx, assetID)
	if err != nil || report == nil {
		return nil, false
	}

	return report, true
}

func printStatusHeader() {
	fmt.Printf("%-12s %-26s %-9s %-8s %-12s %-20s %s\n",
		"ASSET", "STRATEGY", "API", "MERGED", "CONSOLIDATED", "FINISHED", "ERRORS")
	fmt.Println(strings.Repeat("-", 100))
}

func printStatusRow(report *models.SyncReport) {
	fmt.Printf("%-12s %-26s %-9d %-8d %-12d %-20s %d\n",
		report.AssetID,
		report.Strategy,
		report.APICalls,
		report.RecordsMerged,
		report.RecordsConsolidated,
		report.FinishedAt.Format(time.DateTime),
		len(report.Errors),
	)
}
