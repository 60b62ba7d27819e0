package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/candle-sync/internal/database"
	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/logger"
	"github.com/candle-sync/pkg/models"
)

var (
	assetExternalID string
	assetName       string
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Manage tracked assets",
}

var assetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		mysqlClient, err := openMySQL()
		if err != nil {
			return err
		}
		defer mysqlClient.Close()

		assets, err := mysqlClient.GetAssets(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list assets: %w", err)
		}

		fmt.Printf("%-12s %-12s %-24s %s\n", "ASSET", "EXTERNAL", "NAME", "ACTIVE")
		for _, asset := range assets {
			fmt.Printf("%-12s %-12s %-24s %v\n", asset.AssetID, asset.ExternalID, asset.Name, asset.IsActive)
		}

		return nil
	},
}

var assetsAddCmd = &cobra.Command{
	Use:   "add [asset-id]",
	Short: "Add or update a tracked asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		assetID := args[0]

		externalID := assetExternalID
		if externalID == "" {
			externalID = assetID
		}

		mysqlClient, err := openMySQL()
		if err != nil {
			return err
		}
		defer mysqlClient.Close()

		asset := &models.AssetInfo{
			AssetID:    assetID,
			ExternalID: externalID,
			Name:       assetName,
			IsActive:   true,
		}

		if err := mysqlClient.InsertAsset(context.Background(), asset); err != nil {
			return err
		}

		fmt.Printf("Added asset %s (provider symbol %s)\n", assetID, externalID)
		return nil
	},
}

var assetsDisableCmd = &cobra.Command{
	Use:   "disable [asset-id]",
	Short: "Stop syncing an asset without deleting its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mysqlClient, err := openMySQL()
		if err != nil {
			return err
		}
		defer mysqlClient.Close()

		if err := mysqlClient.SetAssetActive(context.Background(), args[0], false); err != nil {
			return err
		}

		fmt.Printf("Disabled asset %s\n", args[0])
		return nil
	},
}

func init() {
	assetsAddCmd.Flags().StringVar(&assetExternalID, "external-id", "", "Provider symbol (defaults to asset id)")
	assetsAddCmd.Flags().StringVar(&assetName, "name", "", "Display name")

	assetsCmd.AddCommand(assetsListCmd)
	assetsCmd.AddCommand(assetsAddCmd)
	assetsCmd.AddCommand(assetsDisableCmd)
	rootCmd.AddCommand(assetsCmd)
}

// openMySQL loads config and opens a MySQL client for one-shot commands
func openMySQL() (*database.MySQLClient, error) {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	mysqlClient, err := database.NewMySQLClient(&cfg.MySQL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL client: %w", err)
	}

	return mysqlClient, nil
}
