package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/candle-sync/internal/engine"
	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/models"
)

// MySQLClient handles MySQL database operations. It implements
// engine.Storage: the price_bars unique key on (asset_id, ts,
// granularity) makes upserts idempotent even under concurrent runs.
type MySQLClient struct {
	db     *sql.DB
	logger *logrus.Entry
	cfg    *config.MySQLConfig
}

// NewMySQLClient creates a new MySQL client
func NewMySQLClient(cfg *config.MySQLConfig, logger *logrus.Logger) (*MySQLClient, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	logger.WithField("dsn", fmt.Sprintf("%s:***@tcp(%s:%d)/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)).Debug("Connecting to MySQL")

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	return &MySQLClient{
		db:     db,
		logger: logger.WithField("component", "mysql"),
		cfg:    cfg,
	}, nil
}

// Close closes the database connection
func (mc *MySQLClient) Close() error {
	return mc.db.Close()
}

// Health checks database health
func (mc *MySQLClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return mc.db.PingContext(ctx)
}

// Asset operations

// GetAssets retrieves all tracked assets
func (mc *MySQLClient) GetAssets(ctx context.Context) ([]*models.AssetInfo, error) {
	query := `
		SELECT id, asset_id, external_id, name, is_active, created_at, updated_at
		FROM assets
		ORDER BY asset_id
	`

	rows, err := mc.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.AssetInfo
	for rows.Next() {
		asset := &models.AssetInfo{}
		err := rows.Scan(
			&asset.ID,
			&asset.AssetID,
			&asset.ExternalID,
			&asset.Name,
			&asset.IsActive,
			&asset.CreatedAt,
			&asset.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}

	return assets, rows.Err()
}

// GetAsset retrieves a single asset by its identifier
func (mc *MySQLClient) GetAsset(ctx context.Context, assetID string) (*models.AssetInfo, error) {
	query := `
		SELECT id, asset_id, external_id, name, is_active, created_at, updated_at
		FROM assets
		WHERE asset_id = ?
	`

	asset := &models.AssetInfo{}
	err := mc.db.QueryRowContext(ctx, query, assetID).Scan(
		&asset.ID,
		&asset.AssetID,
		&asset.ExternalID,
		&asset.Name,
		&asset.IsActive,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("asset not found: %s", assetID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query asset: %w", err)
	}

	return asset, nil
}

// InsertAsset adds a tracked asset, updating the mapping if it exists
func (mc *MySQLClient) InsertAsset(ctx context.Context, asset *models.AssetInfo) error {
	query := `
		INSERT INTO assets (asset_id, external_id, name, is_active)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			external_id = VALUES(external_id),
			name = VALUES(name),
			is_active = VALUES(is_active),
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := mc.db.ExecContext(ctx, query, asset.AssetID, asset.ExternalID, asset.Name, asset.IsActive)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}

	return nil
}

// SetAssetActive toggles whether an asset is synced
func (mc *MySQLClient) SetAssetActive(ctx context.Context, assetID string, active bool) error {
	result, err := mc.db.ExecContext(ctx,
		`UPDATE assets SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE asset_id = ?`,
		active, assetID)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("asset not found: %s", assetID)
	}

	return nil
}

// engine.Storage implementation

// ReadCoverage returns per-granularity stats for an asset's stored bars
func (mc *MySQLClient) ReadCoverage(ctx context.Context, assetID string) (*models.CoverageSnapshot, error) {
	query := `
		SELECT granularity, MIN(ts), MAX(ts), COUNT(*)
		FROM price_bars
		WHERE asset_id = ?
		GROUP BY granularity
	`

	rows, err := mc.db.QueryContext(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to read coverage: %w", err)
	}
	defer rows.Close()

	snap := &models.CoverageSnapshot{AssetID: assetID}
	for rows.Next() {
		var granularity string
		var earliest, latest sql.NullTime
		var count int64

		if err := rows.Scan(&granularity, &earliest, &latest, &count); err != nil {
			return nil, fmt.Errorf("failed to scan coverage row: %w", err)
		}

		stats := models.GranularityStats{Count: count}
		if earliest.Valid {
			stats.Earliest = earliest.Time.UTC()
		}
		if latest.Valid {
			stats.Latest = latest.Time.UTC()
		}

		switch models.Granularity(granularity) {
		case models.GranularityHourly:
			snap.Hourly = stats
		case models.GranularityDaily:
			snap.Daily = stats
		}
	}

	return snap, rows.Err()
}

// WithTx executes fn within a transaction
func (mc *MySQLClient) WithTx(ctx context.Context, fn func(tx engine.StorageTx) error) error {
	tx, err := mc.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// mysqlTx adapts one *sql.Tx to the engine's transaction surface
type mysqlTx struct {
	tx *sql.Tx
}

// SelectRange returns bars in [start, end) ordered by timestamp
func (t *mysqlTx) SelectRange(ctx context.Context, assetID string, g models.Granularity, start, end time.Time) ([]models.Bar, error) {
	query := `
		SELECT asset_id, ts, granularity, open, high, low, close, volume
		FROM price_bars
		WHERE asset_id = ? AND granularity = ? AND ts >= ? AND ts < ?
		ORDER BY ts
	`

	rows, err := t.tx.QueryContext(ctx, query, assetID, string(g), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var bar models.Bar
		var granularity string
		err := rows.Scan(
			&bar.AssetID,
			&bar.Timestamp,
			&granularity,
			&bar.Open,
			&bar.High,
			&bar.Low,
			&bar.Close,
			&bar.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bar.Granularity = models.Granularity(granularity)
		bar.Timestamp = bar.Timestamp.UTC()
		bars = append(bars, bar)
	}

	return bars, rows.Err()
}

// Upsert writes one bar, overwriting the record sharing its key
func (t *mysqlTx) Upsert(ctx context.Context, bar models.Bar) error {
	query := `
		INSERT INTO price_bars (asset_id, ts, granularity, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			open = VALUES(open),
			high = VALUES(high),
			low = VALUES(low),
			close = VALUES(close),
			volume = VALUES(volume),
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := t.tx.ExecContext(ctx, query,
		bar.AssetID, bar.Timestamp.UTC(), string(bar.Granularity),
		bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	if err != nil {
		return fmt.Errorf("failed to upsert bar: %w", err)
	}

	return nil
}

// RecordOverwrite appends a record-level audit row for a divergent
// overwrite
func (t *mysqlTx) RecordOverwrite(ctx context.Context, prev, next models.Bar) error {
	query := `
		INSERT INTO price_overwrites
			(asset_id, ts, granularity,
			 old_open, old_high, old_low, old_close, old_volume,
			 new_open, new_high, new_low, new_close, new_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := t.tx.ExecContext(ctx, query,
		prev.AssetID, prev.Timestamp.UTC(), string(prev.Granularity),
		prev.Open, prev.High, prev.Low, prev.Close, prev.Volume,
		next.Open, next.High, next.Low, next.Close, next.Volume)
	if err != nil {
		return fmt.Errorf("failed to record overwrite: %w", err)
	}

	return nil
}

// DeleteRange removes bars in [start, end)
func (t *mysqlTx) DeleteRange(ctx context.Context, assetID string, g models.Granularity, start, end time.Time) (int64, error) {
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM price_bars WHERE asset_id = ? AND granularity = ? AND ts >= ? AND ts < ?`,
		assetID, string(g), start.UTC(), end.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete bars: %w", err)
	}

	return result.RowsAffected()
}

// Sync run history

// RecordSyncRun persists one run report
func (mc *MySQLClient) RecordSyncRun(ctx context.Context, report *models.SyncReport) error {
	errorsJSON, err := json.Marshal(report.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal run errors: %w", err)
	}

	query := `
		INSERT INTO sync_runs
			(asset_id, strategy, mode, api_calls, records_merged, records_overwritten,
			 records_consolidated, days_consolidated, errors, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = mc.db.ExecContext(ctx, query,
		report.AssetID, report.Strategy, report.Mode,
		report.APICalls, report.RecordsMerged, report.RecordsOverwritten,
		report.RecordsConsolidated, report.DaysConsolidated,
		string(errorsJSON), report.StartedAt, report.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}

	return nil
}

// GetLastSyncRuns returns the most recent run per asset
func (mc *MySQLClient) GetLastSyncRuns(ctx context.Context) ([]*models.SyncReport, error) {
	query := `
		SELECT r.asset_id, r.strategy, r.mode, r.api_calls, r.records_merged,
		       r.records_overwritten, r.records_consolidated, r.days_consolidated,
		       r.errors, r.started_at, r.finished_at
		FROM sync_runs r
		INNER JOIN (
			SELECT asset_id, MAX(id) AS max_id FROM sync_runs GROUP BY asset_id
		) latest ON r.id = latest.max_id
		ORDER BY r.asset_id
	`

	rows, err := mc.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var reports []*models.SyncReport
	for rows.Next() {
		report := &models.SyncReport{}
		var errorsJSON string
		err := rows.Scan(
			&report.AssetID,
			&report.Strategy,
			&report.Mode,
			&report.APICalls,
			&report.RecordsMerged,
			&report.RecordsOverwritten,
			&report.RecordsConsolidated,
			&report.DaysConsolidated,
			&errorsJSON,
			&report.StartedAt,
			&report.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		if errorsJSON != "" {
			if err := json.Unmarshal([]byte(errorsJSON), &report.Errors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal run errors: %w", err)
			}
		}

		reports = append(reports, report)
	}

	return reports, rows.Err()
}
