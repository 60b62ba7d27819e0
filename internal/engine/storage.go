package engine

import (
	"context"
	"time"

	"github.com/candle-sync/pkg/models"
)

// Storage is the record store the engine reads and mutates. The store
// enforces uniqueness on (asset_id, timestamp, granularity), so repeated
// writes of identical provider data are idempotent.
type Storage interface {
	// ReadCoverage returns the raw per-granularity stats for an asset.
	// Derived gap/overlap fields are filled in by the analyzer.
	ReadCoverage(ctx context.Context, assetID string) (*models.CoverageSnapshot, error)

	// WithTx runs fn inside one transaction; fn's writes either all
	// commit or none do.
	WithTx(ctx context.Context, fn func(tx StorageTx) error) error
}

// StorageTx is the mutation surface available inside a transaction.
type StorageTx interface {
	// SelectRange returns stored bars with timestamp in [start, end),
	// ordered by timestamp ascending.
	SelectRange(ctx context.Context, assetID string, g models.Granularity, start, end time.Time) ([]models.Bar, error)

	// Upsert inserts the bar or overwrites the record sharing its
	// (asset_id, timestamp, granularity) key.
	Upsert(ctx context.Context, bar models.Bar) error

	// RecordOverwrite appends a record-level audit row for a divergent
	// overwrite under the new_data strategy.
	RecordOverwrite(ctx context.Context, prev, next models.Bar) error

	// DeleteRange removes bars with timestamp in [start, end) and
	// returns the number of rows deleted.
	DeleteRange(ctx context.Context, assetID string, g models.Granularity, start, end time.Time) (int64, error)
}

// Provider is the external time-series source. Hourly data is only
// served inside the provider's fine-grained retention window.
type Provider interface {
	Fetch(ctx context.Context, externalID string, g models.Granularity, start, end time.Time) ([]models.Bar, error)
}
