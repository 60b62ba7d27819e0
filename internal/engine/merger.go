package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/candle-sync/pkg/models"
)

// MergeEngine folds fetched records into storage under the task's
// declared merge strategy. All writes belonging to one task commit in a
// single transaction; a failure mid-task leaves none of them visible.
type MergeEngine struct {
	storage Storage
	logger  *logrus.Entry
}

// NewMergeEngine creates a new merge engine
func NewMergeEngine(storage Storage, logger *logrus.Logger) *MergeEngine {
	return &MergeEngine{
		storage: storage,
		logger:  logger.WithField("component", "merge-engine"),
	}
}

// MergeResult reports what one merge transaction changed.
type MergeResult struct {
	Merged      int // rows inserted for previously uncovered timestamps
	Overwritten int // rows that existed with divergent values
}

// Merge upserts the fetched bars for one task. Rows identical to what
// is already stored are skipped, so re-merging covered ranges changes
// nothing. Under new_data, a divergent existing row is overwritten and
// the overwrite is recorded for audit (the provider is source of
// truth); merge_with_existing overwrites without audit.
func (m *MergeEngine) Merge(ctx context.Context, task models.FetchTask, bars []models.Bar) (*MergeResult, error) {
	result := &MergeResult{}

	if len(bars) == 0 {
		return result, nil
	}

	err := m.storage.WithTx(ctx, func(tx StorageTx) error {
		existing, err := tx.SelectRange(ctx, task.AssetID, task.Target, task.Start, task.End)
		if err != nil {
			return fmt.Errorf("failed to read existing range: %w", err)
		}

		byKey := make(map[models.BarKey]models.Bar, len(existing))
		for _, bar := range existing {
			byKey[bar.Key()] = bar
		}

		for _, bar := range bars {
			bar.AssetID = task.AssetID
			bar.Granularity = task.Target

			prev, found := byKey[bar.Key()]
			if found {
				if prev.SameValues(bar) {
					continue
				}
				if task.Strategy == models.MergeNewData {
					if err := tx.RecordOverwrite(ctx, prev, bar); err != nil {
						return fmt.Errorf("failed to record overwrite: %w", err)
					}
				}
				if err := tx.Upsert(ctx, bar); err != nil {
					return fmt.Errorf("failed to upsert bar: %w", err)
				}
				result.Overwritten++
				continue
			}

			if err := tx.Upsert(ctx, bar); err != nil {
				return fmt.Errorf("failed to upsert bar: %w", err)
			}
			result.Merged++
		}

		return nil
	})
	if err != nil {
		// The transaction rolled back; none of this task's writes are
		// visible.
		return nil, &StorageError{Op: "merge", Err: err}
	}

	m.logger.WithFields(logrus.Fields{
		"asset":       task.AssetID,
		"granularity": task.Target,
		"fetched":     len(bars),
		"merged":      result.Merged,
		"overwritten": result.Overwritten,
	}).Debug("Merge committed")

	return result, nil
}
