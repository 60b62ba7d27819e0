package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/candle-sync/pkg/models"
)

// ConsolidationEngine folds hourly records that have aged out of the
// provider's fine-grained window into daily records, deleting the
// consumed hourly rows. Each calendar day is one transaction: the daily
// upsert and the hourly delete both apply or neither does, so any day
// is retry-safe.
type ConsolidationEngine struct {
	storage Storage
	logger  *logrus.Entry
}

// NewConsolidationEngine creates a new consolidation engine
func NewConsolidationEngine(storage Storage, logger *logrus.Logger) *ConsolidationEngine {
	return &ConsolidationEngine{
		storage: storage,
		logger:  logger.WithField("component", "consolidation-engine"),
	}
}

// ConsolidationResult reports a consolidation pass over a date range.
type ConsolidationResult struct {
	DaysSucceeded       int
	RecordsConsolidated int // hourly rows folded away
}

// Consolidate processes each calendar day in the task's range in order.
// Days without hourly data are skipped. The pass stops at the first
// failing day and reports a ConsolidationPartialFailure: completed days
// stay committed, later days stay untouched, and the caller can retry
// the failed subset.
func (c *ConsolidationEngine) Consolidate(ctx context.Context, task models.FetchTask) (*ConsolidationResult, error) {
	result := &ConsolidationResult{}

	start := dayStart(task.Start)
	end := dayStart(task.End)
	if task.End.After(end) {
		end = end.AddDate(0, 0, 1)
	}

	for day := start; day.Before(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return result, c.partialFailure(result, day, end, err)
		}

		folded, err := c.consolidateDay(ctx, task.AssetID, day)
		if err != nil {
			return result, c.partialFailure(result, day, end, err)
		}

		if folded > 0 {
			result.DaysSucceeded++
			result.RecordsConsolidated += folded
		}
	}

	c.logger.WithFields(logrus.Fields{
		"asset":        task.AssetID,
		"days":         result.DaysSucceeded,
		"consolidated": result.RecordsConsolidated,
	}).Debug("Consolidation completed")

	return result, nil
}

// consolidateDay folds one calendar day atomically, returning the
// number of hourly rows consumed (0 means the day had no data).
func (c *ConsolidationEngine) consolidateDay(ctx context.Context, assetID string, day time.Time) (int, error) {
	folded := 0

	err := c.storage.WithTx(ctx, func(tx StorageTx) error {
		next := day.AddDate(0, 0, 1)

		hourly, err := tx.SelectRange(ctx, assetID, models.GranularityHourly, day, next)
		if err != nil {
			return fmt.Errorf("failed to load hourly records: %w", err)
		}

		if len(hourly) == 0 {
			return nil
		}

		daily := foldDaily(assetID, day, hourly)
		if err := tx.Upsert(ctx, daily); err != nil {
			return fmt.Errorf("failed to upsert daily record: %w", err)
		}

		deleted, err := tx.DeleteRange(ctx, assetID, models.GranularityHourly, day, next)
		if err != nil {
			return fmt.Errorf("failed to delete consumed hourly records: %w", err)
		}
		if int(deleted) != len(hourly) {
			return fmt.Errorf("expected to delete %d hourly records, deleted %d", len(hourly), deleted)
		}

		folded = len(hourly)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return folded, nil
}

// foldDaily aggregates one day's hourly bars into a single daily bar:
// open from the earliest record, close from the latest, high/low as
// extremes, volume summed.
func foldDaily(assetID string, day time.Time, hourly []models.Bar) models.Bar {
	sort.Slice(hourly, func(i, j int) bool {
		return hourly[i].Timestamp.Before(hourly[j].Timestamp)
	})

	daily := models.Bar{
		AssetID:     assetID,
		Timestamp:   day,
		Granularity: models.GranularityDaily,
		Open:        hourly[0].Open,
		High:        hourly[0].High,
		Low:         hourly[0].Low,
		Close:       hourly[len(hourly)-1].Close,
	}

	for _, bar := range hourly {
		if bar.High > daily.High {
			daily.High = bar.High
		}
		if bar.Low < daily.Low {
			daily.Low = bar.Low
		}
		daily.Volume += bar.Volume
	}

	return daily
}

// partialFailure builds the per-day failure detail for a pass that
// stopped on failedDay.
func (c *ConsolidationEngine) partialFailure(result *ConsolidationResult, failedDay, end time.Time, err error) error {
	daysFailed := int(end.Sub(failedDay).Hours() / 24)

	c.logger.WithError(err).WithFields(logrus.Fields{
		"failed_day":     failedDay.Format("2006-01-02"),
		"days_succeeded": result.DaysSucceeded,
		"days_failed":    daysFailed,
	}).Warn("Consolidation stopped on failing day")

	return &ConsolidationPartialFailure{
		DaysSucceeded:  result.DaysSucceeded,
		DaysFailed:     daysFailed,
		FirstFailedDay: failedDay,
		Err:            err,
	}
}
