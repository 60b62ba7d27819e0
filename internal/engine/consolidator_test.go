package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candle-sync/pkg/models"
)

var consolidateDay = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func consolidateTask(start, end time.Time) models.FetchTask {
	return models.FetchTask{
		AssetID:     "BTC",
		Granularity: models.GranularityHourly,
		Start:       start,
		End:         end,
		Target:      models.GranularityDaily,
		Strategy:    models.MergeConsolidate,
	}
}

func TestConsolidateFoldsOneDayExactly(t *testing.T) {
	storage := newFakeStorage()
	storage.seed(
		models.Bar{AssetID: "BTC", Timestamp: consolidateDay, Granularity: models.GranularityHourly,
			Open: 100, High: 110, Low: 99, Close: 104, Volume: 10},
		models.Bar{AssetID: "BTC", Timestamp: consolidateDay.Add(time.Hour), Granularity: models.GranularityHourly,
			Open: 104, High: 120, Low: 103, Close: 118, Volume: 25},
		models.Bar{AssetID: "BTC", Timestamp: consolidateDay.Add(2 * time.Hour), Granularity: models.GranularityHourly,
			Open: 118, High: 119, Low: 95, Close: 97, Volume: 5},
	)
	consolidator := NewConsolidationEngine(storage, testLogger())

	result, err := consolidator.Consolidate(context.Background(),
		consolidateTask(consolidateDay, consolidateDay.AddDate(0, 0, 1)))
	require.NoError(t, err)

	assert.Equal(t, 1, result.DaysSucceeded)
	assert.Equal(t, 3, result.RecordsConsolidated)

	// Consumed hourly rows are gone.
	assert.Empty(t, storage.barsAt("BTC", models.GranularityHourly))

	daily := storage.barsAt("BTC", models.GranularityDaily)
	require.Len(t, daily, 1)
	assert.Equal(t, consolidateDay, daily[0].Timestamp)
	assert.Equal(t, 100.0, daily[0].Open)
	assert.Equal(t, 97.0, daily[0].Close)
	assert.Equal(t, 120.0, daily[0].High)
	assert.Equal(t, 95.0, daily[0].Low)
	assert.Equal(t, 40.0, daily[0].Volume)
}

func TestConsolidateSkipsEmptyDays(t *testing.T) {
	storage := newFakeStorage()
	// Day 1 and day 3 have data, day 2 is empty.
	storage.seed(seededBars("BTC", models.GranularityHourly, consolidateDay, consolidateDay.AddDate(0, 0, 1))...)
	storage.seed(seededBars("BTC", models.GranularityHourly,
		consolidateDay.AddDate(0, 0, 2), consolidateDay.AddDate(0, 0, 3))...)
	consolidator := NewConsolidationEngine(storage, testLogger())

	result, err := consolidator.Consolidate(context.Background(),
		consolidateTask(consolidateDay, consolidateDay.AddDate(0, 0, 3)))
	require.NoError(t, err)

	assert.Equal(t, 2, result.DaysSucceeded)
	assert.Equal(t, 48, result.RecordsConsolidated)
	assert.Len(t, storage.barsAt("BTC", models.GranularityDaily), 2)
}

func TestConsolidateIsRetrySafe(t *testing.T) {
	storage := newFakeStorage()
	storage.seed(seededBars("BTC", models.GranularityHourly, consolidateDay, consolidateDay.AddDate(0, 0, 1))...)
	consolidator := NewConsolidationEngine(storage, testLogger())

	task := consolidateTask(consolidateDay, consolidateDay.AddDate(0, 0, 1))

	first, err := consolidator.Consolidate(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, 1, first.DaysSucceeded)

	// The hourly rows are gone, so a second pass over the same range
	// finds nothing to fold.
	second, err := consolidator.Consolidate(context.Background(), task)
	require.NoError(t, err)
	assert.Zero(t, second.DaysSucceeded)
	assert.Zero(t, second.RecordsConsolidated)
	assert.Len(t, storage.barsAt("BTC", models.GranularityDaily), 1)
}

func TestConsolidateStopsAtFirstFailingDay(t *testing.T) {
	storage := newFakeStorage()
	storage.seed(seededBars("BTC", models.GranularityHourly, consolidateDay, consolidateDay.AddDate(0, 0, 3))...)
	consolidator := NewConsolidationEngine(storage, testLogger())

	day2 := consolidateDay.AddDate(0, 0, 1)
	storage.upsertHook = func(bar models.Bar) error {
		if bar.Granularity == models.GranularityDaily && bar.Timestamp.Equal(day2) {
			return errors.New("deadlock")
		}
		return nil
	}

	result, err := consolidator.Consolidate(context.Background(),
		consolidateTask(consolidateDay, consolidateDay.AddDate(0, 0, 3)))
	require.Error(t, err)

	var partial *ConsolidationPartialFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 1, partial.DaysSucceeded)
	assert.Equal(t, 2, partial.DaysFailed)
	assert.Equal(t, day2, partial.FirstFailedDay)

	assert.Equal(t, 1, result.DaysSucceeded)
	assert.Equal(t, 24, result.RecordsConsolidated)

	// Day 1 is committed, the failed day and everything after stay
	// untouched at hourly resolution.
	assert.Len(t, storage.barsAt("BTC", models.GranularityDaily), 1)
	assert.Len(t, storage.barsAt("BTC", models.GranularityHourly), 48)
}

func TestConsolidateHonorsCancellation(t *testing.T) {
	storage := newFakeStorage()
	storage.seed(seededBars("BTC", models.GranularityHourly, consolidateDay, consolidateDay.AddDate(0, 0, 2))...)
	consolidator := NewConsolidationEngine(storage, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := consolidator.Consolidate(ctx,
		consolidateTask(consolidateDay, consolidateDay.AddDate(0, 0, 2)))
	require.Error(t, err)

	var partial *ConsolidationPartialFailure
	require.ErrorAs(t, err, &partial)
	assert.ErrorIs(t, partial.Err, context.Canceled)
	assert.Len(t, storage.barsAt("BTC", models.GranularityHourly), 48)
}
