package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candle-sync/pkg/models"
)

var plannerNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestPlanner() *SyncPlanner {
	return NewSyncPlanner(testSyncConfig(), testLogger())
}

func snapshotAt(now time.Time) *models.CoverageSnapshot {
	return &models.CoverageSnapshot{AssetID: "BTC", TakenAt: now}
}

func TestBuildPlanForceMode(t *testing.T) {
	planner := newTestPlanner()

	plan, err := planner.BuildPlan(snapshotAt(plannerNow), models.StrategyFullFetch, 90, models.UpdateModeForce)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)

	hourly := plan.Tasks[0]
	assert.Equal(t, models.GranularityHourly, hourly.Granularity)
	assert.Equal(t, models.MergeNewData, hourly.Strategy)
	// Hourly is clamped to the fine window even when more was requested.
	assert.Equal(t, plannerNow.Add(-30*24*time.Hour), hourly.Start)
	assert.Equal(t, plannerNow, hourly.End)

	daily := plan.Tasks[1]
	assert.Equal(t, models.GranularityDaily, daily.Granularity)
	assert.Equal(t, models.MergeNewData, daily.Strategy)
	assert.Equal(t, dayStart(plannerNow).AddDate(0, 0, -90), daily.Start)
	assert.Equal(t, dayStart(plannerNow).AddDate(0, 0, -30), daily.End)
}

func TestBuildPlanForceModeInsideFineWindow(t *testing.T) {
	planner := newTestPlanner()

	plan, err := planner.BuildPlan(snapshotAt(plannerNow), models.StrategyFullFetch, 14, models.UpdateModeForce)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)

	assert.Equal(t, models.GranularityHourly, plan.Tasks[0].Granularity)
	assert.Equal(t, plannerNow.Add(-14*24*time.Hour), plan.Tasks[0].Start)
}

func TestBuildPlanIncrementalFetchesOnlyUncovered(t *testing.T) {
	planner := newTestPlanner()

	snap := snapshotAt(plannerNow)
	snap.Hourly = models.GranularityStats{
		Earliest: plannerNow.Add(-20 * 24 * time.Hour),
		Latest:   plannerNow.Add(-3 * time.Hour),
		Count:    480,
	}
	snap.Daily = models.GranularityStats{
		Earliest: dayStart(plannerNow).AddDate(0, 0, -90),
		Latest:   dayStart(plannerNow).AddDate(0, 0, -40),
		Count:    50,
	}

	plan, err := planner.BuildPlan(snap, models.StrategyIncrementalUpdate, 90, models.UpdateModeIncremental)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 2)

	hourly := plan.Tasks[0]
	assert.Equal(t, plannerNow.Add(-2*time.Hour), hourly.Start)
	assert.Equal(t, plannerNow, hourly.End)

	daily := plan.Tasks[1]
	assert.Equal(t, dayStart(plannerNow).AddDate(0, 0, -39), daily.Start)
	assert.Equal(t, dayStart(plannerNow).AddDate(0, 0, -30), daily.End)
}

func TestBuildPlanIncrementalFullyCovered(t *testing.T) {
	planner := newTestPlanner()

	snap := snapshotAt(plannerNow)
	snap.Hourly = models.GranularityStats{
		Earliest: plannerNow.Add(-30 * 24 * time.Hour),
		Latest:   plannerNow.Add(-30 * time.Minute),
		Count:    720,
	}
	snap.Daily = models.GranularityStats{
		Earliest: dayStart(plannerNow).AddDate(0, 0, -90),
		Latest:   dayStart(plannerNow).AddDate(0, 0, -30),
		Count:    61,
	}

	plan, err := planner.BuildPlan(snap, models.StrategyMaintenanceUpdate, 90, models.UpdateModeIncremental)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestBuildPlanSmartPreservesRecentWindow(t *testing.T) {
	planner := newTestPlanner()

	snap := snapshotAt(plannerNow)
	snap.Hourly = models.GranularityStats{
		Earliest: plannerNow.Add(-20 * 24 * time.Hour),
		Latest:   plannerNow.Add(-time.Hour),
		Count:    480,
	}

	plan, err := planner.BuildPlan(snap, models.StrategyMaintenanceUpdate, 20, models.UpdateModeSmart)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)

	hourly := plan.Tasks[0]
	assert.Equal(t, models.MergeWithExisting, hourly.Strategy)
	assert.Equal(t, plannerNow.Add(-24*time.Hour), hourly.Start)
	assert.Equal(t, plannerNow, hourly.End)
}

func TestBuildPlanSmartExtendsAcrossWideGap(t *testing.T) {
	planner := newTestPlanner()

	snap := snapshotAt(plannerNow)
	snap.Hourly = models.GranularityStats{
		Earliest: plannerNow.Add(-20 * 24 * time.Hour),
		Latest:   plannerNow.Add(-5 * 24 * time.Hour),
		Count:    360,
	}
	snap.GapDetected = true
	snap.GapSize = 5 * 24 * time.Hour

	plan, err := planner.BuildPlan(snap, models.StrategyIncrementalUpdate, 20, models.UpdateModeSmart)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)

	// The gap is wider than the preserve window, so the hourly re-fetch
	// reaches back to the record after the last stored one.
	assert.Equal(t, snap.Hourly.Latest.Add(time.Hour), plan.Tasks[0].Start)
}

func TestBuildPlanSmartClampsHourlyToFineWindow(t *testing.T) {
	planner := newTestPlanner()

	snap := snapshotAt(plannerNow)
	snap.Hourly = models.GranularityStats{
		Earliest: plannerNow.Add(-40 * 24 * time.Hour),
		Latest:   plannerNow.Add(-35 * 24 * time.Hour),
		Count:    120,
	}

	plan, err := planner.BuildPlan(snap, models.StrategyIncrementalUpdate, 30, models.UpdateModeSmart)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Tasks)

	fineStart := plannerNow.Add(-30 * 24 * time.Hour)
	for _, task := range plan.Tasks {
		if task.IsConsolidation() || task.Granularity != models.GranularityHourly {
			continue
		}
		assert.False(t, task.Start.Before(fineStart),
			"hourly fetch %s reaches beyond the fine window", task)
	}
}

func TestBuildPlanSmartOverlapScenario(t *testing.T) {
	// 37 days of hourly coverage against a 30-day fine window: re-fetch
	// the trailing day hourly, backfill days 31..90 daily, consolidate
	// the 7-day overlap zone.
	planner := newTestPlanner()

	snap := snapshotAt(plannerNow)
	snap.Hourly = models.GranularityStats{
		Earliest: dayStart(plannerNow).AddDate(0, 0, -37),
		Latest:   dayStart(plannerNow).Add(-time.Hour),
		Count:    888,
	}
	snap.GapDetected = true
	snap.GapSize = plannerNow.Sub(snap.Hourly.Latest)
	snap.OverlapDetected = true
	snap.OverlapStart = dayStart(plannerNow).AddDate(0, 0, -37)
	snap.OverlapEnd = dayStart(plannerNow).AddDate(0, 0, -30)
	snap.OverlapDays = 7

	plan, err := planner.BuildPlan(snap, models.StrategySmartOverlapResolution, 90, models.UpdateModeSmart)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 3)

	hourly := plan.Tasks[0]
	assert.Equal(t, models.GranularityHourly, hourly.Granularity)
	assert.Equal(t, models.MergeWithExisting, hourly.Strategy)
	assert.Equal(t, plannerNow.Add(-24*time.Hour), hourly.Start)
	assert.Equal(t, plannerNow, hourly.End)

	daily := plan.Tasks[1]
	assert.Equal(t, models.GranularityDaily, daily.Granularity)
	assert.Equal(t, models.MergeNewData, daily.Strategy)
	assert.Equal(t, dayStart(plannerNow).AddDate(0, 0, -90), daily.Start)
	assert.Equal(t, dayStart(plannerNow).AddDate(0, 0, -30), daily.End)

	consolidate := plan.Tasks[2]
	assert.True(t, consolidate.IsConsolidation())
	assert.Equal(t, snap.OverlapStart, consolidate.Start)
	assert.Equal(t, snap.OverlapEnd, consolidate.End)
	assert.Equal(t, models.GranularityDaily, consolidate.Target)
}

func TestBuildPlanConsolidateTaskIsAlwaysLast(t *testing.T) {
	planner := newTestPlanner()

	snap := snapshotAt(plannerNow)
	snap.Hourly = models.GranularityStats{
		Earliest: dayStart(plannerNow).AddDate(0, 0, -37),
		Latest:   plannerNow.Add(-30 * time.Minute),
		Count:    888,
	}
	snap.OverlapDetected = true
	snap.OverlapStart = dayStart(plannerNow).AddDate(0, 0, -37)
	snap.OverlapEnd = dayStart(plannerNow).AddDate(0, 0, -30)

	plan, err := planner.BuildPlan(snap, models.StrategyOverlapConsolidation, 90, models.UpdateModeSmart)
	require.NoError(t, err)
	require.NotEmpty(t, plan.Tasks)

	seenConsolidate := false
	for _, task := range plan.Tasks {
		if task.IsConsolidation() {
			seenConsolidate = true
			continue
		}
		assert.False(t, seenConsolidate, "fetch task %s ordered after a consolidate task", task)
	}
	assert.True(t, plan.Tasks[len(plan.Tasks)-1].IsConsolidation())
}

func TestValidateRejectsFetchAfterConsolidate(t *testing.T) {
	planner := newTestPlanner()

	plan := &models.SyncPlan{
		AssetID: "BTC",
		Tasks: []models.FetchTask{
			{
				AssetID:     "BTC",
				Granularity: models.GranularityHourly,
				Start:       dayStart(plannerNow).AddDate(0, 0, -37),
				End:         dayStart(plannerNow).AddDate(0, 0, -30),
				Target:      models.GranularityDaily,
				Strategy:    models.MergeConsolidate,
			},
			{
				AssetID:     "BTC",
				Granularity: models.GranularityHourly,
				Start:       plannerNow.Add(-24 * time.Hour),
				End:         plannerNow,
				Target:      models.GranularityHourly,
				Strategy:    models.MergeNewData,
			},
		},
	}

	err := planner.validate(plan, plannerNow)
	require.Error(t, err)

	var violation *PlanningInvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Contains(t, violation.Reason, "consolidate")
}

func TestValidateRejectsHourlyBeyondFineWindow(t *testing.T) {
	planner := newTestPlanner()

	plan := &models.SyncPlan{
		AssetID: "BTC",
		Tasks: []models.FetchTask{
			{
				AssetID:     "BTC",
				Granularity: models.GranularityHourly,
				Start:       plannerNow.Add(-45 * 24 * time.Hour),
				End:         plannerNow,
				Target:      models.GranularityHourly,
				Strategy:    models.MergeNewData,
			},
		},
	}

	err := planner.validate(plan, plannerNow)
	require.Error(t, err)

	var violation *PlanningInvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Contains(t, violation.Reason, "fine window")
}

func TestValidateRejectsConflictingStrategies(t *testing.T) {
	planner := newTestPlanner()

	plan := &models.SyncPlan{
		AssetID: "BTC",
		Tasks: []models.FetchTask{
			{
				AssetID:     "BTC",
				Granularity: models.GranularityHourly,
				Start:       plannerNow.Add(-24 * time.Hour),
				End:         plannerNow,
				Target:      models.GranularityHourly,
				Strategy:    models.MergeNewData,
			},
			{
				AssetID:     "BTC",
				Granularity: models.GranularityHourly,
				Start:       plannerNow.Add(-12 * time.Hour),
				End:         plannerNow,
				Target:      models.GranularityHourly,
				Strategy:    models.MergeWithExisting,
			},
		},
	}

	err := planner.validate(plan, plannerNow)
	require.Error(t, err)

	var violation *PlanningInvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Contains(t, violation.Reason, "conflicting")
}
