package engine

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/models"
)

// SyncPlanner turns a coverage snapshot into an ordered task sequence.
// Fetch tasks always precede consolidate tasks for the same asset, so
// consolidation observes post-merge state.
type SyncPlanner struct {
	cfg    *config.SyncConfig
	logger *logrus.Entry
}

// NewSyncPlanner creates a new sync planner
func NewSyncPlanner(cfg *config.SyncConfig, logger *logrus.Logger) *SyncPlanner {
	return &SyncPlanner{
		cfg:    cfg,
		logger: logger.WithField("component", "sync-planner"),
	}
}

// BuildPlan produces the task sequence for one sync run. The reference
// time is the snapshot's TakenAt so planning is deterministic for a
// given snapshot.
func (p *SyncPlanner) BuildPlan(snap *models.CoverageSnapshot, strategy models.Strategy, daysBack int, mode models.UpdateMode) (*models.SyncPlan, error) {
	if daysBack <= 0 {
		daysBack = p.cfg.DaysBack
	}

	now := snap.TakenAt.UTC()

	plan := &models.SyncPlan{
		AssetID:  snap.AssetID,
		Strategy: strategy,
	}

	switch mode {
	case models.UpdateModeForce:
		plan.Tasks = p.planForce(snap, daysBack, now)
	case models.UpdateModeIncremental:
		plan.Tasks = p.planIncremental(snap, daysBack, now)
	default:
		plan.Tasks = p.planSmart(snap, daysBack, now)
	}

	if err := p.validate(plan, now); err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"asset":    snap.AssetID,
		"mode":     mode,
		"strategy": strategy.String(),
		"tasks":    len(plan.Tasks),
	}).Debug("Plan built")

	return plan, nil
}

// planForce re-fetches the whole requested window regardless of
// coverage: hourly inside the fine window, daily beyond it.
func (p *SyncPlanner) planForce(snap *models.CoverageSnapshot, daysBack int, now time.Time) []models.FetchTask {
	var tasks []models.FetchTask

	hourlyDays := daysBack
	if hourlyDays > p.cfg.FineWindowDays {
		hourlyDays = p.cfg.FineWindowDays
	}

	tasks = append(tasks, models.FetchTask{
		AssetID:     snap.AssetID,
		Granularity: models.GranularityHourly,
		Start:       now.Add(-time.Duration(hourlyDays) * 24 * time.Hour),
		End:         now,
		Target:      models.GranularityHourly,
		Strategy:    models.MergeNewData,
	})

	if daily, ok := p.dailyRange(daysBack, now); ok {
		tasks = append(tasks, daily.toTask(snap.AssetID, models.MergeNewData))
	}

	return tasks
}

// planIncremental fetches only the uncovered portion of each
// granularity's range; fully covered ranges emit no task.
func (p *SyncPlanner) planIncremental(snap *models.CoverageSnapshot, daysBack int, now time.Time) []models.FetchTask {
	var tasks []models.FetchTask

	hourlyDays := daysBack
	if hourlyDays > p.cfg.FineWindowDays {
		hourlyDays = p.cfg.FineWindowDays
	}

	hourlyStart := now.Add(-time.Duration(hourlyDays) * 24 * time.Hour)
	if !snap.Hourly.Empty() {
		next := snap.Hourly.Latest.UTC().Add(models.GranularityHourly.Duration())
		if next.After(hourlyStart) {
			hourlyStart = next
		}
	}
	if hourlyStart.Before(now) {
		tasks = append(tasks, models.FetchTask{
			AssetID:     snap.AssetID,
			Granularity: models.GranularityHourly,
			Start:       hourlyStart,
			End:         now,
			Target:      models.GranularityHourly,
			Strategy:    models.MergeNewData,
		})
	}

	if daily, ok := p.dailyRange(daysBack, now); ok {
		if !snap.Daily.Empty() {
			next := dayStart(snap.Daily.Latest).AddDate(0, 0, 1)
			if next.After(daily.start) {
				daily.start = next
			}
		}
		if daily.start.Before(daily.end) {
			tasks = append(tasks, daily.toTask(snap.AssetID, models.MergeNewData))
		}
	}

	return tasks
}

// planSmart always re-fetches the trailing preserve window hourly to
// absorb provider-side corrections, fetches the uncovered historical
// range beyond the fine window daily, and appends one consolidate task
// when an overlap zone exists.
func (p *SyncPlanner) planSmart(snap *models.CoverageSnapshot, daysBack int, now time.Time) []models.FetchTask {
	var tasks []models.FetchTask

	hourlyStart := now.Add(-time.Duration(p.cfg.PreserveRecentHours) * time.Hour)
	if !snap.Hourly.Empty() {
		// A gap wider than the preserve window extends the re-fetch
		// back to the last stored hourly record.
		next := snap.Hourly.Latest.UTC().Add(models.GranularityHourly.Duration())
		if next.Before(hourlyStart) {
			hourlyStart = next
		}
	} else {
		hourlyDays := daysBack
		if hourlyDays > p.cfg.FineWindowDays {
			hourlyDays = p.cfg.FineWindowDays
		}
		hourlyStart = now.Add(-time.Duration(hourlyDays) * 24 * time.Hour)
	}

	// Hourly is never requested beyond the fine window.
	if fineStart := now.Add(-p.cfg.FineWindow()); hourlyStart.Before(fineStart) {
		hourlyStart = fineStart
	}

	tasks = append(tasks, models.FetchTask{
		AssetID:     snap.AssetID,
		Granularity: models.GranularityHourly,
		Start:       hourlyStart,
		End:         now,
		Target:      models.GranularityHourly,
		Strategy:    models.MergeWithExisting,
	})

	if daily, ok := p.dailyRange(daysBack, now); ok {
		if !snap.Daily.Empty() {
			next := dayStart(snap.Daily.Latest).AddDate(0, 0, 1)
			if next.After(daily.start) {
				daily.start = next
			}
		}
		if daily.start.Before(daily.end) {
			tasks = append(tasks, daily.toTask(snap.AssetID, models.MergeNewData))
		}
	}

	if snap.OverlapDetected {
		tasks = append(tasks, models.FetchTask{
			AssetID:     snap.AssetID,
			Granularity: models.GranularityHourly,
			Start:       snap.OverlapStart,
			End:         snap.OverlapEnd,
			Target:      models.GranularityDaily,
			Strategy:    models.MergeConsolidate,
		})
	}

	return tasks
}

// dailyWindow is the historical fetch range beyond the fine window.
type dailyWindow struct {
	start, end time.Time
}

func (w dailyWindow) toTask(assetID string, strategy models.MergeStrategy) models.FetchTask {
	return models.FetchTask{
		AssetID:     assetID,
		Granularity: models.GranularityDaily,
		Start:       w.start,
		End:         w.end,
		Target:      models.GranularityDaily,
		Strategy:    strategy,
	}
}

// dailyRange returns the day-aligned range older than the fine window,
// or ok=false when the request fits entirely inside it. Inside the fine
// window hourly data takes precedence; daily is used only beyond it.
func (p *SyncPlanner) dailyRange(daysBack int, now time.Time) (dailyWindow, bool) {
	if daysBack <= p.cfg.FineWindowDays {
		return dailyWindow{}, false
	}

	end := dayStart(now).AddDate(0, 0, -p.cfg.FineWindowDays)
	start := dayStart(now).AddDate(0, 0, -daysBack)
	return dailyWindow{start: start, end: end}, true
}

// validate enforces the plan invariants: fetch tasks precede consolidate
// tasks, hourly fetches stay inside the fine window, and no two fetch
// tasks target overlapping ranges with conflicting strategies.
func (p *SyncPlanner) validate(plan *models.SyncPlan, now time.Time) error {
	fineStart := now.Add(-p.cfg.FineWindow())

	seenConsolidate := false
	for i, task := range plan.Tasks {
		if task.IsConsolidation() {
			seenConsolidate = true
			continue
		}

		if seenConsolidate {
			return &PlanningInvariantViolation{
				Reason: "fetch task ordered after consolidate task",
				TaskA:  plan.Tasks[i-1],
				TaskB:  task,
			}
		}

		if task.Granularity == models.GranularityHourly && task.Start.Before(fineStart) {
			return &PlanningInvariantViolation{
				Reason: "hourly fetch older than provider fine window",
				TaskA:  task,
				TaskB:  task,
			}
		}

		for _, other := range plan.Tasks[i+1:] {
			if other.IsConsolidation() {
				continue
			}
			if task.Overlaps(other) && task.Strategy != other.Strategy {
				return &PlanningInvariantViolation{
					Reason: "overlapping ranges with conflicting strategies",
					TaskA:  task,
					TaskB:  other,
				}
			}
		}
	}

	return nil
}
