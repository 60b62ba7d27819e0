package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/models"
)

// Engine runs the full sync pipeline for one asset: analyze coverage,
// build a plan, then execute fetch/merge and consolidate tasks strictly
// in plan order. The engine holds no state between invocations; it is a
// function from (stored state, request) to (storage mutations, report).
type Engine struct {
	analyzer     *CoverageAnalyzer
	planner      *SyncPlanner
	fetcher      *FetchExecutor
	merger       *MergeEngine
	consolidator *ConsolidationEngine
	logger       *logrus.Entry
}

// New wires the sync pipeline against a storage and provider pair.
func New(storage Storage, p Provider, cfg *config.SyncConfig, logger *logrus.Logger) *Engine {
	return &Engine{
		analyzer:     NewCoverageAnalyzer(storage, cfg, logger),
		planner:      NewSyncPlanner(cfg, logger),
		fetcher:      NewFetchExecutor(p, cfg, logger),
		merger:       NewMergeEngine(storage, logger),
		consolidator: NewConsolidationEngine(storage, logger),
		logger:       logger.WithField("component", "sync-engine"),
	}
}

// RunSync performs one sync run for the asset. Per-task and per-day
// failures accumulate in the report and the run continues; only an
// analysis-phase storage failure or a planning invariant violation
// aborts the run.
func (e *Engine) RunSync(ctx context.Context, asset *models.AssetInfo, daysBack int, mode models.UpdateMode) (*models.SyncReport, error) {
	report := &models.SyncReport{
		AssetID:   asset.AssetID,
		Mode:      string(mode),
		StartedAt: time.Now().UTC(),
	}

	snap, strategy, err := e.analyzer.Analyze(ctx, asset.AssetID)
	if err != nil {
		return nil, err
	}
	report.Strategy = strategy.String()

	plan, err := e.planner.BuildPlan(snap, strategy, daysBack, mode)
	if err != nil {
		// A planning invariant violation is a defect; fail loudly.
		return nil, err
	}

	for _, task := range plan.Tasks {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", task, err))
			break
		}

		if task.IsConsolidation() {
			e.runConsolidation(ctx, task, report)
			continue
		}

		e.runFetchMerge(ctx, asset.ExternalID, task, report)
	}

	report.FinishedAt = time.Now().UTC()

	e.logger.WithFields(logrus.Fields{
		"asset":        asset.AssetID,
		"strategy":     report.Strategy,
		"api_calls":    report.APICalls,
		"merged":       report.RecordsMerged,
		"overwritten":  report.RecordsOverwritten,
		"consolidated": report.RecordsConsolidated,
		"errors":       len(report.Errors),
	}).Info("Sync run finished")

	return report, nil
}

// runFetchMerge executes one fetch task and merges its result. Errors
// are recorded in the report; they never abort the remaining tasks.
func (e *Engine) runFetchMerge(ctx context.Context, externalID string, task models.FetchTask, report *models.SyncReport) {
	fetched, err := e.fetcher.Execute(ctx, externalID, task)
	if fetched != nil {
		report.APICalls += fetched.Attempts
	}
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("fetch %s: %v", task, err))
		return
	}

	result, err := e.merger.Merge(ctx, task, fetched.Bars)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("merge %s: %v", task, err))
		return
	}

	report.RecordsMerged += result.Merged
	report.RecordsOverwritten += result.Overwritten
}

// runConsolidation executes one consolidate task. A partial failure is
// reported per day and is non-fatal to the run.
func (e *Engine) runConsolidation(ctx context.Context, task models.FetchTask, report *models.SyncReport) {
	result, err := e.consolidator.Consolidate(ctx, task)
	if result != nil {
		report.RecordsConsolidated += result.RecordsConsolidated
		report.DaysConsolidated += result.DaysSucceeded
	}
	if err != nil {
		var partial *ConsolidationPartialFailure
		if errors.As(err, &partial) {
			report.Errors = append(report.Errors, partial.Error())
			return
		}
		report.Errors = append(report.Errors, fmt.Sprintf("consolidate %s: %v", task, err))
	}
}
