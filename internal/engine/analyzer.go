package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/models"
)

// CoverageAnalyzer reads stored data state for an asset and derives a
// coverage snapshot plus a recommended sync strategy.
type CoverageAnalyzer struct {
	storage Storage
	cfg     *config.SyncConfig
	logger  *logrus.Entry

	// Injected for tests
	now func() time.Time
}

// NewCoverageAnalyzer creates a new coverage analyzer
func NewCoverageAnalyzer(storage Storage, cfg *config.SyncConfig, logger *logrus.Logger) *CoverageAnalyzer {
	return &CoverageAnalyzer{
		storage: storage,
		cfg:     cfg,
		logger:  logger.WithField("component", "coverage-analyzer"),
		now:     time.Now,
	}
}

// Analyze computes the coverage snapshot for an asset and recommends a
// strategy. A storage failure here aborts the asset's run.
func (a *CoverageAnalyzer) Analyze(ctx context.Context, assetID string) (*models.CoverageSnapshot, models.Strategy, error) {
	snap, err := a.storage.ReadCoverage(ctx, assetID)
	if err != nil {
		return nil, 0, &StorageError{Op: "coverage read", Err: err}
	}

	now := a.now().UTC()
	snap.AssetID = assetID
	snap.TakenAt = now

	a.detectGap(snap, now)
	a.detectOverlap(snap, now)

	strategy := decideStrategy(snap)

	a.logger.WithFields(logrus.Fields{
		"asset":        assetID,
		"hourly_count": snap.Hourly.Count,
		"daily_count":  snap.Daily.Count,
		"gap":          snap.GapDetected,
		"overlap_days": snap.OverlapDays,
		"strategy":     strategy.String(),
	}).Debug("Coverage analyzed")

	return snap, strategy, nil
}

// detectGap flags missing recent hourly data: the distance between the
// latest stored hourly record and now exceeding the sampling threshold.
func (a *CoverageAnalyzer) detectGap(snap *models.CoverageSnapshot, now time.Time) {
	if snap.Hourly.Empty() {
		return
	}

	threshold := a.cfg.GapThreshold
	if threshold <= 0 {
		threshold = models.GranularityHourly.Duration()
	}

	gap := now.Sub(snap.Hourly.Latest.UTC())
	if gap > threshold {
		snap.GapDetected = true
		snap.GapSize = gap
	}
}

// detectOverlap flags stored hourly data older than the provider's
// fine-grained window. That zone can no longer be re-fetched hourly and
// is a candidate for consolidation into daily records.
func (a *CoverageAnalyzer) detectOverlap(snap *models.CoverageSnapshot, now time.Time) {
	if snap.Hourly.Empty() {
		return
	}

	fineCutoff := dayStart(now).AddDate(0, 0, -a.cfg.FineWindowDays)
	oldest := dayStart(snap.Hourly.Earliest)
	if !oldest.Before(fineCutoff) {
		return
	}

	snap.OverlapDetected = true
	snap.OverlapStart = oldest
	snap.OverlapEnd = fineCutoff
	snap.OverlapDays = int(fineCutoff.Sub(oldest).Hours() / 24)
}

// decideStrategy evaluates the strategy decision table top-down; the
// first matching row wins.
func decideStrategy(snap *models.CoverageSnapshot) models.Strategy {
	switch {
	case snap.Empty():
		return models.StrategyFullFetch
	case !snap.Hourly.Empty() && snap.OverlapDetected && snap.GapDetected:
		return models.StrategySmartOverlapResolution
	case !snap.Hourly.Empty() && snap.GapDetected:
		return models.StrategyIncrementalUpdate
	case snap.OverlapDetected && !snap.GapDetected:
		return models.StrategyOverlapConsolidation
	default:
		return models.StrategyMaintenanceUpdate
	}
}

// dayStart truncates t to UTC midnight.
func dayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
