package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/candle-sync/internal/cache"
	"github.com/candle-sync/internal/database"
	"github.com/candle-sync/internal/engine"
	"github.com/candle-sync/internal/messaging"
	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/models"
)

// Scheduler triggers one sync run per tracked asset on a periodic
// basis. Runs for distinct assets execute concurrently, bounded by a
// worker pool sized against the provider's rate budget; within one
// asset's run the engine phases stay strictly sequential.
type Scheduler struct {
	engine *engine.Engine
	mysql  *database.MySQLClient
	redis  *cache.RedisClient
	nats   *messaging.NATSClient
	cfg    *config.Config
	logger *logrus.Entry

	// Control
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a new sync scheduler. The redis and nats clients are
// optional; nil disables caching and event publication.
func New(
	eng *engine.Engine,
	mysql *database.MySQLClient,
	redis *cache.RedisClient,
	nats *messaging.NATSClient,
	cfg *config.Config,
	logger *logrus.Logger,
) *Scheduler {
	return &Scheduler{
		engine: eng,
		mysql:  mysql,
		redis:  redis,
		nats:   nats,
		cfg:    cfg,
		logger: logger.WithField("component", "scheduler"),
		done:   make(chan struct{}),
	}
}

// Start starts the periodic sync loop
func (s *Scheduler) Start(ctx context.Context) error {
	if s.running {
		return nil
	}

	s.running = true
	s.logger.WithField("interval", s.cfg.Scheduler.Interval.String()).Info("Starting sync scheduler")

	s.wg.Add(1)
	go s.runLoop(ctx)

	return nil
}

// Stop stops the scheduler and waits for in-flight runs
func (s *Scheduler) Stop() error {
	if !s.running {
		return nil
	}

	s.logger.Info("Stopping sync scheduler")
	close(s.done)
	s.wg.Wait()
	s.running = false

	return nil
}

// runLoop runs the periodic sync cycle
func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	// Initial pass on startup
	s.RunAll(ctx)

	ticker := time.NewTicker(s.cfg.Scheduler.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll syncs every active asset under the concurrency bound
func (s *Scheduler) RunAll(ctx context.Context) {
	assets, err := s.mysql.GetAssets(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list assets")
		return
	}

	active := make([]*models.AssetInfo, 0, len(assets))
	for _, asset := range assets {
		if asset.IsActive {
			active = append(active, asset)
		}
	}

	s.logger.WithField("assets", len(active)).Info("Starting sync cycle")

	sem := make(chan struct{}, s.cfg.Scheduler.MaxConcurrent)
	var wg sync.WaitGroup

	for _, asset := range active {
		wg.Add(1)
		go func(asset *models.AssetInfo) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			s.RunOne(ctx, asset)
		}(asset)
	}

	wg.Wait()
	s.logger.Info("Sync cycle completed")
}

// RunOne syncs a single asset and records the outcome
func (s *Scheduler) RunOne(ctx context.Context, asset *models.AssetInfo) *models.SyncReport {
	runCtx := ctx
	if s.cfg.Scheduler.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Scheduler.RunTimeout)
		defer cancel()
	}

	report, err := s.engine.RunSync(runCtx, asset, s.cfg.Sync.DaysBack, s.cfg.Sync.UpdateMode)
	if err != nil {
		s.logger.WithError(err).WithField("asset", asset.AssetID).Error("Sync run failed")
		if s.nats != nil {
			if pubErr := s.nats.PublishSyncError(asset.AssetID, err.Error()); pubErr != nil {
				s.logger.WithError(pubErr).Warn("Failed to publish sync error")
			}
		}
		return nil
	}

	if err := s.mysql.RecordSyncRun(ctx, report); err != nil {
		s.logger.WithError(err).WithField("asset", asset.AssetID).Warn("Failed to record sync run")
	}

	if s.redis != nil {
		if err := s.redis.SetSyncReport(ctx, report); err != nil {
			s.logger.WithError(err).WithField("asset", asset.AssetID).Warn("Failed to cache sync report")
		}
	}

	if s.nats != nil {
		if err := s.nats.PublishSyncReport(report); err != nil {
			s.logger.WithError(err).WithField("asset", asset.AssetID).Warn("Failed to publish sync report")
		}
	}

	return report
}
