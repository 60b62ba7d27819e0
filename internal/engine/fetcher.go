package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/models"
)

// FetchExecutor executes fetch tasks against the provider with retry,
// backoff and rate-limit cooldown handling. Tasks for one asset run
// strictly in plan order; cross-asset parallelism is the scheduler's
// concern.
type FetchExecutor struct {
	provider Provider
	cfg      *config.SyncConfig
	logger   *logrus.Entry
}

// NewFetchExecutor creates a new fetch executor
func NewFetchExecutor(p Provider, cfg *config.SyncConfig, logger *logrus.Logger) *FetchExecutor {
	return &FetchExecutor{
		provider: p,
		cfg:      cfg,
		logger:   logger.WithField("component", "fetch-executor"),
	}
}

// FetchResult carries the outcome of one executed fetch task.
type FetchResult struct {
	Bars     []models.Bar
	Attempts int
}

// Execute runs one fetch task through the retry state machine. A
// non-retryable error or an exhausted attempt budget abandons only this
// task; the caller records the error and continues with the rest of the
// plan.
func (e *FetchExecutor) Execute(ctx context.Context, externalID string, task models.FetchTask) (*FetchResult, error) {
	state := newRetryState(e.cfg)

	for {
		state.begin()

		bars, err := e.provider.Fetch(ctx, externalID, task.Granularity, task.Start, task.End)
		if err == nil {
			return &FetchResult{Bars: bars, Attempts: state.attempt}, nil
		}

		delay, retry := state.failure(err)
		if !retry {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"asset":    task.AssetID,
				"task":     task.String(),
				"attempts": state.attempt,
			}).Warn("Fetch task abandoned")
			return &FetchResult{Attempts: state.attempt}, err
		}

		e.logger.WithError(err).WithFields(logrus.Fields{
			"asset":   task.AssetID,
			"attempt": state.attempt,
			"backoff": delay.String(),
		}).Debug("Fetch attempt failed, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &FetchResult{Attempts: state.attempt}, ctx.Err()
		}
	}
}
