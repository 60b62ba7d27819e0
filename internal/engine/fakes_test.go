package engine

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		FineWindowDays:      30,
		PreserveRecentHours: 24,
		DaysBack:            90,
		UpdateMode:          models.UpdateModeSmart,
		GapThreshold:        time.Hour,
		MaxRetryAttempts:    3,
		BackoffBase:         time.Millisecond,
		BackoffMax:          5 * time.Millisecond,
		RateLimitCooldown:   2 * time.Millisecond,
	}
}

type overwriteAudit struct {
	prev, next models.Bar
}

// fakeStorage is an in-memory Storage with transactional semantics: a
// failing WithTx callback leaves the store untouched.
type fakeStorage struct {
	mu         sync.Mutex
	bars       map[models.BarKey]models.Bar
	overwrites []overwriteAudit

	coverage   *models.CoverageSnapshot
	readErr    error
	upsertHook func(bar models.Bar) error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{bars: make(map[models.BarKey]models.Bar)}
}

func (f *fakeStorage) seed(bars ...models.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bar := range bars {
		f.bars[bar.Key()] = bar
	}
}

func (f *fakeStorage) barsAt(assetID string, g models.Granularity) []models.Bar {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Bar
	for _, bar := range f.bars {
		if bar.AssetID == assetID && bar.Granularity == g {
			out = append(out, bar)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (f *fakeStorage) ReadCoverage(ctx context.Context, assetID string) (*models.CoverageSnapshot, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.coverage != nil {
		snap := *f.coverage
		return &snap, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	snap := &models.CoverageSnapshot{AssetID: assetID}
	for _, bar := range f.bars {
		if bar.AssetID != assetID {
			continue
		}
		stats := &snap.Hourly
		if bar.Granularity == models.GranularityDaily {
			stats = &snap.Daily
		}
		if stats.Count == 0 || bar.Timestamp.Before(stats.Earliest) {
			stats.Earliest = bar.Timestamp
		}
		if stats.Count == 0 || bar.Timestamp.After(stats.Latest) {
			stats.Latest = bar.Timestamp
		}
		stats.Count++
	}
	return snap, nil
}

func (f *fakeStorage) WithTx(ctx context.Context, fn func(tx StorageTx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	staged := make(map[models.BarKey]models.Bar, len(f.bars))
	for k, v := range f.bars {
		staged[k] = v
	}

	tx := &fakeTx{storage: f, bars: staged}
	if err := fn(tx); err != nil {
		return err
	}

	f.bars = staged
	f.overwrites = append(f.overwrites, tx.overwrites...)
	return nil
}

type fakeTx struct {
	storage    *fakeStorage
	bars       map[models.BarKey]models.Bar
	overwrites []overwriteAudit
}

func (t *fakeTx) SelectRange(ctx context.Context, assetID string, g models.Granularity, start, end time.Time) ([]models.Bar, error) {
	var out []models.Bar
	for _, bar := range t.bars {
		if bar.AssetID != assetID || bar.Granularity != g {
			continue
		}
		if bar.Timestamp.Before(start) || !bar.Timestamp.Before(end) {
			continue
		}
		out = append(out, bar)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (t *fakeTx) Upsert(ctx context.Context, bar models.Bar) error {
	if t.storage.upsertHook != nil {
		if err := t.storage.upsertHook(bar); err != nil {
			return err
		}
	}
	t.bars[bar.Key()] = bar
	return nil
}

func (t *fakeTx) RecordOverwrite(ctx context.Context, prev, next models.Bar) error {
	t.overwrites = append(t.overwrites, overwriteAudit{prev: prev, next: next})
	return nil
}

func (t *fakeTx) DeleteRange(ctx context.Context, assetID string, g models.Granularity, start, end time.Time) (int64, error) {
	var deleted int64
	for key, bar := range t.bars {
		if bar.AssetID != assetID || bar.Granularity != g {
			continue
		}
		if bar.Timestamp.Before(start) || !bar.Timestamp.Before(end) {
			continue
		}
		delete(t.bars, key)
		deleted++
	}
	return deleted, nil
}

// fakeProvider serves deterministic bars. Queued errors are returned
// first, one per call, then calls succeed.
type fakeProvider struct {
	mu    sync.Mutex
	calls int
	errs  []error
	fetch func(ctx context.Context, externalID string, g models.Granularity, start, end time.Time) ([]models.Bar, error)
}

func (p *fakeProvider) Fetch(ctx context.Context, externalID string, g models.Granularity, start, end time.Time) ([]models.Bar, error) {
	p.mu.Lock()
	p.calls++
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if p.fetch != nil {
		return p.fetch(ctx, externalID, g, start, end)
	}
	return constantBars(g, start, end), nil
}

// constantBars generates flat-price bars over [start, end). Volume is
// sized so a full day of hourly bars folds into exactly the daily bar
// the same generator produces.
func constantBars(g models.Granularity, start, end time.Time) []models.Bar {
	volume := 1.0
	if g == models.GranularityDaily {
		volume = 24
	}

	var bars []models.Bar
	for ts := start.UTC(); ts.Before(end); ts = ts.Add(g.Duration()) {
		bars = append(bars, models.Bar{
			Timestamp:   ts,
			Granularity: g,
			Open:        100,
			High:        100,
			Low:         100,
			Close:       100,
			Volume:      volume,
		})
	}
	return bars
}

func seededBars(assetID string, g models.Granularity, start, end time.Time) []models.Bar {
	bars := constantBars(g, start, end)
	for i := range bars {
		bars[i].AssetID = assetID
	}
	return bars
}
