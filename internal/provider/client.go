package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/models"
)

// rawKline is a single candlestick as returned by the provider's REST API
type rawKline struct {
	OpenTime  int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	CloseTime int64
}

// Client fetches OHLCV history from the provider's REST API. All
// requests share a pace limiter sized against the global rate budget,
// so concurrent sync runs cannot exceed it together.
type Client struct {
	client     *http.Client
	baseURL    string
	batchLimit int
	logger     *logrus.Entry

	// Request pacing
	minInterval time.Duration
	lastCall    time.Time
	mu          sync.Mutex
}

// NewClient creates a new provider REST client
func NewClient(cfg *config.ProviderConfig, logger *logrus.Logger) *Client {
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 || batchLimit > 1000 {
		batchLimit = 1000
	}

	return &Client{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     cfg.BaseURL,
		batchLimit:  batchLimit,
		logger:      logger.WithField("component", "provider"),
		minInterval: time.Minute / time.Duration(cfg.RequestsPerMinute),
	}
}

// Fetch retrieves bars for [start, end) at the requested granularity,
// batching requests for ranges larger than the provider's page limit.
func (c *Client) Fetch(ctx context.Context, externalID string, g models.Granularity, start, end time.Time) ([]models.Bar, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("unsupported granularity: %q", g)
	}

	var all []models.Bar

	intervalMs := g.Duration().Milliseconds()
	batchDuration := intervalMs * int64(c.batchLimit)

	currentStart := start.UnixMilli()
	endMs := end.UnixMilli()

	for currentStart < endMs {
		currentEnd := currentStart + batchDuration
		if currentEnd > endMs {
			currentEnd = endMs
		}

		klines, err := c.getKlines(ctx, externalID, g, currentStart, currentEnd)
		if err != nil {
			return nil, err
		}

		for _, k := range klines {
			bar, err := c.convertKline(g, k)
			if err != nil {
				c.logger.WithError(err).WithField("symbol", externalID).Warn("Skipping malformed kline")
				continue
			}
			all = append(all, bar)
		}

		if len(klines) > 0 {
			currentStart = klines[len(klines)-1].CloseTime + 1
		} else {
			currentStart = currentEnd
		}
	}

	c.logger.WithFields(logrus.Fields{
		"symbol":      externalID,
		"granularity": g,
		"count":       len(all),
	}).Debug("Fetched bars")

	return all, nil
}

// getKlines performs one paced request against the klines endpoint
func (c *Client) getKlines(ctx context.Context, symbol string, g models.Granularity, startMs, endMs int64) ([]rawKline, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/api/v3/klines", c.baseURL)
	params := url.Values{}
	params.Add("symbol", symbol)
	params.Add("interval", g.String())
	params.Add("startTime", strconv.FormatInt(startMs, 10))
	params.Add("endTime", strconv.FormatInt(endMs, 10))
	params.Add("limit", strconv.Itoa(c.batchLimit))

	fullURL := fmt.Sprintf("%s?%s", endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, &TransientError{Err: err}
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	klines := make([]rawKline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}

		klines = append(klines, rawKline{
			OpenTime:  int64(row[0].(float64)),
			Open:      row[1].(string),
			High:      row[2].(string),
			Low:       row[3].(string),
			Close:     row[4].(string),
			Volume:    row[5].(string),
			CloseTime: int64(row[6].(float64)),
		})
	}

	return klines, nil
}

// checkStatus maps HTTP status codes onto the provider error taxonomy.
// 418 is the provider's IP-ban escalation of 429.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		io.Copy(io.Discard, resp.Body)
		return &RateLimitError{RetryAfter: retryAfter}

	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return &TransientError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("server error: %s", string(body)),
		}

	default:
		body, _ := io.ReadAll(resp.Body)
		return &PermanentError{Status: resp.StatusCode, Body: string(body)}
	}
}

// pace blocks until the next request slot under the global rate budget
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	elapsed := time.Since(c.lastCall)
	wait := c.minInterval - elapsed
	if wait < 0 {
		wait = 0
	}
	c.lastCall = time.Now().Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// convertKline converts a raw provider kline to the Bar model
func (c *Client) convertKline(g models.Granularity, k rawKline) (models.Bar, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("failed to parse open: %w", err)
	}

	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("failed to parse high: %w", err)
	}

	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("failed to parse low: %w", err)
	}

	close_, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("failed to parse close: %w", err)
	}

	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return models.Bar{}, fmt.Errorf("failed to parse volume: %w", err)
	}

	return models.Bar{
		Timestamp:   time.UnixMilli(k.OpenTime).UTC(),
		Granularity: g,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       close_,
		Volume:      volume,
	}, nil
}
