package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/candle-sync/pkg/config"
	"github.com/candle-sync/pkg/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestClient(baseURL string, batchLimit int) *Client {
	return NewClient(&config.ProviderConfig{
		BaseURL:           baseURL,
		RequestsPerMinute: 600000,
		Timeout:           5 * time.Second,
		BatchLimit:        batchLimit,
	}, testLogger())
}

// klineRow builds one kline response row in the provider's wire format.
func klineRow(openTime time.Time, open, high, low, close, volume string) []interface{} {
	openMs := openTime.UnixMilli()
	return []interface{}{
		openMs, open, high, low, close, volume,
		openMs + time.Hour.Milliseconds() - 1,
	}
}

// klinesForRequest serves hourly klines for the requested window so
// batching tests get realistic pagination.
func klinesForRequest(r *http.Request) [][]interface{} {
	startMs, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
	endMs, _ := strconv.ParseInt(r.URL.Query().Get("endTime"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var rows [][]interface{}
	for ms := startMs; ms < endMs && len(rows) < limit; ms += time.Hour.Milliseconds() {
		rows = append(rows, klineRow(time.UnixMilli(ms), "100.5", "101.0", "99.5", "100.8", "1234.56"))
	}
	return rows
}

func TestFetchDecodesKlines(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		json.NewEncoder(w).Encode(klinesForRequest(r))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000)

	bars, err := client.Fetch(context.Background(), "BTCUSDT", models.GranularityHourly, start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, start, bars[0].Timestamp)
	assert.Equal(t, time.UTC, bars[0].Timestamp.Location())
	assert.Equal(t, models.GranularityHourly, bars[0].Granularity)
	assert.Equal(t, 100.5, bars[0].Open)
	assert.Equal(t, 101.0, bars[0].High)
	assert.Equal(t, 99.5, bars[0].Low)
	assert.Equal(t, 100.8, bars[0].Close)
	assert.Equal(t, 1234.56, bars[0].Volume)
}

func TestFetchBatchesLargeRanges(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		json.NewEncoder(w).Encode(klinesForRequest(r))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)

	bars, err := client.Fetch(context.Background(), "BTCUSDT", models.GranularityHourly, start, start.Add(5*time.Hour))
	require.NoError(t, err)

	assert.Len(t, bars, 5)
	assert.Equal(t, 3, requests)

	for i, bar := range bars {
		assert.Equal(t, start.Add(time.Duration(i)*time.Hour), bar.Timestamp)
	}
}

func TestFetchSkipsMalformedKlines(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := [][]interface{}{
			klineRow(start, "100.5", "101.0", "99.5", "100.8", "10"),
			klineRow(start.Add(time.Hour), "not-a-number", "101.0", "99.5", "100.8", "10"),
		}
		json.NewEncoder(w).Encode(rows)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000)

	bars, err := client.Fetch(context.Background(), "BTCUSDT", models.GranularityHourly, start, start.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, start, bars[0].Timestamp)
}

func TestFetchRejectsUnknownGranularity(t *testing.T) {
	client := newTestClient("http://localhost:0", 1000)

	_, err := client.Fetch(context.Background(), "BTCUSDT", models.Granularity("5m"), time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported granularity")
}

func TestFetchRateLimitCarriesRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := client.Fetch(context.Background(), "BTCUSDT", models.GranularityHourly, start, start.Add(time.Hour))
	require.Error(t, err)

	retryAfter, ok := IsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, 42*time.Second, retryAfter)
	assert.True(t, IsRetryable(err))
}

func TestFetchIPBanMapsToRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(418)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := client.Fetch(context.Background(), "BTCUSDT", models.GranularityHourly, start, start.Add(time.Hour))
	require.Error(t, err)

	_, ok := IsRateLimit(err)
	assert.True(t, ok)
}

func TestFetchServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := client.Fetch(context.Background(), "BTCUSDT", models.GranularityHourly, start, start.Add(time.Hour))
	require.Error(t, err)

	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, http.StatusInternalServerError, transient.Status)
	assert.True(t, IsRetryable(err))
}

func TestFetchClientErrorIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000)
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err := client.Fetch(context.Background(), "NOPE", models.GranularityHourly, start, start.Add(time.Hour))
	require.Error(t, err)

	var permanent *PermanentError
	require.ErrorAs(t, err, &permanent)
	assert.Equal(t, http.StatusBadRequest, permanent.Status)
	assert.Contains(t, permanent.Body, "Invalid symbol")
	assert.False(t, IsRetryable(err))
}

func TestFetchRespectsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(klinesForRequest(r))
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := client.Fetch(ctx, "BTCUSDT", models.GranularityHourly, start, start.Add(time.Hour))
	require.Error(t, err)
	assert.False(t, IsRetryable(err), fmt.Sprintf("cancellation must not be retryable: %v", err))
}
