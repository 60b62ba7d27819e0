package models

import (
	"time"
)

// Granularity is the sampling resolution of a stored price record.
type Granularity string

const (
	GranularityHourly Granularity = "1h"
	GranularityDaily  Granularity = "1d"
)

// Duration returns the sampling interval of the granularity.
func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityHourly:
		return time.Hour
	case GranularityDaily:
		return 24 * time.Hour
	}
	return 0
}

// Valid reports whether g is a known granularity.
func (g Granularity) Valid() bool {
	return g == GranularityHourly || g == GranularityDaily
}

func (g Granularity) String() string {
	return string(g)
}

// Bar represents one OHLCV price record. A record is unique per
// (asset_id, timestamp, granularity); writes always go through upserts.
type Bar struct {
	AssetID     string      `json:"asset_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Granularity Granularity `json:"granularity"`
	Open        float64     `json:"open"`
	High        float64     `json:"high"`
	Low         float64     `json:"low"`
	Close       float64     `json:"close"`
	Volume      float64     `json:"volume"`
}

// Key identifies the unique storage slot of the bar.
func (b Bar) Key() BarKey {
	return BarKey{AssetID: b.AssetID, Timestamp: b.Timestamp.UTC(), Granularity: b.Granularity}
}

// SameValues reports whether two bars carry identical OHLCV values.
func (b Bar) SameValues(other Bar) bool {
	return b.Open == other.Open &&
		b.High == other.High &&
		b.Low == other.Low &&
		b.Close == other.Close &&
		b.Volume == other.Volume
}

// BarKey is the unique key of a price record.
type BarKey struct {
	AssetID     string
	Timestamp   time.Time
	Granularity Granularity
}
