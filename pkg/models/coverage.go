package models

import "time"

// GranularityStats summarizes what is stored for one granularity.
type GranularityStats struct {
	Earliest time.Time `json:"earliest"`
	Latest   time.Time `json:"latest"`
	Count    int64     `json:"count"`
}

// Empty reports whether no records are stored at this granularity.
func (s GranularityStats) Empty() bool {
	return s.Count == 0
}

// CoverageSnapshot summarizes the stored data state for an asset.
// Hourly/Daily come straight from storage; the derived fields are
// filled in by the coverage analyzer relative to the provider's
// fine-grained retention window.
type CoverageSnapshot struct {
	AssetID string           `json:"asset_id"`
	Hourly  GranularityStats `json:"hourly"`
	Daily   GranularityStats `json:"daily"`

	// Gap detection: recent hourly data missing between the latest
	// stored record and now.
	GapDetected bool          `json:"gap_detected"`
	GapSize     time.Duration `json:"gap_size"`

	// Overlap zone: hourly data older than the provider's fine-grained
	// window, no longer fetchable at hourly resolution.
	OverlapDetected bool      `json:"overlap_detected"`
	OverlapStart    time.Time `json:"overlap_start,omitempty"`
	OverlapEnd      time.Time `json:"overlap_end,omitempty"`
	OverlapDays     int       `json:"overlap_days"`

	TakenAt time.Time `json:"taken_at"`
}

// Empty reports whether the asset has no stored records at all.
func (c *CoverageSnapshot) Empty() bool {
	return c.Hourly.Empty() && c.Daily.Empty()
}

// Strategy is the recommended synchronization strategy derived from a
// coverage snapshot. The ordered decision table lives in the analyzer;
// every case is a distinct variant so callers can match exhaustively.
type Strategy int

const (
	StrategyFullFetch Strategy = iota
	StrategySmartOverlapResolution
	StrategyIncrementalUpdate
	StrategyOverlapConsolidation
	StrategyMaintenanceUpdate
)

func (s Strategy) String() string {
	switch s {
	case StrategyFullFetch:
		return "full_fetch"
	case StrategySmartOverlapResolution:
		return "smart_overlap_resolution"
	case StrategyIncrementalUpdate:
		return "incremental_update"
	case StrategyOverlapConsolidation:
		return "overlap_consolidation"
	case StrategyMaintenanceUpdate:
		return "maintenance_update"
	}
	return "unknown"
}
