package models

import (
	"fmt"
	"time"
)

// UpdateMode selects how aggressively a sync run re-fetches data.
type UpdateMode string

const (
	UpdateModeSmart       UpdateMode = "smart"
	UpdateModeIncremental UpdateMode = "incremental"
	UpdateModeForce       UpdateMode = "force"
)

// Valid reports whether m is a known update mode.
func (m UpdateMode) Valid() bool {
	switch m {
	case UpdateModeSmart, UpdateModeIncremental, UpdateModeForce:
		return true
	}
	return false
}

// MergeStrategy declares how fetched records fold into storage.
type MergeStrategy string

const (
	// MergeNewData upserts provider data as source of truth; divergent
	// existing records are overwritten and the overwrite is audited.
	MergeNewData MergeStrategy = "new_data"
	// MergeWithExisting always overwrites, used for the re-fetched
	// trailing window to absorb provider-side revisions.
	MergeWithExisting MergeStrategy = "merge_with_existing"
	// MergeConsolidate folds stored hourly records into daily records;
	// no provider fetch is involved.
	MergeConsolidate MergeStrategy = "consolidate"
)

// FetchTask is one unit of work in a sync plan: either a provider fetch
// plus merge, or a consolidation pass over stored data.
type FetchTask struct {
	AssetID     string        `json:"asset_id"`
	Granularity Granularity   `json:"granularity"` // granularity requested / source granularity
	Start       time.Time     `json:"start"`       // inclusive
	End         time.Time     `json:"end"`         // exclusive
	Target      Granularity   `json:"target"`      // granularity written to storage
	Strategy    MergeStrategy `json:"strategy"`
}

// IsConsolidation reports whether the task folds stored data instead of
// fetching from the provider.
func (t FetchTask) IsConsolidation() bool {
	return t.Strategy == MergeConsolidate
}

// Overlaps reports whether two tasks touch the same target granularity
// over intersecting time ranges.
func (t FetchTask) Overlaps(other FetchTask) bool {
	if t.Target != other.Target {
		return false
	}
	return t.Start.Before(other.End) && other.Start.Before(t.End)
}

func (t FetchTask) String() string {
	return fmt.Sprintf("%s %s [%s, %s) -> %s (%s)",
		t.AssetID, t.Granularity,
		t.Start.Format(time.RFC3339), t.End.Format(time.RFC3339),
		t.Target, t.Strategy)
}

// SyncPlan is the ordered task sequence produced by the planner.
// Merge tasks for an asset always precede its consolidate tasks.
type SyncPlan struct {
	AssetID  string      `json:"asset_id"`
	Strategy Strategy    `json:"strategy"`
	Tasks    []FetchTask `json:"tasks"`
}

// Empty reports whether the plan carries no work.
func (p *SyncPlan) Empty() bool {
	return len(p.Tasks) == 0
}
