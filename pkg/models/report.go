package models

import "time"

// SyncReport is the outcome of one sync run for one asset.
type SyncReport struct {
	AssetID             string    `json:"asset_id"`
	Strategy            string    `json:"strategy"`
	Mode                string    `json:"mode"`
	APICalls            int       `json:"api_calls"`
	RecordsMerged       int       `json:"records_merged"`
	RecordsOverwritten  int       `json:"records_overwritten"`
	RecordsConsolidated int       `json:"records_consolidated"`
	DaysConsolidated    int       `json:"days_consolidated"`
	Errors              []string  `json:"errors,omitempty"`
	StartedAt           time.Time `json:"started_at"`
	FinishedAt          time.Time `json:"finished_at"`
}

// Failed reports whether any task or day failed during the run.
func (r *SyncReport) Failed() bool {
	return len(r.Errors) > 0
}
