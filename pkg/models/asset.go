package models

import "time"

// AssetInfo represents a tracked asset and its provider mapping.
type AssetInfo struct {
	ID         int64     `json:"id"`
	AssetID    string    `json:"asset_id"`    // Internal identifier, e.g. "BTCUSDT"
	ExternalID string    `json:"external_id"` // Symbol known to the provider
	Name       string    `json:"name"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
