package models

import "time"

// ReconciliationReport is the durable record of drift findings and replay
// deficits, written by the reconciliation pass for operator review.
type ReconciliationReport struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CheckType     string    `gorm:"size:50;index;not null" json:"check_type"` // STOCK_DRIFT, REPLAY_DEFICIT
	ItemID        int       `gorm:"index;not null" json:"item_id"`
	EntityType    string    `gorm:"size:50;index" json:"entity_type"` // Item, Sale
	EntityID      int       `gorm:"index" json:"entity_id"`
	Details       string    `gorm:"type:text" json:"details"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
