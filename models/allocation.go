package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Allocation links one Sale to one Lot with the quantity portion taken from
// that lot. Rows are created only by the allocation engine and destroyed in
// bulk on reversal or reconciliation reset.
//
// Invariant: for a given sale, sum(allocation.qty) matches sale.qty within
// the per-sale tolerance.
type Allocation struct {
	ID        int             `gorm:"primary_key" json:"id"`
	SaleID    int             `gorm:"index;not null" json:"sale_id"`
	LotID     int             `gorm:"index;not null" json:"lot_id"`
	Qty       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// LotPortion is one leg of an allocation plan before it is applied.
type LotPortion struct {
	LotID int             `json:"lot_id"`
	Qty   decimal.Decimal `json:"qty"`
}

// AllocationStrategy is an explicit tagged variant: automatic FIFO or a
// manual lot-selection list. Presence of portions alone never decides the
// mode.
type AllocationStrategy struct {
	Mode     AllocationMode
	Portions []LotPortion
}

func AutoAllocation() AllocationStrategy {
	return AllocationStrategy{Mode: AllocationModeAuto}
}

func ManualAllocation(portions []LotPortion) AllocationStrategy {
	return AllocationStrategy{Mode: AllocationModeManual, Portions: portions}
}
