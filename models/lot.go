package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Lot is a discrete purchased quantity of one item acquired on one date,
// carrying its own remaining balance. Lots are created by purchase entry,
// mutated by allocation/reversal/correction/reconciliation, and deleted only
// through cascading deletion of their parent purchase record.
//
// Invariant: 0 <= remaining_qty <= qty (within the per-lot tolerance).
type Lot struct {
	ID               int             `gorm:"primary_key" json:"id"`
	ItemID           int             `gorm:"index;not null" json:"item_id"`
	PurchaseRecordID int             `gorm:"index;not null" json:"purchase_record_id"`
	Qty              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	RemainingQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"remaining_qty"`
	Rate             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	AcquiredDate     time.Time       `gorm:"index;not null" json:"acquired_date"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Allocations []Allocation `gorm:"foreignKey:LotID;constraint:OnDelete:CASCADE" json:"allocations,omitempty"`
}

// NewLot is the purchase-entry payload for one lot.
type NewLot struct {
	ItemName     string          `validate:"required"`
	Qty          decimal.Decimal
	Rate         decimal.Decimal
	AcquiredDate time.Time       `validate:"required"`
}

func (input *NewLot) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Qty.IsPositive() {
		return &utils.ValidationError{Field: "qty", Reason: "must be positive"}
	}
	if input.Rate.IsNegative() {
		return &utils.ValidationError{Field: "rate", Reason: "must not be negative"}
	}
	return nil
}

// CreateLotTx creates a lot inside the caller's transaction with
// remaining_qty primed to the full quantity.
func CreateLotTx(tx *gorm.DB, input *NewLot, purchaseRecordId int) (*Lot, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	item, err := ResolveItem(tx, input.ItemName, true)
	if err != nil {
		return nil, err
	}
	lot := Lot{
		ItemID:           item.ID,
		PurchaseRecordID: purchaseRecordId,
		Qty:              input.Qty,
		RemainingQty:     input.Qty,
		Rate:             input.Rate,
		Amount:           input.Qty.Mul(input.Rate),
		AcquiredDate:     input.AcquiredDate,
	}
	if err := tx.Create(&lot).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

// CorrectedRemaining computes the remaining balance after a purchase line is
// corrected to newQty. Already-sold volume is preserved: resetting remaining
// to newQty would resurrect stock that was already sold.
func CorrectedRemaining(oldQty, oldRemaining, newQty decimal.Decimal) decimal.Decimal {
	sold := oldQty.Sub(oldRemaining)
	remaining := newQty.Sub(sold)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// applyCorrection rewrites the lot's quantity, rate and amount in place.
// Remaining is derived from the pre-correction quantity, so it must be
// computed before qty is overwritten.
func (lot *Lot) applyCorrection(newQty decimal.Decimal, newRate *decimal.Decimal) {
	rate := lot.Rate
	if newRate != nil {
		rate = *newRate
	}
	lot.RemainingQty = CorrectedRemaining(lot.Qty, lot.RemainingQty, newQty)
	lot.Qty = newQty
	lot.Rate = rate
	lot.Amount = newQty.Mul(rate)
}

// CorrectLotQuantityTx applies a quantity (and optional rate) correction to a
// lot inside the caller's transaction. The lot row is locked before the
// remaining balance is read. The parent batch total is re-summed in full; it
// is never adjusted incrementally.
func CorrectLotQuantityTx(tx *gorm.DB, lotId int, newQty decimal.Decimal, newRate *decimal.Decimal) (*Lot, error) {
	if !newQty.IsPositive() {
		return nil, &utils.ValidationError{Field: "qty", Reason: "must be positive"}
	}
	if newRate != nil && newRate.IsNegative() {
		return nil, &utils.ValidationError{Field: "rate", Reason: "must not be negative"}
	}

	var lot Lot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", lotId).
		First(&lot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrRecordNotFound
		}
		return nil, err
	}

	sold := lot.Qty.Sub(lot.RemainingQty)
	if config.StrictLotImmutability() && newQty.Add(utils.LotQtyTolerance).LessThan(sold) {
		return nil, &utils.ValidationError{Field: "qty", Reason: "cannot correct below already-sold volume"}
	}

	lot.applyCorrection(newQty, newRate)

	if err := tx.Model(&Lot{}).Where("id = ?", lot.ID).Updates(map[string]interface{}{
		"qty":           lot.Qty,
		"remaining_qty": lot.RemainingQty,
		"rate":          lot.Rate,
		"amount":        lot.Amount,
	}).Error; err != nil {
		return nil, err
	}

	if err := RecomputePurchaseTotalTx(tx, lot.PurchaseRecordID); err != nil {
		return nil, err
	}
	return &lot, nil
}

// CorrectLotQuantity is the standalone entry point used when a purchase line
// is edited on its own.
func CorrectLotQuantity(ctx context.Context, lotId int, newQty decimal.Decimal, newRate *decimal.Decimal) (*Lot, error) {
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	lot, err := CorrectLotQuantityTx(tx, lotId, newQty, newRate)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return lot, tx.Commit().Error
}

// LockItemLots loads every lot of one item under FOR UPDATE, oldest
// acquisition first with stable id tiebreak. This is the lock scope for all
// stock-mutating operations: two writers on the same item serialize here,
// writers on different items never contend.
func LockItemLots(tx *gorm.DB, itemId int) ([]Lot, error) {
	var lots []Lot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("item_id = ?", itemId).
		Order("acquired_date ASC, id ASC").
		Find(&lots).Error
	return lots, err
}

func GetLot(ctx context.Context, id int) (*Lot, error) {
	db := config.GetDB()
	var lot Lot
	err := db.WithContext(ctx).Where("id = ?", id).First(&lot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrRecordNotFound
		}
		return nil, err
	}
	return &lot, nil
}
