package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PurchaseRecord is one purchase batch from a firm; each line becomes a Lot.
// Deleting a record cascades its lots (and their allocations). Affected sales
// are NOT marked under-fulfilled here; the gap surfaces during reversal or
// reconciliation as a referential warning.
type PurchaseRecord struct {
	ID              int             `gorm:"primary_key" json:"id"`
	FirmName        string          `gorm:"size:100;not null" json:"firm_name"`
	ReferenceNumber string          `gorm:"size:64;index" json:"reference_number"`
	PurchaseDate    time.Time       `gorm:"index;not null" json:"purchase_date"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Notes           string          `gorm:"type:text" json:"notes"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Lots []Lot `gorm:"foreignKey:PurchaseRecordID;constraint:OnDelete:CASCADE" json:"lots,omitempty"`
}

type NewPurchaseRecord struct {
	FirmName        string    `validate:"required"`
	ReferenceNumber string
	PurchaseDate    time.Time `validate:"required"`
	Notes           string
	Lines           []NewPurchaseLine `validate:"required,min=1"`
}

type NewPurchaseLine struct {
	ItemName string `validate:"required"`
	Qty      decimal.Decimal
	Rate     decimal.Decimal
}

func (input *NewPurchaseRecord) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	for _, line := range input.Lines {
		lot := NewLot{ItemName: line.ItemName, Qty: line.Qty, Rate: line.Rate, AcquiredDate: input.PurchaseDate}
		if err := lot.validate(); err != nil {
			return err
		}
	}
	return nil
}

func CreatePurchaseRecord(ctx context.Context, input *NewPurchaseRecord) (*PurchaseRecord, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	record := PurchaseRecord{
		FirmName:        input.FirmName,
		ReferenceNumber: input.ReferenceNumber,
		PurchaseDate:    input.PurchaseDate,
		Notes:           input.Notes,
	}
	if record.ReferenceNumber == "" {
		record.ReferenceNumber = uuid.NewString()
	}
	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, line := range input.Lines {
		lot := NewLot{
			ItemName:     line.ItemName,
			Qty:          line.Qty,
			Rate:         line.Rate,
			AcquiredDate: input.PurchaseDate,
		}
		if _, err := CreateLotTx(tx, &lot, record.ID); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := RecomputePurchaseTotalTx(tx, record.ID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Where("id = ?", record.ID).Preload("Lots").First(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return &record, tx.Commit().Error
}

// RecomputePurchaseTotalTx re-sums the batch total from its child lots.
// Always a full re-sum: incremental adds drift under concurrent edits and
// partial creates.
func RecomputePurchaseTotalTx(tx *gorm.DB, purchaseRecordId int) error {
	return tx.Model(&PurchaseRecord{}).
		Where("id = ?", purchaseRecordId).
		Update("total_amount", gorm.Expr(
			"COALESCE((SELECT SUM(amount) FROM lots WHERE purchase_record_id = ?), 0)",
			purchaseRecordId,
		)).Error
}

// UpdatePurchaseLine edits one purchase line, routing the quantity change
// through the sold-volume-preserving correction.
func UpdatePurchaseLine(ctx context.Context, lotId int, newQty decimal.Decimal, newRate *decimal.Decimal) (*Lot, error) {
	return CorrectLotQuantity(ctx, lotId, newQty, newRate)
}

// DeletePurchaseRecord removes a batch and cascades its lots and their
// allocations.
func DeletePurchaseRecord(ctx context.Context, id int) (*PurchaseRecord, error) {
	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var record PurchaseRecord
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrRecordNotFound
		}
		return nil, err
	}

	// Lots and their allocations go with the record via FK cascade.
	if err := tx.Delete(&record).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	return &record, tx.Commit().Error
}

func GetPurchaseRecord(ctx context.Context, id int) (*PurchaseRecord, error) {
	db := config.GetDB()
	var record PurchaseRecord
	err := db.WithContext(ctx).Preload("Lots").Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

func GetPurchaseRecords(ctx context.Context, firmName *string) ([]*PurchaseRecord, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Preload("Lots").Order("purchase_date DESC, id DESC")
	if firmName != nil && *firmName != "" {
		q = q.Where("firm_name = ?", *firmName)
	}
	var records []*PurchaseRecord
	err := q.Find(&records).Error
	return records, err
}
