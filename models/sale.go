package models

import (
	"context"
	"errors"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sale is one committed sale line. Edits are full restore-then-reapply, never
// incremental patches; deletion always runs the restore first.
type Sale struct {
	ID            int             `gorm:"primary_key" json:"id"`
	ItemID        int             `gorm:"index;not null" json:"item_id"`
	ItemName      string          `gorm:"size:100;not null" json:"item_name"`
	Qty           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Rate          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	BuyerName     string          `gorm:"size:100;not null" json:"buyer_name"`
	SaleDate      time.Time       `gorm:"index;not null" json:"sale_date"`
	CurrentStatus SaleStatus      `gorm:"size:20;not null;default:CREATED" json:"current_status"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	Allocations []Allocation `gorm:"foreignKey:SaleID;constraint:OnDelete:CASCADE" json:"allocations,omitempty"`
}

type NewSale struct {
	ItemName  string    `validate:"required"`
	Qty       decimal.Decimal
	Rate      decimal.Decimal
	BuyerName string    `validate:"required"`
	SaleDate  time.Time `validate:"required"`
	// Manual pins the sale to specific lots; empty means automatic FIFO.
	Manual []LotPortion
}

func (input *NewSale) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.Qty.IsPositive() {
		return &utils.ValidationError{Field: "qty", Reason: "must be positive"}
	}
	if input.Rate.IsNegative() {
		return &utils.ValidationError{Field: "rate", Reason: "must not be negative"}
	}
	for _, p := range input.Manual {
		if p.LotID <= 0 {
			return &utils.ValidationError{Field: "manualAllocation", Reason: "lot id is required"}
		}
		if !p.Qty.IsPositive() {
			return &utils.ValidationError{Field: "manualAllocation", Reason: "portion qty must be positive"}
		}
	}
	return nil
}

func (input *NewSale) strategy() AllocationStrategy {
	if len(input.Manual) > 0 {
		return ManualAllocation(input.Manual)
	}
	return AutoAllocation()
}

// CreateSale validates, allocates against the item's lots and persists the
// sale, all inside one transaction. Validation failures reject before the
// transaction opens.
func CreateSale(ctx context.Context, input *NewSale) (*Sale, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	logger := config.GetLogger()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	sale, lock, err := createSaleTx(ctx, tx, logger, input)
	// The item lock outlives the transaction; release only after commit or
	// rollback so no other instance sees the item mid-write.
	defer utils.ReleaseItemLock(ctx, lock)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return sale, tx.Commit().Error
}

// createSaleTx returns the acquired item lock (possibly nil) in every case;
// the transaction owner releases it once the transaction is finished.
func createSaleTx(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, input *NewSale) (*Sale, *redislock.Lock, error) {
	item, err := ResolveItem(tx, input.ItemName, false)
	if err != nil {
		if errors.Is(err, utils.ErrRecordNotFound) {
			// No purchases for this item means zero availability.
			return nil, nil, &utils.InsufficientStockError{
				ItemName:  utils.NormalizeItemName(input.ItemName),
				Available: decimal.Zero,
				Requested: input.Qty,
				Deficit:   input.Qty,
			}
		}
		return nil, nil, err
	}

	lock, err := utils.ItemLock(ctx, item.ID, "stockLock", "sale.go", "createSaleTx")
	if err != nil {
		return nil, nil, err
	}

	sale := Sale{
		ItemID:        item.ID,
		ItemName:      item.Name,
		Qty:           input.Qty,
		Rate:          input.Rate,
		TotalAmount:   input.Qty.Mul(input.Rate),
		BuyerName:     input.BuyerName,
		SaleDate:      input.SaleDate,
		CurrentStatus: SaleStatusCreated,
		CorrelationId: utils.CorrelationIdFromContextOrNew(ctx),
	}
	if err := tx.Create(&sale).Error; err != nil {
		return nil, lock, err
	}
	if err := AllocateSale(tx, logger, &sale, input.strategy()); err != nil {
		return nil, lock, err
	}
	return &sale, lock, nil
}

// NewSaleInvoice groups several lines under one buyer and date. Each line is
// an independent allocation; any line's failure aborts the whole invoice.
type NewSaleInvoice struct {
	BuyerName string    `validate:"required"`
	SaleDate  time.Time `validate:"required"`
	Lines     []NewSaleLine `validate:"required,min=1"`
}

type NewSaleLine struct {
	ItemName string `validate:"required"`
	Qty      decimal.Decimal
	Rate     decimal.Decimal
	Manual   []LotPortion
}

func CreateSaleInvoice(ctx context.Context, input *NewSaleInvoice) ([]*Sale, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	lineInputs := make([]*NewSale, 0, len(input.Lines))
	for _, line := range input.Lines {
		s := &NewSale{
			ItemName:  line.ItemName,
			Qty:       line.Qty,
			Rate:      line.Rate,
			BuyerName: input.BuyerName,
			SaleDate:  input.SaleDate,
			Manual:    line.Manual,
		}
		if err := s.validate(); err != nil {
			return nil, err
		}
		lineInputs = append(lineInputs, s)
	}

	// Stable item order keeps concurrent invoices from taking the same row
	// locks in opposite order.
	sort.SliceStable(lineInputs, func(i, j int) bool {
		return utils.NormalizeItemName(lineInputs[i].ItemName) < utils.NormalizeItemName(lineInputs[j].ItemName)
	})

	db := config.GetDB()
	logger := config.GetLogger()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	locks := make([]*redislock.Lock, 0, len(lineInputs))
	defer func() {
		for _, lock := range locks {
			utils.ReleaseItemLock(ctx, lock)
		}
	}()

	sales := make([]*Sale, 0, len(lineInputs))
	for _, line := range lineInputs {
		sale, lock, err := createSaleTx(ctx, tx, logger, line)
		locks = append(locks, lock)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, tx.Commit().Error
}

// UpdateSale restores the sale's allocations, applies the new fields to the
// same row and re-allocates, inside one transaction.
func UpdateSale(ctx context.Context, id int, input *NewSale) (*Sale, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	logger := config.GetLogger()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var sale Sale
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&sale).Error
	if err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrRecordNotFound
		}
		return nil, err
	}

	lock, err := utils.ItemLock(ctx, sale.ItemID, "stockLock", "sale.go", "UpdateSale")
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	defer utils.ReleaseItemLock(ctx, lock)

	if err := RestoreSaleAllocations(tx, logger, sale.ID); err != nil {
		tx.Rollback()
		return nil, err
	}

	item, err := ResolveItem(tx, input.ItemName, false)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, utils.ErrRecordNotFound) {
			return nil, &utils.InsufficientStockError{
				ItemName:  utils.NormalizeItemName(input.ItemName),
				Available: decimal.Zero,
				Requested: input.Qty,
				Deficit:   input.Qty,
			}
		}
		return nil, err
	}

	sale.ItemID = item.ID
	sale.ItemName = item.Name
	sale.Qty = input.Qty
	sale.Rate = input.Rate
	sale.TotalAmount = input.Qty.Mul(input.Rate)
	sale.BuyerName = input.BuyerName
	sale.SaleDate = input.SaleDate
	sale.CurrentStatus = SaleStatusUpdated
	sale.CorrelationId = utils.CorrelationIdFromContextOrNew(ctx)

	if err := tx.Save(&sale).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := AllocateSale(tx, logger, &sale, input.strategy()); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &sale, tx.Commit().Error
}

// DeleteSale restores the sale's allocations, then removes the row.
func DeleteSale(ctx context.Context, id int) (*Sale, error) {
	db := config.GetDB()
	logger := config.GetLogger()

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var sale Sale
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&sale).Error
	if err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrRecordNotFound
		}
		return nil, err
	}

	lock, err := utils.ItemLock(ctx, sale.ItemID, "stockLock", "sale.go", "DeleteSale")
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	defer utils.ReleaseItemLock(ctx, lock)

	if err := RestoreSaleAllocations(tx, logger, sale.ID); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Delete(&sale).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	sale.CurrentStatus = SaleStatusDeleted
	return &sale, tx.Commit().Error
}

func GetSale(ctx context.Context, id int) (*Sale, error) {
	db := config.GetDB()
	var sale Sale
	err := db.WithContext(ctx).Preload("Allocations").Where("id = ?", id).First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrRecordNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func GetSales(ctx context.Context, buyerName *string) ([]*Sale, error) {
	db := config.GetDB()
	q := db.WithContext(ctx).Order("sale_date DESC, id DESC")
	if buyerName != nil && *buyerName != "" {
		q = q.Where("buyer_name = ?", *buyerName)
	}
	var sales []*Sale
	err := q.Find(&sales).Error
	return sales, err
}
