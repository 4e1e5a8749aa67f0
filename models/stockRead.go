package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"github.com/shopspring/decimal"
)

// Read-side contract for reporting and dashboard consumers. On-hand stock is
// always derived from the lots; there is no incrementally-trusted counter to
// go stale.

type ItemStock struct {
	ItemID   int             `json:"item_id"`
	ItemName string          `json:"item_name"`
	OnHand   decimal.Decimal `json:"on_hand"`
}

type LotBalance struct {
	LotID            int             `json:"lot_id"`
	PurchaseRecordID int             `json:"purchase_record_id"`
	AcquiredDate     time.Time       `json:"acquired_date"`
	Qty              decimal.Decimal `json:"qty"`
	RemainingQty     decimal.Decimal `json:"remaining_qty"`
	Rate             decimal.Decimal `json:"rate"`
}

// GetItemStock returns the derived on-hand quantity for one item.
func GetItemStock(ctx context.Context, itemId int) (decimal.Decimal, error) {
	db := config.GetDB()
	var row struct {
		OnHand decimal.Decimal
	}
	err := db.WithContext(ctx).Raw(
		"SELECT COALESCE(SUM(remaining_qty), 0) AS on_hand FROM lots WHERE item_id = ?",
		itemId,
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.OnHand, nil
}

// GetItemStockByName resolves the name (through aliases) and returns the
// derived on-hand quantity.
func GetItemStockByName(ctx context.Context, name string) (decimal.Decimal, error) {
	item, err := GetItemByName(ctx, name)
	if err != nil {
		return decimal.Zero, err
	}
	return GetItemStock(ctx, item.ID)
}

// GetItemStockBreakdown returns the per-lot balances for one item, oldest
// acquisition first.
func GetItemStockBreakdown(ctx context.Context, itemId int) ([]LotBalance, error) {
	db := config.GetDB()
	var rows []LotBalance
	err := db.WithContext(ctx).Raw(`
		SELECT id AS lot_id, purchase_record_id, acquired_date, qty, remaining_qty, rate
		FROM lots
		WHERE item_id = ?
		ORDER BY acquired_date ASC, id ASC
	`, itemId).Scan(&rows).Error
	return rows, err
}

// GetAllItemStocks returns the derived on-hand quantity of every item.
func GetAllItemStocks(ctx context.Context) ([]ItemStock, error) {
	db := config.GetDB()
	var rows []ItemStock
	err := db.WithContext(ctx).Raw(`
		SELECT i.id AS item_id, i.name AS item_name, COALESCE(SUM(l.remaining_qty), 0) AS on_hand
		FROM items i
		LEFT JOIN lots l ON l.item_id = i.id
		GROUP BY i.id, i.name
		ORDER BY i.normalized_name ASC
	`).Scan(&rows).Error
	return rows, err
}

// GetSaleAllocations returns the allocation history of one sale.
func GetSaleAllocations(ctx context.Context, saleId int) ([]Allocation, error) {
	db := config.GetDB()
	var allocations []Allocation
	err := db.WithContext(ctx).
		Where("sale_id = ?", saleId).
		Order("id ASC").
		Find(&allocations).Error
	return allocations, err
}

// GetLotAllocations returns every allocation drawn from one lot.
func GetLotAllocations(ctx context.Context, lotId int) ([]Allocation, error) {
	db := config.GetDB()
	var allocations []Allocation
	err := db.WithContext(ctx).
		Where("lot_id = ?", lotId).
		Order("id ASC").
		Find(&allocations).Error
	return allocations, err
}
