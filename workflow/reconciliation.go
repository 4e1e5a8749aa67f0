package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/models"
	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Batch corrective pass. Per item: load everything under lock, compare the
// stored remaining aggregate against the ledger-derived expectation, and when
// they disagree beyond tolerance discard and replay the allocation history
// through the automatic FIFO path. Sale rows are never touched; only derived
// lot/allocation state is rebuilt.

const reconcileHandlerName = "RECONCILE_ITEM"

type SaleDeficit struct {
	SaleID  int             `json:"sale_id"`
	Qty     decimal.Decimal `json:"qty"`
	Deficit decimal.Decimal `json:"deficit"`
}

type ItemReconciliation struct {
	ItemID            int             `json:"item_id"`
	ItemName          string          `json:"item_name"`
	TotalPurchased    decimal.Decimal `json:"total_purchased"`
	TotalSold         decimal.Decimal `json:"total_sold"`
	ExpectedRemaining decimal.Decimal `json:"expected_remaining"`
	StoredRemaining   decimal.Decimal `json:"stored_remaining"`
	Drift             decimal.Decimal `json:"drift"`
	DriftDetected     bool            `json:"drift_detected"`
	Rebuilt           bool            `json:"rebuilt"`
	Deficits          []SaleDeficit   `json:"deficits,omitempty"`
	CorrelationId     string          `json:"correlation_id"`
}

// ReconcileItem runs the corrective pass for one item in its own transaction.
func ReconcileItem(ctx context.Context, db *gorm.DB, logger *logrus.Logger, itemId int) (*ItemReconciliation, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	result, err := reconcileItemTx(ctx, tx, logger, itemId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit().Error
}

// ReconcileItemByName resolves the item (through aliases) first.
func ReconcileItemByName(ctx context.Context, db *gorm.DB, logger *logrus.Logger, name string) (*ItemReconciliation, error) {
	item, err := models.ResolveItem(db.WithContext(ctx), name, false)
	if err != nil {
		return nil, err
	}
	return ReconcileItem(ctx, db, logger, item.ID)
}

// ReconcileAll walks every item, one transaction per item, so one item's
// failure never blocks correction of the rest.
func ReconcileAll(ctx context.Context, db *gorm.DB, logger *logrus.Logger) ([]*ItemReconciliation, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	var items []models.Item
	if err := db.WithContext(ctx).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}

	results := make([]*ItemReconciliation, 0, len(items))
	for _, item := range items {
		result, err := ReconcileItem(ctx, db, logger, item.ID)
		if err != nil {
			config.LogError(logger, "reconciliation.go", "ReconcileAll", "item reconciliation failed", item.ID, err)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// ReconcileItemWithIdempotency makes an administrative run retry-safe: the
// same (run id, item) pair is processed at most once even when the trigger is
// delivered again.
func ReconcileItemWithIdempotency(ctx context.Context, db *gorm.DB, logger *logrus.Logger, itemId int, runId string) (*ItemReconciliation, error) {
	if logger == nil {
		logger = config.GetLogger()
	}
	messageId := fmt.Sprintf("%s:%d", runId, itemId)

	// The STARTED marker commits before the work so a crash leaves a
	// reclaimable row and the FAILED update below has something to hit.
	skip, err := BeginIdempotency(db.WithContext(ctx), reconcileHandlerName, messageId)
	if err != nil {
		return nil, err
	}
	if skip {
		return nil, nil
	}

	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	result, err := reconcileItemTx(ctx, tx, logger, itemId)
	if err != nil {
		tx.Rollback()
		_ = MarkIdempotencyFailed(db.WithContext(ctx), reconcileHandlerName, messageId, err)
		return nil, err
	}
	if err := MarkIdempotencySucceeded(tx, reconcileHandlerName, messageId); err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit().Error
}

func reconcileItemTx(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, itemId int) (*ItemReconciliation, error) {
	var item models.Item
	if err := tx.Where("id = ?", itemId).First(&item).Error; err != nil {
		return nil, err
	}

	if err := AcquireItemRebuildLock(tx, itemId); err != nil {
		return nil, err
	}
	defer ReleaseItemRebuildLock(tx, itemId)

	// Same locks as live sales against this item, so reconciliation and
	// sale writes serialize instead of interleaving.
	lots, err := models.LockItemLots(tx, itemId)
	if err != nil {
		return nil, err
	}
	var sales []models.Sale
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("item_id = ?", itemId).
		Order("sale_date ASC, id ASC").
		Find(&sales).Error
	if err != nil {
		return nil, err
	}

	totalPurchased := decimal.Zero
	storedRemaining := decimal.Zero
	for _, lot := range lots {
		totalPurchased = totalPurchased.Add(lot.Qty)
		storedRemaining = storedRemaining.Add(lot.RemainingQty)
	}
	totalSold := decimal.Zero
	for _, sale := range sales {
		totalSold = totalSold.Add(sale.Qty)
	}
	expected := totalPurchased.Sub(totalSold)
	drift := storedRemaining.Sub(expected)

	result := &ItemReconciliation{
		ItemID:            item.ID,
		ItemName:          item.Name,
		TotalPurchased:    totalPurchased,
		TotalSold:         totalSold,
		ExpectedRemaining: expected,
		StoredRemaining:   storedRemaining,
		Drift:             drift,
		CorrelationId:     utils.CorrelationIdFromContextOrNew(ctx),
	}

	if drift.Abs().LessThanOrEqual(utils.ItemDriftTolerance) {
		return result, nil
	}

	result.DriftDetected = true
	logger.WithFields(logrus.Fields{
		"item_id":            item.ID,
		"item":               item.NormalizedName,
		"stored_remaining":   utils.FormatQty(storedRemaining),
		"expected_remaining": utils.FormatQty(expected),
		"drift":              utils.FormatQty(drift),
	}).Warn("recon.drift_detected")

	report := models.ReconciliationReport{
		CheckType:     models.ReconCheckStockDrift,
		ItemID:        item.ID,
		EntityType:    "Item",
		EntityID:      item.ID,
		Details:       fmt.Sprintf("stored_remaining=%s expected_remaining=%s drift=%s", utils.FormatQty(storedRemaining), utils.FormatQty(expected), utils.FormatQty(drift)),
		CorrelationId: result.CorrelationId,
	}
	if err := tx.Create(&report).Error; err != nil {
		return nil, err
	}

	if !config.ReconAutoRebuild() {
		return result, nil
	}

	if err := rebuildItemAllocations(tx, logger, result, sales); err != nil {
		return nil, err
	}
	result.Rebuilt = true
	return result, nil
}

// rebuildItemAllocations discards the item's allocation history and replays
// every sale oldest-first through the FIFO path.
func rebuildItemAllocations(tx *gorm.DB, logger *logrus.Logger, result *ItemReconciliation, sales []models.Sale) error {
	itemId := result.ItemID

	if err := tx.Model(&models.Lot{}).
		Where("item_id = ?", itemId).
		Update("remaining_qty", gorm.Expr("qty")).Error; err != nil {
		return err
	}
	if err := tx.Where(
		"lot_id IN (SELECT id FROM lots WHERE item_id = ?) OR sale_id IN (SELECT id FROM sales WHERE item_id = ?)",
		itemId, itemId,
	).Delete(&models.Allocation{}).Error; err != nil {
		return err
	}

	for i := range sales {
		sale := sales[i]
		deficit, err := models.ReplaySaleAllocations(tx, logger, &sale)
		if err != nil {
			return err
		}
		if deficit.GreaterThan(utils.SaleQtyTolerance) {
			// Unresolved integrity warning: a data problem that needs
			// operator review, not something to auto-fix further.
			logger.WithFields(logrus.Fields{
				"item_id": itemId,
				"sale_id": sale.ID,
				"qty":     utils.FormatQty(sale.Qty),
				"deficit": utils.FormatQty(deficit),
			}).Warn("recon.replay_deficit")

			report := models.ReconciliationReport{
				CheckType:     models.ReconCheckReplayDeficit,
				ItemID:        itemId,
				EntityType:    "Sale",
				EntityID:      sale.ID,
				Details:       fmt.Sprintf("sale_qty=%s deficit=%s", utils.FormatQty(sale.Qty), utils.FormatQty(deficit)),
				CorrelationId: result.CorrelationId,
			}
			if err := tx.Create(&report).Error; err != nil {
				return err
			}
			result.Deficits = append(result.Deficits, SaleDeficit{SaleID: sale.ID, Qty: sale.Qty, Deficit: deficit})
		}
	}

	logger.WithFields(logrus.Fields{
		"item_id":  itemId,
		"item":     result.ItemName,
		"sales":    len(sales),
		"deficits": len(result.Deficits),
		"drift":    utils.FormatQty(result.Drift),
	}).Info("recon.rebuild_done")
	return nil
}
