package models

import (
	"errors"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
)

// RestoreSaleAllocations returns every allocated portion of a sale to its lot
// and deletes the allocation links. It must complete before any fresh
// allocation attempt in the same transaction so the freed stock is visible to
// the next pass.
//
// A referenced lot may no longer exist when its parent purchase record was
// deleted out-of-band. That portion cannot be restored; it is logged as a
// warning instead of aborting, because refusing to edit or delete the sale
// over an unreachable lot would make the ledger unrecoverable.
func RestoreSaleAllocations(tx *gorm.DB, logger *logrus.Logger, saleId int) error {
	var allocations []Allocation
	if err := tx.Where("sale_id = ?", saleId).Order("id ASC").Find(&allocations).Error; err != nil {
		return err
	}
	if len(allocations) == 0 {
		return nil
	}

	for _, alloc := range allocations {
		var lot Lot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", alloc.LotID).
			First(&lot).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				config.LogWarn(logger, "stockCommands_reversal.go", "RestoreSaleAllocations",
					"referential gap: allocation references a deleted lot",
					map[string]interface{}{"sale_id": saleId, "lot_id": alloc.LotID, "qty": utils.FormatQty(alloc.Qty)},
					"skipping unrestorable allocation portion")
				continue
			}
			return err
		}

		restored := lot.RemainingQty.Add(alloc.Qty)
		if restored.GreaterThan(lot.Qty.Add(utils.LotQtyTolerance)) {
			// The lot was corrected downward after this sale consumed it;
			// remaining can never exceed the lot quantity.
			config.LogWarn(logger, "stockCommands_reversal.go", "RestoreSaleAllocations",
				"restore clamped at lot quantity",
				map[string]interface{}{"sale_id": saleId, "lot_id": lot.ID, "restored": utils.FormatQty(restored), "qty": utils.FormatQty(lot.Qty)},
				"partial restore after downward lot correction")
			restored = lot.Qty
		}
		if err := tx.Model(&Lot{}).
			Where("id = ?", lot.ID).
			Update("remaining_qty", restored).Error; err != nil {
			return err
		}

		if logger != nil {
			logger.WithFields(logrus.Fields{
				"sale_id":   saleId,
				"lot_id":    lot.ID,
				"qty":       utils.FormatQty(alloc.Qty),
				"remaining": utils.FormatQty(restored),
			}).Debug("alloc.restore")
		}
	}

	return tx.Where("sale_id = ?", saleId).Delete(&Allocation{}).Error
}
