package models

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
)

// Explicit command-style stock mutation for sales. Everything here runs
// inside the caller's transaction with the item's lots already locked, so two
// concurrent allocations against the same lot cannot both succeed on stock
// that exists only once.

// AllocateSale matches a sale against the item's lots and commits the
// deduction. Candidate lots are the item's lots with a usable remaining
// balance, oldest acquisition first. The availability check runs before any
// mutation; on failure nothing is written.
func AllocateSale(tx *gorm.DB, logger *logrus.Logger, sale *Sale, strategy AllocationStrategy) error {
	lots, err := LockItemLots(tx, sale.ItemID)
	if err != nil {
		return err
	}
	candidates := usableLots(lots)

	if err := checkAvailability(sale, candidates); err != nil {
		return err
	}

	var plan []LotPortion
	switch strategy.Mode {
	case AllocationModeManual:
		plan, err = manualPlan(sale, candidates, strategy.Portions)
		if err != nil {
			return err
		}
	default:
		plan = FifoPlan(candidates, sale.Qty)
	}

	return applyAllocationPlan(tx, logger, sale, candidates, plan)
}

// ReplaySaleAllocations is the reconciliation variant: it allocates what the
// lots can satisfy through the automatic FIFO path and reports the deficit
// instead of failing, so the batch pass can record the shortfall and keep
// going.
func ReplaySaleAllocations(tx *gorm.DB, logger *logrus.Logger, sale *Sale) (decimal.Decimal, error) {
	lots, err := LockItemLots(tx, sale.ItemID)
	if err != nil {
		return decimal.Zero, err
	}
	candidates := usableLots(lots)

	available := totalRemaining(candidates)
	deficit := decimal.Zero
	toAllocate := sale.Qty
	if sale.Qty.GreaterThan(available.Add(utils.LotQtyTolerance)) {
		deficit = sale.Qty.Sub(available)
		toAllocate = available
	}

	plan := FifoPlan(candidates, toAllocate)
	if err := applyAllocationPlan(tx, logger, sale, candidates, plan); err != nil {
		return decimal.Zero, err
	}
	return deficit, nil
}

func usableLots(lots []Lot) []Lot {
	candidates := make([]Lot, 0, len(lots))
	for _, lot := range lots {
		if lot.RemainingQty.GreaterThan(utils.LotQtyTolerance) {
			candidates = append(candidates, lot)
		}
	}
	return candidates
}

func totalRemaining(lots []Lot) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range lots {
		total = total.Add(lot.RemainingQty)
	}
	return total
}

// checkAvailability fails with the full shortfall detail before anything is
// written.
func checkAvailability(sale *Sale, candidates []Lot) error {
	available := totalRemaining(candidates)
	if sale.Qty.GreaterThan(available.Add(utils.LotQtyTolerance)) {
		return &utils.InsufficientStockError{
			ItemID:    sale.ItemID,
			ItemName:  sale.ItemName,
			Available: available,
			Requested: sale.Qty,
			Deficit:   sale.Qty.Sub(available),
		}
	}
	return nil
}

// FifoPlan walks candidates oldest-first, taking min(remaining, stillNeeded)
// from each until the request is satisfied. Callers must have verified total
// availability. Exported so callers can preview which lots a sale would
// consume without committing anything.
func FifoPlan(candidates []Lot, requested decimal.Decimal) []LotPortion {
	plan := make([]LotPortion, 0, len(candidates))
	still := requested
	for _, lot := range candidates {
		if !still.GreaterThan(utils.LotQtyTolerance) {
			break
		}
		take := decimal.Min(lot.RemainingQty, still)
		plan = append(plan, LotPortion{LotID: lot.ID, Qty: take})
		still = still.Sub(take)
	}
	return plan
}

// manualPlan verifies a user-supplied lot selection: portions must sum to the
// requested quantity and each referenced lot must cover its portion.
// Duplicate references to one lot are folded together before checking.
func manualPlan(sale *Sale, candidates []Lot, portions []LotPortion) ([]LotPortion, error) {
	merged := make([]LotPortion, 0, len(portions))
	idx := make(map[int]int, len(portions))
	sum := decimal.Zero
	for _, p := range portions {
		if !p.Qty.IsPositive() {
			return nil, &utils.ValidationError{Field: "manualAllocation", Reason: "portion qty must be positive"}
		}
		sum = sum.Add(p.Qty)
		if i, ok := idx[p.LotID]; ok {
			merged[i].Qty = merged[i].Qty.Add(p.Qty)
			continue
		}
		idx[p.LotID] = len(merged)
		merged = append(merged, LotPortion{LotID: p.LotID, Qty: p.Qty})
	}

	if sum.Sub(sale.Qty).Abs().GreaterThan(utils.SaleQtyTolerance) {
		return nil, &utils.AllocationMismatchError{Requested: sale.Qty, Sum: sum}
	}

	byId := make(map[int]Lot, len(candidates))
	for _, lot := range candidates {
		byId[lot.ID] = lot
	}
	for _, p := range merged {
		lot, ok := byId[p.LotID]
		if !ok {
			return nil, &utils.InsufficientStockError{
				ItemID:    sale.ItemID,
				ItemName:  sale.ItemName,
				LotID:     p.LotID,
				Available: decimal.Zero,
				Requested: p.Qty,
				Deficit:   p.Qty,
			}
		}
		if p.Qty.GreaterThan(lot.RemainingQty.Add(utils.LotQtyTolerance)) {
			return nil, &utils.InsufficientStockError{
				ItemID:    sale.ItemID,
				ItemName:  sale.ItemName,
				LotID:     p.LotID,
				Available: lot.RemainingQty,
				Requested: p.Qty,
				Deficit:   p.Qty.Sub(lot.RemainingQty),
			}
		}
	}
	return merged, nil
}

// applyAllocationPlan inserts one Allocation row per portion and decrements
// the lot balances. Balances never go below zero.
func applyAllocationPlan(tx *gorm.DB, logger *logrus.Logger, sale *Sale, candidates []Lot, plan []LotPortion) error {
	byId := make(map[int]Lot, len(candidates))
	for _, lot := range candidates {
		byId[lot.ID] = lot
	}

	for _, p := range plan {
		alloc := Allocation{SaleID: sale.ID, LotID: p.LotID, Qty: p.Qty}
		if err := tx.Create(&alloc).Error; err != nil {
			return err
		}

		lot := byId[p.LotID]
		newRemaining := lot.RemainingQty.Sub(p.Qty)
		if newRemaining.IsNegative() {
			newRemaining = decimal.Zero
		}
		if err := tx.Model(&Lot{}).
			Where("id = ?", p.LotID).
			Update("remaining_qty", newRemaining).Error; err != nil {
			return err
		}

		if logger != nil {
			logger.WithFields(logrus.Fields{
				"sale_id":   sale.ID,
				"item_id":   sale.ItemID,
				"lot_id":    p.LotID,
				"qty":       utils.FormatQty(p.Qty),
				"remaining": utils.FormatQty(newRemaining),
			}).Debug("alloc.apply")
		}
	}
	return nil
}
