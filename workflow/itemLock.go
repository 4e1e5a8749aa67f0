package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireItemRebuildLock serializes allocation rebuilds per item across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB transaction that performs the rebuild.
func AcquireItemRebuildLock(tx *gorm.DB, itemId int) error {
	lockName := fmt.Sprintf("stock_rebuild:%d", itemId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire rebuild lock for item_id=%d", itemId)
	}
	return nil
}

func ReleaseItemRebuildLock(tx *gorm.DB, itemId int) {
	lockName := fmt.Sprintf("stock_rebuild:%d", itemId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
