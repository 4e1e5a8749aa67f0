package workflow

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/scrapstock_backend/models"
	"bitbucket.org/mmdatafocus/scrapstock_backend/utils"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// A STARTED row older than this is presumed abandoned (crashed worker) and
// may be reclaimed.
const idempotencyStaleAfter = 5 * time.Minute

type idempotencyAction int

const (
	idempotencyProceed idempotencyAction = iota
	idempotencySkip
	idempotencyBusy
	idempotencyReclaim
)

// classifyIdempotencyKey decides what to do with an existing key row.
func classifyIdempotencyKey(existing *models.IdempotencyKey, now time.Time) idempotencyAction {
	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return idempotencySkip
	case models.IdempotencyStatusStarted:
		// Another worker may be processing right now; retry later. A stale
		// row is reclaimed and reused.
		if now.Sub(existing.UpdatedAt) < idempotencyStaleAfter {
			return idempotencyBusy
		}
		return idempotencyReclaim
	default:
		// FAILED: the previous attempt is over, run again.
		return idempotencyReclaim
	}
}

// BeginIdempotency durably records STARTED in its own short transaction,
// committed before the caller's work begins. That way a crash mid-work leaves
// a visible STARTED row (reclaimable once stale), and a later
// MarkIdempotencyFailed has a committed row to update. Returns (true, nil)
// when a prior run already SUCCEEDED, meaning "skip safely".
func BeginIdempotency(db *gorm.DB, handlerName, messageId string) (skip bool, err error) {
	tx := db.Begin()
	if tx.Error != nil {
		return false, tx.Error
	}
	skip, err = beginIdempotencyTx(tx, handlerName, messageId)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	return skip, tx.Commit().Error
}

func beginIdempotencyTx(tx *gorm.DB, handlerName, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !utils.IsDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch classifyIdempotencyKey(&existing, time.Now()) {
	case idempotencySkip:
		return true, nil
	case idempotencyBusy:
		return false, ErrIdempotencyInProgress
	default:
		return false, resetIdempotency(tx, existing.ID)
	}
}

func resetIdempotency(tx *gorm.DB, id int) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil, "updated_at": time.Now()}).Error
}

// MarkIdempotencySucceeded runs inside the work transaction so SUCCEEDED
// commits atomically with the work itself.
func MarkIdempotencySucceeded(tx *gorm.DB, handlerName, messageId string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

// MarkIdempotencyFailed runs on the base connection after the work
// transaction rolled back; the STARTED row it updates was committed by
// BeginIdempotency.
func MarkIdempotencyFailed(db *gorm.DB, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return db.Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
