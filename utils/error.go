package utils

import (
	"errors"
	"fmt"

	"github.com/bsm/redislock"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
)

var ErrRecordNotFound = errors.New("record not found")

// ValidationError rejects malformed input before any transaction opens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InsufficientStockError reports a request that exceeds FIFO-eligible or
// manually-selected availability. The transaction is rolled back with zero
// partial effect; callers get enough detail to correct the request.
type InsufficientStockError struct {
	ItemID    int
	ItemName  string
	LotID     int
	Available decimal.Decimal
	Requested decimal.Decimal
	Deficit   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	if e.LotID > 0 {
		return fmt.Sprintf("insufficient stock for item_id=%d item=%s lot_id=%d available=%s requested=%s deficit=%s",
			e.ItemID, e.ItemName, e.LotID, e.Available, e.Requested, e.Deficit)
	}
	return fmt.Sprintf("insufficient stock for item_id=%d item=%s available=%s requested=%s deficit=%s",
		e.ItemID, e.ItemName, e.Available, e.Requested, e.Deficit)
}

// AllocationMismatchError reports manual lot selections whose quantities do
// not sum to the requested sale quantity.
type AllocationMismatchError struct {
	Requested decimal.Decimal
	Sum       decimal.Decimal
}

func (e *AllocationMismatchError) Error() string {
	return fmt.Sprintf("manual allocation mismatch: requested=%s selected=%s", e.Requested, e.Sum)
}

// IsRetryableLockErr classifies lock-wait timeouts, deadlocks and redislock
// contention. These surface to callers as retryable conditions, never as hard
// failures; retry happens at the caller boundary (WithLockRetry), not inside
// the engine.
func IsRetryableLockErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redislock.ErrNotObtained) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		// 1205 = lock wait timeout, 1213 = deadlock victim
		return mysqlErr.Number == 1205 || mysqlErr.Number == 1213
	}
	return false
}

func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
