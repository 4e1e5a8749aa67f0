package utils

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
)

// Floating tolerances for quantity comparisons. Sub-tolerance deltas absorb
// rounding and are never treated as failures.
var (
	// LotQtyTolerance applies to per-lot remaining balances.
	LotQtyTolerance = decimal.NewFromFloat(0.001)
	// SaleQtyTolerance applies to per-sale allocation sums.
	SaleQtyTolerance = decimal.NewFromFloat(0.01)
	// ItemDriftTolerance applies to the per-item purchase/sale aggregate.
	ItemDriftTolerance = decimal.NewFromFloat(0.05)
)

// NormalizeItemName collapses whitespace and uppercases so "  ms  plate " and
// "MS Plate" resolve to the same item.
func NormalizeItemName(name string) string {
	return strings.ToUpper(strings.Join(strings.Fields(strings.TrimSpace(name)), " "))
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}
	return dec, nil
}

// ItemLock obtains a cross-instance lock scoped to one item. It layers over
// the DB row locks to keep concurrent writers from even entering the lot
// read; the caller must Release the returned lock (normally via defer).
// Returns a retryable error when the lock is contended.
func ItemLock(ctx context.Context, itemId int, lockType string, moduleName string, functionName string) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Redis is optional coordination; DB row locks still guarantee
		// correctness when it is not configured.
		return nil, nil
	}
	lockKey := fmt.Sprintf("%s:%d", lockType, itemId)
	lock, err := locker.Obtain(ctx, lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain item lock", itemId, err)
		return nil, err
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining item lock", itemId, err)
		return nil, err
	}
	return lock, nil
}

// ReleaseItemLock releases a lock obtained via ItemLock; safe on nil.
func ReleaseItemLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	_ = lock.Release(ctx)
}

// WithLockRetry runs fn with bounded retry/backoff for lock-wait failures.
// Non-retryable errors return immediately. This lives at the caller boundary;
// the allocation engine itself never retries.
func WithLockRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !IsRetryableLockErr(err) {
			return err
		}
		sleep := time.Duration(1<<min(i, 4)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}

func IntSliceContains(s []int, v int) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

func FormatQty(d decimal.Decimal) string {
	return d.Round(4).String()
}

func Atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
