package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/scrapstock_backend/models"
	"github.com/stretchr/testify/assert"
)

func keyWith(status models.IdempotencyStatus, age time.Duration, now time.Time) *models.IdempotencyKey {
	return &models.IdempotencyKey{Status: status, UpdatedAt: now.Add(-age)}
}

func TestClassifyIdempotencyKeySkipsSucceeded(t *testing.T) {
	now := time.Now()
	got := classifyIdempotencyKey(keyWith(models.IdempotencyStatusSucceeded, time.Hour, now), now)
	assert.Equal(t, idempotencySkip, got)
}

func TestClassifyIdempotencyKeyFreshStartedIsBusy(t *testing.T) {
	now := time.Now()
	got := classifyIdempotencyKey(keyWith(models.IdempotencyStatusStarted, time.Minute, now), now)
	assert.Equal(t, idempotencyBusy, got)
}

func TestClassifyIdempotencyKeyReclaimsStaleStarted(t *testing.T) {
	// A STARTED row from a worker that died mid-run must not wedge the
	// message forever.
	now := time.Now()
	got := classifyIdempotencyKey(keyWith(models.IdempotencyStatusStarted, idempotencyStaleAfter+time.Second, now), now)
	assert.Equal(t, idempotencyReclaim, got)
}

func TestClassifyIdempotencyKeyReclaimsFailed(t *testing.T) {
	// FAILED rows exist only because BeginIdempotency commits STARTED before
	// the work transaction; a retry runs the handler again.
	now := time.Now()
	got := classifyIdempotencyKey(keyWith(models.IdempotencyStatusFailed, time.Second, now), now)
	assert.Equal(t, idempotencyReclaim, got)
}
