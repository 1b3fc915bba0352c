package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Wait_DoublesAndCaps(t *testing.T) {
	rp := RetryPolicy{BaseWait: 10 * time.Millisecond, MaxWait: 100 * time.Millisecond, MaxTries: 10}

	assert.Equal(t, 10*time.Millisecond, rp.Wait(0))
	assert.Equal(t, 20*time.Millisecond, rp.Wait(1))
	assert.Equal(t, 40*time.Millisecond, rp.Wait(2))
	assert.Equal(t, 80*time.Millisecond, rp.Wait(3))
	assert.Equal(t, 100*time.Millisecond, rp.Wait(4))
	assert.Equal(t, 100*time.Millisecond, rp.Wait(10))
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, Pessimistic, cfg.AmendmentMode)
	assert.Equal(t, FTNone, cfg.FaultTolerance)
	assert.Equal(t, LineageNone, cfg.Lineage)
	assert.Positive(t, cfg.PathSelectionRetry.MaxTries)
}
