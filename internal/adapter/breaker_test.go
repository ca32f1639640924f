package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_ClosedMonotonicity(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 5, VolumeThreshold: 10})

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, BreakerClosed, b.State())

	b.RecordSuccess()
	snap := b.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestBreaker_OpensOnlyAfterVolume(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, VolumeThreshold: 10})

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, BreakerClosed, b.State(), "must not open before volume threshold")

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_HalfOpenRecoversOnSuccesses(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		VolumeThreshold:  1,
		RecoveryTimeout:  10 * time.Millisecond,
	})

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReturnsToOpen(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		VolumeThreshold:  1,
		RecoveryTimeout:  5 * time.Millisecond,
	})
	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	require.True(t, b.Allow())
	require.Equal(t, BreakerHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
}
