package resiliency

import (
	"testing"
	"time"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("load", 3, 50*time.Millisecond, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}

	err := cb.Allow()
	var circuitOpen *errs.CircuitOpen
	require.ErrorAs(t, err, &circuitOpen)
	require.Equal(t, 3, circuitOpen.FailureCount)
	require.Greater(t, circuitOpen.RetryAfterSec, 0)
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("unload", 2, 10*time.Millisecond, nil)
	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())

	// A second caller during the trial is rejected.
	require.Error(t, cb.Allow())

	cb.RecordSuccess()
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("load", 1, 5*time.Millisecond, nil)
	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
}
