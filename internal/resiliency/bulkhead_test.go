package resiliency

import (
	"context"
	"testing"
	"time"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestBulkhead_AdmitsWithinLimit(t *testing.T) {
	b := NewBulkhead("inference", 2, 0)
	ctx := context.Background()

	r1, err := b.Acquire(ctx)
	require.NoError(t, err)
	r2, err := b.Acquire(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, b.InFlight())

	_, err = b.Acquire(ctx)
	var rejected *errs.BulkheadRejection
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, 2, rejected.Current)
	require.Equal(t, 2, rejected.Max)

	r1()
	r2()
	require.EqualValues(t, 0, b.InFlight())
}

func TestBulkhead_RejectsAtFullQueue(t *testing.T) {
	b := NewBulkhead("inference", 2, 2)
	ctx := context.Background()

	releases := make([]func(), 0, 2)
	for i := 0; i < 2; i++ {
		r, err := b.Acquire(ctx)
		require.NoError(t, err)
		releases = append(releases, r)
	}

	// Two queued acquirers block in goroutines until a permit frees.
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			r, err := b.Acquire(context.Background())
			if err == nil {
				r()
			}
			done <- struct{}{}
		}()
	}

	// Wait until both goroutines are in the wait queue, so the next
	// Acquire finds the queue full and is rejected synchronously.
	require.Eventually(t, func() bool { return b.QueueDepth() == 2 }, time.Second, time.Millisecond)
	_, err := b.Acquire(ctx)
	require.Error(t, err)

	for _, r := range releases {
		r()
	}
	<-done
	<-done
}
