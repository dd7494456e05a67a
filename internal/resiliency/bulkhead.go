package resiliency

import (
	"context"
	"sync/atomic"

	"github.com/docker/model-ops-coordinator/internal/errs"
	"golang.org/x/sync/semaphore"
)

// Bulkhead bounds in-flight work to MaxConcurrent permits and queued
// acquirers to MaxQueueSize, rejecting synchronously beyond both, per
// spec.md §4.4 and the FIFO-queueing guarantee in spec.md §5. Built on
// golang.org/x/sync/semaphore.Weighted, whose waiter list is FIFO, the
// same dependency the teacher uses for its pull-token semaphore in
// pkg/inference/models/manager.go.
type Bulkhead struct {
	Operation     string
	MaxConcurrent int64
	MaxQueueSize  int64

	sem       *semaphore.Weighted
	inFlight  atomic.Int64
	queueSize atomic.Int64
}

// NewBulkhead constructs a bulkhead for operation with the given limits.
func NewBulkhead(operation string, maxConcurrent, maxQueueSize int64) *Bulkhead {
	return &Bulkhead{
		Operation:     operation,
		MaxConcurrent: maxConcurrent,
		MaxQueueSize:  maxQueueSize,
		sem:           semaphore.NewWeighted(maxConcurrent),
	}
}

// Acquire admits the caller immediately if a permit is free, queues it
// (bounded by MaxQueueSize) if not, or rejects synchronously if the queue
// is also full. The returned release func must be called exactly once
// when the permit holder is done, on every exit path.
func (b *Bulkhead) Acquire(ctx context.Context) (release func(), err error) {
	if b.sem.TryAcquire(1) {
		b.inFlight.Add(1)
		return b.releaseFunc(), nil
	}

	for {
		cur := b.queueSize.Load()
		if cur >= b.MaxQueueSize {
			return nil, &errs.BulkheadRejection{
				Operation: b.Operation,
				Current:   int(b.inFlight.Load()),
				Max:       int(b.MaxConcurrent),
			}
		}
		if b.queueSize.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	defer b.queueSize.Add(-1)

	if err := b.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	b.inFlight.Add(1)
	return b.releaseFunc(), nil
}

func (b *Bulkhead) releaseFunc() func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		b.inFlight.Add(-1)
		b.sem.Release(1)
	}
}

// InFlight returns the number of currently admitted callers.
func (b *Bulkhead) InFlight() int64 { return b.inFlight.Load() }

// QueueDepth returns the number of callers currently waiting.
func (b *Bulkhead) QueueDepth() int64 { return b.queueSize.Load() }
