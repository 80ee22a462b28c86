// Package concurrency provides the bounded-concurrency primitives shared by
// batch execution and the message runner: a counting-semaphore limiter with
// wait metrics and an optional circuit breaker for ingest paths.
package concurrency

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics tracks limiter performance counters.
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter is a counting semaphore bounding how many flow runs execute at
// once. The circuit breaker is optional: batch execution runs without one
// because sibling runs must stay isolated from each other's failures, while
// the message runner uses one to stop pulling work during sustained faults.
type Limiter struct {
	sem     chan struct{}
	active  atomic.Int64
	breaker *CircuitBreaker

	acquired atomic.Int64
	released atomic.Int64
	peak     atomic.Int64
	waitNs   atomic.Int64
}

// NewLimiter creates a limiter with the given maximum in-flight count and no
// circuit breaker.
func NewLimiter(maxConcurrent int) *Limiter {
	return NewLimiterWithBreaker(maxConcurrent, nil)
}

// NewLimiterWithBreaker creates a limiter gated by the given circuit breaker.
func NewLimiterWithBreaker(maxConcurrent int, breaker *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:     make(chan struct{}, maxConcurrent),
		breaker: breaker,
	}
}

// Acquire blocks until a slot is available or ctx is cancelled. It fails
// immediately when the circuit breaker is open.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.breaker != nil && l.breaker.IsOpen() {
		return fmt.Errorf("circuit breaker is open")
	}

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		l.waitNs.Add(time.Since(start).Nanoseconds())
		l.acquired.Add(1)
		l.updatePeak(l.active.Add(1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the limiter.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		l.released.Add(1)
	default:
		// Release without a matching Acquire; nothing to return.
	}
}

// Do runs fn while holding a slot and records the outcome with the circuit
// breaker when one is configured.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn()
	if l.breaker != nil {
		if err != nil {
			l.breaker.RecordFailure()
		} else {
			l.breaker.RecordSuccess()
		}
	}
	return err
}

// CurrentActive returns the number of slots currently held.
func (l *Limiter) CurrentActive() int64 {
	return l.active.Load()
}

// Capacity returns the maximum in-flight count.
func (l *Limiter) Capacity() int {
	return cap(l.sem)
}

// Snapshot returns a copy of the current metrics.
func (l *Limiter) Snapshot() Metrics {
	return Metrics{
		TotalAcquired:   l.acquired.Load(),
		TotalReleased:   l.released.Load(),
		PeakConcurrent:  l.peak.Load(),
		TotalWaitTimeNs: l.waitNs.Load(),
	}
}

// AverageWaitTime returns the mean time spent waiting for a slot.
func (l *Limiter) AverageWaitTime() time.Duration {
	acquired := l.acquired.Load()
	if acquired == 0 {
		return 0
	}
	return time.Duration(l.waitNs.Load() / acquired)
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
