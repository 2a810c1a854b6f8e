package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by Acquire while the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Metrics is a snapshot of limiter activity
type Metrics struct {
	TotalAcquired  int64
	TotalReleased  int64
	PeakConcurrent int64
	TotalWait      time.Duration
}

// AverageWait returns the mean time spent waiting for a slot
func (m Metrics) AverageWait() time.Duration {
	if m.TotalAcquired == 0 {
		return 0
	}
	return m.TotalWait / time.Duration(m.TotalAcquired)
}

// Limiter bounds the number of concurrent loads. It is a semaphore, optionally
// guarded by a circuit breaker fed with the outcome of the operations run
// through Do.
type Limiter struct {
	sem            chan struct{}
	circuitBreaker *CircuitBreaker

	active   atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	peak     atomic.Int64
	waitNs   atomic.Int64
}

// LimiterOption configures a Limiter
type LimiterOption func(*Limiter)

// WithCircuitBreaker replaces the default circuit breaker
func WithCircuitBreaker(cb *CircuitBreaker) LimiterOption {
	return func(l *Limiter) {
		if cb != nil {
			l.circuitBreaker = cb
		}
	}
}

// WithoutCircuitBreaker disables the circuit breaker: failures of fn in Do
// never make later calls fail.
func WithoutCircuitBreaker() LimiterOption {
	return func(l *Limiter) {
		l.circuitBreaker = nil
	}
}

// NewLimiter creates a limiter allowing maxConcurrent operations at once. The
// default circuit breaker opens after 100 consecutive failures for 30s.
func NewLimiter(maxConcurrent int, opts ...LimiterOption) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	l := &Limiter{
		sem:            make(chan struct{}, maxConcurrent),
		circuitBreaker: NewCircuitBreaker(100, 30*time.Second),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Capacity returns the maximum number of concurrent operations
func (l *Limiter) Capacity() int {
	return cap(l.sem)
}

// Acquire waits for a slot. It fails fast while the circuit breaker is open.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.circuitBreaker != nil && l.circuitBreaker.IsOpen() {
		return ErrCircuitOpen
	}
	start := time.Now()
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.waitNs.Add(int64(time.Since(start)))
	l.acquired.Add(1)
	l.updatePeak(l.active.Add(1))
	return nil
}

// Release returns a slot. Releasing without a matching Acquire is a no-op.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		l.active.Add(-1)
		l.released.Add(1)
	default:
	}
}

// Do runs fn in the calling goroutine once a slot is available and reports
// its outcome to the circuit breaker.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn()
	if l.circuitBreaker == nil {
		return err
	}
	if err != nil {
		l.circuitBreaker.RecordFailure()
		return err
	}
	l.circuitBreaker.RecordSuccess()
	return nil
}

// CurrentActive returns the number of slots in use
func (l *Limiter) CurrentActive() int64 {
	return l.active.Load()
}

// Metrics returns a snapshot of the limiter counters
func (l *Limiter) Metrics() Metrics {
	return Metrics{
		TotalAcquired:  l.acquired.Load(),
		TotalReleased:  l.released.Load(),
		PeakConcurrent: l.peak.Load(),
		TotalWait:      time.Duration(l.waitNs.Load()),
	}
}

// CircuitBreakerState returns the state of the circuit breaker. A limiter
// without one is always closed.
func (l *Limiter) CircuitBreakerState() CircuitBreakerState {
	if l.circuitBreaker == nil {
		return StateClosed
	}
	return l.circuitBreaker.State()
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
