package core

// execution_limiter.go bounds how many imports execute against the backend
// at once. Executions hold a slot for their whole duration; new ones wait
// up to maxWait for a slot before failing with ErrTooManyExecutions.
//
// Drain blocks until in-flight executions finish, for graceful shutdown.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyExecutions is returned when no execution slot frees up in time.
var ErrTooManyExecutions = errors.New("too many concurrent imports, please try again later")

const (
	defaultMaxConcurrentExecutions = 5
	defaultMaxWait                 = 30 * time.Second
)

// ExecutionLimiter is a counting semaphore over import executions.
type ExecutionLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
	running sync.WaitGroup
}

// NewExecutionLimiter allows at most maxConcurrent simultaneous executions.
func NewExecutionLimiter(maxConcurrent int, maxWait time.Duration) *ExecutionLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentExecutions
	}
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	return &ExecutionLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire takes a slot. The caller must call Release exactly once on success.
func (l *ExecutionLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		l.running.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyExecutions
	}
}

// TryAcquire takes a slot without waiting.
func (l *ExecutionLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		l.running.Add(1)
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *ExecutionLimiter) Release() {
	<-l.slots
	l.running.Done()
}

// Run executes fn while holding a slot.
func (l *ExecutionLimiter) Run(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// Active returns the number of executions holding a slot.
func (l *ExecutionLimiter) Active() int { return len(l.slots) }

// Available returns the number of free slots.
func (l *ExecutionLimiter) Available() int { return cap(l.slots) - len(l.slots) }

// Drain waits for every running execution to release its slot.
func (l *ExecutionLimiter) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LimiterStatus is a snapshot of limiter occupancy.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns current occupancy for the health endpoint.
func (l *ExecutionLimiter) Status() LimiterStatus {
	active := len(l.slots)
	return LimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}
