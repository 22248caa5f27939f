package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Default pacer delays.
const (
	DefaultBaseDelay = 200 * time.Millisecond
	DefaultMaxDelay  = 10 * time.Second
)

// BatchPacer spaces out the log-query batches of a wallet scan. The delay
// starts at the base and doubles after each failed batch, up to the maximum;
// a successful batch resets it.
type BatchPacer struct {
	mu               sync.Mutex
	baseDelay        time.Duration
	maxDelay         time.Duration
	currentDelay     time.Duration
	consecutiveFails int
}

// NewBatchPacer creates a pacer. A zero base disables pacing after successes.
func NewBatchPacer(base, maxDelay time.Duration) *BatchPacer {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if base > maxDelay {
		base = maxDelay
	}
	return &BatchPacer{baseDelay: base, maxDelay: maxDelay, currentDelay: base}
}

// Wait sleeps for the current delay or until ctx is done.
func (p *BatchPacer) Wait(ctx context.Context) error {
	delay := p.CurrentDelay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RecordSuccess resets the delay to the base.
func (p *BatchPacer) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFails = 0
	p.currentDelay = p.baseDelay
}

// RecordFailure doubles the delay, capped at the maximum.
func (p *BatchPacer) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveFails++
	next := max(p.baseDelay, 50*time.Millisecond)
	for i := 0; i < p.consecutiveFails; i++ {
		next *= 2
		if next >= p.maxDelay {
			next = p.maxDelay
			break
		}
	}
	p.currentDelay = next
}

// CurrentDelay returns the delay the next Wait will use.
func (p *BatchPacer) CurrentDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentDelay
}
