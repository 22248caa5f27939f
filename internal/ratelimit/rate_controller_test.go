package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBatchPacerBackoff(t *testing.T) {
	p := NewBatchPacer(100*time.Millisecond, time.Second)
	assert.Equal(t, 100*time.Millisecond, p.CurrentDelay())

	p.RecordFailure()
	assert.Equal(t, 200*time.Millisecond, p.CurrentDelay())
	p.RecordFailure()
	assert.Equal(t, 400*time.Millisecond, p.CurrentDelay())
	for i := 0; i < 10; i++ {
		p.RecordFailure()
	}
	assert.Equal(t, time.Second, p.CurrentDelay())

	p.RecordSuccess()
	assert.Equal(t, 100*time.Millisecond, p.CurrentDelay())
}

func TestBatchPacerZeroBase(t *testing.T) {
	p := NewBatchPacer(0, time.Second)
	assert.NoError(t, p.Wait(context.Background()))

	p.RecordFailure()
	assert.Equal(t, 100*time.Millisecond, p.CurrentDelay())
}

func TestBatchPacerWaitHonoursContext(t *testing.T) {
	p := NewBatchPacer(time.Hour, 2*time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}
