package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/mint-scanner/internal/errors"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the lock's expiry out only while it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ScanLocker is a per-wallet mutual exclusion lock shared by every process
// scanning the same database.
type ScanLocker struct {
	client redis.Cmdable
	prefix string
}

// NewScanLocker creates a locker storing keys under "scanlock:".
func NewScanLocker(client redis.Cmdable) *ScanLocker {
	return &ScanLocker{client: client, prefix: "scanlock:"}
}

func (l *ScanLocker) key(owner string) string {
	return l.prefix + owner
}

// Acquire takes owner's lock for ttl and keeps extending it every ttl/3 until
// release is called, so a scan longer than ttl stays exclusive. The lock only
// lapses if this process stops renewing it. It returns ErrScanInProgress if
// another holder has it. The returned release func is safe to call once the
// lock has expired.
func (l *ScanLocker) Acquire(ctx context.Context, owner string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.key(owner)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire scan lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("wallet %s: %w", owner, apperrors.ErrScanInProgress)
	}

	// A lock without a TTL never expires and needs no renewal.
	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	if ttl > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.renew(renewCtx, key, token, ttl)
		}()
	}

	var once sync.Once
	release := func(ctx context.Context) error {
		once.Do(func() {
			stopRenew()
			wg.Wait()
		})
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("failed to release scan lock: %w", err)
		}
		return nil
	}
	return release, nil
}

// renew extends key every ttl/3 while it holds token. It stops when ctx is
// done or the lock has passed to another holder.
func (l *ScanLocker) renew(ctx context.Context, key, token string, ttl time.Duration) {
	ticker := time.NewTicker(max(ttl/3, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		held, err := extendScript.Run(ctx, l.client, []string{key}, token, ttl.Milliseconds()).Int()
		if err != nil {
			// Transient Redis errors: retry on the next tick while the TTL lasts.
			continue
		}
		if held == 0 {
			return
		}
	}
}
