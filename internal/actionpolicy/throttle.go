package actionpolicy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/subculture-collective/botengine/pkg/redis"
)

// LocalThrottleDelayer derives per-signature throttle delays from an
// in-process token bucket: a signature that still has burst left gets the
// base delay, one that exhausted it waits for the next token.
type LocalThrottleDelayer struct {
	baseDelay float64
	perMinute int
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

// NewLocalThrottleDelayer builds a LocalThrottleDelayer allowing perMinute
// requests per signature with the given burst before delays grow.
func NewLocalThrottleDelayer(baseDelay float64, perMinute, burst int) *LocalThrottleDelayer {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 5
	}
	return &LocalThrottleDelayer{
		baseDelay: baseDelay,
		perMinute: perMinute,
		burst:     burst,
		limiters:  make(map[string]*rate.Limiter),
		lastSeen:  make(map[string]time.Time),
	}
}

// ThrottleDelaySeconds implements ThrottleDelayer.
func (d *LocalThrottleDelayer) ThrottleDelaySeconds(_ context.Context, signature string) float64 {
	d.mu.Lock()
	lim, ok := d.limiters[signature]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(d.perMinute)/60.0), d.burst)
		d.limiters[signature] = lim
	}
	d.lastSeen[signature] = time.Now()
	d.sweepLocked()
	d.mu.Unlock()

	reservation := lim.Reserve()
	wait := reservation.Delay().Seconds()
	if wait < d.baseDelay {
		return d.baseDelay
	}
	return wait
}

// sweepLocked drops limiters idle for over an hour so the map stays
// bounded. Called with d.mu held, amortized over inserts.
func (d *LocalThrottleDelayer) sweepLocked() {
	if len(d.limiters) < 10000 {
		return
	}
	cutoff := time.Now().Add(-time.Hour)
	for sig, seen := range d.lastSeen {
		if seen.Before(cutoff) {
			delete(d.limiters, sig)
			delete(d.lastSeen, sig)
		}
	}
}

// RedisThrottleDelayer computes per-signature throttle delays from a
// Redis-backed sliding window, so multiple engine instances see one
// shared view of a signature's request rate.
type RedisThrottleDelayer struct {
	client    *redis.Client
	baseDelay float64
	window    time.Duration
	threshold int64
}

// NewRedisThrottleDelayer builds a RedisThrottleDelayer: delays scale up
// once a signature exceeds threshold requests inside the sliding window.
func NewRedisThrottleDelayer(client *redis.Client, baseDelay float64, window time.Duration, threshold int64) *RedisThrottleDelayer {
	if window <= 0 {
		window = time.Minute
	}
	if threshold <= 0 {
		threshold = 30
	}
	return &RedisThrottleDelayer{client: client, baseDelay: baseDelay, window: window, threshold: threshold}
}

// ThrottleDelaySeconds implements ThrottleDelayer with a sorted-set
// sliding window: record now, prune entries older than the window, count
// what's left, and scale the delay by how far over threshold the
// signature is. Redis failures degrade to the base delay.
func (d *RedisThrottleDelayer) ThrottleDelaySeconds(ctx context.Context, signature string) float64 {
	key := "botengine:throttle:" + signature
	now := time.Now()
	windowStart := now.Add(-d.window)

	member := fmt.Sprintf("%d", now.UnixNano())
	if err := d.client.ZAdd(ctx, key, float64(now.UnixNano()), member); err != nil {
		return d.baseDelay
	}
	_ = d.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixNano()))
	_ = d.client.Expire(ctx, key, d.window*2)

	count, err := d.client.ZCard(ctx, key)
	if err != nil || count <= d.threshold {
		return d.baseDelay
	}

	overshoot := float64(count-d.threshold) / float64(d.threshold)
	delay := d.baseDelay * (1 + overshoot)
	if max := d.baseDelay * 10; delay > max {
		return max
	}
	return delay
}

var (
	_ ThrottleDelayer = (*LocalThrottleDelayer)(nil)
	_ ThrottleDelayer = (*RedisThrottleDelayer)(nil)
)
