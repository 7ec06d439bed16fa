package store

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/subculture-collective/botengine/pkg/redis"
)

// historicalCacheTTL is how long one signature's historical reputation is
// served from cache before the provider is consulted again.
const historicalCacheTTL = 5 * time.Minute

// CachedHistoricalReputationProvider wraps a HistoricalReputationProvider
// with a per-signature in-process cache.
type CachedHistoricalReputationProvider struct {
	inner HistoricalReputationProvider

	mu    sync.Mutex
	cache map[string]historicalCacheEntry
}

type historicalCacheEntry struct {
	rep       HistoricalReputation
	found     bool
	expiresAt time.Time
}

// NewCachedHistoricalReputationProvider wraps inner with a 5-minute
// per-signature cache.
func NewCachedHistoricalReputationProvider(inner HistoricalReputationProvider) *CachedHistoricalReputationProvider {
	return &CachedHistoricalReputationProvider{inner: inner, cache: make(map[string]historicalCacheEntry)}
}

// Get implements HistoricalReputationProvider. Negative results ("no
// history for this signature") are cached too, so a flood of fresh
// signatures doesn't hammer the backend.
func (c *CachedHistoricalReputationProvider) Get(ctx context.Context, signature string) (HistoricalReputation, bool, error) {
	now := time.Now()

	c.mu.Lock()
	if entry, ok := c.cache[signature]; ok && now.Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.rep, entry.found, nil
	}
	c.mu.Unlock()

	rep, found, err := c.inner.Get(ctx, signature)
	if err != nil {
		return HistoricalReputation{}, false, err
	}

	c.mu.Lock()
	c.cache[signature] = historicalCacheEntry{rep: rep, found: found, expiresAt: now.Add(historicalCacheTTL)}
	// Opportunistic sweep so the map doesn't grow without bound.
	if len(c.cache) > 10000 {
		for sig, entry := range c.cache {
			if now.After(entry.expiresAt) {
				delete(c.cache, sig)
			}
		}
	}
	c.mu.Unlock()

	return rep, found, nil
}

// RedisCachedWeightStore layers a Redis read cache over a durable
// WeightStore: reads hit Redis first, writes go through to the backing
// store and invalidate the cached entry.
type RedisCachedWeightStore struct {
	inner WeightStore
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisCachedWeightStore builds a RedisCachedWeightStore with the given
// cache TTL (zero falls back to 1 minute).
func NewRedisCachedWeightStore(inner WeightStore, rc *redis.Client, ttl time.Duration) *RedisCachedWeightStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCachedWeightStore{inner: inner, redis: rc, ttl: ttl}
}

func redisWeightKey(sigType, sigValue string) string {
	return "botengine:weight:" + sigType + ":" + sigValue
}

// GetWeight implements WeightStore with a Redis read-through.
func (s *RedisCachedWeightStore) GetWeight(ctx context.Context, sigType, sigValue string) (WeightRecord, bool, error) {
	key := redisWeightKey(sigType, sigValue)
	var cached WeightRecord
	switch err := s.redis.GetJSON(ctx, key, &cached); err {
	case nil:
		return cached, true, nil
	case goredis.Nil:
		// Not cached yet.
	default:
		// Cache failure is not fatal; fall through to the backing store.
	}

	rec, ok, err := s.inner.GetWeight(ctx, sigType, sigValue)
	if err != nil || !ok {
		return rec, ok, err
	}
	_ = s.redis.SetJSON(ctx, key, rec, s.ttl)
	return rec, true, nil
}

// GetWeights implements WeightStore, delegating batch reads to the backing
// store (one MGET round-trip doesn't pay for itself below a large batch).
func (s *RedisCachedWeightStore) GetWeights(ctx context.Context, sigType string, sigValues []string) (map[string]WeightRecord, error) {
	return s.inner.GetWeights(ctx, sigType, sigValues)
}

// UpdateWeight implements WeightStore, invalidating the cached entry.
func (s *RedisCachedWeightStore) UpdateWeight(ctx context.Context, rec WeightRecord) error {
	if err := s.inner.UpdateWeight(ctx, rec); err != nil {
		return err
	}
	_ = s.redis.Delete(ctx, redisWeightKey(rec.SignatureType, rec.SignatureValue))
	return nil
}

// RecordObservation implements WeightStore, invalidating the cached entry.
func (s *RedisCachedWeightStore) RecordObservation(ctx context.Context, sigType, sigValue string, wasBot bool, detectionConfidence float64) error {
	if err := s.inner.RecordObservation(ctx, sigType, sigValue, wasBot, detectionConfidence); err != nil {
		return err
	}
	_ = s.redis.Delete(ctx, redisWeightKey(sigType, sigValue))
	return nil
}

// GetAll implements WeightStore.
func (s *RedisCachedWeightStore) GetAll(ctx context.Context, sigType string) ([]WeightRecord, error) {
	return s.inner.GetAll(ctx, sigType)
}

// DecayOld implements WeightStore. Cached entries are left to expire via
// TTL rather than scanned and invalidated.
func (s *RedisCachedWeightStore) DecayOld(ctx context.Context, maxAge time.Duration, factor float64) error {
	return s.inner.DecayOld(ctx, maxAge, factor)
}

var _ WeightStore = (*RedisCachedWeightStore)(nil)

// breakerCooldown is how long writes are skipped after a persistence
// failure before the next attempt.
const breakerCooldown = 60 * time.Second

// BreakerEventStore wraps an EventStore with a simple time-based circuit
// breaker: after a write failure, writes are dropped for breakerCooldown
// so a down database can't stall the request path. Reads pass through.
type BreakerEventStore struct {
	inner EventStore

	mu        sync.Mutex
	openUntil time.Time
}

// NewBreakerEventStore wraps inner with the write circuit breaker.
func NewBreakerEventStore(inner EventStore) *BreakerEventStore {
	return &BreakerEventStore{inner: inner}
}

func (s *BreakerEventStore) writeAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().After(s.openUntil)
}

func (s *BreakerEventStore) trip() {
	s.mu.Lock()
	s.openUntil = time.Now().Add(breakerCooldown)
	s.mu.Unlock()
}

// AddDetection implements EventStore under the breaker.
func (s *BreakerEventStore) AddDetection(ctx context.Context, rec DetectionRecord) error {
	if !s.writeAllowed() {
		return nil
	}
	if err := s.inner.AddDetection(ctx, rec); err != nil {
		s.trip()
		return err
	}
	return nil
}

// UpsertSignature implements EventStore under the breaker.
func (s *BreakerEventStore) UpsertSignature(ctx context.Context, signature string, occurredAt time.Time) (int64, error) {
	if !s.writeAllowed() {
		return 0, nil
	}
	count, err := s.inner.UpsertSignature(ctx, signature, occurredAt)
	if err != nil {
		s.trip()
		return 0, err
	}
	return count, nil
}

// QueryDetections implements EventStore.
func (s *BreakerEventStore) QueryDetections(ctx context.Context, filter DetectionFilter) ([]DetectionRecord, error) {
	return s.inner.QueryDetections(ctx, filter)
}

// TimeSeries implements EventStore.
func (s *BreakerEventStore) TimeSeries(ctx context.Context, start, end time.Time, bucket time.Duration) ([]TimeBucket, error) {
	return s.inner.TimeSeries(ctx, start, end, bucket)
}

// Summary implements EventStore.
func (s *BreakerEventStore) Summary(ctx context.Context) (Summary24h, error) {
	return s.inner.Summary(ctx)
}

var _ EventStore = (*BreakerEventStore)(nil)
