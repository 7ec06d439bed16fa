package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryEventStore is an in-process EventStore used by the offline bench
// harness and by tests; it holds everything in slices/maps under one lock.
type MemoryEventStore struct {
	mu         sync.Mutex
	detections []DetectionRecord
	signatures map[string]*signatureHit
}

type signatureHit struct {
	hitCount  int64
	firstSeen time.Time
	lastSeen  time.Time
}

// NewMemoryEventStore builds an empty MemoryEventStore.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{signatures: make(map[string]*signatureHit)}
}

// AddDetection implements EventStore.
func (s *MemoryEventStore) AddDetection(_ context.Context, rec DetectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = append(s.detections, rec)
	return nil
}

// UpsertSignature implements EventStore.
func (s *MemoryEventStore) UpsertSignature(_ context.Context, signature string, occurredAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hit, ok := s.signatures[signature]
	if !ok {
		hit = &signatureHit{firstSeen: occurredAt}
		s.signatures[signature] = hit
	}
	hit.hitCount++
	hit.lastSeen = occurredAt
	return hit.hitCount, nil
}

// QueryDetections implements EventStore.
func (s *MemoryEventStore) QueryDetections(_ context.Context, filter DetectionFilter) ([]DetectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bands := make(map[string]struct{}, len(filter.RiskBands))
	for _, b := range filter.RiskBands {
		bands[string(b)] = struct{}{}
	}

	var out []DetectionRecord
	for _, rec := range s.detections {
		if !filter.Start.IsZero() && rec.OccurredAt.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && rec.OccurredAt.After(filter.End) {
			continue
		}
		if len(bands) > 0 {
			if _, ok := bands[string(rec.Evidence.RiskBand)]; !ok {
				continue
			}
		}
		if filter.IsBot != nil {
			isBot := rec.Evidence.BotProbability >= 0.7
			if isBot != *filter.IsBot {
				continue
			}
		}
		if filter.PathSubstring != "" && !strings.Contains(rec.Path, filter.PathSubstring) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// TimeSeries implements EventStore.
func (s *MemoryEventStore) TimeSeries(_ context.Context, start, end time.Time, bucket time.Duration) ([]TimeBucket, error) {
	if bucket <= 0 {
		bucket = time.Hour
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byStart := make(map[time.Time]*TimeBucket)
	for _, rec := range s.detections {
		if rec.OccurredAt.Before(start) || rec.OccurredAt.After(end) {
			continue
		}
		bucketStart := rec.OccurredAt.Truncate(bucket)
		tb, ok := byStart[bucketStart]
		if !ok {
			tb = &TimeBucket{Start: bucketStart}
			byStart[bucketStart] = tb
		}
		tb.TotalCount++
		if rec.Evidence.BotProbability >= 0.7 {
			tb.BotCount++
		}
	}

	out := make([]TimeBucket, 0, len(byStart))
	for _, tb := range byStart {
		out = append(out, *tb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Summary implements EventStore.
func (s *MemoryEventStore) Summary(_ context.Context) (Summary24h, error) {
	cutoff := time.Now().Add(-24 * time.Hour)
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary24h
	for _, rec := range s.detections {
		if rec.OccurredAt.Before(cutoff) {
			continue
		}
		sum.TotalRequests++
		if rec.Evidence.BotProbability >= 0.7 {
			sum.BotRequests++
		}
		if rec.Evidence.PolicyAction != nil && string(*rec.Evidence.PolicyAction) == "block" {
			sum.BlockedCount++
		}
	}
	return sum, nil
}

// MemoryWeightStore is an in-process WeightStore.
type MemoryWeightStore struct {
	mu      sync.Mutex
	records map[string]*WeightRecord // key: sigType + "\x00" + sigValue
}

// NewMemoryWeightStore builds an empty MemoryWeightStore.
func NewMemoryWeightStore() *MemoryWeightStore {
	return &MemoryWeightStore{records: make(map[string]*WeightRecord)}
}

func weightKey(sigType, sigValue string) string {
	return sigType + "\x00" + sigValue
}

// GetWeight implements WeightStore.
func (s *MemoryWeightStore) GetWeight(_ context.Context, sigType, sigValue string) (WeightRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[weightKey(sigType, sigValue)]
	if !ok {
		return WeightRecord{}, false, nil
	}
	return *rec, true, nil
}

// GetWeights implements WeightStore.
func (s *MemoryWeightStore) GetWeights(_ context.Context, sigType string, sigValues []string) (map[string]WeightRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]WeightRecord, len(sigValues))
	for _, v := range sigValues {
		if rec, ok := s.records[weightKey(sigType, v)]; ok {
			out[v] = *rec
		}
	}
	return out, nil
}

// UpdateWeight implements WeightStore.
func (s *MemoryWeightStore) UpdateWeight(_ context.Context, rec WeightRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.records[weightKey(rec.SignatureType, rec.SignatureValue)] = &cp
	return nil
}

// RecordObservation implements WeightStore.
func (s *MemoryWeightStore) RecordObservation(_ context.Context, sigType, sigValue string, wasBot bool, detectionConfidence float64) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := weightKey(sigType, sigValue)
	rec, ok := s.records[key]
	if !ok {
		rec = &WeightRecord{SignatureType: sigType, SignatureValue: sigValue, FirstSeen: now}
		s.records[key] = rec
	}
	rec.ObservationCount++
	if wasBot {
		rec.BotCount++
	} else {
		rec.HumanCount++
	}
	rec.LastSeen = now
	return nil
}

// GetAll implements WeightStore.
func (s *MemoryWeightStore) GetAll(_ context.Context, sigType string) ([]WeightRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WeightRecord
	for _, rec := range s.records {
		if rec.SignatureType == sigType {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignatureValue < out[j].SignatureValue })
	return out, nil
}

// DecayOld implements WeightStore: records older than maxAge have their
// counts multiplied by factor, so stale evidence fades rather than
// vanishing.
func (s *MemoryWeightStore) DecayOld(_ context.Context, maxAge time.Duration, factor float64) error {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.LastSeen.After(cutoff) {
			continue
		}
		rec.BotCount = int64(float64(rec.BotCount) * factor)
		rec.HumanCount = int64(float64(rec.HumanCount) * factor)
		rec.ObservationCount = rec.BotCount + rec.HumanCount
	}
	return nil
}

// MemoryLearnedPatternStore is an in-process LearnedPatternStore.
type MemoryLearnedPatternStore struct {
	mu       sync.Mutex
	patterns map[string]*LearnedPattern
}

// NewMemoryLearnedPatternStore builds an empty MemoryLearnedPatternStore.
func NewMemoryLearnedPatternStore() *MemoryLearnedPatternStore {
	return &MemoryLearnedPatternStore{patterns: make(map[string]*LearnedPattern)}
}

// Upsert implements LearnedPatternStore.
func (s *MemoryLearnedPatternStore) Upsert(_ context.Context, p LearnedPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.patterns[p.ID]
	if ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	cp := p
	s.patterns[p.ID] = &cp
	return nil
}

// GetByType implements LearnedPatternStore.
func (s *MemoryLearnedPatternStore) GetByType(_ context.Context, patternType string) ([]LearnedPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LearnedPattern
	for _, p := range s.patterns {
		if p.PatternType == patternType {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetByConfidence implements LearnedPatternStore.
func (s *MemoryLearnedPatternStore) GetByConfidence(_ context.Context, minConfidence float64) ([]LearnedPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LearnedPattern
	for _, p := range s.patterns {
		if p.Confidence >= minConfidence {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get implements LearnedPatternStore.
func (s *MemoryLearnedPatternStore) Get(_ context.Context, id string) (LearnedPattern, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return LearnedPattern{}, false, nil
	}
	return *p, true, nil
}

// Delete implements LearnedPatternStore.
func (s *MemoryLearnedPatternStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patterns, id)
	return nil
}

// MarkFedBack implements LearnedPatternStore.
func (s *MemoryLearnedPatternStore) MarkFedBack(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.patterns[id]; ok {
		p.FedBack = true
	}
	return nil
}

// CleanupOlderThan implements LearnedPatternStore.
func (s *MemoryLearnedPatternStore) CleanupOlderThan(_ context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age)
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, p := range s.patterns {
		if p.UpdatedAt.Before(cutoff) {
			delete(s.patterns, id)
			removed++
		}
	}
	return removed, nil
}

// Stats implements LearnedPatternStore.
func (s *MemoryLearnedPatternStore) Stats(_ context.Context) (LearnedPatternStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats LearnedPatternStats
	for _, p := range s.patterns {
		stats.TotalPatterns++
		if p.Confidence > 0 {
			stats.ActivePatterns++
		}
		if p.FedBack {
			stats.FedBackCount++
		}
	}
	return stats, nil
}
