// Package store defines the abstract persistence collaborators: event
// store, learned-pattern store, weight store, and historical reputation
// provider. The core engine only ever depends on these interfaces;
// Postgres, Redis-cached, and in-memory implementations live alongside
// them in this package.
package store

//go:generate mockgen -destination mocks/store_mocks.go -package mocks github.com/subculture-collective/botengine/internal/store WeightStore,LearnedPatternStore

import (
	"context"
	"time"

	"github.com/subculture-collective/botengine/internal/domain"
)

// DetectionFilter narrows a QueryDetections call.
type DetectionFilter struct {
	Start, End    time.Time
	RiskBands     []domain.RiskBand
	IsBot         *bool
	PathSubstring string
	Limit         int
}

// DetectionRecord is one persisted detection event plus request metadata.
type DetectionRecord struct {
	RequestID  string
	Evidence   domain.AggregatedEvidence
	Path       string
	Method     string
	OccurredAt time.Time
}

// TimeBucket is one bucket of a time_series summary.
type TimeBucket struct {
	Start      time.Time
	TotalCount int64
	BotCount   int64
}

// Summary24h is the summary() 24h counts operation.
type Summary24h struct {
	TotalRequests int64
	BotRequests   int64
	BlockedCount  int64
}

// EventStore persists detection events and signature hit counts
// best-effort.
type EventStore interface {
	AddDetection(ctx context.Context, rec DetectionRecord) error
	UpsertSignature(ctx context.Context, signature string, occurredAt time.Time) (hitCount int64, err error)
	QueryDetections(ctx context.Context, filter DetectionFilter) ([]DetectionRecord, error)
	TimeSeries(ctx context.Context, start, end time.Time, bucket time.Duration) ([]TimeBucket, error)
	Summary(ctx context.Context) (Summary24h, error)
}

// LearnedPattern is one durable learned-pattern-store row.
type LearnedPattern struct {
	ID          string
	PatternType string
	Signature   string
	Confidence  float64
	FedBack     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LearnedPatternStats summarizes the pattern store's contents.
type LearnedPatternStats struct {
	TotalPatterns  int64
	ActivePatterns int64
	FedBackCount   int64
}

// LearnedPatternStore is the abstract learned-pattern collaborator.
type LearnedPatternStore interface {
	Upsert(ctx context.Context, p LearnedPattern) error
	GetByType(ctx context.Context, patternType string) ([]LearnedPattern, error)
	GetByConfidence(ctx context.Context, minConfidence float64) ([]LearnedPattern, error)
	Get(ctx context.Context, id string) (LearnedPattern, bool, error)
	Delete(ctx context.Context, id string) error
	MarkFedBack(ctx context.Context, id string) error
	CleanupOlderThan(ctx context.Context, age time.Duration) (removed int64, err error)
	Stats(ctx context.Context) (LearnedPatternStats, error)
}

// WeightRecord is one durable learned-weight row.
type WeightRecord struct {
	SignatureType    string
	SignatureValue   string
	Weight           float64
	Confidence       float64
	ObservationCount int64
	BotCount         int64
	HumanCount       int64
	FirstSeen        time.Time
	LastSeen         time.Time
}

// WeightStore is the abstract detector-weight collaborator. Reads
// should be cached by the caller; writes may be write-behind.
type WeightStore interface {
	GetWeight(ctx context.Context, sigType, sigValue string) (WeightRecord, bool, error)
	GetWeights(ctx context.Context, sigType string, sigValues []string) (map[string]WeightRecord, error)
	UpdateWeight(ctx context.Context, rec WeightRecord) error
	RecordObservation(ctx context.Context, sigType, sigValue string, wasBot bool, detectionConfidence float64) error
	GetAll(ctx context.Context, sigType string) ([]WeightRecord, error)
	DecayOld(ctx context.Context, maxAge time.Duration, factor float64) error
}

// HistoricalReputation is the cached view a Historical Reputation Provider
// returns for one signature.
type HistoricalReputation struct {
	BotRatio           float64
	TotalHitCount      int64
	DaysActive         int
	RecentHourHitCount int64
	AvgBotProbability  float64
	FirstSeen          time.Time
	LastSeen           time.Time
}

// HistoricalReputationProvider is the abstract, optional historical
// lookup collaborator. Results are cached for 5 minutes per
// signature by the caller (see store.CachedHistoricalReputationProvider).
type HistoricalReputationProvider interface {
	Get(ctx context.Context, signature string) (HistoricalReputation, bool, error)
}
