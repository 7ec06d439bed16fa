// Package telemetry implements the telemetry sink collaborator: a
// best-effort fan-out of aggregated evidence events to whatever durable or
// observable backend is wired in (Prometheus counters, an OpenSearch
// index), plus the historical-reputation pull-side of the same interface.
package telemetry

import (
	"context"
	"time"

	"github.com/subculture-collective/botengine/internal/domain"
)

// Event is what Detect() hands to every registered sink after finalizing
// one request's evidence.
type Event struct {
	Evidence   domain.AggregatedEvidence
	Method     string
	Path       string
	Signature  string
	OccurredAt time.Time
}

// Sink is the abstract Telemetry Sink: it must never let an internal
// failure escape to the caller.
type Sink interface {
	EmitDetection(ctx context.Context, evt Event)
}

// HistoricalReputation mirrors store.HistoricalReputation without importing
// the store package, so telemetry sinks that also serve cached historical
// lookups don't need it either.
type HistoricalReputation struct {
	BotRatio           float64
	TotalHitCount      int64
	DaysActive         int
	RecentHourHitCount int64
	AvgBotProbability  float64
	FirstSeen          time.Time
	LastSeen           time.Time
}

// HistoricalReputationProvider is the optional pull-side of a sink:
// results are cached for 5 minutes per signature by the caller.
type HistoricalReputationProvider interface {
	GetHistoricalReputation(ctx context.Context, signature string) (HistoricalReputation, bool)
}

// MultiSink fans an event out to every registered sink, best-effort: one
// sink's panic is recovered and does not stop the others. Sinks are called
// sequentially in registration order, so a slow sink delays the ones after
// it.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a MultiSink fanning out to the given sinks in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// EmitDetection calls every registered sink, recovering from and
// swallowing any panic so one bad sink never affects its siblings or the
// caller.
func (m *MultiSink) EmitDetection(ctx context.Context, evt Event) {
	for _, s := range m.sinks {
		emitSafely(ctx, s, evt)
	}
}

func emitSafely(ctx context.Context, s Sink, evt Event) {
	defer func() { _ = recover() }()
	s.EmitDetection(ctx, evt)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) EmitDetection(context.Context, Event) {}
