package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/subculture-collective/botengine/internal/domain"
)

type countingSink struct {
	events int
}

func (s *countingSink) EmitDetection(context.Context, Event) {
	s.events++
}

type panickySink struct{}

func (panickySink) EmitDetection(context.Context, Event) {
	panic("sink exploded")
}

func testEvent(prob float64) Event {
	return Event{
		Evidence: domain.AggregatedEvidence{
			RequestID:      "req",
			BotProbability: prob,
			RiskBand:       domain.RiskBandFor(prob),
		},
		Method:     "GET",
		Path:       "/",
		OccurredAt: time.Now(),
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	m := NewMultiSink(a, b)

	m.EmitDetection(context.Background(), testEvent(0.5))
	m.EmitDetection(context.Background(), testEvent(0.9))

	assert.Equal(t, 2, a.events)
	assert.Equal(t, 2, b.events)
}

func TestMultiSinkIsolatesPanickingSink(t *testing.T) {
	healthy := &countingSink{}
	m := NewMultiSink(panickySink{}, healthy)

	assert.NotPanics(t, func() {
		m.EmitDetection(context.Background(), testEvent(0.8))
	})
	assert.Equal(t, 1, healthy.events)
}

func TestNopSink(t *testing.T) {
	assert.NotPanics(t, func() {
		NopSink{}.EmitDetection(context.Background(), testEvent(0.2))
	})
}

func TestPrometheusSinkRecords(t *testing.T) {
	sink := NewPrometheusSink(0.7)

	evt := testEvent(0.95)
	evt.Evidence.ContributingDetectors = []string{"Heuristic", "SecurityTool"}
	evt.Evidence.FailedDetectors = []string{"AIContent"}
	block := domain.ActionBlock
	evt.Evidence.PolicyAction = &block
	evt.Evidence.TotalProcessingTimeMS = 12

	assert.NotPanics(t, func() {
		sink.EmitDetection(context.Background(), evt)
	})
}
