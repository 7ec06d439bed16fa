package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/subculture-collective/botengine/pkg/metrics"
)

// PrometheusSink records aggregated evidence into the process-wide
// Prometheus registry. It holds no state of its own; pkg/metrics owns the
// collectors and their registration.
type PrometheusSink struct {
	botThreshold float64
}

// NewPrometheusSink builds a PrometheusSink using botThreshold to derive
// the is_bot label.
func NewPrometheusSink(botThreshold float64) *PrometheusSink {
	if botThreshold <= 0 {
		botThreshold = 0.7
	}
	return &PrometheusSink{botThreshold: botThreshold}
}

// EmitDetection implements Sink.
func (s *PrometheusSink) EmitDetection(_ context.Context, evt Event) {
	isBot := strconv.FormatBool(evt.Evidence.BotProbability >= s.botThreshold)
	earlyExit := strconv.FormatBool(evt.Evidence.EarlyExit)

	metrics.DetectionRequestsTotal.WithLabelValues(string(evt.Evidence.RiskBand), isBot, earlyExit).Inc()
	metrics.DetectionDuration.WithLabelValues(earlyExit).Observe(float64(evt.Evidence.TotalProcessingTimeMS) / float64(time.Second.Milliseconds()))

	for _, name := range evt.Evidence.ContributingDetectors {
		metrics.DetectorContributionsTotal.WithLabelValues(name).Inc()
	}
	for _, name := range evt.Evidence.FailedDetectors {
		metrics.DetectorFailuresTotal.WithLabelValues(name).Inc()
	}
	if evt.Evidence.PolicyAction != nil {
		metrics.PolicyActionsTotal.WithLabelValues(string(*evt.Evidence.PolicyAction)).Inc()
	}
}

var _ Sink = (*PrometheusSink)(nil)
