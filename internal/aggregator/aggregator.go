// Package aggregator turns a blackboard's accumulated contributions into
// an immutable domain.AggregatedEvidence: weighted rule contributions
// combined into a single calibrated score with confidence and risk band.
package aggregator

import (
	"sort"

	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/domain"
)

// scale is the step size applied to each effective delta when advancing
// the running bot probability.
const scale = 0.25

// confidenceK is the default saturation constant for confidence: two unit-weight strong contributions saturate confidence.
const confidenceK = 2.0

// WeightResolver resolves the effective weight for one detector's
// contribution, folding in policy overrides and learned weights. Kept as
// a function type so aggregator has no import-cycle dependency on policy.
type WeightResolver func(detectorName string, defaultWeight float64) float64

// Aggregate combines contributions in completion order. Aggregation is
// commutative under contribution reordering: every effective delta is
// summed once and clamped exactly once, rather than clamping after each
// individual contribution. Clamping per-step would make the final
// probability depend on arrival order whenever partial sums cross the
// [0,1] boundary differently depending on order.
func Aggregate(requestID string, contributions []domain.Contribution, resolveWeight WeightResolver, processingTimeMS int64, earlyExit bool, signals map[string]any) domain.AggregatedEvidence {
	if len(contributions) == 0 {
		// No contributions: neutral, not bot.
		return domain.AggregatedEvidence{
			BotProbability:        0,
			Confidence:            0,
			RiskBand:              domain.RiskVeryLow,
			PrimaryBotType:        domain.BotTypeUnknown,
			CategoryBreakdown:     map[domain.Category]domain.CategoryScore{},
			Signals:               signals,
			TotalProcessingTimeMS: processingTimeMS,
			EarlyExit:             earlyExit,
			RequestID:             requestID,
		}
	}

	var (
		totalEffectiveDelta float64
		sumAbsEffective     float64
		category            = make(map[domain.Category]domain.CategoryScore)
		contributingNames   = make([]string, 0, len(contributions))
	)

	bestIdx := -1
	bestDelta := 0.0

	for i, c := range contributions {
		weight := resolveWeight(c.DetectorName, c.Weight)
		effective := c.EffectiveDelta(weight)

		totalEffectiveDelta += effective * scale
		sumAbsEffective += absFloat(effective)

		cs := category[c.Category]
		cs.Sum += effective
		cs.Count++
		category[c.Category] = cs

		contributingNames = append(contributingNames, c.DetectorName)

		// Largest positive effective delta wins primary bot type/name;
		// ties broken by earlier completion order. Contributions are
		// walked in completion order, so only a strictly larger delta
		// replaces the current best.
		if effective > 0 && (bestIdx == -1 || effective > bestDelta) {
			bestDelta = effective
			bestIdx = i
		}
	}

	probability := clamp(0.5+totalEffectiveDelta, 0, 1)
	confidence := clampMax(sumAbsEffective/confidenceK, 1)

	primaryType := domain.BotTypeUnknown
	primaryName := ""
	if bestIdx >= 0 {
		primaryType = contributions[bestIdx].BotType
		primaryName = contributions[bestIdx].BotName
	}

	sort.Strings(contributingNames)
	contributingNames = dedupeSorted(contributingNames)

	return domain.AggregatedEvidence{
		BotProbability:        probability,
		Confidence:            confidence,
		RiskBand:              domain.RiskBandFor(probability),
		PrimaryBotType:        primaryType,
		PrimaryBotName:        primaryName,
		ContributingDetectors: contributingNames,
		CategoryBreakdown:     category,
		Signals:               signals,
		TotalProcessingTimeMS: processingTimeMS,
		EarlyExit:             earlyExit,
		RequestID:             requestID,
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampMax(v, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < 0 {
		return 0
	}
	return v
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := in[:1]
	for _, v := range in[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// FailedDetectorsFrom returns the blackboard's failed detectors, sorted by
// name. It is a thin adapter kept here so callers building an
// AggregatedEvidence from a live blackboard don't need a second import in
// the common case.
func FailedDetectorsFrom(bb *blackboard.Blackboard) []string {
	f := bb.FailedDetectors()
	sort.Strings(f)
	return f
}
