package detector

import (
	"context"
	"fmt"

	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/domain"
	"github.com/subculture-collective/botengine/internal/signature"
)

// BehaviorLookup is the slice of the signature coordinator the behavioral
// detector consults: cross-request history for the visitor behind the
// current request.
type BehaviorLookup interface {
	GetBehavior(sig string) (signature.Behavior, bool)
}

// BehavioralDetector scores a request against its signature's accumulated
// behavior history: machine-regular timing, narrow path focus, and high
// sustained rate are bot evidence, while human-irregular browsing is
// (weak) human evidence. Runs in the slow lane since it takes a lock per
// signature.
type BehavioralDetector struct {
	weight    float64
	secret    *signature.Secret
	behaviors BehaviorLookup

	minHistory int
}

// NewBehavioralDetector builds a BehavioralDetector over the given secret
// and behavior source. minHistory gates scoring until a signature has
// enough requests to say anything (default 5).
func NewBehavioralDetector(weight float64, secret *signature.Secret, behaviors BehaviorLookup, minHistory int) *BehavioralDetector {
	if minHistory <= 0 {
		minHistory = 5
	}
	return &BehavioralDetector{weight: weight, secret: secret, behaviors: behaviors, minHistory: minHistory}
}

func (d *BehavioralDetector) Name() string              { return "Behavioral" }
func (d *BehavioralDetector) Category() domain.Category { return domain.CategoryBehavioral }
func (d *BehavioralDetector) LaneHint() domain.Lane     { return domain.LaneSlow }
func (d *BehavioralDetector) DefaultWeight() float64    { return d.weight }

func (d *BehavioralDetector) Contribute(_ context.Context, state *blackboard.Blackboard) []domain.Contribution {
	if d.secret == nil || d.behaviors == nil {
		return nil
	}

	sig := signature.Compute(d.secret, state.ClientIPRaw, state.UserAgentRaw, "")
	state.SetSignal("signature.primary", sig.Primary)

	b, ok := d.behaviors.GetBehavior(sig.Primary)
	if !ok || b.RequestCount < d.minHistory {
		return nil
	}

	state.SetSignal("behavior.request_count", b.RequestCount)
	state.SetSignal("behavior.path_entropy", b.PathEntropy)
	state.SetSignal("behavior.timing_coefficient", b.TimingCoefficient)
	if b.IsAberrant {
		state.SetSignal("behavior.is_aberrant", true)
	}

	var out []domain.Contribution

	// Machine-regular request timing: coefficient of variation near zero
	// over a real sample means a scheduler, not a person.
	if b.AverageIntervalSec > 0 && b.TimingCoefficient < 0.1 {
		out = append(out, domain.Contribution{
			DetectorName:    d.Name(),
			Category:        d.Category(),
			ConfidenceDelta: 0.6,
			Weight:          d.weight,
			Reason:          fmt.Sprintf("request intervals are machine-regular (cv=%.3f over %d requests)", b.TimingCoefficient, b.RequestCount),
			BotType:         domain.BotTypeScraper,
		})
	}

	// Sustained sub-second cadence.
	if b.AverageIntervalSec > 0 && b.AverageIntervalSec < 1.0 {
		out = append(out, domain.Contribution{
			DetectorName:    d.Name(),
			Category:        d.Category(),
			ConfidenceDelta: 0.5,
			Weight:          d.weight,
			Reason:          fmt.Sprintf("sustained sub-second request cadence (avg interval %.2fs)", b.AverageIntervalSec),
			BotType:         domain.BotTypeScraper,
		})
	}

	// A visitor hammering one generalized path is scanning or scraping a
	// single endpoint; a human clicking around produces entropy.
	if b.PathEntropy < 0.5 && b.RequestCount >= 10 {
		out = append(out, domain.Contribution{
			DetectorName:    d.Name(),
			Category:        d.Category(),
			ConfidenceDelta: 0.4,
			Weight:          d.weight,
			Reason:          fmt.Sprintf("repeated requests concentrated on one path (entropy %.2f over %d requests)", b.PathEntropy, b.RequestCount),
			BotType:         domain.BotTypeUnknown,
		})
	}

	if b.IsAberrant {
		out = append(out, domain.Contribution{
			DetectorName:    d.Name(),
			Category:        d.Category(),
			ConfidenceDelta: 0.45,
			Weight:          d.weight,
			Reason:          fmt.Sprintf("behavior history is aberrant (score %.2f)", b.AberrationScore),
			BotType:         domain.BotTypeUnknown,
		})
	}

	// Irregular, human-paced browsing across varied paths is mild human
	// evidence, but only when nothing above fired.
	if len(out) == 0 && b.TimingCoefficient > 0.5 && b.PathEntropy > 1.5 {
		out = append(out, domain.Contribution{
			DetectorName:    d.Name(),
			Category:        d.Category(),
			ConfidenceDelta: -0.25,
			Weight:          d.weight,
			Reason:          "irregular human-paced browsing across varied paths",
			BotType:         domain.BotTypeUnknown,
		})
	}

	return out
}
