package policy

import (
	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/domain"
)

// maxTransitionChain bounds policy-to-policy chaining per request: a misconfigured transition cycle must not hang the
// request.
const maxTransitionChain = 4

// WeightStore is the optional learned-weight collaborator consulted by
// EffectiveWeight when a policy has no explicit override for a detector.
type WeightStore interface {
	LearnedWeight(detectorName string) (float64, bool)
}

// Decision is the result of evaluating a policy against the current
// blackboard state.
type Decision struct {
	ShouldContinue bool
	NextPolicy     string
	Action         *domain.Action
	Reason         string
}

// ReputationStateFunc resolves the precomputed reputation-state enum used
// by when_reputation_state predicates; it is supplied by the orchestrator,
// which has access to the country/signature trackers.
type ReputationStateFunc func(state *blackboard.Blackboard) string

// Evaluate applies policy.evaluate semantics against one blackboard.
func Evaluate(p *Policy, state *blackboard.Blackboard, reputationState ReputationStateFunc) Decision {
	risk := state.RiskScore()

	if risk >= p.ImmediateBlockThreshold {
		action := domain.ActionBlock
		return Decision{Action: &action, Reason: "immediate block"}
	}

	repState := ""
	if reputationState != nil {
		repState = reputationState(state)
	}
	signalTruthy := func(key string) bool {
		v, ok := state.Signal(key)
		return ok && truthy(v)
	}

	for _, t := range p.Transitions {
		if !t.matches(risk, signalTruthy, repState) {
			continue
		}
		if t.Action != nil {
			return Decision{Action: t.Action, Reason: t.Description}
		}
		if t.GoToPolicy != "" {
			return Decision{ShouldContinue: true, NextPolicy: t.GoToPolicy, Reason: t.Description}
		}
	}

	return Decision{ShouldContinue: true}
}

// EvaluateChain repeatedly resolves next-policy transitions up to
// maxTransitionChain times, returning the final decision and the policy
// name that decision was reached under. A chain that still wants to
// transition after the bound is hit degrades to ShouldContinue with no
// action, preserving whatever running evidence exists.
func EvaluateChain(reg *Registry, startPolicy *Policy, state *blackboard.Blackboard, reputationState ReputationStateFunc) (Decision, *Policy) {
	current := startPolicy
	for i := 0; i < maxTransitionChain; i++ {
		d := Evaluate(current, state, reputationState)
		if d.NextPolicy == "" {
			return d, current
		}
		next, ok := reg.GetPolicy(d.NextPolicy)
		if !ok {
			return Decision{ShouldContinue: true}, current
		}
		current = next
	}
	return Decision{ShouldContinue: true}, current
}

// truthy reports whether a blackboard signal value satisfies a
// when_signal predicate: a true bool, a non-zero number, or a non-empty
// string. Any other present value counts as truthy, since a detector
// writing a structured value is still asserting the signal.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return v != nil
	}
}

// EffectiveWeight resolves policy.weight_overrides[name] if present, else
// the learned weight from store (optional), else the detector's own
// default weight.
func EffectiveWeight(p *Policy, detectorName string, defaultWeight float64, store WeightStore) float64 {
	if p != nil {
		if w, ok := p.WeightOverrides[detectorName]; ok {
			return w
		}
	}
	if store != nil {
		if w, ok := store.LearnedWeight(detectorName); ok {
			return w
		}
	}
	return defaultWeight
}
