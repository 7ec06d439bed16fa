// Package policy implements the Policy Registry and Policy Evaluator: named detection policies selected by path glob, their weight
// overrides and thresholds, and the transition-scanning evaluator that
// turns a blackboard's running state into a continue/block/re-route
// decision.
package policy

import (
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/subculture-collective/botengine/internal/domain"
)

// builtinPolicyNames refuse removal from the registry.
var builtinPolicyNames = map[string]struct{}{
	"default":           {},
	"strict":            {},
	"relaxed":           {},
	"allowVerifiedBots": {},
}

// Transition is one entry of a policy's ordered transition table.
// Predicates are conjunctive over the fields that are non-nil/non-empty;
// the first transition whose predicate is satisfied fires.
type Transition struct {
	WhenRiskExceeds     *float64
	WhenRiskBelow       *float64
	WhenSignal          string
	WhenReputationState string

	GoToPolicy  string
	Action      *domain.Action
	Description string
}

// matches reports whether every predicate field set on t is satisfied by
// the given evaluation inputs.
func (t Transition) matches(risk float64, signalTruthy func(string) bool, reputationState string) bool {
	if t.WhenRiskExceeds != nil && !(risk > *t.WhenRiskExceeds) {
		return false
	}
	if t.WhenRiskBelow != nil && !(risk < *t.WhenRiskBelow) {
		return false
	}
	if t.WhenSignal != "" && !signalTruthy(t.WhenSignal) {
		return false
	}
	if t.WhenReputationState != "" && t.WhenReputationState != reputationState {
		return false
	}
	return true
}

// Policy is a named detection policy.
type Policy struct {
	Name string

	FastPathDetectors []string
	SlowPathDetectors []string
	AIPathDetectors   []string

	UseFastPath   bool
	ForceSlowPath bool
	EscalateToAI  bool

	EarlyExitThreshold      float64
	ImmediateBlockThreshold float64
	AIEscalationThreshold   float64

	WeightOverrides map[string]float64
	Transitions     []Transition

	Timeout   time.Duration
	Enabled   bool
	PathGlobs []string
}

// clone returns a deep-enough copy so registry mutation never races a
// caller holding a previously returned *Policy.
func (p Policy) clone() *Policy {
	cp := p
	cp.FastPathDetectors = append([]string(nil), p.FastPathDetectors...)
	cp.SlowPathDetectors = append([]string(nil), p.SlowPathDetectors...)
	cp.AIPathDetectors = append([]string(nil), p.AIPathDetectors...)
	cp.PathGlobs = append([]string(nil), p.PathGlobs...)
	cp.Transitions = append([]Transition(nil), p.Transitions...)
	cp.WeightOverrides = make(map[string]float64, len(p.WeightOverrides))
	for k, v := range p.WeightOverrides {
		cp.WeightOverrides[k] = v
	}
	return &cp
}

// Default returns the baked-in "default" policy: fast path only, moderate
// thresholds, no forced escalation.
func Default() Policy {
	return Policy{
		Name:                    "default",
		FastPathDetectors:       []string{"Heuristic", "Ip", "SecurityTool", "ProjectHoneypot"},
		UseFastPath:             true,
		EarlyExitThreshold:      0.3,
		ImmediateBlockThreshold: 0.95,
		AIEscalationThreshold:   0.7,
		WeightOverrides:         map[string]float64{},
		Timeout:                 2 * time.Second,
		Enabled:                 true,
		PathGlobs:               []string{"*"},
	}
}

// Strict returns the baked-in "strict" policy: always runs the slow path
// and escalates to AI more eagerly.
func Strict() Policy {
	p := Default()
	p.Name = "strict"
	p.PathGlobs = nil
	p.ForceSlowPath = true
	p.EscalateToAI = true
	p.SlowPathDetectors = []string{"Behavioral"}
	p.AIPathDetectors = []string{"AIContent"}
	p.EarlyExitThreshold = 0.15
	p.ImmediateBlockThreshold = 0.9
	p.AIEscalationThreshold = 0.55
	return p
}

// Relaxed returns the baked-in "relaxed" policy: fast path only, higher
// tolerance before blocking.
func Relaxed() Policy {
	p := Default()
	p.Name = "relaxed"
	p.PathGlobs = nil
	p.EarlyExitThreshold = 0.5
	p.ImmediateBlockThreshold = 0.98
	p.AIEscalationThreshold = 0.9
	return p
}

// AllowVerifiedBots returns the baked-in policy used on routes that accept
// known-good crawlers (search engines, monitoring) without penalty.
func AllowVerifiedBots() Policy {
	p := Default()
	p.Name = "allowVerifiedBots"
	p.PathGlobs = nil
	p.WeightOverrides = map[string]float64{"Heuristic": 0.1, "Ip": 0.0}
	p.ImmediateBlockThreshold = 0.99
	return p
}

// Registry holds the default policy, named policies, and the path-glob
// resolution table.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	order    []string // registration order, for deterministic glob scanning
}

// NewRegistry builds a Registry seeded with the four built-in policies.
func NewRegistry() *Registry {
	r := &Registry{policies: make(map[string]*Policy)}
	for _, p := range []Policy{Default(), Strict(), Relaxed(), AllowVerifiedBots()} {
		r.policies[p.Name] = p.clone()
		r.order = append(r.order, p.Name)
	}
	return r
}

// GetPolicy returns a clone of the named policy, or false if absent.
func (r *Registry) GetPolicy(name string) (*Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[name]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// GetPolicyForPath resolves a policy by scanning path_globs in
// registration order; the first match wins. The "default" policy is the
// fallback, never scanned, so its catch-all glob can't shadow a later
// registration. Disabled policies are skipped.
func (r *Registry) GetPolicyForPath(reqPath string) *Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if name == "default" {
			continue
		}
		p := r.policies[name]
		if !p.Enabled {
			continue
		}
		for _, glob := range p.PathGlobs {
			if glob == "*" || globMatch(glob, reqPath) {
				return p.clone()
			}
		}
	}
	def := r.policies["default"]
	return def.clone()
}

// RegisterPolicy adds or replaces a named policy. Built-in names may be
// replaced (to tune thresholds) but never removed via RemovePolicy.
func (r *Registry) RegisterPolicy(p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.policies[p.Name]; !exists {
		r.order = append(r.order, p.Name)
	}
	r.policies[p.Name] = p.clone()
}

// RemovePolicy deletes a named policy, refusing built-ins.
func (r *Registry) RemovePolicy(name string) error {
	if _, builtin := builtinPolicyNames[name]; builtin {
		return fmt.Errorf("policy: %q is a built-in policy and cannot be removed", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policies[name]; !ok {
		return fmt.Errorf("policy: %q not found", name)
	}
	delete(r.policies, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// globMatch reports whether name matches the shell-style glob, delegating
// to path.Match and treating malformed globs as non-matching.
func globMatch(glob, name string) bool {
	ok, err := path.Match(glob, name)
	return err == nil && ok
}
