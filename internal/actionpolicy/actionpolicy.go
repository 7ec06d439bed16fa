// Package actionpolicy implements named runtime response behaviors
// selected from aggregated evidence, plus the PII-masking auto-apply
// guardrail. It sits one level up the pipeline from internal/policy:
// detection policies pick detectors, action policies pick what the
// caller does with the verdict.
package actionpolicy

import (
	"context"
	"fmt"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/subculture-collective/botengine/internal/domain"
)

// Request is the minimal per-request context an action policy needs to
// decide and, for response-wrapping policies, to rewrite an outbound body.
type Request struct {
	Method string
	Path   string
	Route  string // explicit per-route binding name, if the caller supplied one
}

// Result is what executing an action policy hands back to the outer
// request pipeline.
type Result struct {
	Continue      bool
	StatusCode    int
	ThrottleDelay float64 // seconds; only meaningful for the throttle policy
	ChallengeKind string  // only meaningful for the challenge policy
	MaskedBody    string  // only meaningful for mask-pii-response
}

// Action is one named, executable action policy.
type Action interface {
	Name() string
	Execute(ctx context.Context, req Request, evidence domain.AggregatedEvidence) Result
}

// ThrottleDelayer resolves the delay (seconds) to apply for one
// signature. A Redis-backed sliding-window implementation and a
// process-local fallback both live in this package.
type ThrottleDelayer interface {
	ThrottleDelaySeconds(ctx context.Context, signature string) float64
}

// Config holds the ResponsePiiMasking.* tunables plus per-route and
// per-bot-type action bindings.
type Config struct {
	DefaultActionPolicyName      string
	BotTypeActionPolicies        map[domain.BotType]string
	BlockStatusCode              int
	ThrottleDelaySeconds         float64
	PIIMaskingEnabled            bool
	AutoApplyBotThreshold        float64
	AutoApplyConfidenceThreshold float64
	RedactionToken               string
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultActionPolicyName:      "allow",
		BotTypeActionPolicies:        map[domain.BotType]string{},
		BlockStatusCode:              403,
		ThrottleDelaySeconds:         1.5,
		PIIMaskingEnabled:            true,
		AutoApplyBotThreshold:        0.9,
		AutoApplyConfidenceThreshold: 0.75,
		RedactionToken:               "[REDACTED]",
	}
}

// Registry holds named action policies and resolves which one applies to
// a request.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	policies map[string]Action
}

// NewRegistry builds a Registry seeded with the built-in policies: allow,
// block, throttle, challenge, mask-pii-response, log-only.
func NewRegistry(cfg Config, delayer ThrottleDelayer, logSink func(format string, args ...any)) *Registry {
	r := &Registry{cfg: cfg, policies: make(map[string]Action)}
	r.Register(allowAction{})
	r.Register(blockAction{statusCode: cfg.BlockStatusCode})
	r.Register(throttleAction{defaultDelay: cfg.ThrottleDelaySeconds, delayer: delayer})
	r.Register(challengeAction{})
	r.Register(newMaskPIIAction(cfg.RedactionToken))
	r.Register(logOnlyAction{log: logSink})
	return r
}

// Register adds or replaces a named action policy.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[a.Name()] = a
}

// Get returns a named action policy.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.policies[name]
	return a, ok
}

// Resolve implements the selection precedence: explicit per-route
// binding, then evidence.primary_bot_type mapping, then the configured
// default, then "allow" as the final fallback.
func (r *Registry) Resolve(req Request, evidence domain.AggregatedEvidence) Action {
	if req.Route != "" {
		if a, ok := r.Get(req.Route); ok {
			return a
		}
	}
	if name, ok := r.cfg.BotTypeActionPolicies[evidence.PrimaryBotType]; ok {
		if a, ok := r.Get(name); ok {
			return a
		}
	}
	if a, ok := r.Get(r.cfg.DefaultActionPolicyName); ok {
		return a
	}
	a, _ := r.Get("allow")
	return a
}

// Execute resolves and runs the applicable action policy, applying the
// PII-masking auto-apply guardrail when the resolved policy is
// mask-pii-response but the evidence doesn't clear the auto-apply
// thresholds: in that case it falls back to the default policy instead of
// silently not masking on a bot-shaped request.
func (r *Registry) Execute(ctx context.Context, req Request, evidence domain.AggregatedEvidence) Result {
	action := r.Resolve(req, evidence)
	if action.Name() == maskPIIName {
		if !r.cfg.PIIMaskingEnabled ||
			evidence.BotProbability < r.cfg.AutoApplyBotThreshold ||
			evidence.Confidence < r.cfg.AutoApplyConfidenceThreshold {
			if fallback, ok := r.Get(r.cfg.DefaultActionPolicyName); ok {
				action = fallback
			} else {
				action, _ = r.Get("allow")
			}
		}
	}
	return action.Execute(ctx, req, evidence)
}

// --- built-in policies ---------------------------------------------------

type allowAction struct{}

func (allowAction) Name() string { return "allow" }
func (allowAction) Execute(context.Context, Request, domain.AggregatedEvidence) Result {
	return Result{Continue: true}
}

type logOnlyAction struct {
	log func(format string, args ...any)
}

func (logOnlyAction) Name() string { return "log-only" }
func (a logOnlyAction) Execute(_ context.Context, req Request, evidence domain.AggregatedEvidence) Result {
	if a.log != nil {
		a.log("log-only action: path=%s risk_band=%s bot_probability=%.3f", req.Path, evidence.RiskBand, evidence.BotProbability)
	}
	return Result{Continue: true}
}

type blockAction struct {
	statusCode int
}

func (blockAction) Name() string { return "block" }
func (a blockAction) Execute(context.Context, Request, domain.AggregatedEvidence) Result {
	code := a.statusCode
	if code == 0 {
		code = 403
	}
	return Result{Continue: false, StatusCode: code}
}

type throttleAction struct {
	defaultDelay float64
	delayer      ThrottleDelayer
}

func (throttleAction) Name() string { return "throttle" }
func (a throttleAction) Execute(ctx context.Context, req Request, evidence domain.AggregatedEvidence) Result {
	delay := a.defaultDelay
	if a.delayer != nil {
		if sig, ok := evidence.Signals["signature.primary"].(string); ok && sig != "" {
			delay = a.delayer.ThrottleDelaySeconds(ctx, sig)
		}
	}
	return Result{Continue: true, ThrottleDelay: delay}
}

type challengeAction struct{}

func (challengeAction) Name() string { return "challenge" }
func (challengeAction) Execute(context.Context, Request, domain.AggregatedEvidence) Result {
	return Result{Continue: false, ChallengeKind: "cooperative", StatusCode: 401}
}

const maskPIIName = "mask-pii-response"

// maskPIIAction rewrites an outbound response body, replacing detected
// PII with a literal redaction token. It sanitizes through bluemonday
// first so a redacted response can never carry an injected HTML/script
// payload that arrived upstream.
type maskPIIAction struct {
	token     string
	sanitizer *bluemonday.Policy
}

func newMaskPIIAction(token string) maskPIIAction {
	if token == "" {
		token = "[REDACTED]"
	}
	return maskPIIAction{token: token, sanitizer: bluemonday.StrictPolicy()}
}

func (maskPIIAction) Name() string { return maskPIIName }

// Execute is invoked by the outer pipeline with the response body staged
// as the PII-masking target; this core package doesn't own an HTTP
// response writer, so it exposes MaskBody for callers to apply to their
// own body representation and always signals continue=false per the
// response-writing contract.
func (a maskPIIAction) Execute(_ context.Context, _ Request, _ domain.AggregatedEvidence) Result {
	return Result{Continue: false}
}

// MaskBody sanitizes body and replaces every PII pattern match with the
// policy's redaction token. Exposed separately from Execute because this
// package has no HTTP response type of its own.
func (a maskPIIAction) MaskBody(body string) string {
	clean := a.sanitizer.Sanitize(body)
	return piiPatterns.ReplaceAllString(clean, a.token)
}

// ProcessBlockMessage renders a human-readable block reason, used by
// callers building a block response body; kept here so the 403 message
// text and the block action's status code stay in one place.
func ProcessBlockMessage(evidence domain.AggregatedEvidence) string {
	return fmt.Sprintf("request blocked: risk_band=%s bot_probability=%.2f", evidence.RiskBand, evidence.BotProbability)
}
