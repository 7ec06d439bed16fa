// Package orchestrator drives a request through the fast, slow, and
// AI-escalation detection lanes, recomputing risk after each lane, and
// finalizes into an immutable domain.AggregatedEvidence. The pipeline is
// phased and timeout-bounded, and it never fails the request: internal
// errors are swallowed and the caller always gets a result.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/subculture-collective/botengine/internal/aggregator"
	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/detector"
	"github.com/subculture-collective/botengine/internal/domain"
	"github.com/subculture-collective/botengine/internal/policy"
	"github.com/subculture-collective/botengine/internal/signature"
)

// DefaultLaneParallelism bounds concurrent detectors within one lane.
const DefaultLaneParallelism = 8

// Request is the inbound DTO the orchestrator builds a blackboard from.
// HTTP/transport binding lives in internal/httpapi; this struct is the
// transport-agnostic seam.
type Request struct {
	RequestID       string
	Method          string
	Path            string
	Query           string
	Headers         [][2]string
	ClientIP        string
	UserAgent       string
	ClientSideToken string
	CountryCode     string
	CountryName     string
	ASN             string
}

// SignatureProvider is the subset of *signature.Coordinator the
// orchestrator needs, kept as an interface so tests can substitute a
// stub without standing up a full coordinator.
type SignatureProvider interface {
	Observe(now time.Time, sig signature.Signature, reqPath string, botProbability float64, detectors []string, signals map[string]any, countryCode, asn string, isDatacenter bool)
	GetFamily(sig string) (signature.Family, bool)
}

// ReputationProvider is the subset of *reputation.Tracker the orchestrator
// needs.
type ReputationProvider interface {
	Record(now time.Time, countryCode, countryName string, wasBot bool, detectionConfidence float64)
	ReputationState(countryCode string) string
}

// ClusterNotifier is the subset of *cluster.Service the orchestrator needs.
type ClusterNotifier interface {
	NotifyBotDetected()
}

// OutcomeRecorder is the subset of learning.Feedback the orchestrator
// needs; declared as a narrow function-shaped interface to avoid a direct
// dependency on internal/learning's Outcome type.
type OutcomeRecorder func(ctx context.Context, signatureValue string, wasBot bool, confidence float64, occurredAt time.Time)

// Config holds the tunables that aren't already carried on a Policy.
type Config struct {
	LaneParallelism       int
	BotDetectionThreshold float64 // used only to derive the is-bot flag passed to the cluster service, reputation tracker and learning recorder
	OnPanic               func(requestID string, recovered any)
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{LaneParallelism: DefaultLaneParallelism, BotDetectionThreshold: 0.5}
}

// Orchestrator wires together the policy registry, the detector set, and
// the collaborators notified during Finalize.
type Orchestrator struct {
	cfg Config

	detectors map[string]detector.Detector
	policies  *policy.Registry
	weights   policy.WeightStore // optional, learned weights

	secret        *signature.Secret
	sigCoord      SignatureProvider
	reputation    ReputationProvider
	clusterSvc    ClusterNotifier
	sink          func(ctx context.Context, evt Event)
	recordOutcome OutcomeRecorder

	errLog func(format string, args ...any)
}

// Event is what Finalize hands to the wired telemetry sink, kept local so
// this package doesn't import internal/telemetry; internal/httpapi (or
// whatever wires an Orchestrator) adapts this into telemetry.Event.
type Event struct {
	Evidence   domain.AggregatedEvidence
	Method     string
	Path       string
	Signature  string
	OccurredAt time.Time
}

// New builds an Orchestrator. Any collaborator may be nil/zero-valued; the
// orchestrator degrades gracefully (e.g. no reputation state, no telemetry)
// rather than failing.
func New(
	cfg Config,
	detectors []detector.Detector,
	policies *policy.Registry,
	weights policy.WeightStore,
	secret *signature.Secret,
	sigCoord SignatureProvider,
	rep ReputationProvider,
	clusterSvc ClusterNotifier,
	sink func(ctx context.Context, evt Event),
	recordOutcome OutcomeRecorder,
	errLog func(format string, args ...any),
) *Orchestrator {
	if cfg.LaneParallelism <= 0 {
		cfg.LaneParallelism = DefaultLaneParallelism
	}
	byName := make(map[string]detector.Detector, len(detectors))
	for _, d := range detectors {
		byName[d.Name()] = d
	}
	return &Orchestrator{
		cfg:           cfg,
		detectors:     byName,
		policies:      policies,
		weights:       weights,
		secret:        secret,
		sigCoord:      sigCoord,
		reputation:    rep,
		clusterSvc:    clusterSvc,
		sink:          sink,
		recordOutcome: recordOutcome,
		errLog:        errLog,
	}
}

// Detect classifies one request. It never returns an error and never
// panics to the caller: any internal failure degrades to whatever partial
// evidence exists.
func (o *Orchestrator) Detect(ctx context.Context, req Request) domain.AggregatedEvidence {
	defer func() {
		if r := recover(); r != nil && o.cfg.OnPanic != nil {
			o.cfg.OnPanic(req.RequestID, r)
		}
	}()

	start := time.Now()

	headers := blackboard.NewHeaders(req.Headers)
	bb := blackboard.New(req.RequestID, req.Method, req.Path, req.Query, headers, req.ClientIP, req.UserAgent)
	o.seedSignals(bb, req)

	pol := o.policies.GetPolicyForPath(req.Path)
	deadline := start.Add(pol.Timeout)
	if pol.Timeout <= 0 {
		deadline = start.Add(2 * time.Second)
	}

	reputationStateFn := func(state *blackboard.Blackboard) string {
		if o.reputation == nil {
			return ""
		}
		return o.reputation.ReputationState(req.CountryCode)
	}

	earlyExit := false
	terminalAction := (*domain.Action)(nil)

	lanesRemaining := o.lanesRemaining(pol)

	// Fast path.
	if pol.UseFastPath && len(pol.FastPathDetectors) > 0 {
		laneCtx, cancel := o.laneContext(ctx, deadline, lanesRemaining)
		o.runLane(laneCtx, bb, pol, pol.FastPathDetectors)
		cancel()
		lanesRemaining--

		o.recompute(bb, pol)
		decision, next := policy.EvaluateChain(o.policies, pol, bb, reputationStateFn)
		pol = next
		if decision.Action != nil {
			terminalAction = decision.Action
		} else {
			risk := bb.RiskScore()
			if risk >= pol.ImmediateBlockThreshold {
				blockAction := domain.ActionBlock
				terminalAction = &blockAction
			} else if risk < pol.EarlyExitThreshold && !pol.ForceSlowPath {
				earlyExit = true
			}
		}
	}

	// Slow path: only if not already terminal/early-exited, and
	// either forced or the fast-path score didn't clear the early-exit gate.
	if terminalAction == nil && !earlyExit && timeRemaining(deadline) > 0 &&
		(pol.ForceSlowPath || bb.RiskScore() >= pol.EarlyExitThreshold) &&
		len(pol.SlowPathDetectors) > 0 {

		laneCtx, cancel := o.laneContext(ctx, deadline, lanesRemaining)
		o.runLane(laneCtx, bb, pol, pol.SlowPathDetectors)
		cancel()
		lanesRemaining--

		o.recompute(bb, pol)
		decision, next := policy.EvaluateChain(o.policies, pol, bb, reputationStateFn)
		pol = next
		if decision.Action != nil {
			terminalAction = decision.Action
		}
	}

	// AI escalation: shorter timeout, non-fatal on failure.
	if terminalAction == nil && pol.EscalateToAI && bb.RiskScore() >= pol.AIEscalationThreshold &&
		timeRemaining(deadline) > 0 && len(pol.AIPathDetectors) > 0 {

		aiDeadline := deadline
		if remaining := timeRemaining(deadline); remaining > 0 {
			shortened := time.Now().Add(remaining / 2)
			if shortened.Before(aiDeadline) {
				aiDeadline = shortened
			}
		}
		laneCtx, cancel := o.laneContext(ctx, aiDeadline, 1)
		o.runLane(laneCtx, bb, pol, pol.AIPathDetectors)
		cancel()

		o.recompute(bb, pol)
	}

	if ctx.Err() != nil || time.Now().After(deadline) {
		earlyExit = true
	}

	evidence := o.finalizeEvidence(bb, pol, start, earlyExit, terminalAction)
	o.finalize(ctx, req, evidence)
	return evidence
}

// lanesRemaining estimates the number of lanes this policy will actually
// run, for the "lane-level timeout = policy timeout / lanes-remaining"
// default.
func (o *Orchestrator) lanesRemaining(p *policy.Policy) int {
	n := 0
	if p.UseFastPath && len(p.FastPathDetectors) > 0 {
		n++
	}
	if len(p.SlowPathDetectors) > 0 {
		n++
	}
	if p.EscalateToAI && len(p.AIPathDetectors) > 0 {
		n++
	}
	if n == 0 {
		return 1
	}
	return n
}

func timeRemaining(deadline time.Time) time.Duration {
	return time.Until(deadline)
}

// laneContext derives a per-lane cancellation context whose timeout is the
// remaining policy budget divided by the number of lanes not yet run.
func (o *Orchestrator) laneContext(parent context.Context, deadline time.Time, lanesRemaining int) (context.Context, context.CancelFunc) {
	if lanesRemaining < 1 {
		lanesRemaining = 1
	}
	remaining := timeRemaining(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	laneBudget := remaining / time.Duration(lanesRemaining)
	return context.WithTimeout(parent, laneBudget)
}

// runLane executes every named detector in names concurrently, bounded by
// cfg.LaneParallelism, merging contributions into bb as each completes.
func (o *Orchestrator) runLane(ctx context.Context, bb *blackboard.Blackboard, pol *policy.Policy, names []string) {
	sem := make(chan struct{}, o.cfg.LaneParallelism)
	var wg sync.WaitGroup

	for _, name := range names {
		d, ok := o.detectors[name]
		if !ok {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(d detector.Detector) {
			defer wg.Done()
			defer func() { <-sem }()
			o.runDetector(ctx, bb, pol, d)
		}(d)
	}
	wg.Wait()
}

// runDetector runs one detector under SafeContribute, merges whatever
// contributions it returns (zero or more), and marks it failed or
// completed.
func (o *Orchestrator) runDetector(ctx context.Context, bb *blackboard.Blackboard, pol *policy.Policy, d detector.Detector) {
	type result struct {
		contributions []domain.Contribution
		panicked      bool
	}
	resultCh := make(chan result, 1)

	go func() {
		c, p := detector.SafeContribute(ctx, d, bb)
		resultCh <- result{contributions: c, panicked: p}
	}()

	var contributions []domain.Contribution
	var panicked bool

	select {
	case r := <-resultCh:
		contributions, panicked = r.contributions, r.panicked
	case <-ctx.Done():
		bb.MarkFailed(d.Name())
		return
	}

	if panicked {
		bb.MarkFailed(d.Name())
		if o.errLog != nil {
			o.errLog("orchestrator: detector %s panicked", d.Name())
		}
		return
	}
	if len(contributions) == 0 {
		bb.MarkCompleted(d.Name())
		return
	}
	for i := range contributions {
		if contributions[i].Weight == 0 {
			contributions[i].Weight = d.DefaultWeight()
		}
	}
	bb.AddContributions(contributions)
}

// recompute rebuilds bot_probability/confidence from the blackboard's
// current contributions and writes the running score back.
func (o *Orchestrator) recompute(bb *blackboard.Blackboard, pol *policy.Policy) {
	contributions := bb.Contributions()
	resolve := func(detectorName string, defaultWeight float64) float64 {
		return policy.EffectiveWeight(pol, detectorName, defaultWeight, o.weights)
	}
	evidence := aggregator.Aggregate(bb.RequestID, contributions, resolve, bb.Elapsed().Milliseconds(), false, nil)
	bb.SetRiskScore(evidence.BotProbability)
}

// finalizeEvidence builds the immutable AggregatedEvidence for the
// request.
func (o *Orchestrator) finalizeEvidence(bb *blackboard.Blackboard, pol *policy.Policy, start time.Time, earlyExit bool, terminalAction *domain.Action) domain.AggregatedEvidence {
	contributions := bb.Contributions()
	resolve := func(detectorName string, defaultWeight float64) float64 {
		return policy.EffectiveWeight(pol, detectorName, defaultWeight, o.weights)
	}
	evidence := aggregator.Aggregate(
		bb.RequestID,
		contributions,
		resolve,
		time.Since(start).Milliseconds(),
		earlyExit,
		sanitizeSignals(bb.SignalSnapshot()),
	)
	evidence.FailedDetectors = aggregator.FailedDetectorsFrom(bb)
	if terminalAction != nil {
		evidence.PolicyAction = terminalAction
	} else if evidence.BotProbability >= pol.ImmediateBlockThreshold {
		block := domain.ActionBlock
		evidence.PolicyAction = &block
	}
	return evidence
}

// finalize runs the fire-and-forget notifications. Per-signature
// ordering (two concurrent requests for the same signature serialize under
// the coordinator's per-signature mutex) is the coordinator's job, not
// this package's; this method calls Observe at most once per request, from
// its own goroutine, so no ordering across requests is guaranteed here.
func (o *Orchestrator) finalize(ctx context.Context, req Request, evidence domain.AggregatedEvidence) {
	sig := signature.Signature{}
	if o.secret != nil {
		sig = signature.Compute(o.secret, req.ClientIP, req.UserAgent, req.ClientSideToken)
	}

	now := time.Now()
	isBot := evidence.IsBot(o.cfg.BotDetectionThreshold)

	go func() {
		defer func() { _ = recover() }()
		if o.sigCoord != nil && sig.Primary != "" {
			isDatacenter := evidenceSignalBool(evidence, "ip.is_datacenter")
			o.sigCoord.Observe(now, sig, req.Path, evidence.BotProbability, evidence.ContributingDetectors, evidence.Signals, req.CountryCode, req.ASN, isDatacenter)
		}
	}()

	go func() {
		defer func() { _ = recover() }()
		if o.reputation != nil && req.CountryCode != "" {
			o.reputation.Record(now, req.CountryCode, req.CountryName, isBot, evidence.Confidence)
		}
	}()

	go func() {
		defer func() { _ = recover() }()
		if o.recordOutcome != nil && sig.Primary != "" && evidence.Confidence > 0 {
			o.recordOutcome(context.Background(), sig.Primary, isBot, evidence.Confidence, now)
		}
	}()

	go func() {
		defer func() { _ = recover() }()
		if o.sink != nil {
			o.sink(ctx, Event{Evidence: evidence, Method: req.Method, Path: req.Path, Signature: sig.Primary, OccurredAt: now})
		}
	}()

	if isBot && o.clusterSvc != nil {
		go func() {
			defer func() { _ = recover() }()
			o.clusterSvc.NotifyBotDetected()
		}()
	}
}

// rawIdentitySignalKeys are the blackboard keys carrying the raw request
// identity seeded for detectors; they must never leave the request via
// AggregatedEvidence.Signals.
var rawIdentitySignalKeys = []string{"request.ip", "request.ua"}

func sanitizeSignals(signals map[string]any) map[string]any {
	for _, k := range rawIdentitySignalKeys {
		delete(signals, k)
	}
	return signals
}

func evidenceSignalBool(evidence domain.AggregatedEvidence, key string) bool {
	v, ok := evidence.Signals[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// seedSignals writes the raw-request-derived signals every detector can
// rely on being present.
func (o *Orchestrator) seedSignals(bb *blackboard.Blackboard, req Request) {
	bb.SetSignal("request.method", req.Method)
	bb.SetSignal("request.path", req.Path)
	bb.SetSignal("request.query", req.Query)
	bb.SetSignal("request.ip", req.ClientIP)
	bb.SetSignal("request.ua", req.UserAgent)
	if req.CountryCode != "" {
		bb.SetSignal("request.country_code", req.CountryCode)
	}
	if req.ASN != "" {
		bb.SetSignal("request.asn", req.ASN)
	}
	if detector.IsDatacenterIP(req.ClientIP) {
		bb.SetSignal("ip.is_datacenter", true)
	}
}
