// Package blackboard implements the per-request shared state that
// detectors read from and write to concurrently: headers, the signal
// map, the running risk score, and the contribution log. It is entirely
// in-process and lives only for the lifetime of one request.
package blackboard

import (
	"net/textproto"
	"sync"
	"time"

	"github.com/subculture-collective/botengine/internal/domain"
)

// Headers is an ordered, case-insensitive-on-read header view.
type Headers struct {
	order []string
	byKey map[string]string
}

// NewHeaders builds a Headers view from an ordered slice of name/value
// pairs, preserving arrival order for iteration while normalizing lookups.
func NewHeaders(pairs [][2]string) *Headers {
	h := &Headers{byKey: make(map[string]string, len(pairs))}
	for _, p := range pairs {
		canon := textproto.CanonicalMIMEHeaderKey(p[0])
		if _, exists := h.byKey[canon]; !exists {
			h.order = append(h.order, canon)
		}
		h.byKey[canon] = p[1]
	}
	return h
}

// Get returns a header value, case-insensitively, and whether it was set.
func (h *Headers) Get(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h.byKey[textproto.CanonicalMIMEHeaderKey(name)]
	return v, ok
}

// Keys returns header names in first-seen order.
func (h *Headers) Keys() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Blackboard is the per-request shared state. Signal writes are
// first-writer-wins and safe for concurrent use from multiple detector
// goroutines; reads see an eventually-consistent snapshot, and a key
// that has not yet been written means "no evidence".
type Blackboard struct {
	RequestID string
	Method    string
	Path      string
	Query     string
	Headers   *Headers

	// ClientIPRaw and UserAgentRaw exist only for the lifetime of the
	// request; nothing downstream of the orchestrator's finalize phase
	// may retain them.
	ClientIPRaw  string
	UserAgentRaw string

	start time.Time

	signals sync.Map // string -> any, first-writer-wins

	mu                 sync.Mutex
	currentRiskScore   float64
	completedDetectors map[string]struct{}
	failedDetectors    map[string]struct{}
	contributions      []domain.Contribution
	completionCounter  int64
}

// New builds a Blackboard seeded from raw request-derived signals.
func New(requestID, method, path, query string, headers *Headers, clientIP, userAgent string) *Blackboard {
	bb := &Blackboard{
		RequestID:          requestID,
		Method:             method,
		Path:               path,
		Query:              query,
		Headers:            headers,
		ClientIPRaw:        clientIP,
		UserAgentRaw:       userAgent,
		start:              time.Now(),
		currentRiskScore:   0.5,
		completedDetectors: make(map[string]struct{}),
		failedDetectors:    make(map[string]struct{}),
	}
	return bb
}

// Elapsed returns wall-clock time since the blackboard was created.
func (b *Blackboard) Elapsed() time.Duration {
	return time.Since(b.start)
}

// SetSignal writes a signal key if (and only if) it hasn't been written
// yet. First writer wins.
func (b *Blackboard) SetSignal(key string, value any) {
	b.signals.LoadOrStore(key, value)
}

// Signal reads a signal key. The second return value is false when the key
// has never been written, which callers must treat as "no evidence", not
// "false".
func (b *Blackboard) Signal(key string) (any, bool) {
	return b.signals.Load(key)
}

// SignalBool reads a signal as a bool, defaulting to false when absent or
// not boolean-typed.
func (b *Blackboard) SignalBool(key string) bool {
	v, ok := b.signals.Load(key)
	if !ok {
		return false
	}
	bv, _ := v.(bool)
	return bv
}

// SignalSnapshot returns a shallow copy of every signal currently set. Used
// to build AggregatedEvidence.Signals.
func (b *Blackboard) SignalSnapshot() map[string]any {
	out := make(map[string]any)
	b.signals.Range(func(k, v any) bool {
		if ks, ok := k.(string); ok {
			out[ks] = v
		}
		return true
	})
	return out
}

// AddContribution appends a contribution in completion order and marks its
// detector completed. It does not touch the running risk score; callers
// recompute that and store it with SetRiskScore.
func (b *Blackboard) AddContribution(c domain.Contribution) domain.Contribution {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addContributionLocked(c)
}

// AddContributions appends one detector's contributions under a single
// lock acquisition, so a detector's output lands contiguously and in its
// internal emission order even when detectors complete concurrently.
func (b *Blackboard) AddContributions(cs []domain.Contribution) {
	if len(cs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range cs {
		b.addContributionLocked(c)
	}
}

func (b *Blackboard) addContributionLocked(c domain.Contribution) domain.Contribution {
	b.completionCounter++
	c.CompletedAt = b.completionCounter
	b.contributions = append(b.contributions, c)
	b.completedDetectors[c.DetectorName] = struct{}{}
	return c
}

// MarkFailed records a detector as failed (timeout, cancellation, or
// internal error) without contributing evidence.
func (b *Blackboard) MarkFailed(detectorName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failedDetectors[detectorName] = struct{}{}
}

// MarkCompleted records a detector as completed without itself having
// produced a contribution (a detector that abstains rather than emitting
// a zero-weight signal). Distinct from AddContribution so the orchestrator
// can tell "ran and had nothing to say" apart from "never ran".
func (b *Blackboard) MarkCompleted(detectorName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completedDetectors[detectorName] = struct{}{}
}

// SetRiskScore overwrites the running bot probability. Called by the
// aggregator after recomputation; monotonic updates are the aggregator's
// responsibility, not the blackboard's.
func (b *Blackboard) SetRiskScore(p float64) {
	b.mu.Lock()
	b.currentRiskScore = p
	b.mu.Unlock()
}

// RiskScore returns the current running bot probability.
func (b *Blackboard) RiskScore() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentRiskScore
}

// Contributions returns a snapshot of contributions recorded so far, in
// completion order.
func (b *Blackboard) Contributions() []domain.Contribution {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Contribution, len(b.contributions))
	copy(out, b.contributions)
	return out
}

// CompletedDetectors returns the set of detector names that have produced
// contributions (possibly empty ones) so far.
func (b *Blackboard) CompletedDetectors() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.completedDetectors))
	for k := range b.completedDetectors {
		out = append(out, k)
	}
	return out
}

// FailedDetectors returns the set of detector names that failed or timed
// out so far.
func (b *Blackboard) FailedDetectors() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.failedDetectors))
	for k := range b.failedDetectors {
		out = append(out, k)
	}
	return out
}
