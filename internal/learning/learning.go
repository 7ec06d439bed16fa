// Package learning consumes confirmed bot/human outcomes, updates the
// durable learned-weight store, and promotes repeated signature behavior
// into the learned-pattern store once a minimum observation count is
// reached. It runs off the request's hot path.
package learning

import (
	"context"
	"time"

	"github.com/subculture-collective/botengine/internal/store"
)

// DefaultMinObservationsForActivation is the default minimum observation
// count before a learned pattern is considered active.
const DefaultMinObservationsForActivation = 10

// Outcome is one confirmed bot/human label for a signature, fed back by an
// operator, a downstream challenge result, or a batch labeling job.
type Outcome struct {
	SignatureType  string // e.g. "primary", "ip", "ua"
	SignatureValue string
	WasBot         bool
	Confidence     float64 // the detector confidence that produced this label, if any
	OccurredAt     time.Time
}

// Config holds the feedback-loop tunables.
type Config struct {
	MinObservationsForActivation int64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{MinObservationsForActivation: DefaultMinObservationsForActivation}
}

// Feedback is the Learning / Reputation Feedback service.
type Feedback struct {
	cfg      Config
	weights  store.WeightStore
	patterns store.LearnedPatternStore
	errLog   func(format string, args ...any)
}

// New builds a Feedback service. patterns may be nil if pattern promotion
// isn't wired; weight updates still run.
func New(cfg Config, weights store.WeightStore, patterns store.LearnedPatternStore, errLog func(format string, args ...any)) *Feedback {
	if cfg.MinObservationsForActivation <= 0 {
		cfg.MinObservationsForActivation = DefaultMinObservationsForActivation
	}
	return &Feedback{cfg: cfg, weights: weights, patterns: patterns, errLog: errLog}
}

// Record applies one outcome to the weight store
// and, once the signature clears the minimum observation count, upserts a
// learned-pattern row. Intended to be called from a goroutine spawned off
// the request path; it never panics out to
// its caller.
func (f *Feedback) Record(ctx context.Context, o Outcome) {
	defer func() {
		if r := recover(); r != nil && f.errLog != nil {
			f.errLog("learning: recovered panic recording outcome: %v", r)
		}
	}()

	if f.weights == nil || o.SignatureValue == "" {
		return
	}

	if err := f.weights.RecordObservation(ctx, o.SignatureType, o.SignatureValue, o.WasBot, o.Confidence); err != nil {
		f.logErr("learning: record observation: %v", err)
		return
	}

	rec, ok, err := f.weights.GetWeight(ctx, o.SignatureType, o.SignatureValue)
	if err != nil {
		f.logErr("learning: get weight after observation: %v", err)
		return
	}
	if !ok {
		return
	}

	rec.Weight = WeightFor(rec.BotCount, rec.HumanCount)
	rec.Confidence = ConfidenceFor(rec.BotCount, rec.HumanCount)
	if err := f.weights.UpdateWeight(ctx, rec); err != nil {
		f.logErr("learning: update weight: %v", err)
		return
	}

	if f.patterns == nil {
		return
	}
	total := rec.BotCount + rec.HumanCount
	if total < f.cfg.MinObservationsForActivation {
		return
	}
	f.promote(ctx, o, rec)
}

func (f *Feedback) promote(ctx context.Context, o Outcome, rec store.WeightRecord) {
	pattern := store.LearnedPattern{
		ID:          o.SignatureType + ":" + o.SignatureValue,
		PatternType: o.SignatureType,
		Signature:   o.SignatureValue,
		Confidence:  rec.Confidence,
		FedBack:     true,
		UpdatedAt:   o.OccurredAt,
	}
	if err := f.patterns.Upsert(ctx, pattern); err != nil {
		f.logErr("learning: upsert learned pattern: %v", err)
	}
}

func (f *Feedback) logErr(format string, args ...any) {
	if f.errLog != nil {
		f.errLog(format, args...)
	}
}

// WeightFor computes the learned weight: 2*(bot/total) - 1,
// clipped to [-1, +1]. A signature with zero observations has weight 0
// (neutral) rather than dividing by zero.
func WeightFor(botCount, humanCount int64) float64 {
	total := botCount + humanCount
	if total == 0 {
		return 0
	}
	w := 2*(float64(botCount)/float64(total)) - 1
	if w > 1 {
		return 1
	}
	if w < -1 {
		return -1
	}
	return w
}

// ConfidenceFor computes the learned-weight confidence: min(1, total/100).
func ConfidenceFor(botCount, humanCount int64) float64 {
	total := float64(botCount + humanCount)
	c := total / 100
	if c > 1 {
		return 1
	}
	return c
}

// LearnedWeightAdapter adapts a store.WeightStore into the policy package's
// narrow WeightStore interface (policy.LearnedWeight(name) (float64, bool)),
// resolved by (signature_type="detector", signature_value=detectorName).
type LearnedWeightAdapter struct {
	Store store.WeightStore
	Ctx   func() context.Context
}

// LearnedWeight implements policy.WeightStore.
func (a LearnedWeightAdapter) LearnedWeight(detectorName string) (float64, bool) {
	if a.Store == nil {
		return 0, false
	}
	ctx := context.Background()
	if a.Ctx != nil {
		ctx = a.Ctx()
	}
	rec, ok, err := a.Store.GetWeight(ctx, "detector", detectorName)
	if err != nil || !ok {
		return 0, false
	}
	return rec.Weight, true
}
