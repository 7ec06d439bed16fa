package detector

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/domain"
)

// ErrClassifierUnavailable marks a permanent configuration failure (missing
// API key, model not loaded). Classifiers return it wrapped to tell the
// detector to disable itself; any other error is treated as transient.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// RequestSummary is the PII-stripped view of a request handed to an AI
// classifier: no raw IP, no raw UA, only the derived signals and the
// generalized request shape.
type RequestSummary struct {
	Method       string
	Path         string
	UAClassTuple []string
	Signals      map[string]any
	RiskScore    float64
}

// Classifier is the external model oracle behind the AI lane. Its
// internals (LLM prompt, ONNX session) are deliberately outside this
// package; the detector only contracts on the verdict shape.
type Classifier interface {
	Classify(ctx context.Context, summary RequestSummary) (delta float64, reason string, err error)
}

// AIDetector escalates to a model-based classifier in the AI lane. The
// classifier's verdict is inherently non-deterministic, so it is isolated
// in the "ai.verdict" signal and nowhere else. A configuration failure
// (nil classifier, or an error the classifier marks permanent) disables
// the detector for the process lifetime after logging once.
type AIDetector struct {
	weight     float64
	classifier Classifier
	errLog     func(format string, args ...any)

	disabled atomic.Bool
	logOnce  sync.Once
}

// NewAIDetector builds an AIDetector. A nil classifier produces a detector
// that is permanently disabled (config missing), not one that errors.
func NewAIDetector(weight float64, classifier Classifier, errLog func(format string, args ...any)) *AIDetector {
	d := &AIDetector{weight: weight, classifier: classifier, errLog: errLog}
	if classifier == nil {
		d.disabled.Store(true)
	}
	return d
}

func (d *AIDetector) Name() string              { return "AIContent" }
func (d *AIDetector) Category() domain.Category { return domain.CategoryAI }
func (d *AIDetector) LaneHint() domain.Lane     { return domain.LaneAI }
func (d *AIDetector) DefaultWeight() float64    { return d.weight }

func (d *AIDetector) Contribute(ctx context.Context, state *blackboard.Blackboard) []domain.Contribution {
	if d.disabled.Load() {
		return nil
	}

	summary := RequestSummary{
		Method:    state.Method,
		Path:      state.Path,
		Signals:   state.SignalSnapshot(),
		RiskScore: state.RiskScore(),
	}
	if tuple, ok := state.Signal("ua.class_tuple"); ok {
		if ts, ok := tuple.([]string); ok {
			summary.UAClassTuple = ts
		}
	}
	// The summary must never carry the raw request identity.
	delete(summary.Signals, "request.ip")
	delete(summary.Signals, "request.ua")

	delta, reason, err := d.classifier.Classify(ctx, summary)
	if err != nil {
		if errors.Is(err, ErrClassifierUnavailable) {
			d.logOnce.Do(func() {
				if d.errLog != nil {
					d.errLog("detector: AI classifier unavailable, disabling for process lifetime: %v", err)
				}
			})
			d.disabled.Store(true)
		}
		// Transient failures (including the orchestrator's lane timeout)
		// contribute nothing this request.
		return nil
	}

	if delta > 1 {
		delta = 1
	}
	if delta < -1 {
		delta = -1
	}
	state.SetSignal("ai.verdict", delta)

	if reason == "" {
		reason = "model-based classification"
	}
	botType := domain.BotTypeUnknown
	if delta > 0.5 {
		botType = domain.BotTypeAiBot
	}

	return []domain.Contribution{{
		DetectorName:    d.Name(),
		Category:        d.Category(),
		ConfidenceDelta: delta,
		Weight:          d.weight,
		Reason:          reason,
		BotType:         botType,
		Signals:         map[string]any{"ai.verdict": delta},
	}}
}
