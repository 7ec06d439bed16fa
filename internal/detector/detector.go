// Package detector defines the ContributingDetector contract and a
// handful of concrete detectors. Heavyweight detector internals (full UA
// parsing, GeoIP databases, JA3, LLM calls) live behind external
// collaborators; the built-in detectors are deliberately simple and
// self-contained rule scorers.
package detector

import (
	"context"

	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/domain"
)

// Detector is the Contributing Detector interface. Implementations
// must be non-blocking beyond their own timeout, must never panic out to
// the orchestrator, and must treat an absent blackboard signal as "no
// evidence" rather than "false".
type Detector interface {
	Name() string
	Category() domain.Category
	LaneHint() domain.Lane
	DefaultWeight() float64
	Contribute(ctx context.Context, state *blackboard.Blackboard) []domain.Contribution
}

// SafeContribute calls d.Contribute and converts any panic into an empty
// result, satisfying the "detector returns empty and logs; MUST NOT throw
// out to the orchestrator" contract even for detectors that don't guard
// themselves.
func SafeContribute(ctx context.Context, d Detector, state *blackboard.Blackboard) (contributions []domain.Contribution, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			contributions = nil
		}
	}()
	return d.Contribute(ctx, state), false
}
