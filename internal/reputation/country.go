// Package reputation tracks an exponential-decay bot rate per country,
// gated by minimum sample size. Decay is applied lazily: counters are
// brought forward on each write, and reads project decay without
// mutating state.
package reputation

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultDecayTau is the default decay time constant.
const DefaultDecayTau = 168 * time.Hour

// DefaultMinSampleSize is the default minimum raw sample count before a
// bot rate is reported.
const DefaultMinSampleSize = 5

// Entry is one country's reputation state.
type Entry struct {
	CountryCode string
	CountryName string

	RawBotCount   int64
	RawTotalCount int64

	DecayedBotCount   float64
	DecayedTotalCount float64

	LastUpdateUTC time.Time
}

// BotRate returns decayed_bot_count/decayed_total_count, or 0 if the raw
// sample count hasn't reached min_sample_size.
func (e Entry) BotRate(minSampleSize int64) float64 {
	if e.RawTotalCount < minSampleSize {
		return 0
	}
	if e.DecayedTotalCount == 0 {
		return 0
	}
	return e.DecayedBotCount / e.DecayedTotalCount
}

type countryState struct {
	mu    sync.Mutex
	entry Entry
}

// Tracker is the Country Reputation Tracker.
type Tracker struct {
	tau           time.Duration
	minSampleSize int64

	mu        sync.RWMutex
	countries map[string]*countryState
}

// NewTracker builds a Tracker with the given decay constant and minimum
// sample size; zero values fall back to the defaults.
func NewTracker(tau time.Duration, minSampleSize int64) *Tracker {
	if tau <= 0 {
		tau = DefaultDecayTau
	}
	if minSampleSize <= 0 {
		minSampleSize = DefaultMinSampleSize
	}
	return &Tracker{tau: tau, minSampleSize: minSampleSize, countries: make(map[string]*countryState)}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Record applies one observation under the country's mutex, decaying
// existing counters by exp(-Δt/τ) before incrementing.
// A null/empty country code is silently rejected.
func (t *Tracker) Record(now time.Time, countryCode, countryName string, wasBot bool, detectionConfidence float64) {
	code := normalizeCode(countryCode)
	if code == "" {
		return
	}

	state := t.stateFor(code)
	state.mu.Lock()
	defer state.mu.Unlock()

	e := &state.entry
	if e.CountryCode == "" {
		e.CountryCode = code
	}
	if countryName != "" {
		e.CountryName = countryName
	}

	if !e.LastUpdateUTC.IsZero() {
		dt := now.Sub(e.LastUpdateUTC).Seconds()
		decay := math.Exp(-dt / t.tau.Seconds())
		e.DecayedBotCount *= decay
		e.DecayedTotalCount *= decay
	}

	e.DecayedTotalCount++
	if wasBot {
		e.DecayedBotCount++
	}
	e.RawTotalCount++
	if wasBot {
		e.RawBotCount++
	}
	e.LastUpdateUTC = now
}

func (t *Tracker) stateFor(code string) *countryState {
	t.mu.RLock()
	s, ok := t.countries[code]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.countries[code]; ok {
		return s
	}
	s = &countryState{}
	t.countries[code] = s
	return s
}

// GetBotRate returns the bot rate for a country code as of now, applying
// the decay that has accumulated since the last Record without mutating
// any state.
func (t *Tracker) GetBotRate(countryCode string) float64 {
	code := normalizeCode(countryCode)
	t.mu.RLock()
	s, ok := t.countries[code]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.projected(s.entry, time.Now()).BotRate(t.minSampleSize)
}

// projected returns e with its decayed counters advanced to now, without
// mutating e or touching RawBotCount/RawTotalCount (those are cumulative
// sample counts, not decayed state).
func (t *Tracker) projected(e Entry, now time.Time) Entry {
	if e.LastUpdateUTC.IsZero() {
		return e
	}
	dt := now.Sub(e.LastUpdateUTC).Seconds()
	if dt <= 0 {
		return e
	}
	decay := math.Exp(-dt / t.tau.Seconds())
	e.DecayedBotCount *= decay
	e.DecayedTotalCount *= decay
	return e
}

// GetAll returns a snapshot of every tracked country's reputation entry,
// with decay projected forward to now.
func (t *Tracker) GetAll() []Entry {
	now := time.Now()
	t.mu.RLock()
	states := make([]*countryState, 0, len(t.countries))
	for _, s := range t.countries {
		states = append(states, s)
	}
	t.mu.RUnlock()

	out := make([]Entry, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		out = append(out, t.projected(s.entry, now))
		s.mu.Unlock()
	}
	return out
}

// GetTopBotCountries returns up to n entries sorted descending by bot
// rate, ties broken by decayed total count descending.
func (t *Tracker) GetTopBotCountries(n int) []Entry {
	all := t.GetAll()
	sort.Slice(all, func(i, j int) bool {
		ri, rj := all[i].BotRate(t.minSampleSize), all[j].BotRate(t.minSampleSize)
		if ri != rj {
			return ri > rj
		}
		return all[i].DecayedTotalCount > all[j].DecayedTotalCount
	})
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// ReputationState resolves the coarse bucket the policy evaluator's
// when_reputation_state predicate consumes, derived from bot rate.
func (t *Tracker) ReputationState(countryCode string) string {
	rate := t.GetBotRate(countryCode)
	switch {
	case rate >= 0.5:
		return "high_risk_country"
	case rate >= 0.2:
		return "elevated_risk_country"
	default:
		return "normal_country"
	}
}
