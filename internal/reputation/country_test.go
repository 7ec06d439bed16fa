package reputation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRejectsEmptyCountryCode(t *testing.T) {
	tr := NewTracker(0, 0)
	tr.Record(time.Now(), "", "Nowhere", true, 0.9)
	tr.Record(time.Now(), "   ", "Nowhere", true, 0.9)
	assert.Empty(t, tr.GetAll())
}

func TestBotRateGatedByMinSampleSize(t *testing.T) {
	tr := NewTracker(0, 5)
	now := time.Now()

	for i := 0; i < 4; i++ {
		tr.Record(now, "US", "United States", true, 0.9)
	}
	assert.Equal(t, 0.0, tr.GetBotRate("US"))

	tr.Record(now, "US", "United States", true, 0.9)
	assert.InDelta(t, 1.0, tr.GetBotRate("US"), 1e-9)
}

func TestBotRateMonotonicUnderSameLabel(t *testing.T) {
	tr := NewTracker(0, 1)
	now := time.Now()

	for i := 0; i < 10; i++ {
		tr.Record(now, "DE", "Germany", true, 0.9)
	}
	rate := tr.GetBotRate("DE")

	// Only-human events drive the rate down step by step.
	for i := 0; i < 10; i++ {
		tr.Record(now, "DE", "Germany", false, 0.9)
		next := tr.GetBotRate("DE")
		assert.Less(t, next, rate)
		rate = next
	}

	// Only-bot events drive it back up.
	for i := 0; i < 10; i++ {
		tr.Record(now, "DE", "Germany", true, 0.9)
		next := tr.GetBotRate("DE")
		assert.Greater(t, next, rate)
		rate = next
	}
}

func TestDecayTowardZeroActivity(t *testing.T) {
	tr := NewTracker(time.Hour, 1)

	// Backdated bot events followed by one recent human event: the decay
	// applied at the recent update should all but erase the old weight.
	old := time.Now().Add(-50 * time.Hour)
	for i := 0; i < 10; i++ {
		tr.Record(old, "RU", "Russia", true, 0.9)
	}
	tr.Record(time.Now(), "RU", "Russia", false, 0.9)

	// 10 bot counts decayed by e^-50 are negligible next to 1 fresh human.
	assert.Less(t, tr.GetBotRate("RU"), 0.01)
}

func TestDecayedCountersShrinkButRatioHolds(t *testing.T) {
	tr := NewTracker(time.Hour, 5)

	// All-bot history far in the past: decayed counters tend to zero but
	// the rate stays the bot fraction, with no NaN.
	old := time.Now().Add(-100 * time.Hour)
	for i := 0; i < 10; i++ {
		tr.Record(old, "RU", "Russia", true, 0.95)
	}

	entries := tr.GetAll()
	require.Len(t, entries, 1)
	assert.Less(t, entries[0].DecayedTotalCount, 0.001)
	assert.Equal(t, int64(10), entries[0].RawTotalCount)

	rate := tr.GetBotRate("RU")
	assert.False(t, rate != rate, "rate must not be NaN")
	assert.InDelta(t, 1.0, rate, 1e-9)
}

func TestCountryCodeCaseInsensitive(t *testing.T) {
	tr := NewTracker(0, 1)
	now := time.Now()

	tr.Record(now, "gb", "United Kingdom", true, 0.9)
	tr.Record(now, "GB", "United Kingdom", true, 0.9)

	entries := tr.GetAll()
	require.Len(t, entries, 1)
	assert.Equal(t, "GB", entries[0].CountryCode)
	assert.Equal(t, int64(2), entries[0].RawTotalCount)
	assert.InDelta(t, 1.0, tr.GetBotRate("gB"), 1e-9)
}

func TestCountryNameUpdatedToLatest(t *testing.T) {
	tr := NewTracker(0, 1)
	now := time.Now()

	tr.Record(now, "CZ", "Czech Republic", false, 0.5)
	tr.Record(now, "CZ", "Czechia", false, 0.5)

	entries := tr.GetAll()
	require.Len(t, entries, 1)
	assert.Equal(t, "Czechia", entries[0].CountryName)
}

func TestGetTopBotCountriesOrdering(t *testing.T) {
	tr := NewTracker(0, 1)
	now := time.Now()

	// CN: rate 1.0 over 5 samples. RU: rate 1.0 over 10 samples.
	// US: rate 0.2 over 5 samples.
	for i := 0; i < 5; i++ {
		tr.Record(now, "CN", "China", true, 0.9)
	}
	for i := 0; i < 10; i++ {
		tr.Record(now, "RU", "Russia", true, 0.9)
	}
	tr.Record(now, "US", "United States", true, 0.9)
	for i := 0; i < 4; i++ {
		tr.Record(now, "US", "United States", false, 0.9)
	}

	top := tr.GetTopBotCountries(2)
	require.Len(t, top, 2)
	// Tie on rate 1.0 broken by larger decayed total.
	assert.Equal(t, "RU", top[0].CountryCode)
	assert.Equal(t, "CN", top[1].CountryCode)

	all := tr.GetTopBotCountries(10)
	require.Len(t, all, 3)
	assert.Equal(t, "US", all[2].CountryCode)
}

func TestReputationStateBuckets(t *testing.T) {
	tr := NewTracker(0, 1)
	now := time.Now()

	for i := 0; i < 10; i++ {
		tr.Record(now, "AA", "Highland", true, 0.9)
	}
	for i := 0; i < 7; i++ {
		tr.Record(now, "BB", "Midland", i < 2, 0.9)
	}
	tr.Record(now, "CC", "Lowland", false, 0.9)

	assert.Equal(t, "high_risk_country", tr.ReputationState("AA"))
	assert.Equal(t, "elevated_risk_country", tr.ReputationState("BB"))
	assert.Equal(t, "normal_country", tr.ReputationState("CC"))
	assert.Equal(t, "normal_country", tr.ReputationState("ZZ"))
}
