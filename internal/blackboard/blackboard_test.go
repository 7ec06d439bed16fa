package blackboard

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subculture-collective/botengine/internal/domain"
)

func newTestBoard() *Blackboard {
	headers := NewHeaders([][2]string{{"Accept", "text/html"}, {"accept-language", "en-US"}})
	return New("req-1", "GET", "/search", "q=test", headers, "198.51.100.7", "Mozilla/5.0")
}

func TestHeadersCaseInsensitive(t *testing.T) {
	bb := newTestBoard()

	v, ok := bb.Headers.Get("accept")
	require.True(t, ok)
	assert.Equal(t, "text/html", v)

	v, ok = bb.Headers.Get("ACCEPT-LANGUAGE")
	require.True(t, ok)
	assert.Equal(t, "en-US", v)

	_, ok = bb.Headers.Get("X-Missing")
	assert.False(t, ok)
}

func TestHeadersPreserveFirstSeenOrder(t *testing.T) {
	h := NewHeaders([][2]string{{"B-Header", "1"}, {"a-header", "2"}, {"b-header", "3"}})
	assert.Equal(t, []string{"B-Header", "A-Header"}, h.Keys())

	// Duplicate keeps its first-seen position but takes the last value.
	v, _ := h.Get("b-header")
	assert.Equal(t, "3", v)
}

func TestSignalFirstWriterWins(t *testing.T) {
	bb := newTestBoard()

	bb.SetSignal("ip.is_datacenter", true)
	bb.SetSignal("ip.is_datacenter", false)

	v, ok := bb.Signal("ip.is_datacenter")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestSignalAbsentMeansNoEvidence(t *testing.T) {
	bb := newTestBoard()

	_, ok := bb.Signal("never.written")
	assert.False(t, ok)
	assert.False(t, bb.SignalBool("never.written"))
}

func TestConcurrentSignalWrites(t *testing.T) {
	bb := newTestBoard()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			bb.SetSignal(fmt.Sprintf("signal.%d", n%8), n)
			bb.SetSignal("shared", n)
		}(i)
	}
	wg.Wait()

	snapshot := bb.SignalSnapshot()
	assert.GreaterOrEqual(t, len(snapshot), 8)
	_, ok := bb.Signal("shared")
	assert.True(t, ok)
}

func TestContributionsCompletionOrder(t *testing.T) {
	bb := newTestBoard()

	bb.AddContribution(domain.Contribution{DetectorName: "a", ConfidenceDelta: 0.1})
	bb.AddContributions([]domain.Contribution{
		{DetectorName: "b", ConfidenceDelta: 0.2},
		{DetectorName: "b", ConfidenceDelta: 0.3},
	})

	got := bb.Contributions()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].DetectorName)
	assert.Equal(t, int64(1), got[0].CompletedAt)
	assert.Equal(t, int64(2), got[1].CompletedAt)
	assert.Equal(t, int64(3), got[2].CompletedAt)
}

func TestContributionsSnapshotIsCopy(t *testing.T) {
	bb := newTestBoard()
	bb.AddContribution(domain.Contribution{DetectorName: "a"})

	snap := bb.Contributions()
	snap[0].DetectorName = "mutated"

	assert.Equal(t, "a", bb.Contributions()[0].DetectorName)
}

func TestCompletedAndFailedDetectors(t *testing.T) {
	bb := newTestBoard()

	bb.AddContribution(domain.Contribution{DetectorName: "ok"})
	bb.MarkCompleted("silent")
	bb.MarkFailed("broken")

	assert.ElementsMatch(t, []string{"ok", "silent"}, bb.CompletedDetectors())
	assert.Equal(t, []string{"broken"}, bb.FailedDetectors())
}

func TestRiskScoreRoundTrip(t *testing.T) {
	bb := newTestBoard()
	assert.Equal(t, 0.5, bb.RiskScore())

	bb.SetRiskScore(0.83)
	assert.Equal(t, 0.83, bb.RiskScore())
}
