package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/detector"
	"github.com/subculture-collective/botengine/internal/domain"
	"github.com/subculture-collective/botengine/internal/policy"
	"github.com/subculture-collective/botengine/internal/signature"
)

// scriptedDetector is a configurable stand-in used for lane/timeout tests.
type scriptedDetector struct {
	name   string
	weight float64
	delta  float64
	block  bool // block until the lane context is cancelled
	panics bool
	calls  *int32
}

func (f *scriptedDetector) Name() string              { return f.name }
func (f *scriptedDetector) Category() domain.Category { return domain.CategoryHeuristic }
func (f *scriptedDetector) LaneHint() domain.Lane     { return domain.LaneFast }
func (f *scriptedDetector) DefaultWeight() float64    { return f.weight }

func (f *scriptedDetector) Contribute(ctx context.Context, _ *blackboard.Blackboard) []domain.Contribution {
	if f.calls != nil {
		atomic.AddInt32(f.calls, 1)
	}
	if f.panics {
		panic("scripted panic")
	}
	if f.block {
		<-ctx.Done()
		return nil
	}
	return []domain.Contribution{{
		DetectorName:    f.name,
		Category:        domain.CategoryHeuristic,
		ConfidenceDelta: f.delta,
		Weight:          f.weight,
		Reason:          "scripted",
	}}
}

func defaultDetectorSet(testMode bool) []detector.Detector {
	return []detector.Detector{
		detector.NewHeuristicDetector(1.0),
		detector.NewIPDetector(0.8),
		detector.NewSecurityToolDetector(1.2),
		detector.NewHoneypotDetector(1.5, testMode),
	}
}

func newTestOrchestrator(t *testing.T, detectors []detector.Detector, testMode bool) *Orchestrator {
	t.Helper()
	secret, err := signature.NewSecret()
	require.NoError(t, err)
	if detectors == nil {
		detectors = defaultDetectorSet(testMode)
	}
	return New(DefaultConfig(), detectors, policy.NewRegistry(), nil, secret, nil, nil, nil, nil, nil, nil)
}

func TestDetectHumanBrowser(t *testing.T) {
	orch := newTestOrchestrator(t, nil, false)

	evidence := orch.Detect(context.Background(), Request{
		RequestID: "req-human",
		Method:    "GET",
		Path:      "/",
		Headers: [][2]string{
			{"Accept", "text/html,application/xhtml+xml"},
			{"Accept-Language", "en-US,en;q=0.9"},
		},
		ClientIP:  "73.158.12.5",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120",
	})

	assert.Less(t, evidence.BotProbability, 0.3)
	assert.Contains(t, []domain.RiskBand{domain.RiskVeryLow, domain.RiskLow}, evidence.RiskBand)
	assert.False(t, evidence.IsBot(0.7))
	assert.Contains(t, evidence.ContributingDetectors, "Heuristic")
}

func TestDetectCurlBot(t *testing.T) {
	orch := newTestOrchestrator(t, nil, false)

	evidence := orch.Detect(context.Background(), Request{
		RequestID: "req-curl",
		Method:    "GET",
		Path:      "/",
		ClientIP:  "198.51.100.4",
		UserAgent: "curl/8.4.0",
	})

	assert.GreaterOrEqual(t, evidence.BotProbability, 0.7)
	assert.Contains(t, []domain.RiskBand{domain.RiskHigh, domain.RiskVeryHigh}, evidence.RiskBand)
	assert.Equal(t, domain.BotTypeTool, evidence.PrimaryBotType)
	assert.Equal(t, true, evidence.Signals["ua.is_tool"])
}

func TestDetectSqlmapScanner(t *testing.T) {
	orch := newTestOrchestrator(t, nil, false)

	evidence := orch.Detect(context.Background(), Request{
		RequestID: "req-sqlmap",
		Method:    "GET",
		Path:      "/",
		ClientIP:  "3.1.2.3",
		UserAgent: "sqlmap/1.5.2#stable",
	})

	assert.Greater(t, evidence.BotProbability, 0.9)
	assert.Equal(t, domain.BotTypeScanner, evidence.PrimaryBotType)
	assert.Equal(t, true, evidence.Signals["ip.is_datacenter"])
	assert.Equal(t, "sqlmap", evidence.Signals["security.tool_match"])
	assert.Contains(t, evidence.ContributingDetectors, "SecurityTool")
	assert.Contains(t, evidence.ContributingDetectors, "Ip")
}

func TestDetectHoneypotTestMode(t *testing.T) {
	orch := newTestOrchestrator(t, nil, true)

	evidence := orch.Detect(context.Background(), Request{
		RequestID: "req-honeypot",
		Method:    "GET",
		Path:      "/",
		Headers:   [][2]string{{"ml-bot-test-mode", "<test-honeypot:spammer>"}},
		ClientIP:  "198.51.100.4",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0) Chrome/120",
	})

	assert.Contains(t, evidence.ContributingDetectors, "ProjectHoneypot")
	assert.Equal(t, 100, evidence.Signals["HoneypotThreatScore"])
	assert.Equal(t, "CommentSpammer", evidence.PrimaryBotName)
}

func TestDetectHoneypotIgnoredOutsideTestMode(t *testing.T) {
	orch := newTestOrchestrator(t, nil, false)

	evidence := orch.Detect(context.Background(), Request{
		RequestID: "req-no-testmode",
		Method:    "GET",
		Path:      "/",
		Headers:   [][2]string{{"ml-bot-test-mode", "<test-honeypot:spammer>"}},
		ClientIP:  "198.51.100.4",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0) Chrome/120",
	})

	assert.NotContains(t, evidence.Signals, "HoneypotThreatScore")
}

func TestDetectNeverPanicsOnDetectorPanic(t *testing.T) {
	secret, err := signature.NewSecret()
	require.NoError(t, err)

	reg := policy.NewRegistry()
	custom := policy.Default()
	custom.Name = "default"
	custom.FastPathDetectors = []string{"panicky", "steady"}
	reg.RegisterPolicy(custom)

	detectors := []detector.Detector{
		&scriptedDetector{name: "panicky", weight: 1.0, panics: true},
		&scriptedDetector{name: "steady", weight: 1.0, delta: 0.4},
	}

	var panicked bool
	cfg := DefaultConfig()
	cfg.OnPanic = func(string, any) { panicked = true }
	orch := New(cfg, detectors, reg, nil, secret, nil, nil, nil, nil, nil, func(string, ...any) {})

	evidence := orch.Detect(context.Background(), Request{RequestID: "r", Method: "GET", Path: "/", UserAgent: "x"})

	assert.False(t, panicked, "panic must be contained at the detector boundary")
	assert.Contains(t, evidence.FailedDetectors, "panicky")
	assert.Contains(t, evidence.ContributingDetectors, "steady")
	assert.InDelta(t, 0.6, evidence.BotProbability, 1e-9)
}

func TestDetectTimeoutLandsInFailedDetectors(t *testing.T) {
	secret, err := signature.NewSecret()
	require.NoError(t, err)

	reg := policy.NewRegistry()
	custom := policy.Default()
	custom.Name = "default"
	custom.FastPathDetectors = []string{"slowpoke", "steady"}
	custom.Timeout = 100 * time.Millisecond
	reg.RegisterPolicy(custom)

	detectors := []detector.Detector{
		&scriptedDetector{name: "slowpoke", weight: 1.0, block: true},
		&scriptedDetector{name: "steady", weight: 1.0, delta: 0.4},
	}

	orch := New(DefaultConfig(), detectors, reg, nil, secret, nil, nil, nil, nil, nil, nil)
	evidence := orch.Detect(context.Background(), Request{RequestID: "r", Method: "GET", Path: "/", UserAgent: "x"})

	assert.Contains(t, evidence.FailedDetectors, "slowpoke")
	assert.Contains(t, evidence.ContributingDetectors, "steady")
}

func TestDetectImmediateBlock(t *testing.T) {
	secret, err := signature.NewSecret()
	require.NoError(t, err)

	reg := policy.NewRegistry()
	custom := policy.Default()
	custom.Name = "default"
	custom.FastPathDetectors = []string{"certain"}
	reg.RegisterPolicy(custom)

	detectors := []detector.Detector{&scriptedDetector{name: "certain", weight: 2.5, delta: 1.0}}

	orch := New(DefaultConfig(), detectors, reg, nil, secret, nil, nil, nil, nil, nil, nil)
	evidence := orch.Detect(context.Background(), Request{RequestID: "r", Method: "GET", Path: "/", UserAgent: "x"})

	require.NotNil(t, evidence.PolicyAction)
	assert.Equal(t, domain.ActionBlock, *evidence.PolicyAction)
	assert.Equal(t, 1.0, evidence.BotProbability)
}

func TestDetectEarlyExitSkipsSlowPath(t *testing.T) {
	secret, err := signature.NewSecret()
	require.NoError(t, err)

	var slowCalls int32
	reg := policy.NewRegistry()
	custom := policy.Default()
	custom.Name = "default"
	custom.FastPathDetectors = []string{"calm"}
	custom.SlowPathDetectors = []string{"expensive"}
	reg.RegisterPolicy(custom)

	detectors := []detector.Detector{
		&scriptedDetector{name: "calm", weight: 1.0, delta: -0.9},
		&scriptedDetector{name: "expensive", weight: 1.0, delta: 0.9, calls: &slowCalls},
	}

	orch := New(DefaultConfig(), detectors, reg, nil, secret, nil, nil, nil, nil, nil, nil)
	evidence := orch.Detect(context.Background(), Request{RequestID: "r", Method: "GET", Path: "/", UserAgent: "x"})

	assert.True(t, evidence.EarlyExit)
	assert.Equal(t, int32(0), atomic.LoadInt32(&slowCalls))
	assert.NotContains(t, evidence.ContributingDetectors, "expensive")
}

func TestDetectForceSlowPathRuns(t *testing.T) {
	secret, err := signature.NewSecret()
	require.NoError(t, err)

	var slowCalls int32
	reg := policy.NewRegistry()
	custom := policy.Default()
	custom.Name = "default"
	custom.FastPathDetectors = []string{"calm"}
	custom.SlowPathDetectors = []string{"expensive"}
	custom.ForceSlowPath = true
	reg.RegisterPolicy(custom)

	detectors := []detector.Detector{
		&scriptedDetector{name: "calm", weight: 1.0, delta: -0.9},
		&scriptedDetector{name: "expensive", weight: 1.0, delta: 0.2, calls: &slowCalls},
	}

	orch := New(DefaultConfig(), detectors, reg, nil, secret, nil, nil, nil, nil, nil, nil)
	evidence := orch.Detect(context.Background(), Request{RequestID: "r", Method: "GET", Path: "/", UserAgent: "x"})

	assert.Equal(t, int32(1), atomic.LoadInt32(&slowCalls))
	assert.Contains(t, evidence.ContributingDetectors, "expensive")
}

func TestDetectNotifiesCollaborators(t *testing.T) {
	secret, err := signature.NewSecret()
	require.NoError(t, err)

	reg := policy.NewRegistry()
	custom := policy.Default()
	custom.Name = "default"
	custom.FastPathDetectors = []string{"certain"}
	reg.RegisterPolicy(custom)

	sigs := &recordingSignatureProvider{}
	rep := &recordingReputation{}
	notifier := &recordingNotifier{}

	detectors := []detector.Detector{&scriptedDetector{name: "certain", weight: 2.0, delta: 1.0}}
	orch := New(DefaultConfig(), detectors, reg, nil, secret, sigs, rep, notifier, nil, nil, nil)

	orch.Detect(context.Background(), Request{
		RequestID:   "r",
		Method:      "GET",
		Path:        "/admin",
		ClientIP:    "198.51.100.4",
		UserAgent:   "bot/1.0",
		CountryCode: "RU",
		CountryName: "Russia",
	})

	// Finalize notifications are fire-and-forget goroutines.
	require.Eventually(t, func() bool {
		return sigs.observed() && rep.recorded() && notifier.notified()
	}, time.Second, 5*time.Millisecond)
}

// --- test doubles --------------------------------------------------------

type recordingSignatureProvider struct {
	mu   sync.Mutex
	seen bool
}

func (r *recordingSignatureProvider) Observe(_ time.Time, _ signature.Signature, _ string, _ float64, _ []string, _ map[string]any, _, _ string, _ bool) {
	r.mu.Lock()
	r.seen = true
	r.mu.Unlock()
}

func (r *recordingSignatureProvider) GetFamily(string) (signature.Family, bool) {
	return signature.Family{}, false
}

func (r *recordingSignatureProvider) observed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen
}

type recordingReputation struct {
	mu   sync.Mutex
	seen bool
}

func (r *recordingReputation) Record(_ time.Time, _, _ string, _ bool, _ float64) {
	r.mu.Lock()
	r.seen = true
	r.mu.Unlock()
}

func (r *recordingReputation) ReputationState(string) string { return "normal_country" }

func (r *recordingReputation) recorded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen bool
}

func (r *recordingNotifier) NotifyBotDetected() {
	r.mu.Lock()
	r.seen = true
	r.mu.Unlock()
}

func (r *recordingNotifier) notified() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen
}
