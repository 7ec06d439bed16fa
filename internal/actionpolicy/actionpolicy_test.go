package actionpolicy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subculture-collective/botengine/internal/domain"
)

func newTestRegistry(cfg Config) *Registry {
	return NewRegistry(cfg, nil, nil)
}

func botEvidence(prob, confidence float64, botType domain.BotType) domain.AggregatedEvidence {
	return domain.AggregatedEvidence{
		BotProbability: prob,
		Confidence:     confidence,
		RiskBand:       domain.RiskBandFor(prob),
		PrimaryBotType: botType,
	}
}

func TestResolvePrecedenceRouteBinding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BotTypeActionPolicies = map[domain.BotType]string{domain.BotTypeScanner: "block"}
	r := newTestRegistry(cfg)

	// Explicit per-route binding beats the bot-type mapping.
	action := r.Resolve(Request{Route: "throttle"}, botEvidence(0.99, 0.9, domain.BotTypeScanner))
	assert.Equal(t, "throttle", action.Name())
}

func TestResolvePrecedenceBotType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BotTypeActionPolicies = map[domain.BotType]string{domain.BotTypeScanner: "block"}
	r := newTestRegistry(cfg)

	action := r.Resolve(Request{}, botEvidence(0.99, 0.9, domain.BotTypeScanner))
	assert.Equal(t, "block", action.Name())
}

func TestResolvePrecedenceDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultActionPolicyName = "log-only"
	r := newTestRegistry(cfg)

	action := r.Resolve(Request{}, botEvidence(0.2, 0.1, domain.BotTypeUnknown))
	assert.Equal(t, "log-only", action.Name())
}

func TestResolveFinalFallbackAllow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultActionPolicyName = "nonexistent"
	r := newTestRegistry(cfg)

	action := r.Resolve(Request{Route: "also-nonexistent"}, botEvidence(0.2, 0.1, domain.BotTypeUnknown))
	assert.Equal(t, "allow", action.Name())
}

func TestBlockActionWritesResponse(t *testing.T) {
	r := newTestRegistry(DefaultConfig())

	result := r.Execute(context.Background(), Request{Route: "block"}, botEvidence(0.99, 0.9, domain.BotTypeScanner))
	assert.False(t, result.Continue)
	assert.Equal(t, 403, result.StatusCode)
}

func TestBlockActionConfigurableStatus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockStatusCode = 429
	r := newTestRegistry(cfg)

	result := r.Execute(context.Background(), Request{Route: "block"}, botEvidence(0.99, 0.9, domain.BotTypeScanner))
	assert.Equal(t, 429, result.StatusCode)
}

func TestAllowAndLogOnlyContinue(t *testing.T) {
	r := newTestRegistry(DefaultConfig())

	for _, name := range []string{"allow", "log-only"} {
		result := r.Execute(context.Background(), Request{Route: name}, botEvidence(0.5, 0.5, domain.BotTypeUnknown))
		assert.True(t, result.Continue, "%s must continue", name)
	}
}

func TestThrottleUsesConfiguredDelay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ThrottleDelaySeconds = 2.5
	r := newTestRegistry(cfg)

	result := r.Execute(context.Background(), Request{Route: "throttle"}, botEvidence(0.8, 0.6, domain.BotTypeScraper))
	assert.True(t, result.Continue)
	assert.Equal(t, 2.5, result.ThrottleDelay)
}

func TestChallengeStopsPipeline(t *testing.T) {
	r := newTestRegistry(DefaultConfig())

	result := r.Execute(context.Background(), Request{Route: "challenge"}, botEvidence(0.8, 0.6, domain.BotTypeUnknown))
	assert.False(t, result.Continue)
	assert.Equal(t, "cooperative", result.ChallengeKind)
}

func TestMaskPIIGuardrailsFallBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultActionPolicyName = "log-only"
	r := newTestRegistry(cfg)

	// Below the bot-probability threshold: falls back to the default.
	result := r.Execute(context.Background(), Request{Route: "mask-pii-response"}, botEvidence(0.5, 0.9, domain.BotTypeScraper))
	assert.True(t, result.Continue)

	// Below the confidence threshold: also falls back.
	result = r.Execute(context.Background(), Request{Route: "mask-pii-response"}, botEvidence(0.95, 0.5, domain.BotTypeScraper))
	assert.True(t, result.Continue)

	// Clearing both thresholds applies the masking policy.
	result = r.Execute(context.Background(), Request{Route: "mask-pii-response"}, botEvidence(0.95, 0.9, domain.BotTypeScraper))
	assert.False(t, result.Continue)
}

func TestMaskPIIDisabledFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PIIMaskingEnabled = false
	r := newTestRegistry(cfg)

	result := r.Execute(context.Background(), Request{Route: "mask-pii-response"}, botEvidence(0.99, 0.99, domain.BotTypeScraper))
	assert.True(t, result.Continue)
}

func TestMaskBodyRedactsPII(t *testing.T) {
	action := newMaskPIIAction("[GONE]")

	masked := action.MaskBody("contact alice@example.com from 203.0.113.9 with Bearer abc123token")
	assert.NotContains(t, masked, "alice@example.com")
	assert.NotContains(t, masked, "203.0.113.9")
	assert.NotContains(t, masked, "abc123token")
	assert.Contains(t, masked, "[GONE]")
}

func TestMaskBodyStripsHTML(t *testing.T) {
	action := newMaskPIIAction("[REDACTED]")

	masked := action.MaskBody(`hello <script>alert("x")</script> world`)
	assert.NotContains(t, masked, "<script>")
	assert.Contains(t, masked, "hello")
}

func TestProcessBlockMessage(t *testing.T) {
	msg := ProcessBlockMessage(botEvidence(0.97, 0.9, domain.BotTypeScanner))
	assert.Contains(t, msg, "very_high")
	assert.Contains(t, msg, "0.97")
}

func TestRegisterReplacesPolicy(t *testing.T) {
	r := newTestRegistry(DefaultConfig())
	r.Register(allowAction{})

	a, ok := r.Get("allow")
	require.True(t, ok)
	assert.Equal(t, "allow", a.Name())
}

func TestLocalThrottleDelayerBaseline(t *testing.T) {
	d := NewLocalThrottleDelayer(1.5, 60, 10)

	delay := d.ThrottleDelaySeconds(context.Background(), "sig-a")
	assert.Equal(t, 1.5, delay)
}

func TestLocalThrottleDelayerGrowsUnderPressure(t *testing.T) {
	d := NewLocalThrottleDelayer(0.1, 6, 1)

	var last float64
	for i := 0; i < 5; i++ {
		last = d.ThrottleDelaySeconds(context.Background(), "sig-hot")
	}
	// Burst exhausted at 0.1/s refill: waits stack up past the base.
	assert.Greater(t, last, 0.1)
}
