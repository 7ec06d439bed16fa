package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subculture-collective/botengine/internal/blackboard"
	"github.com/subculture-collective/botengine/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func boardWithRisk(risk float64) *blackboard.Blackboard {
	bb := blackboard.New("req", "GET", "/", "", blackboard.NewHeaders(nil), "", "")
	bb.SetRiskScore(risk)
	return bb
}

func TestRegistrySeedsBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"default", "strict", "relaxed", "allowVerifiedBots"} {
		_, ok := r.GetPolicy(name)
		assert.True(t, ok, "missing built-in %s", name)
	}
}

func TestRegisterPolicyIdempotent(t *testing.T) {
	r := NewRegistry()
	p := Default()
	p.Name = "custom"
	p.PathGlobs = []string{"/api/*"}

	r.RegisterPolicy(p)
	r.RegisterPolicy(p)

	got, ok := r.GetPolicy("custom")
	require.True(t, ok)
	assert.Equal(t, []string{"/api/*"}, got.PathGlobs)

	// Registration order holds exactly one entry for the name: removing
	// it once removes it entirely.
	require.NoError(t, r.RemovePolicy("custom"))
	_, ok = r.GetPolicy("custom")
	assert.False(t, ok)
}

func TestRemovePolicyRefusesBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"default", "strict", "relaxed", "allowVerifiedBots"} {
		assert.Error(t, r.RemovePolicy(name))
	}
	assert.Error(t, r.RemovePolicy("never-registered"))
}

func TestGetPolicyForPathFirstMatchWins(t *testing.T) {
	r := NewRegistry()

	api := Default()
	api.Name = "api"
	api.PathGlobs = []string{"/api/*"}
	r.RegisterPolicy(api)

	apiAlt := Default()
	apiAlt.Name = "api-alt"
	apiAlt.PathGlobs = []string{"/api/*"}
	r.RegisterPolicy(apiAlt)

	// The default policy's catch-all glob is the fallback, not a
	// competitor: a registered path policy wins for its paths, and among
	// registered policies the first match in registration order wins.
	assert.Equal(t, "api", r.GetPolicyForPath("/api/users").Name)
	assert.Equal(t, "default", r.GetPolicyForPath("/public").Name)
}

func TestGetPolicyForPathSkipsDisabled(t *testing.T) {
	r := NewRegistry()

	p := Default()
	p.Name = "disabled-api"
	p.PathGlobs = []string{"/api/*"}
	p.Enabled = false
	r.RegisterPolicy(p)

	assert.Equal(t, "default", r.GetPolicyForPath("/api/users").Name)
}

func TestGetPolicyForPathGlob(t *testing.T) {
	r := &Registry{policies: map[string]*Policy{}}
	admin := Default()
	admin.Name = "admin"
	admin.PathGlobs = []string{"/admin/*"}
	r.RegisterPolicy(admin)
	def := Default()
	r.RegisterPolicy(def)

	assert.Equal(t, "admin", r.GetPolicyForPath("/admin/users").Name)
	assert.Equal(t, "default", r.GetPolicyForPath("/public").Name)
}

func TestGetPolicyReturnsClone(t *testing.T) {
	r := NewRegistry()
	p1, _ := r.GetPolicy("default")
	p1.EarlyExitThreshold = 0.99

	p2, _ := r.GetPolicy("default")
	assert.Equal(t, 0.3, p2.EarlyExitThreshold)
}

func TestEvaluateImmediateBlock(t *testing.T) {
	p := Default()
	d := Evaluate(&p, boardWithRisk(0.96), nil)

	require.NotNil(t, d.Action)
	assert.Equal(t, domain.ActionBlock, *d.Action)
	assert.Equal(t, "immediate block", d.Reason)
	assert.False(t, d.ShouldContinue)
}

func TestEvaluateFirstMatchingTransitionFires(t *testing.T) {
	challenge := domain.ActionChallenge
	throttle := domain.ActionThrottle
	p := Default()
	p.Transitions = []Transition{
		{WhenRiskExceeds: floatPtr(0.8), Action: &challenge, Description: "challenge high risk"},
		{WhenRiskExceeds: floatPtr(0.5), Action: &throttle, Description: "throttle medium risk"},
	}

	d := Evaluate(&p, boardWithRisk(0.85), nil)
	require.NotNil(t, d.Action)
	assert.Equal(t, domain.ActionChallenge, *d.Action)

	d = Evaluate(&p, boardWithRisk(0.6), nil)
	require.NotNil(t, d.Action)
	assert.Equal(t, domain.ActionThrottle, *d.Action)
}

func TestEvaluateConjunctivePredicates(t *testing.T) {
	block := domain.ActionBlock
	p := Default()
	p.Transitions = []Transition{
		{WhenRiskExceeds: floatPtr(0.5), WhenSignal: "ip.is_datacenter", Action: &block},
	}

	// Risk alone is not enough.
	d := Evaluate(&p, boardWithRisk(0.6), nil)
	assert.Nil(t, d.Action)
	assert.True(t, d.ShouldContinue)

	// Both predicates satisfied.
	bb := boardWithRisk(0.6)
	bb.SetSignal("ip.is_datacenter", true)
	d = Evaluate(&p, bb, nil)
	require.NotNil(t, d.Action)
	assert.Equal(t, domain.ActionBlock, *d.Action)
}

func TestEvaluateReputationStatePredicate(t *testing.T) {
	block := domain.ActionBlock
	p := Default()
	p.Transitions = []Transition{
		{WhenReputationState: "high_risk_country", Action: &block},
	}

	state := func(*blackboard.Blackboard) string { return "high_risk_country" }
	d := Evaluate(&p, boardWithRisk(0.1), state)
	require.NotNil(t, d.Action)

	calm := func(*blackboard.Blackboard) string { return "normal_country" }
	d = Evaluate(&p, boardWithRisk(0.1), calm)
	assert.Nil(t, d.Action)
}

func TestEvaluateChainFollowsNextPolicy(t *testing.T) {
	r := NewRegistry()

	start := Default()
	start.Name = "start"
	start.Transitions = []Transition{{WhenRiskExceeds: floatPtr(0.5), GoToPolicy: "strict"}}
	r.RegisterPolicy(start)

	startP, _ := r.GetPolicy("start")
	d, final := EvaluateChain(r, startP, boardWithRisk(0.6), nil)
	assert.True(t, d.ShouldContinue)
	assert.Equal(t, "strict", final.Name)
}

func TestEvaluateChainBoundsLoops(t *testing.T) {
	r := NewRegistry()

	a := Default()
	a.Name = "loop-a"
	a.Transitions = []Transition{{WhenRiskExceeds: floatPtr(0.1), GoToPolicy: "loop-b"}}
	b := Default()
	b.Name = "loop-b"
	b.Transitions = []Transition{{WhenRiskExceeds: floatPtr(0.1), GoToPolicy: "loop-a"}}
	r.RegisterPolicy(a)
	r.RegisterPolicy(b)

	startP, _ := r.GetPolicy("loop-a")
	d, _ := EvaluateChain(r, startP, boardWithRisk(0.6), nil)

	// The loop bound degrades to continue-with-no-action.
	assert.True(t, d.ShouldContinue)
	assert.Nil(t, d.Action)
}

func TestEvaluateChainUnknownNextPolicy(t *testing.T) {
	r := NewRegistry()

	p := Default()
	p.Name = "dangling"
	p.Transitions = []Transition{{WhenRiskExceeds: floatPtr(0.1), GoToPolicy: "does-not-exist"}}
	r.RegisterPolicy(p)

	startP, _ := r.GetPolicy("dangling")
	d, final := EvaluateChain(r, startP, boardWithRisk(0.5), nil)
	assert.True(t, d.ShouldContinue)
	assert.Equal(t, "dangling", final.Name)
}

type stubWeightStore struct {
	weights map[string]float64
}

func (s stubWeightStore) LearnedWeight(name string) (float64, bool) {
	w, ok := s.weights[name]
	return w, ok
}

func TestEffectiveWeightPrecedence(t *testing.T) {
	p := Default()
	p.WeightOverrides = map[string]float64{"Heuristic": 0.1}
	learned := stubWeightStore{weights: map[string]float64{"Heuristic": 0.9, "Ip": 0.4}}

	// Policy override beats learned and default.
	assert.Equal(t, 0.1, EffectiveWeight(&p, "Heuristic", 1.0, learned))
	// Learned beats default.
	assert.Equal(t, 0.4, EffectiveWeight(&p, "Ip", 1.0, learned))
	// Default when neither knows the detector.
	assert.Equal(t, 1.0, EffectiveWeight(&p, "Unknown", 1.0, learned))
	// Nil store falls straight through to the default.
	assert.Equal(t, 1.0, EffectiveWeight(&p, "Ip", 1.0, nil))
}
