package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/subculture-collective/botengine/internal/actionpolicy"
	"github.com/subculture-collective/botengine/internal/orchestrator"
	"github.com/subculture-collective/botengine/internal/policy"
)

type handlers struct {
	deps Deps
}

// detectRequest is the inbound DTO for POST /v1/detect. Callers in front
// of the engine (an edge proxy, a middleware) relay the original request's
// shape here; the raw IP and UA never outlive the detection call.
type detectRequest struct {
	Method          string            `json:"method" binding:"required"`
	Path            string            `json:"path" binding:"required"`
	Query           string            `json:"query"`
	Headers         map[string]string `json:"headers"`
	ClientIP        string            `json:"client_ip"`
	UserAgent       string            `json:"user_agent"`
	ClientSideToken string            `json:"client_side_token"`
	CountryCode     string            `json:"country_code"`
	CountryName     string            `json:"country_name"`
	ASN             string            `json:"asn"`
	Route           string            `json:"route"`
}

// detectResponse couples the evidence with the resolved action so the
// caller can enforce it without a second round-trip.
type detectResponse struct {
	RequestID       string        `json:"request_id"`
	BotProbability  float64       `json:"bot_probability"`
	Confidence      float64       `json:"confidence"`
	RiskBand        string        `json:"risk_band"`
	IsBot           bool          `json:"is_bot"`
	PrimaryBotType  string        `json:"primary_bot_type"`
	PrimaryBotName  string        `json:"primary_bot_name,omitempty"`
	Detectors       []string      `json:"detectors"`
	FailedDetectors []string      `json:"failed_detectors,omitempty"`
	EarlyExit       bool          `json:"early_exit"`
	ProcessingMS    int64         `json:"processing_ms"`
	Action          actionOutcome `json:"action"`
}

type actionOutcome struct {
	Continue      bool    `json:"continue"`
	StatusCode    int     `json:"status_code,omitempty"`
	ThrottleDelay float64 `json:"throttle_delay_seconds,omitempty"`
	ChallengeKind string  `json:"challenge_kind,omitempty"`
}

func (h *handlers) detect(c *gin.Context) {
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rid := requestid.Get(c)
	if rid == "" {
		rid = uuid.NewString()
	}

	headers := make([][2]string, 0, len(req.Headers))
	for k, v := range req.Headers {
		headers = append(headers, [2]string{k, v})
	}

	// Test-mode simulations substitute a canned user agent so scenarios
	// can be replayed without forging real client traffic.
	if h.deps.Config != nil && h.deps.Config.Detection.EnableTestMode {
		for k, v := range req.Headers {
			if strings.EqualFold(k, "X-Test-Mode-Simulation") {
				if ua, ok := h.deps.Config.Detection.TestModeSimulations[v]; ok {
					req.UserAgent = ua
				}
				break
			}
		}
	}

	evidence := h.deps.Orchestrator.Detect(c.Request.Context(), orchestrator.Request{
		RequestID:       rid,
		Method:          req.Method,
		Path:            req.Path,
		Query:           req.Query,
		Headers:         headers,
		ClientIP:        req.ClientIP,
		UserAgent:       req.UserAgent,
		ClientSideToken: req.ClientSideToken,
		CountryCode:     req.CountryCode,
		CountryName:     req.CountryName,
		ASN:             req.ASN,
	})

	botThreshold := 0.7
	if h.deps.Config != nil {
		botThreshold = h.deps.Config.Detection.BotThreshold
	}

	outcome := actionOutcome{Continue: true}
	if h.deps.Actions != nil {
		result := h.deps.Actions.Execute(c.Request.Context(), actionpolicy.Request{
			Method: req.Method,
			Path:   req.Path,
			Route:  req.Route,
		}, evidence)
		outcome = actionOutcome{
			Continue:      result.Continue,
			StatusCode:    result.StatusCode,
			ThrottleDelay: result.ThrottleDelay,
			ChallengeKind: result.ChallengeKind,
		}
	}

	c.JSON(http.StatusOK, detectResponse{
		RequestID:       rid,
		BotProbability:  evidence.BotProbability,
		Confidence:      evidence.Confidence,
		RiskBand:        string(evidence.RiskBand),
		IsBot:           evidence.IsBot(botThreshold),
		PrimaryBotType:  string(evidence.PrimaryBotType),
		PrimaryBotName:  evidence.PrimaryBotName,
		Detectors:       evidence.ContributingDetectors,
		FailedDetectors: evidence.FailedDetectors,
		EarlyExit:       evidence.EarlyExit,
		ProcessingMS:    evidence.TotalProcessingTimeMS,
		Action:          outcome,
	})
}

func (h *handlers) listClusters(c *gin.Context) {
	if h.deps.Clusters == nil {
		c.JSON(http.StatusOK, gin.H{"clusters": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": h.deps.Clusters.GetClusters()})
}

func (h *handlers) findCluster(c *gin.Context) {
	if h.deps.Clusters == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "clustering not enabled"})
		return
	}
	cl, ok := h.deps.Clusters.FindCluster(c.Param("signature"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "signature not in any cluster"})
		return
	}
	c.JSON(http.StatusOK, cl)
}

func (h *handlers) getBehavior(c *gin.Context) {
	if h.deps.Signatures == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signature tracking not enabled"})
		return
	}
	b, ok := h.deps.Signatures.GetBehavior(c.Param("signature"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown signature"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"signature":               b.Signature,
		"first_seen":              b.FirstSeen,
		"last_seen":               b.LastSeen,
		"request_count":           b.RequestCount,
		"average_interval_sec":    b.AverageIntervalSec,
		"path_entropy":            b.PathEntropy,
		"timing_coefficient":      b.TimingCoefficient,
		"average_bot_probability": b.AverageBotProbability,
		"aberration_score":        b.AberrationScore,
		"is_aberrant":             b.IsAberrant,
		"country_code":            b.CountryCode,
		"asn":                     b.ASN,
		"is_datacenter":           b.IsDatacenter,
	})
}

func (h *handlers) getFamily(c *gin.Context) {
	if h.deps.Signatures == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signature tracking not enabled"})
		return
	}
	f, ok := h.deps.Signatures.GetFamily(c.Param("signature"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "signature not in any family"})
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *handlers) listCountries(c *gin.Context) {
	if h.deps.Countries == nil {
		c.JSON(http.StatusOK, gin.H{"countries": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"countries": h.deps.Countries.GetAll()})
}

func (h *handlers) topCountries(c *gin.Context) {
	if h.deps.Countries == nil {
		c.JSON(http.StatusOK, gin.H{"countries": []any{}})
		return
	}
	n := 10
	if raw := c.Query("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"countries": h.deps.Countries.GetTopBotCountries(n)})
}

func (h *handlers) getPolicy(c *gin.Context) {
	p, ok := h.deps.Policies.GetPolicy(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown policy"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// policyRequest is the admin DTO for registering a detection policy at
// runtime. Transitions are intentionally not settable over HTTP; they are
// code-level configuration.
type policyRequest struct {
	Name                    string             `json:"name" binding:"required"`
	FastPathDetectors       []string           `json:"fast_path_detectors"`
	SlowPathDetectors       []string           `json:"slow_path_detectors"`
	AIPathDetectors         []string           `json:"ai_path_detectors"`
	UseFastPath             bool               `json:"use_fast_path"`
	ForceSlowPath           bool               `json:"force_slow_path"`
	EscalateToAI            bool               `json:"escalate_to_ai"`
	EarlyExitThreshold      float64            `json:"early_exit_threshold"`
	ImmediateBlockThreshold float64            `json:"immediate_block_threshold"`
	AIEscalationThreshold   float64            `json:"ai_escalation_threshold"`
	WeightOverrides         map[string]float64 `json:"weight_overrides"`
	TimeoutMS               int                `json:"timeout_ms"`
	PathGlobs               []string           `json:"path_globs"`
}

func (h *handlers) registerPolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid policy body"})
		return
	}

	timeout := 2 * time.Second
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	h.deps.Policies.RegisterPolicy(policy.Policy{
		Name:                    req.Name,
		FastPathDetectors:       req.FastPathDetectors,
		SlowPathDetectors:       req.SlowPathDetectors,
		AIPathDetectors:         req.AIPathDetectors,
		UseFastPath:             req.UseFastPath,
		ForceSlowPath:           req.ForceSlowPath,
		EscalateToAI:            req.EscalateToAI,
		EarlyExitThreshold:      req.EarlyExitThreshold,
		ImmediateBlockThreshold: req.ImmediateBlockThreshold,
		AIEscalationThreshold:   req.AIEscalationThreshold,
		WeightOverrides:         req.WeightOverrides,
		Timeout:                 timeout,
		Enabled:                 true,
		PathGlobs:               req.PathGlobs,
	})
	c.JSON(http.StatusCreated, gin.H{"status": "registered", "name": req.Name})
}

func (h *handlers) removePolicy(c *gin.Context) {
	if err := h.deps.Policies.RemovePolicy(c.Param("name")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (h *handlers) summary(c *gin.Context) {
	if h.deps.Events == nil {
		c.JSON(http.StatusOK, gin.H{"total_requests": 0, "bot_requests": 0, "blocked_count": 0})
		return
	}
	sum, err := h.deps.Events.Summary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "summary unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_requests": sum.TotalRequests,
		"bot_requests":   sum.BotRequests,
		"blocked_count":  sum.BlockedCount,
	})
}
