package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subculture-collective/botengine/config"
	"github.com/subculture-collective/botengine/internal/actionpolicy"
	"github.com/subculture-collective/botengine/internal/detector"
	"github.com/subculture-collective/botengine/internal/orchestrator"
	"github.com/subculture-collective/botengine/internal/policy"
	"github.com/subculture-collective/botengine/internal/reputation"
	"github.com/subculture-collective/botengine/internal/signature"
	"github.com/subculture-collective/botengine/internal/store"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Server.GinMode = gin.TestMode
	cfg.Detection.BotThreshold = 0.7
	cfg.CORS.AllowedOrigins = "http://localhost:3000"

	secret, err := signature.NewSecret()
	require.NoError(t, err)

	detectors := []detector.Detector{
		detector.NewHeuristicDetector(1.0),
		detector.NewIPDetector(0.8),
		detector.NewSecurityToolDetector(1.2),
		detector.NewHoneypotDetector(1.5, false),
	}
	policies := policy.NewRegistry()
	coordinator := signature.NewCoordinator(secret, time.Hour)
	tracker := reputation.NewTracker(0, 0)

	orch := orchestrator.New(orchestrator.DefaultConfig(), detectors, policies, nil, secret, coordinator, tracker, nil, nil, nil, nil)

	actions := actionpolicy.NewRegistry(actionpolicy.DefaultConfig(), nil, nil)

	return NewRouter(Deps{
		Config:       cfg,
		Orchestrator: orch,
		Actions:      actions,
		Policies:     policies,
		Signatures:   coordinator,
		Countries:    tracker,
		Events:       store.NewMemoryEventStore(),
	})
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDetectEndpointBot(t *testing.T) {
	router := newTestRouter(t)

	w := postJSON(t, router, "/v1/detect", map[string]any{
		"method":     "GET",
		"path":       "/",
		"client_ip":  "198.51.100.4",
		"user_agent": "curl/8.4.0",
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp detectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsBot)
	assert.GreaterOrEqual(t, resp.BotProbability, 0.7)
	assert.NotEmpty(t, resp.RequestID)
	assert.True(t, resp.Action.Continue, "default action policy is allow")
}

func TestDetectEndpointHuman(t *testing.T) {
	router := newTestRouter(t)

	w := postJSON(t, router, "/v1/detect", map[string]any{
		"method":     "GET",
		"path":       "/",
		"client_ip":  "73.158.12.5",
		"user_agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120",
		"headers": map[string]string{
			"Accept":          "text/html",
			"Accept-Language": "en-US",
		},
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp detectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsBot)
	assert.Less(t, resp.BotProbability, 0.3)
}

func TestDetectEndpointRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/detect", bytes.NewReader([]byte("{not-json")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDetectEndpointRouteBoundBlock(t *testing.T) {
	router := newTestRouter(t)

	w := postJSON(t, router, "/v1/detect", map[string]any{
		"method":     "GET",
		"path":       "/admin",
		"client_ip":  "3.1.2.3",
		"user_agent": "sqlmap/1.5.2#stable",
		"route":      "block",
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp detectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Action.Continue)
	assert.Equal(t, 403, resp.Action.StatusCode)
}

func TestPolicyEndpoints(t *testing.T) {
	router := newTestRouter(t)

	w := postJSON(t, router, "/v1/policies", map[string]any{
		"name":                      "api-strict",
		"fast_path_detectors":       []string{"Heuristic", "SecurityTool"},
		"use_fast_path":             true,
		"early_exit_threshold":      0.2,
		"immediate_block_threshold": 0.9,
		"path_globs":                []string{"/api/*"},
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/policies/api-strict", nil)
	get := httptest.NewRecorder()
	router.ServeHTTP(get, req)
	assert.Equal(t, http.StatusOK, get.Code)

	del := httptest.NewRecorder()
	router.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/v1/policies/api-strict", nil))
	assert.Equal(t, http.StatusOK, del.Code)

	// Built-ins refuse removal.
	delBuiltin := httptest.NewRecorder()
	router.ServeHTTP(delBuiltin, httptest.NewRequest(http.MethodDelete, "/v1/policies/default", nil))
	assert.Equal(t, http.StatusConflict, delBuiltin.Code)
}

func TestSummaryEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/summary", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "total_requests")
}

func TestClustersEndpointWithoutService(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/clusters", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/clusters/by-signature/sig-x", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCountriesEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/countries/top?n=3", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDetectTestModeSimulationSubstitutesUA(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Server.GinMode = gin.TestMode
	cfg.Detection.BotThreshold = 0.7
	cfg.Detection.EnableTestMode = true
	cfg.Detection.TestModeSimulations = map[string]string{"curl-bot": "curl/8.4.0"}

	secret, err := signature.NewSecret()
	require.NoError(t, err)

	orch := orchestrator.New(orchestrator.DefaultConfig(), []detector.Detector{
		detector.NewHeuristicDetector(1.0),
	}, policy.NewRegistry(), nil, secret, nil, nil, nil, nil, nil, nil)

	router := NewRouter(Deps{
		Config:       cfg,
		Orchestrator: orch,
		Actions:      actionpolicy.NewRegistry(actionpolicy.DefaultConfig(), nil, nil),
		Policies:     policy.NewRegistry(),
	})

	w := postJSON(t, router, "/v1/detect", map[string]any{
		"method":     "GET",
		"path":       "/",
		"client_ip":  "73.158.12.5",
		"user_agent": "Mozilla/5.0 (Windows NT 10.0) Chrome/120",
		"headers":    map[string]string{"X-Test-Mode-Simulation": "curl-bot"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp detectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.IsBot, "simulated curl UA must classify as bot")
}
