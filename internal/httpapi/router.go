// Package httpapi is the thin Gin binding over the detection engine: it
// builds an orchestrator request from an inbound DTO, runs Detect, applies
// the resolved action policy, and serializes the evidence. Everything
// behavioral lives below this package; this is ambient surface only.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subculture-collective/botengine/config"
	"github.com/subculture-collective/botengine/internal/actionpolicy"
	"github.com/subculture-collective/botengine/internal/cluster"
	"github.com/subculture-collective/botengine/internal/orchestrator"
	"github.com/subculture-collective/botengine/internal/policy"
	"github.com/subculture-collective/botengine/internal/reputation"
	"github.com/subculture-collective/botengine/internal/signature"
	"github.com/subculture-collective/botengine/internal/store"
)

// Deps carries everything the HTTP surface needs; nil optional members
// disable their endpoints rather than failing startup.
type Deps struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	Actions      *actionpolicy.Registry
	Policies     *policy.Registry
	Signatures   *signature.Coordinator
	Clusters     *cluster.Service
	Countries    *reputation.Tracker
	Events       store.EventStore
}

// NewRouter builds the Gin engine with the standard middleware stack
// (recovery, request id, CORS) and all detection/admin routes.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Config != nil {
		gin.SetMode(deps.Config.Server.GinMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())

	corsConfig := cors.DefaultConfig()
	if deps.Config != nil && deps.Config.CORS.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(deps.Config.CORS.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", "X-Request-ID")
	router.Use(cors.New(corsConfig))

	h := &handlers{deps: deps}

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/detect", h.detect)

		v1.GET("/clusters", h.listClusters)
		v1.GET("/clusters/by-signature/:signature", h.findCluster)

		v1.GET("/signatures/:signature/behavior", h.getBehavior)
		v1.GET("/signatures/:signature/family", h.getFamily)

		v1.GET("/countries", h.listCountries)
		v1.GET("/countries/top", h.topCountries)

		v1.GET("/policies/:name", h.getPolicy)
		v1.POST("/policies", h.registerPolicy)
		v1.DELETE("/policies/:name", h.removePolicy)

		v1.GET("/summary", h.summary)
	}

	return router
}

// health is the liveness probe.
func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
