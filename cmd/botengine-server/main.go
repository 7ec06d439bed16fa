package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/subculture-collective/botengine/config"
	"github.com/subculture-collective/botengine/internal/actionpolicy"
	"github.com/subculture-collective/botengine/internal/cluster"
	"github.com/subculture-collective/botengine/internal/detector"
	"github.com/subculture-collective/botengine/internal/domain"
	"github.com/subculture-collective/botengine/internal/httpapi"
	"github.com/subculture-collective/botengine/internal/learning"
	"github.com/subculture-collective/botengine/internal/logging"
	"github.com/subculture-collective/botengine/internal/orchestrator"
	"github.com/subculture-collective/botengine/internal/policy"
	"github.com/subculture-collective/botengine/internal/reputation"
	"github.com/subculture-collective/botengine/internal/signature"
	"github.com/subculture-collective/botengine/internal/store"
	"github.com/subculture-collective/botengine/internal/telemetry"
	"github.com/subculture-collective/botengine/pkg/database"
	"github.com/subculture-collective/botengine/pkg/opensearch"
	"github.com/subculture-collective/botengine/pkg/redis"
	"github.com/subculture-collective/botengine/pkg/sentry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.LevelInfo)
	logger.Info("starting botengine", "environment", cfg.Server.Environment, "port", cfg.Server.Port)

	// Initialize Sentry
	if err := sentry.Init(&cfg.Sentry); err != nil {
		logger.Warn("sentry init failed, continuing without error reporting", "error", err.Error())
	}
	defer sentry.Close()

	// Signature secret: stable across restarts only when explicitly
	// configured; otherwise process-lifetime random.
	secret, err := buildSecret(cfg)
	if err != nil {
		log.Fatalf("Failed to build signature secret: %v", err)
	}

	// Durable stores: Postgres when reachable, in-memory otherwise. The
	// engine itself never requires persistence to serve requests.
	var (
		events   store.EventStore
		weights  store.WeightStore
		patterns store.LearnedPatternStore
	)
	if db, dbErr := database.NewDB(&cfg.Database); dbErr == nil {
		pgStore := store.NewPostgresStore(db, cfg.Detection.BotThreshold)
		if schemaErr := pgStore.EnsureSchema(context.Background()); schemaErr != nil {
			logger.Warn("schema setup failed", "error", schemaErr.Error())
		}
		defer db.Close()
		events = store.NewBreakerEventStore(pgStore)
		weights = pgStore
		patterns = pgStore
		logger.Info("using postgres-backed stores")
	} else {
		logger.Warn("postgres unavailable, using in-memory stores", "error", dbErr.Error())
		events = store.NewMemoryEventStore()
		weights = store.NewMemoryWeightStore()
		patterns = store.NewMemoryLearnedPatternStore()
	}

	// Redis: weight read cache + distributed throttle bookkeeping.
	var throttleDelayer actionpolicy.ThrottleDelayer = actionpolicy.NewLocalThrottleDelayer(1.5, 30, 5)
	if rc, redisErr := redis.NewClient(&cfg.Redis); redisErr == nil {
		defer rc.Close()
		weights = store.NewRedisCachedWeightStore(weights, rc, time.Minute)
		throttleDelayer = actionpolicy.NewRedisThrottleDelayer(rc, 1.5, time.Minute, 30)
		logger.Info("redis connected")
	} else {
		logger.Warn("redis unavailable, using process-local caching", "error", redisErr.Error())
	}

	// Telemetry sinks: Prometheus always, OpenSearch when enabled.
	sinks := []telemetry.Sink{telemetry.NewPrometheusSink(cfg.Detection.BotThreshold)}
	if cfg.OpenSearch.Enabled {
		osClient, osErr := opensearch.NewClient(&opensearch.Config{
			URL:                cfg.OpenSearch.URL,
			Username:           cfg.OpenSearch.Username,
			Password:           cfg.OpenSearch.Password,
			InsecureSkipVerify: cfg.OpenSearch.InsecureSkipVerify,
		})
		if osErr == nil {
			sinks = append(sinks, telemetry.NewOpenSearchSink(context.Background(), osClient, cfg.OpenSearch.DetectionIndex, cfg.Detection.BotThreshold))
			logger.Info("opensearch sink enabled", "index", cfg.OpenSearch.DetectionIndex)
		} else {
			logger.Warn("opensearch unavailable", "error", osErr.Error())
		}
	}
	multiSink := telemetry.NewMultiSink(sinks...)

	// Temporal state.
	coordinator := signature.NewCoordinator(secret, time.Duration(cfg.Signature.IdleTTLMinutes)*time.Minute)
	tracker := reputation.NewTracker(time.Duration(cfg.CountryReputation.DecayTauHours)*time.Hour, int64(cfg.CountryReputation.MinSampleSize))

	clusterCfg := cluster.Config{
		MinClusterSize:                  cfg.Cluster.MinClusterSize,
		SimilarityThreshold:             cfg.Cluster.SimilarityThreshold,
		MinBotProbabilityForClustering:  cfg.Cluster.MinBotProbabilityForClustering,
		MinBotDetectionsToTrigger:       cfg.Cluster.MinBotDetectionsToTrigger,
		MaxIterations:                   cfg.Cluster.MaxIterations,
		ProductSimilarityThreshold:      cfg.Cluster.ProductSimilarityThreshold,
		NetworkTemporalDensityThreshold: cfg.Cluster.NetworkTemporalDensityThreshold,
		TickInterval:                    time.Duration(cfg.Cluster.TickIntervalSeconds) * time.Second,
	}
	clusterSvc := cluster.NewService(clusterCfg, cluster.NewBehaviorSource(coordinator)).WithFamilyMerger(coordinator)

	// Learning feedback loop.
	errLog := func(format string, args ...any) { logger.Warn(fmt.Sprintf(format, args...)) }
	feedback := learning.New(learning.Config{MinObservationsForActivation: int64(cfg.Learning.MinObservationsForActivation)}, weights, patterns, errLog)

	// Detector set, gated by the config enable flags.
	detectors := buildDetectors(cfg, secret, coordinator)

	// Policies and actions.
	policies := policy.NewRegistry()
	actions := actionpolicy.NewRegistry(actionpolicy.Config{
		DefaultActionPolicyName:      cfg.Detection.DefaultActionPolicyName,
		BotTypeActionPolicies:        botTypeBindings(cfg),
		BlockStatusCode:              403,
		ThrottleDelaySeconds:         1.5,
		PIIMaskingEnabled:            cfg.ResponsePiiMasking.Enabled,
		AutoApplyBotThreshold:        cfg.ResponsePiiMasking.AutoApplyBotProbabilityThreshold,
		AutoApplyConfidenceThreshold: cfg.ResponsePiiMasking.AutoApplyConfidenceThreshold,
		RedactionToken:               "[REDACTED]",
	}, throttleDelayer, errLog)

	breakered := events
	sinkFn := func(ctx context.Context, evt orchestrator.Event) {
		multiSink.EmitDetection(ctx, telemetry.Event{
			Evidence:   evt.Evidence,
			Method:     evt.Method,
			Path:       evt.Path,
			Signature:  evt.Signature,
			OccurredAt: evt.OccurredAt,
		})
		if breakered != nil {
			_ = breakered.AddDetection(ctx, store.DetectionRecord{
				RequestID:  evt.Evidence.RequestID,
				Evidence:   evt.Evidence,
				Path:       evt.Path,
				Method:     evt.Method,
				OccurredAt: evt.OccurredAt,
			})
			if evt.Signature != "" {
				_, _ = breakered.UpsertSignature(ctx, evt.Signature, evt.OccurredAt)
			}
		}
	}

	recordOutcome := func(ctx context.Context, signatureValue string, wasBot bool, confidence float64, occurredAt time.Time) {
		feedback.Record(ctx, learning.Outcome{
			SignatureType:  "primary",
			SignatureValue: signatureValue,
			WasBot:         wasBot,
			Confidence:     confidence,
			OccurredAt:     occurredAt,
		})
	}

	orch := orchestrator.New(
		orchestrator.Config{
			LaneParallelism:       cfg.Detection.LaneParallelism,
			BotDetectionThreshold: cfg.Cluster.MinBotProbabilityForClustering,
			OnPanic:               sentry.CapturePanic,
		},
		detectors,
		policies,
		learning.LearnedWeightAdapter{Store: weights},
		secret,
		coordinator,
		tracker,
		clusterSvc,
		sinkFn,
		recordOutcome,
		errLog,
	)

	// Background loops.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go clusterSvc.Run(ctx)
	go evictionLoop(ctx, coordinator)

	router := httpapi.NewRouter(httpapi.Deps{
		Config:       cfg,
		Orchestrator: orch,
		Actions:      actions,
		Policies:     policies,
		Signatures:   coordinator,
		Clusters:     clusterSvc,
		Countries:    tracker,
		Events:       events,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", err)
	}
}

// buildSecret honors an operator-supplied stable key when cross-restart
// signature continuity is wanted; the default is a fresh random key per
// process.
func buildSecret(cfg *config.Config) (*signature.Secret, error) {
	if cfg.Signature.StableKeyHex != "" {
		key, err := hex.DecodeString(cfg.Signature.StableKeyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid SIGNATURE_STABLE_KEY_HEX: %w", err)
		}
		return signature.NewSecretFromKey(key)
	}
	return signature.NewSecret()
}

// buildDetectors assembles the detector set from the config enable flags.
func buildDetectors(cfg *config.Config, secret *signature.Secret, coordinator *signature.Coordinator) []detector.Detector {
	var out []detector.Detector
	if cfg.Detection.EnableUserAgentDetection || cfg.Detection.EnableHeaderAnalysis {
		out = append(out, detector.NewHeuristicDetector(1.0))
	}
	if cfg.Detection.EnableIpDetection {
		out = append(out, detector.NewIPDetector(0.8))
	}
	out = append(out, detector.NewSecurityToolDetector(1.2))
	out = append(out, detector.NewHoneypotDetector(1.5, cfg.Detection.EnableTestMode))
	if cfg.Detection.EnableBehavioralAnalysis {
		out = append(out, detector.NewBehavioralDetector(1.0, secret, coordinator, 5))
	}
	if cfg.Detection.EnableLlmDetection {
		// The concrete classifier is deployment-specific; without one
		// wired the AI detector stays disabled but registered, so
		// policies naming it don't error.
		out = append(out, detector.NewAIDetector(1.0, nil, nil))
	}
	return out
}

// botTypeBindings converts the string-keyed config map into the typed
// action-policy binding map.
func botTypeBindings(cfg *config.Config) map[domain.BotType]string {
	out := make(map[domain.BotType]string, len(cfg.Detection.BotTypeActionPolicies))
	for k, v := range cfg.Detection.BotTypeActionPolicies {
		out[domain.BotType(k)] = v
	}
	return out
}

// evictionLoop sweeps idle signatures every 10 minutes, independent of the
// configured idle TTL.
func evictionLoop(ctx context.Context, coordinator *signature.Coordinator) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			coordinator.EvictIdle(now)
		}
	}
}
