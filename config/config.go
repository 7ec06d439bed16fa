package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server             ServerConfig
	Database           DatabaseConfig
	Redis              RedisConfig
	CORS               CORSConfig
	OpenSearch         OpenSearchConfig
	Sentry             SentryConfig
	Detection          DetectionConfig
	Cluster            ClusterConfig
	CountryReputation  CountryReputationConfig
	ResponsePiiMasking ResponsePiiMaskingConfig
	Learning           LearningConfig
	Signature          SignatureConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port        string
	GinMode     string
	BaseURL     string
	Environment string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins string
}

// OpenSearchConfig holds OpenSearch configuration
type OpenSearchConfig struct {
	URL                string
	Username           string
	Password           string
	InsecureSkipVerify bool
	DetectionIndex     string
	Enabled            bool
}

// SentryConfig holds Sentry error tracking configuration
type SentryConfig struct {
	DSN              string
	Environment      string
	Release          string
	TracesSampleRate float64
	Enabled          bool
}

// DetectionConfig holds the core engine tunables: the bot threshold, the
// per-concern detector enable flags, action-policy bindings, and test mode.
type DetectionConfig struct {
	BotThreshold            float64
	DefaultActionPolicyName string
	BotTypeActionPolicies   map[string]string

	EnableFastPath           bool
	EnableLlmDetection       bool
	EnableBehavioralAnalysis bool
	EnableIpDetection        bool
	EnableUserAgentDetection bool
	EnableHeaderAnalysis     bool

	LaneParallelism int

	EnableTestMode      bool
	TestModeSimulations map[string]string
}

// ClusterConfig holds background-clustering tunables
type ClusterConfig struct {
	MinClusterSize                  int
	SimilarityThreshold             float64
	MinBotProbabilityForClustering  float64
	MinBotDetectionsToTrigger       int
	MaxIterations                   int
	ProductSimilarityThreshold      float64
	NetworkTemporalDensityThreshold float64
	TickIntervalSeconds             int
}

// CountryReputationConfig holds country-reputation decay tunables
type CountryReputationConfig struct {
	DecayTauHours int
	MinSampleSize int
}

// ResponsePiiMaskingConfig holds the mask-pii-response action tunables
type ResponsePiiMaskingConfig struct {
	Enabled                          bool
	AutoApplyBotProbabilityThreshold float64
	AutoApplyConfidenceThreshold     float64
}

// LearningConfig holds feedback-loop tunables
type LearningConfig struct {
	MinObservationsForActivation int
}

// SignatureConfig holds signature-coordinator tunables. StableKeyHex is
// optional: when set, signatures survive process restarts, at the cost of
// making stored signatures linkable across deployments that share the key.
type SignatureConfig struct {
	StableKeyHex   string
	IdleTTLMinutes int
	HistorySize    int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			GinMode:     getEnv("GIN_MODE", "debug"),
			BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "botengine"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "botengine"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		OpenSearch: OpenSearchConfig{
			URL:                getEnv("OPENSEARCH_URL", "http://localhost:9200"),
			Username:           getEnv("OPENSEARCH_USERNAME", ""),
			Password:           getEnv("OPENSEARCH_PASSWORD", ""),
			InsecureSkipVerify: getEnvBool("OPENSEARCH_INSECURE_SKIP_VERIFY", false),
			DetectionIndex:     getEnv("OPENSEARCH_DETECTION_INDEX", "bot-detections"),
			Enabled:            getEnvBool("OPENSEARCH_ENABLED", false),
		},
		Sentry: SentryConfig{
			DSN:              getEnv("SENTRY_DSN", ""),
			Environment:      getEnv("SENTRY_ENVIRONMENT", "development"),
			Release:          getEnv("SENTRY_RELEASE", ""),
			TracesSampleRate: getEnvFloat("SENTRY_TRACES_SAMPLE_RATE", 1.0),
			Enabled:          getEnvBool("SENTRY_ENABLED", false),
		},
		Detection: DetectionConfig{
			BotThreshold:            clampFloat(getEnvFloat("BOT_THRESHOLD", 0.7), 0.0, 1.0),
			DefaultActionPolicyName: getEnv("DEFAULT_ACTION_POLICY", "allow"),
			BotTypeActionPolicies:   parseKeyValuePairs(getEnv("BOT_TYPE_ACTION_POLICIES", "")),

			EnableFastPath:           getEnvBool("ENABLE_FAST_PATH", true),
			EnableLlmDetection:       getEnvBool("ENABLE_LLM_DETECTION", false),
			EnableBehavioralAnalysis: getEnvBool("ENABLE_BEHAVIORAL_ANALYSIS", true),
			EnableIpDetection:        getEnvBool("ENABLE_IP_DETECTION", true),
			EnableUserAgentDetection: getEnvBool("ENABLE_USER_AGENT_DETECTION", true),
			EnableHeaderAnalysis:     getEnvBool("ENABLE_HEADER_ANALYSIS", true),

			LaneParallelism: getEnvInt("DETECTION_LANE_PARALLELISM", 8),

			EnableTestMode:      getEnvBool("ENABLE_TEST_MODE", false),
			TestModeSimulations: parseKeyValuePairs(getEnv("TEST_MODE_SIMULATIONS", "")),
		},
		Cluster: ClusterConfig{
			MinClusterSize:                  getEnvInt("CLUSTER_MIN_SIZE", 3),
			SimilarityThreshold:             clampFloat(getEnvFloat("CLUSTER_SIMILARITY_THRESHOLD", 0.7), 0.0, 1.0),
			MinBotProbabilityForClustering:  clampFloat(getEnvFloat("CLUSTER_MIN_BOT_PROBABILITY", 0.5), 0.0, 1.0),
			MinBotDetectionsToTrigger:       getEnvInt("CLUSTER_MIN_BOT_DETECTIONS_TO_TRIGGER", 20),
			MaxIterations:                   getEnvInt("CLUSTER_MAX_ITERATIONS", 10),
			ProductSimilarityThreshold:      clampFloat(getEnvFloat("CLUSTER_PRODUCT_SIMILARITY_THRESHOLD", 0.8), 0.0, 1.0),
			NetworkTemporalDensityThreshold: clampFloat(getEnvFloat("CLUSTER_NETWORK_TEMPORAL_DENSITY_THRESHOLD", 0.6), 0.0, 1.0),
			TickIntervalSeconds:             getEnvInt("CLUSTER_TICK_INTERVAL_SECONDS", 60),
		},
		CountryReputation: CountryReputationConfig{
			DecayTauHours: getEnvInt("COUNTRY_REPUTATION_DECAY_TAU_HOURS", 168),
			MinSampleSize: getEnvInt("COUNTRY_REPUTATION_MIN_SAMPLE_SIZE", 5),
		},
		ResponsePiiMasking: ResponsePiiMaskingConfig{
			Enabled:                          getEnvBool("RESPONSE_PII_MASKING_ENABLED", true),
			AutoApplyBotProbabilityThreshold: clampFloat(getEnvFloat("RESPONSE_PII_MASKING_BOT_THRESHOLD", 0.9), 0.0, 1.0),
			AutoApplyConfidenceThreshold:     clampFloat(getEnvFloat("RESPONSE_PII_MASKING_CONFIDENCE_THRESHOLD", 0.75), 0.0, 1.0),
		},
		Learning: LearningConfig{
			MinObservationsForActivation: getEnvInt("LEARNING_MIN_OBSERVATIONS_FOR_ACTIVATION", 10),
		},
		Signature: SignatureConfig{
			StableKeyHex:   getEnv("SIGNATURE_STABLE_KEY_HEX", ""),
			IdleTTLMinutes: getEnvInt("SIGNATURE_IDLE_TTL_MINUTES", 60),
			HistorySize:    getEnvInt("SIGNATURE_HISTORY_SIZE", 100),
		},
	}

	return config, nil
}

// GetDatabaseURL returns a PostgreSQL connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a fallback default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvInt gets an int environment variable with a fallback default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool gets a bool environment variable with a fallback default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// clampFloat clamps a float64 value between min and max
func clampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// parseKeyValuePairs parses "key1=value1,key2=value2" into a map, skipping
// malformed entries. Used for bot-type action bindings and test-mode
// simulations, both supplied as a single env var.
func parseKeyValuePairs(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}
