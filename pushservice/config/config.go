package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

const (
	BackendFirestore = "firestore"
	BackendRedis     = "redis"

	DefaultListenAddr  = ":8080"
	DefaultMetricsPath = "/internal/metrics"
	DefaultMessageTTL  = 24 * time.Hour
	MaxBatchSize       = 500
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// FirebaseConfig carries the service account. When both are empty the
// Firebase app falls back to Application Default Credentials.
type FirebaseConfig struct {
	ServiceAccountB64  string
	ServiceAccountJSON string
}

// DirectoryConfig selects where recipient tokens are read from.
type DirectoryConfig struct {
	Backend    string
	Collection string
	TokenField string
	RedisKey   string
}

type DispatchConfig struct {
	BatchSize          int
	PruneInvalidTokens bool
	AndroidChannelID   string
	MessageTTL         time.Duration
	WebIcon            string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string
	APIKey     string

	Firebase  FirebaseConfig
	Directory DirectoryConfig
	Redis     RedisConfig
	Dispatch  DispatchConfig

	CorsAllowedOrigins []string
	MetricsPath        string

	// Pub/Sub ingestion is enabled when SubscriptionID is set.
	SubscriptionID         string
	SubscriptionDLQTopicID string
	TopicID                string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// IngestionEnabled reports whether the Pub/Sub pipeline should run.
func (c *Config) IngestionEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}
	var parseErrs *multierror.Error
	overrideInt := func(key string, dst *int) {
		override(key, func(val string) {
			n, err := strconv.Atoi(val)
			if err != nil {
				parseErrs = multierror.Append(parseErrs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		})
	}

	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("API_KEY", func(v string) { cfg.APIKey = v })

	// Firebase credentials
	override("FIREBASE_SERVICE_ACCOUNT_B64", func(v string) { cfg.Firebase.ServiceAccountB64 = v })
	override("FIREBASE_SERVICE_ACCOUNT", func(v string) { cfg.Firebase.ServiceAccountJSON = v })

	// Directory
	override("DIRECTORY_BACKEND", func(v string) { cfg.Directory.Backend = strings.ToLower(v) })
	override("DIRECTORY_COLLECTION", func(v string) { cfg.Directory.Collection = v })
	override("DIRECTORY_TOKEN_FIELD", func(v string) { cfg.Directory.TokenField = v })
	override("REDIS_ADDR", func(v string) { cfg.Redis.Addr = v })
	override("REDIS_PASSWORD", func(v string) { cfg.Redis.Password = v })
	overrideInt("REDIS_DB", &cfg.Redis.DB)
	override("REDIS_KEY", func(v string) { cfg.Directory.RedisKey = v })

	// Dispatch
	overrideInt("DISPATCH_BATCH_SIZE", &cfg.Dispatch.BatchSize)
	override("PRUNE_INVALID_TOKENS", func(v string) {
		prune, err := strconv.ParseBool(v)
		if err != nil {
			parseErrs = multierror.Append(parseErrs, fmt.Errorf("PRUNE_INVALID_TOKENS: %w", err))
			return
		}
		cfg.Dispatch.PruneInvalidTokens = prune
	})
	override("ANDROID_CHANNEL_ID", func(v string) { cfg.Dispatch.AndroidChannelID = v })
	override("MESSAGE_TTL", func(v string) {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			parseErrs = multierror.Append(parseErrs, fmt.Errorf("MESSAGE_TTL: %w", err))
			return
		}
		cfg.Dispatch.MessageTTL = ttl
	})

	// CORS Overrides
	override("CORS_ALLOWED_ORIGINS", func(v string) { cfg.CorsAllowedOrigins = splitList(v) })
	override("METRICS_PATH", func(v string) { cfg.MetricsPath = v })

	// Ingestion
	override("SUBSCRIPTION_ID", func(v string) {
		cfg.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.SubscriptionDLQTopicID = v })
	override("TOPIC_ID", func(v string) { cfg.TopicID = v })
	overrideInt("NUM_PIPELINE_WORKERS", &cfg.NumPipelineWorkers)

	if err := parseErrs.ErrorOrNil(); err != nil {
		return nil, err
	}

	// 2. Defaults
	applyDefaults(cfg)

	// 3. Final Validation
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.Directory.Backend == "" {
		cfg.Directory.Backend = BackendFirestore
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = MaxBatchSize
	}
	if cfg.Dispatch.MessageTTL == 0 {
		cfg.Dispatch.MessageTTL = DefaultMessageTTL
	}
	if len(cfg.CorsAllowedOrigins) == 0 {
		cfg.CorsAllowedOrigins = []string{"*"}
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = DefaultMetricsPath
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}
}

// Validate reports every problem with cfg at once.
func Validate(cfg *Config) error {
	var result *multierror.Error

	if cfg.APIKey == "" {
		result = multierror.Append(result, errors.New("api_key is required (set via YAML or API_KEY env var)"))
	}
	if cfg.Dispatch.BatchSize < 1 || cfg.Dispatch.BatchSize > MaxBatchSize {
		result = multierror.Append(result, fmt.Errorf("dispatch batch_size must be between 1 and %d, got %d", MaxBatchSize, cfg.Dispatch.BatchSize))
	}
	if cfg.Dispatch.MessageTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("dispatch message_ttl must not be negative, got %s", cfg.Dispatch.MessageTTL))
	}
	switch cfg.Directory.Backend {
	case BackendFirestore:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			result = multierror.Append(result, errors.New("redis addr is required when the directory backend is redis"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown directory backend %q", cfg.Directory.Backend))
	}
	if !strings.HasPrefix(cfg.MetricsPath, "/") {
		result = multierror.Append(result, fmt.Errorf("metrics_path must start with '/', got %q", cfg.MetricsPath))
	}
	if cfg.IngestionEnabled() && cfg.ProjectID == "" {
		result = multierror.Append(result, errors.New("project_id is required when subscription_id is set"))
	}

	return result.ErrorOrNil()
}

func splitList(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
