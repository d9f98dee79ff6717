package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type YamlDirectoryConfig struct {
	Backend    string `yaml:"backend"`
	Collection string `yaml:"collection"`
	TokenField string `yaml:"token_field"`
	RedisKey   string `yaml:"redis_key"`
}

type YamlDispatchConfig struct {
	BatchSize          int    `yaml:"batch_size"`
	PruneInvalidTokens bool   `yaml:"prune_invalid_tokens"`
	AndroidChannelID   string `yaml:"android_channel_id"`
	MessageTTL         string `yaml:"message_ttl"`
	WebIcon            string `yaml:"web_icon"`
}

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// Secrets (api key, service account) are read from the environment only.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	MetricsPath            string              `yaml:"metrics_path"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	DirectoryConfig        YamlDirectoryConfig `yaml:"directory"`
	DispatchConfig         YamlDispatchConfig  `yaml:"dispatch"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	var ttl time.Duration
	if baseCfg.DispatchConfig.MessageTTL != "" {
		d, err := time.ParseDuration(baseCfg.DispatchConfig.MessageTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid dispatch.message_ttl %q: %w", baseCfg.DispatchConfig.MessageTTL, err)
		}
		ttl = d
	}

	cfg := &Config{
		ProjectID:   baseCfg.ProjectID,
		ListenAddr:  baseCfg.ListenAddr,
		MetricsPath: baseCfg.MetricsPath,
		Directory: DirectoryConfig{
			Backend:    baseCfg.DirectoryConfig.Backend,
			Collection: baseCfg.DirectoryConfig.Collection,
			TokenField: baseCfg.DirectoryConfig.TokenField,
			RedisKey:   baseCfg.DirectoryConfig.RedisKey,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
		},
		Dispatch: DispatchConfig{
			BatchSize:          baseCfg.DispatchConfig.BatchSize,
			PruneInvalidTokens: baseCfg.DispatchConfig.PruneInvalidTokens,
			AndroidChannelID:   baseCfg.DispatchConfig.AndroidChannelID,
			MessageTTL:         ttl,
			WebIcon:            baseCfg.DispatchConfig.WebIcon,
		},
		CorsAllowedOrigins:     baseCfg.CorsConfig.AllowedOrigins,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"directory_backend", cfg.Directory.Backend,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
