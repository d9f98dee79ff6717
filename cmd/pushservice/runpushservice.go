package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-service/internal/fanout"
	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-service/internal/platform/firebaseapp"
	fsStore "github.com/tinywideclouds/go-push-service/internal/storage/firestore"
	redisStore "github.com/tinywideclouds/go-push-service/internal/storage/redis"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pushservice"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-service")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Firebase (initialized on first use) ---
	provider := firebaseapp.NewProvider(firebaseapp.NewInitFunc(firebaseapp.Config{
		ProjectID: cfg.ProjectID,
		Credentials: firebaseapp.Credentials{
			ServiceAccountB64:  cfg.Firebase.ServiceAccountB64,
			ServiceAccountJSON: cfg.Firebase.ServiceAccountJSON,
		},
		WithFirestore: cfg.Directory.Backend == config.BackendFirestore,
	}, logger), logger)
	defer provider.Close()

	sender := fcm.NewSender(func(ctx context.Context) (fcm.MessagingClient, error) {
		c, err := provider.Messaging(ctx)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, senderOptions(cfg), logger)

	// --- Recipient Directory ---
	registry, closeDirectory, err := newDirectory(cfg, provider, logger)
	if err != nil {
		logger.Error("Directory setup failed", "err", err)
		os.Exit(1)
	}
	defer closeDirectory()

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer := metrics.New(reg)

	// --- Dispatcher ---
	dispatcher := fanout.New(sender, registry, fanout.Config{
		BatchSize:          cfg.Dispatch.BatchSize,
		PruneInvalidTokens: cfg.Dispatch.PruneInvalidTokens,
		Observer:           observer,
	}, logger)

	deps := pushservice.Dependencies{
		Dispatcher: dispatcher,
		Backend:    provider,
		Registry:   registry,
		Observer:   observer,
		Gatherer:   reg,
	}

	// --- Ingestion (optional) ---
	if cfg.IngestionEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err := newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Ingestion consumer failed", "err", err)
			os.Exit(1)
		}
		deps.Consumer = consumer
	} else {
		logger.Info("Pub/Sub ingestion disabled; serving HTTP only")
	}

	service, err := pushservice.New(cfg, deps, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr, "directory", cfg.Directory.Backend)
		errCh <- service.Start(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := service.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", "err", err)
		}
	}
}

func senderOptions(cfg *config.Config) fcm.Options {
	opts := fcm.DefaultOptions()
	if cfg.Dispatch.AndroidChannelID != "" {
		opts.AndroidChannelID = cfg.Dispatch.AndroidChannelID
	}
	if cfg.Dispatch.MessageTTL > 0 {
		opts.TTL = cfg.Dispatch.MessageTTL
	}
	if cfg.Dispatch.WebIcon != "" {
		opts.WebIcon = cfg.Dispatch.WebIcon
	}
	return opts
}

// newDirectory builds the configured recipient directory and its cleanup.
func newDirectory(cfg *config.Config, provider *firebaseapp.Provider, logger *slog.Logger) (dispatch.Registry, func(), error) {
	switch cfg.Directory.Backend {
	case config.BackendRedis:
		logger.Info("Initializing Redis directory...", "addr", cfg.Redis.Addr)
		client, err := redisStore.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Redis close failed", "err", err)
			}
		}
		return redisStore.NewDirectory(client, cfg.Directory.RedisKey), closeFn, nil
	default:
		logger.Info("Directory initialized", "type", "firestore", "collection", cfg.Directory.Collection)
		return fsStore.NewDirectory(provider, cfg.Directory.Collection, cfg.Directory.TokenField), func() {}, nil
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 30,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: durationpb.New(5 * time.Second),
			MaximumBackoff: durationpb.New(time.Minute),
		},
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}

	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub %s: %w", sub, err)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
