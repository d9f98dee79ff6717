// Package pushservice assembles the HTTP surface and the optional Pub/Sub
// ingestion pipeline into one runnable service.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-push-service/internal/api"
	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"github.com/tinywideclouds/go-push-service/pushservice/config"
)

const (
	SendPath       = "/api/send-notification"
	RegisterPath   = "/api/v1/recipients/register"
	UnregisterPath = "/api/v1/recipients/unregister"
)

// Dependencies are the collaborators the service is built from.
type Dependencies struct {
	Dispatcher api.Dispatcher
	Backend    api.Backend
	// Registry enables the recipient registration routes when set.
	Registry dispatch.Registry
	Observer dispatch.Observer
	// Gatherer enables the metrics route when set.
	Gatherer prometheus.Gatherer
	// Consumer enables the ingestion pipeline when set.
	Consumer messagepipeline.MessageConsumer
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[dispatch.Request]
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline (optional)
	var streamingService *messagepipeline.StreamingService[dispatch.Request]
	if deps.Consumer != nil {
		processor := pipeline.NewProcessor(deps.Dispatcher, deps.Observer, logger)

		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			deps.Consumer,
			pipeline.RequestTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 3. Routes
	registerRoutes(baseServer.Mux(), cfg, deps, logger)

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

type handleMux interface {
	Handle(pattern string, handler http.Handler)
}

func registerRoutes(mux handleMux, cfg *config.Config, deps Dependencies, logger *slog.Logger) {
	withCors := cors.Handler(cors.Options{
		AllowedOrigins: cfg.CorsAllowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", api.HeaderAuthorization, api.HeaderAPIKey},
		MaxAge:         300,
	})
	auth := api.NewAuthenticator(cfg.APIKey)

	// The send handler answers every method itself.
	sendAPI := api.NewSendAPI(deps.Dispatcher, deps.Backend, auth, deps.Observer, logger)
	mux.Handle(SendPath, withCors(sendAPI))

	if deps.Registry != nil {
		recipientAPI := api.NewRecipientAPI(deps.Registry, logger)
		handle := func(pattern string, h http.HandlerFunc) {
			mux.Handle(pattern, withCors(auth.Middleware(h)))
		}
		handle("POST "+RegisterPath, recipientAPI.Register)
		handle("POST "+UnregisterPath, recipientAPI.Unregister)

		mux.Handle("OPTIONS /api/v1/recipients/", withCors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	}

	if deps.Gatherer != nil {
		mux.Handle("GET "+cfg.MetricsPath, metrics.Handler(deps.Gatherer))
	}
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	w.SetReady(false)

	var result *multierror.Error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			result = multierror.Append(result, err)
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		result = multierror.Append(result, err)
	}
	w.logger.Info("Service shutdown complete.")
	return result.ErrorOrNil()
}
