package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// Dispatcher runs one request against the delivery backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error)
}

// NewProcessor runs every decoded request through the dispatcher.
// Sends are never retried: a failed dispatch is logged and the message is
// still acknowledged. observer may be nil.
func NewProcessor(
	dispatcher Dispatcher,
	observer dispatch.Observer,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[dispatch.Request] {
	logger = logger.With("component", "pipeline")

	return func(ctx context.Context, original messagepipeline.Message, request *dispatch.Request) error {
		start := time.Now()
		procLogger := logger.With(
			"audience", request.Audience.Kind,
			"pubsub_msg_id", original.ID,
		)

		outcome := "ok"
		result, err := dispatcher.Dispatch(ctx, request)
		switch {
		case err != nil:
			outcome = "dispatch_error"
			attrs := []any{"err", err}
			if result != nil && result.Summary != nil {
				attrs = append(attrs, "dispatch_id", result.Summary.DispatchID, "completed_batches", len(result.Summary.Batches))
			}
			procLogger.Error("Dispatch failed; message will not be retried", attrs...)
		case result.NoRecipients:
			outcome = "no_recipients"
			procLogger.Info("No recipients have a delivery token; dropping notification")
		case result.Summary != nil:
			procLogger.Info("Notification dispatched",
				"dispatch_id", result.Summary.DispatchID,
				"success", result.Summary.SuccessCount,
				"failure", result.Summary.FailureCount)
		default:
			procLogger.Info("Notification dispatched", "receipt", result.Receipt)
		}

		if observer != nil {
			observer.ObserveRequest(request.Audience.Kind, outcome, time.Since(start))
		}
		return nil
	}
}
