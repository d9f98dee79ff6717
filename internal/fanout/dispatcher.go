// Package fanout routes a notification request to the delivery backend,
// expanding "send to everyone" into batched multicast calls.
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// Config tunes the dispatcher.
type Config struct {
	// BatchSize caps the tokens per multicast call. Zero or anything above
	// dispatch.MaxBatchSize means dispatch.MaxBatchSize.
	BatchSize int
	// PruneInvalidTokens removes tokens the backend reports as dead from
	// the directory, when the directory supports it.
	PruneInvalidTokens bool
	// Observer receives per-batch counts. Optional.
	Observer dispatch.Observer
	// Now is the clock used for payload timestamps. Defaults to time.Now.
	Now func() time.Time
}

type Dispatcher struct {
	sender    dispatch.Sender
	directory dispatch.Directory
	pruner    dispatch.Pruner
	batchSize int
	observer  dispatch.Observer
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a Dispatcher. directory may be nil when broadcasts are not
// needed; a broadcast then fails with dispatch.ErrDirectoryLookup.
func New(sender dispatch.Sender, directory dispatch.Directory, cfg Config, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		sender:    sender,
		directory: directory,
		batchSize: cfg.BatchSize,
		observer:  cfg.Observer,
		now:       cfg.Now,
		logger:    logger.With("component", "FanoutDispatcher"),
	}
	if d.batchSize <= 0 || d.batchSize > dispatch.MaxBatchSize {
		d.batchSize = dispatch.MaxBatchSize
	}
	if d.now == nil {
		d.now = time.Now
	}
	if cfg.PruneInvalidTokens {
		if p, ok := directory.(dispatch.Pruner); ok {
			d.pruner = p
		} else {
			d.logger.Warn("Token pruning requested but the directory cannot prune; disabled")
		}
	}
	return d
}

// Dispatch sends the request to its audience.
//
// A failed broadcast returns the summary of the batches completed before the
// failure together with an error wrapping dispatch.ErrDispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	msg := dispatch.NewMessage(req, d.now())
	result := &dispatch.Result{Audience: req.Audience.Kind}

	switch req.Audience.Kind {
	case dispatch.AudienceAll:
		summary, noRecipients, err := d.broadcast(ctx, msg)
		result.Summary = summary
		result.NoRecipients = noRecipients
		return result, err

	case dispatch.AudienceTopic:
		receipt, err := d.sender.SendToTopic(ctx, req.Audience.Topic, msg)
		if err != nil {
			return nil, fmt.Errorf("%w: topic %q: %v", dispatch.ErrDispatch, req.Audience.Topic, err)
		}
		d.logger.Info("Topic notification sent", "topic", req.Audience.Topic, "receipt", receipt)
		result.Receipt = receipt
		return result, nil

	case dispatch.AudienceTokens:
		outcome, err := d.sender.SendMulticast(ctx, req.Audience.Tokens, msg)
		if err != nil {
			return nil, fmt.Errorf("%w: multicast: %v", dispatch.ErrDispatch, err)
		}
		summary := &dispatch.Summary{DispatchID: uuid.NewString(), TotalTokens: len(req.Audience.Tokens)}
		summary.Add(d.record(0, len(req.Audience.Tokens), outcome))
		d.logger.Info("Multicast notification sent",
			"dispatch_id", summary.DispatchID,
			"success", summary.SuccessCount,
			"failure", summary.FailureCount,
		)
		result.Summary = summary
		return result, nil

	case dispatch.AudienceToken:
		receipt, err := d.sender.SendToToken(ctx, req.Audience.Token, msg)
		if err != nil {
			return nil, fmt.Errorf("%w: token: %v", dispatch.ErrDispatch, err)
		}
		d.logger.Info("Single notification sent", "receipt", receipt)
		result.Receipt = receipt
		return result, nil
	}

	return nil, dispatch.ErrNoAudience
}

// broadcast sends msg to every valid token in the directory. Batches go out
// strictly one after another.
func (d *Dispatcher) broadcast(ctx context.Context, msg dispatch.Message) (*dispatch.Summary, bool, error) {
	if d.directory == nil {
		return nil, false, fmt.Errorf("%w: no directory configured", dispatch.ErrDirectoryLookup)
	}

	records, err := d.directory.ListRecipients(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", dispatch.ErrDirectoryLookup, err)
	}

	tokens := UniqueTokens(records)
	summary := &dispatch.Summary{
		DispatchID:  uuid.NewString(),
		TotalTokens: len(tokens),
		Batches:     make([]dispatch.BatchResult, 0, BatchCount(len(tokens), d.batchSize)),
	}
	logger := d.logger.With("dispatch_id", summary.DispatchID)

	if len(tokens) == 0 {
		logger.Info("Broadcast found no recipients", "records", len(records))
		return summary, true, nil
	}

	logger.Info("Broadcast starting",
		"records", len(records),
		"unique_tokens", len(tokens),
		"batches", cap(summary.Batches),
	)

	for start := 0; start < len(tokens); start += d.batchSize {
		end := min(start+d.batchSize, len(tokens))
		batch := tokens[start:end]

		outcome, err := d.sender.SendMulticast(ctx, batch, msg)
		if err != nil {
			logger.Error("Broadcast batch failed; aborting remaining batches",
				"batch_index", start,
				"completed_batches", len(summary.Batches),
				"err", err,
			)
			return summary, false, fmt.Errorf("%w: batch at %d: %v", dispatch.ErrDispatch, start, err)
		}

		summary.Add(d.record(start, len(batch), outcome))
		logger.Debug("Broadcast batch sent",
			"batch_index", start,
			"size", len(batch),
			"success", outcome.SuccessCount,
			"failure", outcome.FailureCount,
		)
	}

	logger.Info("Broadcast complete",
		"success", summary.SuccessCount,
		"failure", summary.FailureCount,
	)
	return summary, false, nil
}

func (d *Dispatcher) record(index, size int, outcome *dispatch.BatchOutcome) dispatch.BatchResult {
	br := dispatch.BatchResult{
		Index:        index,
		Size:         size,
		SuccessCount: outcome.SuccessCount,
		FailureCount: outcome.FailureCount,
	}
	if d.observer != nil {
		d.observer.ObserveBatch(br.Size, br.SuccessCount, br.FailureCount)
	}
	if d.pruner != nil && len(outcome.InvalidTokens) > 0 {
		d.prune(outcome.InvalidTokens)
	}
	return br
}

// prune uses its own context, detached from the request.
func (d *Dispatcher) prune(tokens []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d.logger.Info("Pruning invalid tokens", "count", len(tokens))
	if err := d.pruner.Prune(ctx, tokens); err != nil {
		d.logger.Warn("Failed to prune invalid tokens", "count", len(tokens), "err", err)
	}
}
