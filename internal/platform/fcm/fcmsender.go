// Package fcm delivers notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// ClientSource hands out the messaging client. The client is created lazily
// on first use, so obtaining it can fail.
type ClientSource func(ctx context.Context) (MessagingClient, error)

// Options holds the platform delivery hints attached to every message.
type Options struct {
	AndroidChannelID string
	TTL              time.Duration
	WebIcon          string
}

// DefaultOptions are the delivery hints used when none are configured.
func DefaultOptions() Options {
	return Options{
		AndroidChannelID: "default_notifications",
		TTL:              24 * time.Hour,
		WebIcon:          "/assets/icons/icon-192x192.png",
	}
}

type Sender struct {
	source ClientSource
	opts   Options
	logger *slog.Logger
}

// NewSender creates a Sender that obtains its client from source.
func NewSender(source ClientSource, opts Options, logger *slog.Logger) *Sender {
	return &Sender{
		source: source,
		opts:   opts,
		logger: logger.With("component", "FCMSender"),
	}
}

// NewStaticSender wraps an already constructed client.
func NewStaticSender(client MessagingClient, opts Options, logger *slog.Logger) *Sender {
	return NewSender(func(context.Context) (MessagingClient, error) { return client, nil }, opts, logger)
}

func (s *Sender) client(ctx context.Context) (MessagingClient, error) {
	c, err := s.source(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dispatch.ErrBackendInit, err)
	}
	return c, nil
}

func (s *Sender) SendToToken(ctx context.Context, token string, msg dispatch.Message) (string, error) {
	c, err := s.client(ctx)
	if err != nil {
		return "", err
	}
	m := s.buildMessage(msg)
	m.Token = token
	return c.Send(ctx, m)
}

func (s *Sender) SendToTopic(ctx context.Context, topic string, msg dispatch.Message) (string, error) {
	c, err := s.client(ctx)
	if err != nil {
		return "", err
	}
	m := s.buildMessage(msg)
	m.Topic = topic
	return c.Send(ctx, m)
}

// SendMulticast sends one batch. Per-token failures are counted; tokens FCM
// reports as unregistered or malformed are listed in InvalidTokens.
func (s *Sender) SendMulticast(ctx context.Context, tokens []string, msg dispatch.Message) (*dispatch.BatchOutcome, error) {
	if len(tokens) == 0 {
		return &dispatch.BatchOutcome{}, nil
	}
	c, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	base := s.buildMessage(msg)
	mm := &messaging.MulticastMessage{
		Tokens:       tokens,
		Data:         base.Data,
		Notification: base.Notification,
		Android:      base.Android,
		Webpush:      base.Webpush,
		APNS:         base.APNS,
	}

	br, err := c.SendEachForMulticast(ctx, mm)
	if err != nil {
		return nil, fmt.Errorf("fcm transport failed: %w", err)
	}

	outcome := &dispatch.BatchOutcome{
		SuccessCount: br.SuccessCount,
		FailureCount: br.FailureCount,
	}
	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if resp.Success || idx >= len(tokens) {
				continue
			}
			if messaging.IsInvalidArgument(resp.Error) || messaging.IsRegistrationTokenNotRegistered(resp.Error) {
				outcome.InvalidTokens = append(outcome.InvalidTokens, tokens[idx])
			}
		}
		s.logger.Debug("Multicast had failures",
			"failure", br.FailureCount,
			"invalid", len(outcome.InvalidTokens),
		)
	}
	return outcome, nil
}

// buildMessage shapes the platform-specific payload. Target fields are left
// for the caller.
func (s *Sender) buildMessage(msg dispatch.Message) *messaging.Message {
	title, body := msg.Content.Title, msg.Content.Body
	ttl := s.opts.TTL
	badge := 1

	return &messaging.Message{
		Data: msg.Data,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			TTL:      &ttl,
			Notification: &messaging.AndroidNotification{
				ChannelID:             s.opts.AndroidChannelID,
				Priority:              messaging.PriorityHigh,
				DefaultSound:          true,
				DefaultVibrateTimings: true,
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{
						Title: title,
						Body:  body,
					},
					Sound:            "default",
					Badge:            &badge,
					ContentAvailable: true,
				},
			},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: title,
				Body:  body,
				Icon:  s.opts.WebIcon,
			},
		},
	}
}
