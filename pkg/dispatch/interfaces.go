// Package dispatch contains the public domain model and contracts for the
// push service: what a notification request looks like, and the collaborators
// (delivery backend, recipient directory) that the fan-out logic delegates to.
package dispatch

import (
	"context"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Sender defines the contract for the delivery backend (e.g. Google's FCM).
type Sender interface {
	// SendToToken delivers the message to one device token and returns the
	// backend's opaque receipt.
	SendToToken(ctx context.Context, token string, msg Message) (string, error)

	// SendToTopic delivers the message to every subscriber of a topic.
	SendToTopic(ctx context.Context, topic string, msg Message) (string, error)

	// SendMulticast delivers the message to a batch of tokens in one call.
	// Per-token failures are reported in the outcome, not as an error; an
	// error means the call itself failed.
	SendMulticast(ctx context.Context, tokens []string, msg Message) (*BatchOutcome, error)
}

// Directory is the external store of recipient records.
type Directory interface {
	// ListRecipients returns every recipient record, valid or not.
	ListRecipients(ctx context.Context) ([]Recipient, error)
}

// Registry is a Directory that can also be written to.
type Registry interface {
	Directory

	// Register stores (or replaces) the delivery token for a recipient.
	Register(ctx context.Context, recipient urn.URN, token string) error

	// Unregister removes the recipient's delivery token. It is idempotent.
	Unregister(ctx context.Context, recipient urn.URN) error
}

// Pruner removes tokens the delivery backend has reported as dead.
type Pruner interface {
	Prune(ctx context.Context, tokens []string) error
}

// Observer receives dispatch measurements.
type Observer interface {
	ObserveBatch(size, success, failure int)
	ObserveRequest(audience AudienceKind, outcome string, elapsed time.Duration)
}
