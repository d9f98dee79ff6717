// Package redis keeps the recipient directory in a single Redis hash of
// recipient id to token. It is a source of truth, not a cache in front of
// another store.
package redis

import (
	"context"
	"fmt"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

const DefaultKey = "push:recipients"

// HashClient defines the subset of Redis commands we need.
type HashClient interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error
	// HDelByValue atomically deletes the fields holding any of values and
	// reports how many were removed.
	HDelByValue(ctx context.Context, key string, values ...string) (int64, error)
}

// Directory implements dispatch.Registry and dispatch.Pruner.
type Directory struct {
	client HashClient
	key    string
}

func NewDirectory(client HashClient, key string) *Directory {
	if key == "" {
		key = DefaultKey
	}
	return &Directory{client: client, key: key}
}

func (d *Directory) ListRecipients(ctx context.Context) ([]dispatch.Recipient, error) {
	all, err := d.client.HGetAll(ctx, d.key)
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	records := make([]dispatch.Recipient, 0, len(all))
	for id, token := range all {
		records = append(records, dispatch.Recipient{ID: id, Token: token})
	}
	return records, nil
}

func (d *Directory) Register(ctx context.Context, recipient urn.URN, token string) error {
	return d.client.HSet(ctx, d.key, recipient.String(), token)
}

func (d *Directory) Unregister(ctx context.Context, recipient urn.URN) error {
	return d.client.HDel(ctx, d.key, recipient.String())
}

// Prune removes every recipient whose token is in tokens. A recipient that
// re-registered with a fresh token in the meantime is kept.
func (d *Directory) Prune(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if _, err := d.client.HDelByValue(ctx, d.key, tokens...); err != nil {
		return fmt.Errorf("redis prune failed: %w", err)
	}
	return nil
}
