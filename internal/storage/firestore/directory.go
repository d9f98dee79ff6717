package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/hashicorp/go-multierror"
	"google.golang.org/api/iterator"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

const (
	DefaultCollection = "users"
	DefaultTokenField = "fcmToken"

	updatedAtSuffix = "UpdatedAt"
)

// ClientSource hands out the Firestore client. The client is created lazily
// with the rest of the Firebase app, so obtaining it can fail.
type ClientSource interface {
	Firestore(ctx context.Context) (*firestore.Client, error)
}

// StaticClient adapts an already constructed client to ClientSource.
type StaticClient struct {
	Client *firestore.Client
}

func (s StaticClient) Firestore(context.Context) (*firestore.Client, error) {
	if s.Client == nil {
		return nil, errors.New("nil firestore client")
	}
	return s.Client, nil
}

// Directory implements dispatch.Registry and dispatch.Pruner on a Firestore
// collection where each document is one recipient holding its token in a
// single field.
type Directory struct {
	source     ClientSource
	collection string
	tokenField string
}

// NewDirectory creates a Directory. Empty collection or field names fall
// back to the defaults.
func NewDirectory(source ClientSource, collection, tokenField string) *Directory {
	if collection == "" {
		collection = DefaultCollection
	}
	if tokenField == "" {
		tokenField = DefaultTokenField
	}
	return &Directory{
		source:     source,
		collection: collection,
		tokenField: tokenField,
	}
}

// --- READ (The Lookup) ---

// ListRecipients reads every document in the collection. The token field is
// returned untouched; filtering is the caller's job.
func (d *Directory) ListRecipients(ctx context.Context) ([]dispatch.Recipient, error) {
	client, err := d.source.Firestore(ctx)
	if err != nil {
		return nil, err
	}

	iter := client.Collection(d.collection).Documents(ctx)
	defer iter.Stop()

	var records []dispatch.Recipient
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		records = append(records, dispatch.Recipient{
			ID:    doc.Ref.ID,
			Token: doc.Data()[d.tokenField],
		})
	}
	return records, nil
}

// --- WRITE PATHS ---

func (d *Directory) Register(ctx context.Context, recipient urn.URN, token string) error {
	client, err := d.source.Firestore(ctx)
	if err != nil {
		return err
	}

	_, err = d.doc(client, recipient).Set(ctx, map[string]interface{}{
		d.tokenField:                   token,
		d.tokenField + updatedAtSuffix: firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to register token: %w", err)
	}
	return nil
}

// Unregister deletes the token field. The document itself (which may hold
// other profile data) stays. Missing documents are not an error.
func (d *Directory) Unregister(ctx context.Context, recipient urn.URN) error {
	client, err := d.source.Firestore(ctx)
	if err != nil {
		return err
	}

	_, err = d.doc(client, recipient).Set(ctx, map[string]interface{}{
		d.tokenField:                   firestore.Delete,
		d.tokenField + updatedAtSuffix: firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to unregister token: %w", err)
	}
	return nil
}

// Prune deletes the token field from every document holding one of tokens.
// It keeps going past failures and reports them together.
func (d *Directory) Prune(ctx context.Context, tokens []string) error {
	client, err := d.source.Firestore(ctx)
	if err != nil {
		return err
	}

	var result error
	for _, token := range tokens {
		docs, err := client.Collection(d.collection).Where(d.tokenField, "==", token).Documents(ctx).GetAll()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("lookup token: %w", err))
			continue
		}
		for _, doc := range docs {
			_, err := doc.Ref.Update(ctx, []firestore.Update{
				{Path: d.tokenField, Value: firestore.Delete},
			})
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("prune %s: %w", doc.Ref.ID, err))
			}
		}
	}
	return result
}

// --- Helpers ---

// doc: {collection}/{recipientURN}
func (d *Directory) doc(client *firestore.Client, recipient urn.URN) *firestore.DocumentRef {
	return client.Collection(d.collection).Doc(recipient.String())
}
