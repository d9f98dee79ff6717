// Package firebaseapp owns the process-wide Firebase app and the clients
// built from it. The app is created lazily on the first request that needs
// it and then reused for the life of the process.
package firebaseapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
)

// State is the lifecycle of the Provider.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Clients are the SDK clients built from one Firebase app.
type Clients struct {
	Messaging *messaging.Client
	// Firestore is nil unless the directory lives in Firestore.
	Firestore *firestore.Client
}

// InitFunc builds the clients.
type InitFunc func(ctx context.Context) (*Clients, error)

// Config describes how to build the Firebase app.
type Config struct {
	ProjectID     string
	Credentials   Credentials
	WithFirestore bool
}

// Provider guards a single initialization of the clients.
//
// Concurrent callers that find an attempt in flight wait for it instead of
// starting their own. A successful result is kept forever; a failed one is
// not, so the next caller tries again.
type Provider struct {
	initFn InitFunc
	logger *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	state   State
	clients *Clients
}

func NewProvider(initFn InitFunc, logger *slog.Logger) *Provider {
	return &Provider{
		initFn: initFn,
		logger: logger.With("component", "FirebaseProvider"),
	}
}

// Init makes sure the clients exist. Errors wrap dispatch.ErrBackendInit.
func (p *Provider) Init(ctx context.Context) error {
	if _, err := p.get(ctx); err != nil {
		return err
	}
	return nil
}

// State reports where the Provider is in its lifecycle.
func (p *Provider) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Messaging returns the FCM client, initializing the app if needed.
func (p *Provider) Messaging(ctx context.Context) (*messaging.Client, error) {
	c, err := p.get(ctx)
	if err != nil {
		return nil, err
	}
	return c.Messaging, nil
}

// Firestore returns the Firestore client, initializing the app if needed.
func (p *Provider) Firestore(ctx context.Context) (*firestore.Client, error) {
	c, err := p.get(ctx)
	if err != nil {
		return nil, err
	}
	if c.Firestore == nil {
		return nil, errors.New("firestore client not enabled")
	}
	return c.Firestore, nil
}

// Close releases the clients if they were ever built.
func (p *Provider) Close() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.clients != nil && p.clients.Firestore != nil {
		return p.clients.Firestore.Close()
	}
	return nil
}

func (p *Provider) ready() *Clients {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == StateReady {
		return p.clients
	}
	return nil
}

func (p *Provider) get(ctx context.Context) (*Clients, error) {
	if c := p.ready(); c != nil {
		return c, nil
	}

	v, err, shared := p.group.Do("init", func() (any, error) {
		// A flight that finished between our check and Do may have won.
		if c := p.ready(); c != nil {
			return c, nil
		}
		p.setState(StateInitializing, nil)

		// The attempt is shared and its clients outlive every request, so it
		// must not die with the first caller.
		clients, err := p.initFn(context.WithoutCancel(ctx))
		if err != nil {
			p.setState(StateFailed, nil)
			p.logger.Error("Firebase initialization failed", "err", err)
			return nil, err
		}
		p.setState(StateReady, clients)
		p.logger.Info("Firebase initialized")
		return clients, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", dispatch.ErrBackendInit, err)
	}
	if shared {
		p.logger.Debug("Joined in-flight Firebase initialization")
	}
	return v.(*Clients), nil
}

func (p *Provider) setState(s State, clients *Clients) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
	p.clients = clients
}

// NewInitFunc returns the production InitFunc: a Firebase app built from the
// configured service account, or Application Default Credentials when none
// is configured.
func NewInitFunc(cfg Config, logger *slog.Logger) InitFunc {
	return func(ctx context.Context) (*Clients, error) {
		raw, saProject, source, err := cfg.Credentials.Resolve()
		if err != nil {
			return nil, err
		}

		projectID := cfg.ProjectID
		var opts []option.ClientOption
		if raw != nil {
			logger.Info("Service account loaded", "source", source, "project_id", saProject)
			if projectID == "" {
				projectID = saProject
			}
			opts = append(opts, option.WithCredentialsJSON(raw))
		} else {
			logger.Info("No service account configured; using application default credentials")
		}

		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
		}

		msgClient, err := app.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
		}
		clients := &Clients{Messaging: msgClient}

		if cfg.WithFirestore {
			fsClient, err := app.Firestore(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to create firestore client: %w", err)
			}
			clients.Firestore = fsClient
		}
		return clients, nil
	}
}
