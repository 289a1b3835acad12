// Package app wires configuration into the CLI's component graph.
package app

import (
	"fmt"
	"path/filepath"

	"github.com/taskmaster-dev/taskmaster/internal/auth"
	"github.com/taskmaster-dev/taskmaster/internal/contextstore"
	"github.com/taskmaster-dev/taskmaster/internal/identity"
	"github.com/taskmaster-dev/taskmaster/internal/storage"
	"github.com/taskmaster-dev/taskmaster/internal/taskapi"
)

// App holds the wired components of one CLI invocation.
type App struct {
	cfg *Config

	provider *identity.Provider
	sessions *auth.SessionManager
	api      *taskapi.Client

	// Auth is the authentication surface commands talk to.
	Auth *auth.Manager
	// Resolver decides where task data lives.
	Resolver *storage.Resolver
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// I/O deferred to the first operation that needs the identity client.
	provider := identity.NewProvider(func() (*identity.Client, error) {
		store, err := cfg.Auth.NewSessionStore()
		if err != nil {
			return nil, fmt.Errorf("failed to create session store: %w", err)
		}
		return identity.NewClient(identity.Config{
			Endpoint:  cfg.Auth.Endpoint,
			PublicKey: cfg.Auth.PublicKey,
		}, store)
	})

	contexts := contextstore.New(filepath.Join(cfg.Storage.Dir, contextstore.DirName))
	sessions := auth.NewSessionManager(provider, contexts)
	resolver := storage.NewResolver(storage.Config{
		Type:        cfg.Storage.Type,
		APIEndpoint: cfg.Storage.APIEndpoint,
		APIToken:    cfg.Storage.APIToken,
		BaseDomain:  cfg.Auth.BaseDomain,
		Dir:         cfg.Storage.Dir,
	}, sessions)
	api := taskapi.NewClient(resolver.APIEndpoint(), sessions)

	return &App{
		cfg:      cfg,
		provider: provider,
		sessions: sessions,
		api:      api,
		Auth:     auth.NewManager(sessions, api),
		Resolver: resolver,
	}, nil
}

// TaskAPI returns the platform API client authenticated by the current
// session.
func (a *App) TaskAPI() *taskapi.Client {
	return a.api
}

// Close releases the component graph; the identity provider stops its
// refresh timer and drops the cached client.
func (a *App) Close() {
	a.provider.Close()
}
