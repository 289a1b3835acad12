package storage

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/taskmaster-dev/taskmaster/internal/autherr"
	"github.com/taskmaster-dev/taskmaster/internal/taskapi"
)

// apiEndpointEnvVar overrides the platform API endpoint without touching
// configuration files.
const apiEndpointEnvVar = "TASKMASTER_API_ENDPOINT"

// Config is the static storage configuration feeding resolution.
type Config struct {
	// Type is the configured storage mode: auto, file, or api.
	Type Type
	// APIEndpoint is the explicitly configured platform endpoint.
	APIEndpoint string
	// APIToken is a pre-provisioned access token; set together with
	// APIEndpoint it selects api storage without a session.
	APIToken string
	// BaseDomain builds the default endpoint when nothing explicit is set.
	BaseDomain string
	// Dir is the project directory holding local task data.
	Dir string
}

// Resolver turns the configured storage mode into a concrete Resolution.
// Auto mode weighs static configuration, session validity, and the selected
// brief; explicit modes validate instead of detect.
type Resolver struct {
	cfg      Config
	sessions SessionSource

	lookupEnv func(string) (string, bool)
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEnvLookup replaces the environment lookup, for tests.
func WithEnvLookup(lookup func(string) (string, bool)) ResolverOption {
	return func(r *Resolver) { r.lookupEnv = lookup }
}

// NewResolver creates a Resolver over the given configuration and session
// source.
func NewResolver(cfg Config, sessions SessionSource, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cfg:       cfg,
		sessions:  sessions,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve decides the backend for this invocation. The result is always
// TypeFile or TypeAPI.
func (r *Resolver) Resolve(ctx context.Context) (*Resolution, error) {
	switch r.cfg.Type {
	case TypeFile:
		return &Resolution{Type: TypeFile}, nil
	case TypeAPI:
		return r.resolveExplicitAPI(ctx)
	default:
		return r.resolveAuto(ctx), nil
	}
}

// resolveAuto implements detection. Static endpoint+token wins outright;
// otherwise api requires a valid session and a selected brief, and anything
// incomplete lands on file.
func (r *Resolver) resolveAuto(ctx context.Context) *Resolution {
	// Explicit configuration wins over session state.
	if r.cfg.APIEndpoint != "" && r.cfg.APIToken != "" {
		res := &Resolution{
			Type:        TypeAPI,
			Endpoint:    r.cfg.APIEndpoint,
			AccessToken: r.cfg.APIToken,
		}
		r.attachBrief(ctx, res)
		return res
	}

	if !r.sessions.HasValidSession(ctx) {
		return &Resolution{Type: TypeFile}
	}

	uc, err := r.sessions.UserContext(ctx)
	if err != nil {
		slog.WarnContext(ctx, "working context unreadable, using file storage", "error", err)
		return &Resolution{Type: TypeFile}
	}
	if !uc.HasBrief() {
		// A session alone is not sufficient; remote storage needs a target
		// brief.
		return &Resolution{Type: TypeFile}
	}

	token, err := r.sessions.AccessToken(ctx)
	if err != nil || token == "" {
		// A broken API backend is worse than local storage.
		slog.WarnContext(ctx, "session lost its access token, using file storage", "error", err)
		return &Resolution{Type: TypeFile}
	}

	endpoint := r.resolveEndpoint()
	if endpoint == "" {
		slog.WarnContext(ctx, "no API endpoint resolvable, using file storage")
		return &Resolution{Type: TypeFile}
	}

	return &Resolution{
		Type:        TypeAPI,
		Endpoint:    endpoint,
		AccessToken: token,
		BriefID:     uc.SelectedContext.BriefID,
		BriefName:   uc.SelectedContext.BriefName,
	}
}

// resolveExplicitAPI validates api mode, sourcing what it can from the
// session before failing with every missing field named.
func (r *Resolver) resolveExplicitAPI(ctx context.Context) (*Resolution, error) {
	var missing []string

	endpoint := r.resolveEndpoint()
	if endpoint == "" {
		missing = append(missing, "API endpoint (storage.api_endpoint or "+apiEndpointEnvVar+")")
	}

	token := r.cfg.APIToken
	if token == "" {
		if t, err := r.sessions.AccessToken(ctx); err == nil {
			token = t
		}
	}
	if token == "" {
		missing = append(missing, "access token (storage.api_token, or sign in)")
	}

	if len(missing) > 0 {
		return nil, autherr.Newf(autherr.MissingConfiguration,
			"api storage requires %s", strings.Join(missing, " and "))
	}

	res := &Resolution{
		Type:        TypeAPI,
		Endpoint:    endpoint,
		AccessToken: token,
	}
	r.attachBrief(ctx, res)
	return res, nil
}

// APIEndpoint returns the platform endpoint the resolver would use,
// independent of the resolved storage type. Workspace selection needs the
// API before any brief is selected, while storage still resolves to file.
func (r *Resolver) APIEndpoint() string {
	return r.resolveEndpoint()
}

// resolveEndpoint applies the endpoint priority: explicit configuration,
// then the environment override, then the default built from the base
// domain.
func (r *Resolver) resolveEndpoint() string {
	if r.cfg.APIEndpoint != "" {
		return r.cfg.APIEndpoint
	}
	if endpoint, ok := r.lookupEnv(apiEndpointEnvVar); ok && endpoint != "" {
		return endpoint
	}
	if r.cfg.BaseDomain != "" {
		return taskapi.DefaultEndpoint(r.cfg.BaseDomain)
	}
	return ""
}

// attachBrief decorates an api resolution with the selected brief, when one
// exists. The brief is informational here; its absence does not fail
// explicitly configured api storage.
func (r *Resolver) attachBrief(ctx context.Context, res *Resolution) {
	uc, err := r.sessions.UserContext(ctx)
	if err != nil || !uc.HasBrief() {
		return
	}
	res.BriefID = uc.SelectedContext.BriefID
	res.BriefName = uc.SelectedContext.BriefName
}

// Backend resolves and constructs the matching backend implementation.
func (r *Resolver) Backend(ctx context.Context) (Backend, error) {
	res, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	switch res.Type {
	case TypeAPI:
		return NewAPIBackend(*res), nil
	default:
		return NewFileBackend(r.cfg.Dir), nil
	}
}
