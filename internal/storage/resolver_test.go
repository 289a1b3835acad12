package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/taskmaster-dev/taskmaster/internal/autherr"
	"github.com/taskmaster-dev/taskmaster/internal/contextstore"
)

type fakeSessions struct {
	valid    bool
	token    string
	tokenErr error
	uc       *contextstore.UserContext
	ucErr    error
}

func (f *fakeSessions) HasValidSession(context.Context) bool { return f.valid }

func (f *fakeSessions) AccessToken(context.Context) (string, error) {
	return f.token, f.tokenErr
}

func (f *fakeSessions) UserContext(context.Context) (*contextstore.UserContext, error) {
	return f.uc, f.ucErr
}

func noEnv(string) (string, bool) { return "", false }

func briefSelection() *contextstore.UserContext {
	return &contextstore.UserContext{
		UserID: "user-1",
		SelectedContext: &contextstore.SelectedContext{
			OrgID:     "org-1",
			BriefID:   "brief-1",
			BriefName: "Q3 launch",
		},
	}
}

func TestResolveAuto(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		sessions *fakeSessions
		want     Resolution
	}{
		{
			name:     "no session falls back to file",
			cfg:      Config{Type: TypeAuto, BaseDomain: "taskmaster.dev"},
			sessions: &fakeSessions{},
			want:     Resolution{Type: TypeFile},
		},
		{
			name: "session without a selection stays on file",
			cfg:  Config{Type: TypeAuto, BaseDomain: "taskmaster.dev"},
			sessions: &fakeSessions{
				valid: true,
				token: "tok-1",
				uc:    &contextstore.UserContext{UserID: "user-1"},
			},
			want: Resolution{Type: TypeFile},
		},
		{
			name: "selection without a brief stays on file",
			cfg:  Config{Type: TypeAuto, BaseDomain: "taskmaster.dev"},
			sessions: &fakeSessions{
				valid: true,
				token: "tok-1",
				uc: &contextstore.UserContext{
					UserID:          "user-1",
					SelectedContext: &contextstore.SelectedContext{OrgID: "org-1"},
				},
			},
			want: Resolution{Type: TypeFile},
		},
		{
			name:     "session with brief and token selects api",
			cfg:      Config{Type: TypeAuto, BaseDomain: "taskmaster.dev"},
			sessions: &fakeSessions{valid: true, token: "tok-1", uc: briefSelection()},
			want: Resolution{
				Type:        TypeAPI,
				Endpoint:    "https://taskmaster.dev/api/v1",
				AccessToken: "tok-1",
				BriefID:     "brief-1",
				BriefName:   "Q3 launch",
			},
		},
		{
			name: "static endpoint and token win without a session",
			cfg: Config{
				Type:        TypeAuto,
				APIEndpoint: "https://api.example.com",
				APIToken:    "static-1",
			},
			sessions: &fakeSessions{},
			want: Resolution{
				Type:        TypeAPI,
				Endpoint:    "https://api.example.com",
				AccessToken: "static-1",
			},
		},
		{
			name: "static configuration picks up a stored brief",
			cfg: Config{
				Type:        TypeAuto,
				APIEndpoint: "https://api.example.com",
				APIToken:    "static-1",
			},
			sessions: &fakeSessions{uc: briefSelection()},
			want: Resolution{
				Type:        TypeAPI,
				Endpoint:    "https://api.example.com",
				AccessToken: "static-1",
				BriefID:     "brief-1",
				BriefName:   "Q3 launch",
			},
		},
		{
			name:     "missing token despite valid session falls back to file",
			cfg:      Config{Type: TypeAuto, BaseDomain: "taskmaster.dev"},
			sessions: &fakeSessions{valid: true, token: "", uc: briefSelection()},
			want:     Resolution{Type: TypeFile},
		},
		{
			name: "token refresh failure falls back to file",
			cfg:  Config{Type: TypeAuto, BaseDomain: "taskmaster.dev"},
			sessions: &fakeSessions{
				valid:    true,
				tokenErr: errors.New("refresh rejected"),
				uc:       briefSelection(),
			},
			want: Resolution{Type: TypeFile},
		},
		{
			name: "unreadable context falls back to file",
			cfg:  Config{Type: TypeAuto, BaseDomain: "taskmaster.dev"},
			sessions: &fakeSessions{
				valid: true,
				token: "tok-1",
				ucErr: errors.New("corrupt context file"),
			},
			want: Resolution{Type: TypeFile},
		},
		{
			name:     "no endpoint resolvable falls back to file",
			cfg:      Config{Type: TypeAuto},
			sessions: &fakeSessions{valid: true, token: "tok-1", uc: briefSelection()},
			want:     Resolution{Type: TypeFile},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.cfg, tt.sessions, WithEnvLookup(noEnv))

			got, err := r.Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if *got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestResolveExplicitFileSkipsDetection(t *testing.T) {
	// Even a fully usable api setup must not override an explicit choice.
	sessions := &fakeSessions{valid: true, token: "tok-1", uc: briefSelection()}
	r := NewResolver(Config{Type: TypeFile, BaseDomain: "taskmaster.dev"}, sessions, WithEnvLookup(noEnv))

	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Type != TypeFile {
		t.Errorf("Resolve().Type = %q, want %q", got.Type, TypeFile)
	}
}

func TestResolveExplicitAPIMissingConfiguration(t *testing.T) {
	r := NewResolver(Config{Type: TypeAPI}, &fakeSessions{}, WithEnvLookup(noEnv))

	_, err := r.Resolve(context.Background())
	if !autherr.HasCode(err, autherr.MissingConfiguration) {
		t.Fatalf("Resolve() error = %v, want %s", err, autherr.MissingConfiguration)
	}
	for _, field := range []string{"storage.api_endpoint", "TASKMASTER_API_ENDPOINT", "storage.api_token"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not name %s", err, field)
		}
	}
}

func TestResolveExplicitAPIMissingTokenOnly(t *testing.T) {
	cfg := Config{Type: TypeAPI, APIEndpoint: "https://api.example.com"}
	r := NewResolver(cfg, &fakeSessions{}, WithEnvLookup(noEnv))

	_, err := r.Resolve(context.Background())
	if !autherr.HasCode(err, autherr.MissingConfiguration) {
		t.Fatalf("Resolve() error = %v, want %s", err, autherr.MissingConfiguration)
	}
	if strings.Contains(err.Error(), "storage.api_endpoint") {
		t.Errorf("error %q names the endpoint, but only the token is missing", err)
	}
}

func TestResolveExplicitAPISourcesTokenFromSession(t *testing.T) {
	sessions := &fakeSessions{valid: true, token: "session-tok", uc: briefSelection()}
	cfg := Config{Type: TypeAPI, APIEndpoint: "https://api.example.com"}
	r := NewResolver(cfg, sessions, WithEnvLookup(noEnv))

	got, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	want := Resolution{
		Type:        TypeAPI,
		Endpoint:    "https://api.example.com",
		AccessToken: "session-tok",
		BriefID:     "brief-1",
		BriefName:   "Q3 launch",
	}
	if *got != want {
		t.Errorf("Resolve() = %+v, want %+v", *got, want)
	}
}

func TestResolveEndpointPriority(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		env  map[string]string
		want string
	}{
		{
			name: "explicit configuration wins",
			cfg:  Config{APIEndpoint: "https://cfg.example.com", BaseDomain: "taskmaster.dev"},
			env:  map[string]string{apiEndpointEnvVar: "https://env.example.com"},
			want: "https://cfg.example.com",
		},
		{
			name: "environment beats the default",
			cfg:  Config{BaseDomain: "taskmaster.dev"},
			env:  map[string]string{apiEndpointEnvVar: "https://env.example.com"},
			want: "https://env.example.com",
		},
		{
			name: "default built from the base domain",
			cfg:  Config{BaseDomain: "taskmaster.dev"},
			want: "https://taskmaster.dev/api/v1",
		},
		{
			name: "empty environment value is ignored",
			cfg:  Config{BaseDomain: "taskmaster.dev"},
			env:  map[string]string{apiEndpointEnvVar: ""},
			want: "https://taskmaster.dev/api/v1",
		},
		{
			name: "nothing resolvable",
			cfg:  Config{},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := func(key string) (string, bool) {
				v, ok := tt.env[key]
				return v, ok
			}
			r := NewResolver(tt.cfg, &fakeSessions{}, WithEnvLookup(lookup))

			if got := r.resolveEndpoint(); got != tt.want {
				t.Errorf("resolveEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBackendConstruction(t *testing.T) {
	t.Run("file resolution builds a file backend", func(t *testing.T) {
		r := NewResolver(Config{Type: TypeFile, Dir: t.TempDir()}, &fakeSessions{}, WithEnvLookup(noEnv))

		b, err := r.Backend(context.Background())
		if err != nil {
			t.Fatalf("Backend() error = %v", err)
		}
		if _, ok := b.(*FileBackend); !ok {
			t.Errorf("Backend() = %T, want *FileBackend", b)
		}
	})

	t.Run("api resolution builds an api backend", func(t *testing.T) {
		cfg := Config{Type: TypeAPI, APIEndpoint: "https://api.example.com", APIToken: "tok-1"}
		r := NewResolver(cfg, &fakeSessions{}, WithEnvLookup(noEnv))

		b, err := r.Backend(context.Background())
		if err != nil {
			t.Fatalf("Backend() error = %v", err)
		}
		if _, ok := b.(*APIBackend); !ok {
			t.Errorf("Backend() = %T, want *APIBackend", b)
		}
		if b.Type() != TypeAPI {
			t.Errorf("Type() = %q, want %q", b.Type(), TypeAPI)
		}
	})
}
