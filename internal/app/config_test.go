package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskmaster-dev/taskmaster/internal/storage"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		Auth: AuthConfig{
			Endpoint:  "https://id.taskmaster.dev",
			PublicKey: "pk-test",
			Storage:   SessionStorageTypeFile,
			File:      filepath.Join(t.TempDir(), "session.json"),
		},
	}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		t.Fatalf("ApplyDefaults() error = %v", err)
	}

	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.Auth.BaseDomain != "taskmaster.dev" {
		t.Errorf("Auth.BaseDomain = %q, want taskmaster.dev", cfg.Auth.BaseDomain)
	}
	if cfg.Auth.Storage != SessionStorageTypeFile {
		t.Errorf("Auth.Storage = %q, want %q", cfg.Auth.Storage, SessionStorageTypeFile)
	}
	if !strings.HasSuffix(cfg.Auth.File, filepath.Join("taskmaster", "session.json")) {
		t.Errorf("Auth.File = %q, want default under the user config dir", cfg.Auth.File)
	}
	if cfg.Storage.Type != storage.TypeAuto {
		t.Errorf("Storage.Type = %q, want %q", cfg.Storage.Type, storage.TypeAuto)
	}
	if cfg.Storage.Dir != "." {
		t.Errorf("Storage.Dir = %q, want .", cfg.Storage.Dir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing endpoint", mutate: func(cfg *Config) { cfg.Auth.Endpoint = "" }, wantErr: true},
		{name: "missing public key", mutate: func(cfg *Config) { cfg.Auth.PublicKey = "" }, wantErr: true},
		{name: "endpoint not a url", mutate: func(cfg *Config) { cfg.Auth.Endpoint = "not a url" }, wantErr: true},
		{name: "unknown task storage type", mutate: func(cfg *Config) { cfg.Storage.Type = "cloud" }, wantErr: true},
		{name: "unknown log format", mutate: func(cfg *Config) { cfg.LogFormat = "yaml" }, wantErr: true},
		{name: "otlp export enabled", mutate: func(cfg *Config) { cfg.LogExport = LogExportGRPC }},
		{name: "unknown otlp export", mutate: func(cfg *Config) { cfg.LogExport = "carrier-pigeon" }, wantErr: true},
		{
			name: "env storage without key",
			mutate: func(cfg *Config) {
				cfg.Auth.Storage = SessionStorageTypeEnv
				cfg.Auth.EnvKey = ""
			},
			wantErr: true,
		},
		{
			name: "keyring storage without user",
			mutate: func(cfg *Config) {
				cfg.Auth.Storage = SessionStorageTypeKeyring
				cfg.Auth.KeyringUser = ""
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequireWritableSessionStorage(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.RequireWritableSessionStorage(); err != nil {
		t.Errorf("RequireWritableSessionStorage() error = %v for file storage", err)
	}

	cfg.Auth.Storage = SessionStorageTypeEnv
	cfg.Auth.EnvKey = "TASKMASTER_SESSION"
	if err := cfg.RequireWritableSessionStorage(); err == nil {
		t.Error("RequireWritableSessionStorage() error = nil for env storage")
	}
}

func TestNewSessionStore(t *testing.T) {
	// NewEnvStore refuses unset variables.
	t.Setenv("TASKMASTER_SESSION", "session-record")

	tests := []struct {
		name string
		auth AuthConfig
		want string
	}{
		{
			name: "file",
			auth: AuthConfig{Storage: SessionStorageTypeFile, File: filepath.Join(t.TempDir(), "session.json")},
			want: "*credstore.FileStore",
		},
		{
			name: "env",
			auth: AuthConfig{Storage: SessionStorageTypeEnv, EnvKey: "TASKMASTER_SESSION"},
			want: "*credstore.EnvStore",
		},
		{
			name: "keyring",
			auth: AuthConfig{Storage: SessionStorageTypeKeyring, KeyringUser: "tester"},
			want: "*credstore.KeyringStore",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := tt.auth.NewSessionStore()
			if err != nil {
				t.Fatalf("NewSessionStore() error = %v", err)
			}
			if got := fmt.Sprintf("%T", store); got != tt.want {
				t.Errorf("NewSessionStore() = %s, want %s", got, tt.want)
			}
		})
	}
}
