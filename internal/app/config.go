package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/taskmaster-dev/taskmaster/internal/credstore"
	"github.com/taskmaster-dev/taskmaster/internal/storage"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogExport represents the OTLP log export transport.
type LogExport string

const (
	LogExportNone   LogExport = ""
	LogExportGRPC   LogExport = "grpc"
	LogExportHTTP   LogExport = "http"
	LogExportStdout LogExport = "stdout"
)

// SessionStorageType represents the different storage types supported for the
// persisted session record.
type SessionStorageType string

const (
	SessionStorageTypeFile    SessionStorageType = "file"
	SessionStorageTypeEnv     SessionStorageType = "env"
	SessionStorageTypeKeyring SessionStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat   = LogFormatText
	DefaultConfigBaseDomain  = "taskmaster.dev"
	DefaultConfigAuthStorage = SessionStorageTypeFile
	DefaultConfigStorageType = storage.TypeAuto
	DefaultConfigStorageDir  = "."
)

// keyringService namespaces the session record in the system keyring.
const keyringService = "taskmaster-session"

// AuthConfig describes the identity provider connection and where the session
// record persists between invocations.
type AuthConfig struct {
	// Endpoint is the identity provider base URL.
	Endpoint string `json:"endpoint" validate:"required,url"`
	// PublicKey is the provider's public API key, sent as the apikey header
	// on every provider request.
	PublicKey string `json:"public_key" validate:"required"`
	// BaseDomain builds the default platform endpoints when nothing explicit
	// is configured.
	BaseDomain string `json:"base_domain"`

	// Storage configuration - where the session record lives
	Storage SessionStorageType `json:"storage" validate:"required,oneof=file env keyring"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File        string `json:"file,omitempty"`         // For file storage: path to session file
	EnvKey      string `json:"env_key,omitempty"`      // For env storage: environment variable name
	KeyringUser string `json:"keyring_user,omitempty"` // For keyring storage: user identifier
}

// NewSessionStore creates the session record store from the authentication
// configuration.
func (a *AuthConfig) NewSessionStore() (credstore.Store, error) {
	switch a.Storage {
	case SessionStorageTypeFile:
		return credstore.NewFileStore(a.File)
	case SessionStorageTypeEnv:
		return credstore.NewEnvStore(a.EnvKey)
	case SessionStorageTypeKeyring:
		return credstore.NewKeyringStore(keyringService, a.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// StorageConfig describes where task data lives.
type StorageConfig struct {
	// Type is the storage mode: auto detects, file and api are explicit.
	Type        storage.Type `json:"type" validate:"oneof=auto file api"`
	APIEndpoint string       `json:"api_endpoint,omitempty" validate:"omitempty,url"`
	APIToken    string       `json:"api_token,omitempty"`
	// Dir is the project directory holding local task data.
	Dir string `json:"dir,omitempty"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level    `json:"log_level"`
	LogFormat LogFormat     `json:"log_format" validate:"oneof=text json"`
	LogExport LogExport     `json:"log_otlp" validate:"omitempty,oneof=grpc http stdout"`
	Auth      AuthConfig    `json:"auth"`
	Storage   StorageConfig `json:"storage"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Auth.BaseDomain == "" {
		c.Auth.BaseDomain = DefaultConfigBaseDomain
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorageType
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = DefaultConfigStorageDir
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case SessionStorageTypeFile:
		if c.Auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("auth.file required (auto-detect failed: %w)", err)
			}
			c.Auth.File = filepath.Join(configDir, "taskmaster", "session.json")
		}
	case SessionStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	case SessionStorageTypeEnv:
		// env_key must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Auth.Storage {
	case SessionStorageTypeFile:
		if c.Auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case SessionStorageTypeEnv:
		if c.Auth.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	case SessionStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}

// RequireWritableSessionStorage rejects read-only session storage. Login
// flows persist a fresh session record, which env storage cannot hold.
func (c *Config) RequireWritableSessionStorage() error {
	if c.Auth.Storage == SessionStorageTypeEnv {
		return errors.New("login requires writable session storage, env is read-only")
	}
	return nil
}
