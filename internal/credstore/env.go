package credstore

import (
	"context"
	"fmt"
	"os"
)

// EnvStore provides read-only access to a session record supplied through an
// environment variable. Suitable for externally-managed sessions; login and
// logout require a writable backend.
type EnvStore struct {
	envKey string
}

// Compile-time check that EnvStore implements Store.
var _ Store = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
// Returns error if the variable name is empty or not set in the environment.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	if _, exists := os.LookupEnv(envKey); !exists {
		return nil, fmt.Errorf("environment variable %s not set", envKey)
	}

	return &EnvStore{
		envKey: envKey,
	}, nil
}

// Read returns the record from the environment variable.
func (e *EnvStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	record := os.Getenv(e.envKey)
	if record == "" {
		return "", fmt.Errorf("environment variable %s is empty", e.envKey)
	}
	return record, nil
}

// Write is not supported for environment variables.
func (e *EnvStore) Write(ctx context.Context, record string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return ErrReadOnly
}

// Clear is not supported for environment variables.
func (e *EnvStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return ErrReadOnly
}
