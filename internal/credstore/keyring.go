package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps the session record in OS-native secure credential
// storage: macOS Keychain, Windows Credential Manager, or Linux Secret
// Service.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check that KeyringStore implements Store.
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore using the given service and user
// identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
	}, nil
}

// Read returns the record from the system keyring. Returns ErrNotFound when
// no entry exists.
func (k *KeyringStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	record, err := keyring.Get(k.service, k.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	if record == "" {
		return "", fmt.Errorf("empty session record in keyring for service %s, user %s", k.service, k.user)
	}

	return record, nil
}

// Write persists the record to the system keyring, overwriting any existing
// entry.
func (k *KeyringStore) Write(ctx context.Context, record string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return keyring.Set(k.service, k.user, record)
}

// Clear removes the keyring entry. A missing entry is not an error.
func (k *KeyringStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Delete(k.service, k.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
