package tokensource

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"
)

// Default keyring coordinates for the backend API key.
const (
	KeyringService = "toolbridge"
	KeyringUser    = "upstream-api-key"
)

// KeyringStore keeps the key in the OS keyring.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check that KeyringStore implements Store
var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a store for the given keyring entry.
func NewKeyringStore(service, user string) *KeyringStore {
	return &KeyringStore{service: service, user: user}
}

// Read returns the stored key, or "" when none is stored.
func (s *KeyringStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := keyring.Get(s.service, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return key, err
}

// Write stores key, or deletes the entry when key is empty.
func (s *KeyringStore) Write(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		err := keyring.Delete(s.service, s.user)
		if errors.Is(err, keyring.ErrNotFound) {
			return nil
		}
		return err
	}
	return keyring.Set(s.service, s.user, key)
}
