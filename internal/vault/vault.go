// Package vault retains the connectionData a successful Result hands back,
// keyed by connection id, so the next start against the same connection can
// pass it along.
package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/tjfontaine/routex-demo/internal/storage"
)

// Vault stores connection data. Load returns nil without error when nothing
// is stored for the connection.
type Vault interface {
	Load(ctx context.Context, connectionID string) ([]byte, error)
	Save(ctx context.Context, connectionID string, data []byte) error
	Forget(ctx context.Context, connectionID string) error
}

// Type selects a vault backend.
type Type string

const (
	TypeKeyring Type = "keyring"
	TypeStorage Type = "storage"
	TypeNone    Type = "none"
)

// KeyringService is the service name entries are filed under in the OS
// keyring.
const KeyringService = "routex-demo"

// Keyring keeps connection data in the OS keyring.
type Keyring struct {
	service string
}

// NewKeyring returns a keyring vault filing entries under service.
func NewKeyring(service string) *Keyring {
	if service == "" {
		service = KeyringService
	}
	return &Keyring{service: service}
}

func (k *Keyring) Load(ctx context.Context, connectionID string) ([]byte, error) {
	secret, err := keyring.Get(k.service, connectionID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode keyring entry: %w", err)
	}
	return data, nil
}

func (k *Keyring) Save(ctx context.Context, connectionID string, data []byte) error {
	if err := keyring.Set(k.service, connectionID, base64.StdEncoding.EncodeToString(data)); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}

func (k *Keyring) Forget(ctx context.Context, connectionID string) error {
	if err := keyring.Delete(k.service, connectionID); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	return nil
}

const storagePrefix = "connectionData/"

// Store keeps connection data in a KeyValueStore.
type Store struct {
	kv storage.KeyValueStore
}

// NewStore returns a vault backed by kv.
func NewStore(kv storage.KeyValueStore) *Store {
	return &Store{kv: kv}
}

func (s *Store) Load(ctx context.Context, connectionID string) ([]byte, error) {
	data, err := s.kv.Get(ctx, storagePrefix+connectionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (s *Store) Save(ctx context.Context, connectionID string, data []byte) error {
	return s.kv.Set(ctx, storagePrefix+connectionID, data)
}

func (s *Store) Forget(ctx context.Context, connectionID string) error {
	return s.kv.Delete(ctx, storagePrefix+connectionID)
}

// Nop retains nothing.
type Nop struct{}

func (Nop) Load(context.Context, string) ([]byte, error) { return nil, nil }
func (Nop) Save(context.Context, string, []byte) error   { return nil }
func (Nop) Forget(context.Context, string) error         { return nil }

var (
	_ Vault = (*Keyring)(nil)
	_ Vault = (*Store)(nil)
	_ Vault = Nop{}
)
