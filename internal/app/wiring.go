package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tjfontaine/routex-demo/internal/storage"
	"github.com/tjfontaine/routex-demo/internal/storage/file"
	"github.com/tjfontaine/routex-demo/internal/storage/memory"
	"github.com/tjfontaine/routex-demo/internal/storage/sqlite"
	"github.com/tjfontaine/routex-demo/internal/vault"
)

// SQLiteFile is the database file name inside the state directory.
const SQLiteFile = "state.db"

// OpenStore opens the configured storage backend. Path is the state
// directory for the file and sqlite backends.
func OpenStore(cfg storage.Config) (storage.KeyValueStore, error) {
	switch cfg.Type {
	case storage.TypeMemory:
		return memory.New(), nil
	case storage.TypeFile, "":
		s, err := file.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case storage.TypeSQLite:
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		s, err := sqlite.New(filepath.Join(cfg.Path, SQLiteFile))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// OpenVault returns the configured connection data vault. The storage vault
// shares kv with the redirect handoff.
func OpenVault(typ vault.Type, kv storage.KeyValueStore) (vault.Vault, error) {
	switch typ {
	case vault.TypeKeyring, "":
		return vault.NewKeyring(vault.KeyringService), nil
	case vault.TypeStorage:
		return vault.NewStore(kv), nil
	case vault.TypeNone:
		return vault.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown vault type %q", typ)
	}
}
