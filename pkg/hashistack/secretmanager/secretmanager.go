package secretmanager

import (
	"context"
	"fmt"
	"os"

	"looks-ledger/pkg/config"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideSecrets))

const defaultMount = "secret"

// Store reads KV v2 secrets from one vault mount.
type Store struct {
	client *vault.Client
	mount  string
}

// ProvideSecrets returns a vault backed reader configured from VAULT_*
// variables, or nil when VAULT_ADDR is unset so config keeps env and file
// values.
func ProvideSecrets() (config.SecretReader, error) {
	if os.Getenv("VAULT_ADDR") == "" {
		zap.L().Info("VAULT_ADDR not set, skipping vault secrets")
		return nil, nil
	}

	store, err := NewStore(os.Getenv("VAULT_MOUNT_PATH"))
	if err != nil {
		return nil, err
	}
	return store, nil
}

func NewStore(mount string) (*Store, error) {
	client, err := vault.New(vault.WithEnvironment())
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if mount == "" {
		mount = defaultMount
	}
	return &Store{client: client, mount: mount}, nil
}

func (s *Store) Read(ctx context.Context, path string) (map[string]any, error) {
	resp, err := s.client.Secrets.KvV2Read(ctx, path, vault.WithMountPath(s.mount))
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", s.mount, path, err)
	}
	return resp.Data.Data, nil
}
