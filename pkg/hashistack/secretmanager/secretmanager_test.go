package secretmanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProvideSecretsDisabled(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")

	reader, err := ProvideSecrets()
	require.NoError(t, err)
	require.Nil(t, reader)
}

func TestProvideSecretsFromEnvironment(t *testing.T) {
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8200")
	t.Setenv("VAULT_TOKEN", "root")
	t.Setenv("VAULT_MOUNT_PATH", "")

	reader, err := ProvideSecrets()
	require.NoError(t, err)
	require.NotNil(t, reader)
	require.Equal(t, defaultMount, reader.(*Store).mount)
}

func TestNewStoreCustomMount(t *testing.T) {
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8200")

	store, err := NewStore("kv")
	require.NoError(t, err)
	require.Equal(t, "kv", store.mount)
}
