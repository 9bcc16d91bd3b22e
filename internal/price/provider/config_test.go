package provider

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStore_SetGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.enc")
	store, err := NewConfigStore(path, "test-password")
	require.NoError(t, err)

	require.NoError(t, store.Set(Config{
		ID: "oracle-1", ProviderType: "oracle", APIKey: "secret-key",
		Priority: 10, Enabled: true,
	}))

	got, err := store.Get("oracle-1")
	require.NoError(t, err)
	assert.Equal(t, "secret-key", got.APIKey)
	assert.Equal(t, "oracle", got.ProviderType)
}

func TestConfigStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.enc")
	store, err := NewConfigStore(path, "test-password")
	require.NoError(t, err)
	require.NoError(t, store.Set(Config{ID: "dex-1", ProviderType: "dex", APIKey: "k", Enabled: true}))

	reopened, err := NewConfigStore(path, "test-password")
	require.NoError(t, err)

	got, err := reopened.Get("dex-1")
	require.NoError(t, err)
	assert.Equal(t, "k", got.APIKey)
}

func TestConfigStore_WrongPasswordFailsToLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.enc")
	store, err := NewConfigStore(path, "correct-password")
	require.NoError(t, err)
	require.NoError(t, store.Set(Config{ID: "dex-1", ProviderType: "dex", APIKey: "k", Enabled: true}))

	_, err = NewConfigStore(path, "wrong-password")
	assert.Error(t, err)
}

func TestConfigStore_EnabledSortedByPriorityDescending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.enc")
	store, err := NewConfigStore(path, "test-password")
	require.NoError(t, err)

	require.NoError(t, store.Set(Config{ID: "low", APIKey: "k", Priority: 1, Enabled: true}))
	require.NoError(t, store.Set(Config{ID: "high", APIKey: "k", Priority: 10, Enabled: true}))
	require.NoError(t, store.Set(Config{ID: "disabled", APIKey: "k", Priority: 99, Enabled: false}))

	enabled := store.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "high", enabled[0].ID)
	assert.Equal(t, "low", enabled[1].ID)
}
