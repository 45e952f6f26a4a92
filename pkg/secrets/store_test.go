package secrets

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	backend, err := NewFileBackend(filepath.Join(dir, "secrets"))
	require.NoError(t, err)
	store, err := NewStore(StoreConfig{
		MasterKey:    testMasterKey,
		Backend:      backend,
		MetadataPath: filepath.Join(dir, "metadata.json"),
		KeyMetadata:  filepath.Join(dir, "keys.json"),
	})
	require.NoError(t, err)
	return store
}

func TestStoreSecretVersioning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m, err := store.StoreSecret(ctx, "jwt_secret", "first-value", WithDescription("signing key"))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Version)
	assert.Equal(t, "signing key", m.Description)

	m, err = store.StoreSecret(ctx, "jwt_secret", "second-value")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Version)

	latest, err := store.RetrieveSecret(ctx, "jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, "second-value", latest)

	v1, err := store.RetrieveVersion(ctx, "jwt_secret", 1)
	require.NoError(t, err)
	assert.Equal(t, "first-value", v1)
}

func TestStoreEncryptsAtRest(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(filepath.Join(dir, "secrets"))
	require.NoError(t, err)
	store, err := NewStore(StoreConfig{
		MasterKey:    testMasterKey,
		Backend:      backend,
		MetadataPath: filepath.Join(dir, "metadata.json"),
		KeyMetadata:  filepath.Join(dir, "keys.json"),
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.StoreSecret(ctx, "db_password", "hunter2-was-here")
	require.NoError(t, err)

	raw, err := backend.Get(ctx, "db_password_v1")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, raw, "hunter2")
}

func TestRetrieveSecretNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.RetrieveSecret(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrSecretNotFound))
}

func TestRetrieveVersionPassesThroughPlaintext(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A legacy value written before encryption was introduced.
	require.NoError(t, store.backend.Set(ctx, "legacy_v1", "plain-old-value"))

	value, err := store.RetrieveVersion(ctx, "legacy", 1)
	require.NoError(t, err)
	assert.Equal(t, "plain-old-value", value)
}

func TestDecryptAcrossKeyRotation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.StoreSecret(ctx, "api_key", "sealed-under-v1")
	require.NoError(t, err)

	_, err = store.Keys().RotateKey(keyPurposeSecret, secretContext("api_key"))
	require.NoError(t, err)

	_, err = store.StoreSecret(ctx, "api_key", "sealed-under-v2")
	require.NoError(t, err)

	// Both versions decrypt even though they used different key versions.
	v1, err := store.RetrieveVersion(ctx, "api_key", 1)
	require.NoError(t, err)
	assert.Equal(t, "sealed-under-v1", v1)

	v2, err := store.RetrieveVersion(ctx, "api_key", 2)
	require.NoError(t, err)
	assert.Equal(t, "sealed-under-v2", v2)
}

func TestRevertVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.StoreSecret(ctx, "smtp_password", "v1-value")
	require.NoError(t, err)
	_, err = store.StoreSecret(ctx, "smtp_password", "v2-value")
	require.NoError(t, err)

	require.NoError(t, store.RevertVersion("smtp_password", 1))
	value, err := store.RetrieveSecret(ctx, "smtp_password")
	require.NoError(t, err)
	assert.Equal(t, "v1-value", value)

	// Reverting to zero drops the secret entirely.
	require.NoError(t, store.RevertVersion("smtp_password", 0))
	_, err = store.GetMetadata("smtp_password")
	assert.True(t, errors.Is(err, ErrSecretNotFound))

	err = store.RevertVersion("smtp_password", 1)
	assert.True(t, errors.Is(err, ErrSecretNotFound))
}

func TestDeleteSecret(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.StoreSecret(ctx, "old_key", "v1")
	require.NoError(t, err)
	_, err = store.StoreSecret(ctx, "old_key", "v2")
	require.NoError(t, err)

	require.NoError(t, store.DeleteSecret(ctx, "old_key"))
	_, err = store.RetrieveSecret(ctx, "old_key")
	assert.True(t, errors.Is(err, ErrSecretNotFound))

	names, err := store.backend.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	err = store.DeleteSecret(ctx, "old_key")
	assert.True(t, errors.Is(err, ErrSecretNotFound))
}

func TestListSecretsAndMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.StoreSecret(ctx, "zeta", "z", WithTags(map[string]string{"team": "infra", "tier": "critical"}))
	require.NoError(t, err)
	_, err = store.StoreSecret(ctx, "alpha", "a")
	require.NoError(t, err)

	list := store.ListSecrets()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].Name)

	m, err := store.GetMetadata("zeta")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"team": "infra", "tier": "critical"}, m.Tags)
}

func TestStoreMetadataSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	backendDir := filepath.Join(dir, "secrets")
	metaPath := filepath.Join(dir, "metadata.json")
	keyPath := filepath.Join(dir, "keys.json")
	ctx := context.Background()

	backend, err := NewFileBackend(backendDir)
	require.NoError(t, err)
	store, err := NewStore(StoreConfig{MasterKey: testMasterKey, Backend: backend, MetadataPath: metaPath, KeyMetadata: keyPath})
	require.NoError(t, err)
	_, err = store.StoreSecret(ctx, "jwt_secret", "persisted-value")
	require.NoError(t, err)

	backend2, err := NewFileBackend(backendDir)
	require.NoError(t, err)
	reloaded, err := NewStore(StoreConfig{MasterKey: testMasterKey, Backend: backend2, MetadataPath: metaPath, KeyMetadata: keyPath})
	require.NoError(t, err)

	value, err := reloaded.RetrieveSecret(ctx, "jwt_secret")
	require.NoError(t, err)
	assert.Equal(t, "persisted-value", value)
}
