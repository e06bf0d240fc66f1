package secrets

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/chatflow/pkg/schema"
)

type mapStore struct {
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) StoreSecret(_ context.Context, key string, value []byte) error {
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mapStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return v, nil
}

func (m *mapStore) DeleteSecret(_ context.Context, key string) error {
	if _, ok := m.data[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(m.data, key)
	return nil
}

func (m *mapStore) ListSecrets(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func openTestVault(t *testing.T) (*AESVault, *mapStore) {
	t.Helper()
	s := newMapStore()
	key := bytes.Repeat([]byte{0xA5}, 32)
	v, err := NewAESVault(s, VaultConfig{MasterKey: key})
	require.NoError(t, err)
	return v, s
}

func TestAESVaultRoundTrip(t *testing.T) {
	v, s := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "api_token", []byte("sk-secret-123")))

	got, err := v.Resolve(ctx, "api_token")
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-secret-123"), got)

	// The row holds sealed bytes, not the plaintext.
	assert.NotContains(t, string(s.data["api_token"]), "sk-secret-123")

	require.NoError(t, v.Store(ctx, "api_token", []byte("rotated")))
	got, err = v.Resolve(ctx, "api_token")
	require.NoError(t, err)
	assert.Equal(t, []byte("rotated"), got)
}

func TestAESVaultNonceUniqueness(t *testing.T) {
	v, s := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "first", []byte("same-value")))
	require.NoError(t, v.Store(ctx, "second", []byte("same-value")))
	assert.False(t, bytes.Equal(s.data["first"], s.data["second"]),
		"equal plaintexts must not produce equal ciphertexts")
}

func TestAESVaultWrongKey(t *testing.T) {
	s := newMapStore()
	ctx := context.Background()

	writer, err := NewAESVault(s, VaultConfig{MasterKey: bytes.Repeat([]byte{1}, 32)})
	require.NoError(t, err)
	require.NoError(t, writer.Store(ctx, "secret", []byte("hidden")))

	reader, err := NewAESVault(s, VaultConfig{MasterKey: bytes.Repeat([]byte{2}, 32)})
	require.NoError(t, err)
	_, err = reader.Resolve(ctx, "secret")
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeVault, flowErr.Code)
}

func TestAESVaultPassphraseDerivation(t *testing.T) {
	s := newMapStore()
	cfg := VaultConfig{Passphrase: "correct horse", Salt: []byte("chatflow-test-salt"), Iterations: 256}

	v, err := NewAESVault(s, cfg)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.Store(ctx, "k", []byte("value")))

	// A second vault from the same passphrase reads what the first wrote.
	again, err := NewAESVault(s, cfg)
	require.NoError(t, err)
	got, err := again.Resolve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestAESVaultConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  VaultConfig
	}{
		{"short master key", VaultConfig{MasterKey: []byte("too-short")}},
		{"no key or passphrase", VaultConfig{}},
		{"passphrase without salt", VaultConfig{Passphrase: "pass"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAESVault(newMapStore(), tc.cfg)
			require.Error(t, err)
			var flowErr *schema.FlowError
			require.True(t, errors.As(err, &flowErr))
			assert.Equal(t, schema.ErrCodeVault, flowErr.Code)
		})
	}
}

func TestAESVaultDeleteAndList(t *testing.T) {
	v, _ := openTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Store(ctx, "a", []byte("1")))
	require.NoError(t, v.Store(ctx, "b", []byte("2")))

	keys, err := v.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, keys)

	require.NoError(t, v.Delete(ctx, "a"))
	_, err = v.Resolve(ctx, "a")
	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)

	_, err = v.Resolve(ctx, "never-stored")
	require.Error(t, err)
}
