package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/rendis/chatflow/pkg/schema"
)

const defaultKDFIterations = 100_000

// VaultConfig selects the encryption key. MasterKey (raw 32 bytes) wins when
// set; otherwise the key is derived from Passphrase and Salt via PBKDF2.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int
}

func (c VaultConfig) key() ([]byte, error) {
	switch {
	case len(c.MasterKey) == 32:
		return c.MasterKey, nil
	case len(c.MasterKey) > 0:
		return nil, schema.NewErrorf(schema.ErrCodeVault,
			"master key must be 32 bytes, got %d", len(c.MasterKey))
	case c.Passphrase == "":
		return nil, schema.NewError(schema.ErrCodeVault, "either master_key or passphrase is required")
	case len(c.Salt) == 0:
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iters := c.Iterations
	if iters <= 0 {
		iters = defaultKDFIterations
	}
	return pbkdf2.Key([]byte(c.Passphrase), c.Salt, iters, 32, sha256.New), nil
}

// AESVault implements Vault over a SecretStore, sealing every value with
// AES-256-GCM and a fresh random nonce. The nonce is prepended to the
// stored ciphertext.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := cfg.key()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, value, nil)
	return v.store.StoreSecret(ctx, key, sealed)
}

func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	ns := v.aead.NonceSize()
	if len(sealed) < ns {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	plain, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return plain, nil
}

func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
