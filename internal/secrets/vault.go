package secrets

import "context"

// Vault holds credentials referenced from scenario definitions. An api node
// header value of exactly "${{secrets.KEY}}" is swapped for the plaintext at
// call time; plaintext never reaches the session record or the event log.
type Vault interface {
	// Resolve decrypts and returns the value for key.
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// SecretStore is the slice of store.Store the vault persists through. Rows
// hold AES-256-GCM ciphertext only.
type SecretStore interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}
