package credentials

import (
	"context"

	"github.com/cascadehq/cascade/internal/store"
)

// Resolver resolves a credential for an integration at execution time.
// Credentials are encrypted at rest and decrypted in-memory only.
type Resolver interface {
	Resolve(ctx context.Context, accountID, qualifiedName, profileID string) ([]byte, error)
}

// CredentialStore is the minimal persistence interface needed by the vault.
// Satisfied by store.Store.
type CredentialStore interface {
	StoreCredential(ctx context.Context, cred *store.Credential) error
	GetCredential(ctx context.Context, accountID, qualifiedName, profileID string) (*store.Credential, error)
	DeleteCredential(ctx context.Context, accountID, qualifiedName, profileID string) error
	ListCredentials(ctx context.Context, accountID string) ([]*store.Credential, error)
}
