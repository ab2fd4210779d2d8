package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/pkg/schema"
)

// VaultConfig configures the AES vault key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

// AESVault encrypts credentials with AES-256-GCM before persisting.
type AESVault struct {
	store CredentialStore
	aead  cipher.AEAD
}

// NewAESVault creates a vault with AES-256-GCM encryption.
func NewAESVault(s CredentialStore, cfg VaultConfig) (*AESVault, error) {
	key, err := deriveKey(cfg)
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

func deriveKey(cfg VaultConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeCredential,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeCredential, "either master_key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeCredential, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

func (v *AESVault) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *AESVault) decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeCredential, "ciphertext too short")
	}
	nonce := ciphertext[:nonceSize]
	ct := ciphertext[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCredential, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}

// Store encrypts and persists a credential for an account integration.
func (v *AESVault) Store(ctx context.Context, accountID, qualifiedName, profileID string, value []byte) error {
	encrypted, err := v.encrypt(value)
	if err != nil {
		return err
	}
	return v.store.StoreCredential(ctx, &store.Credential{
		AccountID:     accountID,
		QualifiedName: qualifiedName,
		ProfileID:     profileID,
		Value:         encrypted,
	})
}

// Resolve loads and decrypts a credential.
func (v *AESVault) Resolve(ctx context.Context, accountID, qualifiedName, profileID string) ([]byte, error) {
	cred, err := v.store.GetCredential(ctx, accountID, qualifiedName, profileID)
	if err != nil {
		return nil, err
	}
	return v.decrypt(cred.Value)
}

// Delete removes a credential.
func (v *AESVault) Delete(ctx context.Context, accountID, qualifiedName, profileID string) error {
	return v.store.DeleteCredential(ctx, accountID, qualifiedName, profileID)
}

// List returns the integrations an account has credentials for. Values stay
// encrypted.
func (v *AESVault) List(ctx context.Context, accountID string) ([]string, error) {
	creds, err := v.store.ListCredentials(ctx, accountID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(creds))
	for _, c := range creds {
		names = append(names, c.QualifiedName)
	}
	return names, nil
}
