// Package vault implements the per-channel credential store: envelope
// encryption of planning-db tokens, upload refresh tokens and
// model-provider keys with one symmetric data-encryption key held in
// the ENCRYPTION_KEY environment variable (spec.md §4.2).
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
)

// Vault holds the process-wide data-encryption key and encrypts or
// decrypts credential blobs on behalf of the channel registry and the
// rate-limited clients.
type Vault struct {
	aead cipher.AEAD
}

// New parses a base64-encoded 32-byte key (as spec.md §4.2 requires)
// and constructs a Vault. It never logs or retains the decoded key
// beyond constructing the AEAD cipher.
func New(base64Key string) (*Vault, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, orcherrors.FailedTo("decode encryption key", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, orcherrors.FailedTo("construct cipher", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce, returning
// nonce||ciphertext as the opaque blob stored in the Channel row.
// Plaintext must never be logged or persisted by the caller.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, orcherrors.FailedTo("generate nonce", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt recovers plaintext from a blob produced by Encrypt. A
// decrypt failure (corrupt blob, wrong key) surfaces as
// ErrCredentialUnavailable: fatal for the owning channel, non-fatal
// for the rest of the process.
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	n := v.aead.NonceSize()
	if len(blob) < n {
		return nil, orcherrors.ErrCredentialUnavailable
	}
	nonce, ciphertext := blob[:n], blob[n:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, orcherrors.ErrCredentialUnavailable
	}
	return plaintext, nil
}

// EncryptString and DecryptString are convenience wrappers for the
// common case of token strings.
func (v *Vault) EncryptString(s string) ([]byte, error) {
	return v.Encrypt([]byte(s))
}

func (v *Vault) DecryptString(blob []byte) (string, error) {
	p, err := v.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return string(p), nil
}
