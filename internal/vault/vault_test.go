package vault

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte("01234567890123456789012345678901"))
}

func TestNew_RejectsWrongKeyLength(t *testing.T) {
	_, err := New(base64.StdEncoding.EncodeToString([]byte("too-short")))
	assert.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	blob, err := v.EncryptString("super-secret-token")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "super-secret-token")

	plain, err := v.DecryptString(blob)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", plain)
}

func TestEncrypt_NoncesDiffer(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	a, err := v.EncryptString("same-plaintext")
	require.NoError(t, err)
	b, err := v.EncryptString("same-plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "each Encrypt call must use a fresh nonce")
}

func TestDecrypt_CorruptBlobSurfacesCredentialUnavailable(t *testing.T) {
	v, err := New(testKey())
	require.NoError(t, err)

	_, err = v.Decrypt([]byte("not-even-a-valid-nonce-length"))
	assert.ErrorIs(t, err, orcherrors.ErrCredentialUnavailable)
}

func TestDecrypt_WrongKeySurfacesCredentialUnavailable(t *testing.T) {
	v1, err := New(testKey())
	require.NoError(t, err)
	blob, err := v1.EncryptString("secret")
	require.NoError(t, err)

	otherKey := base64.StdEncoding.EncodeToString([]byte("98765432109876543210987654321098"))
	v2, err := New(otherKey)
	require.NoError(t, err)

	_, err = v2.Decrypt(blob)
	assert.ErrorIs(t, err, orcherrors.ErrCredentialUnavailable)
}
