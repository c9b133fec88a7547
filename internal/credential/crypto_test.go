package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	plaintext := []byte(`{"api_key":"secret-key","api_secret":"very-secret"}`)

	sealed, err := Encrypt("master", plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "secret-key")

	opened, err := Decrypt("master", sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEncryptUsesFreshSaltAndNonce(t *testing.T) {
	a, err := Encrypt("master", []byte("payload"))
	require.NoError(t, err)
	b, err := Encrypt("master", []byte("payload"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsWrongSecret(t *testing.T) {
	sealed, err := Encrypt("master", []byte("payload"))
	require.NoError(t, err)

	_, err = Decrypt("other", sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	sealed, err := Encrypt("master", []byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = Decrypt("master", sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsShortBlob(t *testing.T) {
	_, err := Decrypt("master", []byte("short"))
	assert.Error(t, err)
}
