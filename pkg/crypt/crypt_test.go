package crypt

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"
)

func testKeyEnv(t *testing.T) string {
	t.Helper()
	key := make([]byte, chacha20poly1305.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("TEST_ENV_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))
	return "TEST_ENV_ENCRYPTION_KEY"
}

func TestSealer_RoundTrip(t *testing.T) {
	envVar := testKeyEnv(t)
	sealer, err := NewSealer(envVar)
	require.NoError(t, err)

	original := map[string]string{"API_KEY": "sk-abc123", "REGION": "us-east-1"}

	sealed, err := sealer.SealJSON(original)
	require.NoError(t, err)
	require.NotEmpty(t, sealed)

	opened, err := sealer.OpenJSON(sealed)
	require.NoError(t, err)
	require.Equal(t, original, opened)
}

func TestSealer_OpenEmptyStringReturnsNil(t *testing.T) {
	envVar := testKeyEnv(t)
	sealer, err := NewSealer(envVar)
	require.NoError(t, err)

	opened, err := sealer.OpenJSON("")
	require.NoError(t, err)
	require.Nil(t, opened)
}

func TestSealer_OpenRejectsTamperedCiphertext(t *testing.T) {
	envVar := testKeyEnv(t)
	sealer, err := NewSealer(envVar)
	require.NoError(t, err)

	sealed, err := sealer.SealJSON(map[string]string{"K": "V"})
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = sealer.OpenJSON(tampered)
	require.Error(t, err)
}

func TestNewSealer_MissingEnvVarFails(t *testing.T) {
	_, err := NewSealer("GENBASE_TEST_UNSET_KEY_VAR")
	require.Error(t, err)
}

func TestNewSealer_WrongLengthKeyFails(t *testing.T) {
	t.Setenv("TEST_BAD_KEY", base64.StdEncoding.EncodeToString([]byte("too-short")))
	_, err := NewSealer("TEST_BAD_KEY")
	require.Error(t, err)
}
