// Package crypt provides the at-rest AEAD encryption used to seal a
// Module's env_vars before it is written through storedb, replacing the
// Python engine's Fernet-based EncryptedJSON column with
// chacha20poly1305, the AEAD already present in the pack's dependency
// graph.
package crypt

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/genbase-project/genbase/pkg/platformerr"
)

// Sealer encrypts and decrypts arbitrary JSON-able values with a single
// key loaded from an environment variable, the same contract the Python
// engine enforced on startup for ENV_ENCRYPTION_KEY.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a Sealer from the raw bytes read out of keyEnvVar.
// The env var must decode (base64 standard, raw url or padded url) to
// exactly chacha20poly1305.KeySize bytes, or be exactly that many raw
// bytes itself.
func NewSealer(keyEnvVar string) (*Sealer, error) {
	raw := os.Getenv(keyEnvVar)
	if raw == "" {
		return nil, platformerr.New(platformerr.DecryptionError,
			fmt.Sprintf("required environment variable %q is not set", keyEnvVar))
	}

	key, err := decodeKey(raw)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.DecryptionError,
			fmt.Sprintf("invalid encryption key in %q", keyEnvVar), err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.DecryptionError, "construct AEAD", err)
	}

	return &Sealer{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawURLEncoding, base64.URLEncoding} {
		if key, err := enc.DecodeString(raw); err == nil && len(key) == chacha20poly1305.KeySize {
			return key, nil
		}
	}
	if len(raw) == chacha20poly1305.KeySize {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("key must decode to %d bytes", chacha20poly1305.KeySize)
}

// SealJSON marshals value to JSON and seals it, returning a
// base64-encoded nonce||ciphertext string suitable for a TEXT column —
// the Go analog of the Python EncryptedJSON TypeDecorator's bind step.
func (s *Sealer) SealJSON(value map[string]string) (string, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", platformerr.Wrap(platformerr.DecryptionError, "marshal env_vars", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", platformerr.Wrap(platformerr.DecryptionError, "generate nonce", err)
	}

	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// OpenJSON reverses SealJSON, the Go analog of the TypeDecorator's result
// step. An empty input returns a nil map, mirroring the Python decorator's
// None passthrough.
func (s *Sealer) OpenJSON(encoded string) (map[string]string, error) {
	if encoded == "" {
		return nil, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.DecryptionError, "decode ciphertext", err)
	}
	if len(sealed) < chacha20poly1305.NonceSize {
		return nil, platformerr.New(platformerr.DecryptionError, "ciphertext shorter than nonce")
	}

	nonce, ciphertext := sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.DecryptionError, "authenticate/decrypt env_vars", err)
	}

	var value map[string]string
	if err := json.Unmarshal(plaintext, &value); err != nil {
		return nil, platformerr.Wrap(platformerr.DecryptionError, "unmarshal env_vars", err)
	}
	return value, nil
}
