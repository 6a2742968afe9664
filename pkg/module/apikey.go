package module

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/storedb"
)

// ApiKeyStore manages module-scoped API keys, a feature the distilled
// module service did not expose directly but the bridge's auth layer
// needs: a module can hand out a bearer credential to an external
// caller without sharing platform-wide secrets.
type ApiKeyStore struct {
	db     *sql.DB
	driver storedb.Driver
}

// NewApiKeyStore wires an ApiKeyStore over db (schema already created by
// EnsureSchema).
func NewApiKeyStore(db *sql.DB, driver storedb.Driver) *ApiKeyStore {
	return &ApiKeyStore{db: db, driver: driver}
}

func (s *ApiKeyStore) bind(query string) string {
	return storedb.Rebind(s.driver, query)
}

// GeneratedKey is returned once, at creation time, and never again — only
// its hash is stored.
type GeneratedKey struct {
	ID        string
	ModuleID  string
	PlainKey  string
	CreatedAt time.Time
}

// GenerateKey mints a fresh API key for moduleID, storing only its
// SHA-256 hash.
func (s *ApiKeyStore) GenerateKey(ctx context.Context, moduleID string) (GeneratedKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return GeneratedKey{}, fmt.Errorf("module: generate api key: %w", err)
	}
	plainKey := "gb_" + base64.RawURLEncoding.EncodeToString(raw)

	id, err := GenerateReadableUID()
	if err != nil {
		return GeneratedKey{}, err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, s.bind(`
		INSERT INTO module_api_keys (id, module_id, key_hash, created_at, revoked_at)
		VALUES (?, ?, ?, ?, NULL)
	`), id, moduleID, hashKey(plainKey), now)
	if err != nil {
		return GeneratedKey{}, platformerr.Wrap(platformerr.DBError, "insert api key", err)
	}

	return GeneratedKey{ID: id, ModuleID: moduleID, PlainKey: plainKey, CreatedAt: now}, nil
}

// Revoke marks keyID as revoked; it remains in the table for audit but
// Authenticate will no longer accept it.
func (s *ApiKeyStore) Revoke(ctx context.Context, keyID string) error {
	res, err := s.db.ExecContext(ctx, s.bind(`
		UPDATE module_api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL
	`), time.Now().UTC(), keyID)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "revoke api key", err)
	}
	return requireRowsAffected(res, platformerr.ModuleNotFound, fmt.Sprintf("api key %q not found or already revoked", keyID))
}

// Authenticate resolves a plaintext key to the module_id it belongs to,
// rejecting unknown or revoked keys.
func (s *ApiKeyStore) Authenticate(ctx context.Context, plainKey string) (string, error) {
	var moduleID string
	err := s.db.QueryRowContext(ctx, s.bind(`
		SELECT module_id FROM module_api_keys WHERE key_hash = ? AND revoked_at IS NULL
	`), hashKey(plainKey)).Scan(&moduleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", platformerr.New(platformerr.CapabilityDenied, "invalid or revoked api key")
		}
		return "", platformerr.Wrap(platformerr.DBError, "authenticate api key", err)
	}
	return moduleID, nil
}

func hashKey(plainKey string) string {
	sum := sha256.Sum256([]byte(plainKey))
	return hex.EncodeToString(sum[:])
}
