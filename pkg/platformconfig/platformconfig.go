// Package platformconfig implements the flat key/JSON-value settings
// table operators can tune at runtime without a restart: default agent
// timeout, warm container idle TTL, and similar process-wide knobs. Every
// read goes straight to the database — like the Kit Store's and Module
// Registry's own config lookups, nothing here is cached across requests.
package platformconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/storedb"
)

// Setting is one row of the platform_settings table.
type Setting struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store manages the platform_settings table.
type Store struct {
	db     *sql.DB
	driver storedb.Driver
}

// NewStore wraps db (schema already created by EnsureSchema).
func NewStore(db *sql.DB, driver storedb.Driver) *Store {
	return &Store{db: db, driver: driver}
}

// EnsureSchema creates the platform_settings table if it doesn't exist.
const EnsureSchema = `
CREATE TABLE IF NOT EXISTS platform_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

func (s *Store) bind(query string) string {
	return storedb.Rebind(s.driver, query)
}

// Keys seeded from config.RuntimeConfig on first boot; components read
// these through the typed helpers below rather than GetRaw directly.
const (
	KeyAgentRunTimeout       = "agent_run_timeout_seconds"
	KeyWarmContainerIdleTTL  = "warm_container_idle_ttl_seconds"
	KeyContainerStartTimeout = "container_start_timeout_seconds"
)

// SetValue upserts key to value, JSON-encoding value and stamping the
// current time. now is passed in by the caller (platform wiring), since
// this package never calls time.Now() itself to stay testable without a
// clock dependency.
func (s *Store) SetValue(ctx context.Context, key string, value interface{}, now time.Time) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "encode setting value", err)
	}

	var exists int
	err = s.db.QueryRowContext(ctx, s.bind(`SELECT COUNT(*) FROM platform_settings WHERE key = ?`), key).Scan(&exists)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "check platform setting", err)
	}

	if exists > 0 {
		_, err = s.db.ExecContext(ctx, s.bind(`UPDATE platform_settings SET value = ?, updated_at = ? WHERE key = ?`),
			string(encoded), now, key)
	} else {
		_, err = s.db.ExecContext(ctx, s.bind(`INSERT INTO platform_settings (key, value, updated_at) VALUES (?, ?, ?)`),
			key, string(encoded), now)
	}
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "set platform setting", err)
	}
	return nil
}

// GetRaw reads key's raw JSON value, with found reporting whether the key
// was present at all.
func (s *Store) GetRaw(ctx context.Context, key string) (value json.RawMessage, found bool, err error) {
	query := s.bind(`SELECT value FROM platform_settings WHERE key = ?`)
	var raw string
	row := s.db.QueryRowContext(ctx, query, key)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, platformerr.Wrap(platformerr.DBError, "get platform setting", err)
	}
	return json.RawMessage(raw), true, nil
}

// GetDuration reads key as a JSON number of seconds, returning fallback
// if the key is unset.
func (s *Store) GetDuration(ctx context.Context, key string, fallback time.Duration) (time.Duration, error) {
	raw, found, err := s.GetRaw(ctx, key)
	if err != nil {
		return 0, err
	}
	if !found {
		return fallback, nil
	}
	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err != nil {
		return 0, platformerr.Wrap(platformerr.DBError, fmt.Sprintf("decode setting %q", key), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// SeedIfAbsent sets key to value only if it isn't already present,
// leaving any operator override already recorded untouched. Used at
// startup to load config.RuntimeConfig's defaults into the table on
// first boot.
func (s *Store) SeedIfAbsent(ctx context.Context, key string, value interface{}, now time.Time) error {
	_, found, err := s.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	return s.SetValue(ctx, key, value, now)
}

// RuntimeSeed is the subset of config.RuntimeConfig this package seeds
// into platform_settings on first boot. Expressed as durations rather
// than importing pkg/config directly, to avoid a dependency cycle
// between the config package and every component it configures.
type RuntimeSeed struct {
	AgentRunTimeout       time.Duration
	WarmContainerIdleTTL  time.Duration
	ContainerStartTimeout time.Duration
}

// SeedDefaults loads seed's values into the table wherever no operator
// override already exists.
func (s *Store) SeedDefaults(ctx context.Context, seed RuntimeSeed, now time.Time) error {
	if err := s.SeedIfAbsent(ctx, KeyAgentRunTimeout, seed.AgentRunTimeout.Seconds(), now); err != nil {
		return err
	}
	if err := s.SeedIfAbsent(ctx, KeyWarmContainerIdleTTL, seed.WarmContainerIdleTTL.Seconds(), now); err != nil {
		return err
	}
	if err := s.SeedIfAbsent(ctx, KeyContainerStartTimeout, seed.ContainerStartTimeout.Seconds(), now); err != nil {
		return err
	}
	return nil
}
