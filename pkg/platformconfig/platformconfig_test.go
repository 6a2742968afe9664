package platformconfig

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/genbase-project/genbase/pkg/storedb"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(EnsureSchema)
	require.NoError(t, err)
	return NewStore(db, storedb.DriverSQLite), db
}

func TestStore_SetValueThenGetRaw(t *testing.T) {
	s, db := newTestStore(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Unix(1000, 0).UTC()

	require.NoError(t, s.SetValue(ctx, "max_retries", 5, now))

	raw, found, err := s.GetRaw(ctx, "max_retries")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, "5", string(raw))
}

func TestStore_GetRaw_MissingKeyNotFound(t *testing.T) {
	s, db := newTestStore(t)
	defer db.Close()

	_, found, err := s.GetRaw(context.Background(), "does_not_exist")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStore_SetValue_OverwritesExisting(t *testing.T) {
	s, db := newTestStore(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Unix(1000, 0).UTC()

	require.NoError(t, s.SetValue(ctx, "k", "first", now))
	require.NoError(t, s.SetValue(ctx, "k", "second", now.Add(time.Minute)))

	raw, found, err := s.GetRaw(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `"second"`, string(raw))
}

func TestStore_GetDuration_ReturnsFallbackWhenUnset(t *testing.T) {
	s, db := newTestStore(t)
	defer db.Close()

	d, err := s.GetDuration(context.Background(), KeyAgentRunTimeout, 600*time.Second)
	require.NoError(t, err)
	require.Equal(t, 600*time.Second, d)
}

func TestStore_GetDuration_ReadsSecondsAsDuration(t *testing.T) {
	s, db := newTestStore(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Unix(1000, 0).UTC()

	require.NoError(t, s.SetValue(ctx, KeyWarmContainerIdleTTL, 120.0, now))

	d, err := s.GetDuration(ctx, KeyWarmContainerIdleTTL, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 120*time.Second, d)
}

func TestStore_SeedDefaults_DoesNotOverrideExistingValue(t *testing.T) {
	s, db := newTestStore(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Unix(1000, 0).UTC()

	require.NoError(t, s.SetValue(ctx, KeyAgentRunTimeout, float64(42), now))

	require.NoError(t, s.SeedDefaults(ctx, RuntimeSeed{
		AgentRunTimeout:       600 * time.Second,
		WarmContainerIdleTTL:  900 * time.Second,
		ContainerStartTimeout: 30 * time.Second,
	}, now))

	d, err := s.GetDuration(ctx, KeyAgentRunTimeout, 0)
	require.NoError(t, err)
	require.Equal(t, 42*time.Second, d)
}

func TestStore_SeedDefaults_FillsAllThreeKeysOnFirstBoot(t *testing.T) {
	s, db := newTestStore(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Unix(1000, 0).UTC()

	require.NoError(t, s.SeedDefaults(ctx, RuntimeSeed{
		AgentRunTimeout:       600 * time.Second,
		WarmContainerIdleTTL:  900 * time.Second,
		ContainerStartTimeout: 30 * time.Second,
	}, now))

	for key, want := range map[string]time.Duration{
		KeyAgentRunTimeout:       600 * time.Second,
		KeyWarmContainerIdleTTL:  900 * time.Second,
		KeyContainerStartTimeout: 30 * time.Second,
	} {
		got, err := s.GetDuration(ctx, key, 0)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
