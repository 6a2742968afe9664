package module

import (
	"context"
	"database/sql"
	"time"

	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/storedb"
)

// ProfileStatusStore tracks, per (module, profile), whether that
// profile's onetime work has already run. Neither the Agent Runner nor
// the Profile Composer reads or writes it.
type ProfileStatusStore struct {
	db     *sql.DB
	driver storedb.Driver
}

// NewProfileStatusStore wires a ProfileStatusStore over db (schema
// already created by EnsureSchema).
func NewProfileStatusStore(db *sql.DB, driver storedb.Driver) *ProfileStatusStore {
	return &ProfileStatusStore{db: db, driver: driver}
}

func (s *ProfileStatusStore) bind(query string) string {
	return storedb.Rebind(s.driver, query)
}

// IsCompleted reports whether moduleID's profile has already run to
// completion. A profile never touched is not completed.
func (s *ProfileStatusStore) IsCompleted(ctx context.Context, moduleID, profile string) (bool, error) {
	var completed bool
	err := s.db.QueryRowContext(ctx, s.bind(`
		SELECT is_completed FROM profile_status WHERE module_id = ? AND profile = ?
	`), moduleID, profile).Scan(&completed)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, platformerr.Wrap(platformerr.DBError, "query profile status", err)
	}
	return completed, nil
}

// MarkCompleted records that moduleID's profile has finished a onetime
// run, upserting the row with a check-then-insert/update sequence so the
// same query works across every supported driver.
func (s *ProfileStatusStore) MarkCompleted(ctx context.Context, moduleID, profile string) error {
	now := time.Now().UTC()

	var exists int
	err := s.db.QueryRowContext(ctx, s.bind(`
		SELECT COUNT(*) FROM profile_status WHERE module_id = ? AND profile = ?
	`), moduleID, profile).Scan(&exists)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "check profile status", err)
	}

	if exists > 0 {
		_, err = s.db.ExecContext(ctx, s.bind(`
			UPDATE profile_status SET is_completed = ?, last_updated = ? WHERE module_id = ? AND profile = ?
		`), true, now, moduleID, profile)
	} else {
		_, err = s.db.ExecContext(ctx, s.bind(`
			INSERT INTO profile_status (module_id, profile, is_completed, last_updated) VALUES (?, ?, ?, ?)
		`), moduleID, profile, true, now)
	}
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "mark profile completed", err)
	}
	return nil
}

// Reset clears a profile's completion flag, letting a onetime profile
// run again.
func (s *ProfileStatusStore) Reset(ctx context.Context, moduleID, profile string) error {
	_, err := s.db.ExecContext(ctx, s.bind(`
		DELETE FROM profile_status WHERE module_id = ? AND profile = ?
	`), moduleID, profile)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "reset profile status", err)
	}
	return nil
}
