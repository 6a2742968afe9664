// Package profilestore implements the Profile Document Store: a JSON
// document collection per (module, profile), queryable through a
// composable filter DSL instead of a query language.
package profilestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/storedb"
)

// Document is one stored JSON value, owned by a module's profile.
type Document struct {
	ID       string                 `json:"id"`
	ModuleID string                 `json:"module_id"`
	Profile  string                 `json:"profile"`
	Value    map[string]interface{} `json:"value"`
}

// Store manages the profile_documents table.
type Store struct {
	db     *sql.DB
	driver storedb.Driver
}

// NewStore wraps db (schema already created by EnsureSchema).
func NewStore(db *sql.DB, driver storedb.Driver) *Store {
	return &Store{db: db, driver: driver}
}

// EnsureSchema creates the profile_documents table if it doesn't exist.
const EnsureSchema = `
CREATE TABLE IF NOT EXISTS profile_documents (
	id        TEXT PRIMARY KEY,
	module_id TEXT NOT NULL,
	profile   TEXT NOT NULL,
	value     TEXT NOT NULL
)`

func (s *Store) bind(query string) string {
	return storedb.Rebind(s.driver, query)
}

// SetValue inserts a new document with a freshly generated id.
func (s *Store) SetValue(ctx context.Context, moduleID, profile string, value map[string]interface{}) (Document, error) {
	doc := Document{ID: uuid.NewString(), ModuleID: moduleID, Profile: profile, Value: value}
	if err := s.insert(ctx, doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// SetMany inserts multiple documents in one transaction.
func (s *Store) SetMany(ctx context.Context, moduleID, profile string, values []map[string]interface{}) ([]Document, error) {
	docs := make([]Document, len(values))
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.DBError, "begin transaction", err)
	}
	for i, value := range values {
		doc := Document{ID: uuid.NewString(), ModuleID: moduleID, Profile: profile, Value: value}
		raw, err := json.Marshal(doc.Value)
		if err != nil {
			tx.Rollback()
			return nil, platformerr.Wrap(platformerr.DBError, "marshal document value", err)
		}
		if _, err := tx.ExecContext(ctx, s.bind(`
			INSERT INTO profile_documents (id, module_id, profile, value) VALUES (?, ?, ?, ?)
		`), doc.ID, doc.ModuleID, doc.Profile, string(raw)); err != nil {
			tx.Rollback()
			return nil, platformerr.Wrap(platformerr.DBError, "insert document", err)
		}
		docs[i] = doc
	}
	if err := tx.Commit(); err != nil {
		return nil, platformerr.Wrap(platformerr.DBError, "commit transaction", err)
	}
	return docs, nil
}

func (s *Store) insert(ctx context.Context, doc Document) error {
	raw, err := json.Marshal(doc.Value)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "marshal document value", err)
	}
	if _, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO profile_documents (id, module_id, profile, value) VALUES (?, ?, ?, ?)
	`), doc.ID, doc.ModuleID, doc.Profile, string(raw)); err != nil {
		return platformerr.Wrap(platformerr.DBError, "insert document", err)
	}
	return nil
}

// GetByID fetches one document by its id, scoped to (moduleID, profile).
func (s *Store) GetByID(ctx context.Context, moduleID, profile, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, s.bind(`
		SELECT id, module_id, profile, value FROM profile_documents
		WHERE module_id = ? AND profile = ? AND id = ?
	`), moduleID, profile, id)

	var doc Document
	var raw string
	if err := row.Scan(&doc.ID, &doc.ModuleID, &doc.Profile, &raw); err != nil {
		if err == sql.ErrNoRows {
			return Document{}, platformerr.New(platformerr.InvalidPath, fmt.Sprintf("document %q not found", id))
		}
		return Document{}, platformerr.Wrap(platformerr.DBError, "query document", err)
	}
	if err := json.Unmarshal([]byte(raw), &doc.Value); err != nil {
		return Document{}, platformerr.Wrap(platformerr.DBError, "unmarshal document value", err)
	}
	return doc, nil
}

// Find loads every document for (moduleID, profile), applies filter, and
// returns the matches in filter's requested sort/page order.
func (s *Store) Find(ctx context.Context, moduleID, profile string, filter Filter) ([]Document, error) {
	docs, err := s.loadAll(ctx, moduleID, profile)
	if err != nil {
		return nil, err
	}
	matched := applyFilter(docs, filter)
	return paginate(sortDocuments(matched, filter.SortBy, filter.SortDesc), filter.Offset, filter.Limit), nil
}

// Update overwrites newValue onto every document matching filter, within
// one transaction.
func (s *Store) Update(ctx context.Context, moduleID, profile string, filter Filter, newValue map[string]interface{}) (int, error) {
	docs, err := s.loadAll(ctx, moduleID, profile)
	if err != nil {
		return 0, err
	}
	matched := applyFilter(docs, filter)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, platformerr.Wrap(platformerr.DBError, "begin transaction", err)
	}
	raw, err := json.Marshal(newValue)
	if err != nil {
		tx.Rollback()
		return 0, platformerr.Wrap(platformerr.DBError, "marshal document value", err)
	}
	for _, doc := range matched {
		if _, err := tx.ExecContext(ctx, s.bind(`UPDATE profile_documents SET value = ? WHERE id = ?`), string(raw), doc.ID); err != nil {
			tx.Rollback()
			return 0, platformerr.Wrap(platformerr.DBError, "update document", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, platformerr.Wrap(platformerr.DBError, "commit transaction", err)
	}
	return len(matched), nil
}

// Delete removes every document matching filter.
func (s *Store) Delete(ctx context.Context, moduleID, profile string, filter Filter) (int, error) {
	docs, err := s.loadAll(ctx, moduleID, profile)
	if err != nil {
		return 0, err
	}
	matched := applyFilter(docs, filter)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, platformerr.Wrap(platformerr.DBError, "begin transaction", err)
	}
	for _, doc := range matched {
		if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM profile_documents WHERE id = ?`), doc.ID); err != nil {
			tx.Rollback()
			return 0, platformerr.Wrap(platformerr.DBError, "delete document", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, platformerr.Wrap(platformerr.DBError, "commit transaction", err)
	}
	return len(matched), nil
}

func (s *Store) loadAll(ctx context.Context, moduleID, profile string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT id, module_id, profile, value FROM profile_documents WHERE module_id = ? AND profile = ?
	`), moduleID, profile)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.DBError, "query documents", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var raw string
		if err := rows.Scan(&doc.ID, &doc.ModuleID, &doc.Profile, &raw); err != nil {
			return nil, platformerr.Wrap(platformerr.DBError, "scan document", err)
		}
		if err := json.Unmarshal([]byte(raw), &doc.Value); err != nil {
			return nil, platformerr.Wrap(platformerr.DBError, "unmarshal document value", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
