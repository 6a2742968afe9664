// Package provides implements the Provides Graph: directed edges from a
// provider module to a receiver module, tagged by the resource kind the
// edge authorizes the receiver to see (workspace, tool, or instruction).
package provides

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/storedb"
)

// ResourceKind is the kind of resource a provides edge authorizes.
type ResourceKind string

const (
	KindWorkspace   ResourceKind = "workspace"
	KindTool        ResourceKind = "tool"
	KindInstruction ResourceKind = "instruction"
)

// Edge is one provides-graph relationship.
type Edge struct {
	ProviderID  string
	ReceiverID  string
	Kind        ResourceKind
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Graph manages provides edges in the shared relational store.
type Graph struct {
	db     *sql.DB
	driver storedb.Driver
}

// NewGraph wraps db (of the given driver), expected to already have the
// provides_edges table created by EnsureSchema.
func NewGraph(db *sql.DB, driver storedb.Driver) *Graph {
	return &Graph{db: db, driver: driver}
}

// EnsureSchema creates the provides_edges table if it doesn't exist.
const EnsureSchema = `
CREATE TABLE IF NOT EXISTS provides_edges (
	provider_id   TEXT NOT NULL,
	receiver_id   TEXT NOT NULL,
	resource_kind TEXT NOT NULL,
	description   TEXT,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	PRIMARY KEY (provider_id, receiver_id, resource_kind)
)`

func validateKind(kind ResourceKind) error {
	switch kind {
	case KindWorkspace, KindTool, KindInstruction:
		return nil
	default:
		return platformerr.New(platformerr.InvalidPath, fmt.Sprintf("unknown resource kind %q", kind))
	}
}

func (g *Graph) bind(query string) string {
	return storedb.Rebind(g.driver, query)
}

// CreateEdge adds or refreshes a provides edge. No self-loops are allowed;
// re-adding an existing edge is idempotent and bumps updated_at.
func (g *Graph) CreateEdge(ctx context.Context, providerID, receiverID string, kind ResourceKind, description string) (Edge, error) {
	if providerID == receiverID {
		return Edge{}, platformerr.New(platformerr.InvalidPath, "a module cannot provide to itself")
	}
	if err := validateKind(kind); err != nil {
		return Edge{}, err
	}

	now := time.Now().UTC()

	exists, err := g.HasEdge(ctx, providerID, receiverID, kind)
	if err != nil {
		return Edge{}, err
	}

	if exists {
		_, err = g.db.ExecContext(ctx, g.bind(`
			UPDATE provides_edges SET description = ?, updated_at = ?
			WHERE provider_id = ? AND receiver_id = ? AND resource_kind = ?
		`), description, now, providerID, receiverID, string(kind))
	} else {
		_, err = g.db.ExecContext(ctx, g.bind(`
			INSERT INTO provides_edges (provider_id, receiver_id, resource_kind, description, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`), providerID, receiverID, string(kind), description, now, now)
	}
	if err != nil {
		return Edge{}, platformerr.Wrap(platformerr.DBError, "create provides edge", err)
	}

	return Edge{
		ProviderID:  providerID,
		ReceiverID:  receiverID,
		Kind:        kind,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// DeleteEdge removes one edge.
func (g *Graph) DeleteEdge(ctx context.Context, providerID, receiverID string, kind ResourceKind) error {
	_, err := g.db.ExecContext(ctx, g.bind(`
		DELETE FROM provides_edges WHERE provider_id = ? AND receiver_id = ? AND resource_kind = ?
	`), providerID, receiverID, string(kind))
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "delete provides edge", err)
	}
	return nil
}

// ListReceiversOfProviderKind returns every edge where providerID provides
// resources of kind to some receiver.
func (g *Graph) ListReceiversOfProviderKind(ctx context.Context, providerID string, kind ResourceKind) ([]Edge, error) {
	rows, err := g.db.QueryContext(ctx, g.bind(`
		SELECT provider_id, receiver_id, resource_kind, description, created_at, updated_at
		FROM provides_edges WHERE provider_id = ? AND resource_kind = ?
	`), providerID, string(kind))
	if err != nil {
		return nil, platformerr.Wrap(platformerr.DBError, "list receivers", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// ListProvidersToReceiver returns every edge where some provider exposes
// resources of kind to receiverID.
func (g *Graph) ListProvidersToReceiver(ctx context.Context, receiverID string, kind ResourceKind) ([]Edge, error) {
	rows, err := g.db.QueryContext(ctx, g.bind(`
		SELECT provider_id, receiver_id, resource_kind, description, created_at, updated_at
		FROM provides_edges WHERE receiver_id = ? AND resource_kind = ?
	`), receiverID, string(kind))
	if err != nil {
		return nil, platformerr.Wrap(platformerr.DBError, "list providers", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// HasEdge reports whether a (provider, receiver, kind) edge exists,
// consulted per-call by the Platform Bridge's authorization check — never
// cached, per the Module Registry's own no-cache rule for kit config.
func (g *Graph) HasEdge(ctx context.Context, providerID, receiverID string, kind ResourceKind) (bool, error) {
	var n int
	err := g.db.QueryRowContext(ctx, g.bind(`
		SELECT COUNT(*) FROM provides_edges WHERE provider_id = ? AND receiver_id = ? AND resource_kind = ?
	`), providerID, receiverID, string(kind)).Scan(&n)
	if err != nil {
		return false, platformerr.Wrap(platformerr.DBError, "check provides edge", err)
	}
	return n > 0, nil
}

// DeleteEdgesForModuleTx removes every edge touching moduleID (as either
// provider or receiver) within an existing transaction, so the Module
// Registry can cascade edge deletion atomically with module deletion.
func DeleteEdgesForModuleTx(ctx context.Context, tx *sql.Tx, driver storedb.Driver, moduleID string) error {
	_, err := tx.ExecContext(ctx, storedb.Rebind(driver, `
		DELETE FROM provides_edges WHERE provider_id = ? OR receiver_id = ?
	`), moduleID, moduleID)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "cascade-delete provides edges", err)
	}
	return nil
}

func scanEdges(rows *sql.Rows) ([]Edge, error) {
	var edges []Edge
	for rows.Next() {
		var e Edge
		var kind string
		var description sql.NullString
		if err := rows.Scan(&e.ProviderID, &e.ReceiverID, &kind, &description, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, platformerr.Wrap(platformerr.DBError, "scan provides edge", err)
		}
		e.Kind = ResourceKind(kind)
		e.Description = description.String
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
