// Package module implements the Module Registry: module lifecycle
// (create/update/delete), project mappings, transient agent state, and
// the supplemented ModuleApiKey / ProfileStatus features.
package module

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/genbase-project/genbase/pkg/crypt"
	"github.com/genbase-project/genbase/pkg/platformerr"
	"github.com/genbase-project/genbase/pkg/provides"
	"github.com/genbase-project/genbase/pkg/storedb"
	"github.com/genbase-project/genbase/pkg/workspace"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z0-9]+(\.[A-Za-z0-9]+)*$`)

// ValidPath reports whether a ProjectMapping path matches the required
// dotted-alphanumeric-segment shape.
func ValidPath(path string) bool {
	return pathPattern.MatchString(path)
}

// State is a module's transient execution flag.
type State string

const (
	StateStandby   State = "STANDBY"
	StateExecuting State = "EXECUTING"
)

// Module is one registered module.
type Module struct {
	ModuleID      string
	Name          string
	Owner         string
	KitID         string
	Version       string
	CreatedAt     time.Time
	EnvVars       map[string]string
	WorkspaceName string
}

// ProjectMapping binds a module to a project under a grouping path.
type ProjectMapping struct {
	ProjectID string
	ModuleID  string
	Path      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry manages modules, their project mappings, and transient state.
type Registry struct {
	db        *sql.DB
	driver    storedb.Driver
	sealer    *crypt.Sealer
	workspace *workspace.Store
}

// NewRegistry wires a Registry over db (schema already created by
// EnsureSchema), sealing env_vars with sealer and materializing
// workspaces via ws.
func NewRegistry(db *sql.DB, driver storedb.Driver, sealer *crypt.Sealer, ws *workspace.Store) *Registry {
	return &Registry{db: db, driver: driver, sealer: sealer, workspace: ws}
}

func (r *Registry) bind(query string) string {
	return storedb.Rebind(r.driver, query)
}

// CreateModuleParams describes a new module to materialize.
type CreateModuleParams struct {
	ProjectID        string
	Owner            string
	KitID            string
	Version          string
	EnvVars          map[string]string
	Path             string
	Name             string // optional; defaults to the generated module_id
	KitWorkspaceSeed string // absolute path to the kit's workspace/ directory
}

// CreateModule assigns a fresh readable uid, zips the kit's workspace/
// seed, materializes it through the Workspace Store, and writes the
// Module + ProjectMapping rows in one transaction. The workspace is
// removed if the database transaction fails.
func (r *Registry) CreateModule(ctx context.Context, params CreateModuleParams) (Module, error) {
	if !ValidPath(params.Path) {
		return Module{}, platformerr.New(platformerr.InvalidPath,
			fmt.Sprintf("invalid path %q: must be dotted alphanumeric segments", params.Path))
	}

	moduleID, err := GenerateReadableUID()
	if err != nil {
		return Module{}, fmt.Errorf("module: %w", err)
	}
	name := params.Name
	if name == "" {
		name = moduleID
	}
	workspaceName := moduleID

	seed, err := zipDirectory(params.KitWorkspaceSeed)
	if err != nil {
		return Module{}, platformerr.Wrap(platformerr.MalformedKit, "zip kit workspace seed", err)
	}

	if err := r.workspace.Create(workspaceName, seed); err != nil {
		return Module{}, err
	}

	sealedEnv, err := r.sealer.SealJSON(params.EnvVars)
	if err != nil {
		return Module{}, err
	}

	now := time.Now().UTC()
	mod := Module{
		ModuleID:      moduleID,
		Name:          name,
		Owner:         params.Owner,
		KitID:         params.KitID,
		Version:       params.Version,
		CreatedAt:     now,
		EnvVars:       params.EnvVars,
		WorkspaceName: workspaceName,
	}

	txErr := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.bind(`
			INSERT INTO modules (module_id, name, owner, kit_id, version, created_at, env_vars_sealed, workspace_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), mod.ModuleID, mod.Name, mod.Owner, mod.KitID, mod.Version, mod.CreatedAt, sealedEnv, mod.WorkspaceName); err != nil {
			return platformerr.Wrap(platformerr.DBError, "insert module", err)
		}

		if _, err := tx.ExecContext(ctx, r.bind(`
			INSERT INTO project_mappings (project_id, module_id, path, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`), params.ProjectID, mod.ModuleID, params.Path, now, now); err != nil {
			return platformerr.Wrap(platformerr.DBError, "insert project mapping", err)
		}

		if _, err := tx.ExecContext(ctx, r.bind(`
			INSERT INTO agent_states (module_id, state, last_updated) VALUES (?, ?, ?)
		`), mod.ModuleID, string(StateStandby), now); err != nil {
			return platformerr.Wrap(platformerr.DBError, "initialize agent state", err)
		}

		return nil
	})

	if txErr != nil {
		if delErr := r.workspace.Delete(workspaceName); delErr != nil {
			return Module{}, fmt.Errorf("module: create failed (%v) and workspace rollback failed: %w", txErr, delErr)
		}
		return Module{}, txErr
	}

	return mod, nil
}

func (r *Registry) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return platformerr.Wrap(platformerr.DBError, "commit transaction", err)
	}
	return nil
}

// GetModule fetches one module by id.
func (r *Registry) GetModule(ctx context.Context, moduleID string) (Module, error) {
	row := r.db.QueryRowContext(ctx, r.bind(`
		SELECT module_id, name, owner, kit_id, version, created_at, env_vars_sealed, workspace_name
		FROM modules WHERE module_id = ?
	`), moduleID)

	var mod Module
	var sealedEnv sql.NullString
	if err := row.Scan(&mod.ModuleID, &mod.Name, &mod.Owner, &mod.KitID, &mod.Version, &mod.CreatedAt, &sealedEnv, &mod.WorkspaceName); err != nil {
		if err == sql.ErrNoRows {
			return Module{}, platformerr.New(platformerr.ModuleNotFound, fmt.Sprintf("module %q not found", moduleID))
		}
		return Module{}, platformerr.Wrap(platformerr.DBError, "query module", err)
	}

	envVars, err := r.sealer.OpenJSON(sealedEnv.String)
	if err != nil {
		return Module{}, err
	}
	mod.EnvVars = envVars
	return mod, nil
}

// UpdatePath changes a module's ProjectMapping path.
func (r *Registry) UpdatePath(ctx context.Context, projectID, moduleID, newPath string) error {
	if !ValidPath(newPath) {
		return platformerr.New(platformerr.InvalidPath, fmt.Sprintf("invalid path %q", newPath))
	}
	res, err := r.db.ExecContext(ctx, r.bind(`
		UPDATE project_mappings SET path = ?, updated_at = ? WHERE project_id = ? AND module_id = ?
	`), newPath, time.Now().UTC(), projectID, moduleID)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "update path", err)
	}
	return requireRowsAffected(res, platformerr.ModuleNotFound, "module not found in project")
}

// UpdateName changes a module's display name.
func (r *Registry) UpdateName(ctx context.Context, moduleID, newName string) error {
	res, err := r.db.ExecContext(ctx, r.bind(`
		UPDATE modules SET name = ? WHERE module_id = ?
	`), newName, moduleID)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "update name", err)
	}
	return requireRowsAffected(res, platformerr.ModuleNotFound, fmt.Sprintf("module %q not found", moduleID))
}

// UpdateEnvVar sets (or clears, if value == "") one env var, re-sealing
// the whole env_vars map.
func (r *Registry) UpdateEnvVar(ctx context.Context, moduleID, key, value string) error {
	mod, err := r.GetModule(ctx, moduleID)
	if err != nil {
		return err
	}
	if mod.EnvVars == nil {
		mod.EnvVars = map[string]string{}
	}
	mod.EnvVars[key] = value

	sealed, err := r.sealer.SealJSON(mod.EnvVars)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, r.bind(`UPDATE modules SET env_vars_sealed = ? WHERE module_id = ?`), sealed, moduleID)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "update env var", err)
	}
	return requireRowsAffected(res, platformerr.ModuleNotFound, fmt.Sprintf("module %q not found", moduleID))
}

// DeleteModule removes the module, every project mapping pointing at it,
// its agent state, and every provides edge touching it, all within one
// transaction, then destroys its workspace.
func (r *Registry) DeleteModule(ctx context.Context, moduleID string) error {
	mod, err := r.GetModule(ctx, moduleID)
	if err != nil {
		return err
	}

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if err := provides.DeleteEdgesForModuleTx(ctx, tx, r.driver, moduleID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, r.bind(`DELETE FROM project_mappings WHERE module_id = ?`), moduleID); err != nil {
			return platformerr.Wrap(platformerr.DBError, "delete project mappings", err)
		}
		if _, err := tx.ExecContext(ctx, r.bind(`DELETE FROM agent_states WHERE module_id = ?`), moduleID); err != nil {
			return platformerr.Wrap(platformerr.DBError, "delete agent state", err)
		}
		if _, err := tx.ExecContext(ctx, r.bind(`DELETE FROM profile_status WHERE module_id = ?`), moduleID); err != nil {
			return platformerr.Wrap(platformerr.DBError, "delete profile status", err)
		}
		if _, err := tx.ExecContext(ctx, r.bind(`DELETE FROM module_api_keys WHERE module_id = ?`), moduleID); err != nil {
			return platformerr.Wrap(platformerr.DBError, "delete module api keys", err)
		}
		if _, err := tx.ExecContext(ctx, r.bind(`DELETE FROM modules WHERE module_id = ?`), moduleID); err != nil {
			return platformerr.Wrap(platformerr.DBError, "delete module", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	return r.workspace.Delete(mod.WorkspaceName)
}

// ListProjectModules returns every module mapped into projectID.
func (r *Registry) ListProjectModules(ctx context.Context, projectID string) ([]Module, error) {
	rows, err := r.db.QueryContext(ctx, r.bind(`
		SELECT m.module_id, m.name, m.owner, m.kit_id, m.version, m.created_at, m.env_vars_sealed, m.workspace_name
		FROM modules m
		JOIN project_mappings pm ON pm.module_id = m.module_id
		WHERE pm.project_id = ?
	`), projectID)
	if err != nil {
		return nil, platformerr.Wrap(platformerr.DBError, "list project modules", err)
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		var mod Module
		var sealedEnv sql.NullString
		if err := rows.Scan(&mod.ModuleID, &mod.Name, &mod.Owner, &mod.KitID, &mod.Version, &mod.CreatedAt, &sealedEnv, &mod.WorkspaceName); err != nil {
			return nil, platformerr.Wrap(platformerr.DBError, "scan module", err)
		}
		envVars, err := r.sealer.OpenJSON(sealedEnv.String)
		if err != nil {
			return nil, err
		}
		mod.EnvVars = envVars
		modules = append(modules, mod)
	}
	return modules, rows.Err()
}

// SetExecuting marks a module EXECUTING at the start of an agent run.
func (r *Registry) SetExecuting(ctx context.Context, moduleID string) error {
	return r.setState(ctx, moduleID, StateExecuting)
}

// SetStandby marks a module STANDBY on every agent-run exit path.
func (r *Registry) SetStandby(ctx context.Context, moduleID string) error {
	return r.setState(ctx, moduleID, StateStandby)
}

func (r *Registry) setState(ctx context.Context, moduleID string, state State) error {
	res, err := r.db.ExecContext(ctx, r.bind(`
		UPDATE agent_states SET state = ?, last_updated = ? WHERE module_id = ?
	`), string(state), time.Now().UTC(), moduleID)
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "set agent state", err)
	}
	return requireRowsAffected(res, platformerr.ModuleNotFound, fmt.Sprintf("module %q not found", moduleID))
}

// GetState returns a module's current transient execution state.
func (r *Registry) GetState(ctx context.Context, moduleID string) (State, error) {
	var state string
	err := r.db.QueryRowContext(ctx, r.bind(`SELECT state FROM agent_states WHERE module_id = ?`), moduleID).Scan(&state)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", platformerr.New(platformerr.ModuleNotFound, fmt.Sprintf("module %q not found", moduleID))
		}
		return "", platformerr.Wrap(platformerr.DBError, "get agent state", err)
	}
	return State(state), nil
}

func requireRowsAffected(res sql.Result, kind platformerr.Kind, message string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return platformerr.Wrap(platformerr.DBError, "check rows affected", err)
	}
	if n == 0 {
		return platformerr.New(kind, message)
	}
	return nil
}

func zipDirectory(root string) ([]byte, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("seed path %q is not a directory", root)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
