package module

// EnsureSchema creates every table the Module Registry owns: modules,
// project_mappings, agent_states, module_api_keys (supplemented
// ModuleApiKey), and profile_status (supplemented ProfileStatus).
const EnsureSchema = `
CREATE TABLE IF NOT EXISTS modules (
	module_id      TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	owner          TEXT NOT NULL,
	kit_id         TEXT NOT NULL,
	version        TEXT NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	env_vars_sealed TEXT,
	workspace_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS project_mappings (
	project_id TEXT NOT NULL,
	module_id  TEXT NOT NULL,
	path       TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (project_id, module_id)
);

CREATE TABLE IF NOT EXISTS agent_states (
	module_id    TEXT PRIMARY KEY,
	state        TEXT NOT NULL,
	last_updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS module_api_keys (
	id         TEXT PRIMARY KEY,
	module_id  TEXT NOT NULL,
	key_hash   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	revoked_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS profile_status (
	module_id     TEXT NOT NULL,
	profile       TEXT NOT NULL,
	is_completed  BOOLEAN NOT NULL DEFAULT 0,
	last_updated  TIMESTAMP NOT NULL,
	PRIMARY KEY (module_id, profile)
);
`
