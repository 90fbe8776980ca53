package sqlite

// Schema defines the SQLite database schema
const Schema = `
-- Rollout state table (one row per feature)
CREATE TABLE IF NOT EXISTS rollout_states (
	feature TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	internal_only BOOLEAN NOT NULL DEFAULT 0,
	percent INTEGER NOT NULL DEFAULT 0,
	paused BOOLEAN NOT NULL DEFAULT 0,
	last_change_time TIMESTAMP NOT NULL,
	last_rollback_time TIMESTAMP,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Append-only audit trail
CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	feature TEXT NOT NULL,
	old_percent INTEGER NOT NULL,
	new_percent INTEGER NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	actor TEXT NOT NULL,
	dry_run BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_feature ON audit_entries(feature);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_entries(action);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_entries(actor);
CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_entries(created_at DESC);
`
