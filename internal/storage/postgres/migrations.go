package postgres

// Schema defines the Postgres database schema
const Schema = `
CREATE TABLE IF NOT EXISTS rollout_states (
	feature TEXT PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT true,
	internal_only BOOLEAN NOT NULL DEFAULT false,
	percent INTEGER NOT NULL DEFAULT 0,
	paused BOOLEAN NOT NULL DEFAULT false,
	last_change_time TIMESTAMPTZ NOT NULL,
	last_rollback_time TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id UUID PRIMARY KEY,
	feature TEXT NOT NULL,
	old_percent INTEGER NOT NULL,
	new_percent INTEGER NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	actor TEXT NOT NULL,
	dry_run BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_feature ON audit_entries(feature);
CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_entries(action);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_entries(actor);
CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_entries(created_at DESC);
`
