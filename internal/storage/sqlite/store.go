package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/storage"
)

// Store implements StateStore and AuditLog on a single SQLite file
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite store with the given database path
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialized writers; concurrent tick workers share one connection.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Run migrations
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// GetState returns the current state for a feature
func (s *Store) GetState(ctx context.Context, feature string) (*rollout.State, error) {
	query := `
		SELECT feature, enabled, internal_only, percent, paused,
		       last_change_time, last_rollback_time, version
		FROM rollout_states
		WHERE feature = ?
	`

	state, err := scanState(s.db.QueryRowContext(ctx, query, feature))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	return state, nil
}

// ListStates returns all known feature states ordered by feature name
func (s *Store) ListStates(ctx context.Context) ([]rollout.State, error) {
	query := `
		SELECT feature, enabled, internal_only, percent, paused,
		       last_change_time, last_rollback_time, version
		FROM rollout_states
		ORDER BY feature
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var states []rollout.State
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		states = append(states, *state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return states, nil
}

// EnsureState inserts the seed record if the feature has none yet
func (s *Store) EnsureState(ctx context.Context, seed rollout.State) (bool, error) {
	query := `
		INSERT INTO rollout_states (feature, enabled, internal_only, percent, paused, last_change_time, version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(feature) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		seed.Feature,
		seed.Enabled,
		seed.InternalOnly,
		seed.Percent,
		seed.Paused,
		seed.LastChangeTime,
	)
	if err != nil {
		return false, fmt.Errorf("failed to ensure state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected == 1, nil
}

// SetState moves a feature to a new percent with a compare-and-set on version
func (s *Store) SetState(ctx context.Context, feature string, percent int, rollbackOccurred bool, now time.Time, expectVersion int64) error {
	var query string
	var args []interface{}

	if rollbackOccurred {
		query = `
			UPDATE rollout_states
			SET percent = ?, last_change_time = ?, last_rollback_time = ?,
			    version = version + 1, updated_at = CURRENT_TIMESTAMP
			WHERE feature = ? AND version = ?
		`
		args = []interface{}{percent, now, now, feature, expectVersion}
	} else {
		query = `
			UPDATE rollout_states
			SET percent = ?, last_change_time = ?,
			    version = version + 1, updated_at = CURRENT_TIMESTAMP
			WHERE feature = ? AND version = ?
		`
		args = []interface{}{percent, now, feature, expectVersion}
	}

	return s.casWrite(ctx, feature, query, args...)
}

// SetPaused flips the manual pause flag
func (s *Store) SetPaused(ctx context.Context, feature string, paused bool, expectVersion int64) error {
	query := `
		UPDATE rollout_states
		SET paused = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE feature = ? AND version = ?
	`
	return s.casWrite(ctx, feature, query, paused, feature, expectVersion)
}

// SetEnabled flips the feature's master kill switch
func (s *Store) SetEnabled(ctx context.Context, feature string, enabled bool, expectVersion int64) error {
	query := `
		UPDATE rollout_states
		SET enabled = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE feature = ? AND version = ?
	`
	return s.casWrite(ctx, feature, query, enabled, feature, expectVersion)
}

// casWrite runs a version-guarded update and maps a zero-row result to
// ErrNotFound or ErrConflict.
func (s *Store) casWrite(ctx context.Context, feature, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM rollout_states WHERE feature = ?)", feature).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check state existence: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

// Append writes one audit entry
func (s *Store) Append(ctx context.Context, entry *rollout.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (id, feature, old_percent, new_percent, action, reason, actor, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Feature,
		entry.OldPercent,
		entry.NewPercent,
		string(entry.Action),
		entry.Reason,
		string(entry.Actor),
		entry.DryRun,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// Query retrieves audit entries with optional filtering, newest first
func (s *Store) Query(ctx context.Context, filter storage.AuditFilter) ([]rollout.AuditEntry, error) {
	query := `
		SELECT id, feature, old_percent, new_percent, action, reason, actor, dry_run, created_at
		FROM audit_entries
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.Feature != "" {
		query += " AND feature = ?"
		args = append(args, filter.Feature)
	}

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}

	if filter.Actor != "" {
		query += " AND actor = ?"
		args = append(args, filter.Actor)
	}

	if filter.StartTime != nil {
		query += " AND created_at >= ?"
		args = append(args, filter.StartTime)
	}

	if filter.EndTime != nil {
		query += " AND created_at <= ?"
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else {
		query += " LIMIT 100" // Default limit
	}

	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []rollout.AuditEntry
	for rows.Next() {
		var entry rollout.AuditEntry
		var action, actor string

		err := rows.Scan(
			&entry.ID,
			&entry.Feature,
			&entry.OldPercent,
			&entry.NewPercent,
			&action,
			&entry.Reason,
			&actor,
			&entry.DryRun,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		entry.Action = rollout.Action(action)
		entry.Actor = rollout.Actor(actor)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return entries, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// rowScanner covers both sql.Row and sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanState(row rowScanner) (*rollout.State, error) {
	var state rollout.State
	var lastRollback sql.NullTime

	err := row.Scan(
		&state.Feature,
		&state.Enabled,
		&state.InternalOnly,
		&state.Percent,
		&state.Paused,
		&state.LastChangeTime,
		&lastRollback,
		&state.Version,
	)
	if err != nil {
		return nil, err
	}

	if lastRollback.Valid {
		t := lastRollback.Time
		state.LastRollbackTime = &t
	}

	return &state, nil
}

var _ storage.StateStore = (*Store)(nil)
var _ storage.AuditLog = (*Store)(nil)
