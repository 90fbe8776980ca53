package storage

import (
	"context"
	"errors"
	"time"

	"github.com/samijaber1/aegis-rollout/internal/rollout"
)

// ErrNotFound is returned when no state record exists for a feature.
var ErrNotFound = errors.New("feature state not found")

// ErrConflict is returned when a compare-and-set write loses to a concurrent
// writer. The caller must re-read before retrying; within one tick the
// controller simply skips the write and lets the next tick re-evaluate.
var ErrConflict = errors.New("state version conflict")

// StateStore is the state port: one mutable record per feature, shared
// between the controller and manual tooling. Every write is a compare-and-set
// against the version the writer read.
type StateStore interface {
	// GetState returns the current state for a feature, or ErrNotFound.
	GetState(ctx context.Context, feature string) (*rollout.State, error)

	// ListStates returns all known feature states ordered by feature name.
	ListStates(ctx context.Context) ([]rollout.State, error)

	// EnsureState inserts the seed record if the feature has none yet.
	// Returns true when the record was created by this call.
	EnsureState(ctx context.Context, seed rollout.State) (bool, error)

	// SetState moves a feature to a new percent. It updates
	// last_change_time to now and, when rollbackOccurred is set,
	// last_rollback_time as well. Returns ErrConflict unless the stored
	// version still equals expectVersion.
	SetState(ctx context.Context, feature string, percent int, rollbackOccurred bool, now time.Time, expectVersion int64) error

	// SetPaused flips the manual pause flag. Percent and timestamps are
	// untouched; the version still advances.
	SetPaused(ctx context.Context, feature string, paused bool, expectVersion int64) error

	// SetEnabled flips the feature's master kill switch.
	SetEnabled(ctx context.Context, feature string, enabled bool, expectVersion int64) error

	// Close closes the underlying connection.
	Close() error
}

// AuditAppender is the narrow write side of the audit trail. Mirrors such as
// the JSONL file sink and the Kafka publisher implement only this.
type AuditAppender interface {
	// Append writes one entry. Entries are never updated or deleted.
	Append(ctx context.Context, entry *rollout.AuditEntry) error

	// Close flushes and closes the sink.
	Close() error
}

// AuditLog is the queryable audit port backing post-incident review.
type AuditLog interface {
	AuditAppender

	// Query returns entries matching the filter, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]rollout.AuditEntry, error)
}

// Store is the combined port the database-backed implementations satisfy:
// rollout state and the primary audit trail live in the same store so a
// state write and its audit entry share one backend.
type Store interface {
	StateStore
	AuditLog
}

// AuditFilter defines filtering options for audit queries
type AuditFilter struct {
	Feature   string
	Action    string
	Actor     string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}
