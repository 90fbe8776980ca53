package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/storage"
)

// Store is an in-memory StateStore and AuditLog for tests and ephemeral
// runs. All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	states  map[string]rollout.State
	entries []rollout.AuditEntry
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		states: map[string]rollout.State{},
	}
}

// GetState returns the current state for a feature
func (m *Store) GetState(ctx context.Context, feature string) (*rollout.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[feature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := copyState(state)
	return &out, nil
}

// ListStates returns all known feature states ordered by feature name
func (m *Store) ListStates(ctx context.Context) ([]rollout.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]rollout.State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, copyState(state))
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Feature < states[j].Feature
	})
	return states, nil
}

// EnsureState inserts the seed record if the feature has none yet
func (m *Store) EnsureState(ctx context.Context, seed rollout.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[seed.Feature]; ok {
		return false, nil
	}

	seed.Version = 1
	m.states[seed.Feature] = copyState(seed)
	return true, nil
}

// SetState moves a feature to a new percent with a compare-and-set on version
func (m *Store) SetState(ctx context.Context, feature string, percent int, rollbackOccurred bool, now time.Time, expectVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[feature]
	if !ok {
		return storage.ErrNotFound
	}
	if state.Version != expectVersion {
		return storage.ErrConflict
	}

	state.Percent = percent
	state.LastChangeTime = now
	if rollbackOccurred {
		t := now
		state.LastRollbackTime = &t
	}
	state.Version++
	m.states[feature] = state
	return nil
}

// SetPaused flips the manual pause flag
func (m *Store) SetPaused(ctx context.Context, feature string, paused bool, expectVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[feature]
	if !ok {
		return storage.ErrNotFound
	}
	if state.Version != expectVersion {
		return storage.ErrConflict
	}

	state.Paused = paused
	state.Version++
	m.states[feature] = state
	return nil
}

// SetEnabled flips the feature's master kill switch
func (m *Store) SetEnabled(ctx context.Context, feature string, enabled bool, expectVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[feature]
	if !ok {
		return storage.ErrNotFound
	}
	if state.Version != expectVersion {
		return storage.ErrConflict
	}

	state.Enabled = enabled
	state.Version++
	m.states[feature] = state
	return nil
}

// Append writes one audit entry
func (m *Store) Append(ctx context.Context, entry *rollout.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, *entry)
	return nil
}

// Query retrieves audit entries with optional filtering, newest first
func (m *Store) Query(ctx context.Context, filter storage.AuditFilter) ([]rollout.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []rollout.AuditEntry
	for _, entry := range m.entries {
		if filter.Feature != "" && entry.Feature != filter.Feature {
			continue
		}
		if filter.Action != "" && string(entry.Action) != filter.Action {
			continue
		}
		if filter.Actor != "" && string(entry.Actor) != filter.Actor {
			continue
		}
		if filter.StartTime != nil && entry.CreatedAt.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && entry.CreatedAt.After(*filter.EndTime) {
			continue
		}
		matched = append(matched, entry)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	result := make([]rollout.AuditEntry, end-start)
	copy(result, matched[start:end])
	return result, nil
}

// Close is a no-op for the in-memory store
func (m *Store) Close() error {
	return nil
}

func copyState(state rollout.State) rollout.State {
	if state.LastRollbackTime != nil {
		t := *state.LastRollbackTime
		state.LastRollbackTime = &t
	}
	return state
}

var _ storage.StateStore = (*Store)(nil)
var _ storage.AuditLog = (*Store)(nil)
