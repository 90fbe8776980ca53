package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/storage"
)

// Operator applies human-initiated state changes through the same store,
// compare-and-set path, and audit trail as the controller. The ladder
// invariant holds for manual writes exactly as it does for automated ones.
type Operator struct {
	store   storage.StateStore
	audit   storage.AuditLog
	mirrors []storage.AuditAppender
	ladder  rollout.Ladder

	// Now is the injected clock. Tests override it.
	Now func() time.Time
}

// NewOperator creates an Operator writing through the given store and audit log
func NewOperator(store storage.StateStore, audit storage.AuditLog, ladder rollout.Ladder, mirrors ...storage.AuditAppender) *Operator {
	return &Operator{
		store:   store,
		audit:   audit,
		mirrors: mirrors,
		ladder:  ladder,
		Now:     time.Now,
	}
}

// Override sets a feature's percent to an explicit ladder rung. A feature
// with no state yet gets its initial record created first, through the same
// audited path. Moving down counts as a rollback and starts the cooldown.
func (o *Operator) Override(ctx context.Context, featureName string, percent int, reason string) (*rollout.State, error) {
	if !o.ladder.Contains(percent) {
		return nil, fmt.Errorf("percent %d is not a ladder rung (%s)", percent, o.ladder)
	}

	state, err := o.store.GetState(ctx, featureName)
	if errors.Is(err, storage.ErrNotFound) {
		state, err = o.initState(ctx, featureName)
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	now := o.Now()
	rollbackOccurred := percent < state.Percent
	if err := o.store.SetState(ctx, featureName, percent, rollbackOccurred, now, state.Version); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("state changed concurrently, re-read and retry: %w", err)
		}
		return nil, fmt.Errorf("write state: %w", err)
	}

	if reason == "" {
		reason = fmt.Sprintf("manual override to %d%%", percent)
	}
	o.appendAudit(ctx, &rollout.AuditEntry{
		ID:         uuid.NewString(),
		Feature:    featureName,
		OldPercent: state.Percent,
		NewPercent: percent,
		Action:     rollout.ActionOverride,
		Reason:     reason,
		Actor:      rollout.ActorManual,
		CreatedAt:  now,
	})

	return o.store.GetState(ctx, featureName)
}

// Pause forces every subsequent controller decision for the feature to Hold
func (o *Operator) Pause(ctx context.Context, featureName string, reason string) (*rollout.State, error) {
	return o.setPaused(ctx, featureName, true, reason)
}

// Resume lifts a pause
func (o *Operator) Resume(ctx context.Context, featureName string, reason string) (*rollout.State, error) {
	return o.setPaused(ctx, featureName, false, reason)
}

func (o *Operator) setPaused(ctx context.Context, featureName string, paused bool, reason string) (*rollout.State, error) {
	state, err := o.store.GetState(ctx, featureName)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if state.Paused == paused {
		return state, nil
	}

	now := o.Now()
	if err := o.store.SetPaused(ctx, featureName, paused, state.Version); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("state changed concurrently, re-read and retry: %w", err)
		}
		return nil, fmt.Errorf("write state: %w", err)
	}

	action := rollout.ActionPause
	if !paused {
		action = rollout.ActionResume
	}
	if reason == "" {
		reason = fmt.Sprintf("manually %sd", action)
	}
	o.appendAudit(ctx, &rollout.AuditEntry{
		ID:         uuid.NewString(),
		Feature:    featureName,
		OldPercent: state.Percent,
		NewPercent: state.Percent,
		Action:     action,
		Reason:     reason,
		Actor:      rollout.ActorManual,
		CreatedAt:  now,
	})

	return o.store.GetState(ctx, featureName)
}

// Enable flips the feature kill switch on
func (o *Operator) Enable(ctx context.Context, featureName string, reason string) (*rollout.State, error) {
	return o.setEnabled(ctx, featureName, true, reason)
}

// Disable flips the feature kill switch off; the controller stops
// evaluating the feature until it is enabled again
func (o *Operator) Disable(ctx context.Context, featureName string, reason string) (*rollout.State, error) {
	return o.setEnabled(ctx, featureName, false, reason)
}

func (o *Operator) setEnabled(ctx context.Context, featureName string, enabled bool, reason string) (*rollout.State, error) {
	state, err := o.store.GetState(ctx, featureName)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if state.Enabled == enabled {
		return state, nil
	}

	now := o.Now()
	if err := o.store.SetEnabled(ctx, featureName, enabled, state.Version); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("state changed concurrently, re-read and retry: %w", err)
		}
		return nil, fmt.Errorf("write state: %w", err)
	}

	action := rollout.ActionEnable
	if !enabled {
		action = rollout.ActionDisable
	}
	if reason == "" {
		reason = fmt.Sprintf("feature %sd manually", action)
	}
	o.appendAudit(ctx, &rollout.AuditEntry{
		ID:         uuid.NewString(),
		Feature:    featureName,
		OldPercent: state.Percent,
		NewPercent: state.Percent,
		Action:     action,
		Reason:     reason,
		Actor:      rollout.ActorManual,
		CreatedAt:  now,
	})

	return o.store.GetState(ctx, featureName)
}

// initState creates the initial record for a feature the operator touches
// before the controller has seeded it.
func (o *Operator) initState(ctx context.Context, featureName string) (*rollout.State, error) {
	now := o.Now()
	seed := rollout.State{
		Feature:        featureName,
		Enabled:        true,
		Percent:        0,
		LastChangeTime: now,
	}
	created, err := o.store.EnsureState(ctx, seed)
	if err != nil {
		return nil, err
	}
	if created {
		o.appendAudit(ctx, &rollout.AuditEntry{
			ID:         uuid.NewString(),
			Feature:    featureName,
			OldPercent: 0,
			NewPercent: 0,
			Action:     rollout.ActionInit,
			Reason:     "state initialized",
			Actor:      rollout.ActorManual,
			CreatedAt:  now,
		})
	}
	return o.store.GetState(ctx, featureName)
}

// appendAudit writes to the primary log and every mirror. The state store
// stays authoritative, so a failed append is logged rather than returned.
func (o *Operator) appendAudit(ctx context.Context, entry *rollout.AuditEntry) {
	if err := o.audit.Append(ctx, entry); err != nil {
		log.Printf("Warning: audit append failed for %s: %v", entry.Feature, err)
	}
	for _, m := range o.mirrors {
		if err := m.Append(ctx, entry); err != nil {
			log.Printf("Warning: audit mirror append failed for %s: %v", entry.Feature, err)
		}
	}
}
