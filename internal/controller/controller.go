package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/samijaber1/aegis-rollout/internal/feature"
	"github.com/samijaber1/aegis-rollout/internal/policy"
	"github.com/samijaber1/aegis-rollout/internal/rollout"
	"github.com/samijaber1/aegis-rollout/internal/storage"
	"github.com/samijaber1/aegis-rollout/internal/telemetry"
)

// MetricsSource fetches an SLO snapshot for one feature over a rolling window.
type MetricsSource interface {
	Snapshot(ctx context.Context, featureName string, queries feature.Queries, window string) (*rollout.SLOSnapshot, error)
}

// Options configures a Controller.
type Options struct {
	Store  storage.StateStore
	Audit  storage.AuditLog
	Source MetricsSource

	// Mirrors receive a copy of every audit entry; the primary log stays
	// authoritative when a mirror fails.
	Mirrors []storage.AuditAppender

	Telemetry *telemetry.Metrics
	Engine    *policy.Engine

	// Policy is the base configuration; per-feature threshold overrides
	// are merged on top of it each tick.
	Policy policy.Config

	// DryRun computes and audits recommendations without writing state.
	DryRun bool

	// DefaultWindow is the rolling window for features whose definition
	// does not set one. Defaults to "10m".
	DefaultWindow string

	// CallTimeout bounds every individual port call. Defaults to 10s.
	CallTimeout time.Duration

	// MaxConcurrent bounds how many features are evaluated at once.
	// Defaults to 4.
	MaxConcurrent int64
}

// Controller evaluates every configured feature once per tick and applies
// the resulting decisions through the state store. It keeps no state of its
// own across ticks; everything it needs lives behind the ports.
type Controller struct {
	store     storage.StateStore
	audit     storage.AuditLog
	mirrors   []storage.AuditAppender
	source    MetricsSource
	telemetry *telemetry.Metrics
	engine    *policy.Engine
	base      policy.Config

	dryRun        bool
	defaultWindow string
	callTimeout   time.Duration
	maxConcurrent int64

	// Now is the injected clock. Tests override it.
	Now func() time.Time
}

// New creates a Controller. A base policy configuration that fails
// validation is a startup error, never silently defaulted.
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("controller: state store is required")
	}
	if opts.Audit == nil {
		return nil, fmt.Errorf("controller: audit log is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("controller: metrics source is required")
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	if opts.Engine == nil {
		opts.Engine = policy.NewEngine()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NewMetrics()
	}
	if opts.DefaultWindow == "" {
		opts.DefaultWindow = "10m"
	}
	if _, err := feature.ParseDuration(opts.DefaultWindow); err != nil {
		return nil, fmt.Errorf("controller: invalid default window: %w", err)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}

	return &Controller{
		store:         opts.Store,
		audit:         opts.Audit,
		mirrors:       opts.Mirrors,
		source:        opts.Source,
		telemetry:     opts.Telemetry,
		engine:        opts.Engine,
		base:          opts.Policy,
		dryRun:        opts.DryRun,
		defaultWindow: opts.DefaultWindow,
		callTimeout:   opts.CallTimeout,
		maxConcurrent: opts.MaxConcurrent,
		Now:           time.Now,
	}, nil
}

// Telemetry exposes the controller's metrics for exposition
func (c *Controller) Telemetry() *telemetry.Metrics {
	return c.telemetry
}

// EnsureStates seeds a state row for every configured feature so that ticks
// always find one. Creation is audited once per feature; an existing row is
// left untouched.
func (c *Controller) EnsureStates(ctx context.Context, features []*feature.Feature) error {
	for _, f := range features {
		now := c.Now()
		seed := rollout.State{
			Feature:        f.Metadata.Name,
			Enabled:        f.Spec.Enabled,
			InternalOnly:   f.Spec.InternalOnly,
			Percent:        0,
			LastChangeTime: now,
		}

		ensureCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		created, err := c.store.EnsureState(ensureCtx, seed)
		cancel()
		if err != nil {
			return fmt.Errorf("ensure state for %s: %w", f.Metadata.Name, err)
		}
		if !created {
			continue
		}

		entry := &rollout.AuditEntry{
			ID:         uuid.NewString(),
			Feature:    f.Metadata.Name,
			OldPercent: 0,
			NewPercent: 0,
			Action:     rollout.ActionInit,
			Reason:     "state initialized",
			Actor:      rollout.ActorController,
			CreatedAt:  now,
		}
		if err := c.appendAudit(ctx, entry); err != nil {
			log.Printf("Warning: failed to audit state init for %s: %v", f.Metadata.Name, err)
		}
		c.mirrorAudit(ctx, entry)
		log.Printf("Initialized rollout state for %s", f.Metadata.Name)
	}
	return nil
}

// Tick evaluates all features once. Per-feature failures never abort the
// batch; the report carries one outcome per feature.
func (c *Controller) Tick(ctx context.Context, features []*feature.Feature) *TickReport {
	wallStart := time.Now()
	report := &TickReport{
		ID:       uuid.NewString(),
		Start:    c.Now(),
		DryRun:   c.dryRun,
		Outcomes: make([]FeatureOutcome, len(features)),
	}

	sem := semaphore.NewWeighted(c.maxConcurrent)
	var wg sync.WaitGroup
	for i, f := range features {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Tick deadline hit. Features not yet evaluated are deferred
			// to the next scheduled tick.
			report.Outcomes[i] = FeatureOutcome{
				Feature: f.Metadata.Name,
				Reason:  "tick deadline exceeded, deferred",
				Err:     err,
			}
			continue
		}

		wg.Add(1)
		go func(i int, f *feature.Feature) {
			defer wg.Done()
			defer sem.Release(1)
			report.Outcomes[i] = c.evaluateFeature(ctx, f)
		}(i, f)
	}
	wg.Wait()

	report.Duration = time.Since(wallStart)
	c.telemetry.ObserveTickDuration(report.Duration)
	c.telemetry.RecordRun(report.Outcome())

	log.Printf("Tick %s complete: %d features, %d applied, %d degraded, %d errors (%.3fs)",
		report.ID, len(report.Outcomes), report.Applied(), report.Degraded(), report.Errors(),
		report.Duration.Seconds())
	return report
}

// evaluateFeature runs the full read-decide-apply-audit sequence for one
// feature. Every port call gets its own timeout so a stuck backend cannot
// stall the rest of the tick.
func (c *Controller) evaluateFeature(ctx context.Context, f *feature.Feature) FeatureOutcome {
	name := f.Metadata.Name
	now := c.Now()

	readCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	state, err := c.store.GetState(readCtx, name)
	cancel()
	if err != nil {
		log.Printf("Error reading state for %s: %v", name, err)
		c.telemetry.RecordDegraded(name, telemetry.KindStateRead)
		return FeatureOutcome{Feature: name, Err: fmt.Errorf("read state: %w", err)}
	}

	// A stored percent off the configured ladder means the store was edited
	// under a different ladder. Refuse to evaluate rather than move from an
	// unknown rung.
	if !c.base.Ladder.Contains(state.Percent) {
		log.Printf("Error: stored percent for %s is not a ladder rung: %d%% not in (%s)", name, state.Percent, c.base.Ladder)
		c.telemetry.RecordDegraded(name, telemetry.KindStateRead)
		return FeatureOutcome{
			Feature:    name,
			OldPercent: state.Percent,
			NewPercent: state.Percent,
			Err:        fmt.Errorf("stored percent %d is not a ladder rung (%s)", state.Percent, c.base.Ladder),
		}
	}

	outcome := FeatureOutcome{
		Feature:    name,
		OldPercent: state.Percent,
		NewPercent: state.Percent,
	}

	if !state.Enabled {
		outcome.Action = rollout.ActionHold
		outcome.Reason = "feature disabled"
		c.telemetry.RecordAction(name, rollout.ActionHold)
		c.telemetry.SetPercent(name, state.Percent)
		return outcome
	}

	cfg, err := c.base.WithOverrides(f.Spec.Thresholds)
	if err != nil {
		outcome.Err = fmt.Errorf("merge thresholds: %w", err)
		return outcome
	}

	window := f.Spec.Window
	if window == "" {
		window = c.defaultWindow
	}

	var decision rollout.Decision
	metricsCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	snapshot, err := c.source.Snapshot(metricsCtx, name, f.Spec.Metrics, window)
	cancel()
	if err != nil {
		// Missing or malformed evidence never drives a promotion or a
		// rollback.
		log.Printf("Metrics unavailable for %s: %v", name, err)
		c.telemetry.RecordDegraded(name, telemetry.KindMetrics)
		decision = rollout.Decision{
			Action:     rollout.ActionHold,
			NewPercent: state.Percent,
			Reason:     "metrics unavailable",
		}
		outcome.Degraded = true
	} else {
		decision = c.engine.Decide(state, snapshot, cfg, now)
	}

	outcome.Action = decision.Action
	outcome.NewPercent = decision.NewPercent
	outcome.Reason = decision.Reason
	c.telemetry.RecordAction(name, decision.Action)

	if c.dryRun {
		return c.recordDryRun(ctx, state, decision, outcome, now)
	}

	if decision.Action == rollout.ActionHold {
		c.telemetry.SetPercent(name, state.Percent)
		log.Printf("%s: hold at %d%% (%s)", name, state.Percent, decision.Reason)
		return outcome
	}

	return c.applyDecision(ctx, state, decision, outcome, now)
}

// recordDryRun audits a Promote/Rollback recommendation without touching
// state. Hold recommendations are logged only.
func (c *Controller) recordDryRun(ctx context.Context, state *rollout.State, decision rollout.Decision, outcome FeatureOutcome, now time.Time) FeatureOutcome {
	name := state.Feature
	outcome.NewPercent = state.Percent
	c.telemetry.SetPercent(name, state.Percent)
	log.Printf("[dry-run] %s: would %s %d%% -> %d%% (%s)",
		name, decision.Action, state.Percent, decision.NewPercent, decision.Reason)

	if decision.Action == rollout.ActionHold {
		return outcome
	}

	entry := newAuditEntry(name, state.Percent, decision, rollout.ActorController, true, now)
	if err := c.appendAudit(ctx, entry); err != nil {
		log.Printf("Warning: failed to audit dry-run recommendation for %s: %v", name, err)
		c.telemetry.RecordDegraded(name, telemetry.KindAudit)
		outcome.Degraded = true
	}
	if !c.mirrorAudit(ctx, entry) {
		c.telemetry.RecordDegraded(name, telemetry.KindAuditMirror)
		outcome.Degraded = true
	}
	return outcome
}

// applyDecision writes the decided percent through the compare-and-set
// path, then audits. The state write always precedes the audit write.
func (c *Controller) applyDecision(ctx context.Context, state *rollout.State, decision rollout.Decision, outcome FeatureOutcome, now time.Time) FeatureOutcome {
	name := state.Feature
	rollbackOccurred := decision.Action == rollout.ActionRollback

	writeCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	err := c.store.SetState(writeCtx, name, decision.NewPercent, rollbackOccurred, now, state.Version)
	cancel()
	if err != nil {
		outcome.Degraded = true
		outcome.NewPercent = state.Percent
		c.telemetry.SetPercent(name, state.Percent)

		if errors.Is(err, storage.ErrConflict) {
			// A concurrent writer won; the next tick re-evaluates from
			// fresh state instead of overwriting it.
			log.Printf("Write conflict for %s, deferring to next tick", name)
			c.telemetry.RecordDegraded(name, telemetry.KindConflict)
			outcome.Reason = "state write conflict, deferred to next tick"
			return outcome
		}

		log.Printf("Error writing state for %s: %v", name, err)
		c.telemetry.RecordDegraded(name, telemetry.KindStateWrite)
		outcome.Reason = "state write failed"
		return outcome
	}

	outcome.Applied = true
	c.telemetry.SetPercent(name, decision.NewPercent)
	log.Printf("%s: %s %d%% -> %d%% (%s)",
		name, decision.Action, state.Percent, decision.NewPercent, decision.Reason)

	entry := newAuditEntry(name, state.Percent, decision, rollout.ActorController, false, now)
	if err := c.appendAudit(ctx, entry); err != nil {
		// The state store stays authoritative; an audit gap degrades the
		// tick but never rolls back the applied change.
		log.Printf("Warning: audit append failed for %s: %v", name, err)
		c.telemetry.RecordDegraded(name, telemetry.KindAudit)
		outcome.Degraded = true
	}
	if !c.mirrorAudit(ctx, entry) {
		c.telemetry.RecordDegraded(name, telemetry.KindAuditMirror)
		outcome.Degraded = true
	}
	return outcome
}

func (c *Controller) appendAudit(ctx context.Context, entry *rollout.AuditEntry) error {
	auditCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.audit.Append(auditCtx, entry)
}

// mirrorAudit publishes the entry to every configured mirror and reports
// whether all of them accepted it.
func (c *Controller) mirrorAudit(ctx context.Context, entry *rollout.AuditEntry) bool {
	ok := true
	for _, m := range c.mirrors {
		mirrorCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		if err := m.Append(mirrorCtx, entry); err != nil {
			log.Printf("Warning: audit mirror append failed for %s: %v", entry.Feature, err)
			ok = false
		}
		cancel()
	}
	return ok
}

func newAuditEntry(featureName string, oldPercent int, decision rollout.Decision, actor rollout.Actor, dryRun bool, now time.Time) *rollout.AuditEntry {
	return &rollout.AuditEntry{
		ID:         uuid.NewString(),
		Feature:    featureName,
		OldPercent: oldPercent,
		NewPercent: decision.NewPercent,
		Action:     decision.Action,
		Reason:     decision.Reason,
		Actor:      actor,
		DryRun:     dryRun,
		CreatedAt:  now,
	}
}
