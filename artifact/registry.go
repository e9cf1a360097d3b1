// Package artifact manages session-scoped derived backend objects:
// materialized geometry snapshots, temp tables and their spatial indexes.
// Artifacts are keyed by content fingerprint and reference counted; the
// registry is the sole owner of artifact creation and destruction, and
// acquire/release are atomic with respect to concurrent layers sharing a
// fingerprint, so a shared buffered source is materialized exactly once.
//
// Nothing here survives a process restart. The registry is an in-memory
// ledger mirroring backend-side objects; orphans left behind by crashed
// sessions are reconciled at startup through the artifact naming convention.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/terravec/spatialfilter/backend"
)

var (
	// ErrConflict indicates a fingerprint collision with an incompatible
	// cached plan. The registry resolves it by materializing fresh.
	ErrConflict = errors.New("artifact conflict")

	// ErrMaterialize indicates the backend rejected the materialization
	// statements, after the stale-object retry was exhausted.
	ErrMaterialize = errors.New("artifact materialization failed")
)

// Artifact is one derived backend object tracked by the registry.
type Artifact struct {
	Fingerprint string
	Kind        backend.ArtifactKind
	Name        string
	CreatedAt   time.Time
}

// entry is the registry's bookkeeping for one fingerprint. ready is closed
// once materialization finished (successfully or not); waiters block on it
// instead of materializing a second time.
type entry struct {
	art     *Artifact
	adapter backend.Adapter
	backend backend.Kind

	refs       int
	ready      chan struct{}
	err        error
	evictAfter time.Time
}

// Config configures a Registry.
type Config struct {
	// SessionID scopes every artifact name. REQUIRED.
	SessionID string

	// Prefix is the artifact naming-convention prefix.
	// OPTIONAL: Defaults to "sfx".
	Prefix string

	// Grace is how long a zero-reference artifact stays eligible for reuse
	// before a sweep may evict it. Avoids thrash on rapid filter/unfilter
	// cycles. OPTIONAL: Defaults to 30s.
	Grace time.Duration

	// TTL is an optional eviction hint: zero-reference artifacts older than
	// TTL become sweep-eligible even inside the grace window. It is never a
	// validity check on acquire. OPTIONAL: 0 disables it.
	TTL time.Duration

	// Logger for registry events. OPTIONAL: Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Registry tracks and owns session artifacts. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	retired []*entry

	sessionID string
	prefix    string
	grace     time.Duration
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry creates a Registry for one session.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("artifact registry: session id is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "sfx"
	}
	if cfg.Grace == 0 {
		cfg.Grace = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		entries:   make(map[string]*entry),
		sessionID: cfg.SessionID,
		prefix:    cfg.Prefix,
		grace:     cfg.Grace,
		ttl:       cfg.TTL,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// Name returns the naming-convention object name for a fingerprint:
// <prefix>_<session8>_<fingerprint>. The session segment is what the orphan
// sweep keys on.
func (r *Registry) Name(fp string) string {
	return fmt.Sprintf("%s_%s_%s", r.prefix, shortSession(r.sessionID), fp)
}

func shortSession(id string) string {
	clean := strings.ReplaceAll(id, "-", "")
	if len(clean) > 8 {
		clean = clean[:8]
	}
	return clean
}

// Acquire returns the artifact for plan's fingerprint, reusing a valid
// cached one (incrementing its reference count) or materializing per the
// plan exactly once across concurrent callers. Plans that need no
// materialization return (nil, nil).
//
// A materialization already in progress is never aborted by ctx; the write
// finishes and the caller releases afterward, so no partially written
// backend object is left behind.
func (r *Registry) Acquire(ctx context.Context, plan backend.Plan, adapter backend.Adapter) (*Artifact, error) {
	if plan.ArtifactKind == backend.ArtifactNone {
		return nil, nil
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: no adapter for backend %s", ErrMaterialize, plan.Backend)
	}

	for {
		r.mu.Lock()
		e, ok := r.entries[plan.Fingerprint]
		if !ok {
			e = &entry{
				art: &Artifact{
					Fingerprint: plan.Fingerprint,
					Kind:        plan.ArtifactKind,
					Name:        plan.ArtifactName,
					CreatedAt:   r.now(),
				},
				adapter: adapter,
				backend: plan.Backend,
				ready:   make(chan struct{}),
			}
			r.entries[plan.Fingerprint] = e
			r.mu.Unlock()

			e.err = r.materialize(ctx, plan, adapter, false)
			close(e.ready)

			if e.err != nil {
				r.drop(plan.Fingerprint, e)
				return nil, e.err
			}

			r.mu.Lock()
			if r.entries[plan.Fingerprint] != e {
				// Invalidated while materializing; the retired entry is
				// swept later. Start over with a fresh one.
				r.mu.Unlock()
				continue
			}
			e.refs++
			r.mu.Unlock()
			return e.art, nil
		}

		// Fingerprint collision with an incompatible plan: retire the cached
		// entry and materialize fresh.
		if e.art.Kind != plan.ArtifactKind || e.backend != plan.Backend {
			r.logger.Warn("artifact conflict, forcing fresh materialization",
				"fingerprint", plan.Fingerprint,
				"cached_kind", e.art.Kind, "requested_kind", plan.ArtifactKind,
				"error", ErrConflict)
			delete(r.entries, plan.Fingerprint)
			r.retired = append(r.retired, e)
			r.mu.Unlock()
			continue
		}
		r.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if e.err != nil {
			// The materializing caller failed and dropped the entry; retry
			// with a fresh one.
			r.drop(plan.Fingerprint, e)
			continue
		}

		// Reuse path: verify the backing object still exists. A detected
		// stale/missing object gets one re-materialization before the error
		// surfaces.
		present, err := adapter.HasTable(ctx, e.art.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: validate backing object: %v", ErrMaterialize, err)
		}
		if !present {
			r.logger.Warn("artifact backing object missing, re-materializing",
				"fingerprint", plan.Fingerprint, "name", e.art.Name)
			if err := r.materialize(ctx, plan, adapter, true); err != nil {
				r.drop(plan.Fingerprint, e)
				return nil, err
			}
		}

		r.mu.Lock()
		if r.entries[plan.Fingerprint] != e {
			// Swept or retired while validating; try again.
			r.mu.Unlock()
			continue
		}
		e.refs++
		r.mu.Unlock()

		r.logger.Debug("artifact reused", "fingerprint", plan.Fingerprint, "name", e.art.Name)
		return e.art, nil
	}
}

// materialize runs the plan's statements and index creation. The statements
// run under a non-cancelable context so an in-progress write always
// completes; cancellation is honored before and after, never mid-write.
func (r *Registry) materialize(ctx context.Context, plan backend.Plan, adapter backend.Adapter, isRetry bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	writeCtx := context.WithoutCancel(ctx)

	run := func() error {
		for _, stmt := range plan.Materialize {
			if err := adapter.Exec(writeCtx, stmt); err != nil {
				return err
			}
		}
		if plan.IndexColumn != "" {
			if err := adapter.CreateSpatialIndex(writeCtx, plan.ArtifactName, plan.IndexColumn); err != nil {
				return err
			}
		}
		return nil
	}

	err := run()
	if err != nil && !isRetry {
		// One retry after dropping whatever half-state the failed attempt
		// may have registered backend-side.
		_ = adapter.DropTable(writeCtx, plan.ArtifactName)
		err = run()
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMaterialize, plan.ArtifactName, err)
	}

	r.logger.Debug("artifact materialized",
		"fingerprint", plan.Fingerprint, "name", plan.ArtifactName, "backend", plan.Backend)
	return nil
}

// drop removes a failed entry so later acquires can retry.
func (r *Registry) drop(fp string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[fp] == e {
		delete(r.entries, fp)
	}
}

// Release decrements the artifact's reference count. At zero the artifact
// becomes eligible for eviction on the next sweep pass, not immediately.
func (r *Registry) Release(art *Artifact) {
	if art == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[art.Fingerprint]
	if !ok || e.art != art {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	if e.refs == 0 {
		e.evictAfter = r.now().Add(r.grace)
	}
}

// Refs reports the current reference count for a fingerprint.
func (r *Registry) Refs(fp string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[fp]; ok {
		return e.refs
	}
	return 0
}

// Invalidate marks the given fingerprints stale. Stale artifacts are never
// handed out again and are dropped on the next sweep (immediately if
// unreferenced). This is the correctness mechanism for source-data edits;
// TTL is only an eviction hint.
func (r *Registry) Invalidate(fps ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fp := range fps {
		if e, ok := r.entries[fp]; ok {
			delete(r.entries, fp)
			r.retired = append(r.retired, e)
		}
	}
}

// Sweep drops retired and eviction-eligible artifacts: zero references and
// past the grace window (or past TTL, when configured). Referenced artifacts
// are never force-deleted; another in-flight layer may depend on them.
func (r *Registry) Sweep(ctx context.Context) error {
	r.mu.Lock()
	now := r.now()

	var victims []*entry
	keepRetired := r.retired[:0]
	for _, e := range r.retired {
		if e.refs == 0 {
			victims = append(victims, e)
		} else {
			keepRetired = append(keepRetired, e)
		}
	}
	r.retired = keepRetired

	for fp, e := range r.entries {
		if e.refs != 0 {
			continue
		}
		expired := !e.evictAfter.IsZero() && now.After(e.evictAfter)
		ttlExpired := r.ttl > 0 && now.Sub(e.art.CreatedAt) > r.ttl
		if expired || ttlExpired {
			victims = append(victims, e)
			delete(r.entries, fp)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, e := range victims {
		if err := e.adapter.DropTable(ctx, e.art.Name); err != nil {
			errs = append(errs, fmt.Errorf("drop %s: %w", e.art.Name, err))
			continue
		}
		r.logger.Debug("artifact evicted", "fingerprint", e.art.Fingerprint, "name", e.art.Name)
	}
	return errors.Join(errs...)
}

// CleanupSession drops every artifact owned by this session, regardless of
// reference counts. Call at session end.
func (r *Registry) CleanupSession(ctx context.Context) error {
	r.mu.Lock()
	victims := make([]*entry, 0, len(r.entries)+len(r.retired))
	for fp, e := range r.entries {
		victims = append(victims, e)
		delete(r.entries, fp)
	}
	victims = append(victims, r.retired...)
	r.retired = nil
	r.mu.Unlock()

	var errs []error
	for _, e := range victims {
		if err := e.adapter.DropTable(ctx, e.art.Name); err != nil {
			errs = append(errs, fmt.Errorf("drop %s: %w", e.art.Name, err))
		}
	}
	if len(victims) > 0 {
		r.logger.Info("session artifacts cleaned up", "session", r.sessionID, "count", len(victims))
	}
	return errors.Join(errs...)
}

// SweepOrphans drops backend objects matching the naming convention that do
// not belong to this session: leftovers from crashed prior sessions. Run at
// startup. Returns the swept object names.
func (r *Registry) SweepOrphans(ctx context.Context, adapters ...backend.Adapter) ([]string, error) {
	mine := r.prefix + "_" + shortSession(r.sessionID) + "_"

	var swept []string
	var errs []error
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		names, err := adapter.ListTables(ctx, r.prefix+"_")
		if err != nil {
			errs = append(errs, fmt.Errorf("list artifacts: %w", err))
			continue
		}
		for _, name := range names {
			if strings.HasPrefix(name, mine) {
				continue
			}
			if err := adapter.DropTable(ctx, name); err != nil {
				errs = append(errs, fmt.Errorf("drop orphan %s: %w", name, err))
				continue
			}
			swept = append(swept, name)
		}
	}

	if len(swept) > 0 {
		r.logger.Info("orphaned artifacts swept", "count", len(swept))
	}
	return swept, errors.Join(errs...)
}
