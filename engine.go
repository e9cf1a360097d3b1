package spatialfilter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/terravec/spatialfilter/artifact"
	"github.com/terravec/spatialfilter/backend"
	"github.com/terravec/spatialfilter/backend/duckdb"
	"github.com/terravec/spatialfilter/backend/memory"
	"github.com/terravec/spatialfilter/backend/postgres"
	"github.com/terravec/spatialfilter/geom"
	"github.com/terravec/spatialfilter/internal/geomcodec"
	"github.com/terravec/spatialfilter/subset"
)

// Engine executes spatial filter requests. Create with NewEngine; safe for
// concurrent use. Close at session end to release derived backend objects.
type Engine struct {
	cfg       EngineConfig
	logger    *slog.Logger
	sessionID string

	preparer *geom.Preparer
	registry *artifact.Registry
	subsets  *subset.Manager
	codec    *geomcodec.Codec

	builders map[backend.Kind]backend.Builder
	adapters map[backend.Kind]backend.Adapter

	// sem bounds concurrently executing target layers across all requests.
	sem *semaphore.Weighted

	mu          sync.Mutex
	requests    map[string]*request
	prepCache   map[string]*cachedPrep
	fpsBySource map[string]map[string]struct{}
	orphans     []string
	closed      bool
	wg          sync.WaitGroup
}

// request is the engine's bookkeeping for one in-flight submission.
type request struct {
	id     string
	cancel context.CancelFunc

	state     atomic.Value // RequestState
	completed atomic.Int64
	total     atomic.Int64
}

func (r *request) setState(s RequestState) { r.state.Store(s) }

// cachedPrep is a session-cached prepared source geometry, compressed. A
// resubmitted request with the same source and buffer rehydrates it instead
// of re-preparing.
type cachedPrep struct {
	blob     []byte
	digest   string
	crs      geom.CRS
	empty    bool
	warnings []string
}

// NewEngine creates an Engine for one session and sweeps artifacts orphaned
// by crashed prior sessions.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Layers == nil {
		return nil, fmt.Errorf("engine: layer registry is required")
	}
	if cfg.Features == nil {
		return nil, fmt.Errorf("engine: feature source is required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = 4
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	registry, err := artifact.NewRegistry(artifact.Config{
		SessionID: cfg.SessionID,
		Grace:     cfg.ArtifactGrace,
		TTL:       cfg.ArtifactTTL,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	codec, err := geomcodec.New()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		logger:    cfg.Logger,
		sessionID: cfg.SessionID,
		preparer: geom.NewPreparer(geom.PreparerConfig{
			Logger:            cfg.Logger,
			MaxBufferAttempts: cfg.MaxBufferAttempts,
			Segments:          cfg.BufferSegments,
		}),
		registry: registry,
		subsets:  subset.NewManager(cfg.ApplySubset),
		codec:    codec,
		builders: map[backend.Kind]backend.Builder{
			backend.ServerRelational: postgres.NewBuilder(),
			backend.EmbeddedFile:     duckdb.NewBuilder(),
			backend.GenericInMemory:  memory.NewBuilder(cfg.Features, cfg.Logger),
		},
		adapters: map[backend.Kind]backend.Adapter{
			backend.ServerRelational: cfg.Postgres,
			backend.EmbeddedFile:     cfg.DuckDB,
		},
		sem:         semaphore.NewWeighted(int64(cfg.MaxParallel)),
		requests:    make(map[string]*request),
		prepCache:   make(map[string]*cachedPrep),
		fpsBySource: make(map[string]map[string]struct{}),
	}

	if !cfg.SkipOrphanSweep {
		swept, err := registry.SweepOrphans(context.Background(), cfg.Postgres, cfg.DuckDB)
		if err != nil {
			cfg.Logger.Warn("orphan sweep incomplete", "error", err)
		}
		e.orphans = swept
	}

	cfg.Logger.Info("spatial filter engine started",
		"session", cfg.SessionID, "max_parallel", cfg.MaxParallel)
	return e, nil
}

// SessionID returns the engine's session identifier.
func (e *Engine) SessionID() string { return e.sessionID }

// OrphansSwept reports the backend objects removed by the startup orphan
// sweep.
func (e *Engine) OrphansSwept() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.orphans...)
}

// available reports whether an execution strategy has a configured adapter.
// GenericInMemory needs none.
func (e *Engine) available(k backend.Kind) bool {
	if k == backend.GenericInMemory {
		return true
	}
	return e.adapters[k] != nil
}

// Submit starts a filter request asynchronously and returns its id. done, if
// non-nil, is invoked with the final result from the request's goroutine.
func (e *Engine) Submit(ctx context.Context, req FilterRequest, done func(FilterResult)) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	if len(e.requests) >= e.cfg.MaxRequests {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %d requests in flight", ErrResourceExhausted, e.cfg.MaxRequests)
	}

	id := uuid.NewString()
	rctx, cancel := context.WithCancel(ctx)
	r := &request{id: id, cancel: cancel}
	r.setState(StatePending)
	r.total.Store(int64(len(req.Targets)))
	e.requests[id] = r
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer cancel()

		res := e.run(rctx, r, req)
		res.RequestID = id
		r.setState(StateDone)

		e.mu.Lock()
		delete(e.requests, id)
		e.mu.Unlock()

		e.logger.Info("filter request finished",
			"request", id, "status", res.Status, "layers", len(res.Outcomes),
			"duration", res.Duration)
		if done != nil {
			done(res)
		}
	}()

	return id, nil
}

// Cancel requests cooperative cancellation of an in-flight request. Returns
// false when the request is unknown or already finished.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	r, ok := e.requests[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	return true
}

// Progress returns a snapshot of an in-flight request.
func (e *Engine) Progress(id string) (Progress, bool) {
	e.mu.Lock()
	r, ok := e.requests[id]
	e.mu.Unlock()
	if !ok {
		return Progress{}, false
	}
	state, _ := r.state.Load().(RequestState)
	return Progress{
		State:     state,
		Completed: int(r.completed.Load()),
		Total:     int(r.total.Load()),
	}, true
}

// RegisterLayer seeds a layer's pre-filter baseline expression so Reset can
// restore it. Registering a known layer is a no-op.
func (e *Engine) RegisterLayer(layerID, baseline string) {
	e.subsets.Register(layerID, baseline)
}

// Unfilter undoes the most recent filter step on a layer. No-op with empty
// history.
func (e *Engine) Unfilter(layerID string) error { return e.subsets.Unfilter(layerID) }

// ResetLayer restores a layer's pre-filter baseline regardless of history
// depth.
func (e *Engine) ResetLayer(layerID string) error { return e.subsets.Reset(layerID) }

// Expression returns a layer's current subset expression.
func (e *Engine) Expression(layerID string) string { return e.subsets.Current(layerID) }

// InvalidateSource discards cached state derived from a source layer after
// its data changed: the session's prepared-geometry cache entries and every
// artifact fingerprinted from it. Stale artifacts are dropped on the next
// sweep.
func (e *Engine) InvalidateSource(sourceLayerID string) {
	e.mu.Lock()
	for key := range e.prepCache {
		if prepKeySource(key) == sourceLayerID {
			delete(e.prepCache, key)
		}
	}
	fps := e.fpsBySource[sourceLayerID]
	delete(e.fpsBySource, sourceLayerID)
	e.mu.Unlock()

	if len(fps) > 0 {
		stale := make([]string, 0, len(fps))
		for fp := range fps {
			stale = append(stale, fp)
		}
		e.registry.Invalidate(stale...)
	}
	e.logger.Debug("source invalidated", "layer", sourceLayerID, "artifacts", len(fps))
}

// Sweep evicts retired and idle zero-reference artifacts. Call periodically
// or after InvalidateSource.
func (e *Engine) Sweep(ctx context.Context) error { return e.registry.Sweep(ctx) }

// Close cancels in-flight requests, waits for them to drain, and drops every
// artifact owned by this session.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	for _, r := range e.requests {
		r.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()

	err := e.registry.CleanupSession(ctx)
	if cerr := e.codec.Close(); cerr != nil && err == nil {
		err = cerr
	}
	e.logger.Info("spatial filter engine closed", "session", e.sessionID)
	return err
}
