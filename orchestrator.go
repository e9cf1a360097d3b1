package spatialfilter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"golang.org/x/sync/errgroup"

	"github.com/terravec/spatialfilter/backend"
	"github.com/terravec/spatialfilter/backend/memory"
	"github.com/terravec/spatialfilter/geom"
	"github.com/terravec/spatialfilter/internal/fingerprint"
	"github.com/terravec/spatialfilter/internal/recovery"
)

// run drives one request through the pipeline: prepare the source geometry
// once, dispatch a backend-native plan per target, execute targets in
// parallel under the concurrency cap, then aggregate. Only preparation and
// dispatch failures abort the request; per-layer failures are recorded in
// that layer's outcome.
func (e *Engine) run(ctx context.Context, r *request, req FilterRequest) FilterResult {
	start := time.Now()
	res := FilterResult{}
	finish := func() FilterResult {
		res.Duration = time.Since(start)
		return res
	}

	r.setState(StatePreparing)
	prep, err := e.prepareSource(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			res.Status = StatusCancelled
			res.Err = ErrCancelled
			return finish()
		}
		res.Status = StatusFailed
		res.Err = err
		return finish()
	}
	res.Warnings = prep.base.Warnings

	r.setState(StateDispatching)
	plans := e.dispatch(ctx, req, prep)
	if ctx.Err() != nil {
		res.Status = StatusCancelled
		res.Err = ErrCancelled
		return finish()
	}

	r.setState(StateExecuting)
	outcomes := make([]FilterOutcome, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	for i := range plans {
		g.Go(func() error {
			// A layer error never aborts siblings; it lands in the outcome.
			if err := e.sem.Acquire(gctx, 1); err != nil {
				outcomes[i] = FilterOutcome{
					LayerID:    plans[i].layerID,
					Backend:    plans[i].kind,
					Status:     LayerSkipped,
					MatchCount: -1,
					Err:        ErrCancelled,
				}
				r.completed.Add(1)
				return nil
			}
			defer e.sem.Release(1)

			outcomes[i] = e.runLayer(gctx, plans[i])
			r.completed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	r.setState(StateAggregating)
	res.Outcomes = outcomes

	if ctx.Err() != nil {
		res.Status = StatusCancelled
		res.Err = ErrCancelled
		return finish()
	}

	clean := len(res.Warnings) == 0
	for _, out := range outcomes {
		if out.Status != LayerOK || len(out.Warnings) > 0 {
			clean = false
			break
		}
	}
	if clean {
		res.Status = StatusCompleted
	} else {
		res.Status = StatusCompletedWithWarnings
	}
	return finish()
}

// prepSet is one request's prepared source geometry: the base preparation in
// the source CRS plus lazily derived reprojections for targets in other
// CRSes. Artifact fingerprints key on the digest of the CRS-specific variant,
// so same-CRS layers share one artifact.
type prepSet struct {
	engine *Engine
	base   *geom.Prepared
	bySRID map[int]*geom.Prepared
}

func (ps *prepSet) forCRS(ctx context.Context, crs geom.CRS) (*geom.Prepared, error) {
	if ps.base.Empty || crs.SRID == ps.base.CRS.SRID {
		return ps.base, nil
	}
	if p, ok := ps.bySRID[crs.SRID]; ok {
		return p, nil
	}
	p, err := ps.engine.preparer.Prepare(ctx,
		[]orb.Geometry{ps.base.Geometry}, ps.base.CRS, crs, nil)
	if err != nil {
		return nil, err
	}
	ps.bySRID[crs.SRID] = p
	return p, nil
}

// prepareSource loads, repairs, reprojects and optionally buffers the source
// layer geometry, consulting the session cache first so a resubmitted
// request rehydrates instead of re-preparing.
func (e *Engine) prepareSource(ctx context.Context, req FilterRequest) (*prepSet, error) {
	key := prepKey(req)

	e.mu.Lock()
	cached, ok := e.prepCache[key]
	e.mu.Unlock()
	if ok {
		base, err := e.rehydrate(cached)
		if err == nil {
			e.logger.Debug("prepared geometry cache hit", "source", req.SourceLayer)
			return &prepSet{engine: e, base: base, bySRID: make(map[int]*geom.Prepared)}, nil
		}
		e.logger.Warn("prepared geometry cache entry unreadable, re-preparing",
			"source", req.SourceLayer, "error", err)
	}

	desc, err := e.cfg.Layers.Describe(ctx, req.SourceLayer)
	if err != nil {
		return nil, fmt.Errorf("%w: describe source layer %s: %v", ErrInvalidRequest, req.SourceLayer, err)
	}

	gs, err := e.loadGeometries(ctx, req.SourceLayer)
	if err != nil {
		return nil, err
	}

	crs := geom.CRS{SRID: desc.SRID, Geographic: desc.Geographic}
	base, err := e.preparer.Prepare(ctx, gs, crs, crs, req.Buffer)
	if err != nil {
		return nil, err
	}

	e.storePrep(key, base)
	return &prepSet{engine: e, base: base, bySRID: make(map[int]*geom.Prepared)}, nil
}

func (e *Engine) loadGeometries(ctx context.Context, layerID string) ([]orb.Geometry, error) {
	cur, err := e.cfg.Features.Features(ctx, layerID)
	if err != nil {
		return nil, fmt.Errorf("%w: read source layer %s: %v", ErrInvalidRequest, layerID, err)
	}
	defer cur.Close()

	var gs []orb.Geometry
	for i := 0; ; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		f, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("read source feature: %w", err)
		}
		if !ok {
			return gs, nil
		}
		gs = append(gs, f.Geometry)
	}
}

func (e *Engine) rehydrate(c *cachedPrep) (*geom.Prepared, error) {
	if c.empty {
		return &geom.Prepared{CRS: c.crs, Empty: true, Warnings: c.warnings}, nil
	}
	g, err := e.codec.Decode(c.blob)
	if err != nil {
		return nil, err
	}
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, err
	}
	return &geom.Prepared{
		Geometry: g,
		CRS:      c.crs,
		WKB:      data,
		Digest:   c.digest,
		Warnings: c.warnings,
	}, nil
}

func (e *Engine) storePrep(key string, p *geom.Prepared) {
	c := &cachedPrep{digest: p.Digest, crs: p.CRS, empty: p.Empty, warnings: p.Warnings}
	if !p.Empty {
		blob, err := e.codec.Encode(p.Geometry)
		if err != nil {
			e.logger.Warn("prepared geometry not cached", "error", err)
			return
		}
		c.blob = blob
	}
	e.mu.Lock()
	e.prepCache[key] = c
	e.mu.Unlock()
}

// prepKey identifies a cached preparation: source layer plus buffer
// parameters. The layer id goes first so invalidation can key on it.
func prepKey(req FilterRequest) string {
	if req.Buffer == nil {
		return req.SourceLayer + "\x00"
	}
	return fmt.Sprintf("%s\x00%g:%d", req.SourceLayer, req.Buffer.Distance, req.Buffer.Segments)
}

func prepKeySource(key string) string {
	if i := strings.IndexByte(key, '\x00'); i >= 0 {
		return key[:i]
	}
	return key
}

// layerPlan is one target's dispatch result. A dispatch error is carried
// forward and surfaces as that layer's failed outcome.
type layerPlan struct {
	layerID  string
	desc     backend.LayerDescriptor
	kind     backend.Kind
	plan     backend.Plan
	warnings []string
	err      error
}

// dispatch classifies each target and builds its backend-native plan. No I/O
// against target backends happens here.
func (e *Engine) dispatch(ctx context.Context, req FilterRequest, prep *prepSet) []layerPlan {
	preds := make([]string, len(req.Predicates))
	for i, p := range req.Predicates {
		preds[i] = string(p)
	}
	var bufDist float64
	var bufSegs int
	if req.Buffer != nil {
		bufDist = req.Buffer.Distance
		bufSegs = req.Buffer.Segments
	}

	plans := make([]layerPlan, len(req.Targets))
	for i, id := range req.Targets {
		plans[i].layerID = id

		desc, err := e.cfg.Layers.Describe(ctx, id)
		if err != nil {
			plans[i].err = fmt.Errorf("%w: describe layer %s: %v", ErrInvalidRequest, id, err)
			continue
		}
		plans[i].desc = desc

		kind := backend.Select(desc, e.available)
		plans[i].kind = kind
		builder := e.builders[kind]
		if builder == nil {
			plans[i].err = fmt.Errorf("%w: no builder for %s", ErrBackendUnavailable, kind)
			continue
		}

		prepared, err := prep.forCRS(ctx, geom.CRS{SRID: desc.SRID, Geographic: desc.Geographic})
		if err != nil {
			plans[i].err = err
			continue
		}
		if prepared != prep.base {
			// Warnings from a derived reprojection belong to this layer's
			// outcome; the request-level warnings only carry the base
			// preparation.
			plans[i].warnings = prepared.Warnings
		}

		fp, err := fingerprint.Compute(fingerprint.Input{
			SessionID:      e.sessionID,
			GeometryDigest: prepared.Digest,
			Predicates:     preds,
			BufferDistance: bufDist,
			BufferSegments: bufSegs,
		})
		if err != nil {
			plans[i].err = err
			continue
		}
		e.recordFingerprint(req.SourceLayer, fp)

		spec := backend.Spec{
			SessionID:       e.sessionID,
			Fingerprint:     fp,
			ArtifactName:    e.registry.Name(fp),
			Predicates:      req.Predicates,
			Combine:         req.Combine,
			DirectThreshold: e.cfg.DirectThreshold,
		}
		plan, err := builder.Build(spec, prepared, desc)
		if err != nil {
			plans[i].err = err
			continue
		}
		plans[i].plan = plan
	}
	return plans
}

// recordFingerprint remembers which artifacts derive from a source layer so
// InvalidateSource can retire them.
func (e *Engine) recordFingerprint(sourceLayer, fp string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.fpsBySource[sourceLayer]
	if !ok {
		set = make(map[string]struct{})
		e.fpsBySource[sourceLayer] = set
	}
	set[fp] = struct{}{}
}

// runLayer executes one target layer under panic recovery.
func (e *Engine) runLayer(ctx context.Context, lp layerPlan) FilterOutcome {
	out := FilterOutcome{LayerID: lp.layerID, Backend: lp.kind, MatchCount: -1}
	if lp.err != nil {
		out.Status = LayerFailed
		out.Err = lp.err
		return out
	}
	if ctx.Err() != nil {
		out.Status = LayerSkipped
		out.Err = ErrCancelled
		return out
	}

	out.Warnings = append(out.Warnings, lp.warnings...)
	out.Warnings = append(out.Warnings, lp.plan.Warnings...)
	err := recovery.RecoverToError(e.logger, "ExecuteLayer", func() error {
		return e.executeLayer(ctx, lp, &out)
	})
	if err != nil {
		out.Status = LayerFailed
		out.Err = err
		e.logger.Warn("layer filter failed",
			"layer", lp.layerID, "backend", lp.kind, "error", err)
		return out
	}
	out.Status = LayerOK
	e.logger.Debug("layer filtered",
		"layer", lp.layerID, "backend", lp.kind, "matches", out.MatchCount)
	return out
}

// executeLayer runs the plan: in-memory plans evaluate to an explicit id
// list, SQL plans acquire the shared artifact and query against it. The
// resulting expression is applied through the subset manager either way.
func (e *Engine) executeLayer(ctx context.Context, lp layerPlan, out *FilterOutcome) error {
	expr := lp.plan.SubsetExpr

	if lp.plan.Evaluate != nil {
		ids, warns, err := lp.plan.Evaluate(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ErrCancelled
			}
			return fmt.Errorf("%w: %v", ErrQueryExecution, err)
		}
		out.Warnings = append(out.Warnings, warns...)
		expr = memory.SubsetExpr(lp.desc.PrimaryKey, ids)
		out.MatchCount = int64(len(ids))
	} else {
		adapter := e.adapters[lp.kind]
		art, err := e.registry.Acquire(ctx, lp.plan, adapter)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ErrCancelled
			}
			return fmt.Errorf("%w: %v", ErrQueryExecution, err)
		}
		defer e.registry.Release(art)

		if lp.plan.CountStatement != nil && adapter != nil {
			n, err := adapter.QueryCount(ctx, *lp.plan.CountStatement)
			if err != nil {
				return fmt.Errorf("%w: match count: %v", ErrQueryExecution, err)
			}
			out.MatchCount = n
		}
	}

	if _, err := e.subsets.Apply(lp.layerID, expr); err != nil {
		return fmt.Errorf("apply subset expression: %w", err)
	}
	out.Expression = expr
	return nil
}
