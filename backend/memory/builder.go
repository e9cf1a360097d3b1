// Package memory implements the generic in-memory execution strategy: the
// universal fallback that evaluates topological predicates feature by feature
// against a quadtree candidate index. It needs no backend adapter and never
// materializes anything; plans carry an evaluator that streams the layer's
// features from the host feature source during the execute stage.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"

	"github.com/terravec/spatialfilter/backend"
	"github.com/terravec/spatialfilter/geom"
)

// checkEvery is how many features pass between cancellation checks.
const checkEvery = 256

// Builder generates in-memory evaluation plans.
type Builder struct {
	source backend.FeatureSource
	logger *slog.Logger
}

// NewBuilder creates an in-memory plan builder reading features from source.
func NewBuilder(source backend.FeatureSource, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{source: source, logger: logger}
}

// Kind returns backend.GenericInMemory.
func (b *Builder) Kind() backend.Kind { return backend.GenericInMemory }

// Build produces a plan whose Evaluate closure computes the explicit
// matching-id list. No I/O happens here; the feature stream is read when the
// plan executes.
func (b *Builder) Build(spec backend.Spec, prepared *geom.Prepared, desc backend.LayerDescriptor) (backend.Plan, error) {
	if desc.PrimaryKey == "" {
		return backend.Plan{}, fmt.Errorf("layer %s: no resolved primary key", desc.ID)
	}

	if prepared == nil || prepared.Empty {
		return backend.Plan{
			Backend:      backend.GenericInMemory,
			Fingerprint:  spec.Fingerprint,
			ArtifactKind: backend.ArtifactNone,
			Evaluate: func(context.Context) ([]int64, []string, error) {
				return nil, nil, nil
			},
			Warnings: []string{"empty prepared geometry, empty match set"},
		}, nil
	}

	source := b.source
	logger := b.logger
	target := prepared.Geometry
	preds := spec.OrderedPredicates()
	combine := spec.Combine

	return backend.Plan{
		Backend:      backend.GenericInMemory,
		Fingerprint:  spec.Fingerprint,
		ArtifactKind: backend.ArtifactNone,
		Evaluate: func(ctx context.Context) ([]int64, []string, error) {
			return evaluate(ctx, source, logger, desc, target, preds, combine)
		},
	}, nil
}

func evaluate(ctx context.Context, source backend.FeatureSource, logger *slog.Logger,
	desc backend.LayerDescriptor, target orb.Geometry,
	preds []backend.Predicate, combine backend.CombineOp) ([]int64, []string, error) {

	idx, warnings, err := loadIndex(ctx, source, desc.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(idx.items) == 0 {
		return nil, warnings, nil
	}

	cands := idx.candidates(target.Bound())

	sets := make([]map[int64]struct{}, 0, len(preds))
	for _, pred := range preds {
		var set map[int64]struct{}
		if pred == backend.PredDisjoint {
			// Disjoint matches features far outside the candidate window, so
			// it is computed as the complement of intersects.
			hit, err := evalSet(ctx, cands, backend.PredIntersects, target)
			if err != nil {
				return nil, nil, err
			}
			set = make(map[int64]struct{}, len(idx.items)-len(hit))
			for _, it := range idx.items {
				if _, ok := hit[it.id]; !ok {
					set[it.id] = struct{}{}
				}
			}
		} else {
			set, err = evalSet(ctx, cands, pred, target)
			if err != nil {
				return nil, nil, err
			}
		}
		sets = append(sets, set)
	}

	merged := combineSets(sets, combine)
	ids := make([]int64, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	logger.Debug("in-memory filter evaluated",
		"layer", desc.ID,
		"features", len(idx.items),
		"candidates", len(cands),
		"matched", len(ids))
	return ids, warnings, nil
}

func evalSet(ctx context.Context, cands []*item, pred backend.Predicate, target orb.Geometry) (map[int64]struct{}, error) {
	set := make(map[int64]struct{})
	tb := target.Bound()
	for i, it := range cands {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !it.bound.Intersects(tb) {
			continue
		}
		if relate(pred, it.geom, target) {
			set[it.id] = struct{}{}
		}
	}
	return set, nil
}

func combineSets(sets []map[int64]struct{}, op backend.CombineOp) map[int64]struct{} {
	if len(sets) == 0 {
		return nil
	}
	if op == backend.CombineOr {
		out := make(map[int64]struct{})
		for _, s := range sets {
			for id := range s {
				out[id] = struct{}{}
			}
		}
		return out
	}
	out := sets[0]
	for _, s := range sets[1:] {
		for id := range out {
			if _, ok := s[id]; !ok {
				delete(out, id)
			}
		}
	}
	return out
}

// item is one indexed feature. The quadtree stores bound centers; the true
// bound is rechecked before any predicate runs.
type item struct {
	id     int64
	geom   orb.Geometry
	bound  orb.Bound
	center orb.Point
}

func (it *item) Point() orb.Point { return it.center }

type index struct {
	items []*item
	tree  *quadtree.Quadtree

	// maxHalfExtent is the largest half-extent of any feature bound; padding
	// the search window by it guarantees every bound-intersecting feature's
	// center falls inside the window.
	maxHalfExtent float64
}

func loadIndex(ctx context.Context, source backend.FeatureSource, layerID string) (*index, []string, error) {
	cur, err := source.Features(ctx, layerID)
	if err != nil {
		return nil, nil, fmt.Errorf("open feature cursor for %s: %w", layerID, err)
	}
	defer cur.Close()

	var items []*item
	skipped := 0
	maxHalf := 0.0
	n := 0
	for {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		f, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("read feature from %s: %w", layerID, err)
		}
		if !ok {
			break
		}
		n++
		if f.Geometry == nil {
			skipped++
			continue
		}
		b := f.Geometry.Bound()
		items = append(items, &item{id: f.ID, geom: f.Geometry, bound: b, center: b.Center()})
		half := math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]) / 2
		if half > maxHalf {
			maxHalf = half
		}
	}

	var warnings []string
	if skipped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d features with missing geometry skipped", skipped))
	}

	idx := &index{items: items, maxHalfExtent: maxHalf}
	if len(items) > 0 {
		total := items[0].bound
		for _, it := range items[1:] {
			total = total.Union(it.bound)
		}
		tree := quadtree.New(total)
		for _, it := range items {
			if err := tree.Add(it); err != nil {
				return nil, nil, fmt.Errorf("index feature %d: %w", it.id, err)
			}
		}
		idx.tree = tree
	}
	return idx, warnings, nil
}

// candidates returns the features whose bounds can intersect target.
func (x *index) candidates(target orb.Bound) []*item {
	if x.tree == nil {
		return nil
	}
	pad := x.maxHalfExtent
	search := orb.Bound{
		Min: orb.Point{target.Min[0] - pad, target.Min[1] - pad},
		Max: orb.Point{target.Max[0] + pad, target.Max[1] + pad},
	}
	ptrs := x.tree.InBound(nil, search)
	out := make([]*item, 0, len(ptrs))
	for _, p := range ptrs {
		out = append(out, p.(*item))
	}
	return out
}

// SubsetExpr renders an explicit matching-id list as a host filter expression
// on the layer primary key. An empty list matches nothing.
func SubsetExpr(primaryKey string, ids []int64) string {
	if len(ids) == 0 {
		return "1 = 0"
	}
	var sb strings.Builder
	sb.WriteString(`"` + strings.ReplaceAll(primaryKey, `"`, `""`) + `"`)
	sb.WriteString(" IN (")
	for i, id := range ids {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.FormatInt(id, 10))
	}
	sb.WriteString(")")
	return sb.String()
}
