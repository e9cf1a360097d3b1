package memory

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/terravec/spatialfilter/backend"
	"github.com/terravec/spatialfilter/geom"
)

type fakeCursor struct {
	feats []backend.Feature
	i     int
}

func (c *fakeCursor) Next(ctx context.Context) (backend.Feature, bool, error) {
	if err := ctx.Err(); err != nil {
		return backend.Feature{}, false, err
	}
	if c.i >= len(c.feats) {
		return backend.Feature{}, false, nil
	}
	f := c.feats[c.i]
	c.i++
	return f, true, nil
}

func (c *fakeCursor) Close() error { return nil }

type fakeSource struct {
	layers map[string][]backend.Feature
}

func (s *fakeSource) Features(ctx context.Context, layerID string) (backend.FeatureCursor, error) {
	return &fakeCursor{feats: s.layers[layerID]}, nil
}

func preparedSquare(t *testing.T) *geom.Prepared {
	t.Helper()
	g := square(0, 0, 10, 10)
	data, err := wkb.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &geom.Prepared{Geometry: g, CRS: geom.WebMercator, WKB: data, Digest: "abc123"}
}

func testFeatures() []backend.Feature {
	return []backend.Feature{
		{ID: 1, Geometry: orb.Point{5, 5}},                       // inside
		{ID: 2, Geometry: orb.Point{50, 50}},                     // far away
		{ID: 3, Geometry: orb.LineString{{-5, 5}, {15, 5}}},      // crosses
		{ID: 4, Geometry: orb.LineString{{100, 100}, {110, 100}}}, // far away
	}
}

func buildPlan(t *testing.T, src backend.FeatureSource, preds []backend.Predicate, combine backend.CombineOp) backend.Plan {
	t.Helper()
	b := NewBuilder(src, nil)
	plan, err := b.Build(backend.Spec{
		SessionID:   "sess",
		Fingerprint: "feedbeef",
		Predicates:  preds,
		Combine:     combine,
	}, preparedSquare(t), backend.LayerDescriptor{
		ID: "roads", Provider: backend.ProviderMemory, PrimaryKey: "fid",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.Evaluate == nil {
		t.Fatal("in-memory plan must carry an evaluator")
	}
	return plan
}

func TestEvaluateIntersects(t *testing.T) {
	src := &fakeSource{layers: map[string][]backend.Feature{"roads": testFeatures()}}
	plan := buildPlan(t, src, []backend.Predicate{backend.PredIntersects}, backend.CombineAnd)

	ids, _, err := plan.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("ids = %v, want [1 3]", ids)
	}
}

func TestEvaluateDisjointComplement(t *testing.T) {
	src := &fakeSource{layers: map[string][]backend.Feature{"roads": testFeatures()}}
	plan := buildPlan(t, src, []backend.Predicate{backend.PredDisjoint}, backend.CombineAnd)

	ids, _, err := plan.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 4 {
		t.Errorf("ids = %v, want [2 4]", ids)
	}
}

func TestEvaluateCombineOr(t *testing.T) {
	src := &fakeSource{layers: map[string][]backend.Feature{"roads": testFeatures()}}
	plan := buildPlan(t, src,
		[]backend.Predicate{backend.PredWithin, backend.PredDisjoint}, backend.CombineOr)

	ids, _, err := plan.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// within matches the inside point, disjoint the two far features.
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 4 {
		t.Errorf("ids = %v, want [1 2 4]", ids)
	}
}

func TestEvaluateCombineAnd(t *testing.T) {
	src := &fakeSource{layers: map[string][]backend.Feature{"roads": testFeatures()}}
	plan := buildPlan(t, src,
		[]backend.Predicate{backend.PredIntersects, backend.PredWithin}, backend.CombineAnd)

	ids, _, err := plan.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Errorf("ids = %v, want [1]", ids)
	}
}

func TestEvaluateSkipsNilGeometry(t *testing.T) {
	feats := append(testFeatures(), backend.Feature{ID: 9, Geometry: nil})
	src := &fakeSource{layers: map[string][]backend.Feature{"roads": feats}}
	plan := buildPlan(t, src, []backend.Predicate{backend.PredIntersects}, backend.CombineAnd)

	ids, warnings, err := plan.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ids = %v", ids)
	}
	if len(warnings) != 1 {
		t.Errorf("got %d warnings, want 1 for the skipped feature", len(warnings))
	}
}

func TestEvaluateHonorsCancellation(t *testing.T) {
	src := &fakeSource{layers: map[string][]backend.Feature{"roads": testFeatures()}}
	plan := buildPlan(t, src, []backend.Predicate{backend.PredIntersects}, backend.CombineAnd)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := plan.Evaluate(ctx); err == nil {
		t.Error("cancelled context should abort evaluation")
	}
}

func TestBuildEmptyGeometryMatchesNothing(t *testing.T) {
	src := &fakeSource{layers: map[string][]backend.Feature{"roads": testFeatures()}}
	b := NewBuilder(src, nil)
	plan, err := b.Build(backend.Spec{Predicates: []backend.Predicate{backend.PredIntersects}},
		&geom.Prepared{CRS: geom.WebMercator, Empty: true},
		backend.LayerDescriptor{ID: "roads", PrimaryKey: "fid"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ids, _, err := plan.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
	if len(plan.Warnings) == 0 {
		t.Error("empty geometry should warn")
	}
}

func TestSubsetExpr(t *testing.T) {
	if got := SubsetExpr("fid", nil); got != "1 = 0" {
		t.Errorf("empty subset = %q", got)
	}
	if got := SubsetExpr("fid", []int64{1, 2, 3}); got != `"fid" IN (1, 2, 3)` {
		t.Errorf("subset = %q", got)
	}
}
