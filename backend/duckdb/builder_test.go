package duckdb

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/terravec/spatialfilter/backend"
	"github.com/terravec/spatialfilter/geom"
)

func preparedSquare(t *testing.T) *geom.Prepared {
	t.Helper()
	g := orb.Polygon{{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}}
	data, err := wkb.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &geom.Prepared{Geometry: g, CRS: geom.WebMercator, WKB: data, Digest: "abc123"}
}

func testDesc(featureCount int64) backend.LayerDescriptor {
	return backend.LayerDescriptor{
		ID:             "roads",
		Provider:       backend.ProviderDuckDB,
		Table:          "roads",
		GeometryColumn: "geom",
		PrimaryKey:     "fid",
		SRID:           3857,
		FeatureCount:   featureCount,
	}
}

func testSpec(preds ...backend.Predicate) backend.Spec {
	return backend.Spec{
		SessionID:    "sess",
		Fingerprint:  "feedbeef",
		ArtifactName: "sfx_sess_feedbeef",
		Predicates:   preds,
		Combine:      backend.CombineAnd,
	}
}

func TestBuildSmallTableGoesDirect(t *testing.T) {
	b := NewBuilder()
	plan, err := b.Build(testSpec(backend.PredWithin), preparedSquare(t), testDesc(500))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.ArtifactKind != backend.ArtifactNone {
		t.Errorf("artifact kind = %s, small table should skip materialization", plan.ArtifactKind)
	}
	if len(plan.Materialize) != 0 {
		t.Errorf("direct plan carries %d materialize statements", len(plan.Materialize))
	}
	if !strings.Contains(plan.SubsetExpr, `ST_Within("geom", ST_GeomFromHEXWKB(`) {
		t.Errorf("direct expr: %s", plan.SubsetExpr)
	}
	if plan.CountStatement == nil {
		t.Error("direct plan should still count matches")
	}
}

func TestBuildLargeTableMaterializes(t *testing.T) {
	b := NewBuilder()
	plan, err := b.Build(testSpec(backend.PredIntersects), preparedSquare(t), testDesc(50_000))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.ArtifactKind != backend.ArtifactTable {
		t.Fatalf("artifact kind = %s, want table", plan.ArtifactKind)
	}
	if len(plan.Materialize) != 2 {
		t.Fatalf("got %d materialize statements, want 2", len(plan.Materialize))
	}
	if !strings.Contains(plan.Materialize[1].SQL, "ST_GeomFromHEXWKB(?)") {
		t.Errorf("insert statement: %s", plan.Materialize[1].SQL)
	}
	if plan.IndexColumn != "geom" {
		t.Errorf("index column = %s", plan.IndexColumn)
	}
	if !strings.Contains(plan.SubsetExpr, `EXISTS (SELECT 1 FROM "sfx_sess_feedbeef" _sf WHERE ST_Intersects("geom", _sf.geom))`) {
		t.Errorf("subset expr: %s", plan.SubsetExpr)
	}
}

func TestBuildUnknownCountMaterializes(t *testing.T) {
	b := NewBuilder()
	plan, err := b.Build(testSpec(backend.PredIntersects), preparedSquare(t), testDesc(0))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.ArtifactKind != backend.ArtifactTable {
		t.Errorf("unknown feature count should take the materialized path, got %s", plan.ArtifactKind)
	}
}

func TestBuildCustomThreshold(t *testing.T) {
	b := NewBuilder()
	spec := testSpec(backend.PredIntersects)
	spec.DirectThreshold = 100

	plan, err := b.Build(spec, preparedSquare(t), testDesc(500))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.ArtifactKind != backend.ArtifactTable {
		t.Errorf("500 features over threshold 100 should materialize, got %s", plan.ArtifactKind)
	}
}

func TestBuildEmptyGeometryMatchesNothing(t *testing.T) {
	b := NewBuilder()
	plan, err := b.Build(testSpec(backend.PredIntersects),
		&geom.Prepared{CRS: geom.WebMercator, Empty: true}, testDesc(500))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.SubsetExpr != "1 = 0" || plan.ArtifactKind != backend.ArtifactNone {
		t.Errorf("empty geometry plan: expr=%q kind=%s", plan.SubsetExpr, plan.ArtifactKind)
	}
	if len(plan.Warnings) == 0 {
		t.Error("empty geometry should warn")
	}
}

func TestBuildRequiresPrimaryKey(t *testing.T) {
	b := NewBuilder()
	desc := testDesc(500)
	desc.PrimaryKey = ""
	if _, err := b.Build(testSpec(backend.PredIntersects), preparedSquare(t), desc); err == nil {
		t.Error("layer without primary key should be rejected")
	}
}
