package postgres

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

func testDesc() backend.LayerDescriptor {
	return backend.LayerDescriptor{
		ID:             "parcels",
		Provider:       backend.ProviderPostgres,
		Table:          "parcels",
		GeometryColumn: "geom",
		PrimaryKey:     "gid",
		SRID:           3857,
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

func TestBuildMaterializesArtifact(t *testing.T) {
	b := NewBuilder()
	plan, err := b.Build(testSpec(backend.PredIntersects), preparedSquare(t), testDesc())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if plan.Backend != backend.ServerRelational {
		t.Errorf("backend = %s", plan.Backend)
	}
	if plan.ArtifactKind != backend.ArtifactTable || plan.ArtifactName != "sfx_sess_feedbeef" {
		t.Errorf("artifact = %s %s", plan.ArtifactKind, plan.ArtifactName)
	}
	if len(plan.Materialize) != 2 {
		t.Fatalf("got %d materialize statements, want 2", len(plan.Materialize))
	}
	if !strings.Contains(plan.Materialize[0].SQL, `CREATE TABLE IF NOT EXISTS "sfx_sess_feedbeef"`) {
		t.Errorf("create statement: %s", plan.Materialize[0].SQL)
	}
	insert := plan.Materialize[1]
	if !strings.Contains(insert.SQL, "ST_GeomFromWKB") || !strings.Contains(insert.SQL, "ST_SetSRID") {
		t.Errorf("insert statement: %s", insert.SQL)
	}
	if len(insert.Args) != 2 || insert.Args[1] != 3857 {
		t.Errorf("insert args = %v", insert.Args)
	}
	if plan.IndexColumn != "geom" {
		t.Errorf("index column = %s", plan.IndexColumn)
	}
	if plan.Evaluate != nil {
		t.Error("sql plan should not carry an evaluator")
	}
}

func TestBuildSubsetClause(t *testing.T) {
	b := NewBuilder()
	plan, err := b.Build(testSpec(backend.PredIntersects), preparedSquare(t), testDesc())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `EXISTS (SELECT 1 FROM "sfx_sess_feedbeef" _sf WHERE ST_Intersects("geom", _sf.geom))`
	if plan.SubsetExpr != want {
		t.Errorf("subset expr:\n got %s\nwant %s", plan.SubsetExpr, want)
	}
	if plan.CountStatement == nil || !strings.Contains(plan.CountStatement.SQL, `SELECT count(*) FROM "parcels" WHERE`) {
		t.Errorf("count statement: %+v", plan.CountStatement)
	}
}

func TestBuildCombinesPredicatesCheapFirst(t *testing.T) {
	b := NewBuilder()
	spec := testSpec(backend.PredTouches, backend.PredIntersects)
	spec.Combine = backend.CombineOr

	plan, err := b.Build(spec, preparedSquare(t), testDesc())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	expr := plan.SubsetExpr
	if !strings.HasPrefix(expr, "(") || !strings.Contains(expr, " OR ") {
		t.Errorf("combined expr not parenthesized OR: %s", expr)
	}
	if strings.Index(expr, "ST_Intersects") > strings.Index(expr, "ST_Touches") {
		t.Errorf("cheap predicate should come first: %s", expr)
	}
}

func TestBuildEmptyGeometryMatchesNothing(t *testing.T) {
	b := NewBuilder()
	plan, err := b.Build(testSpec(backend.PredIntersects),
		&geom.Prepared{CRS: geom.WebMercator, Empty: true}, testDesc())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.ArtifactKind != backend.ArtifactNone {
		t.Errorf("artifact kind = %s, want none", plan.ArtifactKind)
	}
	if plan.SubsetExpr != "1 = 0" {
		t.Errorf("subset expr = %q, want empty match set", plan.SubsetExpr)
	}
	if len(plan.Warnings) == 0 {
		t.Error("empty geometry should warn")
	}
}

func TestBuildRequiresPrimaryKey(t *testing.T) {
	b := NewBuilder()
	desc := testDesc()
	desc.PrimaryKey = ""
	if _, err := b.Build(testSpec(backend.PredIntersects), preparedSquare(t), desc); err == nil {
		t.Error("layer without primary key should be rejected")
	}
}
