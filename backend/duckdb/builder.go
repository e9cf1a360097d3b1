// Package duckdb implements the embedded-file execution strategy on DuckDB
// with the spatial extension. Large tables get a session-scoped snapshot
// table plus an R-tree index; tables below the size threshold skip
// materialization entirely and are filtered with a direct indexed spatial
// query.
package duckdb

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/terravec/spatialfilter/backend"
	"github.com/terravec/spatialfilter/geom"
)

// DefaultDirectThreshold is the feature count under which materialization
// doesn't pay off and a direct query is issued instead.
const DefaultDirectThreshold = 10_000

var predicateFuncs = map[backend.Predicate]string{
	backend.PredIntersects: "ST_Intersects",
	backend.PredWithin:     "ST_Within",
	backend.PredContains:   "ST_Contains",
	backend.PredTouches:    "ST_Touches",
	backend.PredCrosses:    "ST_Crosses",
	backend.PredOverlaps:   "ST_Overlaps",
	backend.PredDisjoint:   "ST_Disjoint",
	backend.PredEquals:     "ST_Equals",
}

// Builder generates DuckDB spatial plans.
type Builder struct{}

// NewBuilder creates an embedded-file query builder.
func NewBuilder() *Builder { return &Builder{} }

// Kind returns backend.EmbeddedFile.
func (b *Builder) Kind() backend.Kind { return backend.EmbeddedFile }

// Build produces the plan for one target layer. No I/O happens here.
func (b *Builder) Build(spec backend.Spec, prepared *geom.Prepared, desc backend.LayerDescriptor) (backend.Plan, error) {
	if desc.PrimaryKey == "" {
		return backend.Plan{}, fmt.Errorf("layer %s: no resolved primary key", desc.ID)
	}

	if prepared == nil || prepared.Empty {
		return backend.Plan{
			Backend:      backend.EmbeddedFile,
			Fingerprint:  spec.Fingerprint,
			ArtifactKind: backend.ArtifactNone,
			SubsetExpr:   "1 = 0",
			Warnings:     []string{"empty prepared geometry, empty match set"},
		}, nil
	}

	threshold := spec.DirectThreshold
	if threshold == 0 {
		threshold = DefaultDirectThreshold
	}
	wkbHex := hex.EncodeToString(prepared.WKB)

	// Small tables: direct indexed spatial query, nothing to materialize.
	if desc.FeatureCount > 0 && desc.FeatureCount < threshold {
		expr := directClause(spec, desc.GeometryColumn, wkbHex)
		count := backend.Statement{SQL: fmt.Sprintf(
			"SELECT count(*) FROM %s WHERE %s", quoteIdent(desc.Table), expr)}
		return backend.Plan{
			Backend:        backend.EmbeddedFile,
			Fingerprint:    spec.Fingerprint,
			ArtifactKind:   backend.ArtifactNone,
			SubsetExpr:     expr,
			CountStatement: &count,
		}, nil
	}

	// Session-scoped snapshot table. Not a connection-local TEMP table: the
	// pool hands statements to different connections, so the object lives in
	// the file store under the session naming convention and is removed by
	// session cleanup or the orphan sweep.
	name := spec.ArtifactName
	materialize := []backend.Statement{
		{SQL: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (geom GEOMETRY NOT NULL)", quoteIdent(name))},
		{
			SQL: fmt.Sprintf(
				"INSERT INTO %s (geom) SELECT ST_GeomFromHEXWKB(?) WHERE NOT EXISTS (SELECT 1 FROM %s)",
				quoteIdent(name), quoteIdent(name)),
			Args: []any{wkbHex},
		},
	}

	expr := artifactClause(spec, name, desc.GeometryColumn)
	count := backend.Statement{SQL: fmt.Sprintf(
		"SELECT count(*) FROM %s WHERE %s", quoteIdent(desc.Table), expr)}

	return backend.Plan{
		Backend:        backend.EmbeddedFile,
		Fingerprint:    spec.Fingerprint,
		ArtifactKind:   backend.ArtifactTable,
		ArtifactName:   name,
		Materialize:    materialize,
		IndexColumn:    "geom",
		SubsetExpr:     expr,
		CountStatement: &count,
	}, nil
}

// directClause inlines the prepared geometry into the predicate calls.
func directClause(spec backend.Spec, geomColumn, wkbHex string) string {
	parts := make([]string, 0, len(spec.Predicates))
	for _, pred := range spec.OrderedPredicates() {
		parts = append(parts, fmt.Sprintf("%s(%s, ST_GeomFromHEXWKB('%s'))",
			predicateFuncs[pred], quoteIdent(geomColumn), wkbHex))
	}
	return combine(parts, spec.Combine)
}

// artifactClause references the materialized snapshot table.
func artifactClause(spec backend.Spec, artifactName, geomColumn string) string {
	parts := make([]string, 0, len(spec.Predicates))
	for _, pred := range spec.OrderedPredicates() {
		parts = append(parts, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s _sf WHERE %s(%s, _sf.geom))",
			quoteIdent(artifactName), predicateFuncs[pred], quoteIdent(geomColumn)))
	}
	return combine(parts, spec.Combine)
}

func combine(parts []string, op backend.CombineOp) string {
	if len(parts) == 1 {
		return parts[0]
	}
	sep := " AND "
	if op == backend.CombineOr {
		sep = " OR "
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
