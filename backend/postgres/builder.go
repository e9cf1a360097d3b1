// Package postgres implements the server-relational execution strategy on
// PostGIS. The plan materializes an indexed snapshot of the prepared source
// geometry server-side and the subset clause references it, so the host's
// filter never re-ships the geometry or re-runs a correlated subquery
// against a large remote table.
package postgres

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/terravec/spatialfilter/backend"
	"github.com/terravec/spatialfilter/geom"
)

// predicateFuncs maps predicates to their PostGIS functions.
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

// Builder generates PostGIS plans.
type Builder struct{}

// NewBuilder creates a server-relational query builder.
func NewBuilder() *Builder { return &Builder{} }

// Kind returns backend.ServerRelational.
func (b *Builder) Kind() backend.Kind { return backend.ServerRelational }

// Build produces the materialization statements and subset clause for one
// target layer. No I/O happens here.
func (b *Builder) Build(spec backend.Spec, prepared *geom.Prepared, desc backend.LayerDescriptor) (backend.Plan, error) {
	if desc.PrimaryKey == "" {
		return backend.Plan{}, fmt.Errorf("layer %s: no resolved primary key", desc.ID)
	}

	if prepared == nil || prepared.Empty {
		// Empty prepared geometry matches nothing; warn, never error.
		return backend.Plan{
			Backend:      backend.ServerRelational,
			Fingerprint:  spec.Fingerprint,
			ArtifactKind: backend.ArtifactNone,
			SubsetExpr:   "1 = 0",
			Warnings:     []string{"empty prepared geometry, empty match set"},
		}, nil
	}

	name := spec.ArtifactName
	wkbHex := hex.EncodeToString(prepared.WKB)

	materialize := []backend.Statement{
		{SQL: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (geom geometry NOT NULL)", quoteIdent(name))},
		{
			SQL: fmt.Sprintf(
				"INSERT INTO %s (geom) SELECT ST_SetSRID(ST_GeomFromWKB(decode($1, 'hex')), $2) WHERE NOT EXISTS (SELECT 1 FROM %s)",
				quoteIdent(name), quoteIdent(name)),
			Args: []any{wkbHex, prepared.CRS.SRID},
		},
	}

	expr := subsetClause(spec, name, desc.GeometryColumn)
	count := backend.Statement{SQL: fmt.Sprintf(
		"SELECT count(*) FROM %s WHERE %s", quoteIdent(desc.Table), expr)}

	return backend.Plan{
		Backend:        backend.ServerRelational,
		Fingerprint:    spec.Fingerprint,
		ArtifactKind:   backend.ArtifactTable,
		ArtifactName:   name,
		Materialize:    materialize,
		IndexColumn:    "geom",
		SubsetExpr:     expr,
		CountStatement: &count,
	}, nil
}

// subsetClause builds the final clause referencing the materialized
// artifact, one EXISTS per predicate, combined per the spec. Predicates are
// ordered cheap-first so short-circuit evaluation skips expensive relates.
func subsetClause(spec backend.Spec, artifactName, geomColumn string) string {
	parts := make([]string, 0, len(spec.Predicates))
	for _, pred := range spec.OrderedPredicates() {
		fn := predicateFuncs[pred]
		parts = append(parts, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s _sf WHERE %s(%s, _sf.geom))",
			quoteIdent(artifactName), fn, quoteIdent(geomColumn)))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	op := " AND "
	if spec.Combine == backend.CombineOr {
		op = " OR "
	}
	return "(" + strings.Join(parts, op) + ")"
}

// quoteIdent double-quotes an SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
