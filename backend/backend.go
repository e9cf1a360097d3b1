// Package backend defines the three filter execution strategies, the pure
// classification that picks one for a layer, and the contracts shared by the
// strategy implementations: the plan a builder produces and the execution
// adapter a SQL backend runs statements through.
package backend

import (
	"context"

	"github.com/paulmach/orb"
)

// Kind identifies one of the three execution strategies.
type Kind string

const (
	// ServerRelational materializes an indexed geometry snapshot on the
	// server and references it from the subset clause.
	ServerRelational Kind = "server-relational"

	// EmbeddedFile uses a session-scoped temp table and spatial index in an
	// embedded SQL file store, or a direct indexed query for small tables.
	EmbeddedFile Kind = "embedded-file"

	// GenericInMemory evaluates predicates feature by feature against an
	// in-memory spatial index. Always available; the universal slower fallback.
	GenericInMemory Kind = "generic-in-memory"
)

// ProviderKind is the host-reported storage provider of a layer.
type ProviderKind string

const (
	ProviderPostgres ProviderKind = "postgres"
	ProviderDuckDB   ProviderKind = "duckdb"
	ProviderMemory   ProviderKind = "memory"
)

// Predicate is a topological relationship test between two geometries.
type Predicate string

const (
	PredIntersects Predicate = "intersects"
	PredWithin     Predicate = "within"
	PredContains   Predicate = "contains"
	PredTouches    Predicate = "touches"
	PredCrosses    Predicate = "crosses"
	PredOverlaps   Predicate = "overlaps"
	PredDisjoint   Predicate = "disjoint"
	PredEquals     Predicate = "equals"
)

// Valid reports whether p is one of the supported predicates.
func (p Predicate) Valid() bool {
	switch p {
	case PredIntersects, PredWithin, PredContains, PredTouches,
		PredCrosses, PredOverlaps, PredDisjoint, PredEquals:
		return true
	}
	return false
}

// CostRank orders predicates so cheap ones are evaluated before expensive
// ones when several are combined in one request. Lower is cheaper. This is
// an optimization only; combine semantics are set operations and do not
// depend on evaluation order.
func (p Predicate) CostRank() int {
	switch p {
	case PredDisjoint, PredIntersects:
		return 0
	case PredEquals:
		return 1
	case PredWithin, PredContains:
		return 2
	default: // touches, crosses, overlaps
		return 3
	}
}

// CombineOp joins the candidate id sets of multiple predicates.
type CombineOp string

const (
	CombineAnd CombineOp = "AND" // intersect candidate id sets
	CombineOr  CombineOp = "OR"  // union candidate id sets
)

// LayerDescriptor describes a target (or source) layer as reported by the
// host layer registry. Every descriptor must carry exactly one resolved
// primary key before filtering begins.
type LayerDescriptor struct {
	// ID is the host-side layer identifier.
	ID string

	// Provider is the storage provider kind.
	Provider ProviderKind

	// Table is the backing table name for SQL providers.
	Table string

	// GeometryColumn is the geometry column for SQL providers.
	GeometryColumn string

	// PrimaryKey is the resolved primary key column. REQUIRED.
	PrimaryKey string

	// GeometryType is the layer geometry type ("Point", "Polygon", ...).
	GeometryType string

	// SRID is the layer CRS as an EPSG code.
	SRID int

	// Geographic reports whether the layer CRS uses angular units.
	Geographic bool

	// FeatureCount is the approximate feature count, used by the
	// embedded-file strategy to decide whether materialization pays off.
	// Zero means unknown.
	FeatureCount int64
}

// Select classifies a layer into an execution strategy. Total and
// side-effect free: server-relational is preferred when the layer is
// server-backed and its driver adapter is available, embedded-file for
// file SQL sources, and generic in-memory otherwise.
//
// available reports which backend kinds have a configured adapter;
// GenericInMemory needs none and is always available.
func Select(desc LayerDescriptor, available func(Kind) bool) Kind {
	switch desc.Provider {
	case ProviderPostgres:
		if available != nil && available(ServerRelational) {
			return ServerRelational
		}
	case ProviderDuckDB:
		if available != nil && available(EmbeddedFile) {
			return EmbeddedFile
		}
	}
	return GenericInMemory
}

// Statement is a single backend statement with positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// ArtifactKind is the sort of derived backend object a plan materializes.
type ArtifactKind string

const (
	ArtifactTable ArtifactKind = "table"
	ArtifactView  ArtifactKind = "view"
	ArtifactIndex ArtifactKind = "index"
	ArtifactNone  ArtifactKind = "none"
)

// Plan is a backend-native execution plan for one target layer. SQL backends
// carry materialization statements plus a final subset clause referencing the
// materialized artifact; the in-memory backend carries an evaluator instead.
type Plan struct {
	// Backend is the strategy that produced the plan.
	Backend Kind

	// Fingerprint keys the shared artifact this plan materializes or reuses.
	Fingerprint string

	// ArtifactKind and ArtifactName describe the derived object. ArtifactNone
	// means the plan needs no materialization (direct query or in-memory).
	ArtifactKind ArtifactKind
	ArtifactName string

	// Materialize are the statements that create and populate the artifact.
	// Empty when ArtifactKind is ArtifactNone.
	Materialize []Statement

	// IndexColumn is the geometry column of the artifact to spatially index,
	// or empty if the materialization statements already create the index.
	IndexColumn string

	// SubsetExpr is the backend-native filter clause for the layer. For the
	// in-memory backend it is produced by Evaluate instead.
	SubsetExpr string

	// CountStatement returns the match count for the layer, if the backend
	// can compute it server-side.
	CountStatement *Statement

	// Evaluate computes the explicit matching-id list for in-memory plans.
	// Nil for SQL plans.
	Evaluate func(ctx context.Context) (ids []int64, warnings []string, err error)

	// Warnings collected while building (for example an empty prepared
	// geometry, which yields an empty match set rather than an error).
	Warnings []string
}

// Adapter is the per-backend execution boundary supplied by the host: it
// executes generated statements and manages spatial indexes on derived
// objects. Implementations must be safe for concurrent use; connections are
// checked out per call and always returned, including on failure.
type Adapter interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, stmt Statement) error

	// QueryCount runs a statement returning a single integer.
	QueryCount(ctx context.Context, stmt Statement) (int64, error)

	// CreateSpatialIndex builds a spatial index over table(geometryColumn).
	CreateSpatialIndex(ctx context.Context, table, geometryColumn string) error

	// HasTable reports whether the backing object still exists.
	HasTable(ctx context.Context, table string) (bool, error)

	// ListTables returns backend tables whose names start with prefix.
	// Used by the startup orphan sweep.
	ListTables(ctx context.Context, prefix string) ([]string, error)

	// DropTable removes a derived object. Dropping a missing object is not
	// an error.
	DropTable(ctx context.Context, table string) error
}

// Feature is one vector feature delivered by the host feature source.
type Feature struct {
	ID       int64
	Geometry orb.Geometry
}

// FeatureCursor iterates a layer's features. Cursors are not safe for
// concurrent use.
type FeatureCursor interface {
	// Next returns the next feature, or ok=false at the end of the set.
	Next(ctx context.Context) (f Feature, ok bool, err error)
	Close() error
}

// FeatureSource feeds layer features to the in-memory strategy and provides
// the source layer geometry to the preparer.
type FeatureSource interface {
	Features(ctx context.Context, layerID string) (FeatureCursor, error)
}
