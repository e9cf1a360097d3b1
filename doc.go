// Package spatialfilter applies spatial filters to collections of geographic
// vector layers backed by heterogeneous data stores and produces a subset
// expression per layer for the host application to apply.
//
// The engine prepares the source geometry once (reprojection, buffering with
// a bounded simplification fallback chain, repair), classifies each target
// layer into one of three execution strategies, generates a backend-native
// plan, and runs target layers in parallel under a bounded, backend-aware
// concurrency cap. Derived database objects (materialized geometry snapshots,
// temp tables, spatial indexes) are session scoped, fingerprint keyed and
// reference counted, so identical requests reuse rather than recreate them.
//
// Backends:
//
//   - ServerRelational: PostGIS via database/sql (pgx driver). The plan
//     materializes an indexed snapshot of the prepared source geometry and
//     the subset clause references it, avoiding repeated correlated
//     subqueries against large remote tables.
//   - EmbeddedFile: DuckDB with the spatial extension. Session temp table
//     plus R-tree index; small tables skip materialization and get a direct
//     indexed spatial query.
//   - GenericInMemory: always available fallback. Quadtree candidate index,
//     feature-by-feature topological evaluation, explicit matching-id list.
//
// Basic usage:
//
//	eng, err := spatialfilter.NewEngine(spatialfilter.EngineConfig{
//	    Layers:   registry,
//	    Features: features,
//	})
//	if err != nil { ... }
//	defer eng.Close(ctx)
//
//	req, err := spatialfilter.NewRequestBuilder().
//	    Source("districts").
//	    Targets("roads", "parcels", "hydrants").
//	    Predicates(spatialfilter.PredIntersects).
//	    Buffer(100, 8).
//	    Build()
//	if err != nil { ... }
//
//	id, err := eng.Submit(ctx, req, func(res spatialfilter.FilterResult) { ... })
//
// A single layer's failure is recorded in that layer's FilterOutcome and does
// not abort sibling layers. Cancellation is cooperative: it is checked between
// layers and at batch boundaries inside in-memory feature iteration, and an
// artifact materialization already in progress is allowed to finish and is
// then released rather than aborted mid-write.
package spatialfilter
