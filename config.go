package spatialfilter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/terravec/spatialfilter/artifact"
	"github.com/terravec/spatialfilter/backend"
	"github.com/terravec/spatialfilter/geom"
	"github.com/terravec/spatialfilter/subset"
)

// Sentinel errors surfaced by the engine. Per-layer errors are wrapped and
// carried in the layer's FilterOutcome; only precondition failures abort a
// request.
var (
	// ErrInvalidRequest indicates a malformed request or an unknown layer.
	ErrInvalidRequest = errors.New("invalid filter request")

	// ErrGeometry indicates unrepairable source geometry after the buffer
	// fallback chain exhausted all attempts.
	ErrGeometry = geom.ErrGeometry

	// ErrBackendUnavailable indicates a layer classified into a strategy with
	// no configured adapter or builder.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrQueryExecution indicates a backend rejected or failed the generated
	// statements for one layer.
	ErrQueryExecution = errors.New("query execution failed")

	// ErrArtifactConflict indicates a fingerprint collision with an
	// incompatible cached artifact. The registry resolves it internally by
	// materializing fresh; the sentinel surfaces only in logs.
	ErrArtifactConflict = artifact.ErrConflict

	// ErrCancelled indicates the request was cancelled before finishing.
	ErrCancelled = errors.New("request cancelled")

	// ErrResourceExhausted indicates the engine is at its in-flight request
	// limit.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrClosed indicates the engine was closed.
	ErrClosed = errors.New("engine closed")
)

// LayerRegistry resolves host layer metadata. Every descriptor must carry a
// resolved primary key; layers without one are rejected at dispatch.
type LayerRegistry interface {
	Describe(ctx context.Context, layerID string) (backend.LayerDescriptor, error)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Layers resolves layer descriptors. REQUIRED.
	Layers LayerRegistry

	// Features streams layer features: source geometry for preparation and
	// target features for the in-memory strategy. REQUIRED.
	Features backend.FeatureSource

	// Postgres is the server-relational execution adapter.
	// OPTIONAL: Without it, postgres layers fall back to in-memory.
	Postgres backend.Adapter

	// DuckDB is the embedded-file execution adapter.
	// OPTIONAL: Without it, duckdb layers fall back to in-memory.
	DuckDB backend.Adapter

	// ApplySubset pushes a subset expression to the host layer.
	// OPTIONAL: If nil, expressions are tracked without being pushed.
	ApplySubset subset.Applier

	// SessionID scopes derived backend objects.
	// OPTIONAL: Defaults to a random UUID.
	SessionID string

	// MaxParallel caps concurrently executing target layers.
	// OPTIONAL: If 0, defaults to 4.
	MaxParallel int

	// MaxRequests caps in-flight requests; Submit past the cap fails with
	// ErrResourceExhausted. OPTIONAL: If 0, defaults to 16.
	MaxRequests int

	// DirectThreshold is the feature count under which the embedded-file
	// strategy skips materialization. OPTIONAL: 0 uses the builder default.
	DirectThreshold int64

	// ArtifactGrace is how long a zero-reference artifact stays reusable
	// before eviction. OPTIONAL: Defaults to 30s.
	ArtifactGrace time.Duration

	// ArtifactTTL is an eviction hint for idle artifacts.
	// OPTIONAL: 0 disables it.
	ArtifactTTL time.Duration

	// MaxBufferAttempts bounds the buffer simplification fallback chain.
	// OPTIONAL: If 0, defaults to 4.
	MaxBufferAttempts int

	// BufferSegments is the default quarter-circle segment count for buffers.
	// OPTIONAL: If 0, defaults to 8.
	BufferSegments int

	// SkipOrphanSweep disables the startup sweep of artifacts left behind by
	// crashed prior sessions. OPTIONAL.
	SkipOrphanSweep bool

	// Logger for engine events. OPTIONAL: Uses slog.Default() if nil.
	Logger *slog.Logger
}
