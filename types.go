package spatialfilter

import (
	"time"

	"github.com/terravec/spatialfilter/backend"
	"github.com/terravec/spatialfilter/geom"
)

// Predicate is a topological relationship test between a target feature and
// the prepared source geometry.
type Predicate = backend.Predicate

// Supported predicates.
const (
	PredIntersects = backend.PredIntersects
	PredWithin     = backend.PredWithin
	PredContains   = backend.PredContains
	PredTouches    = backend.PredTouches
	PredCrosses    = backend.PredCrosses
	PredOverlaps   = backend.PredOverlaps
	PredDisjoint   = backend.PredDisjoint
	PredEquals     = backend.PredEquals
)

// CombineOp joins the match sets of multiple predicates.
type CombineOp = backend.CombineOp

const (
	CombineAnd = backend.CombineAnd
	CombineOr  = backend.CombineOr
)

// BufferSpec requests a buffer around the source geometry before filtering.
type BufferSpec = geom.BufferSpec

// FilterRequest is one spatial filter run: a source layer whose geometry is
// prepared once, and target layers filtered against it in parallel.
type FilterRequest struct {
	// SourceLayer provides the filter geometry.
	SourceLayer string

	// Targets are the layers to filter. At least one.
	Targets []string

	// Predicates to evaluate. At least one.
	Predicates []Predicate

	// Combine joins multiple predicates. Defaults to CombineAnd.
	Combine CombineOp

	// Buffer optionally expands or shrinks the source geometry before the
	// predicates run.
	Buffer *BufferSpec
}

// RequestState is the lifecycle stage of a submitted request.
type RequestState string

const (
	StatePending     RequestState = "pending"
	StatePreparing   RequestState = "preparing"
	StateDispatching RequestState = "dispatching"
	StateExecuting   RequestState = "executing"
	StateAggregating RequestState = "aggregating"
	StateDone        RequestState = "done"
)

// OverallStatus summarizes a finished request.
type OverallStatus string

const (
	// StatusCompleted: every target layer filtered cleanly.
	StatusCompleted OverallStatus = "completed"

	// StatusCompletedWithWarnings: the request ran to the end but some layer
	// failed, was skipped, or produced warnings.
	StatusCompletedWithWarnings OverallStatus = "completed-with-warnings"

	// StatusCancelled: the request was cancelled before finishing.
	StatusCancelled OverallStatus = "cancelled"

	// StatusFailed: a precondition failed before any layer executed, for
	// example unrepairable source geometry or an invalid request.
	StatusFailed OverallStatus = "failed"
)

// LayerStatus is the per-target result classification.
type LayerStatus string

const (
	LayerOK      LayerStatus = "ok"
	LayerFailed  LayerStatus = "failed"
	LayerSkipped LayerStatus = "skipped"
)

// FilterOutcome is the result for one target layer.
type FilterOutcome struct {
	// LayerID identifies the target layer.
	LayerID string

	// Backend is the execution strategy the layer was classified into.
	Backend backend.Kind

	// Status classifies the outcome. A failed layer never aborts siblings.
	Status LayerStatus

	// Expression is the subset expression applied to the layer. Empty when
	// the layer failed or was skipped.
	Expression string

	// MatchCount is the number of features matching the filter, or -1 when
	// the backend could not report one.
	MatchCount int64

	// Warnings are recoverable per-layer issues.
	Warnings []string

	// Err is the per-layer failure, nil on success.
	Err error
}

// FilterResult is the aggregate result of one request.
type FilterResult struct {
	// RequestID is the id returned by Submit.
	RequestID string

	// Status summarizes the run.
	Status OverallStatus

	// Outcomes holds one entry per requested target, in request order.
	Outcomes []FilterOutcome

	// Warnings are request-level issues from geometry preparation.
	Warnings []string

	// Err is set when Status is StatusFailed or StatusCancelled.
	Err error

	// Duration is the wall time from submission to aggregation.
	Duration time.Duration
}

// Progress is a point-in-time snapshot of a running request.
type Progress struct {
	State     RequestState
	Completed int
	Total     int
}
