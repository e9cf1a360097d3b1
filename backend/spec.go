package backend

import (
	"sort"

	"github.com/terravec/spatialfilter/geom"
)

// Spec is the per-layer input to a query builder: the predicate combination
// to evaluate against the prepared source geometry, plus the identity of the
// shared artifact the plan may materialize or reuse.
type Spec struct {
	// SessionID scopes derived objects.
	SessionID string

	// Fingerprint identifies the shared artifact for this
	// (session, geometry, predicates, buffer) combination.
	Fingerprint string

	// ArtifactName is the naming-convention object name for Fingerprint.
	ArtifactName string

	// Predicates to evaluate. At least one.
	Predicates []Predicate

	// Combine joins multiple predicates: AND intersects candidate id sets,
	// OR unions them.
	Combine CombineOp

	// DirectThreshold is the feature count under which the embedded-file
	// strategy skips materialization and issues a direct indexed query.
	DirectThreshold int64
}

// OrderedPredicates returns the spec's predicates sorted cheap-first. The
// combine semantics are set operations, so ordering only affects cost.
func (s Spec) OrderedPredicates() []Predicate {
	out := append([]Predicate(nil), s.Predicates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CostRank() < out[j].CostRank()
	})
	return out
}

// Builder turns a filter spec and prepared geometry into a backend-native
// execution plan. Build performs no I/O; for the in-memory strategy the
// returned plan carries an evaluator run during the execute stage.
type Builder interface {
	Kind() Kind
	Build(spec Spec, prepared *geom.Prepared, desc LayerDescriptor) (Plan, error)
}
