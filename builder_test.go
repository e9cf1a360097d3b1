package spatialfilter

import (
	"errors"
	"testing"
)

func TestRequestBuilderDefaults(t *testing.T) {
	req, err := NewRequestBuilder().
		Source("districts").
		Targets("roads").
		Predicates(PredIntersects).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.Combine != CombineAnd {
		t.Errorf("combine = %s, want AND default", req.Combine)
	}
	if req.Buffer != nil {
		t.Error("buffer should default to nil")
	}
}

func TestRequestBuilderBuffer(t *testing.T) {
	req, err := NewRequestBuilder().
		Source("districts").
		Targets("roads").
		Predicates(PredIntersects).
		Buffer(100, 16).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.Buffer == nil || req.Buffer.Distance != 100 || req.Buffer.Segments != 16 {
		t.Errorf("buffer = %+v", req.Buffer)
	}
}

func TestRequestBuilderDedupesTargets(t *testing.T) {
	req, err := NewRequestBuilder().
		Source("districts").
		Targets("roads", "poi", "roads").
		Predicates(PredIntersects).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(req.Targets) != 2 || req.Targets[0] != "roads" || req.Targets[1] != "poi" {
		t.Errorf("targets = %v", req.Targets)
	}
}

func TestRequestBuilderValidation(t *testing.T) {
	cases := []struct {
		name string
		b    *RequestBuilder
	}{
		{"no source", NewRequestBuilder().Targets("roads").Predicates(PredIntersects)},
		{"no targets", NewRequestBuilder().Source("districts").Predicates(PredIntersects)},
		{"no predicates", NewRequestBuilder().Source("districts").Targets("roads")},
		{"bad predicate", NewRequestBuilder().Source("districts").Targets("roads").Predicates(Predicate("near"))},
		{"bad combine", NewRequestBuilder().Source("districts").Targets("roads").Predicates(PredIntersects).Combine(CombineOp("XOR"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.b.Build(); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}
