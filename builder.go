package spatialfilter

import (
	"fmt"
)

// RequestBuilder assembles a FilterRequest fluently. Build validates the
// accumulated request; an invalid one fails with ErrInvalidRequest.
type RequestBuilder struct {
	req FilterRequest
}

// NewRequestBuilder creates an empty request builder.
func NewRequestBuilder() *RequestBuilder {
	return &RequestBuilder{req: FilterRequest{Combine: CombineAnd}}
}

// Source sets the layer providing the filter geometry.
func (b *RequestBuilder) Source(layerID string) *RequestBuilder {
	b.req.SourceLayer = layerID
	return b
}

// Targets appends layers to filter.
func (b *RequestBuilder) Targets(layerIDs ...string) *RequestBuilder {
	b.req.Targets = append(b.req.Targets, layerIDs...)
	return b
}

// Predicates appends predicates to evaluate.
func (b *RequestBuilder) Predicates(preds ...Predicate) *RequestBuilder {
	b.req.Predicates = append(b.req.Predicates, preds...)
	return b
}

// Combine sets how multiple predicates join. Defaults to CombineAnd.
func (b *RequestBuilder) Combine(op CombineOp) *RequestBuilder {
	b.req.Combine = op
	return b
}

// Buffer requests a buffer around the source geometry. distance is in metric
// units; segments is the quarter-circle segment count (0 for the engine
// default).
func (b *RequestBuilder) Buffer(distance float64, segments int) *RequestBuilder {
	b.req.Buffer = &BufferSpec{Distance: distance, Segments: segments}
	return b
}

// Build validates and returns the request. Duplicate targets are collapsed,
// preserving first-seen order.
func (b *RequestBuilder) Build() (FilterRequest, error) {
	req := b.req
	req.Targets = dedupeStrings(req.Targets)

	if err := validateRequest(req); err != nil {
		return FilterRequest{}, err
	}
	return req, nil
}

func validateRequest(req FilterRequest) error {
	if req.SourceLayer == "" {
		return fmt.Errorf("%w: source layer is required", ErrInvalidRequest)
	}
	if len(req.Targets) == 0 {
		return fmt.Errorf("%w: at least one target layer is required", ErrInvalidRequest)
	}
	if len(req.Predicates) == 0 {
		return fmt.Errorf("%w: at least one predicate is required", ErrInvalidRequest)
	}
	for _, p := range req.Predicates {
		if !p.Valid() {
			return fmt.Errorf("%w: unsupported predicate %q", ErrInvalidRequest, p)
		}
	}
	if req.Combine != CombineAnd && req.Combine != CombineOr {
		return fmt.Errorf("%w: unsupported combine op %q", ErrInvalidRequest, req.Combine)
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
