// Package fingerprint derives the deterministic key identifying a reusable
// session-scoped artifact. Identical (session, geometry, predicate set,
// buffer) inputs always map to the same fingerprint, so concurrent layers
// sharing one prepared source converge on one artifact.
package fingerprint

import (
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"
)

// Input is the identity of an artifact. GeometryDigest is the content hash
// of the prepared source geometry's WKB.
type Input struct {
	SessionID      string
	GeometryDigest string
	Predicates     []string
	BufferDistance float64
	BufferSegments int
}

// Compute canonicalizes the input (predicates sorted and deduplicated) and
// returns a 16 hex digit fingerprint. The msgpack array encoding is
// positional, so the layout is stable across runs.
func Compute(in Input) (string, error) {
	preds := append([]string(nil), in.Predicates...)
	sort.Strings(preds)
	preds = compact(preds)

	payload, err := msgpack.Marshal([]any{
		in.SessionID,
		in.GeometryDigest,
		preds,
		in.BufferDistance,
		in.BufferSegments,
	})
	if err != nil {
		return "", fmt.Errorf("encode fingerprint payload: %w", err)
	}

	return fmt.Sprintf("%016x", xxh3.Hash(payload)), nil
}

func compact(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
