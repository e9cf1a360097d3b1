package fingerprint

import (
	"testing"
)

func TestComputeDeterministic(t *testing.T) {
	in := Input{
		SessionID:      "sess",
		GeometryDigest: "abc123",
		Predicates:     []string{"intersects", "within"},
		BufferDistance: 100,
		BufferSegments: 8,
	}
	a, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := Compute(in)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a != b {
		t.Errorf("fingerprints differ: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("fingerprint %q is not 16 hex digits", a)
	}
}

func TestComputeCanonicalizesPredicates(t *testing.T) {
	base := Input{SessionID: "sess", GeometryDigest: "abc123"}

	a := base
	a.Predicates = []string{"within", "intersects"}
	b := base
	b.Predicates = []string{"intersects", "within", "intersects"}

	fa, err := Compute(a)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	fb, err := Compute(b)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if fa != fb {
		t.Error("predicate order and duplicates must not change the fingerprint")
	}
}

func TestComputeDiscriminates(t *testing.T) {
	base := Input{
		SessionID:      "sess",
		GeometryDigest: "abc123",
		Predicates:     []string{"intersects"},
		BufferDistance: 100,
	}
	fp, err := Compute(base)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	variants := []Input{
		{SessionID: "other", GeometryDigest: "abc123", Predicates: []string{"intersects"}, BufferDistance: 100},
		{SessionID: "sess", GeometryDigest: "def456", Predicates: []string{"intersects"}, BufferDistance: 100},
		{SessionID: "sess", GeometryDigest: "abc123", Predicates: []string{"within"}, BufferDistance: 100},
		{SessionID: "sess", GeometryDigest: "abc123", Predicates: []string{"intersects"}, BufferDistance: 50},
		{SessionID: "sess", GeometryDigest: "abc123", Predicates: []string{"intersects"}, BufferDistance: 100, BufferSegments: 16},
	}
	for i, v := range variants {
		got, err := Compute(v)
		if err != nil {
			t.Fatalf("Compute variant %d: %v", i, err)
		}
		if got == fp {
			t.Errorf("variant %d collides with the base fingerprint", i)
		}
	}
}
