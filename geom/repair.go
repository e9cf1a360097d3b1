package geom

import (
	"fmt"

	"github.com/paulmach/orb"
)

// MakeValid repairs a geometry before predicate use: consecutive duplicate
// points are dropped, rings are closed and normalized (exterior
// counter-clockwise, holes clockwise), and degenerate rings are removed.
// Geometries that stay self-intersecting after cleaning are unrepairable at
// this level and return an error; callers treat that as a recoverable
// per-feature warning.
func MakeValid(g orb.Geometry) (orb.Geometry, error) {
	switch v := g.(type) {
	case orb.Point, orb.Bound:
		return g, nil

	case orb.MultiPoint:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty multipoint")
		}
		return v, nil

	case orb.LineString:
		ls := dedupe(v)
		if len(ls) < 2 {
			return nil, fmt.Errorf("degenerate linestring (%d distinct points)", len(ls))
		}
		return ls, nil

	case orb.MultiLineString:
		out := make(orb.MultiLineString, 0, len(v))
		for _, ls := range v {
			clean := dedupe(ls)
			if len(clean) >= 2 {
				out = append(out, clean)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("degenerate multilinestring")
		}
		return out, nil

	case orb.Ring:
		return MakeValid(orb.Polygon{v})

	case orb.Polygon:
		return repairPolygon(v)

	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(v))
		for i, p := range v {
			fixed, err := repairPolygon(p)
			if err != nil {
				return nil, fmt.Errorf("polygon %d: %w", i, err)
			}
			out = append(out, fixed.(orb.Polygon))
		}
		return out, nil

	case orb.Collection:
		out := make(orb.Collection, 0, len(v))
		for i, child := range v {
			fixed, err := MakeValid(child)
			if err != nil {
				return nil, fmt.Errorf("collection member %d: %w", i, err)
			}
			out = append(out, fixed)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("empty collection")
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported geometry type %T", g)
	}
}

func repairPolygon(p orb.Polygon) (orb.Geometry, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("polygon has no rings")
	}

	out := make(orb.Polygon, 0, len(p))
	for i, r := range p {
		ring := closeRing(dedupeRing(r))
		if len(ring) < 4 {
			if i == 0 {
				return nil, fmt.Errorf("degenerate exterior ring")
			}
			continue // drop degenerate hole
		}
		if ringSelfIntersects(ring) {
			if i == 0 {
				return nil, fmt.Errorf("self-intersecting exterior ring")
			}
			continue // drop broken hole rather than fail the feature
		}

		// Normalize winding: exterior counter-clockwise, holes clockwise.
		want := orb.CCW
		if i > 0 {
			want = orb.CW
		}
		if ring.Orientation() != want {
			ring.Reverse()
		}
		out = append(out, ring)
	}
	return out, nil
}

func dedupe(ls orb.LineString) orb.LineString {
	if len(ls) == 0 {
		return ls
	}
	out := orb.LineString{ls[0]}
	for _, pt := range ls[1:] {
		if pt != out[len(out)-1] {
			out = append(out, pt)
		}
	}
	return out
}

func dedupeRing(r orb.Ring) orb.Ring {
	return orb.Ring(dedupe(orb.LineString(r)))
}

func closeRing(r orb.Ring) orb.Ring {
	if len(r) == 0 {
		return r
	}
	if r[0] != r[len(r)-1] {
		r = append(r, r[0])
	}
	return r
}
