package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// Buffer dilates (or erodes, for negative distances on polygons) a geometry
// by distance, approximating round caps with segments vertices per quarter
// circle. The result is a cover, not a dissolved union: overlapping pieces
// of a multi geometry stay separate polygons, which is equivalent for
// predicate evaluation.
//
// empty is true when the operation collapses the geometry entirely, for
// example a negative distance applied to points or lines.
func Buffer(g orb.Geometry, distance float64, segments int) (_ orb.Geometry, empty bool) {
	if distance == 0 {
		return g, false
	}
	if segments < 1 {
		segments = 8
	}

	switch v := g.(type) {
	case orb.Point:
		if distance < 0 {
			return nil, true
		}
		return circle(v, distance, segments), false

	case orb.MultiPoint:
		if distance < 0 {
			return nil, true
		}
		out := make(orb.MultiPolygon, 0, len(v))
		for _, pt := range v {
			out = append(out, circle(pt, distance, segments))
		}
		return out, false

	case orb.LineString:
		if distance < 0 {
			return nil, true
		}
		return lineCover(v, distance, segments), false

	case orb.MultiLineString:
		if distance < 0 {
			return nil, true
		}
		var out orb.MultiPolygon
		for _, ls := range v {
			out = append(out, lineCover(ls, distance, segments)...)
		}
		return out, false

	case orb.Ring:
		return Buffer(orb.Polygon{v}, distance, segments)

	case orb.Polygon:
		off, collapsed := offsetPolygon(v, distance)
		if collapsed {
			return nil, true
		}
		return off, false

	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(v))
		for _, poly := range v {
			off, collapsed := offsetPolygon(poly, distance)
			if collapsed {
				continue
			}
			out = append(out, off)
		}
		if len(out) == 0 {
			return nil, true
		}
		return out, false

	case orb.Bound:
		return Buffer(v.ToPolygon(), distance, segments)

	case orb.Collection:
		out := make(orb.Collection, 0, len(v))
		for _, child := range v {
			buffered, childEmpty := Buffer(child, distance, segments)
			if childEmpty {
				continue
			}
			out = append(out, buffered)
		}
		if len(out) == 0 {
			return nil, true
		}
		if len(out) == 1 {
			return out[0], false
		}
		return out, false

	default:
		return g, false
	}
}

// circle approximates a disc around center.
func circle(center orb.Point, radius float64, segments int) orb.Polygon {
	n := segments * 4
	ring := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		ring = append(ring, orb.Point{
			center[0] + radius*math.Cos(angle),
			center[1] + radius*math.Sin(angle),
		})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// lineCover covers a line with per-segment quads plus vertex discs. The
// pieces overlap at joints, which is fine for a cover.
func lineCover(ls orb.LineString, distance float64, segments int) orb.MultiPolygon {
	var out orb.MultiPolygon
	for i := 0; i+1 < len(ls); i++ {
		a, b := ls[i], ls[i+1]
		d := unit(orb.Point{b[0] - a[0], b[1] - a[1]})
		if d[0] == 0 && d[1] == 0 {
			continue
		}
		n := orb.Point{d[1], -d[0]}
		quad := orb.Ring{
			{a[0] + n[0]*distance, a[1] + n[1]*distance},
			{b[0] + n[0]*distance, b[1] + n[1]*distance},
			{b[0] - n[0]*distance, b[1] - n[1]*distance},
			{a[0] - n[0]*distance, a[1] - n[1]*distance},
		}
		quad = append(quad, quad[0])
		// Quad corners run clockwise with the right-hand normal; reverse to
		// keep exteriors counter-clockwise.
		quad.Reverse()
		out = append(out, orb.Polygon{quad})
	}
	for _, pt := range ls {
		out = append(out, circle(pt, distance, segments))
	}
	return out
}

// miterLimit caps the spike length at sharp vertices, in multiples of the
// offset distance.
const miterLimit = 4.0

// offsetPolygon offsets every ring of the polygon by distance along the
// vertex bisectors. Exterior rings are counter-clockwise and holes clockwise
// (MakeValid normalizes this), so the same right-hand normal grows the
// exterior and shrinks holes for a positive distance. Concave inputs at
// large distances can self-intersect; callers validate and fall back.
func offsetPolygon(p orb.Polygon, distance float64) (_ orb.Polygon, collapsed bool) {
	if len(p) == 0 {
		return nil, true
	}

	exterior := offsetRing(p[0], distance)
	if len(exterior) < 4 || exterior.Orientation() != orb.CCW {
		// Negative offset inverted or collapsed the exterior.
		return nil, true
	}

	out := orb.Polygon{exterior}
	for _, hole := range p[1:] {
		off := offsetRing(hole, distance)
		if len(off) < 4 || off.Orientation() != orb.CW {
			// Hole filled in by the offset; drop it.
			continue
		}
		out = append(out, off)
	}
	return out, false
}

// offsetRing offsets each vertex along the bisector of its adjacent edge
// normals. Degenerate vertices (coincident neighbors) are skipped.
func offsetRing(r orb.Ring, distance float64) orb.Ring {
	n := len(r)
	if n > 0 && r[0] == r[n-1] {
		n--
	}
	if n < 3 {
		return nil
	}

	out := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		prev := r[(i-1+n)%n]
		cur := r[i]
		next := r[(i+1)%n]

		d1 := unit(orb.Point{cur[0] - prev[0], cur[1] - prev[1]})
		d2 := unit(orb.Point{next[0] - cur[0], next[1] - cur[1]})
		if (d1[0] == 0 && d1[1] == 0) || (d2[0] == 0 && d2[1] == 0) {
			continue
		}

		n1 := orb.Point{d1[1], -d1[0]}
		n2 := orb.Point{d2[1], -d2[0]}
		bis := unit(orb.Point{n1[0] + n2[0], n1[1] + n2[1]})
		if bis[0] == 0 && bis[1] == 0 {
			// 180 degree turnaround; offset along the single normal.
			bis = n1
		}

		scale := distance
		if cosHalf := bis[0]*n1[0] + bis[1]*n1[1]; cosHalf > 1.0/miterLimit {
			scale = distance / cosHalf
		} else if cosHalf > 0 {
			scale = distance * miterLimit
		}

		out = append(out, orb.Point{cur[0] + bis[0]*scale, cur[1] + bis[1]*scale})
	}

	if len(out) < 3 {
		return nil
	}
	out = append(out, out[0])
	return out
}

// Valid reports whether a buffered geometry is usable: rings closed with at
// least four points, positive exterior area, and no self-intersections.
func Valid(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.Polygon:
		return validPolygon(v)
	case orb.MultiPolygon:
		for _, p := range v {
			if !validPolygon(p) {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, child := range v {
			if !Valid(child) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func validPolygon(p orb.Polygon) bool {
	if len(p) == 0 {
		return false
	}
	if planar.Area(p[0]) <= 0 {
		return false
	}
	for _, r := range p {
		if len(r) < 4 || r[0] != r[len(r)-1] {
			return false
		}
		if ringSelfIntersects(r) {
			return false
		}
	}
	return true
}

// ringSelfIntersects tests every non-adjacent segment pair for contact. In a
// simple ring non-adjacent segments are fully disjoint, so any contact counts:
// a proper crossing, an endpoint on the other segment's interior, or a
// collinear overlap. Inverted offset loops produce exactly the degenerate
// contacts, so proper crossings alone are not enough here. Quadratic, but
// offset rings are small after simplification.
func ringSelfIntersects(r orb.Ring) bool {
	n := len(r) - 1
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			// Skip adjacent segments, including the closing wrap.
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsContact(r[i], r[i+1], r[j], r[j+1]) {
				return true
			}
		}
	}
	return false
}

// segmentsContact reports any intersection of segments ab and cd, proper or
// degenerate. The collinear-overlap case is covered by the endpoint checks:
// overlapping collinear segments always have at least one endpoint inside the
// other segment.
func segmentsContact(a, b, c, d orb.Point) bool {
	o1 := orientation(a, b, c)
	o2 := orientation(a, b, d)
	o3 := orientation(c, d, a)
	o4 := orientation(c, d, b)
	if o1*o2 < 0 && o3*o4 < 0 {
		return true
	}
	return o1 == 0 && onSegment(a, b, c) ||
		o2 == 0 && onSegment(a, b, d) ||
		o3 == 0 && onSegment(c, d, a) ||
		o4 == 0 && onSegment(c, d, b)
}

// onSegment reports whether p, already known collinear with ab, lies within
// the segment's bounding box.
func onSegment(a, b, p orb.Point) bool {
	return math.Min(a[0], b[0]) <= p[0] && p[0] <= math.Max(a[0], b[0]) &&
		math.Min(a[1], b[1]) <= p[1] && p[1] <= math.Max(a[1], b[1])
}

// orientation returns the sign of the cross product (b-a) x (c-a).
func orientation(a, b, c orb.Point) int {
	v := (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func unit(p orb.Point) orb.Point {
	l := math.Hypot(p[0], p[1])
	if l == 0 {
		return orb.Point{}
	}
	return orb.Point{p[0] / l, p[1] / l}
}

// simplifyGeometry reduces vertex count with Douglas-Peucker at tolerance.
func simplifyGeometry(g orb.Geometry, tolerance float64) orb.Geometry {
	return simplify.DouglasPeucker(tolerance).Simplify(orb.Clone(g))
}
