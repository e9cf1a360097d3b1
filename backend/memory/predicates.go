package memory

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/terravec/spatialfilter/backend"
)

const eps = 1e-12

// relate evaluates one topological predicate between a target feature
// geometry and the prepared source geometry. Geometries are decomposed into
// point, line and polygon parts and the predicate is composed from planar
// primitives over those parts.
func relate(pred backend.Predicate, a, b orb.Geometry) bool {
	switch pred {
	case backend.PredIntersects:
		return intersects(decompose(a), decompose(b))
	case backend.PredDisjoint:
		return !intersects(decompose(a), decompose(b))
	case backend.PredEquals:
		return orb.Equal(a, b)
	case backend.PredWithin:
		return within(decompose(a), decompose(b))
	case backend.PredContains:
		return within(decompose(b), decompose(a))
	case backend.PredTouches:
		pa, pb := decompose(a), decompose(b)
		return intersects(pa, pb) && !interiorsIntersect(pa, pb)
	case backend.PredCrosses:
		return crosses(decompose(a), decompose(b))
	case backend.PredOverlaps:
		return overlaps(decompose(a), decompose(b))
	}
	return false
}

// parts holds a geometry decomposed by dimension.
type parts struct {
	points []orb.Point
	lines  []orb.LineString
	polys  []orb.Polygon
}

func (p parts) dim() int {
	switch {
	case len(p.polys) > 0:
		return 2
	case len(p.lines) > 0:
		return 1
	case len(p.points) > 0:
		return 0
	}
	return -1
}

func (p parts) empty() bool { return p.dim() < 0 }

func decompose(g orb.Geometry) parts {
	var p parts
	collect(g, &p)
	return p
}

func collect(g orb.Geometry, p *parts) {
	switch v := g.(type) {
	case orb.Point:
		p.points = append(p.points, v)
	case orb.MultiPoint:
		p.points = append(p.points, v...)
	case orb.LineString:
		if len(v) > 1 {
			p.lines = append(p.lines, v)
		}
	case orb.MultiLineString:
		for _, ls := range v {
			if len(ls) > 1 {
				p.lines = append(p.lines, ls)
			}
		}
	case orb.Ring:
		if len(v) > 2 {
			p.polys = append(p.polys, orb.Polygon{v})
		}
	case orb.Polygon:
		if len(v) > 0 && len(v[0]) > 2 {
			p.polys = append(p.polys, v)
		}
	case orb.MultiPolygon:
		for _, poly := range v {
			if len(poly) > 0 && len(poly[0]) > 2 {
				p.polys = append(p.polys, poly)
			}
		}
	case orb.Collection:
		for _, sub := range v {
			collect(sub, p)
		}
	case orb.Bound:
		collect(v.ToPolygon(), p)
	}
}

// --- segment primitives ---

func crossProduct(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// orient returns the turn sign of o->a->b: 1 counter-clockwise, -1 clockwise,
// 0 collinear within tolerance.
func orient(o, a, b orb.Point) int {
	c := crossProduct(o, a, b)
	switch {
	case c > eps:
		return 1
	case c < -eps:
		return -1
	}
	return 0
}

func ptEq(p, q orb.Point) bool {
	return math.Abs(p[0]-q[0]) <= eps && math.Abs(p[1]-q[1]) <= eps
}

// onSegment reports p lies on segment ab, endpoints included.
func onSegment(p, a, b orb.Point) bool {
	if orient(a, b, p) != 0 {
		return false
	}
	return p[0] >= math.Min(a[0], b[0])-eps && p[0] <= math.Max(a[0], b[0])+eps &&
		p[1] >= math.Min(a[1], b[1])-eps && p[1] <= math.Max(a[1], b[1])+eps
}

// segmentsIntersect reports segments a1a2 and b1b2 share at least one point,
// endpoint contact included.
func segmentsIntersect(a1, a2, b1, b2 orb.Point) bool {
	d1 := orient(b1, b2, a1)
	d2 := orient(b1, b2, a2)
	d3 := orient(a1, a2, b1)
	d4 := orient(a1, a2, b2)
	if d1 != d2 && d3 != d4 {
		return true
	}
	return onSegment(b1, a1, a2) || onSegment(b2, a1, a2) ||
		onSegment(a1, b1, b2) || onSegment(a2, b1, b2)
}

// properCross reports the segments cross at a single point strictly interior
// to both.
func properCross(a1, a2, b1, b2 orb.Point) bool {
	d1 := orient(b1, b2, a1)
	d2 := orient(b1, b2, a2)
	d3 := orient(a1, a2, b1)
	d4 := orient(a1, a2, b2)
	return d1*d2 < 0 && d3*d4 < 0
}

// collinearOverlap reports the segments are collinear and share a portion of
// positive length.
func collinearOverlap(a1, a2, b1, b2 orb.Point) bool {
	if orient(a1, a2, b1) != 0 || orient(a1, a2, b2) != 0 {
		return false
	}
	ax := 0
	if math.Abs(a2[1]-a1[1]) > math.Abs(a2[0]-a1[0]) {
		ax = 1
	}
	lo1, hi1 := math.Min(a1[ax], a2[ax]), math.Max(a1[ax], a2[ax])
	lo2, hi2 := math.Min(b1[ax], b2[ax]), math.Max(b1[ax], b2[ax])
	return math.Min(hi1, hi2)-math.Max(lo1, lo2) > eps
}

// --- point-in primitives ---

func pointOnLine(p orb.Point, ls orb.LineString) bool {
	for i := 0; i < len(ls)-1; i++ {
		if onSegment(p, ls[i], ls[i+1]) {
			return true
		}
	}
	return false
}

// pointOnLineInterior reports p lies on ls away from the line endpoints.
func pointOnLineInterior(p orb.Point, ls orb.LineString) bool {
	if !pointOnLine(p, ls) {
		return false
	}
	return !ptEq(p, ls[0]) && !ptEq(p, ls[len(ls)-1])
}

// pointInRing ray-casts p against the ring. Boundary contact is reported
// separately and never counted as inside.
func pointInRing(p orb.Point, r orb.Ring) (inside, boundary bool) {
	n := len(r)
	if n < 3 {
		return false, false
	}
	for i := 0; i < n-1; i++ {
		if onSegment(p, r[i], r[i+1]) {
			return false, true
		}
	}
	if !ptEq(r[0], r[n-1]) && onSegment(p, r[n-1], r[0]) {
		return false, true
	}
	in := false
	j := n - 1
	for i := 0; i < n; i++ {
		if (r[i][1] > p[1]) != (r[j][1] > p[1]) {
			x := r[j][0] + (p[1]-r[j][1])/(r[i][1]-r[j][1])*(r[i][0]-r[j][0])
			if p[0] < x {
				in = !in
			}
		}
		j = i
	}
	return in, false
}

func pointInPolygon(p orb.Point, poly orb.Polygon) (inside, boundary bool) {
	in, onb := pointInRing(p, poly[0])
	if onb {
		return false, true
	}
	if !in {
		return false, false
	}
	for _, hole := range poly[1:] {
		hin, hb := pointInRing(p, hole)
		if hb {
			return false, true
		}
		if hin {
			return false, false
		}
	}
	return true, false
}

// interiorPoint returns a point strictly inside the polygon when one can be
// found, falling back to the first vertex.
func interiorPoint(poly orb.Polygon) orb.Point {
	c, _ := planar.CentroidArea(poly)
	if in, _ := pointInPolygon(c, poly); in {
		return c
	}
	ring := poly[0]
	for i := 0; i < len(ring)-2; i++ {
		mid := orb.Point{(ring[i][0] + ring[i+2][0]) / 2, (ring[i][1] + ring[i+2][1]) / 2}
		if in, _ := pointInPolygon(mid, poly); in {
			return mid
		}
	}
	return ring[0]
}

// --- pairwise part predicates ---

func lineIntersectsLine(a, b orb.LineString) bool {
	for i := 0; i < len(a)-1; i++ {
		for j := 0; j < len(b)-1; j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

func linesProperCross(a, b orb.LineString) bool {
	for i := 0; i < len(a)-1; i++ {
		for j := 0; j < len(b)-1; j++ {
			if properCross(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

func linesOverlap(a, b orb.LineString) bool {
	for i := 0; i < len(a)-1; i++ {
		for j := 0; j < len(b)-1; j++ {
			if collinearOverlap(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

func lineIntersectsPolygon(ls orb.LineString, poly orb.Polygon) bool {
	for _, p := range ls {
		if in, onb := pointInPolygon(p, poly); in || onb {
			return true
		}
	}
	for _, ring := range poly {
		if lineIntersectsLine(ls, orb.LineString(ring)) {
			return true
		}
	}
	return false
}

// lineEntersPolygon reports some point of ls lies strictly inside poly.
// Vertices and segment midpoints are sampled in addition to proper boundary
// crossings.
func lineEntersPolygon(ls orb.LineString, poly orb.Polygon) bool {
	for _, p := range ls {
		if in, _ := pointInPolygon(p, poly); in {
			return true
		}
	}
	for i := 0; i < len(ls)-1; i++ {
		mid := orb.Point{(ls[i][0] + ls[i+1][0]) / 2, (ls[i][1] + ls[i+1][1]) / 2}
		if in, _ := pointInPolygon(mid, poly); in {
			return true
		}
	}
	for _, ring := range poly {
		if linesProperCross(ls, orb.LineString(ring)) {
			return true
		}
	}
	return false
}

func polygonsIntersect(a, b orb.Polygon) bool {
	for _, ring := range a {
		if lineIntersectsPolygon(orb.LineString(ring), b) {
			return true
		}
	}
	// b entirely inside a
	in, onb := pointInPolygon(b[0][0], a)
	return in || onb
}

func polygonInteriorsIntersect(a, b orb.Polygon) bool {
	for _, ring := range a {
		if lineEntersPolygon(orb.LineString(ring), b) {
			return true
		}
	}
	for _, ring := range b {
		if lineEntersPolygon(orb.LineString(ring), a) {
			return true
		}
	}
	if in, _ := pointInPolygon(interiorPoint(a), b); in {
		return true
	}
	if in, _ := pointInPolygon(interiorPoint(b), a); in {
		return true
	}
	return false
}

// --- composed predicates over decomposed parts ---

func anyPointHit(p orb.Point, g parts) bool {
	for _, q := range g.points {
		if ptEq(p, q) {
			return true
		}
	}
	for _, ls := range g.lines {
		if pointOnLine(p, ls) {
			return true
		}
	}
	for _, poly := range g.polys {
		if in, onb := pointInPolygon(p, poly); in || onb {
			return true
		}
	}
	return false
}

func intersects(a, b parts) bool {
	for _, p := range a.points {
		if anyPointHit(p, b) {
			return true
		}
	}
	for _, p := range b.points {
		if anyPointHit(p, a) {
			return true
		}
	}
	for _, la := range a.lines {
		for _, lb := range b.lines {
			if lineIntersectsLine(la, lb) {
				return true
			}
		}
		for _, pb := range b.polys {
			if lineIntersectsPolygon(la, pb) {
				return true
			}
		}
	}
	for _, lb := range b.lines {
		for _, pa := range a.polys {
			if lineIntersectsPolygon(lb, pa) {
				return true
			}
		}
	}
	for _, qa := range a.polys {
		for _, qb := range b.polys {
			if polygonsIntersect(qa, qb) {
				return true
			}
		}
	}
	return false
}

// pointCovered reports p lies in b, and whether it touches b's interior
// rather than only its boundary.
func pointCovered(p orb.Point, b parts) (covered, interior bool) {
	for _, poly := range b.polys {
		in, onb := pointInPolygon(p, poly)
		if in {
			return true, true
		}
		if onb {
			covered = true
		}
	}
	for _, ls := range b.lines {
		if pointOnLineInterior(p, ls) {
			return true, true
		}
		if pointOnLine(p, ls) {
			covered = true
		}
	}
	for _, q := range b.points {
		if ptEq(p, q) {
			return true, true
		}
	}
	return covered, false
}

func pointInteriorHit(p orb.Point, b parts) bool {
	for _, poly := range b.polys {
		if in, _ := pointInPolygon(p, poly); in {
			return true
		}
	}
	for _, ls := range b.lines {
		if pointOnLineInterior(p, ls) {
			return true
		}
	}
	for _, q := range b.points {
		if ptEq(p, q) {
			return true
		}
	}
	return false
}

// lineCovered samples line vertices and segment midpoints against b and
// rejects proper crossings of b's polygon boundaries.
func lineCovered(ls orb.LineString, b parts) (bool, bool) {
	strict := false
	check := func(p orb.Point) bool {
		cov, s := pointCovered(p, b)
		if s {
			strict = true
		}
		return cov
	}
	for _, p := range ls {
		if !check(p) {
			return false, false
		}
	}
	for i := 0; i < len(ls)-1; i++ {
		mid := orb.Point{(ls[i][0] + ls[i+1][0]) / 2, (ls[i][1] + ls[i+1][1]) / 2}
		if !check(mid) {
			return false, false
		}
	}
	for _, poly := range b.polys {
		for _, ring := range poly {
			if linesProperCross(ls, orb.LineString(ring)) {
				return false, false
			}
		}
	}
	return true, strict
}

func polygonCovered(poly orb.Polygon, b parts) (bool, bool) {
	if len(b.polys) == 0 {
		return false, false
	}
	for _, ring := range poly {
		if cov, _ := lineCovered(orb.LineString(ring), b); !cov {
			return false, false
		}
	}
	cov, strict := pointCovered(interiorPoint(poly), b)
	if !cov {
		return false, false
	}
	// a hole of b reaching into poly leaves part of poly uncovered
	for _, pb := range b.polys {
		for _, hole := range pb[1:] {
			if len(hole) == 0 {
				continue
			}
			if in, _ := pointInPolygon(hole[0], poly); in {
				return false, false
			}
		}
	}
	return true, strict
}

// within reports every part of a lies in b with at least one point of a in
// b's interior.
func within(a, b parts) bool {
	if a.empty() || b.empty() {
		return false
	}
	interior := false
	for _, p := range a.points {
		cov, strict := pointCovered(p, b)
		if !cov {
			return false
		}
		if strict {
			interior = true
		}
	}
	for _, ls := range a.lines {
		cov, strict := lineCovered(ls, b)
		if !cov {
			return false
		}
		if strict {
			interior = true
		}
	}
	for _, poly := range a.polys {
		cov, strict := polygonCovered(poly, b)
		if !cov {
			return false
		}
		if strict {
			interior = true
		}
	}
	return interior
}

func interiorsIntersect(a, b parts) bool {
	for _, p := range a.points {
		if pointInteriorHit(p, b) {
			return true
		}
	}
	for _, p := range b.points {
		if pointInteriorHit(p, a) {
			return true
		}
	}
	for _, la := range a.lines {
		for _, lb := range b.lines {
			if linesProperCross(la, lb) || linesOverlap(la, lb) {
				return true
			}
		}
		for _, pb := range b.polys {
			if lineEntersPolygon(la, pb) {
				return true
			}
		}
	}
	for _, lb := range b.lines {
		for _, pa := range a.polys {
			if lineEntersPolygon(lb, pa) {
				return true
			}
		}
	}
	for _, qa := range a.polys {
		for _, qb := range b.polys {
			if polygonInteriorsIntersect(qa, qb) {
				return true
			}
		}
	}
	return false
}

// splitBy reports low has points both strictly inside and strictly outside
// high.
func splitBy(low, high parts) bool {
	in, out := false, false
	visit := func(p orb.Point) {
		cov, strict := pointCovered(p, high)
		switch {
		case strict:
			in = true
		case !cov:
			out = true
		}
	}
	for _, p := range low.points {
		visit(p)
	}
	for _, ls := range low.lines {
		for _, p := range ls {
			visit(p)
		}
		for i := 0; i < len(ls)-1; i++ {
			visit(orb.Point{(ls[i][0] + ls[i+1][0]) / 2, (ls[i][1] + ls[i+1][1]) / 2})
		}
	}
	return in && out
}

func crosses(a, b parts) bool {
	da, db := a.dim(), b.dim()
	if da < 0 || db < 0 {
		return false
	}
	if da == 1 && db == 1 {
		for _, la := range a.lines {
			for _, lb := range b.lines {
				if linesProperCross(la, lb) {
					return true
				}
			}
		}
		return false
	}
	if da < db {
		return splitBy(a, b)
	}
	if db < da {
		return splitBy(b, a)
	}
	return false
}

func overlaps(a, b parts) bool {
	da, db := a.dim(), b.dim()
	if da != db || da < 0 {
		return false
	}
	switch da {
	case 0:
		shared, aOnly := pointSetRelation(a.points, b.points)
		_, bOnly := pointSetRelation(b.points, a.points)
		return shared && aOnly && bOnly
	case 1:
		ov := false
		for _, la := range a.lines {
			for _, lb := range b.lines {
				if linesOverlap(la, lb) {
					ov = true
				}
			}
		}
		return ov && !within(a, b) && !within(b, a)
	default:
		return interiorsIntersect(a, b) && !within(a, b) && !within(b, a)
	}
}

// pointSetRelation reports whether ps shares a point with qs and whether ps
// has a point absent from qs.
func pointSetRelation(ps, qs []orb.Point) (shared, exclusive bool) {
	for _, p := range ps {
		hit := false
		for _, q := range qs {
			if ptEq(p, q) {
				hit = true
				break
			}
		}
		if hit {
			shared = true
		} else {
			exclusive = true
		}
	}
	return shared, exclusive
}
