package memory

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/terravec/spatialfilter/backend"
)

func square(minX, minY, maxX, maxY float64) orb.Polygon {
	return orb.Polygon{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}}
}

func TestRelate(t *testing.T) {
	sq := square(0, 0, 10, 10)

	cases := []struct {
		name string
		pred backend.Predicate
		a, b orb.Geometry
		want bool
	}{
		{"point inside intersects", backend.PredIntersects, orb.Point{5, 5}, sq, true},
		{"point outside intersects", backend.PredIntersects, orb.Point{50, 50}, sq, false},
		{"point on boundary intersects", backend.PredIntersects, orb.Point{0, 5}, sq, true},
		{"crossing line intersects", backend.PredIntersects, orb.LineString{{-5, 5}, {15, 5}}, sq, true},
		{"far line intersects", backend.PredIntersects, orb.LineString{{50, 50}, {60, 60}}, sq, false},
		{"overlapping squares intersect", backend.PredIntersects, square(5, 5, 15, 15), sq, true},
		{"contained square intersects", backend.PredIntersects, square(2, 2, 8, 8), sq, true},

		{"point outside disjoint", backend.PredDisjoint, orb.Point{50, 50}, sq, true},
		{"point inside disjoint", backend.PredDisjoint, orb.Point{5, 5}, sq, false},

		{"point inside within", backend.PredWithin, orb.Point{5, 5}, sq, true},
		{"point on boundary within", backend.PredWithin, orb.Point{0, 5}, sq, false},
		{"line inside within", backend.PredWithin, orb.LineString{{2, 2}, {8, 8}}, sq, true},
		{"crossing line within", backend.PredWithin, orb.LineString{{-5, 5}, {15, 5}}, sq, false},
		{"nested square within", backend.PredWithin, square(2, 2, 8, 8), sq, true},
		{"overlapping square within", backend.PredWithin, square(5, 5, 15, 15), sq, false},

		{"square contains point", backend.PredContains, sq, orb.Point{5, 5}, true},
		{"square contains nested square", backend.PredContains, sq, square(2, 2, 8, 8), true},
		{"square contains outside point", backend.PredContains, sq, orb.Point{50, 50}, false},

		{"boundary point touches", backend.PredTouches, orb.Point{0, 5}, sq, true},
		{"interior point touches", backend.PredTouches, orb.Point{5, 5}, sq, false},
		{"edge line touches", backend.PredTouches, orb.LineString{{0, 0}, {10, 0}}, sq, true},
		{"adjacent squares touch", backend.PredTouches, square(10, 0, 20, 10), sq, true},
		{"overlapping squares touch", backend.PredTouches, square(5, 5, 15, 15), sq, false},

		{"line crosses polygon", backend.PredCrosses, orb.LineString{{-5, 5}, {15, 5}}, sq, true},
		{"inside line crosses", backend.PredCrosses, orb.LineString{{2, 2}, {8, 8}}, sq, false},
		{"crossing lines cross", backend.PredCrosses, orb.LineString{{0, 0}, {10, 10}}, orb.LineString{{0, 10}, {10, 0}}, true},
		{"parallel lines cross", backend.PredCrosses, orb.LineString{{0, 0}, {10, 0}}, orb.LineString{{0, 5}, {10, 5}}, false},

		{"overlapping squares overlap", backend.PredOverlaps, square(5, 5, 15, 15), sq, true},
		{"disjoint squares overlap", backend.PredOverlaps, square(20, 20, 30, 30), sq, false},
		{"equal squares overlap", backend.PredOverlaps, square(0, 0, 10, 10), sq, false},
		{"nested squares overlap", backend.PredOverlaps, square(2, 2, 8, 8), sq, false},
		{"collinear overlapping lines overlap", backend.PredOverlaps, orb.LineString{{0, 0}, {10, 0}}, orb.LineString{{5, 0}, {15, 0}}, true},
		{"crossing lines overlap", backend.PredOverlaps, orb.LineString{{0, 0}, {10, 10}}, orb.LineString{{0, 10}, {10, 0}}, false},

		{"equal polygons equal", backend.PredEquals, square(0, 0, 10, 10), sq, true},
		{"different polygons equal", backend.PredEquals, square(0, 0, 5, 5), sq, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := relate(tc.pred, tc.a, tc.b); got != tc.want {
				t.Errorf("relate(%s) = %v, want %v", tc.pred, got, tc.want)
			}
		})
	}
}

func TestRelateHandlesHoles(t *testing.T) {
	donut := orb.Polygon{
		square(0, 0, 10, 10)[0],
		{{3, 3}, {3, 7}, {7, 7}, {7, 3}, {3, 3}}, // clockwise hole
	}
	if relate(backend.PredIntersects, orb.Point{5, 5}, donut) {
		t.Error("point in hole should not intersect")
	}
	if !relate(backend.PredIntersects, orb.Point{1, 1}, donut) {
		t.Error("point in shell should intersect")
	}
	if relate(backend.PredWithin, square(4, 4, 6, 6), donut) {
		t.Error("square inside the hole is not within the donut")
	}
}

func TestRelateCollections(t *testing.T) {
	coll := orb.Collection{square(0, 0, 10, 10), orb.Point{50, 50}}
	if !relate(backend.PredIntersects, orb.Point{50, 50}, coll) {
		t.Error("point matching a collection member should intersect")
	}
	if !relate(backend.PredIntersects, orb.Point{5, 5}, coll) {
		t.Error("point inside a collection polygon should intersect")
	}
}
