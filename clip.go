package main

// clip restricts geometry to rect. Points are kept when inside (borders
// inclusive), polylines are cut into sub-lines where they leave and
// re-enter, polygon rings are clipped Sutherland-Hodgman style. A geometry
// with nothing left inside collapses to FixedNull.
func clip(g FixedGeometry, rect fixedBox) FixedGeometry {
	switch geom := g.(type) {
	case FixedNull:
		return geom
	case FixedPoint:
		if rect.contains(geom.X, geom.Y) {
			return geom
		}
		return FixedNull{}
	case FixedPolyline:
		return clipPolyline(geom, rect)
	case FixedPolygon:
		return clipPolygon(geom, rect)
	}
	return FixedNull{}
}

func clipPolyline(geom FixedPolyline, rect fixedBox) FixedGeometry {
	var lines [][]FixedPoint
	for _, line := range geom.Lines {
		var current []FixedPoint
		for i := 0; i+1 < len(line); i++ {
			a, b, ok := clipSegment(line[i], line[i+1], rect)
			if !ok {
				if len(current) >= 2 {
					lines = append(lines, current)
				}
				current = nil
				continue
			}
			if len(current) == 0 || current[len(current)-1] != a {
				if len(current) >= 2 {
					lines = append(lines, current)
				}
				current = []FixedPoint{a}
			}
			current = append(current, b)
		}
		if len(current) >= 2 {
			lines = append(lines, current)
		}
	}
	if len(lines) == 0 {
		return FixedNull{}
	}
	return FixedPolyline{Lines: lines}
}

type outcode uint8

const (
	ocLeft outcode = 1 << iota
	ocRight
	ocBottom
	ocTop
)

func computeOutcode(p FixedPoint, rect fixedBox) outcode {
	var oc outcode
	if p.X < rect.MinX {
		oc |= ocLeft
	} else if p.X > rect.MaxX {
		oc |= ocRight
	}
	if p.Y < rect.MinY {
		oc |= ocBottom
	} else if p.Y > rect.MaxY {
		oc |= ocTop
	}
	return oc
}

// clipSegment is Cohen-Sutherland on one segment; returns the clipped
// endpoints, or ok == false if the segment misses the rect entirely.
func clipSegment(a, b FixedPoint, rect fixedBox) (FixedPoint, FixedPoint, bool) {
	ocA := computeOutcode(a, rect)
	ocB := computeOutcode(b, rect)

	for {
		if ocA|ocB == 0 {
			return a, b, true
		}
		if ocA&ocB != 0 {
			return FixedPoint{}, FixedPoint{}, false
		}

		oc := ocA
		if oc == 0 {
			oc = ocB
		}

		var p FixedPoint
		switch {
		case oc&ocTop != 0:
			p = FixedPoint{X: interpolate(a.X, a.Y, b.X, b.Y, rect.MaxY), Y: rect.MaxY}
		case oc&ocBottom != 0:
			p = FixedPoint{X: interpolate(a.X, a.Y, b.X, b.Y, rect.MinY), Y: rect.MinY}
		case oc&ocRight != 0:
			p = FixedPoint{X: rect.MaxX, Y: interpolate(a.Y, a.X, b.Y, b.X, rect.MaxX)}
		default:
			p = FixedPoint{X: rect.MinX, Y: interpolate(a.Y, a.X, b.Y, b.X, rect.MinX)}
		}

		if oc == ocA {
			a = p
			ocA = computeOutcode(a, rect)
		} else {
			b = p
			ocB = computeOutcode(b, rect)
		}
	}
}

// interpolate solves u at v == bound for the segment (u1,v1)-(u2,v2).
// float64 keeps the 2^32 coordinate range without the overflow an int64
// cross product would hit.
func interpolate(u1, v1, u2, v2, bound int64) int64 {
	t := float64(bound-v1) / float64(v2-v1)
	u := float64(u1) + t*float64(u2-u1)
	return int64(u + 0.5)
}

func clipPolygon(geom FixedPolygon, rect fixedBox) FixedGeometry {
	var polys []FixedPoly
	for _, poly := range geom.Polygons {
		outer := clipRing(poly.Outer, rect)
		if len(outer) < 3 {
			continue
		}
		clipped := FixedPoly{Outer: outer}
		for _, inner := range poly.Inners {
			if ring := clipRing(inner, rect); len(ring) >= 3 {
				clipped.Inners = append(clipped.Inners, ring)
			}
		}
		polys = append(polys, clipped)
	}
	if len(polys) == 0 {
		return FixedNull{}
	}
	return FixedPolygon{Polygons: polys}
}

// clipRing runs Sutherland-Hodgman against the four rect edges.
func clipRing(ring FixedRing, rect fixedBox) FixedRing {
	out := ring
	for edge := 0; edge < 4 && len(out) >= 3; edge++ {
		out = clipRingEdge(out, rect, edge)
	}
	out = dropRepeatedPoints(out)
	if len(out) < 3 {
		return nil
	}
	return out
}

func clipRingEdge(ring FixedRing, rect fixedBox, edge int) FixedRing {
	inside := func(p FixedPoint) bool {
		switch edge {
		case 0:
			return p.X >= rect.MinX
		case 1:
			return p.X <= rect.MaxX
		case 2:
			return p.Y >= rect.MinY
		default:
			return p.Y <= rect.MaxY
		}
	}
	cross := func(a, b FixedPoint) FixedPoint {
		switch edge {
		case 0:
			return FixedPoint{X: rect.MinX, Y: interpolate(a.Y, a.X, b.Y, b.X, rect.MinX)}
		case 1:
			return FixedPoint{X: rect.MaxX, Y: interpolate(a.Y, a.X, b.Y, b.X, rect.MaxX)}
		case 2:
			return FixedPoint{X: interpolate(a.X, a.Y, b.X, b.Y, rect.MinY), Y: rect.MinY}
		default:
			return FixedPoint{X: interpolate(a.X, a.Y, b.X, b.Y, rect.MaxY), Y: rect.MaxY}
		}
	}

	var out FixedRing
	for i := range ring {
		curr := ring[i]
		prev := ring[(i+len(ring)-1)%len(ring)]
		switch {
		case inside(curr) && inside(prev):
			out = append(out, curr)
		case inside(curr):
			out = append(out, cross(prev, curr), curr)
		case inside(prev):
			out = append(out, cross(prev, curr))
		}
	}
	return out
}

func dropRepeatedPoints(ring FixedRing) FixedRing {
	if len(ring) == 0 {
		return ring
	}
	out := ring[:1]
	for _, p := range ring[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	for len(out) > 1 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	return out
}
