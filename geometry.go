package main

import "math"

// Fixed coordinates are integers at zoom level zInternal; the whole world
// spans [0, 2^32) on each axis and one tile at zoom z spans
// tileExtent << (zInternal - z) units.

const invalidBoxHint = int64(math.MaxInt64)

// FixedGeometry is the geometry sum type: FixedNull, FixedPoint,
// FixedPolyline or FixedPolygon. Algorithms switch exhaustively over it.
type FixedGeometry interface {
	fixedGeometry()
}

type FixedNull struct{}

type FixedPoint struct {
	X int64
	Y int64
}

// FixedPolyline is a set of independent line strings.
type FixedPolyline struct {
	Lines [][]FixedPoint
}

// FixedRing is a closed ring stored without the repeated closing point.
type FixedRing []FixedPoint

// FixedPoly is one outer ring with its holes.
type FixedPoly struct {
	Outer  FixedRing
	Inners []FixedRing
}

// FixedPolygon is a multi-polygon.
type FixedPolygon struct {
	Polygons []FixedPoly
}

func (FixedNull) fixedGeometry()     {}
func (FixedPoint) fixedGeometry()    {}
func (FixedPolyline) fixedGeometry() {}
func (FixedPolygon) fixedGeometry()  {}

type fixedBox struct {
	MinX, MinY int64
	MaxX, MaxY int64
}

// emptyBox returns the sentinel box (min > max) that fails any overlap test.
func emptyBox() fixedBox {
	return fixedBox{
		MinX: math.MaxInt64, MinY: math.MaxInt64,
		MaxX: math.MinInt64, MaxY: math.MinInt64,
	}
}

func (b fixedBox) valid() bool {
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

func (b fixedBox) overlaps(o fixedBox) bool {
	return b.MinX <= o.MaxX && o.MinX <= b.MaxX &&
		b.MinY <= o.MaxY && o.MinY <= b.MaxY
}

func (b fixedBox) contains(x, y int64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

func (b *fixedBox) extend(x, y int64) {
	b.MinX = min(b.MinX, x)
	b.MinY = min(b.MinY, y)
	b.MaxX = max(b.MaxX, x)
	b.MaxY = max(b.MaxY, y)
}

func boundingBox(g FixedGeometry) fixedBox {
	box := emptyBox()
	switch geom := g.(type) {
	case FixedNull:
	case FixedPoint:
		box.extend(geom.X, geom.Y)
	case FixedPolyline:
		for _, line := range geom.Lines {
			for _, p := range line {
				box.extend(p.X, p.Y)
			}
		}
	case FixedPolygon:
		for _, poly := range geom.Polygons {
			for _, p := range poly.Outer {
				box.extend(p.X, p.Y)
			}
		}
	}
	return box
}

// shift maps geometry from the internal resolution into the pixel grid of
// zoom level z by dropping the excess precision bits.
func shift(g FixedGeometry, z uint32) FixedGeometry {
	delta := zInternal - z
	if delta == 0 {
		return g
	}
	switch geom := g.(type) {
	case FixedNull:
		return geom
	case FixedPoint:
		return FixedPoint{X: geom.X >> delta, Y: geom.Y >> delta}
	case FixedPolyline:
		lines := make([][]FixedPoint, len(geom.Lines))
		for i, line := range geom.Lines {
			lines[i] = shiftPoints(line, delta)
		}
		return FixedPolyline{Lines: lines}
	case FixedPolygon:
		polys := make([]FixedPoly, len(geom.Polygons))
		for i, poly := range geom.Polygons {
			polys[i].Outer = shiftPoints(poly.Outer, delta)
			polys[i].Inners = make([]FixedRing, len(poly.Inners))
			for j, inner := range poly.Inners {
				polys[i].Inners[j] = shiftPoints(inner, delta)
			}
		}
		return FixedPolygon{Polygons: polys}
	}
	return FixedNull{}
}

func shiftPoints(pts []FixedPoint, delta uint32) []FixedPoint {
	out := make([]FixedPoint, len(pts))
	for i, p := range pts {
		out[i] = FixedPoint{X: p.X >> delta, Y: p.Y >> delta}
	}
	return out
}

// vertexCount counts the coordinate pairs of a geometry.
func vertexCount(g FixedGeometry) int {
	switch geom := g.(type) {
	case FixedPoint:
		return 1
	case FixedPolyline:
		n := 0
		for _, line := range geom.Lines {
			n += len(line)
		}
		return n
	case FixedPolygon:
		n := 0
		for _, poly := range geom.Polygons {
			n += len(poly.Outer)
			for _, inner := range poly.Inners {
				n += len(inner)
			}
		}
		return n
	}
	return 0
}
