package main

import (
	"encoding/binary"
	"fmt"
)

const (
	// zoom level at which all fixed geometry coordinates are stored
	zInternal = 20

	// zoom level at which the features partition is keyed
	zIndexDefault = 10

	// deepest zoom level a feature can be anchored at
	maxZoomLevel = 20

	// sentinel for an unset min zoom (largest one-byte svarint value)
	invalidZoomLevel = 0x3F

	// MVT tile extent; one tile spans this many fixed units at its own zoom
	tileExtent = 4096
)

// Tile identifies a slippy-map tile in the XYZ scheme.
type Tile struct {
	X uint32
	Y uint32
	Z uint32
}

func (t Tile) Valid() bool {
	return t.Z <= maxZoomLevel && t.X < 1<<t.Z && t.Y < 1<<t.Z
}

func (t Tile) Parent() Tile {
	return Tile{X: t.X / 2, Y: t.Y / 2, Z: t.Z - 1}
}

// Children returns the four direct children ordered by quad position.
func (t Tile) Children() [4]Tile {
	return [4]Tile{
		{X: t.X * 2, Y: t.Y * 2, Z: t.Z + 1},
		{X: t.X*2 + 1, Y: t.Y * 2, Z: t.Z + 1},
		{X: t.X * 2, Y: t.Y*2 + 1, Z: t.Z + 1},
		{X: t.X*2 + 1, Y: t.Y*2 + 1, Z: t.Z + 1},
	}
}

// QuadPos returns the tile's position within its parent:
// 0 = north-west, 1 = north-east, 2 = south-west, 3 = south-east.
func (t Tile) QuadPos() uint8 {
	return uint8((t.Y&1)<<1 | t.X&1)
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// spec returns the fixed-coordinate bounds of the tile.
func (t Tile) spec() tileSpec {
	span := int64(tileExtent) << (zInternal - t.Z)
	base := fixedBox{
		MinX: int64(t.X) * span,
		MinY: int64(t.Y) * span,
		MaxX: int64(t.X+1)*span - 1,
		MaxY: int64(t.Y+1)*span - 1,
	}

	// clip slightly beyond the tile so strokes crossing the border
	// still render correctly in both neighbours (128/4096 of a tile)
	overdraw := span >> 5
	draw := fixedBox{
		MinX: base.MinX - overdraw,
		MinY: base.MinY - overdraw,
		MaxX: base.MaxX + overdraw,
		MaxY: base.MaxY + overdraw,
	}

	return tileSpec{tile: t, insertBounds: base, drawBounds: draw}
}

type tileSpec struct {
	tile         Tile
	insertBounds fixedBox
	drawBounds   fixedBox
}

// featureKeyLen is the width of a features partition key: packed (y, x)
// coordinates of a zIndexDefault tile. Row-major ordering makes the
// per-row range scan in queryFeatures work.
const featureKeyLen = 8

func coordsToFeatureKey(x, y uint32) []byte {
	k := make([]byte, featureKeyLen)
	binary.BigEndian.PutUint64(k, uint64(y)<<32|uint64(x))
	return k
}

func featureKey(t Tile) []byte {
	if t.Z != zIndexDefault {
		panic(fmt.Sprintf("feature key for tile %v outside index zoom", t))
	}
	return coordsToFeatureKey(t.X, t.Y)
}

func featureKeyToTile(k []byte) (Tile, error) {
	if len(k) != featureKeyLen {
		return Tile{}, fmt.Errorf("bad feature key length %d", len(k))
	}
	v := binary.BigEndian.Uint64(k)
	t := Tile{X: uint32(v), Y: uint32(v >> 32), Z: zIndexDefault}
	if !t.Valid() {
		return Tile{}, fmt.Errorf("feature key decodes to invalid tile %v", t)
	}
	return t, nil
}

// tileKeyLen is the width of a tiles partition key: one zoom byte followed
// by packed (y, x) coordinates. Keys group by zoom, then row-major.
const tileKeyLen = 9

func tileKey(t Tile) []byte {
	k := make([]byte, tileKeyLen)
	k[0] = byte(t.Z)
	binary.BigEndian.PutUint64(k[1:], uint64(t.Y)<<32|uint64(t.X))
	return k
}

func tileKeyToTile(k []byte) (Tile, error) {
	if len(k) != tileKeyLen {
		return Tile{}, fmt.Errorf("bad tile key length %d", len(k))
	}
	v := binary.BigEndian.Uint64(k[1:])
	t := Tile{X: uint32(v), Y: uint32(v >> 32), Z: uint32(k[0])}
	if !t.Valid() {
		return Tile{}, fmt.Errorf("tile key decodes to invalid tile %v", t)
	}
	return t, nil
}

// tileRange is an inclusive axis-aligned range of tiles at one zoom level.
type tileRange struct {
	MinX, MinY uint32
	MaxX, MaxY uint32
	Z          uint32
}

func (r tileRange) empty() bool {
	return r.MinX > r.MaxX || r.MinY > r.MaxY
}

func (r tileRange) count() uint64 {
	if r.empty() {
		return 0
	}
	return uint64(r.MaxX-r.MinX+1) * uint64(r.MaxY-r.MinY+1)
}

// onZ projects the range to another zoom level, covering the same area.
func (r tileRange) onZ(z uint32) tileRange {
	if r.empty() {
		return tileRange{MinX: 1, MaxX: 0, Z: z}
	}
	if z < r.Z {
		d := r.Z - z
		return tileRange{
			MinX: r.MinX >> d, MinY: r.MinY >> d,
			MaxX: r.MaxX >> d, MaxY: r.MaxY >> d,
			Z: z,
		}
	}
	d := z - r.Z
	return tileRange{
		MinX: r.MinX << d, MinY: r.MinY << d,
		MaxX: r.MaxX<<d | (1<<d - 1), MaxY: r.MaxY<<d | (1<<d - 1),
		Z: z,
	}
}

// boundsOnZ returns the range of z-level tiles covered by t.
func (t Tile) boundsOnZ(z uint32) tileRange {
	return tileRange{MinX: t.X, MinY: t.Y, MaxX: t.X, MaxY: t.Y, Z: t.Z}.onZ(z)
}

// tileRangeIterator walks a tileRange row-major.
type tileRangeIterator struct {
	r    tileRange
	x, y uint32
	done bool
}

func newTileRangeIterator(r tileRange) *tileRangeIterator {
	return &tileRangeIterator{r: r, x: r.MinX, y: r.MinY, done: r.empty()}
}

func (it *tileRangeIterator) next() (Tile, bool) {
	if it.done {
		return Tile{}, false
	}
	t := Tile{X: it.x, Y: it.y, Z: it.r.Z}
	if it.x == it.r.MaxX {
		it.x = it.r.MinX
		if it.y == it.r.MaxY {
			it.done = true
		} else {
			it.y++
		}
	} else {
		it.x++
	}
	return t, true
}
