package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Mapbox Vector Tile wire schema (spec v2.1)
const (
	mvtTileLayer = 3

	mvtLayerName     = 1
	mvtLayerFeatures = 2
	mvtLayerKeys     = 3
	mvtLayerValues   = 4
	mvtLayerExtent   = 5
	mvtLayerVersion  = 15

	mvtFeatureID       = 1
	mvtFeatureTags     = 2
	mvtFeatureType     = 3
	mvtFeatureGeometry = 4

	mvtValueString = 1

	mvtGeomPoint      = 1
	mvtGeomLineString = 2
	mvtGeomPolygon    = 3

	mvtCmdMoveTo    = 1
	mvtCmdLineTo    = 2
	mvtCmdClosePath = 7
)

// RenderCtx carries the immutable lookup tables shared by all tile
// builders: the shared-string coding vector and the layer name table.
type RenderCtx struct {
	CodingVec  []string
	LayerNames []string
}

func makeRenderCtx(db *Database) (*RenderCtx, error) {
	txn, err := db.BeginRead()
	if err != nil {
		return nil, err
	}
	defer txn.Discard()

	codingVec, err := loadCodingVec(txn)
	if err != nil {
		return nil, err
	}
	layerNames, err := loadLayerNames(txn)
	if err != nil {
		return nil, err
	}
	return &RenderCtx{CodingVec: codingVec, LayerNames: layerNames}, nil
}

// tileBuilder assembles one MVT payload, routing features into per-layer
// builders keyed by their "layer" metadata value.
type tileBuilder struct {
	spec     tileSpec
	builders map[string]*layerBuilder
}

func newTileBuilder(t Tile) *tileBuilder {
	return &tileBuilder{spec: t.spec(), builders: map[string]*layerBuilder{}}
}

func (b *tileBuilder) addFeature(f *Feature) {
	name, ok := f.Meta["layer"]
	if !ok {
		slog.Debug("skip feature without layer", "id", f.ID)
		return
	}
	lb, ok := b.builders[name]
	if !ok {
		lb = newLayerBuilder(name, b.spec)
		b.builders[name] = lb
	}
	lb.addFeature(f)
}

// finish returns the MVT bytes; an empty slice when no layer kept any
// geometry. Layers are emitted in name order so repeated prepares yield
// identical bytes.
func (b *tileBuilder) finish() []byte {
	names := make([]string, 0, len(b.builders))
	for name := range b.builders {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf []byte
	for _, name := range names {
		lb := b.builders[name]
		if !lb.hasGeometry {
			continue
		}
		buf = protowire.AppendTag(buf, mvtTileLayer, protowire.BytesType)
		buf = protowire.AppendBytes(buf, lb.finish())
	}
	return buf
}

type layerBuilder struct {
	name        string
	spec        tileSpec
	hasGeometry bool

	featureBufs [][]byte

	keyIndex map[string]uint32
	keys     []string
	valIndex map[string]uint32
	vals     []string
}

func newLayerBuilder(name string, spec tileSpec) *layerBuilder {
	return &layerBuilder{
		name:     name,
		spec:     spec,
		keyIndex: map[string]uint32{},
		valIndex: map[string]uint32{},
	}
}

func (lb *layerBuilder) addFeature(f *Feature) {
	z := lb.spec.tile.Z
	if z < f.MinZoom || z > f.MaxZoom {
		return
	}

	geom := simplify(f.Geometry, z)
	geom = clip(geom, lb.spec.drawBounds)
	if _, null := geom.(FixedNull); null {
		return
	}
	geom = shift(geom, z)

	geomType, commands := encodeGeometry(geom, lb.spec.tile)
	if len(commands) == 0 {
		return
	}
	lb.hasGeometry = true

	var fb []byte
	fb = protowire.AppendTag(fb, mvtFeatureID, protowire.VarintType)
	fb = protowire.AppendVarint(fb, f.ID)

	var tags []byte
	for _, k := range f.metaKeys() {
		if k == "layer" || strings.HasPrefix(k, "__") {
			continue
		}
		tags = protowire.AppendVarint(tags, uint64(cachedIndex(lb.keyIndex, &lb.keys, k)))
		tags = protowire.AppendVarint(tags, uint64(cachedIndex(lb.valIndex, &lb.vals, f.Meta[k])))
	}
	if len(tags) > 0 {
		fb = protowire.AppendTag(fb, mvtFeatureTags, protowire.BytesType)
		fb = protowire.AppendBytes(fb, tags)
	}

	fb = protowire.AppendTag(fb, mvtFeatureType, protowire.VarintType)
	fb = protowire.AppendVarint(fb, uint64(geomType))

	var packed []byte
	for _, c := range commands {
		packed = protowire.AppendVarint(packed, uint64(c))
	}
	fb = protowire.AppendTag(fb, mvtFeatureGeometry, protowire.BytesType)
	fb = protowire.AppendBytes(fb, packed)

	lb.featureBufs = append(lb.featureBufs, fb)
}

// cachedIndex returns the first-seen index of s, extending the table.
func cachedIndex(index map[string]uint32, table *[]string, s string) uint32 {
	if i, ok := index[s]; ok {
		return i
	}
	i := uint32(len(*table))
	index[s] = i
	*table = append(*table, s)
	return i
}

func (lb *layerBuilder) finish() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, mvtLayerVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 2)
	buf = protowire.AppendTag(buf, mvtLayerName, protowire.BytesType)
	buf = protowire.AppendString(buf, lb.name)
	for _, fb := range lb.featureBufs {
		buf = protowire.AppendTag(buf, mvtLayerFeatures, protowire.BytesType)
		buf = protowire.AppendBytes(buf, fb)
	}
	for _, k := range lb.keys {
		buf = protowire.AppendTag(buf, mvtLayerKeys, protowire.BytesType)
		buf = protowire.AppendString(buf, k)
	}
	for _, v := range lb.vals {
		var vb []byte
		vb = protowire.AppendTag(vb, mvtValueString, protowire.BytesType)
		vb = protowire.AppendString(vb, v)
		buf = protowire.AppendTag(buf, mvtLayerValues, protowire.BytesType)
		buf = protowire.AppendBytes(buf, vb)
	}
	buf = protowire.AppendTag(buf, mvtLayerExtent, protowire.VarintType)
	buf = protowire.AppendVarint(buf, tileExtent)
	return buf
}

// encodeGeometry turns a shifted geometry into MVT draw commands relative
// to the tile origin. Points are translated into tile-local coordinates
// first; that keeps the ring area math within int64.
func encodeGeometry(g FixedGeometry, t Tile) (geomType int, commands []uint32) {
	g = translate(g, -int64(t.X)*tileExtent, -int64(t.Y)*tileExtent)
	var cursor FixedPoint

	moveTo := func(pts []FixedPoint) {
		commands = append(commands, uint32(len(pts))<<3|mvtCmdMoveTo)
		for _, p := range pts {
			commands = append(commands,
				zigzag32(p.X-cursor.X), zigzag32(p.Y-cursor.Y))
			cursor = p
		}
	}
	lineTo := func(pts []FixedPoint) {
		commands = append(commands, uint32(len(pts))<<3|mvtCmdLineTo)
		for _, p := range pts {
			commands = append(commands,
				zigzag32(p.X-cursor.X), zigzag32(p.Y-cursor.Y))
			cursor = p
		}
	}

	switch geom := g.(type) {
	case FixedPoint:
		moveTo([]FixedPoint{geom})
		return mvtGeomPoint, commands
	case FixedPolyline:
		for _, line := range geom.Lines {
			line = dedupPoints(line)
			if len(line) < 2 {
				continue
			}
			moveTo(line[:1])
			lineTo(line[1:])
		}
		return mvtGeomLineString, commands
	case FixedPolygon:
		emitRing := func(ring []FixedPoint, exterior bool) {
			ring = dedupPoints(ring)
			if len(ring) < 3 {
				return
			}
			if exterior != (signedArea(ring) > 0) {
				reversePoints(ring)
			}
			moveTo(ring[:1])
			lineTo(ring[1:])
			commands = append(commands, 1<<3|mvtCmdClosePath)
		}
		for _, poly := range geom.Polygons {
			emitRing(poly.Outer, true)
			for _, inner := range poly.Inners {
				emitRing(inner, false)
			}
		}
		return mvtGeomPolygon, commands
	}
	return 0, nil
}

func zigzag32(v int64) uint32 {
	return uint32((v << 1) ^ (v >> 63))
}

func dedupPoints(pts []FixedPoint) []FixedPoint {
	if len(pts) == 0 {
		return pts
	}
	out := make([]FixedPoint, 0, len(pts))
	out = append(out, pts[0])
	for _, p := range pts[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

func reversePoints(pts []FixedPoint) {
	for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
		pts[i], pts[j] = pts[j], pts[i]
	}
}

// signedArea is the surveyor's formula sum (twice the signed area) in
// tile-local coordinates; MVT v2.1 requires it positive for exterior rings.
func signedArea(ring []FixedPoint) int64 {
	sum := int64(0)
	for i := range ring {
		j := (i + 1) % len(ring)
		sum += ring[i].X*ring[j].Y - ring[j].X*ring[i].Y
	}
	return sum
}

// translate shifts every coordinate by (dx, dy).
func translate(g FixedGeometry, dx, dy int64) FixedGeometry {
	move := func(pts []FixedPoint) []FixedPoint {
		out := make([]FixedPoint, len(pts))
		for i, p := range pts {
			out[i] = FixedPoint{X: p.X + dx, Y: p.Y + dy}
		}
		return out
	}
	switch geom := g.(type) {
	case FixedPoint:
		return FixedPoint{X: geom.X + dx, Y: geom.Y + dy}
	case FixedPolyline:
		lines := make([][]FixedPoint, len(geom.Lines))
		for i, line := range geom.Lines {
			lines[i] = move(line)
		}
		return FixedPolyline{Lines: lines}
	case FixedPolygon:
		polys := make([]FixedPoly, len(geom.Polygons))
		for i, poly := range geom.Polygons {
			polys[i].Outer = move(poly.Outer)
			polys[i].Inners = make([]FixedRing, len(poly.Inners))
			for j, inner := range poly.Inners {
				polys[i].Inners[j] = move(inner)
			}
		}
		return FixedPolygon{Polygons: polys}
	}
	return g
}

type packEntry struct {
	tile Tile
	data []byte
}

// renderTileFromPacks builds the MVT payload for t from pre-fetched pack
// values. A corrupt pack fails only this tile.
func renderTileFromPacks(ctx *RenderCtx, t Tile, packs []packEntry) ([]byte, error) {
	builder := newTileBuilder(t)
	// a feature overlapping several index tiles is stored once per pack;
	// the copies are byte identical, so dedup on the encoded record
	seen := map[string]struct{}{}
	for _, pack := range packs {
		var decodeErr error
		err := eachPackRecord(pack.tile, pack.data, t, func(featureBytes []byte) {
			if decodeErr != nil {
				return
			}
			if _, dup := seen[string(featureBytes)]; dup {
				return
			}
			seen[string(featureBytes)] = struct{}{}
			f, err := deserializeFeature(featureBytes, ctx.CodingVec)
			if err != nil {
				decodeErr = err
				return
			}
			builder.addFeature(f)
		})
		if err == nil {
			err = decodeErr
		}
		if err != nil {
			return nil, fmt.Errorf("tile %v: pack %v: %w", t, pack.tile, err)
		}
	}
	return builder.finish(), nil
}

// renderTileFromStore renders t directly against a read transaction; used
// for on-demand serving above the prepared range.
func renderTileFromStore(ctx *RenderCtx, txn *ReadTxn, t Tile) ([]byte, error) {
	var packs []packEntry
	err := queryFeatures(txn, t, func(packTile Tile, value []byte) error {
		packs = append(packs, packEntry{tile: packTile, data: value})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renderTileFromPacks(ctx, t, packs)
}
