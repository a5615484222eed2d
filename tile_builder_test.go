package main

import (
	"testing"

	"github.com/paulmach/orb/encoding/mvt"
)

func TestEncodeGeometryPoint(t *testing.T) {
	tile := Tile{X: 0, Y: 0, Z: zInternal}
	geomType, commands := encodeGeometry(FixedPoint{X: 100, Y: 200}, tile)

	if geomType != mvtGeomPoint {
		t.Fatalf("geomType = %d, want point", geomType)
	}
	want := []uint32{1<<3 | mvtCmdMoveTo, 200, 400}
	if len(commands) != len(want) {
		t.Fatalf("commands = %v, want %v", commands, want)
	}
	for i := range want {
		if commands[i] != want[i] {
			t.Errorf("command %d = %d, want %d", i, commands[i], want[i])
		}
	}
}

func TestEncodeGeometryLine(t *testing.T) {
	tile := Tile{X: 0, Y: 0, Z: zInternal}
	line := FixedPolyline{Lines: [][]FixedPoint{{
		{X: 10, Y: 10}, {X: 20, Y: 10}, {X: 20, Y: 20},
	}}}
	geomType, commands := encodeGeometry(line, tile)

	if geomType != mvtGeomLineString {
		t.Fatalf("geomType = %d, want linestring", geomType)
	}
	want := []uint32{
		1<<3 | mvtCmdMoveTo, 20, 20,
		2<<3 | mvtCmdLineTo, 20, 0, 0, 20,
	}
	if len(commands) != len(want) {
		t.Fatalf("commands = %v, want %v", commands, want)
	}
	for i := range want {
		if commands[i] != want[i] {
			t.Errorf("command %d = %d, want %d", i, commands[i], want[i])
		}
	}
}

func TestEncodeGeometryRingOrientation(t *testing.T) {
	tile := Tile{X: 0, Y: 0, Z: zInternal}

	// counter-clockwise in y-down coordinates: must be reversed on encode
	ccw := FixedPolygon{Polygons: []FixedPoly{{
		Outer: FixedRing{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}},
	}}}
	cw := FixedPolygon{Polygons: []FixedPoly{{
		Outer: FixedRing{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}},
	}}}

	for _, g := range []FixedGeometry{ccw, cw} {
		_, commands := encodeGeometry(g, tile)
		ring := decodeSingleRing(t, commands)
		if signedArea(ring) <= 0 {
			t.Errorf("exterior ring encodes with non-positive area: %v", ring)
		}
	}
}

// decodeSingleRing walks a MoveTo/LineTo/ClosePath command stream back
// into absolute ring coordinates.
func decodeSingleRing(t *testing.T, commands []uint32) []FixedPoint {
	t.Helper()
	unzig := func(v uint32) int64 {
		return int64(v>>1) ^ -int64(v&1)
	}
	var ring []FixedPoint
	var x, y int64
	i := 0
	for i < len(commands) {
		cmd := commands[i] & 0x7
		count := int(commands[i] >> 3)
		i++
		if cmd == mvtCmdClosePath {
			continue
		}
		for j := 0; j < count; j++ {
			x += unzig(commands[i])
			y += unzig(commands[i+1])
			i += 2
			ring = append(ring, FixedPoint{X: x, Y: y})
		}
	}
	return ring
}

func TestEncodeGeometryRelativeToTileOrigin(t *testing.T) {
	tile := Tile{X: 3, Y: 2, Z: zInternal}
	p := FixedPoint{X: 3*tileExtent + 5, Y: 2*tileExtent + 7}
	_, commands := encodeGeometry(p, tile)
	if commands[1] != 10 || commands[2] != 14 {
		t.Errorf("relative move = (%d, %d), want zigzag(5), zigzag(7)", commands[1], commands[2])
	}
}

func TestTileBuilderSkipsFeatureWithoutLayer(t *testing.T) {
	builder := newTileBuilder(Tile{X: 0, Y: 0, Z: 0})
	builder.addFeature(&Feature{
		ID:       1,
		MinZoom:  0,
		MaxZoom:  maxZoomLevel,
		Meta:     map[string]string{"name": "unroutable"},
		Geometry: FixedPoint{X: 1 << 30, Y: 1 << 30},
	})
	if got := builder.finish(); len(got) != 0 {
		t.Errorf("expected empty tile, got %d bytes", len(got))
	}
}

func TestTileBuilderDropsOutOfZoomRange(t *testing.T) {
	builder := newTileBuilder(Tile{X: 0, Y: 0, Z: 3})
	builder.addFeature(&Feature{
		ID:       1,
		MinZoom:  10,
		MaxZoom:  maxZoomLevel,
		Meta:     map[string]string{"layer": "detail"},
		Geometry: FixedPoint{X: 1 << 20, Y: 1 << 20},
	})
	if got := builder.finish(); len(got) != 0 {
		t.Errorf("feature below its min zoom must be dropped, got %d bytes", len(got))
	}
}

func TestTileBuilderMetaExclusions(t *testing.T) {
	builder := newTileBuilder(Tile{X: 0, Y: 0, Z: 4})
	builder.addFeature(&Feature{
		ID:      7,
		MinZoom: 0,
		MaxZoom: maxZoomLevel,
		Meta: map[string]string{
			"layer":    "poi",
			"__hidden": "internal",
			"name":     "visible",
		},
		Geometry: FixedPoint{X: 1 << 28, Y: 1 << 28},
	})

	data := builder.finish()
	layers, err := mvt.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 1 {
		t.Fatalf("layers = %d, want 1", len(layers))
	}
	props := layers[0].Features[0].Properties
	if props["name"] != "visible" {
		t.Errorf("name property missing: %v", props)
	}
	if _, ok := props["__hidden"]; ok {
		t.Error("__ prefixed keys must not reach the tile")
	}
	if _, ok := props["layer"]; ok {
		t.Error("the layer key must not reach the tile")
	}
}

func TestRenderDedupsReplicatedFeatures(t *testing.T) {
	left := Tile{X: 4, Y: 4, Z: zIndexDefault}
	right := Tile{X: 5, Y: 4, Z: zIndexDefault}

	// one feature spanning both index tiles, stored in both packs
	leftSpec := left.spec()
	f := &Feature{
		ID:      9,
		MinZoom: 0,
		MaxZoom: maxZoomLevel,
		Meta:    map[string]string{"layer": "road", "name": "crossing"},
		Geometry: FixedPolyline{Lines: [][]FixedPoint{{
			{X: leftSpec.insertBounds.MinX + 10, Y: leftSpec.insertBounds.MinY + 10},
			{X: leftSpec.insertBounds.MaxX + 500, Y: leftSpec.insertBounds.MinY + 10},
		}}},
	}
	raw := serializeFeature(f, nil)

	leftPack, err := packFeatures(left, []string{""}, nil, [][]byte{raw})
	if err != nil {
		t.Fatal(err)
	}
	rightPack, err := packFeatures(right, []string{""}, nil, [][]byte{raw})
	if err != nil {
		t.Fatal(err)
	}

	request := Tile{X: 2, Y: 2, Z: 9} // covers both index tiles
	ctx := &RenderCtx{CodingVec: []string{""}}
	data, err := renderTileFromPacks(ctx, request, []packEntry{
		{tile: left, data: leftPack},
		{tile: right, data: rightPack},
	})
	if err != nil {
		t.Fatal(err)
	}

	layers, err := mvt.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(layers) != 1 || len(layers[0].Features) != 1 {
		t.Fatalf("expected one deduplicated feature, got %d layers", len(layers))
	}
}
