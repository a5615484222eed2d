package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"google.golang.org/protobuf/encoding/protowire"
)

func testPolygonGeometry() FixedGeometry {
	return FixedPolygon{Polygons: []FixedPoly{{
		Outer: FixedRing{
			{X: 1 << 22, Y: 1 << 22},
			{X: 3 << 22, Y: 1 << 22},
			{X: 3 << 22, Y: 3 << 22},
			{X: 1 << 22, Y: 3 << 22},
		},
		Inners: []FixedRing{{
			{X: 3 << 21, Y: 3 << 21},
			{X: 4 << 21, Y: 3 << 21},
			{X: 4 << 21, Y: 4 << 21},
		}},
	}}}
}

func featureCmpOpts() []cmp.Option {
	// the layer index travels in meta, not on the wire
	return []cmp.Option{
		cmpopts.IgnoreFields(Feature{}, "Layer"),
		cmpopts.EquateEmpty(),
	}
}

func TestFeatureRoundTrip(t *testing.T) {
	testCases := []struct {
		name    string
		feature *Feature
	}{
		{
			name: "point",
			feature: &Feature{
				ID:      42,
				MinZoom: 5,
				MaxZoom: 18,
				Meta:    map[string]string{"layer": "poi", "name": "test"},
				Geometry: FixedPoint{
					X: 1234 << 20,
					Y: 987 << 20,
				},
			},
		},
		{
			name: "polyline",
			feature: &Feature{
				ID:      7,
				MinZoom: 0,
				MaxZoom: maxZoomLevel,
				Meta:    map[string]string{"layer": "road", "highway": "residential"},
				Geometry: FixedPolyline{Lines: [][]FixedPoint{
					{{X: 1 << 22, Y: 2 << 22}, {X: 3 << 22, Y: 2 << 22}},
					{{X: 5 << 22, Y: 5 << 22}, {X: 5 << 22, Y: 9 << 22}, {X: 6 << 22, Y: 9 << 22}},
				}},
			},
		},
		{
			name: "polygon with hole",
			feature: &Feature{
				ID:       123456789,
				MinZoom:  3,
				MaxZoom:  17,
				Meta:     map[string]string{"layer": "landuse", "landuse": "forest"},
				Geometry: testPolygonGeometry(),
			},
		},
		{
			name: "no metadata",
			feature: &Feature{
				ID:       1,
				MinZoom:  2,
				MaxZoom:  12,
				Meta:     map[string]string{},
				Geometry: FixedPoint{X: 99, Y: 100},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := serializeFeature(tc.feature, nil)
			decoded, err := deserializeFeature(encoded, nil)
			if err != nil {
				t.Fatalf("deserializeFeature: %v", err)
			}
			if diff := cmp.Diff(tc.feature, decoded, featureCmpOpts()...); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFeatureRoundTripWithSharedStrings(t *testing.T) {
	codingVec := []string{"", "highway", "residential", "road"}
	codingMap := codingMapOf(codingVec)

	f := &Feature{
		ID:      99,
		MinZoom: 4,
		MaxZoom: 19,
		Meta: map[string]string{
			"highway": "residential", // fully coded
			"name":    "road",        // inline key, coded value
			"surface": "gravel",      // fully inline
		},
		Geometry: FixedPoint{X: 7 << 22, Y: 9 << 22},
	}

	encoded := serializeFeature(f, codingMap)
	decoded, err := deserializeFeature(encoded, codingVec)
	if err != nil {
		t.Fatalf("deserializeFeature: %v", err)
	}
	if diff := cmp.Diff(f, decoded, featureCmpOpts()...); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	// coded strings must not appear inline
	coded := serializeFeature(f, codingMap)
	inline := serializeFeature(f, nil)
	if len(coded) >= len(inline) {
		t.Errorf("coding should shrink the record: coded=%d inline=%d", len(coded), len(inline))
	}
}

func TestFeatureUnknownFieldsSkipped(t *testing.T) {
	f := &Feature{
		ID:       5,
		MinZoom:  1,
		MaxZoom:  10,
		Meta:     map[string]string{"layer": "x"},
		Geometry: FixedPoint{X: 10, Y: 20},
	}
	encoded := serializeFeature(f, nil)

	// append an unknown tag 12 with a varint payload
	encoded = protowire.AppendTag(encoded, 12, protowire.VarintType)
	encoded = protowire.AppendVarint(encoded, 77)

	decoded, err := deserializeFeature(encoded, nil)
	if err != nil {
		t.Fatalf("deserializeFeature with unknown field: %v", err)
	}
	if diff := cmp.Diff(f, decoded, featureCmpOpts()...); diff != "" {
		t.Errorf("unknown field changed decoding (-want +got):\n%s", diff)
	}
}

func TestFeatureDecodeErrors(t *testing.T) {
	if _, err := deserializeFeature([]byte{0xff, 0xff, 0xff}, nil); err == nil {
		t.Error("expected error for garbage input")
	}
	if _, err := deserializeFeature(nil, nil); err == nil {
		t.Error("expected error for empty input (missing header and geometry)")
	}
}

func TestGeometryRoundTripNull(t *testing.T) {
	g, err := deserializeGeometry(serializeGeometry(FixedNull{}))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.(FixedNull); !ok {
		t.Errorf("expected FixedNull, got %T", g)
	}
}

func TestSimplifyMasksCarried(t *testing.T) {
	f := &Feature{
		ID:       8,
		MinZoom:  0,
		MaxZoom:  20,
		Meta:     map[string]string{},
		Masks:    [][]byte{{0xAA, 0x0F}, {0x01}},
		Geometry: FixedPoint{X: 1, Y: 2},
	}
	decoded, err := deserializeFeature(serializeFeature(f, nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(f.Masks, decoded.Masks); diff != "" {
		t.Errorf("masks not carried (-want +got):\n%s", diff)
	}
}
